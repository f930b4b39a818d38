package fake

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slok/formbot/internal/engine"
	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
)

// DefaultScenario is an applicant form that needs a value an email rarely has.
var DefaultScenario = model.EngineScenario{
	StreamingURL: "http://127.0.0.1:8000/live/fake",
	StepDelay:    time.Second,
	Fields: []model.ScenarioField{
		{Name: "business_name", EmailKey: "business name", Required: true, Explanation: "Business name was not found on the email"},
		{Name: "address", Required: true, Explanation: "Business address was not found on the email"},
		{Name: "industry"},
		{Name: "phone"},
		{Name: "policy_number", EmailKey: "policy number", Required: true, Explanation: "Policy number is not on the email"},
	},
	FinalStatus: model.RunStatusFormFilled,
}

// EngineConfig is the configuration for the fake engine.
type EngineConfig struct {
	// Scenario is the scripted automation, nil uses DefaultScenario.
	Scenario *model.EngineScenario
	Logger   log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Scenario == nil {
		s := DefaultScenario
		c.Scenario = &s
	}

	if err := c.Scenario.Validate(); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}

	if c.Scenario.FinalStatus == "" {
		c.Scenario.FinalStatus = model.RunStatusFormFilled
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Fake"})
	return nil
}

// Engine is a fake implementation of the engine.Engine interface.
// It plays a scenario filling the fields from the email `Key: value` lines and
// asking the operator for the required ones that are missing.
type Engine struct {
	scenario model.EngineScenario
	logger   log.Logger
}

// NewEngine creates a new fake engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		scenario: *cfg.Scenario,
		logger:   cfg.Logger,
	}, nil
}

var _ engine.Engine = &Engine{}

// Run plays the scenario for a run.
func (e *Engine) Run(ctx context.Context, sc model.StartContext, s engine.Session) error {
	logger := e.logger.WithValues(log.Kv{"run-id": s.RunID()})
	logger.Debugf("Playing fake scenario with %d fields", len(e.scenario.Fields))

	s.Logf(ctx, model.LogLevelInfo, "Initializing browser session...")
	if err := e.step(ctx, model.RunStatusInitializing); err != nil {
		return err
	}
	if e.scenario.StreamingURL != "" {
		if err := s.SetStreamingURL(ctx, e.scenario.StreamingURL); err != nil {
			return err
		}
	}

	c := sc.Credentials
	if c.DestinationURL == "" || c.Username == "" || c.Password == "" {
		return fmt.Errorf("missing login credentials")
	}

	if err := s.SetStatus(ctx, model.RunStatusLoggingIn); err != nil {
		return err
	}
	s.Logf(ctx, model.LogLevelInfo, "Logging in to %s as %s", c.DestinationURL, c.Username)
	if err := e.step(ctx, model.RunStatusLoggingIn); err != nil {
		return err
	}

	if err := s.SetStatus(ctx, model.RunStatusFillingForm); err != nil {
		return err
	}

	var emailValues map[string]string
	if sc.Email != nil {
		emailValues = ParseEmailFields(sc.Email.Body)
	} else {
		s.Logf(ctx, model.LogLevelWarning, "No email content available, every required field will be asked")
	}

	for _, f := range e.scenario.Fields {
		key := f.EmailKey
		if key == "" {
			key = f.Name
		}

		_, inEmail := emailValues[normalizeKey(key)]
		switch {
		case inEmail:
			s.Logf(ctx, model.LogLevelInfo, "Filled field %s from the email", f.Name)
		case f.Required:
			v, err := s.RequestInput(ctx, f.Name, engine.InputPrompt(f.Name, f.Explanation))
			if err != nil {
				return err
			}
			logger.Debugf("Got %d chars for field %s", len(v), f.Name)
			s.Logf(ctx, model.LogLevelInfo, "Filled field %s with the operator input", f.Name)
		default:
			s.Logf(ctx, model.LogLevelInfo, "Left optional field %s empty", f.Name)
		}

		if err := e.wait(ctx); err != nil {
			return err
		}
	}

	if err := e.step(ctx, model.RunStatusFillingForm); err != nil {
		return err
	}

	if e.scenario.FinalStatus == model.RunStatusFormFilled {
		s.Logf(ctx, model.LogLevelInfo, "Form filled successfully")
		return s.SetStatus(ctx, model.RunStatusFormFilled)
	}

	s.Logf(ctx, model.LogLevelInfo, "Form submitted")
	return nil
}

// step waits the step delay and fails if the scenario fails at the status.
func (e *Engine) step(ctx context.Context, status model.RunStatus) error {
	if err := e.wait(ctx); err != nil {
		return err
	}

	if e.scenario.FailAt == status {
		reason := e.scenario.FailReason
		if reason == "" {
			reason = fmt.Sprintf("scenario failure at %s", status)
		}
		return fmt.Errorf("%s", reason)
	}

	return nil
}

func (e *Engine) wait(ctx context.Context) error {
	if e.scenario.StepDelay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(e.scenario.StepDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ParseEmailFields returns the `Key: value` lines of an email body indexed by
// the normalized key (lowercase, spaces and dashes as underscores).
func ParseEmailFields(body string) map[string]string {
	fields := map[string]string{}

	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		k = normalizeKey(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}

	return fields
}

var keyReplacer = strings.NewReplacer(" ", "_", "-", "_")

func normalizeKey(k string) string {
	return keyReplacer.Replace(strings.ToLower(strings.TrimSpace(k)))
}
