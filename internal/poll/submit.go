package poll

import (
	"context"
	"fmt"
	"strings"

	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
)

// InputProvider submits operator input values.
type InputProvider interface {
	ProvideInput(ctx context.Context, sub model.InputSubmission) (*model.AutomationRun, error)
}

// Refresher asks for an immediate status refresh.
type Refresher interface {
	Refresh()
}

// SubmitterConfig is the configuration of the input submitter.
type SubmitterConfig struct {
	Client InputProvider
	// Refresher is optional, when set it's refreshed after every accepted submission
	// since a run can ask for more input right after.
	Refresher Refresher
	Logger    log.Logger
}

func (c *SubmitterConfig) defaults() error {
	if c.Client == nil {
		return fmt.Errorf("client is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "poll.Submitter"})

	return nil
}

// Submitter carries the operator input back to the automation.
type Submitter struct {
	client    InputProvider
	refresher Refresher
	logger    log.Logger
}

// NewSubmitter returns a new input submitter.
func NewSubmitter(cfg SubmitterConfig) (*Submitter, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Submitter{
		client:    cfg.Client,
		refresher: cfg.Refresher,
		logger:    cfg.Logger,
	}, nil
}

// Submit sends the value for the input request. Empty values are rejected without
// reaching the server.
func (s *Submitter) Submit(ctx context.Context, req model.InputRequest, value string) (*model.AutomationRun, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("a value for %s is required: %w", req.Field, model.ErrNotValid)
	}

	run, err := s.client.ProvideInput(ctx, model.InputSubmission{
		RequestID: req.ID,
		Field:     req.Field,
		Value:     value,
	})
	if err != nil {
		return nil, fmt.Errorf("could not submit input for %s: %w", req.Field, err)
	}
	s.logger.Debugf("Input for field %s submitted", req.Field)

	if s.refresher != nil {
		s.refresher.Refresh()
	}

	return run, nil
}
