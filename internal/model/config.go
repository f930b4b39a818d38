package model

import (
	"fmt"
	"time"
)

// EngineType is the kind of automation engine the server drives runs with.
type EngineType string

const (
	EngineTypeFake    EngineType = "fake"
	EngineTypeCommand EngineType = "command"
)

// ServerConfig is the coordinator server configuration.
type ServerConfig struct {
	ListenAddress string
	UploadDir     string
	// InputTimeout zero disables the timeout.
	InputTimeout time.Duration
	Engine       EngineConfig
}

// EngineConfig selects and configures the automation engine.
type EngineConfig struct {
	Type EngineType
	// Command is the agent process and its arguments, used by the command engine.
	Command []string
	// Env is added to the agent process environment.
	Env map[string]string
	// Scenario is used by the fake engine, nil uses the default one.
	Scenario *EngineScenario
}

// EngineScenario describes what a scripted automation does on a run.
type EngineScenario struct {
	StreamingURL string
	// StepDelay is the pause between the scripted actions.
	StepDelay time.Duration
	Fields    []ScenarioField
	// FailAt makes the run fail when it reaches this status with FailReason.
	FailAt     RunStatus
	FailReason string
	// FinalStatus is form_filled or completed.
	FinalStatus RunStatus
}

// ScenarioField is a form field the scripted automation fills.
type ScenarioField struct {
	Name string
	// EmailKey is the `Key: value` line key looked up on the email body. Defaults to the name.
	EmailKey    string
	Explanation string
	Required    bool
}

func (c ServerConfig) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen address is required: %w", ErrNotValid)
	}

	if c.UploadDir == "" {
		return fmt.Errorf("upload dir is required: %w", ErrNotValid)
	}

	if c.InputTimeout < 0 {
		return fmt.Errorf("input timeout can't be negative: %w", ErrNotValid)
	}

	return c.Engine.Validate()
}

func (c EngineConfig) Validate() error {
	switch c.Type {
	case EngineTypeFake:
		if c.Scenario != nil {
			return c.Scenario.Validate()
		}
	case EngineTypeCommand:
		if len(c.Command) == 0 || c.Command[0] == "" {
			return fmt.Errorf("command engine requires a command: %w", ErrNotValid)
		}
	default:
		return fmt.Errorf("unknown engine type %q: %w", c.Type, ErrNotValid)
	}

	return nil
}

func (s EngineScenario) Validate() error {
	if s.StepDelay < 0 {
		return fmt.Errorf("step delay can't be negative: %w", ErrNotValid)
	}

	switch s.FailAt {
	case "", RunStatusInitializing, RunStatusLoggingIn, RunStatusFillingForm:
	default:
		return fmt.Errorf("scenario can't fail at %q status: %w", s.FailAt, ErrNotValid)
	}

	switch s.FinalStatus {
	case "", RunStatusFormFilled, RunStatusCompleted:
	default:
		return fmt.Errorf("scenario can't finish with %q status: %w", s.FinalStatus, ErrNotValid)
	}

	seen := map[string]bool{}
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("scenario field name is required: %w", ErrNotValid)
		}
		if seen[f.Name] {
			return fmt.Errorf("scenario field %q is repeated: %w", f.Name, ErrNotValid)
		}
		seen[f.Name] = true
	}

	return nil
}
