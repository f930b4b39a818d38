package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/formbot/internal/model"
)

// ConfigYAMLRepository loads formbot configuration from YAML files.
type ConfigYAMLRepository struct {
	fs fs.FS
}

// NewConfigYAMLRepository creates a new YAML config repository.
func NewConfigYAMLRepository(filesystem fs.FS) *ConfigYAMLRepository {
	return &ConfigYAMLRepository{fs: filesystem}
}

// GetServerConfig loads a server configuration file. Missing values are left empty so
// they can be completed by the command line flags, the caller validates the final config.
func (r *ConfigYAMLRepository) GetServerConfig(ctx context.Context, path string) (model.ServerConfig, error) {
	var cfg ServerConfig
	if err := r.load(ctx, path, &cfg); err != nil {
		return model.ServerConfig{}, err
	}

	m, err := cfg.toModel()
	if err != nil {
		return model.ServerConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return m, nil
}

// GetScenario loads a fake engine scenario file.
func (r *ConfigYAMLRepository) GetScenario(ctx context.Context, path string) (model.EngineScenario, error) {
	var s ScenarioConfig
	if err := r.load(ctx, path, &s); err != nil {
		return model.EngineScenario{}, err
	}

	m, err := s.toModel()
	if err != nil {
		return model.EngineScenario{}, fmt.Errorf("invalid scenario: %w", err)
	}

	if err := m.Validate(); err != nil {
		return model.EngineScenario{}, fmt.Errorf("invalid scenario: %w", err)
	}

	return m, nil
}

func (r *ConfigYAMLRepository) load(ctx context.Context, path string, v any) error {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ServerConfig represents the YAML structure for the server configuration.
type ServerConfig struct {
	ListenAddress string       `yaml:"listen_address"`
	UploadDir     string       `yaml:"upload_dir"`
	InputTimeout  string       `yaml:"input_timeout"`
	Engine        EngineConfig `yaml:"engine"`
}

// EngineConfig represents the YAML structure for the engine configuration.
type EngineConfig struct {
	Type     string            `yaml:"type"`
	Command  []string          `yaml:"command"`
	Env      map[string]string `yaml:"env"`
	Scenario *ScenarioConfig   `yaml:"scenario,omitempty"`
}

// ScenarioConfig represents the YAML structure for a fake engine scenario.
type ScenarioConfig struct {
	StreamingURL string                `yaml:"streaming_url"`
	StepDelay    string                `yaml:"step_delay"`
	FailAt       string                `yaml:"fail_at"`
	FailReason   string                `yaml:"fail_reason"`
	FinalStatus  string                `yaml:"final_status"`
	Fields       []ScenarioFieldConfig `yaml:"fields"`
}

// ScenarioFieldConfig represents the YAML structure for a scenario form field.
type ScenarioFieldConfig struct {
	Name        string `yaml:"name"`
	EmailKey    string `yaml:"email_key"`
	Explanation string `yaml:"explanation"`
	Required    bool   `yaml:"required"`
}

func (c ServerConfig) toModel() (model.ServerConfig, error) {
	timeout, err := parseDuration(c.InputTimeout)
	if err != nil {
		return model.ServerConfig{}, fmt.Errorf("input_timeout: %w", err)
	}

	cfg := model.ServerConfig{
		ListenAddress: c.ListenAddress,
		UploadDir:     c.UploadDir,
		InputTimeout:  timeout,
		Engine: model.EngineConfig{
			Type:    model.EngineType(c.Engine.Type),
			Command: c.Engine.Command,
			Env:     c.Engine.Env,
		},
	}

	switch cfg.Engine.Type {
	case "", model.EngineTypeFake, model.EngineTypeCommand:
	default:
		return model.ServerConfig{}, fmt.Errorf("unknown engine type %q", c.Engine.Type)
	}

	if c.Engine.Scenario != nil {
		s, err := c.Engine.Scenario.toModel()
		if err != nil {
			return model.ServerConfig{}, fmt.Errorf("engine scenario: %w", err)
		}
		if err := s.Validate(); err != nil {
			return model.ServerConfig{}, fmt.Errorf("engine scenario: %w", err)
		}
		cfg.Engine.Scenario = &s
	}

	return cfg, nil
}

func (c ScenarioConfig) toModel() (model.EngineScenario, error) {
	delay, err := parseDuration(c.StepDelay)
	if err != nil {
		return model.EngineScenario{}, fmt.Errorf("step_delay: %w", err)
	}

	s := model.EngineScenario{
		StreamingURL: c.StreamingURL,
		StepDelay:    delay,
		FailAt:       model.RunStatus(c.FailAt),
		FailReason:   c.FailReason,
		FinalStatus:  model.RunStatus(c.FinalStatus),
	}
	for _, f := range c.Fields {
		s.Fields = append(s.Fields, model.ScenarioField{
			Name:        f.Name,
			EmailKey:    f.EmailKey,
			Explanation: f.Explanation,
			Required:    f.Required,
		})
	}

	return s, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration can't be negative, got: %s", s)
	}

	return d, nil
}
