package start

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
	"github.com/slok/formbot/internal/storage"
)

// Starter starts automation runs.
type Starter interface {
	Start(ctx context.Context, sc model.StartContext) (*model.AutomationRun, error)
}

// ServiceConfig is the configuration for the start service.
type ServiceConfig struct {
	Starter     Starter
	Credentials storage.CredentialsRepository
	Emails      storage.EmailRepository
	Logger      log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Starter == nil {
		return fmt.Errorf("starter is required")
	}

	if c.Credentials == nil {
		return fmt.Errorf("credentials repository is required")
	}

	if c.Emails == nil {
		return fmt.Errorf("email repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Start"})

	return nil
}

// Service starts an automation run with the uploaded data.
type Service struct {
	starter Starter
	creds   storage.CredentialsRepository
	emails  storage.EmailRepository
	logger  log.Logger
}

// NewService creates a new start service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		starter: cfg.Starter,
		creds:   cfg.Credentials,
		emails:  cfg.Emails,
		logger:  cfg.Logger,
	}, nil
}

// Run starts a run with the stored credentials and email content. Missing data doesn't
// prevent the start, the engine decides what to do without it.
// Returns model.ErrAlreadyRunning if a run is active.
func (s *Service) Run(ctx context.Context) (*model.AutomationRun, error) {
	var sc model.StartContext

	creds, err := s.creds.GetCredentials(ctx)
	switch {
	case err == nil:
		sc.Credentials = *creds
	case errors.Is(err, model.ErrNotFound):
		s.logger.Warningf("Starting automation without stored credentials")
	default:
		return nil, fmt.Errorf("could not get credentials: %w", err)
	}

	email, err := s.emails.GetEmailContent(ctx)
	switch {
	case err == nil:
		sc.Email = email
	case errors.Is(err, model.ErrNotFound):
		s.logger.Warningf("Starting automation without email content")
	default:
		return nil, fmt.Errorf("could not get email content: %w", err)
	}

	run, err := s.starter.Start(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("could not start automation: %w", err)
	}

	return run, nil
}
