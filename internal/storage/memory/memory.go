package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.CredentialsRepository,
// storage.EmailRepository and storage.HistoryRepository.
type Repository struct {
	credentials *model.Credentials
	email       *model.EmailContent
	records     map[string]model.RunRecord
	mu          sync.RWMutex
	logger      log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		records: make(map[string]model.RunRecord),
		logger:  cfg.Logger,
	}, nil
}

// SaveCredentials replaces the stored credentials.
func (r *Repository) SaveCredentials(ctx context.Context, c model.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.credentials = &c
	r.logger.Debugf("Saved credentials in repository for: %s", c.DestinationURL)

	return nil
}

// GetCredentials returns the stored credentials.
func (r *Repository) GetCredentials(ctx context.Context) (*model.Credentials, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.credentials == nil {
		return nil, fmt.Errorf("credentials: %w", model.ErrNotFound)
	}

	// Return a copy
	c := *r.credentials
	return &c, nil
}

// SaveEmailContent replaces the stored email content.
func (r *Repository) SaveEmailContent(ctx context.Context, e model.EmailContent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.email = &e
	return nil
}

// GetEmailContent returns the stored email content.
func (r *Repository) GetEmailContent(ctx context.Context) (*model.EmailContent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.email == nil {
		return nil, fmt.Errorf("email content: %w", model.ErrNotFound)
	}

	e := *r.email
	return &e, nil
}

// SaveRunRecord creates or replaces the record of a run.
func (r *Repository) SaveRunRecord(ctx context.Context, rec model.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.Run.ID == "" {
		return fmt.Errorf("run id is required: %w", model.ErrNotValid)
	}

	rec.Run = rec.Run.Copy()
	r.records[rec.Run.ID] = rec
	r.logger.Debugf("Saved run record in repository: %s", rec.Run.ID)

	return nil
}

// GetRunRecord retrieves a run record by run ID.
func (r *Repository) GetRunRecord(ctx context.Context, runID string) (*model.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[runID]
	if !ok {
		return nil, fmt.Errorf("run record %s: %w", runID, model.ErrNotFound)
	}

	rec.Run = rec.Run.Copy()
	return &rec, nil
}

// ListRunRecords returns all the run records, newest first.
func (r *Repository) ListRunRecords(ctx context.Context) ([]model.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]model.RunRecord, 0, len(r.records))
	for _, rec := range r.records {
		rec.Run = rec.Run.Copy()
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Run.StartedAt.After(records[j].Run.StartedAt)
	})

	return records, nil
}
