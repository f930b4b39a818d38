package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
)

// RunStoreConfig is the configuration for the memory run store.
type RunStoreConfig struct {
	Logger log.Logger
	// TimeNow is used to stamp the run changes, defaults to time.Now.
	TimeNow func() time.Time
}

func (c *RunStoreConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.MemoryRunStore"})

	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	return nil
}

// RunStore is an in-memory implementation of storage.RunStore. It holds zero or one run.
type RunStore struct {
	run     *model.AutomationRun
	mu      sync.RWMutex
	logger  log.Logger
	timeNow func() time.Time
}

// NewRunStore creates a new memory run store.
func NewRunStore(cfg RunStoreConfig) (*RunStore, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &RunStore{
		logger:  cfg.Logger,
		timeNow: cfg.TimeNow,
	}, nil
}

// CreateRun sets a new run.
func (s *RunStore) CreateRun(ctx context.Context, run model.AutomationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		return fmt.Errorf("run %s is set: %w", s.run.ID, model.ErrAlreadyRunning)
	}

	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	r := run.Copy()
	if r.StartedAt.IsZero() {
		r.StartedAt = s.now()
	}
	r.UpdatedAt = r.StartedAt
	s.run = &r
	s.logger.Debugf("Created run in store: %s", r.ID)

	return nil
}

// AppendLog appends an entry at the end of the run log.
func (s *RunStore) AppendLog(ctx context.Context, runID string, entry model.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.current(runID)
	if err != nil {
		return err
	}

	now := s.now()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	if entry.Level == "" {
		entry.Level = model.LogLevelInfo
	}

	run.Log = append(run.Log, entry)
	run.UpdatedAt = now

	return nil
}

// SetStatus changes the run status.
func (s *RunStore) SetStatus(ctx context.Context, runID string, status model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.current(runID)
	if err != nil {
		return err
	}

	if status == model.RunStatusWaitingForInput {
		panic("waiting_for_input status can only be set with a pending input request")
	}
	if !model.CanTransition(run.Status, status) {
		panic(fmt.Sprintf("invalid run status transition: %s -> %s", run.Status, status))
	}

	s.setStatus(run, status)
	run.PendingInput = nil

	return nil
}

// SetPendingInput sets or clears the pending input request.
func (s *RunStore) SetPendingInput(ctx context.Context, runID string, req *model.InputRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.current(runID)
	if err != nil {
		return err
	}

	// Clear.
	if req == nil {
		if run.Status != model.RunStatusWaitingForInput {
			panic(fmt.Sprintf("clearing pending input on %s status", run.Status))
		}
		run.PendingInput = nil
		s.setStatus(run, model.RunStatusFillingForm)
		return nil
	}

	// Set.
	if run.PendingInput != nil {
		panic(fmt.Sprintf("run %s already has an unresolved input request", run.ID))
	}
	if !model.CanTransition(run.Status, model.RunStatusWaitingForInput) {
		panic(fmt.Sprintf("invalid run status transition: %s -> %s", run.Status, model.RunStatusWaitingForInput))
	}

	r := *req
	if r.RequestedAt.IsZero() {
		r.RequestedAt = s.now()
	}
	run.PendingInput = &r
	s.setStatus(run, model.RunStatusWaitingForInput)

	return nil
}

// SetStreamingURL sets the live view URL of the run.
func (s *RunStore) SetStreamingURL(ctx context.Context, runID string, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.current(runID)
	if err != nil {
		return err
	}

	run.StreamingURL = url
	run.UpdatedAt = s.now()

	return nil
}

// SetError sets the failure reason of the run.
func (s *RunStore) SetError(ctx context.Context, runID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.current(runID)
	if err != nil {
		return err
	}

	run.Error = reason
	run.UpdatedAt = s.now()

	return nil
}

// RecordInput stores a value resolved by the operator.
func (s *RunStore) RecordInput(ctx context.Context, runID string, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.current(runID)
	if err != nil {
		return err
	}

	if run.CollectedInputs == nil {
		run.CollectedInputs = map[string]string{}
	}
	run.CollectedInputs[field] = value
	run.UpdatedAt = s.now()

	return nil
}

// GetRun returns a snapshot of the current run.
func (s *RunStore) GetRun(ctx context.Context) (*model.AutomationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.run == nil {
		return nil, model.ErrNotRunning
	}

	// Return a copy.
	r := s.run.Copy()
	return &r, nil
}

// ClearRun removes the run.
func (s *RunStore) ClearRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.current(runID); err != nil {
		return err
	}

	s.run = nil
	s.logger.Debugf("Cleared run from store: %s", runID)

	return nil
}

// current returns the current run if it matches the ID. Must be called with the lock held.
func (s *RunStore) current(runID string) (*model.AutomationRun, error) {
	if s.run == nil {
		return nil, model.ErrNotRunning
	}
	if s.run.ID != runID {
		return nil, fmt.Errorf("run %s is not the current one: %w", runID, model.ErrNotRunning)
	}
	return s.run, nil
}

func (s *RunStore) setStatus(run *model.AutomationRun, status model.RunStatus) {
	now := s.now()
	run.Status = status
	run.UpdatedAt = now
	if status.IsTerminal() {
		run.EndedAt = &now
	}
}

func (s *RunStore) now() time.Time { return s.timeNow().UTC() }
