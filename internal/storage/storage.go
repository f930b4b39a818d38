package storage

import (
	"context"

	"github.com/slok/formbot/internal/model"
)

// RunStore holds the single authoritative automation run and serializes all the
// reads and writes on it.
//
// Every mutation receives the run ID it targets, if the ID is not the current run
// one (cleared or replaced) it returns model.ErrNotRunning.
type RunStore interface {
	// CreateRun sets a new run. Returns model.ErrAlreadyRunning if a run is already set.
	CreateRun(ctx context.Context, run model.AutomationRun) error
	// AppendLog appends an entry at the end of the run log.
	AppendLog(ctx context.Context, runID string, entry model.LogEntry) error
	// SetStatus changes the run status. Going to waiting_for_input is not allowed
	// (use SetPendingInput) and leaving it clears the pending request.
	// Invalid transitions are programming errors and panic.
	SetStatus(ctx context.Context, runID string, status model.RunStatus) error
	// SetPendingInput sets the pending request moving the run to waiting_for_input,
	// or clears it (nil) moving the run back to filling_form.
	SetPendingInput(ctx context.Context, runID string, req *model.InputRequest) error
	// SetStreamingURL sets the live view URL of the run.
	SetStreamingURL(ctx context.Context, runID string, url string) error
	// SetError sets the failure reason of the run.
	SetError(ctx context.Context, runID string, reason string) error
	// RecordInput stores a value resolved by the operator.
	RecordInput(ctx context.Context, runID string, field, value string) error
	// GetRun returns a snapshot of the current run. Returns model.ErrNotRunning if there is none.
	GetRun(ctx context.Context) (*model.AutomationRun, error)
	// ClearRun removes the run.
	ClearRun(ctx context.Context, runID string) error
}

// CredentialsRepository persists the credentials used by the automation.
type CredentialsRepository interface {
	SaveCredentials(ctx context.Context, c model.Credentials) error
	// GetCredentials returns model.ErrNotFound if nothing has been saved yet.
	GetCredentials(ctx context.Context) (*model.Credentials, error)
}

// EmailRepository persists the latest extracted email content.
type EmailRepository interface {
	SaveEmailContent(ctx context.Context, e model.EmailContent) error
	// GetEmailContent returns model.ErrNotFound if nothing has been saved yet.
	GetEmailContent(ctx context.Context) (*model.EmailContent, error)
}

// HistoryRepository archives finished runs.
type HistoryRepository interface {
	// SaveRunRecord creates or replaces the record of a run.
	SaveRunRecord(ctx context.Context, r model.RunRecord) error
	GetRunRecord(ctx context.Context, runID string) (*model.RunRecord, error)
	// ListRunRecords returns the records, newest first.
	ListRunRecords(ctx context.Context) ([]model.RunRecord, error)
}

