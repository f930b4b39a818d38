package model

import (
	"fmt"
	"time"
)

// RunStatus represents the state of an automation run.
type RunStatus string

const (
	RunStatusInitializing    RunStatus = "initializing"
	RunStatusLoggingIn       RunStatus = "logging_in"
	RunStatusFillingForm     RunStatus = "filling_form"
	RunStatusWaitingForInput RunStatus = "waiting_for_input"
	RunStatusFormFilled      RunStatus = "form_filled"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusError           RunStatus = "error"
)

// runStatusTransitions holds the allowed status changes. Any non terminal status
// can also go to error, that is handled by CanTransition.
var runStatusTransitions = map[RunStatus][]RunStatus{
	RunStatusInitializing:    {RunStatusLoggingIn},
	RunStatusLoggingIn:       {RunStatusFillingForm},
	RunStatusFillingForm:     {RunStatusWaitingForInput, RunStatusFormFilled, RunStatusCompleted},
	RunStatusWaitingForInput: {RunStatusFillingForm},
}

// Valid returns true if the status is a known one.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusInitializing, RunStatusLoggingIn, RunStatusFillingForm, RunStatusWaitingForInput,
		RunStatusFormFilled, RunStatusCompleted, RunStatusError:
		return true
	}
	return false
}

// IsTerminal returns true when no more transitions can happen from the status.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusFormFilled || s == RunStatusCompleted || s == RunStatusError
}

// CanTransition returns true if a run can go from one status to the other.
func CanTransition(from, to RunStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}

	if to == RunStatusError {
		return true
	}

	for _, s := range runStatusTransitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// LogLevel is the severity of a run log entry.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// Valid returns true if the level is a known one.
func (l LogLevel) Valid() bool {
	return l == LogLevelInfo || l == LogLevelWarning || l == LogLevelError
}

// LogEntry is a single immutable line of the run log.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
}

// InputRequest is a request for a value the automation could not resolve by itself.
type InputRequest struct {
	ID          string
	Field       string
	Prompt      string
	RequestedAt time.Time
}

// InputSubmission is the value an operator submits for a pending input request.
// RequestID and Field are optional, when set they must match the pending request.
type InputSubmission struct {
	RequestID string
	Field     string
	Value     string
}

// AutomationRun is the state of a single automation execution.
type AutomationRun struct {
	ID           string
	Status       RunStatus
	Log          []LogEntry
	PendingInput *InputRequest
	StreamingURL string
	// Error is the failure reason when the run ended in error status.
	Error string
	// CollectedInputs are the field values resolved by the operator during the run.
	CollectedInputs map[string]string
	StartedAt       time.Time
	UpdatedAt       time.Time
	EndedAt         *time.Time
}

// Copy returns a deep copy of the run, snapshots must not share memory with the
// authoritative state.
func (r AutomationRun) Copy() AutomationRun {
	c := r

	if r.Log != nil {
		c.Log = make([]LogEntry, len(r.Log))
		copy(c.Log, r.Log)
	}

	if r.PendingInput != nil {
		pi := *r.PendingInput
		c.PendingInput = &pi
	}

	if r.CollectedInputs != nil {
		c.CollectedInputs = make(map[string]string, len(r.CollectedInputs))
		for k, v := range r.CollectedInputs {
			c.CollectedInputs[k] = v
		}
	}

	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}

	return c
}

// Tail returns a copy of the run keeping only the last n log entries.
// n <= 0 keeps all of them.
func (r AutomationRun) Tail(n int) AutomationRun {
	c := r.Copy()
	if n > 0 && len(c.Log) > n {
		c.Log = c.Log[len(c.Log)-n:]
	}
	return c
}

// Validate checks the run invariants.
func (r AutomationRun) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required: %w", ErrNotValid)
	}

	if !r.Status.Valid() {
		return fmt.Errorf("unknown status %q: %w", r.Status, ErrNotValid)
	}

	waiting := r.Status == RunStatusWaitingForInput
	if waiting && r.PendingInput == nil {
		return fmt.Errorf("waiting for input without a pending input request: %w", ErrNotValid)
	}
	if !waiting && r.PendingInput != nil {
		return fmt.Errorf("pending input request on %s status: %w", r.Status, ErrNotValid)
	}

	return nil
}
