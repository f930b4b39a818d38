package engine

import (
	"context"
	"strings"

	"github.com/slok/formbot/internal/model"
)

// Engine is the interface for the external automation that drives the remote
// browser session.
type Engine interface {
	// Run performs the automation. It blocks until the automation ends, the
	// context is cancelled (stopped run) or an unrecoverable error happens.
	// Returning an error fails the run.
	Run(ctx context.Context, sc model.StartContext, session Session) error
}

// Session is the surface the engine uses to report the progress of a run to the
// coordinator.
type Session interface {
	// RunID returns the ID of the run the session belongs to.
	RunID() string
	// Logf appends an entry to the run log.
	Logf(ctx context.Context, level model.LogLevel, format string, args ...any)
	// SetStatus reports the run progress (logging_in, filling_form, form_filled, completed).
	SetStatus(ctx context.Context, status model.RunStatus) error
	// RequestInput asks the operator for a field value. It blocks until the value is
	// submitted, the run is stopped or failed. A stopped run returns the context error,
	// never an empty value.
	RequestInput(ctx context.Context, field, prompt string) (string, error)
	// SetStreamingURL sets the live view URL once the browser session is available.
	SetStreamingURL(ctx context.Context, url string) error
	// Fail ends the run in error status.
	Fail(ctx context.Context, reason string) error
}

// InputRequiredMarker is the marker an agent output uses to ask for human input:
// `HUMAN_INPUT_REQUIRED: <field> - <explanation>`.
const InputRequiredMarker = "HUMAN_INPUT_REQUIRED:"

// ParseInputRequired parses an agent output looking for the human input marker.
// It returns the field and the explanation, and false if the output does not ask
// for input.
func ParseInputRequired(output string) (field, explanation string, ok bool) {
	idx := strings.Index(output, InputRequiredMarker)
	if idx < 0 {
		return "", "", false
	}

	req := strings.TrimSpace(output[idx+len(InputRequiredMarker):])
	field, explanation, _ = strings.Cut(req, "-")
	field = strings.TrimSpace(field)
	explanation = strings.TrimSpace(explanation)
	if field == "" {
		return "", "", false
	}

	return field, explanation, true
}

// InputPrompt returns the prompt shown to the operator for a missing field.
func InputPrompt(field, explanation string) string {
	p := "Please provide value for: " + field
	if explanation != "" {
		p += "\n" + explanation
	}
	return p
}

// EngineFunc is a helper to create engines from functions.
type EngineFunc func(ctx context.Context, sc model.StartContext, session Session) error

// Run satisfies Engine interface.
func (f EngineFunc) Run(ctx context.Context, sc model.StartContext, session Session) error {
	return f(ctx, sc, session)
}
