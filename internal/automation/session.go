package automation

import (
	"context"
	"fmt"

	"github.com/slok/formbot/internal/model"
)

// session is the engine.Session bound to a single run. Calls made after the run has
// been stopped or replaced are ignored or fail with model.ErrNotRunning.
type session struct {
	ctrl  *Controller
	runID string
}

func (s *session) RunID() string { return s.runID }

func (s *session) Logf(ctx context.Context, level model.LogLevel, format string, args ...any) {
	_ = s.ctrl.AppendLog(ctx, s.runID, level, fmt.Sprintf(format, args...))
}

func (s *session) SetStatus(ctx context.Context, status model.RunStatus) error {
	return s.ctrl.Advance(ctx, s.runID, status)
}

func (s *session) RequestInput(ctx context.Context, field, prompt string) (string, error) {
	return s.ctrl.HandleInputNeeded(ctx, s.runID, field, prompt)
}

func (s *session) SetStreamingURL(ctx context.Context, url string) error {
	return s.ctrl.SetStreamingURL(ctx, s.runID, url)
}

func (s *session) Fail(ctx context.Context, reason string) error {
	return s.ctrl.Fail(ctx, s.runID, reason)
}
