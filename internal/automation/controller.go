package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/formbot/internal/engine"
	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
	"github.com/slok/formbot/internal/storage"
)

// ControllerConfig is the configuration for the automation controller.
type ControllerConfig struct {
	Store  storage.RunStore
	Engine engine.Engine
	// History is optional, when set finished and stopped runs are archived on it.
	History storage.HistoryRepository
	// InputTimeout fails the run when a human input request is not resolved in time.
	// Zero waits forever.
	InputTimeout time.Duration
	Logger       log.Logger
	// IDGenerator returns the IDs for runs and input requests.
	IDGenerator func() string
}

func (c *ControllerConfig) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}

	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}

	if c.InputTimeout < 0 {
		return fmt.Errorf("input timeout can't be negative")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "automation.Controller"})

	if c.IDGenerator == nil {
		c.IDGenerator = func() string { return ulid.Make().String() }
	}

	return nil
}

// Controller owns the lifecycle of one automation run at a time. The run itself is
// executed by the engine in its own goroutine, the controller tracks its progress on
// the run store and hands off the human input requests.
type Controller struct {
	store        storage.RunStore
	engine       engine.Engine
	history      storage.HistoryRepository
	inputTimeout time.Duration
	logger       log.Logger
	newID        func() string

	// mu serializes all the run state changes.
	mu     sync.Mutex
	active *activeRun
	wg     sync.WaitGroup
}

type activeRun struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	waiter *inputWaiter
}

type inputWaiter struct {
	requestID string
	field     string
	value     chan string
}

// NewController creates a new automation controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Controller{
		store:        cfg.Store,
		engine:       cfg.Engine,
		history:      cfg.History,
		inputTimeout: cfg.InputTimeout,
		logger:       cfg.Logger,
		newID:        cfg.IDGenerator,
	}, nil
}

// Start starts a new run and hands it to the engine. It returns as soon as the run
// is created, without waiting for the engine.
// A finished run is archived and replaced, an active one makes it fail with
// model.ErrAlreadyRunning.
func (c *Controller) Start(ctx context.Context, sc model.StartContext) (*model.AutomationRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.store.GetRun(ctx)
	switch {
	case err == nil:
		if !current.Status.IsTerminal() {
			return nil, fmt.Errorf("run %s is %s: %w", current.ID, current.Status, model.ErrAlreadyRunning)
		}
		c.archive(ctx, *current, false)
		if err := c.store.ClearRun(ctx, current.ID); err != nil {
			return nil, fmt.Errorf("could not clear finished run: %w", err)
		}
	case errors.Is(err, model.ErrNotRunning):
	default:
		return nil, fmt.Errorf("could not get current run: %w", err)
	}

	// A finished run engine may still be returning.
	if c.active != nil {
		c.active.cancel()
		c.active = nil
	}

	run := model.AutomationRun{
		ID:     c.newID(),
		Status: model.RunStatusInitializing,
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("could not create run: %w", err)
	}
	c.appendLog(ctx, run.ID, model.LogLevelInfo, "Automation started")

	runCtx, cancel := context.WithCancel(context.Background())
	runCtx = c.logger.SetValuesOnCtx(runCtx, log.Kv{"run-id": run.ID})
	ar := &activeRun{id: run.ID, ctx: runCtx, cancel: cancel}
	c.active = ar

	c.wg.Add(1)
	go c.execute(ar, sc)

	c.logger.Infof("Started automation run: %s", run.ID)

	return c.store.GetRun(ctx)
}

func (c *Controller) execute(ar *activeRun, sc model.StartContext) {
	defer c.wg.Done()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("engine panic: %v", r)
			}
		}()
		return c.engine.Run(ar.ctx, sc, &session{ctrl: c, runID: ar.id})
	}()

	// Stopped or already finished by a failure.
	if ar.ctx.Err() != nil {
		c.logger.Debugf("Engine returned after run %s cancellation", ar.id)
		return
	}

	ctx := context.Background()
	if err != nil {
		if ferr := c.Fail(ctx, ar.id, err.Error()); ferr != nil && !errors.Is(ferr, model.ErrNotRunning) {
			c.logger.Debugf("Could not fail run %s: %s", ar.id, ferr)
		}
		return
	}

	c.finish(ctx, ar.id)
}

// finish ends a run whose engine returned without errors.
func (c *Controller) finish(ctx context.Context, runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, err := c.current(ctx, runID)
	if err != nil || run.Status.IsTerminal() {
		return
	}

	if run.Status != model.RunStatusFillingForm {
		c.fail(ctx, runID, fmt.Sprintf("automation engine finished on %s status without completing the form", run.Status))
		return
	}

	if err := c.store.SetStatus(ctx, runID, model.RunStatusCompleted); err != nil {
		c.logger.Errorf("Could not complete run %s: %s", runID, err)
		return
	}
	c.appendLog(ctx, runID, model.LogLevelInfo, "Automation process completed successfully")
	c.finished(ctx, runID)
}

// Status returns a snapshot of the current run. Returns model.ErrNotRunning if there is none.
func (c *Controller) Status(ctx context.Context) (*model.AutomationRun, error) {
	return c.store.GetRun(ctx)
}

// Advance moves the run to the next status reported by the engine.
func (c *Controller) Advance(ctx context.Context, runID string, status model.RunStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, err := c.current(ctx, runID)
	if err != nil {
		return err
	}

	// Only a resolved input request leaves waiting_for_input.
	if run.Status == model.RunStatusWaitingForInput {
		return fmt.Errorf("run is waiting for input on field %s: %w", pendingField(run), model.ErrNotValid)
	}

	switch status {
	case model.RunStatusWaitingForInput:
		return fmt.Errorf("waiting for input is set by requesting input: %w", model.ErrNotValid)
	case model.RunStatusError:
		return fmt.Errorf("error status is set by failing the run: %w", model.ErrNotValid)
	}

	if !model.CanTransition(run.Status, status) {
		return fmt.Errorf("run can't go from %s to %s: %w", run.Status, status, model.ErrNotValid)
	}

	if err := c.store.SetStatus(ctx, runID, status); err != nil {
		return fmt.Errorf("could not set status: %w", err)
	}
	c.appendLog(ctx, runID, model.LogLevelInfo, fmt.Sprintf("Status changed to %s", status))

	if status.IsTerminal() {
		c.finished(ctx, runID)
	}

	return nil
}

// HandleInputNeeded raises an input request for a field the engine could not resolve.
// It blocks the caller until the operator submits a value, the run is stopped (context
// error) or failed, or the input timeout is reached (model.ErrInputTimeout).
func (c *Controller) HandleInputNeeded(ctx context.Context, runID, field, prompt string) (string, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return "", fmt.Errorf("field is required: %w", model.ErrNotValid)
	}
	if prompt == "" {
		prompt = engine.InputPrompt(field, "")
	}

	c.mu.Lock()
	ar := c.active
	if ar == nil || ar.id != runID {
		c.mu.Unlock()
		return "", fmt.Errorf("run %s is not active: %w", runID, model.ErrNotRunning)
	}

	run, err := c.current(ctx, runID)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}

	if run.Status != model.RunStatusFillingForm {
		c.mu.Unlock()
		return "", fmt.Errorf("input can't be requested on %s status: %w", run.Status, model.ErrNotValid)
	}

	req := model.InputRequest{
		ID:     c.newID(),
		Field:  field,
		Prompt: prompt,
	}
	if err := c.store.SetPendingInput(ctx, runID, &req); err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("could not set pending input: %w", err)
	}
	c.appendLog(ctx, runID, model.LogLevelWarning, fmt.Sprintf("Human input required for field: %s", field))

	w := &inputWaiter{requestID: req.ID, field: field, value: make(chan string, 1)}
	ar.waiter = w
	c.mu.Unlock()

	var timeout <-chan time.Time
	if c.inputTimeout > 0 {
		t := time.NewTimer(c.inputTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case v := <-w.value:
		return v, nil

	case <-ar.ctx.Done():
		return "", fmt.Errorf("run %s finished while waiting for input: %w", runID, ar.ctx.Err())

	case <-ctx.Done():
		c.abandonInput(runID, w)
		return "", ctx.Err()

	case <-timeout:
		c.mu.Lock()
		defer c.mu.Unlock()

		// The value could have arrived at the same time.
		if ar.waiter != w {
			select {
			case v := <-w.value:
				return v, nil
			default:
				return "", fmt.Errorf("run %s finished while waiting for input: %w", runID, context.Canceled)
			}
		}

		ar.waiter = nil
		c.fail(context.Background(), runID, fmt.Sprintf("no input received for field %s after %s", field, c.inputTimeout))
		return "", fmt.Errorf("field %s: %w", field, model.ErrInputTimeout)
	}
}

// abandonInput clears a pending request the engine is not waiting for anymore.
func (c *Controller) abandonInput(runID string, w *inputWaiter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ar := c.active
	if ar == nil || ar.id != runID || ar.waiter != w {
		return
	}
	ar.waiter = nil

	ctx := context.Background()
	run, err := c.current(ctx, runID)
	if err != nil || run.PendingInput == nil || run.PendingInput.ID != w.requestID {
		return
	}

	if err := c.store.SetPendingInput(ctx, runID, nil); err != nil {
		c.logger.Errorf("Could not clear abandoned input request: %s", err)
		return
	}
	c.appendLog(ctx, runID, model.LogLevelWarning, fmt.Sprintf("Input request for field %s abandoned by the automation", w.field))
}

// ResolveInput resolves the pending input request with the operator value and unblocks
// the engine. It returns the run snapshot after the resolution.
func (c *Controller) ResolveInput(ctx context.Context, sub model.InputSubmission) (*model.AutomationRun, error) {
	if strings.TrimSpace(sub.Value) == "" {
		return nil, fmt.Errorf("input value is required: %w", model.ErrNotValid)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	run, err := c.store.GetRun(ctx)
	if err != nil {
		return nil, err
	}

	pending := run.PendingInput
	if sub.RequestID != "" && (pending == nil || pending.ID != sub.RequestID) {
		return nil, fmt.Errorf("input request %s no longer exists: %w", sub.RequestID, model.ErrStaleInput)
	}
	if sub.Field != "" && pending != nil && pending.Field != sub.Field {
		return nil, fmt.Errorf("input for field %s was submitted but field %s is pending: %w", sub.Field, pending.Field, model.ErrStaleInput)
	}
	if run.Status != model.RunStatusWaitingForInput || pending == nil {
		return nil, fmt.Errorf("run is %s: %w", run.Status, model.ErrNoPendingInput)
	}

	ar := c.active
	if ar == nil || ar.id != run.ID || ar.waiter == nil || ar.waiter.requestID != pending.ID {
		return nil, fmt.Errorf("automation is not waiting for input request %s: %w", pending.ID, model.ErrStaleInput)
	}

	if err := c.store.SetPendingInput(ctx, run.ID, nil); err != nil {
		return nil, fmt.Errorf("could not clear pending input: %w", err)
	}
	if err := c.store.RecordInput(ctx, run.ID, pending.Field, sub.Value); err != nil {
		return nil, fmt.Errorf("could not record input: %w", err)
	}
	c.appendLog(ctx, run.ID, model.LogLevelInfo, fmt.Sprintf("Received human input for field: %s", pending.Field))

	w := ar.waiter
	ar.waiter = nil
	w.value <- sub.Value

	return c.store.GetRun(ctx)
}

// Stop cancels the current run and clears it, a finished run is just cleared.
// Cancellation is best effort, it returns once the engine has been signaled, not
// when it has stopped.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, err := c.store.GetRun(ctx)
	if err != nil {
		return err
	}

	if ar := c.active; ar != nil && ar.id == run.ID {
		ar.waiter = nil
		ar.cancel()
		c.active = nil
	}

	// A finished run is only dismissed, it was archived when it ended.
	if !run.Status.IsTerminal() {
		c.appendLog(ctx, run.ID, model.LogLevelWarning, "Automation stopped by the operator")
		if final, err := c.store.GetRun(ctx); err == nil {
			run = final
		}
		c.archive(ctx, *run, true)
	}

	if err := c.store.ClearRun(ctx, run.ID); err != nil {
		return fmt.Errorf("could not clear run: %w", err)
	}

	c.logger.Infof("Stopped automation run: %s", run.ID)
	return nil
}

// Fail ends the run in error status with the reason.
func (c *Controller) Fail(ctx context.Context, runID string, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fail(ctx, runID, reason)
}

// fail must be called with the lock held.
func (c *Controller) fail(ctx context.Context, runID string, reason string) error {
	run, err := c.current(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status.IsTerminal() {
		return fmt.Errorf("run already finished with %s status: %w", run.Status, model.ErrNotValid)
	}

	if reason == "" {
		reason = "unknown error"
	}

	if err := c.store.SetStatus(ctx, runID, model.RunStatusError); err != nil {
		return fmt.Errorf("could not set error status: %w", err)
	}
	if err := c.store.SetError(ctx, runID, reason); err != nil {
		return fmt.Errorf("could not set run error: %w", err)
	}
	c.appendLog(ctx, runID, model.LogLevelError, fmt.Sprintf("Automation failed: %s", reason))

	if ar := c.active; ar != nil && ar.id == runID {
		ar.waiter = nil
		ar.cancel()
	}

	c.finished(ctx, runID)
	return nil
}

// AppendLog appends an entry to the run log.
func (c *Controller) AppendLog(ctx context.Context, runID string, level model.LogLevel, msg string) error {
	if !level.Valid() {
		level = model.LogLevelInfo
	}
	return c.appendLogErr(ctx, runID, level, msg)
}

// SetStreamingURL sets the live view URL of the run.
func (c *Controller) SetStreamingURL(ctx context.Context, runID string, url string) error {
	return c.store.SetStreamingURL(ctx, runID, url)
}

// Shutdown cancels the active run engine and waits for it to return or the
// context to end. The run state is kept.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.active != nil {
		c.active.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pendingField(run *model.AutomationRun) string {
	if run.PendingInput == nil {
		return ""
	}
	return run.PendingInput.Field
}

// current returns the store run if it's the one with the ID.
func (c *Controller) current(ctx context.Context, runID string) (*model.AutomationRun, error) {
	run, err := c.store.GetRun(ctx)
	if err != nil {
		return nil, err
	}
	if run.ID != runID {
		return nil, fmt.Errorf("run %s is not the current one: %w", runID, model.ErrNotRunning)
	}
	return run, nil
}

// finished archives a run that reached a terminal status.
func (c *Controller) finished(ctx context.Context, runID string) {
	run, err := c.current(ctx, runID)
	if err != nil {
		return
	}
	c.logger.Infof("Automation run %s finished with %s status", runID, run.Status)
	c.archive(ctx, *run, false)
}

func (c *Controller) archive(ctx context.Context, run model.AutomationRun, stopped bool) {
	if c.history == nil {
		return
	}

	err := c.history.SaveRunRecord(ctx, model.RunRecord{
		Run:        run,
		Stopped:    stopped,
		ArchivedAt: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Errorf("Could not archive run %s: %s", run.ID, err)
	}
}

func (c *Controller) appendLog(ctx context.Context, runID string, level model.LogLevel, msg string) {
	_ = c.appendLogErr(ctx, runID, level, msg)
}

func (c *Controller) appendLogErr(ctx context.Context, runID string, level model.LogLevel, msg string) error {
	err := c.store.AppendLog(ctx, runID, model.LogEntry{Level: level, Message: msg})
	if err != nil {
		return err
	}

	logger := c.logger.WithValues(log.Kv{"run-id": runID})
	switch level {
	case model.LogLevelError:
		logger.Errorf("%s", msg)
	case model.LogLevelWarning:
		logger.Warningf("%s", msg)
	default:
		logger.Infof("%s", msg)
	}

	return nil
}
