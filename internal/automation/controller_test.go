package automation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/formbot/internal/automation"
	"github.com/slok/formbot/internal/engine"
	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
	"github.com/slok/formbot/internal/storage/memory"
)

func idGenerator() func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		i++
		return fmt.Sprintf("id-%d", i)
	}
}

type testEnv struct {
	ctrl    *automation.Controller
	store   *memory.RunStore
	history *memory.Repository
}

func newTestEnv(t *testing.T, eng engine.Engine, inputTimeout time.Duration) testEnv {
	t.Helper()

	store, err := memory.NewRunStore(memory.RunStoreConfig{})
	require.NoError(t, err)
	history, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	ctrl, err := automation.NewController(automation.ControllerConfig{
		Store:        store,
		Engine:       eng,
		History:      history,
		InputTimeout: inputTimeout,
		Logger:       log.Noop,
		IDGenerator:  idGenerator(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
	})

	return testEnv{ctrl: ctrl, store: store, history: history}
}

func waitStatus(t *testing.T, ctrl *automation.Controller, status model.RunStatus) *model.AutomationRun {
	t.Helper()

	require.Eventually(t, func() bool {
		run, err := ctrl.Status(context.Background())
		return err == nil && run.Status == status
	}, 2*time.Second, time.Millisecond, "run never reached %s status", status)

	run, err := ctrl.Status(context.Background())
	require.NoError(t, err)
	return run
}

func logMessages(run *model.AutomationRun) []string {
	msgs := make([]string, 0, len(run.Log))
	for _, e := range run.Log {
		msgs = append(msgs, e.Message)
	}
	return msgs
}

// blockingEngine blocks until the run is cancelled.
var blockingEngine = engine.EngineFunc(func(ctx context.Context, _ model.StartContext, _ engine.Session) error {
	<-ctx.Done()
	return ctx.Err()
})

func TestNewController(t *testing.T) {
	store, _ := memory.NewRunStore(memory.RunStoreConfig{})

	tests := map[string]struct {
		config automation.ControllerConfig
		expErr bool
	}{
		"valid config should create the controller": {
			config: automation.ControllerConfig{Store: store, Engine: blockingEngine, Logger: log.Noop},
		},
		"missing store should fail": {
			config: automation.ControllerConfig{Engine: blockingEngine},
			expErr: true,
		},
		"missing engine should fail": {
			config: automation.ControllerConfig{Store: store},
			expErr: true,
		},
		"negative input timeout should fail": {
			config: automation.ControllerConfig{Store: store, Engine: blockingEngine, InputTimeout: -time.Second},
			expErr: true,
		},
		"nil logger should default to noop": {
			config: automation.ControllerConfig{Store: store, Engine: blockingEngine},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctrl, err := automation.NewController(test.config)
			if test.expErr {
				assert.Error(t, err)
				assert.Nil(t, ctrl)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, ctrl)
			}
		})
	}
}

func TestControllerHumanInputScenario(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	ctx := context.Background()

	gotValue := make(chan string, 1)
	eng := engine.EngineFunc(func(ctx context.Context, sc model.StartContext, s engine.Session) error {
		if err := s.SetStatus(ctx, model.RunStatusLoggingIn); err != nil {
			return err
		}
		if err := s.SetStatus(ctx, model.RunStatusFillingForm); err != nil {
			return err
		}
		s.Logf(ctx, model.LogLevelInfo, "Filled field %s", "business_name")

		v, err := s.RequestInput(ctx, "policy_number", "Enter policy number")
		if err != nil {
			return err
		}
		gotValue <- v

		return s.SetStatus(ctx, model.RunStatusFormFilled)
	})
	env := newTestEnv(t, eng, 0)

	started, err := env.ctrl.Start(ctx, model.StartContext{})
	require.NoError(err)
	assert.Equal("id-1", started.ID)

	waiting := waitStatus(t, env.ctrl, model.RunStatusWaitingForInput)
	require.NotNil(waiting.PendingInput)
	assert.Equal("policy_number", waiting.PendingInput.Field)
	assert.Equal("Enter policy number", waiting.PendingInput.Prompt)
	assert.NoError(waiting.Validate())

	resolved, err := env.ctrl.ResolveInput(ctx, model.InputSubmission{RequestID: waiting.PendingInput.ID, Value: "PN-12345"})
	require.NoError(err)
	assert.NotEqual(model.RunStatusWaitingForInput, resolved.Status)
	assert.Nil(resolved.PendingInput)
	assert.Equal("PN-12345", <-gotValue)

	final := waitStatus(t, env.ctrl, model.RunStatusFormFilled)
	assert.Nil(final.PendingInput)
	assert.NotNil(final.EndedAt)
	assert.Equal(map[string]string{"policy_number": "PN-12345"}, final.CollectedInputs)
	assert.Equal([]string{
		"Automation started",
		"Status changed to logging_in",
		"Status changed to filling_form",
		"Filled field business_name",
		"Human input required for field: policy_number",
		"Received human input for field: policy_number",
		"Status changed to form_filled",
	}, logMessages(final))

	// Finished runs are archived.
	rec, err := env.history.GetRunRecord(ctx, final.ID)
	require.NoError(err)
	assert.Equal(model.RunStatusFormFilled, rec.Run.Status)
	assert.False(rec.Stopped)
}

func TestControllerMultipleInputCycles(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	eng := engine.EngineFunc(func(ctx context.Context, sc model.StartContext, s engine.Session) error {
		_ = s.SetStatus(ctx, model.RunStatusLoggingIn)
		_ = s.SetStatus(ctx, model.RunStatusFillingForm)
		for _, f := range []string{"phone", "fein"} {
			if _, err := s.RequestInput(ctx, f, ""); err != nil {
				return err
			}
		}
		return nil
	})
	env := newTestEnv(t, eng, 0)

	_, err := env.ctrl.Start(ctx, model.StartContext{})
	require.NoError(err)

	for _, f := range []string{"phone", "fein"} {
		run := waitStatus(t, env.ctrl, model.RunStatusWaitingForInput)
		require.Equal(f, run.PendingInput.Field)
		require.Equal("Please provide value for: "+f, run.PendingInput.Prompt)

		_, err := env.ctrl.ResolveInput(ctx, model.InputSubmission{Field: f, Value: "v-" + f})
		require.NoError(err)
		require.Eventually(func() bool {
			r, err := env.ctrl.Status(ctx)
			return err == nil && (r.PendingInput == nil || r.PendingInput.Field != f)
		}, 2*time.Second, time.Millisecond)
	}

	// Engine returning without errors completes the run.
	final := waitStatus(t, env.ctrl, model.RunStatusCompleted)
	require.Equal(map[string]string{"phone": "v-phone", "fein": "v-fein"}, final.CollectedInputs)
}

func TestControllerEngineFailure(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	ctx := context.Background()

	eng := engine.EngineFunc(func(ctx context.Context, sc model.StartContext, s engine.Session) error {
		return errors.New("login rejected")
	})
	env := newTestEnv(t, eng, 0)

	_, err := env.ctrl.Start(ctx, model.StartContext{})
	require.NoError(err)

	run := waitStatus(t, env.ctrl, model.RunStatusError)
	assert.Equal("login rejected", run.Error)
	last := run.Log[len(run.Log)-1]
	assert.Equal(model.LogLevelError, last.Level)
	assert.Contains(last.Message, "login rejected")

	// Terminal runs don't block new runs.
	next, err := env.ctrl.Start(ctx, model.StartContext{})
	require.NoError(err)
	assert.NotEqual(run.ID, next.ID)

	rec, err := env.history.GetRunRecord(ctx, run.ID)
	require.NoError(err)
	assert.Equal(model.RunStatusError, rec.Run.Status)
}

func TestControllerEngineEnds(t *testing.T) {
	tests := map[string]struct {
		engine    engine.EngineFunc
		expStatus model.RunStatus
		expError  string
	}{
		"Engine returning while filling the form should complete the run": {
			engine: func(ctx context.Context, sc model.StartContext, s engine.Session) error {
				_ = s.SetStatus(ctx, model.RunStatusLoggingIn)
				_ = s.SetStatus(ctx, model.RunStatusFillingForm)
				return nil
			},
			expStatus: model.RunStatusCompleted,
		},
		"Engine returning before filling the form should fail the run": {
			engine: func(ctx context.Context, sc model.StartContext, s engine.Session) error {
				_ = s.SetStatus(ctx, model.RunStatusLoggingIn)
				return nil
			},
			expStatus: model.RunStatusError,
			expError:  "automation engine finished on logging_in status without completing the form",
		},
		"Engine panicking should fail the run": {
			engine: func(ctx context.Context, sc model.StartContext, s engine.Session) error {
				panic("boom")
			},
			expStatus: model.RunStatusError,
			expError:  "engine panic: boom",
		},
		"Engine failing through the session should fail the run": {
			engine: func(ctx context.Context, sc model.StartContext, s engine.Session) error {
				_ = s.Fail(ctx, "captcha detected")
				<-ctx.Done()
				return ctx.Err()
			},
			expStatus: model.RunStatusError,
			expError:  "captcha detected",
		},
		"Engine finishing the form should keep the form filled status": {
			engine: func(ctx context.Context, sc model.StartContext, s engine.Session) error {
				_ = s.SetStatus(ctx, model.RunStatusLoggingIn)
				_ = s.SetStatus(ctx, model.RunStatusFillingForm)
				return s.SetStatus(ctx, model.RunStatusFormFilled)
			},
			expStatus: model.RunStatusFormFilled,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, test.engine, 0)

			_, err := env.ctrl.Start(context.Background(), model.StartContext{})
			require.NoError(t, err)

			run := waitStatus(t, env.ctrl, test.expStatus)
			assert.Equal(t, test.expError, run.Error)
		})
	}
}

func TestControllerStartWhileRunning(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	env := newTestEnv(t, blockingEngine, 0)

	first, err := env.ctrl.Start(ctx, model.StartContext{})
	require.NoError(err)

	_, err = env.ctrl.Start(ctx, model.StartContext{})
	require.ErrorIs(err, model.ErrAlreadyRunning)

	run, err := env.ctrl.Status(ctx)
	require.NoError(err)
	require.Equal(first.ID, run.ID)
	require.Equal(first.Status, run.Status)
	require.Equal(logMessages(first), logMessages(run))
}

func TestControllerResolveInputErrors(t *testing.T) {
	tests := map[string]struct {
		waitForInput bool
		stop         bool
		sub          model.InputSubmission
		expErr       error
	}{
		"Submitting with no run should fail with not running": {
			stop:   true,
			sub:    model.InputSubmission{Value: "x"},
			expErr: model.ErrNotRunning,
		},
		"Submitting while not waiting should fail with no pending input": {
			sub:    model.InputSubmission{Value: "x"},
			expErr: model.ErrNoPendingInput,
		},
		"Submitting an empty value should fail": {
			waitForInput: true,
			sub:          model.InputSubmission{Value: "   "},
			expErr:       model.ErrNotValid,
		},
		"Submitting for another request should fail with stale input": {
			waitForInput: true,
			sub:          model.InputSubmission{RequestID: "old-request", Value: "x"},
			expErr:       model.ErrStaleInput,
		},
		"Submitting for another field should fail with stale input": {
			waitForInput: true,
			sub:          model.InputSubmission{Field: "phone", Value: "x"},
			expErr:       model.ErrStaleInput,
		},
		"Submitting with a request ID when nothing is pending should fail with stale input": {
			sub:    model.InputSubmission{RequestID: "old-request", Value: "x"},
			expErr: model.ErrStaleInput,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			ctx := context.Background()

			eng := engine.EngineFunc(func(ctx context.Context, sc model.StartContext, s engine.Session) error {
				_ = s.SetStatus(ctx, model.RunStatusLoggingIn)
				_ = s.SetStatus(ctx, model.RunStatusFillingForm)
				if test.waitForInput {
					_, err := s.RequestInput(ctx, "policy_number", "")
					return err
				}
				<-ctx.Done()
				return ctx.Err()
			})
			env := newTestEnv(t, eng, 0)

			_, err := env.ctrl.Start(ctx, model.StartContext{})
			require.NoError(err)

			var before *model.AutomationRun
			if test.waitForInput {
				before = waitStatus(t, env.ctrl, model.RunStatusWaitingForInput)
			} else {
				before = waitStatus(t, env.ctrl, model.RunStatusFillingForm)
			}
			if test.stop {
				require.NoError(env.ctrl.Stop(ctx))
			}

			_, err = env.ctrl.ResolveInput(ctx, test.sub)
			require.ErrorIs(err, test.expErr)

			// Nothing should have changed.
			if !test.stop {
				after, err := env.ctrl.Status(ctx)
				require.NoError(err)
				require.Equal(before.Status, after.Status)
				require.Equal(before.Log, after.Log)
				require.Equal(before.PendingInput, after.PendingInput)
			}
		})
	}
}

func TestControllerStopWhileWaitingForInput(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	ctx := context.Background()

	engineErr := make(chan error, 1)
	eng := engine.EngineFunc(func(ctx context.Context, sc model.StartContext, s engine.Session) error {
		_ = s.SetStatus(ctx, model.RunStatusLoggingIn)
		_ = s.SetStatus(ctx, model.RunStatusFillingForm)
		v, err := s.RequestInput(ctx, "policy_number", "")
		if err == nil {
			err = fmt.Errorf("unexpected value %q", v)
		}

		// Late callbacks from a stopped run must not touch anything.
		if serr := s.SetStatus(context.Background(), model.RunStatusFormFilled); serr == nil {
			err = errors.New("late status change was accepted")
		}
		engineErr <- err
		return err
	})
	env := newTestEnv(t, eng, 0)

	_, err := env.ctrl.Start(ctx, model.StartContext{})
	require.NoError(err)
	waiting := waitStatus(t, env.ctrl, model.RunStatusWaitingForInput)

	require.NoError(env.ctrl.Stop(ctx))

	// The engine sees a cancellation, not an empty value.
	select {
	case err := <-engineErr:
		assert.ErrorIs(err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine was not unblocked")
	}

	_, err = env.ctrl.Status(ctx)
	assert.ErrorIs(err, model.ErrNotRunning)

	// A late submission for the old request fails.
	_, err = env.ctrl.ResolveInput(ctx, model.InputSubmission{RequestID: waiting.PendingInput.ID, Value: "PN-12345"})
	assert.True(errors.Is(err, model.ErrNotRunning) || errors.Is(err, model.ErrStaleInput))

	// The stopped run is archived with the stop entry.
	rec, err := env.history.GetRunRecord(ctx, waiting.ID)
	require.NoError(err)
	assert.True(rec.Stopped)
	assert.Equal("Automation stopped by the operator", rec.Run.Log[len(rec.Run.Log)-1].Message)

	// A new run can start.
	_, err = env.ctrl.Start(ctx, model.StartContext{})
	assert.NoError(err)
}

func TestControllerStopAtAnyStatus(t *testing.T) {
	statuses := []model.RunStatus{
		model.RunStatusInitializing,
		model.RunStatusLoggingIn,
		model.RunStatusFillingForm,
		model.RunStatusWaitingForInput,
	}

	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			require := require.New(t)
			ctx := context.Background()

			eng := engine.EngineFunc(func(ctx context.Context, sc model.StartContext, s engine.Session) error {
				if status != model.RunStatusInitializing {
					_ = s.SetStatus(ctx, model.RunStatusLoggingIn)
				}
				if status == model.RunStatusFillingForm || status == model.RunStatusWaitingForInput {
					_ = s.SetStatus(ctx, model.RunStatusFillingForm)
				}
				if status == model.RunStatusWaitingForInput {
					_, err := s.RequestInput(ctx, "f", "")
					return err
				}
				<-ctx.Done()
				return ctx.Err()
			})
			env := newTestEnv(t, eng, 0)

			_, err := env.ctrl.Start(ctx, model.StartContext{})
			require.NoError(err)
			waitStatus(t, env.ctrl, status)

			require.NoError(env.ctrl.Stop(ctx))

			_, err = env.ctrl.Status(ctx)
			require.ErrorIs(err, model.ErrNotRunning)

			_, err = env.ctrl.Start(ctx, model.StartContext{})
			require.NoError(err)
		})
	}
}

func TestControllerStopWithoutRun(t *testing.T) {
	env := newTestEnv(t, blockingEngine, 0)
	err := env.ctrl.Stop(context.Background())
	assert.ErrorIs(t, err, model.ErrNotRunning)
}

func TestControllerInputTimeout(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	engineErr := make(chan error, 1)
	eng := engine.EngineFunc(func(ctx context.Context, sc model.StartContext, s engine.Session) error {
		_ = s.SetStatus(ctx, model.RunStatusLoggingIn)
		_ = s.SetStatus(ctx, model.RunStatusFillingForm)
		_, err := s.RequestInput(ctx, "policy_number", "")
		engineErr <- err
		return err
	})
	env := newTestEnv(t, eng, 20*time.Millisecond)

	_, err := env.ctrl.Start(ctx, model.StartContext{})
	require.NoError(err)

	run := waitStatus(t, env.ctrl, model.RunStatusError)
	require.Nil(run.PendingInput)
	require.Contains(run.Error, "no input received for field policy_number")
	require.ErrorIs(<-engineErr, model.ErrInputTimeout)
}

func TestControllerStopFinishedRunKeepsRecord(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	eng := engine.EngineFunc(func(ctx context.Context, sc model.StartContext, s engine.Session) error {
		_ = s.SetStatus(ctx, model.RunStatusLoggingIn)
		_ = s.SetStatus(ctx, model.RunStatusFillingForm)
		return s.SetStatus(ctx, model.RunStatusFormFilled)
	})
	env := newTestEnv(t, eng, 0)

	_, err := env.ctrl.Start(ctx, model.StartContext{})
	require.NoError(err)
	final := waitStatus(t, env.ctrl, model.RunStatusFormFilled)

	require.NoError(env.ctrl.Stop(ctx))
	_, err = env.ctrl.Status(ctx)
	require.ErrorIs(err, model.ErrNotRunning)

	// Dismissing a finished run doesn't turn it into a stopped one.
	rec, err := env.history.GetRunRecord(ctx, final.ID)
	require.NoError(err)
	require.False(rec.Stopped)
	require.Equal(model.RunStatusFormFilled, rec.Run.Status)
	require.Equal("Status changed to form_filled", rec.Run.Log[len(rec.Run.Log)-1].Message)
}

func TestControllerInvalidEngineTransitions(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	errs := make(chan []error, 1)
	eng := engine.EngineFunc(func(ctx context.Context, sc model.StartContext, s engine.Session) error {
		var got []error
		got = append(got, s.SetStatus(ctx, model.RunStatusFillingForm))
		got = append(got, s.SetStatus(ctx, model.RunStatusWaitingForInput))
		got = append(got, s.SetStatus(ctx, model.RunStatusError))
		_, err := s.RequestInput(ctx, "policy_number", "")
		got = append(got, err)
		_, err = s.RequestInput(ctx, " ", "")
		got = append(got, err)
		errs <- got

		<-ctx.Done()
		return ctx.Err()
	})
	env := newTestEnv(t, eng, 0)

	_, err := env.ctrl.Start(ctx, model.StartContext{})
	require.NoError(err)

	for _, err := range <-errs {
		require.ErrorIs(err, model.ErrNotValid)
	}

	run, err := env.ctrl.Status(ctx)
	require.NoError(err)
	require.Equal(model.RunStatusInitializing, run.Status)
	require.Equal([]string{"Automation started"}, logMessages(run))
}

func TestControllerEngineCantLeaveWaitingForInput(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	sessions := make(chan engine.Session, 1)
	gotValue := make(chan string, 1)
	eng := engine.EngineFunc(func(ctx context.Context, sc model.StartContext, s engine.Session) error {
		_ = s.SetStatus(ctx, model.RunStatusLoggingIn)
		_ = s.SetStatus(ctx, model.RunStatusFillingForm)
		sessions <- s
		v, err := s.RequestInput(ctx, "policy_number", "")
		if err != nil {
			return err
		}
		gotValue <- v
		return s.SetStatus(ctx, model.RunStatusFormFilled)
	})
	env := newTestEnv(t, eng, 0)

	_, err := env.ctrl.Start(ctx, model.StartContext{})
	require.NoError(err)
	waiting := waitStatus(t, env.ctrl, model.RunStatusWaitingForInput)
	s := <-sessions

	// The engine can't move the run while the operator has a pending request.
	require.ErrorIs(s.SetStatus(ctx, model.RunStatusFillingForm), model.ErrNotValid)
	require.ErrorIs(s.SetStatus(ctx, model.RunStatusFormFilled), model.ErrNotValid)

	run, err := env.ctrl.Status(ctx)
	require.NoError(err)
	require.Equal(model.RunStatusWaitingForInput, run.Status)
	require.NotNil(run.PendingInput)
	require.Equal(waiting.PendingInput.ID, run.PendingInput.ID)

	// The request can still be resolved and the engine unblocked.
	_, err = env.ctrl.ResolveInput(ctx, model.InputSubmission{RequestID: run.PendingInput.ID, Value: "PN-12345"})
	require.NoError(err)
	require.Equal("PN-12345", <-gotValue)
	waitStatus(t, env.ctrl, model.RunStatusFormFilled)
}

func TestControllerStreamingURL(t *testing.T) {
	ctx := context.Background()

	eng := engine.EngineFunc(func(ctx context.Context, sc model.StartContext, s engine.Session) error {
		_ = s.SetStreamingURL(ctx, "https://stream.example.com/abc")
		_ = s.SetStatus(ctx, model.RunStatusLoggingIn)
		<-ctx.Done()
		return ctx.Err()
	})
	env := newTestEnv(t, eng, 0)

	_, err := env.ctrl.Start(ctx, model.StartContext{})
	require.NoError(t, err)

	run := waitStatus(t, env.ctrl, model.RunStatusLoggingIn)
	assert.Equal(t, "https://stream.example.com/abc", run.StreamingURL)
}

func TestControllerStartContextIsPassed(t *testing.T) {
	ctx := context.Background()

	got := make(chan model.StartContext, 1)
	eng := engine.EngineFunc(func(ctx context.Context, sc model.StartContext, s engine.Session) error {
		got <- sc
		<-ctx.Done()
		return ctx.Err()
	})
	env := newTestEnv(t, eng, 0)

	sc := model.StartContext{
		Credentials: model.Credentials{DestinationURL: "https://app.example.com", Username: "user", Password: "pass"},
		Email:       &model.EmailContent{Subject: "New applicant", Body: "Business: ACME"},
	}
	_, err := env.ctrl.Start(ctx, sc)
	require.NoError(t, err)

	select {
	case g := <-got:
		assert.Equal(t, sc, g)
	case <-time.After(2 * time.Second):
		t.Fatal("engine was not started")
	}
}
