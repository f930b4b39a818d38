package command_test

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/formbot/internal/engine/command"
	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
)

type testSession struct {
	mu        sync.Mutex
	input     string
	inputErr  error
	statuses  []model.RunStatus
	logs      []string
	requested []string
	prompts   []string
	streamURL string
}

func (s *testSession) RunID() string { return "run-1" }

func (s *testSession) Logf(_ context.Context, _ model.LogLevel, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, fmt.Sprintf(format, args...))
}

func (s *testSession) SetStatus(_ context.Context, status model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *testSession) RequestInput(ctx context.Context, field, prompt string) (string, error) {
	s.mu.Lock()
	s.requested = append(s.requested, field)
	s.prompts = append(s.prompts, prompt)
	inputErr := s.inputErr
	s.mu.Unlock()

	if inputErr != nil {
		return "", inputErr
	}
	return s.input, nil
}

func (s *testSession) SetStreamingURL(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamURL = url
	return nil
}

func (s *testSession) Fail(context.Context, string) error { return nil }

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}
}

func TestEngineRun(t *testing.T) {
	requireShell(t)

	tests := map[string]struct {
		script       string
		inputErr     error
		expStatuses  []model.RunStatus
		expLogs      []string
		expRequested []string
		expPrompts   []string
		expStreamURL string
		expErr       bool
		expErrIs     error
	}{
		"An agent reporting its progress should drive the session": {
			script: `read start
echo '{"type":"streaming_url","url":"https://live.example.com/1"}'
echo '{"type":"status","status":"logging_in"}'
echo '{"type":"status","status":"filling_form"}'
echo '{"type":"log","level":"info","message":"Filled business name"}'
echo '{"type":"input_required","field":"policy_number","prompt":"Enter policy number"}'
read answer
echo "answer: $answer"
echo '{"type":"status","status":"form_filled"}'
`,
			expStatuses:  []model.RunStatus{model.RunStatusLoggingIn, model.RunStatusFillingForm, model.RunStatusFormFilled},
			expLogs:      []string{"Filled business name", `answer: {"type":"input","field":"policy_number","value":"PN-12345"}`},
			expRequested: []string{"policy_number"},
			expPrompts:   []string{"Enter policy number"},
			expStreamURL: "https://live.example.com/1",
		},

		"An agent using the input marker should be asked for input": {
			script: `read start
echo 'I could not find the policy number on the form.'
echo 'HUMAN_INPUT_REQUIRED: policy_number - Policy number is not on the email'
read answer
`,
			expLogs:      []string{"I could not find the policy number on the form."},
			expRequested: []string{"policy_number"},
			expPrompts:   []string{"Please provide value for: policy_number\nPolicy number is not on the email"},
		},

		"The start message should carry the start context": {
			script: `read start
echo "got: $start"
`,
			expLogs: []string{`got: {"type":"start","run_id":"run-1","destination_url":"https://app.example.com","username":"agent","password":"secret","email_subject":"New applicant","email_body":"Business Name: ACME"}`},
		},

		"An agent reporting an error should fail the run with the message": {
			script: `read start
echo '{"type":"error","message":"login rejected"}'
`,
			expErr: true,
		},

		"An agent exiting with an error should fail the run": {
			script: `read start
echo 'boom' >&2
exit 3
`,
			expErr: true,
		},

		"An input request error should stop the agent": {
			script: `read start
echo '{"type":"input_required","field":"policy_number"}'
read answer
echo '{"type":"status","status":"form_filled"}'
`,
			inputErr:     context.Canceled,
			expRequested: []string{"policy_number"},
			expPrompts:   []string{"Please provide value for: policy_number"},
			expErrIs:     context.Canceled,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			eng, err := command.NewEngine(command.EngineConfig{
				Command: []string{"sh", "-c", test.script},
				Logger:  log.Noop,
			})
			require.NoError(err)

			s := &testSession{input: "PN-12345", inputErr: test.inputErr}
			sc := model.StartContext{
				Credentials: model.Credentials{DestinationURL: "https://app.example.com", Username: "agent", Password: "secret"},
				Email:       &model.EmailContent{Subject: "New applicant", Body: "Business Name: ACME"},
			}
			err = eng.Run(context.Background(), sc, s)

			switch {
			case test.expErrIs != nil:
				assert.ErrorIs(err, test.expErrIs)
			case test.expErr:
				assert.Error(err)
			default:
				assert.NoError(err)
			}
			assert.Equal(test.expStatuses, s.statuses)
			assert.Equal(test.expLogs, s.logs)
			assert.Equal(test.expRequested, s.requested)
			assert.Equal(test.expPrompts, s.prompts)
			assert.Equal(test.expStreamURL, s.streamURL)
		})
	}
}

func TestEngineRunErrorMessages(t *testing.T) {
	requireShell(t)

	tests := map[string]struct {
		script string
		expErr string
	}{
		"Agent error event": {
			script: `read start; echo '{"type":"error","message":"login rejected"}'`,
			expErr: "login rejected",
		},
		"Agent exit code with stderr": {
			script: `read start; echo 'captcha detected' >&2; exit 3`,
			expErr: "agent process failed: exit status 3: captcha detected",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			eng, err := command.NewEngine(command.EngineConfig{Command: []string{"sh", "-c", test.script}})
			require.NoError(t, err)

			err = eng.Run(context.Background(), model.StartContext{}, &testSession{})
			assert.EqualError(t, err, test.expErr)
		})
	}
}

func TestEngineRunCancel(t *testing.T) {
	requireShell(t)

	eng, err := command.NewEngine(command.EngineConfig{Command: []string{"sh", "-c", "read start; exec sleep 30"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() { errC <- eng.Run(ctx, model.StartContext{}, &testSession{}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errC:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("agent was not killed on cancellation")
	}
}

func TestNewEngine(t *testing.T) {
	_, err := command.NewEngine(command.EngineConfig{})
	assert.Error(t, err)
}
