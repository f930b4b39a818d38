package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/slok/formbot/internal/engine"
	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
)

// Event types the agent process writes on its stdout, one JSON object per line.
const (
	EventStatus        = "status"
	EventLog           = "log"
	EventStreamingURL  = "streaming_url"
	EventInputRequired = "input_required"
	EventError         = "error"
)

// Message types the engine writes on the agent process stdin.
const (
	MessageStart = "start"
	MessageInput = "input"
)

// Event is a line of the agent process output.
type Event struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	URL     string `json:"url,omitempty"`
}

// StartMessage is the first line written to the agent process.
type StartMessage struct {
	Type           string `json:"type"`
	RunID          string `json:"run_id"`
	DestinationURL string `json:"destination_url"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	EmailSubject   string `json:"email_subject,omitempty"`
	EmailBody      string `json:"email_body,omitempty"`
}

// InputMessage answers an input request of the agent process.
type InputMessage struct {
	Type  string `json:"type"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// EngineConfig is the configuration for the command engine.
type EngineConfig struct {
	// Command is the agent executable and its arguments.
	Command []string
	// Env is added to the process environment.
	Env    []string
	Logger log.Logger
}

func (c *EngineConfig) defaults() error {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return fmt.Errorf("command is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Command"})
	return nil
}

// Engine runs an external agent process per run.
//
// The agent receives a StartMessage line on stdin and reports its progress with Event
// lines on stdout. Lines that are not JSON are logged, except the ones carrying the
// HUMAN_INPUT_REQUIRED marker that are handled as input requests. Input values are
// written back to the agent stdin as InputMessage lines.
type Engine struct {
	command []string
	env     []string
	logger  log.Logger
}

// NewEngine returns a new command engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		command: cfg.Command,
		env:     cfg.Env,
		logger:  cfg.Logger,
	}, nil
}

var _ engine.Engine = &Engine{}

const maxLineSize = 1024 * 1024

func (e *Engine) Run(ctx context.Context, sc model.StartContext, s engine.Session) error {
	logger := e.logger.WithValues(log.Kv{"run-id": s.RunID()})

	cmd := exec.CommandContext(ctx, e.command[0], e.command[1:]...)
	cmd.Env = append(append(os.Environ(), e.env...), "FORMBOT_RUN_ID="+s.RunID())
	cmd.WaitDelay = 2 * time.Second
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("could not get agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("could not get agent stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("could not start agent: %w", err)
	}
	logger.Infof("Agent process started with PID %d", cmd.Process.Pid)

	// Children of the agent could keep the output open after it's killed.
	stopClose := context.AfterFunc(ctx, func() { _ = stdout.Close() })
	defer stopClose()

	waited := false
	defer func() {
		if !waited {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
	}()

	enc := json.NewEncoder(stdin)
	start := StartMessage{
		Type:           MessageStart,
		RunID:          s.RunID(),
		DestinationURL: sc.Credentials.DestinationURL,
		Username:       sc.Credentials.Username,
		Password:       sc.Credentials.Password,
	}
	if sc.Email != nil {
		start.EmailSubject = sc.Email.Subject
		start.EmailBody = sc.Email.Body
	}
	if err := enc.Encode(start); err != nil {
		return fmt.Errorf("could not send start message to agent: %w", err)
	}

	h := handler{session: s, enc: enc}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := h.handleLine(ctx, scanner.Text()); err != nil {
			return err
		}
	}
	scanErr := scanner.Err()

	_ = stdin.Close()
	waitErr := cmd.Wait()
	waited = true

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if h.failure != "" {
		return fmt.Errorf("%s", h.failure)
	}

	if waitErr != nil {
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			return fmt.Errorf("agent process failed: %w: %s", waitErr, tail)
		}
		return fmt.Errorf("agent process failed: %w", waitErr)
	}

	if scanErr != nil {
		return fmt.Errorf("could not read agent output: %w", scanErr)
	}

	logger.Infof("Agent process finished")
	return nil
}

type handler struct {
	session engine.Session
	enc     *json.Encoder
	failure string
}

func (h *handler) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var ev Event
	if !strings.HasPrefix(line, "{") || json.Unmarshal([]byte(line), &ev) != nil || ev.Type == "" {
		if field, explanation, ok := engine.ParseInputRequired(line); ok {
			return h.requestInput(ctx, field, engine.InputPrompt(field, explanation))
		}
		h.session.Logf(ctx, model.LogLevelInfo, "%s", line)
		return nil
	}

	switch ev.Type {
	case EventStatus:
		return h.session.SetStatus(ctx, model.RunStatus(ev.Status))

	case EventLog:
		h.session.Logf(ctx, model.LogLevel(ev.Level), "%s", ev.Message)
		return nil

	case EventStreamingURL:
		return h.session.SetStreamingURL(ctx, ev.URL)

	case EventInputRequired:
		prompt := ev.Prompt
		if prompt == "" {
			prompt = engine.InputPrompt(ev.Field, ev.Message)
		}
		return h.requestInput(ctx, ev.Field, prompt)

	case EventError:
		if h.failure == "" {
			h.failure = ev.Message
			if h.failure == "" {
				h.failure = "agent reported an error"
			}
		}
		return nil
	}

	h.session.Logf(ctx, model.LogLevelWarning, "Unknown agent event type %q", ev.Type)
	return nil
}

func (h *handler) requestInput(ctx context.Context, field, prompt string) error {
	v, err := h.session.RequestInput(ctx, field, prompt)
	if err != nil {
		return err
	}

	if err := h.enc.Encode(InputMessage{Type: MessageInput, Field: field, Value: v}); err != nil {
		return fmt.Errorf("could not send input to agent: %w", err)
	}

	return nil
}

// tailBuffer keeps the last bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	b   []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.b = append(t.b, p...)
	if len(t.b) > t.max {
		t.b = t.b[len(t.b)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.b)
}
