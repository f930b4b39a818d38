package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
	"github.com/slok/formbot/internal/poll"
)

// Client is the API surface the console uses.
type Client interface {
	Status(ctx context.Context, tail int) (*model.AutomationRun, error)
	ProvideInput(ctx context.Context, sub model.InputSubmission) (*model.AutomationRun, error)
	Stop(ctx context.Context) error
}

// ConsoleConfig is the configuration of the operator console.
type ConsoleConfig struct {
	Client       Client
	PollInterval time.Duration
	// LogLines is the number of run log entries shown.
	LogLines int
	Logger   log.Logger
}

func (c *ConsoleConfig) defaults() error {
	if c.Client == nil {
		return fmt.Errorf("client is required")
	}

	if c.LogLines < 0 {
		return fmt.Errorf("log lines can't be negative")
	}
	if c.LogLines == 0 {
		c.LogLines = 10
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "tui.Console"})

	return nil
}

// Console is the bubbletea model of the operator console. It follows the current run
// and asks the operator for the values the automation needs.
type Console struct {
	ctx       context.Context
	cancel    context.CancelFunc
	client    Client
	poller    *poll.Poller
	submitter *poll.Submitter
	updates   chan poll.State
	logger    log.Logger

	state      poll.State
	polling    bool
	input      textinput.Model
	inputFor   string
	spinner    spinner.Model
	submitting bool
	notice     string
	err        error
	width      int
}

// NewConsole returns a new operator console.
func NewConsole(cfg ConsoleConfig) (*Console, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan poll.State, 16)

	poller, err := poll.NewPoller(poll.PollerConfig{
		Client:   cfg.Client,
		Interval: cfg.PollInterval,
		Tail:     cfg.LogLines,
		OnUpdate: func(s poll.State) {
			select {
			case updates <- s:
			case <-ctx.Done():
			}
		},
		Logger: cfg.Logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("could not create poller: %w", err)
	}

	submitter, err := poll.NewSubmitter(poll.SubmitterConfig{
		Client:    cfg.Client,
		Refresher: poller,
		Logger:    cfg.Logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("could not create submitter: %w", err)
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 512

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return &Console{
		ctx:       ctx,
		cancel:    cancel,
		client:    cfg.Client,
		poller:    poller,
		submitter: submitter,
		updates:   updates,
		logger:    cfg.Logger,
		polling:   true,
		input:     ti,
		spinner:   sp,
	}, nil
}

type stateMsg poll.State

type pollEndedMsg struct{ err error }

type submittedMsg struct {
	field string
	err   error
}

type stoppedMsg struct{ err error }

func (c *Console) Init() tea.Cmd {
	return tea.Batch(c.spinner.Tick, c.runPoller, c.waitForUpdate)
}

func (c *Console) runPoller() tea.Msg {
	return pollEndedMsg{err: c.poller.Run(c.ctx)}
}

func (c *Console) waitForUpdate() tea.Msg {
	select {
	case s := <-c.updates:
		return stateMsg(s)
	case <-c.ctx.Done():
		return nil
	}
}

func (c *Console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return c.handleKey(msg)

	case tea.WindowSizeMsg:
		c.width = msg.Width
		c.input.Width = max(msg.Width-4, 10)
		return c, nil

	case stateMsg:
		c.setState(poll.State(msg))
		return c, c.waitForUpdate

	case pollEndedMsg:
		c.polling = false
		c.logger.Debugf("Stopped following the automation")
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			c.err = msg.err
		}
		return c, nil

	case submittedMsg:
		c.submitting = false
		if msg.err != nil {
			c.err = msg.err
			return c, nil
		}
		c.err = nil
		c.notice = fmt.Sprintf("Value submitted for %s", msg.field)
		c.input.Reset()
		return c, nil

	case stoppedMsg:
		if msg.err != nil {
			c.err = msg.err
			return c, nil
		}
		c.notice = "Automation stopped"
		c.poller.Refresh()
		return c, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		c.spinner, cmd = c.spinner.Update(msg)
		return c, cmd
	}

	return c, nil
}

func (c *Console) setState(s poll.State) {
	c.state = s

	var pending *model.InputRequest
	if s.Run != nil && !s.NoRun {
		pending = s.Run.PendingInput
	}

	switch {
	case pending == nil:
		c.inputFor = ""
		c.input.Blur()
	case pending.ID != c.inputFor:
		// A new request, the run may ask for several fields.
		c.inputFor = pending.ID
		c.input.Reset()
		c.input.Placeholder = pending.Field
		c.input.Focus()
	}
}

func (c *Console) pendingInput() *model.InputRequest {
	if c.inputFor == "" || c.state.Run == nil || c.state.Run.PendingInput == nil {
		return nil
	}
	return c.state.Run.PendingInput
}

func (c *Console) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return c.quit()
	}

	if req := c.pendingInput(); req != nil {
		switch msg.Type {
		case tea.KeyEsc:
			return c.quit()
		case tea.KeyCtrlX:
			return c, c.stop
		case tea.KeyEnter:
			if c.submitting {
				return c, nil
			}
			c.submitting = true
			c.notice = ""
			return c, c.submit(*req, c.input.Value())
		}

		var cmd tea.Cmd
		c.input, cmd = c.input.Update(msg)
		return c, cmd
	}

	switch msg.String() {
	case "q", "esc":
		return c.quit()

	case "r":
		c.err = nil
		if !c.polling {
			c.polling = true
			return c, c.runPoller
		}
		c.poller.Refresh()

	case "x":
		if c.state.Run != nil && !c.state.NoRun {
			return c, c.stop
		}
	}

	return c, nil
}

func (c *Console) quit() (tea.Model, tea.Cmd) {
	c.cancel()
	return c, tea.Quit
}

func (c *Console) submit(req model.InputRequest, value string) tea.Cmd {
	return func() tea.Msg {
		_, err := c.submitter.Submit(c.ctx, req, value)
		return submittedMsg{field: req.Field, err: err}
	}
}

func (c *Console) stop() tea.Msg {
	return stoppedMsg{err: c.client.Stop(c.ctx)}
}

func (c *Console) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("formbot"))
	b.WriteString("\n\n")

	run := c.state.Run
	switch {
	case run == nil && c.state.NoRun:
		b.WriteString(dimStyle.Render("No automation running."))
		b.WriteString("\n")
	case run == nil:
		b.WriteString(c.spinner.View() + " Waiting for the automation status...\n")
	default:
		c.viewRun(&b, run)
	}

	if req := c.pendingInput(); req != nil {
		b.WriteString("\n")
		b.WriteString(promptStyle.Render(req.Prompt))
		b.WriteString("\n")
		b.WriteString(c.input.View())
		b.WriteString("\n")
	}

	if c.notice != "" {
		b.WriteString("\n" + noticeStyle.Render(c.notice) + "\n")
	}
	if c.err != nil {
		b.WriteString("\n" + errorStyle.Render("Error: "+c.err.Error()) + "\n")
	}
	if c.state.LastError != nil {
		b.WriteString("\n" + dimStyle.Render("Status unavailable, retrying: "+c.state.LastError.Error()) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render(c.help()))

	return b.String()
}

func (c *Console) viewRun(b *strings.Builder, run *model.AutomationRun) {
	status := formatStatus(run.Status)
	if !run.Status.IsTerminal() && !c.state.NoRun {
		status = c.spinner.View() + " " + status
	}
	if c.state.NoRun {
		status += dimStyle.Render(" (no longer running)")
	}

	fmt.Fprintf(b, "%s %s\n", labelStyle.Render("Run:   "), run.ID)
	fmt.Fprintf(b, "%s %s\n", labelStyle.Render("Status:"), status)
	if run.StreamingURL != "" {
		fmt.Fprintf(b, "%s %s\n", labelStyle.Render("Live:  "), run.StreamingURL)
	}
	if run.Error != "" {
		fmt.Fprintf(b, "%s %s\n", labelStyle.Render("Error: "), errorStyle.Render(run.Error))
	}

	if len(run.Log) > 0 {
		b.WriteString("\n")
		for _, l := range run.Log {
			fmt.Fprintf(b, "%s %s\n", dimStyle.Render(l.Timestamp.Local().Format("15:04:05")), formatLogMessage(l))
		}
	}
}

func (c *Console) help() string {
	if c.pendingInput() != nil {
		return "enter: submit • ctrl+x: stop automation • esc: quit"
	}

	h := "r: refresh • x: stop automation • q: quit"
	if !c.polling {
		h = "r: follow again • q: quit"
	}
	return h
}
