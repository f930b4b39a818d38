package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/slok/formbot/internal/tui"
)

// WatchCommand follows the current run on an interactive console.
type WatchCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	interval time.Duration
	logLines int
	inline   bool
}

// NewWatchCommand returns the watch command.
func NewWatchCommand(rootCmd *RootCommand, app *kingpin.Application) *WatchCommand {
	c := &WatchCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("watch", "Follow the automation and answer its input requests.")
	c.Cmd.Flag("interval", "Status poll interval.").Default("2s").DurationVar(&c.interval)
	c.Cmd.Flag("log-lines", "Number of log entries shown.").Default("10").IntVar(&c.logLines)
	c.Cmd.Flag("inline", "Don't use the alternate screen.").BoolVar(&c.inline)

	return c
}

func (c WatchCommand) Name() string { return c.Cmd.FullCommand() }

func (c WatchCommand) Run(ctx context.Context) error {
	cli, err := c.rootCmd.newClient()
	if err != nil {
		return err
	}

	console, err := tui.NewConsole(tui.ConsoleConfig{
		Client:       cli,
		PollInterval: c.interval,
		LogLines:     c.logLines,
		Logger:       c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create console: %w", err)
	}

	opts := []tea.ProgramOption{
		tea.WithContext(ctx),
		tea.WithInput(c.rootCmd.Stdin),
		tea.WithOutput(c.rootCmd.Stdout),
	}
	if !c.inline {
		opts = append(opts, tea.WithAltScreen())
	}

	_, err = tea.NewProgram(console, opts...).Run()
	if err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return fmt.Errorf("console failed: %w", err)
	}

	return nil
}
