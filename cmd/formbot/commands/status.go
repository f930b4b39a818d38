package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type StatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	tail   int
	format string
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("status", "Get the status of the current automation run.")
	c.Cmd.Flag("tail", "Number of log entries to show (0 uses the server default).").Default("0").IntVar(&c.tail)
	addFormatFlag(c.Cmd, &c.format)

	return c
}

func (c StatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c StatusCommand) Run(ctx context.Context) error {
	if c.tail < 0 {
		return fmt.Errorf("tail can't be negative")
	}

	cli, err := c.rootCmd.newClient()
	if err != nil {
		return err
	}

	run, err := cli.Status(ctx, c.tail)
	if err != nil {
		return fmt.Errorf("could not get automation status: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintRun(*run); err != nil {
		return fmt.Errorf("could not print status: %w", err)
	}

	return nil
}
