package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

// StartCommand starts an automation run with the uploaded data.
type StartCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewStartCommand returns the start command.
func NewStartCommand(rootCmd *RootCommand, app *kingpin.Application) *StartCommand {
	c := &StartCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("start", "Start the form filling automation.")
	addFormatFlag(c.Cmd, &c.format)

	return c
}

func (c StartCommand) Name() string { return c.Cmd.FullCommand() }

func (c StartCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cli, err := c.rootCmd.newClient()
	if err != nil {
		return err
	}

	run, err := cli.Start(ctx)
	if err != nil {
		return fmt.Errorf("could not start automation: %w", err)
	}
	logger.Infof("Automation %s started, follow it with `formbot watch`", run.ID)

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintRun(*run); err != nil {
		return fmt.Errorf("could not print run: %w", err)
	}

	return nil
}
