package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

type StopCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewStopCommand returns the stop command.
func NewStopCommand(rootCmd *RootCommand, app *kingpin.Application) *StopCommand {
	c := &StopCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("stop", "Stop the current automation run.")

	return c
}

func (c StopCommand) Name() string { return c.Cmd.FullCommand() }

func (c StopCommand) Run(ctx context.Context) error {
	cli, err := c.rootCmd.newClient()
	if err != nil {
		return err
	}

	if err := cli.Stop(ctx); err != nil {
		return fmt.Errorf("could not stop automation: %w", err)
	}

	if err := newPrinter(formatTable, c.rootCmd.Stdout).PrintMessage("Automation stopped"); err != nil {
		return fmt.Errorf("could not print message: %w", err)
	}

	return nil
}
