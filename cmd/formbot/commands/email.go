package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

// EmailCommand shows the latest extracted email content.
type EmailCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewEmailCommand returns the email command.
func NewEmailCommand(rootCmd *RootCommand, app *kingpin.Application) *EmailCommand {
	c := &EmailCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("email", "Show the email content extracted from the last upload.")
	addFormatFlag(c.Cmd, &c.format)

	return c
}

func (c EmailCommand) Name() string { return c.Cmd.FullCommand() }

func (c EmailCommand) Run(ctx context.Context) error {
	cli, err := c.rootCmd.newClient()
	if err != nil {
		return err
	}

	e, err := cli.EmailContent(ctx)
	if err != nil {
		return fmt.Errorf("could not get email content: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintEmail(*e); err != nil {
		return fmt.Errorf("could not print email: %w", err)
	}

	return nil
}
