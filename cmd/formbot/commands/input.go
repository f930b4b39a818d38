package commands

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/formbot/internal/model"
	"github.com/slok/formbot/internal/poll"
)

// InputCommand answers the pending input request of the current run.
type InputCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	value  string
	format string
}

// NewInputCommand returns the input command.
func NewInputCommand(rootCmd *RootCommand, app *kingpin.Application) *InputCommand {
	c := &InputCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("input", "Provide the value the automation is waiting for.")
	c.Cmd.Flag("value", "Value to submit, when missing it's read from stdin.").Short('v').StringVar(&c.value)
	addFormatFlag(c.Cmd, &c.format)

	return c
}

func (c InputCommand) Name() string { return c.Cmd.FullCommand() }

func (c InputCommand) Run(ctx context.Context) error {
	cli, err := c.rootCmd.newClient()
	if err != nil {
		return err
	}

	run, err := cli.Status(ctx, 1)
	if err != nil {
		return fmt.Errorf("could not get automation status: %w", err)
	}
	if run.PendingInput == nil {
		return fmt.Errorf("automation is %s: %w", run.Status, model.ErrNoPendingInput)
	}
	req := *run.PendingInput

	value := c.value
	if value == "" {
		value, err = c.readValue(req)
		if err != nil {
			return err
		}
	}

	submitter, err := poll.NewSubmitter(poll.SubmitterConfig{
		Client: cli,
		Logger: c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create submitter: %w", err)
	}

	run, err = submitter.Submit(ctx, req, value)
	if err != nil {
		return err
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintRun(*run); err != nil {
		return fmt.Errorf("could not print run: %w", err)
	}

	return nil
}

// readValue shows the prompt on stderr and reads a line from stdin.
func (c InputCommand) readValue(req model.InputRequest) (string, error) {
	fmt.Fprintf(c.rootCmd.Stderr, "%s\n> ", req.Prompt)

	line, err := bufio.NewReader(c.rootCmd.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("could not read value for %s: %w", req.Field, err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}
