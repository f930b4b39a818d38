package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

// HistoryCommand lists the archived runs or shows one of them.
type HistoryCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	runID  string
	format string
}

// NewHistoryCommand returns the history command.
func NewHistoryCommand(rootCmd *RootCommand, app *kingpin.Application) *HistoryCommand {
	c := &HistoryCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("history", "List the finished automation runs.")
	c.Cmd.Arg("run-id", "Show the full details of an archived run.").StringVar(&c.runID)
	addFormatFlag(c.Cmd, &c.format)

	return c
}

func (c HistoryCommand) Name() string { return c.Cmd.FullCommand() }

func (c HistoryCommand) Run(ctx context.Context) error {
	cli, err := c.rootCmd.newClient()
	if err != nil {
		return err
	}

	p := newPrinter(c.format, c.rootCmd.Stdout)

	if c.runID != "" {
		rec, err := cli.HistoryRecord(ctx, c.runID)
		if err != nil {
			return fmt.Errorf("could not get run %s: %w", c.runID, err)
		}
		if err := p.PrintRunRecord(*rec); err != nil {
			return fmt.Errorf("could not print run: %w", err)
		}
		return nil
	}

	recs, err := cli.History(ctx)
	if err != nil {
		return fmt.Errorf("could not list runs: %w", err)
	}

	if err := p.PrintHistory(recs); err != nil {
		return fmt.Errorf("could not print history: %w", err)
	}

	return nil
}
