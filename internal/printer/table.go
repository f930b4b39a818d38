package printer

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/slok/formbot/internal/model"
)

// TablePrinter prints automation information in a human readable format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

var _ Printer = &TablePrinter{}

// PrintRun prints the run status and its log.
func (t *TablePrinter) PrintRun(run model.AutomationRun) error {
	fmt.Fprintf(t.writer, "ID:         %s\n", run.ID)
	fmt.Fprintf(t.writer, "Status:     %s\n", run.Status)

	if run.StreamingURL != "" {
		fmt.Fprintf(t.writer, "Live view:  %s\n", run.StreamingURL)
	}

	if run.Error != "" {
		fmt.Fprintf(t.writer, "Error:      %s\n", run.Error)
	}

	if !run.StartedAt.IsZero() {
		fmt.Fprintf(t.writer, "Started:    %s\n", FormatTimestamp(run.StartedAt))
	}

	if run.EndedAt != nil {
		fmt.Fprintf(t.writer, "Ended:      %s (%s)\n", FormatTimestamp(*run.EndedAt), FormatDuration(run.StartedAt, run.EndedAt))
	}

	if len(run.CollectedInputs) > 0 {
		fields := make([]string, 0, len(run.CollectedInputs))
		for f := range run.CollectedInputs {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		fmt.Fprintf(t.writer, "Provided:   %s\n", strings.Join(fields, ", "))
	}

	if run.PendingInput != nil {
		fmt.Fprintf(t.writer, "\nInput required (request %s):\n", run.PendingInput.ID)
		for _, l := range strings.Split(run.PendingInput.Prompt, "\n") {
			fmt.Fprintf(t.writer, "  %s\n", l)
		}
	}

	if len(run.Log) == 0 {
		return nil
	}

	fmt.Fprintln(t.writer)
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "TIME\tLEVEL\tMESSAGE")
	for _, l := range run.Log {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Timestamp.UTC().Format("15:04:05"), l.Level, l.Message)
	}

	return nil
}

// PrintUpload prints the upload result.
func (t *TablePrinter) PrintUpload(res model.UploadResult) error {
	fmt.Fprintf(t.writer, "File:        %s (%s)\n", res.Filename, FormatBytes(res.Size))
	fmt.Fprintf(t.writer, "Saved to:    %s\n", res.SavedTo)
	fmt.Fprintf(t.writer, "Credentials: %s\n", yesNo(res.CredentialsSaved))

	if res.ExtractionError != "" {
		fmt.Fprintf(t.writer, "Extraction:  failed (%s)\n", res.ExtractionError)
		return nil
	}

	if res.Email != nil {
		fmt.Fprintln(t.writer)
		return t.PrintEmail(*res.Email)
	}

	return nil
}

// PrintEmail prints the extracted email content.
func (t *TablePrinter) PrintEmail(e model.EmailContent) error {
	fmt.Fprintf(t.writer, "Subject: %s\n", e.Subject)
	fmt.Fprintf(t.writer, "Body (%s):\n", FormatBytes(int64(len(e.Body))))
	fmt.Fprintln(t.writer, e.Body)
	return nil
}

// PrintHistory prints the archived runs in a table format.
func (t *TablePrinter) PrintHistory(recs []model.RunRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tSTATUS\tSTOPPED\tDURATION\tSTARTED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Run.ID,
			r.Run.Status,
			yesNo(r.Stopped),
			FormatDuration(r.Run.StartedAt, r.Run.EndedAt),
			TimeAgo(r.Run.StartedAt),
		)
	}

	return nil
}

// PrintRunRecord prints an archived run.
func (t *TablePrinter) PrintRunRecord(rec model.RunRecord) error {
	fmt.Fprintf(t.writer, "Archived:   %s\n", FormatTimestamp(rec.ArchivedAt))
	fmt.Fprintf(t.writer, "Stopped:    %s\n", yesNo(rec.Stopped))
	return t.PrintRun(rec.Run)
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
