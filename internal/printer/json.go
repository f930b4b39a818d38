package printer

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/slok/formbot/internal/model"
)

// JSONPrinter prints automation information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

var _ Printer = &JSONPrinter{}

type logEntryOutput struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

type inputRequestOutput struct {
	ID     string `json:"id"`
	Field  string `json:"field"`
	Prompt string `json:"prompt"`
}

type runOutput struct {
	ID              string              `json:"id"`
	Status          string              `json:"status"`
	StreamingURL    string              `json:"streaming_url,omitempty"`
	Error           string              `json:"error,omitempty"`
	PendingInput    *inputRequestOutput `json:"pending_input,omitempty"`
	CollectedFields []string            `json:"collected_fields,omitempty"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	EndedAt         *time.Time          `json:"ended_at,omitempty"`
	Log             []logEntryOutput    `json:"log"`
}

type runRecordOutput struct {
	Run        runOutput `json:"run"`
	Stopped    bool      `json:"stopped"`
	ArchivedAt time.Time `json:"archived_at"`
}

// historyItem is the subset of fields of a run on the history list.
type historyItem struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	Stopped   bool       `json:"stopped"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

type emailOutput struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type uploadOutput struct {
	Filename         string       `json:"filename"`
	SavedTo          string       `json:"saved_to"`
	SizeBytes        int64        `json:"size_bytes"`
	CredentialsSaved bool         `json:"credentials_saved"`
	Email            *emailOutput `json:"email_content,omitempty"`
	ExtractionError  string       `json:"extraction_error,omitempty"`
}

type messageOutput struct {
	Message string `json:"message"`
}

// PrintRun prints the run in JSON format.
func (j *JSONPrinter) PrintRun(run model.AutomationRun) error {
	return j.encode(mapRunOutput(run))
}

// PrintUpload prints the upload result in JSON format.
func (j *JSONPrinter) PrintUpload(res model.UploadResult) error {
	out := uploadOutput{
		Filename:         res.Filename,
		SavedTo:          res.SavedTo,
		SizeBytes:        res.Size,
		CredentialsSaved: res.CredentialsSaved,
		ExtractionError:  res.ExtractionError,
	}
	if res.Email != nil {
		out.Email = &emailOutput{Subject: res.Email.Subject, Body: res.Email.Body}
	}

	return j.encode(out)
}

// PrintEmail prints the email content in JSON format.
func (j *JSONPrinter) PrintEmail(e model.EmailContent) error {
	return j.encode(emailOutput{Subject: e.Subject, Body: e.Body})
}

// PrintHistory prints the archived runs in JSON format with a subset of fields.
func (j *JSONPrinter) PrintHistory(recs []model.RunRecord) error {
	items := make([]historyItem, len(recs))
	for i, r := range recs {
		items[i] = historyItem{
			ID:        r.Run.ID,
			Status:    string(r.Run.Status),
			Error:     r.Run.Error,
			Stopped:   r.Stopped,
			StartedAt: r.Run.StartedAt.UTC(),
			EndedAt:   utcPtr(r.Run.EndedAt),
		}
	}

	return j.encode(items)
}

// PrintRunRecord prints an archived run in JSON format.
func (j *JSONPrinter) PrintRunRecord(rec model.RunRecord) error {
	return j.encode(runRecordOutput{
		Run:        mapRunOutput(rec.Run),
		Stopped:    rec.Stopped,
		ArchivedAt: rec.ArchivedAt.UTC(),
	})
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mapRunOutput(run model.AutomationRun) runOutput {
	out := runOutput{
		ID:           run.ID,
		Status:       string(run.Status),
		StreamingURL: run.StreamingURL,
		Error:        run.Error,
		EndedAt:      utcPtr(run.EndedAt),
		Log:          make([]logEntryOutput, len(run.Log)),
	}

	if !run.StartedAt.IsZero() {
		out.StartedAt = utcPtr(&run.StartedAt)
	}

	if run.PendingInput != nil {
		out.PendingInput = &inputRequestOutput{
			ID:     run.PendingInput.ID,
			Field:  run.PendingInput.Field,
			Prompt: run.PendingInput.Prompt,
		}
	}

	for f := range run.CollectedInputs {
		out.CollectedFields = append(out.CollectedFields, f)
	}
	sort.Strings(out.CollectedFields)

	for i, l := range run.Log {
		out.Log[i] = logEntryOutput{
			Timestamp: l.Timestamp.UTC(),
			Level:     string(l.Level),
			Message:   l.Message,
		}
	}

	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
