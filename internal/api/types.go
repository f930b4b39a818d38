package api

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/slok/formbot/internal/model"
)

// Error codes returned on error responses.
const (
	CodeAlreadyRunning = "already_running"
	CodeNotRunning     = "not_running"
	CodeNoPendingInput = "no_pending_input"
	CodeStaleInput     = "stale_input"
	CodeNotValid       = "not_valid"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal"
)

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{model.ErrAlreadyRunning, CodeAlreadyRunning, http.StatusConflict},
	{model.ErrNotRunning, CodeNotRunning, http.StatusNotFound},
	{model.ErrNoPendingInput, CodeNoPendingInput, http.StatusConflict},
	{model.ErrStaleInput, CodeStaleInput, http.StatusConflict},
	{model.ErrNotValid, CodeNotValid, http.StatusBadRequest},
	{model.ErrNotFound, CodeNotFound, http.StatusNotFound},
}

// ErrorFromCode returns the sentinel error of an error code, nil if the code is unknown.
func ErrorFromCode(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}

func codeForError(err error) (status int, code string) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.status, ec.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type EmailContentResponse struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type UploadResponse struct {
	Filename         string                `json:"filename"`
	SavedTo          string                `json:"saved_to"`
	SizeBytes        int64                 `json:"size_bytes"`
	CredentialsSaved bool                  `json:"credentials_saved"`
	EmailContent     *EmailContentResponse `json:"email_content,omitempty"`
	ExtractionError  string                `json:"extraction_error,omitempty"`
}

type LogEntryResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

type InputRequestResponse struct {
	ID          string    `json:"id"`
	Field       string    `json:"field"`
	Prompt      string    `json:"prompt"`
	RequestedAt time.Time `json:"requested_at"`
}

// RunResponse is an automation run snapshot. Collected input values are not exposed,
// only the fields that were resolved.
type RunResponse struct {
	ID              string                `json:"id"`
	Status          string                `json:"status"`
	Logs            []LogEntryResponse    `json:"logs"`
	PendingInput    *InputRequestResponse `json:"pending_input,omitempty"`
	StreamingURL    string                `json:"streaming_url,omitempty"`
	ErrorReason     string                `json:"error_reason,omitempty"`
	CollectedFields []string              `json:"collected_fields,omitempty"`
	StartedAt       time.Time             `json:"started_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	EndedAt         *time.Time            `json:"ended_at,omitempty"`
}

type RunRecordResponse struct {
	Run        RunResponse `json:"run"`
	Stopped    bool        `json:"stopped"`
	ArchivedAt time.Time   `json:"archived_at"`
}

type HistoryResponse struct {
	Runs []RunRecordResponse `json:"runs"`
}

// ProvideInputRequest is the body of an input submission. RequestID and Field are
// optional, when set they are used to detect stale submissions.
type ProvideInputRequest struct {
	InputValue string `json:"input_value"`
	RequestID  string `json:"request_id,omitempty"`
	Field      string `json:"field,omitempty"`
}

func mapEmailToAPI(e model.EmailContent) EmailContentResponse {
	return EmailContentResponse{Subject: e.Subject, Body: e.Body}
}

// MapEmailToModel maps an API email content into the model.
func MapEmailToModel(e EmailContentResponse) model.EmailContent {
	return model.EmailContent{Subject: e.Subject, Body: e.Body}
}

func mapUploadToAPI(r model.UploadResult) UploadResponse {
	resp := UploadResponse{
		Filename:         r.Filename,
		SavedTo:          r.SavedTo,
		SizeBytes:        r.Size,
		CredentialsSaved: r.CredentialsSaved,
		ExtractionError:  r.ExtractionError,
	}
	if r.Email != nil {
		e := mapEmailToAPI(*r.Email)
		resp.EmailContent = &e
	}
	return resp
}

// MapUploadToModel maps an API upload response into the model.
func MapUploadToModel(r UploadResponse) model.UploadResult {
	res := model.UploadResult{
		Filename:         r.Filename,
		SavedTo:          r.SavedTo,
		Size:             r.SizeBytes,
		CredentialsSaved: r.CredentialsSaved,
		ExtractionError:  r.ExtractionError,
	}
	if r.EmailContent != nil {
		e := MapEmailToModel(*r.EmailContent)
		res.Email = &e
	}
	return res
}

func mapRunToAPI(r model.AutomationRun) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		Status:       string(r.Status),
		Logs:         make([]LogEntryResponse, 0, len(r.Log)),
		StreamingURL: r.StreamingURL,
		ErrorReason:  r.Error,
		StartedAt:    r.StartedAt,
		UpdatedAt:    r.UpdatedAt,
		EndedAt:      r.EndedAt,
	}

	for _, l := range r.Log {
		resp.Logs = append(resp.Logs, LogEntryResponse{
			Timestamp: l.Timestamp,
			Level:     string(l.Level),
			Message:   l.Message,
		})
	}

	if r.PendingInput != nil {
		resp.PendingInput = &InputRequestResponse{
			ID:          r.PendingInput.ID,
			Field:       r.PendingInput.Field,
			Prompt:      r.PendingInput.Prompt,
			RequestedAt: r.PendingInput.RequestedAt,
		}
	}

	for f := range r.CollectedInputs {
		resp.CollectedFields = append(resp.CollectedFields, f)
	}
	sort.Strings(resp.CollectedFields)

	return resp
}

// MapRunToModel maps an API run snapshot into the model. Collected inputs only
// carry the field names.
func MapRunToModel(r RunResponse) model.AutomationRun {
	run := model.AutomationRun{
		ID:           r.ID,
		Status:       model.RunStatus(r.Status),
		StreamingURL: r.StreamingURL,
		Error:        r.ErrorReason,
		StartedAt:    r.StartedAt,
		UpdatedAt:    r.UpdatedAt,
		EndedAt:      r.EndedAt,
	}

	for _, l := range r.Logs {
		run.Log = append(run.Log, model.LogEntry{
			Timestamp: l.Timestamp,
			Level:     model.LogLevel(l.Level),
			Message:   l.Message,
		})
	}

	if r.PendingInput != nil {
		run.PendingInput = &model.InputRequest{
			ID:          r.PendingInput.ID,
			Field:       r.PendingInput.Field,
			Prompt:      r.PendingInput.Prompt,
			RequestedAt: r.PendingInput.RequestedAt,
		}
	}

	if len(r.CollectedFields) > 0 {
		run.CollectedInputs = make(map[string]string, len(r.CollectedFields))
		for _, f := range r.CollectedFields {
			run.CollectedInputs[f] = ""
		}
	}

	return run
}

func mapRunRecordToAPI(r model.RunRecord) RunRecordResponse {
	return RunRecordResponse{
		Run:        mapRunToAPI(r.Run),
		Stopped:    r.Stopped,
		ArchivedAt: r.ArchivedAt,
	}
}

// MapRunRecordToModel maps an API run record into the model.
func MapRunRecordToModel(r RunRecordResponse) model.RunRecord {
	return model.RunRecord{
		Run:        MapRunToModel(r.Run),
		Stopped:    r.Stopped,
		ArchivedAt: r.ArchivedAt,
	}
}
