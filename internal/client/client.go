package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/slok/formbot/internal/api"
	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
)

// ClientConfig is the configuration of the API client.
type ClientConfig struct {
	// URL is the base URL of the formbot API.
	URL        string
	HTTPClient *http.Client
	Logger     log.Logger
}

func (c *ClientConfig) defaults() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url must be absolute, got: %q", c.URL)
	}

	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "client.Client"})

	return nil
}

// Client talks with the formbot API. API error codes are returned as the model
// sentinel errors so callers can use errors.Is.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  log.Logger
}

// NewClient returns a new API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("could not parse url: %w", err)
	}

	return &Client{
		baseURL: u,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}, nil
}

// UploadRequest is an email document upload.
type UploadRequest struct {
	Filename       string
	Content        io.Reader
	DestinationURL string
	Username       string
	Password       string
}

// Upload uploads the email document and the credentials. A failed extraction is not
// an error, it's reported on the result ExtractionError.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*model.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := io.Copy(fw, req.Content); err != nil {
		return nil, fmt.Errorf("could not read document: %w", err)
	}

	fields := [][2]string{
		{"destination_url", req.DestinationURL},
		{"username", req.Username},
		{"password", req.Password},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("could not write form field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("could not close multipart form: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/upload", nil, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response: %w", err)
	}

	// Extraction failures are reported with an upload body instead of an error body.
	var up api.UploadResponse
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusInternalServerError {
		if err := json.Unmarshal(body, &up); err == nil && up.CredentialsSaved {
			res := api.MapUploadToModel(up)
			return &res, nil
		}
	}

	return nil, decodeError(resp.StatusCode, body)
}

// EmailContent returns the latest extracted email content.
func (c *Client) EmailContent(ctx context.Context) (*model.EmailContent, error) {
	var resp api.EmailContentResponse
	if err := c.doJSON(ctx, http.MethodGet, "/email-content", nil, nil, &resp); err != nil {
		return nil, err
	}

	e := api.MapEmailToModel(resp)
	return &e, nil
}

// Start starts an automation run.
func (c *Client) Start(ctx context.Context) (*model.AutomationRun, error) {
	return c.run(ctx, http.MethodPost, "/start-automation", nil, nil)
}

// Status returns the current run snapshot with the last tail log entries, a zero
// tail uses the server default. Returns model.ErrNotRunning if there is no run.
func (c *Client) Status(ctx context.Context, tail int) (*model.AutomationRun, error) {
	var q url.Values
	if tail > 0 {
		q = url.Values{"tail": []string{strconv.Itoa(tail)}}
	}
	return c.run(ctx, http.MethodGet, "/automation-status", q, nil)
}

// ProvideInput submits a value for the pending input request.
func (c *Client) ProvideInput(ctx context.Context, sub model.InputSubmission) (*model.AutomationRun, error) {
	return c.run(ctx, http.MethodPost, "/provide-input", nil, api.ProvideInputRequest{
		InputValue: sub.Value,
		RequestID:  sub.RequestID,
		Field:      sub.Field,
	})
}

// Stop stops the current run.
func (c *Client) Stop(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/stop-automation", nil, nil, nil)
}

// History returns the archived runs, newest first.
func (c *Client) History(ctx context.Context) ([]model.RunRecord, error) {
	var resp api.HistoryResponse
	if err := c.doJSON(ctx, http.MethodGet, "/history", nil, nil, &resp); err != nil {
		return nil, err
	}

	recs := make([]model.RunRecord, 0, len(resp.Runs))
	for _, r := range resp.Runs {
		recs = append(recs, api.MapRunRecordToModel(r))
	}
	return recs, nil
}

// HistoryRecord returns a single archived run.
func (c *Client) HistoryRecord(ctx context.Context, runID string) (*model.RunRecord, error) {
	var resp api.RunRecordResponse
	if err := c.doJSON(ctx, http.MethodGet, "/history/"+url.PathEscape(runID), nil, nil, &resp); err != nil {
		return nil, err
	}

	rec := api.MapRunRecordToModel(resp)
	return &rec, nil
}

// Health checks the API is up.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) run(ctx context.Context, method, path string, q url.Values, in any) (*model.AutomationRun, error) {
	var resp api.RunResponse
	if err := c.doJSON(ctx, method, path, q, in, &resp); err != nil {
		return nil, err
	}

	run := api.MapRunToModel(resp)
	return &run, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("could not marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL.JoinPath(path)
	if q != nil {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debugf("%s %s", method, u.String())

	return req, nil
}

// APIError is an error returned by the API. It unwraps to the model sentinel error
// of its code, if any.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return api.ErrorFromCode(e.Code)
}

func decodeError(status int, body []byte) error {
	var er api.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Code == "" {
		return fmt.Errorf("unexpected API response status %d: %s", status, bytes.TrimSpace(body))
	}

	return &APIError{StatusCode: status, Code: er.Code, Message: er.Error}
}
