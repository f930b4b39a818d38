package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/slok/formbot/internal/extract"
	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
	"github.com/slok/formbot/internal/storage"
)

// ServiceConfig is the configuration for the upload service.
type ServiceConfig struct {
	Credentials storage.CredentialsRepository
	Emails      storage.EmailRepository
	Extractor   extract.Extractor
	// UploadDir is where the uploaded documents are stored.
	UploadDir string
	Logger    log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Credentials == nil {
		return fmt.Errorf("credentials repository is required")
	}

	if c.Emails == nil {
		return fmt.Errorf("email repository is required")
	}

	if c.Extractor == nil {
		return fmt.Errorf("extractor is required")
	}

	if c.UploadDir == "" {
		return fmt.Errorf("upload dir is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Upload"})

	return nil
}

// Service stores an uploaded email document with the destination credentials and
// extracts its content for the automation.
type Service struct {
	creds     storage.CredentialsRepository
	emails    storage.EmailRepository
	extractor extract.Extractor
	uploadDir string
	logger    log.Logger
}

// NewService creates a new upload service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		creds:     cfg.Credentials,
		emails:    cfg.Emails,
		extractor: cfg.Extractor,
		uploadDir: cfg.UploadDir,
		logger:    cfg.Logger,
	}, nil
}

// Request represents the upload request parameters.
type Request struct {
	Filename       string
	Content        io.Reader
	DestinationURL string
	Username       string
	Password       string
}

func (r Request) validate() error {
	name := filepath.Base(r.Filename)
	if r.Filename == "" || name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("filename is required")
	}

	if r.Content == nil {
		return fmt.Errorf("content is required")
	}

	u, err := url.Parse(r.DestinationURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("destination url must be an absolute http(s) URL, got: %q", r.DestinationURL)
	}

	if strings.TrimSpace(r.Username) == "" {
		return fmt.Errorf("username is required")
	}

	if r.Password == "" {
		return fmt.Errorf("password is required")
	}

	return nil
}

// Run stores the document and the credentials, then extracts the email content.
// An extraction failure does not fail the upload, it's reported on the result so
// the automation can still be started without pre-filled content.
func (s *Service) Run(ctx context.Context, req Request) (*model.UploadResult, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w: %w", model.ErrNotValid, err)
	}

	filename := filepath.Base(req.Filename)
	path, size, err := s.save(filename, req.Content)
	if err != nil {
		return nil, err
	}
	s.logger.Infof("Uploaded document stored at %s", path)

	err = s.creds.SaveCredentials(ctx, model.Credentials{
		DestinationURL: req.DestinationURL,
		Username:       req.Username,
		Password:       req.Password,
		ArtifactPath:   path,
	})
	if err != nil {
		return nil, fmt.Errorf("could not save credentials: %w", err)
	}

	res := &model.UploadResult{
		Filename:         filename,
		SavedTo:          path,
		Size:             size,
		CredentialsSaved: true,
	}

	email, err := s.extract(ctx, path)
	if err != nil {
		if !errors.Is(err, model.ErrExtraction) {
			return nil, err
		}
		s.logger.Warningf("Could not extract email content from %s: %s", filename, err)
		res.ExtractionError = err.Error()
		return res, nil
	}

	if err := s.emails.SaveEmailContent(ctx, *email); err != nil {
		return nil, fmt.Errorf("could not save email content: %w", err)
	}
	res.Email = email

	return res, nil
}

func (s *Service) save(filename string, content io.Reader) (path string, size int64, err error) {
	if err := os.MkdirAll(s.uploadDir, 0700); err != nil {
		return "", 0, fmt.Errorf("could not create upload dir: %w", err)
	}

	path = filepath.Join(s.uploadDir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return "", 0, fmt.Errorf("could not create upload file: %w", err)
	}

	size, err = io.Copy(f, content)
	if err != nil {
		f.Close()
		return "", 0, fmt.Errorf("could not write upload file: %w", err)
	}

	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("could not close upload file: %w", err)
	}

	return path, size, nil
}

func (s *Service) extract(ctx context.Context, path string) (*model.EmailContent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open uploaded document: %w", err)
	}
	defer f.Close()

	return s.extractor.Extract(ctx, f)
}
