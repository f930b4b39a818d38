package model

import "time"

// EmailContent is the content extracted from an uploaded email document.
type EmailContent struct {
	Subject string
	Body    string
}

// Credentials are the data required by the automation to log in the destination.
type Credentials struct {
	DestinationURL string
	Username       string
	Password       string
	// ArtifactPath is where the uploaded document was stored.
	ArtifactPath string
	UpdatedAt    time.Time
}

// StartContext is everything the automation engine receives to perform a run.
type StartContext struct {
	Credentials Credentials
	// Email is nil when extraction failed or nothing was uploaded.
	Email *EmailContent
}

// UploadResult is the outcome of an upload.
type UploadResult struct {
	Filename         string
	SavedTo          string
	Size             int64
	CredentialsSaved bool
	Email            *EmailContent
	// ExtractionError is set when the content could not be extracted, the upload
	// itself is still valid.
	ExtractionError string
}

// RunRecord is an archived run.
type RunRecord struct {
	Run        AutomationRun
	Stopped    bool
	ArchivedAt time.Time
}
