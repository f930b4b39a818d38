package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource or a request is not valid.
	ErrNotValid = errors.New("not valid")

	// ErrAlreadyRunning is returned when a run is requested while another one is active.
	ErrAlreadyRunning = errors.New("automation already running")
	// ErrNotRunning is returned when an operation needs a run and there is none.
	ErrNotRunning = errors.New("no automation running")
	// ErrNoPendingInput is returned when input is submitted and the run is not waiting for it.
	ErrNoPendingInput = errors.New("automation is not waiting for input")
	// ErrStaleInput is returned when input is submitted for a request that no longer exists.
	ErrStaleInput = errors.New("input request is stale")
	// ErrExtraction is returned when the uploaded document content could not be extracted.
	ErrExtraction = errors.New("content extraction failed")
	// ErrEngineFailure is returned when the automation engine reports an unrecoverable condition.
	ErrEngineFailure = errors.New("automation engine failure")
	// ErrInputTimeout is returned when a human input request is not resolved in time.
	ErrInputTimeout = errors.New("human input timeout")
)
