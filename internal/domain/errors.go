package domain

import "errors"

var (
	// ErrUnsupportedLanguage is returned when a language identifier has no profile.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrEnvironmentSetup is returned when an isolated environment cannot be prepared.
	ErrEnvironmentSetup = errors.New("environment setup failed")

	// ErrInvalidSubmission is returned when a submission payload is malformed.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrSubmissionNotFound is returned when a stored judge result cannot be found.
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrSessionNotFound is returned when a terminal session id is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionLimitReached is returned when a session cap would be exceeded.
	ErrSessionLimitReached = errors.New("session limit reached")

	// ErrInvalidFilename is returned for paths that escape the session workspace.
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrPublishFailed is returned when the message broker publish fails.
	ErrPublishFailed = errors.New("failed to publish submission to message queue")

	// ErrPayloadTooLarge is returned when the source code exceeds the size limit.
	ErrPayloadTooLarge = errors.New("source code payload exceeds maximum size")
)

// ErrDuplicateSubmission is returned when a submission is already being judged elsewhere.
var ErrDuplicateSubmission = errors.New("submission is already being processed")

// ErrEmptySourceCode is returned when a submission carries no code.
var ErrEmptySourceCode = errors.New("source code cannot be empty")
