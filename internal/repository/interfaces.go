package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/jae464/vibe-judge/internal/domain"
)

// JudgeRepository persists asynchronous submissions and their verdicts.
// Implementations must be safe for concurrent use.
type JudgeRepository interface {
	// Create registers a PENDING submission. Registering an existing id is a no-op.
	Create(ctx context.Context, sub *domain.Submission) error

	// GetByID returns the stored record or domain.ErrSubmissionNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SubmissionRecord, error)

	// UpdateStatus atomically updates the status of a submission.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JudgeStatus) error

	// SaveResult stores the final verdict together with its human readable summary.
	SaveResult(ctx context.Context, result *domain.JudgeResult, message string) error
}

// IdempotencyStore defines the interface for distributed deduplication locks.
type IdempotencyStore interface {
	// AcquireLock attempts to acquire an exclusive processing lock for a submission.
	// Returns true if the lock was acquired (first time), false if already locked (duplicate).
	AcquireLock(ctx context.Context, id uuid.UUID) (bool, error)

	// ReleaseLock releases the processing lock with a TTL for eventual cleanup.
	ReleaseLock(ctx context.Context, id uuid.UUID) error
}
