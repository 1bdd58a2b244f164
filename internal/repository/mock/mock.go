package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/repository"
)

// ---- JudgeRepository mock ----

var _ repository.JudgeRepository = (*JudgeRepository)(nil)

// JudgeRepository is an in-memory test double for repository.JudgeRepository.
type JudgeRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.SubmissionRecord

	CreateFn       func(ctx context.Context, sub *domain.Submission) error
	GetByIDFn      func(ctx context.Context, id uuid.UUID) (*domain.SubmissionRecord, error)
	UpdateStatusFn func(ctx context.Context, id uuid.UUID, status domain.JudgeStatus) error
	SaveResultFn   func(ctx context.Context, result *domain.JudgeResult, message string) error

	// Recorded calls for assertions.
	Created       []*domain.Submission
	StatusUpdates []StatusUpdate
	Results       []ResultUpdate
}

type StatusUpdate struct {
	ID     uuid.UUID
	Status domain.JudgeStatus
}

type ResultUpdate struct {
	Result  *domain.JudgeResult
	Message string
}

func (m *JudgeRepository) Create(ctx context.Context, sub *domain.Submission) error {
	m.mu.Lock()
	m.Created = append(m.Created, sub)
	m.mu.Unlock()
	if m.CreateFn != nil {
		return m.CreateFn(ctx, sub)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[uuid.UUID]*domain.SubmissionRecord)
	}
	if _, ok := m.records[sub.ID]; !ok {
		now := time.Now().UTC()
		m.records[sub.ID] = &domain.SubmissionRecord{
			SubmissionID: sub.ID,
			Language:     sub.Language,
			Status:       domain.StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	return nil
}

func (m *JudgeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SubmissionRecord, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrSubmissionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *JudgeRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JudgeStatus) error {
	m.mu.Lock()
	m.StatusUpdates = append(m.StatusUpdates, StatusUpdate{ID: id, Status: status})
	if rec, ok := m.records[id]; ok {
		rec.Status = status
		rec.UpdatedAt = time.Now().UTC()
	}
	m.mu.Unlock()
	if m.UpdateStatusFn != nil {
		return m.UpdateStatusFn(ctx, id, status)
	}
	return nil
}

func (m *JudgeRepository) SaveResult(ctx context.Context, result *domain.JudgeResult, message string) error {
	m.mu.Lock()
	m.Results = append(m.Results, ResultUpdate{Result: result, Message: message})
	if rec, ok := m.records[result.SubmissionID]; ok {
		rec.Status = result.Status
		rec.Result = result
		rec.Message = message
		rec.UpdatedAt = time.Now().UTC()
	}
	m.mu.Unlock()
	if m.SaveResultFn != nil {
		return m.SaveResultFn(ctx, result, message)
	}
	return nil
}

// ---- IdempotencyStore mock ----

var _ repository.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore is a test double for repository.IdempotencyStore.
type IdempotencyStore struct {
	mu sync.Mutex

	AcquireLockFn func(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseLockFn func(ctx context.Context, id uuid.UUID) error

	AcquireCalls []uuid.UUID
	ReleaseCalls []uuid.UUID
}

func (m *IdempotencyStore) AcquireLock(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, id)
	m.mu.Unlock()
	if m.AcquireLockFn != nil {
		return m.AcquireLockFn(ctx, id)
	}
	return true, nil // default: lock acquired
}

func (m *IdempotencyStore) ReleaseLock(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, id)
	m.mu.Unlock()
	if m.ReleaseLockFn != nil {
		return m.ReleaseLockFn(ctx, id)
	}
	return nil
}
