package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/language"
	"github.com/jae464/vibe-judge/internal/publisher"
	"github.com/jae464/vibe-judge/internal/repository"
)

// MaxSourceCodeSize bounds accepted source code.
const MaxSourceCodeSize = 1 << 20 // 1 MB

// Resolver maps a language identifier to its profile.
type Resolver interface {
	Resolve(id string) (*language.Profile, error)
}

// NewSubmission validates req and turns it into a Submission with a fresh
// time-ordered id. Limits are passed through; the judge resolves defaults.
func NewSubmission(languages Resolver, req *domain.SubmitRequest) (*domain.Submission, error) {
	profile, err := languages.Resolve(req.Language)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, domain.ErrEmptySourceCode
	}
	if len(req.Code) > MaxSourceCodeSize {
		return nil, domain.ErrPayloadTooLarge
	}
	if len(req.TestCases) == 0 {
		return nil, fmt.Errorf("%w: at least one test case is required", domain.ErrInvalidSubmission)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate UUIDv7: %w", err)
	}
	return &domain.Submission{
		ID:            id,
		Language:      profile.ID,
		Code:          req.Code,
		TimeLimitMs:   req.TimeLimitMs,
		MemoryLimitMB: req.MemoryLimitMB,
		TestCases:     req.TestCases,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// SubmitUsecase queues submissions for the judge workers.
type SubmitUsecase struct {
	languages Resolver
	repo      repository.JudgeRepository
	publisher publisher.Publisher
	logger    *zap.Logger
}

// NewSubmitUsecase creates a new SubmitUsecase.
func NewSubmitUsecase(languages Resolver, repo repository.JudgeRepository, pub publisher.Publisher, logger *zap.Logger) *SubmitUsecase {
	return &SubmitUsecase{
		languages: languages,
		repo:      repo,
		publisher: pub,
		logger:    logger,
	}
}

// Execute validates the request, stores a PENDING record and publishes it.
func (uc *SubmitUsecase) Execute(ctx context.Context, req *domain.SubmitRequest) (*domain.SubmitResponse, error) {
	sub, err := NewSubmission(uc.languages, req)
	if err != nil {
		return nil, err
	}

	if err := uc.repo.Create(ctx, sub); err != nil {
		uc.logger.Error("Failed to create submission in database", zap.Error(err), zap.String("submission_id", sub.ID.String()))
		return nil, fmt.Errorf("create submission: %w", err)
	}

	if err := uc.publisher.Publish(ctx, sub); err != nil {
		uc.logger.Error("Failed to publish submission to queue", zap.Error(err), zap.String("submission_id", sub.ID.String()))
		// Nobody will pick it up, so mark it failed.
		_ = uc.repo.UpdateStatus(ctx, sub.ID, domain.StatusSystemError)
		return nil, domain.ErrPublishFailed
	}

	uc.logger.Info("Submission queued",
		zap.String("submission_id", sub.ID.String()),
		zap.String("language", sub.Language),
		zap.Int("test_cases", len(sub.TestCases)),
	)

	return &domain.SubmitResponse{
		SubmissionID: sub.ID,
		Status:       domain.StatusPending,
	}, nil
}
