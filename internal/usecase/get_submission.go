package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/repository"
)

// GetSubmissionUsecase handles fetching submission status and verdicts.
type GetSubmissionUsecase struct {
	repo   repository.JudgeRepository
	logger *zap.Logger
}

// NewGetSubmissionUsecase creates a new GetSubmissionUsecase.
func NewGetSubmissionUsecase(repo repository.JudgeRepository, logger *zap.Logger) *GetSubmissionUsecase {
	return &GetSubmissionUsecase{
		repo:   repo,
		logger: logger,
	}
}

// Execute retrieves a submission record by its ID.
func (uc *GetSubmissionUsecase) Execute(ctx context.Context, id uuid.UUID) (*domain.SubmissionRecord, error) {
	rec, err := uc.repo.GetByID(ctx, id)
	if errors.Is(err, domain.ErrSubmissionNotFound) {
		uc.logger.Debug("Submission not found", zap.String("submission_id", id.String()))
		return nil, domain.ErrSubmissionNotFound
	}
	if err != nil {
		uc.logger.Error("Failed to load submission", zap.String("submission_id", id.String()), zap.Error(err))
		return nil, err
	}
	return rec, nil
}
