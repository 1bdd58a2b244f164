package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/judge"
	"github.com/jae464/vibe-judge/internal/repository"
)

// Judger produces a verdict for a submission. It never fails; problems are
// reported as SYSTEM_ERROR results.
type Judger interface {
	Judge(ctx context.Context, sub *domain.Submission) *domain.JudgeResult
}

// JudgeSubmissionUsecase orchestrates the worker side of an asynchronous submission.
type JudgeSubmissionUsecase struct {
	repo       repository.JudgeRepository
	idempotent repository.IdempotencyStore
	judger     Judger
	logger     *zap.Logger
}

// NewJudgeSubmissionUsecase creates a new JudgeSubmissionUsecase.
func NewJudgeSubmissionUsecase(
	repo repository.JudgeRepository,
	idempotent repository.IdempotencyStore,
	judger Judger,
	logger *zap.Logger,
) *JudgeSubmissionUsecase {
	return &JudgeSubmissionUsecase{
		repo:       repo,
		idempotent: idempotent,
		judger:     judger,
		logger:     logger,
	}
}

// Execute processes a single submission: idempotency check, RUNNING status,
// judge, store result. Returns (isDuplicate, error).
func (uc *JudgeSubmissionUsecase) Execute(ctx context.Context, sub *domain.Submission) (bool, error) {
	id := sub.ID.String()

	acquired, err := uc.idempotent.AcquireLock(ctx, sub.ID)
	if err != nil {
		uc.logger.Error("Failed to acquire idempotency lock", zap.Error(err), zap.String("submission_id", id))
		return false, err
	}
	if !acquired {
		uc.logger.Info("Duplicate message detected, skipping", zap.String("submission_id", id))
		return true, nil
	}

	// Submissions published by other producers may not be registered yet.
	if err := uc.repo.Create(ctx, sub); err != nil {
		uc.logger.Error("Failed to register submission", zap.Error(err), zap.String("submission_id", id))
		return false, err
	}
	if err := uc.repo.UpdateStatus(ctx, sub.ID, domain.StatusRunning); err != nil {
		uc.logger.Error("Failed to update submission status", zap.Error(err), zap.String("submission_id", id))
		return false, err
	}

	result := uc.judger.Judge(ctx, sub)

	if err := uc.repo.SaveResult(ctx, result, judge.FormatMessage(result)); err != nil {
		uc.logger.Error("Failed to store result", zap.Error(err), zap.String("submission_id", id))
		return false, err
	}

	_ = uc.idempotent.ReleaseLock(ctx, sub.ID)

	uc.logger.Info("Submission judged",
		zap.String("submission_id", id),
		zap.String("language", result.Language),
		zap.String("status", string(result.Status)),
		zap.Int("passed", result.PassedTestCases),
		zap.Int("total", result.TotalTestCases),
		zap.Int64("time_ms", result.TotalExecutionTimeMs),
	)

	return false, nil
}
