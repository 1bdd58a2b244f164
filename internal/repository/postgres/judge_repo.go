package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/repository"
)

// Schema creates the judge_results table. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS judge_results (
	submission_id           UUID PRIMARY KEY,
	language                TEXT NOT NULL,
	status                  TEXT NOT NULL,
	total_test_cases        INTEGER NOT NULL DEFAULT 0,
	passed_test_cases       INTEGER NOT NULL DEFAULT 0,
	total_execution_time_ms BIGINT NOT NULL DEFAULT 0,
	max_memory_used_kb      BIGINT,
	result                  JSONB,
	message                 TEXT NOT NULL DEFAULT '',
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS judge_results_status_idx ON judge_results (status);`

// DB is the subset of *pgxpool.Pool used by the repository.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ repository.JudgeRepository = (*pgJudgeRepo)(nil)

type pgJudgeRepo struct {
	db  DB
	now func() time.Time
}

// NewPostgresJudgeRepository creates a new PostgreSQL-backed judge repository.
func NewPostgresJudgeRepository(db DB) repository.JudgeRepository {
	return &pgJudgeRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (r *pgJudgeRepo) Create(ctx context.Context, sub *domain.Submission) error {
	query := `
		INSERT INTO judge_results (submission_id, language, status, total_test_cases, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (submission_id) DO NOTHING`

	_, err := r.db.Exec(ctx, query, sub.ID, sub.Language, domain.StatusPending, len(sub.TestCases), r.now())
	if err != nil {
		return fmt.Errorf("postgres: create submission: %w", err)
	}
	return nil
}

func (r *pgJudgeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SubmissionRecord, error) {
	query := `
		SELECT submission_id, language, status, result, message, created_at, updated_at
		FROM judge_results
		WHERE submission_id = $1`

	rec := &domain.SubmissionRecord{}
	var raw []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rec.SubmissionID, &rec.Language, &rec.Status, &raw, &rec.Message,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get submission by id: %w", err)
	}

	if len(raw) > 0 {
		var res domain.JudgeResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("postgres: decode result: %w", err)
		}
		rec.Result = &res
	}
	return rec, nil
}

func (r *pgJudgeRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JudgeStatus) error {
	query := `UPDATE judge_results SET status = $1, updated_at = $2 WHERE submission_id = $3`
	tag, err := r.db.Exec(ctx, query, status, r.now(), id)
	if err != nil {
		return fmt.Errorf("postgres: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubmissionNotFound
	}
	return nil
}

func (r *pgJudgeRepo) SaveResult(ctx context.Context, result *domain.JudgeResult, message string) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("postgres: encode result: %w", err)
	}

	query := `
		UPDATE judge_results
		SET status = $1, total_test_cases = $2, passed_test_cases = $3,
		    total_execution_time_ms = $4, max_memory_used_kb = $5,
		    result = $6, message = $7, updated_at = $8
		WHERE submission_id = $9`

	tag, err := r.db.Exec(ctx, query,
		result.Status, result.TotalTestCases, result.PassedTestCases,
		result.TotalExecutionTimeMs, result.MaxMemoryUsedKB,
		raw, message, r.now(), result.SubmissionID,
	)
	if err != nil {
		return fmt.Errorf("postgres: save result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubmissionNotFound
	}
	return nil
}
