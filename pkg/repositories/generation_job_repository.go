package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loci-ai/loci-engine/pkg/apperrors"
	"github.com/loci-ai/loci-engine/pkg/models"
)

// GenerationJobRepository provides data access for generation jobs.
type GenerationJobRepository interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	GetByID(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error)
	Update(ctx context.Context, job *models.GenerationJob) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error)
	ListUnfinished(ctx context.Context) ([]*models.GenerationJob, error)
}

type generationJobRepository struct {
	db Querier
}

// NewGenerationJobRepository creates a new GenerationJobRepository.
func NewGenerationJobRepository(db Querier) GenerationJobRepository {
	return &generationJobRepository{db: db}
}

var _ GenerationJobRepository = (*generationJobRepository)(nil)

const generationJobColumns = `
	id, user_id, prompt, status, phase, phrasing_generated, phrasing_saved,
	estimated_total, concept_ids, pending_concept_ids,
	COALESCE(error_message, ''), COALESCE(error_code, ''), retryable,
	created_at, started_at, completed_at`

func (r *generationJobRepository) Create(ctx context.Context, job *models.GenerationJob) error {
	query := `
		INSERT INTO generation_jobs (user_id, prompt, status, phase)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		job.UserID,
		job.Prompt,
		string(job.Status),
		string(job.Phase),
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create generation job: %w", err)
	}

	return nil
}

func (r *generationJobRepository) GetByID(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	query := `SELECT ` + generationJobColumns + ` FROM generation_jobs WHERE id = $1`

	job, err := scanGenerationJob(r.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get generation job: %w", err)
	}

	return job, nil
}

func (r *generationJobRepository) Update(ctx context.Context, job *models.GenerationJob) error {
	query := `
		UPDATE generation_jobs
		SET status = $2, phase = $3, phrasing_generated = $4, phrasing_saved = $5,
		    estimated_total = $6, concept_ids = $7, pending_concept_ids = $8,
		    error_message = $9, error_code = $10, retryable = $11,
		    started_at = $12, completed_at = $13
		WHERE id = $1`

	conceptIDs := job.ConceptIDs
	if conceptIDs == nil {
		conceptIDs = []uuid.UUID{}
	}
	pendingIDs := job.PendingConceptIDs
	if pendingIDs == nil {
		pendingIDs = []uuid.UUID{}
	}

	tag, err := r.db.Exec(ctx, query,
		job.ID,
		string(job.Status),
		string(job.Phase),
		job.PhrasingGenerated,
		job.PhrasingSaved,
		job.EstimatedTotal,
		conceptIDs,
		pendingIDs,
		nullString(job.ErrorMessage),
		nullString(job.ErrorCode),
		job.Retryable,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update generation job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *generationJobRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error) {
	query := `
		SELECT ` + generationJobColumns + `
		FROM generation_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list generation jobs: %w", err)
	}
	defer rows.Close()

	return collectGenerationJobs(rows)
}

// ListUnfinished returns every job left pending or processing, ordered
// oldest first. Used by startup recovery to fail over interrupted jobs.
func (r *generationJobRepository) ListUnfinished(ctx context.Context) ([]*models.GenerationJob, error) {
	query := `
		SELECT ` + generationJobColumns + `
		FROM generation_jobs
		WHERE status IN ('pending', 'processing')
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished generation jobs: %w", err)
	}
	defer rows.Close()

	return collectGenerationJobs(rows)
}

func scanGenerationJob(row pgx.Row) (*models.GenerationJob, error) {
	var j models.GenerationJob
	var status, phase string

	err := row.Scan(
		&j.ID, &j.UserID, &j.Prompt, &status, &phase,
		&j.PhrasingGenerated, &j.PhrasingSaved, &j.EstimatedTotal,
		&j.ConceptIDs, &j.PendingConceptIDs,
		&j.ErrorMessage, &j.ErrorCode, &j.Retryable,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = models.JobStatus(status)
	j.Phase = models.JobPhase(phase)
	return &j, nil
}

func collectGenerationJobs(rows pgx.Rows) ([]*models.GenerationJob, error) {
	var jobs []*models.GenerationJob
	for rows.Next() {
		j, err := scanGenerationJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate generation jobs: %w", err)
	}

	return jobs, nil
}
