package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loci-ai/loci-engine/pkg/apperrors"
	"github.com/loci-ai/loci-engine/pkg/models"
)

// PhrasingRepository provides data access for phrasings. The ListXxxBatch
// methods page by filtering on the lifecycle column the caller is about to
// patch, so repeated fetch/patch rounds never revisit a row.
type PhrasingRepository interface {
	Create(ctx context.Context, phrasing *models.Phrasing) error
	GetByID(ctx context.Context, phrasingID uuid.UUID) (*models.Phrasing, error)
	ListActiveByConcept(ctx context.Context, conceptID uuid.UUID) ([]*models.Phrasing, error)
	ListActiveBatch(ctx context.Context, conceptID uuid.UUID, limit int) ([]*models.Phrasing, error)
	ListArchivedBatch(ctx context.Context, conceptID uuid.UUID, limit int) ([]*models.Phrasing, error)
	ListUndeletedBatch(ctx context.Context, conceptID uuid.UUID, limit int) ([]*models.Phrasing, error)
	RecordAttempt(ctx context.Context, phrasingID uuid.UUID, isCorrect bool, at time.Time) error
	Archive(ctx context.Context, phrasingID uuid.UUID, at time.Time) error
	Restore(ctx context.Context, phrasingID uuid.UUID) error
	SoftDelete(ctx context.Context, phrasingID uuid.UUID, at time.Time) error
}

type phrasingRepository struct {
	db Querier
}

// NewPhrasingRepository creates a new PhrasingRepository.
func NewPhrasingRepository(db Querier) PhrasingRepository {
	return &phrasingRepository{db: db}
}

var _ PhrasingRepository = (*phrasingRepository)(nil)

const phrasingColumns = `
	id, concept_id, user_id, question, answer_options, correct_answer,
	COALESCE(explanation, ''), phrasing_type, attempt_count, correct_count,
	last_attempted_at, created_at, updated_at, archived_at, deleted_at`

func (r *phrasingRepository) Create(ctx context.Context, phrasing *models.Phrasing) error {
	now := time.Now()

	query := `
		INSERT INTO phrasings (
			concept_id, user_id, question, answer_options, correct_answer,
			explanation, phrasing_type, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		phrasing.ConceptID,
		phrasing.UserID,
		phrasing.Question,
		jsonbValue(phrasing.AnswerOptions),
		phrasing.CorrectAnswer,
		nullString(phrasing.Explanation),
		phrasing.PhrasingType,
		now,
		now,
	).Scan(&phrasing.ID, &phrasing.CreatedAt, &phrasing.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create phrasing: %w", err)
	}

	return nil
}

func (r *phrasingRepository) GetByID(ctx context.Context, phrasingID uuid.UUID) (*models.Phrasing, error) {
	query := `SELECT ` + phrasingColumns + ` FROM phrasings WHERE id = $1`

	phrasing, err := scanPhrasing(r.db.QueryRow(ctx, query, phrasingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get phrasing: %w", err)
	}

	return phrasing, nil
}

func (r *phrasingRepository) ListActiveByConcept(ctx context.Context, conceptID uuid.UUID) ([]*models.Phrasing, error) {
	query := `
		SELECT ` + phrasingColumns + `
		FROM phrasings
		WHERE concept_id = $1 AND archived_at IS NULL AND deleted_at IS NULL
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, conceptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phrasings: %w", err)
	}
	defer rows.Close()

	return collectPhrasings(rows)
}

func (r *phrasingRepository) ListActiveBatch(ctx context.Context, conceptID uuid.UUID, limit int) ([]*models.Phrasing, error) {
	query := `
		SELECT ` + phrasingColumns + `
		FROM phrasings
		WHERE concept_id = $1 AND archived_at IS NULL AND deleted_at IS NULL
		ORDER BY id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, conceptID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active phrasing batch: %w", err)
	}
	defer rows.Close()

	return collectPhrasings(rows)
}

func (r *phrasingRepository) ListArchivedBatch(ctx context.Context, conceptID uuid.UUID, limit int) ([]*models.Phrasing, error) {
	query := `
		SELECT ` + phrasingColumns + `
		FROM phrasings
		WHERE concept_id = $1 AND archived_at IS NOT NULL AND deleted_at IS NULL
		ORDER BY id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, conceptID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived phrasing batch: %w", err)
	}
	defer rows.Close()

	return collectPhrasings(rows)
}

func (r *phrasingRepository) ListUndeletedBatch(ctx context.Context, conceptID uuid.UUID, limit int) ([]*models.Phrasing, error) {
	query := `
		SELECT ` + phrasingColumns + `
		FROM phrasings
		WHERE concept_id = $1 AND deleted_at IS NULL
		ORDER BY id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, conceptID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list undeleted phrasing batch: %w", err)
	}
	defer rows.Close()

	return collectPhrasings(rows)
}

func (r *phrasingRepository) RecordAttempt(ctx context.Context, phrasingID uuid.UUID, isCorrect bool, at time.Time) error {
	query := `
		UPDATE phrasings
		SET attempt_count = attempt_count + 1,
		    correct_count = correct_count + CASE WHEN $2 THEN 1 ELSE 0 END,
		    last_attempted_at = $3,
		    updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, phrasingID, isCorrect, at)
	if err != nil {
		return fmt.Errorf("failed to record phrasing attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *phrasingRepository) Archive(ctx context.Context, phrasingID uuid.UUID, at time.Time) error {
	query := `
		UPDATE phrasings
		SET archived_at = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, phrasingID, at)
	if err != nil {
		return fmt.Errorf("failed to archive phrasing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *phrasingRepository) Restore(ctx context.Context, phrasingID uuid.UUID) error {
	query := `
		UPDATE phrasings
		SET archived_at = NULL, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, phrasingID)
	if err != nil {
		return fmt.Errorf("failed to restore phrasing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *phrasingRepository) SoftDelete(ctx context.Context, phrasingID uuid.UUID, at time.Time) error {
	query := `
		UPDATE phrasings
		SET deleted_at = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, phrasingID, at)
	if err != nil {
		return fmt.Errorf("failed to delete phrasing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanPhrasing(row pgx.Row) (*models.Phrasing, error) {
	var p models.Phrasing
	var options []byte

	err := row.Scan(
		&p.ID, &p.ConceptID, &p.UserID, &p.Question, &options, &p.CorrectAnswer,
		&p.Explanation, &p.PhrasingType, &p.AttemptCount, &p.CorrectCount,
		&p.LastAttemptedAt, &p.CreatedAt, &p.UpdatedAt, &p.ArchivedAt, &p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(options) > 0 {
		if err := json.Unmarshal(options, &p.AnswerOptions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answer options: %w", err)
		}
	}

	return &p, nil
}

func collectPhrasings(rows pgx.Rows) ([]*models.Phrasing, error) {
	var phrasings []*models.Phrasing
	for rows.Next() {
		p, err := scanPhrasing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phrasing: %w", err)
		}
		phrasings = append(phrasings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate phrasings: %w", err)
	}

	return phrasings, nil
}
