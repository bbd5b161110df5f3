package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loci-ai/loci-engine/pkg/apperrors"
	"github.com/loci-ai/loci-engine/pkg/models"
)

// ConceptRepository provides data access for concepts and their memory state.
type ConceptRepository interface {
	Create(ctx context.Context, concept *models.Concept) error
	GetByID(ctx context.Context, conceptID uuid.UUID) (*models.Concept, error)
	ListActive(ctx context.Context, userID uuid.UUID) ([]*models.Concept, error)
	ListArchived(ctx context.Context, userID uuid.UUID) ([]*models.Concept, error)
	ExistsActiveTitle(ctx context.Context, userID uuid.UUID, normalizedTitle string) (bool, error)
	UpdateMemory(ctx context.Context, concept *models.Concept) error
	AdjustPhrasingCount(ctx context.Context, conceptID uuid.UUID, delta int) error
	SetPhrasingCount(ctx context.Context, conceptID uuid.UUID, count int) error
	SetCanonicalPhrasing(ctx context.Context, conceptID uuid.UUID, phrasingID *uuid.UUID) error
	Archive(ctx context.Context, conceptID uuid.UUID, at time.Time) error
	Restore(ctx context.Context, conceptID uuid.UUID) error
	SoftDelete(ctx context.Context, conceptID uuid.UUID, at time.Time) error
}

type conceptRepository struct {
	db Querier
}

// NewConceptRepository creates a new ConceptRepository.
func NewConceptRepository(db Querier) ConceptRepository {
	return &conceptRepository{db: db}
}

var _ ConceptRepository = (*conceptRepository)(nil)

const conceptColumns = `
	id, user_id, title, COALESCE(description, ''), COALESCE(content_type, ''),
	stability, difficulty, last_review, next_review, elapsed_days,
	scheduled_days, retrievability, reps, lapses, state,
	phrasing_count, conflict_score, thin_score, quality_score,
	canonical_phrasing_id, created_at, updated_at, archived_at, deleted_at`

// ============================================================================
// CRUD Operations
// ============================================================================

func (r *conceptRepository) Create(ctx context.Context, concept *models.Concept) error {
	now := time.Now()

	query := `
		INSERT INTO concepts (
			user_id, title, normalized_title, description, content_type,
			stability, difficulty, last_review, next_review, elapsed_days,
			scheduled_days, retrievability, reps, lapses, state,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		concept.UserID,
		concept.Title,
		models.NormalizeTitle(concept.Title),
		nullString(concept.Description),
		nullString(concept.ContentType),
		concept.Memory.Stability,
		concept.Memory.Difficulty,
		concept.Memory.LastReview,
		concept.Memory.NextReview,
		concept.Memory.ElapsedDays,
		concept.Memory.ScheduledDays,
		concept.Memory.Retrievability,
		concept.Memory.Reps,
		concept.Memory.Lapses,
		string(concept.Memory.State),
		now,
		now,
	).Scan(&concept.ID, &concept.CreatedAt, &concept.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create concept: %w", err)
	}

	return nil
}

func (r *conceptRepository) GetByID(ctx context.Context, conceptID uuid.UUID) (*models.Concept, error) {
	query := `SELECT ` + conceptColumns + ` FROM concepts WHERE id = $1`

	concept, err := scanConcept(r.db.QueryRow(ctx, query, conceptID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get concept: %w", err)
	}

	return concept, nil
}

func (r *conceptRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]*models.Concept, error) {
	query := `
		SELECT ` + conceptColumns + `
		FROM concepts
		WHERE user_id = $1 AND deleted_at IS NULL AND archived_at IS NULL
		ORDER BY next_review ASC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active concepts: %w", err)
	}
	defer rows.Close()

	return collectConcepts(rows)
}

func (r *conceptRepository) ListArchived(ctx context.Context, userID uuid.UUID) ([]*models.Concept, error) {
	query := `
		SELECT ` + conceptColumns + `
		FROM concepts
		WHERE user_id = $1 AND deleted_at IS NULL AND archived_at IS NOT NULL
		ORDER BY archived_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived concepts: %w", err)
	}
	defer rows.Close()

	return collectConcepts(rows)
}

// ExistsActiveTitle reports whether the user already has an undeleted concept
// with the given normalized title. Callers must pass models.NormalizeTitle
// output; the stored normalized_title column was written the same way.
func (r *conceptRepository) ExistsActiveTitle(ctx context.Context, userID uuid.UUID, normalizedTitle string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM concepts
			WHERE user_id = $1 AND normalized_title = $2 AND deleted_at IS NULL
		)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, normalizedTitle).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check concept title: %w", err)
	}

	return exists, nil
}

// ============================================================================
// Mutations
// ============================================================================

func (r *conceptRepository) UpdateMemory(ctx context.Context, concept *models.Concept) error {
	query := `
		UPDATE concepts
		SET stability = $2, difficulty = $3, last_review = $4, next_review = $5,
		    elapsed_days = $6, scheduled_days = $7, retrievability = $8,
		    reps = $9, lapses = $10, state = $11, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		concept.ID,
		concept.Memory.Stability,
		concept.Memory.Difficulty,
		concept.Memory.LastReview,
		concept.Memory.NextReview,
		concept.Memory.ElapsedDays,
		concept.Memory.ScheduledDays,
		concept.Memory.Retrievability,
		concept.Memory.Reps,
		concept.Memory.Lapses,
		string(concept.Memory.State),
	)
	if err != nil {
		return fmt.Errorf("failed to update concept memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *conceptRepository) AdjustPhrasingCount(ctx context.Context, conceptID uuid.UUID, delta int) error {
	// GREATEST guards against drift driving the counter negative.
	query := `
		UPDATE concepts
		SET phrasing_count = GREATEST(0, phrasing_count + $2), updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, conceptID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust phrasing count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *conceptRepository) SetPhrasingCount(ctx context.Context, conceptID uuid.UUID, count int) error {
	query := `
		UPDATE concepts
		SET phrasing_count = GREATEST(0, $2), updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, conceptID, count)
	if err != nil {
		return fmt.Errorf("failed to set phrasing count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *conceptRepository) SetCanonicalPhrasing(ctx context.Context, conceptID uuid.UUID, phrasingID *uuid.UUID) error {
	query := `UPDATE concepts SET canonical_phrasing_id = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, conceptID, phrasingID)
	if err != nil {
		return fmt.Errorf("failed to set canonical phrasing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *conceptRepository) Archive(ctx context.Context, conceptID uuid.UUID, at time.Time) error {
	query := `
		UPDATE concepts
		SET archived_at = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, conceptID, at)
	if err != nil {
		return fmt.Errorf("failed to archive concept: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *conceptRepository) Restore(ctx context.Context, conceptID uuid.UUID) error {
	query := `
		UPDATE concepts
		SET archived_at = NULL, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, conceptID)
	if err != nil {
		return fmt.Errorf("failed to restore concept: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *conceptRepository) SoftDelete(ctx context.Context, conceptID uuid.UUID, at time.Time) error {
	query := `
		UPDATE concepts
		SET deleted_at = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, conceptID, at)
	if err != nil {
		return fmt.Errorf("failed to delete concept: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ============================================================================
// Scanning
// ============================================================================

func scanConcept(row pgx.Row) (*models.Concept, error) {
	var c models.Concept
	var state string

	err := row.Scan(
		&c.ID, &c.UserID, &c.Title, &c.Description, &c.ContentType,
		&c.Memory.Stability, &c.Memory.Difficulty, &c.Memory.LastReview,
		&c.Memory.NextReview, &c.Memory.ElapsedDays, &c.Memory.ScheduledDays,
		&c.Memory.Retrievability, &c.Memory.Reps, &c.Memory.Lapses, &state,
		&c.PhrasingCount, &c.ConflictScore, &c.ThinScore, &c.QualityScore,
		&c.CanonicalPhrasingID, &c.CreatedAt, &c.UpdatedAt, &c.ArchivedAt, &c.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Memory.State = models.ConceptState(state)
	return &c, nil
}

func collectConcepts(rows pgx.Rows) ([]*models.Concept, error) {
	var concepts []*models.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan concept: %w", err)
		}
		concepts = append(concepts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate concepts: %w", err)
	}

	return concepts, nil
}
