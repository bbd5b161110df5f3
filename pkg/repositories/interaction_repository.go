package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loci-ai/loci-engine/pkg/models"
)

// InteractionRepository provides append-only access to review attempts.
// Interactions are never updated or deleted.
type InteractionRepository interface {
	Create(ctx context.Context, interaction *models.Interaction) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Interaction, error)
	ListByConcept(ctx context.Context, conceptID uuid.UUID, limit int) ([]*models.Interaction, error)
}

type interactionRepository struct {
	db Querier
}

// NewInteractionRepository creates a new InteractionRepository.
func NewInteractionRepository(db Querier) InteractionRepository {
	return &interactionRepository{db: db}
}

var _ InteractionRepository = (*interactionRepository)(nil)

const interactionColumns = `
	id, user_id, concept_id, phrasing_id, user_answer, is_correct, session_id,
	scheduled_days, resulting_due, memory_state, created_at`

func (r *interactionRepository) Create(ctx context.Context, interaction *models.Interaction) error {
	query := `
		INSERT INTO interactions (
			user_id, concept_id, phrasing_id, user_answer, is_correct,
			session_id, scheduled_days, resulting_due, memory_state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		interaction.UserID,
		interaction.ConceptID,
		interaction.PhrasingID,
		interaction.UserAnswer,
		interaction.IsCorrect,
		interaction.SessionID,
		interaction.ScheduledDays,
		interaction.ResultingDue,
		jsonbValue(interaction.MemoryState),
	).Scan(&interaction.ID, &interaction.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create interaction: %w", err)
	}

	return nil
}

func (r *interactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Interaction, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM interactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	defer rows.Close()

	return collectInteractions(rows)
}

func (r *interactionRepository) ListByConcept(ctx context.Context, conceptID uuid.UUID, limit int) ([]*models.Interaction, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM interactions
		WHERE concept_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, conceptID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list concept interactions: %w", err)
	}
	defer rows.Close()

	return collectInteractions(rows)
}

func collectInteractions(rows pgx.Rows) ([]*models.Interaction, error) {
	var interactions []*models.Interaction
	for rows.Next() {
		var i models.Interaction
		var memoryState []byte

		err := rows.Scan(
			&i.ID, &i.UserID, &i.ConceptID, &i.PhrasingID, &i.UserAnswer,
			&i.IsCorrect, &i.SessionID, &i.ScheduledDays, &i.ResultingDue,
			&memoryState, &i.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}

		if len(memoryState) > 0 {
			var ms models.MemoryState
			if err := json.Unmarshal(memoryState, &ms); err != nil {
				return nil, fmt.Errorf("failed to unmarshal memory state: %w", err)
			}
			i.MemoryState = &ms
		}

		interactions = append(interactions, &i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interactions: %w", err)
	}

	return interactions, nil
}
