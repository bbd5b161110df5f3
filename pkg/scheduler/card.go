package scheduler

import (
	fsrs "github.com/open-spaced-repetition/go-fsrs/v3"

	"github.com/loci-ai/loci-engine/pkg/models"
)

// State mapping between the persisted concept state and the FSRS card state.
var (
	stateToFSRS = map[models.ConceptState]fsrs.State{
		models.ConceptStateNew:        fsrs.New,
		models.ConceptStateLearning:   fsrs.Learning,
		models.ConceptStateReview:     fsrs.Review,
		models.ConceptStateRelearning: fsrs.Relearning,
	}
	stateFromFSRS = map[fsrs.State]models.ConceptState{
		fsrs.New:        models.ConceptStateNew,
		fsrs.Learning:   models.ConceptStateLearning,
		fsrs.Review:     models.ConceptStateReview,
		fsrs.Relearning: models.ConceptStateRelearning,
	}
)

// toCard converts persisted memory state into the FSRS card representation.
// A nil or invalid state yields a fresh card, per the "missing state means
// new" rule.
func toCard(state *models.MemoryState) fsrs.Card {
	if state == nil {
		return fsrs.NewCard()
	}

	card := fsrs.NewCard()
	card.Stability = state.Stability
	card.Difficulty = state.Difficulty
	card.ElapsedDays = uint64(max(state.ElapsedDays, 0))
	card.ScheduledDays = uint64(max(state.ScheduledDays, 0))
	card.Reps = uint64(max(state.Reps, 0))
	card.Lapses = uint64(max(state.Lapses, 0))
	card.Due = state.NextReview

	if s, ok := stateToFSRS[state.State]; ok {
		card.State = s
	}
	if state.LastReview != nil {
		card.LastReview = *state.LastReview
	}

	return card
}

// fromCard converts an FSRS card back into persisted memory state.
// Round-tripping preserves stability, difficulty, reps, lapses, and the due
// timestamp.
func fromCard(card fsrs.Card) models.MemoryState {
	state := models.MemoryState{
		Stability:     card.Stability,
		Difficulty:    card.Difficulty,
		NextReview:    card.Due,
		ElapsedDays:   int(card.ElapsedDays),
		ScheduledDays: int(card.ScheduledDays),
		Reps:          int(card.Reps),
		Lapses:        int(card.Lapses),
		State:         models.ConceptStateNew,
	}

	if s, ok := stateFromFSRS[card.State]; ok {
		state.State = s
	}
	if !card.LastReview.IsZero() {
		lr := card.LastReview
		state.LastReview = &lr
	}

	return state
}
