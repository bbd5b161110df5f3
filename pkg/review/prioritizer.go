// Package review computes the presentation order of due material and picks
// which phrasing variant to show. Everything here is pure: callers inject
// the clock, the retrievability function, and the random source.
package review

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/loci-ai/loci-engine/pkg/models"
)

// RetrievabilityFunc estimates recall probability for a memory state, or a
// negative sentinel for never-reviewed material.
type RetrievabilityFunc func(state *models.MemoryState, now time.Time) float64

// Entry is one prioritized queue position.
type Entry struct {
	Concept        *models.Concept
	Retrievability float64
}

// Prioritizer orders concepts for review. Lower retrievability sorts first;
// never-reviewed material carries a negative score so it always precedes
// reviewed material.
type Prioritizer struct {
	// epsilon is the urgent-tier band: entries within epsilon of the most
	// urgent score have their relative order randomized so the same concept
	// does not win ties across repeated queue reads.
	epsilon float64

	// freshnessWindow and freshnessHalfLife shape the priority boost for
	// recently created, never-reviewed concepts: -2 at creation decaying
	// toward -1, clamped at -1 once the window has passed. Brand-new
	// material is learned first but cannot permanently starve reviews.
	freshnessWindow   time.Duration
	freshnessHalfLife time.Duration
}

// NewPrioritizer creates a Prioritizer with the given tuning constants.
func NewPrioritizer(epsilon float64, freshnessWindow, freshnessHalfLife time.Duration) *Prioritizer {
	return &Prioritizer{
		epsilon:           epsilon,
		freshnessWindow:   freshnessWindow,
		freshnessHalfLife: freshnessHalfLife,
	}
}

// Prioritize returns concepts in presentation order with their scores.
// Concepts with zero active phrasings are excluded: there is nothing to
// present. The cached retrievability snapshot on the concept is preferred;
// retrFn is consulted only when no snapshot exists.
func (p *Prioritizer) Prioritize(concepts []*models.Concept, now time.Time, retrFn RetrievabilityFunc, rng *rand.Rand) []Entry {
	entries := make([]Entry, 0, len(concepts))
	for _, c := range concepts {
		if c.PhrasingCount <= 0 || !c.IsActive() {
			continue
		}
		entries = append(entries, Entry{Concept: c, Retrievability: p.score(c, now, retrFn)})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Retrievability < entries[j].Retrievability
	})

	p.shuffleUrgentTier(entries, rng)
	return entries
}

// score computes the priority score for one concept.
func (p *Prioritizer) score(c *models.Concept, now time.Time, retrFn RetrievabilityFunc) float64 {
	var r float64
	if c.Memory.Retrievability != nil {
		r = *c.Memory.Retrievability
	} else {
		r = retrFn(&c.Memory, now)
	}

	// Negative means never reviewed; map fresh material into the band below
	// all reviewed scores.
	if r < 0 && !c.HasBeenReviewed() {
		return p.freshnessBoost(now.Sub(c.CreatedAt))
	}
	return r
}

// freshnessBoost decays from -2 at creation toward -1 with the configured
// half-life, clamped at -1 once the freshness window has passed.
func (p *Prioritizer) freshnessBoost(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	if age >= p.freshnessWindow {
		return -1
	}
	halfLives := age.Hours() / p.freshnessHalfLife.Hours()
	return -1 - math.Pow(0.5, halfLives)
}

// shuffleUrgentTier applies a Fisher-Yates shuffle to the maximal prefix of
// entries whose score is within epsilon of the minimum, leaving everything
// past the tie band in sorted order.
func (p *Prioritizer) shuffleUrgentTier(entries []Entry, rng *rand.Rand) {
	if len(entries) < 2 || rng == nil {
		return
	}

	tier := 1
	minScore := entries[0].Retrievability
	for tier < len(entries) && entries[tier].Retrievability-minScore <= p.epsilon {
		tier++
	}

	for i := tier - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		entries[i], entries[j] = entries[j], entries[i]
	}
}
