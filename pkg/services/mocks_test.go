package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loci-ai/loci-engine/pkg/apperrors"
	"github.com/loci-ai/loci-engine/pkg/models"
	"github.com/loci-ai/loci-engine/pkg/repositories"
	"github.com/loci-ai/loci-engine/pkg/stats"
)

// fakeTxRunner hands the same in-memory repositories to every "transaction".
type fakeTxRunner struct {
	repos *TxRepos
}

func (f *fakeTxRunner) InTx(_ context.Context, fn func(r *TxRepos) error) error {
	return fn(f.repos)
}

// ============================================================================
// Concept repository
// ============================================================================

type mockConceptRepo struct {
	mu       sync.Mutex
	concepts map[uuid.UUID]*models.Concept
	err      error
}

func newMockConceptRepo() *mockConceptRepo {
	return &mockConceptRepo{concepts: make(map[uuid.UUID]*models.Concept)}
}

var _ repositories.ConceptRepository = (*mockConceptRepo)(nil)

func (m *mockConceptRepo) Create(_ context.Context, c *models.Concept) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	m.concepts[c.ID] = &cp
	return nil
}

func (m *mockConceptRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Concept, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.concepts[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockConceptRepo) ListActive(_ context.Context, userID uuid.UUID) ([]*models.Concept, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Concept
	for _, c := range m.concepts {
		if c.UserID == userID && c.IsActive() {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Memory.NextReview.Before(out[j].Memory.NextReview)
	})
	return out, nil
}

func (m *mockConceptRepo) ListArchived(_ context.Context, userID uuid.UUID) ([]*models.Concept, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Concept
	for _, c := range m.concepts {
		if c.UserID == userID && c.DeletedAt == nil && c.ArchivedAt != nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ExistsActiveTitle mirrors the real repository, which compares against a
// normalized_title column written with models.NormalizeTitle at insert time.
func (m *mockConceptRepo) ExistsActiveTitle(_ context.Context, userID uuid.UUID, normalizedTitle string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.concepts {
		if c.UserID == userID && c.DeletedAt == nil && models.NormalizeTitle(c.Title) == normalizedTitle {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockConceptRepo) UpdateMemory(_ context.Context, c *models.Concept) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.concepts[c.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	existing.Memory = c.Memory
	return nil
}

func (m *mockConceptRepo) AdjustPhrasingCount(_ context.Context, id uuid.UUID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.concepts[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	c.PhrasingCount += delta
	if c.PhrasingCount < 0 {
		c.PhrasingCount = 0
	}
	return nil
}

func (m *mockConceptRepo) SetPhrasingCount(_ context.Context, id uuid.UUID, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.concepts[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	c.PhrasingCount = count
	return nil
}

func (m *mockConceptRepo) SetCanonicalPhrasing(_ context.Context, id uuid.UUID, phrasingID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.concepts[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	c.CanonicalPhrasingID = phrasingID
	return nil
}

func (m *mockConceptRepo) Archive(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.concepts[id]
	if !ok || c.DeletedAt != nil {
		return apperrors.ErrNotFound
	}
	c.ArchivedAt = &at
	return nil
}

func (m *mockConceptRepo) Restore(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.concepts[id]
	if !ok || c.DeletedAt != nil {
		return apperrors.ErrNotFound
	}
	c.ArchivedAt = nil
	return nil
}

func (m *mockConceptRepo) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.concepts[id]
	if !ok || c.DeletedAt != nil {
		return apperrors.ErrNotFound
	}
	c.DeletedAt = &at
	return nil
}

// ============================================================================
// Phrasing repository
// ============================================================================

type mockPhrasingRepo struct {
	mu        sync.Mutex
	phrasings map[uuid.UUID]*models.Phrasing
	order     []uuid.UUID
}

func newMockPhrasingRepo() *mockPhrasingRepo {
	return &mockPhrasingRepo{phrasings: make(map[uuid.UUID]*models.Phrasing)}
}

var _ repositories.PhrasingRepository = (*mockPhrasingRepo)(nil)

func (m *mockPhrasingRepo) Create(_ context.Context, p *models.Phrasing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	m.phrasings[p.ID] = &cp
	m.order = append(m.order, p.ID)
	return nil
}

func (m *mockPhrasingRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Phrasing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.phrasings[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPhrasingRepo) list(conceptID uuid.UUID, limit int, match func(*models.Phrasing) bool) []*models.Phrasing {
	var out []*models.Phrasing
	for _, id := range m.order {
		p := m.phrasings[id]
		if p.ConceptID != conceptID || !match(p) {
			continue
		}
		cp := *p
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (m *mockPhrasingRepo) ListActiveByConcept(_ context.Context, conceptID uuid.UUID) ([]*models.Phrasing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(conceptID, 0, func(p *models.Phrasing) bool { return p.IsActive() }), nil
}

func (m *mockPhrasingRepo) ListActiveBatch(_ context.Context, conceptID uuid.UUID, limit int) ([]*models.Phrasing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(conceptID, limit, func(p *models.Phrasing) bool { return p.IsActive() }), nil
}

func (m *mockPhrasingRepo) ListArchivedBatch(_ context.Context, conceptID uuid.UUID, limit int) ([]*models.Phrasing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(conceptID, limit, func(p *models.Phrasing) bool {
		return p.ArchivedAt != nil && p.DeletedAt == nil
	}), nil
}

func (m *mockPhrasingRepo) ListUndeletedBatch(_ context.Context, conceptID uuid.UUID, limit int) ([]*models.Phrasing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(conceptID, limit, func(p *models.Phrasing) bool { return p.DeletedAt == nil }), nil
}

func (m *mockPhrasingRepo) RecordAttempt(_ context.Context, id uuid.UUID, isCorrect bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.phrasings[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	p.AttemptCount++
	if isCorrect {
		p.CorrectCount++
	}
	p.LastAttemptedAt = &at
	return nil
}

func (m *mockPhrasingRepo) Archive(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.phrasings[id]
	if !ok || p.DeletedAt != nil {
		return apperrors.ErrNotFound
	}
	p.ArchivedAt = &at
	return nil
}

func (m *mockPhrasingRepo) Restore(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.phrasings[id]
	if !ok || p.DeletedAt != nil {
		return apperrors.ErrNotFound
	}
	p.ArchivedAt = nil
	return nil
}

func (m *mockPhrasingRepo) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.phrasings[id]
	if !ok || p.DeletedAt != nil {
		return apperrors.ErrNotFound
	}
	p.DeletedAt = &at
	return nil
}

// ============================================================================
// Interaction repository
// ============================================================================

type mockInteractionRepo struct {
	mu           sync.Mutex
	interactions []*models.Interaction
}

var _ repositories.InteractionRepository = (*mockInteractionRepo)(nil)

func (m *mockInteractionRepo) Create(_ context.Context, i *models.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i.ID = uuid.New()
	i.CreatedAt = time.Now()
	cp := *i
	m.interactions = append(m.interactions, &cp)
	return nil
}

func (m *mockInteractionRepo) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*models.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Interaction
	for i := len(m.interactions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.interactions[i].UserID == userID {
			out = append(out, m.interactions[i])
		}
	}
	return out, nil
}

func (m *mockInteractionRepo) ListByConcept(_ context.Context, conceptID uuid.UUID, limit int) ([]*models.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Interaction
	for i := len(m.interactions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.interactions[i].ConceptID == conceptID {
			out = append(out, m.interactions[i])
		}
	}
	return out, nil
}

// ============================================================================
// User stats repository
// ============================================================================

type mockStatsRepo struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*models.UserStats
	calls int
}

func newMockStatsRepo() *mockStatsRepo {
	return &mockStatsRepo{rows: make(map[uuid.UUID]*models.UserStats)}
}

var _ repositories.UserStatsRepository = (*mockStatsRepo)(nil)

func (m *mockStatsRepo) row(userID uuid.UUID) *models.UserStats {
	s, ok := m.rows[userID]
	if !ok {
		s = &models.UserStats{UserID: userID}
		m.rows[userID] = s
	}
	return s
}

func (m *mockStatsRepo) Get(_ context.Context, userID uuid.UUID) (*models.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.row(userID)
	return &cp, nil
}

func (m *mockStatsRepo) ApplyDelta(_ context.Context, userID uuid.UUID, delta *stats.Delta) error {
	if delta == nil || delta.IsZero() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	s := m.row(userID)
	s.TotalCards += delta.TotalCards
	s.NewCount += delta.NewCount
	s.LearningCount += delta.LearningCount
	s.MatureCount += delta.MatureCount
	s.DueNowCount += delta.DueNowCount
	s.LastCalculated = time.Now()
	return nil
}

func (m *mockStatsRepo) SetNextReviewTime(_ context.Context, userID uuid.UUID, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.row(userID).NextReviewTime = at
	return nil
}

func (m *mockStatsRepo) Recalculate(_ context.Context, userID uuid.UUID, now time.Time) (*models.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.row(userID)
	s.LastCalculated = now
	cp := *s
	return &cp, nil
}

// ============================================================================
// Generation job repository
// ============================================================================

type mockJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.GenerationJob
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{jobs: make(map[uuid.UUID]*models.GenerationJob)}
}

var _ repositories.GenerationJobRepository = (*mockJobRepo)(nil)

func (m *mockJobRepo) Create(_ context.Context, j *models.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.ID = uuid.New()
	j.CreatedAt = time.Now()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *mockJobRepo) GetByID(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *mockJobRepo) Update(_ context.Context, j *models.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return apperrors.ErrNotFound
	}
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *mockJobRepo) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GenerationJob
	for _, j := range m.jobs {
		if j.UserID == userID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockJobRepo) ListUnfinished(_ context.Context) ([]*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GenerationJob
	for _, j := range m.jobs {
		if j.Status == models.JobStatusPending || j.Status == models.JobStatusProcessing {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}
