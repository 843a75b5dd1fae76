package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therapist-match-engine/internal/domain"
)

// memMatchStore is an in-memory MatchResultStore shared by the service
// tests. It honors row versioning the same way the SQL repository does.
type memMatchStore struct {
	mu            sync.Mutex
	records       map[uuid.UUID]*domain.MatchResult
	conflictsLeft int
}

func newMemMatchStore() *memMatchStore {
	return &memMatchStore{records: make(map[uuid.UUID]*domain.MatchResult)}
}

func (s *memMatchStore) CreateBatch(_ context.Context, results []*domain.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, r := range results {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.CreatedAt = now
		r.UpdatedAt = now
		stored := *r
		s.records[r.ID] = &stored
	}
	return nil
}

func (s *memMatchStore) GetByID(_ context.Context, id uuid.UUID) (*domain.MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (s *memMatchStore) ListByClient(_ context.Context, clientID string, limit, offset int) ([]*domain.MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.MatchResult
	for _, stored := range s.records {
		if stored.ClientID == clientID {
			copied := *stored
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memMatchStore) UpdateFunnel(_ context.Context, result *domain.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return domain.ErrVersionConflict
	}
	stored, ok := s.records[result.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.RowVersion != result.RowVersion {
		return domain.ErrVersionConflict
	}
	updated := *result
	updated.RowVersion++
	updated.UpdatedAt = time.Now()
	s.records[result.ID] = &updated
	result.RowVersion = updated.RowVersion
	return nil
}

func (s *memMatchStore) WindowStats(_ context.Context, algorithm string, version int, start, end time.Time) (*domain.WindowStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.WindowStats{}
	var scoreSum float64
	var satisfactionSum, satisfactionCount int
	for _, r := range s.records {
		if r.Algorithm != algorithm || r.AlgorithmVersion != version {
			continue
		}
		if r.CreatedAt.Before(start) || !r.CreatedAt.Before(end) {
			continue
		}
		stats.Total++
		scoreSum += r.TotalScore
		if r.WasViewed {
			stats.Viewed++
		}
		if r.WasContacted {
			stats.Contacted++
		}
		if r.BecameClient {
			stats.Converted++
		}
		if r.SessionCount > 1 {
			stats.Retained++
		}
		if r.SatisfactionScore != nil {
			satisfactionSum += *r.SatisfactionScore
			satisfactionCount++
		}
	}
	if stats.Total > 0 {
		stats.AverageScore = scoreSum / float64(stats.Total)
	}
	if satisfactionCount > 0 {
		avg := float64(satisfactionSum) / float64(satisfactionCount)
		stats.AverageSatisfaction = &avg
	}
	return stats, nil
}

func (s *memMatchStore) TopTherapists(_ context.Context, since *time.Time, limit int) ([]*domain.TherapistPerformance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTherapist := make(map[string]*domain.TherapistPerformance)
	counts := make(map[string]float64)
	for _, r := range s.records {
		if !r.BecameClient {
			continue
		}
		if since != nil && r.CreatedAt.Before(*since) {
			continue
		}
		perf, ok := byTherapist[r.TherapistID]
		if !ok {
			perf = &domain.TherapistPerformance{TherapistID: r.TherapistID}
			byTherapist[r.TherapistID] = perf
		}
		perf.ConvertedMatches++
		counts[r.TherapistID] += r.TotalScore
	}
	var out []*domain.TherapistPerformance
	for id, perf := range byTherapist {
		perf.AverageScore = counts[id] / float64(perf.ConvertedMatches)
		out = append(out, perf)
	}
	return out, nil
}

// fakeWeightSource returns a fixed weight set or error
type fakeWeightSource struct {
	set *domain.WeightSet
	err error
}

func (f *fakeWeightSource) Active(context.Context, string) (*domain.WeightSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.set, nil
}

func testWeightSet() *domain.WeightSet {
	return &domain.WeightSet{
		ID:        uuid.New(),
		Algorithm: "default",
		Label:     "baseline",
		Weights: domain.Weights{
			Condition:  0.3,
			Approach:   0.2,
			Experience: 0.2,
			Review:     0.15,
			Logistics:  0.15,
		},
		Active:  true,
		Version: 1,
	}
}

func newTestMatcher(store *memMatchStore, source WeightSource) *Matcher {
	engine := NewScoreEngine(testScoringConfig(), testLogger())
	return NewMatcher(source, engine, store, domain.MatchingConfig{MaxConcurrentScorers: 4}, testLogger())
}

func rankClient() *domain.ClientProfile {
	return &domain.ClientProfile{
		ID:                  "client-1",
		Conditions:          []domain.ClientCondition{{Name: "anxiety"}, {Name: "depression"}},
		PreferredApproaches: []string{"CBT"},
		Languages:           []string{"en"},
		SessionFormats:      []domain.SessionFormat{domain.VIRTUAL},
		BudgetPerSession:    200,
		Province:            "ON",
		HasInsurance:        true,
	}
}

func rankCandidates() []*domain.TherapistProfile {
	return []*domain.TherapistProfile{
		{
			ID:               "therapist-a",
			Expertise:        []string{"anxiety", "depression"},
			Approaches:       []string{"CBT", "EMDR"},
			YearsExperience:  6,
			Rating:           4.5,
			ReviewCount:      50,
			Languages:        []string{"en"},
			SessionFormats:   []domain.SessionFormat{domain.VIRTUAL},
			HourlyRate:       150,
			Province:         "ON",
			AcceptsInsurance: true,
		},
		{
			ID:               "therapist-b",
			Expertise:        []string{"anxiety"},
			Approaches:       []string{"DBT"},
			YearsExperience:  12,
			Rating:           4.0,
			ReviewCount:      8,
			Languages:        []string{"en"},
			SessionFormats:   []domain.SessionFormat{domain.VIRTUAL},
			HourlyRate:       180,
			Province:         "ON",
			AcceptsInsurance: true,
		},
		{
			ID:              "therapist-c",
			Expertise:       []string{"grief"},
			Approaches:      []string{"psychodynamic"},
			YearsExperience: 2,
			Rating:          3.0,
			ReviewCount:     1,
			Languages:       []string{"de"},
			SessionFormats:  []domain.SessionFormat{domain.IN_PERSON},
			HourlyRate:      250,
			Province:        "BC",
		},
	}
}

func TestMatcher_RankOrdersAndPersists(t *testing.T) {
	store := newMemMatchStore()
	matcher := newTestMatcher(store, &fakeWeightSource{set: testWeightSet()})

	results, err := matcher.Rank(context.Background(), &RankRequest{
		Client:     rankClient(),
		Candidates: rankCandidates(),
		Algorithm:  "default",
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, 3, r.TotalRecommendations)
		assert.Equal(t, "default", r.Algorithm)
		assert.Equal(t, 1, r.AlgorithmVersion)
		assert.Equal(t, domain.ISSUED, r.Stage())
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].TotalScore, r.TotalScore,
				"results must be ordered by descending total score")
		}
	}

	assert.Equal(t, "therapist-a", results[0].TherapistID)
	assert.Equal(t, "therapist-c", results[2].TherapistID)
	assert.Len(t, store.records, 3, "every result must be persisted")
}

func TestMatcher_RankWeightedTotal(t *testing.T) {
	store := newMemMatchStore()
	matcher := newTestMatcher(store, &fakeWeightSource{set: testWeightSet()})

	results, err := matcher.Rank(context.Background(), &RankRequest{
		Client:     rankClient(),
		Candidates: rankCandidates()[:1],
		Algorithm:  "default",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	top := results[0]
	assert.Equal(t, 100, top.Scores.Condition)
	assert.Equal(t, 100, top.Scores.Approach)
	assert.Equal(t, 46, top.Scores.Experience)
	assert.Equal(t, 100, top.Scores.Review)
	assert.Equal(t, 100, top.Scores.Logistics)

	// 0.3*100 + 0.2*100 + 0.2*46 + 0.15*100 + 0.15*100
	assert.InDelta(t, 89.2, top.TotalScore, 0.0001)
	assert.ElementsMatch(t, []string{"anxiety", "depression"}, top.MatchedConditions)
	assert.ElementsMatch(t, []string{"CBT"}, top.MatchedApproaches)
}

func TestMatcher_RankDeterministic(t *testing.T) {
	first, err := newTestMatcher(newMemMatchStore(), &fakeWeightSource{set: testWeightSet()}).
		Rank(context.Background(), &RankRequest{Client: rankClient(), Candidates: rankCandidates(), Algorithm: "default"})
	require.NoError(t, err)

	second, err := newTestMatcher(newMemMatchStore(), &fakeWeightSource{set: testWeightSet()}).
		Rank(context.Background(), &RankRequest{Client: rankClient(), Candidates: rankCandidates(), Algorithm: "default"})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].TherapistID, second[i].TherapistID)
		assert.Equal(t, first[i].TotalScore, second[i].TotalScore)
		assert.Equal(t, first[i].Rank, second[i].Rank)
	}
}

func TestMatcher_TieBreakByTherapistID(t *testing.T) {
	store := newMemMatchStore()
	matcher := newTestMatcher(store, &fakeWeightSource{set: testWeightSet()})

	twin := func(id string) *domain.TherapistProfile {
		return &domain.TherapistProfile{
			ID:               id,
			Expertise:        []string{"anxiety", "depression"},
			Approaches:       []string{"CBT"},
			YearsExperience:  6,
			Rating:           4.5,
			ReviewCount:      50,
			Languages:        []string{"en"},
			SessionFormats:   []domain.SessionFormat{domain.VIRTUAL},
			HourlyRate:       150,
			Province:         "ON",
			AcceptsInsurance: true,
		}
	}

	results, err := matcher.Rank(context.Background(), &RankRequest{
		Client:     rankClient(),
		Candidates: []*domain.TherapistProfile{twin("zeta"), twin("alpha")},
		Algorithm:  "default",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, results[0].TotalScore, results[1].TotalScore)
	assert.Equal(t, "alpha", results[0].TherapistID)
	assert.Equal(t, "zeta", results[1].TherapistID)
}

func TestMatcher_EmptyPool(t *testing.T) {
	store := newMemMatchStore()
	matcher := newTestMatcher(store, &fakeWeightSource{set: testWeightSet()})

	results, err := matcher.Rank(context.Background(), &RankRequest{
		Client:    rankClient(),
		Algorithm: "default",
	})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, store.records, "an empty run must not persist anything")
}

func TestMatcher_NoActiveWeightSet(t *testing.T) {
	store := newMemMatchStore()
	matcher := newTestMatcher(store, &fakeWeightSource{err: domain.ErrNoActiveWeightSet})

	_, err := matcher.Rank(context.Background(), &RankRequest{
		Client:     rankClient(),
		Candidates: rankCandidates(),
		Algorithm:  "default",
	})
	require.Error(t, err)

	var configErr *domain.ConfigError
	assert.True(t, errors.As(err, &configErr), "missing active set must surface as a configuration error")
	assert.ErrorIs(t, err, domain.ErrNoActiveWeightSet)
	assert.Empty(t, store.records)
}

func TestMatcher_InvalidActiveWeights(t *testing.T) {
	set := testWeightSet()
	set.Weights.Logistics = 0.9 // sum far above 1.0

	matcher := newTestMatcher(newMemMatchStore(), &fakeWeightSource{set: set})
	_, err := matcher.Rank(context.Background(), &RankRequest{
		Client:     rankClient(),
		Candidates: rankCandidates(),
		Algorithm:  "default",
	})
	require.Error(t, err)

	var configErr *domain.ConfigError
	assert.True(t, errors.As(err, &configErr))
}

func TestMatcher_MissingClient(t *testing.T) {
	matcher := newTestMatcher(newMemMatchStore(), &fakeWeightSource{set: testWeightSet()})

	_, err := matcher.Rank(context.Background(), &RankRequest{Algorithm: "default"})
	require.Error(t, err)

	var validationErr *domain.ValidationError
	assert.True(t, errors.As(err, &validationErr))
}
