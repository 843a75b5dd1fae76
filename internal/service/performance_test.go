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

// memPerformanceStore is an in-memory PerformanceStore enforcing the
// no-overlap rule the SQL repository enforces
type memPerformanceStore struct {
	mu      sync.Mutex
	windows []*domain.PerformanceWindow
}

func (s *memPerformanceStore) Create(_ context.Context, window *domain.PerformanceWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.windows {
		if existing.Algorithm == window.Algorithm &&
			existing.AlgorithmVersion == window.AlgorithmVersion &&
			existing.PeriodStart.Before(window.PeriodEnd) &&
			window.PeriodStart.Before(existing.PeriodEnd) {
			return domain.ErrWindowOverlap
		}
	}
	if window.ID == uuid.Nil {
		window.ID = uuid.New()
	}
	window.CreatedAt = time.Now()
	stored := *window
	s.windows = append(s.windows, &stored)
	return nil
}

func (s *memPerformanceStore) List(_ context.Context, algorithm string, limit int) ([]*domain.PerformanceWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.PerformanceWindow
	for _, w := range s.windows {
		if w.Algorithm == algorithm {
			copied := *w
			out = append(out, &copied)
		}
	}
	return out, nil
}

// seedFunnelHistory inserts ten match results: six viewed, four converted,
// three of the conversions retained past the first session
func seedFunnelHistory(t *testing.T, store *memMatchStore) {
	t.Helper()
	ctx := context.Background()

	satisfied := 4
	for i := 0; i < 10; i++ {
		result := &domain.MatchResult{
			ClientID:         "client-1",
			TherapistID:      "therapist-a",
			TotalScore:       70,
			Algorithm:        "default",
			AlgorithmVersion: 1,
			RowVersion:       1,
		}
		if i < 6 {
			result.WasViewed = true
		}
		if i < 4 {
			result.WasContacted = true
			result.BecameClient = true
			result.SatisfactionScore = &satisfied
		}
		if i < 3 {
			result.SessionCount = 3
		}
		require.NoError(t, store.CreateBatch(ctx, []*domain.MatchResult{result}))
	}
}

func TestAggregator_FunnelRates(t *testing.T) {
	matches := newMemMatchStore()
	windows := &memPerformanceStore{}
	aggregator := NewAggregator(matches, windows, testLogger())

	seedFunnelHistory(t, matches)

	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)

	window, err := aggregator.Aggregate(context.Background(), "default", 1, start, end)
	require.NoError(t, err)

	assert.Equal(t, 10, window.TotalRecommendations)
	assert.Equal(t, 4, window.SuccessfulMatches)
	assert.InDelta(t, 0.6, window.ClickThroughRate, 0.0001)
	assert.InDelta(t, 0.4, window.ConversionRate, 0.0001)
	assert.InDelta(t, 0.75, window.RetentionRate, 0.0001)
	assert.InDelta(t, 70, window.AverageMatchScore, 0.0001)
	require.NotNil(t, window.AverageSatisfaction)
	assert.InDelta(t, 4, *window.AverageSatisfaction, 0.0001)
	assert.Len(t, windows.windows, 1)
}

func TestAggregator_EmptyWindowHasZeroRates(t *testing.T) {
	aggregator := NewAggregator(newMemMatchStore(), &memPerformanceStore{}, testLogger())

	start := time.Now().Add(-time.Hour)
	end := time.Now()

	window, err := aggregator.Aggregate(context.Background(), "default", 1, start, end)
	require.NoError(t, err)

	assert.Equal(t, 0, window.TotalRecommendations)
	assert.Zero(t, window.ClickThroughRate)
	assert.Zero(t, window.ConversionRate)
	assert.Zero(t, window.RetentionRate, "zero conversions must not divide by zero")
	assert.Nil(t, window.AverageSatisfaction)
}

func TestAggregator_RejectsOverlappingWindows(t *testing.T) {
	matches := newMemMatchStore()
	windows := &memPerformanceStore{}
	aggregator := NewAggregator(matches, windows, testLogger())
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	_, err := aggregator.Aggregate(ctx, "default", 1, base, base.AddDate(0, 0, 7))
	require.NoError(t, err)

	_, err = aggregator.Aggregate(ctx, "default", 1, base.AddDate(0, 0, 3), base.AddDate(0, 0, 10))
	assert.ErrorIs(t, err, domain.ErrWindowOverlap)

	// Adjacent half-open windows share a boundary instant without overlapping
	_, err = aggregator.Aggregate(ctx, "default", 1, base.AddDate(0, 0, 7), base.AddDate(0, 0, 14))
	assert.NoError(t, err)

	// A different version may cover the same period
	_, err = aggregator.Aggregate(ctx, "default", 2, base, base.AddDate(0, 0, 7))
	assert.NoError(t, err)
}

func TestAggregator_RejectsInvertedWindow(t *testing.T) {
	aggregator := NewAggregator(newMemMatchStore(), &memPerformanceStore{}, testLogger())

	now := time.Now()
	_, err := aggregator.Aggregate(context.Background(), "default", 1, now, now)
	var validationErr *domain.ValidationError
	assert.True(t, errors.As(err, &validationErr), "empty window must be rejected")

	_, err = aggregator.Aggregate(context.Background(), "default", 1, now, now.Add(-time.Hour))
	assert.True(t, errors.As(err, &validationErr))
}

func TestAggregator_TopTherapists(t *testing.T) {
	matches := newMemMatchStore()
	aggregator := NewAggregator(matches, &memPerformanceStore{}, testLogger())
	ctx := context.Background()

	seedFunnelHistory(t, matches)

	top, err := aggregator.TopTherapists(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "therapist-a", top[0].TherapistID)
	assert.Equal(t, 4, top[0].ConvertedMatches)
	assert.InDelta(t, 70, top[0].AverageScore, 0.0001)
}
