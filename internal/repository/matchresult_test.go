package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/therapist-match-engine/internal/domain"
)

func sampleResult(clientID, therapistID string, rank, total int) *domain.MatchResult {
	return &domain.MatchResult{
		ClientID:    clientID,
		TherapistID: therapistID,
		Scores: domain.SubScores{
			Condition:  100,
			Approach:   80,
			Experience: 46,
			Review:     90,
			Logistics:  100,
		},
		TotalScore:           84.4,
		MatchedConditions:    []string{"anxiety"},
		MatchedApproaches:    []string{"CBT"},
		Rank:                 rank,
		TotalRecommendations: total,
		Algorithm:            "default",
		AlgorithmVersion:     1,
		RowVersion:           1,
	}
}

func TestMatchResultRepository_CreateBatchAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMatchResultRepository(db.Pool, testRepoLogger())
	ctx := context.Background()

	results := []*domain.MatchResult{
		sampleResult("client-1", "therapist-a", 1, 2),
		sampleResult("client-1", "therapist-b", 2, 2),
	}
	if err := repo.CreateBatch(ctx, results); err != nil {
		t.Fatalf("Failed to create batch: %v", err)
	}

	retrieved, err := repo.GetByID(ctx, results[0].ID)
	if err != nil {
		t.Fatalf("Failed to retrieve match result: %v", err)
	}
	if retrieved.TherapistID != "therapist-a" {
		t.Errorf("Expected therapist-a, got %s", retrieved.TherapistID)
	}
	if retrieved.Scores != results[0].Scores {
		t.Errorf("Expected scores %+v, got %+v", results[0].Scores, retrieved.Scores)
	}
	if retrieved.Stage() != domain.ISSUED {
		t.Errorf("A fresh result must be at ISSUED, got %s", retrieved.Stage())
	}
	if retrieved.RowVersion != 1 {
		t.Errorf("Expected row version 1, got %d", retrieved.RowVersion)
	}

	listed, err := repo.ListByClient(ctx, "client-1", 10, 0)
	if err != nil {
		t.Fatalf("Failed to list by client: %v", err)
	}
	if len(listed) != 2 {
		t.Errorf("Expected 2 results, got %d", len(listed))
	}
}

func TestMatchResultRepository_UpdateFunnelVersioning(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMatchResultRepository(db.Pool, testRepoLogger())
	ctx := context.Background()

	result := sampleResult("client-1", "therapist-a", 1, 1)
	if err := repo.CreateBatch(ctx, []*domain.MatchResult{result}); err != nil {
		t.Fatalf("Failed to create result: %v", err)
	}

	result.WasViewed = true
	if err := repo.UpdateFunnel(ctx, result); err != nil {
		t.Fatalf("Failed to update funnel: %v", err)
	}
	if result.RowVersion != 2 {
		t.Errorf("Expected row version 2 after update, got %d", result.RowVersion)
	}

	// A writer holding the old version must get a conflict
	stale := sampleResult("client-1", "therapist-a", 1, 1)
	stale.ID = result.ID
	stale.RowVersion = 1
	stale.WasViewed = true
	stale.WasContacted = true
	if err := repo.UpdateFunnel(ctx, stale); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}

	// An unknown ID is reported as not found, not as a conflict
	missing := sampleResult("client-1", "therapist-a", 1, 1)
	missing.ID = uuid.New()
	if err := repo.UpdateFunnel(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMatchResultRepository_WindowStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMatchResultRepository(db.Pool, testRepoLogger())
	ctx := context.Background()

	satisfaction := 4
	var batch []*domain.MatchResult
	for i := 0; i < 10; i++ {
		r := sampleResult("client-1", "therapist-a", i+1, 10)
		if i < 6 {
			r.WasViewed = true
		}
		if i < 4 {
			r.WasContacted = true
			r.BecameClient = true
			r.SatisfactionScore = &satisfaction
		}
		if i < 3 {
			r.SessionCount = 2
		}
		batch = append(batch, r)
	}
	if err := repo.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("Failed to create batch: %v", err)
	}

	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)
	stats, err := repo.WindowStats(ctx, "default", 1, start, end)
	if err != nil {
		t.Fatalf("Failed to compute window stats: %v", err)
	}

	if stats.Total != 10 {
		t.Errorf("Expected 10 total, got %d", stats.Total)
	}
	if stats.Viewed != 6 {
		t.Errorf("Expected 6 viewed, got %d", stats.Viewed)
	}
	if stats.Converted != 4 {
		t.Errorf("Expected 4 converted, got %d", stats.Converted)
	}
	if stats.Retained != 3 {
		t.Errorf("Expected 3 retained, got %d", stats.Retained)
	}
	if stats.AverageSatisfaction == nil || *stats.AverageSatisfaction != 4 {
		t.Errorf("Expected average satisfaction 4, got %v", stats.AverageSatisfaction)
	}

	// A window before the records sees nothing
	empty, err := repo.WindowStats(ctx, "default", 1, start.Add(-48*time.Hour), start.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Failed to compute empty window stats: %v", err)
	}
	if empty.Total != 0 {
		t.Errorf("Expected empty window, got %d records", empty.Total)
	}
}

func TestMatchResultRepository_TopTherapists(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMatchResultRepository(db.Pool, testRepoLogger())
	ctx := context.Background()

	var batch []*domain.MatchResult
	for i := 0; i < 3; i++ {
		r := sampleResult("client-1", "therapist-a", i+1, 3)
		r.WasViewed = true
		r.WasContacted = true
		r.BecameClient = true
		batch = append(batch, r)
	}
	other := sampleResult("client-2", "therapist-b", 1, 1)
	other.WasViewed = true
	other.WasContacted = true
	other.BecameClient = true
	batch = append(batch, other)
	never := sampleResult("client-3", "therapist-c", 1, 1)
	batch = append(batch, never)

	if err := repo.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("Failed to create batch: %v", err)
	}

	top, err := repo.TopTherapists(ctx, nil, 10)
	if err != nil {
		t.Fatalf("Failed to get top therapists: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("Expected 2 therapists with conversions, got %d", len(top))
	}
	if top[0].TherapistID != "therapist-a" || top[0].ConvertedMatches != 3 {
		t.Errorf("Expected therapist-a with 3 conversions first, got %+v", top[0])
	}
}

func TestPerformanceRepository_RejectsOverlap(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPerformanceRepository(db.Pool, testRepoLogger())
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	window := func(start, end time.Time, version int) *domain.PerformanceWindow {
		return &domain.PerformanceWindow{
			Algorithm:            "default",
			AlgorithmVersion:     version,
			PeriodStart:          start,
			PeriodEnd:            end,
			TotalRecommendations: 10,
			ClickThroughRate:     0.6,
			ConversionRate:       0.4,
			RetentionRate:        0.75,
			AverageMatchScore:    70,
		}
	}

	if err := repo.Create(ctx, window(base, base.AddDate(0, 0, 7), 1)); err != nil {
		t.Fatalf("Failed to create first window: %v", err)
	}

	err := repo.Create(ctx, window(base.AddDate(0, 0, 3), base.AddDate(0, 0, 10), 1))
	if !errors.Is(err, domain.ErrWindowOverlap) {
		t.Errorf("Expected ErrWindowOverlap, got %v", err)
	}

	// Half-open windows may touch at the boundary
	if err := repo.Create(ctx, window(base.AddDate(0, 0, 7), base.AddDate(0, 0, 14), 1)); err != nil {
		t.Errorf("Adjacent window must be accepted: %v", err)
	}

	// A different algorithm version may cover the same period
	if err := repo.Create(ctx, window(base, base.AddDate(0, 0, 7), 2)); err != nil {
		t.Errorf("Same period for another version must be accepted: %v", err)
	}

	windows, err := repo.List(ctx, "default", 10)
	if err != nil {
		t.Fatalf("Failed to list windows: %v", err)
	}
	if len(windows) != 3 {
		t.Errorf("Expected 3 stored windows, got %d", len(windows))
	}
}
