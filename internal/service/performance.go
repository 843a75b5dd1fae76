package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/therapist-match-engine/internal/domain"
)

// Aggregator rolls funnel counters up into immutable performance windows
// per algorithm and version. Windows are half-open [start, end) and may
// not overlap for the same algorithm and version.
type Aggregator struct {
	logger  *logrus.Logger
	matches domain.MatchResultStore
	windows domain.PerformanceStore
}

// NewAggregator creates a new performance aggregator
func NewAggregator(matches domain.MatchResultStore, windows domain.PerformanceStore, logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		logger:  logger,
		matches: matches,
		windows: windows,
	}
}

// Aggregate computes funnel rates for all match results created inside the
// window and persists them as a performance snapshot. Rates with a zero
// denominator are reported as zero rather than NaN.
func (a *Aggregator) Aggregate(ctx context.Context, algorithm string, version int, start, end time.Time) (*domain.PerformanceWindow, error) {
	if algorithm == "" {
		return nil, domain.NewValidationError("algorithm", "algorithm is required", algorithm)
	}
	if !start.Before(end) {
		return nil, domain.NewValidationError("period_start", "window start must precede window end", start)
	}

	stats, err := a.matches.WindowStats(ctx, algorithm, version, start, end)
	if err != nil {
		return nil, fmt.Errorf("aggregating window stats: %w", err)
	}

	window := &domain.PerformanceWindow{
		Algorithm:            algorithm,
		AlgorithmVersion:     version,
		PeriodStart:          start,
		PeriodEnd:            end,
		TotalRecommendations: stats.Total,
		SuccessfulMatches:    stats.Converted,
		ClickThroughRate:     ratio(stats.Viewed, stats.Total),
		ConversionRate:       ratio(stats.Converted, stats.Total),
		RetentionRate:        ratio(stats.Retained, stats.Converted),
		AverageMatchScore:    stats.AverageScore,
		AverageSatisfaction:  stats.AverageSatisfaction,
	}

	if err := a.windows.Create(ctx, window); err != nil {
		a.logger.WithFields(logrus.Fields{
			"algorithm": algorithm,
			"version":   version,
			"start":     start,
			"end":       end,
		}).WithError(err).Error("Failed to persist performance window")
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"algorithm":       algorithm,
		"version":         version,
		"total":           stats.Total,
		"conversion_rate": window.ConversionRate,
		"retention_rate":  window.RetentionRate,
	}).Info("Performance window aggregated")

	return window, nil
}

// List returns stored windows for an algorithm, most recent period first
func (a *Aggregator) List(ctx context.Context, algorithm string, limit int) ([]*domain.PerformanceWindow, error) {
	return a.windows.List(ctx, algorithm, limit)
}

// TopTherapists reports therapists ranked by converted matches since the
// given time. A nil since means all history.
func (a *Aggregator) TopTherapists(ctx context.Context, since *time.Time, limit int) ([]*domain.TherapistPerformance, error) {
	return a.matches.TopTherapists(ctx, since, limit)
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}
