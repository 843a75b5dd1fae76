package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/therapist-match-engine/internal/domain"
)

// PerformanceRepository handles algorithm performance window persistence
type PerformanceRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPerformanceRepository creates a new performance repository
func NewPerformanceRepository(db *pgxpool.Pool, logger *logrus.Logger) *PerformanceRepository {
	return &PerformanceRepository{
		db:  db,
		log: logger,
	}
}

// Create persists a computed window. The overlap check and the insert run
// in one transaction so two concurrent aggregations of overlapping windows
// cannot both land.
func (r *PerformanceRepository) Create(ctx context.Context, w *domain.PerformanceWindow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning window transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize writers for this algorithm+version, then check overlap.
	// Half-open windows: [start, end) touching at a boundary is fine.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2::text))`,
		w.Algorithm, w.AlgorithmVersion); err != nil {
		return fmt.Errorf("acquiring window lock: %w", err)
	}

	var overlaps bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM algorithm_performance_windows
			WHERE algorithm = $1 AND algorithm_version = $2
			  AND period_start < $4 AND period_end > $3
		)`,
		w.Algorithm, w.AlgorithmVersion, w.PeriodStart, w.PeriodEnd,
	).Scan(&overlaps)
	if err != nil {
		return fmt.Errorf("checking window overlap: %w", err)
	}
	if overlaps {
		return fmt.Errorf("window [%s, %s) for %s v%d: %w",
			w.PeriodStart.Format("2006-01-02"), w.PeriodEnd.Format("2006-01-02"),
			w.Algorithm, w.AlgorithmVersion, domain.ErrWindowOverlap)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO algorithm_performance_windows (
			id, algorithm, algorithm_version, period_start, period_end,
			total_recommendations, successful_matches,
			average_match_score, average_satisfaction,
			click_through_rate, conversion_rate, retention_rate
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`,
		w.ID,
		w.Algorithm,
		w.AlgorithmVersion,
		w.PeriodStart,
		w.PeriodEnd,
		w.TotalRecommendations,
		w.SuccessfulMatches,
		w.AverageMatchScore,
		w.AverageSatisfaction,
		w.ClickThroughRate,
		w.ConversionRate,
		w.RetentionRate,
	).Scan(&w.CreatedAt)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"algorithm": w.Algorithm,
			"version":   w.AlgorithmVersion,
			"error":     err,
		}).Error("Failed to insert performance window")
		return fmt.Errorf("inserting performance window: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing performance window: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"algorithm":    w.Algorithm,
		"version":      w.AlgorithmVersion,
		"period_start": w.PeriodStart,
		"period_end":   w.PeriodEnd,
		"total":        w.TotalRecommendations,
	}).Info("Performance window persisted")

	return nil
}

// List returns the most recent windows for an algorithm, newest period first
func (r *PerformanceRepository) List(ctx context.Context, algorithm string, limit int) ([]*domain.PerformanceWindow, error) {
	query := `
		SELECT id, algorithm, algorithm_version, period_start, period_end,
			total_recommendations, successful_matches,
			average_match_score, average_satisfaction,
			click_through_rate, conversion_rate, retention_rate, created_at
		FROM algorithm_performance_windows
		WHERE algorithm = $1
		ORDER BY period_start DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, algorithm, limit)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"algorithm": algorithm,
			"error":     err,
		}).Error("Failed to list performance windows")
		return nil, fmt.Errorf("listing performance windows: %w", err)
	}
	defer rows.Close()

	var windows []*domain.PerformanceWindow
	for rows.Next() {
		var w domain.PerformanceWindow
		err := rows.Scan(
			&w.ID,
			&w.Algorithm,
			&w.AlgorithmVersion,
			&w.PeriodStart,
			&w.PeriodEnd,
			&w.TotalRecommendations,
			&w.SuccessfulMatches,
			&w.AverageMatchScore,
			&w.AverageSatisfaction,
			&w.ClickThroughRate,
			&w.ConversionRate,
			&w.RetentionRate,
			&w.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning performance window row: %w", err)
		}
		windows = append(windows, &w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating performance window rows: %w", err)
	}

	return windows, nil
}
