package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/therapist-match-engine/internal/domain"
)

// MatchResultRepository handles ranked-recommendation persistence
type MatchResultRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewMatchResultRepository creates a new match result repository
func NewMatchResultRepository(db *pgxpool.Pool, logger *logrus.Logger) *MatchResultRepository {
	return &MatchResultRepository{
		db:  db,
		log: logger,
	}
}

const matchResultColumns = `
	id, client_id, therapist_id,
	condition_score, approach_score, experience_score, review_score, logistics_score,
	total_score, compatibility_score, matched_conditions, matched_approaches,
	rank, total_recommendations,
	was_viewed, was_contacted, became_client, session_count, satisfaction_score,
	algorithm, algorithm_version, row_version, created_at, updated_at
`

func scanMatchResult(row pgx.Row) (*domain.MatchResult, error) {
	var m domain.MatchResult
	err := row.Scan(
		&m.ID,
		&m.ClientID,
		&m.TherapistID,
		&m.Scores.Condition,
		&m.Scores.Approach,
		&m.Scores.Experience,
		&m.Scores.Review,
		&m.Scores.Logistics,
		&m.TotalScore,
		&m.CompatibilityScore,
		&m.MatchedConditions,
		&m.MatchedApproaches,
		&m.Rank,
		&m.TotalRecommendations,
		&m.WasViewed,
		&m.WasContacted,
		&m.BecameClient,
		&m.SessionCount,
		&m.SatisfactionScore,
		&m.Algorithm,
		&m.AlgorithmVersion,
		&m.RowVersion,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateBatch persists one ranking run's results in a single transaction.
// Either the whole batch lands or none of it does.
func (r *MatchResultRepository) CreateBatch(ctx context.Context, results []*domain.MatchResult) error {
	if len(results) == 0 {
		return nil
	}

	query := `
		INSERT INTO match_results (
			id, client_id, therapist_id,
			condition_score, approach_score, experience_score, review_score, logistics_score,
			total_score, compatibility_score, matched_conditions, matched_approaches,
			rank, total_recommendations, algorithm, algorithm_version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)`

	batch := &pgx.Batch{}
	for _, m := range results {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		batch.Queue(query,
			m.ID,
			m.ClientID,
			m.TherapistID,
			m.Scores.Condition,
			m.Scores.Approach,
			m.Scores.Experience,
			m.Scores.Review,
			m.Scores.Logistics,
			m.TotalScore,
			m.CompatibilityScore,
			m.MatchedConditions,
			m.MatchedApproaches,
			m.Rank,
			m.TotalRecommendations,
			m.Algorithm,
			m.AlgorithmVersion,
		)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for range results {
		if _, err := br.Exec(); err != nil {
			br.Close()
			r.log.WithFields(logrus.Fields{
				"client_id":  results[0].ClientID,
				"batch_size": len(results),
				"error":      err,
			}).Error("Failed to persist match result batch")
			return fmt.Errorf("inserting match result: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"client_id":  results[0].ClientID,
		"batch_size": len(results),
		"algorithm":  results[0].Algorithm,
	}).Info("Match result batch persisted")

	return nil
}

// GetByID retrieves a match result by its ID
func (r *MatchResultRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.MatchResult, error) {
	query := `SELECT` + matchResultColumns + `FROM match_results WHERE id = $1`

	m, err := scanMatchResult(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("match result %s: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"match_result_id": id,
			"error":           err,
		}).Error("Failed to get match result by ID")
		return nil, fmt.Errorf("getting match result by ID: %w", err)
	}

	return m, nil
}

// ListByClient retrieves a client's match results, most recent first
func (r *MatchResultRepository) ListByClient(ctx context.Context, clientID string, limit, offset int) ([]*domain.MatchResult, error) {
	query := `SELECT` + matchResultColumns + `
		FROM match_results
		WHERE client_id = $1
		ORDER BY created_at DESC, rank ASC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, clientID, limit, offset)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"client_id": clientID,
			"error":     err,
		}).Error("Failed to list match results by client")
		return nil, fmt.Errorf("listing match results by client: %w", err)
	}
	defer rows.Close()

	var results []*domain.MatchResult
	for rows.Next() {
		m, err := scanMatchResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match result row: %w", err)
		}
		results = append(results, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating match result rows: %w", err)
	}

	return results, nil
}

// UpdateFunnel persists the mutable lifecycle fields of a match result,
// guarded by the row version. A zero-row update against an existing row
// means another writer bumped the version first.
func (r *MatchResultRepository) UpdateFunnel(ctx context.Context, result *domain.MatchResult) error {
	query := `
		UPDATE match_results
		SET was_viewed = $2, was_contacted = $3, became_client = $4,
			session_count = $5, satisfaction_score = $6,
			row_version = row_version + 1, updated_at = NOW()
		WHERE id = $1 AND row_version = $7`

	tag, err := r.db.Exec(ctx, query,
		result.ID,
		result.WasViewed,
		result.WasContacted,
		result.BecameClient,
		result.SessionCount,
		result.SatisfactionScore,
		result.RowVersion,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"match_result_id": result.ID,
			"error":           err,
		}).Error("Failed to update match result funnel state")
		return fmt.Errorf("updating funnel state: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM match_results WHERE id = $1)`, result.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking match result existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("match result %s: %w", result.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("match result %s: %w", result.ID, domain.ErrVersionConflict)
	}

	result.RowVersion++
	return nil
}

// WindowStats aggregates match results for one algorithm+version created
// within [start, end). Satisfaction averages only over rows that have one.
func (r *MatchResultRepository) WindowStats(ctx context.Context, algorithm string, version int, start, end time.Time) (*domain.WindowStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE was_viewed),
			COUNT(*) FILTER (WHERE was_contacted),
			COUNT(*) FILTER (WHERE became_client),
			COUNT(*) FILTER (WHERE became_client AND session_count > 1),
			COALESCE(AVG(total_score), 0),
			AVG(satisfaction_score)
		FROM match_results
		WHERE algorithm = $1 AND algorithm_version = $2
		  AND created_at >= $3 AND created_at < $4`

	var stats domain.WindowStats
	err := r.db.QueryRow(ctx, query, algorithm, version, start, end).Scan(
		&stats.Total,
		&stats.Viewed,
		&stats.Contacted,
		&stats.Converted,
		&stats.Retained,
		&stats.AverageScore,
		&stats.AverageSatisfaction,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"algorithm": algorithm,
			"version":   version,
			"error":     err,
		}).Error("Failed to aggregate window stats")
		return nil, fmt.Errorf("aggregating window stats: %w", err)
	}

	return &stats, nil
}

// TopTherapists returns therapists ranked by converted matches, optionally
// restricted to results created since a point in time
func (r *MatchResultRepository) TopTherapists(ctx context.Context, since *time.Time, limit int) ([]*domain.TherapistPerformance, error) {
	query := `
		SELECT therapist_id, COUNT(*), AVG(total_score)
		FROM match_results
		WHERE became_client
		  AND ($1::timestamptz IS NULL OR created_at >= $1)
		GROUP BY therapist_id
		ORDER BY COUNT(*) DESC, AVG(total_score) DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, since, limit)
	if err != nil {
		r.log.WithError(err).Error("Failed to query top therapists")
		return nil, fmt.Errorf("querying top therapists: %w", err)
	}
	defer rows.Close()

	var performers []*domain.TherapistPerformance
	for rows.Next() {
		var p domain.TherapistPerformance
		if err := rows.Scan(&p.TherapistID, &p.ConvertedMatches, &p.AverageScore); err != nil {
			return nil, fmt.Errorf("scanning therapist performance row: %w", err)
		}
		performers = append(performers, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating therapist performance rows: %w", err)
	}

	return performers, nil
}
