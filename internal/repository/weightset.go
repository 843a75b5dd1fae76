// Package repository contains the PostgreSQL persistence layer for the
// matching engine's stores.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/therapist-match-engine/internal/domain"
)

// WeightSetRepository handles weight set persistence
type WeightSetRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewWeightSetRepository creates a new weight set repository
func NewWeightSetRepository(db *pgxpool.Pool, logger *logrus.Logger) *WeightSetRepository {
	return &WeightSetRepository{
		db:  db,
		log: logger,
	}
}

const weightSetColumns = `
	id, algorithm, label,
	condition_weight, approach_weight, experience_weight, review_weight, logistics_weight,
	active, version, created_at
`

func scanWeightSet(row pgx.Row) (*domain.WeightSet, error) {
	var ws domain.WeightSet
	err := row.Scan(
		&ws.ID,
		&ws.Algorithm,
		&ws.Label,
		&ws.Weights.Condition,
		&ws.Weights.Approach,
		&ws.Weights.Experience,
		&ws.Weights.Review,
		&ws.Weights.Logistics,
		&ws.Active,
		&ws.Version,
		&ws.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// Create inserts a new inactive weight set, assigning the next version
// number for its algorithm
func (r *WeightSetRepository) Create(ctx context.Context, set *domain.WeightSet) error {
	if set.ID == uuid.Nil {
		set.ID = uuid.New()
	}

	query := `
		INSERT INTO weight_sets (
			id, algorithm, label,
			condition_weight, approach_weight, experience_weight, review_weight, logistics_weight,
			active, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, FALSE,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM weight_sets WHERE algorithm = $2)
		)
		RETURNING version, created_at`

	err := r.db.QueryRow(ctx, query,
		set.ID,
		set.Algorithm,
		set.Label,
		set.Weights.Condition,
		set.Weights.Approach,
		set.Weights.Experience,
		set.Weights.Review,
		set.Weights.Logistics,
	).Scan(&set.Version, &set.CreatedAt)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"weight_set_id": set.ID,
			"algorithm":     set.Algorithm,
			"error":         err,
		}).Error("Failed to create weight set")
		return fmt.Errorf("creating weight set: %w", err)
	}

	set.Active = false

	r.log.WithFields(logrus.Fields{
		"weight_set_id": set.ID,
		"algorithm":     set.Algorithm,
		"version":       set.Version,
	}).Info("Weight set created")

	return nil
}

// GetByID retrieves a weight set by its ID
func (r *WeightSetRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WeightSet, error) {
	query := `SELECT` + weightSetColumns + `FROM weight_sets WHERE id = $1`

	ws, err := scanWeightSet(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("weight set %s: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"weight_set_id": id,
			"error":         err,
		}).Error("Failed to get weight set by ID")
		return nil, fmt.Errorf("getting weight set by ID: %w", err)
	}

	return ws, nil
}

// GetActive retrieves the single active weight set for an algorithm
func (r *WeightSetRepository) GetActive(ctx context.Context, algorithm string) (*domain.WeightSet, error) {
	query := `SELECT` + weightSetColumns + `FROM weight_sets WHERE algorithm = $1 AND active`

	ws, err := scanWeightSet(r.db.QueryRow(ctx, query, algorithm))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("algorithm %s: %w", algorithm, domain.ErrNoActiveWeightSet)
		}
		r.log.WithFields(logrus.Fields{
			"algorithm": algorithm,
			"error":     err,
		}).Error("Failed to get active weight set")
		return nil, fmt.Errorf("getting active weight set: %w", err)
	}

	return ws, nil
}

// Activate atomically swaps the active weight set for the candidate's
// algorithm. The previous active set is deactivated, the candidate
// activated, and an audit entry written, all in one transaction so readers
// never observe zero or two active sets.
func (r *WeightSetRepository) Activate(ctx context.Context, id uuid.UUID) (*domain.WeightSet, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning activation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	candidate, err := scanWeightSet(tx.QueryRow(ctx,
		`SELECT`+weightSetColumns+`FROM weight_sets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("weight set %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("locking candidate weight set: %w", err)
	}

	var oldID *uuid.UUID
	current, err := scanWeightSet(tx.QueryRow(ctx,
		`SELECT`+weightSetColumns+`FROM weight_sets WHERE algorithm = $1 AND active FOR UPDATE`,
		candidate.Algorithm))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("locking current active weight set: %w", err)
	}
	if err == nil && current.ID != candidate.ID {
		oldID = &current.ID
		if _, err := tx.Exec(ctx,
			`UPDATE weight_sets SET active = FALSE WHERE id = $1`, current.ID); err != nil {
			return nil, fmt.Errorf("deactivating previous weight set: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE weight_sets SET active = TRUE WHERE id = $1`, candidate.ID); err != nil {
		return nil, fmt.Errorf("activating weight set: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO weight_activations (id, algorithm, old_set_id, new_set_id)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), candidate.Algorithm, oldID, candidate.ID); err != nil {
		return nil, fmt.Errorf("writing activation audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing activation: %w", err)
	}

	candidate.Active = true

	r.log.WithFields(logrus.Fields{
		"weight_set_id": candidate.ID,
		"algorithm":     candidate.Algorithm,
		"version":       candidate.Version,
		"previous":      oldID,
	}).Info("Weight set activated")

	return candidate, nil
}

// ListActivations returns the most recent activation audit entries for an
// algorithm
func (r *WeightSetRepository) ListActivations(ctx context.Context, algorithm string, limit int) ([]*domain.WeightActivation, error) {
	query := `
		SELECT id, algorithm, old_set_id, new_set_id, activated_at
		FROM weight_activations
		WHERE algorithm = $1
		ORDER BY activated_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, algorithm, limit)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"algorithm": algorithm,
			"error":     err,
		}).Error("Failed to list weight activations")
		return nil, fmt.Errorf("listing weight activations: %w", err)
	}
	defer rows.Close()

	var activations []*domain.WeightActivation
	for rows.Next() {
		var a domain.WeightActivation
		if err := rows.Scan(&a.ID, &a.Algorithm, &a.OldSetID, &a.NewSetID, &a.ActivatedAt); err != nil {
			return nil, fmt.Errorf("scanning activation row: %w", err)
		}
		activations = append(activations, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activation rows: %w", err)
	}

	return activations, nil
}
