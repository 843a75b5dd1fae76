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

// CompatibilityRepository handles per-pair assessment persistence
type CompatibilityRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewCompatibilityRepository creates a new compatibility repository
func NewCompatibilityRepository(db *pgxpool.Pool, logger *logrus.Logger) *CompatibilityRepository {
	return &CompatibilityRepository{
		db:  db,
		log: logger,
	}
}

// Upsert stores an assessment, replacing any existing one for the pair
// wholesale. Assessments carry no history; only the latest analysis is kept.
func (r *CompatibilityRepository) Upsert(ctx context.Context, a *domain.CompatibilityAssessment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	query := `
		INSERT INTO compatibility_assessments (
			id, client_id, therapist_id,
			communication_score, personality_score, cultural_score,
			format_score, duration_score, scheduling_score,
			age_score, gender_score, language_score,
			overall_score, strengths, concerns, recommendations, analysis_version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (client_id, therapist_id) DO UPDATE SET
			communication_score = EXCLUDED.communication_score,
			personality_score = EXCLUDED.personality_score,
			cultural_score = EXCLUDED.cultural_score,
			format_score = EXCLUDED.format_score,
			duration_score = EXCLUDED.duration_score,
			scheduling_score = EXCLUDED.scheduling_score,
			age_score = EXCLUDED.age_score,
			gender_score = EXCLUDED.gender_score,
			language_score = EXCLUDED.language_score,
			overall_score = EXCLUDED.overall_score,
			strengths = EXCLUDED.strengths,
			concerns = EXCLUDED.concerns,
			recommendations = EXCLUDED.recommendations,
			analysis_version = EXCLUDED.analysis_version,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		a.ID,
		a.ClientID,
		a.TherapistID,
		a.Dimensions.Communication,
		a.Dimensions.Personality,
		a.Dimensions.Cultural,
		a.Dimensions.Format,
		a.Dimensions.Duration,
		a.Dimensions.Scheduling,
		a.Dimensions.Age,
		a.Dimensions.Gender,
		a.Dimensions.Language,
		a.OverallScore,
		a.Strengths,
		a.Concerns,
		a.Recommendations,
		a.AnalysisVersion,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"client_id":    a.ClientID,
			"therapist_id": a.TherapistID,
			"error":        err,
		}).Error("Failed to upsert compatibility assessment")
		return fmt.Errorf("upserting compatibility assessment: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"client_id":        a.ClientID,
		"therapist_id":     a.TherapistID,
		"overall_score":    a.OverallScore,
		"analysis_version": a.AnalysisVersion,
	}).Info("Compatibility assessment stored")

	return nil
}

// GetByPair retrieves the latest assessment for a (client, therapist) pair
func (r *CompatibilityRepository) GetByPair(ctx context.Context, clientID, therapistID string) (*domain.CompatibilityAssessment, error) {
	query := `
		SELECT id, client_id, therapist_id,
			communication_score, personality_score, cultural_score,
			format_score, duration_score, scheduling_score,
			age_score, gender_score, language_score,
			overall_score, strengths, concerns, recommendations, analysis_version,
			created_at, updated_at
		FROM compatibility_assessments
		WHERE client_id = $1 AND therapist_id = $2`

	var a domain.CompatibilityAssessment
	err := r.db.QueryRow(ctx, query, clientID, therapistID).Scan(
		&a.ID,
		&a.ClientID,
		&a.TherapistID,
		&a.Dimensions.Communication,
		&a.Dimensions.Personality,
		&a.Dimensions.Cultural,
		&a.Dimensions.Format,
		&a.Dimensions.Duration,
		&a.Dimensions.Scheduling,
		&a.Dimensions.Age,
		&a.Dimensions.Gender,
		&a.Dimensions.Language,
		&a.OverallScore,
		&a.Strengths,
		&a.Concerns,
		&a.Recommendations,
		&a.AnalysisVersion,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("assessment for pair (%s, %s): %w", clientID, therapistID, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"client_id":    clientID,
			"therapist_id": therapistID,
			"error":        err,
		}).Error("Failed to get compatibility assessment")
		return nil, fmt.Errorf("getting compatibility assessment: %w", err)
	}

	return &a, nil
}
