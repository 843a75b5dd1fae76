// Package feedback provides storage for explicit client feedback on
// recommendations. Records are immutable after creation and feed the
// longitudinal comparison of algorithm variants.
package feedback

import (
	"context"
	"io"
	"time"
)

// Record is one client's feedback tied to one match result. Three 1-5
// sub-ratings, an outcome snapshot, and an overall satisfaction score.
type Record struct {
	ID                int64     `json:"id,omitempty"`
	ClientID          string    `json:"client_id"`
	TherapistID       string    `json:"therapist_id"`
	MatchResultID     string    `json:"match_result_id"`
	RelevanceRating   int       `json:"relevance_rating"`   // How relevant was the recommendation?
	AccuracyRating    int       `json:"accuracy_rating"`    // How accurate was the profile match?
	HelpfulnessRating int       `json:"helpfulness_rating"` // How helpful was the explanation?
	FeedbackText      string    `json:"feedback_text,omitempty"`
	SelectedTherapist bool      `json:"selected_therapist"`
	RejectionReason   string    `json:"rejection_reason,omitempty"`
	HadInitialSession bool      `json:"had_initial_session"`
	ContinuedTherapy  bool      `json:"continued_therapy"`
	OverallScore      int       `json:"overall_score"` // Overall satisfaction, 1-5
	CreatedAt         time.Time `json:"created_at"`
}

// Store defines the interface for feedback storage operations.
type Store interface {
	// Save appends a new feedback record. Records are never updated.
	Save(ctx context.Context, record *Record) error

	// GetByMatchResult returns all feedback for one match result,
	// oldest first.
	GetByMatchResult(ctx context.Context, matchResultID string) ([]*Record, error)

	// List returns feedback entries with pagination, newest first.
	List(ctx context.Context, limit, offset int) ([]*Record, error)

	// Count returns the total number of feedback entries.
	Count(ctx context.Context) (int64, error)

	// AverageOverallScore returns the mean overall satisfaction across
	// all records, or 0 when there are none.
	AverageOverallScore(ctx context.Context) (float64, error)

	// ExportJSON exports all feedback to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports feedback from a JSON reader. Records whose
	// match result already has feedback from the same client are skipped.
	// Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Records    []*Record `json:"records"`
}
