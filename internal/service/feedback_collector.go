package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/therapist-match-engine/internal/domain"
	"github.com/therapist-match-engine/internal/feedback"
)

// FeedbackCollector captures explicit client feedback tied to one match
// result. Ratings outside 1-5 are rejected, never clamped; records are
// immutable once stored. Duplicate submission guarding is the caller's
// responsibility.
type FeedbackCollector struct {
	logger  *logrus.Logger
	matches domain.MatchResultStore
	store   feedback.Store
}

// NewFeedbackCollector creates a new feedback collector
func NewFeedbackCollector(matches domain.MatchResultStore, store feedback.Store, logger *logrus.Logger) *FeedbackCollector {
	return &FeedbackCollector{
		logger:  logger,
		matches: matches,
		store:   store,
	}
}

// SubmitFeedback validates the submission, confirms the referenced match
// result exists, and persists the record
func (c *FeedbackCollector) SubmitFeedback(ctx context.Context, sub *FeedbackSubmission) (*feedback.Record, error) {
	for field, score := range map[string]int{
		"relevance_rating":   sub.RelevanceRating,
		"accuracy_rating":    sub.AccuracyRating,
		"helpfulness_rating": sub.HelpfulnessRating,
		"overall_score":      sub.OverallScore,
	} {
		if score < 1 || score > 5 {
			return nil, domain.NewValidationError(field, "rating must be between 1 and 5", score)
		}
	}

	result, err := c.matches.GetByID(ctx, sub.MatchResultID)
	if err != nil {
		return nil, err
	}

	record := &feedback.Record{
		ClientID:          result.ClientID,
		TherapistID:       result.TherapistID,
		MatchResultID:     result.ID.String(),
		RelevanceRating:   sub.RelevanceRating,
		AccuracyRating:    sub.AccuracyRating,
		HelpfulnessRating: sub.HelpfulnessRating,
		FeedbackText:      sub.FeedbackText,
		SelectedTherapist: sub.SelectedTherapist,
		RejectionReason:   sub.RejectionReason,
		HadInitialSession: sub.HadInitialSession,
		ContinuedTherapy:  sub.ContinuedTherapy,
		OverallScore:      sub.OverallScore,
	}

	if err := c.store.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("storing feedback: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"match_result_id": sub.MatchResultID,
		"client_id":       result.ClientID,
		"therapist_id":    result.TherapistID,
		"overall_score":   sub.OverallScore,
		"selected":        sub.SelectedTherapist,
	}).Info("Feedback recorded")

	return record, nil
}

// ListForMatch returns all feedback submitted against one match result
func (c *FeedbackCollector) ListForMatch(ctx context.Context, matchResultID uuid.UUID) ([]*feedback.Record, error) {
	return c.store.GetByMatchResult(ctx, matchResultID.String())
}

// FeedbackSubmission holds one client's feedback on a recommendation
type FeedbackSubmission struct {
	MatchResultID     uuid.UUID `json:"match_result_id"`
	RelevanceRating   int       `json:"relevance_rating"`
	AccuracyRating    int       `json:"accuracy_rating"`
	HelpfulnessRating int       `json:"helpfulness_rating"`
	FeedbackText      string    `json:"feedback_text"`
	SelectedTherapist bool      `json:"selected_therapist"`
	RejectionReason   string    `json:"rejection_reason"`
	HadInitialSession bool      `json:"had_initial_session"`
	ContinuedTherapy  bool      `json:"continued_therapy"`
	OverallScore      int       `json:"overall_score"`
}
