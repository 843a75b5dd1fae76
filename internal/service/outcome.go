package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/therapist-match-engine/internal/domain"
)

// OutcomeTracker records funnel events against previously emitted match
// results. Flags only ever transition false to true, in forward order:
// ISSUED, VIEWED, CONTACTED, CLIENT. Every operation is idempotent; a
// repeat call leaves the record identical and succeeds.
type OutcomeTracker struct {
	logger  *logrus.Logger
	store   domain.MatchResultStore
	retries int
}

// NewOutcomeTracker creates a new outcome tracker
func NewOutcomeTracker(store domain.MatchResultStore, cfg domain.MatchingConfig, logger *logrus.Logger) *OutcomeTracker {
	retries := cfg.FunnelRetryAttempts
	if retries <= 0 {
		retries = 3
	}
	return &OutcomeTracker{
		logger:  logger,
		store:   store,
		retries: retries,
	}
}

// Get returns one match result by ID
func (t *OutcomeTracker) Get(ctx context.Context, id uuid.UUID) (*domain.MatchResult, error) {
	return t.store.GetByID(ctx, id)
}

// ListByClient returns a client's match history, newest batch first
func (t *OutcomeTracker) ListByClient(ctx context.Context, clientID string, limit, offset int) ([]*domain.MatchResult, error) {
	return t.store.ListByClient(ctx, clientID, limit, offset)
}

// RecordViewed marks a recommendation as seen by the client
func (t *OutcomeTracker) RecordViewed(ctx context.Context, id uuid.UUID) error {
	return t.apply(ctx, id, "viewed", func(m *domain.MatchResult) (bool, error) {
		if m.WasViewed {
			return false, nil
		}
		m.WasViewed = true
		return true, nil
	})
}

// RecordContacted marks a recommendation as acted on: the client reached
// out to the therapist. Requires a prior viewed event.
func (t *OutcomeTracker) RecordContacted(ctx context.Context, id uuid.UUID) error {
	return t.apply(ctx, id, "contacted", func(m *domain.MatchResult) (bool, error) {
		if m.WasContacted {
			return false, nil
		}
		if !m.WasViewed {
			return false, fmt.Errorf("contacted before viewed: %w", domain.ErrInvalidTransition)
		}
		m.WasContacted = true
		return true, nil
	})
}

// RecordConversion marks the client as having become the therapist's
// client. Requires a prior contacted event; direct booking flows that
// skip contact are rejected rather than treated as a legitimate skip.
func (t *OutcomeTracker) RecordConversion(ctx context.Context, id uuid.UUID) error {
	return t.apply(ctx, id, "conversion", func(m *domain.MatchResult) (bool, error) {
		if m.BecameClient {
			return false, nil
		}
		if !m.WasContacted {
			return false, fmt.Errorf("conversion before contact: %w", domain.ErrInvalidTransition)
		}
		m.BecameClient = true
		return true, nil
	})
}

// RecordSessionCompleted increments the session counter. Sessions can only
// occur once the client converted.
func (t *OutcomeTracker) RecordSessionCompleted(ctx context.Context, id uuid.UUID) error {
	return t.apply(ctx, id, "session", func(m *domain.MatchResult) (bool, error) {
		if !m.BecameClient {
			return false, fmt.Errorf("session before conversion: %w", domain.ErrInvalidTransition)
		}
		m.SessionCount++
		return true, nil
	})
}

// RecordSatisfaction stores the client's 1-5 satisfaction score for a
// converted recommendation. Out-of-range scores are rejected, not clamped.
func (t *OutcomeTracker) RecordSatisfaction(ctx context.Context, id uuid.UUID, score int) error {
	if score < 1 || score > 5 {
		return domain.NewValidationError("satisfaction_score", "score must be between 1 and 5", score)
	}
	return t.apply(ctx, id, "satisfaction", func(m *domain.MatchResult) (bool, error) {
		if !m.BecameClient {
			return false, fmt.Errorf("satisfaction before conversion: %w", domain.ErrInvalidTransition)
		}
		if m.SatisfactionScore != nil && *m.SatisfactionScore == score {
			return false, nil
		}
		m.SatisfactionScore = &score
		return true, nil
	})
}

// apply reads the record, runs the mutation, and writes it back under
// optimistic versioning. A version conflict means another funnel event
// landed first; re-read and re-validate against the fresh state.
func (t *OutcomeTracker) apply(ctx context.Context, id uuid.UUID, event string, mutate func(*domain.MatchResult) (bool, error)) error {
	var lastErr error
	for attempt := 0; attempt < t.retries; attempt++ {
		result, err := t.store.GetByID(ctx, id)
		if err != nil {
			return err
		}

		changed, err := mutate(result)
		if err != nil {
			t.logger.WithFields(logrus.Fields{
				"match_result_id": id,
				"event":           event,
				"stage":           result.Stage(),
			}).Warn("Rejected funnel event")
			return err
		}
		if !changed {
			// Idempotent no-op
			return nil
		}

		err = t.store.UpdateFunnel(ctx, result)
		if err == nil {
			t.logger.WithFields(logrus.Fields{
				"match_result_id": id,
				"event":           event,
				"stage":           result.Stage(),
				"session_count":   result.SessionCount,
			}).Info("Funnel event recorded")
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("recording %s event after %d attempts: %w", event, t.retries, lastErr)
}
