// Package weights manages the named, versioned coefficient sets used to
// combine sub-scores into a ranking score. Exactly one set is active per
// algorithm; activation validates the sum invariant and swaps atomically.
package weights

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/therapist-match-engine/internal/domain"
)

// Registry is the engine's read path for active weight sets. Reads serve
// from an in-memory snapshot swapped whole on activation, so a ranking run
// sees either the old or the new set, never a mix.
type Registry struct {
	store domain.WeightStore
	log   *logrus.Logger

	mu     sync.RWMutex
	active map[string]domain.WeightSet
}

// NewRegistry creates a new weight registry backed by the given store
func NewRegistry(store domain.WeightStore, logger *logrus.Logger) *Registry {
	return &Registry{
		store:  store,
		log:    logger,
		active: make(map[string]domain.WeightSet),
	}
}

// Define validates and persists a new inactive candidate set. The sum
// invariant is checked here as well as at activation so a bad set is
// caught as early as possible.
func (r *Registry) Define(ctx context.Context, set *domain.WeightSet) error {
	if set.Algorithm == "" {
		return domain.NewValidationError("algorithm", "algorithm name is required", set.Algorithm)
	}
	if err := set.Weights.Validate(); err != nil {
		return err
	}

	if err := r.store.Create(ctx, set); err != nil {
		return fmt.Errorf("defining weight set: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"weight_set_id": set.ID,
		"algorithm":     set.Algorithm,
		"version":       set.Version,
		"weight_sum":    set.Weights.Sum(),
	}).Info("Weight set defined")

	return nil
}

// Activate validates the candidate's sum invariant, performs the atomic
// store-level swap, and replaces the in-memory snapshot. Sets outside the
// tolerance are always rejected before any state changes.
func (r *Registry) Activate(ctx context.Context, id uuid.UUID) (*domain.WeightSet, error) {
	candidate, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := candidate.Weights.Validate(); err != nil {
		r.log.WithFields(logrus.Fields{
			"weight_set_id": id,
			"algorithm":     candidate.Algorithm,
			"weight_sum":    candidate.Weights.Sum(),
		}).Warn("Rejected weight set activation")
		return nil, err
	}

	activated, err := r.store.Activate(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.active[activated.Algorithm] = *activated
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"weight_set_id": activated.ID,
		"algorithm":     activated.Algorithm,
		"version":       activated.Version,
	}).Info("Weight set activated")

	return activated, nil
}

// Active returns the active weight set for an algorithm. Serves from the
// snapshot when warm; falls through to the store otherwise. Absence is a
// configuration error the caller must surface, never rank around.
func (r *Registry) Active(ctx context.Context, algorithm string) (*domain.WeightSet, error) {
	r.mu.RLock()
	if ws, ok := r.active[algorithm]; ok {
		r.mu.RUnlock()
		return &ws, nil
	}
	r.mu.RUnlock()

	ws, err := r.store.GetActive(ctx, algorithm)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.active[algorithm] = *ws
	r.mu.Unlock()

	return ws, nil
}

// Invalidate drops the cached snapshot for an algorithm, forcing the next
// read through to the store. Used when another process may have activated.
func (r *Registry) Invalidate(algorithm string) {
	r.mu.Lock()
	delete(r.active, algorithm)
	r.mu.Unlock()
}

// History returns the most recent activation audit entries for an algorithm
func (r *Registry) History(ctx context.Context, algorithm string, limit int) ([]*domain.WeightActivation, error) {
	return r.store.ListActivations(ctx, algorithm, limit)
}
