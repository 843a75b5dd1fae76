package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/therapist-match-engine/internal/domain"
)

// WeightSource supplies the active weight set for an algorithm. Satisfied
// by the weights registry.
type WeightSource interface {
	Active(ctx context.Context, algorithm string) (*domain.WeightSet, error)
}

// Matcher ranks a candidate pool for one client by combining the five
// sub-scores through the active weight set. Ranking is a pure function of
// its inputs plus the active set: unchanged inputs and weights produce
// identical scores and ordering.
type Matcher struct {
	logger        *logrus.Logger
	weights       WeightSource
	scores        *ScoreEngine
	store         domain.MatchResultStore
	maxConcurrent int
}

// NewMatcher creates a new matcher
func NewMatcher(weights WeightSource, scores *ScoreEngine, store domain.MatchResultStore, cfg domain.MatchingConfig, logger *logrus.Logger) *Matcher {
	maxConcurrent := cfg.MaxConcurrentScorers
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Matcher{
		logger:        logger,
		weights:       weights,
		scores:        scores,
		store:         store,
		maxConcurrent: maxConcurrent,
	}
}

// Rank scores and orders a candidate pool for one client, persisting one
// MatchResult per candidate with the funnel zeroed. An absent or invalid
// active weight set aborts before any scoring; the engine never silently
// ranks with a default.
func (m *Matcher) Rank(ctx context.Context, req *RankRequest) ([]*domain.MatchResult, error) {
	if req.Client == nil {
		return nil, domain.NewValidationError("client", "client profile is required", nil)
	}

	// Step 1: load the active weight set, failing fast on configuration
	// problems.
	active, err := m.weights.Active(ctx, req.Algorithm)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveWeightSet) {
			m.logger.WithField("algorithm", req.Algorithm).Error("No active weight set for algorithm")
			return nil, domain.NewConfigError(
				fmt.Sprintf("algorithm %q has no active weight set", req.Algorithm),
				domain.ErrNoActiveWeightSet,
			)
		}
		return nil, fmt.Errorf("loading active weight set: %w", err)
	}
	if err := active.Weights.Validate(); err != nil {
		return nil, err
	}

	if len(req.Candidates) == 0 {
		m.logger.WithFields(logrus.Fields{
			"client_id": req.Client.ID,
			"algorithm": req.Algorithm,
		}).Info("Ranking skipped, empty candidate pool")
		return []*domain.MatchResult{}, nil
	}

	// Step 2: score candidates in parallel. Each worker writes only its
	// own slot, so the merge is deterministic regardless of completion
	// order.
	results := make([]*domain.MatchResult, len(req.Candidates))
	sem := make(chan struct{}, m.maxConcurrent)
	var wg sync.WaitGroup

	for i, therapist := range req.Candidates {
		wg.Add(1)
		go func(i int, therapist *domain.TherapistProfile) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = m.scoreCandidate(req.Client, therapist, active)
		}(i, therapist)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 3: strict ordering. Descending total score, therapist ID
	// tie-break for reproducibility.
	sort.Slice(results, func(a, b int) bool {
		if results[a].TotalScore != results[b].TotalScore {
			return results[a].TotalScore > results[b].TotalScore
		}
		return results[a].TherapistID < results[b].TherapistID
	})

	for i, r := range results {
		r.Rank = i + 1
		r.TotalRecommendations = len(results)
	}

	// Step 4: persist the audit trail.
	if err := m.store.CreateBatch(ctx, results); err != nil {
		return nil, fmt.Errorf("persisting ranked results: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"client_id":  req.Client.ID,
		"algorithm":  req.Algorithm,
		"version":    active.Version,
		"candidates": len(results),
		"top_score":  results[0].TotalScore,
	}).Info("Candidate pool ranked")

	return results, nil
}

// scoreCandidate evaluates one candidate and combines sub-scores through
// the weight set
func (m *Matcher) scoreCandidate(client *domain.ClientProfile, therapist *domain.TherapistProfile, active *domain.WeightSet) *domain.MatchResult {
	subs := m.scores.EvaluateAll(client, therapist)

	scores := domain.SubScores{
		Condition:  subs[domain.SubScoreCondition].Score,
		Approach:   subs[domain.SubScoreApproach].Score,
		Experience: subs[domain.SubScoreExperience].Score,
		Review:     subs[domain.SubScoreReview].Score,
		Logistics:  subs[domain.SubScoreLogistics].Score,
	}

	total := active.Weights.Condition*float64(scores.Condition) +
		active.Weights.Approach*float64(scores.Approach) +
		active.Weights.Experience*float64(scores.Experience) +
		active.Weights.Review*float64(scores.Review) +
		active.Weights.Logistics*float64(scores.Logistics)
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	return &domain.MatchResult{
		ClientID:          client.ID,
		TherapistID:       therapist.ID,
		Scores:            scores,
		TotalScore:        total,
		MatchedConditions: emptyIfNil(subs[domain.SubScoreCondition].Matched),
		MatchedApproaches: emptyIfNil(subs[domain.SubScoreApproach].Matched),
		Algorithm:         active.Algorithm,
		AlgorithmVersion:  active.Version,
		RowVersion:        1,
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// RankRequest holds the inputs to one ranking run
type RankRequest struct {
	Client     *domain.ClientProfile
	Candidates []*domain.TherapistProfile
	Algorithm  string
}
