package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/therapist-match-engine/internal/domain"
)

// CompatibilityAnalyzer computes the nine-dimension compatibility
// assessment for a (client, therapist) pair. It is independent of the
// ranking weight registry: its dimension weights live in configuration
// and are versioned so historical assessments stay interpretable after
// the formula changes.
type CompatibilityAnalyzer struct {
	logger *logrus.Logger
	cfg    domain.AnalyzerConfig
	store  domain.CompatibilityStore
	cache  *lru.Cache[string, *domain.CompatibilityAssessment]
}

// NewCompatibilityAnalyzer creates a new analyzer with an LRU memo over
// recent assessments
func NewCompatibilityAnalyzer(cfg domain.AnalyzerConfig, store domain.CompatibilityStore, logger *logrus.Logger) (*CompatibilityAnalyzer, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, *domain.CompatibilityAssessment](size)
	if err != nil {
		return nil, fmt.Errorf("creating assessment cache: %w", err)
	}

	return &CompatibilityAnalyzer{
		logger: logger,
		cfg:    cfg,
		store:  store,
		cache:  cache,
	}, nil
}

// Analyze computes all nine dimensions, the weighted overall score, and
// the rule-based explanation text, then replaces the pair's stored
// assessment wholesale.
func (a *CompatibilityAnalyzer) Analyze(ctx context.Context, client *domain.ClientProfile, therapist *domain.TherapistProfile) (*domain.CompatibilityAssessment, error) {
	if client == nil || therapist == nil {
		return nil, domain.NewValidationError("profiles", "client and therapist profiles are required", nil)
	}

	dims := domain.DimensionScores{
		Communication: scoreCommunication(client, therapist),
		Personality:   scorePersonality(client, therapist),
		Cultural:      scoreCultural(client, therapist),
		Format:        scoreFormat(client, therapist),
		Duration:      scoreDuration(client, therapist),
		Scheduling:    scoreScheduling(client, therapist),
		Age:           scoreAge(client, therapist),
		Gender:        scoreGender(client, therapist),
		Language:      scoreLanguage(client, therapist),
	}

	assessment := &domain.CompatibilityAssessment{
		ClientID:        client.ID,
		TherapistID:     therapist.ID,
		Dimensions:      dims,
		OverallScore:    a.overallScore(dims),
		AnalysisVersion: a.cfg.Version,
	}
	a.buildNarrative(assessment)

	if err := a.store.Upsert(ctx, assessment); err != nil {
		return nil, fmt.Errorf("storing assessment: %w", err)
	}

	a.cache.Add(pairKey(client.ID, therapist.ID), assessment)

	a.logger.WithFields(logrus.Fields{
		"client_id":        client.ID,
		"therapist_id":     therapist.ID,
		"overall_score":    assessment.OverallScore,
		"analysis_version": assessment.AnalysisVersion,
		"concerns":         len(assessment.Concerns),
	}).Info("Compatibility assessment computed")

	return assessment, nil
}

// Get returns the latest stored assessment for a pair, serving repeat
// reads from the memo
func (a *CompatibilityAnalyzer) Get(ctx context.Context, clientID, therapistID string) (*domain.CompatibilityAssessment, error) {
	if assessment, ok := a.cache.Get(pairKey(clientID, therapistID)); ok {
		return assessment, nil
	}

	assessment, err := a.store.GetByPair(ctx, clientID, therapistID)
	if err != nil {
		return nil, err
	}

	a.cache.Add(pairKey(clientID, therapistID), assessment)
	return assessment, nil
}

// overallScore is the explicit weighted mean of the nine dimensions. The
// weights come from configuration and are validated to sum to 1.0.
func (a *CompatibilityAnalyzer) overallScore(d domain.DimensionScores) int {
	w := a.cfg.Weights
	total := w.Communication*float64(d.Communication) +
		w.Personality*float64(d.Personality) +
		w.Cultural*float64(d.Cultural) +
		w.Format*float64(d.Format) +
		w.Duration*float64(d.Duration) +
		w.Scheduling*float64(d.Scheduling) +
		w.Age*float64(d.Age) +
		w.Gender*float64(d.Gender) +
		w.Language*float64(d.Language)
	return clampScore(int(math.Round(total)))
}

// narrative thresholds: a dimension at or above strengthThreshold is
// called out as a strength, below concernThreshold as a concern
const (
	strengthThreshold = 85
	concernThreshold  = 70
)

// buildNarrative generates strengths, concerns, and recommendations from
// threshold rules on the sub-dimensions
func (a *CompatibilityAnalyzer) buildNarrative(assessment *domain.CompatibilityAssessment) {
	d := assessment.Dimensions
	dims := []struct {
		score    int
		strength string
		concern  string
	}{
		{d.Communication, "communication styles align well", "communication styles may differ"},
		{d.Personality, "strong personality fit", "personality fit is uncertain"},
		{d.Cultural, "shared cultural understanding", "differing cultural backgrounds"},
		{d.Format, "preferred session format is offered", "preferred session format is not offered"},
		{d.Duration, "session length matches preference", "session length differs from preference"},
		{d.Scheduling, "schedules overlap comfortably", "limited scheduling overlap"},
		{d.Age, "therapist age matches preference", "therapist age is outside the preferred range"},
		{d.Gender, "therapist gender matches preference", "therapist gender differs from preference"},
		{d.Language, "shared language for sessions", "no strong language match"},
	}

	strengths := []string{}
	concerns := []string{}
	for _, dim := range dims {
		switch {
		case dim.score >= strengthThreshold:
			strengths = append(strengths, dim.strength)
		case dim.score < concernThreshold:
			concerns = append(concerns, dim.concern)
		}
	}

	recommendations := []string{}
	switch {
	case assessment.OverallScore >= 80:
		recommendations = append(recommendations, "strong overall fit, consider booking an initial session")
	case assessment.OverallScore >= 60:
		recommendations = append(recommendations, "reasonable fit, review the noted concerns before booking")
	default:
		recommendations = append(recommendations, "weak fit, consider other candidates first")
	}
	if d.Language == 0 {
		recommendations = append(recommendations, "confirm a shared session language before proceeding")
	}
	if d.Scheduling < concernThreshold {
		recommendations = append(recommendations, "compare availability windows before the first session")
	}

	assessment.Strengths = strengths
	assessment.Concerns = concerns
	assessment.Recommendations = recommendations
}

func pairKey(clientID, therapistID string) string {
	return clientID + "|" + therapistID
}

// Dimension scorers. Missing data scores a documented neutral value rather
// than penalizing the pair for an incomplete profile.

func scoreCommunication(c *domain.ClientProfile, t *domain.TherapistProfile) int {
	if c.CommunicationStyle == "" || t.CommunicationStyle == "" {
		return 75
	}
	if strings.EqualFold(c.CommunicationStyle, t.CommunicationStyle) {
		return 95
	}
	return 60
}

func scorePersonality(c *domain.ClientProfile, t *domain.TherapistProfile) int {
	if len(c.PersonalityTraits) == 0 || len(t.PersonalityTraits) == 0 {
		return 70
	}
	shared := len(intersect(c.PersonalityTraits, t.PersonalityTraits))
	ratio := float64(shared) / float64(len(c.PersonalityTraits))
	return clampScore(int(40 + 60*ratio))
}

func scoreCultural(c *domain.ClientProfile, t *domain.TherapistProfile) int {
	if c.CulturalBackground == "" || t.CulturalBackground == "" {
		return 75
	}
	if strings.EqualFold(c.CulturalBackground, t.CulturalBackground) {
		return 95
	}
	return 55
}

func scoreFormat(c *domain.ClientProfile, t *domain.TherapistProfile) int {
	if len(c.SessionFormats) == 0 {
		return 80
	}
	if formatsOverlap(c.SessionFormats, t.SessionFormats) {
		return 100
	}
	return 30
}

func scoreDuration(c *domain.ClientProfile, t *domain.TherapistProfile) int {
	if c.SessionLengthMin <= 0 {
		return 80
	}
	if len(t.SessionLengths) == 0 {
		return 70
	}
	for _, l := range t.SessionLengths {
		diff := l - c.SessionLengthMin
		if diff < 0 {
			diff = -diff
		}
		if diff <= 15 {
			return 100
		}
	}
	return 60
}

func scoreScheduling(c *domain.ClientProfile, t *domain.TherapistProfile) int {
	if len(c.Availability) == 0 {
		return 75
	}
	if len(t.Availability) == 0 {
		return 65
	}
	if len(intersect(c.Availability, t.Availability)) > 0 {
		return 90
	}
	return 40
}

func scoreAge(c *domain.ClientProfile, t *domain.TherapistProfile) int {
	if c.PreferredAgeMin <= 0 && c.PreferredAgeMax <= 0 {
		return 80
	}
	if t.Age <= 0 {
		return 70
	}
	min, max := c.PreferredAgeMin, c.PreferredAgeMax
	if max <= 0 {
		max = 200
	}
	if t.Age >= min && t.Age <= max {
		return 100
	}
	if t.Age >= min-5 && t.Age <= max+5 {
		return 70
	}
	return 45
}

func scoreGender(c *domain.ClientProfile, t *domain.TherapistProfile) int {
	if c.PreferredGender == "" {
		return 85
	}
	if strings.EqualFold(c.PreferredGender, t.Gender) {
		return 100
	}
	return 40
}

func scoreLanguage(c *domain.ClientProfile, t *domain.TherapistProfile) int {
	if len(c.Languages) == 0 {
		return 75
	}
	if len(intersect(c.Languages, t.Languages)) > 0 {
		return 100
	}
	return 0
}
