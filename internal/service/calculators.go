// Package service implements the matching engine: sub-score calculation,
// ranking, compatibility analysis, outcome tracking, and performance
// aggregation.
package service

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/therapist-match-engine/internal/domain"
)

// SubScoreResult is the output of one calculator for one pairing
type SubScoreResult struct {
	Name      string   `json:"name"`
	Score     int      `json:"score"`
	Matched   []string `json:"matched,omitempty"`
	Reasoning string   `json:"reasoning"`
}

// Calculator is an individual sub-score implementation. Calculators are
// pure and total: any valid profile pair produces a score in [0,100],
// never an error.
type Calculator struct {
	Name        string
	Description string
	Evaluate    func(client *domain.ClientProfile, therapist *domain.TherapistProfile) SubScoreResult
}

// ScoreEngine evaluates the five sub-score calculators for a pairing
type ScoreEngine struct {
	logger      *logrus.Logger
	cfg         domain.ScoringConfig
	calculators map[string]*Calculator
}

// NewScoreEngine creates a new score engine with all calculators registered
func NewScoreEngine(cfg domain.ScoringConfig, logger *logrus.Logger) *ScoreEngine {
	engine := &ScoreEngine{
		logger:      logger,
		cfg:         cfg,
		calculators: make(map[string]*Calculator),
	}

	engine.initializeCalculators()

	return engine
}

// EvaluateAll runs every calculator for one (client, therapist) pairing
func (e *ScoreEngine) EvaluateAll(client *domain.ClientProfile, therapist *domain.TherapistProfile) map[string]SubScoreResult {
	results := make(map[string]SubScoreResult, len(e.calculators))
	for name, calc := range e.calculators {
		results[name] = calc.Evaluate(client, therapist)
	}

	e.logger.WithFields(logrus.Fields{
		"client_id":    client.ID,
		"therapist_id": therapist.ID,
		"condition":    results[domain.SubScoreCondition].Score,
		"approach":     results[domain.SubScoreApproach].Score,
		"experience":   results[domain.SubScoreExperience].Score,
		"review":       results[domain.SubScoreReview].Score,
		"logistics":    results[domain.SubScoreLogistics].Score,
	}).Debug("Sub-scores evaluated")

	return results
}

// Evaluate runs a single named calculator
func (e *ScoreEngine) Evaluate(name string, client *domain.ClientProfile, therapist *domain.TherapistProfile) (SubScoreResult, bool) {
	calc, ok := e.calculators[name]
	if !ok {
		return SubScoreResult{}, false
	}
	return calc.Evaluate(client, therapist), true
}

// initializeCalculators registers the five sub-score calculators
func (e *ScoreEngine) initializeCalculators() {
	e.addCalculator(domain.SubScoreCondition, "Overlap between client conditions and therapist expertise", e.evaluateCondition)
	e.addCalculator(domain.SubScoreApproach, "Overlap between preferred and offered therapeutic approaches", e.evaluateApproach)
	e.addCalculator(domain.SubScoreExperience, "Saturating curve over years of practice", e.evaluateExperience)
	e.addCalculator(domain.SubScoreReview, "Aggregate rating weighted by review volume", e.evaluateReview)
	e.addCalculator(domain.SubScoreLogistics, "Language, format, budget, province, and insurance fit", e.evaluateLogistics)
}

func (e *ScoreEngine) addCalculator(name, description string, eval func(*domain.ClientProfile, *domain.TherapistProfile) SubScoreResult) {
	e.calculators[name] = &Calculator{
		Name:        name,
		Description: description,
		Evaluate:    eval,
	}
}

// evaluateCondition scores the overlap between the client's reported
// conditions and the therapist's areas of expertise. A client with no
// declared conditions scores 0: that is "no signal", not a penalty.
func (e *ScoreEngine) evaluateCondition(client *domain.ClientProfile, therapist *domain.TherapistProfile) SubScoreResult {
	conditions := client.ConditionNames()
	if len(conditions) == 0 {
		return SubScoreResult{
			Name:      domain.SubScoreCondition,
			Score:     0,
			Reasoning: "client declared no conditions",
		}
	}

	matched := intersect(conditions, therapist.Expertise)
	score := clampScore(100 * len(matched) / len(conditions))

	return SubScoreResult{
		Name:      domain.SubScoreCondition,
		Score:     score,
		Matched:   matched,
		Reasoning: overlapReasoning(len(matched), len(conditions), "conditions"),
	}
}

// evaluateApproach scores the overlap between the client's preferred
// approaches and those the therapist offers, under the same overlap
// formula and empty-input policy as the condition calculator.
func (e *ScoreEngine) evaluateApproach(client *domain.ClientProfile, therapist *domain.TherapistProfile) SubScoreResult {
	if len(client.PreferredApproaches) == 0 {
		return SubScoreResult{
			Name:      domain.SubScoreApproach,
			Score:     0,
			Reasoning: "client stated no approach preferences",
		}
	}

	matched := intersect(client.PreferredApproaches, therapist.Approaches)
	score := clampScore(100 * len(matched) / len(client.PreferredApproaches))

	return SubScoreResult{
		Name:      domain.SubScoreApproach,
		Score:     score,
		Matched:   matched,
		Reasoning: overlapReasoning(len(matched), len(client.PreferredApproaches), "approaches"),
	}
}

// evaluateExperience scores years of practice on a monotonically
// increasing, saturating curve: steep early gains, slower mid-career
// gains, then a capped tail. More experience never scores lower.
func (e *ScoreEngine) evaluateExperience(_ *domain.ClientProfile, therapist *domain.TherapistProfile) SubScoreResult {
	years := therapist.YearsExperience
	if years < 0 {
		years = 0
	}

	var score float64
	switch {
	case years <= 5:
		score = e.cfg.ExperienceEarlyRate * float64(years)
	case years <= 10:
		score = e.cfg.ExperienceEarlyRate*5 + e.cfg.ExperienceMidRate*float64(years-5)
	default:
		late := e.cfg.ExperienceLateRate * float64(years-10)
		if late > e.cfg.ExperienceLateCap {
			late = e.cfg.ExperienceLateCap
		}
		score = e.cfg.ExperienceEarlyRate*5 + e.cfg.ExperienceMidRate*5 + late
	}

	return SubScoreResult{
		Name:      domain.SubScoreExperience,
		Score:     clampScore(int(score)),
		Reasoning: "saturating curve over years of practice",
	}
}

// evaluateReview scores the therapist's aggregate rating and review
// volume. No reviews yet is a distinct case scoring a configurable
// neutral default, never an automatic 0; low review counts dampen the
// score rather than zeroing it.
func (e *ScoreEngine) evaluateReview(_ *domain.ClientProfile, therapist *domain.TherapistProfile) SubScoreResult {
	if therapist.ReviewCount <= 0 {
		return SubScoreResult{
			Name:      domain.SubScoreReview,
			Score:     clampScore(int(e.cfg.ReviewNeutralScore)),
			Reasoning: "no reviews yet, neutral default applied",
		}
	}

	rating := therapist.Rating
	if rating < 1 {
		rating = 1
	}
	if rating > 5 {
		rating = 5
	}

	base := (rating - 1) / 4 * 100
	bonus := float64(2 * therapist.ReviewCount)
	if bonus > 20 {
		bonus = 20
	}

	score := base + bonus
	reasoning := "rating with review volume bonus"
	if therapist.ReviewCount < e.cfg.LowReviewThreshold {
		score *= e.cfg.LowReviewFactor
		reasoning = "rating dampened for low review count"
	}

	return SubScoreResult{
		Name:      domain.SubScoreReview,
		Score:     clampScore(int(score)),
		Reasoning: reasoning,
	}
}

// logistics deduction and floor constants
const (
	budgetDeduction    = 40
	provinceDeduction  = 30
	formatDeduction    = 25
	insuranceDeduction = 20
	languageFloor      = 5
)

// evaluateLogistics scores practical compatibility: budget, province,
// insurance, and session format each deduct from a perfect 100. Zero
// shared languages floors the score at languageFloor regardless of every
// other factor, since therapy cannot proceed without a common language.
func (e *ScoreEngine) evaluateLogistics(client *domain.ClientProfile, therapist *domain.TherapistProfile) SubScoreResult {
	score := 100
	var notes []string

	if client.BudgetPerSession > 0 && therapist.HourlyRate > client.BudgetPerSession {
		score -= budgetDeduction
		notes = append(notes, "rate exceeds budget")
	}

	if client.Province != "" && therapist.Province != "" &&
		!strings.EqualFold(client.Province, therapist.Province) {
		score -= provinceDeduction
		notes = append(notes, "different province")
	}

	if client.HasInsurance && !therapist.AcceptsInsurance {
		score -= insuranceDeduction
		notes = append(notes, "insurance not accepted")
	}

	if len(client.SessionFormats) > 0 && !formatsOverlap(client.SessionFormats, therapist.SessionFormats) {
		score -= formatDeduction
		notes = append(notes, "no shared session format")
	}

	score = clampScore(score)

	if len(client.Languages) > 0 && len(intersect(client.Languages, therapist.Languages)) == 0 {
		if score > languageFloor {
			score = languageFloor
		}
		notes = append(notes, "no shared language")
	}

	reasoning := "full logistical fit"
	if len(notes) > 0 {
		reasoning = strings.Join(notes, "; ")
	}

	return SubScoreResult{
		Name:      domain.SubScoreLogistics,
		Score:     score,
		Reasoning: reasoning,
	}
}

// intersect returns the elements of a that appear in b, case-insensitively,
// preserving a's order and casing
func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}

	var matched []string
	for _, s := range a {
		if _, ok := set[strings.ToLower(strings.TrimSpace(s))]; ok {
			matched = append(matched, s)
		}
	}
	return matched
}

func formatsOverlap(a, b []domain.SessionFormat) bool {
	for _, fa := range a {
		for _, fb := range b {
			if fa == fb {
				return true
			}
		}
	}
	return false
}

// clampScore bounds a score to [0,100]. Out-of-range internal computation
// is a bug, not an error to propagate.
func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func overlapReasoning(matched, total int, noun string) string {
	if matched == 0 {
		return "no matching " + noun
	}
	if matched == total {
		return "all " + noun + " matched"
	}
	return "partial " + noun + " match"
}
