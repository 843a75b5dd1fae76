package domain

import (
	"time"

	"github.com/google/uuid"
)

// WeightSumTolerance is the allowed deviation of a weight set's sum from 1.0.
const WeightSumTolerance = 0.01

// Weights holds the five sub-score coefficients combined into a total
// ranking score. An accepted set sums to 1.0 within WeightSumTolerance.
type Weights struct {
	Condition  float64 `json:"condition"`
	Approach   float64 `json:"approach"`
	Experience float64 `json:"experience"`
	Review     float64 `json:"review"`
	Logistics  float64 `json:"logistics"`
}

// Sum returns the total of all five coefficients
func (w Weights) Sum() float64 {
	return w.Condition + w.Approach + w.Experience + w.Review + w.Logistics
}

// Validate checks that every coefficient is in [0,1] and the set sums to
// 1.0 within tolerance. Violations are configuration errors, caught before
// any scoring occurs.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		SubScoreCondition:  w.Condition,
		SubScoreApproach:   w.Approach,
		SubScoreExperience: w.Experience,
		SubScoreReview:     w.Review,
		SubScoreLogistics:  w.Logistics,
	} {
		if v < 0 || v > 1 {
			return NewValidationError(name, "weight must be between 0 and 1", v)
		}
	}

	sum := w.Sum()
	if sum < 1.0-WeightSumTolerance || sum > 1.0+WeightSumTolerance {
		return NewConfigError("weights do not sum to 1.0", nil)
	}

	return nil
}

// WeightSet is a named, versioned collection of coefficients. Multiple
// historical sets may coexist per algorithm for audit purposes; exactly one
// is active at a time.
type WeightSet struct {
	ID        uuid.UUID `json:"id"`
	Algorithm string    `json:"algorithm"`
	Label     string    `json:"label"`
	Weights   Weights   `json:"weights"`
	Active    bool      `json:"active"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// WeightActivation is an audit entry written on every activation
type WeightActivation struct {
	ID          uuid.UUID  `json:"id"`
	Algorithm   string     `json:"algorithm"`
	OldSetID    *uuid.UUID `json:"old_set_id,omitempty"`
	NewSetID    uuid.UUID  `json:"new_set_id"`
	ActivatedAt time.Time  `json:"activated_at"`
}

// ClientCondition is a client-reported condition with its severity
type ClientCondition struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity,omitempty"`
}

// ClientProfile is the matching engine's view of a client seeking therapy.
// Supplied by the external profile-management subsystem.
type ClientProfile struct {
	ID                  string            `json:"id"`
	Conditions          []ClientCondition `json:"conditions"`
	PreferredApproaches []string          `json:"preferred_approaches"`
	SessionFormats      []SessionFormat   `json:"session_formats"`
	SessionLengthMin    int               `json:"session_length_min,omitempty"`
	Languages           []string          `json:"languages"`
	Availability        []string          `json:"availability,omitempty"`
	Age                 int               `json:"age,omitempty"`
	Gender              string            `json:"gender,omitempty"`
	PreferredGender     string            `json:"preferred_gender,omitempty"`
	PreferredAgeMin     int               `json:"preferred_age_min,omitempty"`
	PreferredAgeMax     int               `json:"preferred_age_max,omitempty"`
	CulturalBackground  string            `json:"cultural_background,omitempty"`
	CommunicationStyle  string            `json:"communication_style,omitempty"`
	PersonalityTraits   []string          `json:"personality_traits,omitempty"`
	BudgetPerSession    float64           `json:"budget_per_session,omitempty"`
	Province            string            `json:"province,omitempty"`
	HasInsurance        bool              `json:"has_insurance"`
}

// ConditionNames returns the names of the client's reported conditions
func (c *ClientProfile) ConditionNames() []string {
	names := make([]string, 0, len(c.Conditions))
	for _, cond := range c.Conditions {
		names = append(names, cond.Name)
	}
	return names
}

// TherapistProfile is the matching engine's view of a candidate therapist
type TherapistProfile struct {
	ID                 string          `json:"id"`
	Expertise          []string        `json:"expertise"`
	Approaches         []string        `json:"approaches"`
	YearsExperience    int             `json:"years_experience"`
	Rating             float64         `json:"rating"`
	ReviewCount        int             `json:"review_count"`
	Languages          []string        `json:"languages"`
	SessionFormats     []SessionFormat `json:"session_formats"`
	SessionLengths     []int           `json:"session_lengths,omitempty"`
	Availability       []string        `json:"availability,omitempty"`
	HourlyRate         float64         `json:"hourly_rate,omitempty"`
	Province           string          `json:"province,omitempty"`
	AcceptsInsurance   bool            `json:"accepts_insurance"`
	Age                int             `json:"age,omitempty"`
	Gender             string          `json:"gender,omitempty"`
	CulturalBackground string          `json:"cultural_background,omitempty"`
	CommunicationStyle string          `json:"communication_style,omitempty"`
	PersonalityTraits  []string        `json:"personality_traits,omitempty"`
}

// SubScores holds the five calculator outputs for one (client, therapist)
// pairing, each in [0,100].
type SubScores struct {
	Condition  int `json:"condition"`
	Approach   int `json:"approach"`
	Experience int `json:"experience"`
	Review     int `json:"review"`
	Logistics  int `json:"logistics"`
}

// MatchResult is one scored (client, therapist) pairing produced by a
// ranking run. Owned by the matcher at creation, mutated only by the
// outcome tracker thereafter, never deleted: it is the audit trail a
// recommendation's lifecycle is built on.
type MatchResult struct {
	ID                   uuid.UUID `json:"id"`
	ClientID             string    `json:"client_id"`
	TherapistID          string    `json:"therapist_id"`
	Scores               SubScores `json:"scores"`
	TotalScore           float64   `json:"total_score"`
	CompatibilityScore   *int      `json:"compatibility_score,omitempty"`
	MatchedConditions    []string  `json:"matched_conditions"`
	MatchedApproaches    []string  `json:"matched_approaches"`
	Rank                 int       `json:"rank"`
	TotalRecommendations int       `json:"total_recommendations"`
	WasViewed            bool      `json:"was_viewed"`
	WasContacted         bool      `json:"was_contacted"`
	BecameClient         bool      `json:"became_client"`
	SessionCount         int       `json:"session_count"`
	SatisfactionScore    *int      `json:"satisfaction_score,omitempty"`
	Algorithm            string    `json:"algorithm"`
	AlgorithmVersion     int       `json:"algorithm_version"`
	RowVersion           int       `json:"row_version"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Stage returns the furthest funnel stage the recommendation has reached
func (m *MatchResult) Stage() FunnelStage {
	switch {
	case m.BecameClient:
		return CLIENT
	case m.WasContacted:
		return CONTACTED
	case m.WasViewed:
		return VIEWED
	default:
		return ISSUED
	}
}

// DimensionScores holds the nine compatibility sub-dimension scores,
// each in [0,100].
type DimensionScores struct {
	Communication int `json:"communication"`
	Personality   int `json:"personality"`
	Cultural      int `json:"cultural"`
	Format        int `json:"format"`
	Duration      int `json:"duration"`
	Scheduling    int `json:"scheduling"`
	Age           int `json:"age"`
	Gender        int `json:"gender"`
	Language      int `json:"language"`
}

// CompatibilityAssessment is the finer-grained per-pair scoring pass used
// for explanation text and secondary ranking signals. One record per
// (client, therapist) pair, replaced wholesale on recompute.
type CompatibilityAssessment struct {
	ID              uuid.UUID       `json:"id"`
	ClientID        string          `json:"client_id"`
	TherapistID     string          `json:"therapist_id"`
	Dimensions      DimensionScores `json:"dimensions"`
	OverallScore    int             `json:"overall_score"`
	Strengths       []string        `json:"strengths"`
	Concerns        []string        `json:"concerns"`
	Recommendations []string        `json:"recommendations"`
	AnalysisVersion string          `json:"analysis_version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PerformanceWindow aggregates MatchResult rows for one algorithm+version
// over one [start, end) time window. Computed, never hand-edited; windows
// for the same algorithm+version must not overlap.
type PerformanceWindow struct {
	ID                   uuid.UUID `json:"id"`
	Algorithm            string    `json:"algorithm"`
	AlgorithmVersion     int       `json:"algorithm_version"`
	PeriodStart          time.Time `json:"period_start"`
	PeriodEnd            time.Time `json:"period_end"`
	TotalRecommendations int       `json:"total_recommendations"`
	SuccessfulMatches    int       `json:"successful_matches"`
	AverageMatchScore    float64   `json:"average_match_score"`
	AverageSatisfaction  *float64  `json:"average_satisfaction,omitempty"`
	ClickThroughRate     float64   `json:"click_through_rate"`
	ConversionRate       float64   `json:"conversion_rate"`
	RetentionRate        float64   `json:"retention_rate"`
	CreatedAt            time.Time `json:"created_at"`
}

// WindowStats is the raw cross-record aggregate a performance window is
// computed from
type WindowStats struct {
	Total               int      `json:"total"`
	Viewed              int      `json:"viewed"`
	Contacted           int      `json:"contacted"`
	Converted           int      `json:"converted"`
	Retained            int      `json:"retained"`
	AverageScore        float64  `json:"average_score"`
	AverageSatisfaction *float64 `json:"average_satisfaction,omitempty"`
}

// TherapistPerformance summarizes a therapist's converted matches over an
// optional window, for the operator analytics view
type TherapistPerformance struct {
	TherapistID      string  `json:"therapist_id"`
	ConvertedMatches int     `json:"converted_matches"`
	AverageScore     float64 `json:"average_score"`
}

// Configuration Models

// Config represents the main application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Feedback FeedbackConfig `mapstructure:"feedback"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Matching MatchingConfig `mapstructure:"matching"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// FeedbackConfig represents feedback store configuration
type FeedbackConfig struct {
	Driver     string `mapstructure:"driver"` // "postgres" or "sqlite"
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ScoringConfig holds the tunable sub-score calculator policy knobs
type ScoringConfig struct {
	// Review score policy: therapists with no reviews get a neutral
	// default instead of 0; low review counts apply a dampening factor.
	ReviewNeutralScore float64 `mapstructure:"review_neutral_score"`
	LowReviewThreshold int     `mapstructure:"low_review_threshold"`
	LowReviewFactor    float64 `mapstructure:"low_review_factor"`

	// Experience curve breakpoints: points per year in each band and the
	// cap on late-career gains.
	ExperienceEarlyRate float64 `mapstructure:"experience_early_rate"`
	ExperienceMidRate   float64 `mapstructure:"experience_mid_rate"`
	ExperienceLateRate  float64 `mapstructure:"experience_late_rate"`
	ExperienceLateCap   float64 `mapstructure:"experience_late_cap"`
}

// AnalyzerConfig holds the compatibility analyzer's dimension weights and
// version stamp. Weights are explicit configuration, not hidden constants.
type AnalyzerConfig struct {
	Version   string          `mapstructure:"version"`
	CacheSize int             `mapstructure:"cache_size"`
	Weights   AnalyzerWeights `mapstructure:"weights"`
}

// AnalyzerWeights holds the nine per-dimension weights used for the
// overall compatibility score
type AnalyzerWeights struct {
	Communication float64 `mapstructure:"communication"`
	Personality   float64 `mapstructure:"personality"`
	Cultural      float64 `mapstructure:"cultural"`
	Format        float64 `mapstructure:"format"`
	Duration      float64 `mapstructure:"duration"`
	Scheduling    float64 `mapstructure:"scheduling"`
	Age           float64 `mapstructure:"age"`
	Gender        float64 `mapstructure:"gender"`
	Language      float64 `mapstructure:"language"`
}

// Sum returns the total of the nine dimension weights
func (w AnalyzerWeights) Sum() float64 {
	return w.Communication + w.Personality + w.Cultural + w.Format +
		w.Duration + w.Scheduling + w.Age + w.Gender + w.Language
}

// MatchingConfig holds matcher/ranker execution settings
type MatchingConfig struct {
	MaxConcurrentScorers int `mapstructure:"max_concurrent_scorers"`
	FunnelRetryAttempts  int `mapstructure:"funnel_retry_attempts"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
