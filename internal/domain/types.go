// Package domain contains the core business entities and types for the
// therapist matching engine: weighted sub-score combination, per-pair
// compatibility assessment, the recommendation funnel, and algorithm
// performance bookkeeping.
package domain

import "errors"

// Algorithm sub-score names. Each names one of the five calculators whose
// outputs are combined into a total ranking score.
const (
	SubScoreCondition  = "condition"
	SubScoreApproach   = "approach"
	SubScoreExperience = "experience"
	SubScoreReview     = "review"
	SubScoreLogistics  = "logistics"
)

// SessionFormat represents how therapy sessions are delivered
type SessionFormat string

const (
	VIRTUAL   SessionFormat = "VIRTUAL"
	IN_PERSON SessionFormat = "IN_PERSON"
	PHONE     SessionFormat = "PHONE"
)

// Severity represents the client-reported severity of a condition
type Severity string

const (
	MILD     Severity = "MILD"
	MODERATE Severity = "MODERATE"
	SEVERE   Severity = "SEVERE"
)

// FunnelStage represents a milestone in a recommendation's lifecycle.
// Stages are ordered; a MatchResult only ever moves forward through them.
type FunnelStage string

const (
	ISSUED    FunnelStage = "ISSUED"
	VIEWED    FunnelStage = "VIEWED"
	CONTACTED FunnelStage = "CONTACTED"
	CLIENT    FunnelStage = "CLIENT"
)

// Sentinel errors for the matching engine
var (
	ErrNotFound          = errors.New("not found")
	ErrNoActiveWeightSet = errors.New("no active weight set")
	ErrInvalidTransition = errors.New("invalid funnel transition")
	ErrWindowOverlap     = errors.New("performance window overlaps an existing window")
	ErrVersionConflict   = errors.New("row version conflict")
)

// IsValid validates the session format
func (sf SessionFormat) IsValid() bool {
	switch sf {
	case VIRTUAL, IN_PERSON, PHONE:
		return true
	default:
		return false
	}
}

// IsValid validates the severity level
func (s Severity) IsValid() bool {
	switch s {
	case MILD, MODERATE, SEVERE:
		return true
	default:
		return false
	}
}

// IsValid validates the funnel stage
func (fs FunnelStage) IsValid() bool {
	switch fs {
	case ISSUED, VIEWED, CONTACTED, CLIENT:
		return true
	default:
		return false
	}
}

// Order returns the position of the stage in the funnel, ISSUED being 0.
// Unknown stages order before ISSUED so they can never satisfy a
// forward-transition check.
func (fs FunnelStage) Order() int {
	switch fs {
	case ISSUED:
		return 0
	case VIEWED:
		return 1
	case CONTACTED:
		return 2
	case CLIENT:
		return 3
	default:
		return -1
	}
}

// String returns the string representation of the funnel stage
func (fs FunnelStage) String() string {
	return string(fs)
}
