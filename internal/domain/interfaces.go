package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WeightStore defines the interface for weight set persistence
type WeightStore interface {
	Create(ctx context.Context, set *WeightSet) error
	GetByID(ctx context.Context, id uuid.UUID) (*WeightSet, error)
	GetActive(ctx context.Context, algorithm string) (*WeightSet, error)
	// Activate atomically deactivates the previous active set for the
	// algorithm, activates the candidate, and writes an audit entry.
	Activate(ctx context.Context, id uuid.UUID) (*WeightSet, error)
	ListActivations(ctx context.Context, algorithm string, limit int) ([]*WeightActivation, error)
}

// MatchResultStore defines the interface for ranked-recommendation persistence
type MatchResultStore interface {
	CreateBatch(ctx context.Context, results []*MatchResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*MatchResult, error)
	ListByClient(ctx context.Context, clientID string, limit, offset int) ([]*MatchResult, error)
	// UpdateFunnel persists funnel flags, session count, and satisfaction
	// guarded by the row version. Returns ErrVersionConflict when another
	// writer got there first; callers re-read and retry.
	UpdateFunnel(ctx context.Context, result *MatchResult) error
	WindowStats(ctx context.Context, algorithm string, version int, start, end time.Time) (*WindowStats, error)
	TopTherapists(ctx context.Context, since *time.Time, limit int) ([]*TherapistPerformance, error)
}

// CompatibilityStore defines the interface for per-pair assessment persistence
type CompatibilityStore interface {
	Upsert(ctx context.Context, assessment *CompatibilityAssessment) error
	GetByPair(ctx context.Context, clientID, therapistID string) (*CompatibilityAssessment, error)
}

// PerformanceStore defines the interface for aggregated window persistence
type PerformanceStore interface {
	// Create persists a computed window. Overlapping windows for the same
	// algorithm+version are rejected with ErrWindowOverlap.
	Create(ctx context.Context, window *PerformanceWindow) error
	List(ctx context.Context, algorithm string, limit int) ([]*PerformanceWindow, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetScoringConfig() *ScoringConfig
	GetAnalyzerConfig() *AnalyzerConfig
	GetMatchingConfig() *MatchingConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	IsProduction() bool
	IsDevelopment() bool
}
