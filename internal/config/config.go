package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/viper"

	"github.com/therapist-match-engine/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/therapist-match-engine/")

	// Set environment variable prefix and enable automatic env binding
	viper.SetEnvPrefix("MATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "therapist_match")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "migrations")

	// Feedback store defaults
	viper.SetDefault("feedback.driver", "postgres")
	viper.SetDefault("feedback.sqlite_path", "data/feedback.db")

	// Scoring policy defaults. New therapists with no reviews score a
	// neutral 50 rather than 0; fewer than 3 reviews dampens the score.
	viper.SetDefault("scoring.review_neutral_score", 50.0)
	viper.SetDefault("scoring.low_review_threshold", 3)
	viper.SetDefault("scoring.low_review_factor", 0.8)
	viper.SetDefault("scoring.experience_early_rate", 8.0)
	viper.SetDefault("scoring.experience_mid_rate", 6.0)
	viper.SetDefault("scoring.experience_late_rate", 2.0)
	viper.SetDefault("scoring.experience_late_cap", 20.0)

	// Compatibility analyzer defaults
	viper.SetDefault("analyzer.version", "2.1")
	viper.SetDefault("analyzer.cache_size", 1024)
	viper.SetDefault("analyzer.weights.communication", 0.15)
	viper.SetDefault("analyzer.weights.personality", 0.15)
	viper.SetDefault("analyzer.weights.cultural", 0.10)
	viper.SetDefault("analyzer.weights.format", 0.10)
	viper.SetDefault("analyzer.weights.duration", 0.05)
	viper.SetDefault("analyzer.weights.scheduling", 0.15)
	viper.SetDefault("analyzer.weights.age", 0.05)
	viper.SetDefault("analyzer.weights.gender", 0.10)
	viper.SetDefault("analyzer.weights.language", 0.15)

	// Matching defaults
	viper.SetDefault("matching.max_concurrent_scorers", 8)
	viper.SetDefault("matching.funnel_retry_attempts", 3)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetScoringConfig returns sub-score calculator policy configuration
func (m *Manager) GetScoringConfig() *domain.ScoringConfig {
	return &m.config.Scoring
}

// GetAnalyzerConfig returns compatibility analyzer configuration
func (m *Manager) GetAnalyzerConfig() *domain.AnalyzerConfig {
	return &m.config.Analyzer
}

// GetMatchingConfig returns matcher execution configuration
func (m *Manager) GetMatchingConfig() *domain.MatchingConfig {
	return &m.config.Matching
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	// Validate database configuration
	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	// Validate feedback store configuration
	switch config.Feedback.Driver {
	case "postgres":
	case "sqlite":
		if config.Feedback.SQLitePath == "" {
			return fmt.Errorf("feedback sqlite path is required")
		}
	default:
		return fmt.Errorf("invalid feedback driver: %s", config.Feedback.Driver)
	}

	// Validate scoring policy
	if config.Scoring.ReviewNeutralScore < 0 || config.Scoring.ReviewNeutralScore > 100 {
		return fmt.Errorf("invalid review neutral score: %f", config.Scoring.ReviewNeutralScore)
	}
	if config.Scoring.LowReviewFactor <= 0 || config.Scoring.LowReviewFactor > 1 {
		return fmt.Errorf("invalid low review factor: %f", config.Scoring.LowReviewFactor)
	}

	// Analyzer dimension weights must sum to 1.0 within tolerance, same
	// contract as the ranking weight sets.
	if sum := config.Analyzer.Weights.Sum(); math.Abs(sum-1.0) > domain.WeightSumTolerance {
		return fmt.Errorf("analyzer dimension weights sum to %f, expected 1.0", sum)
	}
	if config.Analyzer.Version == "" {
		return fmt.Errorf("analyzer version is required")
	}

	// Validate matching configuration
	if config.Matching.MaxConcurrentScorers <= 0 {
		return fmt.Errorf("invalid max concurrent scorers: %d", config.Matching.MaxConcurrentScorers)
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database connection URL used by the
// migration runner and the feedback store
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(viper.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(viper.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}
