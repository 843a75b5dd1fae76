package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite. Suited to
// standalone and development deployments without a PostgreSQL instance.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite feedback store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a row into a Record struct.
func scanRecord(s scanner) (*Record, error) {
	rec := &Record{}
	err := s.Scan(
		&rec.ID, &rec.ClientID, &rec.TherapistID, &rec.MatchResultID,
		&rec.RelevanceRating, &rec.AccuracyRating, &rec.HelpfulnessRating,
		&rec.FeedbackText, &rec.SelectedTherapist, &rec.RejectionReason,
		&rec.HadInitialSession, &rec.ContinuedTherapy, &rec.OverallScore,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS match_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id TEXT NOT NULL,
		therapist_id TEXT NOT NULL,
		match_result_id TEXT NOT NULL,
		relevance_rating INTEGER NOT NULL,
		accuracy_rating INTEGER NOT NULL,
		helpfulness_rating INTEGER NOT NULL,
		feedback_text TEXT DEFAULT '',
		selected_therapist INTEGER NOT NULL DEFAULT 0,
		rejection_reason TEXT DEFAULT '',
		had_initial_session INTEGER NOT NULL DEFAULT 0,
		continued_therapy INTEGER NOT NULL DEFAULT 0,
		overall_score INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_match_result ON match_feedback(match_result_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_therapist ON match_feedback(therapist_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON match_feedback(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

const recordColumns = `
	id, client_id, therapist_id, match_result_id,
	relevance_rating, accuracy_rating, helpfulness_rating,
	feedback_text, selected_therapist, rejection_reason,
	had_initial_session, continued_therapy, overall_score, created_at
`

// Save appends a new feedback record.
func (s *SQLiteStore) Save(ctx context.Context, record *Record) error {
	now := time.Now()
	record.CreatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO match_feedback (
			client_id, therapist_id, match_result_id,
			relevance_rating, accuracy_rating, helpfulness_rating,
			feedback_text, selected_therapist, rejection_reason,
			had_initial_session, continued_therapy, overall_score, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ClientID,
		record.TherapistID,
		record.MatchResultID,
		record.RelevanceRating,
		record.AccuracyRating,
		record.HelpfulnessRating,
		record.FeedbackText,
		record.SelectedTherapist,
		record.RejectionReason,
		record.HadInitialSession,
		record.ContinuedTherapy,
		record.OverallScore,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	record.ID = id

	return nil
}

// GetByMatchResult returns all feedback for one match result, oldest first.
func (s *SQLiteStore) GetByMatchResult(ctx context.Context, matchResultID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+recordColumns+`
		FROM match_feedback
		WHERE match_result_id = ?
		ORDER BY created_at ASC
	`, matchResultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// List returns feedback entries with pagination, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+recordColumns+`
		FROM match_feedback
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Count returns the total number of feedback entries.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM match_feedback").Scan(&count)
	return count, err
}

// AverageOverallScore returns the mean overall satisfaction, or 0 when
// there are no records.
func (s *SQLiteStore) AverageOverallScore(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, "SELECT AVG(overall_score) FROM match_feedback").Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to average: %w", err)
	}
	return avg.Float64, nil
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// ExportJSON exports all feedback to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}

	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now(),
		Count:      len(all),
		Records:    all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ImportJSON imports feedback from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, rec := range export.Records {
		existing, err := s.GetByMatchResult(ctx, rec.MatchResultID)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}

		if hasClientFeedback(existing, rec.ClientID) {
			skipped++
			continue
		}

		if err := s.Save(ctx, rec); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

// hasClientFeedback reports whether the client already submitted feedback
// among the given records
func hasClientFeedback(records []*Record, clientID string) bool {
	for _, r := range records {
		if r.ClientID == clientID {
			return true
		}
	}
	return false
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
