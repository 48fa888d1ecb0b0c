package failures

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"zenus/internal/intent"
	"zenus/internal/logging"

	_ "modernc.org/sqlite"
)

// Failure is one logged execution error with its surrounding state.
type Failure struct {
	ID           int64
	Timestamp    time.Time
	UserInput    string
	IntentGoal   string
	Tool         string
	ErrorType    string
	ErrorMessage string
	Context      map[string]any
	Resolution   string
}

// Pattern aggregates recurring failures sharing a normalized signature.
type Pattern struct {
	Hash            string
	Tool            string
	ErrorType       string
	Normalized      string
	Count           int
	LastSeen        time.Time
	SuggestedFix    string
	SuccessAfterFix float64
}

// PreAnalysis is the pre-execution risk assessment for a plan.
type PreAnalysis struct {
	SuccessProbability float64
	Warnings           []string
	Suggestions        []string
}

// PostAnalysis explains a failure after the fact.
type PostAnalysis struct {
	ErrorType       string
	Suggestions     []string
	SimilarFailures int
	Recurring       bool
	RecoveryPlan    []string
}

// Store persists failures and their aggregated patterns.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) failures.db at path and ensures the schema.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open failures db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Failures("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Failures("failed to set journal_mode=WAL: %v", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		user_input TEXT,
		intent_goal TEXT,
		tool TEXT NOT NULL,
		error_type TEXT NOT NULL,
		error_message TEXT NOT NULL,
		context TEXT,
		resolution TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_failures_tool ON failures(tool);
	CREATE INDEX IF NOT EXISTS idx_failures_error_type ON failures(error_type);

	CREATE TABLE IF NOT EXISTS failure_patterns (
		pattern_hash TEXT PRIMARY KEY,
		tool TEXT NOT NULL,
		error_type TEXT NOT NULL,
		normalized_message TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		last_seen DATETIME NOT NULL,
		suggested_fix TEXT,
		success_after_fix REAL NOT NULL DEFAULT 0
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create failures schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Log appends a failure and upserts its pattern row. The error type is
// derived when the caller left it empty.
func (s *Store) Log(f Failure) error {
	if f.ErrorType == "" {
		f.ErrorType = Categorize(f.ErrorMessage)
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	ctxJSON, _ := json.Marshal(f.Context)

	_, err := s.db.Exec(`
		INSERT INTO failures (timestamp, user_input, intent_goal, tool, error_type, error_message, context, resolution)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Timestamp, f.UserInput, f.IntentGoal, f.Tool, f.ErrorType, f.ErrorMessage, string(ctxJSON), f.Resolution)
	if err != nil {
		return fmt.Errorf("failed to log failure: %w", err)
	}

	hash := PatternHash(f.Tool, f.ErrorType, f.ErrorMessage)
	_, err = s.db.Exec(`
		INSERT INTO failure_patterns (pattern_hash, tool, error_type, normalized_message, count, last_seen)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(pattern_hash) DO UPDATE SET count = count + 1, last_seen = excluded.last_seen`,
		hash, f.Tool, f.ErrorType, Normalize(f.ErrorMessage), f.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert pattern: %w", err)
	}

	logging.Failures("%s.%s: %s", f.Tool, f.ErrorType, Normalize(f.ErrorMessage))
	return nil
}

// RecordFixSuccess credits a pattern after a suggested fix worked.
func (s *Store) RecordFixSuccess(patternHash, fix string) error {
	_, err := s.db.Exec(`
		UPDATE failure_patterns
		SET success_after_fix = success_after_fix + 1, suggested_fix = ?
		WHERE pattern_hash = ?`, fix, patternHash)
	return err
}

// PreAnalyze derates the base success probability by each step tool's
// failure history and merges known-fix suggestions.
func (s *Store) PreAnalyze(steps []intent.Step, base float64) PreAnalysis {
	analysis := PreAnalysis{SuccessProbability: base}
	seen := map[string]bool{}

	for _, step := range steps {
		if seen[step.Tool] {
			continue
		}
		seen[step.Tool] = true

		count, categories := s.similarForTool(step.Tool)
		switch {
		case count >= 3:
			analysis.SuccessProbability *= 0.5
		case count == 2:
			analysis.SuccessProbability *= 0.7
		case count == 1:
			analysis.SuccessProbability *= 0.85
		default:
			continue
		}
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("%s has %d recorded failure(s)", step.Tool, count))
		for _, cat := range categories {
			analysis.Suggestions = append(analysis.Suggestions, StaticHints(cat)...)
		}
		analysis.Suggestions = append(analysis.Suggestions, s.learnedSuggestions(step.Tool)...)
	}
	analysis.Suggestions = dedupe(analysis.Suggestions)
	return analysis
}

// PostAnalyze categorizes a fresh failure against history.
func (s *Store) PostAnalyze(tool, errorMessage string) PostAnalysis {
	category := Categorize(errorMessage)
	analysis := PostAnalysis{ErrorType: category}

	hash := PatternHash(tool, category, errorMessage)
	var count int
	if err := s.db.QueryRow(
		`SELECT count FROM failure_patterns WHERE pattern_hash = ?`, hash).Scan(&count); err == nil {
		analysis.SimilarFailures = count
		analysis.Recurring = count >= 3
	}

	suggestions := append([]string{}, StaticHints(category)...)
	suggestions = append(suggestions, s.learnedSuggestions(tool)...)
	suggestions = dedupe(suggestions)
	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	analysis.Suggestions = suggestions

	if category != CategoryUnknown {
		analysis.RecoveryPlan = StaticHints(category)
	}
	return analysis
}

// Recent returns the latest failures, newest first.
func (s *Store) Recent(limit int) ([]Failure, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, user_input, intent_goal, tool, error_type, error_message,
		       COALESCE(context, ''), COALESCE(resolution, '')
		FROM failures ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var ctxJSON string
		if err := rows.Scan(&f.ID, &f.Timestamp, &f.UserInput, &f.IntentGoal,
			&f.Tool, &f.ErrorType, &f.ErrorMessage, &ctxJSON, &f.Resolution); err != nil {
			return nil, err
		}
		if ctxJSON != "" {
			_ = json.Unmarshal([]byte(ctxJSON), &f.Context)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// similarForTool counts past failures for a tool and the categories seen.
func (s *Store) similarForTool(tool string) (int, []string) {
	rows, err := s.db.Query(`
		SELECT error_type, COUNT(*) FROM failures WHERE tool = ? GROUP BY error_type`, tool)
	if err != nil {
		return 0, nil
	}
	defer rows.Close()

	total := 0
	var categories []string
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			continue
		}
		total += n
		categories = append(categories, cat)
	}
	return total, categories
}

// learnedSuggestions returns fixes from patterns that actually worked more
// than half the time.
func (s *Store) learnedSuggestions(tool string) []string {
	rows, err := s.db.Query(`
		SELECT suggested_fix FROM failure_patterns
		WHERE tool = ? AND suggested_fix IS NOT NULL AND suggested_fix != ''
		  AND success_after_fix > 0.5 * count
		ORDER BY count DESC`, tool)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fix string
		if err := rows.Scan(&fix); err == nil {
			out = append(out, fix)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
