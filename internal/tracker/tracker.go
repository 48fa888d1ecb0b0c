// Package tracker persists transactions, actions and checkpoints to an
// embedded SQLite store and derives the inverse operation for every recorded
// action. It is the source of truth the rollback engine replays from.
package tracker

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zenus/internal/logging"

	_ "modernc.org/sqlite"
)

// Transaction statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Rollback statuses for a transaction.
const (
	RollbackCompleted = "completed"
	RollbackPartial   = "partial"
	RollbackFailed    = "failed"
)

// ErrTransactionInProgress is returned by Begin when a transaction is already
// open. Exactly one transaction may be in progress per orchestrator.
var ErrTransactionInProgress = errors.New("transaction already in progress")

// ErrNoTransaction is returned when no transaction matches the request.
var ErrNoTransaction = errors.New("no such transaction")

// Transaction groups the actions of one utterance.
type Transaction struct {
	ID             string
	StartTime      time.Time
	EndTime        time.Time
	UserInput      string
	IntentGoal     string
	Status         string
	RollbackStatus string
}

// Action is one recorded, completed step together with its inverse.
type Action struct {
	ID               int64
	TransactionID    string
	Timestamp        time.Time
	Tool             string
	Operation        string
	Params           map[string]any
	Result           map[string]any
	RollbackPossible bool
	RollbackStrategy Strategy
	RollbackData     map[string]any
	RolledBack       bool
}

// Checkpoint is a named bundle of file backups.
type Checkpoint struct {
	Name          string
	TransactionID string
	Timestamp     time.Time
	Description   string
	BackupPaths   map[string]string // original path -> backup path
}

// Store is the embedded action store. All writes go through it; reads return
// actions in ascending id order.
type Store struct {
	mu         sync.Mutex
	db         *sql.DB
	backupsDir string
	openTxnID  string
}

// NewStore opens (or creates) actions.db at path and ensures the schema.
// backupsDir receives checkpoint file copies.
func NewStore(path, backupsDir string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryTracker, "NewStore")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open actions db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.TrackerDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.TrackerDebug("failed to set journal_mode=WAL: %v", err)
	}

	s := &Store{db: db, backupsDir: backupsDir}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Tracker("action store ready at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		user_input TEXT,
		intent_goal TEXT,
		status TEXT NOT NULL,
		rollback_status TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_start ON transactions(start_time);

	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transaction_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		tool TEXT NOT NULL,
		operation TEXT NOT NULL,
		params TEXT,
		result TEXT,
		rollback_possible BOOLEAN NOT NULL DEFAULT 0,
		rollback_strategy TEXT NOT NULL,
		rollback_data TEXT,
		rolled_back BOOLEAN NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_actions_transaction ON actions(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_actions_timestamp ON actions(timestamp);

	CREATE TABLE IF NOT EXISTS checkpoints (
		name TEXT PRIMARY KEY,
		transaction_id TEXT,
		timestamp DATETIME NOT NULL,
		description TEXT,
		backup_paths TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_transaction ON checkpoints(transaction_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// newTxnID returns a 96-bit hex transaction id.
func newTxnID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Fall back to a time-derived id; collisions are practically
		// impossible for a single-process store.
		return fmt.Sprintf("%024x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// Begin opens a transaction. Fails with ErrTransactionInProgress when one is
// already open.
func (s *Store) Begin(userInput, goal string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openTxnID != "" {
		return "", fmt.Errorf("%w: %s", ErrTransactionInProgress, s.openTxnID)
	}

	id := newTxnID()
	_, err := s.db.Exec(
		`INSERT INTO transactions (id, start_time, user_input, intent_goal, status) VALUES (?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), userInput, goal, StatusInProgress,
	)
	if err != nil {
		return "", fmt.Errorf("failed to open transaction: %w", err)
	}
	s.openTxnID = id
	logging.Tracker("transaction opened: %s (%q)", id, goal)
	return id, nil
}

// Record attaches a completed action to the open transaction (or a synthetic
// standalone bucket when none is open) and derives its rollback strategy.
func (s *Store) Record(tool, operation string, params, result map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txnID := s.openTxnID
	if txnID == "" {
		txnID = "standalone"
	}

	strategy, data, possible := deriveStrategy(tool, operation, params, result, func(path string) (string, bool) {
		return s.checkpointCovering(txnID, path)
	})

	paramsJSON, _ := json.Marshal(params)
	resultJSON, _ := json.Marshal(result)
	dataJSON, _ := json.Marshal(data)

	res, err := s.db.Exec(
		`INSERT INTO actions (transaction_id, timestamp, tool, operation, params, result,
			rollback_possible, rollback_strategy, rollback_data, rolled_back)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		txnID, time.Now().UTC(), tool, operation, string(paramsJSON), string(resultJSON),
		possible, string(strategy), string(dataJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record action: %w", err)
	}
	id, _ := res.LastInsertId()
	logging.TrackerDebug("recorded action %d: %s.%s (strategy=%s possible=%v)", id, tool, operation, strategy, possible)
	return id, nil
}

// End closes the transaction with the given status. Subsequent records land
// in the standalone bucket.
func (s *Store) End(txnID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE transactions SET status = ?, end_time = ? WHERE id = ?`,
		status, time.Now().UTC(), txnID,
	)
	if err != nil {
		return fmt.Errorf("failed to close transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNoTransaction, txnID)
	}
	if s.openTxnID == txnID {
		s.openTxnID = ""
	}
	logging.Tracker("transaction %s closed: %s", txnID, status)
	return nil
}

// OpenTransactionID returns the currently open transaction id, if any.
func (s *Store) OpenTransactionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openTxnID
}

// Checkpoint copies the referenced paths into <backups>/<name>/ and records
// the mapping. Names are unique.
func (s *Store) Checkpoint(name, description string, paths []string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.backupsDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w", err)
	}

	backups := make(map[string]string)
	for _, original := range paths {
		info, err := os.Stat(original)
		if err != nil || info.IsDir() {
			continue // missing paths and directories are skipped, not fatal
		}
		backup := filepath.Join(dir, filepath.Base(original))
		if err := copyFile(original, backup); err != nil {
			return nil, fmt.Errorf("failed to back up %s: %w", original, err)
		}
		backups[original] = backup
	}

	backupsJSON, _ := json.Marshal(backups)
	cp := &Checkpoint{
		Name:          name,
		TransactionID: s.openTxnID,
		Timestamp:     time.Now().UTC(),
		Description:   description,
		BackupPaths:   backups,
	}
	_, err := s.db.Exec(
		`INSERT INTO checkpoints (name, transaction_id, timestamp, description, backup_paths) VALUES (?, ?, ?, ?, ?)`,
		cp.Name, cp.TransactionID, cp.Timestamp, cp.Description, string(backupsJSON),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record checkpoint (name taken?): %w", err)
	}
	logging.Tracker("checkpoint %q created (%d files)", name, len(backups))
	return cp, nil
}

// checkpointCovering finds a checkpoint in txnID whose backups include path.
// Caller holds s.mu.
func (s *Store) checkpointCovering(txnID, path string) (string, bool) {
	rows, err := s.db.Query(`SELECT name, backup_paths FROM checkpoints WHERE transaction_id = ?`, txnID)
	if err != nil {
		return "", false
	}
	defer rows.Close()
	for rows.Next() {
		var name, backupsJSON string
		if err := rows.Scan(&name, &backupsJSON); err != nil {
			continue
		}
		var backups map[string]string
		if err := json.Unmarshal([]byte(backupsJSON), &backups); err != nil {
			continue
		}
		if _, ok := backups[path]; ok {
			return name, true
		}
	}
	return "", false
}

// GetCheckpoint loads a checkpoint by name.
func (s *Store) GetCheckpoint(name string) (*Checkpoint, error) {
	row := s.db.QueryRow(`SELECT name, transaction_id, timestamp, description, backup_paths FROM checkpoints WHERE name = ?`, name)
	var cp Checkpoint
	var backupsJSON string
	if err := row.Scan(&cp.Name, &cp.TransactionID, &cp.Timestamp, &cp.Description, &backupsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint %q not found", name)
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(backupsJSON), &cp.BackupPaths); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint record: %w", err)
	}
	return &cp, nil
}

// ListTransaction returns the actions of a transaction in insertion order.
func (s *Store) ListTransaction(txnID string) ([]Action, error) {
	rows, err := s.db.Query(
		`SELECT id, transaction_id, timestamp, tool, operation, params, result,
			rollback_possible, rollback_strategy, rollback_data, rolled_back
		 FROM actions WHERE transaction_id = ? ORDER BY id ASC`, txnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

// GetTransaction loads one transaction row.
func (s *Store) GetTransaction(txnID string) (*Transaction, error) {
	row := s.db.QueryRow(
		`SELECT id, start_time, COALESCE(end_time, start_time), COALESCE(user_input, ''),
			COALESCE(intent_goal, ''), status, COALESCE(rollback_status, '')
		 FROM transactions WHERE id = ?`, txnID)
	return scanTransaction(row)
}

// LastTransaction returns the most recently started transaction.
func (s *Store) LastTransaction() (*Transaction, error) {
	row := s.db.QueryRow(
		`SELECT id, start_time, COALESCE(end_time, start_time), COALESCE(user_input, ''),
			COALESCE(intent_goal, ''), status, COALESCE(rollback_status, '')
		 FROM transactions WHERE id != 'standalone' ORDER BY start_time DESC, rowid DESC LIMIT 1`)
	return scanTransaction(row)
}

// RecentTransactions returns up to limit transactions, newest first.
func (s *Store) RecentTransactions(limit int) ([]Transaction, error) {
	rows, err := s.db.Query(
		`SELECT id, start_time, COALESCE(end_time, start_time), COALESCE(user_input, ''),
			COALESCE(intent_goal, ''), status, COALESCE(rollback_status, '')
		 FROM transactions ORDER BY start_time DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.StartTime, &t.EndTime, &t.UserInput, &t.IntentGoal, &t.Status, &t.RollbackStatus); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentActions returns up to limit actions across all transactions, oldest
// first, for the pattern miner.
func (s *Store) RecentActions(limit int) ([]Action, error) {
	rows, err := s.db.Query(
		`SELECT id, transaction_id, timestamp, tool, operation, params, result,
			rollback_possible, rollback_strategy, rollback_data, rolled_back
		 FROM actions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	actions, err := scanActions(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(actions)-1; i < j; i, j = i+1, j-1 {
		actions[i], actions[j] = actions[j], actions[i]
	}
	return actions, nil
}

// MarkRolledBack flags an action as undone.
func (s *Store) MarkRolledBack(actionID int64) error {
	_, err := s.db.Exec(`UPDATE actions SET rolled_back = 1 WHERE id = ?`, actionID)
	return err
}

// SetRollbackStatus records the outcome of a transaction rollback.
func (s *Store) SetRollbackStatus(txnID, status string) error {
	_, err := s.db.Exec(`UPDATE transactions SET rollback_status = ? WHERE id = ?`, status, txnID)
	return err
}

func scanTransaction(row *sql.Row) (*Transaction, error) {
	var t Transaction
	if err := row.Scan(&t.ID, &t.StartTime, &t.EndTime, &t.UserInput, &t.IntentGoal, &t.Status, &t.RollbackStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTransaction
		}
		return nil, err
	}
	return &t, nil
}

func scanActions(rows *sql.Rows) ([]Action, error) {
	var out []Action
	for rows.Next() {
		var a Action
		var paramsJSON, resultJSON, dataJSON, strategy string
		if err := rows.Scan(&a.ID, &a.TransactionID, &a.Timestamp, &a.Tool, &a.Operation,
			&paramsJSON, &resultJSON, &a.RollbackPossible, &strategy, &dataJSON, &a.RolledBack); err != nil {
			return nil, err
		}
		a.RollbackStrategy = Strategy(strategy)
		_ = json.Unmarshal([]byte(paramsJSON), &a.Params)
		_ = json.Unmarshal([]byte(resultJSON), &a.Result)
		_ = json.Unmarshal([]byte(dataJSON), &a.RollbackData)
		out = append(out, a)
	}
	return out, rows.Err()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
