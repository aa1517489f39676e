// Package audit provides PDR (Process Decision Record) journaling for
// state-mutating operations. The journal is a local sqlite file and is
// strictly best-effort: coordination correctness never depends on it, and
// a journal failure never fails the operation being recorded.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// PDRWriter appends decision records to the audit journal. The journal
// file is opened lazily on first Record so read-only invocations never
// touch the disk. Every method is nil-safe.
type PDRWriter struct {
	root string

	mu      sync.Mutex
	db      *sql.DB
	openErr error
	opened  bool
}

// NewPDRWriter prepares a journal under the coordination root.
func NewPDRWriter(root string) *PDRWriter {
	return &PDRWriter{root: root}
}

func (w *PDRWriter) open() (*sql.DB, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.opened {
		return w.db, w.openErr
	}
	w.opened = true

	dir := filepath.Join(w.root, "audit")
	if err := os.MkdirAll(dir, 0755); err != nil {
		w.openErr = fmt.Errorf("create audit directory: %w", err)
		return nil, w.openErr
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "pdr.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		w.openErr = fmt.Errorf("open audit db: %w", err)
		return nil, w.openErr
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		step_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		w.openErr = fmt.Errorf("migrate audit db: %w", err)
		return nil, w.openErr
	}
	w.db = db
	return db, nil
}

// Close releases the journal handle.
func (w *PDRWriter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Record writes one entry. Errors are returned for visibility but safe
// to ignore.
func (w *PDRWriter) Record(action string, inputs interface{}, outcome, stepID, details string) error {
	if w == nil {
		return nil
	}
	db, err := w.open()
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, step_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), action, hashInputs(inputs), outcome, stepID, details, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record pdr: %w", err)
	}
	return nil
}

// Entry is one journal row.
type Entry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	StepID     string    `json:"step_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Recent returns the newest entries, most recent first.
func (w *PDRWriter) Recent(limit int) ([]Entry, error) {
	if w == nil {
		return nil, nil
	}
	db, err := w.open()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		`SELECT id, action, inputs_hash, outcome, COALESCE(step_id, ''), COALESCE(details, ''), timestamp
		 FROM pdr ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &e.StepID, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
