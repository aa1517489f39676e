// Package store provides file-backed persistence for the coordination
// directory. Every document is plain JSON written crash-atomically; the
// ledger is the only document guarded by a mutex.
package store

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ralphloop/ralph/internal/fsatomic"
	"github.com/ralphloop/ralph/internal/models"
)

const (
	ledgerFile     = "ralph-state.json"
	ledgerLockFile = "ralph-state.lock"
	stepsDir       = "steps"
	progressDir    = "progress"
	validationDir  = "validation"
	archiveDir     = "archive"

	// DefaultMutexTimeout bounds how long a caller waits on the ledger
	// mutex before failing.
	DefaultMutexTimeout = 10 * time.Second

	maxStepIDLen = 128
	maxOwnerEnc  = 40
)

// Sentinel errors for document state.
var (
	ErrLedgerExists  = errors.New("coordination directory already initialized")
	ErrLedgerMissing = errors.New("coordination directory not initialized")
	ErrCorrupt       = errors.New("corrupt document")
	ErrNotFound      = errors.New("not found")
)

// Store provides access to one coordination directory.
type Store struct {
	root         string
	mutexTimeout time.Duration
}

// New creates a Store rooted at dir. The directory is not created until
// Init.
func New(dir string) *Store {
	return &Store{root: dir, mutexTimeout: DefaultMutexTimeout}
}

// Root returns the coordination directory path.
func (s *Store) Root() string {
	return s.root
}

// SetMutexTimeout overrides the ledger mutex wait bound.
func (s *Store) SetMutexTimeout(d time.Duration) {
	s.mutexTimeout = d
}

// --- Path helpers ---

// LedgerPath returns the path of the central state document.
func (s *Store) LedgerPath() string {
	return filepath.Join(s.root, ledgerFile)
}

// LedgerLockPath returns the path of the ledger mutex file.
func (s *Store) LedgerLockPath() string {
	return filepath.Join(s.root, ledgerLockFile)
}

// StepPath returns the path of a step document.
func (s *Store) StepPath(id string) string {
	return filepath.Join(s.root, stepsDir, id+".json")
}

// StepLockPath returns the path of a step's lock file.
func (s *Store) StepLockPath(id string) string {
	return filepath.Join(s.root, stepsDir, id+".lock")
}

// ProgressPath returns the per-owner progress document path. The owner id
// is encoded so arbitrary identifiers stay filesystem-safe.
func (s *Store) ProgressPath(owner string) string {
	return filepath.Join(s.root, progressDir, "worker-"+EncodeOwner(owner)+".json")
}

// ValidationPath returns the path of one iteration's validation record.
func (s *Store) ValidationPath(iteration int) string {
	return filepath.Join(s.root, validationDir, fmt.Sprintf("iteration-%d.json", iteration))
}

// ArchiveDir returns the archive parent directory.
func (s *Store) ArchiveDir() string {
	return filepath.Join(s.root, archiveDir)
}

// --- Validation helpers ---

// ValidateStepID rejects ids that could escape the steps directory or
// produce unusable filenames.
func ValidateStepID(id string) error {
	if id == "" {
		return fmt.Errorf("step id is empty")
	}
	if len(id) > maxStepIDLen {
		return fmt.Errorf("step id exceeds %d characters", maxStepIDLen)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("step id %q is not allowed", id)
	}
	if strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("step id contains path separator or null byte")
	}
	return nil
}

// ValidateDir rejects coordination roots that are absolute or traverse
// upward. The root must be a plain relative path.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("directory is empty")
	}
	if filepath.IsAbs(dir) {
		return fmt.Errorf("directory must be a relative path")
	}
	for _, seg := range strings.Split(filepath.ToSlash(dir), "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("directory must not contain %q segments", seg)
		}
	}
	return nil
}

// EncodeOwner maps a raw owner id to a filesystem-safe token. Long ids
// are truncated with a hash suffix so distinct owners cannot collide.
func EncodeOwner(owner string) string {
	enc := base64.RawURLEncoding.EncodeToString([]byte(owner))
	if len(enc) <= maxOwnerEnc {
		return enc
	}
	sum := sha256.Sum256([]byte(owner))
	return enc[:maxOwnerEnc] + "-" + hex.EncodeToString(sum[:4])
}

// --- Initialization ---

// Init creates the directory skeleton and the initial ledger. It fails
// with ErrLedgerExists if a ledger is already present.
func (s *Store) Init(ledger *models.Ledger) error {
	if _, err := os.Stat(s.LedgerPath()); err == nil {
		return ErrLedgerExists
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat ledger: %w", err)
	}

	for _, dir := range []string{s.root, filepath.Join(s.root, stepsDir), filepath.Join(s.root, progressDir), filepath.Join(s.root, validationDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	return s.writeLedger(ledger)
}

// --- Ledger operations ---

// ReadLedger loads the current ledger document. Reads are stale-tolerant
// and take no lock.
func (s *Store) ReadLedger() (*models.Ledger, error) {
	data, err := os.ReadFile(s.LedgerPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrLedgerMissing
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var ledger models.Ledger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("%w: ledger: %v", ErrCorrupt, err)
	}
	if ledger.Steps == nil {
		ledger.Steps = make(map[string]models.LedgerStep)
	}
	return &ledger, nil
}

func (s *Store) writeLedger(ledger *models.Ledger) error {
	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := fsatomic.WriteFile(s.LedgerPath(), data, 0644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// UpdateLedger applies fn to the ledger under the ledger mutex. The
// on-disk copy is re-read inside the critical section so a stale
// in-memory ledger can never clobber another process's update.
func (s *Store) UpdateLedger(fn func(*models.Ledger) error) error {
	return fsatomic.WithLock(s.LedgerLockPath(), s.mutexTimeout, func() error {
		ledger, err := s.ReadLedger()
		if err != nil {
			return err
		}
		if err := fn(ledger); err != nil {
			return err
		}
		return s.writeLedger(ledger)
	})
}

// --- Step operations ---

// ReadStep loads one step document. Missing files map to ErrNotFound,
// unparsable files to ErrCorrupt.
func (s *Store) ReadStep(id string) (*models.Step, error) {
	data, err := os.ReadFile(s.StepPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read step %s: %w", id, err)
	}

	var step models.Step
	if err := json.Unmarshal(data, &step); err != nil {
		return nil, fmt.Errorf("%w: step %s: %v", ErrCorrupt, id, err)
	}
	return &step, nil
}

// WriteStep persists one step document atomically.
func (s *Store) WriteStep(step *models.Step) error {
	data, err := json.MarshalIndent(step, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal step %s: %w", step.ID, err)
	}
	if err := fsatomic.WriteFile(s.StepPath(step.ID), data, 0644); err != nil {
		return fmt.Errorf("write step %s: %w", step.ID, err)
	}
	return nil
}

// ListStepIDs returns the ids of all step documents on disk, sorted.
func (s *Store) ListStepIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, stepsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list steps: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// --- Lock operations ---

// WriteStepLock creates the step's lock file exclusively. A lock already
// present surfaces as fsatomic.ErrLockHeld.
func (s *Store) WriteStepLock(id string, lock *models.Lock) error {
	data, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("marshal lock %s: %w", id, err)
	}
	return fsatomic.TryLock(s.StepLockPath(id), data)
}

// ReadStepLock loads the step's lock file.
func (s *Store) ReadStepLock(id string) (*models.Lock, error) {
	data, err := os.ReadFile(s.StepLockPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read lock %s: %w", id, err)
	}

	var lock models.Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("%w: lock %s: %v", ErrCorrupt, id, err)
	}
	return &lock, nil
}

// RemoveStepLock deletes the step's lock file.
func (s *Store) RemoveStepLock(id string) error {
	return fsatomic.Unlock(s.StepLockPath(id))
}

// ListLockPaths returns every lock file in the directory, ledger mutex
// included.
func (s *Store) ListLockPaths() ([]string, error) {
	var paths []string
	if _, err := os.Stat(s.LedgerLockPath()); err == nil {
		paths = append(paths, s.LedgerLockPath())
	}

	entries, err := os.ReadDir(filepath.Join(s.root, stepsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return paths, nil
		}
		return nil, fmt.Errorf("list locks: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".lock") {
			paths = append(paths, filepath.Join(s.root, stepsDir, entry.Name()))
		}
	}
	return paths, nil
}

// --- Progress operations ---

// AppendProgress records a completed step id in the owner's progress
// document, creating it on first use. Duplicate ids are kept out so
// idempotent completions do not inflate the record.
func (s *Store) AppendProgress(owner, stepID string, now time.Time) error {
	path := s.ProgressPath(owner)
	progress := models.Progress{Owner: owner}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &progress); err != nil {
			return fmt.Errorf("%w: progress for %s: %v", ErrCorrupt, owner, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read progress for %s: %w", owner, err)
	}

	for _, existing := range progress.StepsCompleted {
		if existing == stepID {
			return nil
		}
	}
	progress.Owner = owner
	progress.StepsCompleted = append(progress.StepsCompleted, stepID)
	progress.UpdatedAt = now

	out, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress for %s: %w", owner, err)
	}
	if err := fsatomic.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("write progress for %s: %w", owner, err)
	}
	return nil
}

// ListProgressPaths returns every progress document path.
func (s *Store) ListProgressPaths() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, progressDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list progress: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			paths = append(paths, filepath.Join(s.root, progressDir, entry.Name()))
		}
	}
	return paths, nil
}

// --- Validation operations ---

// WriteValidation persists one iteration's record atomically.
func (s *Store) WriteValidation(rec *models.ValidationRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal validation %d: %w", rec.Iteration, err)
	}
	if err := fsatomic.WriteFile(s.ValidationPath(rec.Iteration), data, 0644); err != nil {
		return fmt.Errorf("write validation %d: %w", rec.Iteration, err)
	}
	return nil
}

// ReadValidation loads the record for one iteration.
func (s *Store) ReadValidation(iteration int) (*models.ValidationRecord, error) {
	data, err := os.ReadFile(s.ValidationPath(iteration))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read validation %d: %w", iteration, err)
	}

	var rec models.ValidationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: validation %d: %v", ErrCorrupt, iteration, err)
	}
	return &rec, nil
}

// LatestValidation returns the record with the numerically greatest
// iteration. Filenames are parsed as decimal integers so iteration 10
// ranks above iteration 2; records that fail to parse are skipped.
func (s *Store) LatestValidation() (*models.ValidationRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, validationDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("list validations: %w", err)
	}

	var iterations []int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "iteration-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "iteration-"), ".json"))
		if err != nil {
			continue
		}
		iterations = append(iterations, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(iterations)))

	// A corrupt record falls back to the next best parsable one.
	for _, n := range iterations {
		rec, err := s.ReadValidation(n)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrCorrupt) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

// ListValidationPaths returns every validation record path.
func (s *Store) ListValidationPaths() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, validationDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list validations: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			paths = append(paths, filepath.Join(s.root, validationDir, entry.Name()))
		}
	}
	return paths, nil
}
