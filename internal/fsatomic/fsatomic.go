// Package fsatomic provides the crash-safe filesystem primitives the
// coordination directory is built on: atomic writes via temp-file rename,
// exclusive lock files via O_EXCL creation, and a bounded-wait mutex.
package fsatomic

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// LockRetryInterval is how often WithLock re-attempts acquisition.
const LockRetryInterval = 50 * time.Millisecond

// ErrLockHeld indicates the lock file already exists. It is the expected
// contention signal, distinct from real I/O errors.
var ErrLockHeld = errors.New("lock already held")

// ErrLockTimeout indicates WithLock gave up waiting for the lock.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// WriteFile writes data to path so that a reader never observes a partial
// file: the bytes go to a uniquely-named sibling first, then an atomic
// rename replaces the target. The temp file is best-effort removed on
// failure.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()[:8]))

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// TryLock creates the lock file with the given payload, failing with
// ErrLockHeld if it already exists. Creation is exclusive, so two racing
// callers can never both succeed.
func TryLock(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return ErrLockHeld
		}
		return fmt.Errorf("create lock file: %w", err)
	}

	_, writeErr := f.Write(payload)
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(path)
		return fmt.Errorf("write lock payload: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(path)
		return fmt.Errorf("close lock file: %w", closeErr)
	}
	return nil
}

// Unlock removes the lock file.
func Unlock(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// WithLock acquires path as a mutex, retrying every LockRetryInterval
// until timeout elapses, then runs fn. The lock is removed on every exit
// path, including a panic inside fn. Orphaned locks from crashed
// processes are not expired automatically; they must be cleared by
// cleanup or by hand.
func WithLock(path string, timeout time.Duration, fn func() error) error {
	deadline := time.Now().Add(timeout)
	for {
		err := TryLock(path, []byte(fmt.Sprintf("%d\n", os.Getpid())))
		if err == nil {
			break
		}
		if !errors.Is(err, ErrLockHeld) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, path)
		}
		time.Sleep(LockRetryInterval)
	}

	defer Unlock(path)
	return fn()
}
