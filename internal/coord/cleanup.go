package coord

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// CleanupResult counts per-item outcomes of a best-effort operation.
type CleanupResult struct {
	Removed int `json:"removed,omitempty"`
	Copied  int `json:"copied,omitempty"`
	Failed  int `json:"failed"`
	// Dir is the archive destination, for Archive only.
	Dir string `json:"dir,omitempty"`
}

// CleanLocks removes every lock file, ledger mutex included. Individual
// failures are counted, not fatal; one bad file must not block the rest.
func (s *Service) CleanLocks() (*CleanupResult, error) {
	paths, err := s.store.ListLockPaths()
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result.Failed++
			continue
		}
		result.Removed++
	}
	s.pdr.Record("cleanup.locks", map[string]int{"removed": result.Removed, "failed": result.Failed}, "success", "", "")
	return result, nil
}

// Archive copies the ledger and all step, progress, and validation files
// into a fresh timestamp-named subdirectory. The copy is maximal
// salvage: failures are counted per file and never abort the run.
func (s *Service) Archive() (*CleanupResult, error) {
	stamp := fmt.Sprintf("iteration-%s-%s", s.now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
	dest := filepath.Join(s.store.ArchiveDir(), stamp)

	sources := []string{s.store.LedgerPath()}
	ids, err := s.store.ListStepIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		sources = append(sources, s.store.StepPath(id))
	}
	if paths, err := s.store.ListProgressPaths(); err == nil {
		sources = append(sources, paths...)
	}
	if paths, err := s.store.ListValidationPaths(); err == nil {
		sources = append(sources, paths...)
	}

	result := &CleanupResult{Dir: dest}
	for _, src := range sources {
		rel, err := filepath.Rel(s.store.Root(), src)
		if err != nil {
			result.Failed++
			continue
		}
		if err := copyFile(src, filepath.Join(dest, rel)); err != nil {
			result.Failed++
			continue
		}
		result.Copied++
	}
	s.pdr.Record("cleanup.archive", map[string]interface{}{"dir": dest, "copied": result.Copied, "failed": result.Failed}, "success", "", "")
	return result, nil
}

// Destroy removes the entire coordination directory. It requires the
// force flag and refuses to act when the resolved target is the current
// working directory, guarding against self-deletion via path confusion.
func (s *Service) Destroy(force bool) error {
	if !force {
		return fmt.Errorf("refusing to remove %s without force", s.store.Root())
	}

	target, err := filepath.Abs(s.store.Root())
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	if target == cwd {
		return fmt.Errorf("%w: %s", ErrRefuseRemove, target)
	}

	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove coordination directory: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
