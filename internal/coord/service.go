// Package coord implements the coordination operations: claiming and
// completing steps, recording validations, aggregating state, and
// cleaning up. All state lives in the store's shared directory; each
// operation is a single short-lived invocation.
package coord

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ralphloop/ralph/internal/audit"
	"github.com/ralphloop/ralph/internal/fsatomic"
	"github.com/ralphloop/ralph/internal/models"
	"github.com/ralphloop/ralph/internal/runner"
	"github.com/ralphloop/ralph/internal/store"
)

// Service provides the coordination business logic.
type Service struct {
	store  *store.Store
	pdr    *audit.PDRWriter
	runner *runner.Runner
	pid    int
	now    func() time.Time
}

// NewService creates a Service. pdr may be nil (audit is best-effort).
func NewService(s *store.Store, pdr *audit.PDRWriter, r *runner.Runner, pid int) *Service {
	return &Service{
		store:  s,
		pdr:    pdr,
		runner: r,
		pid:    pid,
		now:    time.Now,
	}
}

// GenerateWorkerID returns a fresh worker identity.
func GenerateWorkerID() string {
	return "worker-" + uuid.NewString()[:8]
}

// GenerateMonitorID returns a fresh monitor identity.
func GenerateMonitorID() string {
	return "monitor-" + uuid.NewString()[:8]
}

// Init creates the coordination directory and its ledger. Pre-declared
// step ids become pending entries in the ledger's expected set.
func (s *Service) Init(task string, stepIDs []string, maxIterations *int, promise string) (*models.Ledger, error) {
	steps := make(map[string]models.LedgerStep, len(stepIDs))
	for _, id := range stepIDs {
		if err := store.ValidateStepID(id); err != nil {
			return nil, err
		}
		steps[id] = models.LedgerStep{Status: models.StepStatusPending}
	}

	ledger := &models.Ledger{
		Task:              task,
		Iteration:         1,
		MaxIterations:     maxIterations,
		CompletionPromise: promise,
		StartedAt:         s.now().UTC(),
		Steps:             steps,
		Workers:           []string{},
		Monitors:          []string{},
	}
	if err := s.store.Init(ledger); err != nil {
		return nil, err
	}
	s.pdr.Record("init", map[string]interface{}{"task": task, "steps": stepIDs}, "success", "", "")
	return ledger, nil
}

// ClaimStep exclusively takes ownership of a step. With an empty owner a
// fresh worker id is generated. Exactly one of N racing callers wins the
// lock-file creation; everyone else sees ErrStepLocked or
// ErrAlreadyClaimed before touching the step file.
func (s *Service) ClaimStep(id, owner string, force bool) (*models.Step, error) {
	if err := store.ValidateStepID(id); err != nil {
		return nil, err
	}
	if owner == "" {
		owner = GenerateWorkerID()
	}

	existing, err := s.store.ReadStep(id)
	switch {
	case err == nil:
		if existing.Status == models.StepStatusInProgress || existing.Status == models.StepStatusComplete {
			return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyClaimed, id, existing.Status)
		}
	case errors.Is(err, store.ErrNotFound):
		// First claim creates the step.
	case errors.Is(err, store.ErrCorrupt):
		if !force {
			return nil, fmt.Errorf("%v (use force to reset)", err)
		}
	default:
		return nil, err
	}

	claimedAt := s.now().UTC()
	lock := &models.Lock{Owner: owner, PID: s.pid, ClaimedAt: claimedAt}
	if err := s.store.WriteStepLock(id, lock); err != nil {
		if errors.Is(err, fsatomic.ErrLockHeld) {
			s.pdr.Record("step.claim", map[string]string{"step": id, "owner": owner}, "contended", id, "")
			return nil, fmt.Errorf("%w: %s", ErrStepLocked, id)
		}
		return nil, err
	}

	step := &models.Step{
		ID:        id,
		Status:    models.StepStatusInProgress,
		Owner:     owner,
		ClaimedAt: &claimedAt,
	}
	if err := s.store.WriteStep(step); err != nil {
		s.store.RemoveStepLock(id)
		return nil, err
	}

	err = s.store.UpdateLedger(func(ledger *models.Ledger) error {
		ledger.Steps[id] = models.LedgerStep{
			Status:    models.StepStatusInProgress,
			Owner:     owner,
			ClaimedAt: &claimedAt,
		}
		ledger.AddWorker(owner)
		return nil
	})
	if err != nil {
		// The step file and lock already record the claim; the next
		// aggregation reconciles from them.
		return step, fmt.Errorf("claim recorded but ledger update failed: %w", err)
	}

	s.pdr.Record("step.claim", map[string]string{"step": id, "owner": owner}, "success", id, "")
	return step, nil
}

// CompleteStep flips a claimed step to complete. It is idempotent: a
// second completion of the same step returns success with the original
// timestamp. Ownership is checked against both the step file and the
// lock file.
func (s *Service) CompleteStep(id, owner, result, sinkPath string) (*models.Step, error) {
	if err := store.ValidateStepID(id); err != nil {
		return nil, err
	}

	step, err := s.store.ReadStep(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrStepNotFound, id)
		}
		return nil, err
	}

	if owner != "" && step.Owner != "" && step.Owner != owner {
		return nil, fmt.Errorf("%w: %s is owned by %s", ErrNotOwner, id, step.Owner)
	}
	if step.Status == models.StepStatusComplete {
		return step, nil
	}

	effectiveOwner := owner
	if effectiveOwner == "" {
		effectiveOwner = step.Owner
	}

	lock, err := s.store.ReadStepLock(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotClaimed, id)
		}
		return nil, err
	}
	if lock.Owner != effectiveOwner {
		return nil, fmt.Errorf("%w: lock for %s is held by %s", ErrNotOwner, id, lock.Owner)
	}

	completedAt := s.now().UTC()
	step.Status = models.StepStatusComplete
	step.CompletedAt = &completedAt
	if result != "" {
		step.Result = result
	}
	if err := s.store.WriteStep(step); err != nil {
		return nil, err
	}

	if sinkPath != "" && result != "" {
		if err := writeSink(sinkPath, result); err != nil {
			return nil, err
		}
	}

	if err := s.store.AppendProgress(effectiveOwner, id, completedAt); err != nil {
		return nil, err
	}

	details := ""
	if err := s.store.RemoveStepLock(id); err != nil {
		// Best-effort: a lingering lock is reported, not fatal.
		details = fmt.Sprintf("lock removal failed: %v", err)
	}

	err = s.store.UpdateLedger(func(ledger *models.Ledger) error {
		entry := ledger.Steps[id]
		entry.Status = models.StepStatusComplete
		entry.Owner = effectiveOwner
		entry.CompletedAt = &completedAt
		ledger.Steps[id] = entry
		ledger.AddWorker(effectiveOwner)
		return nil
	})
	if err != nil {
		return step, fmt.Errorf("completion recorded but ledger update failed: %w", err)
	}

	s.pdr.Record("step.complete", map[string]string{"step": id, "owner": effectiveOwner}, "success", id, details)
	return step, nil
}

// FailStep flips a claimed step to failed with a reason. Failing an
// already-failed step is a no-op success; a complete step cannot be
// failed. Failed steps may be re-claimed without force.
func (s *Service) FailStep(id, owner, reason string) (*models.Step, error) {
	if err := store.ValidateStepID(id); err != nil {
		return nil, err
	}

	step, err := s.store.ReadStep(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrStepNotFound, id)
		}
		return nil, err
	}

	if owner != "" && step.Owner != "" && step.Owner != owner {
		return nil, fmt.Errorf("%w: %s is owned by %s", ErrNotOwner, id, step.Owner)
	}
	if step.Status == models.StepStatusFailed {
		return step, nil
	}
	if step.Status == models.StepStatusComplete {
		return nil, fmt.Errorf("%w: %s is already complete", ErrAlreadyClaimed, id)
	}

	effectiveOwner := owner
	if effectiveOwner == "" {
		effectiveOwner = step.Owner
	}

	lock, err := s.store.ReadStepLock(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotClaimed, id)
		}
		return nil, err
	}
	if lock.Owner != effectiveOwner {
		return nil, fmt.Errorf("%w: lock for %s is held by %s", ErrNotOwner, id, lock.Owner)
	}

	failedAt := s.now().UTC()
	step.Status = models.StepStatusFailed
	step.CompletedAt = &failedAt
	if reason != "" {
		step.Result = reason
	}
	if err := s.store.WriteStep(step); err != nil {
		return nil, err
	}

	details := ""
	if err := s.store.RemoveStepLock(id); err != nil {
		details = fmt.Sprintf("lock removal failed: %v", err)
	}

	err = s.store.UpdateLedger(func(ledger *models.Ledger) error {
		entry := ledger.Steps[id]
		entry.Status = models.StepStatusFailed
		entry.Owner = effectiveOwner
		entry.CompletedAt = &failedAt
		ledger.Steps[id] = entry
		ledger.AddWorker(effectiveOwner)
		return nil
	})
	if err != nil {
		return step, fmt.Errorf("failure recorded but ledger update failed: %w", err)
	}

	s.pdr.Record("step.fail", map[string]string{"step": id, "owner": effectiveOwner}, "success", id, details)
	return step, nil
}

func writeSink(path, result string) error {
	if err := fsatomic.WriteFile(path, []byte(result), 0644); err != nil {
		return fmt.Errorf("write result sink: %w", err)
	}
	return nil
}

// AdvanceIteration bumps the ledger's monotonic iteration counter and
// returns the new value.
func (s *Service) AdvanceIteration() (int, error) {
	next := 0
	err := s.store.UpdateLedger(func(ledger *models.Ledger) error {
		ledger.Iteration++
		next = ledger.Iteration
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.pdr.Record("iterate", map[string]int{"iteration": next}, "success", "", "")
	return next, nil
}
