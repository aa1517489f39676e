package coord

import (
	"errors"
	"sort"

	"github.com/ralphloop/ralph/internal/models"
	"github.com/ralphloop/ralph/internal/store"
)

// Aggregate builds one consistent snapshot of the coordination
// directory. It is a pure read: the ledger seeds the step index, on-disk
// step files override it, and the latest validation record (numerically
// greatest iteration) drives the completion predicates. No file is ever
// mutated.
func (s *Service) Aggregate() (*models.Snapshot, error) {
	ledger, err := s.store.ReadLedger()
	if err != nil {
		return nil, err
	}

	// Seed from the ledger's declared steps, then overlay disk. The
	// ledger is a cache; file status and owner win on conflict.
	index := make(map[string]models.Step, len(ledger.Steps))
	for id, entry := range ledger.Steps {
		index[id] = models.Step{
			ID:          id,
			Status:      entry.Status,
			Owner:       entry.Owner,
			ClaimedAt:   entry.ClaimedAt,
			CompletedAt: entry.CompletedAt,
		}
	}
	ids, err := s.store.ListStepIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		step, err := s.store.ReadStep(id)
		if err != nil {
			// An unreadable step file leaves the ledger's view in place.
			continue
		}
		index[id] = *step
	}

	snapshot := &models.Snapshot{
		Task:          ledger.Task,
		Iteration:     ledger.Iteration,
		MaxIterations: ledger.MaxIterations,
		Steps:         index,
		Workers:       ledger.Workers,
		Monitors:      ledger.Monitors,
	}

	allIDs := make([]string, 0, len(index))
	for id := range index {
		allIDs = append(allIDs, id)
	}
	sort.Strings(allIDs)
	for _, id := range allIDs {
		switch index[id].Status {
		case models.StepStatusPending:
			snapshot.Pending = append(snapshot.Pending, id)
		case models.StepStatusInProgress:
			snapshot.InProgress = append(snapshot.InProgress, id)
		case models.StepStatusComplete:
			snapshot.Complete = append(snapshot.Complete, id)
		case models.StepStatusFailed:
			snapshot.Failed = append(snapshot.Failed, id)
		}
	}

	record := s.latestValidation(ledger.Iteration)
	snapshot.LastValidation = record
	if record != nil {
		snapshot.IsComplete = record.OverallComplete
	}
	snapshot.CanContinue = !snapshot.IsComplete &&
		(ledger.MaxIterations == nil || ledger.Iteration < *ledger.MaxIterations)

	return snapshot, nil
}

// latestValidation prefers the record matching the ledger's current
// iteration, then falls back to the numerically greatest one on disk.
func (s *Service) latestValidation(iteration int) *models.ValidationRecord {
	record, err := s.store.ReadValidation(iteration)
	if err == nil {
		return record
	}
	if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrCorrupt) {
		return nil
	}
	record, err = s.store.LatestValidation()
	if err != nil {
		return nil
	}
	return record
}
