package coord

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ralphloop/ralph/internal/models"
)

// PromiseOpenTag marks the canonical completion-promise delimiter. A
// configured marker X is searched as <promise>X</promise> unless the
// caller already supplied text containing the delimiter, which is then
// matched verbatim. Matching is case-insensitive either way.
const (
	PromiseOpenTag  = "<promise>"
	PromiseCloseTag = "</promise>"
)

// maxReferencedFileBytes caps how much of a referenced artifact is read
// during the promise search.
const maxReferencedFileBytes = 1 << 20

// ValidateOptions configures one validation pass.
type ValidateOptions struct {
	// Iteration keys the record; <= 0 means the ledger's current value.
	Iteration int
	// MonitorID identifies the monitor; empty means a generated id.
	MonitorID string
	// TestCommand, when non-empty, is executed and mapped to the
	// tri-state testsPassing outcome.
	TestCommand string
	// Promise overrides the ledger's configured completion promise.
	Promise string
}

// Validate scans all step files, optionally runs the verification
// command, searches for the completion promise, persists the iteration's
// record, and folds a summary into the ledger. Per-step corruption
// degrades to a note; only ledger-level failures abort the pass.
func (s *Service) Validate(ctx context.Context, opts ValidateOptions) (*models.ValidationRecord, error) {
	ledger, err := s.store.ReadLedger()
	if err != nil {
		return nil, err
	}

	iteration := opts.Iteration
	if iteration <= 0 {
		iteration = ledger.Iteration
	}
	monitorID := opts.MonitorID
	if monitorID == "" {
		monitorID = GenerateMonitorID()
	}

	var notes []string

	// Disk is authoritative; the ledger's step map only declares the
	// expected id set.
	index := make(map[string]*models.Step)
	ids, err := s.store.ListStepIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		step, err := s.store.ReadStep(id)
		if err != nil {
			notes = append(notes, fmt.Sprintf("corrupted step file: %s: %v", id, err))
			continue
		}
		index[id] = step
	}

	allComplete := s.allStepsComplete(ledger, index, &notes)

	var testsPassing *bool
	if opts.TestCommand != "" {
		passed := s.runVerification(ctx, opts.TestCommand, &notes)
		testsPassing = &passed
	}

	promise := opts.Promise
	if promise == "" {
		promise = ledger.CompletionPromise
	}
	promiseFound := false
	if promise != "" {
		promiseFound = s.searchPromise(promise, index)
		if !promiseFound {
			notes = append(notes, "completion promise not found")
		}
	}

	overall := allComplete &&
		(testsPassing == nil || *testsPassing) &&
		(promise == "" || promiseFound)

	record := &models.ValidationRecord{
		Iteration:        iteration,
		MonitorID:        monitorID,
		AllStepsComplete: allComplete,
		TestsPassing:     testsPassing,
		PromiseFound:     promiseFound,
		OverallComplete:  overall,
		Notes:            notes,
		Timestamp:        s.now().UTC(),
	}
	if err := s.store.WriteValidation(record); err != nil {
		return nil, err
	}

	err = s.store.UpdateLedger(func(ledger *models.Ledger) error {
		ledger.AddMonitor(monitorID)
		ledger.LastValidation = &models.ValidationSummary{
			Iteration:       record.Iteration,
			MonitorID:       record.MonitorID,
			OverallComplete: record.OverallComplete,
			Timestamp:       record.Timestamp,
		}
		return nil
	})
	if err != nil {
		return record, fmt.Errorf("validation recorded but ledger update failed: %w", err)
	}

	s.pdr.Record("validate", map[string]interface{}{"iteration": iteration, "monitor": monitorID}, "success", "", "")
	return record, nil
}

// allStepsComplete checks the expected set declared in the ledger, or
// falls back to "every discovered step file is complete and at least one
// exists". An undeclared, empty set is treated as not yet determined.
func (s *Service) allStepsComplete(ledger *models.Ledger, index map[string]*models.Step, notes *[]string) bool {
	if len(ledger.Steps) > 0 {
		for id := range ledger.Steps {
			step, ok := index[id]
			if !ok || step.Status != models.StepStatusComplete {
				return false
			}
		}
		return true
	}

	if len(index) == 0 {
		*notes = append(*notes, "no steps declared or discovered; completion not determined")
		return false
	}
	for _, step := range index {
		if step.Status != models.StepStatusComplete {
			return false
		}
	}
	return true
}

// runVerification executes the external command and maps it to pass or
// fail. A command that cannot even start is a failure with a note, never
// an abort of the validation pass.
func (s *Service) runVerification(ctx context.Context, command string, notes *[]string) bool {
	result, err := s.runner.Run(ctx, command)
	if err != nil {
		*notes = append(*notes, fmt.Sprintf("verification command failed to run: %v", err))
		return false
	}
	if !result.Passed {
		*notes = append(*notes, fmt.Sprintf("verification command exited %d: %s", result.ExitCode, result.Output))
	}
	return result.Passed
}

// searchPromise looks for the promise pattern in step results and in any
// plain-text artifacts those results or the progress records reference.
func (s *Service) searchPromise(promise string, index map[string]*models.Step) bool {
	pattern := promise
	if !containsFold(promise, PromiseOpenTag) {
		pattern = PromiseOpenTag + promise + PromiseCloseTag
	}

	var referenced []string
	for _, step := range index {
		if step.Result == "" {
			continue
		}
		if containsFold(step.Result, pattern) {
			return true
		}
		referenced = append(referenced, extractFileRefs(step.Result)...)
	}

	progressPaths, err := s.store.ListProgressPaths()
	if err == nil {
		for _, path := range progressPaths {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			referenced = append(referenced, extractFileRefs(string(data))...)
		}
	}

	for _, path := range referenced {
		if searchFile(path, pattern) {
			return true
		}
	}
	return false
}

// extractFileRefs pulls plain-text/markdown/log paths out of free text.
func extractFileRefs(text string) []string {
	var refs []string
	for _, field := range strings.Fields(text) {
		token := strings.Trim(field, `"'(),;:`)
		switch {
		case strings.HasSuffix(token, ".md"), strings.HasSuffix(token, ".txt"), strings.HasSuffix(token, ".log"):
			refs = append(refs, token)
		}
	}
	return refs
}

func searchFile(path, pattern string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() > maxReferencedFileBytes {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return containsFold(string(data), pattern)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
