// Package models defines the core domain types for ralph.
package models

import "time"

// StepStatus represents the current state of a step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in-progress"
	StepStatusComplete   StepStatus = "complete"
	StepStatusFailed     StepStatus = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s StepStatus) Terminal() bool {
	return s == StepStatusComplete || s == StepStatusFailed
}

// Step represents one unit of claimable work, stored at steps/<id>.json.
type Step struct {
	ID          string     `json:"id"`
	Status      StepStatus `json:"status"`
	Owner       string     `json:"owner,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
}

// Lock represents an exclusivity token held between a claim and its
// matching completion. One lock file per step, plus one for the ledger.
type Lock struct {
	Owner     string    `json:"owner"`
	PID       int       `json:"pid"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// LedgerStep is the ledger's cached view of one step. Step files are
// ground truth on conflict.
type LedgerStep struct {
	Status      StepStatus `json:"status"`
	Owner       string     `json:"owner,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ValidationSummary is the compact pointer the ledger keeps to the most
// recent validation outcome.
type ValidationSummary struct {
	Iteration       int       `json:"iteration"`
	MonitorID       string    `json:"monitor_id"`
	OverallComplete bool      `json:"overall_complete"`
	Timestamp       time.Time `json:"timestamp"`
}

// Ledger is the single central document for loop-level metadata, stored
// at ralph-state.json and mutated only under the ledger mutex.
type Ledger struct {
	Task              string                `json:"task"`
	Iteration         int                   `json:"iteration"`
	MaxIterations     *int                  `json:"max_iterations,omitempty"`
	CompletionPromise string                `json:"completion_promise,omitempty"`
	StartedAt         time.Time             `json:"started_at"`
	Steps             map[string]LedgerStep `json:"steps"`
	Workers           []string              `json:"workers"`
	Monitors          []string              `json:"monitors"`
	LastValidation    *ValidationSummary    `json:"last_validation,omitempty"`
}

// AddWorker appends id to Workers if not already present.
func (l *Ledger) AddWorker(id string) {
	l.Workers = appendUnique(l.Workers, id)
}

// AddMonitor appends id to Monitors if not already present.
func (l *Ledger) AddMonitor(id string) {
	l.Monitors = appendUnique(l.Monitors, id)
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// ValidationRecord is one immutable per-iteration outcome, stored at
// validation/iteration-<N>.json. TestsPassing is tri-state: nil means no
// verification command was run.
type ValidationRecord struct {
	Iteration        int       `json:"iteration"`
	MonitorID        string    `json:"monitor_id"`
	AllStepsComplete bool      `json:"all_steps_complete"`
	TestsPassing     *bool     `json:"tests_passing"`
	PromiseFound     bool      `json:"promise_found"`
	OverallComplete  bool      `json:"overall_complete"`
	Notes            []string  `json:"notes,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Progress is the per-owner completion record at
// progress/worker-<encoded-owner>.json.
type Progress struct {
	Owner          string    `json:"owner"`
	StepsCompleted []string  `json:"steps_completed"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Snapshot is the aggregator's consistent read of the whole directory.
type Snapshot struct {
	Task           string            `json:"task"`
	Iteration      int               `json:"iteration"`
	MaxIterations  *int              `json:"max_iterations,omitempty"`
	Steps          map[string]Step   `json:"steps"`
	Pending        []string          `json:"pending"`
	InProgress     []string          `json:"in_progress"`
	Complete       []string          `json:"complete"`
	Failed         []string          `json:"failed"`
	Workers        []string          `json:"workers"`
	Monitors       []string          `json:"monitors"`
	LastValidation *ValidationRecord `json:"last_validation,omitempty"`
	IsComplete     bool              `json:"is_complete"`
	CanContinue    bool              `json:"can_continue"`
}
