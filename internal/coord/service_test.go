package coord

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ralphloop/ralph/internal/models"
	"github.com/ralphloop/ralph/internal/runner"
	"github.com/ralphloop/ralph/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	return newTestServiceWithSteps(t, nil)
}

func newTestServiceWithSteps(t *testing.T, stepIDs []string) (*Service, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir())
	svc := NewService(st, nil, runner.New(""), os.Getpid())
	if _, err := svc.Init("Build X", stepIDs, nil, ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return svc, st
}

func TestClaimLifecycle(t *testing.T) {
	svc, st := newTestService(t)

	step, err := svc.ClaimStep("a", "w1", false)
	if err != nil {
		t.Fatalf("ClaimStep failed: %v", err)
	}
	if step.Status != models.StepStatusInProgress || step.Owner != "w1" {
		t.Errorf("Unexpected step after claim: %+v", step)
	}
	if step.ClaimedAt == nil {
		t.Error("ClaimedAt not set")
	}

	// Lock file exists and records the owner
	lock, err := st.ReadStepLock("a")
	if err != nil {
		t.Fatalf("ReadStepLock failed: %v", err)
	}
	if lock.Owner != "w1" {
		t.Errorf("Lock owner = %s, want w1", lock.Owner)
	}

	// Claim registers the worker in the ledger
	ledger, err := st.ReadLedger()
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger.Workers) != 1 || ledger.Workers[0] != "w1" {
		t.Errorf("Workers = %v, want [w1]", ledger.Workers)
	}
	if ledger.Steps["a"].Status != models.StepStatusInProgress {
		t.Errorf("Ledger step status = %s", ledger.Steps["a"].Status)
	}
}

func TestClaimGeneratedOwner(t *testing.T) {
	svc, _ := newTestService(t)

	step, err := svc.ClaimStep("a", "", false)
	if err != nil {
		t.Fatalf("ClaimStep failed: %v", err)
	}
	if step.Owner == "" {
		t.Error("Expected a generated owner id")
	}
}

func TestClaimRejectsBadID(t *testing.T) {
	svc, _ := newTestService(t)

	for _, id := range []string{"", "..", "a/b", "a\x00b"} {
		if _, err := svc.ClaimStep(id, "w1", false); err == nil {
			t.Errorf("ClaimStep(%q) succeeded, want validation error", id)
		}
	}
}

func TestClaimRejectsClaimed(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.ClaimStep("a", "w1", false); err != nil {
		t.Fatal(err)
	}

	_, err := svc.ClaimStep("a", "w2", false)
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("Expected ErrAlreadyClaimed, got %v", err)
	}

	// force does not override a live claim
	_, err = svc.ClaimStep("a", "w2", true)
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("Expected ErrAlreadyClaimed with force, got %v", err)
	}
}

func TestClaimExclusivity(t *testing.T) {
	svc, st := newTestService(t)

	// N concurrent claims on one fresh id: exactly one winner
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := []string{}
	contention := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			owner := fmt.Sprintf("w%d", n)
			_, err := svc.ClaimStep("hot", owner, false)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, owner)
			} else if errors.Is(err, ErrStepLocked) || errors.Is(err, ErrAlreadyClaimed) {
				contention++
			} else {
				t.Errorf("Unexpected claim error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 || contention != 9 {
		t.Fatalf("Expected 1 winner and 9 rejections, got %d/%d", len(winners), contention)
	}

	step, err := st.ReadStep("hot")
	if err != nil {
		t.Fatal(err)
	}
	if step.Owner != winners[0] {
		t.Errorf("Step owner = %s, want winner %s", step.Owner, winners[0])
	}
}

func TestClaimCorruptionGating(t *testing.T) {
	svc, st := newTestService(t)

	if err := os.WriteFile(st.StepPath("a"), []byte("{corrupt"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ClaimStep("a", "w1", false); err == nil {
		t.Fatal("Claim of corrupt step succeeded without force")
	}

	step, err := svc.ClaimStep("a", "w1", true)
	if err != nil {
		t.Fatalf("Forced claim failed: %v", err)
	}
	if step.Status != models.StepStatusInProgress {
		t.Errorf("Status = %s, want in-progress", step.Status)
	}
}

func TestCompleteLifecycle(t *testing.T) {
	svc, st := newTestService(t)

	if _, err := svc.ClaimStep("a", "w1", false); err != nil {
		t.Fatal(err)
	}
	step, err := svc.CompleteStep("a", "w1", "all done", "")
	if err != nil {
		t.Fatalf("CompleteStep failed: %v", err)
	}
	if step.Status != models.StepStatusComplete || step.Result != "all done" {
		t.Errorf("Unexpected step: %+v", step)
	}

	// Lock removed, progress recorded, ledger updated
	if _, err := os.Stat(st.StepLockPath("a")); !os.IsNotExist(err) {
		t.Error("Step lock not removed after completion")
	}
	if _, err := os.Stat(st.ProgressPath("w1")); err != nil {
		t.Errorf("Progress record missing: %v", err)
	}
	ledger, _ := st.ReadLedger()
	if ledger.Steps["a"].Status != models.StepStatusComplete {
		t.Errorf("Ledger status = %s, want complete", ledger.Steps["a"].Status)
	}
}

func TestCompleteIdempotent(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.ClaimStep("a", "w1", false); err != nil {
		t.Fatal(err)
	}
	first, err := svc.CompleteStep("a", "w1", "done", "")
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)
	second, err := svc.CompleteStep("a", "w1", "done again", "")
	if err != nil {
		t.Fatalf("Second completion failed: %v", err)
	}
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Errorf("Completion timestamp changed: %v vs %v", second.CompletedAt, first.CompletedAt)
	}
	if second.Result != "done" {
		t.Errorf("Result changed on repeat completion: %s", second.Result)
	}
}

func TestCompleteOwnershipEnforced(t *testing.T) {
	svc, st := newTestService(t)

	if _, err := svc.ClaimStep("a", "w1", false); err != nil {
		t.Fatal(err)
	}

	_, err := svc.CompleteStep("a", "w2", "", "")
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Expected ErrNotOwner, got %v", err)
	}

	step, _ := st.ReadStep("a")
	if step.Status != models.StepStatusInProgress {
		t.Errorf("Status changed by rejected completion: %s", step.Status)
	}
}

func TestCompleteRequiresLock(t *testing.T) {
	svc, st := newTestService(t)

	if _, err := svc.ClaimStep("a", "w1", false); err != nil {
		t.Fatal(err)
	}
	if err := st.RemoveStepLock("a"); err != nil {
		t.Fatal(err)
	}

	_, err := svc.CompleteStep("a", "w1", "", "")
	if !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("Expected ErrNotClaimed, got %v", err)
	}
}

func TestCompleteMissingStep(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CompleteStep("ghost", "w1", "", "")
	if !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("Expected ErrStepNotFound, got %v", err)
	}
}

func TestCompleteResultSink(t *testing.T) {
	svc, st := newTestService(t)

	if _, err := svc.ClaimStep("a", "w1", false); err != nil {
		t.Fatal(err)
	}
	sink := st.Root() + "/result.txt"
	if _, err := svc.CompleteStep("a", "w1", "payload", sink); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(sink)
	if err != nil {
		t.Fatalf("Sink not written: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Sink content = %s", data)
	}
}

func TestFailStep(t *testing.T) {
	svc, st := newTestService(t)

	if _, err := svc.ClaimStep("a", "w1", false); err != nil {
		t.Fatal(err)
	}
	step, err := svc.FailStep("a", "w1", "it broke")
	if err != nil {
		t.Fatalf("FailStep failed: %v", err)
	}
	if step.Status != models.StepStatusFailed || step.Result != "it broke" {
		t.Errorf("Unexpected step: %+v", step)
	}
	if _, err := os.Stat(st.StepLockPath("a")); !os.IsNotExist(err) {
		t.Error("Lock not removed after fail")
	}

	// Failing again is a no-op success
	if _, err := svc.FailStep("a", "w1", "again"); err != nil {
		t.Errorf("Repeated fail errored: %v", err)
	}

	// Failed steps are re-claimable without force
	reclaimed, err := svc.ClaimStep("a", "w2", false)
	if err != nil {
		t.Fatalf("Re-claim of failed step errored: %v", err)
	}
	if reclaimed.Owner != "w2" {
		t.Errorf("Re-claim owner = %s", reclaimed.Owner)
	}
}

func TestConcurrentFanOut(t *testing.T) {
	svc, st := newTestService(t)

	// M distinct steps claimed and completed concurrently: the ledger
	// must show every one complete with no lost updates.
	const m = 8
	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("step-%d", n)
			owner := fmt.Sprintf("w%d", n)
			if _, err := svc.ClaimStep(id, owner, false); err != nil {
				t.Errorf("Claim %s failed: %v", id, err)
				return
			}
			if _, err := svc.CompleteStep(id, owner, "ok", ""); err != nil {
				t.Errorf("Complete %s failed: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	ledger, err := st.ReadLedger()
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger.Steps) != m {
		t.Fatalf("Ledger has %d steps, want %d", len(ledger.Steps), m)
	}
	for id, entry := range ledger.Steps {
		if entry.Status != models.StepStatusComplete {
			t.Errorf("Ledger step %s = %s, want complete", id, entry.Status)
		}
	}
	if len(ledger.Workers) != m {
		t.Errorf("Ledger has %d workers, want %d", len(ledger.Workers), m)
	}
}

func TestAdvanceIteration(t *testing.T) {
	svc, st := newTestService(t)

	next, err := svc.AdvanceIteration()
	if err != nil {
		t.Fatalf("AdvanceIteration failed: %v", err)
	}
	if next != 2 {
		t.Errorf("Expected iteration 2, got %d", next)
	}
	ledger, _ := st.ReadLedger()
	if ledger.Iteration != 2 {
		t.Errorf("Ledger iteration = %d", ledger.Iteration)
	}
}

func TestInitDeclaresSteps(t *testing.T) {
	st := store.New(t.TempDir())
	svc := NewService(st, nil, runner.New(""), os.Getpid())

	ledger, err := svc.Init("Build X", []string{"a", "b"}, nil, "ship it")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if len(ledger.Steps) != 2 {
		t.Errorf("Expected 2 declared steps, got %d", len(ledger.Steps))
	}
	if ledger.Steps["a"].Status != models.StepStatusPending {
		t.Errorf("Declared step not pending: %s", ledger.Steps["a"].Status)
	}
	if ledger.CompletionPromise != "ship it" {
		t.Errorf("Promise = %s", ledger.CompletionPromise)
	}
}
