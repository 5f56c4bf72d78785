package jobs

import (
	"testing"

	"tinytv-converter/internal/domain"
)

// TestManagerLifecycle verifies normal progression to done state.
func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	if m.IsRunning() {
		t.Fatal("new manager should be idle")
	}

	if err := m.Start("batch-1", 2); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !m.IsRunning() {
		t.Fatal("expected running after start")
	}
	m.JobFinished("batch-1")
	m.JobFinished("batch-1")
	m.JobFinished("batch-1")

	for _, status := range []domain.BatchStatus{
		domain.BatchStatusMerging,
		domain.BatchStatusDone,
	} {
		if err := m.Transition("batch-1", status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	current := m.Current()
	if current.Status != domain.BatchStatusDone {
		t.Fatalf("current status = %s, want done", current.Status)
	}
	if current.Done != 2 || current.Total != 2 {
		t.Fatalf("progress = %d/%d, want 2/2", current.Done, current.Total)
	}
}

// TestManagerRejectsSecondStart verifies only one batch runs at a time.
func TestManagerRejectsSecondStart(t *testing.T) {
	m := NewManager()
	if err := m.Start("batch-1", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start("batch-2", 1); err != ErrBatchAlreadyRunning {
		t.Fatalf("second start error = %v, want %v", err, ErrBatchAlreadyRunning)
	}
}

// TestManagerRejectsInvalidTransition checks state machine constraints.
func TestManagerRejectsInvalidTransition(t *testing.T) {
	m := NewManager()
	if err := m.Transition("batch-1", domain.BatchStatusMerging); err == nil {
		t.Fatal("expected error without an active batch")
	}
	if err := m.Start("batch-1", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Transition("batch-1", domain.BatchStatusDone); err != nil {
		t.Fatalf("converting -> done: %v", err)
	}
	if err := m.Transition("batch-1", domain.BatchStatusMerging); err == nil {
		t.Fatal("expected invalid transition error")
	}
}

// TestManagerCancel verifies a cancelled batch keeps blocking new starts
// until it reaches a final state.
func TestManagerCancel(t *testing.T) {
	m := NewManager()
	if err := m.Start("batch-1", 3); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if m.Current().Status != domain.BatchStatusCancelling {
		t.Fatalf("status = %s, want cancelling", m.Current().Status)
	}
	if err := m.Start("batch-2", 1); err != ErrBatchAlreadyRunning {
		t.Fatalf("start while cancelling error = %v, want %v", err, ErrBatchAlreadyRunning)
	}

	if err := m.Transition("batch-1", domain.BatchStatusCancelled); err != nil {
		t.Fatalf("cancelling -> cancelled: %v", err)
	}
	if err := m.Cancel(); err != ErrNoRunningBatch {
		t.Fatalf("second cancel error = %v, want %v", err, ErrNoRunningBatch)
	}
	if err := m.Start("batch-2", 1); err != nil {
		t.Fatalf("start after cancel: %v", err)
	}
}

// TestManagerIgnoresStaleBatchUpdates verifies a replaced batch cannot change
// the state or counters of its successor.
func TestManagerIgnoresStaleBatchUpdates(t *testing.T) {
	m := NewManager()
	if err := m.Start("batch-1", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Transition("batch-1", domain.BatchStatusDone); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := m.Start("batch-2", 2); err != nil {
		t.Fatalf("start second: %v", err)
	}

	m.JobFinished("batch-1")
	if err := m.Transition("batch-1", domain.BatchStatusCancelled); err != ErrStaleBatch {
		t.Fatalf("stale transition error = %v, want %v", err, ErrStaleBatch)
	}

	current := m.Current()
	if current.ID != "batch-2" || current.Status != domain.BatchStatusConverting || current.Done != 0 {
		t.Fatalf("current = %+v, want untouched batch-2", current)
	}
}
