package jobs

import (
	"sync"

	"github.com/pkg/errors"

	"tinytv-converter/internal/domain"
)

// ErrBatchAlreadyRunning is returned when starting a second active batch.
var ErrBatchAlreadyRunning = errors.New("batch already running")

// ErrNoRunningBatch is returned when cancel is requested for idle state.
var ErrNoRunningBatch = errors.New("no running batch")

// ErrStaleBatch is returned when an update names a batch that is no longer current.
var ErrStaleBatch = errors.New("batch is no longer current")

// Manager tracks the single allowed active batch and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.Batch
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Batch{
			Status: domain.BatchStatusIdle,
		},
	}
}

// Start registers a new batch of total jobs and moves it to converting.
func (m *Manager) Start(batchID string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isRunning(m.current.Status) {
		return ErrBatchAlreadyRunning
	}

	m.current = domain.Batch{
		ID:     batchID,
		Status: domain.BatchStatusConverting,
		Total:  total,
	}
	return nil
}

// Transition validates and applies a state transition for batchID. Updates
// from a batch that has been replaced return ErrStaleBatch.
func (m *Manager) Transition(batchID string, status domain.BatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" && status != domain.BatchStatusIdle {
		return errors.New("cannot transition without an active batch")
	}
	if m.current.ID != batchID {
		return ErrStaleBatch
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return errors.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// JobFinished counts one more completed job of batchID, if it is still current.
func (m *Manager) JobFinished(batchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.ID == batchID && isRunning(m.current.Status) && m.current.Done < m.current.Total {
		m.current.Done++
	}
}

// Current returns a snapshot of the current batch.
func (m *Manager) Current() domain.Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reset clears batch metadata and returns manager to idle.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.Batch{Status: domain.BatchStatusIdle}
}

// IsRunning reports whether the current state is an active stage.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isRunning(m.current.Status)
}

// Cancel marks an active batch as cancelling. The batch keeps blocking new
// starts until its owner moves it to a final state.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isRunning(m.current.Status) {
		return ErrNoRunningBatch
	}
	m.current.Status = domain.BatchStatusCancelling
	return nil
}

// isRunning checks if a status represents active pipeline execution.
func isRunning(status domain.BatchStatus) bool {
	switch status {
	case domain.BatchStatusConverting, domain.BatchStatusMerging, domain.BatchStatusCancelling:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed batch state machine edges.
func isValidTransition(from, to domain.BatchStatus) bool {
	switch from {
	case domain.BatchStatusIdle:
		return to == domain.BatchStatusConverting
	case domain.BatchStatusConverting:
		return to == domain.BatchStatusMerging || to == domain.BatchStatusDone ||
			to == domain.BatchStatusFailed || to == domain.BatchStatusCancelling ||
			to == domain.BatchStatusCancelled
	case domain.BatchStatusMerging:
		return to == domain.BatchStatusDone || to == domain.BatchStatusFailed ||
			to == domain.BatchStatusCancelling || to == domain.BatchStatusCancelled
	case domain.BatchStatusCancelling:
		return to == domain.BatchStatusCancelled || to == domain.BatchStatusDone || to == domain.BatchStatusFailed
	case domain.BatchStatusDone, domain.BatchStatusFailed, domain.BatchStatusCancelled:
		return to == domain.BatchStatusConverting || to == domain.BatchStatusIdle
	default:
		return false
	}
}
