package jobs

import (
	"sync"
	"time"

	"tinytv-converter/internal/domain"
)

// EventType classifies messages emitted during a batch run.
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeJobStart EventType = "job_start"
	EventTypeJobDone  EventType = "job_done"
	EventTypeProgress EventType = "progress"
	EventTypeMerge    EventType = "merge"
	EventTypeSummary  EventType = "summary"
	EventTypeError    EventType = "error"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq       int64                `json:"seq"`
	Timestamp time.Time            `json:"timestamp"`
	BatchID   string               `json:"batchId"`
	Type      EventType            `json:"type"`
	Status    domain.BatchStatus   `json:"status,omitempty"`
	Message   string               `json:"message,omitempty"`
	Index     int                  `json:"index"`
	Source    string               `json:"source,omitempty"`
	Output    string               `json:"output,omitempty"`
	Percent   float64              `json:"percent,omitempty"`
	Result    *domain.Result       `json:"result,omitempty"`
	Summary   *domain.BatchSummary `json:"summary,omitempty"`
	ErrorCode string               `json:"errorCode,omitempty"`
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp. A progress
// event replaces the stored progress event of the same job, so history holds
// at most one per job however often ffmpeg reports.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if event.Type == EventTypeProgress {
		b.dropProgress(event.BatchID, event.Index)
	}
	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// dropProgress removes the stored progress event of one job.
func (b *EventBus) dropProgress(batchID string, index int) {
	for i := len(b.events) - 1; i >= 0; i-- {
		e := b.events[i]
		if e.Type == EventTypeProgress && e.BatchID == batchID && e.Index == index {
			b.events = append(b.events[:i], b.events[i+1:]...)
			return
		}
	}
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the sequence of the newest event, or 0.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
