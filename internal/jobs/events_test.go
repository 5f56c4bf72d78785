package jobs

import (
	"sync"
	"testing"

	"tinytv-converter/internal/domain"
)

// TestEventBusSince verifies incremental event reads by sequence.
func TestEventBusSince(t *testing.T) {
	bus := NewEventBus(3)
	bus.Publish(Event{Type: EventTypeStatus, Status: domain.BatchStatusConverting})
	bus.Publish(Event{Type: EventTypeJobStart, Index: 0, Source: "a.mov"})
	bus.Publish(Event{Type: EventTypeJobDone, Index: 0, Result: &domain.Result{Status: domain.ResultSuccess}})

	events := bus.Since(1)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %+v", events)
	}
	if events[1].Result == nil || events[1].Result.Status != domain.ResultSuccess {
		t.Fatalf("result payload lost: %+v", events[1])
	}
	if bus.LastSeq() != 3 {
		t.Fatalf("last seq = %d, want 3", bus.LastSeq())
	}
}

// TestEventBusCapsHistory verifies buffer limit trimming behavior.
func TestEventBusCapsHistory(t *testing.T) {
	bus := NewEventBus(2)
	bus.Publish(Event{Message: "1"})
	bus.Publish(Event{Message: "2"})
	bus.Publish(Event{Message: "3"})

	events := bus.Since(0)
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Message != "2" || events[1].Message != "3" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

// TestEventBusConcurrentPublish verifies sequences stay unique under parallel writers.
func TestEventBusConcurrentPublish(t *testing.T) {
	bus := NewEventBus(1000)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				bus.Publish(Event{Type: EventTypeProgress})
			}
		}()
	}
	wg.Wait()

	events := bus.Since(0)
	if len(events) != 200 {
		t.Fatalf("len = %d, want 200", len(events))
	}
	for i, event := range events {
		if event.Seq != int64(i+1) {
			t.Fatalf("event %d seq = %d", i, event.Seq)
		}
	}
}

// TestEventBusKeepsLatestProgressPerJob verifies frequent progress updates do
// not push job and summary events out of the history.
func TestEventBusKeepsLatestProgressPerJob(t *testing.T) {
	bus := NewEventBus(4)
	bus.Publish(Event{BatchID: "b", Type: EventTypeJobDone, Index: 0})
	for i := 0; i < 50; i++ {
		bus.Publish(Event{BatchID: "b", Type: EventTypeProgress, Index: 1, Percent: float64(i)})
		bus.Publish(Event{BatchID: "b", Type: EventTypeProgress, Index: 2, Percent: float64(i)})
	}
	bus.Publish(Event{BatchID: "b", Type: EventTypeSummary})

	events := bus.Since(0)
	if len(events) != 4 {
		t.Fatalf("len = %d, want 4: %+v", len(events), events)
	}
	if events[0].Type != EventTypeJobDone || events[3].Type != EventTypeSummary {
		t.Fatalf("job or summary event evicted: %+v", events)
	}
	for _, e := range events[1:3] {
		if e.Type != EventTypeProgress || e.Percent != 49 {
			t.Fatalf("progress event = %+v, want latest", e)
		}
	}
	if events[1].Seq >= events[2].Seq || events[2].Seq >= events[3].Seq {
		t.Fatalf("events out of sequence order: %+v", events)
	}
}
