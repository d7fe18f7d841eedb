package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/hoardr-dl/hoardr/internal/engine/events"
)

func TestTrackerCountersUnderConcurrency(t *testing.T) {
	tr := NewTracker()
	tr.Start("job", "src")

	const workers = 8
	const perWorker = 250

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				tr.Update("job", Delta{Pending: 1})
				tr.Update("job", Delta{Pending: -1, Completed: 1, Bytes: 10})
			}
		}()
	}
	wg.Wait()

	snap, ok := tr.Snapshot("job")
	if !ok {
		t.Fatal("job not tracked")
	}
	if snap.Pending != 0 {
		t.Errorf("Pending = %d, want 0", snap.Pending)
	}
	if want := workers * perWorker; snap.Completed != want {
		t.Errorf("Completed = %d, want %d", snap.Completed, want)
	}
	if want := int64(workers * perWorker * 10); snap.Bytes != want {
		t.Errorf("Bytes = %d, want %d", snap.Bytes, want)
	}
}

func TestTrackerSnapshotUnknownJob(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Snapshot("nope"); ok {
		t.Error("Snapshot of unknown job should report not found")
	}
}

func TestTrackerSubscribeReceivesUpdatesAndCloses(t *testing.T) {
	tr := NewTracker()
	tr.Start("job", "src")

	sub := tr.Subscribe("job")
	tr.Update("job", Delta{Pending: 1})
	tr.Update("job", Delta{Pending: -1, Completed: 1})
	final := tr.Finish("job")

	if !final.Done {
		t.Error("Finish should mark the snapshot done")
	}

	var last events.Snapshot
	var got int
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub:
			if !ok {
				if got == 0 {
					t.Fatal("stream closed without any snapshot")
				}
				if !last.Done {
					t.Error("last delivered snapshot should be the final one")
				}
				if last.Completed != 1 {
					t.Errorf("final Completed = %d, want 1", last.Completed)
				}
				return
			}
			last = snap
			got++
		case <-deadline:
			t.Fatal("subscription never closed")
		}
	}
}

func TestTrackerSubscribeFinishedJob(t *testing.T) {
	tr := NewTracker()
	tr.Start("job", "src")
	tr.Update("job", Delta{Completed: 1})
	tr.Finish("job")

	sub := tr.Subscribe("job")
	snap, ok := <-sub
	if !ok {
		t.Fatal("finished job should still deliver its final snapshot")
	}
	if !snap.Done || snap.Completed != 1 {
		t.Errorf("snapshot = %+v, want done with 1 completed", snap)
	}
	if _, ok := <-sub; ok {
		t.Error("stream should close after the final snapshot")
	}
}

func TestTrackerSubscribeUnknownJob(t *testing.T) {
	tr := NewTracker()
	sub := tr.Subscribe("nope")
	select {
	case _, ok := <-sub:
		if ok {
			t.Error("unknown job should yield a closed empty stream")
		}
	case <-time.After(time.Second):
		t.Fatal("stream for unknown job should close immediately")
	}
}

func TestTrackerSlowSubscriberNeverBlocks(t *testing.T) {
	tr := NewTracker()
	tr.Start("job", "src")

	// Never read from the subscription; updates must still complete.
	_ = tr.Subscribe("job")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*4; i++ {
			tr.Update("job", Delta{Completed: 1})
		}
		tr.Finish("job")
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("updates blocked on a slow subscriber")
	}
}

func TestTrackerErrorListCapped(t *testing.T) {
	tr := NewTracker()
	tr.Start("job", "src")

	for i := 0; i < maxRecordedErrors+20; i++ {
		tr.Update("job", Delta{Failed: 1, Err: &events.TaskError{DescriptorID: "d", Message: "boom"}})
	}

	snap, _ := tr.Snapshot("job")
	if len(snap.Errors) != maxRecordedErrors {
		t.Errorf("Errors length = %d, want cap %d", len(snap.Errors), maxRecordedErrors)
	}
	if snap.Failed != maxRecordedErrors+20 {
		t.Errorf("Failed = %d, counters should keep counting past the cap", snap.Failed)
	}
}

func TestTrackerFinishIdempotent(t *testing.T) {
	tr := NewTracker()
	tr.Start("job", "src")
	tr.Update("job", Delta{Completed: 2})

	a := tr.Finish("job")
	b := tr.Finish("job")
	if a.Completed != b.Completed || !b.Done {
		t.Errorf("repeated Finish changed the snapshot: %+v vs %+v", a, b)
	}
}
