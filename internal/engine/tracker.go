package engine

import (
	"sync"
	"time"

	"github.com/hoardr-dl/hoardr/internal/engine/events"
)

// maxRecordedErrors caps the per-job failure list carried in snapshots.
const maxRecordedErrors = 50

// subscriberBuffer is the per-subscriber channel depth. When a subscriber
// falls behind, the oldest buffered snapshot is dropped so workers never
// block on a slow consumer.
const subscriberBuffer = 64

// Delta is one atomic counter adjustment applied by a worker.
type Delta struct {
	Pending   int
	Active    int
	Completed int
	Failed    int
	Skipped   int
	Cancelled int
	Bytes     int64
	Err       *events.TaskError
}

type jobProgress struct {
	mu     sync.Mutex
	snap   events.Snapshot
	subs   []chan events.Snapshot
	closed bool
}

// Tracker aggregates per-task and per-session counters. Counter state is
// scoped per job: updates for one job never contend with another's.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*jobProgress
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*jobProgress)}
}

// Start registers a job and stamps its start time.
func (t *Tracker) Start(jobID, source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[jobID]; ok {
		return
	}
	t.jobs[jobID] = &jobProgress{
		snap: events.Snapshot{
			JobID:     jobID,
			Source:    source,
			StartedAt: time.Now(),
		},
	}
}

func (t *Tracker) get(jobID string) *jobProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.jobs[jobID]
}

// Update applies a delta to a job's counters and notifies subscribers.
// It never blocks beyond the per-job mutex: slow subscribers lose
// intermediate snapshots, never the final one.
func (t *Tracker) Update(jobID string, d Delta) {
	jp := t.get(jobID)
	if jp == nil {
		return
	}

	jp.mu.Lock()
	jp.snap.Pending += d.Pending
	jp.snap.Active += d.Active
	jp.snap.Completed += d.Completed
	jp.snap.Failed += d.Failed
	jp.snap.Skipped += d.Skipped
	jp.snap.Cancelled += d.Cancelled
	jp.snap.Bytes += d.Bytes
	if d.Err != nil && len(jp.snap.Errors) < maxRecordedErrors {
		jp.snap.Errors = append(jp.snap.Errors, *d.Err)
	}
	snap := cloneSnapshot(jp.snap)
	subs := jp.subs
	closed := jp.closed
	jp.mu.Unlock()

	if !closed {
		for _, ch := range subs {
			offer(ch, snap)
		}
	}
}

// Snapshot returns a point-in-time copy of a job's progress.
func (t *Tracker) Snapshot(jobID string) (events.Snapshot, bool) {
	jp := t.get(jobID)
	if jp == nil {
		return events.Snapshot{}, false
	}
	jp.mu.Lock()
	defer jp.mu.Unlock()
	return cloneSnapshot(jp.snap), true
}

// Subscribe returns a channel that receives a snapshot on every state
// change and is closed once the job is fully drained. Subscribing to a
// finished or unknown job yields an immediately-terminated stream (with
// the final snapshot, when known).
func (t *Tracker) Subscribe(jobID string) <-chan events.Snapshot {
	ch := make(chan events.Snapshot, subscriberBuffer)

	jp := t.get(jobID)
	if jp == nil {
		close(ch)
		return ch
	}

	jp.mu.Lock()
	defer jp.mu.Unlock()
	if jp.closed {
		ch <- cloneSnapshot(jp.snap)
		close(ch)
		return ch
	}
	jp.subs = append(jp.subs, ch)
	return ch
}

// Finish marks a job done, delivers the final snapshot to every
// subscriber, and closes their channels. The final snapshot remains
// available through Snapshot.
func (t *Tracker) Finish(jobID string) events.Snapshot {
	jp := t.get(jobID)
	if jp == nil {
		return events.Snapshot{}
	}

	jp.mu.Lock()
	if jp.closed {
		snap := cloneSnapshot(jp.snap)
		jp.mu.Unlock()
		return snap
	}
	jp.snap.Done = true
	jp.closed = true
	snap := cloneSnapshot(jp.snap)
	subs := jp.subs
	jp.subs = nil
	jp.mu.Unlock()

	for _, ch := range subs {
		offer(ch, snap)
		close(ch)
	}
	return snap
}

// offer sends without blocking; when the buffer is full the oldest entry
// is evicted so the latest snapshot always lands.
func offer(ch chan events.Snapshot, snap events.Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func cloneSnapshot(s events.Snapshot) events.Snapshot {
	out := s
	if len(s.Errors) > 0 {
		out.Errors = make([]events.TaskError, len(s.Errors))
		copy(out.Errors, s.Errors)
	}
	return out
}
