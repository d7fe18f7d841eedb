package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hoardr-dl/hoardr/internal/engine/types"
)

// TaskError records one terminal task failure inside a snapshot.
type TaskError struct {
	DescriptorID string          `json:"descriptor_id"`
	Kind         types.ErrorKind `json:"kind"`
	Message      string          `json:"message"`
}

// Snapshot is a point-in-time view of one job's progress. Snapshots are
// read-only to consumers; only workers mutate the underlying counters
// through the tracker.
type Snapshot struct {
	JobID     string    `json:"job_id"`
	Source    string    `json:"source"`
	Pending   int       `json:"pending"`
	Active    int       `json:"active"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Cancelled int       `json:"cancelled"`
	Bytes     int64     `json:"bytes"`
	StartedAt time.Time `json:"started_at"`
	Done      bool      `json:"done"`

	Errors []TaskError `json:"errors,omitempty"`
}

// Terminal returns the number of tasks that reached a final state.
func (s Snapshot) Terminal() int {
	return s.Completed + s.Failed + s.Skipped + s.Cancelled
}

// JobQueuedMsg is emitted when a job has been accepted and its pagination
// producer started.
type JobQueuedMsg struct {
	JobID  string
	Source string
}

// JobDoneMsg is emitted when a job reaches a fully-drained state: producer
// finished or cancelled, and every task terminal.
type JobDoneMsg struct {
	JobID   string
	Source  string
	Final   Snapshot
	Elapsed time.Duration
}

// TaskStartedMsg is emitted when a worker begins fetching a descriptor.
type TaskStartedMsg struct {
	JobID    string
	Source   string
	ID       string
	Filename string
	Attempt  int
}

// TaskCompletedMsg is emitted after a successful write to disk.
type TaskCompletedMsg struct {
	JobID    string
	Source   string
	ID       string
	Filename string
	DestPath string
	Bytes    int64
	// Resumed is true when the destination already existed with the
	// expected size and no fetch was performed.
	Resumed bool
}

// TaskSkippedMsg is emitted when a blacklist or history check rejects a
// descriptor before or after fetch.
type TaskSkippedMsg struct {
	JobID  string
	Source string
	ID     string
	Reason string
}

// TaskFailedMsg is emitted when a task reaches terminal Failed.
type TaskFailedMsg struct {
	JobID    string
	Source   string
	ID       string
	Filename string
	Attempts int
	Err      error
}

func (m TaskFailedMsg) MarshalJSON() ([]byte, error) {
	type encoded struct {
		JobID    string `json:"JobID"`
		Source   string `json:"Source"`
		ID       string `json:"ID"`
		Filename string `json:"Filename,omitempty"`
		Attempts int    `json:"Attempts"`
		Err      string `json:"Err,omitempty"`
	}
	out := encoded{
		JobID:    m.JobID,
		Source:   m.Source,
		ID:       m.ID,
		Filename: m.Filename,
		Attempts: m.Attempts,
	}
	if m.Err != nil {
		out.Err = m.Err.Error()
	}
	return json.Marshal(out)
}

func (m *TaskFailedMsg) UnmarshalJSON(data []byte) error {
	var aux struct {
		JobID    string `json:"JobID"`
		Source   string `json:"Source"`
		ID       string `json:"ID"`
		Filename string `json:"Filename"`
		Attempts int    `json:"Attempts"`
		Err      string `json:"Err"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.JobID = aux.JobID
	m.Source = aux.Source
	m.ID = aux.ID
	m.Filename = aux.Filename
	m.Attempts = aux.Attempts
	if aux.Err != "" {
		m.Err = errors.New(aux.Err)
	} else {
		m.Err = nil
	}
	return nil
}

// TaskRetryMsg is emitted when a failed task is re-queued under the retry
// policy.
type TaskRetryMsg struct {
	JobID   string
	Source  string
	ID      string
	Attempt int
	Delay   time.Duration
	Err     error
}

// DegradedModeMsg is emitted once per transition into degraded mode: the
// proxy pool has no healthy record left and fetches proceed unproxied.
type DegradedModeMsg struct {
	Unhealthy int
}

// ProxyRestoredMsg is emitted when a background probe returns a previously
// unhealthy proxy to rotation.
type ProxyRestoredMsg struct {
	Address string
}

// RateLimitedMsg is emitted when a remote 429 triggers backpressure on a
// source's bucket.
type RateLimitedMsg struct {
	Source string
	Until  time.Time
}
