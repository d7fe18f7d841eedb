package types

import (
	"sync/atomic"
	"time"
)

// Defaults for session configuration.
const (
	DefaultConcurrency  = 3
	DefaultQueueSize    = 64
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxAttempts  = 5

	// IncompleteSuffix is appended to files while they are being written.
	IncompleteSuffix = ".hoardr"
)

// Rate describes a token bucket: Capacity tokens, refilled at PerSecond.
type Rate struct {
	Capacity  float64 `json:"capacity"`
	PerSecond float64 `json:"per_second"`
}

// DefaultRate is the conservative bucket applied to sources without an
// explicit configuration.
var DefaultRate = Rate{Capacity: 2, PerSecond: 1}

// Descriptor identifies one fetchable media item produced by a site
// adapter. URL may be empty until ResolveMedia runs.
type Descriptor struct {
	ID       string
	URL      string
	Filename string
	Tags     []string
	Format   string // file extension without dot, "" if unknown
	Size     int64  // expected size in bytes, 0 if unknown
}

// Query is the caller's search input for one job: either a tag query or an
// explicit URL set. MaxPages bounds pagination (0 means no bound).
type Query struct {
	Tags     []string
	URLs     []string
	MaxPages int
}

// Job is a caller-submitted unit of work spanning one source and one
// query. It is immutable after submission.
type Job struct {
	ID        string
	Source    string
	Query     Query
	OutputDir string // overrides the session output root when set

	// Per-job overrides. Nil slices fall back to the session blacklists;
	// MaxActive <= 0 means no per-job cap beyond the worker pool size.
	BlacklistTags    []string
	BlacklistFormats []string
	MaxActive        int
}

// TaskState is the lifecycle state of a single fetch.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskAdmitted
	TaskFetching
	TaskCompleted
	TaskFailed
	TaskSkipped
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskAdmitted:
		return "admitted"
	case TaskFetching:
		return "fetching"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskSkipped:
		return "skipped"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskCancelled:
		return true
	}
	return false
}

// Task is the unit of work for fetching a single descriptor. It is owned
// by the queue until a worker claims it, then by that worker until it
// reaches a terminal state.
type Task struct {
	JobID    string
	Source   string
	Desc     Descriptor
	DestPath string
	Attempts int

	state atomic.Int32
}

// State returns the task's current lifecycle state.
func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

// SetState moves the task to a new lifecycle state.
func (t *Task) SetState(s TaskState) { t.state.Store(int32(s)) }

// Credentials are optional per-source API credentials, applied by adapters
// as HTTP basic auth.
type Credentials struct {
	Username string `json:"username"`
	APIKey   string `json:"api_key"`
}

// SessionConfig is the immutable configuration snapshot an engine session
// receives at start. It is never re-read mid-session.
type SessionConfig struct {
	OutputRoot  string
	Concurrency int
	QueueSize   int

	FetchTimeout time.Duration
	UserAgent    string

	DefaultRate Rate
	SourceRates map[string]Rate

	Proxies    []string
	UseProxies bool

	BlacklistTags    []string
	BlacklistFormats []string

	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	OneTimeDownload bool
	HistoryPath     string

	Credentials map[string]Credentials
}

// Normalized returns a copy with zero values replaced by defaults.
func (c SessionConfig) Normalized() SessionConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.DefaultRate.Capacity <= 0 || c.DefaultRate.PerSecond <= 0 {
		c.DefaultRate = DefaultRate
	}
	if c.OutputRoot == "" {
		c.OutputRoot = "media"
	}
	return c
}
