// Package engine implements the download orchestration core: a bounded
// task queue drained by a fixed worker pool, with per-source rate
// limiting, proxy rotation, retry, and per-job progress tracking. The
// engine does no logging; it surfaces typed events for a front end to
// render.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hoardr-dl/hoardr/internal/engine/events"
	"github.com/hoardr-dl/hoardr/internal/engine/proxypool"
	"github.com/hoardr-dl/hoardr/internal/engine/ratelimit"
	"github.com/hoardr-dl/hoardr/internal/engine/retry"
	"github.com/hoardr-dl/hoardr/internal/engine/types"
	"github.com/hoardr-dl/hoardr/internal/source"
	"github.com/hoardr-dl/hoardr/internal/store"
	"github.com/hoardr-dl/hoardr/internal/utils"
)

const (
	eventBuffer = 256
	proberSweep = 10 * time.Second
)

// jobState tracks one submitted job until it drains.
type jobState struct {
	job     types.Job
	ctx     context.Context
	cancel  context.CancelFunc
	outDir  string
	started time.Time

	outstanding  atomic.Int64
	producerDone atomic.Bool
	finished     atomic.Bool

	mu        sync.Mutex
	seenPaths map[string]bool
	seenIDs   map[string]bool

	blTags    map[string]bool
	blFormats map[string]bool

	slots chan struct{} // per-job active cap, nil when unlimited
}

func (js *jobState) acquireSlot(ctx context.Context) bool {
	if js.slots == nil {
		return true
	}
	select {
	case js.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (js *jobState) releaseSlot() {
	if js.slots != nil {
		<-js.slots
	}
}

// Session is one engine run over an immutable configuration snapshot.
// Jobs submitted to a session share its worker pool, rate limiter, proxy
// pool, and history store.
type Session struct {
	cfg      types.SessionConfig
	registry *source.Registry

	limiter *ratelimit.Limiter
	proxies *proxypool.Pool
	policy  *retry.Policy
	tracker *Tracker
	history *store.History

	queue  chan *types.Task
	events chan any

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]*jobState

	eventsMu     sync.RWMutex
	eventsClosed bool

	closeOnce sync.Once
}

// NewSession builds a session from a configuration snapshot and starts
// its workers. The caller must Close the session when done.
func NewSession(cfg types.SessionConfig, registry *source.Registry) (*Session, error) {
	cfg = cfg.Normalized()
	if registry == nil {
		return nil, fmt.Errorf("nil adapter registry")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:      cfg,
		registry: registry,
		limiter:  ratelimit.New(cfg.DefaultRate, cfg.SourceRates),
		tracker:  NewTracker(),
		queue:    make(chan *types.Task, cfg.QueueSize),
		events:   make(chan any, eventBuffer),
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]*jobState),
	}

	if cfg.HistoryPath != "" {
		h, err := store.Open(cfg.HistoryPath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open history: %w", err)
		}
		s.history = h
	}

	var proxies []string
	if cfg.UseProxies {
		proxies = cfg.Proxies
	}
	s.proxies = proxypool.New(proxies, proxypool.Options{
		OnDegraded: func(unhealthy int) {
			s.emit(events.DegradedModeMsg{Unhealthy: unhealthy})
		},
		OnRestored: func(addr string) {
			s.emit(events.ProxyRestoredMsg{Address: addr})
		},
	})
	s.proxies.StartProber(ctx, proberSweep)

	s.policy = retry.New(cfg.MaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	s.policy.OnRateLimited = func(src string, retryAfter time.Duration) {
		until := s.limiter.Throttle(src, retryAfter)
		s.emit(events.RateLimitedMsg{Source: src, Until: until})
	}

	for i := 0; i < cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s, nil
}

// Events returns the session's structured event stream. Events are
// dropped rather than blocking workers when no one is listening; the
// channel is closed by Close once every emitter has stopped, so a
// consumer can range over it.
func (s *Session) Events() <-chan any { return s.events }

func (s *Session) emit(msg any) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- msg:
	default:
	}
}

// Submit accepts a job, starts its pagination producer, and returns the
// job id. An unwritable destination directory is the one catastrophic
// error that rejects the whole job.
func (s *Session) Submit(job types.Job) (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", fmt.Errorf("session closed: %w", err)
	}
	adapter, err := s.registry.Get(job.Source)
	if err != nil {
		return "", err
	}
	if len(job.Query.Tags) == 0 && len(job.Query.URLs) == 0 {
		return "", fmt.Errorf("empty query for source %q", job.Source)
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	outDir := job.OutputDir
	if outDir == "" {
		outDir = filepath.Join(s.cfg.OutputRoot, job.Source)
	}
	outDir = utils.EnsureAbsPath(outDir)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	jctx, jcancel := context.WithCancel(s.ctx)
	js := &jobState{
		job:       job,
		ctx:       jctx,
		cancel:    jcancel,
		outDir:    outDir,
		started:   time.Now(),
		seenPaths: make(map[string]bool),
		seenIDs:   make(map[string]bool),
		blTags:    blacklistSet(s.cfg.BlacklistTags, job.BlacklistTags),
		blFormats: blacklistSet(s.cfg.BlacklistFormats, job.BlacklistFormats),
	}
	if job.MaxActive > 0 {
		js.slots = make(chan struct{}, job.MaxActive)
	}

	s.mu.Lock()
	s.jobs[job.ID] = js
	s.mu.Unlock()

	s.tracker.Start(job.ID, job.Source)
	s.emit(events.JobQueuedMsg{JobID: job.ID, Source: job.Source})

	s.wg.Add(1)
	go s.produce(js, adapter)
	return job.ID, nil
}

// Cancel stops a job's producer and drains its in-flight tasks to a
// cancelled terminal state. Other jobs are unaffected.
func (s *Session) Cancel(jobID string) error {
	js := s.jobState(jobID)
	if js == nil {
		return fmt.Errorf("unknown job %q", jobID)
	}
	js.cancel()
	return nil
}

// Snapshot returns a point-in-time progress view for a job.
func (s *Session) Snapshot(jobID string) (events.Snapshot, error) {
	snap, ok := s.tracker.Snapshot(jobID)
	if !ok {
		return events.Snapshot{}, fmt.Errorf("unknown job %q", jobID)
	}
	return snap, nil
}

// Subscribe returns a finite snapshot stream for a job: one snapshot per
// state change, closed once the job fully drains.
func (s *Session) Subscribe(jobID string) <-chan events.Snapshot {
	return s.tracker.Subscribe(jobID)
}

// Wait blocks until a job drains or ctx fires, returning the final
// snapshot.
func (s *Session) Wait(ctx context.Context, jobID string) (events.Snapshot, error) {
	sub := s.Subscribe(jobID)
	for {
		select {
		case <-ctx.Done():
			return events.Snapshot{}, ctx.Err()
		case snap, ok := <-sub:
			if !ok {
				return s.Snapshot(jobID)
			}
			if snap.Done {
				return snap, nil
			}
		}
	}
}

// Close cancels every job, stops the workers and producers, closes the
// event stream, and releases the history store. Queued tasks that have
// not been claimed are abandoned.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()

		// Workers, producers, and requeue timers have joined; the pool
		// prober may still be unwinding, so emit stays guarded.
		s.eventsMu.Lock()
		s.eventsClosed = true
		close(s.events)
		s.eventsMu.Unlock()

		if s.history != nil {
			s.history.Close()
		}
	})
}

func (s *Session) jobState(jobID string) *jobState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[jobID]
}

// produce drives an adapter's lazy pagination for one job, expanding
// pages into tasks. A full queue blocks the producer, which is the
// backpressure that keeps pagination from outrunning the workers.
func (s *Session) produce(js *jobState, adapter source.Adapter) {
	defer s.wg.Done()
	defer func() {
		js.producerDone.Store(true)
		s.maybeFinish(js)
	}()

	pager := adapter.Search(js.job.Query)
	for {
		if js.ctx.Err() != nil {
			return
		}

		// Pagination requests count against the source budget too.
		if err := s.limiter.Admit(js.ctx, js.job.Source); err != nil {
			return
		}

		batch, err := s.fetchPage(js, pager)
		if err != nil {
			if js.ctx.Err() == nil {
				s.tracker.Update(js.job.ID, Delta{Err: &events.TaskError{
					DescriptorID: "search",
					Kind:         types.Classify(err),
					Message:      err.Error(),
				}})
			}
			return
		}
		if len(batch) == 0 {
			return
		}

		for _, d := range batch {
			if !s.enqueue(js, d) {
				return
			}
		}
	}
}

// fetchPage pulls one page through the proxy pool, retrying transient
// page errors under the session policy.
func (s *Session) fetchPage(js *jobState, pager source.Pager) ([]types.Descriptor, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		rec := s.proxies.Acquire()
		client, err := s.proxies.ClientFor(rec)
		if err != nil {
			s.proxies.Report(rec, proxypool.FatalFailure)
			client = http.DefaultClient
		}

		batch, err := pager.Next(js.ctx, client)
		if err == nil {
			s.proxies.Report(rec, proxypool.Success)
			return batch, nil
		}
		lastErr = err
		s.reportProxy(rec, err)

		decision := s.policy.Decide(js.job.Source, err, attempt)
		if !decision.Retry {
			return nil, lastErr
		}
		select {
		case <-js.ctx.Done():
			return nil, js.ctx.Err()
		case <-time.After(decision.Delay):
		}
	}
}

// enqueue deduplicates a descriptor and hands it to the queue, blocking
// while the queue is full. It returns false when the job or session is
// shutting down.
func (s *Session) enqueue(js *jobState, d types.Descriptor) bool {
	destPath := filepath.Join(js.outDir, utils.SanitizeFilename(d.Filename))

	js.mu.Lock()
	if js.seenPaths[destPath] || (d.ID != "" && js.seenIDs[d.ID]) {
		js.mu.Unlock()
		return true
	}
	js.seenPaths[destPath] = true
	if d.ID != "" {
		js.seenIDs[d.ID] = true
	}
	js.mu.Unlock()

	task := &types.Task{
		JobID:    js.job.ID,
		Source:   js.job.Source,
		Desc:     d,
		DestPath: destPath,
	}
	task.SetState(types.TaskPending)

	js.outstanding.Add(1)
	s.tracker.Update(js.job.ID, Delta{Pending: 1})

	select {
	case s.queue <- task:
		return true
	case <-js.ctx.Done():
		s.finishTask(js, task, types.TaskCancelled, Delta{Pending: -1, Cancelled: 1})
		return false
	}
}

// requeue schedules a retry after the policy's delay without occupying a
// worker.
func (s *Session) requeue(js *jobState, task *types.Task, delay time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-js.ctx.Done():
			s.finishTask(js, task, types.TaskCancelled, Delta{Pending: -1, Cancelled: 1})
			return
		case <-timer.C:
		}
		select {
		case s.queue <- task:
		case <-js.ctx.Done():
			s.finishTask(js, task, types.TaskCancelled, Delta{Pending: -1, Cancelled: 1})
		}
	}()
}

// finishTask moves a task to a terminal state and completes the job when
// it was the last one out.
func (s *Session) finishTask(js *jobState, task *types.Task, state types.TaskState, d Delta) {
	task.SetState(state)
	s.tracker.Update(js.job.ID, d)
	js.outstanding.Add(-1)
	s.maybeFinish(js)
}

func (s *Session) maybeFinish(js *jobState) {
	if !js.producerDone.Load() || js.outstanding.Load() != 0 {
		return
	}
	if !js.finished.CompareAndSwap(false, true) {
		return
	}
	final := s.tracker.Finish(js.job.ID)
	js.cancel()
	s.emit(events.JobDoneMsg{
		JobID:   js.job.ID,
		Source:  js.job.Source,
		Final:   final,
		Elapsed: time.Since(js.started),
	})
}

func (s *Session) reportProxy(rec *proxypool.Record, err error) {
	if rec == nil {
		return
	}
	var disk *types.DiskError
	if errors.As(err, &disk) {
		// The network leg succeeded; don't blame the proxy for a
		// local write failure.
		s.proxies.Report(rec, proxypool.Success)
		return
	}
	switch types.Classify(err) {
	case types.KindTransient:
		s.proxies.Report(rec, proxypool.TransientFailure)
	case types.KindCancelled:
		// No signal about proxy health.
	default:
		s.proxies.Report(rec, proxypool.FatalFailure)
	}
}

func blacklistSet(base, override []string) map[string]bool {
	src := base
	if override != nil {
		src = override
	}
	set := make(map[string]bool, len(src))
	for _, v := range src {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = true
		}
	}
	return set
}
