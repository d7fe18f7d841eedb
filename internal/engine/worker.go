package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/flock"
	"github.com/h2non/filetype"

	"github.com/hoardr-dl/hoardr/internal/engine/events"
	"github.com/hoardr-dl/hoardr/internal/engine/proxypool"
	"github.com/hoardr-dl/hoardr/internal/engine/types"
	"github.com/hoardr-dl/hoardr/internal/store"
	"github.com/hoardr-dl/hoardr/internal/utils"
)

// worker drains the task queue until the session closes.
func (s *Session) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.queue:
			s.process(task)
		}
	}
}

// process runs one task through the pipeline: admission, proxy
// selection, fetch, blacklist check, write, reporting. Failures consult
// the retry policy; nothing here ever aborts the job or other tasks.
func (s *Session) process(task *types.Task) {
	js := s.jobState(task.JobID)
	if js == nil {
		return
	}
	if js.ctx.Err() != nil {
		s.finishTask(js, task, types.TaskCancelled, Delta{Pending: -1, Cancelled: 1})
		return
	}

	// Idempotent resume: an existing destination with the expected size
	// completes without a fetch.
	if utils.FileExistsWithSize(task.DestPath, task.Desc.Size) {
		s.finishTask(js, task, types.TaskCompleted, Delta{Pending: -1, Completed: 1})
		s.emit(events.TaskCompletedMsg{
			JobID:    js.job.ID,
			Source:   task.Source,
			ID:       task.Desc.ID,
			Filename: task.Desc.Filename,
			DestPath: task.DestPath,
			Resumed:  true,
		})
		return
	}

	if s.cfg.OneTimeDownload && s.history != nil && task.Desc.ID != "" {
		if seen, err := s.history.Seen(task.Source, task.Desc.ID); err == nil && seen {
			s.skip(js, task, "already downloaded")
			return
		}
	}

	if tag, hit := firstBlacklistedTag(js.blTags, task.Desc.Tags); hit {
		s.skip(js, task, "blacklisted tag: "+tag)
		return
	}
	// Format is checked pre-fetch when the descriptor declares one and
	// verified again post-fetch by content sniffing.
	if f := strings.ToLower(task.Desc.Format); f != "" && js.blFormats[f] {
		s.skip(js, task, "blacklisted format: "+f)
		return
	}

	if !js.acquireSlot(js.ctx) {
		s.finishTask(js, task, types.TaskCancelled, Delta{Pending: -1, Cancelled: 1})
		return
	}
	defer js.releaseSlot()

	// Admission: blocks on this source's bucket only.
	if err := s.limiter.Admit(js.ctx, task.Source); err != nil {
		s.finishTask(js, task, types.TaskCancelled, Delta{Pending: -1, Cancelled: 1})
		return
	}
	task.SetState(types.TaskAdmitted)
	s.tracker.Update(js.job.ID, Delta{Pending: -1, Active: 1})

	task.Attempts++
	s.attempt(js, task)
}

// attempt performs one fetch try for an admitted task.
func (s *Session) attempt(js *jobState, task *types.Task) {
	adapter, err := s.registry.Get(task.Source)
	if err != nil {
		s.fail(js, task, err)
		return
	}

	rec := s.proxies.Acquire()
	client, err := s.proxies.ClientFor(rec)
	if err != nil {
		s.proxies.Report(rec, proxypool.FatalFailure)
		rec = nil
		client = nil
	}

	fctx, cancel := context.WithTimeout(js.ctx, s.cfg.FetchTimeout)
	defer cancel()

	media, err := adapter.ResolveMedia(fctx, client, task.Desc)
	if err != nil {
		s.reportProxy(rec, err)
		s.settle(js, task, err)
		return
	}
	if media.FetchURL == "" {
		s.fail(js, task, fmt.Errorf("%w: empty fetch url for %s", types.ErrMalformedDescriptor, task.Desc.ID))
		return
	}

	task.SetState(types.TaskFetching)
	s.emit(events.TaskStartedMsg{
		JobID:    js.job.ID,
		Source:   task.Source,
		ID:       task.Desc.ID,
		Filename: task.Desc.Filename,
		Attempt:  task.Attempts,
	})

	// Writes to one destination path are serialized so resume checks
	// and renames can't interleave across jobs or processes.
	lock := flock.New(task.DestPath + ".lock")
	if err := lock.Lock(); err == nil {
		defer func() {
			lock.Unlock()
			os.Remove(lock.Path())
		}()

		// Re-check under the lock: another job may have just
		// finished this exact file.
		if utils.FileExistsWithSize(task.DestPath, task.Desc.Size) {
			s.finishTask(js, task, types.TaskCompleted, Delta{Active: -1, Completed: 1})
			s.emit(events.TaskCompletedMsg{
				JobID:    js.job.ID,
				Source:   task.Source,
				ID:       task.Desc.ID,
				Filename: task.Desc.Filename,
				DestPath: task.DestPath,
				Resumed:  true,
			})
			return
		}
	}

	res, err := fetchToTemp(fctx, client, media.FetchURL, task.DestPath, s.cfg.UserAgent)
	if err != nil {
		s.reportProxy(rec, err)
		s.settle(js, task, err)
		return
	}
	s.proxies.Report(rec, proxypool.Success)

	// Post-fetch format check for descriptors that didn't declare an
	// extension.
	if len(js.blFormats) > 0 && task.Desc.Format == "" {
		if kind, err := filetype.MatchFile(res.TmpPath); err == nil && kind != filetype.Unknown {
			if js.blFormats[strings.ToLower(kind.Extension)] {
				os.Remove(res.TmpPath)
				s.finishTask(js, task, types.TaskSkipped, Delta{Active: -1, Skipped: 1})
				s.emit(events.TaskSkippedMsg{
					JobID:  js.job.ID,
					Source: task.Source,
					ID:     task.Desc.ID,
					Reason: "blacklisted format: " + kind.Extension,
				})
				return
			}
		}
	}

	if err := finalize(res.TmpPath, task.DestPath); err != nil {
		os.Remove(res.TmpPath)
		s.settle(js, task, err)
		return
	}

	if s.history != nil && task.Desc.ID != "" {
		// History write failures don't fail the task; the file is
		// already on disk.
		_ = s.history.Record(store.Entry{
			Source:   task.Source,
			RemoteID: task.Desc.ID,
			Filename: task.Desc.Filename,
			DestPath: task.DestPath,
			Size:     res.Bytes,
		})
	}

	s.finishTask(js, task, types.TaskCompleted, Delta{Active: -1, Completed: 1, Bytes: res.Bytes})
	s.emit(events.TaskCompletedMsg{
		JobID:    js.job.ID,
		Source:   task.Source,
		ID:       task.Desc.ID,
		Filename: task.Desc.Filename,
		DestPath: task.DestPath,
		Bytes:    res.Bytes,
	})
}

// settle routes a failed attempt: cancelled tasks terminate quietly,
// transient errors consult the retry policy, everything else is terminal.
func (s *Session) settle(js *jobState, task *types.Task, err error) {
	if js.ctx.Err() != nil || types.Classify(err) == types.KindCancelled {
		s.finishTask(js, task, types.TaskCancelled, Delta{Active: -1, Cancelled: 1})
		return
	}

	// A timeout from the per-fetch deadline is transient even though it
	// surfaces as context.DeadlineExceeded.
	decision := s.policy.Decide(task.Source, err, task.Attempts)
	if !decision.Retry {
		s.fail(js, task, err)
		return
	}

	task.SetState(types.TaskPending)
	s.tracker.Update(js.job.ID, Delta{Active: -1, Pending: 1})
	s.emit(events.TaskRetryMsg{
		JobID:   js.job.ID,
		Source:  task.Source,
		ID:      task.Desc.ID,
		Attempt: task.Attempts,
		Delay:   decision.Delay,
		Err:     err,
	})
	s.requeue(js, task, decision.Delay)
}

func (s *Session) fail(js *jobState, task *types.Task, err error) {
	s.finishTask(js, task, types.TaskFailed, Delta{
		Active: -1,
		Failed: 1,
		Err: &events.TaskError{
			DescriptorID: task.Desc.ID,
			Kind:         types.Classify(err),
			Message:      err.Error(),
		},
	})
	s.emit(events.TaskFailedMsg{
		JobID:    js.job.ID,
		Source:   task.Source,
		ID:       task.Desc.ID,
		Filename: task.Desc.Filename,
		Attempts: task.Attempts,
		Err:      err,
	})
}

func (s *Session) skip(js *jobState, task *types.Task, reason string) {
	s.finishTask(js, task, types.TaskSkipped, Delta{Pending: -1, Skipped: 1})
	s.emit(events.TaskSkippedMsg{
		JobID:  js.job.ID,
		Source: task.Source,
		ID:     task.Desc.ID,
		Reason: reason,
	})
}

func firstBlacklistedTag(blacklist map[string]bool, tags []string) (string, bool) {
	if len(blacklist) == 0 {
		return "", false
	}
	for _, t := range tags {
		if blacklist[strings.ToLower(t)] {
			return t, true
		}
	}
	return "", false
}
