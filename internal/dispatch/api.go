package dispatch

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"wabulk/internal/contacts"
	logx "wabulk/pkg/logx"
)

// SubmitOption configures one submitted job.
type SubmitOption func(*job)

// AfterRun calls fn with the job's final status once it has run, after the
// service-wide OnFinish hooks.
func AfterRun(fn func(JobStatus)) SubmitOption {
	return func(j *job) { j.after = fn }
}

// Submit enqueues a run and returns its job id without waiting.
func (s *Service) Submit(name string, tasks []Task, rejected []contacts.RejectedEntry, opts ...SubmitOption) (string, error) {
	j, err := s.enqueue(nil, name, tasks, rejected, opts...)
	if err != nil {
		return "", err
	}
	return j.id, nil
}

// Do enqueues a run and waits for its report. Cancelling ctx cancels the
// run between recipients; Do then still returns the partial report.
func (s *Service) Do(ctx context.Context, name string, tasks []Task, rejected []contacts.RejectedEntry) (string, *RunReport, error) {
	j, err := s.enqueue(ctx, name, tasks, rejected)
	if err != nil {
		return "", nil, err
	}
	select {
	case res := <-j.done:
		return j.id, res.report, res.err
	case <-ctx.Done():
	}
	if st, ok := s.Status(j.id); ok && st.State == JobQueued {
		// the worker will see a cancelled ctx and skip everything
		return j.id, nil, ctx.Err()
	}
	// running: the run stops after the send in flight
	res := <-j.done
	return j.id, res.report, res.err
}

func (s *Service) enqueue(ctx context.Context, name string, tasks []Task, rejected []contacts.RejectedEntry, opts ...SubmitOption) (job, error) {
	if len(tasks) == 0 {
		return job{}, ErrNoTasks
	}
	if !s.Running() {
		return job{}, ErrNotRunning
	}

	now := s.now()
	s.pruneStatus(now)
	j := job{id: uuid.NewString(), name: name, tasks: tasks, rejected: rejected, ctx: ctx}
	if ctx != nil {
		j.done = make(chan jobResult, 1)
	}
	for _, opt := range opts {
		opt(&j)
	}

	s.statusMu.Lock()
	s.status[j.id] = &JobStatus{ID: j.id, Name: name, State: JobQueued, Total: len(tasks), CreatedAt: now}
	s.statusMu.Unlock()

	select {
	case s.queue <- j:
		s.log.Debug("dispatch job enqueued", logx.String("job", j.id), logx.String("name", name), logx.Int("total", len(tasks)), logx.Int("queue_len", len(s.queue)))
		return j, nil
	default:
		s.statusMu.Lock()
		delete(s.status, j.id)
		s.statusMu.Unlock()
		s.log.Warn("dispatch queue full; rejecting job", logx.String("name", name), logx.Int("queue_cap", cap(s.queue)))
		return job{}, ErrQueueFull
	}
}

// Status returns a copy of the job's status.
func (s *Service) Status(id string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[id]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	return *st, true
}

// Jobs lists known jobs, newest first.
func (s *Service) Jobs() []JobStatus {
	s.statusMu.RLock()
	out := make([]JobStatus, 0, len(s.status))
	for _, st := range s.status {
		if st != nil {
			out = append(out, *st)
		}
	}
	s.statusMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
