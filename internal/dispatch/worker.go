package dispatch

import (
	"context"
	"time"

	"wabulk/internal/channel"
	logx "wabulk/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	runCtx := ctx
	if j.ctx != nil {
		c, cancel := context.WithCancel(j.ctx)
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		defer cancel()
		runCtx = c
	}

	s.update(j.id, func(st *JobStatus) {
		st.State = JobRunning
		st.StartedAt = s.now()
	})
	log := s.log.With(logx.String("job", j.id), logx.String("name", j.name))
	log.Info("dispatch job started", logx.Int("total", len(j.tasks)))

	var sessions []channel.Channel
	if s.sessions != nil {
		sessions = s.sessions()
	}
	rep, err := s.runner.Run(runCtx, j.tasks, sessions,
		WithRejected(j.rejected),
		WithProgress(func(o Outcome) {
			s.update(j.id, func(st *JobStatus) {
				st.Done++
				if o.Status != Success {
					st.Failed++
				}
			})
		}),
	)

	final := s.update(j.id, func(st *JobStatus) {
		st.DoneAt = s.now()
		st.Report = rep
		if err != nil {
			st.State = JobFailed
			st.Error = err.Error()
			return
		}
		st.State = JobDone
	})

	if err != nil {
		log.Warn("dispatch job rejected", logx.Err(err), logx.Duration("took", time.Since(start)))
	} else {
		log.Info("dispatch job finished", logx.String("classification", string(rep.Classification)), logx.Duration("took", time.Since(start)))
	}

	if j.done != nil {
		j.done <- jobResult{report: rep, err: err}
	}
	s.finish(final, j.after)
}

func (s *Service) finish(st JobStatus, after func(JobStatus)) {
	s.mu.Lock()
	hooks := append([]func(JobStatus){}, s.onFinish...)
	s.mu.Unlock()
	if after != nil {
		hooks = append(hooks, after)
	}
	for _, fn := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch finish hook", logx.String("job", st.ID), logx.Any("panic", r))
				}
			}()
			fn(st)
		}()
	}
}

// update applies fn to the job's status and returns a copy of the result.
func (s *Service) update(id string, fn func(*JobStatus)) JobStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status[id]
	if st == nil {
		return JobStatus{ID: id}
	}
	fn(st)
	return *st
}
