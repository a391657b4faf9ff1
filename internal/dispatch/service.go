package dispatch

import (
	"context"
	"runtime/debug"
	"time"

	"wabulk/internal/channel"
	logx "wabulk/pkg/logx"
)

const defaultQueueSize = 32

// NewService wraps runner with a job queue. sessions is called at the start
// of every job, so a reload that swaps sessions takes effect on the next run.
func NewService(cfg ServiceConfig, runner Runner, sessions func() []channel.Channel, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Service{
		runner:    runner,
		sessions:  sessions,
		log:       log,
		queue:     make(chan job, size),
		status:    map[string]*JobStatus{},
		statusMax: cfg.StatusMax,
		statusTTL: cfg.StatusTTL,
		now:       time.Now,
	}
}

// OnFinish registers fn to be called with the final status of every job.
// Register hooks before Start.
func (s *Service) OnFinish(fn func(JobStatus)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onFinish = append(s.onFinish, fn)
	s.mu.Unlock()
}

// Running reports whether the worker accepts jobs.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil && s.stopDone == nil
}

func (s *Service) Start(ctx context.Context) {
	// If a Stop() is in progress, wait for it to complete (prevents two workers).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	// the queue survives restarts; pending jobs stay pending
	queue := s.queue
	stopCh := s.stopCh
	runCtx := s.runCtx

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in dispatch worker", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		s.worker(runCtx, stopCh, queue)
	}()

	s.log.Info("dispatch service started", logx.Int("queue_cap", cap(queue)))
}

// Stop cancels the current run (between recipients) and waits for the
// worker to exit or ctx to expire.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("dispatch service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}
