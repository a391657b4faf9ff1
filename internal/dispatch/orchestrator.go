// Package dispatch sends one payload to many recipients over one or more
// channel sessions and records every attempt in the audit log.
//
// A failing recipient never stops the others. Only input-level problems
// (no session, no recipients, an unusable payload) fail a run as a whole;
// everything else ends up in the RunReport.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"wabulk/internal/audit"
	"wabulk/internal/channel"
	"wabulk/internal/contacts"
	logx "wabulk/pkg/logx"
)

const (
	defaultRetryDelay   = 200 * time.Millisecond
	defaultAuditTimeout = 5 * time.Second
)

// Config controls pacing and retries.
type Config struct {
	// Cooldown is the minimum spacing between two sends on the same session.
	Cooldown time.Duration
	// RetryMax is the number of extra attempts after a failed send.
	RetryMax int
	// RetryDelay is the base of the linear back-off between attempts.
	RetryDelay time.Duration
	// AuditTimeout bounds each audit append.
	AuditTimeout time.Duration
}

// Orchestrator runs dispatch tasks. It is safe for concurrent use, but
// callers must not run two jobs on the same session at once.
type Orchestrator struct {
	mu  sync.Mutex
	cfg Config

	store   audit.Store
	log     logx.Logger
	metrics *Metrics
	now     func() time.Time
}

type Option func(*Orchestrator)

func WithMetrics(m *Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithClock overrides time.Now for audit timestamps.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func New(cfg Config, store audit.Store, log logx.Logger, opts ...Option) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	o := &Orchestrator{cfg: cfg, store: store, log: log, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Apply swaps pacing and retry settings. Runs in progress keep their settings.
func (o *Orchestrator) Apply(cfg Config) {
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
}

func (o *Orchestrator) config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	cfg := o.cfg
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = defaultAuditTimeout
	}
	return cfg
}

type runOptions struct {
	progress func(Outcome)
	rejected []contacts.RejectedEntry
}

// RunOption configures a single Run.
type RunOption func(*runOptions)

// WithProgress registers fn to receive each outcome as it completes.
// Calls are serialized.
func WithProgress(fn func(Outcome)) RunOption {
	return func(r *runOptions) { r.progress = fn }
}

// WithRejected attaches the loader's rejected rows to the report.
func WithRejected(rejected []contacts.RejectedEntry) RunOption {
	return func(r *runOptions) { r.rejected = rejected }
}

// Run sends every task once (plus retries) and returns the report.
//
// Each session gets its own worker and cooldown limiter; with one session
// tasks go out strictly in order. Cancelling ctx stops the run between
// tasks: a send already in flight completes and is audited, tasks not yet
// started are reported as skipped and are not audited.
func (o *Orchestrator) Run(ctx context.Context, tasks []Task, sessions []channel.Channel, opts ...RunOption) (*RunReport, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	live := make([]channel.Channel, 0, len(sessions))
	for _, s := range sessions {
		if s != nil {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return nil, ErrNoSession
	}
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	if err := validatePayloads(tasks); err != nil {
		return nil, err
	}

	cfg := o.config()
	rep := &RunReport{
		ID:        uuid.NewString(),
		StartedAt: o.now(),
		Outcomes:  make([]Outcome, len(tasks)),
		Rejected:  ro.rejected,
	}
	if rep.Rejected == nil {
		rep.Rejected = []contacts.RejectedEntry{}
	}
	log := o.log.With(logx.String("run", rep.ID))
	log.Info("run started", logx.Int("tasks", len(tasks)), logx.Int("sessions", len(live)), logx.Duration("cooldown", cfg.Cooldown))

	queue := make(chan int, len(tasks))
	for i := range tasks {
		queue <- i
	}
	close(queue)

	var (
		progressMu sync.Mutex
		wg         sync.WaitGroup
	)
	emit := func(out Outcome) {
		if ro.progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		ro.progress(out)
	}

	for i, sess := range live {
		name := sessionName(sess, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.worker(ctx, cfg, log.With(logx.String("session", name)), name, sess, tasks, queue, rep.Outcomes, emit)
		}()
	}
	wg.Wait()

	rep.FinishedAt = o.now()
	rep.tally()
	o.metrics.ObserveRun(rep.Classification)

	fields := []logx.Field{
		logx.String("classification", string(rep.Classification)),
		logx.Int("succeeded", rep.Succeeded),
		logx.Int("failed", rep.Failed),
		logx.Int("skipped", rep.Skipped),
		logx.Int("audit_failures", rep.AuditFailures),
		logx.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
	}
	switch {
	case rep.Cancelled:
		log.Warn("run cancelled", fields...)
	case rep.Classification != AllSucceeded:
		log.Warn("run finished with failures", fields...)
	default:
		log.Info("run finished", fields...)
	}
	return rep, nil
}

func validatePayloads(tasks []Task) error {
	checked := make(map[Payload]struct{}, 1)
	for _, t := range tasks {
		if _, ok := checked[t.Payload]; ok {
			continue
		}
		if err := t.Payload.Validate(); err != nil {
			return err
		}
		checked[t.Payload] = struct{}{}
	}
	return nil
}

func sessionName(c channel.Channel, idx int) string {
	if n, ok := c.(interface{ Name() string }); ok && n.Name() != "" {
		return n.Name()
	}
	return "session-" + strconv.Itoa(idx)
}

func (o *Orchestrator) worker(ctx context.Context, cfg Config, log logx.Logger, name string, ch channel.Channel, tasks []Task, queue <-chan int, outcomes []Outcome, emit func(Outcome)) {
	var lim *rate.Limiter
	if cfg.Cooldown > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.Cooldown), 1)
	}

	for idx := range queue {
		t := tasks[idx]
		if ctx.Err() != nil {
			outcomes[idx] = skipped(t)
			emit(outcomes[idx])
			continue
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				outcomes[idx] = skipped(t)
				emit(outcomes[idx])
				continue
			}
		}

		out := o.execute(ctx, cfg, log, ch, t)
		out.Session = name
		o.metrics.ObserveSend(string(out.Kind), out.Status, out.Duration.Seconds())

		if err := o.appendAudit(ctx, cfg, t, out); err != nil {
			out.AuditError = err.Error()
			o.metrics.ObserveAuditFailure()
			log.Error("audit append failed; send already happened",
				logx.String("to", string(t.Recipient)), logx.String("status", string(out.Status)), logx.Err(err))
		}
		outcomes[idx] = out
		emit(out)
	}
}

func skipped(t Task) Outcome {
	return Outcome{
		Recipient: t.Recipient,
		Kind:      t.Payload.Kind(),
		Status:    Failure,
		Reason:    SkippedReason,
		Skipped:   true,
	}
}

// execute performs the send with retries. The send itself is detached from
// ctx cancellation so an in-flight call is never torn down halfway; retry
// waits do observe ctx.
func (o *Orchestrator) execute(ctx context.Context, cfg Config, log logx.Logger, ch channel.Channel, t Task) Outcome {
	out := Outcome{Recipient: t.Recipient, Kind: t.Payload.Kind(), StartedAt: o.now()}
	start := time.Now()
	sendCtx := context.WithoutCancel(ctx)

	var last error
	for i := 0; i <= cfg.RetryMax; i++ {
		out.Attempts++
		last = sendOnce(sendCtx, ch, t)
		if last == nil {
			break
		}
		if i == cfg.RetryMax {
			break
		}
		delay := cfg.RetryDelay + time.Duration(i)*cfg.RetryDelay/2
		log.Debug("send retry scheduled", logx.String("to", string(t.Recipient)), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(last))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			i = cfg.RetryMax
		case <-tmr.C:
		}
	}
	out.Duration = time.Since(start)

	if last != nil {
		out.Status = Failure
		out.Reason = last.Error()
		log.Warn("send failed", logx.String("to", string(t.Recipient)), logx.Int("attempts", out.Attempts), logx.Err(last))
		return out
	}
	out.Status = Success
	log.Debug("send ok", logx.String("to", string(t.Recipient)), logx.Duration("took", out.Duration))
	return out
}

// sendOnce calls the channel and turns a panic into an error.
func sendOnce(ctx context.Context, ch channel.Channel, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panic: %v\n%s", r, debug.Stack())
		}
	}()
	if t.Payload.IsImage() {
		return ch.SendImage(ctx, t.Recipient, t.Payload.ImagePath, t.Payload.Caption)
	}
	return ch.SendText(ctx, t.Recipient, t.Payload.Text)
}

// appendAudit persists the outcome even when ctx was cancelled meanwhile.
func (o *Orchestrator) appendAudit(ctx context.Context, cfg Config, t Task, out Outcome) error {
	if o.store == nil {
		return nil
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.AuditTimeout)
	defer cancel()

	status := audit.StatusSuccess
	if out.Status != Success {
		status = audit.StatusFailed
	}
	return o.store.Append(actx, audit.Record{
		Timestamp: o.now(),
		Phone:     string(t.Recipient),
		Type:      out.Kind,
		Content:   t.Payload.Summary(),
		Status:    status,
		Error:     out.Reason,
	})
}
