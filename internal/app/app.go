// Package app wires configuration into the running components:
// config → logger → audit store → sessions → orchestrator → run queue,
// plus the serve-mode scheduler, HTTP API and operator notifications.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"wabulk/internal/audit"
	"wabulk/internal/channel"
	"wabulk/internal/config"
	"wabulk/internal/contacts"
	"wabulk/internal/dispatch"
	"wabulk/internal/httpapi"
	"wabulk/internal/notify"
	rtsup "wabulk/internal/runtime/supervisor"
	"wabulk/internal/schedule"
	logx "wabulk/pkg/logx"
)

const notifyDeadline = 15 * time.Second

type App struct {
	opts  Options
	cfgm  *config.ConfigManager
	watch bool

	log  logx.Logger
	logs *logx.Service
	sup  *rtsup.Supervisor

	registry *prometheus.Registry
	store    audit.Store
	loader   *loaderRef

	sessMu   sync.RWMutex
	sessions []channel.Session

	orch  *dispatch.Orchestrator
	runs  *dispatch.Service
	sched *schedule.Service
	http  *httpapi.Server
	notif atomic.Pointer[notify.Telegram]
	// notifyWG tracks summaries still being delivered.
	notifyWG sync.WaitGroup
}

func New(opts Options) (*App, error) {
	b, err := Bootstrap(opts)
	if err != nil {
		return nil, err
	}
	a, err := b.Build()
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return a, nil
}

// Build opens the audit store and sessions and wires the run queue.
func (b *Base) Build() (*App, error) {
	cfg := b.Config
	r, _ := cfg.Resolve()
	log := b.root
	a := &App{opts: b.opts, cfgm: b.cfgm, watch: b.watch, logs: b.logs, log: b.Log}

	store, err := b.OpenStore()
	if err != nil {
		return nil, err
	}
	a.store = store

	sessions, err := channel.Open(mapChannel(cfg, r), log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.sessions = sessions

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.orch = dispatch.New(mapDispatch(cfg, r), store, log.With(logx.String("comp", "dispatch")),
		dispatch.WithMetrics(dispatch.NewMetrics(a.registry)))
	a.runs = dispatch.NewService(mapService(cfg), a.orch, a.channels, log.With(logx.String("comp", "runs")))
	a.runs.OnFinish(a.onRunFinished)

	a.loader = &loaderRef{remote: b.remote}
	a.loader.set(b.Loader())

	loc, _ := cfg.Location()
	a.sched = schedule.New(a.loader, a.runs, log.With(logx.String("comp", "schedule")), schedule.WithLocation(loc))
	if err := a.sched.Apply(mapCampaigns(cfg)); err != nil {
		_ = a.closeResources(context.Background())
		return nil, err
	}

	if ncfg, ok := mapNotify(cfg, r); ok {
		t, err := notify.New(ncfg, log.With(logx.String("comp", "notify")))
		if err != nil {
			_ = a.closeResources(context.Background())
			return nil, err
		}
		a.notif.Store(t)
	}

	a.http = httpapi.New(mapHTTP(cfg, r), httpapi.Deps{
		Runs:      a.runs,
		Loader:    a.loader,
		Store:     store,
		Sessions:  a.Sessions,
		Schedules: a.sched,
		Gatherer:  a.registry,
	}, log.With(logx.String("comp", "http")))

	return a, nil
}

func (a *App) effective(raw *config.Config) *config.Config {
	return applyOverride(raw, a.opts.Override)
}

func (a *App) Logger() logx.Logger            { return a.log }
func (a *App) Config() *config.Config         { return a.effective(a.cfgm.Get()) }
func (a *App) Store() audit.Store             { return a.store }
func (a *App) Runs() *dispatch.Service        { return a.runs }
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Loader returns the contact loader for the current config.
func (a *App) Loader() *contacts.Loader { return a.loader.get() }

// Sessions returns the current messaging sessions.
func (a *App) Sessions() []channel.Session {
	a.sessMu.RLock()
	defer a.sessMu.RUnlock()
	return append([]channel.Session(nil), a.sessions...)
}

func (a *App) channels() []channel.Channel { return channel.Channels(a.Sessions()) }

// Send runs one job through the queue and waits for its report.
// It is the one-shot path used by the command line.
func (a *App) Send(ctx context.Context, name string, tasks []dispatch.Task, rejected []contacts.RejectedEntry) (*dispatch.RunReport, error) {
	if !a.runs.Running() {
		a.runs.Start(context.WithoutCancel(ctx))
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.runs.Stop(stopCtx)
		}()
	}
	_, rep, err := a.runs.Do(ctx, name, tasks, rejected)
	return rep, err
}

// onRunFinished posts the run summary off the dispatch worker so a slow
// Bot API never holds up the next queued run.
func (a *App) onRunFinished(st dispatch.JobStatus) {
	t := a.notif.Load()
	if t == nil {
		return
	}
	a.notifyWG.Add(1)
	go func() {
		defer a.notifyWG.Done()
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("panic in run summary", logx.String("job", st.ID), logx.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), notifyDeadline)
		defer cancel()
		t.Hook(ctx)(st)
	}()
}

// waitNotify waits for pending run summaries or ctx.
func (a *App) waitNotify(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.notifyWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases resources of an app that was never started.
func (a *App) Close(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, notifyDeadline)
	_ = a.waitNotify(wctx)
	cancel()
	err := a.closeResources(ctx)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) closeResources(ctx context.Context) error {
	var errs []error
	if err := channel.CloseAll(ctx, a.Sessions()); err != nil {
		errs = append(errs, err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// loaderRef lets a reload swap the phone settings while runs are loading.
type loaderRef struct {
	remote contacts.Fetcher
	p      atomic.Pointer[contacts.Loader]
}

func (l *loaderRef) set(ld *contacts.Loader) { l.p.Store(ld) }
func (l *loaderRef) get() *contacts.Loader   { return l.p.Load() }

func (l *loaderRef) Load(ctx context.Context, location, group string) (*contacts.Result, error) {
	return l.get().Load(ctx, location, group)
}

func (l *loaderRef) LoadList(raws []string) *contacts.Result {
	return l.get().LoadList(raws)
}
