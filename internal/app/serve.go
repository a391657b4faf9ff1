package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wabulk/internal/channel"
	"wabulk/internal/config"
	"wabulk/internal/notify"
	rtsup "wabulk/internal/runtime/supervisor"
	logx "wabulk/pkg/logx"
	"wabulk/pkg/systemd"
)

// Done is closed when the serve supervisor is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs serve mode: run queue, scheduler, HTTP API and config watch.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return a.effective(cfg).Validate()
	})

	a.runs.Start(c)
	a.sched.Start(c)
	a.http.Start(c)

	if a.watch {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) { systemd.Watchdog(c, iv) })
	}
	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	_, _ = systemd.Status(a.statusLine())

	a.log.Info("wabulk serving",
		logx.Int("sessions", len(a.Sessions())),
		logx.Int("schedules", len(a.sched.Entries())),
		logx.Bool("notify", a.notif.Load() != nil),
		logx.Bool("config_watch", a.watch),
	)
	return nil
}

func (a *App) statusLine() string {
	return fmt.Sprintf("%d sessions, %d schedules", len(a.Sessions()), len(a.sched.Entries()))
}

// Stop shuts serve mode down in reverse start order and releases resources.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close(ctx)
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 3*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// a run in progress stops after its in-flight send
	step("runs", 10*time.Second, func(c context.Context) error { a.runs.Stop(c); return nil })
	step("notify", notifyDeadline, a.waitNotify)
	step("sessions", 2*time.Second, func(c context.Context) error { return channel.CloseAll(c, a.Sessions()) })
	step("audit", 2*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts: keep only the latest config
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes a validated config into the running components.
// Audit, sources and timezone changes need a restart.
func (a *App) applyConfig(ctx context.Context, prevRaw, nextRaw *config.Config) {
	prev, next := a.effective(prevRaw), a.effective(nextRaw)
	sections, attrs, schedChanged := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	r, err := next.Resolve()
	if err != nil {
		a.log.Warn("invalid config durations; keeping previous", logx.Err(err))
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogging(next))
		case "phone":
			a.loader.set(mapLoader(next, a.loader.remote, a.log.With(logx.String("comp", "contacts"))))
		case "sources":
			a.log.Warn("sources config changed; restart required for changes to take effect")
		case "dispatch":
			a.orch.Apply(mapDispatch(next, r))
		case "channel":
			a.reopenSessions(ctx, next, r)
		case "audit":
			a.log.Warn("audit config changed; restart required for changes to take effect")
		case "http":
			a.http.Reconfigure(ctx, mapHTTP(next, r))
		case "notify":
			a.applyNotify(next, r)
		case "schedules":
			if strings.TrimSpace(prev.Timezone) != strings.TrimSpace(next.Timezone) {
				a.log.Warn("timezone changed; restart required for changes to take effect")
			}
			if err := a.sched.Apply(mapCampaigns(next)); err != nil {
				a.log.Warn("schedules not applied; keeping previous", logx.Err(err))
			} else {
				a.log.Debug("schedules applied", logx.Any("changed", schedChanged))
			}
		}
	}
	_, _ = systemd.Status(a.statusLine())

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// reopenSessions swaps the session set. A run in progress keeps the sessions
// it started with.
func (a *App) reopenSessions(ctx context.Context, cfg *config.Config, r config.Resolved) {
	sessions, err := channel.Open(mapChannel(cfg, r), a.log)
	if err != nil {
		a.log.Warn("channel config not applied; keeping previous sessions", logx.Err(err))
		return
	}
	a.sessMu.Lock()
	old := a.sessions
	a.sessions = sessions
	a.sessMu.Unlock()

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := channel.CloseAll(closeCtx, old); err != nil {
		a.log.Debug("closing previous sessions", logx.Err(err))
	}
	a.log.Info("sessions replaced", logx.Int("sessions", len(sessions)))
}

func (a *App) applyNotify(cfg *config.Config, r config.Resolved) {
	ncfg, ok := mapNotify(cfg, r)
	if !ok {
		a.notif.Store(nil)
		a.log.Info("notifications disabled via config")
		return
	}
	t, err := notify.New(ncfg, a.log.With(logx.String("comp", "notify")))
	if err != nil {
		a.log.Warn("notify config not applied; keeping previous", logx.Err(err))
		return
	}
	a.notif.Store(t)
	a.log.Info("notifications enabled via config")
}
