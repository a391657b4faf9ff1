package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabulk/internal/config"
	"wabulk/internal/dispatch"
	"wabulk/internal/notify"
	logx "wabulk/pkg/logx"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func newTestApp(t *testing.T, opts Options) *App {
	t.Helper()
	a, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestNewFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	a := newTestApp(t, Options{
		ConfigPath: filepath.Join(dir, "missing.json"),
		Override: func(c *config.Config) {
			c.Channel.Driver = "dryrun"
			c.Audit.Path = filepath.Join(dir, "log.csv")
			c.Logging.Level = "error"
		},
	})

	assert.False(t, a.watch)
	require.Len(t, a.Sessions(), 1)
	assert.Equal(t, "dryrun", a.Sessions()[0].Name())
	assert.Equal(t, "91", a.Loader().CountryCode)
	assert.Equal(t, "dryrun", a.Config().Channel.Driver)
}

func TestNewRejectsMissingRequiredConfig(t *testing.T) {
	_, err := New(Options{ConfigPath: filepath.Join(t.TempDir(), "missing.json"), ConfigRequired: true})
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	p := writeConfig(t, t.TempDir(), `{"dispatch": {"cooldown": "soon"}}`)
	_, err := New(Options{ConfigPath: p})
	assert.ErrorContains(t, err, "dispatch.cooldown")
}

func TestSendRecordsEveryRecipient(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, `{
		"logging": {"level": "error", "console": true},
		"channel": {"driver": "dryrun"},
		"dispatch": {"cooldown": "0s"},
		"audit": {"driver": "csv", "path": "`+filepath.ToSlash(filepath.Join(dir, "log.csv"))+`"}
	}`)
	a := newTestApp(t, Options{ConfigPath: p})
	assert.True(t, a.watch)

	res := a.Loader().LoadList([]string{"9322612069", "09876543210", "nope"})
	require.Len(t, res.Numbers, 2)

	rep, err := a.Send(context.Background(), "cli", dispatch.NewTasks(res.Numbers, dispatch.Payload{Text: "Hello"}), res.Rejected)
	require.NoError(t, err)
	assert.Equal(t, dispatch.AllSucceeded, rep.Classification)
	assert.Len(t, rep.Rejected, 1)
	assert.False(t, a.Runs().Running())

	recs, err := a.Store().ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "919876543210", recs[1].Phone)
}

func TestApplyConfigSwapsLiveComponents(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, `{
		"logging": {"level": "error", "console": true},
		"channel": {"driver": "dryrun"},
		"audit": {"driver": "csv", "path": "`+filepath.ToSlash(filepath.Join(dir, "log.csv"))+`"}
	}`)
	a := newTestApp(t, Options{ConfigPath: p})

	prev := a.cfgm.Get()
	next := *prev
	next.Phone.CountryCode = "44"
	next.Channel = config.ChannelConfig{Driver: "sidecar", Sidecars: []string{"http://127.0.0.1:1", "http://127.0.0.1:2"}}
	next.Schedules = []config.ScheduleConfig{{Name: "weekly", Spec: "@weekly", File: "c.csv", Message: "hi"}}

	a.applyConfig(context.Background(), prev, &next)

	assert.Equal(t, "44", a.Loader().CountryCode)
	sessions := a.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "sidecar-1", sessions[1].Name())
	entries := a.sched.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "weekly", entries[0].Name)
}

func TestOverrideSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	a := newTestApp(t, Options{
		ConfigPath: filepath.Join(dir, "missing.json"),
		Override: func(c *config.Config) {
			c.Channel.Driver = "dryrun"
			c.Audit.Path = filepath.Join(dir, "log.csv")
			c.Logging.Level = "error"
		},
	})

	prev := a.cfgm.Get()
	next := *prev
	next.Channel.Sidecars = []string{"http://127.0.0.1:9"}
	a.applyConfig(context.Background(), prev, &next)

	require.Len(t, a.Sessions(), 1)
	assert.Equal(t, "dryrun", a.Sessions()[0].Name())
}

func TestStartServesAndStops(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, `{
		"logging": {"level": "error", "console": true},
		"channel": {"driver": "dryrun"},
		"http": {"addr": "127.0.0.1:0"},
		"audit": {"driver": "csv", "path": "`+filepath.ToSlash(filepath.Join(dir, "log.csv"))+`"}
	}`)
	a, err := New(Options{ConfigPath: p})
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.Runs().Running())

	var addr string
	require.Eventually(t, func() bool {
		addr = a.http.Addr()
		return addr != ""
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopCommand))
	assert.False(t, a.Runs().Running())
	assert.NoError(t, a.Err())
	select {
	case <-a.Done():
	default:
		t.Fatal("supervisor still running after Stop")
	}
}

func TestRunSummaryDoesNotBlockTheWorker(t *testing.T) {
	dir := t.TempDir()
	a := newTestApp(t, Options{
		ConfigPath: filepath.Join(dir, "missing.json"),
		Override: func(c *config.Config) {
			c.Channel.Driver = "dryrun"
			c.Audit.Path = filepath.Join(dir, "log.csv")
			c.Logging.Level = "error"
		},
	})

	release := make(chan struct{})
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		got <- r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":1}}}`))
	}))
	defer srv.Close()

	tg, err := notify.New(notify.Config{Token: "T", ChatID: 1, URL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	a.notif.Store(tg)

	start := time.Now()
	a.onRunFinished(dispatch.JobStatus{ID: "job-1", Name: "cli", State: dispatch.JobDone})
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.waitNotify(ctx))
	assert.Equal(t, "/botT/sendMessage", <-got)
}
