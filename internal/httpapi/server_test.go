package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wabulk/internal/audit"
	"wabulk/internal/channel"
	"wabulk/internal/channel/dryrun"
	"wabulk/internal/contacts"
	"wabulk/internal/dispatch"
	"wabulk/internal/schedule"
	logx "wabulk/pkg/logx"
)

type fixture struct {
	h     http.Handler
	svc   *dispatch.Service
	store audit.Store
	sess  *dryrun.Session
	dir   string
}

func newFixture(t *testing.T, cfg Config, sched Schedules) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := audit.Open(audit.Config{Driver: "csv", Path: filepath.Join(dir, "log.csv")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sess := dryrun.New("dry", logx.Nop())
	sessions := func() []channel.Session { return []channel.Session{sess} }

	reg := prometheus.NewRegistry()
	orch := dispatch.New(dispatch.Config{}, store, logx.Nop(), dispatch.WithMetrics(dispatch.NewMetrics(reg)))
	svc := dispatch.NewService(dispatch.ServiceConfig{}, orch, func() []channel.Channel { return channel.Channels(sessions()) }, logx.Nop())
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})

	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(dir, "uploads")
	}
	srv := New(cfg, Deps{
		Runs:      svc,
		Loader:    &contacts.Loader{CountryCode: "91"},
		Store:     store,
		Sessions:  sessions,
		Schedules: sched,
		Gatherer:  reg,
	}, logx.Nop())
	return &fixture{h: srv.Handler(), svc: svc, store: store, sess: sess, dir: dir}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSyncRunWithInlinePhones(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do(t, http.MethodPost, "/api/runs", map[string]any{
		"name":    "promo",
		"phones":  []string{"9322612069", "+91 98765 43210", "abc"},
		"message": "Hello",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	type syncResponse struct {
		ID       string             `json:"id"`
		Report   dispatch.RunReport `json:"report"`
		Contacts contacts.Result    `json:"contacts"`
	}
	resp := decode[syncResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, dispatch.AllSucceeded, resp.Report.Classification)
	assert.Equal(t, 2, resp.Report.Succeeded)
	require.Len(t, resp.Contacts.Rejected, 1)
	assert.Equal(t, "abc", resp.Contacts.Rejected[0].Raw)
	assert.Len(t, f.sess.Sent(), 2)

	logs := f.do(t, http.MethodGet, "/api/message_log?status=success&phone=%2B919322612069", nil)
	require.Equal(t, http.StatusOK, logs.Code)
	got := decode[map[string][]audit.Record](t, logs)
	require.Len(t, got["logs"], 1)
	assert.Equal(t, "919322612069", got["logs"][0].Phone)

	st := f.do(t, http.MethodGet, "/api/runs/"+resp.ID, nil)
	require.Equal(t, http.StatusOK, st.Code)
	assert.Equal(t, dispatch.JobDone, decode[dispatch.JobStatus](t, st).State)
}

func TestAsyncRunFromMultipartUpload(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("message", "Hi there"))
	require.NoError(t, mw.WriteField("async", "true"))
	fw, err := mw.CreateFormFile("file", "contacts.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("name,phone\nA,9322612069\nB,9876543210\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/runs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[map[string]any](t, rec)
	id, _ := resp["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "/api/runs/"+id, resp["status_url"])

	require.Eventually(t, func() bool {
		st, ok := f.svc.Status(id)
		return ok && st.Finished()
	}, 2*time.Second, 10*time.Millisecond)
	st, _ := f.svc.Status(id)
	assert.Equal(t, 2, st.Done)

	// the upload is removed once the run is over
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(filepath.Join(f.dir, "uploads"))
		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond)

	list := f.do(t, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, list.Code)
	runs := decode[map[string][]dispatch.JobStatus](t, list)["runs"]
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Report)
}

func TestRunRejections(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do(t, http.MethodPost, "/api/runs", map[string]any{"phones": []string{"x", "--"}, "message": "Hi"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Len(t, decode[map[string]any](t, rec)["rejected"], 2)

	rec = f.do(t, http.MethodPost, "/api/runs", map[string]any{"phones": []string{"9322612069"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/runs", map[string]any{"message": "Hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/runs", map[string]any{"message": "Hi", "file": filepath.Join(f.dir, "missing.txt")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/runs", map[string]any{"message": "Hi", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/runs/nope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/message_log?since=yesterday", nil).Code)
	assert.Empty(t, f.sess.Sent())
}

func TestTokenGuardsAPIOnly(t *testing.T) {
	f := newFixture(t, Config{Token: "s3cret"}, nil)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/metrics", nil).Code)

	rec := f.do(t, http.MethodGet, "/api/runs", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	ok := httptest.NewRecorder()
	f.h.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/sessions?token=s3cret", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/sessions?token=wrong", nil).Code)
}

func TestSessionsAndHealth(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	rec := f.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Sessions []sessionHealth `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []sessionHealth{{Name: "dry", Ready: true}}, got.Sessions)

	h := decode[map[string]any](t, f.do(t, http.MethodGet, "/healthz", nil))
	assert.Equal(t, "ok", h["status"])
	assert.EqualValues(t, 1, h["sessions"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"https://ops.example.com"}}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/runs", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPprofIsOptionalAndGuarded(t *testing.T) {
	off := newFixture(t, Config{}, nil)
	assert.Equal(t, http.StatusNotFound, off.do(t, http.MethodGet, "/debug/pprof/cmdline", nil).Code)

	on := newFixture(t, Config{Token: "s3cret", Pprof: true}, nil)
	assert.Equal(t, http.StatusUnauthorized, on.do(t, http.MethodGet, "/debug/pprof/cmdline", nil).Code)
	assert.Equal(t, http.StatusOK, on.do(t, http.MethodGet, "/debug/pprof/cmdline?token=s3cret", nil).Code)
}

type fakeSchedules struct{ triggered []string }

func (f *fakeSchedules) Entries() []schedule.Entry {
	return []schedule.Entry{{Name: "weekly", Spec: "@weekly", File: "c.csv"}}
}

func (f *fakeSchedules) Trigger(_ context.Context, name string) (string, error) {
	if name != "weekly" {
		return "", schedule.ErrUnknownCampaign
	}
	f.triggered = append(f.triggered, name)
	return "job-1", nil
}

func TestSchedules(t *testing.T) {
	sched := &fakeSchedules{}
	f := newFixture(t, Config{}, sched)

	list := decode[map[string][]schedule.Entry](t, f.do(t, http.MethodGet, "/api/schedules", nil))
	require.Len(t, list["schedules"], 1)
	assert.Equal(t, "weekly", list["schedules"][0].Name)

	rec := f.do(t, http.MethodPost, "/api/schedules/weekly/run", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "job-1", decode[map[string]any](t, rec)["id"])
	assert.Equal(t, []string{"weekly"}, sched.triggered)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/schedules/other/run", nil).Code)
}

func TestServerStartStop(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"}, Deps{}, logx.Nop())
	srv.Start(context.Background())
	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Stop(ctx)
	assert.Empty(t, srv.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:8080"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:80"))
	assert.False(t, isLoopbackAddr(":8080"))
	assert.False(t, isLoopbackAddr("0.0.0.0:8080"))
}
