package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wabulk/internal/audit"
	"wabulk/internal/channel"
	"wabulk/internal/contacts"
	"wabulk/internal/dispatch"
	"wabulk/internal/schedule"
	logx "wabulk/pkg/logx"
)

const maxUpload = 32 << 20

// Runs is the run queue. *dispatch.Service implements it.
type Runs interface {
	Submit(name string, tasks []dispatch.Task, rejected []contacts.RejectedEntry, opts ...dispatch.SubmitOption) (string, error)
	Do(ctx context.Context, name string, tasks []dispatch.Task, rejected []contacts.RejectedEntry) (string, *dispatch.RunReport, error)
	Status(id string) (dispatch.JobStatus, bool)
	Jobs() []dispatch.JobStatus
}

// Loader turns a contact file or an inline list into recipients.
// *contacts.Loader implements it.
type Loader interface {
	Load(ctx context.Context, location, group string) (*contacts.Result, error)
	LoadList(raws []string) *contacts.Result
}

// Schedules is optional. *schedule.Service implements it.
type Schedules interface {
	Entries() []schedule.Entry
	Trigger(ctx context.Context, name string) (string, error)
}

type Deps struct {
	Runs      Runs
	Loader    Loader
	Store     audit.Store
	Sessions  func() []channel.Session
	Schedules Schedules
	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
}

// Handler builds the router. /healthz and /metrics are open; /api needs the token.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	cfg := s.cfg
	deps := s.deps
	s.mu.Unlock()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		n := 0
		if deps.Sessions != nil {
			n = len(deps.Sessions())
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": n})
	})
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	h := &handlers{deps: deps, uploadDir: cfg.UploadDir, log: s.log}
	r.Route("/api", func(r chi.Router) {
		r.Use(requireToken(cfg.Token))
		r.Post("/runs", h.createRun)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
		r.Get("/message_log", h.messageLog)
		r.Get("/sessions", h.sessions)
		r.Get("/schedules", h.listSchedules)
		r.Post("/schedules/{name}/run", h.triggerSchedule)
	})
	if cfg.Pprof {
		r.With(requireToken(cfg.Token)).Mount("/debug", middleware.Profiler())
	}
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}

type handlers struct {
	deps      Deps
	uploadDir string
	log       logx.Logger
}

type runRequest struct {
	Name    string   `json:"name"`
	Phones  []string `json:"phones"`
	File    string   `json:"file"`
	Group   string   `json:"group"`
	Message string   `json:"message"`
	Image   string   `json:"image"`
	Caption string   `json:"caption"`
	Async   bool     `json:"async"`
}

type runResponse struct {
	ID        string              `json:"id"`
	StatusURL string              `json:"status_url,omitempty"`
	Report    *dispatch.RunReport `json:"report,omitempty"`
	Contacts  *contacts.Result    `json:"contacts,omitempty"`
}

func (h *handlers) createRun(w http.ResponseWriter, r *http.Request) {
	req, cleanup, err := h.decodeRun(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload := dispatch.Payload{Text: req.Message, ImagePath: req.Image, Caption: req.Caption}
	if err := payload.Validate(); err != nil {
		cleanup()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var res *contacts.Result
	switch {
	case len(req.Phones) > 0:
		res = h.deps.Loader.LoadList(req.Phones)
	case req.File != "":
		res, err = h.deps.Loader.Load(r.Context(), req.File, req.Group)
		if err != nil {
			cleanup()
			status := http.StatusInternalServerError
			if contacts.IsValidation(err) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error())
			return
		}
	default:
		cleanup()
		writeError(w, http.StatusBadRequest, "provide phones or a contact file")
		return
	}
	if len(res.Numbers) == 0 {
		cleanup()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "no valid phone numbers found",
			"rejected": res.Rejected,
		})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "api"
	}
	tasks := dispatch.NewTasks(res.Numbers, payload)

	if req.Async {
		// uploads stay on disk until the run has read them
		id, err := h.deps.Runs.Submit(name, tasks, res.Rejected,
			dispatch.AfterRun(func(dispatch.JobStatus) { cleanup() }))
		if err != nil {
			cleanup()
			writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, runResponse{ID: id, StatusURL: "/api/runs/" + id, Contacts: res})
		return
	}

	defer cleanup()
	id, rep, err := h.deps.Runs.Do(r.Context(), name, tasks, res.Rejected)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{ID: id, Report: rep, Contacts: res})
}

// decodeRun reads a JSON body or a multipart form. Uploaded files are saved
// under the upload dir; cleanup removes them.
func (h *handlers) decodeRun(r *http.Request) (runRequest, func(), error) {
	var req runRequest
	noop := func() {}

	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") {
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return req, noop, errors.New("invalid JSON body: " + err.Error())
		}
		return req, noop, nil
	}

	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return req, noop, errors.New("invalid form: " + err.Error())
	}
	req.Name = r.FormValue("name")
	req.Phones = contacts.SplitList(r.FormValue("phones"))
	req.File = r.FormValue("file")
	req.Group = r.FormValue("group")
	req.Message = r.FormValue("message")
	req.Image = r.FormValue("image")
	req.Caption = r.FormValue("caption")
	req.Async = r.FormValue("async") == "true" || r.FormValue("async") == "1"

	base := h.uploadDir
	if base == "" {
		base = filepath.Join(os.TempDir(), "wabulk-uploads")
	}
	dir := filepath.Join(base, uuid.NewString())
	cleanup := func() { _ = os.RemoveAll(dir) }

	for field, dst := range map[string]*string{"file": &req.File, "image": &req.Image} {
		fh := firstFile(r.MultipartForm, field)
		if fh == nil {
			continue
		}
		path, err := saveUpload(dir, fh)
		if err != nil {
			cleanup()
			return req, noop, err
		}
		*dst = path
	}
	return req, cleanup, nil
}

func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	if form == nil || len(form.File[field]) == 0 {
		return nil
	}
	return form.File[field][0]
}

func saveUpload(dir string, fh *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	// keep only the base name so the extension still selects the reader
	path := filepath.Join(dir, filepath.Base(fh.Filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", err
	}
	return path, dst.Close()
}

func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrQueueFull), errors.Is(err, dispatch.ErrNotRunning), errors.Is(err, dispatch.ErrNoSession):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, dispatch.ErrNoTasks), errors.Is(err, dispatch.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	jobs := h.deps.Runs.Jobs()
	// the list view omits per-recipient detail
	for i := range jobs {
		jobs[i].Report = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": jobs})
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	st, ok := h.deps.Runs.Status(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) messageLog(w http.ResponseWriter, r *http.Request) {
	var q audit.Query
	vals := r.URL.Query()
	for key, dst := range map[string]*time.Time{"since": &q.Since, "until": &q.Until} {
		if v := vals.Get(key); v != "" {
			t, err := audit.ParseTime(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, key+": "+err.Error())
				return
			}
			*dst = t
		}
	}
	q.Phone = strings.TrimPrefix(strings.TrimSpace(vals.Get("phone")), "+")
	q.Status = audit.Status(vals.Get("status"))

	recs, err := h.deps.Store.ReadAll(r.Context())
	if err != nil {
		h.log.Error("message log read failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "error reading message log: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": audit.Filter(recs, q)})
}

type sessionHealth struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

func (h *handlers) sessions(w http.ResponseWriter, r *http.Request) {
	var list []channel.Session
	if h.deps.Sessions != nil {
		list = h.deps.Sessions()
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	out := make([]sessionHealth, 0, len(list))
	for _, s := range list {
		sh := sessionHealth{Name: s.Name(), Ready: true}
		if err := s.Health(ctx); err != nil {
			sh.Ready, sh.Error = false, err.Error()
		}
		out = append(out, sh)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *handlers) listSchedules(w http.ResponseWriter, r *http.Request) {
	if h.deps.Schedules == nil {
		writeJSON(w, http.StatusOK, map[string]any{"schedules": []schedule.Entry{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": h.deps.Schedules.Entries()})
}

func (h *handlers) triggerSchedule(w http.ResponseWriter, r *http.Request) {
	if h.deps.Schedules == nil {
		writeError(w, http.StatusNotFound, "no schedules configured")
		return
	}
	id, err := h.deps.Schedules.Trigger(r.Context(), chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, schedule.ErrUnknownCampaign):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		if contacts.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeRunError(w, err)
	default:
		writeJSON(w, http.StatusAccepted, runResponse{ID: id, StatusURL: "/api/runs/" + id})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
