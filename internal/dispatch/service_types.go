package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"wabulk/internal/channel"
	"wabulk/internal/contacts"
	logx "wabulk/pkg/logx"
)

var (
	ErrNotRunning = errors.New("dispatch: service not running")
	ErrQueueFull  = errors.New("dispatch: queue full")
)

// Runner executes one run. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, tasks []Task, sessions []channel.Channel, opts ...RunOption) (*RunReport, error)
}

type ServiceConfig struct {
	QueueSize int
	StatusMax int
	StatusTTL time.Duration
}

// JobState is the lifecycle of a queued run.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

type JobStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	State     JobState   `json:"state"`
	Total     int        `json:"total"`
	Done      int        `json:"done"`
	Failed    int        `json:"failed"`
	Error     string     `json:"error,omitempty"`
	Report    *RunReport `json:"report,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt time.Time  `json:"started_at,omitzero"`
	DoneAt    time.Time  `json:"done_at,omitzero"`
}

// Finished reports whether the job reached a terminal state.
func (s JobStatus) Finished() bool { return s.State == JobDone || s.State == JobFailed }

type jobResult struct {
	report *RunReport
	err    error
}

type job struct {
	id       string
	name     string
	tasks    []Task
	rejected []contacts.RejectedEntry
	// ctx is set for synchronous jobs so the caller can cancel them.
	ctx   context.Context
	done  chan jobResult
	after func(JobStatus)
}

// Service queues runs and executes them one at a time, so a channel session
// is never shared by two runs.
type Service struct {
	mu sync.Mutex

	runner   Runner
	sessions func() []channel.Channel
	log      logx.Logger
	onFinish []func(JobStatus)

	queue  chan job
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when the worker exits.
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	statusMax int
	statusTTL time.Duration
	now       func() time.Time
}
