// Package schedule fires configured campaigns on their cron spec.
//
// A campaign only loads its contact file and submits the run; execution
// happens in dispatch.Service, one run at a time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"wabulk/internal/contacts"
	"wabulk/internal/dispatch"
	logx "wabulk/pkg/logx"
)

var ErrUnknownCampaign = errors.New("schedule: unknown campaign")

// Campaign is one recurring send.
type Campaign struct {
	Name    string
	Spec    string
	File    string
	Group   string
	Payload dispatch.Payload
}

// Loader reads a contact list. *contacts.Loader implements it.
type Loader interface {
	Load(ctx context.Context, location, group string) (*contacts.Result, error)
}

// Submitter queues a run. *dispatch.Service implements it.
type Submitter interface {
	Submit(name string, tasks []dispatch.Task, rejected []contacts.RejectedEntry, opts ...dispatch.SubmitOption) (string, error)
}

// Entry describes a registered campaign.
type Entry struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	File    string    `json:"file"`
	Next    time.Time `json:"next,omitzero"`
	Prev    time.Time `json:"prev,omitzero"`
	LastJob string    `json:"last_job,omitempty"`
	LastErr string    `json:"last_error,omitempty"`
}

type Service struct {
	mu        sync.Mutex
	c         *cron.Cron
	parser    cron.Parser
	loc       *time.Location
	campaigns map[string]Campaign
	ids       map[string]cron.EntryID
	last      map[string]Entry
	ctx       context.Context

	loader Loader
	sub    Submitter
	log    logx.Logger
}

type Option func(*Service)

// WithLocation sets the time zone cron specs are evaluated in. Default is local time.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(loader Loader, sub Submitter, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:       time.Local,
		campaigns: map[string]Campaign{},
		ids:       map[string]cron.EntryID{},
		last:      map[string]Entry{},
		loader:    loader,
		sub:       sub,
		log:       log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply replaces the campaign set. Unchanged campaigns keep their cron entry.
func (s *Service) Apply(campaigns []Campaign) error {
	next := make(map[string]Campaign, len(campaigns))
	for _, c := range campaigns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return errors.New("schedule: campaign name is required")
		}
		if _, dup := next[name]; dup {
			return fmt.Errorf("schedule: duplicate campaign %q", name)
		}
		if _, err := s.parser.Parse(c.Spec); err != nil {
			return fmt.Errorf("schedule %q: %w", name, err)
		}
		c.Name = name
		next[name] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, old := range s.campaigns {
		if c, ok := next[name]; !ok || c != old {
			s.removeLocked(name)
		}
	}
	for name, c := range next {
		if old, ok := s.campaigns[name]; ok && old == c {
			continue
		}
		s.campaigns[name] = c
		if s.c != nil {
			if err := s.addLocked(c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	for _, c := range s.campaigns {
		if err := s.addLocked(c); err != nil {
			s.log.Warn("campaign not scheduled", logx.String("campaign", c.Name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("campaigns", len(s.campaigns)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.ids = map[string]cron.EntryID{}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) addLocked(c Campaign) error {
	id, err := s.c.AddFunc(c.Spec, func() { _, _ = s.fire(s.ctx, c) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", c.Name, err)
	}
	s.ids[c.Name] = id
	return nil
}

func (s *Service) removeLocked(name string) {
	if id, ok := s.ids[name]; ok && s.c != nil {
		s.c.Remove(id)
	}
	delete(s.ids, name)
	delete(s.campaigns, name)
}

// Trigger fires a campaign now, outside its schedule.
func (s *Service) Trigger(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	c, ok := s.campaigns[name]
	s.mu.Unlock()
	if !ok {
		return "", ErrUnknownCampaign
	}
	return s.fire(ctx, c)
}

func (s *Service) fire(ctx context.Context, c Campaign) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := s.log.With(logx.String("campaign", c.Name))
	jobID, err := s.submit(ctx, c)

	s.mu.Lock()
	e := s.last[c.Name]
	e.LastJob, e.LastErr = jobID, ""
	if err != nil {
		e.LastErr = err.Error()
	}
	s.last[c.Name] = e
	s.mu.Unlock()

	if err != nil {
		log.Warn("campaign not submitted", logx.Err(err))
		return "", err
	}
	log.Info("campaign submitted", logx.String("job", jobID))
	return jobID, nil
}

func (s *Service) submit(ctx context.Context, c Campaign) (string, error) {
	if err := c.Payload.Validate(); err != nil {
		return "", err
	}
	res, err := s.loader.Load(ctx, c.File, c.Group)
	if err != nil {
		return "", err
	}
	if len(res.Numbers) == 0 {
		return "", fmt.Errorf("%w: no valid numbers in %s (%d rejected)", dispatch.ErrNoTasks, c.File, len(res.Rejected))
	}
	return s.sub.Submit(c.Name, dispatch.NewTasks(res.Numbers, c.Payload), res.Rejected)
}

// Entries lists campaigns sorted by name.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.campaigns))
	for name, c := range s.campaigns {
		e := s.last[name]
		e.Name, e.Spec, e.File = name, c.Spec, c.File
		if id, ok := s.ids[name]; ok && s.c != nil {
			ce := s.c.Entry(id)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
