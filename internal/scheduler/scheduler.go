// Package scheduler fires workflow invocations on cron schedules.
// Expressions carry a leading seconds field, e.g. "0 */10 * * * *".
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	xerrors "flowforge/internal/errors"
	"flowforge/internal/invocation"
	"flowforge/internal/workflow"
	"flowforge/pkg/logger"
)

// Submitter queues an invocation.
type Submitter interface {
	Submit(ctx context.Context, req invocation.Request) (*invocation.Invocation, error)
}

// Entry describes one scheduled workflow.
type Entry struct {
	Workflow string    `json:"workflow"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocation evaluates schedules in loc instead of UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithSubmitTimeout bounds each cron-triggered submission.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.submitTimeout = d
		}
	}
}

// Scheduler owns a cron runner whose jobs submit invocations.
type Scheduler struct {
	submitter     Submitter
	logger        *slog.Logger
	location      *time.Location
	submitTimeout time.Duration

	cron *cron.Cron

	mu        sync.Mutex
	baseCtx   context.Context
	schedules map[string]string
	entries   map[string]cron.EntryID
}

// New builds a Scheduler. Jobs are registered with Add before Run.
func New(submitter Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		submitter:     submitter,
		logger:        logger.Named("scheduler"),
		location:      time.UTC,
		submitTimeout: 10 * time.Second,
		baseCtx:       context.Background(),
		schedules:     make(map[string]string),
		entries:       make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(s.location),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)
	return s
}

// Add schedules workflow with a six-field cron spec. Re-adding a workflow
// replaces its previous schedule.
func (s *Scheduler) Add(name, spec string) error {
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "workflow name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[name]; ok {
		s.cron.Remove(prev)
		delete(s.entries, name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.fire(name) })
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid schedule for "+name)
	}
	s.entries[name] = id
	s.schedules[name] = spec
	return nil
}

// AddDefinitions schedules every definition that declares a schedule and
// returns how many were registered.
func (s *Scheduler) AddDefinitions(defs []workflow.Definition) (int, error) {
	n := 0
	for _, def := range defs {
		if def.Schedule == "" {
			continue
		}
		if err := s.Add(def.Name, def.Schedule); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Entries lists scheduled workflows sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		out = append(out, Entry{Workflow: name, Schedule: s.schedules[name], Next: s.cron.Entry(id).Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Workflow < out[j].Workflow })
	return out
}

// Run starts the cron loop and blocks until ctx is done. Jobs already
// executing are allowed to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	count := len(s.entries)
	s.mu.Unlock()

	s.logger.Info("scheduler started", slog.Int("jobs", count))
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.submitTimeout)
	defer cancel()
	inv, err := s.submitter.Submit(ctx, invocation.Request{Workflow: name, Trigger: invocation.TriggerCron})
	if err != nil {
		s.logger.Error("scheduled submission failed", slog.String("workflow", name), slog.Any("error", err))
		return
	}
	s.logger.Info("scheduled invocation queued", slog.String("workflow", name), slog.String("invocation_id", inv.ID))
}

// cronLogger adapts slog to cron.Logger for the Recover wrapper.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
