// Package schedule runs periodic session jobs (idle buffs, adverts) on a
// robfig/cron scheduler.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "controlbot/pkg/logx"
)

// Scheduler owns one cron instance. Jobs should be short; anything that
// touches the agent must be handed to the session instead of running here.
type Scheduler struct {
	log logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]cron.EntryID
	started bool
}

func New(log logx.Logger, loc *time.Location) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		log: log,
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			// Recover must sit inside SkipIfStillRunning so a panicking job
			// still releases its run slot.
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
			cron.WithLogger(cl),
		),
		entries: map[string]cron.EntryID{},
	}
}

// Add registers fn under name, replacing an existing job with that name.
func (s *Scheduler) Add(name, spec string, fn func()) error {
	sched, err := Parse(spec)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.c.Remove(id)
	}
	s.entries[name] = s.c.Schedule(sched, cron.FuncJob(fn))
	s.log.Debug("job scheduled", logx.String("job", name), logx.String("spec", spec))
	return nil
}

// Every is Add with a fixed interval.
func (s *Scheduler) Every(name string, d time.Duration, fn func()) error {
	return s.Add(name, "every:"+d.String(), fn)
}

func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.c.Remove(id)
		delete(s.entries, name)
	}
}

// RemoveAll drops every job, keeping the scheduler running.
func (s *Scheduler) RemoveAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, id := range s.entries {
		s.c.Remove(id)
		delete(s.entries, name)
	}
}

// Names lists registered jobs.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for n := range s.entries {
		out = append(out, n)
	}
	return out
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.c.Start()
}

// Stop halts the scheduler and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	done := s.c.Stop().Done()
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes robfig/cron's logging into logx.
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
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
