package controlbot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"controlbot/internal/eventbus"
	logx "controlbot/pkg/logx"
)

const (
	hostileNotice  = "Command disabled because of hostiles."
	internalNotice = "Internal Error"
)

// RunningSlot marks the command currently executing. The zero value is empty.
type RunningSlot struct {
	Requester string `json:"requester"`
	Keyword   string `json:"keyword"`
}

func (s RunningSlot) Empty() bool { return s.Requester == "" && s.Keyword == "" }

// SubmitResult tells the caller what Submit did with a request.
type SubmitResult int

const (
	Queued SubmitResult = iota
	AlreadyRunning
	Duplicate
)

func (r SubmitResult) String() string {
	switch r {
	case Queued:
		return "queued"
	case AlreadyRunning:
		return "already_running"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// DispatcherDeps are the owned structures a dispatcher works on.
type DispatcherDeps struct {
	Registry *Registry
	Flood    *FloodController
	Threat   ThreatCheck
	Notifier Notifier
	Presence *Presence
	Log      logx.Logger
	Bus      eventbus.Bus
	Now      Clock
}

// Dispatcher owns the FIFO queue and the running slot. Pump executes at most
// one command per call, synchronously, on the caller's goroutine.
type Dispatcher struct {
	registry *Registry
	flood    *FloodController
	threat   ThreatCheck
	notify   Notifier
	presence *Presence
	log      logx.Logger
	bus      eventbus.Bus
	now      Clock

	mu      sync.Mutex
	queue   []PendingCommand
	running RunningSlot
}

func NewDispatcher(d DispatcherDeps) *Dispatcher {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Dispatcher{
		registry: d.Registry,
		flood:    d.Flood,
		threat:   d.Threat,
		notify:   d.Notifier,
		presence: d.Presence,
		log:      d.Log,
		bus:      d.Bus,
		now:      d.Now,
	}
}

// Submit enqueues keyword for requester unless the same pair is already
// running or waiting. Safe to call from notification goroutines.
func (d *Dispatcher) Submit(keyword, requester string) SubmitResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Requester == requester && d.running.Keyword == keyword {
		d.log.Debug("command already running", logx.String("cmd", keyword), logx.String("nick", requester))
		return AlreadyRunning
	}
	for i, c := range d.queue {
		if c.Keyword == keyword && c.Requester == requester {
			d.whisper(requester, fmt.Sprintf("You already requested this command. Queue position: %d", i+1))
			return Duplicate
		}
	}

	busy := len(d.queue) > 0 || !d.running.Empty()
	d.queue = append(d.queue, PendingCommand{Keyword: keyword, Requester: requester})
	if busy {
		d.whisper(requester, fmt.Sprintf("%s has been added to the queue. Queue position: %d", keyword, len(d.queue)))
	}
	d.publish(TopicQueued, CommandEvent{Keyword: keyword, Requester: requester})
	return Queued
}

// Pump performs one dispatch step: pop the queue head, run the admission
// checks and, if they pass, execute the handler to completion. It reports
// whether a command was taken off the queue.
func (d *Dispatcher) Pump(ctx context.Context) bool {
	d.mu.Lock()
	if !d.running.Empty() || len(d.queue) == 0 {
		d.mu.Unlock()
		return false
	}
	cmd := d.queue[0]
	d.queue[0] = PendingCommand{}
	d.queue = d.queue[1:]

	desc, ok := d.admitLocked(cmd)
	if !ok {
		d.mu.Unlock()
		return true
	}
	d.running = RunningSlot{Requester: cmd.Requester, Keyword: cmd.Keyword}
	d.mu.Unlock()

	// The predicate runs unlocked with the slot already claimed, so a slow
	// check delays this step but never Submit.
	if desc.ThreatCheck && d.threat != nil && d.threat() {
		d.log.Info("command refused: hostiles present",
			logx.String("cmd", cmd.Keyword), logx.String("nick", cmd.Requester))
		d.say(hostileNotice)
		d.mu.Lock()
		d.running = RunningSlot{}
		d.mu.Unlock()
		d.discard(cmd, OutcomeHostile)
		return true
	}

	d.execute(ctx, cmd, desc)
	return true
}

// admitLocked runs steps that may discard a popped command before it starts.
// The lock stays held so no Submit can slip a duplicate in between the pop
// and claiming the running slot.
func (d *Dispatcher) admitLocked(cmd PendingCommand) (Descriptor, bool) {
	log := d.log.With(logx.String("cmd", cmd.Keyword), logx.String("nick", cmd.Requester))

	if d.flood != nil && d.flood.Reject(cmd.Requester) {
		log.Debug("command dropped: flooding")
		d.discard(cmd, OutcomeFlood)
		return Descriptor{}, false
	}
	desc, ok := d.registry.Lookup(cmd.Keyword)
	if !ok {
		d.discard(cmd, OutcomeUnknown)
		return Descriptor{}, false
	}
	if desc.OneShot && desc.Completed {
		d.whisper(cmd.Requester, cmd.Keyword+" disabled because it's already completed.")
		d.discard(cmd, OutcomeCompleted)
		return Descriptor{}, false
	}
	return desc, true
}

func (d *Dispatcher) execute(ctx context.Context, cmd PendingCommand, desc Descriptor) {
	log := d.log.With(logx.String("cmd", cmd.Keyword), logx.String("nick", cmd.Requester))
	start := d.now()

	defer func() {
		d.mu.Lock()
		d.running = RunningSlot{}
		d.mu.Unlock()
	}()

	d.publish(TopicStarted, CommandEvent{Keyword: cmd.Keyword, Requester: cmd.Requester})
	log.Debug("command started")

	ok, err := d.invoke(ctx, cmd, desc.Handler)
	ev := CommandEvent{Keyword: cmd.Keyword, Requester: cmd.Requester, Took: d.now().Sub(start)}

	switch {
	case err != nil:
		if ue, isUser := AsUserError(err); isUser {
			d.say(ue.Message)
			ev.Outcome = OutcomeUserError
		} else {
			log.Error("command failed", logx.Err(err))
			d.say(internalNotice)
			ev.Outcome = OutcomeInternal
		}
		ev.Error = err.Error()
	case ok:
		ev.Outcome = OutcomeOK
		if desc.OneShot && d.registry.MarkComplete(cmd.Keyword) {
			log.Info("one-shot command completed; disabling")
		}
	default:
		ev.Outcome = OutcomeFailed
	}

	log.Debug("command finished", logx.String("outcome", ev.Outcome), logx.Duration("took", ev.Took))
	d.publish(TopicFinished, ev)
}

// invoke calls the handler, converting a panic into an internal error.
func (d *Dispatcher) invoke(ctx context.Context, cmd PendingCommand, h Handler) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in action handler",
				logx.String("cmd", cmd.Keyword),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			ok, err = false, fmt.Errorf("panic: %v", r)
		}
	}()
	req := Request{Keyword: cmd.Keyword, Requester: cmd.Requester, Present: d.presentFunc(cmd.Requester)}
	return h(ctx, req)
}

func (d *Dispatcher) presentFunc(name string) func() bool {
	if d.presence == nil {
		return func() bool { return true }
	}
	return func() bool { return d.presence.Has(name) }
}

// Running returns the current running slot.
func (d *Dispatcher) Running() RunningSlot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Idle reports whether nothing is queued or running.
func (d *Dispatcher) Idle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue) == 0 && d.running.Empty()
}

// Snapshot is a copy of the dispatcher state for diagnostics.
type Snapshot struct {
	Running RunningSlot      `json:"running"`
	Queue   []PendingCommand `json:"queue"`
}

func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{Running: d.running, Queue: append([]PendingCommand(nil), d.queue...)}
}

func (d *Dispatcher) discard(cmd PendingCommand, outcome string) {
	d.publish(TopicDiscarded, CommandEvent{Keyword: cmd.Keyword, Requester: cmd.Requester, Outcome: outcome})
}

func (d *Dispatcher) say(msg string) {
	if d.notify != nil {
		d.notify.Say(msg)
	}
}

func (d *Dispatcher) whisper(to, msg string) {
	if d.notify != nil {
		d.notify.Whisper(to, msg)
	}
}

func (d *Dispatcher) publish(topic string, ev CommandEvent) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: topic, Time: d.now(), Data: ev})
}
