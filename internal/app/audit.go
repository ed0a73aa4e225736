package app

import (
	"context"
	"time"

	"controlbot/internal/controlbot"
	"controlbot/internal/eventbus"
	"controlbot/internal/storage"
	logx "controlbot/pkg/logx"
)

const auditWriteTimeout = 2 * time.Second

// auditRecorder persists finished and discarded commands from the bus.
type auditRecorder struct {
	store   storage.Store
	log     logx.Logger
	session func() string
}

// run consumes events until ctx ends or the subscription closes.
func (r *auditRecorder) run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, e)
		}
	}
}

func (r *auditRecorder) handle(ctx context.Context, e eventbus.Event) {
	switch e.Type {
	case controlbot.TopicFinished, controlbot.TopicDiscarded:
	case controlbot.TopicBlocked:
		name, _ := e.Data.(string)
		r.log.Info("player blocked", logx.String("nick", name))
		return
	default:
		return
	}
	ce, ok := e.Data.(controlbot.CommandEvent)
	if !ok {
		return
	}
	if r.store == nil {
		return
	}
	entry := storage.AuditEntry{
		At:        e.Time,
		Requester: ce.Requester,
		Keyword:   ce.Keyword,
		Outcome:   ce.Outcome,
		Error:     ce.Error,
		TookMS:    ce.Took.Milliseconds(),
	}
	if r.session != nil {
		entry.Session = r.session()
	}
	wctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()
	if err := r.store.AppendAudit(wctx, entry); err != nil {
		r.log.Warn("audit write failed", logx.Err(err), logx.String("cmd", ce.Keyword))
	}
}
