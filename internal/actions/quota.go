package actions

import (
	"context"
	"sync"
	"time"

	"controlbot/internal/controlbot"
)

const (
	wpMaxRequests = 4
	wpCooldown    = time.Minute
)

type wpTracker struct {
	requests int
	last     time.Time
}

// WpQuota limits waypoint tours per player: a short cool-down after the
// second tour and a hard cap per session.
type WpQuota struct {
	mu  sync.Mutex
	now controlbot.Clock
	m   map[string]*wpTracker
}

func NewWpQuota(now controlbot.Clock) *WpQuota {
	if now == nil {
		now = time.Now
	}
	return &WpQuota{now: now, m: map[string]*wpTracker{}}
}

// Check returns a user error when nick may not request another tour yet.
func (q *WpQuota) Check(nick string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.m[nick]
	if t == nil {
		return nil
	}
	since := q.now().Sub(t.last)
	switch {
	case t.requests > wpMaxRequests:
		return controlbot.UserErrorf("You have spent all your waypoint requests for this game.")
	case t.requests > 1 && since < wpCooldown:
		wait := int(wpCooldown/time.Second) - int(since/time.Second)
		return controlbot.UserErrorf("You may request wp again in %d seconds.", max(0, wait))
	}
	return nil
}

// Record counts a completed tour for nick.
func (q *WpQuota) Record(nick string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.m[nick]
	if t == nil {
		t = &wpTracker{}
		q.m[nick] = t
	}
	t.requests++
	t.last = q.now()
}

// Guard wraps h with the quota check and records successful tours.
func (q *WpQuota) Guard(h controlbot.Handler) controlbot.Handler {
	return func(ctx context.Context, req controlbot.Request) (bool, error) {
		if err := q.Check(req.Requester); err != nil {
			return false, err
		}
		ok, err := h(ctx, req)
		if err == nil && ok {
			q.Record(req.Requester)
		}
		return ok, err
	}
}
