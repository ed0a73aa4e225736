package controlbot

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	logx "controlbot/pkg/logx"
)

func newTestThrottler(clock *fakeClock, w *wire, p *Presence, lookup func(string) bool) *Throttler {
	return NewThrottler(ThrottleConfig{}, w, p, lookup, logx.Nop(), clock.Now)
}

func TestThrottlerTruncatesLongMessages(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	w := &wire{}
	th := newTestThrottler(clock, w, nil, nil)

	th.Say(strings.Repeat("a", 400))
	if !th.Drain(context.Background()) {
		t.Fatal("drain sent nothing")
	}
	sent := w.Sent()
	if len(sent) != 1 || len(sent[0].Text) != DefaultMaxChatLength {
		t.Fatalf("sent = %v, want one %d-byte line", len(sent), DefaultMaxChatLength)
	}
}

func TestThrottlerTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	w := &wire{}
	th := newTestThrottler(clock, w, nil, nil)

	// 1 + 2*100 bytes; byte 180 falls inside an "é".
	th.Say("a" + strings.Repeat("é", 100))
	th.Drain(context.Background())
	sent := w.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	got := sent[0].Text
	if !utf8.ValidString(got) {
		t.Fatalf("truncated text is not valid UTF-8: %q", got[len(got)-4:])
	}
	if want := "a" + strings.Repeat("é", 89); got != want {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"日本語", 4, "日"},
		{"日本語", 6, "日本"},
		{"日", 2, ""},
	}
	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestThrottlerSpacesSends(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	w := &wire{clock: clock.Now}
	th := newTestThrottler(clock, w, nil, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		th.Say("line")
	}
	for i := 0; i < 200 && th.Len() > 0; i++ {
		th.Drain(ctx)
		clock.Advance(50 * time.Millisecond)
	}
	if th.Len() != 0 {
		t.Fatalf("%d messages left undrained", th.Len())
	}

	w.mu.Lock()
	at := append([]time.Time(nil), w.at...)
	w.mu.Unlock()
	if len(at) != 5 {
		t.Fatalf("sent %d, want 5", len(at))
	}
	for i := 1; i < len(at); i++ {
		gap := at[i].Sub(at[i-1])
		if gap < time.Second || gap > 1800*time.Millisecond {
			t.Fatalf("gap %d = %v, want within [1s, 1.8s]", i, gap)
		}
	}
}

func TestThrottlerDrainSendsOnePerCall(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	w := &wire{}
	th := newTestThrottler(clock, w, nil, nil)
	th.Say("one")
	th.Say("two")

	th.Drain(context.Background())
	th.Drain(context.Background())
	if got := len(w.Sent()); got != 1 {
		t.Fatalf("sent %d messages without time passing, want 1", got)
	}
}

func TestThrottlerWhisperTargets(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	w := &wire{}
	p := NewPresence(nil)
	p.OnGameEvent(GameJoined, "Bob", "bobacct")
	p.OnGameEvent(GameJoined, "Carol", "")
	lookup := func(name string) bool { return name == "Dave" }
	th := newTestThrottler(clock, w, p, lookup)

	th.Whisper("Bob", "hi bob")
	th.Whisper("Carol", "hi carol")
	th.Whisper("Dave", "hi dave")
	th.Whisper("Eve", "hi eve")

	if th.Len() != 3 {
		t.Fatalf("queued %d, want 3", th.Len())
	}
	for th.Len() > 0 {
		th.Drain(context.Background())
		clock.Advance(2 * time.Second)
	}
	want := []whisper{
		{To: "*bobacct", Text: "hi bob"},
		{To: "Carol", Text: "hi carol"},
		{To: "Dave", Text: "hi dave"},
	}
	if diff := cmp.Diff(want, w.Sent()); diff != "" {
		t.Fatalf("sent (-want +got):\n%s", diff)
	}
}
