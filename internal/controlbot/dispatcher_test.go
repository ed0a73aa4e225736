package controlbot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"controlbot/internal/eventbus"
)

func TestSubmitDedupesQueuedRequest(t *testing.T) {
	t.Parallel()
	h := newDispatchHarness(t, nil,
		Action{Keyword: "bo", Description: "Battle orders", Handler: okHandler},
		Action{Keyword: "cows", Description: "Cow level", Handler: okHandler},
	)

	if got := h.d.Submit("cows", "Alice"); got != Queued {
		t.Fatalf("first submit = %v, want queued", got)
	}
	if got := h.d.Submit("bo", "Bob"); got != Queued {
		t.Fatalf("second submit = %v, want queued", got)
	}
	if got := h.d.Submit("bo", "Bob"); got != Duplicate {
		t.Fatalf("repeat submit = %v, want duplicate", got)
	}
	if n := h.d.Len(); n != 2 {
		t.Fatalf("queue length = %d, want 2", n)
	}

	want := []whisper{
		{To: "Bob", Text: "bo has been added to the queue. Queue position: 2"},
		{To: "Bob", Text: "You already requested this command. Queue position: 2"},
	}
	if diff := cmp.Diff(want, h.notes.Whispers()); diff != "" {
		t.Fatalf("whispers mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitFirstIntoIdleQueueIsSilent(t *testing.T) {
	t.Parallel()
	h := newDispatchHarness(t, nil, Action{Keyword: "bo", Handler: okHandler})
	h.d.Submit("bo", "Bob")
	if w := h.notes.Whispers(); len(w) != 0 {
		t.Fatalf("unexpected whispers: %v", w)
	}
}

func TestSubmitWhileRunningIsAbsorbed(t *testing.T) {
	t.Parallel()
	var h *dispatchHarness
	var inside SubmitResult
	h = newDispatchHarness(t, nil, Action{Keyword: "bo", Handler: func(context.Context, Request) (bool, error) {
		inside = h.d.Submit("bo", "Bob")
		return true, nil
	}})
	h.d.Submit("bo", "Bob")
	h.d.Pump(context.Background())

	if inside != AlreadyRunning {
		t.Fatalf("submit during run = %v, want already_running", inside)
	}
	if n := h.d.Len(); n != 0 {
		t.Fatalf("queue length = %d, want 0", n)
	}
	if w := h.notes.Whispers(); len(w) != 0 {
		t.Fatalf("absorbed submit should not notify, got %v", w)
	}
}

func TestRushAndyTwiceBeforeCompletion(t *testing.T) {
	t.Parallel()
	h := newDispatchHarness(t, nil,
		Action{Keyword: "andy", Description: "Andariel", OneShot: true, Handler: okHandler},
	)
	h.d.Submit("andy", "Bob")
	before := h.d.Len()
	if got := h.d.Submit("andy", "Bob"); got != Duplicate {
		t.Fatalf("second submit = %v, want duplicate", got)
	}
	if after := h.d.Len(); after != before {
		t.Fatalf("queue length changed from %d to %d", before, after)
	}
	want := []whisper{{To: "Bob", Text: "You already requested this command. Queue position: 1"}}
	if diff := cmp.Diff(want, h.notes.Whispers()); diff != "" {
		t.Fatalf("whispers mismatch (-want +got):\n%s", diff)
	}
}

func TestPumpRunsAtMostOneCommand(t *testing.T) {
	t.Parallel()
	var h *dispatchHarness
	var nested bool
	var slot RunningSlot
	h = newDispatchHarness(t, nil,
		Action{Keyword: "bo", Handler: func(ctx context.Context, _ Request) (bool, error) {
			slot = h.d.Running()
			h.d.Submit("cows", "Alice")
			nested = h.d.Pump(ctx)
			return true, nil
		}},
		Action{Keyword: "cows", Handler: okHandler},
	)
	h.d.Submit("bo", "Bob")

	if !h.d.Pump(context.Background()) {
		t.Fatal("pump should take the queued command")
	}
	if nested {
		t.Fatal("pump ran while a command was in flight")
	}
	if diff := cmp.Diff(RunningSlot{Requester: "Bob", Keyword: "bo"}, slot); diff != "" {
		t.Fatalf("running slot mismatch (-want +got):\n%s", diff)
	}
	if !h.d.Running().Empty() {
		t.Fatal("running slot not cleared")
	}
	if n := h.d.Len(); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
}

func TestOneShotCompletesOnlyOnSuccess(t *testing.T) {
	t.Parallel()
	results := []bool{false, true}
	var h *dispatchHarness
	var seenDuringRun []bool
	h = newDispatchHarness(t, nil, Action{Keyword: "andy", Description: "Andariel", OneShot: true,
		Handler: func(context.Context, Request) (bool, error) {
			d, _ := h.reg.Lookup("andy")
			seenDuringRun = append(seenDuringRun, d.Completed)
			ok := results[0]
			results = results[1:]
			return ok, nil
		}})
	ctx := context.Background()

	h.d.Submit("andy", "Bob")
	h.d.Pump(ctx)
	if d, _ := h.reg.Lookup("andy"); d.Completed {
		t.Fatal("completed after handler returned false")
	}

	h.d.Submit("andy", "Bob")
	h.d.Pump(ctx)
	if d, _ := h.reg.Lookup("andy"); !d.Completed {
		t.Fatal("not completed after handler returned true")
	}
	if diff := cmp.Diff([]bool{false, false}, seenDuringRun); diff != "" {
		t.Fatalf("completed flag during run (-want +got):\n%s", diff)
	}

	h.d.Submit("andy", "Alice")
	h.d.Pump(ctx)
	want := whisper{To: "Alice", Text: "andy disabled because it's already completed."}
	w := h.notes.Whispers()
	if len(w) == 0 || w[len(w)-1] != want {
		t.Fatalf("last whisper = %v, want %v", w, want)
	}
	if h.reg.MarkComplete("andy") {
		t.Fatal("MarkComplete flipped an already completed action")
	}
}

func TestHandlerErrorsDoNotStopQueue(t *testing.T) {
	t.Parallel()
	var ran []string
	record := func(kw string, ok bool, err error) Handler {
		return func(context.Context, Request) (bool, error) {
			ran = append(ran, kw)
			return ok, err
		}
	}
	h := newDispatchHarness(t, nil,
		Action{Keyword: "wps", Handler: record("wps", false, UserErrorf("You may request wp again in %d seconds.", 42))},
		Action{Keyword: "cows", Handler: record("cows", false, errors.New("pathing failed"))},
		Action{Keyword: "bo", Handler: func(context.Context, Request) (bool, error) { panic("boom") }},
		Action{Keyword: "chant", Handler: record("chant", true, nil)},
	)
	h.d.Submit("wps", "Bob")
	h.d.Submit("cows", "Alice")
	h.d.Submit("bo", "Carol")
	h.d.Submit("chant", "Dave")

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if !h.d.Pump(ctx) {
			t.Fatalf("pump %d took nothing", i)
		}
		if !h.d.Running().Empty() {
			t.Fatalf("running slot not empty after pump %d", i)
		}
	}
	if diff := cmp.Diff([]string{"wps", "cows", "chant"}, ran); diff != "" {
		t.Fatalf("handlers run (-want +got):\n%s", diff)
	}
	wantSays := []string{"You may request wp again in 42 seconds.", "Internal Error", "Internal Error"}
	if diff := cmp.Diff(wantSays, h.notes.Says()); diff != "" {
		t.Fatalf("broadcasts (-want +got):\n%s", diff)
	}
	if !h.d.Idle() {
		t.Fatal("dispatcher should be idle")
	}
}

func TestHostilesPreemptDispatch(t *testing.T) {
	t.Parallel()
	called := false
	h := newDispatchHarness(t, func() bool { return true },
		Action{Keyword: "cows", Description: "Cow level", ThreatCheck: true,
			Handler: func(context.Context, Request) (bool, error) { called = true; return true, nil }},
	)
	h.d.Submit("cows", "Bob")
	h.d.Pump(context.Background())

	if called {
		t.Fatal("handler ran despite hostiles")
	}
	if diff := cmp.Diff([]string{"Command disabled because of hostiles."}, h.notes.Says()); diff != "" {
		t.Fatalf("broadcasts (-want +got):\n%s", diff)
	}
	if h.d.Len() != 0 || !h.d.Running().Empty() {
		t.Fatalf("state after discard: %+v", h.d.Snapshot())
	}
}

func TestThreatCheckDoesNotBlockSubmit(t *testing.T) {
	t.Parallel()
	var h *dispatchHarness
	var during SubmitResult
	h = newDispatchHarness(t, func() bool {
		// Would deadlock if the dispatcher lock were held here.
		during = h.d.Submit("bo", "Alice")
		return true
	},
		Action{Keyword: "cows", ThreatCheck: true, Handler: okHandler},
		Action{Keyword: "bo", Handler: okHandler},
	)
	h.d.Submit("cows", "Bob")
	h.d.Pump(context.Background())

	if during != Queued {
		t.Fatalf("submit during threat check = %v, want queued", during)
	}
	if h.d.Len() != 1 || !h.d.Running().Empty() {
		t.Fatalf("state after refusal: %+v", h.d.Snapshot())
	}
}

func TestThreatCheckSkippedForSafeActions(t *testing.T) {
	t.Parallel()
	checks := 0
	h := newDispatchHarness(t, func() bool { checks++; return true },
		Action{Keyword: "bo", Handler: okHandler},
	)
	h.d.Submit("bo", "Bob")
	h.d.Pump(context.Background())
	if checks != 0 {
		t.Fatalf("threat check consulted %d times", checks)
	}
}

func TestFloodedRequesterIsDroppedAtDispatch(t *testing.T) {
	t.Parallel()
	runs := 0
	h := newDispatchHarness(t, nil, Action{Keyword: "bo", Handler: func(context.Context, Request) (bool, error) {
		runs++
		return true, nil
	}})
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		h.d.Submit("bo", "Bob")
		h.d.Pump(ctx)
		h.clock.Advance(100 * time.Millisecond)
	}
	if runs != 5 {
		t.Fatalf("runs = %d, want 5", runs)
	}
	var floods int
	for _, w := range h.notes.Whispers() {
		if w.Text == floodNotice {
			floods++
		}
	}
	if floods != 1 {
		t.Fatalf("flood notices = %d, want 1", floods)
	}
}

func TestDispatcherPublishesLifecycle(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	h := newDispatchHarness(t, nil, Action{Keyword: "bo", Handler: okHandler})
	h.d.bus = bus
	h.d.Submit("bo", "Bob")
	h.d.Pump(context.Background())

	var types []string
	var last CommandEvent
	for len(types) < 3 {
		ev := <-ch
		types = append(types, ev.Type)
		last, _ = ev.Data.(CommandEvent)
	}
	if diff := cmp.Diff([]string{TopicQueued, TopicStarted, TopicFinished}, types); diff != "" {
		t.Fatalf("event types (-want +got):\n%s", diff)
	}
	if last.Outcome != OutcomeOK {
		t.Fatalf("outcome = %q, want ok", last.Outcome)
	}
}
