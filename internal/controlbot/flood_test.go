package controlbot

import (
	"testing"
	"time"
)

func TestFloodIgnoresForCooldown(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	n := &notes{}
	f := NewFloodController(FloodConfig{}, n, clock.Now)

	for i := 0; i < 5; i++ {
		if f.Reject("Bob") {
			t.Fatalf("attempt %d rejected", i+1)
		}
		clock.Advance(time.Second)
	}
	if !f.Reject("Bob") {
		t.Fatal("sixth attempt inside the window should be rejected")
	}
	if !f.Ignored("Bob") {
		t.Fatal("Bob should be ignored")
	}

	clock.Advance(59 * time.Second)
	if !f.Reject("Bob") {
		t.Fatal("attempt during cool-down should be rejected")
	}

	clock.Advance(time.Second)
	if f.Reject("Bob") {
		t.Fatal("attempt after cool-down should be admitted")
	}
	if f.Ignored("Bob") {
		t.Fatal("Bob should no longer be ignored")
	}

	w := n.Whispers()
	if len(w) != 1 || w[0] != (whisper{To: "Bob", Text: floodNotice}) {
		t.Fatalf("whispers = %v, want one flood notice", w)
	}
}

func TestFloodWindowResets(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	f := NewFloodController(FloodConfig{}, nil, clock.Now)

	for round := 0; round < 3; round++ {
		for i := 0; i < 5; i++ {
			if f.Reject("Bob") {
				t.Fatalf("round %d attempt %d rejected", round, i+1)
			}
		}
		clock.Advance(10 * time.Second)
	}
}

func TestFloodTracksIdentitiesSeparately(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	f := NewFloodController(FloodConfig{Threshold: 1}, nil, clock.Now)

	if f.Reject("Bob") || f.Reject("Alice") {
		t.Fatal("first attempts should pass")
	}
	if !f.Reject("Bob") {
		t.Fatal("Bob's second attempt should trip the limit")
	}
	if f.Ignored("Alice") {
		t.Fatal("Alice should be unaffected")
	}
}

func TestFloodApplyChangesThreshold(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	f := NewFloodController(FloodConfig{}, nil, clock.Now)
	f.Apply(FloodConfig{Threshold: 2})

	f.Reject("Bob")
	f.Reject("Bob")
	if !f.Reject("Bob") {
		t.Fatal("third attempt should exceed the new threshold")
	}
}
