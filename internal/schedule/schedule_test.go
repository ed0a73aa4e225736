package schedule

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	logx "controlbot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParse(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		raw  string
		next time.Time
	}{
		{"90s", base.Add(90 * time.Second)},
		{"every:2m", base.Add(2 * time.Minute)},
		{"*/5 * * * *", base.Add(5 * time.Minute)},
		{"cron:0 13 * * *", base.Add(time.Hour)},
		{"@every 30s", base.Add(30 * time.Second)},
	}
	for _, tt := range tests {
		s, err := Parse(tt.raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.raw, err)
		}
		if got := s.Next(base); !got.Equal(tt.next) {
			t.Fatalf("Parse(%q).Next = %v, want %v", tt.raw, got, tt.next)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "soon", "every:100ms", "cron:", "* * *"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("Parse(%q) accepted", raw)
		}
	}
}

func TestSchedulerRunsAndReplacesJobs(t *testing.T) {
	s := New(logx.Nop(), time.UTC)
	var first, second atomic.Int32
	if err := s.Every("advert", time.Second, func() { first.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := s.Every("advert", time.Second, func() { second.Add(1) }); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("precast", "@every 1h", func() {}); err != nil {
		t.Fatal(err)
	}
	names := s.Names()
	sort.Strings(names)
	if diff := cmp.Diff([]string{"advert", "precast"}, names); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}

	s.Start()
	deadline := time.Now().Add(3 * time.Second)
	for second.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if second.Load() == 0 {
		t.Fatal("replacement job never ran")
	}
	if first.Load() != 0 {
		t.Fatal("replaced job still ran")
	}

	s.RemoveAll()
	if len(s.Names()) != 0 {
		t.Fatal("RemoveAll left jobs")
	}
}

func TestRecoverKeepsSchedulerAlive(t *testing.T) {
	s := New(logx.Nop(), time.UTC)
	var runs atomic.Int32
	if err := s.Every("boom", time.Second, func() {
		runs.Add(1)
		panic("boom")
	}); err != nil {
		t.Fatal(err)
	}
	s.Start()
	deadline := time.Now().Add(4 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Stop(ctx)
	if runs.Load() < 2 {
		t.Fatalf("runs = %d, want at least 2", runs.Load())
	}
}
