package logx

import (
	"strings"
	"testing"
)

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	line := formatChatLine([]byte(`{"level":"warn","time":"x","caller":"a.go:1","message":"whisper dropped","target":"Bob","comp":"chat"}`))
	want := "[WARN] whisper dropped comp=chat target=Bob"
	if line != want {
		t.Fatalf("formatChatLine = %q, want %q", line, want)
	}
}

func TestFormatChatLineTruncates(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 400)
	line := formatChatLine([]byte(`{"level":"error","message":"` + long + `"}`))
	if len(line) != chatLineMax {
		t.Fatalf("len = %d, want %d", len(line), chatLineMax)
	}
	if !strings.HasSuffix(line, "...") {
		t.Fatalf("expected ellipsis, got %q", line[len(line)-5:])
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"nonsense", LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.raw, LevelInfo); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	l.With(Int("n", 1)).Warn("ignored")
}
