package controlbot

import "testing"

func TestNormalizeKeyword(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"cows", "cows"},
		{"  COWS ", "cows"},
		{"rush andy", "andy"},
		{"Rush  Baal now", "baal"},
		{"rush ", ""},
		{"RUSH", ""},
		{"rush\tmeph", "meph"},
		{"rushandy", "rushandy"},
	}
	for _, tt := range tests {
		if got := NormalizeKeyword(tt.in); got != tt.want {
			t.Fatalf("NormalizeKeyword(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	reg := mustRegistry(t,
		Action{Keyword: "cows", Handler: okHandler},
		Action{Keyword: "andy", OneShot: true, Handler: okHandler},
	)
	blocks := NewBlockList("Mallory")
	c := NewClassifier(func() string { return "Leader" }, reg, blocks)

	tests := []struct {
		sender, text string
		want         Verdict
		keyword      string
	}{
		{"Bob", "cows", Accept, "cows"},
		{"Bob", "RUSH ANDY", Accept, "andy"},
		{"Bob", "hello there", Ignore, ""},
		{"Leader", "cows", Ignore, ""},
		{"Mallory", "cows", Blocked, "cows"},
		{"Mallory", "just chatting", Ignore, ""},
		{"", "cows", Ignore, ""},
	}
	for _, tt := range tests {
		cmd, v := c.Classify(tt.sender, tt.text)
		if v != tt.want {
			t.Fatalf("Classify(%q, %q) verdict = %v, want %v", tt.sender, tt.text, v, tt.want)
		}
		if v != Ignore && cmd.Keyword != tt.keyword {
			t.Fatalf("Classify(%q, %q) keyword = %q, want %q", tt.sender, tt.text, cmd.Keyword, tt.keyword)
		}
	}
}
