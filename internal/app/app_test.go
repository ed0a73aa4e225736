package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"controlbot/internal/config"
	"controlbot/internal/controlbot"
	"controlbot/internal/eventbus"
	"controlbot/internal/storage"
	logx "controlbot/pkg/logx"
)

func TestMapSessionAndFlood(t *testing.T) {
	t.Parallel()
	cb := config.ControlBotConfig{
		GameLength:   "15m",
		EndMessage:   "gg",
		TickInterval: "100ms",
		Flood:        config.FloodConfig{Window: "5s", Threshold: 3, Cooldown: "30s"},
	}
	sc, err := mapSessionConfig(cb)
	if err != nil {
		t.Fatal(err)
	}
	want := controlbot.SessionConfig{Length: 15 * time.Minute, EndMessage: "gg", TickInterval: 100 * time.Millisecond}
	if diff := cmp.Diff(want, sc); diff != "" {
		t.Fatalf("session config (-want +got):\n%s", diff)
	}
	fc, err := mapFloodConfig(cb)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(controlbot.FloodConfig{Window: 5 * time.Second, Threshold: 3, Cooldown: 30 * time.Second}, fc); diff != "" {
		t.Fatalf("flood config (-want +got):\n%s", diff)
	}

	sc, _ = mapSessionConfig(config.ControlBotConfig{})
	if sc.Length != config.DefaultGameLength {
		t.Fatalf("default length = %v", sc.Length)
	}
}

func TestMapActionsConfig(t *testing.T) {
	t.Parallel()
	ac := mapActionsConfig(config.ControlBotConfig{
		Chant: config.ChantConfig{Enabled: true},
		Bo:    true,
		Rush:  map[string]bool{" Andy ": true, "baal": false},
	})
	if !ac.Chant.Enabled || !ac.Bo || !ac.Rush["andy"] || ac.Rush["baal"] {
		t.Fatalf("unexpected mapping: %+v", ac)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		st      *config.StorageConfig
		enabled bool
	}{
		{"omitted", nil, false},
		{"none", &config.StorageConfig{Driver: "none"}, false},
		{"sqlite", &config.StorageConfig{Driver: "SQLite", Path: "x.db"}, true},
	}
	for _, tt := range tests {
		_, enabled, err := mapStorageConfig(&config.Config{Storage: tt.st})
		if err != nil || enabled != tt.enabled {
			t.Fatalf("%s: enabled=%v err=%v", tt.name, enabled, err)
		}
	}
}

type memStore struct {
	mu      sync.Mutex
	audit   []storage.AuditEntry
	blocked []string
}

func (m *memStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *memStore) RecentAudit(context.Context, int) ([]storage.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.AuditEntry(nil), m.audit...), nil
}

func (m *memStore) AddBlocked(_ context.Context, name, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = append(m.blocked, name)
	return nil
}

func (m *memStore) Blocked(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.blocked...), nil
}

func (m *memStore) Close() error { return nil }

func TestAuditRecorder(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	rec := &auditRecorder{store: st, log: logx.Nop(), session: func() string { return "s-1" }}
	at := time.Unix(100, 0)

	rec.handle(context.Background(), eventbus.Event{Type: controlbot.TopicQueued, Time: at,
		Data: controlbot.CommandEvent{Keyword: "bo", Requester: "Bob"}})
	rec.handle(context.Background(), eventbus.Event{Type: controlbot.TopicFinished, Time: at,
		Data: controlbot.CommandEvent{Keyword: "bo", Requester: "Bob", Outcome: controlbot.OutcomeOK, Took: 1500 * time.Millisecond}})
	rec.handle(context.Background(), eventbus.Event{Type: controlbot.TopicDiscarded, Time: at,
		Data: controlbot.CommandEvent{Keyword: "cows", Requester: "Al", Outcome: controlbot.OutcomeFlood}})

	got, _ := st.RecentAudit(context.Background(), 0)
	want := []storage.AuditEntry{
		{At: at, Session: "s-1", Requester: "Bob", Keyword: "bo", Outcome: "ok", TookMS: 1500},
		{At: at, Session: "s-1", Requester: "Al", Keyword: "cows", Outcome: "flood"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("audit (-want +got):\n%s", diff)
	}
}

func TestBlockKeeperSeedsAndPersists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	file := filepath.Join(dir, "shitlist.txt")
	if err := os.WriteFile(file, []byte("# hostile\nMallory\n\nEve\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	st := &memStore{blocked: []string{"Trudy", "Eve"}}
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(4)
	defer unsub()

	k := &blockKeeper{list: controlbot.NewBlockList(), file: file, store: st, bus: bus, log: logx.Nop()}
	if n, err := k.seedFile(); err != nil || n != 2 {
		t.Fatalf("seedFile = %d, %v", n, err)
	}
	if n, err := k.seedStore(context.Background()); err != nil || n != 1 {
		t.Fatalf("seedStore = %d, %v", n, err)
	}
	if diff := cmp.Diff([]string{"Eve", "Mallory", "Trudy"}, k.list.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}

	k.install(context.Background())
	k.list.Add("Oscar")

	select {
	case ev := <-sub:
		if ev.Type != controlbot.TopicBlocked || ev.Data != "Oscar" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no blocklist event")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		names, _ := st.Blocked(context.Background())
		if len(names) == 3 && names[2] == "Oscar" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("not persisted: %v", names)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBlockKeeperMissingFile(t *testing.T) {
	t.Parallel()
	k := &blockKeeper{list: controlbot.NewBlockList(), file: filepath.Join(t.TempDir(), "none.txt"), log: logx.Nop()}
	if n, err := k.seedFile(); n != 0 || err != nil {
		t.Fatalf("seedFile = %d, %v", n, err)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "controlbot.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
bridge:
  addr: 127.0.0.1:0
logging:
  level: error
storage:
  driver: sqlite
  path: `+filepath.Join(dir, "bot.db")+`
controlbot:
  game_length: 20m
  shitlist: true
  shitlist_file: `+filepath.Join(dir, "shitlist.txt")+`
  bo: true
  chant:
    enabled: true
    auto_enchant: true
  adverts:
    - schedule: every:1m
      text: say help
`)
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var sess *controlbot.Session
	deadline := time.Now().Add(2 * time.Second)
	for sess == nil {
		sess, _ = a.sessionHandles()
		if time.Now().After(deadline) {
			t.Fatal("no session started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	h, ok := a.health().(Health)
	if !ok {
		t.Fatalf("health type %T", a.health())
	}
	if h.Transport != "bridge" || h.Agent || h.Session != 1 {
		t.Fatalf("health = %+v", h)
	}
	if diff := cmp.Diff([]string{"advert.0", "autochant"}, sorted(h.Jobs)); diff != "" {
		t.Fatalf("jobs (-want +got):\n%s", diff)
	}

	srv := httptest.NewServer(a.bridge.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(jsonString(body), "transport") {
		t.Fatalf("healthz %d %v", resp.StatusCode, body)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func jsonString(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
