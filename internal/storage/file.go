package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	logx "controlbot/pkg/logx"
)

// fileStore keeps everything next to a path prefix:
//   - <prefix>.audit-YYYY-MM-DD.jsonl.zst (one zstd frame per open period)
//   - <prefix>.blocked.txt                (one name per line, '#' comments)
type fileStore struct {
	log    logx.Logger
	prefix string
	now    func() time.Time

	mu     sync.Mutex
	curDay string
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer

	blocked map[string]struct{}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{
		log:     log,
		prefix:  filepath.Join(dir, base),
		now:     time.Now,
		blocked: map[string]struct{}{},
	}
	names, err := readNameList(s.blockedPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for _, n := range names {
		s.blocked[n] = struct{}{}
	}
	return s, nil
}

func (s *fileStore) blockedPath() string { return s.prefix + ".blocked.txt" }

func (s *fileStore) auditPath(day string) string {
	return s.prefix + ".audit-" + day + ".jsonl.zst"
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	day := e.At.UTC().Format("2006-01-02")
	if day != s.curDay || s.w == nil {
		if err := s.rotateLocked(day); err != nil {
			return err
		}
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *fileStore) rotateLocked(day string) error {
	if err := s.closeLocked(); err != nil {
		return err
	}
	f, err := os.OpenFile(s.auditPath(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	s.f, s.enc, s.w, s.curDay = f, enc, bufio.NewWriterSize(enc, 32*1024), day
	return nil
}

// closeLocked ends the current zstd frame so the file is readable.
func (s *fileStore) closeLocked() error {
	var err error
	if s.w != nil {
		_ = s.w.Flush()
		s.w = nil
	}
	if s.enc != nil {
		err = s.enc.Close()
		s.enc = nil
	}
	if s.f != nil {
		if cerr := s.f.Close(); err == nil {
			err = cerr
		}
		s.f = nil
	}
	s.curDay = ""
	return err
}

func (s *fileStore) RecentAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.closeLocked(); err != nil {
		return nil, err
	}

	files, err := filepath.Glob(s.prefix + ".audit-*.jsonl.zst")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var out []AuditEntry
	for i := len(files) - 1; i >= 0 && len(out) < limit; i-- {
		entries, err := readAuditFile(files[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(files[i]), err)
		}
		out = append(entries, out...)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func readAuditFile(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []AuditEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func (s *fileStore) AddBlocked(_ context.Context, name, reason string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocked[name]; ok {
		return nil
	}
	f, err := os.OpenFile(s.blockedPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	var b strings.Builder
	if reason = strings.TrimSpace(reason); reason != "" {
		fmt.Fprintf(&b, "# %s %s\n", s.now().UTC().Format(time.RFC3339), reason)
	}
	b.WriteString(name + "\n")
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.blocked[name] = struct{}{}
	return nil
}

func (s *fileStore) Blocked(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.blocked))
	for n := range s.blocked {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// readNameList reads a line-delimited list, skipping blanks and '#' comments.
func readNameList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
