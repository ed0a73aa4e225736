// Package bridge is the websocket endpoint a game-side agent script connects
// to. It is both a chat adapter (chat and presence frames in, say and whisper
// frames out) and the world the actions run against (state frames in, task
// frames out, result frames back).
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"controlbot/internal/controlbot"
	"controlbot/internal/transport"
	logx "controlbot/pkg/logx"
)

type Config struct {
	Addr  string
	Path  string // default "/bridge"
	Pprof bool

	HandshakeTimeout time.Duration // default 5s
	PingInterval     time.Duration // default 20s
	WriteTimeout     time.Duration // default 5s
	SendBuffer       int           // default 64

	// AllowedOrigins lists browser origins permitted to connect. Requests
	// without an Origin header (the game agent) are always accepted.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Path) == "" {
		c.Path = "/bridge"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

// Server accepts a single agent connection at a time.
type Server struct {
	cfg      Config
	log      logx.Logger
	schema   *jsonschema.Schema
	upgrader websocket.Upgrader

	out     atomic.Value // chan<- controlbot.Event
	dropped atomic.Uint64
	health  atomic.Value // func() any

	mu      sync.RWMutex
	peer    *peer
	state   StateFrame
	pending map[string]chan ResultFrame
}

var (
	_ transport.Adapter = (*Server)(nil)
	_ transport.World   = (*Server)(nil)
)

func New(cfg Config, log logx.Logger) (*Server, error) {
	schema, err := compileFrameSchema()
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:    cfg.withDefaults(),
		log:    log,
		schema: schema,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		pending: map[string]chan ResultFrame{},
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	var nilOut chan<- controlbot.Event
	s.out.Store(nilOut)
	return s, nil
}

func (s *Server) Name() string { return "bridge" }

// SetHealth installs an extra snapshot provider included in /healthz.
func (s *Server) SetHealth(fn func() any) { s.health.Store(fn) }

// Handler returns the HTTP routes: the websocket endpoint, /healthz and,
// when enabled, /debug/pprof.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.serveWS)
	mux.HandleFunc("/healthz", s.serveHealth)
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// ListenAndServe serves Handler on cfg.Addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.log.Info("bridge listening", logx.String("addr", ln.Addr().String()), logx.String("path", s.cfg.Path))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.dropPeer()
	_ = srv.Shutdown(shutCtx)
	<-errCh
	return nil
}

// Start attaches the event sink; chat and presence frames are forwarded to
// out until Stop.
func (s *Server) Start(_ context.Context, out chan<- controlbot.Event) error {
	s.out.Store(out)
	return nil
}

func (s *Server) Stop(context.Context) error {
	var nilOut chan<- controlbot.Event
	s.out.Store(nilOut)
	if n := s.dropped.Swap(0); n > 0 {
		s.log.Warn("inbound events dropped (channel full)", logx.Uint64("count", n))
	}
	return nil
}

// Self is the agent name announced in the hello frame.
func (s *Server) Self() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.peer == nil {
		return ""
	}
	return s.peer.agent
}

func (s *Server) Lookup(nick string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.state.Players {
		if p == nick {
			return true
		}
	}
	return false
}

func (s *Server) Hostiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.state.Hostiles...)
}

func (s *Server) IdleInTown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IdleInTown
}

// Connected reports whether an agent is attached.
func (s *Server) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peer != nil
}

func (s *Server) Say(ctx context.Context, text string) error {
	return s.send(ctx, SayFrame{Type: TypeSay, Text: text})
}

func (s *Server) Whisper(ctx context.Context, to, text string) error {
	return s.send(ctx, WhisperFrame{Type: TypeWhisper, To: to, Text: text})
}

// Do sends task to the agent and blocks until its result arrives, the agent
// disconnects, or ctx ends.
func (s *Server) Do(ctx context.Context, task transport.Task) (bool, error) {
	id := uuid.NewString()
	ch := make(chan ResultFrame, 1)

	s.mu.Lock()
	p := s.peer
	if p == nil {
		s.mu.Unlock()
		return false, transport.ErrNotConnected
	}
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	frame := TaskFrame{Type: TypeTask, ID: id, Action: task.Action, Nick: task.Nick, Opts: task.Opts}
	if err := p.send(ctx, frame); err != nil {
		return false, err
	}
	log := s.log.With(logx.String("task", task.Action), logx.String("id", id))
	log.Debug("task sent")

	select {
	case res := <-ch:
		log.Debug("task result", logx.Bool("ok", res.OK), logx.String("error", res.Error))
		switch {
		case res.Error != "" && res.UserError:
			return false, &controlbot.UserError{Message: res.Error}
		case res.Error != "":
			return false, fmt.Errorf("bridge: %s: %s", task.Action, res.Error)
		}
		return res.OK, nil
	case <-p.done:
		return false, transport.ErrNotConnected
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *Server) send(ctx context.Context, v any) error {
	s.mu.RLock()
	p := s.peer
	s.mu.RUnlock()
	if p == nil {
		return transport.ErrNotConnected
	}
	return p.send(ctx, v)
}

func (s *Server) emit(ev controlbot.Event) {
	out, _ := s.out.Load().(chan<- controlbot.Event)
	if out == nil {
		return
	}
	select {
	case out <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	body := map[string]any{
		"connected": s.peer != nil,
		"pending":   len(s.pending),
		"players":   len(s.state.Players),
		"hostiles":  len(s.state.Hostiles),
	}
	if s.peer != nil {
		body["agent"] = s.peer.agent
		body["session"] = s.peer.session
	}
	s.mu.RUnlock()
	if fn, ok := s.health.Load().(func() any); ok && fn != nil {
		body["controlbot"] = fn()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

type peer struct {
	conn    *websocket.Conn
	agent   string
	session string
	sendCh  chan []byte
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
}

func (p *peer) send(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case p.sendCh <- b:
		return nil
	case <-p.done:
		return transport.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

var errBusy = errors.New("an agent is already connected")

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.Connected() {
		http.Error(w, errBusy.Error(), http.StatusConflict)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p, err := s.handshake(conn)
	if err != nil {
		s.log.Warn("bridge handshake failed", logx.String("remote", r.RemoteAddr), logx.Err(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	if !s.attach(p) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, errBusy.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	log := s.log.With(logx.String("agent", p.agent), logx.String("session", p.session))
	log.Info("agent connected", logx.String("remote", r.RemoteAddr))

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return s.writeLoop(ctx, p) })
	g.Go(func() error { return s.readLoop(p) })
	err = g.Wait()

	s.detach(p)
	log.Info("agent disconnected", logx.Err(err))
}

func (s *Server) handshake(conn *websocket.Conn) (*peer, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	v, err := decodeFrame(s.schema, raw)
	if err != nil {
		return nil, err
	}
	hello, ok := v.(*HelloFrame)
	if !ok {
		return nil, errors.New("expected hello")
	}
	if hello.ProtocolVersion != ProtocolVersion {
		return nil, fmt.Errorf("bad protocol_version %q", hello.ProtocolVersion)
	}

	p := &peer{
		conn:    conn,
		agent:   hello.Agent,
		session: uuid.NewString(),
		sendCh:  make(chan []byte, s.cfg.SendBuffer),
		done:    make(chan struct{}),
		timeout: s.cfg.WriteTimeout,
	}
	welcome, _ := json.Marshal(WelcomeFrame{Type: TypeWelcome, ProtocolVersion: ProtocolVersion, Session: p.session})
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
		return nil, fmt.Errorf("write welcome: %w", err)
	}
	return p, nil
}

func (s *Server) attach(p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer != nil {
		return false
	}
	s.peer = p
	s.state = StateFrame{}
	return true
}

func (s *Server) detach(p *peer) {
	p.close()
	s.mu.Lock()
	if s.peer == p {
		s.peer = nil
		s.state = StateFrame{}
	}
	s.mu.Unlock()
}

func (s *Server) dropPeer() {
	s.mu.RLock()
	p := s.peer
	s.mu.RUnlock()
	if p != nil {
		p.close()
	}
}

func (s *Server) writeLoop(ctx context.Context, p *peer) error {
	defer p.close()
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		case b := <-p.sendCh:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ping.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.timeout)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (s *Server) readLoop(p *peer) error {
	defer p.close()
	idle := 3 * s.cfg.PingInterval
	_ = p.conn.SetReadDeadline(time.Now().Add(idle))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(idle))
	})
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			select {
			case <-p.done:
				return nil
			default:
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(idle))

		v, err := decodeFrame(s.schema, raw)
		if err != nil {
			s.log.Debug("frame rejected", logx.Err(err))
			continue
		}
		s.handleFrame(v)
	}
}

func (s *Server) handleFrame(v any) {
	switch f := v.(type) {
	case *ChatFrame:
		s.emit(controlbot.Event{Kind: controlbot.EventChat, Nick: f.Nick, Text: f.Text})
	case *GameFrame:
		s.emit(controlbot.Event{
			Kind:      controlbot.EventGame,
			Mode:      controlbot.GameMode(f.Mode),
			Nick:      f.Name1,
			Qualifier: f.Name2,
		})
	case *StateFrame:
		s.mu.Lock()
		s.state = *f
		s.mu.Unlock()
	case *ResultFrame:
		s.mu.RLock()
		ch := s.pending[f.ID]
		s.mu.RUnlock()
		if ch == nil {
			s.log.Debug("result for unknown task", logx.String("id", f.ID))
			return
		}
		select {
		case ch <- *f:
		default:
		}
	case *HelloFrame:
		s.log.Debug("duplicate hello ignored")
	}
}

// checkOrigin refuses browser pages so a local web page cannot pose as the
// agent.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(origin, strings.TrimSpace(allowed)) {
			return true
		}
	}
	s.log.Warn("bridge connection refused: origin not allowed", logx.String("origin", origin))
	return false
}
