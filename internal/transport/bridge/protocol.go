package bridge

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ProtocolVersion is the bridge protocol spoken by this server.
const ProtocolVersion = "1"

// Frame types.
const (
	TypeHello   = "hello"
	TypeChat    = "chat"
	TypeGame    = "game"
	TypeState   = "state"
	TypeResult  = "result"
	TypeWelcome = "welcome"
	TypeSay     = "say"
	TypeWhisper = "whisper"
	TypeTask    = "task"
)

type baseFrame struct {
	Type string `json:"type"`
}

// HelloFrame (agent -> server) opens a session.
type HelloFrame struct {
	Type            string `json:"type"`
	Agent           string `json:"agent"`
	ProtocolVersion string `json:"protocol_version"`
}

// WelcomeFrame (server -> agent) acknowledges the hello.
type WelcomeFrame struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Session         string `json:"session"`
}

type ChatFrame struct {
	Type string `json:"type"`
	Nick string `json:"nick"`
	Text string `json:"text"`
}

// GameFrame carries a presence notification. Name2 is the account name
// announced on join.
type GameFrame struct {
	Type  string `json:"type"`
	Mode  int    `json:"mode"`
	Name1 string `json:"name1"`
	Name2 string `json:"name2,omitempty"`
}

// StateFrame replaces the cached world state.
type StateFrame struct {
	Type       string   `json:"type"`
	IdleInTown bool     `json:"idle_in_town"`
	Hostiles   []string `json:"hostiles,omitempty"`
	Players    []string `json:"players,omitempty"`
}

type ResultFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	UserError bool   `json:"user_error,omitempty"`
}

type SayFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type WhisperFrame struct {
	Type string `json:"type"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type TaskFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Action string          `json:"action"`
	Nick   string          `json:"nick,omitempty"`
	Opts   map[string]bool `json:"opts,omitempty"`
}

//go:embed frames.schema.json
var frameSchemaText string

func compileFrameSchema() (*jsonschema.Schema, error) {
	s, err := jsonschema.CompileString("frames.schema.json", frameSchemaText)
	if err != nil {
		return nil, fmt.Errorf("bridge: compile frame schema: %w", err)
	}
	return s, nil
}

// decodeFrame validates raw against the inbound schema and decodes it into
// the concrete frame type.
func decodeFrame(schema *jsonschema.Schema, raw []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid frame: %s", firstLine(err.Error()))
	}
	var base baseFrame
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var v any
	switch base.Type {
	case TypeHello:
		v = &HelloFrame{}
	case TypeChat:
		v = &ChatFrame{}
	case TypeGame:
		v = &GameFrame{}
	case TypeState:
		v = &StateFrame{}
	case TypeResult:
		v = &ResultFrame{}
	default:
		return nil, fmt.Errorf("unknown frame type %q", base.Type)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", base.Type, err)
	}
	return v, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
