package websocket

import (
	"encoding/json"
	"time"

	"github.com/conneroisu/codepad/internal/buffer"
	"github.com/conneroisu/codepad/internal/session"
)

// Server to browser message types.
const (
	TypeState   = "state"
	TypeSetText = "set_text"
	TypePreview = "preview"
	TypeAction  = "action"
	TypePalette = "palette"
	TypePrompt  = "prompt"
	TypeNotice  = "notice"
)

// Browser to server message types.
const (
	TypeEdit         = "edit"
	TypeCommand      = "command"
	TypeKey          = "key"
	TypeSwitch       = "switch"
	TypePaletteQuery = "palette_query"
	TypePromptReply  = "prompt_reply"
)

// Prompt kinds.
const (
	PromptOpen    = "open"
	PromptSave    = "save"
	PromptConfirm = "confirm"
)

// Envelope is the frame every message travels in.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope encodes data as a message of type typ.
func NewEnvelope(typ string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: raw, Timestamp: time.Now()}, nil
}

// Decode unmarshals the message data into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// StatePayload is the session state plus the text of the current buffer.
type StatePayload struct {
	session.State
	Text string `json:"text"`
}

// SetTextPayload replaces the widget content.
type SetTextPayload struct {
	Buffer   buffer.ID `json:"buffer"`
	Language string    `json:"language"`
	Text     string    `json:"text"`
}

// ActionPayload asks the widget to run an action.
type ActionPayload struct {
	Action string `json:"action"`
}

// PromptPayload asks the user for a file or a yes/no answer.
type PromptPayload struct {
	ID            string             `json:"id"`
	Kind          string             `json:"kind"`
	Message       string             `json:"message,omitempty"`
	SuggestedName string             `json:"suggested_name,omitempty"`
	Filter        *buffer.FileFilter `json:"filter,omitempty"`
	Files         []string           `json:"files,omitempty"`
}

// EditPayload carries the widget content after a change.
type EditPayload struct {
	Buffer buffer.ID `json:"buffer"`
	Text   string    `json:"text"`
}

// CommandPayload names a command to execute.
type CommandPayload struct {
	Name string `json:"name"`
}

// KeyPayload carries a pressed chord such as "Ctrl+S".
type KeyPayload struct {
	Chord string `json:"chord"`
}

// SwitchPayload selects the current buffer.
type SwitchPayload struct {
	Buffer buffer.ID `json:"buffer"`
}

// PaletteQueryPayload updates the palette filter.
type PaletteQueryPayload struct {
	Query string `json:"query"`
}

// PromptReplyPayload answers a prompt. Canceled means the user dismissed it.
type PromptReplyPayload struct {
	ID        string `json:"id"`
	Path      string `json:"path,omitempty"`
	Confirmed bool   `json:"confirmed,omitempty"`
	Canceled  bool   `json:"canceled,omitempty"`
}
