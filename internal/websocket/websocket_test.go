package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/codepad/internal/buffer"
	"github.com/conneroisu/codepad/internal/commands"
	"github.com/conneroisu/codepad/internal/errors"
	"github.com/conneroisu/codepad/internal/fileref"
	"github.com/conneroisu/codepad/internal/persistence"
	"github.com/conneroisu/codepad/internal/preview"
	"github.com/conneroisu/codepad/internal/session"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAllowedOrigin(t *testing.T) {
	hub := NewHub([]string{"https://play.example.com/"}, nil)
	defer hub.Shutdown(context.Background())

	tests := []struct {
		origin  string
		host    string
		allowed bool
	}{
		{"http://localhost:8080", "localhost:8080", true},
		{"http://localhost:3000", "127.0.0.1:8080", true},
		{"http://127.0.0.1:9999", "0.0.0.0:8080", true},
		{"http://[::1]:8080", "example.org", true},
		{"http://devbox:8080", "devbox:8080", true},
		{"https://play.example.com", "devbox:8080", true},
		{"https://evil.example.com", "devbox:8080", false},
		{"null", "localhost:8080", false},
		{"://bad", "localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.allowed, hub.isAllowedOrigin(tt.origin, tt.host))
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeEdit, EditPayload{Buffer: buffer.Style, Text: "a{}"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"buffer":"style","text":"a{}"}`, string(env.Data))

	var p EditPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, buffer.Style, p.Buffer)

	require.NoError(t, Envelope{Type: TypeCommand}.Decode(&p), "missing data decodes to nothing")
}

func startServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		_ = hub.Shutdown(context.Background())
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", typ)
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == typ {
			return env
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, data interface{}) {
	t.Helper()
	env, err := NewEnvelope(typ, data)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, raw))
}

func TestHubBroadcastKeepsOrder(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := startServer(t, hub)
	conn := dial(t, srv)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	for i := 0; i < 50; i++ {
		hub.Broadcast(TypeNotice, session.Notice{Message: fmt.Sprint(i)})
	}
	for i := 0; i < 50; i++ {
		var n session.Notice
		require.NoError(t, readUntil(t, conn, TypeNotice).Decode(&n))
		assert.Equal(t, fmt.Sprint(i), n.Message)
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := startServer(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example.com"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := startServer(t, hub)
	conn := dial(t, srv)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHubShutdownRefusesNewClients(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := startServer(t, hub)
	require.NoError(t, hub.Shutdown(context.Background()))

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

type stack struct {
	fs       afero.Fs
	store    *buffer.Store
	hub      *Hub
	bridge   *Bridge
	ctrl     *session.Controller
	pipeline *preview.Pipeline
	srv      *httptest.Server
}

// newStack wires the whole session core to a hub the way the server does.
func newStack(t *testing.T) *stack {
	t.Helper()
	fs := afero.NewMemMapFs()
	ws := fileref.NewWorkspaceFs(fs)

	hub := NewHub(nil, nil)
	bridge := NewBridge(hub, ws, nil)

	store := buffer.NewStore()
	binding := persistence.New(store, bridge, nil)
	pipeline := preview.NewPipeline(nil, bridge, 0, nil)
	ctrl := session.New(session.Options{
		Store:     store,
		Binding:   binding,
		Editor:    bridge,
		Confirmer: bridge,
		Notifier:  bridge,
		Preview:   pipeline,
	})
	palette := commands.NewPalette()
	dispatcher, err := commands.NewBuiltin(ctrl, palette, nil)
	require.NoError(t, err)

	bridge.Wire(Wiring{
		Controller: ctrl,
		Dispatcher: dispatcher,
		Palette:    palette,
		Latest:     pipeline.Latest,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ctrl.Start(ctx)
	pipeline.Flush(ctx)
	go func() { _ = pipeline.Run(ctx) }()

	return &stack{
		fs:       fs,
		store:    store,
		hub:      hub,
		bridge:   bridge,
		ctrl:     ctrl,
		pipeline: pipeline,
		srv:      startServer(t, hub),
	}
}

func (s *stack) pendingPrompts() int {
	s.bridge.promptsMu.Lock()
	defer s.bridge.promptsMu.Unlock()
	return len(s.bridge.prompts)
}

func TestBridgeGreetsNewClient(t *testing.T) {
	s := newStack(t)
	conn := dial(t, s.srv)

	var state StatePayload
	require.NoError(t, readUntil(t, conn, TypeState).Decode(&state))
	assert.Equal(t, buffer.Markup, state.Current)
	assert.Equal(t, "html", state.Language)

	var text SetTextPayload
	require.NoError(t, readUntil(t, conn, TypeSetText).Decode(&text))
	assert.Equal(t, buffer.Markup, text.Buffer)

	var doc preview.Document
	require.NoError(t, readUntil(t, conn, TypePreview).Decode(&doc))
	assert.Equal(t, preview.Compose("", "", ""), doc.HTML)

	var palette commands.PaletteState
	require.NoError(t, readUntil(t, conn, TypePalette).Decode(&palette))
	assert.False(t, palette.Visible)
	assert.Len(t, palette.Results, 11)
}

func TestBridgeEditUpdatesPreview(t *testing.T) {
	s := newStack(t)
	conn := dial(t, s.srv)
	readUntil(t, conn, TypePalette)

	send(t, conn, TypeEdit, EditPayload{Buffer: buffer.Markup, Text: "<h1>hi</h1>"})

	for {
		var doc preview.Document
		require.NoError(t, readUntil(t, conn, TypePreview).Decode(&doc))
		if strings.Contains(doc.HTML, "<h1>hi</h1>") {
			assert.Equal(t, preview.Compose("<h1>hi</h1>", "", ""), doc.HTML)
			break
		}
	}
	assert.Equal(t, "<h1>hi</h1>", s.store.Get(buffer.Markup))
	assert.Equal(t, "<h1>hi</h1>", s.bridge.Text())
}

func TestBridgeEditIsRelayedToOtherTabs(t *testing.T) {
	s := newStack(t)
	first := dial(t, s.srv)
	readUntil(t, first, TypePalette)
	second := dial(t, s.srv)
	readUntil(t, second, TypePalette)

	send(t, first, TypeEdit, EditPayload{Buffer: buffer.Script, Text: "go()"})

	var p SetTextPayload
	require.NoError(t, readUntil(t, second, TypeSetText).Decode(&p))
	assert.Equal(t, buffer.Script, p.Buffer)
	assert.Equal(t, "javascript", p.Language)
	assert.Equal(t, "go()", p.Text)
}

func TestBridgeSaveThroughPrompt(t *testing.T) {
	s := newStack(t)
	conn := dial(t, s.srv)
	readUntil(t, conn, TypePalette)

	send(t, conn, TypeEdit, EditPayload{Buffer: buffer.Markup, Text: "<p>saved</p>"})
	require.Eventually(t, func() bool { return s.store.Get(buffer.Markup) == "<p>saved</p>" },
		5*time.Second, 10*time.Millisecond)

	send(t, conn, TypeKey, KeyPayload{Chord: "Ctrl+S"})

	var prompt PromptPayload
	require.NoError(t, readUntil(t, conn, TypePrompt).Decode(&prompt))
	assert.Equal(t, PromptSave, prompt.Kind)
	assert.Equal(t, "index.html", prompt.SuggestedName)
	require.NotNil(t, prompt.Filter)
	assert.Equal(t, "text/html", prompt.Filter.MIMEType)
	assert.NotEmpty(t, prompt.ID)

	send(t, conn, TypePromptReply, PromptReplyPayload{ID: prompt.ID, Path: "site/index.html"})

	var notice session.Notice
	require.NoError(t, readUntil(t, conn, TypeNotice).Decode(&notice))
	assert.Equal(t, session.LevelInfo, notice.Level)
	assert.Equal(t, "Saved site/index.html", notice.Message)

	data, err := afero.ReadFile(s.fs, "site/index.html")
	require.NoError(t, err)
	assert.Equal(t, "<p>saved</p>", string(data))
	assert.False(t, s.store.Dirty(buffer.Markup))
}

func TestBridgeOpenThroughPrompt(t *testing.T) {
	s := newStack(t)
	require.NoError(t, afero.WriteFile(s.fs, "style.css", []byte("body{margin:0}"), 0o644))
	conn := dial(t, s.srv)
	readUntil(t, conn, TypePalette)

	send(t, conn, TypeCommand, CommandPayload{Name: commands.CmdOpen})

	var prompt PromptPayload
	require.NoError(t, readUntil(t, conn, TypePrompt).Decode(&prompt))
	assert.Equal(t, PromptOpen, prompt.Kind)
	assert.Equal(t, []string{"style.css"}, prompt.Files)

	send(t, conn, TypePromptReply, PromptReplyPayload{ID: prompt.ID, Path: "style.css"})

	for {
		var text SetTextPayload
		require.NoError(t, readUntil(t, conn, TypeSetText).Decode(&text))
		if text.Buffer == buffer.Style {
			assert.Equal(t, "body{margin:0}", text.Text)
			assert.Equal(t, "css", text.Language)
			break
		}
	}
	assert.Equal(t, buffer.Style, s.ctrl.Current())
	assert.Equal(t, "body{margin:0}", s.store.Get(buffer.Style))
}

func TestBridgeNewProjectConfirmation(t *testing.T) {
	s := newStack(t)
	conn := dial(t, s.srv)
	readUntil(t, conn, TypePalette)

	send(t, conn, TypeEdit, EditPayload{Buffer: buffer.Markup, Text: "<p>x</p>"})
	require.Eventually(t, func() bool { return s.store.Get(buffer.Markup) == "<p>x</p>" },
		5*time.Second, 10*time.Millisecond)

	send(t, conn, TypeKey, KeyPayload{Chord: "ctrl+n"})
	var prompt PromptPayload
	require.NoError(t, readUntil(t, conn, TypePrompt).Decode(&prompt))
	assert.Equal(t, PromptConfirm, prompt.Kind)
	assert.Contains(t, prompt.Message, "HTML")

	send(t, conn, TypePromptReply, PromptReplyPayload{ID: prompt.ID, Canceled: true})
	require.Eventually(t, func() bool { return s.pendingPrompts() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "<p>x</p>", s.store.Get(buffer.Markup))

	send(t, conn, TypeKey, KeyPayload{Chord: "ctrl+n"})
	require.NoError(t, readUntil(t, conn, TypePrompt).Decode(&prompt))
	send(t, conn, TypePromptReply, PromptReplyPayload{ID: prompt.ID, Confirmed: true})

	require.Eventually(t, func() bool { return s.store.Get(buffer.Markup) == "" }, 5*time.Second, 10*time.Millisecond)
}

func TestBridgeDisconnectCancelsPrompt(t *testing.T) {
	s := newStack(t)
	conn := dial(t, s.srv)
	readUntil(t, conn, TypePalette)

	send(t, conn, TypeCommand, CommandPayload{Name: commands.CmdSaveAs})
	readUntil(t, conn, TypePrompt)
	require.Equal(t, 1, s.pendingPrompts())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return s.pendingPrompts() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, s.ctrl.State().Files)
}

func TestBridgePromptWithoutClientsIsCanceled(t *testing.T) {
	s := newStack(t)

	require.NoError(t, s.ctrl.Save(context.Background()))
	assert.Empty(t, s.ctrl.State().Files)
	assert.Equal(t, 0, s.pendingPrompts())
}

func TestBridgeSwitchAndPalette(t *testing.T) {
	s := newStack(t)
	conn := dial(t, s.srv)
	readUntil(t, conn, TypePalette)

	send(t, conn, TypeSwitch, SwitchPayload{Buffer: buffer.Script})
	var text SetTextPayload
	require.NoError(t, readUntil(t, conn, TypeSetText).Decode(&text))
	assert.Equal(t, buffer.Script, text.Buffer)
	assert.Equal(t, "javascript", text.Language)

	var state StatePayload
	require.NoError(t, readUntil(t, conn, TypeState).Decode(&state))
	assert.Equal(t, buffer.Script, state.Current)

	send(t, conn, TypeKey, KeyPayload{Chord: "Ctrl+Shift+P"})
	var palette commands.PaletteState
	require.NoError(t, readUntil(t, conn, TypePalette).Decode(&palette))
	assert.True(t, palette.Visible)

	send(t, conn, TypePaletteQuery, PaletteQueryPayload{Query: "save"})
	require.NoError(t, readUntil(t, conn, TypePalette).Decode(&palette))
	assert.Equal(t, []string{commands.CmdSave, commands.CmdSaveAs}, palette.Results)
}

func TestBridgeReportsUnknownCommand(t *testing.T) {
	s := newStack(t)
	conn := dial(t, s.srv)
	readUntil(t, conn, TypePalette)

	send(t, conn, TypeCommand, CommandPayload{Name: "Launch Rockets"})

	var notice session.Notice
	require.NoError(t, readUntil(t, conn, TypeNotice).Decode(&notice))
	assert.Equal(t, session.LevelWarn, notice.Level)
	assert.Equal(t, errors.ErrCodeUnknownCommand, notice.Code)
}

func TestBridgeIgnoresGarbage(t *testing.T) {
	s := newStack(t)
	conn := dial(t, s.srv)
	readUntil(t, conn, TypePalette)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"edit","data":{"buffer":"nope"}}`)))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"mystery"}`)))

	send(t, conn, TypeEdit, EditPayload{Buffer: buffer.Style, Text: "still alive"})
	require.Eventually(t, func() bool { return s.store.Get(buffer.Style) == "still alive" },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, s.hub.ClientCount())
}
