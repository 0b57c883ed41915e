package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/conneroisu/codepad/internal/buffer"
	"github.com/conneroisu/codepad/internal/commands"
	"github.com/conneroisu/codepad/internal/errors"
	"github.com/conneroisu/codepad/internal/fileref"
	"github.com/conneroisu/codepad/internal/persistence"
	"github.com/conneroisu/codepad/internal/preview"
	"github.com/conneroisu/codepad/internal/session"
	"github.com/conneroisu/codepad/internal/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *buffer.Store
	ctrl     *session.Controller
	pipeline *preview.Pipeline
	server   *Server
	http     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ws := fileref.NewWorkspaceFs(afero.NewMemMapFs())
	hub := websocket.NewHub(nil, nil)
	bridge := websocket.NewBridge(hub, ws, nil)

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
	bridge.Wire(websocket.Wiring{Controller: ctrl, Dispatcher: dispatcher, Palette: palette, Latest: pipeline.Latest})

	srv := New(Options{
		Hub:        hub,
		Bridge:     bridge,
		Controller: ctrl,
		Dispatcher: dispatcher,
		Latest:     pipeline.Latest,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = hub.Shutdown(context.Background())
		ts.Close()
	})

	return &fixture{store: store, ctrl: ctrl, pipeline: pipeline, server: srv, http: ts}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (f *fixture) post(t *testing.T, path, origin string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.http.URL+path, nil)
	require.NoError(t, err)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestPage(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "frame-ancestors 'none'")
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	assert.Contains(t, body, monacoBase+"/min/vs/loader.js")
	assert.Contains(t, body, `data-buffer="markup">HTML`)
	assert.Contains(t, body, `data-buffer="style">CSS`)
	assert.Contains(t, body, `data-buffer="script">JavaScript`)
	assert.Contains(t, body, `sandbox="allow-scripts"`)
	assert.Contains(t, body, `"Ctrl+Shift+P"`)
}

func TestPageEscapesData(t *testing.T) {
	var b strings.Builder
	err := Page(PageData{
		Title:     "<b>pad</b>",
		Version:   "v1",
		Shortcuts: []string{"</script>"},
	}).Render(context.Background(), &b)
	require.NoError(t, err)

	assert.Contains(t, b.String(), "<title>&lt;b&gt;pad&lt;/b&gt;</title>")
	assert.NotContains(t, b.String(), `"</script>"`)
}

func TestUnknownPathIsNotFound(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/preview")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, previewPolicy, resp.Header.Get("Content-Security-Policy"))
	assert.Equal(t, "SAMEORIGIN", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, preview.Compose("", "", ""), body)
	assert.Empty(t, resp.Header.Get("X-Preview-Revision"))

	require.NoError(t, f.ctrl.OnEditIn(buffer.Markup, "<h1>Hello</h1>"))
	require.NoError(t, f.ctrl.OnEditIn(buffer.Script, "go()"))
	f.pipeline.Flush(context.Background())
	doc, ok := f.pipeline.Latest()
	require.True(t, ok)

	resp, body = f.get(t, "/preview")
	assert.Equal(t, preview.Compose("<h1>Hello</h1>", "", "go()"), body)
	assert.Equal(t, previewPolicy, resp.Header.Get("Content-Security-Policy"))
	assert.NotEmpty(t, resp.Header.Get("X-Preview-Revision"))
	assert.Equal(t, doc.HTML, body)
}

func TestCommandsEndpoint(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		query    string
		expected []string
	}{
		{"save", []string{commands.CmdSave, commands.CmdSaveAs}},
		{"JAVASCRIPT", []string{commands.CmdSwitchJS}},
		{"nothing", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, body := f.get(t, "/api/commands?q="+tt.query)
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			var list commandList
			require.NoError(t, json.Unmarshal([]byte(body), &list))
			assert.Equal(t, tt.query, list.Query)
			assert.Equal(t, tt.expected, list.Commands)
		})
	}

	_, body := f.get(t, "/api/commands")
	var all commandList
	require.NoError(t, json.Unmarshal([]byte(body), &all))
	assert.Len(t, all.Commands, 11)
}

func TestExecuteEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/api/commands/Switch%20to%20CSS", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, buffer.Style, f.ctrl.Current())

	resp, body := f.post(t, "/api/commands/Launch%20Rockets", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var e errorResponse
	require.NoError(t, json.Unmarshal([]byte(body), &e))
	assert.Equal(t, errors.ErrCodeUnknownCommand, e.Code)
	assert.Contains(t, e.Message, "Launch Rockets")
}

func TestExecuteChecksOrigin(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/api/commands/Switch%20to%20CSS", "https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, buffer.Markup, f.ctrl.Current())

	resp, _ = f.post(t, "/api/commands/Switch%20to%20CSS", f.http.URL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, buffer.Style, f.ctrl.Current())
}

func TestExecuteWithoutTabsCancelsPrompts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.OnEditIn(buffer.Markup, "<p>unsaved</p>"))

	resp, _ := f.post(t, "/api/commands/Save%20File", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.store.Dirty(buffer.Markup))
	assert.Empty(t, f.ctrl.State().Files)
}

func TestStateEndpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.OnEditIn(buffer.Style, "a{}"))

	resp, body := f.get(t, "/api/state")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var state websocket.StatePayload
	require.NoError(t, json.Unmarshal([]byte(body), &state))
	assert.Equal(t, buffer.Markup, state.Current)
	assert.Equal(t, "html", state.Language)
	assert.True(t, state.Dirty[buffer.Style])
	assert.False(t, state.Dirty[buffer.Markup])
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.EqualValues(t, 0, health["clients"])
}

func TestServeStopsWithContext(t *testing.T) {
	srv := New(Options{Hub: websocket.NewHub(nil, nil)})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestAddr(t *testing.T) {
	assert.Equal(t, "localhost:8080", New(Options{Host: "localhost", Port: 8080}).Addr())
	assert.Equal(t, "[::1]:9000", New(Options{Host: "::1", Port: 9000}).Addr())
}
