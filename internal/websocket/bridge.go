package websocket

import (
	"context"
	"fmt"
	"sync"

	"github.com/conneroisu/codepad/internal/buffer"
	"github.com/conneroisu/codepad/internal/commands"
	"github.com/conneroisu/codepad/internal/errors"
	"github.com/conneroisu/codepad/internal/fileref"
	"github.com/conneroisu/codepad/internal/logging"
	"github.com/conneroisu/codepad/internal/persistence"
	"github.com/conneroisu/codepad/internal/preview"
	"github.com/conneroisu/codepad/internal/session"
	"github.com/google/uuid"
)

// Bridge relays between the session core and the browser tabs connected to
// a Hub.
type Bridge struct {
	hub       *Hub
	workspace *fileref.Workspace
	logger    logging.Logger

	ctrl       *session.Controller
	dispatcher *commands.Dispatcher
	palette    *commands.Palette
	latest     func() (preview.Document, bool)

	// mirror of the widget: the buffer it shows and its text
	mu    sync.Mutex
	shown buffer.ID
	text  string

	promptsMu sync.Mutex
	prompts   map[string]*pendingPrompt
}

type pendingPrompt struct {
	client *Client
	reply  chan PromptReplyPayload
}

// Wiring holds the session side of the bridge, created after the bridge
// itself because the session uses the bridge as its collaborators.
type Wiring struct {
	Controller *session.Controller
	Dispatcher *commands.Dispatcher
	Palette    *commands.Palette
	Latest     func() (preview.Document, bool)
}

// NewBridge creates a bridge over hub that resolves picked paths in ws.
func NewBridge(hub *Hub, ws *fileref.Workspace, logger logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.Discard()
	}
	b := &Bridge{
		hub:       hub,
		workspace: ws,
		logger:    logger.WithComponent("bridge"),
		shown:     buffer.Markup,
		prompts:   make(map[string]*pendingPrompt),
	}
	hub.SetHandler(b)
	return b
}

// Wire connects the bridge to the session and subscribes to its changes.
func (b *Bridge) Wire(w Wiring) {
	b.ctrl = w.Controller
	b.dispatcher = w.Dispatcher
	b.palette = w.Palette
	b.latest = w.Latest

	if b.ctrl != nil {
		b.ctrl.Subscribe(func(s session.State) {
			b.hub.Broadcast(TypeState, b.statePayload(s))
		})
	}
	if b.palette != nil {
		b.palette.Subscribe(func(s commands.PaletteState) {
			b.hub.Broadcast(TypePalette, s)
		})
	}
}

func (b *Bridge) statePayload(s session.State) StatePayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return StatePayload{State: s, Text: b.text}
}

// Editor

// Text returns the last known content of the widget.
func (b *Bridge) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// SetText loads text into every connected widget.
func (b *Bridge) SetText(ctx context.Context, id buffer.ID, text string) error {
	b.mu.Lock()
	b.shown = id
	b.text = text
	b.mu.Unlock()

	b.hub.Broadcast(TypeSetText, SetTextPayload{
		Buffer:   id,
		Language: buffer.KindOf(id).Language,
		Text:     text,
	})
	return nil
}

// SelectAll selects the whole document in every widget.
func (b *Bridge) SelectAll(ctx context.Context) error {
	return b.RunAction(ctx, session.ActionSelectAll)
}

// RunAction runs a widget action in every widget.
func (b *Bridge) RunAction(ctx context.Context, action string) error {
	b.hub.Broadcast(TypeAction, ActionPayload{Action: action})
	return nil
}

// Renderer

// Render pushes a composed document to every preview frame.
func (b *Bridge) Render(ctx context.Context, doc preview.Document) error {
	b.hub.Broadcast(TypePreview, doc)
	return nil
}

// Notifier

// Notify shows a notice in every tab.
func (b *Bridge) Notify(ctx context.Context, n session.Notice) {
	b.hub.Broadcast(TypeNotice, n)
}

// Confirmer

// Confirm asks the user a yes/no question. A dismissed prompt counts as no.
func (b *Bridge) Confirm(ctx context.Context, message string) (bool, error) {
	reply, err := b.prompt(ctx, PromptPayload{Kind: PromptConfirm, Message: message})
	if err != nil {
		return false, err
	}
	return reply.Confirmed && !reply.Canceled, nil
}

// Picker

// PickOpen asks the user to choose a workspace file to open.
func (b *Bridge) PickOpen(ctx context.Context) (fileref.Reference, error) {
	files, err := b.workspace.List(nil)
	if err != nil {
		return nil, err
	}
	reply, err := b.prompt(ctx, PromptPayload{Kind: PromptOpen, Files: files})
	if err != nil {
		return nil, err
	}
	return b.resolve(reply)
}

// PickSave asks the user where to save a buffer.
func (b *Bridge) PickSave(ctx context.Context, opts persistence.SaveOptions) (fileref.Reference, error) {
	filter := opts.Filter
	files, err := b.workspace.List(func(name string) bool {
		_, ok := matchFilter(filter, name)
		return ok
	})
	if err != nil {
		return nil, err
	}
	reply, err := b.prompt(ctx, PromptPayload{
		Kind:          PromptSave,
		SuggestedName: opts.SuggestedName,
		Filter:        &filter,
		Files:         files,
	})
	if err != nil {
		return nil, err
	}
	return b.resolve(reply)
}

func matchFilter(f buffer.FileFilter, name string) (buffer.ID, bool) {
	id, ok := buffer.KindForName(name)
	if !ok {
		return id, false
	}
	return id, buffer.KindOf(id).Filter.MIMEType == f.MIMEType
}

func (b *Bridge) resolve(reply PromptReplyPayload) (fileref.Reference, error) {
	if reply.Canceled || reply.Path == "" {
		return nil, nil
	}
	return b.workspace.Ref(reply.Path)
}

// prompt sends a prompt and waits for its reply. The prompt goes to the
// client the operation came from, or to every client when it has none. A
// client disconnecting or ctx ending cancels the prompt.
func (b *Bridge) prompt(ctx context.Context, p PromptPayload) (PromptReplyPayload, error) {
	client := clientFrom(ctx)
	if client == nil && b.hub.ClientCount() == 0 {
		b.logger.Debug(ctx, "No client to prompt", "kind", p.Kind)
		return PromptReplyPayload{Canceled: true}, nil
	}

	p.ID = uuid.NewString()
	pending := &pendingPrompt{client: client, reply: make(chan PromptReplyPayload, 1)}

	b.promptsMu.Lock()
	b.prompts[p.ID] = pending
	b.promptsMu.Unlock()
	defer func() {
		b.promptsMu.Lock()
		delete(b.prompts, p.ID)
		b.promptsMu.Unlock()
	}()

	if client != nil {
		b.hub.Send(client, TypePrompt, p)
	} else {
		b.hub.Broadcast(TypePrompt, p)
	}
	b.logger.Debug(ctx, "Prompt sent", "prompt", p.ID, "kind", p.Kind)

	select {
	case reply := <-pending.reply:
		return reply, nil
	case <-ctx.Done():
		return PromptReplyPayload{}, fmt.Errorf("waiting for %s prompt: %w", p.Kind, ctx.Err())
	}
}

func (b *Bridge) answer(reply PromptReplyPayload) bool {
	b.promptsMu.Lock()
	pending, ok := b.prompts[reply.ID]
	if ok {
		delete(b.prompts, reply.ID)
	}
	b.promptsMu.Unlock()
	if !ok {
		return false
	}
	pending.reply <- reply
	return true
}

// Handler

// OnConnect brings a new tab up to date.
func (b *Bridge) OnConnect(ctx context.Context, c *Client) {
	if b.ctrl != nil {
		b.hub.Send(c, TypeState, b.statePayload(b.ctrl.State()))
	}

	b.mu.Lock()
	shown, text := b.shown, b.text
	b.mu.Unlock()
	b.hub.Send(c, TypeSetText, SetTextPayload{
		Buffer:   shown,
		Language: buffer.KindOf(shown).Language,
		Text:     text,
	})

	if b.latest != nil {
		if doc, ok := b.latest(); ok {
			b.hub.Send(c, TypePreview, doc)
		}
	}
	if b.palette != nil {
		b.hub.Send(c, TypePalette, b.palette.State())
	}
}

// OnDisconnect cancels the prompts that can no longer be answered.
func (b *Bridge) OnDisconnect(c *Client) {
	remaining := b.hub.ClientCount()

	b.promptsMu.Lock()
	var orphaned []*pendingPrompt
	for id, p := range b.prompts {
		if p.client == c || (p.client == nil && remaining == 0) {
			orphaned = append(orphaned, p)
			delete(b.prompts, id)
		}
	}
	b.promptsMu.Unlock()

	for _, p := range orphaned {
		p.reply <- PromptReplyPayload{Canceled: true}
	}
}

// HandleMessage routes one message from a tab. Anything that may wait on
// the user runs on its own goroutine so this client's replies keep flowing.
func (b *Bridge) HandleMessage(ctx context.Context, c *Client, msg Envelope) {
	ctx = withClient(ctx, c)

	switch msg.Type {
	case TypeEdit:
		var p EditPayload
		if !b.decode(ctx, msg, &p) {
			return
		}
		b.onEdit(ctx, c, p)

	case TypePromptReply:
		var p PromptReplyPayload
		if !b.decode(ctx, msg, &p) {
			return
		}
		if !b.answer(p) {
			b.logger.Debug(ctx, "Reply for unknown prompt", "prompt", p.ID)
		}

	case TypePaletteQuery:
		var p PaletteQueryPayload
		if !b.decode(ctx, msg, &p) || b.palette == nil {
			return
		}
		b.palette.SetQuery(p.Query)

	case TypeCommand:
		var p CommandPayload
		if !b.decode(ctx, msg, &p) || b.dispatcher == nil {
			return
		}
		go b.run(ctx, "command", func() error { return b.dispatcher.Execute(ctx, p.Name) })

	case TypeKey:
		var p KeyPayload
		if !b.decode(ctx, msg, &p) || b.dispatcher == nil {
			return
		}
		go b.run(ctx, "key", func() error {
			_, err := b.dispatcher.Press(ctx, p.Chord)
			return err
		})

	case TypeSwitch:
		var p SwitchPayload
		if !b.decode(ctx, msg, &p) || b.ctrl == nil {
			return
		}
		go b.run(ctx, "switch", func() error { return b.ctrl.SwitchTo(ctx, p.Buffer) })

	default:
		b.logger.Debug(ctx, "Ignoring unknown message type", "type", msg.Type)
	}
}

func (b *Bridge) onEdit(ctx context.Context, c *Client, p EditPayload) {
	if !p.Buffer.Valid() {
		b.logger.Debug(ctx, "Edit for unknown buffer", "buffer", int(p.Buffer))
		return
	}

	b.mu.Lock()
	if p.Buffer == b.shown {
		b.text = p.Text
	}
	b.mu.Unlock()

	if b.ctrl != nil {
		if err := b.ctrl.OnEditIn(p.Buffer, p.Text); err != nil {
			b.logger.Warn(ctx, err, "Edit rejected")
			return
		}
	}

	b.hub.BroadcastExcept(c, TypeSetText, SetTextPayload{
		Buffer:   p.Buffer,
		Language: buffer.KindOf(p.Buffer).Language,
		Text:     p.Text,
	})
}

func (b *Bridge) decode(ctx context.Context, msg Envelope, v interface{}) bool {
	if err := msg.Decode(v); err != nil {
		b.logger.Warn(ctx, err, "Malformed message payload", "type", msg.Type)
		return false
	}
	return true
}

// run executes an operation requested by a client. The session reports its
// own failures; requests it never saw, such as an unknown command name, are
// reported here.
func (b *Bridge) run(ctx context.Context, what string, fn func() error) {
	err := fn()
	if err == nil {
		return
	}
	switch errors.Code(err) {
	case errors.ErrCodeUnknownCommand, errors.ErrCodeInvalidChord, errors.ErrCodeUnknownBuffer:
		b.Notify(ctx, session.Notice{Level: session.LevelWarn, Code: errors.Code(err), Message: errors.Message(err)})
	default:
		b.logger.Debug(ctx, "Client request failed", "request", what, "error", err)
	}
}

type clientKey struct{}

func withClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

func clientFrom(ctx context.Context) *Client {
	c, _ := ctx.Value(clientKey{}).(*Client)
	return c
}
