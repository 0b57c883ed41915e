// Package session owns the playground editing session: which buffer is
// current, how the editing widget and the buffer store stay in step, and the
// user-facing operations built on the persistence binding.
//
// All session state is guarded by one mutex and every reaction runs to
// completion under it. Calls that may block on the user or on I/O (pickers,
// confirmation, file reads and writes, remote widget updates) run with the
// mutex released. Operations that change which buffer is current are
// serialized against each other.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/conneroisu/codepad/internal/buffer"
	"github.com/conneroisu/codepad/internal/errors"
	"github.com/conneroisu/codepad/internal/logging"
	"github.com/conneroisu/codepad/internal/persistence"
)

// Editor is the editing widget.
type Editor interface {
	// Text returns the widget's current content.
	Text() string
	// SetText replaces the widget content with text and switches its
	// language to the kind of buffer id. It must not produce an edit
	// notification.
	SetText(ctx context.Context, id buffer.ID, text string) error
	// SelectAll selects the full content range.
	SelectAll(ctx context.Context) error
	// RunAction runs a named widget action such as ActionFormat.
	RunAction(ctx context.Context, action string) error
}

// Widget actions.
const (
	ActionSelectAll = "select_all"
	ActionFormat    = "format"
)

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// Notifier shows non-fatal notices to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Recomposer receives buffer snapshots for the preview.
type Recomposer interface {
	Submit(s buffer.Snapshot)
}

// Notice levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Notice is a visible, non-fatal message for the user.
type Notice struct {
	Level   string `json:"level"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Phase is the switch state machine.
type Phase int

const (
	Idle Phase = iota
	SwitchInProgress
)

func (p Phase) String() string {
	if p == SwitchInProgress {
		return "switching"
	}
	return "idle"
}

// State is a point-in-time view of the session.
type State struct {
	Current   buffer.ID            `json:"current"`
	Language  string               `json:"language"`
	Dirty     map[buffer.ID]bool   `json:"dirty"`
	Files     map[buffer.ID]string `json:"files"`
	Switching bool                 `json:"switching"`
}

// Options configures a Controller. Store and Binding are required.
type Options struct {
	Store     *buffer.Store
	Binding   *persistence.Binding
	Editor    Editor
	Confirmer Confirmer
	Notifier  Notifier
	Preview   Recomposer
	Logger    logging.Logger
}

// Controller is the single owner of the session.
type Controller struct {
	store     *buffer.Store
	binding   *persistence.Binding
	editor    Editor
	confirmer Confirmer
	notifier  Notifier
	preview   Recomposer
	logger    logging.Logger
	errs      *errors.ErrorHandler

	// op serializes operations that change the current buffer.
	op sync.Mutex

	mu         sync.Mutex
	current    buffer.ID
	phase      Phase
	switchFrom buffer.ID
	listeners  []func(State)

	// shown is the buffer last loaded into the widget and seen the widget
	// text last observed by the controller.
	shown buffer.ID
	seen  string
}

// New creates a controller with markup as the current buffer.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("session")

	c := &Controller{
		store:     opts.Store,
		binding:   opts.Binding,
		editor:    opts.Editor,
		confirmer: opts.Confirmer,
		notifier:  opts.Notifier,
		preview:   opts.Preview,
		logger:    logger,
		current:   buffer.Markup,
		shown:     buffer.Markup,
	}
	c.errs = errors.NewErrorHandler(logger, noticeAdapter{c})
	return c
}

// Subscribe registers fn to receive the session state after every change.
// Listeners are registered at startup.
func (c *Controller) Subscribe(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Current returns the current buffer.
func (c *Controller) Current() buffer.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Phase returns the switch state.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	dirty := make(map[buffer.ID]bool, 3)
	for _, id := range buffer.All() {
		dirty[id] = c.store.Dirty(id)
	}
	return State{
		Current:   c.current,
		Language:  buffer.KindOf(c.current).Language,
		Dirty:     dirty,
		Files:     c.binding.Paths(),
		Switching: c.phase == SwitchInProgress,
	}
}

// Start pushes the initial state and preview.
func (c *Controller) Start(ctx context.Context) {
	c.recompose()
	c.publish()
	c.logger.Debug(ctx, "Session started", "current", c.Current())
}

// OnEdit handles a content-changed notification from the widget. The text
// belongs to the current buffer, or to the buffer being switched away from
// while a switch is in progress. Edits arriving while the current buffer is
// itself being replaced are dropped.
func (c *Controller) OnEdit(text string) {
	c.mu.Lock()
	target := c.current
	if c.phase == SwitchInProgress {
		if c.switchFrom == c.current {
			c.mu.Unlock()
			c.logger.Debug(context.Background(), "Dropped edit to a buffer being replaced", "buffer", target)
			return
		}
		target = c.switchFrom
	}
	c.seen = text
	dirtyBefore := c.store.Dirty(target)
	c.store.Set(target, text)
	changed := dirtyBefore != c.store.Dirty(target)
	c.mu.Unlock()

	c.recompose()
	if changed {
		c.publish()
	}
}

// OnEditIn handles an edit made in a widget showing buffer id. The last
// write wins.
func (c *Controller) OnEditIn(id buffer.ID, text string) error {
	if !id.Valid() {
		return errors.NewValidationError(errors.ErrCodeUnknownBuffer, fmt.Sprintf("unknown buffer %d", int(id)))
	}
	c.mu.Lock()
	dirtyBefore := c.store.Dirty(id)
	c.store.Set(id, text)
	changed := dirtyBefore != c.store.Dirty(id)
	c.mu.Unlock()

	c.recompose()
	if changed {
		c.publish()
	}
	return nil
}

// SwitchTo flushes the widget into the current buffer, makes id current and
// loads its text into the widget.
func (c *Controller) SwitchTo(ctx context.Context, id buffer.ID) error {
	if !id.Valid() {
		return errors.NewValidationError(errors.ErrCodeUnknownBuffer, fmt.Sprintf("unknown buffer %d", int(id)))
	}

	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	prev := c.current
	c.flushLocked()
	if id == prev {
		c.mu.Unlock()
		return nil
	}
	c.current = id
	c.phase = SwitchInProgress
	c.switchFrom = prev
	text := c.store.Get(id)
	c.mu.Unlock()

	err := c.load(ctx, id, text)

	c.mu.Lock()
	if err != nil {
		c.current = prev
	} else {
		c.shownLocked(id, text)
	}
	c.phase = Idle
	c.mu.Unlock()

	if err != nil {
		c.report(ctx, err)
		return err
	}

	c.logger.Debug(ctx, "Switched buffer", "from", prev, "to", id)
	c.recompose()
	c.publish()
	return nil
}

// NewSession asks for confirmation and then discards every buffer and file
// binding. Declining leaves the session untouched, and so does a failure to
// clear the widget.
func (c *Controller) NewSession(ctx context.Context) error {
	c.mu.Lock()
	c.flushLocked()
	msg := c.confirmMessageLocked()
	c.mu.Unlock()

	ok := true
	if c.confirmer != nil {
		var err error
		ok, err = c.confirmer.Confirm(ctx, msg)
		if err != nil {
			if isCancel(err) {
				return nil
			}
			c.report(ctx, err)
			return err
		}
	}
	if !ok {
		c.logger.Debug(ctx, "New project declined")
		return nil
	}

	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	c.flushLocked()
	prev := c.current
	undo := c.snapshotLocked()
	c.store.Reset()
	c.binding.DetachAll()
	c.current = buffer.Markup
	c.phase = SwitchInProgress
	c.switchFrom = buffer.Markup
	c.mu.Unlock()

	err := c.load(ctx, buffer.Markup, "")

	c.mu.Lock()
	if err != nil {
		undo.restore(c)
		c.current = prev
	} else {
		c.shownLocked(buffer.Markup, "")
	}
	c.phase = Idle
	c.mu.Unlock()

	if err != nil {
		c.report(ctx, err)
		c.recompose()
		c.publish()
		return err
	}

	c.logger.Info(ctx, "Started new project")
	c.recompose()
	c.publish()
	return nil
}

func (c *Controller) confirmMessageLocked() string {
	var dirty []string
	for _, id := range buffer.All() {
		if c.store.Dirty(id) {
			dirty = append(dirty, buffer.KindOf(id).Label)
		}
	}
	if len(dirty) == 0 {
		return "Create a new blank project?"
	}
	return fmt.Sprintf("Create a new blank project? Unsaved changes in %s will be lost.", strings.Join(dirty, ", "))
}

// Save writes the current buffer to its file, asking for a location when
// none is attached yet.
func (c *Controller) Save(ctx context.Context) error {
	return c.save(ctx, false)
}

// SaveAs writes the current buffer to a newly chosen location.
func (c *Controller) SaveAs(ctx context.Context) error {
	return c.save(ctx, true)
}

// save does not take op: pickers may stay open while the user switches
// buffers. During a switch the flush is skipped and the switch target is
// saved with its own text.
func (c *Controller) save(ctx context.Context, as bool) error {
	c.mu.Lock()
	c.flushLocked()
	id := c.current
	c.mu.Unlock()

	var (
		res persistence.Result
		err error
	)
	if as {
		res, err = c.binding.SaveAs(ctx, id)
	} else {
		res, err = c.binding.Save(ctx, id)
	}
	if err != nil {
		if isCancel(err) {
			return nil
		}
		c.report(ctx, err)
		return err
	}
	if res.Outcome == persistence.Canceled {
		return nil
	}

	c.notify(ctx, Notice{Level: LevelInfo, Message: "Saved " + res.Path})
	c.publish()
	return nil
}

// Open asks for a file and loads it into the buffer matching its kind,
// which becomes current. The target buffer is decided only once the file
// has been read. If the widget cannot show the file, the session is rolled
// back to where it was before the open.
func (c *Controller) Open(ctx context.Context) error {
	loaded, res, err := c.binding.Open(ctx)
	if err != nil {
		if isCancel(err) {
			return nil
		}
		c.report(ctx, err)
		return err
	}
	if res.Outcome == persistence.Canceled {
		return nil
	}

	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	c.flushLocked()
	prev := c.current
	undo := c.snapshotLocked()
	c.current = loaded.Buffer
	c.store.Restore(loaded.Buffer, loaded.Text, loaded.Text)
	c.binding.Attach(loaded.Buffer, loaded.Ref)
	c.phase = SwitchInProgress
	c.switchFrom = prev
	c.mu.Unlock()

	err = c.load(ctx, loaded.Buffer, loaded.Text)

	c.mu.Lock()
	if err != nil {
		undo.restore(c)
		c.current = prev
	} else {
		c.shownLocked(loaded.Buffer, loaded.Text)
	}
	c.phase = Idle
	c.mu.Unlock()

	c.recompose()
	c.publish()
	if err != nil {
		c.report(ctx, err)
		return err
	}

	c.logger.Info(ctx, "Opened file", "path", res.Path, "buffer", loaded.Buffer)
	return nil
}

// Reload re-reads an attached file that changed outside the playground.
// A buffer with unsaved edits is left alone and the user is warned instead,
// unless the file still holds what this session last wrote or loaded.
func (c *Controller) Reload(ctx context.Context, path string) error {
	id, ok := c.binding.BufferFor(path)
	if !ok {
		return nil
	}
	ref, ok := c.binding.Ref(id)
	if !ok {
		return nil
	}

	text, err := ref.Read(ctx)
	if err != nil {
		if isCancel(err) {
			return nil
		}
		c.report(ctx, err)
		return err
	}

	c.op.Lock()
	defer c.op.Unlock()

	if cur, ok := c.binding.BufferFor(path); !ok || cur != id {
		return nil
	}

	c.mu.Lock()
	c.flushLocked()
	if c.store.Get(id) == text {
		c.store.MarkClean(id)
		c.mu.Unlock()
		return nil
	}
	if c.store.Dirty(id) {
		written, wrote := c.binding.LastWritten(id)
		ours := text == c.store.Baseline(id) || (wrote && text == written)
		c.mu.Unlock()
		if ours {
			c.logger.Debug(ctx, "Ignored change event for own write", "path", path, "buffer", id)
			return nil
		}
		c.notify(ctx, Notice{
			Level:   LevelWarn,
			Code:    errors.ErrCodeExternalChange,
			Message: fmt.Sprintf("%s changed on disk; save to overwrite it or discard your edits to reload", path),
		})
		return nil
	}
	c.store.Restore(id, text, text)
	isCurrent := id == c.current
	if isCurrent {
		c.phase = SwitchInProgress
		c.switchFrom = id
	}
	c.mu.Unlock()

	if isCurrent {
		err := c.load(ctx, id, text)
		c.mu.Lock()
		if err == nil {
			c.shownLocked(id, text)
		}
		c.phase = Idle
		c.mu.Unlock()
		if err != nil {
			c.report(ctx, err)
		}
	}

	c.logger.Info(ctx, "Reloaded file changed on disk", "path", path, "buffer", id)
	c.notify(ctx, Notice{Level: LevelInfo, Message: "Reloaded " + path})
	c.recompose()
	c.publish()
	return nil
}

// SelectAll selects the whole content of the widget.
func (c *Controller) SelectAll(ctx context.Context) error {
	if c.editor == nil {
		return nil
	}
	return c.editor.SelectAll(ctx)
}

// Format asks the widget to format the current document.
func (c *Controller) Format(ctx context.Context) error {
	if c.editor == nil {
		return nil
	}
	return c.editor.RunAction(ctx, ActionFormat)
}

// flushLocked copies widget content the controller has not yet observed
// into the current buffer. Nothing is copied while a switch is in progress,
// or when the widget is not showing the current buffer. The buffer being
// left was flushed when the switch began and later edits reach it through
// OnEdit.
func (c *Controller) flushLocked() {
	if c.editor == nil || c.phase == SwitchInProgress {
		return
	}
	text := c.editor.Text()
	if text == c.seen {
		return
	}
	c.seen = text
	if c.shown != c.current {
		return
	}
	if c.store.Get(c.current) != text {
		c.store.Set(c.current, text)
	}
}

// shownLocked records that the widget now shows text as buffer id.
func (c *Controller) shownLocked(id buffer.ID, text string) {
	c.shown = id
	c.seen = text
}

// rollback holds what an apply replaced, so a failed widget load can put
// the session back.
type rollback struct {
	text        [3]string
	baseline    [3]string
	attachments persistence.Attachments
}

func (c *Controller) snapshotLocked() rollback {
	var u rollback
	for _, id := range buffer.All() {
		u.text[id] = c.store.Get(id)
		u.baseline[id] = c.store.Baseline(id)
	}
	u.attachments = c.binding.Attachments()
	return u
}

func (u rollback) restore(c *Controller) {
	for _, id := range buffer.All() {
		if c.store.Get(id) != u.text[id] || c.store.Baseline(id) != u.baseline[id] {
			c.store.Restore(id, u.text[id], u.baseline[id])
		}
	}
	c.binding.Restore(u.attachments)
}

func (c *Controller) load(ctx context.Context, id buffer.ID, text string) error {
	if c.editor == nil {
		return nil
	}
	return c.editor.SetText(ctx, id, text)
}

func (c *Controller) recompose() {
	if c.preview != nil {
		c.preview.Submit(c.store.Snapshot())
	}
}

func (c *Controller) publish() {
	c.mu.Lock()
	state := c.stateLocked()
	listeners := append([]func(State){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

func (c *Controller) notify(ctx context.Context, n Notice) {
	if c.notifier != nil {
		c.notifier.Notify(ctx, n)
	}
}

func (c *Controller) report(ctx context.Context, err error) {
	c.errs.Handle(ctx, err)
}

// noticeAdapter turns reported errors into notices.
type noticeAdapter struct {
	c *Controller
}

func (a noticeAdapter) NotifyError(ctx context.Context, err *errors.CodepadError) {
	level := LevelError
	if err.Type == errors.ErrorTypeValidation {
		level = LevelWarn
	}
	a.c.notify(ctx, Notice{Level: level, Code: err.Code, Message: err.Message})
}

func isCancel(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
