// Package persistence binds buffers to file references and performs the
// load and save operations through them.
package persistence

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/conneroisu/codepad/internal/buffer"
	"github.com/conneroisu/codepad/internal/errors"
	"github.com/conneroisu/codepad/internal/fileref"
	"github.com/conneroisu/codepad/internal/logging"
)

// Outcome tells a completed operation apart from one the user abandoned.
type Outcome int

const (
	Completed Outcome = iota
	Canceled
)

// String returns the string representation of the Outcome
func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result reports how a save or open ended.
type Result struct {
	Outcome Outcome
	Buffer  buffer.ID
	// Path is the workspace-relative path of the file involved.
	Path string
}

// SaveOptions scopes a save picker.
type SaveOptions struct {
	SuggestedName string
	Filter        buffer.FileFilter
}

// Picker is the platform file picker. A nil reference with a nil error
// means the user dismissed the picker.
type Picker interface {
	PickOpen(ctx context.Context) (fileref.Reference, error)
	PickSave(ctx context.Context, opts SaveOptions) (fileref.Reference, error)
}

// Loaded is the data produced by a successful open. The caller applies it
// to the session.
type Loaded struct {
	Buffer buffer.ID
	Text   string
	Ref    fileref.Reference
}

// Binding maps each buffer to an optional file reference.
type Binding struct {
	store  *buffer.Store
	picker Picker
	logger logging.Logger

	mu      sync.Mutex
	refs    [3]fileref.Reference
	written [3]*string
}

// Attachments is a copy of every buffer's reference, used to roll back a
// failed apply.
type Attachments struct {
	refs    [3]fileref.Reference
	written [3]*string
}

// New creates a binding over store that asks picker for file locations.
func New(store *buffer.Store, picker Picker, logger logging.Logger) *Binding {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Binding{
		store:  store,
		picker: picker,
		logger: logger.WithComponent("persistence"),
	}
}

// Ref returns the reference attached to id, if any.
func (b *Binding) Ref(id buffer.ID) (fileref.Reference, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref := b.refs[id]
	return ref, ref != nil
}

// Attach binds ref to id, replacing any previous reference. A file is held
// by at most one buffer: any other buffer attached to the same path is
// detached.
func (b *Binding) Attach(id buffer.ID, ref fileref.Reference) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old := b.refs[id]; old == nil || ref == nil || old.Path() != ref.Path() {
		b.written[id] = nil
	}
	b.refs[id] = ref
	if ref == nil {
		return
	}
	for i, other := range b.refs {
		if buffer.ID(i) != id && other != nil && other.Path() == ref.Path() {
			b.refs[i] = nil
			b.written[i] = nil
		}
	}
}

// Attachments returns a copy of the current references.
func (b *Binding) Attachments() Attachments {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Attachments{refs: b.refs, written: b.written}
}

// Restore puts back references taken with Attachments.
func (b *Binding) Restore(a Attachments) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs = a.refs
	b.written = a.written
}

// LastWritten returns the text most recently written to the file attached
// to id by this binding.
func (b *Binding) LastWritten(id buffer.ID) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w := b.written[id]; w != nil {
		return *w, true
	}
	return "", false
}

// Detach clears the reference of id.
func (b *Binding) Detach(id buffer.ID) {
	b.Attach(id, nil)
}

// DetachAll clears every reference.
func (b *Binding) DetachAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs = [3]fileref.Reference{}
	b.written = [3]*string{}
}

// BufferFor returns the buffer whose reference points at path.
func (b *Binding) BufferFor(path string) (buffer.ID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ref := range b.refs {
		if ref != nil && ref.Path() == path {
			return buffer.ID(i), true
		}
	}
	return buffer.Markup, false
}

// Paths returns the workspace-relative paths of all attached files, keyed
// by buffer.
func (b *Binding) Paths() map[buffer.ID]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[buffer.ID]string, len(b.refs))
	for i, ref := range b.refs {
		if ref != nil {
			out[buffer.ID(i)] = ref.Path()
		}
	}
	return out
}

// Save writes buffer id to its file, asking for a location first when no
// file is attached. On failure the buffer and its reference are unchanged.
func (b *Binding) Save(ctx context.Context, id buffer.ID) (Result, error) {
	ref, _ := b.Ref(id)
	return b.save(ctx, id, ref)
}

// SaveAs always asks for a new location before writing buffer id.
func (b *Binding) SaveAs(ctx context.Context, id buffer.ID) (Result, error) {
	return b.save(ctx, id, nil)
}

func (b *Binding) save(ctx context.Context, id buffer.ID, ref fileref.Reference) (Result, error) {
	fresh := false
	if ref == nil {
		kind := buffer.KindOf(id)
		picked, err := b.picker.PickSave(ctx, SaveOptions{
			SuggestedName: kind.SuggestedName,
			Filter:        kind.Filter,
		})
		if err != nil {
			return Result{Buffer: id}, pickerError(err)
		}
		if picked == nil {
			b.logger.Debug(ctx, "Save picker dismissed", "buffer", id)
			return Result{Outcome: Canceled, Buffer: id}, nil
		}
		ref, fresh = picked, true
	}

	text := b.store.Get(id)
	if err := ref.Write(ctx, text); err != nil {
		return Result{Buffer: id, Path: ref.Path()}, err
	}

	if fresh {
		b.Attach(id, ref)
	}
	b.mu.Lock()
	if cur := b.refs[id]; cur != nil && cur.Path() == ref.Path() {
		b.written[id] = &text
	}
	b.mu.Unlock()
	if b.store.Get(id) == text {
		b.store.MarkClean(id)
	}

	b.logger.Info(ctx, "Saved buffer", "buffer", id, "path", ref.Path(), "bytes", len(text))
	return Result{Outcome: Completed, Buffer: id, Path: ref.Path()}, nil
}

// Open asks the user for one file and reads it. The target buffer is
// inferred from the file name only after the data has been read. Open does
// not touch the store; the caller applies the returned data.
func (b *Binding) Open(ctx context.Context) (Loaded, Result, error) {
	ref, err := b.picker.PickOpen(ctx)
	if err != nil {
		return Loaded{}, Result{}, pickerError(err)
	}
	if ref == nil {
		b.logger.Debug(ctx, "Open picker dismissed")
		return Loaded{}, Result{Outcome: Canceled}, nil
	}

	text, err := ref.Read(ctx)
	if err != nil {
		return Loaded{}, Result{Path: ref.Path()}, err
	}

	id, ok := buffer.KindForName(ref.Name())
	if !ok {
		return Loaded{}, Result{Path: ref.Path()}, errors.ErrUnsupportedFileKind(ref.Path())
	}

	return Loaded{Buffer: id, Text: text, Ref: ref},
		Result{Outcome: Completed, Buffer: id, Path: ref.Path()},
		nil
}

// pickerError classifies a picker failure. Context cancellation passes
// through unchanged so callers can treat it like a dismissal.
func pickerError(err error) error {
	if errors.IsIOError(err) || errors.IsValidationError(err) {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.NewIOError(errors.ErrCodePickerFailed, "file picker failed", err)
}
