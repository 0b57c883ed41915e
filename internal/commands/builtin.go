package commands

import (
	"context"

	"github.com/conneroisu/codepad/internal/buffer"
)

// Built-in command names.
const (
	CmdNewProject    = "New Project"
	CmdOpen          = "Open File"
	CmdSave          = "Save File"
	CmdSaveAs        = "Save File As"
	CmdSelectAll     = "Select All"
	CmdFormat        = "Format Document"
	CmdSwitchHTML    = "Switch to HTML"
	CmdSwitchCSS     = "Switch to CSS"
	CmdSwitchJS      = "Switch to JavaScript"
	CmdTogglePalette = "Toggle Command Palette"
	CmdClosePalette  = "Close Command Palette"
)

// BuiltinNames lists the built-in commands in palette order.
var BuiltinNames = []string{
	CmdNewProject,
	CmdOpen,
	CmdSave,
	CmdSaveAs,
	CmdSelectAll,
	CmdFormat,
	CmdSwitchHTML,
	CmdSwitchCSS,
	CmdSwitchJS,
	CmdTogglePalette,
	CmdClosePalette,
}

// IsBuiltin reports whether name is exactly a built-in command name.
func IsBuiltin(name string) bool {
	for _, n := range BuiltinNames {
		if n == name {
			return true
		}
	}
	return false
}

// Session is the part of the session controller the commands drive.
type Session interface {
	NewSession(ctx context.Context) error
	Open(ctx context.Context) error
	Save(ctx context.Context) error
	SaveAs(ctx context.Context) error
	SelectAll(ctx context.Context) error
	Format(ctx context.Context) error
	SwitchTo(ctx context.Context, id buffer.ID) error
}

// Builtin returns the playground's command registry entries in palette
// order.
func Builtin(s Session, p *Palette) []Entry {
	switchTo := func(id buffer.ID) Action {
		return func(ctx context.Context) error { return s.SwitchTo(ctx, id) }
	}
	return []Entry{
		{Name: CmdNewProject, Action: s.NewSession},
		{Name: CmdOpen, Action: s.Open},
		{Name: CmdSave, Action: s.Save},
		{Name: CmdSaveAs, Action: s.SaveAs},
		{Name: CmdSelectAll, Action: s.SelectAll},
		{Name: CmdFormat, Action: s.Format},
		{Name: CmdSwitchHTML, Action: switchTo(buffer.Markup)},
		{Name: CmdSwitchCSS, Action: switchTo(buffer.Style)},
		{Name: CmdSwitchJS, Action: switchTo(buffer.Script)},
		{Name: CmdTogglePalette, Action: func(context.Context) error {
			p.Toggle()
			return nil
		}},
		{Name: CmdClosePalette, Action: func(context.Context) error {
			p.Dismiss()
			return nil
		}},
	}
}

// NewBuiltin builds a dispatcher with the built-in commands, binds the
// palette to it and installs keymap (DefaultKeymap when nil).
func NewBuiltin(s Session, p *Palette, keymap *Keymap) (*Dispatcher, error) {
	d, err := New(Builtin(s, p)...)
	if err != nil {
		return nil, err
	}
	if keymap == nil {
		keymap = DefaultKeymap()
	}
	if err := d.SetKeymap(keymap); err != nil {
		return nil, err
	}
	p.Bind(d)
	return d, nil
}
