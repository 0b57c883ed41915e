// Package commands holds the fixed registry of named playground commands.
//
// Every logical command has exactly one implementation. Keyboard shortcuts
// and the command palette both reach it by name through the Dispatcher.
package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/conneroisu/codepad/internal/errors"
	"github.com/conneroisu/codepad/internal/logging"
	"golang.org/x/text/cases"
)

// Action is the implementation of a command.
type Action func(ctx context.Context) error

// Entry is one named command.
type Entry struct {
	Name   string
	Action Action
}

// Dispatcher executes commands by name. Its registry is built once and
// never changes afterwards.
type Dispatcher struct {
	entries []Entry
	index   map[string]int
	keymap  *Keymap
	logger  logging.Logger
}

// New builds a dispatcher over entries, keeping their order.
func New(entries ...Entry) (*Dispatcher, error) {
	d := &Dispatcher{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
		logger:  logging.Discard(),
	}
	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return nil, errors.NewValidationError(errors.ErrCodeUnknownCommand, "command name cannot be empty")
		}
		if e.Action == nil {
			return nil, errors.NewValidationError(errors.ErrCodeUnknownCommand,
				fmt.Sprintf("command %q has no action", e.Name))
		}
		if _, dup := d.index[e.Name]; dup {
			return nil, errors.NewValidationError(errors.ErrCodeUnknownCommand,
				fmt.Sprintf("command %q registered twice", e.Name))
		}
		d.index[e.Name] = len(d.entries)
		d.entries = append(d.entries, e)
	}
	return d, nil
}

// WithLogger sets the logger used for command execution.
func (d *Dispatcher) WithLogger(logger logging.Logger) *Dispatcher {
	if logger != nil {
		d.logger = logger.WithComponent("commands")
	}
	return d
}

// Execute runs the command whose name is exactly name.
func (d *Dispatcher) Execute(ctx context.Context, name string) error {
	i, ok := d.index[name]
	if !ok {
		return errors.ErrUnknownCommand(name)
	}
	d.logger.Debug(ctx, "Executing command", "command", name)
	return d.entries[i].Action(ctx)
}

// Has reports whether a command named name exists.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Filter returns, in registry order, the entries whose name contains query
// ignoring case. An empty query matches everything.
func (d *Dispatcher) Filter(query string) []Entry {
	out := make([]Entry, 0, len(d.entries))
	if query == "" {
		return append(out, d.entries...)
	}
	fold := cases.Fold()
	q := fold.String(query)
	for _, e := range d.entries {
		if strings.Contains(fold.String(e.Name), q) {
			out = append(out, e)
		}
	}
	return out
}

// Names returns all command names in registry order.
func (d *Dispatcher) Names() []string {
	return names(d.entries)
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

// SetKeymap installs the shortcut bindings. Every bound command must exist.
func (d *Dispatcher) SetKeymap(k *Keymap) error {
	if k != nil {
		for chord, name := range k.Bindings() {
			if !d.Has(name) {
				return errors.ErrUnknownCommand(name).WithContext("chord", chord)
			}
		}
	}
	d.keymap = k
	return nil
}

// Keymap returns the installed keymap, which may be nil.
func (d *Dispatcher) Keymap() *Keymap {
	return d.keymap
}

// Press runs the command bound to chord. It reports false when the chord is
// not bound to anything.
func (d *Dispatcher) Press(ctx context.Context, chord string) (bool, error) {
	if d.keymap == nil {
		return false, nil
	}
	name, ok, err := d.keymap.Lookup(chord)
	if err != nil || !ok {
		return false, err
	}
	return true, d.Execute(ctx, name)
}
