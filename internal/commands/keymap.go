package commands

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/conneroisu/codepad/internal/errors"
)

// Chord is a key combination such as Ctrl+Shift+P.
type Chord struct {
	Ctrl  bool
	Alt   bool
	Shift bool
	Meta  bool
	Key   string
}

var modifierNames = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"alt":     "alt",
	"option":  "alt",
	"opt":     "alt",
	"shift":   "shift",
	"meta":    "meta",
	"cmd":     "meta",
	"command": "meta",
	"super":   "meta",
}

var keyNames = map[string]string{
	"esc":        "Escape",
	"escape":     "Escape",
	"enter":      "Enter",
	"return":     "Enter",
	"tab":        "Tab",
	"space":      "Space",
	"backspace":  "Backspace",
	"delete":     "Delete",
	"del":        "Delete",
	"up":         "ArrowUp",
	"down":       "ArrowDown",
	"left":       "ArrowLeft",
	"right":      "ArrowRight",
	"arrowup":    "ArrowUp",
	"arrowdown":  "ArrowDown",
	"arrowleft":  "ArrowLeft",
	"arrowright": "ArrowRight",
	"home":       "Home",
	"end":        "End",
	"pageup":     "PageUp",
	"pagedown":   "PageDown",
}

// ParseChord parses specifications like "Ctrl+S", "ctrl+shift+p", "Esc" or
// "Cmd+O". Single character keys are case-insensitive.
func ParseChord(spec string) (Chord, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Chord{}, invalidChord(spec, "empty chord")
	}

	parts := strings.Split(spec, "+")
	// "Ctrl++" binds the plus key.
	if strings.HasSuffix(spec, "++") {
		parts = append(parts[:len(parts)-2], "+")
	}

	var c Chord
	for _, p := range parts[:len(parts)-1] {
		p = strings.ToLower(strings.TrimSpace(p))
		switch modifierNames[p] {
		case "ctrl":
			c.Ctrl = true
		case "alt":
			c.Alt = true
		case "shift":
			c.Shift = true
		case "meta":
			c.Meta = true
		default:
			return Chord{}, invalidChord(spec, fmt.Sprintf("unknown modifier %q", p))
		}
	}

	key, err := normalizeKey(strings.TrimSpace(parts[len(parts)-1]))
	if err != nil {
		return Chord{}, invalidChord(spec, err.Error())
	}
	c.Key = key
	return c, nil
}

func normalizeKey(k string) (string, error) {
	if k == "" {
		return "", fmt.Errorf("missing key")
	}
	lower := strings.ToLower(k)
	if name, ok := keyNames[lower]; ok {
		return name, nil
	}
	if len(lower) >= 2 && lower[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(lower[1:], "%d", &n); err == nil && n >= 1 && n <= 24 && fmt.Sprint(n) == lower[1:] {
			return "F" + lower[1:], nil
		}
	}
	if utf8.RuneCountInString(k) == 1 {
		return strings.ToUpper(k), nil
	}
	return "", fmt.Errorf("unknown key %q", k)
}

func invalidChord(spec, reason string) *errors.CodepadError {
	return errors.NewValidationError(errors.ErrCodeInvalidChord, fmt.Sprintf("invalid chord %q: %s", spec, reason))
}

// String returns the canonical form, e.g. "Ctrl+Shift+P".
func (c Chord) String() string {
	var b strings.Builder
	if c.Ctrl {
		b.WriteString("Ctrl+")
	}
	if c.Alt {
		b.WriteString("Alt+")
	}
	if c.Shift {
		b.WriteString("Shift+")
	}
	if c.Meta {
		b.WriteString("Meta+")
	}
	b.WriteString(c.Key)
	return b.String()
}

// Keymap binds chords to command names.
type Keymap struct {
	mu       sync.RWMutex
	bindings map[string]string
}

// NewKeymap returns an empty keymap.
func NewKeymap() *Keymap {
	return &Keymap{bindings: make(map[string]string)}
}

// DefaultBindings are the built-in shortcuts.
var DefaultBindings = map[string]string{
	"Ctrl+S":       CmdSave,
	"Ctrl+O":       CmdOpen,
	"Ctrl+N":       CmdNewProject,
	"Ctrl+Shift+P": CmdTogglePalette,
	"Escape":       CmdClosePalette,
}

// DefaultKeymap returns a keymap with DefaultBindings.
func DefaultKeymap() *Keymap {
	k := NewKeymap()
	for chord, name := range DefaultBindings {
		if err := k.Bind(chord, name); err != nil {
			panic(err)
		}
	}
	return k
}

// Bind maps chord to the command name, replacing an earlier binding. An
// empty name removes the binding.
func (k *Keymap) Bind(chord, name string) error {
	c, err := ParseChord(chord)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if name == "" {
		delete(k.bindings, c.String())
		return nil
	}
	k.bindings[c.String()] = name
	return nil
}

// Lookup returns the command bound to chord.
func (k *Keymap) Lookup(chord string) (string, bool, error) {
	c, err := ParseChord(chord)
	if err != nil {
		return "", false, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	name, ok := k.bindings[c.String()]
	return name, ok, nil
}

// Bindings returns a copy of the bindings keyed by canonical chord.
func (k *Keymap) Bindings() map[string]string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]string, len(k.bindings))
	for c, n := range k.bindings {
		out[c] = n
	}
	return out
}

// Chords returns the canonical chords bound to name, sorted.
func (k *Keymap) Chords(name string) []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var out []string
	for c, n := range k.bindings {
		if n == name {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
