// Package buffer holds the three source buffers of a playground session
// (markup, style and script) and the per-kind metadata used to save, open and
// display them.
package buffer

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ID names one of the three fixed buffers.
type ID int

const (
	Markup ID = iota
	Style
	Script
)

// All returns every buffer id in display order.
func All() []ID {
	return []ID{Markup, Style, Script}
}

// String returns the wire name of the buffer.
func (id ID) String() string {
	switch id {
	case Markup:
		return "markup"
	case Style:
		return "style"
	case Script:
		return "script"
	default:
		return fmt.Sprintf("buffer(%d)", int(id))
	}
}

// Valid reports whether id is one of the three known buffers.
func (id ID) Valid() bool {
	return id >= Markup && id <= Script
}

// ParseID accepts the wire name of a buffer or its language alias.
func ParseID(s string) (ID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markup", "html":
		return Markup, nil
	case "style", "css":
		return Style, nil
	case "script", "js", "javascript":
		return Script, nil
	default:
		return Markup, fmt.Errorf("unknown buffer %q", s)
	}
}

// MarshalText encodes the id as its wire name.
func (id ID) MarshalText() ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("unknown buffer id %d", int(id))
	}
	return []byte(id.String()), nil
}

// UnmarshalText decodes a wire name.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// FileFilter describes the file types a save picker should offer.
type FileFilter struct {
	Description string   `json:"description"`
	MIMEType    string   `json:"mime_type"`
	Extensions  []string `json:"extensions"`
}

// Kind is the static description of a buffer.
type Kind struct {
	ID            ID
	Label         string
	Language      string
	Extension     string
	SuggestedName string
	Filter        FileFilter
}

var kinds = [...]Kind{
	Markup: {
		ID:            Markup,
		Label:         "HTML",
		Language:      "html",
		Extension:     ".html",
		SuggestedName: "index.html",
		Filter: FileFilter{
			Description: "HTML document",
			MIMEType:    "text/html",
			Extensions:  []string{".html", ".htm"},
		},
	},
	Style: {
		ID:            Style,
		Label:         "CSS",
		Language:      "css",
		Extension:     ".css",
		SuggestedName: "style.css",
		Filter: FileFilter{
			Description: "CSS stylesheet",
			MIMEType:    "text/css",
			Extensions:  []string{".css"},
		},
	},
	Script: {
		ID:            Script,
		Label:         "JavaScript",
		Language:      "javascript",
		Extension:     ".js",
		SuggestedName: "script.js",
		Filter: FileFilter{
			Description: "JavaScript source",
			MIMEType:    "text/javascript",
			Extensions:  []string{".js"},
		},
	},
}

// KindOf returns the metadata for id. It panics on an invalid id, which can
// only come from a programming error since ids are a closed set.
func KindOf(id ID) Kind {
	if !id.Valid() {
		panic(fmt.Sprintf("buffer: invalid id %d", int(id)))
	}
	return kinds[id]
}

// KindForName infers the buffer a file belongs to from its extension.
func KindForName(name string) (ID, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return Markup, false
	}
	for _, k := range kinds {
		for _, e := range k.Filter.Extensions {
			if e == ext {
				return k.ID, true
			}
		}
	}
	return Markup, false
}
