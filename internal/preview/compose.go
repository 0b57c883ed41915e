// Package preview composes the three playground buffers into one
// self-contained HTML document and pushes composed documents to a renderer.
package preview

import (
	"crypto/sha256"
	"strings"

	"github.com/conneroisu/codepad/internal/buffer"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	docHead = "<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n<style>"
	docBody = "</style>\n</head>\n<body>\n"
	docTail = "\n<script>"
	docEnd  = "</script>\n</body>\n</html>\n"
)

// Compose builds the preview document: the style buffer inside a style
// block in the head, the markup buffer as the body content and the script
// buffer in a script block after it. The result depends only on the three
// texts.
//
// Markup and style are embedded verbatim. In the script, "</script" is
// written as "<\/script" so the block cannot be closed from inside; the two
// spellings are equivalent in JavaScript string and regex literals.
func Compose(markup, style, script string) string {
	script = escapeScript(script)

	var b strings.Builder
	b.Grow(len(docHead) + len(style) + len(docBody) + len(markup) + len(docTail) + len(script) + len(docEnd))
	b.WriteString(docHead)
	b.WriteString(style)
	b.WriteString(docBody)
	b.WriteString(markup)
	b.WriteString(docTail)
	b.WriteString(script)
	b.WriteString(docEnd)
	return b.String()
}

// ComposeSnapshot composes a buffer snapshot.
func ComposeSnapshot(s buffer.Snapshot) string {
	return Compose(s.Markup, s.Style, s.Script)
}

func escapeScript(script string) string {
	if !strings.Contains(strings.ToLower(script), "</script") {
		return script
	}
	var b strings.Builder
	b.Grow(len(script) + 8)
	for i := 0; i < len(script); {
		if i+8 <= len(script) && strings.EqualFold(script[i:i+8], "</script") {
			b.WriteString("<\\")
			b.WriteString(script[i+1 : i+8])
			i += 8
			continue
		}
		b.WriteByte(script[i])
		i++
	}
	return b.String()
}

// Compositor memoizes Compose. Since composition is pure, a cached document
// is always identical to a freshly composed one.
type Compositor struct {
	cache *lru.Cache[[sha256.Size]byte, string]
}

// NewCompositor creates a compositor remembering up to size documents.
// A size below one disables caching.
func NewCompositor(size int) (*Compositor, error) {
	if size < 1 {
		return &Compositor{}, nil
	}
	cache, err := lru.New[[sha256.Size]byte, string](size)
	if err != nil {
		return nil, err
	}
	return &Compositor{cache: cache}, nil
}

// Recompose returns the composed document for a snapshot.
func (c *Compositor) Recompose(s buffer.Snapshot) string {
	if c == nil || c.cache == nil {
		return ComposeSnapshot(s)
	}
	key := snapshotKey(s)
	if doc, ok := c.cache.Get(key); ok {
		return doc
	}
	doc := ComposeSnapshot(s)
	c.cache.Add(key, doc)
	return doc
}

// Len returns the number of cached documents.
func (c *Compositor) Len() int {
	if c == nil || c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

func snapshotKey(s buffer.Snapshot) [sha256.Size]byte {
	h := sha256.New()
	for _, part := range []string{s.Markup, s.Style, s.Script} {
		var n [8]byte
		l := uint64(len(part))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		h.Write(n[:])
		h.Write([]byte(part))
	}
	var key [sha256.Size]byte
	copy(key[:], h.Sum(nil))
	return key
}
