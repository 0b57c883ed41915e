//go:build property
// +build property

package preview

import (
	"strings"
	"testing"

	"github.com/conneroisu/codepad/internal/buffer"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestComposeProperties checks purity and placement of the composed document.
func TestComposeProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: composing the same texts twice is byte-identical
	properties.Property("compose is pure", prop.ForAll(
		func(markup, style, script string) bool {
			return Compose(markup, style, script) == Compose(markup, style, script)
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.AnyString(),
	))

	// Property: the memoized compositor agrees with Compose
	properties.Property("compositor matches compose", prop.ForAll(
		func(markup, style, script string) bool {
			c, err := NewCompositor(4)
			if err != nil {
				return false
			}
			s := buffer.Snapshot{Markup: markup, Style: style, Script: script}
			first := c.Recompose(s)
			second := c.Recompose(s)
			return first == second && first == Compose(markup, style, script)
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.AnyString(),
	))

	// Property: markup sits verbatim between the body tag and the script block
	properties.Property("markup embedded in body", prop.ForAll(
		func(markup string) bool {
			doc := Compose(markup, "", "")
			return strings.Contains(doc, "<body>\n"+markup+"\n<script></script>")
		},
		gen.AnyString(),
	))

	// Property: the script block is never terminated from inside
	properties.Property("script cannot close its block", prop.ForAll(
		func(prefix, suffix string) bool {
			script := prefix + "</script>" + suffix
			escaped := escapeScript(script)
			return !strings.Contains(strings.ToLower(escaped), "</script")
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
