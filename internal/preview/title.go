package preview

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultTitle labels a preview whose markup has no usable <title>.
const DefaultTitle = "Preview"

// Title returns the text of the first <title> element in markup.
func Title(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	inTitle := false
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return titleOrDefault(b.String())
		case html.StartTagToken:
			if z.Token().DataAtom == atom.Title {
				inTitle = true
			}
		case html.EndTagToken:
			if inTitle && z.Token().DataAtom == atom.Title {
				return titleOrDefault(b.String())
			}
		case html.TextToken:
			if inTitle {
				b.Write(z.Text())
			}
		}
	}
}

func titleOrDefault(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return DefaultTitle
	}
	return s
}
