package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/conneroisu/codepad/internal/errors"
	"github.com/conneroisu/codepad/internal/logging"
	"github.com/conneroisu/codepad/internal/websocket"
)

// monacoBase is where the editing widget is loaded from.
const monacoBase = "https://unpkg.com/monaco-editor@0.44.0"

// CSPConfig holds Content Security Policy directives.
type CSPConfig struct {
	DefaultSrc     []string
	ScriptSrc      []string
	StyleSrc       []string
	FontSrc        []string
	ImgSrc         []string
	ConnectSrc     []string
	WorkerSrc      []string
	FrameSrc       []string
	ObjectSrc      []string
	BaseURI        []string
	FormAction     []string
	FrameAncestors []string
}

// DefaultCSP allows the page itself, the editing widget's CDN and the
// same-origin preview frame.
func DefaultCSP() *CSPConfig {
	cdn := "https://unpkg.com"
	return &CSPConfig{
		DefaultSrc:     []string{"'self'"},
		ScriptSrc:      []string{"'self'", "'unsafe-inline'", "'unsafe-eval'", cdn},
		StyleSrc:       []string{"'self'", "'unsafe-inline'", cdn},
		FontSrc:        []string{"'self'", "data:", cdn},
		ImgSrc:         []string{"'self'", "data:", "blob:"},
		ConnectSrc:     []string{"'self'", "ws:", "wss:", cdn},
		WorkerSrc:      []string{"'self'", "blob:", "data:"},
		FrameSrc:       []string{"'self'"},
		ObjectSrc:      []string{"'none'"},
		BaseURI:        []string{"'self'"},
		FormAction:     []string{"'self'"},
		FrameAncestors: []string{"'none'"},
	}
}

// String renders the policy as a header value.
func (c *CSPConfig) String() string {
	var directives []string
	add := func(name string, values []string) {
		if len(values) > 0 {
			directives = append(directives, fmt.Sprintf("%s %s", name, strings.Join(values, " ")))
		}
	}
	add("default-src", c.DefaultSrc)
	add("script-src", c.ScriptSrc)
	add("style-src", c.StyleSrc)
	add("font-src", c.FontSrc)
	add("img-src", c.ImgSrc)
	add("connect-src", c.ConnectSrc)
	add("worker-src", c.WorkerSrc)
	add("frame-src", c.FrameSrc)
	add("object-src", c.ObjectSrc)
	add("base-uri", c.BaseURI)
	add("form-action", c.FormAction)
	add("frame-ancestors", c.FrameAncestors)
	return strings.Join(directives, "; ")
}

// SecurityMiddleware sets the security headers and rejects state-changing
// requests from foreign origins.
func SecurityMiddleware(allowedOrigins []string, logger logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	csp := DefaultCSP().String()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", csp)
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions {
				if !isValidOrigin(r, allowedOrigins) {
					logger.Warn(r.Context(),
						errors.NewValidationError("ERR_INVALID_ORIGIN", "invalid origin in request"),
						"Security: Invalid origin",
						"origin", r.Header.Get("Origin"),
						"referer", r.Header.Get("Referer"),
						"remote", r.RemoteAddr)
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isValidOrigin checks the Origin header, falling back to Referer. A
// request carrying neither did not come from a browser page.
func isValidOrigin(r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		if referer := r.Header.Get("Referer"); referer != "" {
			u, err := url.Parse(referer)
			if err != nil {
				return false
			}
			origin = u.Scheme + "://" + u.Host
		}
	}
	if origin == "" {
		return true
	}
	return websocket.OriginAllowed(origin, r.Host, allowedOrigins)
}
