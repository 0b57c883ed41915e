// Package server serves the playground page, the sandboxed preview and the
// WebSocket endpoint that connects browser tabs to the session.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/conneroisu/codepad/internal/commands"
	"github.com/conneroisu/codepad/internal/logging"
	"github.com/conneroisu/codepad/internal/preview"
	"github.com/conneroisu/codepad/internal/session"
	"github.com/conneroisu/codepad/internal/websocket"
)

// Options configures a Server.
type Options struct {
	Host           string
	Port           int
	Open           bool
	AllowedOrigins []string

	Hub        *websocket.Hub
	Bridge     *websocket.Bridge
	Controller *session.Controller
	Dispatcher *commands.Dispatcher
	Latest     func() (preview.Document, bool)
	Logger     logging.Logger
}

// Server is the playground's HTTP surface.
type Server struct {
	opts    Options
	logger  logging.Logger
	started time.Time

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	shutdownOnce sync.Once
}

// New creates a server. Nothing listens until Start.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		opts:    opts,
		logger:  logger.WithComponent("server"),
		started: time.Now(),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", s.pageHandler())
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /preview", s.handlePreview)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/commands", s.handleCommands)
	mux.HandleFunc("POST /api/commands/{name}", s.handleExecute)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.logRequests(SecurityMiddleware(s.opts.AllowedOrigins, s.logger)(mux))
}

// Start serves until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.serverMutex.Lock()
	s.httpServer = srv
	s.serverMutex.Unlock()

	url := "http://" + ln.Addr().String()
	s.logger.Info(ctx, "Playground listening", "url", url)
	if s.opts.Open {
		go s.openBrowser(ctx, url)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown disconnects every tab and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")
		if s.opts.Hub != nil {
			if err := s.opts.Hub.Shutdown(ctx); err != nil {
				s.logger.Warn(ctx, err, "WebSocket hub did not stop in time")
			}
		}

		s.serverMutex.RLock()
		srv := s.httpServer
		s.serverMutex.RUnlock()
		if srv != nil {
			shutdownErr = srv.Shutdown(ctx)
		}
	})
	return shutdownErr
}

func (s *Server) openBrowser(ctx context.Context, url string) {
	time.Sleep(100 * time.Millisecond)

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
	if err != nil {
		s.logger.Warn(ctx, err, "Failed to open browser", "url", url)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "HTTP request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
