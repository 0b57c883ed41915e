package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/conneroisu/codepad/internal/errors"
	"github.com/conneroisu/codepad/internal/preview"
	"github.com/conneroisu/codepad/internal/version"
	"github.com/conneroisu/codepad/internal/websocket"
)

// previewPolicy runs the composed document in an opaque origin: scripts
// execute but cannot reach the playground.
const previewPolicy = "sandbox allow-scripts"

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.opts.Hub == nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	s.opts.Hub.HandleWebSocket(w, r)
}

// handlePreview serves the most recently rendered document.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	doc, ok := preview.Document{HTML: preview.Compose("", "", "")}, false
	if s.opts.Latest != nil {
		if latest, has := s.opts.Latest(); has {
			doc, ok = latest, true
		}
	}

	h := w.Header()
	h.Set("Content-Security-Policy", previewPolicy)
	h.Set("X-Frame-Options", "SAMEORIGIN")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Type", "text/html; charset=utf-8")
	if ok {
		h.Set("X-Preview-Revision", strconv.FormatUint(doc.Revision, 10))
	}
	_, _ = w.Write([]byte(doc.HTML))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.opts.Controller == nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	payload := websocket.StatePayload{State: s.opts.Controller.State()}
	if s.opts.Bridge != nil {
		payload.Text = s.opts.Bridge.Text()
	}
	s.writeJSON(w, r, http.StatusOK, payload)
}

type commandList struct {
	Query    string   `json:"query"`
	Commands []string `json:"commands"`
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if s.opts.Dispatcher == nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query().Get("q")
	entries := s.opts.Dispatcher.Filter(q)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	s.writeJSON(w, r, http.StatusOK, commandList{Query: q, Commands: names})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleExecute runs a command by exact name. Commands that prompt go to
// every connected tab and the request waits for the answer.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.opts.Dispatcher == nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	name := r.PathValue("name")
	err := s.opts.Dispatcher.Execute(r.Context(), name)
	if err == nil {
		s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok", "command": name})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Code(err) == errors.ErrCodeUnknownCommand:
		status = http.StatusNotFound
	case errors.IsValidationError(err):
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, r, status, errorResponse{Code: errors.Code(err), Message: errors.Message(err)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if s.opts.Hub != nil {
		clients = s.opts.Hub.ClientCount()
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"version":   version.GetShortVersion(),
		"clients":   clients,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response", "path", r.URL.Path)
	}
}
