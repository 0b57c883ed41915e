// Package websocket connects browser tabs to the playground over WebSocket.
//
// The Hub owns the set of connected clients and fans messages out to them.
// The Bridge sits on top of it and plays the remote collaborators of the
// session: the editing widget, the sandboxed renderer, the file picker and
// the confirmation dialog all live in the browser.
package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/codepad/internal/logging"
	"github.com/google/uuid"
)

const (
	sendBufferSize = 256
	writeTimeout   = 10 * time.Second
	pingInterval   = 54 * time.Second
	readLimit      = 8 << 20
)

// Handler receives client lifecycle events and incoming messages.
type Handler interface {
	OnConnect(ctx context.Context, c *Client)
	OnDisconnect(c *Client)
	HandleMessage(ctx context.Context, c *Client, msg Envelope)
}

// Client is one connected browser tab.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	// ctx is canceled when the client disconnects.
	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Context returns a context that ends when the client disconnects.
func (c *Client) Context() context.Context { return c.ctx }

type targeted struct {
	to      *Client
	except  *Client
	payload []byte
}

// Hub manages client connections and broadcasting. One goroutine owns the
// client set, so every client receives broadcasts in the order they were
// made.
type Hub struct {
	clients      map[*Client]struct{}
	clientsMutex sync.RWMutex

	broadcast  chan targeted
	register   chan *Client
	unregister chan *Client

	allowedOrigins []string
	handler        Handler
	logger         logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewHub creates a hub and starts its goroutine. Connections are accepted
// from loopback origins, the request's own host and allowedOrigins.
func NewHub(allowedOrigins []string, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:        make(map[*Client]struct{}),
		broadcast:      make(chan targeted, sendBufferSize),
		register:       make(chan *Client, 32),
		unregister:     make(chan *Client, 32),
		allowedOrigins: allowedOrigins,
		logger:         logger.WithComponent("websocket"),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go h.runHub()
	return h
}

// SetHandler installs the message handler. It must be called before the
// first connection is accepted.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// HandleWebSocket upgrades the request and serves the client until it
// disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.ctx.Done():
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	default:
	}

	if origin := r.Header.Get("Origin"); origin != "" && !h.isAllowedOrigin(origin, r.Host) {
		h.logger.Warn(r.Context(), nil, "WebSocket connection rejected: origin not allowed",
			"origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origins were checked above.
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(h.ctx)
	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		cancel()
		_ = conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	}

	h.logger.Info(ctx, "WebSocket client connected", "client", client.id, "remote", r.RemoteAddr)
	h.handleClient(client)
}

func (h *Hub) isAllowedOrigin(origin, requestHost string) bool {
	return OriginAllowed(origin, requestHost, h.allowedOrigins)
}

// OriginAllowed reports whether a browser on origin may talk to a server
// reached as requestHost. Loopback origins and the server's own host are
// always accepted; "*" in allowed accepts everything.
func OriginAllowed(origin, requestHost string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, requestHost) {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// runHub manages client connections and broadcasting.
func (h *Hub) runHub() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		case <-h.ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clientsMutex.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.clientsMutex.Unlock()

	h.logger.Debug(client.ctx, "Client registered", "client", client.id, "clients", n)
	if h.handler != nil {
		// Off the hub goroutine: the handler greets the client through
		// the broadcast channel this goroutine drains.
		go h.handler.OnConnect(client.ctx, client)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.clientsMutex.Lock()
	_, exists := h.clients[client]
	if exists {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.clientsMutex.Unlock()

	if !exists {
		return
	}
	client.cancel()
	h.logger.Info(h.ctx, "WebSocket client disconnected", "client", client.id, "clients", n)
	if h.handler != nil {
		h.handler.OnDisconnect(client)
	}
}

// broadcastToClients queues a message on every addressed client. A client
// whose queue is full is dropped rather than allowed to stall the others.
func (h *Hub) broadcastToClients(msg targeted) {
	h.clientsMutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if msg.to != nil && client != msg.to {
			continue
		}
		if client == msg.except {
			continue
		}
		clients = append(clients, client)
	}
	h.clientsMutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- msg.payload:
		default:
			h.logger.Warn(h.ctx, nil, "Client send queue full, disconnecting", "client", client.id)
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.clientsMutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
		close(client.send)
	}
	h.clientsMutex.Unlock()

	for _, client := range clients {
		client.cancel()
		_ = client.conn.Close(websocket.StatusGoingAway, "Server shutdown")
		if h.handler != nil {
			h.handler.OnDisconnect(client)
		}
	}
}

// handleClient runs the pumps of one client and unregisters it when the
// read side ends.
func (h *Hub) handleClient(client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.ctx.Done():
		}
	}()

	go h.writeToClient(client)
	h.readFromClient(client)
}

func (h *Hub) readFromClient(client *Client) {
	for {
		_, data, err := client.conn.Read(client.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || client.ctx.Err() != nil {
				h.logger.Debug(h.ctx, "Client closed connection", "client", client.id)
			} else {
				h.logger.Warn(h.ctx, err, "WebSocket read error", "client", client.id)
			}
			return
		}

		var msg Envelope
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			h.logger.Warn(client.ctx, err, "Ignoring malformed message", "client", client.id, "bytes", len(data))
			continue
		}
		if h.handler != nil {
			h.handler.HandleMessage(client.ctx, client, msg)
		}
	}
}

func (h *Hub) writeToClient(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer client.conn.CloseNow()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				_ = client.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Warn(h.ctx, err, "WebSocket write error", "client", client.id)
				client.cancel()
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				h.logger.Warn(h.ctx, err, "WebSocket ping error", "client", client.id)
				client.cancel()
				return
			}
		case <-client.ctx.Done():
			return
		}
	}
}

// Broadcast sends a message to every client.
func (h *Hub) Broadcast(typ string, data interface{}) {
	h.enqueue(targeted{}, typ, data)
}

// BroadcastExcept sends a message to every client but one.
func (h *Hub) BroadcastExcept(except *Client, typ string, data interface{}) {
	h.enqueue(targeted{except: except}, typ, data)
}

// Send sends a message to one client.
func (h *Hub) Send(to *Client, typ string, data interface{}) {
	if to == nil {
		return
	}
	h.enqueue(targeted{to: to}, typ, data)
}

func (h *Hub) enqueue(msg targeted, typ string, data interface{}) {
	env, err := NewEnvelope(typ, data)
	if err == nil {
		msg.payload, err = json.Marshal(env)
	}
	if err != nil {
		h.logger.Error(h.ctx, err, "Failed to marshal message", "type", typ)
		return
	}

	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every client and stops the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(h.cancel)
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
