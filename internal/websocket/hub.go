package websocket

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/stagepulse/stagepulse/internal/metrics"
)

// Default caps when no explicit limits are configured.
const (
	defaultMaxClientsPerSession = 500
	defaultMaxTotalClients      = 5000
)

type sessionClients map[*websocket.Conn]*clientWriter

// --- Command types ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	sessionID    uuid.UUID
	connection   *websocket.Conn
	errorChannel chan error
}

type unregisterCmd struct {
	baseHubCmd
	sessionID  uuid.UUID
	connection *websocket.Conn
}

type broadcastCmd struct {
	baseHubCmd
	sessionID uuid.UUID
	data      []byte
}

type clientCountCmd struct {
	baseHubCmd
	sessionID    uuid.UUID
	replyChannel chan int
}

type activeSessionsCmd struct {
	baseHubCmd
	replyChannel chan []uuid.UUID
}

type stopCmd struct {
	baseHubCmd
}

// Hub is a single-goroutine actor that owns all connection state. Viewers
// join per session; the first join and the last leave trigger the lifecycle
// callbacks so the caller can start and stop per-session plumbing.
type Hub struct {
	cmdCh         chan hubCmd
	clock         clockwork.Clock
	activeClients map[uuid.UUID]sessionClients
	totalClients  int64
	maxClients    int
	maxTotal      int64

	onFirstViewer func(sessionID uuid.UUID)
	onLastViewer  func(sessionID uuid.UUID)
}

func NewHub(onFirstViewer, onLastViewer func(uuid.UUID), clock clockwork.Clock) *Hub {
	h := &Hub{
		cmdCh:         make(chan hubCmd, 256),
		clock:         clock,
		activeClients: make(map[uuid.UUID]sessionClients),
		maxClients:    defaultMaxClientsPerSession,
		maxTotal:      defaultMaxTotalClients,
		onFirstViewer: onFirstViewer,
		onLastViewer:  onLastViewer,
	}
	go h.run()
	return h
}

// SetMaxClientsPerSession overrides the per-session viewer cap. Must be
// called before any viewers register.
func (h *Hub) SetMaxClientsPerSession(n int) {
	if n > 0 {
		h.maxClients = n
	}
}

// SetMaxConnections overrides the instance-wide connection cap. Must be
// called before any viewers register.
func (h *Hub) SetMaxConnections(n int64) {
	if n > 0 {
		h.maxTotal = n
	}
}

// Register adds a viewer connection to a session. Returns an error only
// when the per-session connection cap is reached.
func (h *Hub) Register(sessionID uuid.UUID, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	h.cmdCh <- registerCmd{sessionID: sessionID, connection: conn, errorChannel: errCh}
	return <-errCh
}

// Unregister removes a viewer connection from a session.
func (h *Hub) Unregister(sessionID uuid.UUID, conn *websocket.Conn) {
	h.cmdCh <- unregisterCmd{sessionID: sessionID, connection: conn}
}

// Broadcast sends raw bytes to every viewer of a session. Slow clients
// whose buffers are full get evicted instead of blocking the hub.
func (h *Hub) Broadcast(sessionID uuid.UUID, data []byte) {
	h.cmdCh <- broadcastCmd{sessionID: sessionID, data: data}
}

// ClientCount returns the number of connected viewers for a session.
func (h *Hub) ClientCount(sessionID uuid.UUID) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- clientCountCmd{sessionID: sessionID, replyChannel: replyCh}
	return <-replyCh
}

// ActiveSessions returns the IDs of all sessions with at least one viewer.
func (h *Hub) ActiveSessions() []uuid.UUID {
	replyCh := make(chan []uuid.UUID, 1)
	h.cmdCh <- activeSessionsCmd{replyChannel: replyCh}
	return <-replyCh
}

// Stop shuts down the hub, closing all viewer connections.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}
}

func (h *Hub) run() {
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			h.handleRegister(c)
		case unregisterCmd:
			h.handleUnregister(c)
		case broadcastCmd:
			h.handleBroadcast(c)
		case clientCountCmd:
			c.replyChannel <- len(h.activeClients[c.sessionID])
		case activeSessionsCmd:
			ids := make([]uuid.UUID, 0, len(h.activeClients))
			for id := range h.activeClients {
				ids = append(ids, id)
			}
			c.replyChannel <- ids
		case stopCmd:
			h.handleStop()
			return
		default:
			slog.Warn("Hub received unknown command", "type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	clients := h.activeClients[c.sessionID]

	if h.totalClients >= h.maxTotal {
		slog.Warn("Rejecting viewer: instance at connection cap", "cap", h.maxTotal)
		c.connection.Close()
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		c.errorChannel <- fmt.Errorf("max connections (%d) reached", h.maxTotal)
		return
	}

	if len(clients) >= h.maxClients {
		slog.Warn("Rejecting viewer: session at connection cap",
			"session_id", c.sessionID, "cap", h.maxClients)
		c.connection.Close()
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		c.errorChannel <- fmt.Errorf("max clients per session (%d) reached", h.maxClients)
		return
	}

	first := clients == nil
	if first {
		clients = make(sessionClients)
		h.activeClients[c.sessionID] = clients
		metrics.WebSocketSessionsActive.Set(float64(len(h.activeClients)))
	}
	clients[c.connection] = newClientWriter(c.connection, h.clock)
	h.totalClients++

	metrics.WebSocketConnectionsCurrent.Inc()
	metrics.WebSocketConnectionsTotal.WithLabelValues("success").Inc()
	slog.Debug("Viewer registered", "session_id", c.sessionID, "total", len(clients))
	c.errorChannel <- nil

	if first && h.onFirstViewer != nil {
		go h.onFirstViewer(c.sessionID)
	}
}

func (h *Hub) handleUnregister(c unregisterCmd) {
	clients, exists := h.activeClients[c.sessionID]
	if !exists {
		return
	}

	cw, exists := clients[c.connection]
	if !exists {
		return
	}

	cw.stop()
	delete(clients, c.connection)
	h.totalClients--
	metrics.WebSocketConnectionsCurrent.Dec()

	if len(clients) == 0 {
		delete(h.activeClients, c.sessionID)
		metrics.WebSocketSessionsActive.Set(float64(len(h.activeClients)))
		slog.Debug("Last viewer disconnected", "session_id", c.sessionID)
		if h.onLastViewer != nil {
			go h.onLastViewer(c.sessionID)
		}
	} else {
		slog.Debug("Viewer unregistered", "session_id", c.sessionID, "remaining", len(clients))
	}
}

func (h *Hub) handleBroadcast(c broadcastCmd) {
	clients, exists := h.activeClients[c.sessionID]
	if !exists {
		return
	}

	var slow []*websocket.Conn
	for conn, writer := range clients {
		select {
		case writer.sendChannel <- c.data:
		default:
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Evicting slow viewer", "session_id", c.sessionID)
		metrics.WebSocketSlowClientsEvicted.Inc()
		h.handleUnregister(unregisterCmd{sessionID: c.sessionID, connection: conn})
	}
}

func (h *Hub) handleStop() {
	for sessionID, clients := range h.activeClients {
		for _, cw := range clients {
			cw.stop()
		}
		delete(h.activeClients, sessionID)
	}
	h.totalClients = 0
	metrics.WebSocketSessionsActive.Set(0)
}
