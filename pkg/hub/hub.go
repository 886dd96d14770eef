package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// sendQueueSize bounds each connection's outbound queue.
const sendQueueSize = 64

// Principal is the pre-validated identity attached to a connection.
// Authentication itself is an external concern; the hub only consults the
// principal on group join.
type Principal struct {
	Subject string
	Roles   []string
}

// Authorizer decides whether a principal may join a group. A nil Authorizer
// admits everyone.
type Authorizer func(p Principal, group string) bool

// SnapshotFunc produces the consolidated dashboard snapshot for debounced
// DashboardUpdate pushes.
type SnapshotFunc func(ctx context.Context) (*models.DashboardSnapshot, error)

// Connection is one WebSocket client. Its send queue is drained by a
// dedicated writer goroutine so broadcasts never hold locks across network
// I/O.
type Connection struct {
	ID        string
	principal Principal

	conn   *websocket.Conn
	sendq  chan Message
	groups map[string]bool // owned by the connection's read loop

	ctx    context.Context
	cancel context.CancelFunc
	closed sync.Once
}

// Hub manages connections and group subscriptions.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	groups      map[string]map[string]*Connection // group → connID → conn

	authorize    Authorizer
	snapshot     SnapshotFunc
	writeTimeout time.Duration
	debouncer    *debouncer
}

// New creates the hub. debounce is the DashboardUpdate coalescing window.
func New(authorize Authorizer, snapshot SnapshotFunc, writeTimeout, debounce time.Duration) *Hub {
	h := &Hub{
		connections:  make(map[string]*Connection),
		groups:       make(map[string]map[string]*Connection),
		authorize:    authorize,
		snapshot:     snapshot,
		writeTimeout: writeTimeout,
	}
	h.debouncer = newDebouncer(debounce, h.pushSnapshot)
	return h
}

// Start launches the debouncer.
func (h *Hub) Start(ctx context.Context) { h.debouncer.Start(ctx) }

// Stop closes every connection gracefully and stops the debouncer.
func (h *Hub) Stop() {
	h.debouncer.Stop()

	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.closeConnection(c, websocket.StatusGoingAway, "server shutting down")
	}
}

// HandleConnection serves one upgraded WebSocket until it closes. Blocks.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn, principal Principal) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:        uuid.New().String(),
		principal: principal,
		conn:      conn,
		sendq:     make(chan Message, sendQueueSize),
		groups:    make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}

	h.register(c)
	defer h.unregister(c)

	go h.writeLoop(c)

	h.enqueue(c, Message{Type: "connection.established", Data: map[string]string{"connection_id": c.ID}})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid hub message", "connection_id", c.ID, "error", err)
			continue
		}
		h.handleClientMessage(c, &msg)
	}
}

// ActiveConnections returns the number of live connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GroupSize returns the subscriber count of a group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// --- publishing ---

// PublishSecurityEvent fans a new event summary to the dashboard group.
// Delivery is at-least-once to connected clients; disconnected clients are
// not queued.
func (h *Hub) PublishSecurityEvent(summary models.EventSummary) {
	h.broadcast(GroupDashboard, Message{Type: MsgSecurityEvent, Data: summary})
}

// PublishDashboardDelta signals that dashboard state changed; the debouncer
// coalesces rapid deltas into one snapshot push.
func (h *Hub) PublishDashboardDelta() {
	h.debouncer.Trigger()
}

// PublishSystemStatus fans component health to the system_status group.
func (h *Hub) PublishSystemStatus(status models.SystemStatusOverview) {
	h.broadcast(GroupSystemStatus, Message{Type: MsgSystemStatusUpdate, Data: status})
}

// PublishCorrelation fans a detected correlation to the dashboard group.
func (h *Hub) PublishCorrelation(c *models.Correlation) {
	h.broadcast(GroupDashboard, Message{
		Type: MsgCorrelationDetected,
		Data: CorrelationNotice{Correlation: c, EventCount: len(c.EventIDs)},
	})
}

// PublishScanProgress fans scanner progress to its scan group.
func (h *Hub) PublishScanProgress(update ScanProgressUpdate) {
	h.broadcast(ScanGroup(update.ScanID), Message{Type: MsgScanProgress, Data: update})
}

// BroadcastSnapshot pushes a snapshot immediately, bypassing the debounce
// (used by the explicit broadcast endpoint).
func (h *Hub) BroadcastSnapshot(ctx context.Context) error {
	return h.pushSnapshot(ctx)
}

// pushSnapshot computes and fans the consolidated snapshot; the debouncer
// calls this once per quiet window so the final coalesced push reflects the
// latest state.
func (h *Hub) pushSnapshot(ctx context.Context) error {
	if h.snapshot == nil {
		return nil
	}
	if h.GroupSize(GroupDashboard) == 0 {
		return nil
	}
	snap, err := h.snapshot(ctx)
	if err != nil {
		slog.Warn("Dashboard snapshot computation failed, push skipped", "error", err)
		return err
	}
	h.broadcast(GroupDashboard, Message{Type: MsgDashboardUpdate, Data: snap})
	return nil
}

// broadcast fans a message to every subscriber of a group. Connection
// pointers are snapshotted under the lock; enqueueing never blocks and
// never performs network I/O.
func (h *Hub) broadcast(group string, msg Message) {
	h.mu.RLock()
	subs := make([]*Connection, 0, len(h.groups[group]))
	for _, c := range h.groups[group] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	for _, c := range subs {
		h.enqueue(c, msg)
	}
}

// enqueue places a message on the connection's bounded send queue. Overflow
// policy: non-critical messages drop the oldest queued message; a critical
// message that finds the queue full closes the connection (the client
// refetches on reconnect).
func (h *Hub) enqueue(c *Connection, msg Message) {
	select {
	case c.sendq <- msg:
		return
	default:
	}

	if critical(msg.Type) {
		slog.Warn("Send queue full of critical messages, closing connection",
			"connection_id", c.ID)
		h.closeConnection(c, websocket.StatusPolicyViolation, "send queue overflow")
		return
	}

	// Drop the oldest non-critical message to make room; if the head is
	// critical, drop the incoming message instead.
	select {
	case old := <-c.sendq:
		if critical(old.Type) {
			// Put it back at the cost of the new message.
			select {
			case c.sendq <- old:
			default:
			}
			return
		}
	default:
	}
	select {
	case c.sendq <- msg:
	default:
	}
}

// writeLoop drains the send queue with a per-write timeout.
func (h *Hub) writeLoop(c *Connection) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.sendq:
			data, err := json.Marshal(msg)
			if err != nil {
				slog.Warn("Hub message marshal failed", "type", msg.Type, "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
			err = c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.closeConnection(c, websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (h *Hub) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Group == "" {
			h.enqueue(c, Message{Type: "error", Data: "group is required for subscribe"})
			return
		}
		if h.authorize != nil && !h.authorize(c.principal, msg.Group) {
			h.enqueue(c, Message{Type: "subscription.denied", Data: msg.Group})
			return
		}
		h.join(c, msg.Group)
		h.enqueue(c, Message{Type: "subscription.confirmed", Data: msg.Group})

	case "unsubscribe":
		if msg.Group != "" {
			h.leave(c, msg.Group)
		}

	case "ping":
		h.enqueue(c, Message{Type: "pong"})
	}
}

func (h *Hub) join(c *Connection, group string) {
	h.mu.Lock()
	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[string]*Connection)
	}
	h.groups[group][c.ID] = c
	h.mu.Unlock()
	c.groups[group] = true
}

func (h *Hub) leave(c *Connection, group string) {
	h.mu.Lock()
	if subs, ok := h.groups[group]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(h.groups, group)
		}
	}
	h.mu.Unlock()
	delete(c.groups, group)
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	h.connections[c.ID] = c
	h.mu.Unlock()
	slog.Debug("Hub client connected", "connection_id", c.ID, "subject", c.principal.Subject)
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	for group := range c.groups {
		if subs, ok := h.groups[group]; ok {
			delete(subs, c.ID)
			if len(subs) == 0 {
				delete(h.groups, group)
			}
		}
	}
	delete(h.connections, c.ID)
	h.mu.Unlock()

	c.cancel()
	c.closed.Do(func() {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	})
	slog.Debug("Hub client disconnected", "connection_id", c.ID)
}

func (h *Hub) closeConnection(c *Connection, code websocket.StatusCode, reason string) {
	c.closed.Do(func() {
		_ = c.conn.Close(code, reason)
	})
	c.cancel()
}
