package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/abrezinsky/cragboard/internal/logger"
	"github.com/abrezinsky/cragboard/internal/models"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Contest is the authority the hub forwards commands to
type Contest interface {
	Apply(ctx context.Context, cmd models.Command) (models.Event, error)
	SnapshotTo(ctx context.Context, boxID int, deliver func(models.Event)) error
	HasBox(boxID int) bool
}

// Hub maintains the subscribers of every box and delivers events to them
// from a single loop. Broadcasts and replies share one queue, so each
// subscriber sees a box's events, snapshots included, in apply order.
type Hub struct {
	log       logger.Logger
	clock     clockwork.Clock
	contest   Contest
	heartbeat time.Duration
	upgrader  websocket.Upgrader

	boxes      map[int]map[*Client]bool
	outbox     chan outbound
	register   chan *Client
	unregister chan *Client
	closeBox   chan int
	done       chan struct{}
	mutex      sync.RWMutex
}

// outbound is a queued event. A nil client means every subscriber of the
// event's box.
type outbound struct {
	client *Client
	event  models.Event
}

// Client is one subscriber of one box
type Client struct {
	id       uuid.UUID
	hub      *Hub
	conn     *websocket.Conn
	boxID    int
	trusted  bool
	send     chan []byte
	lastSeen atomic.Int64
}

// ID identifies the subscriber in logs
func (c *Client) ID() string { return c.id.String() }

// Option configures a Hub
type Option func(*Hub)

// WithClock sets the clock driving heartbeats
func WithClock(clock clockwork.Clock) Option {
	return func(h *Hub) { h.clock = clock }
}

// WithHeartbeat sets the PING interval. A subscriber silent for two
// intervals is dropped.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Hub) { h.heartbeat = d }
}

// WithCheckOrigin restricts which origins may open a connection
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = check }
}

// New creates a new Hub instance with injected dependencies
func New(log logger.Logger, contest Contest, opts ...Option) *Hub {
	h := &Hub{
		log:       log,
		clock:     clockwork.NewRealClock(),
		contest:   contest,
		heartbeat: 30 * time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		boxes:      make(map[int]map[*Client]bool),
		outbox:     make(chan outbound, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		closeBox:   make(chan int, 16),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins the hub's main loop in a goroutine
func (h *Hub) Start(ctx context.Context) {
	go h.Run(ctx)
}

// Run delivers events and heartbeats until ctx is done, then disconnects
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.heartbeat)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for boxID, clients := range h.boxes {
				for client := range clients {
					close(client.send)
				}
				delete(h.boxes, boxID)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			if h.boxes[client.boxID] == nil {
				h.boxes[client.boxID] = make(map[*Client]bool)
			}
			h.boxes[client.boxID][client] = true
			n := len(h.boxes[client.boxID])
			h.mutex.Unlock()
			h.log.Debug("Client connected", "box_id", client.boxID, "client_id", client.ID(), "trusted", client.trusted, "box_clients", n)

		case client := <-h.unregister:
			h.remove(client, "disconnected")

		case boxID := <-h.closeBox:
			h.mutex.RLock()
			clients := make([]*Client, 0, len(h.boxes[boxID]))
			for client := range h.boxes[boxID] {
				clients = append(clients, client)
			}
			h.mutex.RUnlock()
			for _, client := range clients {
				h.remove(client, "box deleted")
			}

		case msg := <-h.outbox:
			if msg.client == nil {
				h.deliver(msg.event)
				continue
			}
			h.mutex.RLock()
			registered := h.boxes[msg.client.boxID][msg.client]
			h.mutex.RUnlock()
			if registered {
				h.sendTo(msg.client, msg.event)
			}

		case <-ticker.Chan():
			h.beat()
		}
	}
}

// remove must only be called from the run loop.
func (h *Hub) remove(client *Client, reason string) {
	h.mutex.Lock()
	clients, ok := h.boxes[client.boxID]
	if !ok || !clients[client] {
		h.mutex.Unlock()
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.boxes, client.boxID)
	}
	close(client.send)
	h.mutex.Unlock()
	h.log.Debug("Client disconnected", "box_id", client.boxID, "client_id", client.ID(), "reason", reason)
}

func (h *Hub) deliver(ev models.Event) {
	full, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("Failed to encode event", "box_id", ev.BoxID, "type", ev.Type, "error", err)
		return
	}
	redacted, err := json.Marshal(ev.Redacted())
	if err != nil {
		h.log.Error("Failed to encode event", "box_id", ev.BoxID, "type", ev.Type, "error", err)
		return
	}

	var slow []*Client
	h.mutex.RLock()
	for client := range h.boxes[ev.BoxID] {
		data := redacted
		if client.trusted {
			data = full
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range slow {
		h.remove(client, "send buffer full")
	}
}

func (h *Hub) sendTo(client *Client, ev models.Event) {
	if !client.trusted {
		ev = ev.Redacted()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("Failed to encode event", "box_id", ev.BoxID, "type", ev.Type, "error", err)
		return
	}
	select {
	case client.send <- data:
	default:
		h.remove(client, "send buffer full")
	}
}

// beat pings every subscriber and drops the ones that stayed silent for
// two heartbeat intervals.
func (h *Hub) beat() {
	now := h.clock.Now()
	deadline := now.Add(-2 * h.heartbeat).UnixNano()

	var stale, live []*Client
	h.mutex.RLock()
	for _, clients := range h.boxes {
		for client := range clients {
			if client.lastSeen.Load() <= deadline {
				stale = append(stale, client)
			} else {
				live = append(live, client)
			}
		}
	}
	h.mutex.RUnlock()

	for _, client := range stale {
		h.remove(client, "heartbeat timeout")
		client.conn.Close()
	}
	for _, client := range live {
		h.sendTo(client, models.Event{BoxID: client.boxID, Type: models.EventPing, Timestamp: now.UnixMilli()})
	}
}

// Broadcast queues ev for every subscriber of its box. It implements
// services.Broadcaster.
func (h *Hub) Broadcast(ev models.Event) {
	select {
	case h.outbox <- outbound{event: ev}:
	case <-h.done:
	}
}

// CloseBox disconnects every subscriber of boxID
func (h *Hub) CloseBox(boxID int) {
	select {
	case h.closeBox <- boxID:
	case <-h.done:
	}
}

// Subscribers returns how many clients are subscribed to boxID
func (h *Hub) Subscribers(boxID int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.boxes[boxID])
}

func (h *Hub) reply(client *Client, ev models.Event) {
	select {
	case h.outbox <- outbound{client: client, event: ev}:
	case <-h.done:
	}
}

func (h *Hub) reject(client *Client, cmd models.Command, reason string) {
	h.reply(client, models.Event{
		BoxID:     client.boxID,
		Type:      models.EventCommandRejected,
		Command:   cmd.Type,
		Reason:    reason,
		Timestamp: h.clock.Now().UnixMilli(),
	})
}

// handle processes one command received from client. The subscription
// decides the box: a command never reaches another box.
func (h *Hub) handle(client *Client, cmd models.Command) {
	cmd.BoxID = client.boxID

	switch cmd.Type {
	case models.CmdPong:
		return
	case models.CmdRequestState:
		err := h.contest.SnapshotTo(context.Background(), client.boxID, func(ev models.Event) {
			h.reply(client, ev)
		})
		if err != nil {
			h.reject(client, cmd, err.Error())
		}
		return
	}

	if !cmd.Type.Known() {
		h.log.Debug("Command dropped", "box_id", client.boxID, "type", cmd.Type, "reason", "unknown command")
		h.reject(client, cmd, "unknown command type")
		return
	}
	if _, err := h.contest.Apply(context.Background(), cmd); err != nil {
		h.reject(client, cmd, err.Error())
	}
}

// readPump pumps commands from the websocket connection to the authority
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("WebSocket error", "box_id", c.boxID, "error", err)
			}
			break
		}
		c.lastSeen.Store(c.hub.clock.Now().UnixNano())

		var cmd models.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.log.Debug("Malformed command", "box_id", c.boxID, "client_id", c.ID(), "error", err)
			c.hub.reject(c, cmd, "malformed command")
			continue
		}
		c.hub.handle(c, cmd)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	// Hub closed the channel
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// ServeBox upgrades the request and subscribes the connection to boxID.
// Trusted subscribers receive session tokens; everyone else gets redacted events.
func (h *Hub) ServeBox(w http.ResponseWriter, r *http.Request, boxID int, trusted bool) {
	if !h.contest.HasBox(boxID) {
		http.Error(w, "box not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("WebSocket upgrade error", "box_id", boxID, "error", err)
		return
	}

	client := &Client{
		id:      uuid.New(),
		hub:     h,
		conn:    conn,
		boxID:   boxID,
		trusted: trusted,
		send:    make(chan []byte, sendBuffer),
	}
	client.lastSeen.Store(h.clock.Now().UnixNano())

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in new goroutines
	go client.writePump()
	go client.readPump()
}
