package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzzle-records/internal/domain"
	"github.com/puzzle-records/internal/metrics"
)

// Message types
const (
	MessageTypeRecordAccepted = "record_accepted"
	MessageTypeSubscribe      = "subscribe"
	MessageTypeSubscribed     = "subscribed"
	MessageTypeUnsubscribe    = "unsubscribe"
	MessageTypeUnsubscribed   = "unsubscribed"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
	MessageTypeError          = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Board     string      `json:"board,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// AcceptedRecord is the public view of a newly verified record. The
// submitter's origin is never broadcast.
type AcceptedRecord struct {
	RecordID     int64  `json:"record_id"`
	GameName     string `json:"game_name"`
	Level        string `json:"level"`
	UserID       string `json:"user_uuid"`
	Nickname     string `json:"nickname"`
	ClearTime    int    `json:"clear_time"`
	MistakeCount int    `json:"mistake_count"`
	HintCount    int    `json:"hint_count"`
	Score        int    `json:"score,omitempty"`
}

// BoardKey names the subscription topic of a board
func BoardKey(game, level string) string {
	return fmt.Sprintf("%s:%s", game, level)
}

// Hub maintains the set of active clients and pushes accepted records to the
// clients subscribed to their board.
type Hub struct {
	// Registered clients by board key
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Outbound messages
	broadcast chan *Message

	// Subscription requests
	subscribe chan *subscriptionRequest

	// Unsubscription requests
	unsubscribe chan *subscriptionRequest

	// Mutex for thread-safe operations
	mu sync.RWMutex

	metrics *metrics.Metrics
	logger  *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	board  string
}

// NewHub creates a new Hub. m may be nil.
func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		metrics:     m,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.trackConnections()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				// Remove from all board subscriptions
				for board, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, board)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.trackConnections()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.clients[req.board]; !ok {
					h.clients[req.board] = make(map[*Client]bool)
				}
				h.clients[req.board][req.client] = true
				// acknowledged only once the subscription is in place
				req.client.sendAck(MessageTypeSubscribed, req.board)
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "board", req.board)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.board]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.board)
				}
			}
			if _, ok := h.allClients[req.client]; ok {
				req.client.sendAck(MessageTypeUnsubscribed, req.board)
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "board", req.board)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) trackConnections() {
	if h.metrics == nil {
		return
	}
	h.metrics.WebsocketConns.Set(float64(h.GetTotalConnections()))
}

// broadcastMessage sends a message to all subscribed clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range h.clients[message.Board] {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

// NotifyRecord pushes a newly verified record to its board's subscribers. It
// never blocks; when the hub is saturated the update is dropped.
func (h *Hub) NotifyRecord(rec domain.Record) {
	board := BoardKey(rec.GameName, rec.Level)
	message := &Message{
		Type:  MessageTypeRecordAccepted,
		Board: board,
		Data: AcceptedRecord{
			RecordID:     rec.ID,
			GameName:     rec.GameName,
			Level:        rec.Level,
			UserID:       rec.UserID,
			Nickname:     rec.Nickname,
			ClearTime:    rec.ClearTime,
			MistakeCount: rec.MistakeCount,
			HintCount:    rec.HintCount,
			Score:        rec.Score,
		},
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "board", board)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a board subscription
func (h *Hub) Subscribe(client *Client, board string) {
	req := &subscriptionRequest{client: client, board: board}
	select {
	case h.subscribe <- req:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a board subscription
func (h *Hub) Unsubscribe(client *Client, board string) {
	req := &subscriptionRequest{client: client, board: board}
	select {
	case h.unsubscribe <- req:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers for a board
func (h *Hub) GetSubscriberCount(board string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[board])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
