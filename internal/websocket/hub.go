package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wastewatch-backend/internal/middleware"
	"wastewatch-backend/internal/models"
)

// Feed message types.
const (
	TypeReportUpdated = "report_updated"
	TypeReportStuck   = "report_stuck"
)

// Hub maintains active WebSocket connections and broadcasts report changes
type Hub struct {
	// Registered clients (userID -> Client)
	clients map[string]*Client

	// Targeted messages
	broadcast chan *Message

	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	logger *logrus.Logger

	// Mutex for thread-safe client map access
	mu sync.RWMutex
}

// Message represents a message to broadcast to a specific user
type Message struct {
	UserID string
	Data   interface{}
}

// Event is the envelope every feed message uses.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"timestamp"`
}

// ReportSummary is what consoles need to refresh a report row.
type ReportSummary struct {
	ID              string          `json:"id"`
	Status          models.Status   `json:"status"`
	Priority        int             `json:"priority"`
	Level           string          `json:"level,omitempty"`
	Classification  string          `json:"classification,omitempty"`
	Location        models.Location `json:"location"`
	CitizenID       string          `json:"citizenId"`
	AssignedSweeper string          `json:"assignedSweeper,omitempty"`
	AIError         string          `json:"aiError,omitempty"`
	AIAttempts      int             `json:"aiAttempts,omitempty"`
}

func summarize(r *models.Report) ReportSummary {
	return ReportSummary{
		ID:              r.ID,
		Status:          r.Status,
		Priority:        r.EffectivePriority(),
		Level:           r.Level,
		Classification:  r.Classification,
		Location:        r.Location,
		CitizenID:       r.CitizenID,
		AssignedSweeper: r.AssignedSweeper,
		AIError:         r.AIError,
		AIAttempts:      r.AIAttempts,
	}
}

// NewHub creates a new Hub instance
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop. It returns after Stop, closing every
// client.
func (h *Hub) Run() {
	log := h.logger.WithField("component", "websocket")
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for userID, client := range h.clients {
				close(client.send)
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			log.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.UserID]; ok && old != client {
				close(old.send)
			}
			h.clients[client.UserID] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.WithFields(logrus.Fields{
				"user_id": client.UserID,
				"role":    client.UserRole,
				"clients": total,
			}).Info("✅ client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.UserID]; ok && current == client {
				delete(h.clients, client.UserID)
				close(client.send)
				log.WithFields(logrus.Fields{
					"user_id": client.UserID,
					"clients": len(h.clients),
				}).Info("🔴 client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message.Data)
			if err != nil {
				log.WithError(err).Error("failed to marshal message")
				continue
			}
			h.mu.Lock()
			if client, ok := h.clients[message.UserID]; ok {
				select {
				case client.send <- data:
				default:
					// buffer full, disconnect
					close(client.send)
					delete(h.clients, client.UserID)
					log.WithField("user_id", message.UserID).Warn("client buffer full, disconnecting")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends Run. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds a client unless the hub is stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client; a no-op once the hub is stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// BroadcastToUser sends a message to a specific user
func (h *Hub) BroadcastToUser(userID string, data interface{}) {
	select {
	case h.broadcast <- &Message{UserID: userID, Data: data}:
	case <-h.done:
	}
}

// BroadcastToRole sends a message to all users with a specific role
func (h *Hub) BroadcastToRole(role string, data interface{}) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.WithError(err).WithField("component", "websocket").Error("failed to marshal broadcast message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.UserRole == role {
			select {
			case client.send <- dataBytes:
			default:
			}
		}
	}
}

// ReportChanged pushes a transition to admins, the reporting citizen and the
// assigned sweeper.
func (h *Hub) ReportChanged(_ context.Context, r *models.Report) {
	event := Event{Type: TypeReportUpdated, Data: summarize(r), Time: time.Now()}
	h.BroadcastToRole(middleware.RoleAdmin, event)
	for _, userID := range []string{r.CitizenID, r.AssignedSweeper} {
		if userID != "" && h.IsUserConnected(userID) {
			h.BroadcastToUser(userID, event)
		}
	}
}

// ReportStuck alerts admins about a report that ran out of analysis attempts.
func (h *Hub) ReportStuck(_ context.Context, r *models.Report) {
	h.BroadcastToRole(middleware.RoleAdmin, Event{Type: TypeReportStuck, Data: summarize(r), Time: time.Now()})
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsUserConnected checks if a user is currently connected
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}
