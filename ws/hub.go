package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/akinalp/casedesk/pkg/logger"
)

// EventPublisher is the part of the hub services depend on.
//
// Services never see *Hub. Tests substitute a recorder, and the message
// service only needs to know who is online and how to reach them.
type EventPublisher interface {
	BroadcastToUser(userID string, event Event)
	BroadcastToUsers(userIDs []string, event Event)
	IsOnline(userID string) bool
}

// Hub tracks connections per user; a user may be connected from several
// devices at once.
//
// Registration and removal are serialized through the register and
// unregister channels handled by Run. Broadcasts read the client map under
// the read lock and push into each client's send buffer without blocking;
// a full buffer drops that client instead of stalling the sender.
//
// Every outgoing event is stamped with the next value of seq, so a client
// can tell when it missed events.
type Hub struct {
	clients map[string]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	closeOnce  sync.Once

	seq atomic.Int64

	usernames map[string]string
	userMu    sync.RWMutex

	onUserFirstConnect      func(userID string)
	onUserFullyDisconnected func(userID string)
	onTyping                func(userID, username, chatID string)

	log *zap.Logger
}

// NewHub creates a hub; call Run in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		usernames:  make(map[string]string),
		log:        logger.Named("ws"),
	}
}

// OnUserFirstConnect runs fn when a user opens their first connection.
func (h *Hub) OnUserFirstConnect(fn func(userID string)) { h.onUserFirstConnect = fn }

// OnUserFullyDisconnected runs fn when a user's last connection closes.
func (h *Hub) OnUserFullyDisconnected(fn func(userID string)) { h.onUserFullyDisconnected = fn }

// OnTyping runs fn for every typing op received from a client.
func (h *Hub) OnTyping(fn func(userID, username, chatID string)) { h.onTyping = fn }

// Run serializes registrations until Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case <-h.done:
			return
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	first := false
	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]bool)
		first = true
	}
	h.clients[client.userID][client] = true
	n := len(h.clients[client.userID])
	h.mu.Unlock()

	h.log.Debug("client_connected", zap.String("user_id", client.userID), zap.Int("connections", n))

	if first && h.onUserFirstConnect != nil {
		go h.onUserFirstConnect(client.userID)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	last := false
	if clients, ok := h.clients[client.userID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			close(client.send)
			if len(clients) == 0 {
				delete(h.clients, client.userID)
				last = true
			}
		}
	}
	h.mu.Unlock()

	if last {
		h.log.Debug("user_disconnected", zap.String("user_id", client.userID))
		if h.onUserFullyDisconnected != nil {
			go h.onUserFullyDisconnected(client.userID)
		}
	}
}

func (h *Hub) encode(event Event) ([]byte, bool) {
	event.Seq = h.seq.Add(1)
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("event_marshal_failed", zap.String("op", event.Op), zap.Error(err))
		return nil, false
	}
	return data, true
}

// deliver must be called with h.mu held for reading. A client whose buffer
// is full is dropped.
func (h *Hub) deliver(clients map[*Client]bool, data []byte) {
	for client := range clients {
		select {
		case client.send <- data:
		default:
			go h.drop(client)
		}
	}
}

// drop unregisters c unless the hub is shutting down.
func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// BroadcastToUser sends event to every connection of userID.
func (h *Hub) BroadcastToUser(userID string, event Event) {
	h.BroadcastToUsers([]string{userID}, event)
}

// BroadcastToUsers sends the same event, with a single seq, to every
// connection of each listed user. Offline users are skipped.
func (h *Hub) BroadcastToUsers(userIDs []string, event Event) {
	if len(userIDs) == 0 {
		return
	}
	data, ok := h.encode(event)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range userIDs {
		if clients, ok := h.clients[id]; ok {
			h.deliver(clients, data)
		}
	}
}

// IsOnline reports whether userID has at least one connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// GetOnlineUserIDs lists connected users.
func (h *Hub) GetOnlineUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		ids = append(ids, userID)
	}
	return ids
}

func (h *Hub) setUsername(userID, username string) {
	h.userMu.Lock()
	defer h.userMu.Unlock()
	h.usernames[userID] = username
}

func (h *Hub) username(userID string) string {
	h.userMu.RLock()
	defer h.userMu.RUnlock()
	return h.usernames[userID]
}

// Shutdown closes every connection and stops Run. Later calls do nothing.
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		for _, clients := range h.clients {
			for client := range clients {
				close(client.send)
			}
		}
		h.clients = make(map[string]map[*Client]bool)
		close(h.done)
		h.log.Info("hub_shut_down")
	})
}
