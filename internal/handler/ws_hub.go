package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nmoreras/pregunton/internal/metrics"
)

// WSEvent is the envelope for all WebSocket messages.
type WSEvent struct {
	Type   string `json:"type"`
	GameID int64  `json:"game_id"`
	Data   any    `json:"data"`
}

// ClientAction is the envelope for messages sent from the client. Only the
// fields relevant to the named action are set.
type ClientAction struct {
	Action      string `json:"action"`
	Rounds      int    `json:"rounds,omitempty"`
	Question    string `json:"question,omitempty"`
	Answer      string `json:"answer,omitempty"`
	UserID      int64  `json:"userid,omitempty"`
	Grade       *int   `json:"grade,omitempty"`
	Correctness string `json:"correctness,omitempty"`
}

// WSConn is one player's live session in one game room.
type WSConn struct {
	conn     *websocket.Conn
	connID   string
	playerID int64
	gameID   int64
	send     chan []byte
}

// Hub manages WebSocket sessions grouped into game rooms.
type Hub struct {
	mu    sync.RWMutex
	rooms map[int64]map[*WSConn]bool // gameID -> set of sessions
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[int64]map[*WSConn]bool)}
}

// Register adds a session to its game room.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.gameID] == nil {
		h.rooms[c.gameID] = make(map[*WSConn]bool)
	}
	h.rooms[c.gameID][c] = true
	metrics.WSConnections.Inc()
}

// Unregister removes a session from its room and closes its send channel.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[c.gameID]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.rooms, c.gameID)
	}
	close(c.send)
	metrics.WSConnections.Dec()
}

// BroadcastToGame sends an event to every session in a game room.
func (h *Hub) BroadcastToGame(gameID int64, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[gameID] {
		select {
		case c.send <- data:
		default:
			log.Warn().Int64("userId", c.playerID).Int64("gameId", gameID).Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// SendToPlayer sends an event to one player's sessions in a game room. A
// player with no live session misses the event; nothing is queued.
func (h *Hub) SendToPlayer(gameID, playerID int64, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[gameID] {
		if c.playerID != playerID {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Warn().Int64("userId", playerID).Int64("gameId", gameID).Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// ConnectionCount returns the total number of active sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.rooms {
		n += len(conns)
	}
	return n
}

// RoomSize returns the number of sessions in a game room.
func (h *Hub) RoomSize(gameID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[gameID])
}
