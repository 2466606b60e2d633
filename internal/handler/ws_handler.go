package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nmoreras/pregunton/internal/auth"
	"github.com/nmoreras/pregunton/internal/metrics"
	"github.com/nmoreras/pregunton/internal/repository"
	"github.com/nmoreras/pregunton/internal/service"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second // Must be less than pongWait
	maxMsgSize  = 4096
	sendBufSize = 256

	actionTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS handled by middleware; tighten in production
	},
}

// WSHandler upgrades players into game rooms and dispatches their actions
// to the round orchestrator.
type WSHandler struct {
	hub      *Hub
	jwtMgr   *auth.JWTManager
	gameRepo repository.GameRepository
	rounds   *service.RoundService
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(hub *Hub, jwtMgr *auth.JWTManager, gameRepo repository.GameRepository, rounds *service.RoundService) *WSHandler {
	return &WSHandler{hub: hub, jwtMgr: jwtMgr, gameRepo: gameRepo, rounds: rounds}
}

// ServeWS handles GET /ws/trivia/{game_id}/ — upgrades to WebSocket.
// Auth via ?token= query parameter (browsers can't set headers on the
// upgrade request) or an Authorization header for non-browser clients.
// Only roster members may enter the room.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenStr = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if tokenStr == "" {
		http.Error(w, `{"error":"missing token parameter"}`, http.StatusUnauthorized)
		return
	}

	claims, err := h.jwtMgr.ValidateToken(tokenStr)
	if err != nil {
		http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
		return
	}

	gameID, err := strconv.ParseInt(r.PathValue("game_id"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid game id"}`, http.StatusBadRequest)
		return
	}
	member, err := h.gameRepo.IsPlayer(r.Context(), gameID, claims.UserID)
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !member {
		http.Error(w, `{"error":"not a player of this game"}`, http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &WSConn{
		conn:     conn,
		connID:   uuid.NewString(),
		playerID: claims.UserID,
		gameID:   gameID,
		send:     make(chan []byte, sendBufSize),
	}
	h.hub.Register(client)

	// Send a welcome message so the client can confirm the connection is live.
	welcome, _ := json.Marshal(WSEvent{
		Type:   "connected",
		GameID: gameID,
		Data:   map[string]any{"userid": claims.UserID},
	})
	client.send <- welcome

	go h.writePump(client)
	go h.readPump(client)

	log.Info().Int64("userId", claims.UserID).Int64("gameId", gameID).
		Str("connId", client.connID).Int("total", h.hub.ConnectionCount()).
		Msg("WebSocket client connected")
}

// readPump reads actions from the WebSocket connection and dispatches them.
func (h *WSHandler) readPump(c *WSConn) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		log.Info().Int64("userId", c.playerID).Int64("gameId", c.gameID).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Int64("userId", c.playerID).Msg("WebSocket unexpected close")
			}
			break
		}

		var action ClientAction
		if err := json.Unmarshal(message, &action); err != nil {
			h.sendError(c, "mensaje inválido")
			continue
		}
		h.dispatch(c, action)
	}
}

// dispatch routes one client action into the orchestrator. Rejections with
// a protocol message go back to the offending session only; the rest of the
// room never sees them.
func (h *WSHandler) dispatch(c *WSConn, action ClientAction) {
	metrics.ActionsTotal.WithLabelValues(action.Action).Inc()
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	var err error
	switch action.Action {
	case "start":
		err = h.rounds.Start(ctx, c.gameID, c.playerID, action.Rounds)
	case "question":
		err = h.rounds.Question(ctx, c.gameID, c.playerID, action.Question)
	case "answer":
		err = h.rounds.Answer(ctx, c.gameID, c.playerID, action.Answer)
	case "qualify":
		grade := -1
		if action.Grade != nil {
			grade = *action.Grade
		}
		err = h.rounds.Qualify(ctx, c.gameID, c.playerID, action.UserID, grade)
	case "assess":
		err = h.rounds.Assess(ctx, c.gameID, c.playerID, action.Correctness == "true")
	case "focus":
		err = h.rounds.Focus(ctx, c.gameID, c.playerID)
	default:
		h.sendError(c, "acción desconocida")
		return
	}
	if err == nil {
		return
	}

	var admission *service.AdmissionError
	if errors.As(err, &admission) {
		h.sendError(c, admission.Msg)
		return
	}
	log.Error().Err(err).Int64("gameId", c.gameID).Int64("userId", c.playerID).
		Str("action", action.Action).Msg("Action failed")
	h.sendError(c, "error interno")
}

// sendError delivers a protocol error to this session only.
func (h *WSHandler) sendError(c *WSConn, msg string) {
	metrics.EventsTotal.WithLabelValues("error").Inc()
	data, err := json.Marshal(WSEvent{
		Type:   "error",
		GameID: c.gameID,
		Data:   map[string]any{"message": msg},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump writes messages to the WebSocket connection.
func (h *WSHandler) writePump(c *WSConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain queued messages into the same write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
