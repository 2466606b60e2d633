package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nmoreras/pregunton/internal/auth"
	"github.com/nmoreras/pregunton/internal/service"
)

// GameHandler handles the game lobby endpoints.
type GameHandler struct {
	gameSvc *service.GameService
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(gameSvc *service.GameService) *GameHandler {
	return &GameHandler{gameSvc: gameSvc}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// CreateGame handles POST /games
func (h *GameHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	var req struct {
		Name         string `json:"name"`
		QuestionTime int    `json:"question_time,omitempty"`
		AnswerTime   int    `json:"answer_time,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	game, err := h.gameSvc.CreateGame(r.Context(), req.Name, userID, req.QuestionTime, req.AnswerTime)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Msg)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, game)
}

// ListGames handles GET /games
func (h *GameHandler) ListGames(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	games, err := h.gameSvc.ListOpenGames(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if games == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, games)
}

// GetGame handles GET /games/{id}
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	game, err := h.gameSvc.GetGame(r.Context(), gameID)
	if err != nil {
		if errors.Is(err, service.ErrGameNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, service.NewGameView(game, userID))
}

// DeleteGame handles DELETE /games/{id}
func (h *GameHandler) DeleteGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	if err := h.gameSvc.DeleteGame(r.Context(), gameID, userID); err != nil {
		var verr *service.ValidationError
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrGameNotFound):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrNotCreator):
			status = http.StatusForbidden
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Msg)
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// JoinGame handles POST /games/{id}/join_game. A started game rejects the
// join with 423 Locked, matching what the original clients expect.
func (h *GameHandler) JoinGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	if err := h.gameSvc.JoinGame(r.Context(), gameID, userID); err != nil {
		var verr *service.ValidationError
		switch {
		case errors.Is(err, service.ErrGameNotFound):
			writeError(w, http.StatusNotFound, "game not found")
		case errors.Is(err, service.ErrAlreadyJoined):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &verr):
			writeMessage(w, http.StatusLocked, verr.Msg)
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeMessage(w, http.StatusOK, service.MsgJoined)
}

// UnjoinGame handles POST /games/{id}/unjoin_game
func (h *GameHandler) UnjoinGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	if err := h.gameSvc.UnjoinGame(r.Context(), gameID, userID); err != nil {
		var verr *service.ValidationError
		switch {
		case errors.Is(err, service.ErrGameNotFound):
			writeError(w, http.StatusNotFound, "game not found")
		case errors.Is(err, service.ErrCreatorCannotLeave), errors.Is(err, service.ErrNotInGame):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.As(err, &verr):
			writeMessage(w, http.StatusLocked, verr.Msg)
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unjoined"})
}

// SaveState handles POST /games/{id}/state — builds the authoritative
// snapshot of the game and caches it.
func (h *GameHandler) SaveState(w http.ResponseWriter, r *http.Request) {
	gameID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	snap, err := h.gameSvc.SaveStateSnapshot(r.Context(), gameID, userID)
	if err != nil {
		if errors.Is(err, service.ErrGameNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// RecentStates handles GET /games/recent_states
func (h *GameHandler) RecentStates(w http.ResponseWriter, r *http.Request) {
	limit := int64(10)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	states, err := h.gameSvc.RecentStates(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if states == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, states)
}
