package handler

import (
	"errors"
	"net/http"

	"github.com/nmoreras/pregunton/internal/auth"
	"github.com/nmoreras/pregunton/internal/service"
)

// UserHandler handles user profile endpoints.
type UserHandler struct {
	gameSvc *service.GameService
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(gameSvc *service.GameService) *UserHandler {
	return &UserHandler{gameSvc: gameSvc}
}

// GetProfile handles GET /profile — the current user and their games.
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	user, games, err := h.gameSvc.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  user,
		"games": games,
	})
}
