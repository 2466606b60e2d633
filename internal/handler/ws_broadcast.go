package handler

// Broadcast implements service.Broadcaster using the WebSocket hub.
func (h *Hub) Broadcast(gameID int64, eventType string, data any) {
	h.BroadcastToGame(gameID, WSEvent{
		Type:   eventType,
		GameID: gameID,
		Data:   data,
	})
}

// Unicast implements service.Broadcaster for single-player events.
func (h *Hub) Unicast(gameID, playerID int64, eventType string, data any) {
	h.SendToPlayer(gameID, playerID, WSEvent{
		Type:   eventType,
		GameID: gameID,
		Data:   data,
	})
}
