package service

// Broadcaster sends real-time events to connected clients.
// Implemented by the WebSocket hub.
type Broadcaster interface {
	// Broadcast delivers an event to every session in a game's room.
	Broadcast(gameID int64, eventType string, data any)
	// Unicast delivers an event only to the sessions of one player. If the
	// player has no live session the event is dropped, not queued.
	Unicast(gameID, playerID int64, eventType string, data any)
}

// NoopBroadcaster is a no-op implementation for testing or when WS is disabled.
type NoopBroadcaster struct{}

func (NoopBroadcaster) Broadcast(int64, string, any)      {}
func (NoopBroadcaster) Unicast(int64, int64, string, any) {}
