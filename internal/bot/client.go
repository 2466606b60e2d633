// Package bot implements a scripted autoplayer used for load tests and
// protocol smoke tests: a handful of clients create a game, play every
// round through the real HTTP and WebSocket surface, and verify the game
// reaches a result.
package bot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSEvent mirrors handler.WSEvent for client-side deserialization.
type WSEvent struct {
	Type   string         `json:"type"`
	GameID int64          `json:"game_id"`
	Data   map[string]any `json:"data"`
}

// Client is an HTTP+WebSocket client for a single autoplaying player.
type Client struct {
	name     string
	baseURL  string
	token    string
	userID   int64
	wsConn   *websocket.Conn
	events   chan WSEvent
	httpC    *http.Client
	mu       sync.Mutex
	closedWS bool
}

// NewClient creates a new bot client targeting the given server URL.
func NewClient(name, baseURL string) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		events:  make(chan WSEvent, 64),
		httpC:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the bot name.
func (c *Client) Name() string { return c.name }

// UserID returns the bot's user ID after login.
func (c *Client) UserID() int64 { return c.userID }

// Login authenticates via the dev login endpoint.
func (c *Client) Login() error {
	resp, err := c.httpC.Get(c.baseURL + "/auth/dev?name=" + url.QueryEscape(c.name))
	if err != nil {
		return fmt.Errorf("dev login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("dev login status %d: %s", resp.StatusCode, body)
	}

	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("decode tokens: %w", err)
	}
	c.token = tokens.AccessToken

	profile, err := c.getJSON("/api/v1/profile")
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	if user, ok := profile["user"].(map[string]any); ok {
		if id, ok := user["id"].(float64); ok {
			c.userID = int64(id)
		}
	}
	log.Debug().Str("bot", c.name).Int64("userId", c.userID).Msg("Bot logged in")
	return nil
}

// CreateGame creates a new game and returns its ID.
func (c *Client) CreateGame(name string, questionTime, answerTime int) (int64, error) {
	body := map[string]any{
		"name":          name,
		"question_time": questionTime,
		"answer_time":   answerTime,
	}
	resp, err := c.postJSON("/api/v1/games", body)
	if err != nil {
		return 0, err
	}
	id, _ := resp["id"].(float64)
	return int64(id), nil
}

// JoinGame joins an existing game.
func (c *Client) JoinGame(gameID int64) error {
	_, err := c.postJSON(fmt.Sprintf("/api/v1/games/%d/join_game", gameID), nil)
	return err
}

// GetGame fetches game details.
func (c *Client) GetGame(gameID int64) (map[string]any, error) {
	return c.getJSON(fmt.Sprintf("/api/v1/games/%d", gameID))
}

// SaveState asks the server for the authoritative snapshot of the game.
func (c *Client) SaveState(gameID int64) (map[string]any, error) {
	return c.postJSON(fmt.Sprintf("/api/v1/games/%d/state", gameID), nil)
}

// ConnectWS opens the game-room WebSocket and starts listening for events.
func (c *Client) ConnectWS(gameID int64) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) +
		fmt.Sprintf("/ws/trivia/%d/?token=%s", gameID, url.QueryEscape(c.token))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	c.wsConn = conn

	go c.readWSLoop()
	return nil
}

// Send writes one client action to the game room.
func (c *Client) Send(action map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn == nil || c.closedWS {
		return fmt.Errorf("ws not connected")
	}
	return c.wsConn.WriteJSON(action)
}

// Start asks the server to start the game (creator only).
func (c *Client) Start(rounds int) error {
	return c.Send(map[string]any{"action": "start", "rounds": rounds})
}

// Question delivers the round question (nosy only).
func (c *Client) Question(text string) error {
	return c.Send(map[string]any{"action": "question", "question": text})
}

// Answer submits this player's answer.
func (c *Client) Answer(text string) error {
	return c.Send(map[string]any{"action": "answer", "answer": text})
}

// Qualify grades one player's answer (nosy only).
func (c *Client) Qualify(playerID int64, grade int) error {
	return c.Send(map[string]any{"action": "qualify", "userid": playerID, "grade": grade})
}

// Assess judges the assigned graded answer.
func (c *Client) Assess(correct bool) error {
	return c.Send(map[string]any{"action": "assess", "correctness": fmt.Sprintf("%t", correct)})
}

// Events returns the channel of incoming WebSocket events.
func (c *Client) Events() <-chan WSEvent { return c.events }

// CloseWS closes the WebSocket connection.
func (c *Client) CloseWS() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn != nil && !c.closedWS {
		c.closedWS = true
		c.wsConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wsConn.Close()
	}
}

func (c *Client) readWSLoop() {
	defer close(c.events)
	for {
		_, msg, err := c.wsConn.ReadMessage()
		if err != nil {
			if !c.closedWS {
				log.Debug().Err(err).Str("bot", c.name).Msg("WS read error")
			}
			return
		}
		var event WSEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			continue
		}
		c.events <- event
	}
}

func (c *Client) getJSON(path string) (map[string]any, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpC.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, body)
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

func (c *Client) postJSON(path string, payload any) (map[string]any, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpC.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, body)
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}
