package bot

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog/log"
)

// Autoplay drives a full game end to end with scripted players: the first
// client creates the game, the rest join, and every client answers, grades,
// and assesses on cue until the server publishes a result.
type Autoplay struct {
	baseURL      string
	players      int
	rounds       int
	questionTime int
	answerTime   int
}

// NewAutoplay creates an Autoplay run configuration.
func NewAutoplay(baseURL string, players, rounds, questionTime, answerTime int) *Autoplay {
	return &Autoplay{
		baseURL:      baseURL,
		players:      players,
		rounds:       rounds,
		questionTime: questionTime,
		answerTime:   answerTime,
	}
}

// Run plays one complete game and returns once every player saw the final
// scoreboard (or the game was canceled).
func (a *Autoplay) Run(ctx context.Context) error {
	if a.players < 2 {
		return fmt.Errorf("need at least 2 players, got %d", a.players)
	}
	if a.rounds < a.players {
		a.rounds = a.players
	}

	clients := make([]*Client, a.players)
	for i := range clients {
		clients[i] = NewClient(fmt.Sprintf("autoplay-%d", i+1), a.baseURL)
		if err := clients[i].Login(); err != nil {
			return fmt.Errorf("login %s: %w", clients[i].Name(), err)
		}
	}

	creator := clients[0]
	gameID, err := creator.CreateGame("autoplay", a.questionTime, a.answerTime)
	if err != nil {
		return fmt.Errorf("create game: %w", err)
	}
	log.Info().Int64("gameId", gameID).Int("players", a.players).Int("rounds", a.rounds).Msg("Autoplay game created")

	for _, c := range clients[1:] {
		if err := c.JoinGame(gameID); err != nil {
			return fmt.Errorf("join %s: %w", c.Name(), err)
		}
	}
	for _, c := range clients {
		if err := c.ConnectWS(gameID); err != nil {
			return fmt.Errorf("ws %s: %w", c.Name(), err)
		}
		defer c.CloseWS()
	}

	if err := creator.Start(a.rounds); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, a.players)
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := a.play(ctx, c); err != nil {
				errs <- fmt.Errorf("%s: %w", c.Name(), err)
			}
		}(c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		return err
	}
	return nil
}

// play reacts to room events for one player until the game concludes.
func (a *Autoplay) play(ctx context.Context, c *Client) error {
	rng := rand.New(rand.NewSource(c.UserID()))
	var nosyID int64
	var collected []int64 // answer authors, seen by the nosy only

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-c.Events():
			if !ok {
				return fmt.Errorf("connection closed before game ended")
			}
			switch event.Type {
			case "round_started":
				collected = collected[:0]
				if id, ok := event.Data["nosy_id"].(float64); ok {
					nosyID = int64(id)
				}
				if nosyID == c.UserID() {
					if err := c.Question(fmt.Sprintf("¿Pregunta de %s?", c.Name())); err != nil {
						return err
					}
				}
			case "round_question":
				if err := c.Answer(fmt.Sprintf("respuesta de %s", c.Name())); err != nil {
					return err
				}
			case "round_answer":
				// Unicast; only the nosy sees these.
				if id, ok := event.Data["userid"].(float64); ok {
					collected = append(collected, int64(id))
				}
			case "answer_time_ended":
				if nosyID != c.UserID() {
					continue
				}
				for _, playerID := range collected {
					if err := c.Qualify(playerID, rng.Intn(4)); err != nil {
						return err
					}
				}
			case "round_review_answer":
				if err := c.Assess(rng.Intn(4) > 0); err != nil {
					return err
				}
			case "round_result":
				log.Debug().Str("bot", c.Name()).Msg("Round finished")
			case "game_result":
				log.Info().Str("bot", c.Name()).Interface("scores", event.Data["game_scores"]).Msg("Game finished")
				return nil
			case "game_canceled":
				log.Warn().Str("bot", c.Name()).Msg("Game canceled")
				return nil
			case "error":
				log.Warn().Str("bot", c.Name()).Interface("data", event.Data).Msg("Server rejected action")
			}
		}
	}
}
