package service

import (
	"context"
	"time"

	"github.com/nmoreras/pregunton/internal/model"
	"github.com/nmoreras/pregunton/internal/repository"
	"github.com/nmoreras/pregunton/pkg/trivia"
)

// GameView is the REST shape of a game, enriched with the fields the lobby
// UI renders.
type GameView struct {
	model.Game
	PlayerCount int  `json:"player_count"`
	ICanStart   bool `json:"i_can_start"`
}

// NewGameView builds the view of a game as seen by viewer.
func NewGameView(g *model.Game, viewer int64) GameView {
	return GameView{
		Game:        *g,
		PlayerCount: len(g.Players),
		ICanStart:   g.CreatorID == viewer && g.IsOpen() && len(g.Players) >= 2,
	}
}

// PlayerScore pairs a roster member with their cumulative score.
type PlayerScore struct {
	PlayerID int64  `json:"player_id"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// RoundResult is one player's outcome for a single round.
type RoundResult struct {
	PlayerID int64 `json:"player_id"`
	Score    int   `json:"score"`
	Nosy     bool  `json:"nosy"`
}

// StateSnapshot is the authoritative view of a running game, cached for
// spectators and reconnecting clients.
type StateSnapshot struct {
	Game        GameView      `json:"game"`
	RoundNumber int           `json:"round_number"`
	Phase       string        `json:"phase"`
	NosyID      int64         `json:"nosy_id"`
	Scores      []PlayerScore `json:"scores"`
	Faults      []model.Fault `json:"faults"`
	SavedAt     time.Time     `json:"saved_at"`
}

// roundClock projects a round's timestamps onto the rules' phase machine.
func roundClock(r *model.Round) trivia.RoundClock {
	return trivia.RoundClock{
		Started:         r.Started,
		QuestionArrived: r.QuestionArrived,
		AnswerEnded:     r.AnswerEnded,
		QualifyEnded:    r.QualifyEnded,
		Ended:           r.Ended,
	}
}

// gameScores computes every roster member's cumulative score: the sum of
// their move evaluations across all rounds plus the nosy score of every
// ended round they hosted.
func gameScores(ctx context.Context, repo repository.RoundRepository, game *model.Game) (map[int64]int, error) {
	scores := make(map[int64]int, len(game.Players))
	for _, p := range game.Players {
		scores[p.ID] = 0
	}

	rounds, err := repo.ListRounds(ctx, game.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range rounds {
		moves, err := repo.ListMoves(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range moves {
			if m.Evaluation != nil {
				scores[m.PlayerID] += *m.Evaluation
			}
		}
		if r.Ended == nil {
			continue
		}
		quals, err := repo.ListQualifications(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		neg := 0
		for _, q := range quals {
			if q.IsCorrect != nil && !*q.IsCorrect {
				neg++
			}
		}
		scores[r.NosyID] += trivia.NosyScore(len(quals), neg)
	}
	return scores, nil
}

// scoreBoard flattens a score map into the wire shape, in roster order.
func scoreBoard(game *model.Game, scores map[int64]int) []PlayerScore {
	board := make([]PlayerScore, 0, len(game.Players))
	for _, p := range game.Players {
		board = append(board, PlayerScore{PlayerID: p.ID, Username: p.Username, Score: scores[p.ID]})
	}
	return board
}

// faultWeights sums each player's accumulated fault weight.
func faultWeights(faults []model.Fault) map[int64]int {
	weights := make(map[int64]int)
	for _, f := range faults {
		weights[f.PlayerID] += f.Value
	}
	return weights
}

// activePlayers filters the roster down to players who have not been
// disqualified by accumulated faults.
func activePlayers(game *model.Game, faults []model.Fault) []model.User {
	weights := faultWeights(faults)
	var active []model.User
	for _, p := range game.Players {
		if !trivia.Disqualified(weights[p.ID]) {
			active = append(active, p)
		}
	}
	return active
}
