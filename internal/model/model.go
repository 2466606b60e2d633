package model

import (
	"time"
)

// User represents a registered user.
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Provider   string    `json:"-"`
	ProviderID string    `json:"-"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	Created    time.Time `json:"created"`
}

// Game represents one trivia game. A game is open (accepting joins and
// leaves) exactly while Started is nil; starting freezes the roster.
type Game struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	CreatorID    int64      `json:"creator_id"`
	QuestionTime int        `json:"question_time"`
	AnswerTime   int        `json:"answer_time"`
	RoundsNumber *int       `json:"rounds_number"`
	Created      time.Time  `json:"created"`
	Started      *time.Time `json:"started"`
	Ended        *time.Time `json:"ended"`
	Players      []User     `json:"players,omitempty"`
}

// IsOpen reports whether the game still accepts joins and leaves.
func (g *Game) IsOpen() bool {
	return g.Started == nil
}

// Round belongs to one game, numbered from 1 in start order. The five phase
// timestamps drive the round state machine: the current phase is derived
// from the first one that is still nil.
type Round struct {
	ID              int64      `json:"id"`
	GameID          int64      `json:"game_id"`
	Number          int        `json:"number"`
	NosyID          int64      `json:"nosy_id"`
	Question        string     `json:"question,omitempty"`
	Started         time.Time  `json:"started"`
	QuestionArrived *time.Time `json:"question_arrived,omitempty"`
	AnswerEnded     *time.Time `json:"answer_ended,omitempty"`
	QualifyEnded    *time.Time `json:"qualify_ended,omitempty"`
	Ended           *time.Time `json:"ended,omitempty"`
}

// Move is a player's single submission in a round. The nosy's move carries
// the correct answer; everyone else's carries their attempt. Only the
// evaluation fields change after creation.
type Move struct {
	ID             int64      `json:"id"`
	RoundID        int64      `json:"round_id"`
	PlayerID       int64      `json:"player_id"`
	Answer         string     `json:"answer"`
	Evaluation     *int       `json:"evaluation"`
	AutoEvaluation bool       `json:"auto_evaluation"`
	Created        time.Time  `json:"created"`
	Evaluated      *time.Time `json:"evaluated,omitempty"`
}

// Qualification asks one player to judge another player's graded answer.
// IsCorrect stays nil until the player assesses; Qualified records when.
type Qualification struct {
	ID        int64      `json:"id"`
	MoveID    int64      `json:"move_id"`
	PlayerID  int64      `json:"player_id"`
	IsCorrect *bool      `json:"is_correct"`
	Created   time.Time  `json:"created"`
	Qualified *time.Time `json:"qualified,omitempty"`
}

// Fault is a disciplinary mark against a player in a round.
type Fault struct {
	ID       int64     `json:"id"`
	RoundID  int64     `json:"round_id"`
	PlayerID int64     `json:"player_id"`
	Category string    `json:"category"`
	Value    int       `json:"fault_value"`
	Created  time.Time `json:"created"`
}

// ActionError records a rejected client action for auditing. RoundID is nil
// when the action was rejected before any round existed.
type ActionError struct {
	ID           int64     `json:"id"`
	RoundID      *int64    `json:"round_id,omitempty"`
	PlayerID     int64     `json:"player_id"`
	Action       string    `json:"action"`
	ErrorMessage string    `json:"error_message"`
	Created      time.Time `json:"created"`
}
