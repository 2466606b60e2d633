package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nmoreras/pregunton/internal/model"
)

// UserRepository defines user data operations.
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
	FindByProviderID(ctx context.Context, provider, providerID string) (*model.User, error)
	Upsert(ctx context.Context, provider, providerID, username, avatarURL string) (*model.User, error)
}

// GameRepository defines game and roster data operations.
type GameRepository interface {
	Create(ctx context.Context, name string, creatorID int64, questionTime, answerTime int) (*model.Game, error)
	FindByID(ctx context.Context, id int64) (*model.Game, error)
	ListOpen(ctx context.Context) ([]model.Game, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Game, error)
	ListRunning(ctx context.Context) ([]model.Game, error)
	AddPlayer(ctx context.Context, gameID, userID int64) error
	RemovePlayer(ctx context.Context, gameID, userID int64) error
	IsPlayer(ctx context.Context, gameID, userID int64) (bool, error)
	SetStarted(ctx context.Context, gameID int64, rounds int, at time.Time) error
	SetEnded(ctx context.Context, gameID int64, at time.Time) error
	Delete(ctx context.Context, gameID int64) error
}

// RoundRepository is the record store for everything the orchestrator
// mutates: rounds, moves, qualifications, faults, and the action-error
// audit log. The Finish* methods group the multi-row writes of a phase
// transition into one transaction so a crash can never leave a round
// half-transitioned.
type RoundRepository interface {
	CreateRound(ctx context.Context, gameID int64, number int, nosyID int64) (*model.Round, error)
	CurrentRound(ctx context.Context, gameID int64) (*model.Round, error)
	ListRounds(ctx context.Context, gameID int64) ([]model.Round, error)
	// RestartRound reassigns the nosy of an existing round and resets it to
	// the question phase (question cleared, clock restarted).
	RestartRound(ctx context.Context, roundID, nosyID int64, at time.Time) error
	SetQuestion(ctx context.Context, roundID int64, question string, at time.Time) error

	CreateMove(ctx context.Context, roundID, playerID int64, answer string) (*model.Move, error)
	MoveByPlayer(ctx context.Context, roundID, playerID int64) (*model.Move, error)
	// ListMoves returns a round's moves ordered by creation time.
	ListMoves(ctx context.Context, roundID int64) ([]model.Move, error)
	SetEvaluation(ctx context.Context, moveID int64, grade int, auto bool, at time.Time) error

	ListQualifications(ctx context.Context, roundID int64) ([]model.Qualification, error)
	QualificationByPlayer(ctx context.Context, roundID, playerID int64) (*model.Qualification, error)
	SetAssessment(ctx context.Context, qualificationID int64, isCorrect bool, at time.Time) error

	CreateFault(ctx context.Context, roundID, playerID int64, category string, value int) (*model.Fault, error)
	ListFaults(ctx context.Context, gameID int64) ([]model.Fault, error)
	CreateActionError(ctx context.Context, roundID *int64, playerID int64, action, message string) error

	// FinishAnswerPhase stamps answer_ended and records the answer-timeout
	// faults in one transaction.
	FinishAnswerPhase(ctx context.Context, roundID int64, at time.Time, faults []model.Fault) error
	// FinishQualifyPhase stamps qualify_ended, auto-grades the listed moves,
	// records the grading-timeout fault if any, and inserts the round's
	// qualifications, all in one transaction.
	FinishQualifyPhase(ctx context.Context, roundID int64, at time.Time, autoGradeMoveIDs []int64, quals []model.Qualification, fault *model.Fault) error
	// FinishRound stamps ended and records the assessment-timeout faults in
	// one transaction.
	FinishRound(ctx context.Context, roundID int64, at time.Time, faults []model.Fault) error
}

// StateCache defines the ephemeral game snapshot operations (Redis).
type StateCache interface {
	SaveSnapshot(ctx context.Context, gameID int64, snapshot json.RawMessage, ttl time.Duration) error
	GetSnapshot(ctx context.Context, gameID int64) (json.RawMessage, error)
	RecentSnapshots(ctx context.Context, limit int64) ([]json.RawMessage, error)
	DeleteSnapshot(ctx context.Context, gameID int64) error
}
