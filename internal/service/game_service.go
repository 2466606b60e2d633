package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/nmoreras/pregunton/internal/model"
	"github.com/nmoreras/pregunton/internal/repository"
)

// snapshotTTL bounds how long a cached state snapshot outlives its game.
const snapshotTTL = time.Hour

// allowedPhaseTime reports whether a per-game question/answer time setting
// is one of the values the protocol admits.
func allowedPhaseTime(seconds int) bool {
	return seconds == 60 || seconds == 90 || seconds == 120
}

// GameService handles the game lifecycle outside of rounds: creation,
// roster changes, deletion, and the cached state snapshots.
type GameService struct {
	gameRepo    repository.GameRepository
	roundRepo   repository.RoundRepository
	userRepo    repository.UserRepository
	cache       repository.StateCache
	broadcaster Broadcaster
}

// NewGameService creates a GameService.
func NewGameService(
	gameRepo repository.GameRepository,
	roundRepo repository.RoundRepository,
	userRepo repository.UserRepository,
	cache repository.StateCache,
	broadcaster Broadcaster,
) *GameService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &GameService{
		gameRepo:    gameRepo,
		roundRepo:   roundRepo,
		userRepo:    userRepo,
		cache:       cache,
		broadcaster: broadcaster,
	}
}

// CreateGame validates the configuration, creates the game, and auto-joins
// the creator. Zero question/answer times fall back to the default.
func (s *GameService) CreateGame(ctx context.Context, name string, creatorID int64, questionTime, answerTime int) (*model.Game, error) {
	if questionTime == 0 {
		questionTime = 90
	}
	if answerTime == 0 {
		answerTime = 90
	}
	if utf8.RuneCountInString(name) < 3 {
		return nil, &ValidationError{Msg: msgNameTooShort}
	}
	if !allowedPhaseTime(questionTime) {
		return nil, &ValidationError{Msg: msgBadQuestionTm}
	}
	if !allowedPhaseTime(answerTime) {
		return nil, &ValidationError{Msg: msgBadAnswerTm}
	}

	game, err := s.gameRepo.Create(ctx, name, creatorID, questionTime, answerTime)
	if err != nil {
		return nil, err
	}
	if err := s.gameRepo.AddPlayer(ctx, game.ID, creatorID); err != nil {
		return nil, err
	}
	return s.gameRepo.FindByID(ctx, game.ID)
}

// GetGame returns a game by ID.
func (s *GameService) GetGame(ctx context.Context, gameID int64) (*model.Game, error) {
	game, err := s.gameRepo.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return nil, ErrGameNotFound
	}
	return game, nil
}

// ListOpenGames returns the lobby listing as seen by viewer.
func (s *GameService) ListOpenGames(ctx context.Context, viewer int64) ([]GameView, error) {
	games, err := s.gameRepo.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]GameView, 0, len(games))
	for i := range games {
		views = append(views, NewGameView(&games[i], viewer))
	}
	return views, nil
}

// JoinGame adds a player to an open game and announces it to the room.
// Started games reject joins with the protocol's Spanish message.
func (s *GameService) JoinGame(ctx context.Context, gameID, userID int64) error {
	game, err := s.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if !game.IsOpen() {
		return &ValidationError{Msg: MsgGameStarted}
	}
	for _, p := range game.Players {
		if p.ID == userID {
			return ErrAlreadyJoined
		}
	}

	if err := s.gameRepo.AddPlayer(ctx, gameID, userID); err != nil {
		return err
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil || user == nil {
		return fmt.Errorf("find joining user: %w", err)
	}
	s.broadcaster.Broadcast(gameID, "player_joined", map[string]any{
		"player_id": user.ID,
		"username":  user.Username,
	})
	return nil
}

// UnjoinGame removes a player from an open game. The creator cannot leave
// their own game; they delete it instead.
func (s *GameService) UnjoinGame(ctx context.Context, gameID, userID int64) error {
	game, err := s.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if !game.IsOpen() {
		return &ValidationError{Msg: MsgGameStarted}
	}
	if game.CreatorID == userID {
		return ErrCreatorCannotLeave
	}
	member := false
	for _, p := range game.Players {
		if p.ID == userID {
			member = true
			break
		}
	}
	if !member {
		return ErrNotInGame
	}

	if err := s.gameRepo.RemovePlayer(ctx, gameID, userID); err != nil {
		return err
	}
	s.broadcaster.Broadcast(gameID, "player_unjoined", map[string]any{"player_id": userID})
	return nil
}

// DeleteGame removes an open game. Only the creator can delete, and only
// while the game has not started.
func (s *GameService) DeleteGame(ctx context.Context, gameID, userID int64) error {
	game, err := s.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if game.CreatorID != userID {
		return ErrNotCreator
	}
	if !game.IsOpen() {
		return &ValidationError{Msg: MsgGameStarted}
	}

	s.broadcaster.Broadcast(gameID, "game_deleted", map[string]any{"game_id": gameID})
	if err := s.gameRepo.Delete(ctx, gameID); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.DeleteSnapshot(ctx, gameID); err != nil {
			log.Warn().Err(err).Int64("gameId", gameID).Msg("Failed to drop cached snapshot")
		}
	}
	return nil
}

// Profile returns a user together with the games they belong to.
func (s *GameService) Profile(ctx context.Context, userID int64) (*model.User, []model.Game, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrUserNotFound
	}
	games, err := s.gameRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, games, nil
}

// SaveStateSnapshot builds the authoritative snapshot of a game and caches
// it for spectators and reconnecting clients.
func (s *GameService) SaveStateSnapshot(ctx context.Context, gameID, viewer int64) (*StateSnapshot, error) {
	game, err := s.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	snap := &StateSnapshot{
		Game:    NewGameView(game, viewer),
		SavedAt: time.Now().UTC(),
	}

	round, err := s.roundRepo.CurrentRound(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if round != nil {
		snap.RoundNumber = round.Number
		snap.Phase = string(roundClock(round).Phase())
		snap.NosyID = round.NosyID
	}

	scores, err := gameScores(ctx, s.roundRepo, game)
	if err != nil {
		return nil, err
	}
	snap.Scores = scoreBoard(game, scores)

	faults, err := s.roundRepo.ListFaults(ctx, gameID)
	if err != nil {
		return nil, err
	}
	snap.Faults = faults

	if s.cache != nil {
		data, err := json.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot: %w", err)
		}
		if err := s.cache.SaveSnapshot(ctx, gameID, data, snapshotTTL); err != nil {
			log.Warn().Err(err).Int64("gameId", gameID).Msg("Failed to cache snapshot")
		}
	}
	return snap, nil
}

// RecentStates returns the most recently cached snapshots, newest first.
func (s *GameService) RecentStates(ctx context.Context, limit int64) ([]json.RawMessage, error) {
	if s.cache == nil {
		return nil, nil
	}
	return s.cache.RecentSnapshots(ctx, limit)
}
