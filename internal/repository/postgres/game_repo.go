package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nmoreras/pregunton/internal/model"
)

// GameRepo handles game and game_player database operations.
type GameRepo struct {
	db *sql.DB
}

// NewGameRepo creates a GameRepo.
func NewGameRepo(db *sql.DB) *GameRepo {
	return &GameRepo{db: db}
}

// Create inserts a new game.
func (r *GameRepo) Create(ctx context.Context, name string, creatorID int64, questionTime, answerTime int) (*model.Game, error) {
	var g model.Game
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO games (name, creator_id, question_time, answer_time)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, creator_id, question_time, answer_time, rounds_number, created, started, ended`,
		name, creatorID, questionTime, answerTime,
	).Scan(&g.ID, &g.Name, &g.CreatorID, &g.QuestionTime, &g.AnswerTime, &g.RoundsNumber, &g.Created, &g.Started, &g.Ended)
	if err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}
	return &g, nil
}

// FindByID returns a game by ID with its roster.
func (r *GameRepo) FindByID(ctx context.Context, id int64) (*model.Game, error) {
	var g model.Game
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, creator_id, question_time, answer_time, rounds_number, created, started, ended
		 FROM games WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.CreatorID, &g.QuestionTime, &g.AnswerTime, &g.RoundsNumber, &g.Created, &g.Started, &g.Ended)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find game: %w", err)
	}

	players, err := r.listPlayers(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Players = players
	return &g, nil
}

// ListOpen returns games that have not started yet, newest first, with
// their rosters.
func (r *GameRepo) ListOpen(ctx context.Context) ([]model.Game, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, creator_id, question_time, answer_time, rounds_number, created, started, ended
		 FROM games WHERE started IS NULL ORDER BY created DESC LIMIT 50`)
	if err != nil {
		return nil, fmt.Errorf("list open games: %w", err)
	}
	defer rows.Close()

	games, err := r.scanGames(rows)
	if err != nil {
		return nil, err
	}
	for i := range games {
		players, err := r.listPlayers(ctx, games[i].ID)
		if err != nil {
			return nil, err
		}
		games[i].Players = players
	}
	return games, nil
}

// ListByUser returns all games a user is part of, newest first.
func (r *GameRepo) ListByUser(ctx context.Context, userID int64) ([]model.Game, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT g.id, g.name, g.creator_id, g.question_time, g.answer_time, g.rounds_number, g.created, g.started, g.ended
		 FROM games g JOIN game_players gp ON g.id = gp.game_id
		 WHERE gp.user_id = $1
		 ORDER BY g.created DESC LIMIT 50`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user games: %w", err)
	}
	defer rows.Close()

	return r.scanGames(rows)
}

// ListRunning returns started, unfinished games with their rosters. Used to
// recover orchestration after a restart.
func (r *GameRepo) ListRunning(ctx context.Context) ([]model.Game, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, creator_id, question_time, answer_time, rounds_number, created, started, ended
		 FROM games WHERE started IS NOT NULL AND ended IS NULL ORDER BY created`)
	if err != nil {
		return nil, fmt.Errorf("list running games: %w", err)
	}
	defer rows.Close()

	games, err := r.scanGames(rows)
	if err != nil {
		return nil, err
	}
	for i := range games {
		players, err := r.listPlayers(ctx, games[i].ID)
		if err != nil {
			return nil, err
		}
		games[i].Players = players
	}
	return games, nil
}

// AddPlayer adds a user to a game's roster.
func (r *GameRepo) AddPlayer(ctx context.Context, gameID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO game_players (game_id, user_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		gameID, userID,
	)
	if err != nil {
		return fmt.Errorf("add player: %w", err)
	}
	return nil
}

// RemovePlayer removes a user from a game's roster.
func (r *GameRepo) RemovePlayer(ctx context.Context, gameID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM game_players WHERE game_id = $1 AND user_id = $2`,
		gameID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove player: %w", err)
	}
	return nil
}

// IsPlayer reports whether a user is on a game's roster.
func (r *GameRepo) IsPlayer(ctx context.Context, gameID, userID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM game_players WHERE game_id = $1 AND user_id = $2)`,
		gameID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("is player: %w", err)
	}
	return ok, nil
}

// SetStarted stamps the game start and fixes the number of rounds. The
// started IS NULL guard makes a second start a no-op at the database level.
func (r *GameRepo) SetStarted(ctx context.Context, gameID int64, rounds int, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE games SET started = $2, rounds_number = $3 WHERE id = $1 AND started IS NULL`,
		gameID, at, rounds,
	)
	if err != nil {
		return fmt.Errorf("set started: %w", err)
	}
	return nil
}

// SetEnded stamps the game end.
func (r *GameRepo) SetEnded(ctx context.Context, gameID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE games SET ended = $2 WHERE id = $1 AND ended IS NULL`,
		gameID, at,
	)
	if err != nil {
		return fmt.Errorf("set ended: %w", err)
	}
	return nil
}

// Delete removes a game and all associated data (cascades to players,
// rounds, moves, qualifications, faults, action errors).
func (r *GameRepo) Delete(ctx context.Context, gameID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM games WHERE id = $1`, gameID)
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	return nil
}

func (r *GameRepo) scanGames(rows *sql.Rows) ([]model.Game, error) {
	var games []model.Game
	for rows.Next() {
		var g model.Game
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatorID, &g.QuestionTime, &g.AnswerTime, &g.RoundsNumber, &g.Created, &g.Started, &g.Ended); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (r *GameRepo) listPlayers(ctx context.Context, gameID int64) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.avatar_url, u.created
		 FROM users u JOIN game_players gp ON u.id = gp.user_id
		 WHERE gp.game_id = $1 ORDER BY gp.joined`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var players []model.User
	for rows.Next() {
		var u model.User
		var avatar sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &avatar, &u.Created); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		u.AvatarURL = avatar.String
		players = append(players, u)
	}
	return players, rows.Err()
}
