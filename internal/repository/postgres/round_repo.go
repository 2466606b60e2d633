package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nmoreras/pregunton/internal/model"
)

// RoundRepo is the record store for rounds, moves, qualifications, faults,
// and the action-error audit log.
type RoundRepo struct {
	db *sql.DB
}

// NewRoundRepo creates a RoundRepo.
func NewRoundRepo(db *sql.DB) *RoundRepo {
	return &RoundRepo{db: db}
}

const roundColumns = `id, game_id, number, nosy_id, question, started, question_arrived, answer_ended, qualify_ended, ended`

func scanRound(row interface{ Scan(...any) error }) (*model.Round, error) {
	var r model.Round
	var question sql.NullString
	err := row.Scan(&r.ID, &r.GameID, &r.Number, &r.NosyID, &question,
		&r.Started, &r.QuestionArrived, &r.AnswerEnded, &r.QualifyEnded, &r.Ended)
	if err != nil {
		return nil, err
	}
	r.Question = question.String
	return &r, nil
}

// CreateRound inserts a new round for a game.
func (r *RoundRepo) CreateRound(ctx context.Context, gameID int64, number int, nosyID int64) (*model.Round, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO rounds (game_id, number, nosy_id)
		 VALUES ($1, $2, $3)
		 RETURNING `+roundColumns,
		gameID, number, nosyID,
	)
	round, err := scanRound(row)
	if err != nil {
		return nil, fmt.Errorf("create round: %w", err)
	}
	return round, nil
}

// CurrentRound returns the latest round of a game, or nil if none exist.
func (r *RoundRepo) CurrentRound(ctx context.Context, gameID int64) (*model.Round, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE game_id = $1 ORDER BY number DESC LIMIT 1`,
		gameID,
	)
	round, err := scanRound(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current round: %w", err)
	}
	return round, nil
}

// ListRounds returns all rounds of a game in start order.
func (r *RoundRepo) ListRounds(ctx context.Context, gameID int64) ([]model.Round, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE game_id = $1 ORDER BY number`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, *round)
	}
	return rounds, rows.Err()
}

// RestartRound reassigns the nosy of an existing round and resets it to the
// question phase.
func (r *RoundRepo) RestartRound(ctx context.Context, roundID, nosyID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE rounds
		 SET nosy_id = $2, question = NULL, started = $3,
		     question_arrived = NULL, answer_ended = NULL, qualify_ended = NULL, ended = NULL
		 WHERE id = $1`,
		roundID, nosyID, at,
	)
	if err != nil {
		return fmt.Errorf("restart round: %w", err)
	}
	return nil
}

// SetQuestion records the question text and the question_arrived timestamp.
// The question_arrived IS NULL guard makes a duplicate delivery a no-op.
func (r *RoundRepo) SetQuestion(ctx context.Context, roundID int64, question string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE rounds SET question = $2, question_arrived = $3
		 WHERE id = $1 AND question_arrived IS NULL`,
		roundID, question, at,
	)
	if err != nil {
		return fmt.Errorf("set question: %w", err)
	}
	return nil
}

// CreateMove inserts a player's move. The unique (round_id, player_id)
// constraint enforces one move per player per round.
func (r *RoundRepo) CreateMove(ctx context.Context, roundID, playerID int64, answer string) (*model.Move, error) {
	var m model.Move
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO moves (round_id, player_id, answer)
		 VALUES ($1, $2, $3)
		 RETURNING id, round_id, player_id, answer, evaluation, auto_evaluation, created, evaluated`,
		roundID, playerID, answer,
	).Scan(&m.ID, &m.RoundID, &m.PlayerID, &m.Answer, &m.Evaluation, &m.AutoEvaluation, &m.Created, &m.Evaluated)
	if err != nil {
		return nil, fmt.Errorf("create move: %w", err)
	}
	return &m, nil
}

// MoveByPlayer returns a player's move in a round, or nil if they have none.
func (r *RoundRepo) MoveByPlayer(ctx context.Context, roundID, playerID int64) (*model.Move, error) {
	var m model.Move
	err := r.db.QueryRowContext(ctx,
		`SELECT id, round_id, player_id, answer, evaluation, auto_evaluation, created, evaluated
		 FROM moves WHERE round_id = $1 AND player_id = $2`,
		roundID, playerID,
	).Scan(&m.ID, &m.RoundID, &m.PlayerID, &m.Answer, &m.Evaluation, &m.AutoEvaluation, &m.Created, &m.Evaluated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("move by player: %w", err)
	}
	return &m, nil
}

// ListMoves returns a round's moves ordered by creation time.
func (r *RoundRepo) ListMoves(ctx context.Context, roundID int64) ([]model.Move, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, round_id, player_id, answer, evaluation, auto_evaluation, created, evaluated
		 FROM moves WHERE round_id = $1 ORDER BY created, id`,
		roundID,
	)
	if err != nil {
		return nil, fmt.Errorf("list moves: %w", err)
	}
	defer rows.Close()

	var moves []model.Move
	for rows.Next() {
		var m model.Move
		if err := rows.Scan(&m.ID, &m.RoundID, &m.PlayerID, &m.Answer, &m.Evaluation, &m.AutoEvaluation, &m.Created, &m.Evaluated); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// SetEvaluation grades a move. Only the evaluation fields of a move are
// mutable after creation.
func (r *RoundRepo) SetEvaluation(ctx context.Context, moveID int64, grade int, auto bool, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE moves SET evaluation = $2, auto_evaluation = $3, evaluated = $4 WHERE id = $1`,
		moveID, grade, auto, at,
	)
	if err != nil {
		return fmt.Errorf("set evaluation: %w", err)
	}
	return nil
}

// ListQualifications returns a round's qualifications.
func (r *RoundRepo) ListQualifications(ctx context.Context, roundID int64) ([]model.Qualification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT q.id, q.move_id, q.player_id, q.is_correct, q.created, q.qualified
		 FROM qualifications q JOIN moves m ON q.move_id = m.id
		 WHERE m.round_id = $1 ORDER BY q.id`,
		roundID,
	)
	if err != nil {
		return nil, fmt.Errorf("list qualifications: %w", err)
	}
	defer rows.Close()

	var quals []model.Qualification
	for rows.Next() {
		var q model.Qualification
		if err := rows.Scan(&q.ID, &q.MoveID, &q.PlayerID, &q.IsCorrect, &q.Created, &q.Qualified); err != nil {
			return nil, fmt.Errorf("scan qualification: %w", err)
		}
		quals = append(quals, q)
	}
	return quals, rows.Err()
}

// QualificationByPlayer returns the qualification assigned to a player in a
// round, or nil if they have none.
func (r *RoundRepo) QualificationByPlayer(ctx context.Context, roundID, playerID int64) (*model.Qualification, error) {
	var q model.Qualification
	err := r.db.QueryRowContext(ctx,
		`SELECT q.id, q.move_id, q.player_id, q.is_correct, q.created, q.qualified
		 FROM qualifications q JOIN moves m ON q.move_id = m.id
		 WHERE m.round_id = $1 AND q.player_id = $2`,
		roundID, playerID,
	).Scan(&q.ID, &q.MoveID, &q.PlayerID, &q.IsCorrect, &q.Created, &q.Qualified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("qualification by player: %w", err)
	}
	return &q, nil
}

// SetAssessment records a player's correctness judgment on their assigned
// qualification.
func (r *RoundRepo) SetAssessment(ctx context.Context, qualificationID int64, isCorrect bool, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE qualifications SET is_correct = $2, qualified = $3 WHERE id = $1`,
		qualificationID, isCorrect, at,
	)
	if err != nil {
		return fmt.Errorf("set assessment: %w", err)
	}
	return nil
}

// CreateFault records a disciplinary mark against a player.
func (r *RoundRepo) CreateFault(ctx context.Context, roundID, playerID int64, category string, value int) (*model.Fault, error) {
	var f model.Fault
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO faults (round_id, player_id, category, fault_value)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, round_id, player_id, category, fault_value, created`,
		roundID, playerID, category, value,
	).Scan(&f.ID, &f.RoundID, &f.PlayerID, &f.Category, &f.Value, &f.Created)
	if err != nil {
		return nil, fmt.Errorf("create fault: %w", err)
	}
	return &f, nil
}

// ListFaults returns all faults recorded in a game, oldest first.
func (r *RoundRepo) ListFaults(ctx context.Context, gameID int64) ([]model.Fault, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT f.id, f.round_id, f.player_id, f.category, f.fault_value, f.created
		 FROM faults f JOIN rounds r ON f.round_id = r.id
		 WHERE r.game_id = $1 ORDER BY f.created, f.id`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("list faults: %w", err)
	}
	defer rows.Close()

	var faults []model.Fault
	for rows.Next() {
		var f model.Fault
		if err := rows.Scan(&f.ID, &f.RoundID, &f.PlayerID, &f.Category, &f.Value, &f.Created); err != nil {
			return nil, fmt.Errorf("scan fault: %w", err)
		}
		faults = append(faults, f)
	}
	return faults, rows.Err()
}

// CreateActionError records a rejected client action for auditing.
func (r *RoundRepo) CreateActionError(ctx context.Context, roundID *int64, playerID int64, action, message string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO action_errors (round_id, player_id, action, error_message)
		 VALUES ($1, $2, $3, $4)`,
		roundID, playerID, action, message,
	)
	if err != nil {
		return fmt.Errorf("create action error: %w", err)
	}
	return nil
}

// FinishAnswerPhase stamps answer_ended and records the answer-timeout
// faults in one transaction.
func (r *RoundRepo) FinishAnswerPhase(ctx context.Context, roundID int64, at time.Time, faults []model.Fault) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE rounds SET answer_ended = $2 WHERE id = $1 AND answer_ended IS NULL`,
			roundID, at,
		)
		if err != nil {
			return fmt.Errorf("set answer_ended: %w", err)
		}
		return insertFaults(ctx, tx, faults)
	})
}

// FinishQualifyPhase stamps qualify_ended, auto-grades the listed moves,
// records the grading-timeout fault if any, and inserts the round's
// qualifications, all in one transaction.
func (r *RoundRepo) FinishQualifyPhase(ctx context.Context, roundID int64, at time.Time, autoGradeMoveIDs []int64, quals []model.Qualification, fault *model.Fault) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE rounds SET qualify_ended = $2 WHERE id = $1 AND qualify_ended IS NULL`,
			roundID, at,
		)
		if err != nil {
			return fmt.Errorf("set qualify_ended: %w", err)
		}
		for _, moveID := range autoGradeMoveIDs {
			_, err := tx.ExecContext(ctx,
				`UPDATE moves SET evaluation = $2, auto_evaluation = TRUE, evaluated = $3 WHERE id = $1`,
				moveID, 2, at,
			)
			if err != nil {
				return fmt.Errorf("auto-grade move %d: %w", moveID, err)
			}
		}
		for _, q := range quals {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO qualifications (move_id, player_id) VALUES ($1, $2)`,
				q.MoveID, q.PlayerID,
			)
			if err != nil {
				return fmt.Errorf("insert qualification: %w", err)
			}
		}
		if fault != nil {
			return insertFaults(ctx, tx, []model.Fault{*fault})
		}
		return nil
	})
}

// FinishRound stamps ended and records the assessment-timeout faults in one
// transaction.
func (r *RoundRepo) FinishRound(ctx context.Context, roundID int64, at time.Time, faults []model.Fault) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE rounds SET ended = $2 WHERE id = $1 AND ended IS NULL`,
			roundID, at,
		)
		if err != nil {
			return fmt.Errorf("set ended: %w", err)
		}
		return insertFaults(ctx, tx, faults)
	})
}

func insertFaults(ctx context.Context, tx *sql.Tx, faults []model.Fault) error {
	for _, f := range faults {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO faults (round_id, player_id, category, fault_value) VALUES ($1, $2, $3, $4)`,
			f.RoundID, f.PlayerID, f.Category, f.Value,
		)
		if err != nil {
			return fmt.Errorf("insert fault: %w", err)
		}
	}
	return nil
}

func (r *RoundRepo) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
