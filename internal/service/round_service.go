package service

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nmoreras/pregunton/internal/metrics"
	"github.com/nmoreras/pregunton/internal/model"
	"github.com/nmoreras/pregunton/internal/repository"
	"github.com/nmoreras/pregunton/pkg/trivia"
)

// RoundService drives the round state machine of every running game. All
// state lives in Postgres; the service holds only per-game mutexes and the
// in-process phase timers, so a restart loses nothing that
// RecoverActiveGames cannot rebuild.
//
// Every mutation of a game, whether from a client action or a timer expiry,
// runs under that game's mutex. Timer callbacks re-read the round and check
// its phase under the lock before acting, so a timer that lost the race to a
// client action becomes a no-op.
type RoundService struct {
	gameRepo    repository.GameRepository
	roundRepo   repository.RoundRepository
	broadcaster Broadcaster
	timings     Timings

	gameLocks sync.Map // gameID -> *sync.Mutex
	timers    sync.Map // gameID -> *phaseTimer

	rngMu sync.Mutex
	rng   *rand.Rand
}

type phaseTimer struct {
	stage string
	timer *time.Timer
}

// NewRoundService creates a RoundService.
func NewRoundService(
	gameRepo repository.GameRepository,
	roundRepo repository.RoundRepository,
	broadcaster Broadcaster,
	timings Timings,
) *RoundService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &RoundService{
		gameRepo:    gameRepo,
		roundRepo:   roundRepo,
		broadcaster: broadcaster,
		timings:     timings,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *RoundService) lock(gameID int64) *sync.Mutex {
	mu, _ := s.gameLocks.LoadOrStore(gameID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// schedule arms the game's phase timer, replacing whatever was armed before.
func (s *RoundService) schedule(gameID int64, stage string, d time.Duration, fn func()) {
	pt := &phaseTimer{stage: stage}
	pt.timer = time.AfterFunc(d, fn)
	if prev, loaded := s.timers.Swap(gameID, pt); loaded {
		prev.(*phaseTimer).timer.Stop()
	}
	log.Debug().Int64("gameId", gameID).Str("stage", stage).Dur("after", d).Msg("Timer armed")
}

func (s *RoundService) cancelTimer(gameID int64) {
	if pt, loaded := s.timers.LoadAndDelete(gameID); loaded {
		pt.(*phaseTimer).timer.Stop()
	}
}

// scheduleLocked arms a timer whose callback runs a round transition under
// the game lock. The warmup and recovery stages share this shape.
func (s *RoundService) scheduleLocked(gameID int64, stage string, d time.Duration, fn func(context.Context) error) {
	s.schedule(gameID, stage, d, func() {
		mu := s.lock(gameID)
		mu.Lock()
		defer mu.Unlock()
		if err := fn(context.Background()); err != nil {
			log.Error().Err(err).Int64("gameId", gameID).Str("stage", stage).Msg("Deferred round transition failed")
		}
	})
}

// Shutdown stops every armed timer. Games resume via RecoverActiveGames on
// the next boot.
func (s *RoundService) Shutdown() {
	s.timers.Range(func(key, value any) bool {
		value.(*phaseTimer).timer.Stop()
		s.timers.Delete(key)
		return true
	})
}

func (s *RoundService) emit(gameID int64, eventType string, data any) {
	metrics.EventsTotal.WithLabelValues(eventType).Inc()
	s.broadcaster.Broadcast(gameID, eventType, data)
}

func (s *RoundService) emitTo(gameID, playerID int64, eventType string, data any) {
	metrics.EventsTotal.WithLabelValues(eventType).Inc()
	s.broadcaster.Unicast(gameID, playerID, eventType, data)
}

func reject(msg string) error {
	return &AdmissionError{Msg: msg}
}

func running(g *model.Game) bool {
	return g.Started != nil && g.Ended == nil
}

// audit returns err unchanged, persisting rejected actions to the
// action-error log on the way out.
func (s *RoundService) audit(ctx context.Context, gameID, playerID int64, action string, err error) error {
	if err == nil {
		return nil
	}
	var roundID *int64
	if round, rerr := s.roundRepo.CurrentRound(ctx, gameID); rerr == nil && round != nil {
		roundID = &round.ID
	}
	if aerr := s.roundRepo.CreateActionError(ctx, roundID, playerID, action, err.Error()); aerr != nil {
		log.Warn().Err(aerr).Int64("gameId", gameID).Str("action", action).Msg("Failed to record action error")
	}
	return err
}

func (s *RoundService) loadGame(ctx context.Context, gameID int64) (*model.Game, error) {
	game, err := s.gameRepo.FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return nil, ErrGameNotFound
	}
	return game, nil
}

// standings pairs the active players with their current scores for nosy
// selection.
func standings(active []model.User, scores map[int64]int) []trivia.Standing {
	out := make([]trivia.Standing, 0, len(active))
	for _, p := range active {
		out = append(out, trivia.Standing{PlayerID: p.ID, Score: scores[p.ID]})
	}
	return out
}

func (s *RoundService) pickNosy(active []trivia.Standing, served map[int64]bool, prevNosy int64) int64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return trivia.PickNosy(active, served, prevNosy, s.rng)
}

// Start launches a game: freezes the roster, fixes the number of rounds, and
// arms the warmup timer that opens round one.
func (s *RoundService) Start(ctx context.Context, gameID, actor int64, rounds int) error {
	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()
	return s.audit(ctx, gameID, actor, "start", s.start(ctx, gameID, actor, rounds))
}

func (s *RoundService) start(ctx context.Context, gameID, actor int64, rounds int) error {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return err
	}
	if game.CreatorID != actor {
		return reject(msgOnlyCreatorStarts)
	}
	if len(game.Players) < 2 {
		return reject(msgNeedTwoPlayers)
	}
	if !game.IsOpen() {
		return reject(msgAlreadyStarted)
	}
	if rounds < len(game.Players) {
		return reject(msgRoundsBelowPlayers)
	}

	if err := s.gameRepo.SetStarted(ctx, gameID, rounds, time.Now().UTC()); err != nil {
		return err
	}
	log.Info().Int64("gameId", gameID).Int("rounds", rounds).Int("players", len(game.Players)).Msg("Game started")
	s.emit(gameID, "game_started", map[string]any{
		"rounds":  rounds,
		"players": game.Players,
	})

	s.scheduleLocked(gameID, "warmup", s.timings.Start, func(ctx context.Context) error {
		return s.beginRound(ctx, gameID, 1, 0)
	})
	return nil
}

// beginRound opens round `number`, picking the nosy and arming the question
// timer. Caller holds the game lock.
func (s *RoundService) beginRound(ctx context.Context, gameID int64, number int, prevNosy int64) error {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return err
	}
	if !running(game) {
		return nil
	}

	faults, err := s.roundRepo.ListFaults(ctx, gameID)
	if err != nil {
		return err
	}
	active := activePlayers(game, faults)
	if len(active) < trivia.MinActivePlayers(len(game.Players)) {
		return s.cancelGame(ctx, game)
	}

	rounds, err := s.roundRepo.ListRounds(ctx, gameID)
	if err != nil {
		return err
	}
	served := make(map[int64]bool, len(rounds))
	for _, r := range rounds {
		served[r.NosyID] = true
	}
	scores, err := gameScores(ctx, s.roundRepo, game)
	if err != nil {
		return err
	}

	nosy := s.pickNosy(standings(active, scores), served, prevNosy)
	round, err := s.roundRepo.CreateRound(ctx, gameID, number, nosy)
	if err != nil {
		return err
	}
	log.Info().Int64("gameId", gameID).Int("round", number).Int64("nosyId", nosy).Msg("Round started")
	s.emit(gameID, "round_started", map[string]any{
		"round_number": number,
		"nosy_id":      nosy,
	})

	s.scheduleQuestionTimer(game, round.ID)
	return nil
}

func (s *RoundService) scheduleQuestionTimer(game *model.Game, roundID int64) {
	d := time.Duration(game.QuestionTime)*s.timings.Second + s.timings.Delta
	s.schedule(game.ID, "question", d, func() { s.questionExpired(game.ID, roundID) })
}

// Question delivers the nosy's question and opens the answering phase.
func (s *RoundService) Question(ctx context.Context, gameID, actor int64, text string) error {
	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()
	return s.audit(ctx, gameID, actor, "question", s.question(ctx, gameID, actor, text))
}

func (s *RoundService) question(ctx context.Context, gameID, actor int64, text string) error {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return err
	}
	if !running(game) {
		return reject(msgGameNotRunning)
	}
	round, err := s.roundRepo.CurrentRound(ctx, gameID)
	if err != nil {
		return err
	}
	if round == nil {
		return reject(msgGameNotRunning)
	}
	if roundClock(round).Phase() != trivia.PhaseQuestion {
		return reject(msgQuestionDelivered)
	}
	if round.NosyID != actor {
		return reject(msgOnlyNosyQuestion)
	}

	// The question timer stays armed until the transition is persisted;
	// arming the answer timer replaces it.
	if err := s.roundRepo.SetQuestion(ctx, round.ID, text, time.Now().UTC()); err != nil {
		return err
	}
	s.emit(gameID, "round_question", map[string]any{"question": text})

	d := time.Duration(game.AnswerTime)*s.timings.Second + s.timings.Delta
	s.schedule(gameID, "answer", d, func() { s.answerExpired(gameID, round.ID) })
	return nil
}

// Answer records a player's answer. The nosy submits the reference answer
// through the same action. When the last active player answers, the phase
// closes without waiting for the timer.
func (s *RoundService) Answer(ctx context.Context, gameID, actor int64, text string) error {
	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()
	return s.audit(ctx, gameID, actor, "answer", s.answer(ctx, gameID, actor, text))
}

func (s *RoundService) answer(ctx context.Context, gameID, actor int64, text string) error {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return err
	}
	if !running(game) {
		return reject(msgGameNotRunning)
	}
	round, err := s.roundRepo.CurrentRound(ctx, gameID)
	if err != nil {
		return err
	}
	if round == nil || roundClock(round).Phase() != trivia.PhaseAnswering {
		return reject(msgNoMoreAnswers)
	}
	existing, err := s.roundRepo.MoveByPlayer(ctx, round.ID, actor)
	if err != nil {
		return err
	}
	if existing != nil {
		return reject(msgAnswerLocked)
	}

	if _, err := s.roundRepo.CreateMove(ctx, round.ID, actor, text); err != nil {
		return err
	}
	if actor != round.NosyID {
		s.emitTo(gameID, round.NosyID, "round_answer", map[string]any{
			"answer": text,
			"userid": actor,
		})
	}

	// Close early once every active player has answered.
	faults, err := s.roundRepo.ListFaults(ctx, gameID)
	if err != nil {
		return err
	}
	moves, err := s.roundRepo.ListMoves(ctx, round.ID)
	if err != nil {
		return err
	}
	moved := make(map[int64]bool, len(moves))
	for _, m := range moves {
		moved[m.PlayerID] = true
	}
	for _, p := range activePlayers(game, faults) {
		if !moved[p.ID] {
			return nil
		}
	}
	// The answer timer is left armed: if the close fails on a transient
	// store error, the expiry retries it instead of wedging the phase.
	return s.endAnswering(ctx, game, round)
}

// endAnswering closes the answering phase: faults the active players who
// never answered, then either opens grading or, with no answers to grade,
// skips straight past it. Caller holds the game lock.
func (s *RoundService) endAnswering(ctx context.Context, game *model.Game, round *model.Round) error {
	faults, err := s.roundRepo.ListFaults(ctx, game.ID)
	if err != nil {
		return err
	}
	moves, err := s.roundRepo.ListMoves(ctx, round.ID)
	if err != nil {
		return err
	}
	moved := make(map[int64]bool, len(moves))
	for _, m := range moves {
		moved[m.PlayerID] = true
	}
	var missed []model.Fault
	for _, p := range activePlayers(game, faults) {
		if !moved[p.ID] {
			missed = append(missed, model.Fault{
				RoundID:  round.ID,
				PlayerID: p.ID,
				Category: string(trivia.FaultAnswerTime),
				Value:    trivia.FaultValue(trivia.FaultAnswerTime),
			})
		}
	}

	if err := s.roundRepo.FinishAnswerPhase(ctx, round.ID, time.Now().UTC(), missed); err != nil {
		return err
	}
	// Broadcast only once the transition is durable, so a retried close
	// never signals the phase change twice.
	s.emit(game.ID, "answer_time_ended", map[string]any{"round_number": round.Number})
	s.announceFaults(ctx, game.ID, missed)

	// The grading phase is persisted, so its timer replaces the answer
	// timer now. The no-answer shortcut below replaces it in turn.
	s.schedule(game.ID, "qualify", s.timings.Qualify+s.timings.Delta, func() { s.qualifyExpired(game.ID, round.ID) })

	answers := 0
	for _, m := range moves {
		if m.PlayerID != round.NosyID {
			answers++
		}
	}
	if answers == 0 {
		return s.closeQualifying(ctx, game.ID, round.ID, false)
	}
	return nil
}

// Qualify records the nosy's grade for one player's answer. Grading the last
// pending answer closes the phase without waiting for the timer.
func (s *RoundService) Qualify(ctx context.Context, gameID, actor, target int64, grade int) error {
	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()
	return s.audit(ctx, gameID, actor, "qualify", s.qualify(ctx, gameID, actor, target, grade))
}

func (s *RoundService) qualify(ctx context.Context, gameID, actor, target int64, grade int) error {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return err
	}
	if !running(game) {
		return reject(msgGameNotRunning)
	}
	round, err := s.roundRepo.CurrentRound(ctx, gameID)
	if err != nil {
		return err
	}
	if round == nil || roundClock(round).Phase() != trivia.PhaseQualifying {
		return reject(msgNotQualifyPhase)
	}
	if round.NosyID != actor {
		return reject(msgOnlyNosyQualifies)
	}
	if !trivia.ValidGrade(grade) {
		return reject(msgInvalidGrade)
	}
	if target == round.NosyID {
		return reject(msgNoMoveToGrade)
	}
	move, err := s.roundRepo.MoveByPlayer(ctx, round.ID, target)
	if err != nil {
		return err
	}
	if move == nil {
		return reject(msgNoMoveToGrade)
	}

	if err := s.roundRepo.SetEvaluation(ctx, move.ID, grade, false, time.Now().UTC()); err != nil {
		return err
	}

	moves, err := s.roundRepo.ListMoves(ctx, round.ID)
	if err != nil {
		return err
	}
	for _, m := range moves {
		if m.PlayerID != round.NosyID && m.Evaluation == nil {
			return nil
		}
	}
	// As with the answer close, the qualify timer stays armed until
	// closeQualifying has persisted the transition.
	return s.closeQualifying(ctx, gameID, round.ID, false)
}

// closeQualifying ends the grading phase: ungraded answers get the automatic
// grade (and cost the nosy a fault when the timer ran out), reviews are
// dealt, and each reviewer is told which answer to judge. Caller holds the
// game lock.
func (s *RoundService) closeQualifying(ctx context.Context, gameID, roundID int64, timedOut bool) error {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return err
	}
	round, err := s.roundRepo.CurrentRound(ctx, gameID)
	if err != nil {
		return err
	}
	if round == nil || round.ID != roundID {
		return nil
	}
	faults, err := s.roundRepo.ListFaults(ctx, gameID)
	if err != nil {
		return err
	}
	moves, err := s.roundRepo.ListMoves(ctx, roundID)
	if err != nil {
		return err
	}

	var (
		refs     []trivia.MoveRef
		autoIDs  []int64
		answer   = make(map[int64]model.Move, len(moves))
		nosyMove *model.Move
	)
	for i, m := range moves {
		if m.PlayerID == round.NosyID {
			nosyMove = &moves[i]
			continue
		}
		refs = append(refs, trivia.MoveRef{MoveID: m.ID, PlayerID: m.PlayerID})
		answer[m.ID] = m
		if m.Evaluation == nil {
			autoIDs = append(autoIDs, m.ID)
		}
	}

	var nosyFault *model.Fault
	if timedOut && len(autoIDs) > 0 {
		s.emit(gameID, "qualify_timeout", map[string]any{"round_number": round.Number})
		nosyFault = &model.Fault{
			RoundID:  roundID,
			PlayerID: round.NosyID,
			Category: string(trivia.FaultGradingTime),
			Value:    trivia.FaultValue(trivia.FaultGradingTime),
		}
	}

	// Reviewers are the active non-nosy players: those who answered, in
	// answer order, then the rest by id.
	moved := make(map[int64]bool, len(moves))
	for _, m := range moves {
		moved[m.PlayerID] = true
	}
	activeSet := make(map[int64]bool)
	for _, p := range activePlayers(game, faults) {
		activeSet[p.ID] = true
	}
	var reviewers []int64
	for _, r := range refs {
		if activeSet[r.PlayerID] {
			reviewers = append(reviewers, r.PlayerID)
		}
	}
	var silent []int64
	for id := range activeSet {
		if id != round.NosyID && !moved[id] {
			silent = append(silent, id)
		}
	}
	sort.Slice(silent, func(i, j int) bool { return silent[i] < silent[j] })
	reviewers = append(reviewers, silent...)

	reviews := trivia.AssignReviews(refs, reviewers)
	quals := make([]model.Qualification, 0, len(reviews))
	for _, r := range reviews {
		quals = append(quals, model.Qualification{MoveID: r.MoveID, PlayerID: r.PlayerID})
	}

	if err := s.roundRepo.FinishQualifyPhase(ctx, roundID, time.Now().UTC(), autoIDs, quals, nosyFault); err != nil {
		return err
	}
	if nosyFault != nil {
		s.announceFaults(ctx, gameID, []model.Fault{*nosyFault})
	}

	// Armed as soon as the phase is persisted; if the no-review shortcut
	// below fails transiently, the expiry finishes the round instead.
	s.schedule(gameID, "assess", s.timings.Assess+s.timings.Delta, func() { s.assessExpired(gameID, roundID) })

	if len(reviews) == 0 {
		return s.finishRound(ctx, gameID, roundID, nil)
	}

	correct := ""
	if nosyMove != nil {
		correct = nosyMove.Answer
	}
	auto := make(map[int64]bool, len(autoIDs))
	for _, id := range autoIDs {
		auto[id] = true
	}
	for _, r := range reviews {
		m := answer[r.MoveID]
		grade := trivia.AutoGrade
		if !auto[m.ID] && m.Evaluation != nil {
			grade = *m.Evaluation
		}
		s.emitTo(gameID, r.PlayerID, "round_review_answer", map[string]any{
			"correct_answer": correct,
			"graded_answer":  m.Answer,
			"grade":          grade,
		})
	}
	return nil
}

// Assess records a reviewer's verdict on their assigned answer. The phase
// always runs to its timer; an early verdict just waits there.
func (s *RoundService) Assess(ctx context.Context, gameID, actor int64, correct bool) error {
	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()
	return s.audit(ctx, gameID, actor, "assess", s.assess(ctx, gameID, actor, correct))
}

func (s *RoundService) assess(ctx context.Context, gameID, actor int64, correct bool) error {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return err
	}
	if !running(game) {
		return reject(msgGameNotRunning)
	}
	round, err := s.roundRepo.CurrentRound(ctx, gameID)
	if err != nil {
		return err
	}
	if round == nil || roundClock(round).Phase() != trivia.PhaseEvaluating {
		return reject(msgNotAssessPhase)
	}
	qual, err := s.roundRepo.QualificationByPlayer(ctx, round.ID, actor)
	if err != nil {
		return err
	}
	if qual == nil {
		return reject(msgNoQualification)
	}
	if qual.IsCorrect != nil {
		return reject(msgAlreadyAssessed)
	}
	return s.roundRepo.SetAssessment(ctx, qual.ID, correct, time.Now().UTC())
}

// Focus records a presence infraction against a player in the current round.
func (s *RoundService) Focus(ctx context.Context, gameID, actor int64) error {
	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()

	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return err
	}
	if !running(game) {
		return nil
	}
	round, err := s.roundRepo.CurrentRound(ctx, gameID)
	if err != nil {
		return err
	}
	if round == nil || round.Ended != nil {
		return nil
	}
	fault, err := s.roundRepo.CreateFault(ctx, round.ID, actor,
		string(trivia.FaultFocus), trivia.FaultValue(trivia.FaultFocus))
	if err != nil {
		return err
	}
	s.announceFaults(ctx, gameID, []model.Fault{*fault})
	return nil
}

// questionExpired fires when the nosy never delivered a question: the nosy
// is faulted and the same round restarts under a new nosy.
func (s *RoundService) questionExpired(gameID, roundID int64) {
	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()

	ctx := context.Background()
	game, round, ok := s.expiredRound(ctx, gameID, roundID, trivia.PhaseQuestion)
	if !ok {
		return
	}

	s.emit(gameID, "question_time_ended", map[string]any{"round_number": round.Number})

	fault, err := s.roundRepo.CreateFault(ctx, roundID, round.NosyID,
		string(trivia.FaultQuestionTime), trivia.FaultValue(trivia.FaultQuestionTime))
	if err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to record question fault")
		return
	}
	s.announceFaults(ctx, gameID, []model.Fault{*fault})

	faults, err := s.roundRepo.ListFaults(ctx, gameID)
	if err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to list faults")
		return
	}
	active := activePlayers(game, faults)
	if len(active) < trivia.MinActivePlayers(len(game.Players)) {
		if err := s.cancelGame(ctx, game); err != nil {
			log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to cancel game")
		}
		return
	}

	rounds, err := s.roundRepo.ListRounds(ctx, gameID)
	if err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to list rounds")
		return
	}
	served := make(map[int64]bool, len(rounds))
	for _, r := range rounds {
		if r.ID != roundID {
			served[r.NosyID] = true
		}
	}
	scores, err := gameScores(ctx, s.roundRepo, game)
	if err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to compute scores")
		return
	}

	nosy := s.pickNosy(standings(active, scores), served, round.NosyID)
	if err := s.roundRepo.RestartRound(ctx, roundID, nosy, time.Now().UTC()); err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to restart round")
		return
	}
	log.Info().Int64("gameId", gameID).Int("round", round.Number).Int64("nosyId", nosy).Msg("Round restarted")
	s.emit(gameID, "round_started", map[string]any{
		"round_number": round.Number,
		"nosy_id":      nosy,
	})
	s.scheduleQuestionTimer(game, roundID)
}

func (s *RoundService) answerExpired(gameID, roundID int64) {
	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()

	ctx := context.Background()
	game, round, ok := s.expiredRound(ctx, gameID, roundID, trivia.PhaseAnswering)
	if !ok {
		return
	}
	if err := s.endAnswering(ctx, game, round); err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to close answering phase")
	}
}

func (s *RoundService) qualifyExpired(gameID, roundID int64) {
	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()

	ctx := context.Background()
	if _, _, ok := s.expiredRound(ctx, gameID, roundID, trivia.PhaseQualifying); !ok {
		return
	}
	if err := s.closeQualifying(ctx, gameID, roundID, true); err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to close grading phase")
	}
}

func (s *RoundService) assessExpired(gameID, roundID int64) {
	mu := s.lock(gameID)
	mu.Lock()
	defer mu.Unlock()

	ctx := context.Background()
	_, round, ok := s.expiredRound(ctx, gameID, roundID, trivia.PhaseEvaluating)
	if !ok {
		return
	}

	s.emit(gameID, "assess_timeout", map[string]any{"round_number": round.Number})

	quals, err := s.roundRepo.ListQualifications(ctx, roundID)
	if err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to list qualifications")
		return
	}
	var missed []model.Fault
	for _, q := range quals {
		if q.IsCorrect == nil {
			missed = append(missed, model.Fault{
				RoundID:  roundID,
				PlayerID: q.PlayerID,
				Category: string(trivia.FaultAssessTime),
				Value:    trivia.FaultValue(trivia.FaultAssessTime),
			})
		}
	}
	if err := s.finishRound(ctx, gameID, roundID, missed); err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to finish round")
	}
}

// expiredRound validates a timer expiry: the game must still be running and
// the round must still be the one the timer was armed for, in the expected
// phase. Anything else means a client action won the race.
func (s *RoundService) expiredRound(ctx context.Context, gameID, roundID int64, phase trivia.Phase) (*model.Game, *model.Round, bool) {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to load game on timer expiry")
		return nil, nil, false
	}
	if !running(game) {
		return nil, nil, false
	}
	round, err := s.roundRepo.CurrentRound(ctx, gameID)
	if err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to load round on timer expiry")
		return nil, nil, false
	}
	if round == nil || round.ID != roundID || roundClock(round).Phase() != phase {
		return nil, nil, false
	}
	return game, round, true
}

// finishRound closes a round, publishes its results, and decides what comes
// next: cancellation, the final scoreboard, or the next round. Caller holds
// the game lock.
func (s *RoundService) finishRound(ctx context.Context, gameID, roundID int64, faults []model.Fault) error {
	if err := s.roundRepo.FinishRound(ctx, roundID, time.Now().UTC(), faults); err != nil {
		return err
	}
	s.announceFaults(ctx, gameID, faults)

	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return err
	}
	round, err := s.roundRepo.CurrentRound(ctx, gameID)
	if err != nil {
		return err
	}
	if round == nil || round.ID != roundID {
		return nil
	}

	moves, err := s.roundRepo.ListMoves(ctx, roundID)
	if err != nil {
		return err
	}
	quals, err := s.roundRepo.ListQualifications(ctx, roundID)
	if err != nil {
		return err
	}
	negative := 0
	for _, q := range quals {
		if q.IsCorrect != nil && !*q.IsCorrect {
			negative++
		}
	}

	results := make([]RoundResult, 0, len(moves))
	for _, m := range moves {
		if m.PlayerID == round.NosyID || m.Evaluation == nil {
			continue
		}
		results = append(results, RoundResult{PlayerID: m.PlayerID, Score: *m.Evaluation})
	}
	results = append(results, RoundResult{
		PlayerID: round.NosyID,
		Score:    trivia.NosyScore(len(quals), negative),
		Nosy:     true,
	})

	scores, err := gameScores(ctx, s.roundRepo, game)
	if err != nil {
		return err
	}
	board := scoreBoard(game, scores)

	log.Info().Int64("gameId", gameID).Int("round", round.Number).Msg("Round finished")
	s.emit(gameID, "round_result", map[string]any{
		"round_results": results,
		"game_scores":   board,
	})

	allFaults, err := s.roundRepo.ListFaults(ctx, gameID)
	if err != nil {
		return err
	}
	if len(activePlayers(game, allFaults)) < trivia.MinActivePlayers(len(game.Players)) {
		return s.cancelGame(ctx, game)
	}

	if game.RoundsNumber != nil && round.Number >= *game.RoundsNumber {
		if err := s.gameRepo.SetEnded(ctx, gameID, time.Now().UTC()); err != nil {
			return err
		}
		s.cancelTimer(gameID)
		log.Info().Int64("gameId", gameID).Msg("Game finished")
		s.emit(gameID, "game_result", map[string]any{"game_scores": board})
		return nil
	}
	return s.beginRound(ctx, gameID, round.Number+1, round.NosyID)
}

// cancelGame ends a game early because too few active players remain.
// Caller holds the game lock.
func (s *RoundService) cancelGame(ctx context.Context, game *model.Game) error {
	if err := s.gameRepo.SetEnded(ctx, game.ID, time.Now().UTC()); err != nil {
		return err
	}
	s.cancelTimer(game.ID)
	scores, err := gameScores(ctx, s.roundRepo, game)
	if err != nil {
		return err
	}
	log.Info().Int64("gameId", game.ID).Msg("Game canceled")
	s.emit(game.ID, "game_canceled", map[string]any{
		"message":     msgGameCanceled,
		"game_scores": scoreBoard(game, scores),
	})
	return nil
}

// announceFaults publishes already-persisted faults and any disqualification
// they just caused.
func (s *RoundService) announceFaults(ctx context.Context, gameID int64, created []model.Fault) {
	if len(created) == 0 {
		return
	}
	for _, f := range created {
		metrics.FaultsTotal.WithLabelValues(f.Category).Inc()
		s.emit(gameID, "user_fault", map[string]any{
			"player_id": f.PlayerID,
			"category":  f.Category,
		})
	}

	all, err := s.roundRepo.ListFaults(ctx, gameID)
	if err != nil {
		log.Error().Err(err).Int64("gameId", gameID).Msg("Failed to list faults")
		return
	}
	weights := faultWeights(all)
	batch := faultWeights(created)
	announced := make(map[int64]bool)
	for _, f := range created {
		if announced[f.PlayerID] {
			continue
		}
		announced[f.PlayerID] = true
		prior := weights[f.PlayerID] - batch[f.PlayerID]
		if !trivia.Disqualified(prior) && trivia.Disqualified(weights[f.PlayerID]) {
			log.Info().Int64("gameId", gameID).Int64("playerId", f.PlayerID).Msg("Player disqualified")
			s.emit(gameID, "user_disqualified", map[string]any{"player_id": f.PlayerID})
		}
	}
}

// RecoverActiveGames re-arms the phase timer of every running game after a
// restart. Expiries already in the past fire immediately, so a game stalled
// across the restart moves on right away.
func (s *RoundService) RecoverActiveGames(ctx context.Context) error {
	games, err := s.gameRepo.ListRunning(ctx)
	if err != nil {
		return err
	}
	for i := range games {
		game := games[i]
		round, err := s.roundRepo.CurrentRound(ctx, game.ID)
		if err != nil {
			return err
		}
		if round == nil {
			remaining := s.timings.Start - time.Since(*game.Started)
			s.scheduleLocked(game.ID, "warmup", maxDuration(remaining, 0), func(ctx context.Context) error {
				return s.beginRound(ctx, game.ID, 1, 0)
			})
			continue
		}

		roundID := round.ID
		switch roundClock(round).Phase() {
		case trivia.PhaseQuestion:
			deadline := round.Started.Add(time.Duration(game.QuestionTime)*s.timings.Second + s.timings.Delta)
			s.schedule(game.ID, "question", maxDuration(time.Until(deadline), 0),
				func() { s.questionExpired(game.ID, roundID) })
		case trivia.PhaseAnswering:
			deadline := round.QuestionArrived.Add(time.Duration(game.AnswerTime)*s.timings.Second + s.timings.Delta)
			s.schedule(game.ID, "answer", maxDuration(time.Until(deadline), 0),
				func() { s.answerExpired(game.ID, roundID) })
		case trivia.PhaseQualifying:
			deadline := round.AnswerEnded.Add(s.timings.Qualify + s.timings.Delta)
			s.schedule(game.ID, "qualify", maxDuration(time.Until(deadline), 0),
				func() { s.qualifyExpired(game.ID, roundID) })
		case trivia.PhaseEvaluating:
			deadline := round.QualifyEnded.Add(s.timings.Assess + s.timings.Delta)
			s.schedule(game.ID, "assess", maxDuration(time.Until(deadline), 0),
				func() { s.assessExpired(game.ID, roundID) })
		case trivia.PhaseEnded:
			// The round closed but the game never moved on; resume it.
			number := round.Number
			nosy := round.NosyID
			s.scheduleLocked(game.ID, "resume", 0, func(ctx context.Context) error {
				return s.continueAfterRound(ctx, game.ID, number, nosy)
			})
		}
		log.Info().Int64("gameId", game.ID).Msg("Recovered running game")
	}
	return nil
}

// continueAfterRound advances a game whose latest round is already closed.
func (s *RoundService) continueAfterRound(ctx context.Context, gameID int64, number int, prevNosy int64) error {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return err
	}
	if !running(game) {
		return nil
	}
	if game.RoundsNumber != nil && number >= *game.RoundsNumber {
		if err := s.gameRepo.SetEnded(ctx, gameID, time.Now().UTC()); err != nil {
			return err
		}
		scores, err := gameScores(ctx, s.roundRepo, game)
		if err != nil {
			return err
		}
		s.emit(gameID, "game_result", map[string]any{"game_scores": scoreBoard(game, scores)})
		return nil
	}
	return s.beginRound(ctx, gameID, number+1, prevNosy)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
