package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nmoreras/pregunton/internal/model"
	"github.com/nmoreras/pregunton/pkg/trivia"
)

// testTimings shrinks every phase so the state machine runs in
// milliseconds. Second scales the per-game question/answer settings, so a
// game configured with 60-second phases gets 300ms windows here.
func testTimings() Timings {
	return Timings{
		Delta:   20 * time.Millisecond,
		Start:   20 * time.Millisecond,
		Qualify: 300 * time.Millisecond,
		Assess:  300 * time.Millisecond,
		Second:  5 * time.Millisecond,
	}
}

const waitLong = 5 * time.Second

type roundFixture struct {
	svc       *RoundService
	gameRepo  *mockGameRepo
	roundRepo *mockRoundRepo
	b         *recordingBroadcaster
	gameID    int64
	players   []int64
}

// newRoundFixture creates a game owned by player 1 with the given roster
// size and an orchestrator wired to mocks.
func newRoundFixture(t *testing.T, playerCount int) *roundFixture {
	t.Helper()
	gameRepo := newMockGameRepo()
	roundRepo := newMockRoundRepo()
	b := newRecordingBroadcaster()

	game, err := gameRepo.Create(context.Background(), "test game", 1, 60, 60)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	players := make([]int64, 0, playerCount)
	for i := 1; i <= playerCount; i++ {
		if err := gameRepo.AddPlayer(context.Background(), game.ID, int64(i)); err != nil {
			t.Fatalf("add player: %v", err)
		}
		players = append(players, int64(i))
	}

	svc := NewRoundService(gameRepo, roundRepo, b, testTimings())
	t.Cleanup(svc.Shutdown)

	return &roundFixture{
		svc:       svc,
		gameRepo:  gameRepo,
		roundRepo: roundRepo,
		b:         b,
		gameID:    game.ID,
		players:   players,
	}
}

func admissionMsg(t *testing.T, err error) string {
	t.Helper()
	var admission *AdmissionError
	if !errors.As(err, &admission) {
		t.Fatalf("expected AdmissionError, got %v", err)
	}
	return admission.Msg
}

func TestStartGuards(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 2)

	if msg := admissionMsg(t, f.svc.Start(ctx, f.gameID, 2, 5)); msg != msgOnlyCreatorStarts {
		t.Errorf("non-creator start: got %q", msg)
	}
	if msg := admissionMsg(t, f.svc.Start(ctx, f.gameID, 1, 1)); msg != msgRoundsBelowPlayers {
		t.Errorf("too few rounds: got %q", msg)
	}
	if err := f.svc.Start(ctx, f.gameID, 1, 2); err != nil {
		t.Fatalf("start: %v", err)
	}
	if msg := admissionMsg(t, f.svc.Start(ctx, f.gameID, 1, 2)); msg != msgAlreadyStarted {
		t.Errorf("double start: got %q", msg)
	}

	// Every rejection lands in the action-error audit log.
	errs := f.roundRepo.actionErrors()
	if len(errs) != 3 {
		t.Fatalf("expected 3 action errors, got %d", len(errs))
	}
	if errs[0].Action != "start" || errs[0].ErrorMessage != msgOnlyCreatorStarts {
		t.Errorf("unexpected first audit row: %+v", errs[0])
	}
}

func TestStartNeedsTwoPlayers(t *testing.T) {
	f := newRoundFixture(t, 1)
	if msg := admissionMsg(t, f.svc.Start(context.Background(), f.gameID, 1, 5)); msg != msgNeedTwoPlayers {
		t.Errorf("solo start: got %q", msg)
	}
}

func TestStartOpensFirstRound(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 2)

	if err := f.svc.Start(ctx, f.gameID, 1, 2); err != nil {
		t.Fatalf("start: %v", err)
	}
	started := f.b.waitFor(t, "game_started", waitLong)
	if started.Data["rounds"] != 2 {
		t.Errorf("expected 2 rounds, got %v", started.Data["rounds"])
	}

	opened := f.b.waitFor(t, "round_started", waitLong)
	nosy, ok := opened.Data["nosy_id"].(int64)
	if !ok || (nosy != 1 && nosy != 2) {
		t.Fatalf("unexpected nosy: %v", opened.Data["nosy_id"])
	}

	round, err := f.roundRepo.CurrentRound(ctx, f.gameID)
	if err != nil || round == nil {
		t.Fatalf("current round: %v %v", round, err)
	}
	if round.Number != 1 || round.NosyID != nosy {
		t.Errorf("round = %+v, want number 1 nosy %d", round, nosy)
	}
}

// startRound boots the game and returns the first round's nosy and the
// other players.
func (f *roundFixture) startRound(t *testing.T, rounds int) (nosy int64, others []int64) {
	t.Helper()
	if err := f.svc.Start(context.Background(), f.gameID, 1, rounds); err != nil {
		t.Fatalf("start: %v", err)
	}
	opened := f.b.waitFor(t, "round_started", waitLong)
	nosy = opened.Data["nosy_id"].(int64)
	for _, p := range f.players {
		if p != nosy {
			others = append(others, p)
		}
	}
	return nosy, others
}

func TestQuestionOnlyNosy(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 2)
	nosy, others := f.startRound(t, 2)

	if msg := admissionMsg(t, f.svc.Question(ctx, f.gameID, others[0], "¿quién?")); msg != msgOnlyNosyQuestion {
		t.Errorf("non-nosy question: got %q", msg)
	}
	if err := f.svc.Question(ctx, f.gameID, nosy, "¿capital de Perú?"); err != nil {
		t.Fatalf("question: %v", err)
	}
	ev := f.b.waitFor(t, "round_question", waitLong)
	if ev.Data["question"] != "¿capital de Perú?" {
		t.Errorf("question payload = %v", ev.Data["question"])
	}
	if msg := admissionMsg(t, f.svc.Question(ctx, f.gameID, nosy, "otra")); msg != msgQuestionDelivered {
		t.Errorf("second question: got %q", msg)
	}
}

func TestAnswerEarlyCloseAndLock(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 2)
	nosy, others := f.startRound(t, 2)

	if msg := admissionMsg(t, f.svc.Answer(ctx, f.gameID, others[0], "antes de tiempo")); msg != msgNoMoreAnswers {
		t.Errorf("answer before question: got %q", msg)
	}
	if err := f.svc.Question(ctx, f.gameID, nosy, "¿?"); err != nil {
		t.Fatalf("question: %v", err)
	}

	if err := f.svc.Answer(ctx, f.gameID, others[0], "Lima"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	// The player's answer is relayed to the nosy only.
	relay := f.b.waitFor(t, "round_answer", waitLong)
	if relay.PlayerID != nosy {
		t.Errorf("round_answer sent to %d, want nosy %d", relay.PlayerID, nosy)
	}
	if relay.Data["userid"] != others[0] || relay.Data["answer"] != "Lima" {
		t.Errorf("round_answer payload = %v", relay.Data)
	}

	if msg := admissionMsg(t, f.svc.Answer(ctx, f.gameID, others[0], "Cusco")); msg != msgAnswerLocked {
		t.Errorf("second answer: got %q", msg)
	}

	// The nosy's reference answer is the last one missing; the phase closes
	// without waiting for the timer.
	if err := f.svc.Answer(ctx, f.gameID, nosy, "Lima"); err != nil {
		t.Fatalf("nosy answer: %v", err)
	}
	f.b.waitFor(t, "answer_time_ended", waitLong)

	round, _ := f.roundRepo.CurrentRound(ctx, f.gameID)
	if roundClock(round).Phase() != trivia.PhaseQualifying {
		t.Errorf("phase = %s, want qualifying", roundClock(round).Phase())
	}
}

// faultyRoundRepo fails FinishAnswerPhase a set number of times before
// delegating, mimicking a transient store outage.
type faultyRoundRepo struct {
	*mockRoundRepo
	mu       sync.Mutex
	failures int
}

func (m *faultyRoundRepo) FinishAnswerPhase(ctx context.Context, roundID int64, at time.Time, faults []model.Fault) error {
	m.mu.Lock()
	if m.failures > 0 {
		m.failures--
		m.mu.Unlock()
		return errors.New("driver: bad connection")
	}
	m.mu.Unlock()
	return m.mockRoundRepo.FinishAnswerPhase(ctx, roundID, at, faults)
}

func TestAnswerCloseRetriesAfterStoreFailure(t *testing.T) {
	ctx := context.Background()
	gameRepo := newMockGameRepo()
	roundRepo := &faultyRoundRepo{mockRoundRepo: newMockRoundRepo(), failures: 1}
	b := newRecordingBroadcaster()

	game, err := gameRepo.Create(ctx, "test game", 1, 60, 60)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	gameRepo.AddPlayer(ctx, game.ID, 1)
	gameRepo.AddPlayer(ctx, game.ID, 2)

	svc := NewRoundService(gameRepo, roundRepo, b, testTimings())
	t.Cleanup(svc.Shutdown)

	if err := svc.Start(ctx, game.ID, 1, 2); err != nil {
		t.Fatalf("start: %v", err)
	}
	opened := b.waitFor(t, "round_started", waitLong)
	nosy := opened.Data["nosy_id"].(int64)
	other := int64(1)
	if nosy == 1 {
		other = 2
	}

	if err := svc.Question(ctx, game.ID, nosy, "¿?"); err != nil {
		t.Fatalf("question: %v", err)
	}
	if err := svc.Answer(ctx, game.ID, other, "Lima"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	// The last answer triggers the early close, whose write fails once.
	if err := svc.Answer(ctx, game.ID, nosy, "Lima"); err == nil {
		t.Fatal("expected the failed close to surface an error")
	}
	if round, _ := roundRepo.CurrentRound(ctx, game.ID); round.AnswerEnded != nil {
		t.Fatal("answering closed despite the failed write")
	}

	// The answer timer is still armed and retries the close.
	b.waitFor(t, "answer_time_ended", waitLong)
	round, _ := roundRepo.CurrentRound(ctx, game.ID)
	if roundClock(round).Phase() != trivia.PhaseQualifying {
		t.Fatalf("phase = %s, want qualifying", roundClock(round).Phase())
	}
	if err := svc.Qualify(ctx, game.ID, nosy, other, 3); err != nil {
		t.Fatalf("qualify after recovery: %v", err)
	}
}

func TestQualifyGuards(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 3)
	nosy, others := f.startRound(t, 3)

	if err := f.svc.Question(ctx, f.gameID, nosy, "¿?"); err != nil {
		t.Fatalf("question: %v", err)
	}
	if msg := admissionMsg(t, f.svc.Qualify(ctx, f.gameID, nosy, others[0], 3)); msg != msgNotQualifyPhase {
		t.Errorf("qualify during answering: got %q", msg)
	}
	for _, p := range f.players {
		if err := f.svc.Answer(ctx, f.gameID, p, "x"); err != nil {
			t.Fatalf("answer %d: %v", p, err)
		}
	}
	f.b.waitFor(t, "answer_time_ended", waitLong)

	if msg := admissionMsg(t, f.svc.Qualify(ctx, f.gameID, others[0], others[1], 3)); msg != msgOnlyNosyQualifies {
		t.Errorf("non-nosy qualify: got %q", msg)
	}
	if msg := admissionMsg(t, f.svc.Qualify(ctx, f.gameID, nosy, others[0], 7)); msg != msgInvalidGrade {
		t.Errorf("bad grade: got %q", msg)
	}
	if msg := admissionMsg(t, f.svc.Qualify(ctx, f.gameID, nosy, nosy, 3)); msg != msgNoMoveToGrade {
		t.Errorf("grading own answer: got %q", msg)
	}
	if err := f.svc.Qualify(ctx, f.gameID, nosy, others[0], 3); err != nil {
		t.Fatalf("qualify: %v", err)
	}
}

func TestFullTwoPlayerGame(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 2)

	if err := f.svc.Start(ctx, f.gameID, 1, 2); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Drive both rounds from the event stream, the way clients would.
	var nosy int64
	deadline := time.After(30 * time.Second)
	for {
		var ev sentEvent
		select {
		case ev = <-f.b.events:
		case <-deadline:
			t.Fatal("game never finished")
		}

		switch ev.EventType {
		case "round_started":
			nosy = ev.Data["nosy_id"].(int64)
			if err := f.svc.Question(ctx, f.gameID, nosy, "¿?"); err != nil {
				t.Fatalf("question: %v", err)
			}
		case "round_question":
			for _, p := range f.players {
				if err := f.svc.Answer(ctx, f.gameID, p, "respuesta"); err != nil {
					t.Fatalf("answer %d: %v", p, err)
				}
			}
		case "answer_time_ended":
			for _, p := range f.players {
				if p != nosy {
					if err := f.svc.Qualify(ctx, f.gameID, nosy, p, 3); err != nil {
						t.Fatalf("qualify %d: %v", p, err)
					}
				}
			}
		case "round_review_answer":
			if ev.Data["grade"] != 3 {
				t.Errorf("review grade = %v, want 3", ev.Data["grade"])
			}
			if err := f.svc.Assess(ctx, f.gameID, ev.PlayerID, true); err != nil {
				t.Fatalf("assess: %v", err)
			}
		case "game_result":
			// Each player scored 3 as answerer and 3 as a fully-approved
			// nosy across the two rounds.
			scores := ev.Data["game_scores"].([]PlayerScore)
			if len(scores) != 2 {
				t.Fatalf("expected 2 scores, got %d", len(scores))
			}
			for _, s := range scores {
				if s.Score != 6 {
					t.Errorf("player %d score = %d, want 6", s.PlayerID, s.Score)
				}
			}
			game, _ := f.gameRepo.FindByID(ctx, f.gameID)
			if game.Ended == nil {
				t.Error("game not marked ended")
			}
			return
		}
	}
}

func TestRoundResultScores(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 3)
	nosy, others := f.startRound(t, 3)

	if err := f.svc.Question(ctx, f.gameID, nosy, "¿?"); err != nil {
		t.Fatalf("question: %v", err)
	}
	for _, p := range f.players {
		if err := f.svc.Answer(ctx, f.gameID, p, "x"); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	f.b.waitFor(t, "answer_time_ended", waitLong)

	if err := f.svc.Qualify(ctx, f.gameID, nosy, others[0], 3); err != nil {
		t.Fatalf("qualify: %v", err)
	}
	if err := f.svc.Qualify(ctx, f.gameID, nosy, others[1], 0); err != nil {
		t.Fatalf("qualify: %v", err)
	}

	// Both reviewers reject the grading they were shown.
	for range others {
		ev := f.b.waitFor(t, "round_review_answer", waitLong)
		if err := f.svc.Assess(ctx, f.gameID, ev.PlayerID, false); err != nil {
			t.Fatalf("assess: %v", err)
		}
	}

	result := f.b.waitFor(t, "round_result", waitLong)
	rows := result.Data["round_results"].([]RoundResult)
	got := make(map[int64]RoundResult, len(rows))
	for _, r := range rows {
		got[r.PlayerID] = r
	}
	if got[others[0]].Score != 3 || got[others[1]].Score != 0 {
		t.Errorf("player scores = %+v", got)
	}
	// Two reviews, both negative: approval ratio 0, nosy takes -2.
	if !got[nosy].Nosy || got[nosy].Score != trivia.NosyScore(2, 2) {
		t.Errorf("nosy result = %+v", got[nosy])
	}
}

func TestQuestionTimeoutRestartsRound(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 3)
	nosy, _ := f.startRound(t, 3)

	f.b.waitFor(t, "question_time_ended", waitLong)
	fault := f.b.waitFor(t, "user_fault", waitLong)
	if fault.Data["player_id"] != nosy || fault.Data["category"] != string(trivia.FaultQuestionTime) {
		t.Errorf("fault payload = %v", fault.Data)
	}

	reopened := f.b.waitFor(t, "round_started", waitLong)
	newNosy := reopened.Data["nosy_id"].(int64)
	if newNosy == nosy {
		t.Errorf("restart kept the faulted nosy %d", nosy)
	}
	if reopened.Data["round_number"] != 1 {
		t.Errorf("restart opened round %v, want 1", reopened.Data["round_number"])
	}

	faults, _ := f.roundRepo.ListFaults(ctx, f.gameID)
	if len(faults) != 1 || faults[0].Value != 2 {
		t.Fatalf("expected one weight-2 fault, got %+v", faults)
	}
}

func TestRepeatedTimeoutsCancelGame(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 2)
	f.startRound(t, 2)

	// Nobody ever sends a question. The nosy role bounces between the two
	// players until one accumulates enough weight to be disqualified, which
	// drops the game below its minimum.
	f.b.waitFor(t, "user_disqualified", 15*time.Second)
	canceled := f.b.waitFor(t, "game_canceled", waitLong)
	if canceled.Data["message"] != msgGameCanceled {
		t.Errorf("cancel message = %v", canceled.Data["message"])
	}

	game, _ := f.gameRepo.FindByID(ctx, f.gameID)
	if game.Ended == nil {
		t.Error("canceled game not marked ended")
	}
}

func TestDisqualificationCancelsAtRoundBoundary(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 3)
	nosy, others := f.startRound(t, 3)

	if err := f.svc.Question(ctx, f.gameID, nosy, "¿?"); err != nil {
		t.Fatalf("question: %v", err)
	}
	f.b.waitFor(t, "round_question", waitLong)

	// others[1] drifts away twice and then misses the answer window, which
	// pushes their fault weight to the disqualification threshold mid-round.
	for i := 0; i < 2; i++ {
		if err := f.svc.Focus(ctx, f.gameID, others[1]); err != nil {
			t.Fatalf("focus: %v", err)
		}
	}
	if err := f.svc.Answer(ctx, f.gameID, nosy, "ref"); err != nil {
		t.Fatalf("nosy answer: %v", err)
	}
	if err := f.svc.Answer(ctx, f.gameID, others[0], "Lima"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	f.b.waitFor(t, "answer_time_ended", waitLong)
	disq := f.b.waitFor(t, "user_disqualified", waitLong)
	if disq.Data["player_id"] != others[1] {
		t.Errorf("disqualified = %v, want %d", disq.Data["player_id"], others[1])
	}

	// Only two actives remain out of a roster of three, but the round still
	// runs to its end: grading and assessment proceed untouched.
	if err := f.svc.Qualify(ctx, f.gameID, nosy, others[0], 3); err != nil {
		t.Fatalf("qualify: %v", err)
	}
	review := f.b.waitFor(t, "round_review_answer", waitLong)
	if err := f.svc.Assess(ctx, f.gameID, review.PlayerID, true); err != nil {
		t.Fatalf("assess: %v", err)
	}

	// The cancel lands at the round boundary: round_result first, then
	// game_canceled carrying the final board.
	f.b.waitFor(t, "round_result", waitLong)
	canceled := f.b.waitFor(t, "game_canceled", waitLong)
	if canceled.Data["message"] != msgGameCanceled {
		t.Errorf("cancel message = %v", canceled.Data["message"])
	}
	scores := canceled.Data["game_scores"].([]PlayerScore)
	if len(scores) != 3 {
		t.Fatalf("expected 3 scores, got %d", len(scores))
	}

	game, _ := f.gameRepo.FindByID(ctx, f.gameID)
	if game.Ended == nil {
		t.Error("canceled game not marked ended")
	}
}

func TestAnswerTimeoutFaultsSilentPlayers(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 3)
	nosy, others := f.startRound(t, 3)

	if err := f.svc.Question(ctx, f.gameID, nosy, "¿?"); err != nil {
		t.Fatalf("question: %v", err)
	}
	if err := f.svc.Answer(ctx, f.gameID, nosy, "ref"); err != nil {
		t.Fatalf("nosy answer: %v", err)
	}
	if err := f.svc.Answer(ctx, f.gameID, others[0], "x"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	// others[1] stays silent until the timer fires.
	f.b.waitFor(t, "answer_time_ended", waitLong)
	fault := f.b.waitFor(t, "user_fault", waitLong)
	if fault.Data["player_id"] != others[1] || fault.Data["category"] != string(trivia.FaultAnswerTime) {
		t.Errorf("fault payload = %v", fault.Data)
	}
}

func TestQualifyTimeoutAutoGrades(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 3)
	nosy, _ := f.startRound(t, 3)

	if err := f.svc.Question(ctx, f.gameID, nosy, "¿?"); err != nil {
		t.Fatalf("question: %v", err)
	}
	for _, p := range f.players {
		if err := f.svc.Answer(ctx, f.gameID, p, "x"); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	f.b.waitFor(t, "answer_time_ended", waitLong)

	// The nosy never grades; the timer closes the phase.
	f.b.waitFor(t, "qualify_timeout", waitLong)
	fault := f.b.waitFor(t, "user_fault", waitLong)
	if fault.Data["player_id"] != nosy || fault.Data["category"] != string(trivia.FaultGradingTime) {
		t.Errorf("fault payload = %v", fault.Data)
	}
	for i := 0; i < 2; i++ {
		review := f.b.waitFor(t, "round_review_answer", waitLong)
		if review.Data["grade"] != trivia.AutoGrade {
			t.Errorf("auto grade = %v, want %d", review.Data["grade"], trivia.AutoGrade)
		}
	}
}

func TestAssessTimeoutFaultsSilentReviewers(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 3)
	nosy, others := f.startRound(t, 3)

	if err := f.svc.Question(ctx, f.gameID, nosy, "¿?"); err != nil {
		t.Fatalf("question: %v", err)
	}
	for _, p := range f.players {
		if err := f.svc.Answer(ctx, f.gameID, p, "x"); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	f.b.waitFor(t, "answer_time_ended", waitLong)
	for _, p := range others {
		if err := f.svc.Qualify(ctx, f.gameID, nosy, p, 2); err != nil {
			t.Fatalf("qualify: %v", err)
		}
	}

	// One reviewer assesses, the other never does.
	review := f.b.waitFor(t, "round_review_answer", waitLong)
	if err := f.svc.Assess(ctx, f.gameID, review.PlayerID, true); err != nil {
		t.Fatalf("assess: %v", err)
	}
	if msg := admissionMsg(t, f.svc.Assess(ctx, f.gameID, review.PlayerID, true)); msg != msgAlreadyAssessed {
		t.Errorf("double assess: got %q", msg)
	}

	f.b.waitFor(t, "assess_timeout", waitLong)
	fault := f.b.waitFor(t, "user_fault", waitLong)
	if fault.Data["category"] != string(trivia.FaultAssessTime) {
		t.Errorf("fault payload = %v", fault.Data)
	}
	f.b.waitFor(t, "round_result", waitLong)
}

func TestFocusRecordsFault(t *testing.T) {
	ctx := context.Background()
	f := newRoundFixture(t, 2)
	_, others := f.startRound(t, 2)

	if err := f.svc.Focus(ctx, f.gameID, others[0]); err != nil {
		t.Fatalf("focus: %v", err)
	}
	fault := f.b.waitFor(t, "user_fault", waitLong)
	if fault.Data["player_id"] != others[0] || fault.Data["category"] != string(trivia.FaultFocus) {
		t.Errorf("fault payload = %v", fault.Data)
	}
}

func TestRecoverActiveGames(t *testing.T) {
	ctx := context.Background()
	gameRepo := newMockGameRepo()
	roundRepo := newMockRoundRepo()
	b := newRecordingBroadcaster()

	game, _ := gameRepo.Create(ctx, "stalled", 1, 60, 60)
	gameRepo.AddPlayer(ctx, game.ID, 1)
	gameRepo.AddPlayer(ctx, game.ID, 2)
	started := time.Now().Add(-time.Minute)
	gameRepo.SetStarted(ctx, game.ID, 2, started)

	// A restart wiped the in-process timers before round one ever opened.
	svc := NewRoundService(gameRepo, roundRepo, b, testTimings())
	t.Cleanup(svc.Shutdown)
	if err := svc.RecoverActiveGames(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	b.waitFor(t, "round_started", waitLong)
	round, _ := roundRepo.CurrentRound(ctx, game.ID)
	if round == nil || round.Number != 1 {
		t.Fatalf("expected round 1 after recovery, got %+v", round)
	}
}
