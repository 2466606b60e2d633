package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nmoreras/pregunton/internal/model"
)

// --- Mock Repositories ---
//
// The round orchestrator runs its timer callbacks on their own goroutines,
// so every mock guards its maps with a mutex.

type mockUserRepo struct {
	mu    sync.Mutex
	users map[int64]*model.User
	seq   int64
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[int64]*model.User)}
}

func (m *mockUserRepo) add(username string) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	u := &model.User{ID: m.seq, Username: username, Created: time.Now()}
	m.users[u.ID] = u
	return u
}

func (m *mockUserRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) FindByProviderID(_ context.Context, provider, providerID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Provider == provider && u.ProviderID == providerID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) Upsert(_ context.Context, provider, providerID, username, avatarURL string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Provider == provider && u.ProviderID == providerID {
			u.Username = username
			cp := *u
			return &cp, nil
		}
	}
	m.seq++
	u := &model.User{
		ID:         m.seq,
		Username:   username,
		Provider:   provider,
		ProviderID: providerID,
		AvatarURL:  avatarURL,
		Created:    time.Now(),
	}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

type mockGameRepo struct {
	mu      sync.Mutex
	games   map[int64]*model.Game
	players map[int64][]model.User
	seq     int64
}

func newMockGameRepo() *mockGameRepo {
	return &mockGameRepo{
		games:   make(map[int64]*model.Game),
		players: make(map[int64][]model.User),
	}
}

func (m *mockGameRepo) Create(_ context.Context, name string, creatorID int64, questionTime, answerTime int) (*model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	g := &model.Game{
		ID:           m.seq,
		Name:         name,
		CreatorID:    creatorID,
		QuestionTime: questionTime,
		AnswerTime:   answerTime,
		Created:      time.Now(),
	}
	m.games[g.ID] = g
	cp := *g
	return &cp, nil
}

func (m *mockGameRepo) FindByID(_ context.Context, id int64) (*model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	cp.Players = append([]model.User(nil), m.players[id]...)
	return &cp, nil
}

func (m *mockGameRepo) ListOpen(_ context.Context) ([]model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Game
	for _, g := range m.games {
		if g.Started == nil {
			cp := *g
			cp.Players = append([]model.User(nil), m.players[g.ID]...)
			result = append(result, cp)
		}
	}
	return result, nil
}

func (m *mockGameRepo) ListByUser(_ context.Context, userID int64) ([]model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Game
	for gameID, players := range m.players {
		for _, p := range players {
			if p.ID == userID {
				result = append(result, *m.games[gameID])
			}
		}
	}
	return result, nil
}

func (m *mockGameRepo) ListRunning(_ context.Context) ([]model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Game
	for _, g := range m.games {
		if g.Started != nil && g.Ended == nil {
			cp := *g
			cp.Players = append([]model.User(nil), m.players[g.ID]...)
			result = append(result, cp)
		}
	}
	return result, nil
}

func (m *mockGameRepo) AddPlayer(_ context.Context, gameID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[gameID] = append(m.players[gameID], model.User{
		ID:       userID,
		Username: fmt.Sprintf("player-%d", userID),
	})
	return nil
}

func (m *mockGameRepo) RemovePlayer(_ context.Context, gameID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	players := m.players[gameID]
	for i, p := range players {
		if p.ID == userID {
			m.players[gameID] = append(players[:i], players[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockGameRepo) IsPlayer(_ context.Context, gameID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.players[gameID] {
		if p.ID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockGameRepo) SetStarted(_ context.Context, gameID int64, rounds int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return fmt.Errorf("game not found")
	}
	if g.Started == nil {
		g.Started = &at
		g.RoundsNumber = &rounds
	}
	return nil
}

func (m *mockGameRepo) SetEnded(_ context.Context, gameID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return fmt.Errorf("game not found")
	}
	if g.Ended == nil {
		g.Ended = &at
	}
	return nil
}

func (m *mockGameRepo) Delete(_ context.Context, gameID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games, gameID)
	delete(m.players, gameID)
	return nil
}

type mockRoundRepo struct {
	mu       sync.Mutex
	rounds   map[int64]*model.Round
	moves    map[int64]*model.Move
	quals    map[int64]*model.Qualification
	faults   []model.Fault
	errors   []model.ActionError
	roundSeq int64
	moveSeq  int64
	qualSeq  int64
	faultSeq int64
}

func newMockRoundRepo() *mockRoundRepo {
	return &mockRoundRepo{
		rounds: make(map[int64]*model.Round),
		moves:  make(map[int64]*model.Move),
		quals:  make(map[int64]*model.Qualification),
	}
}

func (m *mockRoundRepo) CreateRound(_ context.Context, gameID int64, number int, nosyID int64) (*model.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roundSeq++
	r := &model.Round{
		ID:      m.roundSeq,
		GameID:  gameID,
		Number:  number,
		NosyID:  nosyID,
		Started: time.Now(),
	}
	m.rounds[r.ID] = r
	cp := *r
	return &cp, nil
}

func (m *mockRoundRepo) CurrentRound(_ context.Context, gameID int64) (*model.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Round
	for _, r := range m.rounds {
		if r.GameID != gameID {
			continue
		}
		if latest == nil || r.Number > latest.Number {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *mockRoundRepo) ListRounds(_ context.Context, gameID int64) ([]model.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Round
	for n := 1; ; n++ {
		found := false
		for _, r := range m.rounds {
			if r.GameID == gameID && r.Number == n {
				result = append(result, *r)
				found = true
			}
		}
		if !found {
			break
		}
	}
	return result, nil
}

func (m *mockRoundRepo) RestartRound(_ context.Context, roundID, nosyID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundID]
	if !ok {
		return fmt.Errorf("round not found")
	}
	r.NosyID = nosyID
	r.Question = ""
	r.Started = at
	r.QuestionArrived = nil
	r.AnswerEnded = nil
	r.QualifyEnded = nil
	r.Ended = nil
	return nil
}

func (m *mockRoundRepo) SetQuestion(_ context.Context, roundID int64, question string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundID]
	if !ok {
		return fmt.Errorf("round not found")
	}
	if r.QuestionArrived == nil {
		r.Question = question
		r.QuestionArrived = &at
	}
	return nil
}

func (m *mockRoundRepo) CreateMove(_ context.Context, roundID, playerID int64, answer string) (*model.Move, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moveSeq++
	mv := &model.Move{
		ID:       m.moveSeq,
		RoundID:  roundID,
		PlayerID: playerID,
		Answer:   answer,
		Created:  time.Now(),
	}
	m.moves[mv.ID] = mv
	cp := *mv
	return &cp, nil
}

func (m *mockRoundRepo) MoveByPlayer(_ context.Context, roundID, playerID int64) (*model.Move, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mv := range m.moves {
		if mv.RoundID == roundID && mv.PlayerID == playerID {
			cp := *mv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRoundRepo) ListMoves(_ context.Context, roundID int64) ([]model.Move, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Move
	for id := int64(1); id <= m.moveSeq; id++ {
		if mv, ok := m.moves[id]; ok && mv.RoundID == roundID {
			result = append(result, *mv)
		}
	}
	return result, nil
}

func (m *mockRoundRepo) SetEvaluation(_ context.Context, moveID int64, grade int, auto bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.moves[moveID]
	if !ok {
		return fmt.Errorf("move not found")
	}
	mv.Evaluation = &grade
	mv.AutoEvaluation = auto
	mv.Evaluated = &at
	return nil
}

func (m *mockRoundRepo) ListQualifications(_ context.Context, roundID int64) ([]model.Qualification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Qualification
	for id := int64(1); id <= m.qualSeq; id++ {
		q, ok := m.quals[id]
		if !ok {
			continue
		}
		if mv, ok := m.moves[q.MoveID]; ok && mv.RoundID == roundID {
			result = append(result, *q)
		}
	}
	return result, nil
}

func (m *mockRoundRepo) QualificationByPlayer(_ context.Context, roundID, playerID int64) (*model.Qualification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.quals {
		if q.PlayerID != playerID {
			continue
		}
		if mv, ok := m.moves[q.MoveID]; ok && mv.RoundID == roundID {
			cp := *q
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRoundRepo) SetAssessment(_ context.Context, qualificationID int64, isCorrect bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quals[qualificationID]
	if !ok {
		return fmt.Errorf("qualification not found")
	}
	q.IsCorrect = &isCorrect
	q.Qualified = &at
	return nil
}

func (m *mockRoundRepo) CreateFault(_ context.Context, roundID, playerID int64, category string, value int) (*model.Fault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faultSeq++
	f := model.Fault{
		ID:       m.faultSeq,
		RoundID:  roundID,
		PlayerID: playerID,
		Category: category,
		Value:    value,
		Created:  time.Now(),
	}
	m.faults = append(m.faults, f)
	cp := f
	return &cp, nil
}

func (m *mockRoundRepo) ListFaults(_ context.Context, gameID int64) ([]model.Fault, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Fault
	for _, f := range m.faults {
		if r, ok := m.rounds[f.RoundID]; ok && r.GameID == gameID {
			result = append(result, f)
		}
	}
	return result, nil
}

func (m *mockRoundRepo) CreateActionError(_ context.Context, roundID *int64, playerID int64, action, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, model.ActionError{
		RoundID:      roundID,
		PlayerID:     playerID,
		Action:       action,
		ErrorMessage: message,
		Created:      time.Now(),
	})
	return nil
}

func (m *mockRoundRepo) actionErrors() []model.ActionError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ActionError(nil), m.errors...)
}

func (m *mockRoundRepo) FinishAnswerPhase(_ context.Context, roundID int64, at time.Time, faults []model.Fault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundID]
	if !ok {
		return fmt.Errorf("round not found")
	}
	if r.AnswerEnded == nil {
		r.AnswerEnded = &at
	}
	m.insertFaults(faults)
	return nil
}

func (m *mockRoundRepo) FinishQualifyPhase(_ context.Context, roundID int64, at time.Time, autoGradeMoveIDs []int64, quals []model.Qualification, fault *model.Fault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundID]
	if !ok {
		return fmt.Errorf("round not found")
	}
	if r.QualifyEnded == nil {
		r.QualifyEnded = &at
	}
	for _, moveID := range autoGradeMoveIDs {
		if mv, ok := m.moves[moveID]; ok {
			grade := 2
			mv.Evaluation = &grade
			mv.AutoEvaluation = true
			mv.Evaluated = &at
		}
	}
	for _, q := range quals {
		m.qualSeq++
		m.quals[m.qualSeq] = &model.Qualification{
			ID:       m.qualSeq,
			MoveID:   q.MoveID,
			PlayerID: q.PlayerID,
			Created:  time.Now(),
		}
	}
	if fault != nil {
		m.insertFaults([]model.Fault{*fault})
	}
	return nil
}

func (m *mockRoundRepo) FinishRound(_ context.Context, roundID int64, at time.Time, faults []model.Fault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundID]
	if !ok {
		return fmt.Errorf("round not found")
	}
	if r.Ended == nil {
		r.Ended = &at
	}
	m.insertFaults(faults)
	return nil
}

// insertFaults requires m.mu held.
func (m *mockRoundRepo) insertFaults(faults []model.Fault) {
	for _, f := range faults {
		m.faultSeq++
		f.ID = m.faultSeq
		f.Created = time.Now()
		m.faults = append(m.faults, f)
	}
}

type mockStateCache struct {
	mu        sync.Mutex
	snapshots map[int64]json.RawMessage
	recent    []json.RawMessage
}

func newMockStateCache() *mockStateCache {
	return &mockStateCache{snapshots: make(map[int64]json.RawMessage)}
}

func (m *mockStateCache) SaveSnapshot(_ context.Context, gameID int64, snapshot json.RawMessage, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[gameID] = snapshot
	m.recent = append([]json.RawMessage{snapshot}, m.recent...)
	return nil
}

func (m *mockStateCache) GetSnapshot(_ context.Context, gameID int64) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots[gameID], nil
}

func (m *mockStateCache) RecentSnapshots(_ context.Context, limit int64) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int64(len(m.recent)) < limit {
		limit = int64(len(m.recent))
	}
	return append([]json.RawMessage(nil), m.recent[:limit]...), nil
}

func (m *mockStateCache) DeleteSnapshot(_ context.Context, gameID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, gameID)
	return nil
}

// --- Recording broadcaster ---

type sentEvent struct {
	PlayerID  int64 // 0 for broadcasts
	EventType string
	Data      map[string]any
}

type recordingBroadcaster struct {
	events chan sentEvent
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{events: make(chan sentEvent, 512)}
}

func (b *recordingBroadcaster) Broadcast(gameID int64, eventType string, data any) {
	b.events <- sentEvent{EventType: eventType, Data: toMap(data)}
}

func (b *recordingBroadcaster) Unicast(gameID, playerID int64, eventType string, data any) {
	b.events <- sentEvent{PlayerID: playerID, EventType: eventType, Data: toMap(data)}
}

func toMap(data any) map[string]any {
	if m, ok := data.(map[string]any); ok {
		return m
	}
	return nil
}

// waitFor reads events until one of the wanted type arrives, skipping
// everything in between.
func (b *recordingBroadcaster) waitFor(t *testing.T, eventType string, timeout time.Duration) sentEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-b.events:
			if ev.EventType == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", eventType)
			return sentEvent{}
		}
	}
}

// waitForEither reads events until one of the listed types arrives.
func (b *recordingBroadcaster) waitForEither(t *testing.T, timeout time.Duration, types ...string) sentEvent {
	t.Helper()
	wanted := make(map[string]bool, len(types))
	for _, tp := range types {
		wanted[tp] = true
	}
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-b.events:
			if wanted[ev.EventType] {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for one of %v", types)
			return sentEvent{}
		}
	}
}
