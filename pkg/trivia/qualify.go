package trivia

// MoveRef identifies an answer and its author for review assignment.
type MoveRef struct {
	MoveID   int64
	PlayerID int64
}

// Review assigns one player to judge one move.
type Review struct {
	PlayerID int64 // the judge
	MoveID   int64
}

// AssignReviews gives each player another player's move to judge.
//
// moves must be sorted by creation time. players holds every active non-nosy
// player: the movers first, in the same order as moves, then any player who
// never answered. A cursor walks the moves; when it lands on the judging
// player's own move, that move is swapped one slot forward so nobody reviews
// themselves. With a single move the swap is a no-op and its author reviews
// their own answer, which is the accepted degenerate case. With no moves at
// all there is nothing to review and the result is empty.
func AssignReviews(moves []MoveRef, players []int64) []Review {
	if len(moves) == 0 || len(players) == 0 {
		return nil
	}
	ring := make([]MoveRef, len(moves))
	copy(ring, moves)

	reviews := make([]Review, 0, len(players))
	k := 0
	for _, p := range players {
		if ring[k].PlayerID == p {
			next := (k + 1) % len(ring)
			ring[k], ring[next] = ring[next], ring[k]
		}
		reviews = append(reviews, Review{PlayerID: p, MoveID: ring[k].MoveID})
		k = (k + 1) % len(ring)
	}
	return reviews
}
