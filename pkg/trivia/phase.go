// Package trivia implements the pure game rules: round phase derivation,
// nosy selection, review assignment, scoring, and fault weighting. It has
// no knowledge of transport or storage; callers feed it plain values.
package trivia

import "time"

// Phase identifies where a round is in its lifecycle.
type Phase string

const (
	PhaseQuestion   Phase = "question"
	PhaseAnswering  Phase = "answering"
	PhaseQualifying Phase = "qualifying"
	PhaseEvaluating Phase = "evaluating"
	PhaseEnded      Phase = "ended"
)

// RoundClock holds the phase timestamps of a round. Started is always set;
// the rest become non-nil in order as the round progresses. The phase is
// derived from the first nil timestamp, so there is no separate status field
// that could drift out of sync.
type RoundClock struct {
	Started         time.Time
	QuestionArrived *time.Time
	AnswerEnded     *time.Time
	QualifyEnded    *time.Time
	Ended           *time.Time
}

// Phase returns the current phase of the round.
func (c RoundClock) Phase() Phase {
	switch {
	case c.QuestionArrived == nil:
		return PhaseQuestion
	case c.AnswerEnded == nil:
		return PhaseAnswering
	case c.QualifyEnded == nil:
		return PhaseQualifying
	case c.Ended == nil:
		return PhaseEvaluating
	default:
		return PhaseEnded
	}
}

// Ordered reports whether the non-nil timestamps are monotonically
// non-decreasing in lifecycle order. A store that ever persists an
// out-of-order clock has a bug.
func (c RoundClock) Ordered() bool {
	prev := c.Started
	for _, ts := range []*time.Time{c.QuestionArrived, c.AnswerEnded, c.QualifyEnded, c.Ended} {
		if ts == nil {
			continue
		}
		if ts.Before(prev) {
			return false
		}
		prev = *ts
	}
	return true
}

// MinActivePlayers returns the number of active players a game needs to keep
// running. Games of three or more need three; a two-player game keeps going
// until one of the two is disqualified.
func MinActivePlayers(roster int) int {
	if roster < 3 {
		return roster
	}
	return 3
}
