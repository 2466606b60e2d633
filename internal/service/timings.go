package service

import "time"

// Timings collects the orchestrator's phase durations. Delta is the grace
// period added to every timer to tolerate clock skew and in-flight messages.
// Second scales the per-game question_time and answer_time settings, which
// are stored as plain seconds; tests shrink it to run the state machine in
// milliseconds.
type Timings struct {
	Delta   time.Duration
	Start   time.Duration
	Qualify time.Duration
	Assess  time.Duration
	Second  time.Duration
}

// DefaultTimings returns the production phase durations.
func DefaultTimings() Timings {
	return Timings{
		Delta:   2 * time.Second,
		Start:   5 * time.Second,
		Qualify: 90 * time.Second,
		Assess:  30 * time.Second,
		Second:  time.Second,
	}
}
