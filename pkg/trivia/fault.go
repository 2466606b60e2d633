package trivia

// FaultCategory labels a disciplinary event. The two-letter codes are part
// of the wire protocol and the database schema.
type FaultCategory string

const (
	FaultQuestionTime FaultCategory = "QT" // nosy missed the question timeout
	FaultAnswerTime   FaultCategory = "AT" // player missed the answer timeout
	FaultGradingTime  FaultCategory = "ET" // nosy missed the grading timeout
	FaultAssessTime   FaultCategory = "FT" // player missed the assessment timeout
	FaultFocus        FaultCategory = "FF" // focus/presence infraction
)

// DisqualifyWeight is the accumulated fault weight at which a player is
// disqualified for the remainder of the game.
const DisqualifyWeight = 3

// FaultValue returns the weight of a fault category. Unknown categories
// weigh 1 so a bad row can never disqualify a player on its own.
func FaultValue(c FaultCategory) int {
	if c == FaultQuestionTime {
		return 2
	}
	return 1
}

// Disqualified reports whether an accumulated fault weight takes a player
// out of the game.
func Disqualified(weight int) bool {
	return weight >= DisqualifyWeight
}
