package trivia

// Grade bounds for a nosy's evaluation of an answer.
const (
	MinGrade = 0
	MaxGrade = 3
)

// AutoGrade is the evaluation applied to moves the nosy never graded before
// the qualify timer ran out.
const AutoGrade = 2

// ValidGrade reports whether g is an admissible evaluation.
func ValidGrade(g int) bool {
	return g >= MinGrade && g <= MaxGrade
}

// NosyScore computes the nosy's score for a round from the peer review of
// their grading. total is the number of qualifications, negative how many of
// them judged the graded answer incorrect. With nothing reviewed the nosy
// gets full marks; otherwise the approval ratio decides.
func NosyScore(total, negative int) int {
	if total == 0 {
		return 3
	}
	r := float64(total-negative) / float64(total)
	switch {
	case r >= 0.8:
		return 3
	case r >= 0.5:
		return 1
	default:
		return -2
	}
}
