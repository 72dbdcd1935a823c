// Package scoring holds the duel scoring rules. Score is a pure function:
// both peers fold the same question_answer events through it and must land on
// identical totals, so it takes no state beyond the prior streak and performs
// no I/O.
package scoring

const (
	// BasePoints is awarded for every correct answer.
	BasePoints = 10

	comboThresholdSmall = 3
	comboThresholdBig   = 5
	comboBonusSmall     = 5
	comboBonusBig       = 10
)

// Result is the outcome of scoring a single answer.
type Result struct {
	PointsEarned int
	ComboBonus   int
	NewStreak    int
}

// Total is the score delta to apply to the player's running total.
func (r Result) Total() int {
	return r.PointsEarned + r.ComboBonus
}

// Score maps one answer onto points and the player's new streak.
//
// Correct answers earn 10 points plus a combo bonus once the streak crosses a
// threshold: +5 from the third consecutive correct answer, +10 from the
// fifth. An incorrect answer earns nothing and resets the streak.
func Score(isCorrect bool, priorStreak int) Result {
	if !isCorrect {
		return Result{}
	}

	r := Result{
		PointsEarned: BasePoints,
		NewStreak:    priorStreak + 1,
	}
	switch {
	case r.NewStreak >= comboThresholdBig:
		r.ComboBonus = comboBonusBig
	case r.NewStreak >= comboThresholdSmall:
		r.ComboBonus = comboBonusSmall
	}
	return r
}
