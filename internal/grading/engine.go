package grading

import (
	"math"
)

// Q is the minimal view of a question needed for scoring.
type Q struct {
	Correct string  // a|b|c|d
	Points  float64 // the question's current pool value
}

// Result is the outcome of scoring a single answer.
type Result struct {
	Correct   bool
	Earned    float64
	MaxPoints float64
}

// Grader scores one multiple-choice answer.
type Grader interface {
	Grade(q Q, selected *string) Result
}

type choiceGrader struct{}

// NewDefaultGrader returns the binary single-choice grader: full points on an
// exact match against the correct option, zero otherwise. No partial credit.
func NewDefaultGrader() Grader { return choiceGrader{} }

func (choiceGrader) Grade(q Q, selected *string) Result {
	ok, earned := ScoreChoice(selected, q.Correct, q.Points)
	return Result{Correct: ok, Earned: earned, MaxPoints: q.Points}
}

// ScoreChoice never fails: a nil or unmatched selection is simply incorrect.
func ScoreChoice(selected *string, correct string, points float64) (bool, float64) {
	if selected == nil || *selected == "" {
		return false, 0
	}
	if *selected != correct {
		return false, 0
	}
	return true, points
}

// PointsPerQuestion is the value shared by every question of a pool so that a
// fully correct sample of minQuestions scores 100.
func PointsPerQuestion(minQuestions int) int {
	if minQuestions <= 0 {
		return 0
	}
	return int(math.Round(100.0 / float64(minQuestions)))
}

var options = map[string]struct{}{"a": {}, "b": {}, "c": {}, "d": {}}

// ValidOption reports whether s is one of a, b, c, d.
func ValidOption(s string) bool {
	_, ok := options[s]
	return ok
}

// SelectedOption keeps a client supplied option only when it is exactly one of
// a..d. Anything else, including "A" or " a", is stored as no selection.
func SelectedOption(s *string) *string {
	if s == nil || !ValidOption(*s) {
		return nil
	}
	v := *s
	return &v
}
