package grading

import (
	"errors"
	"fmt"
	"math"
)

// Test kinds. Each one feeds a different field of the lesson grade.
const (
	KindVize  = "vize"
	KindFinal = "final"
	KindQuiz  = "quiz"
)

const weightTolerance = 0.01

// ScoreColumn names the grades column a test kind writes to.
func ScoreColumn(kind string) (string, error) {
	switch kind {
	case KindVize:
		return "vize_score", nil
	case KindFinal:
		return "final_score", nil
	case KindQuiz:
		return "quiz_score", nil
	}
	return "", fmt.Errorf("unknown test kind %q", kind)
}

// Weights are percentages; Vize+Final must be 100.
type Weights struct {
	Vize  float64 `json:"vize_weight" db:"vize_weight"`
	Final float64 `json:"final_weight" db:"final_weight"`
}

func DefaultWeights() Weights { return Weights{Vize: 40, Final: 60} }

func (w Weights) Validate() error {
	if w.Vize < 0 || w.Final < 0 || w.Vize > 100 || w.Final > 100 {
		return errors.New("weights must be between 0 and 100")
	}
	if math.Abs(w.Vize+w.Final-100) > weightTolerance {
		return fmt.Errorf("vize weight + final weight must equal 100 (got %.2f)", w.Vize+w.Final)
	}
	return nil
}

// Ledger holds the per-lesson scores of one student. Total is derived.
type Ledger struct {
	Vize  *float64 `json:"vize_score" db:"vize_score"`
	Final *float64 `json:"final_score" db:"final_score"`
	Quiz  *float64 `json:"quiz_score" db:"quiz_score"`
	Total *float64 `json:"total_score" db:"total_score"`
}

// Recompute rewrites Total from the component scores with the weights of the
// test that produced the latest score.
func (l *Ledger) Recompute(w Weights) {
	l.Total = Total(l.Vize, l.Final, w)
}

// Total ignores quiz scores; whether quizzes should count is still an open
// policy decision.
func Total(vize, final *float64, w Weights) *float64 {
	switch {
	case vize != nil && final != nil:
		t := *vize*(w.Vize/100.0) + *final*(w.Final/100.0)
		return &t
	case vize != nil:
		t := *vize
		return &t
	case final != nil:
		t := *final
		return &t
	default:
		return nil
	}
}
