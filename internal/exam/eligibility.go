package exam

import (
	"fmt"
	"time"
)

// CheckEligibility decides whether a student may start t at now. The checks
// run in a fixed order and the first failure wins. existing is the student's
// attempt for t, or nil.
func CheckEligibility(now time.Time, t Test, enrolled bool, existing *Attempt, poolSize int) error {
	if !enrolled {
		return &EligibilityError{Code: CodeNotEnrolled, Reason: "you are not enrolled in this lesson"}
	}
	if now.Before(t.StartTime) {
		return &EligibilityError{Code: CodeNotStartedYet, Reason: "the test has not started yet"}
	}
	if now.After(t.EndTime) {
		return &EligibilityError{Code: CodeWindowClosed, Reason: "the test window has closed"}
	}
	if existing != nil {
		return alreadyAttempted(existing.Status)
	}
	if poolSize < t.MinQuestions {
		return &EligibilityError{
			Code:   CodeInsufficientPool,
			Reason: fmt.Sprintf("the test needs %d questions but only %d are available", t.MinQuestions, poolSize),
		}
	}
	return nil
}

// Timing is the clock view of one attempt at one instant.
type Timing struct {
	Remaining       int
	WindowExpired   bool
	DurationExpired bool
}

func attemptTiming(now time.Time, t Test, a Attempt) Timing {
	elapsed := now.Sub(a.StartedAt)
	rem := int((t.Duration() - elapsed) / time.Second)
	if rem < 0 {
		rem = 0
	}
	return Timing{
		Remaining:       rem,
		WindowExpired:   now.After(t.EndTime),
		DurationExpired: elapsed > t.Duration(),
	}
}

func (tm Timing) Expired() bool { return tm.WindowExpired || tm.DurationExpired }
