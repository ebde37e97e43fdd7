package exam

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTestNotFound      = errors.New("test not found")
	ErrLessonNotFound    = errors.New("lesson not found")
	ErrNoAttempt         = errors.New("you have not started this test")
	ErrAttemptExpired    = errors.New("exam time is over")
	ErrAttemptOpen       = errors.New("attempt is still in progress")
	ErrDuplicateAttempt  = errors.New("an attempt already exists for this test and student")
	ErrDuplicateTestType = errors.New("a test of this type already exists for the lesson")
	ErrNotTeaching       = errors.New("you are not assigned to this lesson")
	ErrNotOwner          = errors.New("you are not the author of this test")

	// errAttemptNotOpen is returned by the store when a conditional close finds
	// the attempt already closed by someone else.
	errAttemptNotOpen = errors.New("attempt is no longer open")
)

type EligibilityCode string

const (
	CodeNotEnrolled      EligibilityCode = "not_enrolled"
	CodeNotStartedYet    EligibilityCode = "not_started_yet"
	CodeWindowClosed     EligibilityCode = "window_closed"
	CodeAlreadyAttempted EligibilityCode = "already_attempted"
	CodeInsufficientPool EligibilityCode = "insufficient_pool"
)

// EligibilityError explains why a student may not start a test. Status is set
// only for CodeAlreadyAttempted.
type EligibilityError struct {
	Code   EligibilityCode `json:"code"`
	Status AttemptStatus   `json:"attempt_status,omitempty"`
	Reason string          `json:"reason"`
}

func (e *EligibilityError) Error() string { return e.Reason }

func alreadyAttempted(status AttemptStatus) *EligibilityError {
	e := &EligibilityError{Code: CodeAlreadyAttempted, Status: status}
	switch status {
	case StatusSubmitted:
		e.Reason = "you have already completed this test"
	case StatusExpired:
		e.Reason = "your time for this test is over"
	default:
		e.Reason = "you have already started this test; re-entry is not allowed"
	}
	return e
}

// ValidationError collects input problems found before any mutation.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Problems: []string{fmt.Sprintf(format, args...)}}
}
