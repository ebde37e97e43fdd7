package exam

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

// SweepExpired closes out every test whose window has ended. Enrolled
// students without an attempt get a zero submitted attempt stamped at the
// test's end; attempts still started are forced to submitted with score 0
// and their selections discarded. Closed attempts are left alone, so a
// second run finds nothing to do. A failing test does not stop the others:
// their errors are joined and returned with the count closed so far.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock()
	tests, err := s.store.ListEndedTests(ctx, now)
	if err != nil {
		return 0, err
	}
	closed := 0
	var errs []error
	for _, t := range tests {
		n, err := s.sweepTest(ctx, t)
		closed += n
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep test %s: %w", t.ID, err))
		}
	}
	if closed > 0 {
		log.Printf("[sweep] closed %d attempts across %d ended tests", closed, len(tests))
	}
	return closed, errors.Join(errs...)
}

func (s *Service) sweepTest(ctx context.Context, t Test) (int, error) {
	students, err := s.store.ListEnrolledStudents(ctx, t.LessonID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sid := range students {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		grade := &GradeUpdate{
			StudentID: sid, LessonID: t.LessonID, Kind: t.Type,
			Score: 0, Weights: t.Weights, At: t.EndTime,
		}
		a, err := s.store.FindAttempt(ctx, t.ID, sid)
		switch {
		case errors.Is(err, ErrNoAttempt):
			end := t.EndTime
			na := Attempt{
				ID: uuid.NewString(), TestID: t.ID, StudentID: sid,
				Status: StatusSubmitted, StartedAt: end, SubmittedAt: &end,
			}
			err := s.store.InsertClosedAttempt(ctx, na, grade)
			if errors.Is(err, ErrDuplicateAttempt) {
				continue
			}
			if err != nil {
				return n, err
			}
			n++
			s.events.Record(ctx, syncx.TypeAttemptSwept, na.ID, map[string]any{
				"test_id": t.ID, "student_id": sid, "reason": "no_attempt",
			})
		case err != nil:
			return n, err
		case a.Status == StatusStarted:
			_, applied, err := s.store.CloseAttempt(ctx, a.ID, func(cur Attempt, _ []AttemptItem) (*Closure, error) {
				if cur.Status != StatusStarted {
					return nil, nil
				}
				return &Closure{
					Status: StatusSubmitted, Score: 0, ClosedAt: t.EndTime,
					ResetAnswers: true, Grade: grade,
				}, nil
			})
			if errors.Is(err, errAttemptNotOpen) {
				continue
			}
			if err != nil {
				return n, err
			}
			if applied {
				n++
				s.events.Record(ctx, syncx.TypeAttemptSwept, a.ID, map[string]any{
					"test_id": t.ID, "student_id": sid, "reason": "abandoned",
				})
			}
		}
	}
	return n, nil
}
