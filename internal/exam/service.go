package exam

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-exams/internal/grading"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

// Events receives audit records. Implementations must not fail the caller.
type Events interface {
	Record(ctx context.Context, typ, key string, payload any)
}

// EventLog is an Events sink that can read an attempt's trail back.
type EventLog interface {
	Events
	ListByKey(ctx context.Context, key string) ([]syncx.Event, error)
}

type nopEvents struct{}

func (nopEvents) Record(context.Context, string, string, any) {}

type Service struct {
	store  Store
	now    func() time.Time
	events Events
	perm   PermFunc
	grader grading.Grader
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithEvents(e Events) Option            { return func(s *Service) { s.events = e } }
func WithPerm(p PermFunc) Option            { return func(s *Service) { s.perm = p } }
func WithGrader(g grading.Grader) Option    { return func(s *Service) { s.grader = g } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		events: nopEvents{},
		grader: grading.NewDefaultGrader(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// clock returns the one instant used for a whole operation. Storage keeps
// seconds, so sub-second precision is dropped up front.
func (s *Service) clock() time.Time { return s.now().UTC().Truncate(time.Second) }

type StartResult struct {
	Attempt          Attempt        `json:"attempt"`
	Questions        []QuestionView `json:"questions"`
	RemainingSeconds int            `json:"remaining_seconds"`
	DurationSeconds  int            `json:"duration_seconds"`
	EndTime          time.Time      `json:"end_time"`
}

// Start opens the single attempt a student gets at a test and fixes its
// question sample.
func (s *Service) Start(ctx context.Context, testID, studentID string) (*StartResult, error) {
	now := s.clock()
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	enrolled, err := s.store.IsEnrolled(ctx, studentID, t.LessonID)
	if err != nil {
		return nil, err
	}
	var existing *Attempt
	if a, err := s.store.FindAttempt(ctx, testID, studentID); err == nil {
		existing = &a
	} else if !errors.Is(err, ErrNoAttempt) {
		return nil, err
	}
	pool, err := s.store.ListQuestions(ctx, testID)
	if err != nil {
		return nil, err
	}
	if err := CheckEligibility(now, t, enrolled, existing, len(pool)); err != nil {
		return nil, err
	}

	picked := sampleQuestions(pool, t.MinQuestions, s.perm)
	ids := make([]string, len(picked))
	views := make([]QuestionView, len(picked))
	for i, q := range picked {
		ids[i] = q.ID
		views[i] = q.View()
	}
	a := Attempt{
		ID: uuid.NewString(), TestID: testID, StudentID: studentID,
		Status: StatusStarted, StartedAt: now,
	}
	if err := s.store.CreateAttempt(ctx, a, ids); err != nil {
		if errors.Is(err, ErrDuplicateAttempt) {
			// lost the race against a concurrent start
			if cur, ferr := s.store.FindAttempt(ctx, testID, studentID); ferr == nil {
				return nil, alreadyAttempted(cur.Status)
			}
			return nil, alreadyAttempted(StatusStarted)
		}
		return nil, err
	}
	log.Printf("[exam] attempt %s started test=%s student=%s questions=%d", a.ID, testID, studentID, len(ids))
	s.events.Record(ctx, syncx.TypeAttemptStarted, a.ID, map[string]any{
		"test_id": testID, "student_id": studentID, "question_ids": ids, "at": now.Unix(),
	})

	return &StartResult{
		Attempt:          a,
		Questions:        views,
		RemainingSeconds: attemptTiming(now, t, a).Remaining,
		DurationSeconds:  t.DurationSec,
		EndTime:          t.EndTime,
	}, nil
}

type StatusResult struct {
	Attempt          Attempt        `json:"attempt"`
	Questions        []QuestionView `json:"questions"`
	RemainingSeconds int            `json:"remaining_seconds"`
	WindowExpired    bool           `json:"window_expired"`
	DurationExpired  bool           `json:"duration_expired"`
	CanContinue      bool           `json:"can_continue"`
	EndTime          time.Time      `json:"end_time"`
}

// Status returns the attempt with its fixed sample and the student's current
// selections. It never changes state.
func (s *Service) Status(ctx context.Context, testID, studentID string) (*StatusResult, error) {
	now := s.clock()
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	a, err := s.store.FindAttempt(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.GetAttemptItems(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	views := make([]QuestionView, len(items))
	for i, it := range items {
		views[i] = it.View()
	}
	tm := attemptTiming(now, t, a)
	return &StatusResult{
		Attempt:          a,
		Questions:        views,
		RemainingSeconds: tm.Remaining,
		WindowExpired:    tm.WindowExpired,
		DurationExpired:  tm.DurationExpired,
		CanContinue:      a.Status == StatusStarted && !tm.Expired(),
		EndTime:          t.EndTime,
	}, nil
}

type AnswerInput struct {
	QuestionID     string  `json:"question_id"`
	SelectedAnswer *string `json:"selected_answer"`
}

type SubmitResult struct {
	Attempt Attempt `json:"attempt"`
	Score   float64 `json:"score"`
	Ignored int     `json:"ignored"`
	Notice  string  `json:"notice,omitempty"`
}

const noticeAlreadySubmitted = "this test has already been submitted"

// Submit scores the student's answers and closes the attempt. A second submit
// returns the first result unchanged. A submit past the window or the
// duration closes the attempt as expired with score 0 and returns
// ErrAttemptExpired alongside the result.
func (s *Service) Submit(ctx context.Context, testID, studentID string, answers []AnswerInput) (*SubmitResult, error) {
	now := s.clock()
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	a, err := s.store.FindAttempt(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	if a.Status.Closed() {
		return closedOutcome(a)
	}

	ignored := 0
	decide := func(cur Attempt, items []AttemptItem) (*Closure, error) {
		if cur.Status != StatusStarted {
			return nil, nil
		}
		grade := &GradeUpdate{
			StudentID: cur.StudentID, LessonID: t.LessonID, Kind: t.Type,
			Weights: t.Weights, At: now,
		}
		if attemptTiming(now, t, cur).Expired() {
			return &Closure{Status: StatusExpired, Score: 0, ClosedAt: now, Grade: grade}, nil
		}

		byID := make(map[string]AttemptItem, len(items))
		for _, it := range items {
			byID[it.QuestionID] = it
		}
		// last selection wins when a question id repeats
		chosen := map[string]*string{}
		order := []string{}
		ignored = 0
		for _, in := range answers {
			if _, ok := byID[in.QuestionID]; !ok {
				ignored++
				continue
			}
			if _, seen := chosen[in.QuestionID]; !seen {
				order = append(order, in.QuestionID)
			}
			chosen[in.QuestionID] = grading.SelectedOption(in.SelectedAnswer)
		}
		c := &Closure{Status: StatusSubmitted, ClosedAt: now, Grade: grade}
		for _, qid := range order {
			it := byID[qid]
			r := s.grader.Grade(grading.Q{Correct: it.Correct, Points: float64(it.Points)}, chosen[qid])
			c.Score += r.Earned
			c.Answers = append(c.Answers, ScoredAnswer{
				QuestionID: qid, Selected: chosen[qid], Correct: r.Correct, Earned: r.Earned,
			})
		}
		grade.Score = c.Score
		return c, nil
	}

	out, applied, err := s.store.CloseAttempt(ctx, a.ID, decide)
	if errors.Is(err, errAttemptNotOpen) {
		// closed concurrently, by the sweep or a parallel submit
		if cur, ferr := s.store.FindAttempt(ctx, testID, studentID); ferr == nil {
			return closedOutcome(cur)
		}
	}
	if err != nil {
		return nil, err
	}
	if !applied {
		return closedOutcome(out)
	}

	res := &SubmitResult{Attempt: out, Score: out.Score, Ignored: ignored}
	if out.Status == StatusExpired {
		log.Printf("[exam] attempt %s expired on submit test=%s student=%s", out.ID, testID, studentID)
		s.events.Record(ctx, syncx.TypeAttemptExpired, out.ID, map[string]any{
			"test_id": testID, "student_id": studentID, "at": now.Unix(),
		})
		res.Ignored = 0
		return res, ErrAttemptExpired
	}
	if ignored > 0 {
		log.Printf("[exam] attempt %s: %d answers for questions outside the sample were ignored", out.ID, ignored)
	}
	s.events.Record(ctx, syncx.TypeAttemptSubmitted, out.ID, map[string]any{
		"test_id": testID, "student_id": studentID, "score": out.Score, "ignored": ignored, "at": now.Unix(),
	})
	return res, nil
}

func closedOutcome(a Attempt) (*SubmitResult, error) {
	res := &SubmitResult{Attempt: a, Score: a.Score}
	if a.Status == StatusExpired {
		return res, ErrAttemptExpired
	}
	res.Notice = noticeAlreadySubmitted
	return res, nil
}

type ResultView struct {
	Attempt Attempt       `json:"attempt"`
	Test    Test          `json:"test"`
	Items   []AttemptItem `json:"answers"`
	Grade   *Grade        `json:"grade"`
}

// Result is the student's review of a closed attempt, correct options included.
func (s *Service) Result(ctx context.Context, testID, studentID string) (*ResultView, error) {
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	a, err := s.store.FindAttempt(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	if !a.Status.Closed() {
		return nil, ErrAttemptOpen
	}
	items, err := s.store.GetAttemptItems(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	g, err := s.store.GetGrade(ctx, studentID, t.LessonID)
	if err != nil {
		return nil, err
	}
	return &ResultView{Attempt: a, Test: t, Items: items, Grade: g}, nil
}

// ListAvailableTests lists the tests of the student's lessons. CanStart is
// true only inside the window and without a prior attempt.
func (s *Service) ListAvailableTests(ctx context.Context, studentID string) ([]AvailableTest, error) {
	now := s.clock()
	list, err := s.store.ListStudentTests(ctx, studentID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		t := list[i].Test
		list[i].CanStart = list[i].AttemptID == nil && !now.Before(t.StartTime) && !now.After(t.EndTime)
	}
	return list, nil
}
