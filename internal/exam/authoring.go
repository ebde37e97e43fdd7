package exam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-exams/internal/grading"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

const DefaultMinQuestions = 5

var validate = validator.New()

// fromValidator turns validator field errors into a ValidationError.
func fromValidator(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range ve {
		out.Problems = append(out.Problems, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return out
}

type CreateTestInput struct {
	LessonID        string    `json:"lesson_id" validate:"required"`
	Type            string    `json:"test_type" validate:"required,oneof=vize final quiz"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	DurationMinutes int       `json:"duration" validate:"required,gt=0"`
	MinQuestions    int       `json:"min_questions" validate:"omitempty,gte=1"`
	VizeWeight      *float64  `json:"vize_weight" validate:"omitempty,gte=0,lte=100"`
	FinalWeight     *float64  `json:"final_weight" validate:"omitempty,gte=0,lte=100"`
}

// CreateTest validates everything before writing anything. Weights default
// to the lesson's; a teacher may own only one test per type and lesson.
func (s *Service) CreateTest(ctx context.Context, actor Actor, in CreateTestInput) (Test, error) {
	if err := validate.Struct(in); err != nil {
		return Test{}, fromValidator(err)
	}
	dur := time.Duration(in.DurationMinutes) * time.Minute
	if dur > in.EndTime.Sub(in.StartTime) {
		return Test{}, invalid("duration must fit inside the test window")
	}
	lesson, err := s.store.GetLesson(ctx, in.LessonID)
	if err != nil {
		return Test{}, err
	}
	if err := s.requireTeaching(ctx, actor, lesson.ID); err != nil {
		return Test{}, err
	}
	w := lesson.Weights
	if in.VizeWeight != nil {
		w.Vize = *in.VizeWeight
	}
	if in.FinalWeight != nil {
		w.Final = *in.FinalWeight
	}
	if err := w.Validate(); err != nil {
		return Test{}, invalid("%v", err)
	}
	minQ := in.MinQuestions
	if minQ == 0 {
		minQ = DefaultMinQuestions
	}
	t := Test{
		ID:           uuid.NewString(),
		LessonID:     lesson.ID,
		TeacherID:    actor.ID,
		Type:         in.Type,
		StartTime:    in.StartTime.UTC().Truncate(time.Second),
		EndTime:      in.EndTime.UTC().Truncate(time.Second),
		DurationSec:  int(dur / time.Second),
		MinQuestions: minQ,
		Weights:      w,
		CreatedAt:    s.clock(),
	}
	if err := s.store.CreateTest(ctx, t); err != nil {
		return Test{}, err
	}
	return t, nil
}

func (s *Service) requireTeaching(ctx context.Context, actor Actor, lessonID string) error {
	if actor.IsAdmin() {
		return nil
	}
	ok, err := s.store.IsTeaching(ctx, actor.ID, lessonID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotTeaching
	}
	return nil
}

// ownedTest loads a test the actor may manage.
func (s *Service) ownedTest(ctx context.Context, actor Actor, testID string) (Test, error) {
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return Test{}, err
	}
	if !actor.IsAdmin() && t.TeacherID != actor.ID {
		return Test{}, ErrNotOwner
	}
	return t, nil
}

type TestDetail struct {
	Test      Test       `json:"test"`
	Questions []Question `json:"questions"`
}

func (s *Service) GetTestForTeacher(ctx context.Context, actor Actor, testID string) (*TestDetail, error) {
	t, err := s.ownedTest(ctx, actor, testID)
	if err != nil {
		return nil, err
	}
	qs, err := s.store.ListQuestions(ctx, testID)
	if err != nil {
		return nil, err
	}
	return &TestDetail{Test: t, Questions: qs}, nil
}

func (s *Service) ListTestsForLesson(ctx context.Context, actor Actor, lessonID string) ([]Test, error) {
	if err := s.requireTeaching(ctx, actor, lessonID); err != nil {
		return nil, err
	}
	return s.store.ListLessonTests(ctx, lessonID)
}

// DeleteTest removes the test with its pool, attempts and answers.
func (s *Service) DeleteTest(ctx context.Context, actor Actor, testID string) error {
	if _, err := s.ownedTest(ctx, actor, testID); err != nil {
		return err
	}
	return s.store.DeleteTest(ctx, testID)
}

// TestResults lists every attempt of a test for its author.
func (s *Service) TestResults(ctx context.Context, actor Actor, testID string) ([]Attempt, error) {
	if _, err := s.ownedTest(ctx, actor, testID); err != nil {
		return nil, err
	}
	return s.store.ListTestAttempts(ctx, testID)
}

// AttemptEvents is the audit trail of one attempt of the teacher's test: the
// sampled question ids, the submit or expiry and any sweep. It is empty when
// the service records no readable log.
func (s *Service) AttemptEvents(ctx context.Context, actor Actor, testID, attemptID string) ([]syncx.Event, error) {
	if _, err := s.ownedTest(ctx, actor, testID); err != nil {
		return nil, err
	}
	list, err := s.store.ListTestAttempts(ctx, testID)
	if err != nil {
		return nil, err
	}
	found := false
	for _, a := range list {
		if a.ID == attemptID {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNoAttempt
	}
	el, ok := s.events.(EventLog)
	if !ok {
		return []syncx.Event{}, nil
	}
	return el.ListByKey(ctx, attemptID)
}

/* ---------------- question pool ---------------- */

// placeholder stored for an unused option C or D
const EmptyOption = "-"

type QuestionInput struct {
	Prompt        string `json:"question_text"`
	OptionA       string `json:"option_a"`
	OptionB       string `json:"option_b"`
	OptionC       string `json:"option_c"`
	OptionD       string `json:"option_d"`
	CorrectAnswer string `json:"correct_answer"`

	// SourceRow is the 1-based spreadsheet row the input came from, if any.
	SourceRow int `json:"-"`
}

// normalize applies the pool rules and returns the question or the list of
// problems with the row.
func (in QuestionInput) normalize() (Question, []string) {
	q := Question{
		Prompt:  strings.TrimSpace(in.Prompt),
		OptionA: strings.TrimSpace(in.OptionA),
		OptionB: strings.TrimSpace(in.OptionB),
		OptionC: strings.TrimSpace(in.OptionC),
		OptionD: strings.TrimSpace(in.OptionD),
		Correct: strings.ToLower(strings.TrimSpace(in.CorrectAnswer)),
	}
	var problems []string
	if q.Prompt == "" {
		problems = append(problems, "question text is required")
	}
	if q.OptionA == "" || q.OptionB == "" {
		problems = append(problems, "options A and B are required")
	}
	if isBlankOption(q.OptionC) && isBlankOption(q.OptionD) {
		problems = append(problems, "at least one of options C and D is required")
	}
	if !grading.ValidOption(q.Correct) {
		problems = append(problems, "correct answer must be one of a, b, c, d")
	} else if isBlankOption(optionText(q, q.Correct)) {
		problems = append(problems, fmt.Sprintf("correct answer %q points to an empty option", q.Correct))
	}
	if q.OptionC == "" {
		q.OptionC = EmptyOption
	}
	if q.OptionD == "" {
		q.OptionD = EmptyOption
	}
	return q, problems
}

func isBlankOption(s string) bool { return s == "" || s == EmptyOption }

func optionText(q Question, opt string) string {
	switch opt {
	case "a":
		return q.OptionA
	case "b":
		return q.OptionB
	case "c":
		return q.OptionC
	case "d":
		return q.OptionD
	}
	return ""
}

// AddQuestion appends one question and reprices the pool.
func (s *Service) AddQuestion(ctx context.Context, actor Actor, testID string, in QuestionInput) (Question, int, error) {
	t, err := s.ownedTest(ctx, actor, testID)
	if err != nil {
		return Question{}, 0, err
	}
	q, problems := in.normalize()
	if len(problems) > 0 {
		return Question{}, 0, &ValidationError{Problems: problems}
	}
	q.ID = uuid.NewString()
	q.TestID = testID
	q.Points = grading.PointsPerQuestion(t.MinQuestions)
	size, err := s.store.AddQuestions(ctx, testID, []Question{q}, q.Points)
	if err != nil {
		return Question{}, 0, err
	}
	return q, size, nil
}

type RowError struct {
	Row      int      `json:"row"`
	Problems []string `json:"errors"`
}

type BulkResult struct {
	Created           int        `json:"created"`
	Errors            []RowError `json:"errors"`
	PoolSize          int        `json:"pool_size"`
	MinQuestions      int        `json:"min_questions"`
	PointsPerQuestion int        `json:"points_per_question"`
	Insufficient      bool       `json:"insufficient"`
}

// BulkAddQuestions loads many rows at once. Invalid rows are reported by
// their source row, or their 1-based position, and skipped; the valid ones
// are created together.
func (s *Service) BulkAddQuestions(ctx context.Context, actor Actor, testID string, rows []QuestionInput) (*BulkResult, error) {
	t, err := s.ownedTest(ctx, actor, testID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, invalid("no questions supplied")
	}
	points := grading.PointsPerQuestion(t.MinQuestions)
	res := &BulkResult{Errors: []RowError{}, MinQuestions: t.MinQuestions, PointsPerQuestion: points}
	var valid []Question
	for i, in := range rows {
		q, problems := in.normalize()
		if len(problems) > 0 {
			row := i + 1
			if in.SourceRow > 0 {
				row = in.SourceRow
			}
			res.Errors = append(res.Errors, RowError{Row: row, Problems: problems})
			continue
		}
		q.ID = uuid.NewString()
		q.TestID = testID
		q.Points = points
		valid = append(valid, q)
	}
	if len(valid) > 0 {
		size, err := s.store.AddQuestions(ctx, testID, valid, points)
		if err != nil {
			return nil, err
		}
		res.Created = len(valid)
		res.PoolSize = size
	} else {
		pool, err := s.store.ListQuestions(ctx, testID)
		if err != nil {
			return nil, err
		}
		res.PoolSize = len(pool)
	}
	res.Insufficient = res.PoolSize < t.MinQuestions
	return res, nil
}

func (s *Service) DeleteAllQuestions(ctx context.Context, actor Actor, testID string) error {
	if _, err := s.ownedTest(ctx, actor, testID); err != nil {
		return err
	}
	return s.store.DeleteQuestions(ctx, testID)
}
