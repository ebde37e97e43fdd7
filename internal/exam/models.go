package exam

import (
	"time"

	"github.com/mind-engage/mindengage-exams/internal/grading"
)

type AttemptStatus string

const (
	StatusStarted   AttemptStatus = "started"
	StatusSubmitted AttemptStatus = "submitted"
	StatusExpired   AttemptStatus = "expired"
)

// Closed reports whether no transition can leave this status.
func (s AttemptStatus) Closed() bool { return s == StatusSubmitted || s == StatusExpired }

type Lesson struct {
	ID   string `json:"id" db:"id"`
	Code string `json:"code" db:"code"`
	Name string `json:"name" db:"name"`
	grading.Weights
}

// Test is one timed exam of a lesson. Window and duration never change after
// creation; the weights are a copy of the lesson's at creation time.
type Test struct {
	ID           string    `json:"id"`
	LessonID     string    `json:"lesson_id"`
	TeacherID    string    `json:"teacher_id"`
	Type         string    `json:"test_type"` // vize|final|quiz
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DurationSec  int       `json:"duration_seconds"`
	MinQuestions int       `json:"min_questions"`
	grading.Weights
	CreatedAt time.Time `json:"created_at"`
}

func (t Test) Duration() time.Duration { return time.Duration(t.DurationSec) * time.Second }

type Question struct {
	ID      string `json:"id" db:"id"`
	TestID  string `json:"test_id" db:"test_id"`
	Seq     int    `json:"-" db:"seq"`
	Prompt  string `json:"question_text" db:"prompt"`
	OptionA string `json:"option_a" db:"option_a"`
	OptionB string `json:"option_b" db:"option_b"`
	OptionC string `json:"option_c" db:"option_c"`
	OptionD string `json:"option_d" db:"option_d"`
	Correct string `json:"correct_answer,omitempty" db:"correct_option"`
	Points  int    `json:"points" db:"points"`
}

// QuestionView is what a student sees: the options but never the key.
type QuestionView struct {
	ID       string  `json:"id"`
	Prompt   string  `json:"question_text"`
	OptionA  string  `json:"option_a"`
	OptionB  string  `json:"option_b"`
	OptionC  string  `json:"option_c"`
	OptionD  string  `json:"option_d"`
	Points   int     `json:"points"`
	Selected *string `json:"selected_answer"`
}

func (q Question) View() QuestionView {
	return QuestionView{
		ID: q.ID, Prompt: q.Prompt,
		OptionA: q.OptionA, OptionB: q.OptionB, OptionC: q.OptionC, OptionD: q.OptionD,
		Points: q.Points,
	}
}

type Attempt struct {
	ID          string        `json:"id"`
	TestID      string        `json:"test_id"`
	StudentID   string        `json:"student_id"`
	Status      AttemptStatus `json:"status"`
	Score       float64       `json:"score"`
	StartedAt   time.Time     `json:"started_at"`
	SubmittedAt *time.Time    `json:"submitted_at"`
}

// AttemptItem is one sampled question of an attempt joined with its answer row.
type AttemptItem struct {
	AnswerID   string  `json:"answer_id" db:"answer_id"`
	QuestionID string  `json:"question_id" db:"question_id"`
	Position   int     `json:"position" db:"position"`
	Selected   *string `json:"selected_answer" db:"selected_option"`
	IsCorrect  bool    `json:"is_correct" db:"is_correct"`
	Earned     float64 `json:"points_earned" db:"points_earned"`
	Prompt     string  `json:"question_text" db:"prompt"`
	OptionA    string  `json:"option_a" db:"option_a"`
	OptionB    string  `json:"option_b" db:"option_b"`
	OptionC    string  `json:"option_c" db:"option_c"`
	OptionD    string  `json:"option_d" db:"option_d"`
	Correct    string  `json:"correct_answer" db:"correct_option"`
	Points     int     `json:"question_points" db:"points"`
}

func (it AttemptItem) View() QuestionView {
	return QuestionView{
		ID: it.QuestionID, Prompt: it.Prompt,
		OptionA: it.OptionA, OptionB: it.OptionB, OptionC: it.OptionC, OptionD: it.OptionD,
		Points: it.Points, Selected: it.Selected,
	}
}

type Grade struct {
	StudentID string `json:"student_id" db:"student_id"`
	LessonID  string `json:"lesson_id" db:"lesson_id"`
	grading.Ledger
}

// LessonGradeRow is one enrolled student in a teacher's grade sheet. The
// ledger fields are nil until the student has been scored.
type LessonGradeRow struct {
	StudentID     string `json:"student_id" db:"student_id"`
	Username      string `json:"username" db:"username"`
	FullName      string `json:"full_name" db:"full_name"`
	StudentNumber string `json:"student_number" db:"student_number"`
	grading.Ledger
}

type StudentLessonGrade struct {
	LessonID     string   `json:"lesson_id" db:"lesson_id"`
	Code         string   `json:"code" db:"code"`
	Name         string   `json:"name" db:"name"`
	ClassAverage *float64 `json:"class_average" db:"class_average"`
	grading.Ledger
}

// AvailableTest is a test of one of the student's lessons together with the
// student's attempt, if any.
type AvailableTest struct {
	Test
	AttemptID     *string        `json:"attempt_id"`
	AttemptStatus *AttemptStatus `json:"attempt_status"`
	StartedAt     *time.Time     `json:"started_at"`
	CanStart      bool           `json:"can_start"`
}

type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsAdmin() bool { return a.Role == "admin" }
