package exam

import (
	"context"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/grading"
)

// Closure describes how an open attempt is closed. It is produced inside the
// closing transaction from the attempt state read in that same transaction.
type Closure struct {
	Status       AttemptStatus
	Score        float64
	ClosedAt     time.Time
	Answers      []ScoredAnswer // rows to rewrite, matched by question id
	ResetAnswers bool           // clear every selection before writing Answers
	Grade        *GradeUpdate
}

type ScoredAnswer struct {
	QuestionID string
	Selected   *string
	Correct    bool
	Earned     float64
}

// GradeUpdate feeds one attempt score into the student's lesson grade.
type GradeUpdate struct {
	StudentID string
	LessonID  string
	Kind      string
	Score     float64
	Weights   grading.Weights
	At        time.Time
}

// CloseFunc decides, from the current attempt state, how to close it. A nil
// Closure with a nil error leaves the attempt untouched.
type CloseFunc func(cur Attempt, items []AttemptItem) (*Closure, error)

type Store interface {
	// roster
	CreateLesson(ctx context.Context, l Lesson) error
	GetLesson(ctx context.Context, id string) (Lesson, error)
	AssignTeacher(ctx context.Context, lessonID, teacherID string) error
	EnrollStudent(ctx context.Context, lessonID, studentID string) error
	IsTeaching(ctx context.Context, teacherID, lessonID string) (bool, error)
	IsEnrolled(ctx context.Context, studentID, lessonID string) (bool, error)
	ListEnrolledStudents(ctx context.Context, lessonID string) ([]string, error)

	// tests and question pools
	CreateTest(ctx context.Context, t Test) error
	GetTest(ctx context.Context, id string) (Test, error)
	DeleteTest(ctx context.Context, id string) error
	ListLessonTests(ctx context.Context, lessonID string) ([]Test, error)
	ListStudentTests(ctx context.Context, studentID string) ([]AvailableTest, error)
	ListEndedTests(ctx context.Context, before time.Time) ([]Test, error)
	ListQuestions(ctx context.Context, testID string) ([]Question, error)
	// AddQuestions appends to the pool and reprices every question of the
	// pool to points, in one transaction. It returns the new pool size.
	AddQuestions(ctx context.Context, testID string, qs []Question, points int) (int, error)
	DeleteQuestions(ctx context.Context, testID string) error

	// attempts
	CreateAttempt(ctx context.Context, a Attempt, questionIDs []string) error
	InsertClosedAttempt(ctx context.Context, a Attempt, g *GradeUpdate) error
	FindAttempt(ctx context.Context, testID, studentID string) (Attempt, error)
	ListTestAttempts(ctx context.Context, testID string) ([]Attempt, error)
	GetAttemptItems(ctx context.Context, attemptID string) ([]AttemptItem, error)
	CloseAttempt(ctx context.Context, attemptID string, decide CloseFunc) (Attempt, bool, error)

	// grades
	GetGrade(ctx context.Context, studentID, lessonID string) (*Grade, error)
	ListLessonGrades(ctx context.Context, lessonID string) ([]LessonGradeRow, error)
	ListStudentGrades(ctx context.Context, studentID string) ([]StudentLessonGrade, error)
}
