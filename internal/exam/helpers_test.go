package exam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mind-engage/mindengage-exams/internal/db"
)

var t0 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recEvents struct {
	mu  sync.Mutex
	got []string
}

func (r *recEvents) Record(_ context.Context, typ, key string, _ any) {
	r.mu.Lock()
	r.got = append(r.got, typ+":"+key)
	r.mu.Unlock()
}

func (r *recEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, g := range r.got {
		out[i] = g[:strings.Index(g, ":")]
	}
	return out
}

type fixture struct {
	db      *sqlx.DB
	store   *SQLStore
	svc     *Service
	clock   *fakeClock
	events  *recEvents
	lesson  Lesson
	teacher Actor
	student Actor
}

func openDB(t *testing.T) *sqlx.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	d, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// newFixture wires a service over an in-memory database with one lesson, one
// assigned teacher and one enrolled student. The clock starts at t0.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := openDB(t)
	f := &fixture{
		db:     d,
		store:  NewSQLStore(d),
		clock:  &fakeClock{now: t0},
		events: &recEvents{},
	}
	// identity permutation keeps samples deterministic
	perm := func(n int) []int {
		p := make([]int, n)
		for i := range p {
			p[i] = i
		}
		return p
	}
	f.svc = NewService(f.store, WithClock(f.clock.Now), WithEvents(f.events), WithPerm(perm))

	ctx := context.Background()
	f.teacher = Actor{ID: f.addUser(t, "teacher1", "teacher"), Role: "teacher"}
	f.student = Actor{ID: f.addUser(t, "student1", "student"), Role: "student"}
	l, err := f.svc.CreateLesson(ctx, CreateLessonInput{Code: "MAT101", Name: "Calculus"})
	if err != nil {
		t.Fatalf("create lesson: %v", err)
	}
	f.lesson = l
	if err := f.svc.AssignTeacher(ctx, l.ID, f.teacher.ID); err != nil {
		t.Fatalf("assign teacher: %v", err)
	}
	f.enroll(t, f.student.ID)
	return f
}

func (f *fixture) addUser(t *testing.T, username, role string) string {
	t.Helper()
	id := uuid.NewString()
	if _, err := f.db.Exec(
		`INSERT INTO users (id, username, full_name, role, created_at) VALUES ($1,$2,$3,$4,$5)`,
		id, username, strings.ToUpper(username), role, t0.Unix()); err != nil {
		t.Fatalf("insert user %s: %v", username, err)
	}
	return id
}

func (f *fixture) enroll(t *testing.T, studentID string) {
	t.Helper()
	if err := f.svc.EnrollStudent(context.Background(), f.lesson.ID, studentID); err != nil {
		t.Fatalf("enroll: %v", err)
	}
}

// newTest creates a test open for two hours from t0 with a pool of poolSize
// questions whose correct option is always "a".
func (f *fixture) newTest(t *testing.T, kind string, durationMin, minQ, poolSize int) Test {
	t.Helper()
	ctx := context.Background()
	tt, err := f.svc.CreateTest(ctx, f.teacher, CreateTestInput{
		LessonID: f.lesson.ID, Type: kind,
		StartTime: t0, EndTime: t0.Add(2 * time.Hour),
		DurationMinutes: durationMin, MinQuestions: minQ,
	})
	if err != nil {
		t.Fatalf("create test: %v", err)
	}
	rows := make([]QuestionInput, poolSize)
	for i := range rows {
		rows[i] = QuestionInput{
			Prompt:  fmt.Sprintf("Q%d", i+1),
			OptionA: "right", OptionB: "wrong", OptionC: "also wrong",
			CorrectAnswer: "a",
		}
	}
	if poolSize > 0 {
		if _, err := f.svc.BulkAddQuestions(ctx, f.teacher, tt.ID, rows); err != nil {
			t.Fatalf("add questions: %v", err)
		}
	}
	return tt
}

func opt(s string) *string { return &s }

// answersFor builds a submission answering the first nCorrect sampled
// questions correctly and the rest wrongly.
func (f *fixture) answersFor(t *testing.T, attemptID string, nCorrect int) []AnswerInput {
	t.Helper()
	items, err := f.store.GetAttemptItems(context.Background(), attemptID)
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	out := make([]AnswerInput, 0, len(items))
	for i, it := range items {
		sel := "b"
		if i < nCorrect {
			sel = it.Correct
		}
		out = append(out, AnswerInput{QuestionID: it.QuestionID, SelectedAnswer: opt(sel)})
	}
	return out
}

func isEligibility(err error, code EligibilityCode) bool {
	var ee *EligibilityError
	return errors.As(err, &ee) && ee.Code == code
}
