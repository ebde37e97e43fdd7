package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/grading"
)

// SQLStore works on both SQLite and Postgres: placeholders are $n and every
// timestamp is stored as unix seconds.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(d *sqlx.DB) *SQLStore {
	return &SQLStore{db: d}
}

type testRow struct {
	ID           string  `db:"id"`
	LessonID     string  `db:"lesson_id"`
	TeacherID    string  `db:"teacher_id"`
	Type         string  `db:"test_type"`
	StartTime    int64   `db:"start_time"`
	EndTime      int64   `db:"end_time"`
	DurationSec  int     `db:"duration_sec"`
	MinQuestions int     `db:"min_questions"`
	VizeWeight   float64 `db:"vize_weight"`
	FinalWeight  float64 `db:"final_weight"`
	CreatedAt    int64   `db:"created_at"`
}

const testCols = `t.id, t.lesson_id, t.teacher_id, t.test_type, t.start_time, t.end_time,
	t.duration_sec, t.min_questions, t.vize_weight, t.final_weight, t.created_at`

func (r testRow) toTest() Test {
	return Test{
		ID: r.ID, LessonID: r.LessonID, TeacherID: r.TeacherID, Type: r.Type,
		StartTime:    time.Unix(r.StartTime, 0).UTC(),
		EndTime:      time.Unix(r.EndTime, 0).UTC(),
		DurationSec:  r.DurationSec,
		MinQuestions: r.MinQuestions,
		Weights:      grading.Weights{Vize: r.VizeWeight, Final: r.FinalWeight},
		CreatedAt:    time.Unix(r.CreatedAt, 0).UTC(),
	}
}

type attemptRow struct {
	ID          string  `db:"id"`
	TestID      string  `db:"test_id"`
	StudentID   string  `db:"student_id"`
	Status      string  `db:"status"`
	Score       float64 `db:"score"`
	StartedAt   int64   `db:"started_at"`
	SubmittedAt *int64  `db:"submitted_at"`
}

const attemptCols = `id, test_id, student_id, status, score, started_at, submitted_at`

func (r attemptRow) toAttempt() Attempt {
	a := Attempt{
		ID: r.ID, TestID: r.TestID, StudentID: r.StudentID,
		Status:    AttemptStatus(r.Status),
		Score:     r.Score,
		StartedAt: time.Unix(r.StartedAt, 0).UTC(),
	}
	if r.SubmittedAt != nil {
		ts := time.Unix(*r.SubmittedAt, 0).UTC()
		a.SubmittedAt = &ts
	}
	return a
}

/* ---------------- roster ---------------- */

func (s *SQLStore) CreateLesson(ctx context.Context, l Lesson) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lessons (id, code, name, vize_weight, final_weight, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		l.ID, l.Code, l.Name, l.Vize, l.Final, time.Now().Unix())
	if db.IsUniqueViolation(err) {
		return invalid("lesson code %q already exists", l.Code)
	}
	return err
}

func (s *SQLStore) GetLesson(ctx context.Context, id string) (Lesson, error) {
	var l Lesson
	err := s.db.GetContext(ctx, &l, `SELECT id, code, name, vize_weight, final_weight FROM lessons WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Lesson{}, ErrLessonNotFound
	}
	return l, err
}

func (s *SQLStore) AssignTeacher(ctx context.Context, lessonID, teacherID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lesson_teachers (lesson_id, teacher_id, created_at) VALUES ($1,$2,$3)
		 ON CONFLICT (lesson_id, teacher_id) DO NOTHING`,
		lessonID, teacherID, time.Now().Unix())
	return err
}

func (s *SQLStore) EnrollStudent(ctx context.Context, lessonID, studentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lesson_students (lesson_id, student_id, created_at) VALUES ($1,$2,$3)
		 ON CONFLICT (lesson_id, student_id) DO NOTHING`,
		lessonID, studentID, time.Now().Unix())
	return err
}

func (s *SQLStore) IsTeaching(ctx context.Context, teacherID, lessonID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM lesson_teachers WHERE teacher_id=$1 AND lesson_id=$2`, teacherID, lessonID)
}

func (s *SQLStore) IsEnrolled(ctx context.Context, studentID, lessonID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM lesson_students WHERE student_id=$1 AND lesson_id=$2`, studentID, lessonID)
}

func (s *SQLStore) exists(ctx context.Context, q string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) ListEnrolledStudents(ctx context.Context, lessonID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT student_id FROM lesson_students WHERE lesson_id=$1 ORDER BY student_id`, lessonID)
	return ids, err
}

/* ---------------- tests and pools ---------------- */

func (s *SQLStore) CreateTest(ctx context.Context, t Test) error {
	return db.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n,
			`SELECT COUNT(*) FROM tests WHERE lesson_id=$1 AND teacher_id=$2 AND test_type=$3`,
			t.LessonID, t.TeacherID, t.Type); err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateTestType
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tests (id, lesson_id, teacher_id, test_type, start_time, end_time,
			   duration_sec, min_questions, vize_weight, final_weight, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			t.ID, t.LessonID, t.TeacherID, t.Type, t.StartTime.Unix(), t.EndTime.Unix(),
			t.DurationSec, t.MinQuestions, t.Vize, t.Final, t.CreatedAt.Unix())
		return err
	})
}

func (s *SQLStore) GetTest(ctx context.Context, id string) (Test, error) {
	var r testRow
	err := s.db.GetContext(ctx, &r, `SELECT `+testCols+` FROM tests t WHERE t.id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Test{}, ErrTestNotFound
	}
	if err != nil {
		return Test{}, err
	}
	return r.toTest(), nil
}

// DeleteTest relies on ON DELETE CASCADE for questions, attempts and answers.
func (s *SQLStore) DeleteTest(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tests WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTestNotFound
	}
	return nil
}

func (s *SQLStore) ListLessonTests(ctx context.Context, lessonID string) ([]Test, error) {
	return s.selectTests(ctx, `SELECT `+testCols+` FROM tests t WHERE t.lesson_id=$1 ORDER BY t.start_time`, lessonID)
}

func (s *SQLStore) ListEndedTests(ctx context.Context, before time.Time) ([]Test, error) {
	return s.selectTests(ctx, `SELECT `+testCols+` FROM tests t WHERE t.end_time < $1 ORDER BY t.end_time`, before.Unix())
}

func (s *SQLStore) selectTests(ctx context.Context, q string, args ...any) ([]Test, error) {
	var rows []testRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]Test, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTest())
	}
	return out, nil
}

func (s *SQLStore) ListStudentTests(ctx context.Context, studentID string) ([]AvailableTest, error) {
	var rows []struct {
		testRow
		AttemptID     *string `db:"attempt_id"`
		AttemptStatus *string `db:"attempt_status"`
		StartedAt     *int64  `db:"attempt_started_at"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+testCols+`, a.id AS attempt_id, a.status AS attempt_status, a.started_at AS attempt_started_at
		 FROM tests t
		 JOIN lesson_students ls ON ls.lesson_id = t.lesson_id AND ls.student_id = $1
		 LEFT JOIN test_attempts a ON a.test_id = t.id AND a.student_id = $1
		 ORDER BY t.start_time DESC`, studentID)
	if err != nil {
		return nil, err
	}
	out := make([]AvailableTest, 0, len(rows))
	for _, r := range rows {
		at := AvailableTest{Test: r.toTest(), AttemptID: r.AttemptID, CanStart: r.AttemptID == nil}
		if r.AttemptStatus != nil {
			st := AttemptStatus(*r.AttemptStatus)
			at.AttemptStatus = &st
		}
		if r.StartedAt != nil {
			ts := time.Unix(*r.StartedAt, 0).UTC()
			at.StartedAt = &ts
		}
		out = append(out, at)
	}
	return out, nil
}

func (s *SQLStore) ListQuestions(ctx context.Context, testID string) ([]Question, error) {
	var qs []Question
	err := s.db.SelectContext(ctx, &qs,
		`SELECT id, test_id, seq, prompt, option_a, option_b, option_c, option_d, correct_option, points
		 FROM questions WHERE test_id=$1 ORDER BY seq`, testID)
	return qs, err
}

func (s *SQLStore) AddQuestions(ctx context.Context, testID string, qs []Question, points int) (int, error) {
	var total int
	err := db.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		var last int
		if err := tx.GetContext(ctx, &last, `SELECT COALESCE(MAX(seq), 0) FROM questions WHERE test_id=$1`, testID); err != nil {
			return err
		}
		now := time.Now().Unix()
		for i, q := range qs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO questions (id, test_id, seq, prompt, option_a, option_b, option_c, option_d,
				   correct_option, points, created_at)
				 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
				q.ID, testID, last+i+1, q.Prompt, q.OptionA, q.OptionB, q.OptionC, q.OptionD,
				q.Correct, points, now); err != nil {
				return fmt.Errorf("insert question %d: %w", i+1, err)
			}
		}
		// the whole pool shares one value
		if _, err := tx.ExecContext(ctx, `UPDATE questions SET points=$1 WHERE test_id=$2`, points, testID); err != nil {
			return err
		}
		return tx.GetContext(ctx, &total, `SELECT COUNT(*) FROM questions WHERE test_id=$1`, testID)
	})
	return total, err
}

func (s *SQLStore) DeleteQuestions(ctx context.Context, testID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE test_id=$1`, testID)
	return err
}

/* ---------------- attempts ---------------- */

// CreateAttempt inserts the attempt and one empty answer per sampled question.
// UNIQUE(test_id, student_id) serializes concurrent starts: the loser gets
// ErrDuplicateAttempt.
func (s *SQLStore) CreateAttempt(ctx context.Context, a Attempt, questionIDs []string) error {
	return db.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO test_attempts (id, test_id, student_id, status, score, started_at)
			 VALUES ($1,$2,$3,$4,0,$5)`,
			a.ID, a.TestID, a.StudentID, string(StatusStarted), a.StartedAt.Unix())
		if db.IsUniqueViolation(err) {
			return ErrDuplicateAttempt
		}
		if err != nil {
			return err
		}
		for i, qid := range questionIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO answers (id, attempt_id, question_id, position, is_correct, points_earned)
				 VALUES ($1,$2,$3,$4,$5,0)`,
				uuid.NewString(), a.ID, qid, i+1, false); err != nil {
				return fmt.Errorf("insert answer stub: %w", err)
			}
		}
		return nil
	})
}

// InsertClosedAttempt records an attempt that never went through started,
// together with its grade rollup.
func (s *SQLStore) InsertClosedAttempt(ctx context.Context, a Attempt, g *GradeUpdate) error {
	return db.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		var submitted *int64
		if a.SubmittedAt != nil {
			ts := a.SubmittedAt.Unix()
			submitted = &ts
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO test_attempts (id, test_id, student_id, status, score, started_at, submitted_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			a.ID, a.TestID, a.StudentID, string(a.Status), a.Score, a.StartedAt.Unix(), submitted)
		if db.IsUniqueViolation(err) {
			return ErrDuplicateAttempt
		}
		if err != nil {
			return err
		}
		if g == nil {
			return nil
		}
		return applyGrade(ctx, tx, *g)
	})
}

func (s *SQLStore) FindAttempt(ctx context.Context, testID, studentID string) (Attempt, error) {
	var r attemptRow
	err := s.db.GetContext(ctx, &r,
		`SELECT `+attemptCols+` FROM test_attempts WHERE test_id=$1 AND student_id=$2`, testID, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrNoAttempt
	}
	if err != nil {
		return Attempt{}, err
	}
	return r.toAttempt(), nil
}

func (s *SQLStore) ListTestAttempts(ctx context.Context, testID string) ([]Attempt, error) {
	var rows []attemptRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+attemptCols+` FROM test_attempts WHERE test_id=$1 ORDER BY started_at, student_id`, testID); err != nil {
		return nil, err
	}
	out := make([]Attempt, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toAttempt())
	}
	return out, nil
}

const itemsQuery = `SELECT a.id AS answer_id, a.question_id, a.position, a.selected_option, a.is_correct,
	a.points_earned, q.prompt, q.option_a, q.option_b, q.option_c, q.option_d, q.correct_option, q.points
	FROM answers a JOIN questions q ON q.id = a.question_id
	WHERE a.attempt_id = $1 ORDER BY a.position`

func (s *SQLStore) GetAttemptItems(ctx context.Context, attemptID string) ([]AttemptItem, error) {
	var items []AttemptItem
	err := s.db.SelectContext(ctx, &items, itemsQuery, attemptID)
	return items, err
}

// CloseAttempt reads the attempt and its items, lets decide compute the
// closure, then applies it with a conditional status='started' update so a
// concurrent submit and sweep cannot both close the same attempt. The boolean
// reports whether a closure was written.
func (s *SQLStore) CloseAttempt(ctx context.Context, attemptID string, decide CloseFunc) (Attempt, bool, error) {
	var out Attempt
	applied := false
	err := db.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		var r attemptRow
		if err := tx.GetContext(ctx, &r, `SELECT `+attemptCols+` FROM test_attempts WHERE id=$1`, attemptID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoAttempt
			}
			return err
		}
		cur := r.toAttempt()
		var items []AttemptItem
		if err := tx.SelectContext(ctx, &items, itemsQuery, attemptID); err != nil {
			return err
		}
		c, err := decide(cur, items)
		if err != nil {
			return err
		}
		if c == nil {
			out = cur
			return nil
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE test_attempts SET status=$1, score=$2, submitted_at=$3 WHERE id=$4 AND status=$5`,
			string(c.Status), c.Score, c.ClosedAt.Unix(), attemptID, string(StatusStarted))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errAttemptNotOpen
		}
		if c.ResetAnswers {
			if _, err := tx.ExecContext(ctx,
				`UPDATE answers SET selected_option=NULL, is_correct=$1, points_earned=0 WHERE attempt_id=$2`,
				false, attemptID); err != nil {
				return err
			}
		}
		for _, a := range c.Answers {
			if _, err := tx.ExecContext(ctx,
				`UPDATE answers SET selected_option=$1, is_correct=$2, points_earned=$3
				 WHERE attempt_id=$4 AND question_id=$5`,
				a.Selected, a.Correct, a.Earned, attemptID, a.QuestionID); err != nil {
				return err
			}
		}
		if c.Grade != nil {
			if err := applyGrade(ctx, tx, *c.Grade); err != nil {
				return err
			}
		}

		cur.Status = c.Status
		cur.Score = c.Score
		closed := c.ClosedAt.UTC().Truncate(time.Second)
		cur.SubmittedAt = &closed
		out = cur
		applied = true
		return nil
	})
	if err != nil {
		return Attempt{}, false, err
	}
	return out, applied, nil
}

/* ---------------- grades ---------------- */

// applyGrade is the grade rollup: create the row lazily, write the score into
// the column of the test kind, then recompute the total from the row as it is
// after that write. It always runs inside the transaction that changed the
// score. The kind's own column is written before the row is read, so the
// read happens under the row lock.
func applyGrade(ctx context.Context, tx *sqlx.Tx, g GradeUpdate) error {
	col, err := grading.ScoreColumn(g.Kind)
	if err != nil {
		return fmt.Errorf("grade: %w", err)
	}
	at := g.At.Unix()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO grades (id, student_id, lesson_id, created_at, updated_at) VALUES ($1,$2,$3,$4,$4)
		 ON CONFLICT (student_id, lesson_id) DO NOTHING`,
		uuid.NewString(), g.StudentID, g.LessonID, at); err != nil {
		return fmt.Errorf("grade upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE grades SET `+col+`=$1, updated_at=$2 WHERE student_id=$3 AND lesson_id=$4`,
		g.Score, at, g.StudentID, g.LessonID); err != nil {
		return fmt.Errorf("grade score: %w", err)
	}
	var l grading.Ledger
	if err := tx.GetContext(ctx, &l,
		`SELECT vize_score, final_score, quiz_score, total_score FROM grades WHERE student_id=$1 AND lesson_id=$2`,
		g.StudentID, g.LessonID); err != nil {
		return fmt.Errorf("grade read: %w", err)
	}
	l.Recompute(g.Weights)
	_, err = tx.ExecContext(ctx,
		`UPDATE grades SET total_score=$1 WHERE student_id=$2 AND lesson_id=$3`,
		l.Total, g.StudentID, g.LessonID)
	return err
}

func (s *SQLStore) GetGrade(ctx context.Context, studentID, lessonID string) (*Grade, error) {
	var g Grade
	err := s.db.GetContext(ctx, &g,
		`SELECT student_id, lesson_id, vize_score, final_score, quiz_score, total_score
		 FROM grades WHERE student_id=$1 AND lesson_id=$2`, studentID, lessonID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *SQLStore) ListLessonGrades(ctx context.Context, lessonID string) ([]LessonGradeRow, error) {
	rows := []LessonGradeRow{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT u.id AS student_id, u.username, u.full_name, u.student_number,
		        g.vize_score, g.final_score, g.quiz_score, g.total_score
		 FROM lesson_students ls
		 JOIN users u ON u.id = ls.student_id
		 LEFT JOIN grades g ON g.student_id = ls.student_id AND g.lesson_id = ls.lesson_id
		 WHERE ls.lesson_id = $1
		 ORDER BY u.full_name, u.username`, lessonID)
	return rows, err
}

func (s *SQLStore) ListStudentGrades(ctx context.Context, studentID string) ([]StudentLessonGrade, error) {
	rows := []StudentLessonGrade{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT l.id AS lesson_id, l.code, l.name,
		        g.vize_score, g.final_score, g.quiz_score, g.total_score,
		        (SELECT AVG(g2.total_score) FROM grades g2
		          WHERE g2.lesson_id = l.id AND g2.total_score IS NOT NULL) AS class_average
		 FROM lesson_students ls
		 JOIN lessons l ON l.id = ls.lesson_id
		 LEFT JOIN grades g ON g.lesson_id = l.id AND g.student_id = ls.student_id
		 WHERE ls.student_id = $1
		 ORDER BY l.code`, studentID)
	return rows, err
}
