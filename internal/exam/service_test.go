package exam

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func TestStartSamplesExactlyMinQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tt := f.newTest(t, "vize", 10, 5, 8)

	res, err := f.svc.Start(ctx, tt.ID, f.student.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Attempt.Status != StatusStarted {
		t.Fatalf("status = %s", res.Attempt.Status)
	}
	if len(res.Questions) != 5 {
		t.Fatalf("sampled %d questions, want 5", len(res.Questions))
	}
	seen := map[string]bool{}
	for _, q := range res.Questions {
		if seen[q.ID] {
			t.Fatalf("question %s sampled twice", q.ID)
		}
		seen[q.ID] = true
		if q.Selected != nil {
			t.Fatalf("fresh attempt has a selection")
		}
	}
	if res.RemainingSeconds != 600 || res.DurationSeconds != 600 {
		t.Fatalf("remaining=%d duration=%d", res.RemainingSeconds, res.DurationSeconds)
	}
	if !res.EndTime.Equal(t0.Add(2 * time.Hour)) {
		t.Fatalf("end time = %v", res.EndTime)
	}
	items, err := f.store.GetAttemptItems(ctx, res.Attempt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 5 {
		t.Fatalf("answer stubs = %d", len(items))
	}
	for i, it := range items {
		if it.QuestionID != res.Questions[i].ID {
			t.Fatalf("stub %d is %s, sample order has %s", i, it.QuestionID, res.Questions[i].ID)
		}
	}
	if got := f.events.types(); len(got) != 1 || got[0] != "AttemptStarted" {
		t.Fatalf("events = %v", got)
	}
}

func TestSecondStartIsAlreadyAttempted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tt := f.newTest(t, "vize", 10, 5, 5)

	first, err := f.svc.Start(ctx, tt.ID, f.student.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = f.svc.Start(ctx, tt.ID, f.student.ID)
	var ee *EligibilityError
	if !errors.As(err, &ee) || ee.Code != CodeAlreadyAttempted || ee.Status != StatusStarted {
		t.Fatalf("second start err = %v", err)
	}
	a, err := f.store.FindAttempt(ctx, tt.ID, f.student.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != first.Attempt.ID || a.Status != StatusStarted {
		t.Fatalf("first attempt changed: %+v", a)
	}
}

func TestConcurrentStartsCreateOneAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tt := f.newTest(t, "quiz", 10, 5, 5)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Start(ctx, tt.ID, f.student.ID)
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case isEligibility(err, CodeAlreadyAttempted):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d starts succeeded, want 1", ok)
	}
	all, err := f.store.ListTestAttempts(ctx, tt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("attempts = %d", len(all))
	}
}

func TestStartRejectsInsufficientPool(t *testing.T) {
	f := newFixture(t)
	tt := f.newTest(t, "vize", 10, 5, 3)
	_, err := f.svc.Start(context.Background(), tt.ID, f.student.ID)
	if !isEligibility(err, CodeInsufficientPool) {
		t.Fatalf("err = %v", err)
	}
}

func TestStartRejectsOutsider(t *testing.T) {
	f := newFixture(t)
	tt := f.newTest(t, "vize", 10, 5, 5)
	other := f.addUser(t, "student2", "student")
	_, err := f.svc.Start(context.Background(), tt.ID, other)
	if !isEligibility(err, CodeNotEnrolled) {
		t.Fatalf("err = %v", err)
	}
}

func TestStatusReportsSelectionsAndTimers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tt := f.newTest(t, "vize", 10, 5, 5)

	if _, err := f.svc.Status(ctx, tt.ID, f.student.ID); !errors.Is(err, ErrNoAttempt) {
		t.Fatalf("status before start: %v", err)
	}
	if _, err := f.svc.Start(ctx, tt.ID, f.student.ID); err != nil {
		t.Fatal(err)
	}

	f.clock.Set(t0.Add(4 * time.Minute))
	st, err := f.svc.Status(ctx, tt.ID, f.student.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.RemainingSeconds != 360 || !st.CanContinue || st.WindowExpired || st.DurationExpired {
		t.Fatalf("status = %+v", st)
	}
	if len(st.Questions) != 5 {
		t.Fatalf("questions = %d", len(st.Questions))
	}

	f.clock.Set(t0.Add(11 * time.Minute))
	st, err = f.svc.Status(ctx, tt.ID, f.student.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.RemainingSeconds != 0 || st.CanContinue || !st.DurationExpired || st.WindowExpired {
		t.Fatalf("status after duration = %+v", st)
	}

	f.clock.Set(t0.Add(3 * time.Hour))
	st, err = f.svc.Status(ctx, tt.ID, f.student.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !st.WindowExpired || st.CanContinue {
		t.Fatalf("status after window = %+v", st)
	}
}

func TestSubmitScoresFourOfFive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tt := f.newTest(t, "vize", 10, 5, 5)

	st, err := f.svc.Start(ctx, tt.ID, f.student.ID)
	if err != nil {
		t.Fatal(err)
	}
	answers := f.answersFor(t, st.Attempt.ID, 4)
	answers = append(answers, AnswerInput{QuestionID: "not-in-sample", SelectedAnswer: opt("a")})

	f.clock.Set(t0.Add(5 * time.Minute))
	res, err := f.svc.Submit(ctx, tt.ID, f.student.ID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Score != 80 || res.Attempt.Status != StatusSubmitted {
		t.Fatalf("result = %+v", res)
	}
	if res.Ignored != 1 {
		t.Fatalf("ignored = %d", res.Ignored)
	}
	if res.Attempt.SubmittedAt == nil || !res.Attempt.SubmittedAt.Equal(t0.Add(5*time.Minute)) {
		t.Fatalf("submitted_at = %v", res.Attempt.SubmittedAt)
	}

	items, _ := f.store.GetAttemptItems(ctx, st.Attempt.ID)
	correct := 0
	for _, it := range items {
		if it.Selected == nil {
			t.Fatalf("selection for %s not stored", it.QuestionID)
		}
		if it.IsCorrect {
			correct++
			if it.Earned != 20 {
				t.Fatalf("earned = %v", it.Earned)
			}
		}
	}
	if correct != 4 {
		t.Fatalf("correct = %d", correct)
	}

	g, err := f.store.GetGrade(ctx, f.student.ID, f.lesson.ID)
	if err != nil || g == nil {
		t.Fatalf("grade: %v %v", g, err)
	}
	if g.Vize == nil || *g.Vize != 80 || g.Total == nil || *g.Total != 80 {
		t.Fatalf("grade = %+v", g.Ledger)
	}
}

func TestSubmitTreatsInvalidOptionAsIncorrect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tt := f.newTest(t, "vize", 10, 5, 5)
	st, _ := f.svc.Start(ctx, tt.ID, f.student.ID)

	answers := f.answersFor(t, st.Attempt.ID, 5)
	answers[0].SelectedAnswer = opt("z")
	answers[1].SelectedAnswer = nil
	answers[2].SelectedAnswer = opt(" A ") // options match exactly
	res, err := f.svc.Submit(ctx, tt.ID, f.student.ID, answers)
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 40 {
		t.Fatalf("score = %v", res.Score)
	}
}

func TestSubmitTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tt := f.newTest(t, "vize", 10, 5, 5)
	st, _ := f.svc.Start(ctx, tt.ID, f.student.ID)

	first, err := f.svc.Submit(ctx, tt.ID, f.student.ID, f.answersFor(t, st.Attempt.ID, 3))
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Set(t0.Add(time.Minute))
	second, err := f.svc.Submit(ctx, tt.ID, f.student.ID, f.answersFor(t, st.Attempt.ID, 5))
	if err != nil {
		t.Fatal(err)
	}
	if second.Score != first.Score || second.Notice == "" {
		t.Fatalf("second submit = %+v", second)
	}
	g, _ := f.store.GetGrade(ctx, f.student.ID, f.lesson.ID)
	if *g.Vize != 60 {
		t.Fatalf("grade re-scored: %v", *g.Vize)
	}
}

func TestSubmitAfterDurationExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tt := f.newTest(t, "vize", 10, 5, 5)

	f.clock.Set(t0.Add(10 * time.Second))
	st, err := f.svc.Start(ctx, tt.ID, f.student.ID)
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Set(t0.Add(700 * time.Second))
	res, err := f.svc.Submit(ctx, tt.ID, f.student.ID, f.answersFor(t, st.Attempt.ID, 5))
	if !errors.Is(err, ErrAttemptExpired) {
		t.Fatalf("err = %v", err)
	}
	if res == nil || res.Attempt.Status != StatusExpired || res.Score != 0 {
		t.Fatalf("result = %+v", res)
	}
	items, _ := f.store.GetAttemptItems(ctx, st.Attempt.ID)
	for _, it := range items {
		if it.Selected != nil || it.IsCorrect || it.Earned != 0 {
			t.Fatalf("answer scored on expired attempt: %+v", it)
		}
	}
	g, _ := f.store.GetGrade(ctx, f.student.ID, f.lesson.ID)
	if g == nil || g.Vize == nil || *g.Vize != 0 {
		t.Fatalf("grade = %+v", g)
	}
	if got := f.events.types(); got[len(got)-1] != "AttemptExpired" {
		t.Fatalf("events = %v", got)
	}

	// a closed expired attempt never changes again
	f.clock.Set(t0.Add(800 * time.Second))
	res, err = f.svc.Submit(ctx, tt.ID, f.student.ID, nil)
	if !errors.Is(err, ErrAttemptExpired) || res.Attempt.Status != StatusExpired {
		t.Fatalf("resubmit: %+v %v", res, err)
	}
	if !res.Attempt.SubmittedAt.Equal(t0.Add(700 * time.Second)) {
		t.Fatalf("submitted_at moved to %v", res.Attempt.SubmittedAt)
	}
}

func TestSubmitWithoutAttempt(t *testing.T) {
	f := newFixture(t)
	tt := f.newTest(t, "vize", 10, 5, 5)
	if _, err := f.svc.Submit(context.Background(), tt.ID, f.student.ID, nil); !errors.Is(err, ErrNoAttempt) {
		t.Fatalf("err = %v", err)
	}
}

func TestGradeCombinesVizeAndFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vize := f.newTest(t, "vize", 10, 10, 10)
	final := f.newTest(t, "final", 10, 10, 10)
	quiz := f.newTest(t, "quiz", 10, 10, 10)

	for _, c := range []struct {
		test    Test
		correct int
	}{{vize, 7}, {final, 8}, {quiz, 2}} {
		st, err := f.svc.Start(ctx, c.test.ID, f.student.ID)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.Submit(ctx, c.test.ID, f.student.ID, f.answersFor(t, st.Attempt.ID, c.correct)); err != nil {
			t.Fatal(err)
		}
	}
	g, err := f.store.GetGrade(ctx, f.student.ID, f.lesson.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *g.Vize != 70 || *g.Final != 80 || *g.Quiz != 20 {
		t.Fatalf("ledger = %+v", g.Ledger)
	}
	if math.Abs(*g.Total-76) > 1e-9 {
		t.Fatalf("total = %v, want 76", *g.Total)
	}

	grades, err := f.svc.StudentGrades(ctx, f.student.ID)
	if err != nil || len(grades) != 1 {
		t.Fatalf("student grades: %v %v", grades, err)
	}
	if grades[0].ClassAverage == nil || math.Abs(*grades[0].ClassAverage-76) > 1e-9 {
		t.Fatalf("class average = %v", grades[0].ClassAverage)
	}
}

func TestResultOnlyAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tt := f.newTest(t, "vize", 10, 5, 5)
	st, _ := f.svc.Start(ctx, tt.ID, f.student.ID)

	if _, err := f.svc.Result(ctx, tt.ID, f.student.ID); !errors.Is(err, ErrAttemptOpen) {
		t.Fatalf("result while open: %v", err)
	}
	if _, err := f.svc.Submit(ctx, tt.ID, f.student.ID, f.answersFor(t, st.Attempt.ID, 2)); err != nil {
		t.Fatal(err)
	}
	rv, err := f.svc.Result(ctx, tt.ID, f.student.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rv.Items) != 5 || rv.Items[0].Correct != "a" || rv.Grade == nil {
		t.Fatalf("result = %+v", rv)
	}
}

func TestListAvailableTests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.newTest(t, "vize", 10, 5, 5)
	started := f.newTest(t, "final", 10, 5, 5)
	if _, err := f.svc.Start(ctx, started.ID, f.student.ID); err != nil {
		t.Fatal(err)
	}

	list, err := f.svc.ListAvailableTests(ctx, f.student.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("tests = %d", len(list))
	}
	for _, at := range list {
		switch at.ID {
		case open.ID:
			if !at.CanStart || at.AttemptID != nil {
				t.Fatalf("open test = %+v", at)
			}
		case started.ID:
			if at.CanStart || at.AttemptStatus == nil || *at.AttemptStatus != StatusStarted {
				t.Fatalf("started test = %+v", at)
			}
		}
	}

	f.clock.Set(t0.Add(3 * time.Hour))
	list, _ = f.svc.ListAvailableTests(ctx, f.student.ID)
	for _, at := range list {
		if at.CanStart {
			t.Fatalf("test %s startable after window", at.ID)
		}
	}
}
