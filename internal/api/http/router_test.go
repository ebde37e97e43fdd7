package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	authmw "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/storage"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
	"github.com/mind-engage/mindengage-exams/internal/users"
)

var t0 = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

type apiEnv struct {
	srv   *httptest.Server
	db    *sqlx.DB
	now   time.Time
	ids   map[string]string // username -> id
	token map[string]string // username -> bearer
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", t.Name())
	d, err := db.Open(ctx, db.DriverSQLite, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close() })

	env := &apiEnv{db: d, now: t0, ids: map[string]string{}, token: map[string]string{}}
	us := users.NewStore(d)
	if _, _, err := us.BulkUpsert(ctx, []users.User{
		{Username: "admin", Role: "admin", Password: "admin-pw"},
		{Username: "hoca", Role: "teacher", Password: "hoca-pw"},
		{Username: "ogrenci", Role: "student", Password: "ogr-pw", FullName: "Ali Veli"},
	}); err != nil {
		t.Fatal(err)
	}
	all, _ := us.List(ctx, "")
	for _, u := range all {
		env.ids[u.Username] = u.ID
	}

	blobs, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := exam.NewService(exam.NewSQLStore(d),
		exam.WithClock(func() time.Time { return env.now }),
		exam.WithEvents(syncx.NewEventRepo(d, "test")))
	env.srv = httptest.NewServer(NewRouter(Deps{
		DB: d, Exams: svc, Users: us, Auth: authmw.NewAuthService("test-secret"), Blobs: blobs,
		Origins: []string{"http://localhost:3000"}, EnableLocalAuth: true,
		Now: func() time.Time { return env.now },
	}))
	t.Cleanup(env.srv.Close)

	for user, pw := range map[string]string{"admin": "admin-pw", "hoca": "hoca-pw", "ogrenci": "ogr-pw"} {
		var out struct {
			AccessToken string `json:"access_token"`
		}
		code := env.do(t, "", http.MethodPost, "/auth/login", map[string]string{"username": user, "password": pw}, &out)
		if code != http.StatusOK || out.AccessToken == "" {
			t.Fatalf("login %s: %d", user, code)
		}
		env.token[user] = out.AccessToken
	}
	return env
}

func (e *apiEnv) do(t *testing.T, user, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+e.token[user])
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if out != nil {
		_ = json.NewDecoder(res.Body).Decode(out)
	}
	return res.StatusCode
}

// setupTest creates a lesson taught by hoca with ogrenci enrolled and a
// vize test of five questions, and returns the test id.
func (e *apiEnv) setupTest(t *testing.T) string {
	t.Helper()
	var lesson exam.Lesson
	if code := e.do(t, "admin", "POST", "/lessons", map[string]any{"code": "FIZ101", "name": "Fizik"}, &lesson); code != 201 {
		t.Fatalf("create lesson: %d", code)
	}
	if code := e.do(t, "admin", "POST", "/lessons/"+lesson.ID+"/teachers", map[string]string{"teacher_id": e.ids["hoca"]}, nil); code != 204 {
		t.Fatalf("assign: %d", code)
	}
	if code := e.do(t, "admin", "POST", "/lessons/"+lesson.ID+"/students", map[string]any{"student_ids": []string{e.ids["ogrenci"]}}, nil); code != 200 {
		t.Fatalf("enroll: %d", code)
	}
	var tt exam.Test
	code := e.do(t, "hoca", "POST", "/tests", map[string]any{
		"lesson_id": lesson.ID, "test_type": "vize",
		"start_time": t0, "end_time": t0.Add(time.Hour), "duration": 10, "min_questions": 5,
	}, &tt)
	if code != 201 {
		t.Fatalf("create test: %d", code)
	}
	rows := make([]exam.QuestionInput, 5)
	for i := range rows {
		rows[i] = exam.QuestionInput{Prompt: fmt.Sprintf("Q%d", i), OptionA: "x", OptionB: "y", OptionC: "z", CorrectAnswer: "b"}
	}
	var bulk exam.BulkResult
	if code := e.do(t, "hoca", "POST", "/tests/"+tt.ID+"/questions/bulk", rows, &bulk); code != 200 || bulk.Created != 5 {
		t.Fatalf("bulk: %d %+v", code, bulk)
	}
	return tt.ID
}

func TestAttemptFlowOverHTTP(t *testing.T) {
	e := newAPI(t)
	testID := e.setupTest(t)

	var st exam.StartResult
	if code := e.do(t, "ogrenci", "POST", "/tests/"+testID+"/start", nil, &st); code != 201 {
		t.Fatalf("start: %d", code)
	}
	if len(st.Questions) != 5 || st.RemainingSeconds != 600 {
		t.Fatalf("start = %+v", st)
	}

	var conflict map[string]any
	if code := e.do(t, "ogrenci", "POST", "/tests/"+testID+"/start", nil, &conflict); code != 409 {
		t.Fatalf("second start: %d", code)
	}
	if conflict["code"] != "already_attempted" || conflict["attempt_status"] != "started" {
		t.Fatalf("conflict body = %v", conflict)
	}

	if code := e.do(t, "ogrenci", "GET", "/tests/"+testID+"/result", nil, nil); code != 409 {
		t.Fatalf("result while open: %d", code)
	}

	e.now = t0.Add(2 * time.Minute)
	var status exam.StatusResult
	if code := e.do(t, "ogrenci", "GET", "/tests/"+testID+"/attempt", nil, &status); code != 200 || !status.CanContinue {
		t.Fatalf("status: %d %+v", code, status)
	}

	answers := []exam.AnswerInput{}
	for i, q := range status.Questions {
		sel := "b"
		if i == 0 {
			sel = "a"
		}
		s := sel
		answers = append(answers, exam.AnswerInput{QuestionID: q.ID, SelectedAnswer: &s})
	}
	var sub exam.SubmitResult
	if code := e.do(t, "ogrenci", "POST", "/tests/"+testID+"/submit", map[string]any{"answers": answers}, &sub); code != 200 {
		t.Fatalf("submit: %d", code)
	}
	if sub.Score != 80 || sub.Attempt.Status != exam.StatusSubmitted {
		t.Fatalf("submit = %+v", sub)
	}

	var again exam.SubmitResult
	if code := e.do(t, "ogrenci", "POST", "/tests/"+testID+"/submit", map[string]any{"answers": answers}, &again); code != 200 || again.Notice == "" || again.Score != 80 {
		t.Fatalf("resubmit: %d %+v", code, again)
	}

	var grades []exam.StudentLessonGrade
	if code := e.do(t, "ogrenci", "GET", "/student/grades", nil, &grades); code != 200 || len(grades) != 1 || grades[0].Vize == nil || *grades[0].Vize != 80 {
		t.Fatalf("grades: %d %+v", code, grades)
	}

	var trail []struct {
		Type string `json:"type"`
		Data struct {
			QuestionIDs []string `json:"question_ids"`
			Score       float64  `json:"score"`
		} `json:"data"`
	}
	path := "/tests/" + testID + "/attempts/" + st.Attempt.ID + "/events"
	if code := e.do(t, "hoca", "GET", path, nil, &trail); code != 200 || len(trail) != 2 {
		t.Fatalf("events: %d %+v", code, trail)
	}
	if trail[0].Type != "AttemptStarted" || len(trail[0].Data.QuestionIDs) != 5 || trail[1].Type != "AttemptSubmitted" || trail[1].Data.Score != 80 {
		t.Fatalf("trail = %+v", trail)
	}
	if code := e.do(t, "ogrenci", "GET", path, nil, nil); code != 403 {
		t.Fatalf("student reading trail: %d", code)
	}
	if code := e.do(t, "hoca", "GET", "/tests/"+testID+"/attempts/nope/events", nil, nil); code != 404 {
		t.Fatalf("unknown attempt: %d", code)
	}
}

func TestExpiredSubmitIsGone(t *testing.T) {
	e := newAPI(t)
	testID := e.setupTest(t)
	if code := e.do(t, "ogrenci", "POST", "/tests/"+testID+"/start", nil, nil); code != 201 {
		t.Fatalf("start: %d", code)
	}
	e.now = t0.Add(11 * time.Minute)
	var body map[string]any
	if code := e.do(t, "ogrenci", "POST", "/tests/"+testID+"/submit", map[string]any{"answers": []any{}}, &body); code != http.StatusGone {
		t.Fatalf("late submit: %d", code)
	}
	if body["code"] != "expired" {
		t.Fatalf("body = %v", body)
	}
}

func TestRoleChecks(t *testing.T) {
	e := newAPI(t)
	testID := e.setupTest(t)

	if code := e.do(t, "ogrenci", "POST", "/tests", map[string]any{}, nil); code != 403 {
		t.Fatalf("student create test: %d", code)
	}
	if code := e.do(t, "hoca", "POST", "/tests/"+testID+"/start", nil, nil); code != 403 {
		t.Fatalf("teacher start: %d", code)
	}
	if code := e.do(t, "hoca", "POST", "/admin/sweep", nil, nil); code != 403 {
		t.Fatalf("teacher sweep: %d", code)
	}
	if code := e.do(t, "", "GET", "/student/tests", nil, nil); code != 401 {
		t.Fatalf("anonymous: %d", code)
	}
	if code := e.do(t, "ogrenci", "GET", "/tests/missing/attempt", nil, nil); code != 404 {
		t.Fatalf("missing test: %d", code)
	}
}

func TestSweepEndpoint(t *testing.T) {
	e := newAPI(t)
	testID := e.setupTest(t)
	e.now = t0.Add(2 * time.Hour)

	var status struct {
		LastRun *time.Time `json:"last_run"`
		Closed  int        `json:"closed"`
	}
	if code := e.do(t, "admin", "GET", "/admin/sweep", nil, &status); code != 200 || status.LastRun != nil {
		t.Fatalf("status before any sweep: %d %+v", code, status)
	}

	var out map[string]int
	if code := e.do(t, "admin", "POST", "/admin/sweep", nil, &out); code != 200 || out["closed"] != 1 {
		t.Fatalf("sweep: %v", out)
	}
	if code := e.do(t, "admin", "POST", "/admin/sweep", nil, &out); code != 200 || out["closed"] != 0 {
		t.Fatalf("second sweep: %v", out)
	}
	if code := e.do(t, "admin", "GET", "/admin/sweep", nil, &status); code != 200 || status.LastRun == nil || status.Closed != 0 {
		t.Fatalf("status after sweeps: %d %+v", code, status)
	}
	var results []exam.Attempt
	if code := e.do(t, "hoca", "GET", "/tests/"+testID+"/results", nil, &results); code != 200 || len(results) != 1 {
		t.Fatalf("results: %d %+v", code, results)
	}
}

func TestBulkUploadCSVAndExport(t *testing.T) {
	e := newAPI(t)
	testID := e.setupTest(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "extra.csv")
	_, _ = io.WriteString(fw, "question_text,option_a,option_b,option_c,option_d,correct_answer\n"+
		"Extra?,1,2,3,,c\n"+
		"\n"+
		"Broken,,2,3,,a\n")
	_ = mw.Close()
	req, _ := http.NewRequest("POST", e.srv.URL+"/tests/"+testID+"/questions/bulk", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.token["hoca"])
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var bulk exam.BulkResult
	_ = json.NewDecoder(res.Body).Decode(&bulk)
	res.Body.Close()
	if res.StatusCode != 200 || bulk.Created != 1 || len(bulk.Errors) != 1 || bulk.PoolSize != 6 {
		t.Fatalf("upload: %d %+v", res.StatusCode, bulk)
	}
	if bulk.Errors[0].Row != 4 {
		t.Fatalf("error reported on row %d, want the sheet row 4", bulk.Errors[0].Row)
	}

	var tests []exam.Test
	var lessonID string
	var detail exam.TestDetail
	if code := e.do(t, "hoca", "GET", "/tests/"+testID, nil, &detail); code != 200 {
		t.Fatalf("get test: %d", code)
	}
	lessonID = detail.Test.LessonID
	if code := e.do(t, "hoca", "GET", "/lessons/"+lessonID+"/tests", nil, &tests); code != 200 || len(tests) != 1 {
		t.Fatalf("lesson tests: %d", code)
	}

	req, _ = http.NewRequest("GET", e.srv.URL+"/lessons/"+lessonID+"/grades.xlsx", nil)
	req.Header.Set("Authorization", "Bearer "+e.token["hoca"])
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != 200 || len(b) < 4 || string(b[:2]) != "PK" {
		t.Fatalf("export: %d %d bytes", res.StatusCode, len(b))
	}
}
