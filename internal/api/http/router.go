package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"

	authmw "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
	"github.com/mind-engage/mindengage-exams/internal/scheduler"
	"github.com/mind-engage/mindengage-exams/internal/storage"
	"github.com/mind-engage/mindengage-exams/internal/users"
)

type Deps struct {
	DB      *sqlx.DB
	Exams   *exam.Service
	Users   *users.Store
	Auth    *authmw.AuthService
	Blobs   storage.BlobStore
	Sweeps  SweepRunner // nil: manual sweeps only, on an unscheduled runner
	Origins []string

	EnableLocalAuth   bool
	ClaimRoleFallback bool
	Now               func() time.Time // upload archive timestamps
}

func NewRouter(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sweeps == nil {
		d.Sweeps = scheduler.New(d.Exams, time.Minute)
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if d.EnableLocalAuth {
		r.Post("/auth/login", authmw.LoginHandler(d.Auth, d.DB))
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.DB.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	// Protected API (JWT → role in context → DB role → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(d.Auth))
		pr.Use(authmw.AttachRoleFromDB(d.DB, d.ClaimRoleFallback))

		// admin
		pr.With(rbac.Require(rbac.PermLessonManage)).Post("/lessons", CreateLessonHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermLessonManage)).Post("/lessons/{lessonID}/teachers", AssignTeacherHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermLessonManage)).Post("/lessons/{lessonID}/students", EnrollStudentsHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermUsersBulk)).Post("/users/bulk", BulkUpsertUsersHandler(d.Users))
		pr.With(rbac.Require(rbac.PermUsersBulk)).Put("/users/{userID}/role", AdminUpdateUserRoleHandler(d.Users))
		pr.With(rbac.Require(rbac.PermSweepRun)).Post("/admin/sweep", SweepHandler(d.Sweeps))
		pr.With(rbac.Require(rbac.PermSweepRun)).Get("/admin/sweep", SweepStatusHandler(d.Sweeps))
		pr.With(rbac.Require(rbac.PermLessonManage)).Route("/uploads", func(ur chi.Router) {
			MountUploads(ur, d.Blobs)
		})

		pr.With(rbac.Require(rbac.PermUsersList)).Get("/users", ListUsersHandler(d.Users))
		pr.Post("/users/change-password", ChangePasswordHandler(d.Users))

		// teacher
		pr.With(rbac.Require(rbac.PermTestCreate)).Post("/tests", CreateTestHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermTestManageOwn)).Get("/lessons/{lessonID}/tests", ListLessonTestsHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermTestManageOwn)).Get("/tests/{testID}", GetTestHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermTestManageOwn)).Delete("/tests/{testID}", DeleteTestHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermTestManageOwn)).Post("/tests/{testID}/questions", AddQuestionHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermTestManageOwn)).Post("/tests/{testID}/questions/bulk", BulkQuestionsHandler(d.Exams, d.Blobs, d.Now))
		pr.With(rbac.Require(rbac.PermTestManageOwn)).Delete("/tests/{testID}/questions", DeleteQuestionsHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermTestManageOwn)).Get("/tests/{testID}/results", TestResultsHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermTestManageOwn)).Get("/tests/{testID}/attempts/{attemptID}/events", AttemptEventsHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermGradesLesson)).Get("/lessons/{lessonID}/grades", LessonGradesHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermGradesLesson)).Get("/lessons/{lessonID}/grades.xlsx", LessonGradesExportHandler(d.Exams))

		// student
		pr.With(rbac.Require(rbac.PermTestListOwn)).Get("/student/tests", AvailableTestsHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermGradesOwn)).Get("/student/grades", StudentGradesHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermAttemptStart)).Post("/tests/{testID}/start", StartAttemptHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermAttemptView)).Get("/tests/{testID}/attempt", AttemptStatusHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermAttemptSubmit)).Post("/tests/{testID}/submit", SubmitAttemptHandler(d.Exams))
		pr.With(rbac.Require(rbac.PermAttemptReview)).Get("/tests/{testID}/result", AttemptResultHandler(d.Exams))
	})
	return r
}
