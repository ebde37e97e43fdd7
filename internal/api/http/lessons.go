package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

// POST /lessons
func CreateLessonHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in exam.CreateLessonInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			badRequest(w, "bad json")
			return
		}
		l, err := svc.CreateLesson(r.Context(), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

// POST /lessons/{lessonID}/teachers  { "teacher_id": "..." }
func AssignTeacherHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TeacherID string `json:"teacher_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.TeacherID) == "" {
			badRequest(w, "teacher_id required")
			return
		}
		if err := svc.AssignTeacher(r.Context(), chi.URLParam(r, "lessonID"), req.TeacherID); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /lessons/{lessonID}/students  { "student_ids": ["...", ...] }
func EnrollStudentsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			StudentIDs []string `json:"student_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.StudentIDs) == 0 {
			badRequest(w, "student_ids required")
			return
		}
		lessonID := chi.URLParam(r, "lessonID")
		for _, sid := range req.StudentIDs {
			if err := svc.EnrollStudent(r.Context(), lessonID, sid); err != nil {
				writeError(w, r, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]int{"enrolled": len(req.StudentIDs)})
	}
}

// SweepRunner runs the expiry sweep on demand and reports the last run,
// scheduled or manual.
type SweepRunner interface {
	RunOnce(ctx context.Context) (int, error)
	LastRun() (time.Time, int, error)
}

// POST /admin/sweep
func SweepHandler(sw SweepRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := sw.RunOnce(r.Context())
		if err != nil {
			// partial progress is still reported
			writeJSON(w, http.StatusInternalServerError, map[string]any{"closed": n, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"closed": n})
	}
}

// GET /admin/sweep
func SweepStatusHandler(sw SweepRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		at, n, err := sw.LastRun()
		out := struct {
			LastRun *time.Time `json:"last_run"`
			Closed  int        `json:"closed"`
			Error   string     `json:"error,omitempty"`
		}{Closed: n}
		if !at.IsZero() {
			out.LastRun = &at
		}
		if err != nil {
			out.Error = err.Error()
		}
		writeJSON(w, http.StatusOK, out)
	}
}
