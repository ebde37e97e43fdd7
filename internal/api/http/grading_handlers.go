package http

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/importer"
)

// GET /lessons/{lessonID}/grades
func LessonGradesHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.LessonGrades(r.Context(), actorFrom(r), chi.URLParam(r, "lessonID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

// GET /lessons/{lessonID}/grades.xlsx
func LessonGradesExportHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lessonID := chi.URLParam(r, "lessonID")
		rows, err := svc.LessonGrades(r.Context(), actorFrom(r), lessonID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		lesson, err := svc.GetLesson(r.Context(), lessonID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var buf bytes.Buffer
		if err := importer.WriteGrades(&buf, lesson, rows); err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-grades.xlsx"`, lesson.Code))
		_, _ = w.Write(buf.Bytes())
	}
}

// GET /student/grades
func StudentGradesHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.StudentGrades(r.Context(), actorFrom(r).ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}
