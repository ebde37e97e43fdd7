package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/importer"
	"github.com/mind-engage/mindengage-exams/internal/storage"
)

const maxUpload = 10 << 20

// POST /tests
func CreateTestHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in exam.CreateTestInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			badRequest(w, "bad json")
			return
		}
		t, err := svc.CreateTest(r.Context(), actorFrom(r), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

// GET /lessons/{lessonID}/tests
func ListLessonTestsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListTestsForLesson(r.Context(), actorFrom(r), chi.URLParam(r, "lessonID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /tests/{testID}  (author view, includes the key)
func GetTestHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.GetTestForTeacher(r.Context(), actorFrom(r), chi.URLParam(r, "testID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// DELETE /tests/{testID}
func DeleteTestHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteTest(r.Context(), actorFrom(r), chi.URLParam(r, "testID")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /tests/{testID}/questions
func AddQuestionHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in exam.QuestionInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			badRequest(w, "bad json")
			return
		}
		q, size, err := svc.AddQuestion(r.Context(), actorFrom(r), chi.URLParam(r, "testID"), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"question": q, "pool_size": size})
	}
}

// POST /tests/{testID}/questions/bulk
// Accepts a JSON array of questions, or a multipart file= (.xlsx or .csv).
// Uploaded files are archived before parsing.
func BulkQuestionsHandler(svc *exam.Service, bs storage.BlobStore, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		var rows []exam.QuestionInput
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
			f, hdr, err := r.FormFile("file")
			if err != nil {
				badRequest(w, "file required")
				return
			}
			defer f.Close()
			raw, err := io.ReadAll(f)
			if err != nil {
				badRequest(w, "read upload: "+err.Error())
				return
			}
			rows, err = importer.ParseQuestions(bytes.NewReader(raw), hdr.Filename)
			if errors.Is(err, importer.ErrUnsupportedFormat) {
				badRequest(w, err.Error())
				return
			}
			if err != nil {
				badRequest(w, "parse upload: "+err.Error())
				return
			}
			if bs != nil {
				key := storage.UploadKey("questions", testID, hdr.Filename, now())
				if _, err := bs.Put(key, bytes.NewReader(raw)); err != nil {
					log.Printf("[http] archive %s: %v", key, err)
				}
			}
		} else if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			badRequest(w, "expected JSON array or multipart file")
			return
		}

		res, err := svc.BulkAddQuestions(r.Context(), actorFrom(r), testID, rows)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// DELETE /tests/{testID}/questions
func DeleteQuestionsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteAllQuestions(r.Context(), actorFrom(r), chi.URLParam(r, "testID")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /tests/{testID}/results
func TestResultsHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.TestResults(r.Context(), actorFrom(r), chi.URLParam(r, "testID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /tests/{testID}/attempts/{attemptID}/events
func AttemptEventsHandler(svc *exam.Service) http.HandlerFunc {
	type eventView struct {
		Seq       int64           `json:"seq"`
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		CreatedAt time.Time       `json:"created_at"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		evs, err := svc.AttemptEvents(r.Context(), actorFrom(r), chi.URLParam(r, "testID"), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]eventView, 0, len(evs))
		for _, e := range evs {
			v := eventView{Seq: e.Seq, Type: e.Type, CreatedAt: time.Unix(e.CreatedAt, 0).UTC()}
			if json.Valid([]byte(e.DataJSON)) {
				v.Data = json.RawMessage(e.DataJSON)
			}
			out = append(out, v)
		}
		writeJSON(w, http.StatusOK, out)
	}
}
