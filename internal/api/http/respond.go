package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	authmw "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/users"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error    string   `json:"error"`
	Code     string   `json:"code,omitempty"`
	Status   string   `json:"attempt_status,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// writeError maps domain errors to HTTP statuses. Anything unrecognized is a
// 500 and is logged; its text is not sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ee *exam.EligibilityError
		ve *exam.ValidationError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Problems: ve.Problems})
	case errors.As(err, &ee):
		status := http.StatusForbidden
		switch ee.Code {
		case exam.CodeAlreadyAttempted:
			status = http.StatusConflict
		case exam.CodeInsufficientPool:
			status = http.StatusConflict
		}
		writeJSON(w, status, errorBody{Error: ee.Reason, Code: string(ee.Code), Status: string(ee.Status)})
	case errors.Is(err, exam.ErrTestNotFound), errors.Is(err, exam.ErrLessonNotFound),
		errors.Is(err, exam.ErrNoAttempt), errors.Is(err, users.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, exam.ErrNotTeaching), errors.Is(err, exam.ErrNotOwner),
		errors.Is(err, users.ErrWrongPassword):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case errors.Is(err, exam.ErrAttemptExpired):
		writeJSON(w, http.StatusGone, errorBody{Error: err.Error(), Code: "expired"})
	case errors.Is(err, exam.ErrDuplicateTestType), errors.Is(err, exam.ErrAttemptOpen),
		errors.Is(err, exam.ErrDuplicateAttempt), errors.Is(err, users.ErrLastAdmin):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		log.Printf("[http] %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func actorFrom(r *http.Request) exam.Actor {
	id := authmw.IdentityFromContext(r.Context())
	return exam.Actor{ID: id.Subject, Role: id.Role}
}
