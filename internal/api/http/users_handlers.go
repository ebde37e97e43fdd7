package http

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/mind-engage/mindengage-exams/internal/users"
)

// POST /users/bulk
// Accepts either multipart file= (CSV/JSON) OR a raw JSON array in the body.
func BulkUpsertUsersHandler(us *users.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rows []users.User
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			f, _, err := r.FormFile("file")
			if err != nil {
				badRequest(w, "file required")
				return
			}
			defer f.Close()
			// sniff CSV vs JSON by the first non-space byte
			br := bufio.NewReader(f)
			first, err := peekNonSpace(br)
			if err != nil {
				badRequest(w, "empty file")
				return
			}
			if first == '[' {
				if err := json.NewDecoder(br).Decode(&rows); err != nil {
					badRequest(w, "bad json")
					return
				}
			} else {
				rs, err := parseUsersCSV(br)
				if err != nil {
					badRequest(w, "bad csv: "+err.Error())
					return
				}
				rows = rs
			}
		} else if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			badRequest(w, "expected JSON array or multipart file")
			return
		}
		if len(rows) == 0 {
			writeJSON(w, http.StatusOK, map[string]int{"inserted": 0, "updated": 0})
			return
		}

		ins, upd, err := us.BulkUpsert(r.Context(), rows)
		if err != nil {
			// row problems are the caller's to fix
			badRequest(w, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"inserted": ins, "updated": upd})
	}
}

// GET /users?role=student
func ListUsersHandler(us *users.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := us.List(r.Context(), r.URL.Query().Get("role"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
		default:
			return b[0], nil
		}
	}
}

func parseUsersCSV(r io.Reader) ([]users.User, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["username"]; !ok {
		return nil, errors.New("missing column: username")
	}
	col := func(rec []string, name string) string {
		if i, ok := idx[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	var rows []users.User
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, users.User{
			ID:            col(rec, "id"),
			Username:      col(rec, "username"),
			FullName:      col(rec, "full_name"),
			Role:          strings.ToLower(col(rec, "role")),
			StudentNumber: col(rec, "student_number"),
			Password:      col(rec, "password"),
		})
	}
	return rows, nil
}
