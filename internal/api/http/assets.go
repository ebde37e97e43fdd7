package http

import (
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/storage"
)

// MountUploads serves archived upload files back to administrators.
func MountUploads(r chi.Router, bs storage.BlobStore) {
	// GET /uploads/*   -> returns the blob at whatever follows /uploads/
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		if bs == nil {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "no upload archive configured"})
			return
		}
		key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		rc, err := bs.Get(key)
		if err != nil {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
		_, _ = io.Copy(w, rc)
	})
}
