package storage

import (
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// BlobStore keeps uploaded source files (question sheets, user lists) so an
// import can be traced back to the exact file a teacher sent.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
}

// UploadKey builds the archive key for an upload: kind/owner/unix-name.
func UploadKey(kind, owner, filename string, at time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return path.Join(kind, owner, fmt.Sprintf("%d-%s", at.Unix(), name))
}
