// internal/api/http/assets.go
package http

import (
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/storage"
)

// MountAssets serves stored proof artifacts. Mount it behind attempt:view-all.
func MountAssets(r chi.Router, bs storage.BlobStore) {
	// GET /assets/*   -> returns the blob at whatever follows /assets/
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")        // everything after /assets/
		key = strings.TrimPrefix(key, "/") // normalize
		rc, err := bs.Get(key)
		switch {
		case errors.Is(err, storage.ErrInvalidKey), errors.Is(err, fs.ErrNotExist):
			writeErr(w, r, apperr.ErrNotFound)
			return
		case err != nil:
			writeErr(w, r, err)
			return
		}
		defer rc.Close()
		ct := mime.TypeByExtension(path.Ext(key))
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		_, _ = io.Copy(w, rc)
	})
}
