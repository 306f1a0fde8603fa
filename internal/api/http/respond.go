package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/rbac"
)

// maxBodyBytes leaves room for a base64 proof image next to the responses.
const maxBodyBytes = 16 << 20

type envelope struct {
	Success bool                `json:"success"`
	Data    any                 `json:"data,omitempty"`
	Error   string              `json:"error,omitempty"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// writeErr maps service errors onto status codes. Anything unrecognised is
// logged and reported as an internal error.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	body := envelope{Error: err.Error()}
	var ve *apperr.ValidationError
	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		code = http.StatusBadRequest
		body.Fields = ve.Fields
	case errors.Is(err, apperr.ErrPermission):
		code = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		code = http.StatusConflict
	default:
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		body.Error = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return apperr.NewValidationError("request body too large")
		case errors.Is(err, io.EOF):
			return apperr.NewValidationError("request body required")
		}
		return apperr.NewValidationError("bad json")
	}
	return nil
}

// caller returns the subject and role put into the context by the auth chain.
func caller(r *http.Request) (string, string) {
	return rbac.SubjectFromContext(r.Context()), rbac.RoleFromContext(r.Context())
}
