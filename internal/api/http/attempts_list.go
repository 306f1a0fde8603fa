package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-training/internal/attempt"
)

func actor(r *http.Request) attempt.Actor {
	id, role := caller(r)
	return attempt.Actor{ID: id, Role: role}
}

// POST /assessments/{id}/responses
// body: {participant_id, proof?, responses:[{question_id, value}]}
func SubmitResponsesHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in attempt.SubmitInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeErr(w, r, err)
			return
		}
		res, err := svc.Submit(r.Context(), actor(r), chi.URLParam(r, "id"), in)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		code := http.StatusOK
		if res.Persisted {
			code = http.StatusCreated
		}
		writeJSON(w, code, res)
	}
}

// GET /assessments/{id}/attempts?participant_id=...
// RBAC:
// - role with attempt:view-all can list any participant
// - everyone else only sees their own attempts
func ListAttemptsHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		participant := strings.TrimSpace(r.URL.Query().Get("participant_id"))
		list, err := svc.List(r.Context(), actor(r), chi.URLParam(r, "id"), participant)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if list == nil {
			list = []attempt.Attempt{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}
