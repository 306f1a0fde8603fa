package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-training/internal/assessment"
	"github.com/mind-engage/mindengage-training/internal/rbac"
)

func editor(r *http.Request) assessment.Editor {
	id, role := caller(r)
	return assessment.Editor{ID: id, Role: role}
}

// GET /forms/{formID}/structure
// The answer key is only returned to roles that may edit structures.
func GetStructureHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Get(r.Context(), chi.URLParam(r, "formID"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if _, role := caller(r); !rbac.Default().Has(role, "assessment:edit") {
			st = st.StudentView()
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// PUT /forms/{formID}/structure
func PutStructureHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in assessment.SaveInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeErr(w, r, err)
			return
		}
		id, err := svc.Save(r.Context(), editor(r), chi.URLParam(r, "formID"), in)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"assessment_id": id})
	}
}

// PATCH /assessments/{id}/state
func SetStateHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in assessment.StateInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeErr(w, r, err)
			return
		}
		h, err := svc.SetState(r.Context(), editor(r), chi.URLParam(r, "id"), in)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, h)
	}
}

// DELETE /assessments/{id}
func DeleteAssessmentHandler(svc *assessment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), editor(r), chi.URLParam(r, "id")); err != nil {
			writeErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
