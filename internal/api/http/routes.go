package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-training/internal/assessment"
	"github.com/mind-engage/mindengage-training/internal/attempt"
	authmw "github.com/mind-engage/mindengage-training/internal/auth/middleware"
	"github.com/mind-engage/mindengage-training/internal/rbac"
	"github.com/mind-engage/mindengage-training/internal/storage"
)

// Deps are the services behind the authenticated routes.
type Deps struct {
	Structures *assessment.Service
	Attempts   *attempt.Service
	Users      *authmw.UserStore
	Blobs      storage.BlobStore
}

// Mount registers the authenticated API on r. The caller installs the auth
// chain that puts subject and role into the request context.
func Mount(r chi.Router, d Deps) {
	r.With(rbac.Require("assessment:view")).Get("/forms/{formID}/structure", GetStructureHandler(d.Structures))
	r.With(rbac.Require("assessment:edit")).Put("/forms/{formID}/structure", PutStructureHandler(d.Structures))
	r.With(rbac.Require("assessment:activate")).Patch("/assessments/{id}/state", SetStateHandler(d.Structures))
	r.With(rbac.Require("assessment:edit")).Delete("/assessments/{id}", DeleteAssessmentHandler(d.Structures))

	r.With(rbac.Require("response:submit")).Post("/assessments/{id}/responses", SubmitResponsesHandler(d.Attempts))
	r.With(rbac.RequireAny("attempt:view-own", rbac.PermViewAll)).Get("/assessments/{id}/attempts", ListAttemptsHandler(d.Attempts))

	if d.Users != nil {
		r.Put("/users/me/password", ChangePasswordHandler(d.Users))
		r.With(rbac.Require(rbac.PermManageUsers)).Put("/users", UpsertUserHandler(d.Users))
	}
	if d.Blobs != nil {
		r.Route("/assets", func(ar chi.Router) {
			ar.Use(rbac.Require(rbac.PermViewAll))
			MountAssets(ar, d.Blobs)
		})
	}
}
