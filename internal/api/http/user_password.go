// internal/api/http/user_password.go
package http

import (
	"net/http"

	authmw "github.com/mind-engage/mindengage-training/internal/auth/middleware"
	"github.com/mind-engage/mindengage-training/internal/rbac"
)

type changePasswordReq struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// PUT /users/me/password
func ChangePasswordHandler(users *authmw.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := rbac.SubjectFromContext(r.Context())
		var req changePasswordReq
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
		if err := users.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
			writeErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type upsertUserReq struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

// PUT /users  (admin) creates an account or resets its role and password.
func UpsertUserHandler(users *authmw.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req upsertUserReq
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
		u, err := users.Upsert(r.Context(), req.Username, req.Role, req.Password)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}
