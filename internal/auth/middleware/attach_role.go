// internal/auth/middleware/attach_role.go
package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/mind-engage/mindengage-training/internal/rbac"
)

// AttachRole replaces the role claim with the directory's role for the
// subject. allowClaimFallback=true in dev/offline; false in prod.
func AttachRole(dir rbac.Directory, allowClaimFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sub := rbac.SubjectFromContext(ctx)
			claimRole := rbac.RoleFromContext(ctx) // set by JWTMiddleware

			role, err := dir.RoleOf(ctx, sub)
			switch {
			case err == nil && role != "":
				// Authoritative directory role
				next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, role)))

			case errors.Is(err, rbac.ErrUnknownUser) || (err == nil && role == ""):
				if allowClaimFallback && claimRole != "" {
					next.ServeHTTP(w, r) // keep whatever JWTMiddleware set
					return
				}
				writeErr(w, http.StatusForbidden, "forbidden")

			default:
				slog.WarnContext(ctx, "role lookup failed", "subject", sub, "err", err)
				if allowClaimFallback && claimRole != "" {
					next.ServeHTTP(w, r)
					return
				}
				writeErr(w, http.StatusForbidden, "forbidden")
			}
		})
	}
}
