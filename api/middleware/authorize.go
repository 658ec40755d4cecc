package middleware

import (
	"fmt"
	"net/http"

	"github.com/openhealthlabs/stockflow-backend/api/responses"
	"github.com/openhealthlabs/stockflow-backend/internal/directory"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
)

// Authorize gates a route on the actor's role. Runs after Auth.
func Authorize(authz directory.Authorizer, action directory.Action, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if !authz.Allows(role, action) {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("role %q may not %s", role, action)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
