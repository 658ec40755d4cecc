package middleware

import (
	"net/http"
	"strings"

	"github.com/openhealthlabs/stockflow-backend/api/responses"
	pkgauth "github.com/openhealthlabs/stockflow-backend/pkg/auth"
	"github.com/openhealthlabs/stockflow-backend/pkg/config"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseActorToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithActorID(r.Context(), claims.ActorID)
			if claims.Role != "" {
				ctx = contextWithRole(ctx, claims.Role)
			}
			if claims.FacilityID != nil {
				ctx = WithFacilityID(ctx, *claims.FacilityID)
			}

			if logg != nil {
				fields := map[string]any{
					"actor_id":   claims.ActorID.String(),
					"actor_role": claims.Role,
				}
				if claims.FacilityID != nil {
					fields["facility_id"] = claims.FacilityID.String()
				}
				ctx = logg.WithFields(ctx, fields)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
