package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/idtoken"

	"wastewatch-backend/pkg/utils"
)

// TokenValidator checks a Google-signed OIDC token for audience.
type TokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// PushAuth accepts only requests carrying an OIDC token minted by the event
// platform for audience. When serviceAccount is set the token's email claim
// must match it. A nil validate uses idtoken.Validate.
func PushAuth(audience, serviceAccount string, validate TokenValidator, logger *logrus.Logger) func(http.Handler) http.Handler {
	if validate == nil {
		validate = idtoken.Validate
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.WithFields(logrus.Fields{"component": "push_auth", "path": r.URL.Path})

			parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				log.Warn("push delivery without bearer token")
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			payload, err := validate(r.Context(), parts[1], audience)
			if err != nil {
				log.WithError(err).Warn("rejected push token")
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if serviceAccount != "" {
				email, _ := payload.Claims["email"].(string)
				verified, _ := payload.Claims["email_verified"].(bool)
				if email != serviceAccount || !verified {
					log.WithField("email", email).Warn("push token from unexpected identity")
					utils.RespondError(w, http.StatusForbidden, "Forbidden")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
