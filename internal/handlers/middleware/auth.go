package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nkiryanov/schoolagenda/internal/handlers/render"
	"github.com/nkiryanov/schoolagenda/internal/handlers/userctx"
	"github.com/nkiryanov/schoolagenda/internal/models"
)

type authenticator interface {
	AuthenticateUser(ctx context.Context, access string) (models.User, error)
}

// Extract token from 'Authorization: Bearer <token>' header
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

// Put authenticated user to request context or respond 401
// Every failure looks the same for the client
func AuthMiddleware(a authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}

			user, err := a.AuthenticateUser(r.Context(), token)
			if err != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(userctx.New(r.Context(), user)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
}
