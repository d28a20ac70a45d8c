package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/schoolagenda/internal/handlers/middleware"
	"github.com/nkiryanov/schoolagenda/internal/logger"
	"github.com/nkiryanov/schoolagenda/internal/metrics"
	"github.com/nkiryanov/schoolagenda/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(sessions sessionService, logger logger.Logger) http.Handler {
	withAuth := middleware.AuthMiddleware(sessions)

	apiauth := http.NewServeMux()
	apiauth.Handle("POST /register", handleRegister(sessions, logger))
	apiauth.Handle("POST /login", handleLogin(sessions, logger))
	apiauth.Handle("POST /refresh", handleRefresh(sessions, logger))
	apiauth.Handle("POST /logout", handleLogout(sessions, logger))
	apiauth.Handle("POST /logout-all", withAuth(handleLogoutAll(sessions, logger)))

	apiusers := http.NewServeMux()
	apiusers.Handle("GET /me", withAuth(handleUserMe()))

	root := http.NewServeMux()
	root.Handle("/api/v1/auth/", http.StripPrefix("/api/v1/auth", apiauth))
	root.Handle("/api/v1/users/", http.StripPrefix("/api/v1/users", apiusers))
	root.Handle("GET /metrics", metrics.Handler())
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return chain(root,
		middleware.LoggerMiddleware(logger),
		middleware.MetricsMiddleware(),
	)
}

type sessionService interface {
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, email string, name string, password string) (models.Session, error)

	// Has to return apperrors.ErrInvalidCredentials or apperrors.ErrAccountInactive
	Login(ctx context.Context, email string, password string) (models.Session, error)

	// Has to return apperrors.ErrInvalidToken (reuse included), apperrors.ErrTokenExpired
	// or apperrors.ErrAccountUnavailable on protocol failures
	Rotate(ctx context.Context, refresh string) (models.Session, error)

	// Has to return apperrors.ErrTokenNotFound if token is unknown
	Logout(ctx context.Context, refresh string) error

	LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error)

	// Resolve active user by access token
	AuthenticateUser(ctx context.Context, access string) (models.User, error)
}
