package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/schoolagenda/internal/apperrors"
	"github.com/nkiryanov/schoolagenda/internal/handlers/render"
	"github.com/nkiryanov/schoolagenda/internal/handlers/userctx"
	"github.com/nkiryanov/schoolagenda/internal/logger"
	"github.com/nkiryanov/schoolagenda/internal/models"
)

const tokenTypeBearer = "bearer"

type userResponse struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         userResponse `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, IsActive: u.IsActive}
}

func newTokenResponse(s models.Session) tokenResponse {
	expiresIn := max(time.Until(s.Pair.Access.ExpiresAt).Round(time.Second), 0)

	return tokenResponse{
		AccessToken:  s.Pair.Access.Value,
		RefreshToken: s.Pair.Refresh.Value,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(expiresIn.Seconds()),
		User:         newUserResponse(s.User),
	}
}

func internalError(w http.ResponseWriter, l logger.Logger, r *http.Request, err error) {
	l.Error("request failed", "method", r.Method, "uri", r.URL.Path, "error", err)
	render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
}

func handleRegister(s sessionService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Name     string `json:"name" validate:"required,max=100"`
		Password string `json:"password" validate:"required,min=8,max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := s.Register(r.Context(), data.Email, data.Name, data.Password)
		switch {
		case err == nil:
			render.JSONWithStatus(w, newTokenResponse(session), http.StatusCreated)
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
		default:
			internalError(w, l, r, err)
		}
	})
}

func handleLogin(s sessionService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		session, err := s.Login(r.Context(), data.Email, data.Password)
		switch {
		case err == nil:
			render.JSON(w, newTokenResponse(session))
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Invalid email or password", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrAccountInactive):
			render.ServiceError(w, "Account is inactive", http.StatusForbidden)
		default:
			internalError(w, l, r, err)
		}
	})
}

// Every protocol failure of rotation is one generic 401
func handleRefresh(s sessionService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[refreshRequest](w, r)
		if err != nil {
			return
		}

		session, err := s.Rotate(r.Context(), data.RefreshToken)
		switch {
		case err == nil:
			render.JSON(w, newTokenResponse(session))
		case errors.Is(err, apperrors.ErrInvalidToken),
			errors.Is(err, apperrors.ErrTokenExpired),
			errors.Is(err, apperrors.ErrAccountUnavailable):
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
		default:
			internalError(w, l, r, err)
		}
	})
}

func handleLogout(s sessionService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[refreshRequest](w, r)
		if err != nil {
			return
		}

		err = s.Logout(r.Context(), data.RefreshToken)
		switch {
		case err == nil:
			render.JSON(w, messageResponse{Message: "Successfully logged out"})
		case errors.Is(err, apperrors.ErrTokenNotFound):
			render.ServiceError(w, "Invalid refresh token", http.StatusBadRequest)
		default:
			internalError(w, l, r, err)
		}
	})
}

// Requires authenticated user in context
func handleLogoutAll(s sessionService, l logger.Logger) http.Handler {
	type response struct {
		Message string `json:"message"`
		Revoked int64  `json:"revoked"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		revoked, err := s.LogoutAll(r.Context(), user.ID)
		if err != nil {
			internalError(w, l, r, err)
			return
		}

		render.JSON(w, response{Message: "All sessions revoked", Revoked: revoked})
	})
}
