package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/schoolagenda/internal/clock"
	"github.com/nkiryanov/schoolagenda/internal/logger"
	"github.com/nkiryanov/schoolagenda/internal/repository/postgres"
	"github.com/nkiryanov/schoolagenda/internal/service/auth"
	"github.com/nkiryanov/schoolagenda/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/schoolagenda/internal/testutil"
)

type tokenBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		IsActive bool   `json:"is_active"`
	} `json:"user"`
}

func doRequest(t *testing.T, method string, url string, body string, access string) (int, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func decodeTokens(t *testing.T, body string) tokenBody {
	t.Helper()

	var tokens tokenBody
	require.NoError(t, json.Unmarshal([]byte(body), &tokens), "body is not token response: %s", body)
	return tokens
}

func Test_AuthHandler(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Run http server with production SessionService bound to test transaction
	withTx := func(t *testing.T, fn func(url string, s *auth.SessionService)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			c := clock.NewMockClock(time.Now())

			codec, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret", Clock: c})
			require.NoError(t, err, "token manager should be created without errors")

			s, err := auth.NewService(
				auth.Config{Hasher: auth.BcryptHasher{Cost: bcrypt.MinCost}, Clock: c},
				codec,
				postgres.NewStorage(tx),
			)
			require.NoError(t, err, "session service starting error")

			srv := httptest.NewServer(NewRouter(s, logger.NewNoOpLogger()))
			defer srv.Close()

			fn(srv.URL, s)
		})
	}

	register := `{"email": "anna@example.com", "name": "Anna", "password": "StrongEnoughPassword"}`
	login := `{"email": "anna@example.com", "password": "StrongEnoughPassword"}`

	t.Run("register ok", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			code, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/register", register, "")

			require.Equalf(t, http.StatusCreated, code, "not expected code. Body: %s", body)
			tokens := decodeTokens(t, body)
			require.NotEmpty(t, tokens.AccessToken)
			require.Len(t, tokens.RefreshToken, 43)
			require.Equal(t, "bearer", tokens.TokenType)
			require.InDelta(t, (30 * time.Minute).Seconds(), tokens.ExpiresIn, 2)
			require.Equal(t, "anna@example.com", tokens.User.Email)
			require.Equal(t, "Anna", tokens.User.Name)
			require.True(t, tokens.User.IsActive)
		})
	})

	t.Run("register twice", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			code, _ := doRequest(t, http.MethodPost, url+"/api/v1/auth/register", register, "")
			require.Equal(t, http.StatusCreated, code)

			code, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/register", register, "")

			require.Equal(t, http.StatusConflict, code)
			require.JSONEq(t, `{"error": "service_error", "message": "User already exists"}`, body)
		})
	})

	t.Run("register invalid payload", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			code, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/register", `{"email": "not-an-email", "name": "Anna"}`, "")

			require.Equalf(t, http.StatusBadRequest, code, "not expected code. Body: %s", body)
			require.Contains(t, body, "email")
			require.Contains(t, body, "password")
		})
	})

	t.Run("login ok", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			code, _ := doRequest(t, http.MethodPost, url+"/api/v1/auth/register", register, "")
			require.Equal(t, http.StatusCreated, code)

			code, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/login", login, "")

			require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
			tokens := decodeTokens(t, body)
			require.NotEmpty(t, tokens.AccessToken)
			require.NotEmpty(t, tokens.RefreshToken)
		})
	})

	t.Run("login failed", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			code, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/login", login, "")

			require.Equal(t, http.StatusUnauthorized, code)
			require.JSONEq(t, `{"error": "service_error", "message": "Invalid email or password"}`, body)
		})
	})

	t.Run("refresh rotates pair", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			_, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/register", register, "")
			first := decodeTokens(t, body)

			code, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/refresh", `{"refresh_token": "`+first.RefreshToken+`"}`, "")

			require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
			second := decodeTokens(t, body)
			require.NotEqual(t, first.RefreshToken, second.RefreshToken)
			require.Equal(t, "anna@example.com", second.User.Email)
		})
	})

	t.Run("refresh reused token", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			_, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/register", register, "")
			first := decodeTokens(t, body)
			_, body = doRequest(t, http.MethodPost, url+"/api/v1/auth/refresh", `{"refresh_token": "`+first.RefreshToken+`"}`, "")
			second := decodeTokens(t, body)

			code, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/refresh", `{"refresh_token": "`+first.RefreshToken+`"}`, "")
			require.Equal(t, http.StatusUnauthorized, code, "reused token must be rejected")
			require.JSONEq(t, `{"error": "service_error", "message": "Invalid refresh token"}`, body)

			code, _ = doRequest(t, http.MethodPost, url+"/api/v1/auth/refresh", `{"refresh_token": "`+second.RefreshToken+`"}`, "")
			require.Equal(t, http.StatusUnauthorized, code, "successor must be revoked after reuse")
		})
	})

	t.Run("refresh unknown token", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			code, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/refresh", `{"refresh_token": "unknown"}`, "")

			require.Equal(t, http.StatusUnauthorized, code)
			require.JSONEq(t, `{"error": "service_error", "message": "Invalid refresh token"}`, body)
		})
	})

	t.Run("logout", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			_, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/register", register, "")
			tokens := decodeTokens(t, body)
			payload := `{"refresh_token": "` + tokens.RefreshToken + `"}`

			code, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/logout", payload, "")
			require.Equal(t, http.StatusOK, code)
			require.JSONEq(t, `{"message": "Successfully logged out"}`, body)

			code, _ = doRequest(t, http.MethodPost, url+"/api/v1/auth/logout", payload, "")
			require.Equal(t, http.StatusOK, code, "logout is idempotent")

			code, _ = doRequest(t, http.MethodPost, url+"/api/v1/auth/refresh", payload, "")
			require.Equal(t, http.StatusUnauthorized, code, "logged out token can't be rotated")
		})
	})

	t.Run("logout unknown token", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			code, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/logout", `{"refresh_token": "unknown"}`, "")

			require.Equal(t, http.StatusBadRequest, code)
			require.JSONEq(t, `{"error": "service_error", "message": "Invalid refresh token"}`, body)
		})
	})

	t.Run("logout all", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			_, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/register", register, "")
			first := decodeTokens(t, body)
			_, body = doRequest(t, http.MethodPost, url+"/api/v1/auth/login", login, "")
			second := decodeTokens(t, body)

			code, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/logout-all", "", second.AccessToken)
			require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
			require.JSONEq(t, `{"message": "All sessions revoked", "revoked": 2}`, body)

			for _, refresh := range []string{first.RefreshToken, second.RefreshToken} {
				code, _ = doRequest(t, http.MethodPost, url+"/api/v1/auth/refresh", `{"refresh_token": "`+refresh+`"}`, "")
				require.Equal(t, http.StatusUnauthorized, code)
			}
		})
	})

	t.Run("logout all unauthorized", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			code, _ := doRequest(t, http.MethodPost, url+"/api/v1/auth/logout-all", "", "")

			require.Equal(t, http.StatusUnauthorized, code)
		})
	})

	t.Run("user me", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			_, body := doRequest(t, http.MethodPost, url+"/api/v1/auth/register", register, "")
			tokens := decodeTokens(t, body)

			code, body := doRequest(t, http.MethodGet, url+"/api/v1/users/me", "", tokens.AccessToken)

			require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)
			require.Contains(t, body, `"email":"anna@example.com"`)
			require.Contains(t, body, `"is_active":true`)
		})
	})

	t.Run("user me bad token", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			code, _ := doRequest(t, http.MethodGet, url+"/api/v1/users/me", "", "not-a-jwt")

			require.Equal(t, http.StatusUnauthorized, code)
		})
	})

	t.Run("healthz and metrics", func(t *testing.T) {
		withTx(t, func(url string, _ *auth.SessionService) {
			code, _ := doRequest(t, http.MethodGet, url+"/healthz", "", "")
			require.Equal(t, http.StatusOK, code)

			code, body := doRequest(t, http.MethodGet, url+"/metrics", "", "")
			require.Equal(t, http.StatusOK, code)
			require.Contains(t, body, "http_requests_in_flight")
		})
	})
}
