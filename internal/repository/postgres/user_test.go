package postgres

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/schoolagenda/internal/apperrors"
	"github.com/nkiryanov/schoolagenda/internal/testutil"
)

func Test_UserRepo(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("create user ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}

			user, err := repo.CreateUser(t.Context(), "anna@example.com", "Anna", "hashed")

			require.NoError(t, err)
			require.NotEqual(t, uuid.Nil, user.ID, "id has to be generated")
			require.Equal(t, "anna@example.com", user.Email)
			require.Equal(t, "Anna", user.Name)
			require.Equal(t, "hashed", user.HashedPassword)
			require.True(t, user.IsActive, "new user must be active")
			require.False(t, user.CreatedAt.IsZero())
		})
	})

	t.Run("fail if email taken", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}
			_, err := repo.CreateUser(t.Context(), "anna@example.com", "Anna", "hashed")
			require.NoError(t, err)

			_, err = repo.CreateUser(t.Context(), "anna@example.com", "Other Anna", "other")

			require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
		})
	})

	t.Run("get user by id and email", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}
			created, err := repo.CreateUser(t.Context(), "anna@example.com", "Anna", "hashed")
			require.NoError(t, err)

			byID, err := repo.GetUserByID(t.Context(), created.ID)
			require.NoError(t, err)
			require.Equal(t, created, byID)

			byEmail, err := repo.GetUserByEmail(t.Context(), "anna@example.com")
			require.NoError(t, err)
			require.Equal(t, created, byEmail)
		})
	})

	t.Run("get not existed user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}

			_, err := repo.GetUserByID(t.Context(), uuid.New())
			require.ErrorIs(t, err, apperrors.ErrUserNotFound)

			_, err = repo.GetUserByEmail(t.Context(), "nobody@example.com")
			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})

	t.Run("set active", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := UserRepo{DB: tx}
			created, err := repo.CreateUser(t.Context(), "anna@example.com", "Anna", "hashed")
			require.NoError(t, err)

			updated, err := repo.SetActive(t.Context(), created.ID, false)

			require.NoError(t, err)
			require.False(t, updated.IsActive)

			_, err = repo.SetActive(t.Context(), uuid.New(), false)
			require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})
}
