package postgres_test

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/agentmon/internal/apperrors"
	"github.com/nkiryanov/agentmon/internal/storage/postgres"
	"github.com/nkiryanov/agentmon/internal/testutil"
)

func TestStore(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("get missing", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := postgres.NewWithDB(tx, "")

			_, err := s.Get(t.Context(), "access_token")

			require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
		})
	})

	t.Run("set overwrites", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := postgres.NewWithDB(tx, "")
			require.NoError(t, s.Set(t.Context(), "access_token", "A1"))
			require.NoError(t, s.Set(t.Context(), "access_token", "A2"))

			value, err := s.Get(t.Context(), "access_token")

			require.NoError(t, err)
			require.Equal(t, "A2", value, "last write must win")
		})
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			first := postgres.NewWithDB(tx, "agent-1")
			second := postgres.NewWithDB(tx, "agent-2")
			require.NoError(t, first.Set(t.Context(), "refresh_token", "R1"))

			_, err := second.Get(t.Context(), "refresh_token")

			require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
		})
	})

	t.Run("delete", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := postgres.NewWithDB(tx, "")
			require.NoError(t, s.Set(t.Context(), "access_token", "A1"))
			require.NoError(t, s.Set(t.Context(), "refresh_token", "R1"))

			require.NoError(t, s.Delete(t.Context(), "access_token", "refresh_token"))

			_, err := s.Get(t.Context(), "access_token")
			require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
			_, err = s.Get(t.Context(), "refresh_token")
			require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
		})
	})

	t.Run("New connects and migrates", func(t *testing.T) {
		s, err := postgres.New(t.Context(), pg.DSN, "connect-test")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })

		require.NoError(t, s.Set(t.Context(), "access_token", "A1"))
		require.NoError(t, s.Delete(t.Context(), "access_token"))
	})
}
