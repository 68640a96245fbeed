package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/agentmon/internal/apperrors"
)

func TestMemory(t *testing.T) {
	t.Run("get missing", func(t *testing.T) {
		m := NewMemory()

		_, err := m.Get(t.Context(), "access_token")

		require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	})

	t.Run("set get delete", func(t *testing.T) {
		m := NewMemory()

		require.NoError(t, m.Set(t.Context(), "access_token", "A1"))
		value, err := m.Get(t.Context(), "access_token")
		require.NoError(t, err)
		require.Equal(t, "A1", value)

		require.NoError(t, m.Delete(t.Context(), "access_token", "refresh_token"), "missing keys must not fail delete")
		_, err = m.Get(t.Context(), "access_token")
		require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
	})
}
