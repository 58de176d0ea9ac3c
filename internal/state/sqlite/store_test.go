package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-oms/internal/state/statetest"
)

func TestStore(t *testing.T) {
	statetest.Run(t, func(t *testing.T, dir string) statetest.Store {
		s, err := New(filepath.Join(dir, "oms.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSchemaCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oms.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = 'orders'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "orders", name)
}
