package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
	"github.com/ducminhle1904/crypto-oms/internal/state/statetest"
)

func TestFileStore(t *testing.T) {
	statetest.Run(t, func(t *testing.T, dir string) statetest.Store {
		s, err := NewFileStore(filepath.Join(dir, "orders.json"), nil)
		require.NoError(t, err)
		return s
	})
}

func TestFileStoreWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "orders.json"), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.PersistOrder(ctx, statetest.Order("o-1", oms.StatusAck, 1)))
	require.NoError(t, s.PersistOrder(ctx, statetest.Order("o-2", oms.StatusAck, 2)))

	_, err = os.Stat(s.Path())
	require.NoError(t, err)
	_, err = os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "orders_backup.json"))
	assert.NoError(t, err)
}

func TestFileStoreFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "orders.json"), nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.PersistOrder(ctx, statetest.Order("o-1", oms.StatusAck, 1)))
	require.NoError(t, s.PersistOrder(ctx, statetest.Order("o-2", oms.StatusAck, 2)))

	// backup holds o-1 only
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0644))

	reopened, err := NewFileStore(filepath.Join(dir, "orders.json"), nil)
	require.NoError(t, err)
	orders, err := reopened.LoadOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o-1", orders[0].ID)
}

func TestFileStoreRejectsCorruptStateWithoutBackup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.json"), []byte("{not json"), 0644))

	_, err := NewFileStore(filepath.Join(dir, "orders.json"), nil)
	assert.Error(t, err)
}

func TestFileStoreRequiresOrderID(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "orders.json"), nil)
	require.NoError(t, err)

	err = s.PersistOrder(context.Background(), oms.Order{})
	assert.Error(t, err)

	orders, err := s.LoadAllOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestOpenSelectsDriver(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.StoreConfig
		wantErr bool
	}{
		{"file", config.StoreConfig{Driver: config.StoreFile, Path: filepath.Join(dir, "orders.json")}, false},
		{"sqlite", config.StoreConfig{Driver: config.StoreSQLite, Path: filepath.Join(dir, "orders.db")}, false},
		{"postgres without dsn", config.StoreConfig{Driver: config.StorePostgres}, true},
		{"unknown", config.StoreConfig{Driver: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()
			require.NoError(t, s.PersistOrder(context.Background(), statetest.Order("o-1", oms.StatusAck, 1)))
			orders, err := s.LoadOpenOrders(context.Background())
			require.NoError(t, err)
			assert.Len(t, orders, 1)
		})
	}
}
