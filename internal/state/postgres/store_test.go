package postgres

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-oms/internal/state/statetest"
)

const dsnEnv = "OMS_TEST_POSTGRES_DSN"

func TestStore(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	// each dir gets a clean table on first open
	seen := map[string]bool{}
	statetest.Run(t, func(t *testing.T, dir string) statetest.Store {
		s, err := New(Option{DSN: dsn})
		require.NoError(t, err)
		if !seen[dir] {
			require.NoError(t, s.DB().Exec("TRUNCATE TABLE oms_orders").Error)
			seen[dir] = true
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(Option{})
	assert.Error(t, err)
}
