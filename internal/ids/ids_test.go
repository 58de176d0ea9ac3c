package ids

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderIDsAreMonotonic(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	gen := NewSeeded(42, func() time.Time { return fixed })

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = gen.OrderID()
	}

	assert.True(t, sort.StringsAreSorted(ids), "ids within one millisecond must stay sorted")
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
		assert.Len(t, id, 26)
	}
}

func TestRandomIsUUID(t *testing.T) {
	_, err := uuid.Parse(Random())
	assert.NoError(t, err)
}
