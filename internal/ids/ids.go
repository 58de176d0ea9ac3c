package ids

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator issues order identifiers. ULIDs sort by creation time, which keeps
// store indexes and blotter exports in submission order.
type Generator struct {
	mu    sync.Mutex
	mono  io.Reader
	clock func() time.Time
}

// NewGenerator returns a generator seeded from crypto/rand
func NewGenerator() *Generator {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return NewSeeded(seed, time.Now)
}

// NewSeeded returns a deterministic generator, used by tests and the paper venue
func NewSeeded(seed int64, clock func() time.Time) *Generator {
	return &Generator{
		mono:  ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		clock: clock,
	}
}

// OrderID returns a new monotonic ULID string
func (g *Generator) OrderID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.clock().UTC()), g.mono)
	if err != nil {
		// only if the clock goes backwards past the ulid epoch or entropy overflows
		panic(err)
	}
	return id.String()
}

// Random returns a random UUID string for venue-side and fill identifiers
func Random() string {
	return uuid.NewString()
}
