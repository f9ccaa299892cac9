package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator names delegation parcels.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator is the default IDGenerator. Its ids sort by creation time,
// which keeps parcel ids in logs in the order the parcels were detached.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7. It panics only if the system random
// source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator hands out a fixed list of ids, for tests that assert on
// parcel ids. Safe for concurrent use.
type FixedGenerator struct {
	mu   sync.Mutex
	ids  []string
	next int
}

// NewFixedGenerator returns a generator that yields ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next id. Running out panics: the test detached more
// parcels than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next == len(g.ids) {
		panic(fmt.Sprintf("FixedGenerator: only %d ids declared", len(g.ids)))
	}
	id := g.ids[g.next]
	g.next++
	return id
}
