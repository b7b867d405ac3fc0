// Package clockid provides the time and identifier ports every other
// component is built against. Outside clockid, only the HTTP middleware
// (the rate limiter and the request logger) reads the wall clock
// directly, and nothing calls uuid.New — tests substitute FixedClock and
// a deterministic IDGenerator instead.
package clockid

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current instant. Production code uses SystemClock;
// tests use FixedClock to pin "now" for daily-claim and cooldown math.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by the wall clock.
type SystemClock struct{}

// Now returns time.Now() in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a Clock that always returns the same instant, advanced
// explicitly by tests.
type FixedClock struct {
	at time.Time
}

// NewFixedClock returns a FixedClock pinned to at.
func NewFixedClock(at time.Time) *FixedClock {
	return &FixedClock{at: at.UTC()}
}

// Now returns the pinned instant.
func (c *FixedClock) Now() time.Time { return c.at }

// Advance moves the pinned instant forward by d.
func (c *FixedClock) Advance(d time.Duration) { c.at = c.at.Add(d) }

// Set pins the clock to at.
func (c *FixedClock) Set(at time.Time) { c.at = at.UTC() }

// IDGenerator mints opaque 128-bit identifiers. Callers must not assume
// any ordering between generated IDs.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator is the production IDGenerator, backed by google/uuid.
type UUIDGenerator struct{}

// NewID returns a random UUID (v4) string.
func (UUIDGenerator) NewID() string { return uuid.NewString() }

// SequentialGenerator is a deterministic IDGenerator for tests: in call
// order it hands out name-based (SHA-1) UUIDs derived from "prefix-0",
// "prefix-1", ..., so the same prefix always yields the same sequence.
type SequentialGenerator struct {
	prefix string
	next   int
}

// NewSequentialGenerator returns a SequentialGenerator with the given prefix.
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	return &SequentialGenerator{prefix: prefix}
}

// NewID returns the next id in sequence.
func (g *SequentialGenerator) NewID() string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(g.prefix+"-"+strconv.Itoa(g.next)))
	g.next++
	return id.String()
}
