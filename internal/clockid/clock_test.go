package clockid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	clock := NewFixedClock(start)

	assert.True(t, clock.Now().Equal(start))

	clock.Advance(24 * time.Hour)
	assert.True(t, clock.Now().Equal(start.Add(24*time.Hour)))

	other := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	clock.Set(other)
	assert.True(t, clock.Now().Equal(other))
}

func TestFixedClock_NormalizesToUTC(t *testing.T) {
	est, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	clock := NewFixedClock(time.Date(2026, 1, 15, 8, 0, 0, 0, est))
	assert.Equal(t, time.UTC, clock.Now().Location())
}

func TestSequentialGenerator_DeterministicAndUnique(t *testing.T) {
	gen := NewSequentialGenerator("test")

	first := gen.NewID()
	second := gen.NewID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)

	replay := NewSequentialGenerator("test")
	assert.Equal(t, first, replay.NewID())
	assert.Equal(t, second, replay.NewID())
}

func TestSequentialGenerator_DifferentPrefixesDiverge(t *testing.T) {
	a := NewSequentialGenerator("giver")
	b := NewSequentialGenerator("receiver")

	assert.NotEqual(t, a.NewID(), b.NewID())
}
