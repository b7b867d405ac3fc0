package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateOnly_StripsTimeOfDay(t *testing.T) {
	in := time.Date(2026, 3, 15, 23, 59, 59, 999, time.UTC)
	out := dateOnly(in)

	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), out)
}

func TestStartOfNextDay_CrossesMonthBoundary(t *testing.T) {
	day := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	next := startOfNextDay(day, time.UTC)

	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), next)
}

func TestStartOfNextDay_UsesGivenZone(t *testing.T) {
	zone, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	next := startOfNextDay(day, zone)

	assert.Equal(t, zone, next.Location())
	assert.Equal(t, 16, next.Day())
}

func TestDailyRewardReason_NoMultiplier(t *testing.T) {
	assert.Equal(t, "Daily reward (Day 1)", dailyRewardReason(1, 1))
}

func TestDailyRewardReason_WithMultiplier(t *testing.T) {
	assert.Equal(t, "Daily reward (Day 8, 2x multiplier)", dailyRewardReason(8, 2))
}

func TestBalanceKey_DistinguishesGuildAndUser(t *testing.T) {
	assert.NotEqual(t, balanceKey("guild-1", "user-1"), balanceKey("guild-1", "user-2"))
	assert.NotEqual(t, balanceKey("guild-1", "user-1"), balanceKey("guild-2", "user-1"))
	assert.Equal(t, "guild-1:user-1", balanceKey("guild-1", "user-1"))
}
