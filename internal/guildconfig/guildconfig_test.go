package guildconfig

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMultiplierFor_DefaultTiers(t *testing.T) {
	cfg := defaultConfig("guild-1", time.Now())

	cases := []struct {
		streak int
		want   int
	}{
		{0, 1},
		{1, 1},
		{7, 1},
		{8, 2},
		{15, 2},
		{16, 4},
		{31, 4},
		{32, 8},
		{63, 8},
		{64, 16},
		{100, 16},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, cfg.MultiplierFor(c.streak), "streak %d", c.streak)
	}
}

func TestMultiplierFor_EmptyTiersAlwaysOne(t *testing.T) {
	cfg := &Config{StreakBonuses: map[int]int{}}
	assert.Equal(t, 1, cfg.MultiplierFor(1000))
}

func TestStringifyKeysRoundTrip(t *testing.T) {
	bonuses := map[int]int{8: 2, 16: 4, 32: 8}
	strs := stringifyKeys(bonuses)

	restored := map[int]int{}
	for k, v := range strs {
		n, err := strconv.Atoi(k)
		assert.NoError(t, err)
		restored[n] = v
	}

	assert.Equal(t, bonuses, restored)
}

func TestDefaultConfig_CampaignActiveStartsFalse(t *testing.T) {
	cfg := defaultConfig("guild-1", time.Now())
	assert.False(t, cfg.CampaignActive)
}
