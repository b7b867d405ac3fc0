// Package guildconfig owns the per-guild economy configuration: the
// starting balance, caps, cooldowns, streak tiers, and role rewards
// that parameterize the ledger and squads components. Config is loaded
// lazily (with defaults) on first access and cached for 30 seconds,
// invalidated explicitly on update.
package guildconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/smarter-guild/bytes-core/internal/apierr"
	"github.com/smarter-guild/bytes-core/internal/cache"
	"github.com/smarter-guild/bytes-core/internal/clockid"
)

// invalidationChannel is the Redis pub/sub channel guild config updates
// broadcast on, so sibling replicas drop their stale cache entry instead
// of serving it for up to ttl after an admin update.
const invalidationChannel = "bytes_core:guildconfig:invalidate"

// Config is the GuildConfig entity from the data model.
type Config struct {
	GuildID               string
	StartingBalance       int64
	DailyAmount           int64
	MaxTransfer           int64
	TransferCooldownHours int
	// StreakBonuses maps a streak-day threshold to its reward multiplier.
	StreakBonuses map[int]int
	// RoleRewards maps an external role id to the bytes threshold that unlocks it.
	RoleRewards map[string]int64
	// CampaignActive gates squad-switching lockout: while true, members
	// already in a non-default squad cannot switch squads.
	CampaignActive bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Patch describes a partial update to Config; nil fields are left unchanged.
type Patch struct {
	StartingBalance       *int64
	DailyAmount           *int64
	MaxTransfer           *int64
	TransferCooldownHours *int
	StreakBonuses         map[int]int
	RoleRewards           map[string]int64
	CampaignActive        *bool
}

func defaultConfig(guildID string, now time.Time) *Config {
	return &Config{
		GuildID:               guildID,
		StartingBalance:       100,
		DailyAmount:           10,
		MaxTransfer:           1000,
		TransferCooldownHours: 0,
		StreakBonuses:         map[int]int{8: 2, 16: 4, 32: 8, 64: 16},
		RoleRewards:           map[string]int64{},
		CampaignActive:        false,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// CampaignActiveFor reports whether guildID currently has an active
// switch-lockout campaign, satisfying squads.CampaignLockCheck.
func (s *Store) CampaignActiveFor(ctx context.Context, guildID string) (bool, error) {
	cfg, err := s.Get(ctx, guildID)
	if err != nil {
		return false, err
	}
	return cfg.CampaignActive, nil
}

// MultiplierFor returns the reward multiplier for a given streak count:
// the value at the largest tier key ≤ streak, or 1 if none applies.
func (c *Config) MultiplierFor(streak int) int {
	keys := make([]int, 0, len(c.StreakBonuses))
	for k := range c.StreakBonuses {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	mult := 1
	for _, k := range keys {
		if k <= streak {
			mult = c.StreakBonuses[k]
		} else {
			break
		}
	}
	return mult
}

type cacheEntry struct {
	cfg       *Config
	expiresAt time.Time
}

// Store loads, caches (per guild, for ttl) and updates guild configs,
// backed by internal/store's *sql.DB pool.
type Store struct {
	mu    sync.RWMutex
	cache map[string]cacheEntry
	db    *sql.DB
	clock clockid.Clock
	ttl   time.Duration
	pub   *cache.Client
}

// New returns a guildconfig Store backed by db, with a 30-second cache TTL.
func New(db *sql.DB, clock clockid.Clock) *Store {
	return &Store{
		cache: make(map[string]cacheEntry),
		db:    db,
		clock: clock,
		ttl:   30 * time.Second,
	}
}

// WithInvalidation attaches a Redis client used to broadcast cache
// invalidation to sibling replicas, and returns the Store for chaining.
// A nil client (no REDIS_URL configured) leaves the Store on TTL-only
// invalidation.
func (s *Store) WithInvalidation(c *cache.Client) *Store {
	s.pub = c
	return s
}

// ListenForInvalidation subscribes to the invalidation channel until ctx
// is cancelled, dropping the local cache entry for any guild a sibling
// replica reports as updated. Safe to run as a long-lived goroutine.
func (s *Store) ListenForInvalidation(ctx context.Context) {
	if s.pub == nil {
		return
	}
	s.pub.Subscribe(ctx, invalidationChannel, func(guildID string) {
		s.invalidate(guildID)
	})
}

// Get returns the config for guildID, creating a default row on first access.
func (s *Store) Get(ctx context.Context, guildID string) (*Config, error) {
	if cfg, ok := s.fromCache(guildID); ok {
		return cfg, nil
	}

	cfg, err := s.load(ctx, guildID)
	if err != nil {
		return nil, err
	}

	s.put(guildID, cfg)
	return cfg, nil
}

func (s *Store) fromCache(guildID string) (*Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[guildID]
	if !ok || s.clock.Now().After(entry.expiresAt) {
		return nil, false
	}
	snapshot := *entry.cfg
	return &snapshot, true
}

func (s *Store) put(guildID string, cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[guildID] = cacheEntry{cfg: cfg, expiresAt: s.clock.Now().Add(s.ttl)}
}

func (s *Store) invalidate(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, guildID)
}

func (s *Store) load(ctx context.Context, guildID string) (*Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT guild_id, starting_balance, daily_amount, max_transfer, transfer_cooldown_hours,
		       streak_bonuses, role_rewards, campaign_active, created_at, updated_at
		FROM guild_configs WHERE guild_id = $1`, guildID)

	var (
		cfg        Config
		bonusesRaw []byte
		rewardsRaw []byte
	)
	err := row.Scan(&cfg.GuildID, &cfg.StartingBalance, &cfg.DailyAmount, &cfg.MaxTransfer,
		&cfg.TransferCooldownHours, &bonusesRaw, &rewardsRaw, &cfg.CampaignActive, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.createDefault(ctx, guildID)
	}
	if err != nil {
		return nil, apierr.Wrap(err, "load guild config")
	}

	strBonuses := map[string]int{}
	if err := json.Unmarshal(bonusesRaw, &strBonuses); err != nil {
		return nil, apierr.Wrap(err, "decode streak bonuses")
	}
	cfg.StreakBonuses = map[int]int{}
	for k, v := range strBonuses {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, apierr.Wrap(err, "decode streak bonus key")
		}
		cfg.StreakBonuses[n] = v
	}

	if err := json.Unmarshal(rewardsRaw, &cfg.RoleRewards); err != nil {
		return nil, apierr.Wrap(err, "decode role rewards")
	}

	return &cfg, nil
}

func (s *Store) createDefault(ctx context.Context, guildID string) (*Config, error) {
	cfg := defaultConfig(guildID, s.clock.Now())
	bonusesRaw, _ := json.Marshal(stringifyKeys(cfg.StreakBonuses))
	rewardsRaw, _ := json.Marshal(cfg.RoleRewards)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_configs (guild_id, starting_balance, daily_amount, max_transfer,
		                           transfer_cooldown_hours, streak_bonuses, role_rewards, campaign_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (guild_id) DO NOTHING`,
		cfg.GuildID, cfg.StartingBalance, cfg.DailyAmount, cfg.MaxTransfer,
		cfg.TransferCooldownHours, bonusesRaw, rewardsRaw, cfg.CampaignActive, cfg.CreatedAt)
	if err != nil {
		return nil, apierr.Wrap(err, "create default guild config")
	}

	return s.load(ctx, guildID)
}

// Update applies patch to guildID's config, validating bounds before
// persisting, and invalidates the cache entry.
func (s *Store) Update(ctx context.Context, guildID string, patch Patch) (*Config, error) {
	cfg, err := s.load(ctx, guildID)
	if err != nil {
		return nil, err
	}

	if patch.StartingBalance != nil {
		if *patch.StartingBalance < 0 {
			return nil, apierr.New(apierr.KindValidation, "starting_balance must be >= 0").WithField("starting_balance")
		}
		cfg.StartingBalance = *patch.StartingBalance
	}
	if patch.DailyAmount != nil {
		if *patch.DailyAmount < 1 {
			return nil, apierr.New(apierr.KindValidation, "daily_amount must be >= 1").WithField("daily_amount")
		}
		cfg.DailyAmount = *patch.DailyAmount
	}
	if patch.MaxTransfer != nil {
		if *patch.MaxTransfer < 1 {
			return nil, apierr.New(apierr.KindValidation, "max_transfer must be >= 1").WithField("max_transfer")
		}
		cfg.MaxTransfer = *patch.MaxTransfer
	}
	if patch.TransferCooldownHours != nil {
		if *patch.TransferCooldownHours < 0 || *patch.TransferCooldownHours > 72 {
			return nil, apierr.New(apierr.KindValidation, "transfer_cooldown_hours must be in [0, 72]").WithField("transfer_cooldown_hours")
		}
		cfg.TransferCooldownHours = *patch.TransferCooldownHours
	}
	if patch.StreakBonuses != nil {
		for k, v := range patch.StreakBonuses {
			if k <= 0 || v <= 0 {
				return nil, apierr.New(apierr.KindValidation, "streak bonus keys and values must be positive integers").WithField("streak_bonuses")
			}
		}
		cfg.StreakBonuses = patch.StreakBonuses
	}
	if patch.RoleRewards != nil {
		cfg.RoleRewards = patch.RoleRewards
	}
	if patch.CampaignActive != nil {
		cfg.CampaignActive = *patch.CampaignActive
	}

	bonusesRaw, _ := json.Marshal(stringifyKeys(cfg.StreakBonuses))
	rewardsRaw, _ := json.Marshal(cfg.RoleRewards)
	now := s.clock.Now()

	_, err = s.db.ExecContext(ctx, `
		UPDATE guild_configs SET starting_balance=$2, daily_amount=$3, max_transfer=$4,
		       transfer_cooldown_hours=$5, streak_bonuses=$6, role_rewards=$7, campaign_active=$8, updated_at=$9
		WHERE guild_id=$1`,
		guildID, cfg.StartingBalance, cfg.DailyAmount, cfg.MaxTransfer,
		cfg.TransferCooldownHours, bonusesRaw, rewardsRaw, cfg.CampaignActive, now)
	if err != nil {
		return nil, apierr.Wrap(err, "update guild config")
	}
	cfg.UpdatedAt = now

	s.invalidate(guildID)
	s.put(guildID, cfg)
	if s.pub != nil {
		_ = s.pub.Publish(ctx, invalidationChannel, guildID)
	}
	return cfg, nil
}

func stringifyKeys(m map[int]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[strconv.Itoa(k)] = v
	}
	return out
}
