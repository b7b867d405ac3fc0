// Package activity owns the append-only SquadActivity log and the
// health/engagement analytics derived from it.
package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/smarter-guild/bytes-core/internal/apierr"
	"github.com/smarter-guild/bytes-core/internal/clockid"
	"github.com/smarter-guild/bytes-core/internal/store"
)

// Activity is the SquadActivity entity.
type Activity struct {
	ID           string
	GuildID      string
	UserID       string
	SquadID      *string
	ActivityType string
	Metadata     map[string]any
	CreatedAt    time.Time
}

var positiveTypes = map[string]bool{
	"squad_join": true, "message_sent": true, "event_participated": true, "role_assigned": true,
}
var negativeTypes = map[string]bool{
	"squad_leave": true, "user_timeout": true, "warning_issued": true,
}

// Trend describes the direction of activity volume across a window.
type Trend struct {
	GrowthRate float64
	Direction  string // "up", "down", "flat"
}

// Pattern is an hour-of-day or day-of-week activity histogram.
type Pattern struct {
	Kind    string // "daily" or "weekly"
	Buckets map[int]int
	Peaks   []int
}

// Activities implements the append-only log and the analytics reads
// over it, with a 5-minute TTL cache keyed by (squad, window, kind).
type Activities struct {
	store *store.Store
	clock clockid.Clock
	ids   clockid.IDGenerator

	mu    sync.Mutex
	cache map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// New constructs an Activities component.
func New(st *store.Store, clock clockid.Clock, ids clockid.IDGenerator) *Activities {
	return &Activities{
		store: st,
		clock: clock,
		ids:   ids,
		cache: make(map[string]cacheEntry),
		ttl:   5 * time.Minute,
	}
}

// Append records one activity row inside tx, so it commits atomically
// with whatever mutation caused it. Components other than Activities
// (Ledger, Squads) call this directly rather than going through a
// separate transaction.
func Append(ctx context.Context, tx *sql.Tx, ids clockid.IDGenerator, guildID, userID string, squadID *string, activityType string, metadata map[string]any, now time.Time) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return apierr.Wrap(err, "marshal activity metadata")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO squad_activities (id, guild_id, user_id, squad_id, activity_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ids.NewID(), guildID, userID, squadID, activityType, raw, now)
	return err
}

// CreateOne appends a single activity outside of any other mutation's
// transaction (used by the "create activity" API endpoint).
func (a *Activities) CreateOne(ctx context.Context, guildID, userID string, squadID *string, activityType string, metadata map[string]any) error {
	if len(activityType) < 1 {
		return apierr.New(apierr.KindValidation, "activity_type must not be empty").WithField("activity_type")
	}
	now := a.clock.Now()
	return a.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := Append(ctx, tx, a.ids, guildID, userID, squadID, activityType, metadata, now); err != nil {
			return err
		}
		if squadID != nil {
			a.invalidate(guildID, *squadID)
		}
		return nil
	})
}

// CreateBulk appends up to 100 activities in one transaction.
func (a *Activities) CreateBulk(ctx context.Context, guildID string, items []struct {
	UserID       string
	SquadID      *string
	ActivityType string
	Metadata     map[string]any
}) error {
	if len(items) == 0 || len(items) > 100 {
		return apierr.New(apierr.KindValidation, "bulk activity batch must contain 1-100 items").WithField("items")
	}
	now := a.clock.Now()
	touched := map[string]bool{}
	err := a.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, it := range items {
			if len(it.ActivityType) < 1 {
				return apierr.New(apierr.KindValidation, "activity_type must not be empty").WithField("activity_type")
			}
			if err := Append(ctx, tx, a.ids, guildID, it.UserID, it.SquadID, it.ActivityType, it.Metadata, now); err != nil {
				return err
			}
			if it.SquadID != nil {
				touched[*it.SquadID] = true
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for sid := range touched {
		a.invalidate(guildID, sid)
	}
	return nil
}

// ListGuildActivities returns recent activities for a guild, optionally
// filtered by activity_type, most recent first.
func (a *Activities) ListGuildActivities(ctx context.Context, guildID, activityType string, limit, offset int) ([]Activity, error) {
	var rows *sql.Rows
	var err error
	if activityType == "" {
		rows, err = a.store.DB().QueryContext(ctx, `
			SELECT id, guild_id, user_id, squad_id, activity_type, metadata, created_at
			FROM squad_activities WHERE guild_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, guildID, limit, offset)
	} else {
		rows, err = a.store.DB().QueryContext(ctx, `
			SELECT id, guild_id, user_id, squad_id, activity_type, metadata, created_at
			FROM squad_activities WHERE guild_id = $1 AND activity_type = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			guildID, activityType, limit, offset)
	}
	if err != nil {
		return nil, apierr.Wrap(err, "list guild activities")
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ListSquadActivities returns recent activities for one squad.
func (a *Activities) ListSquadActivities(ctx context.Context, squadID string, limit, offset int) ([]Activity, error) {
	rows, err := a.store.DB().QueryContext(ctx, `
		SELECT id, guild_id, user_id, squad_id, activity_type, metadata, created_at
		FROM squad_activities WHERE squad_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, squadID, limit, offset)
	if err != nil {
		return nil, apierr.Wrap(err, "list squad activities")
	}
	defer rows.Close()
	return scanActivities(rows)
}

func scanActivities(rows *sql.Rows) ([]Activity, error) {
	var out []Activity
	for rows.Next() {
		var act Activity
		var raw []byte
		var squadID sql.NullString
		if err := rows.Scan(&act.ID, &act.GuildID, &act.UserID, &squadID, &act.ActivityType, &raw, &act.CreatedAt); err != nil {
			return nil, apierr.Wrap(err, "scan activity")
		}
		if squadID.Valid {
			id := squadID.String
			act.SquadID = &id
		}
		_ = json.Unmarshal(raw, &act.Metadata)
		out = append(out, act)
	}
	return out, rows.Err()
}

func (a *Activities) fetchDaily(ctx context.Context, squadID string, since time.Time) ([]Activity, error) {
	rows, err := a.store.DB().QueryContext(ctx, `
		SELECT id, guild_id, user_id, squad_id, activity_type, metadata, created_at
		FROM squad_activities WHERE squad_id = $1 AND created_at >= $2 ORDER BY created_at ASC`, squadID, since)
	if err != nil {
		return nil, apierr.Wrap(err, "fetch squad activities window")
	}
	defer rows.Close()
	return scanActivities(rows)
}

func (a *Activities) cacheKey(squadID, kind string, days int) string {
	return squadID + "|" + kind + "|" + strconv.Itoa(days)
}

func (a *Activities) fromCache(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.cache[key]
	if !ok || a.clock.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (a *Activities) putCache(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[key] = cacheEntry{value: value, expiresAt: a.clock.Now().Add(a.ttl)}
}

// Invalidate drops every cached analytics entry for squadID, regardless
// of window/kind. Exported so Squads can wire it as a CacheInvalidator.
func (a *Activities) Invalidate(guildID, squadID string) {
	a.invalidate(guildID, squadID)
}

// invalidate drops every cached entry for squadID, regardless of window/kind.
func (a *Activities) invalidate(guildID, squadID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.cache {
		if hasPrefix(k, squadID+"|") {
			delete(a.cache, k)
		}
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// HealthScore computes the squad's health score over the trailing `days`.
func (a *Activities) HealthScore(ctx context.Context, squadID string, days int) (float64, error) {
	key := a.cacheKey(squadID, "health", days)
	if v, ok := a.fromCache(key); ok {
		return v.(float64), nil
	}

	acts, err := a.fetchDaily(ctx, squadID, a.clock.Now().AddDate(0, 0, -days))
	if err != nil {
		return 0, err
	}

	score := computeHealthScore(acts, days)
	a.putCache(key, score)
	return score, nil
}

func computeHealthScore(acts []Activity, days int) float64 {
	if len(acts) == 0 {
		return 0.0
	}

	perDay := bucketByDay(acts)
	activitiesPerDay := float64(len(acts)) / float64(days)
	activityFrequency := math.Min(1, activitiesPerDay/2)

	users := map[string]bool{}
	var positive, negative int
	for _, a := range acts {
		users[a.UserID] = true
		if positiveTypes[a.ActivityType] {
			positive++
		} else if negativeTypes[a.ActivityType] {
			negative++
		}
	}
	memberDiversity := math.Min(1, float64(len(users))/5)

	quality := 0.5
	if positive+negative > 0 {
		quality = float64(positive) / float64(positive+negative)
	}

	consistency := 0.0
	if len(perDay) >= 2 {
		consistency = 1 - math.Min(1, coefOfVariation(perDay))
	}

	return activityFrequency*0.30 + memberDiversity*0.25 + quality*0.25 + consistency*0.20
}

// EngagementScore computes the squad's engagement score over the
// trailing `days` (default window is shorter than HealthScore's).
func (a *Activities) EngagementScore(ctx context.Context, squadID string, days int) (float64, error) {
	key := a.cacheKey(squadID, "engagement", days)
	if v, ok := a.fromCache(key); ok {
		return v.(float64), nil
	}

	acts, err := a.fetchDaily(ctx, squadID, a.clock.Now().AddDate(0, 0, -days))
	if err != nil {
		return 0, err
	}

	score := computeEngagementScore(acts, days, a.clock.Now())
	a.putCache(key, score)
	return score, nil
}

func computeEngagementScore(acts []Activity, days int, now time.Time) float64 {
	if len(acts) == 0 {
		return 0.0
	}

	activitiesPerDay := float64(len(acts)) / float64(days)
	volume := math.Min(1, activitiesPerDay/2)

	users := map[string]bool{}
	var positive, negative int
	var recencySum float64
	for _, a := range acts {
		users[a.UserID] = true
		if positiveTypes[a.ActivityType] {
			positive++
		} else if negativeTypes[a.ActivityType] {
			negative++
		}
		age := now.Sub(a.CreatedAt).Hours() / 24
		recencySum += math.Max(0, 1-age/float64(days))
	}
	diversity := math.Min(1, float64(len(users))/5)
	quality := 0.5
	if positive+negative > 0 {
		quality = float64(positive) / float64(positive+negative)
	}
	recency := recencySum / float64(len(acts))

	return volume*0.30 + diversity*0.30 + recency*0.20 + quality*0.20
}

// Trends computes the growth rate/direction over the trailing `days`,
// comparing the first half of the window to the second half.
func (a *Activities) Trends(ctx context.Context, squadID string, days int) (*Trend, error) {
	key := a.cacheKey(squadID, "trends", days)
	if v, ok := a.fromCache(key); ok {
		t := v.(Trend)
		return &t, nil
	}

	acts, err := a.fetchDaily(ctx, squadID, a.clock.Now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}

	mid := a.clock.Now().AddDate(0, 0, -days/2)
	var firstHalf, secondHalf int
	for _, act := range acts {
		if act.CreatedAt.Before(mid) {
			firstHalf++
		} else {
			secondHalf++
		}
	}
	halfDays := float64(days) / 2
	avg1 := float64(firstHalf) / halfDays
	avg2 := float64(secondHalf) / halfDays

	growth := 0.0
	if math.Max(avg1, 1) != 0 {
		growth = (avg2 - avg1) / math.Max(avg1, 1)
	}
	direction := "flat"
	if growth > 0.1 {
		direction = "up"
	} else if growth < -0.1 {
		direction = "down"
	}

	trend := Trend{GrowthRate: growth, Direction: direction}
	a.putCache(key, trend)
	return &trend, nil
}

// Patterns buckets activity by hour-of-day (kind="daily") or
// day-of-week (kind="weekly") over a 30-day lookback window.
func (a *Activities) Patterns(ctx context.Context, squadID, kind string) (*Pattern, error) {
	key := a.cacheKey(squadID, "patterns:"+kind, 30)
	if v, ok := a.fromCache(key); ok {
		p := v.(Pattern)
		return &p, nil
	}

	acts, err := a.fetchDaily(ctx, squadID, a.clock.Now().AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}

	buckets := map[int]int{}
	for _, act := range acts {
		var bucket int
		if kind == "weekly" {
			bucket = int(act.CreatedAt.Weekday())
		} else {
			bucket = act.CreatedAt.Hour()
		}
		buckets[bucket]++
	}

	pattern := Pattern{Kind: kind, Buckets: buckets, Peaks: peakBuckets(buckets)}
	a.putCache(key, pattern)
	return &pattern, nil
}

func peakBuckets(buckets map[int]int) []int {
	max := 0
	for _, v := range buckets {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return nil
	}
	var peaks []int
	for k, v := range buckets {
		if v == max {
			peaks = append(peaks, k)
		}
	}
	sort.Ints(peaks)
	return peaks
}

func bucketByDay(acts []Activity) map[string]int {
	out := map[string]int{}
	for _, a := range acts {
		day := a.CreatedAt.Format("2006-01-02")
		out[day]++
	}
	return out
}

func coefOfVariation(perDay map[string]int) float64 {
	n := float64(len(perDay))
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range perDay {
		sum += float64(v)
	}
	mean := sum / n
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, v := range perDay {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= n
	stddev := math.Sqrt(variance)
	return stddev / mean
}
