// Package announce implements the beacon: a user-authored, role-
// mentioning announcement relayed through a channel webhook, subject
// to a 12-hour per-user cooldown.
package announce

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smarter-guild/bytes-core/internal/apierr"
	"github.com/smarter-guild/bytes-core/internal/clockid"
	"github.com/smarter-guild/bytes-core/internal/store"
)

const cooldown = 12 * time.Hour

// defaultMaxBodyLen is the downstream channel message size limit this
// core enforces before role-mention length is added, per spec.md §4.5.
const defaultMaxBodyLen = 1800

// Identity is the user's display identity used for the impersonating
// webhook post; both fields are opaque to this package.
type Identity struct {
	Name      string
	AvatarURL string
}

// Webhook is the outbound delivery port. The core never opens gateway
// sockets directly; it delegates delivery through this interface,
// which mirrors the gateway teacher's provider port shape cut down to
// the one capability this domain needs.
type Webhook interface {
	// Send posts content to channelID impersonating identity. Send
	// returns ErrInvalidWebhook when the downstream signals the
	// webhook handle is gone (404/410-equivalent), so the cache entry
	// for channelID can be evicted.
	Send(ctx context.Context, channelID string, identity Identity, content string) error
}

// ErrInvalidWebhook signals that the webhook handle for a channel is no
// longer valid and should be evicted from the cache.
var ErrInvalidWebhook = errors.New("webhook handle invalid or not found")

// Ack is returned on a successfully dispatched beacon.
type Ack struct {
	Delivered bool
}

// Announce implements send_beacon.
type Announce struct {
	store   *store.Store
	clock   clockid.Clock
	webhook Webhook
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]struct{} // channel_id -> present means "known good handle"
}

// New constructs an Announce component. webhookTimeout bounds the
// single outbound dispatch call (default 3s per spec.md §5).
func New(st *store.Store, clock clockid.Clock, webhook Webhook, webhookTimeout time.Duration) *Announce {
	if webhookTimeout <= 0 {
		webhookTimeout = 3 * time.Second
	}
	return &Announce{
		store:   st,
		clock:   clock,
		webhook: webhook,
		timeout: webhookTimeout,
		cache:   make(map[string]struct{}),
	}
}

// SendBeacon dispatches body to channelID on behalf of userID, subject
// to the 12-hour per-user cooldown and the channel body-length limit.
// roleMentionLen accounts for the gateway-rendered role mention that
// will be prepended/appended to body downstream.
func (a *Announce) SendBeacon(ctx context.Context, guildID, userID, channelID string, identity Identity, body string, roleMentionLen int) (*Ack, error) {
	if len(body) == 0 {
		return nil, apierr.New(apierr.KindValidation, "body must not be empty").WithField("body")
	}
	if len(body)+roleMentionLen > defaultMaxBodyLen {
		return nil, apierr.New(apierr.KindValidation, fmt.Sprintf("body exceeds channel message size limit of %d characters", defaultMaxBodyLen)).WithField("body")
	}

	now := a.clock.Now()
	var lastBeacon *time.Time
	err := a.store.DB().QueryRowContext(ctx, `
		SELECT last_beacon_at FROM bytes_balances WHERE guild_id = $1 AND user_id = $2`, guildID, userID).Scan(&lastBeacon)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.Wrap(err, "read beacon cooldown")
	}
	if lastBeacon != nil {
		nextAllowed := lastBeacon.Add(cooldown)
		if now.Before(nextAllowed) {
			return nil, apierr.New(apierr.KindCooldown, "beacon cooldown in effect").WithDetails(map[string]any{
				"seconds_remaining": int64(nextAllowed.Sub(now).Seconds()),
			})
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sendErr := a.webhook.Send(sendCtx, channelID, identity, body)
	if sendErr != nil {
		a.evict(channelID)
		if errors.Is(sendErr, ErrInvalidWebhook) {
			return nil, apierr.New(apierr.KindUnreachable, "webhook handle invalid").WithDetails(map[string]any{"channel_id": channelID})
		}
		if errors.Is(sendErr, context.DeadlineExceeded) {
			return nil, apierr.New(apierr.KindUnreachable, "webhook dispatch timed out")
		}
		return nil, apierr.New(apierr.KindUnreachable, "webhook dispatch failed")
	}
	a.markKnownGood(channelID)

	if _, err := a.store.DB().ExecContext(ctx, `
		UPDATE bytes_balances SET last_beacon_at = $3, updated_at = $3
		WHERE guild_id = $1 AND user_id = $2`, guildID, userID, now); err != nil {
		return nil, apierr.Wrap(err, "persist beacon cooldown")
	}

	return &Ack{Delivered: true}, nil
}

func (a *Announce) markKnownGood(channelID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[channelID] = struct{}{}
}

func (a *Announce) evict(channelID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, channelID)
}
