// Package squads implements the squad catalog and membership state
// machine: join/switch pricing (with active-sale discounts), default-
// squad semantics, and campaign lockout.
package squads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smarter-guild/bytes-core/internal/activity"
	"github.com/smarter-guild/bytes-core/internal/apierr"
	"github.com/smarter-guild/bytes-core/internal/clockid"
	"github.com/smarter-guild/bytes-core/internal/ledger"
	"github.com/smarter-guild/bytes-core/internal/store"
)

// Squad is the Squad entity, with pricing resolved against any active sale.
type Squad struct {
	ID                  string
	GuildID             string
	RoleID              string
	Name                string
	Description         string
	WelcomeMessage      string
	AnnouncementChannel string
	SwitchCost          int64
	MaxMembers          *int
	IsActive            bool
	IsDefault           bool
	CurrentJoinCost     int64
	CurrentSwitchCost   int64
	MemberCount         int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Membership is the SquadMembership entity.
type Membership struct {
	GuildID  string
	UserID   string
	SquadID  string
	JoinedAt time.Time
}

// Member is one row returned by GetSquadMembers.
type Member struct {
	UserID   string
	JoinedAt time.Time
}

// JoinResult is the outcome of a successful join_squad call.
type JoinResult struct {
	NewBalance    int64
	Squad         Squad
	PreviousSquad *Squad
}

// CampaignLockCheck reports whether guild has an active switch-lockout
// campaign. It is an injected port, not owned by this package.
type CampaignLockCheck func(ctx context.Context, guildID string) (bool, error)

// CacheInvalidator is notified whenever a squad mutation should evict
// cached analytics for that squad, wired to Activity's cache.
type CacheInvalidator func(guildID, squadID string)

// Squads implements the membership and catalog operations.
type Squads struct {
	store              *store.Store
	clock              clockid.Clock
	ids                clockid.IDGenerator
	campaignLockActive CampaignLockCheck
	onTouch            CacheInvalidator
}

// New constructs a Squads component.
func New(st *store.Store, clock clockid.Clock, ids clockid.IDGenerator, campaignCheck CampaignLockCheck) *Squads {
	return &Squads{
		store:              st,
		clock:              clock,
		ids:                ids,
		campaignLockActive: campaignCheck,
	}
}

// OnTouch registers a callback invoked after any mutation affecting a squad.
func (s *Squads) OnTouch(fn CacheInvalidator) { s.onTouch = fn }

func (s *Squads) notify(guildID, squadID string) {
	if s.onTouch != nil {
		s.onTouch(guildID, squadID)
	}
}

// ListSquads returns every active squad in guild with pricing resolved
// against active sales, default squad sorted last. Inactive squads are
// not listed.
func (s *Squads) ListSquads(ctx context.Context, guildID string) ([]Squad, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT sq.id, sq.guild_id, sq.role_id, sq.name, COALESCE(sq.description,''),
		       COALESCE(sq.welcome_message,''), COALESCE(sq.announcement_channel,''),
		       sq.switch_cost, sq.max_members, sq.is_active, sq.is_default, sq.created_at, sq.updated_at,
		       (SELECT count(*) FROM squad_memberships m WHERE m.squad_id = sq.id) AS member_count
		FROM squads sq WHERE sq.guild_id = $1 AND sq.is_active = true
		ORDER BY sq.is_default ASC, sq.name ASC`, guildID)
	if err != nil {
		return nil, apierr.Wrap(err, "list squads")
	}
	defer rows.Close()

	var out []Squad
	now := s.clock.Now()
	for rows.Next() {
		sq, err := scanSquad(rows)
		if err != nil {
			return nil, err
		}
		if err := s.applyPricing(ctx, &sq, now); err != nil {
			return nil, err
		}
		out = append(out, sq)
	}
	return out, rows.Err()
}

// GetSquad returns one squad with pricing resolved.
func (s *Squads) GetSquad(ctx context.Context, guildID, squadID string) (*Squad, error) {
	row := s.store.DB().QueryRowContext(ctx, `
		SELECT sq.id, sq.guild_id, sq.role_id, sq.name, COALESCE(sq.description,''),
		       COALESCE(sq.welcome_message,''), COALESCE(sq.announcement_channel,''),
		       sq.switch_cost, sq.max_members, sq.is_active, sq.is_default, sq.created_at, sq.updated_at,
		       (SELECT count(*) FROM squad_memberships m WHERE m.squad_id = sq.id) AS member_count
		FROM squads sq WHERE sq.guild_id = $1 AND sq.id = $2`, guildID, squadID)
	sq, err := scanSquad(row)
	if err != nil {
		return nil, err
	}
	if err := s.applyPricing(ctx, sq, s.clock.Now()); err != nil {
		return nil, err
	}
	return sq, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSquad(row rowScanner) (*Squad, error) {
	var sq Squad
	var maxMembers sql.NullInt64
	err := row.Scan(&sq.ID, &sq.GuildID, &sq.RoleID, &sq.Name, &sq.Description, &sq.WelcomeMessage,
		&sq.AnnouncementChannel, &sq.SwitchCost, &maxMembers, &sq.IsActive, &sq.IsDefault,
		&sq.CreatedAt, &sq.UpdatedAt, &sq.MemberCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.New(apierr.KindNotFound, "squad not found")
	}
	if err != nil {
		return nil, apierr.Wrap(err, "scan squad")
	}
	if maxMembers.Valid {
		n := int(maxMembers.Int64)
		sq.MaxMembers = &n
	}
	return &sq, nil
}

// applyPricing resolves CurrentJoinCost/CurrentSwitchCost against any
// sale active at `now` for sq.ID.
func (s *Squads) applyPricing(ctx context.Context, sq *Squad, now time.Time) error {
	sq.CurrentJoinCost = sq.SwitchCost
	sq.CurrentSwitchCost = sq.SwitchCost
	if sq.IsDefault {
		sq.CurrentJoinCost = 0
		sq.CurrentSwitchCost = 0
		return nil
	}

	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT kind, discount_percent FROM squad_sales
		WHERE squad_id = $1 AND $2 BETWEEN starts_at AND ends_at`, sq.ID, now)
	if err != nil {
		return apierr.Wrap(err, "query squad sales")
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var discount int64
		if err := rows.Scan(&kind, &discount); err != nil {
			return apierr.Wrap(err, "scan squad sale")
		}
		discounted := sq.SwitchCost * (100 - discount) / 100
		switch kind {
		case "join":
			sq.CurrentJoinCost = discounted
		case "switch":
			sq.CurrentSwitchCost = discounted
		}
	}
	return rows.Err()
}

// GetUserSquad returns the user's current squad membership, or nil if none.
func (s *Squads) GetUserSquad(ctx context.Context, guildID, userID string) (*Squad, error) {
	var squadID string
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT squad_id FROM squad_memberships WHERE guild_id = $1 AND user_id = $2`, guildID, userID).Scan(&squadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(err, "query user squad")
	}
	return s.GetSquad(ctx, guildID, squadID)
}

// GetSquadMembers returns every member of squadID.
func (s *Squads) GetSquadMembers(ctx context.Context, guildID, squadID string) ([]Member, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT user_id, joined_at FROM squad_memberships
		WHERE guild_id = $1 AND squad_id = $2 ORDER BY joined_at ASC`, guildID, squadID)
	if err != nil {
		return nil, apierr.Wrap(err, "query squad members")
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.JoinedAt); err != nil {
			return nil, apierr.Wrap(err, "scan squad member")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// JoinSquad moves user into squadID, charging the appropriate join or
// switch fee and replacing any prior membership atomically.
func (s *Squads) JoinSquad(ctx context.Context, guildID, userID, squadID, username string) (*JoinResult, error) {
	target, err := s.GetSquad(ctx, guildID, squadID)
	if err != nil {
		return nil, err
	}
	if !target.IsActive {
		return nil, apierr.New(apierr.KindNotFound, "squad not found")
	}

	prev, err := s.GetUserSquad(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}

	if prev != nil && !prev.IsDefault && s.campaignLockActive != nil {
		locked, err := s.campaignLockActive(ctx, guildID)
		if err != nil {
			return nil, err
		}
		if locked {
			return nil, apierr.New(apierr.KindCampaignLocked, "squad switching is disabled during active challenge campaigns")
		}
	}

	if prev != nil && prev.ID == target.ID {
		return nil, apierr.New(apierr.KindAlreadyInSquad, "already a member of this squad")
	}

	fee := target.CurrentSwitchCost
	if prev == nil || prev.IsDefault {
		fee = target.CurrentJoinCost
	}

	if target.MaxMembers != nil && target.MemberCount >= *target.MaxMembers {
		return nil, apierr.New(apierr.KindSquadFull, "squad has reached its member limit")
	}

	var result *JoinResult
	txErr := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.LockBalanceRows(ctx, tx, guildID, userID); err != nil {
			return err
		}

		var balance int64
		if err := tx.QueryRowContext(ctx, `SELECT balance FROM bytes_balances WHERE guild_id=$1 AND user_id=$2`, guildID, userID).Scan(&balance); err != nil {
			return apierr.Wrap(err, "read balance for join fee")
		}
		if balance < fee {
			return apierr.New(apierr.KindInsufficientFunds, "insufficient balance").WithDetails(map[string]any{
				"required": fee, "available": balance,
			})
		}

		now := s.clock.Now()
		if fee > 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE bytes_balances SET balance = balance - $3, total_sent = total_sent + $3, updated_at = $4
				WHERE guild_id = $1 AND user_id = $2`, guildID, userID, fee, now); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO bytes_transactions (id, guild_id, giver_id, giver_username, receiver_id, receiver_username, amount, reason, created_at)
				VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8)`,
				s.ids.NewID(), guildID, userID, username, ledger.SystemUserID, fee,
				fmt.Sprintf("Squad join fee: %s", target.Name), now); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM squad_memberships WHERE guild_id = $1 AND user_id = $2`, guildID, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO squad_memberships (guild_id, user_id, squad_id, joined_at) VALUES ($1, $2, $3, $4)`,
			guildID, userID, target.ID, now); err != nil {
			return err
		}

		if prev != nil {
			if err := activity.Append(ctx, tx, s.ids, guildID, userID, &prev.ID, "squad_leave", map[string]any{}, now); err != nil {
				return err
			}
		}
		if err := activity.Append(ctx, tx, s.ids, guildID, userID, &target.ID, "squad_join", map[string]any{"fee": fee}, now); err != nil {
			return err
		}

		result = &JoinResult{
			NewBalance:    balance - fee,
			Squad:         *target,
			PreviousSquad: prev,
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.notify(guildID, target.ID)
	if prev != nil {
		s.notify(guildID, prev.ID)
	}
	return result, nil
}

