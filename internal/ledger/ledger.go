// Package ledger implements the bytes currency: balances, the daily
// reward with streak multipliers, peer-to-peer transfers with
// cooldowns and caps, and the append-only transaction log those derive
// from.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smarter-guild/bytes-core/internal/activity"
	"github.com/smarter-guild/bytes-core/internal/apierr"
	"github.com/smarter-guild/bytes-core/internal/clockid"
	"github.com/smarter-guild/bytes-core/internal/concurrency"
	"github.com/smarter-guild/bytes-core/internal/guildconfig"
	"github.com/smarter-guild/bytes-core/internal/store"
)

// SystemUserID is the reserved counterparty for non-peer transactions:
// welcome bonuses, daily rewards, squad fees, and admin adjustments.
const SystemUserID = "SYSTEM"

// Balance is the BytesBalance entity.
type Balance struct {
	GuildID        string
	UserID         string
	Balance        int64
	TotalReceived  int64
	TotalSent      int64
	StreakCount    int
	LastDailyDate  *time.Time
	LastTransferAt *time.Time
	LastBeaconAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Transaction is one row of the append-only BytesTransaction audit log.
type Transaction struct {
	ID               string
	GuildID          string
	GiverID          string
	GiverUsername    string
	ReceiverID       string
	ReceiverUsername string
	Amount           int64
	Reason           string
	CreatedAt        time.Time
}

// LeaderboardEntry is one ranked row of get_leaderboard.
type LeaderboardEntry struct {
	UserID        string
	Balance       int64
	TotalReceived int64
	Rank          int
}

// DailyClaimResult is the outcome of a successful claim_daily call.
type DailyClaimResult struct {
	Earned      int64
	Multiplier  int
	Streak      int
	NewBalance  int64
	NextClaimAt time.Time
}

// TransferResult is the outcome of a successful transfer call.
type TransferResult struct {
	GiverBalance    int64
	ReceiverBalance int64
	TransactionID   string
}

// Ledger implements the bytes economy operations.
type Ledger struct {
	store *store.Store
	cfg   *guildconfig.Store
	clock clockid.Clock
	ids   clockid.IDGenerator
	zone  *time.Location
	locks *concurrency.KeyedMutex
}

// New constructs a Ledger. zone is the guild reference timezone used for
// calendar-date daily-claim arithmetic (e.g. America/New_York).
func New(st *store.Store, cfg *guildconfig.Store, clock clockid.Clock, ids clockid.IDGenerator, zone *time.Location) *Ledger {
	return &Ledger{store: st, cfg: cfg, clock: clock, ids: ids, zone: zone, locks: concurrency.NewKeyedMutex()}
}

// balanceKey identifies a guild+user pair for in-process serialization,
// ahead of the row-level lock taken inside the transaction.
func balanceKey(guildID, userID string) string { return guildID + ":" + userID }

// GetBalance returns the user's balance, lazily creating the row (with a
// SYSTEM welcome-bonus transaction) on first access. It never fails for
// a user that simply hasn't been seen before.
func (l *Ledger) GetBalance(ctx context.Context, guildID, userID string) (*Balance, error) {
	bal, err := l.queryBalance(ctx, l.store.DB(), guildID, userID)
	if err == nil {
		return bal, nil
	}
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindNotFound {
		return nil, err
	}

	var created *Balance
	txErr := l.store.WithTx(ctx, func(tx *sql.Tx) error {
		cfg, cfgErr := l.cfg.Get(ctx, guildID)
		if cfgErr != nil {
			return cfgErr
		}

		now := l.clock.Now()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bytes_balances (guild_id, user_id, balance, total_received, total_sent, created_at, updated_at)
			VALUES ($1, $2, $3, $3, 0, $4, $4)
			ON CONFLICT (guild_id, user_id) DO NOTHING`,
			guildID, userID, cfg.StartingBalance, now)
		if err != nil {
			return err
		}

		if cfg.StartingBalance > 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO bytes_transactions (id, guild_id, giver_id, giver_username, receiver_id, receiver_username, amount, reason, created_at)
				SELECT $1, $2, $3, $3, $4, $4, $5, $6, $7
				WHERE NOT EXISTS (
					SELECT 1 FROM bytes_transactions WHERE guild_id=$2 AND receiver_id=$4 AND reason=$6
				)`,
				l.ids.NewID(), guildID, SystemUserID, userID, cfg.StartingBalance, "New member welcome bonus", now,
			); err != nil {
				return err
			}
		}

		b, err := l.queryBalanceTx(ctx, tx, guildID, userID)
		if err != nil {
			return err
		}
		created = b
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return created, nil
}

func (l *Ledger) queryBalance(ctx context.Context, db *sql.DB, guildID, userID string) (*Balance, error) {
	row := db.QueryRowContext(ctx, balanceSelectSQL, guildID, userID)
	return scanBalance(row)
}

func (l *Ledger) queryBalanceTx(ctx context.Context, tx *sql.Tx, guildID, userID string) (*Balance, error) {
	row := tx.QueryRowContext(ctx, balanceSelectSQL, guildID, userID)
	return scanBalance(row)
}

const balanceSelectSQL = `
	SELECT guild_id, user_id, balance, total_received, total_sent, streak_count,
	       last_daily_date, last_transfer_at, last_beacon_at, created_at, updated_at
	FROM bytes_balances WHERE guild_id = $1 AND user_id = $2`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (*Balance, error) {
	var b Balance
	err := row.Scan(&b.GuildID, &b.UserID, &b.Balance, &b.TotalReceived, &b.TotalSent, &b.StreakCount,
		&b.LastDailyDate, &b.LastTransferAt, &b.LastBeaconAt, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.New(apierr.KindNotFound, "balance not found")
	}
	if err != nil {
		return nil, apierr.Wrap(err, "scan balance")
	}
	return &b, nil
}

// ClaimDaily credits the user's daily reward for today (the calendar
// date in the guild's reference timezone), applying the configured
// streak multiplier. Concurrent duplicate claims resolve to exactly one
// credit via a compare-and-set update.
func (l *Ledger) ClaimDaily(ctx context.Context, guildID, userID, username string) (*DailyClaimResult, error) {
	unlock := l.locks.Lock(balanceKey(guildID, userID))
	defer unlock()

	if _, err := l.GetBalance(ctx, guildID, userID); err != nil {
		return nil, err
	}

	cfg, err := l.cfg.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}

	now := l.clock.Now().In(l.zone)
	today := dateOnly(now)

	var result *DailyClaimResult
	txErr := l.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.LockBalanceRows(ctx, tx, guildID, userID); err != nil {
			return err
		}

		bal, err := l.queryBalanceTx(ctx, tx, guildID, userID)
		if err != nil {
			return err
		}

		if bal.LastDailyDate != nil && dateOnly(*bal.LastDailyDate) == today {
			nextClaim := startOfNextDay(today, l.zone)
			return apierr.New(apierr.KindAlreadyClaimed, "daily reward already claimed today").
				WithDetails(map[string]any{"next_claim_at": nextClaim})
		}

		streak := 1
		if bal.LastDailyDate != nil && dateOnly(*bal.LastDailyDate) == today.AddDate(0, 0, -1) {
			streak = bal.StreakCount + 1
		}
		multiplier := cfg.MultiplierFor(streak)
		earned := cfg.DailyAmount * int64(multiplier)

		res, err := tx.ExecContext(ctx, `
			UPDATE bytes_balances
			SET balance = balance + $3, total_received = total_received + $3,
			    streak_count = $4, last_daily_date = $5, updated_at = $6
			WHERE guild_id = $1 AND user_id = $2 AND last_daily_date IS DISTINCT FROM $5`,
			guildID, userID, earned, streak, today, l.clock.Now())
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return apierr.Wrap(err, "check claim_daily update")
		}
		if affected == 0 {
			nextClaim := startOfNextDay(today, l.zone)
			return apierr.New(apierr.KindAlreadyClaimed, "daily reward already claimed today").
				WithDetails(map[string]any{"next_claim_at": nextClaim})
		}

		reason := dailyRewardReason(streak, multiplier)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bytes_transactions (id, guild_id, giver_id, giver_username, receiver_id, receiver_username, amount, reason, created_at)
			VALUES ($1, $2, $3, $3, $4, $5, $6, $7, $8)`,
			l.ids.NewID(), guildID, SystemUserID, userID, username, earned, reason, l.clock.Now(),
		); err != nil {
			return err
		}

		if err := activity.Append(ctx, tx, l.ids, guildID, userID, nil, "daily_claim", map[string]any{
			"earned": earned, "streak": streak, "multiplier": multiplier,
		}, l.clock.Now()); err != nil {
			return err
		}

		newBalance := bal.Balance + earned
		result = &DailyClaimResult{
			Earned:      earned,
			Multiplier:  multiplier,
			Streak:      streak,
			NewBalance:  newBalance,
			NextClaimAt: startOfNextDay(today, l.zone),
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return result, nil
}

func dailyRewardReason(streak, multiplier int) string {
	if multiplier > 1 {
		return fmt.Sprintf("Daily reward (Day %d, %dx multiplier)", streak, multiplier)
	}
	return fmt.Sprintf("Daily reward (Day %d)", streak)
}

// Transfer moves amount bytes from giver to receiver, subject to the
// guild's max_transfer cap and per-user cooldown.
func (l *Ledger) Transfer(ctx context.Context, guildID, giverID, giverUsername, receiverID, receiverUsername string, amount int64, reason string) (*TransferResult, error) {
	if giverID == receiverID {
		return nil, apierr.New(apierr.KindValidation, "giver and receiver must differ").WithField("receiver_id")
	}
	if len(reason) > 200 {
		return nil, apierr.New(apierr.KindValidation, "reason must be at most 200 characters").WithField("reason")
	}

	cfg, err := l.cfg.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if amount < 1 || amount > cfg.MaxTransfer {
		return nil, apierr.New(apierr.KindValidation, fmt.Sprintf("amount must be between 1 and %d", cfg.MaxTransfer)).WithField("amount")
	}

	firstKey, secondKey := balanceKey(guildID, giverID), balanceKey(guildID, receiverID)
	if secondKey < firstKey {
		firstKey, secondKey = secondKey, firstKey
	}
	unlockFirst := l.locks.Lock(firstKey)
	defer unlockFirst()
	unlockSecond := l.locks.Lock(secondKey)
	defer unlockSecond()

	if _, err := l.GetBalance(ctx, guildID, giverID); err != nil {
		return nil, err
	}
	if _, err := l.GetBalance(ctx, guildID, receiverID); err != nil {
		return nil, err
	}

	var result *TransferResult
	txErr := l.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.LockBalanceRows(ctx, tx, guildID, giverID, receiverID); err != nil {
			return err
		}

		giver, err := l.queryBalanceTx(ctx, tx, guildID, giverID)
		if err != nil {
			return err
		}
		receiver, err := l.queryBalanceTx(ctx, tx, guildID, receiverID)
		if err != nil {
			return err
		}

		now := l.clock.Now()
		if cfg.TransferCooldownHours > 0 && giver.LastTransferAt != nil {
			cooldown := time.Duration(cfg.TransferCooldownHours) * time.Hour
			nextAllowed := giver.LastTransferAt.Add(cooldown)
			if now.Before(nextAllowed) {
				return apierr.New(apierr.KindCooldown, "transfer cooldown in effect").WithDetails(map[string]any{
					"retry_after_seconds":   int64(nextAllowed.Sub(now).Seconds()),
					"cooldown_end_timestamp": nextAllowed.Unix(),
				})
			}
		}

		if giver.Balance < amount {
			return apierr.New(apierr.KindInsufficientFunds, "insufficient balance").WithDetails(map[string]any{
				"required": amount, "available": giver.Balance,
			})
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE bytes_balances SET balance = balance - $3, total_sent = total_sent + $3,
			       last_transfer_at = $4, updated_at = $4
			WHERE guild_id = $1 AND user_id = $2`,
			guildID, giverID, amount, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE bytes_balances SET balance = balance + $3, total_received = total_received + $3, updated_at = $4
			WHERE guild_id = $1 AND user_id = $2`,
			guildID, receiverID, amount, now); err != nil {
			return err
		}

		txID := l.ids.NewID()
		var reasonVal any
		if reason != "" {
			reasonVal = reason
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bytes_transactions (id, guild_id, giver_id, giver_username, receiver_id, receiver_username, amount, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			txID, guildID, giverID, giverUsername, receiverID, receiverUsername, amount, reasonVal, now); err != nil {
			return err
		}

		if err := activity.Append(ctx, tx, l.ids, guildID, giverID, nil, "transfer_sent", map[string]any{"amount": amount, "receiver_id": receiverID}, now); err != nil {
			return err
		}
		if err := activity.Append(ctx, tx, l.ids, guildID, receiverID, nil, "transfer_received", map[string]any{"amount": amount, "giver_id": giverID}, now); err != nil {
			return err
		}

		result = &TransferResult{
			GiverBalance:    giver.Balance - amount,
			ReceiverBalance: receiver.Balance + amount,
			TransactionID:   txID,
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return result, nil
}

// GetTransactionHistory returns the most recent transactions for guild,
// optionally filtered to one user as either giver or receiver.
func (l *Ledger) GetTransactionHistory(ctx context.Context, guildID, userID string, limit int) ([]Transaction, error) {
	if limit < 1 || limit > 100 {
		return nil, apierr.New(apierr.KindValidation, "limit must be between 1 and 100").WithField("limit")
	}

	var rows *sql.Rows
	var err error
	if userID == "" {
		rows, err = l.store.DB().QueryContext(ctx, `
			SELECT id, guild_id, giver_id, giver_username, receiver_id, receiver_username, amount, COALESCE(reason, ''), created_at
			FROM bytes_transactions WHERE guild_id = $1 ORDER BY created_at DESC LIMIT $2`, guildID, limit)
	} else {
		rows, err = l.store.DB().QueryContext(ctx, `
			SELECT id, guild_id, giver_id, giver_username, receiver_id, receiver_username, amount, COALESCE(reason, ''), created_at
			FROM bytes_transactions WHERE guild_id = $1 AND (giver_id = $2 OR receiver_id = $2)
			ORDER BY created_at DESC LIMIT $3`, guildID, userID, limit)
	}
	if err != nil {
		return nil, apierr.Wrap(err, "query transaction history")
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.GuildID, &t.GiverID, &t.GiverUsername, &t.ReceiverID, &t.ReceiverUsername, &t.Amount, &t.Reason, &t.CreatedAt); err != nil {
			return nil, apierr.Wrap(err, "scan transaction")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetLeaderboard returns the top `limit` balances for guild, ranked by
// balance desc then total_received desc.
func (l *Ledger) GetLeaderboard(ctx context.Context, guildID string, limit int) ([]LeaderboardEntry, error) {
	if limit < 1 || limit > 100 {
		return nil, apierr.New(apierr.KindValidation, "limit must be between 1 and 100").WithField("limit")
	}

	rows, err := l.store.DB().QueryContext(ctx, `
		SELECT user_id, balance, total_received FROM bytes_balances
		WHERE guild_id = $1 ORDER BY balance DESC, total_received DESC LIMIT $2`, guildID, limit)
	if err != nil {
		return nil, apierr.Wrap(err, "query leaderboard")
	}
	defer rows.Close()

	var out []LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Balance, &e.TotalReceived); err != nil {
			return nil, apierr.Wrap(err, "scan leaderboard entry")
		}
		e.Rank = rank
		rank++
		out = append(out, e)
	}
	return out, rows.Err()
}


func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func startOfNextDay(day time.Time, zone *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, zone)
}
