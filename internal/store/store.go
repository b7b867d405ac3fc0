// Package store wraps the Postgres connection pool and provides the
// single unit-of-work entry point every mutating component uses: an
// operation's entity writes and the activity-log append that rides
// along with them commit in one transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/smarter-guild/bytes-core/internal/apierr"
)

// Store owns the connection pool. All entity-specific read/write logic
// lives in the owning component (Ledger, Squads, Activity); Store only
// knows how to open connections and run transactions.
type Store struct {
	db *sql.DB
}

// Open connects to databaseURL and sizes the pool for expected request
// concurrency. Callers must Close the returned Store on shutdown.
func Open(databaseURL string, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 20
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying pool for read-only queries that don't need
// a transaction (leaderboards, history, analytics reads).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable, used by the health
// endpoint.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// WithTx runs fn inside a single database transaction, committing on a
// nil return and rolling back otherwise. Every mutating Ledger/Squads/
// Activity operation makes one call to WithTx for its own writes;
// Ledger's ClaimDaily and Transfer first call GetBalance, which creates
// a missing balance row (and its welcome-bonus transaction) in a
// separate, earlier WithTx call.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateErr(err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return translateErr(err)
	}

	if err := tx.Commit(); err != nil {
		return translateErr(err)
	}
	return nil
}

// translateErr maps driver-level failures to the apierr taxonomy. Errors
// already tagged by a component (apierr.Error) pass through unchanged so
// WithTx never masks a domain error as Internal.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return apierr.New(apierr.KindConflict, "a row with that key already exists").WithDetails(map[string]any{"constraint": pgErr.ConstraintName})
		case "23514", "23502", "23503": // check_violation, not_null_violation, foreign_key_violation
			return apierr.New(apierr.KindValidation, "constraint violation").WithDetails(map[string]any{"constraint": pgErr.ConstraintName})
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return apierr.New(apierr.KindNotFound, "not found")
	}

	return apierr.Wrap(err, "store operation failed")
}

// LockBalanceRows locks the BytesBalance rows for the given user ids in
// ascending user_id order inside tx, to avoid deadlocks between
// concurrent transfers touching overlapping pairs of users. Callers pass
// one or two ids; rows that don't exist yet are simply not locked (the
// caller's get_balance path creates them first).
func LockBalanceRows(ctx context.Context, tx *sql.Tx, guildID string, userIDs ...string) error {
	ordered := sortedUnique(userIDs)
	for _, uid := range ordered {
		var discard string
		err := tx.QueryRowContext(ctx,
			`SELECT user_id FROM bytes_balances WHERE guild_id = $1 AND user_id = $2 FOR UPDATE`,
			guildID, uid,
		).Scan(&discard)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	return nil
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
