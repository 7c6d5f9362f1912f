// Package postgres implements the repository contracts on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geocaching-backend/internal/apperrors"
	"geocaching-backend/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Querier is the part of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the PostgreSQL backed repository.Store
type Store struct {
	db      DB
	timeout time.Duration
	caches  *CacheRepository
	users   *UserRepository
}

var _ repository.Store = (*Store)(nil)

// NewStore creates a new store. timeout bounds each statement run outside a
// transaction and each whole transaction; zero disables it.
func NewStore(db DB, timeout time.Duration) *Store {
	return &Store{
		db:      db,
		timeout: timeout,
		caches:  &CacheRepository{db: db, timeout: timeout},
		users:   &UserRepository{db: db, timeout: timeout},
	}
}

// Caches returns the cache repository bound to the pool
func (s *Store) Caches() repository.CacheRepository {
	return s.caches
}

// Users returns the user repository bound to the pool
func (s *Store) Users() repository.UserRepository {
	return s.users
}

type txUnit struct {
	caches *CacheRepository
	users  *UserRepository
}

func (u *txUnit) Caches() repository.CacheRepository { return u.caches }
func (u *txUnit) Users() repository.UserRepository   { return u.users }

// WithinTx begins a transaction, runs fn with repositories bound to it, then
// commits on success or rolls back on error or panic. Panics are rethrown.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Unit) error) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", translateError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	unit := &txUnit{
		caches: &CacheRepository{db: tx},
		users:  &UserRepository{db: tx},
	}
	if err := fn(ctx, unit); err != nil {
		_ = tx.Rollback(ctx)
		return translateError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translateError(err))
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// translateError classifies driver errors into apperrors kinds. Errors that are
// already classified, or unknown, are returned unchanged.
func translateError(err error) error {
	if err == nil || errors.Is(err, apperrors.ErrTransient) {
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		pgconn.Timeout(err) || errors.As(err, &connErr) {
		return apperrors.Transient(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && !errors.Is(err, apperrors.ErrConflict) {
		return fmt.Errorf("%w: %w", apperrors.ErrConflict, err)
	}
	return err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
