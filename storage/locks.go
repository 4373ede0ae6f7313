package storage

import (
	"context"
	"errors"

	"github.com/go-pg/pg/v10"
	"golang.org/x/xerrors"
)

var ErrLockNotAcquired = errors.New("lock not acquired")

// SchemaLock guards schema migrations so only one migrator changes the schema at a time.
const SchemaLock AdvisoryLock = 0x62727363 // "brsc"

// An AdvisoryLock is a lock that is managed by Postgres but is only enforced by the application. Advisory
// locks are automatically released at the end of a session.
type AdvisoryLock int64

// LockExclusive tries to acquire a session scoped exclusive advisory lock. It returns ErrLockNotAcquired if another
// session holds the lock.
func (l AdvisoryLock) LockExclusive(ctx context.Context, db *pg.DB) error {
	return l.try(ctx, db, `SELECT pg_try_advisory_lock(?);`, "acquiring exclusive lock")
}

// UnlockExclusive releases an exclusive advisory lock.
func (l AdvisoryLock) UnlockExclusive(ctx context.Context, db *pg.DB) error {
	return l.try(ctx, db, `SELECT pg_advisory_unlock(?);`, "releasing exclusive lock")
}

// LockShared tries to acquire a session scoped shared advisory lock.
func (l AdvisoryLock) LockShared(ctx context.Context, db *pg.DB) error {
	return l.try(ctx, db, `SELECT pg_try_advisory_lock_shared(?);`, "acquiring shared lock")
}

// UnlockShared releases a shared advisory lock.
func (l AdvisoryLock) UnlockShared(ctx context.Context, db *pg.DB) error {
	return l.try(ctx, db, `SELECT pg_advisory_unlock_shared(?);`, "releasing shared lock")
}

func (l AdvisoryLock) try(ctx context.Context, db *pg.DB, query string, what string) error {
	var ok bool
	if _, err := db.QueryOneContext(ctx, pg.Scan(&ok), query, int64(l)); err != nil {
		return xerrors.Errorf("%s: %w", what, err)
	}
	if !ok {
		return xerrors.Errorf("%s: %w", what, ErrLockNotAcquired)
	}
	return nil
}
