package commands

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/config"
	"github.com/brscrawler/brs-crawler/metrics"
	"github.com/brscrawler/brs-crawler/storage"
)

// openStore returns the ledger selected by the configuration, connected and ready for use.
func openStore(ctx context.Context, conf *config.Conf) (storage.Store, error) {
	if storageFlags.db == MemoryStorage {
		log.Warn("using in-memory storage, nothing will be persisted")
		return storage.NewMemStorage(nil), nil
	}

	db, err := newDatabase(ctx, conf.Storage.Postgresql)
	if err != nil {
		return nil, err
	}
	pg := conf.Storage.Postgresql
	if err := connectWithRetry(ctx, db.Connect, pg.ConnectRetries, pg.ConnectRetryDelay.Std()); err != nil {
		return nil, err
	}
	return db, nil
}

func newDatabase(ctx context.Context, pg config.PgStorageConf) (*storage.Database, error) {
	if storageFlags.db == MemoryStorage {
		return nil, xerrors.New("this command needs a PostgreSQL database")
	}
	db, err := storage.NewDatabase(ctx, pg.DatabaseURL(), pg.PoolSize, pg.ApplicationName, pg.SchemaName)
	if err != nil {
		return nil, xerrors.Errorf("new database: %w", err)
	}
	return db, nil
}

// connectWithRetry calls connect until it succeeds, retrying up to retries times with delay between attempts.
func connectWithRetry(ctx context.Context, connect func(context.Context) error, retries int, delay time.Duration) error {
	attempt := 0
	op := func() error {
		attempt++
		err := connect(ctx)
		if xerrors.Is(err, storage.ErrSchemaNotInstalled) || xerrors.Is(err, storage.ErrSchemaTooOld) || xerrors.Is(err, storage.ErrSchemaTooNew) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		metrics.RecordInc(ctx, metrics.DBConnectRetry)
		log.Warnw("database connection failed, retrying", "attempt", attempt, "retry_in", next, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retries)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return xerrors.Errorf("connect database after %d attempts: %w", attempt, err)
	}
	return nil
}
