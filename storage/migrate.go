package storage

import (
	"context"
	"strconv"

	"github.com/go-pg/migrations/v8"
	"github.com/go-pg/pg/v10"
	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/model"
	"github.com/brscrawler/brs-crawler/schemas"
	v1 "github.com/brscrawler/brs-crawler/schemas/v1"
)

// OldestSupportedSchemaVersion is the oldest schema the crawler can run against without migrating.
var OldestSupportedSchemaVersion = model.Version{Major: 1, Patch: 1}

// LatestSchemaVersion returns the most recent version of the schema, based on the highest patch of the highest
// major version.
func LatestSchemaVersion() model.Version {
	return v1.Version()
}

// GetSchemaVersions returns the schema version in the database and the latest schema version defined by the
// available migrations.
func (d *Database) GetSchemaVersions(ctx context.Context) (model.Version, model.Version, error) {
	latest := LatestSchemaVersion()

	if d.db != nil {
		dbVersion, _, err := getDatabaseSchemaVersion(ctx, d.db, d.schemaName)
		return dbVersion, latest, err
	}

	db, err := connect(ctx, d.opt)
	if err != nil {
		return model.Version{}, model.Version{}, xerrors.Errorf("connect: %w", err)
	}
	defer db.Close() // nolint: errcheck
	dbVersion, _, err := getDatabaseSchemaVersion(ctx, db, d.schemaName)
	return dbVersion, latest, err
}

// getDatabaseSchemaVersion returns the schema version in use by the database and whether the schema versioning
// tables have been initialized. An uninitialized database has a zero version.
func getDatabaseSchemaVersion(ctx context.Context, db *pg.DB, schemaName string) (model.Version, bool, error) {
	cvExists, err := tableExists(ctx, db, schemaName, "crawler_version")
	if err != nil {
		return model.Version{}, false, xerrors.Errorf("checking if crawler_version exists: %w", err)
	}
	if !cvExists {
		return model.Version{}, false, nil
	}

	var major int
	_, err = db.QueryOneContext(ctx, pg.Scan(&major), `SELECT major FROM ? LIMIT 1`, pg.SafeQuery(schemaName+".crawler_version"))
	if err != nil && err != pg.ErrNoRows {
		return model.Version{}, false, err
	}
	if major == 0 {
		return model.Version{}, false, nil
	}

	coll, err := collectionForVersion(model.Version{Major: major}, schemaName)
	if err != nil {
		return model.Version{}, false, err
	}

	patch, err := coll.Version(db)
	if err != nil {
		return model.Version{}, false, xerrors.Errorf("unable to determine schema version: %w", err)
	}

	return model.Version{Major: major, Patch: int(patch)}, true, nil
}

func tableExists(ctx context.Context, db *pg.DB, schemaName, tableName string) (bool, error) {
	var exists bool
	_, err := db.QueryOneContext(ctx, pg.Scan(&exists), `SELECT EXISTS (
		SELECT FROM information_schema.tables WHERE table_schema = ? AND table_name = ?
	)`, schemaName, tableName)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// initDatabaseSchema creates the postgres schema and the tables tracking the installed schema version.
func initDatabaseSchema(ctx context.Context, db *pg.DB, schemaName string, major int) error {
	if schemaName != "public" {
		if _, err := db.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS ?`, pg.Ident(schemaName)); err != nil {
			return xerrors.Errorf("ensure schema exists: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ? (
			"major" int NOT NULL,
			PRIMARY KEY ("major")
		)
	`, pg.SafeQuery(schemaName+".crawler_version")); err != nil {
		return xerrors.Errorf("ensure crawler_version exists: %w", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO ? (major) VALUES (?) ON CONFLICT DO NOTHING`,
		pg.SafeQuery(schemaName+".crawler_version"), major); err != nil {
		return xerrors.Errorf("record major version: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ? (
			id serial,
			version bigint,
			created_at timestamptz
		)
	`, pg.SafeQuery(schemaName+".gopg_migrations")); err != nil {
		return xerrors.Errorf("ensure gopg_migrations exists: %w", err)
	}

	return nil
}

func validateDatabaseSchemaVersion(ctx context.Context, db *pg.DB, schemaName string) (model.Version, error) {
	dbVersion, initialized, err := getDatabaseSchemaVersion(ctx, db, schemaName)
	if err != nil {
		return model.Version{}, xerrors.Errorf("get schema version: %w", err)
	}
	if !initialized {
		return model.Version{}, ErrSchemaNotInstalled
	}

	switch {
	case LatestSchemaVersion().Before(dbVersion):
		return model.Version{}, ErrSchemaTooNew
	case dbVersion.Before(OldestSupportedSchemaVersion):
		return model.Version{}, ErrSchemaTooOld
	default:
		return dbVersion, nil
	}
}

// MigrateSchema migrates the database schema to the latest version.
func (d *Database) MigrateSchema(ctx context.Context) error {
	return d.MigrateSchemaTo(ctx, LatestSchemaVersion())
}

// MigrateSchemaTo migrates the database schema to a specific version. Downgrades are not supported.
func (d *Database) MigrateSchemaTo(ctx context.Context, target model.Version) error {
	db, err := connect(ctx, d.opt)
	if err != nil {
		return xerrors.Errorf("connect: %w", err)
	}
	defer db.Close() // nolint: errcheck

	dbVersion, initialized, err := getDatabaseSchemaVersion(ctx, db, d.schemaName)
	if err != nil {
		return xerrors.Errorf("get schema versions: %w", err)
	}
	log.Infof("current database schema is version %s", dbVersion)

	if initialized && target.Major != dbVersion.Major {
		return xerrors.Errorf("cannot migrate to a different major schema version. database version=%s, target version=%s", dbVersion, target)
	}
	if LatestSchemaVersion().Before(target) {
		return xerrors.Errorf("no migrations found for version %s", target)
	}
	if target.Before(dbVersion) {
		return xerrors.Errorf("cannot downgrade schema from version %s to %s", dbVersion, target)
	}
	if initialized && dbVersion == target {
		log.Infof("database schema is already at version %s", dbVersion)
		return nil
	}

	coll, err := collectionForVersion(target, d.schemaName)
	if err != nil {
		return xerrors.Errorf("no schema definition corresponds to version %s: %w", target, err)
	}

	if err := SchemaLock.LockExclusive(ctx, db); err != nil {
		return xerrors.Errorf("acquiring schema lock: %w", err)
	}
	defer func() {
		if err := SchemaLock.UnlockExclusive(ctx, db); err != nil {
			log.Errorf("failed to release exclusive lock: %v", err)
		}
	}()

	if err := initDatabaseSchema(ctx, db, d.schemaName, target.Major); err != nil {
		return xerrors.Errorf("initializing schema version tables: %w", err)
	}

	if !initialized {
		log.Infof("creating base schema for major version %d", target.Major)
		base, err := v1.GetBase(schemas.Config{SchemaName: d.schemaName})
		if err != nil {
			return xerrors.Errorf("render base schema: %w", err)
		}
		if _, err := db.ExecContext(ctx, base); err != nil {
			return xerrors.Errorf("creating base schema: %w", err)
		}
	}

	log.Infof("running schema migration from version %s to version %s", dbVersion, target)
	_, newPatch, err := coll.Run(db, "up", strconv.Itoa(target.Patch))
	if err != nil {
		return xerrors.Errorf("run migration: %w", err)
	}

	log.Infof("current database schema is now version %d.%d", target.Major, newPatch)
	return nil
}

func collectionForVersion(version model.Version, schemaName string) (*migrations.Collection, error) {
	switch version.Major {
	case v1.MajorVersion:
		return v1.GetPatches(schemas.Config{SchemaName: schemaName})
	default:
		return nil, xerrors.Errorf("unsupported major version: %d", version.Major)
	}
}
