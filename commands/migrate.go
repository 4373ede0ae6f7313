package commands

import (
	"context"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/model"
	"github.com/brscrawler/brs-crawler/storage"
)

type migrateOpts struct {
	to     string
	latest bool
}

var migrateFlags migrateOpts

var MigrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "Reports and verifies the current database schema version and latest available for migration. Use --to or --latest to perform a schema migration.",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:        "to",
			Usage:       "Migrate the schema to the `VERSION`, written as major.patch.",
			Destination: &migrateFlags.to,
		},
		&cli.BoolFlag{
			Name:        "latest",
			Usage:       "Migrate the schema to the latest version.",
			Destination: &migrateFlags.latest,
		},
	}, storageCmdFlags...),
	Action: func(cctx *cli.Context) error {
		if err := setupLogging(CrawlerLogFlags); err != nil {
			return xerrors.Errorf("setup logging: %w", err)
		}

		ctx := cctx.Context
		conf, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		db, err := newDatabase(ctx, conf.Storage.Postgresql)
		if err != nil {
			return err
		}

		if migrateFlags.to != "" {
			target, err := model.ParseVersion(migrateFlags.to)
			if err != nil {
				return xerrors.Errorf("parse --to: %w", err)
			}
			if err := db.MigrateSchemaTo(ctx, target); err != nil {
				return xerrors.Errorf("migrate schema to: %w", err)
			}
		} else if migrateFlags.latest {
			if err := db.MigrateSchema(ctx); err != nil {
				return xerrors.Errorf("migrate schema: %w", err)
			}
		}

		return reportSchemaVersion(ctx, db)
	},
}

func reportSchemaVersion(ctx context.Context, db *storage.Database) error {
	dbVersion, latestVersion, err := db.GetSchemaVersions(ctx)
	if err != nil {
		return xerrors.Errorf("get schema versions: %w", err)
	}

	log.Infof("current database schema is version %s, latest is %s", dbVersion, latestVersion)
	if dbVersion.Before(latestVersion) {
		log.Warnf("database schema is behind, use `brs-crawler migrate --latest` to upgrade it")
	}
	return nil
}
