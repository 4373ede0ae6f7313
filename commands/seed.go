package commands

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/crawler"
)

var SeedCmd = &cli.Command{
	Name:      "seed",
	Usage:     "Add bootstrap peers to the database.",
	ArgsUsage: "ADDRESS...",
	Description: `Merges the given peer addresses exactly as if a scanned peer had reported them.
Addresses without a port get the default port. Known peers keep their block state.`,
	Flags: storageCmdFlags,
	Action: func(cctx *cli.Context) error {
		if err := setupLogging(CrawlerLogFlags); err != nil {
			return xerrors.Errorf("setup logging: %w", err)
		}
		if cctx.NArg() == 0 {
			return xerrors.New("at least one peer address is required")
		}

		ctx := cctx.Context
		conf, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		store, err := openStore(ctx, conf)
		if err != nil {
			return err
		}

		n, err := crawler.Discover(ctx, store, cctx.Args().Slice(), conf.Crawler.DefaultPort)
		if err == nil {
			log.Infow("seeded peers", "count", n)
		}

		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return multierr.Append(err, store.Close(closeCtx))
	},
}
