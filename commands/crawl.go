package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/config"
	"github.com/brscrawler/brs-crawler/crawler"
	"github.com/brscrawler/brs-crawler/ipcheck"
	"github.com/brscrawler/brs-crawler/metrics"
	"github.com/brscrawler/brs-crawler/protocol"
	"github.com/brscrawler/brs-crawler/schedule"
)

type crawlOpts struct {
	name           string
	userAgent      string
	timeout        time.Duration
	rescanInterval time.Duration
	tickInterval   time.Duration
	workers        int
	maxScans       int
	ipcheck        bool
	nameserver     string
	connectRetries int
}

var crawlFlags crawlOpts

var CrawlCmd = &cli.Command{
	Name:  "crawl",
	Usage: "Run crawler workers until interrupted.",
	Description: `Starts a fleet of crawler workers. Each worker claims the peer that has waited
longest for a scan, asks it for its info, peers and chain head, records the outcome
and merges any peers it reported. Workers in this process and in any other process
sharing the database never scan the same peer at once.

Seeds listed in the config file are merged before the workers start. Use the seed
command to add bootstrap peers to an empty database.`,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:        "name",
			Usage:       "Name of this crawler instance, used to tag metrics.",
			EnvVars:     []string{"CRAWLER_NAME"},
			Value:       "brs-crawler",
			Destination: &crawlFlags.name,
		},
		&cli.StringFlag{
			Name:        "user-agent",
			Usage:       "User agent sent to peers. Overrides the config file.",
			EnvVars:     []string{"CRAWLER_USER_AGENT", "BRS_USER_AGENT"},
			Destination: &crawlFlags.userAgent,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "Timeout of each request to a peer. Overrides the config file.",
			EnvVars:     []string{"CRAWLER_TIMEOUT"},
			Destination: &crawlFlags.timeout,
		},
		&cli.DurationFlag{
			Name:        "rescan-interval",
			Usage:       "Minimum time between two scans of a peer. Overrides the config file.",
			EnvVars:     []string{"CRAWLER_RESCAN_INTERVAL"},
			Destination: &crawlFlags.rescanInterval,
		},
		&cli.DurationFlag{
			Name:        "tick-interval",
			Usage:       "How often each worker starts a scan. Overrides the config file.",
			EnvVars:     []string{"CRAWLER_TICK_INTERVAL"},
			Destination: &crawlFlags.tickInterval,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "Number of crawler workers. Overrides the config file.",
			EnvVars:     []string{"CRAWLER_WORKERS"},
			Destination: &crawlFlags.workers,
		},
		&cli.IntFlag{
			Name:        "max-concurrent-scans",
			Usage:       "Scans in flight per worker. Overrides the config file.",
			EnvVars:     []string{"CRAWLER_MAX_CONCURRENT_SCANS"},
			Destination: &crawlFlags.maxScans,
		},
		&cli.BoolFlag{
			Name:        "ipcheck",
			Usage:       "Track the IP each peer answers on. Overrides the config file.",
			EnvVars:     []string{"CRAWLER_IPCHECK", "USE_UTILS_CRAWLER"},
			Destination: &crawlFlags.ipcheck,
		},
		&cli.StringFlag{
			Name:        "nameserver",
			Usage:       "Nameserver `HOST[:PORT]` queried by IP checks instead of the system resolver.",
			EnvVars:     []string{"CRAWLER_NAMESERVER"},
			Destination: &crawlFlags.nameserver,
		},
		&cli.IntFlag{
			Name:        "db-connect-retries",
			Usage:       "Attempts to reach the database at startup before giving up. Overrides the config file.",
			EnvVars:     []string{"CRAWLER_DB_CONN_RETRIES", "DB_CONN_RETRIES"},
			Destination: &crawlFlags.connectRetries,
		},
	}, storageCmdFlags...),
	Action: func(cctx *cli.Context) error {
		if err := setupLogging(CrawlerLogFlags); err != nil {
			return xerrors.Errorf("setup logging: %w", err)
		}
		if err := setupMetrics(CrawlerMetricFlags); err != nil {
			return xerrors.Errorf("setup metrics: %w", err)
		}
		flushTraces, err := setupTracing(CrawlerTracingFlags)
		if err != nil {
			return xerrors.Errorf("setup tracing: %w", err)
		}

		conf, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		applyCrawlFlags(cctx, conf)
		if err := conf.Validate(); err != nil {
			return xerrors.Errorf("invalid config: %w", err)
		}

		ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = metrics.WithTagValue(ctx, metrics.Name, crawlFlags.name)

		store, err := openStore(ctx, conf)
		if err != nil {
			return err
		}

		runErr := runCrawl(ctx, conf, store)
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return multierr.Combine(runErr, store.Close(closeCtx), flushTraces(closeCtx))
	},
}

func applyCrawlFlags(cctx *cli.Context, conf *config.Conf) {
	if cctx.IsSet("user-agent") {
		conf.Crawler.UserAgent = crawlFlags.userAgent
	}
	if cctx.IsSet("timeout") {
		conf.Crawler.Timeout = config.Duration(crawlFlags.timeout)
	}
	if cctx.IsSet("rescan-interval") {
		conf.Crawler.RescanInterval = config.Duration(crawlFlags.rescanInterval)
	}
	if cctx.IsSet("tick-interval") {
		conf.Crawler.TickInterval = config.Duration(crawlFlags.tickInterval)
	}
	if cctx.IsSet("workers") {
		conf.Crawler.Workers = crawlFlags.workers
	}
	if cctx.IsSet("max-concurrent-scans") {
		conf.Crawler.MaxConcurrentScans = crawlFlags.maxScans
	}
	if cctx.IsSet("ipcheck") {
		conf.IPCheck.Enabled = crawlFlags.ipcheck
	}
	if cctx.IsSet("nameserver") {
		conf.IPCheck.Nameserver = crawlFlags.nameserver
	}
	if cctx.IsSet("db-connect-retries") {
		conf.Storage.Postgresql.ConnectRetries = crawlFlags.connectRetries
	}
}

// crawlStore is what the crawl command needs from a ledger.
type crawlStore interface {
	crawler.Storage
	ipcheck.Store
}

// runCrawl merges the configured seeds and runs the worker fleet until ctx is done.
func runCrawl(ctx context.Context, conf *config.Conf, store crawlStore) error {
	if len(conf.Crawler.Seeds) > 0 {
		n, err := crawler.Discover(ctx, store, conf.Crawler.Seeds, conf.Crawler.DefaultPort)
		if err != nil {
			return xerrors.Errorf("merge seeds: %w", err)
		}
		log.Infow("merged seed peers", "count", n)
	}

	client := protocol.NewClient(conf.Crawler.UserAgent, conf.Crawler.DefaultPort)

	var opts []crawler.Option
	if conf.IPCheck.Enabled {
		var resolver ipcheck.Resolver = ipcheck.SystemResolver{}
		if conf.IPCheck.Nameserver != "" {
			resolver = ipcheck.NewDNSResolver(conf.IPCheck.Nameserver, conf.IPCheck.Timeout.Std())
		}
		rec := ipcheck.NewReconciler(store, resolver, conf.IPCheck.Concurrency, conf.IPCheck.Timeout.Std())
		// workers have stopped submitting by the time this runs
		defer rec.Close()
		opts = append(opts, crawler.WithReconciler(rec))
	}

	cfg := crawler.Config{
		Timeout:            conf.Crawler.Timeout.Std(),
		RescanInterval:     conf.Crawler.RescanInterval.Std(),
		TickInterval:       conf.Crawler.TickInterval.Std(),
		DefaultPort:        conf.Crawler.DefaultPort,
		MaxConcurrentScans: conf.Crawler.MaxConcurrentScans,
	}

	jobs := make([]*schedule.JobConfig, conf.Crawler.Workers)
	for i := range jobs {
		name := fmt.Sprintf("crawler-%d", i)
		jobs[i] = &schedule.JobConfig{
			Name:             name,
			Job:              crawler.New(name, store, client, cfg, opts...),
			RestartOnFailure: true,
			RestartDelay:     conf.Crawler.RestartDelay.Std(),
		}
	}

	log.Infow("starting crawl", "workers", len(jobs), "ipcheck", conf.IPCheck.Enabled, "user_agent", conf.Crawler.UserAgent)
	// spread worker ticks across one tick interval
	jobDelay := cfg.TickInterval / time.Duration(len(jobs))
	sched := schedule.NewScheduler(jobDelay, jobs...)
	err := sched.Run(ctx)
	logJobs(sched.Jobs())
	if errors.Is(err, context.Canceled) {
		log.Info("crawl interrupted, workers stopped")
		return nil
	}
	return err
}

// logJobs reports how each worker fared over the life of the crawl.
func logJobs(jobs []schedule.JobResult) {
	for _, j := range jobs {
		if j.Restarts > 0 || j.Error != "" {
			log.Warnw("worker summary", "id", j.ID, "name", j.Name, "restarts", j.Restarts, "last_error", j.Error)
			continue
		}
		log.Infow("worker summary", "id", j.ID, "name", j.Name, "restarts", j.Restarts)
	}
}
