package commands

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/config"
)

// MemoryStorage is the --db value that keeps the ledger in process memory instead of PostgreSQL.
const MemoryStorage = "memory"

type storageOpts struct {
	config     string
	initConfig bool
	db       string
	schema   string
	poolSize int
}

var storageFlags storageOpts

var configFlag = &cli.StringFlag{
	Name:        "config",
	Usage:       "Specify path of config file to use.",
	EnvVars:     []string{"CRAWLER_CONFIG"},
	Value:       "~/.brscrawler/config.toml",
	Destination: &storageFlags.config,
}

var initConfigFlag = &cli.BoolFlag{
	Name:        "init-config",
	Usage:       "Write a config file with default values to the --config path if none exists.",
	EnvVars:     []string{"CRAWLER_INIT_CONFIG"},
	Destination: &storageFlags.initConfig,
}

var dbFlag = &cli.StringFlag{
	Name:        "db",
	Usage:       "PostgreSQL connection `URL`, or \"memory\" for an in-process ledger. Overrides the config file.",
	EnvVars:     []string{"CRAWLER_DB"},
	Destination: &storageFlags.db,
}

var schemaFlag = &cli.StringFlag{
	Name:        "schema",
	Usage:       "Database schema holding the crawler tables. Overrides the config file.",
	EnvVars:     []string{"CRAWLER_SCHEMA"},
	Destination: &storageFlags.schema,
}

var poolSizeFlag = &cli.IntFlag{
	Name:        "db-pool-size",
	Usage:       "Maximum number of database connections. Overrides the config file.",
	EnvVars:     []string{"CRAWLER_DB_POOL_SIZE"},
	Destination: &storageFlags.poolSize,
}

var storageCmdFlags = []cli.Flag{configFlag, initConfigFlag, dbFlag, schemaFlag, poolSizeFlag}

// loadConfig reads the config file named by --config, applies environment variables kept from earlier releases,
// then the storage flags.
func loadConfig(cctx *cli.Context) (*config.Conf, error) {
	path, err := homedir.Expand(storageFlags.config)
	if err != nil {
		return nil, xerrors.Errorf("expand config path: %w", err)
	}
	if storageFlags.initConfig {
		if err := initConfig(path); err != nil {
			return nil, err
		}
	}
	conf, err := config.FromFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read config %s: %w", path, err)
	}

	if err := applyLegacyEnv(conf, os.LookupEnv); err != nil {
		return nil, err
	}

	if cctx.IsSet(dbFlag.Name) && storageFlags.db != MemoryStorage {
		conf.Storage.Postgresql.URL = storageFlags.db
		conf.Storage.Postgresql.URLEnv = ""
	}
	if cctx.IsSet(schemaFlag.Name) {
		conf.Storage.Postgresql.SchemaName = storageFlags.schema
	}
	if cctx.IsSet(poolSizeFlag.Name) {
		conf.Storage.Postgresql.PoolSize = storageFlags.poolSize
	}
	return conf, nil
}

// initConfig writes a default config file at path unless one is already there.
func initConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Errorf("create config directory: %w", err)
	}
	if err := config.EnsureExists(path); err != nil {
		return xerrors.Errorf("ensuring config is present at %q: %w", path, err)
	}
	log.Infow("config file ready", "path", path)
	return nil
}

// applyLegacyEnv reads the environment variables of the first crawler release. Their units differ from the flags
// that replace them: BRS_TIMEOUT is in milliseconds, RESCAN_INTERVAL in minutes and THREADS_PER_CPU multiplies the
// number of CPUs. A value with a unit suffix is read as a duration.
func applyLegacyEnv(conf *config.Conf, lookup func(string) (string, bool)) error {
	if v, ok := lookup("BRS_TIMEOUT"); ok && v != "" {
		d, err := legacyDuration(v, time.Millisecond)
		if err != nil {
			return xerrors.Errorf("BRS_TIMEOUT: %w", err)
		}
		conf.Crawler.Timeout = config.Duration(d)
	}
	if v, ok := lookup("RESCAN_INTERVAL"); ok && v != "" {
		d, err := legacyDuration(v, time.Minute)
		if err != nil {
			return xerrors.Errorf("RESCAN_INTERVAL: %w", err)
		}
		conf.Crawler.RescanInterval = config.Duration(d)
	}
	if v, ok := lookup("THREADS_PER_CPU"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return xerrors.Errorf("THREADS_PER_CPU: %w", err)
		}
		conf.Crawler.Workers = n * runtime.NumCPU()
	}
	return nil
}

func legacyDuration(v string, unit time.Duration) (time.Duration, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * unit, nil
	}
	return time.ParseDuration(v)
}
