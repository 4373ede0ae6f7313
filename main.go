package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/brscrawler/brs-crawler/commands"
	"github.com/brscrawler/brs-crawler/version"
)

var log = logging.Logger("crawler")

func main() {
	if err := logging.SetLogLevel("*", "info"); err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:    "brs-crawler",
		Usage:   "Burst network peer crawler",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				EnvVars:     []string{"GOLOG_LOG_LEVEL"},
				Value:       "info",
				Usage:       "Set the default log level for all loggers to `LEVEL`",
				Destination: &commands.CrawlerLogFlags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-level-named",
				EnvVars:     []string{"CRAWLER_LOG_LEVEL_NAMED"},
				Value:       "",
				Usage:       "A comma delimited list of named loggers and log levels formatted as name:level, for example 'crawler:debug,crawler/storage:info'",
				Destination: &commands.CrawlerLogFlags.LogLevelNamed,
			},
			&cli.StringFlag{
				Name:        "prometheus-port",
				EnvVars:     []string{"CRAWLER_PROMETHEUS_PORT"},
				Value:       ":9991",
				Usage:       "Address the metrics, zpages and pprof endpoints listen on. Empty disables them.",
				Destination: &commands.CrawlerMetricFlags.PrometheusPort,
			},
			&cli.BoolFlag{
				Name:        "tracing",
				EnvVars:     []string{"CRAWLER_TRACING"},
				Value:       false,
				Usage:       "Export traces to jaeger.",
				Destination: &commands.CrawlerTracingFlags.Enabled,
			},
			&cli.StringFlag{
				Name:        "jaeger-provider-url",
				EnvVars:     []string{"JAEGER_PROVIDER_URL"},
				Value:       "http://localhost:14268/api/traces",
				Destination: &commands.CrawlerTracingFlags.ProviderURL,
			},
			&cli.StringFlag{
				Name:        "jaeger-service-name",
				EnvVars:     []string{"JAEGER_SERVICE_NAME"},
				Value:       "brs-crawler",
				Destination: &commands.CrawlerTracingFlags.ServiceName,
			},
			&cli.Float64Flag{
				Name:        "jaeger-sampler-ratio",
				EnvVars:     []string{"JAEGER_SAMPLER_RATIO"},
				Usage:       "If less than 1 probabilistic metrics will be used.",
				Value:       1,
				Destination: &commands.CrawlerTracingFlags.JaegerSamplerParam,
			},
		},
		Commands: []*cli.Command{
			commands.CrawlCmd,
			commands.SeedCmd,
			commands.MigrateCmd,
			commands.ReportCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
