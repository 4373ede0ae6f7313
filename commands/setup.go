package commands

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	logging "github.com/ipfs/go-log/v2"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/zpages"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/bridge/opencensus"

	"github.com/brscrawler/brs-crawler/metrics"
	"github.com/brscrawler/brs-crawler/version"
)

var log = logging.Logger("crawler/commands")

type CrawlerLogOpts struct {
	LogLevel      string
	LogLevelNamed string
}

var CrawlerLogFlags CrawlerLogOpts

type CrawlerTracingOpts struct {
	Enabled            bool
	ServiceName        string
	ProviderURL        string
	JaegerSamplerParam float64
}

var CrawlerTracingFlags CrawlerTracingOpts

type CrawlerMetricOpts struct {
	PrometheusPort string
}

var CrawlerMetricFlags CrawlerMetricOpts

func setupLogging(flags CrawlerLogOpts) error {
	ll := flags.LogLevel
	if err := logging.SetLogLevel("*", ll); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}

	llnamed := flags.LogLevelNamed
	if llnamed != "" {
		for _, llname := range strings.Split(llnamed, ",") {
			parts := strings.Split(llname, ":")
			if len(parts) != 2 {
				return fmt.Errorf("invalid named log level format: %q", llname)
			}
			if err := logging.SetLogLevel(parts[0], parts[1]); err != nil {
				return fmt.Errorf("set named log level %q to %q: %w", parts[0], parts[1], err)
			}
		}
	}

	log.Infof("brs-crawler version:%s", version.String())

	return nil
}

func setupMetrics(flags CrawlerMetricOpts) error {
	if flags.PrometheusPort == "" {
		return nil
	}

	// setup Prometheus
	registry := prom.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: "brs_crawler",
		Registry:  registry,
	})
	if err != nil {
		return err
	}

	// register prometheus with opencensus
	view.RegisterExporter(pe)
	view.SetReportingPeriod(2 * time.Second)

	// register the metrics views of interest
	if err := view.Register(metrics.DefaultViews...); err != nil {
		return err
	}

	go func() {
		mux := http.NewServeMux()
		zpages.Handle(mux, "/debug")
		mux.Handle("/metrics", pe)
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
		log.Infof("serving metrics on %s", flags.PrometheusPort)
		if err := http.ListenAndServe(flags.PrometheusPort, mux); err != nil {
			log.Errorf("prometheus /metrics endpoint stopped: %v", err)
		}
	}()
	return nil
}

// setupTracing installs a jaeger backed tracer provider when tracing is enabled. The returned function flushes
// buffered spans.
func setupTracing(flags CrawlerTracingOpts) (func(context.Context) error, error) {
	if !flags.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	tp, err := metrics.NewJaegerTraceProvider(flags.ServiceName, flags.ProviderURL, flags.JaegerSamplerParam)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	otel.SetTracerProvider(tp)
	// routes spans from libraries still instrumented with OpenCensus through the same provider.
	opencensus.InstallTraceBridge(opencensus.WithTracerProvider(tp))

	return tp.Shutdown, nil
}
