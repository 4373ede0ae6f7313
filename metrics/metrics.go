package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var defaultMillisecondsDistribution = view.Distribution(0.1, 0.3, 0.6, 1, 2, 3, 5, 8, 10, 16, 25, 40, 65, 100, 160, 250, 400, 650, 1000, 2000, 5000, 10000, 20000, 30000, 60000)

var (
	Worker, _  = tag.NewKey("worker") // name of the crawler worker
	Result, _  = tag.NewKey("result") // scan result
	Request, _ = tag.NewKey("request")
	Table, _   = tag.NewKey("table") // name of table data is persisted for
	State, _   = tag.NewKey("state") // block state written by ip reconciliation
	Name, _    = tag.NewKey("name")  // name of running instance of the crawler
)

var (
	ScanDuration     = stats.Float64("scan_duration_ms", "Time taken to scan a peer, from claim to recorded outcome", stats.UnitMilliseconds)
	ScanResult       = stats.Int64("scan_result", "Number of scans by result", stats.UnitDimensionless)
	ScanAbandoned    = stats.Int64("scan_abandoned", "Number of scans abandoned because the worker was stopping", stats.UnitDimensionless)
	ScanSkipped      = stats.Int64("scan_skipped", "Number of ticks skipped because earlier scans were still queued", stats.UnitDimensionless)
	ScanPanic        = stats.Int64("scan_panic", "Number of scans that panicked", stats.UnitDimensionless)
	PeerRTT          = stats.Float64("peer_rtt_ms", "Round trip time of getInfo requests to peers", stats.UnitMilliseconds)
	ClaimDuration    = stats.Float64("claim_duration_ms", "Duration of the peer claim transaction", stats.UnitMilliseconds)
	ClaimEmpty       = stats.Int64("claim_empty", "Number of claims that found no eligible peer", stats.UnitDimensionless)
	PeersMerged      = stats.Int64("peers_discovered", "Number of peer addresses merged from discovery", stats.UnitDimensionless)
	PersistFailure   = stats.Int64("persist_failure", "Number of persistence failures", stats.UnitDimensionless)
	IPCheckResult    = stats.Int64("ipcheck_result", "Number of ip checks by resulting state", stats.UnitDimensionless)
	IPCheckFailure   = stats.Int64("ipcheck_failure", "Number of ip reconciliations that failed", stats.UnitDimensionless)
	DBConnectRetry   = stats.Int64("db_connect_retry", "Number of failed attempts to connect to the database", stats.UnitDimensionless)
	WorkerRestart    = stats.Int64("worker_restart", "Number of times a crawler worker was restarted after failing", stats.UnitDimensionless)
	WorkersRunning   = stats.Int64("workers_running", "Current number of running crawler workers", stats.UnitDimensionless)
	ProtocolDuration = stats.Float64("protocol_request_duration_ms", "Duration of peer protocol requests", stats.UnitMilliseconds)
)

var DefaultViews = []*view.View{
	{
		Measure:     ScanDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Result},
	},
	{
		Name:        ScanResult.Name() + "_total",
		Measure:     ScanResult,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Name, Worker, Result},
	},
	{
		Name:        ScanAbandoned.Name() + "_total",
		Measure:     ScanAbandoned,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Worker},
	},
	{
		Name:        ScanSkipped.Name() + "_total",
		Measure:     ScanSkipped,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Worker},
	},
	{
		Name:        ScanPanic.Name() + "_total",
		Measure:     ScanPanic,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Worker},
	},
	{
		Measure:     PeerRTT,
		Aggregation: defaultMillisecondsDistribution,
	},
	{
		Measure:     ClaimDuration,
		Aggregation: defaultMillisecondsDistribution,
	},
	{
		Name:        ClaimEmpty.Name() + "_total",
		Measure:     ClaimEmpty,
		Aggregation: view.Count(),
	},
	{
		Name:        PeersMerged.Name() + "_total",
		Measure:     PeersMerged,
		Aggregation: view.Sum(),
	},
	{
		Name:        PersistFailure.Name() + "_total",
		Measure:     PersistFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Table},
	},
	{
		Name:        IPCheckResult.Name() + "_total",
		Measure:     IPCheckResult,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{State},
	},
	{
		Name:        IPCheckFailure.Name() + "_total",
		Measure:     IPCheckFailure,
		Aggregation: view.Count(),
	},
	{
		Name:        DBConnectRetry.Name() + "_total",
		Measure:     DBConnectRetry,
		Aggregation: view.Count(),
	},
	{
		Name:        WorkerRestart.Name() + "_total",
		Measure:     WorkerRestart,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Worker},
	},
	{
		Measure:     WorkersRunning,
		Aggregation: view.Sum(),
	},
	{
		Measure:     ProtocolDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Request},
	},
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() {
	start := time.Now()
	return func() {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
	}
}

// RecordInc is a convenience function that increments a counter.
func RecordInc(ctx context.Context, m *stats.Int64Measure) {
	stats.Record(ctx, m.M(1))
}

// RecordDec is a convenience function that decrements a counter.
func RecordDec(ctx context.Context, m *stats.Int64Measure) {
	stats.Record(ctx, m.M(-1))
}

// WithTagValue is a convenience function that upserts the tag value in the given context.
func WithTagValue(ctx context.Context, k tag.Key, v string) context.Context {
	ctx, _ = tag.New(ctx, tag.Upsert(k, v))
	return ctx
}
