package crawler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/gammazero/workerpool"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.opencensus.io/stats"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/metrics"
	"github.com/brscrawler/brs-crawler/model"
	"github.com/brscrawler/brs-crawler/protocol"
	"github.com/brscrawler/brs-crawler/wait"
)

var log = logging.Logger("crawler")

// Storage is the ledger a crawler claims peers from and records outcomes to.
type Storage interface {
	Merger
	ClaimNextPeer(ctx context.Context, rescanInterval time.Duration) (*model.Peer, error)
	RecordSuccess(ctx context.Context, peer *model.Peer, info *model.ScanInfo) error
	RecordFailure(ctx context.Context, peer *model.Peer, result model.ScanResult) error
	BlockPeer(ctx context.Context, peer *model.Peer, reason model.BlockReason, result model.ScanResult) error
}

// Client makes the three requests of a scan.
type Client interface {
	GetInfo(ctx context.Context, address string, timeout time.Duration) (*protocol.InfoResponse, time.Duration, error)
	GetPeers(ctx context.Context, address string, timeout time.Duration) (*protocol.PeersResponse, error)
	GetCumulativeDifficulty(ctx context.Context, address string, timeout time.Duration) (*protocol.CumulativeDifficultyResponse, error)
}

// Reconciler receives the check state of every scanned peer. Submit must not block.
type Reconciler interface {
	Submit(peer *model.Peer, state model.BlockReason)
}

type Config struct {
	// Timeout bounds each protocol request.
	Timeout time.Duration
	// RescanInterval is the minimum time between two scans of the same peer.
	RescanInterval time.Duration
	// TickInterval is how often a new scan is started.
	TickInterval time.Duration
	// WriteTimeout bounds recording the outcome of a scan.
	WriteTimeout time.Duration
	// DefaultPort is appended to discovered addresses that carry none.
	DefaultPort int
	// MaxConcurrentScans bounds the scans in flight at once.
	MaxConcurrentScans int
}

var (
	DefaultTimeout            = 10 * time.Second
	DefaultRescanInterval     = 15 * time.Minute
	DefaultTickInterval       = 500 * time.Millisecond
	DefaultMaxConcurrentScans = 20
)

func DefaultConfig() Config {
	return Config{
		Timeout:            DefaultTimeout,
		RescanInterval:     DefaultRescanInterval,
		TickInterval:       DefaultTickInterval,
		WriteTimeout:       DefaultTimeout,
		DefaultPort:        protocol.DefaultPort,
		MaxConcurrentScans: DefaultMaxConcurrentScans,
	}
}

type Option func(*Crawler)

// WithReconciler hands the check state of every recorded scan to r.
func WithReconciler(r Reconciler) Option {
	return func(c *Crawler) {
		c.reconciler = r
	}
}

// WithClock sets the clock driving the scan ticker.
func WithClock(clk clock.Clock) Option {
	return func(c *Crawler) {
		c.clock = clk
	}
}

// Crawler is one worker of the fleet. It repeatedly claims a peer from the store, scans it and records the
// outcome. Any number of crawlers may share a store.
type Crawler struct {
	name       string
	store      Storage
	client     Client
	reconciler Reconciler
	cfg        Config
	clock      clock.Clock
}

func New(name string, store Storage, client Client, cfg Config, opts ...Option) *Crawler {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = def.RescanInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = cfg.Timeout
	}
	if cfg.DefaultPort == 0 {
		cfg.DefaultPort = def.DefaultPort
	}
	if cfg.MaxConcurrentScans <= 0 {
		cfg.MaxConcurrentScans = def.MaxConcurrentScans
	}

	c := &Crawler{
		name:   name,
		store:  store,
		client: client,
		cfg:    cfg,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run starts a scan every tick until the context is done. Scans run on a pool of at most MaxConcurrentScans
// workers; a tick that finds scans still queued is skipped. Run waits for scans in flight before returning.
func (c *Crawler) Run(ctx context.Context) error {
	log.Infow("starting crawler", "worker", c.name, "tick", c.cfg.TickInterval, "rescan", c.cfg.RescanInterval)
	pool := workerpool.New(c.cfg.MaxConcurrentScans)
	defer pool.StopWait()

	return wait.RepeatUntil(ctx, c.clock, c.cfg.TickInterval, func(ctx context.Context) (bool, error) {
		if pool.WaitingQueueSize() > 0 {
			metrics.RecordInc(ctx, metrics.ScanSkipped)
			log.Debugw("scans backlogged, skipping tick", "worker", c.name, "waiting", pool.WaitingQueueSize())
			return false, nil
		}
		pool.Submit(func() {
			c.scanTask(ctx)
		})
		return false, nil
	})
}

// scanTask runs one scan. Errors and panics end the task and are logged, the crawler carries on.
func (c *Crawler) scanTask(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordInc(ctx, metrics.ScanPanic)
			log.Errorw("scan panicked", "worker", c.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if ctx.Err() != nil {
		return
	}
	if _, err := c.Scan(ctx); err != nil {
		log.Errorw("scan failed", "worker", c.name, "error", err)
	}
}

// Scan claims the next eligible peer and scans it. It returns false when no peer was eligible.
func (c *Crawler) Scan(ctx context.Context) (bool, error) {
	ctx, span := otel.Tracer("").Start(ctx, "Crawler.Scan")
	defer span.End()

	peer, err := c.store.ClaimNextPeer(ctx, c.cfg.RescanInterval)
	if err != nil {
		return false, xerrors.Errorf("claim next peer: %w", err)
	}
	if peer == nil {
		log.Debugw("no peer eligible for scanning", "worker", c.name)
		return false, nil
	}
	return true, c.ScanPeer(ctx, peer)
}

// ScanPeer queries a claimed peer and records exactly one outcome for it. The outcome is written even if the
// context is cancelled once the requests have completed. If the context is cancelled while the requests are in
// flight the scan is abandoned and nothing is recorded.
func (c *Crawler) ScanPeer(ctx context.Context, peer *model.Peer) error {
	ctx, span := otel.Tracer("").Start(ctx, "Crawler.ScanPeer")
	if span.IsRecording() {
		span.SetAttributes(attribute.String("address", peer.Address), attribute.Int64("peer", peer.ID))
	}
	defer span.End()

	start := c.clock.Now()
	info, reported, err := c.probe(ctx, peer.Address)
	if err != nil && ctx.Err() != nil {
		metrics.RecordInc(ctx, metrics.ScanAbandoned)
		log.Infow("scan abandoned", "worker", c.name, "address", peer.Address)
		return nil
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.WriteTimeout)
	defer cancel()

	var result model.ScanResult
	if err == nil {
		result = model.ResultSuccess
		if err := c.store.RecordSuccess(wctx, peer, info); err != nil {
			return xerrors.Errorf("record success: %w", err)
		}
		n, err := Discover(wctx, c.store, reported, c.cfg.DefaultPort)
		if err != nil {
			log.Errorw("peer discovery failed", "worker", c.name, "address", peer.Address, "error", err)
		}
		stats.Record(ctx, metrics.PeerRTT.M(float64(info.RTT.Nanoseconds())/1e6))
		log.Infow("scanned peer", "worker", c.name, "address", peer.Address, "result", result,
			"version", info.Version, "platform", info.Platform, "height", info.BlockHeight,
			"rtt", info.RTT, "reported", len(reported), "merged", n)
	} else {
		out := Classify(err)
		result = out.Result
		if out.Blocks() {
			if err := c.store.BlockPeer(wctx, peer, out.Block, out.Result); err != nil {
				return xerrors.Errorf("block peer: %w", err)
			}
		} else if err := c.store.RecordFailure(wctx, peer, out.Result); err != nil {
			return xerrors.Errorf("record failure: %w", err)
		}
		log.Infow("scanned peer", "worker", c.name, "address", peer.Address, "result", result,
			"blocked", out.Block, "error", err)
	}

	if c.reconciler != nil {
		c.reconciler.Submit(peer, CheckState(result))
	}

	rctx := metrics.WithTagValue(ctx, metrics.Result, result.String())
	metrics.RecordInc(rctx, metrics.ScanResult)
	stats.Record(rctx, metrics.ScanDuration.M(float64(c.clock.Since(start).Nanoseconds())/1e6))
	return nil
}

// probe sends the three requests of a scan in parallel. The first failure cancels the others and is returned.
func (c *Crawler) probe(ctx context.Context, address string) (*model.ScanInfo, []string, error) {
	var (
		info  *protocol.InfoResponse
		rtt   time.Duration
		peers *protocol.PeersResponse
		diff  *protocol.CumulativeDifficultyResponse
	)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(recovered(func() error {
		var err error
		info, rtt, err = c.client.GetInfo(gctx, address, c.cfg.Timeout)
		return err
	}))
	grp.Go(recovered(func() error {
		var err error
		peers, err = c.client.GetPeers(gctx, address, c.cfg.Timeout)
		return err
	}))
	grp.Go(recovered(func() error {
		var err error
		diff, err = c.client.GetCumulativeDifficulty(gctx, address, c.cfg.Timeout)
		return err
	}))
	if err := grp.Wait(); err != nil {
		return nil, nil, err
	}

	reported := peers.List()
	return &model.ScanInfo{
		RTT:                  rtt,
		Application:          deref(info.Application),
		Version:              deref(info.Version),
		Platform:             deref(info.Platform),
		PeersCount:           len(reported),
		BlockHeight:          deref(diff.BlockchainHeight),
		CumulativeDifficulty: deref(diff.CumulativeDifficulty),
	}, reported, nil
}

// recovered turns a panic in fn into an error so it is classified like any other failed request.
func recovered(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = xerrors.Errorf("request panicked: %v", r)
			}
		}()
		return fn()
	}
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}
