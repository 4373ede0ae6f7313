package ipcheck

import (
	"context"
	"net"
	"time"

	"github.com/gammazero/workerpool"
	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/metrics"
	"github.com/brscrawler/brs-crawler/model"
	"github.com/brscrawler/brs-crawler/protocol"
)

var log = logging.Logger("crawler/ipcheck")

// Store holds the per-ip checks of peers.
type Store interface {
	CheckExists(ctx context.Context, peerID int64, ip string) (bool, error)
	UpsertCheck(ctx context.Context, peerID int64, ip string, state model.BlockReason) error
	RetireChecks(ctx context.Context, peerID int64, keepIP string) error
}

var (
	DefaultConcurrency = 4
	DefaultTimeout     = 10 * time.Second
)

// Reconciler tracks which IP each peer currently answers on. Work is queued on its own pool so scans never wait
// for it.
type Reconciler struct {
	store    Store
	resolver Resolver
	timeout  time.Duration
	pool     *workerpool.WorkerPool
}

func NewReconciler(store Store, resolver Resolver, concurrency int, timeout time.Duration) *Reconciler {
	if resolver == nil {
		resolver = SystemResolver{}
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Reconciler{
		store:    store,
		resolver: resolver,
		timeout:  timeout,
		pool:     workerpool.New(concurrency),
	}
}

// Submit queues reconciliation of peer with the given check state and returns immediately. It must not be called
// after Close.
func (r *Reconciler) Submit(peer *model.Peer, state model.BlockReason) {
	p := *peer
	r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.Reconcile(ctx, &p, state); err != nil {
			metrics.RecordInc(ctx, metrics.IPCheckFailure)
			log.Errorw("ip reconciliation failed", "address", p.Address, "error", err)
		}
	})
}

// Close waits for queued reconciliations to finish.
func (r *Reconciler) Close() {
	r.pool.StopWait()
}

// Reconcile records state against the IP the peer's address currently points at. Every other check of a domain
// peer is marked OldIP, so at most one check per peer is current; when the domain stops resolving all of them are
// marked OldIP.
func (r *Reconciler) Reconcile(ctx context.Context, peer *model.Peer, state model.BlockReason) error {
	ctx, span := otel.Tracer("").Start(ctx, "Reconciler.Reconcile")
	if span.IsRecording() {
		span.SetAttributes(attribute.String("address", peer.Address), attribute.String("state", state.String()))
	}
	defer span.End()

	host := protocol.Host(peer.Address)
	if ip := net.ParseIP(host); ip != nil {
		return r.record(ctx, peer, ip.String(), state)
	}

	ips, err := r.resolver.LookupIP(ctx, host)
	if err != nil || len(ips) == 0 {
		log.Infow("peer address does not resolve, retiring its ips", "address", peer.Address, "error", err)
		if err := r.store.RetireChecks(ctx, peer.ID, ""); err != nil {
			return xerrors.Errorf("retire checks: %w", err)
		}
		metrics.RecordInc(metrics.WithTagValue(ctx, metrics.State, model.OldIP.String()), metrics.IPCheckResult)
		return nil
	}

	ip := ips[0].String()
	exists, err := r.store.CheckExists(ctx, peer.ID, ip)
	if err != nil {
		return xerrors.Errorf("check exists: %w", err)
	}
	if !exists {
		log.Infow("peer moved to a new ip", "address", peer.Address, "ip", ip)
	}
	// only ip stays current, also when the domain returns to an ip it used before
	if err := r.store.RetireChecks(ctx, peer.ID, ip); err != nil {
		return xerrors.Errorf("retire checks: %w", err)
	}
	return r.record(ctx, peer, ip, state)
}

func (r *Reconciler) record(ctx context.Context, peer *model.Peer, ip string, state model.BlockReason) error {
	if err := r.store.UpsertCheck(ctx, peer.ID, ip, state); err != nil {
		return xerrors.Errorf("upsert check: %w", err)
	}
	metrics.RecordInc(metrics.WithTagValue(ctx, metrics.State, state.String()), metrics.IPCheckResult)
	log.Debugw("recorded ip check", "address", peer.Address, "ip", ip, "state", state)
	return nil
}
