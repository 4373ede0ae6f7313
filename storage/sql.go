package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	lru "github.com/hashicorp/golang-lru"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/metrics"
	"github.com/brscrawler/brs-crawler/model"
)

var log = logging.Logger("crawler/storage")

var (
	ErrSchemaNotInstalled = errors.New("schema not installed in database, run the migrate command")
	ErrSchemaTooOld       = errors.New("database schema is too old and requires migration")
	ErrSchemaTooNew       = errors.New("database schema is too new for this version of the crawler")
	ErrNameTooLong        = errors.New("name exceeds maximum length for postgres application names")
)

// MaxPostgresNameLength is the maximum length of a postgres application name, defined by NAMEDATALEN.
const MaxPostgresNameLength = 64

// lookupCacheSize bounds the number of version and platform ids kept in memory.
const lookupCacheSize = 512

// Database is the shared PostgreSQL store. It is both the work queue and the result ledger of every crawler
// worker, so every method is safe to call from any number of goroutines and processes at once.
type Database struct {
	db         *pg.DB
	opt        *pg.Options
	schemaName string
	clock      clock.Clock

	versions  *lru.ARCCache
	platforms *lru.ARCCache
}

// NewDatabase prepares a Database for the given connection URL. No connection is made until Connect is called.
func NewDatabase(ctx context.Context, url string, poolSize int, name string, schemaName string) (*Database, error) {
	if len(name) > MaxPostgresNameLength {
		return nil, ErrNameTooLong
	}
	if schemaName == "" {
		schemaName = "public"
	}

	opt, err := pg.ParseURL(url)
	if err != nil {
		return nil, xerrors.Errorf("parse database URL: %w", err)
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}
	if opt.ApplicationName == "" {
		opt.ApplicationName = name
	}
	if schemaName != "public" {
		opt.OnConnect = func(ctx context.Context, conn *pg.Conn) error {
			_, err := conn.ExecContext(ctx, "SET search_path TO ?,public", pg.Ident(schemaName))
			return err
		}
	}

	versions, err := lru.NewARC(lookupCacheSize)
	if err != nil {
		return nil, xerrors.Errorf("new version cache: %w", err)
	}
	platforms, err := lru.NewARC(lookupCacheSize)
	if err != nil {
		return nil, xerrors.Errorf("new platform cache: %w", err)
	}

	return &Database{
		opt:        opt,
		schemaName: schemaName,
		clock:      clock.New(),
		versions:   versions,
		platforms:  platforms,
	}, nil
}

// Connect opens the connection pool and verifies that the installed schema is supported.
func (d *Database) Connect(ctx context.Context) error {
	if d.db != nil {
		return nil
	}

	db, err := connect(ctx, d.opt)
	if err != nil {
		return xerrors.Errorf("connect: %w", err)
	}

	if _, err := validateDatabaseSchemaVersion(ctx, db, d.schemaName); err != nil {
		_ = db.Close() // nolint: errcheck
		return xerrors.Errorf("validate schema: %w", err)
	}

	d.db = db
	return nil
}

func connect(ctx context.Context, opt *pg.Options) (*pg.DB, error) {
	db := pg.Connect(opt)

	// Check if connection credentials are valid and PostgreSQL is up and running.
	if err := db.Ping(ctx); err != nil {
		return nil, multierr.Append(xerrors.Errorf("ping database: %w", err), db.Close())
	}
	return db, nil
}

func (d *Database) Close(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// ClaimNextPeer selects the next eligible peer, stamps its last_scanned time and returns it. Rows locked by another
// claim in flight are skipped, so concurrent callers never receive the same peer. It returns nil when no peer is
// eligible.
func (d *Database) ClaimNextPeer(ctx context.Context, rescanInterval time.Duration) (*model.Peer, error) {
	ctx, span := otel.Tracer("").Start(ctx, "Database.ClaimNextPeer")
	defer span.End()

	stop := metrics.Timer(ctx, metrics.ClaimDuration)
	defer stop()

	var claimed *model.Peer
	err := d.db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		now := d.clock.Now()

		var peer model.Peer
		err := tx.ModelContext(ctx, &peer).
			Where("blocked = ?", model.NotBlocked).
			Where("last_seen > ?", now.Add(-model.FreshnessWindow)).
			WhereGroup(func(q *orm.Query) (*orm.Query, error) {
				return q.Where("last_scanned IS NULL").WhereOr("last_scanned <= ?", now.Add(-rescanInterval)), nil
			}).
			OrderExpr("last_scanned IS NULL DESC").
			OrderExpr("COALESCE(last_scanned, last_seen) ASC").
			Limit(1).
			For("UPDATE SKIP LOCKED").
			Select()
		if err != nil {
			if errors.Is(err, pg.ErrNoRows) {
				return nil
			}
			return xerrors.Errorf("select peer: %w", err)
		}

		if _, err := tx.ModelContext(ctx, &peer).Set("last_scanned = ?", now).WherePK().Update(); err != nil {
			return xerrors.Errorf("stamp peer: %w", err)
		}
		peer.LastScanned = now
		claimed = &peer
		return nil
	})
	if err != nil {
		return nil, err
	}

	if claimed == nil {
		stats.Record(ctx, metrics.ClaimEmpty.M(1))
	} else if span.IsRecording() {
		span.SetAttributes(attribute.String("address", claimed.Address))
	}
	return claimed, nil
}

// RecordSuccess appends a successful scan of peer.
func (d *Database) RecordSuccess(ctx context.Context, peer *model.Peer, info *model.ScanInfo) error {
	scan := newScan(peer, model.ResultSuccess, d.clock.Now())
	rtt := info.RTT.Milliseconds()
	peersCount := info.PeersCount
	height := info.BlockHeight
	scan.RTT = &rtt
	scan.PeersCount = &peersCount
	scan.BlockHeight = &height

	var err error
	if scan.VersionID, err = d.versionID(ctx, info.Version); err != nil {
		return xerrors.Errorf("version id: %w", err)
	}
	if scan.PlatformID, err = d.platformID(ctx, info.Platform); err != nil {
		return xerrors.Errorf("platform id: %w", err)
	}

	return d.insertScan(ctx, d.db, scan)
}

// RecordFailure appends a failed scan of peer without changing the peer.
func (d *Database) RecordFailure(ctx context.Context, peer *model.Peer, result model.ScanResult) error {
	return d.insertScan(ctx, d.db, newScan(peer, result, d.clock.Now()))
}

// BlockPeer sets the block reason of peer and appends the scan that caused it, atomically.
func (d *Database) BlockPeer(ctx context.Context, peer *model.Peer, reason model.BlockReason, result model.ScanResult) error {
	return d.db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		if _, err := tx.ModelContext(ctx, peer).Set("blocked = ?", reason).WherePK().Update(); err != nil {
			return xerrors.Errorf("block peer: %w", err)
		}
		peer.Blocked = reason
		return d.insertScan(ctx, tx, newScan(peer, result, d.clock.Now()))
	})
}

func newScan(peer *model.Peer, result model.ScanResult, now time.Time) *model.Scan {
	return &model.Scan{
		PeerID:    peer.ID,
		Result:    result,
		CreatedAt: now,
	}
}

func (d *Database) insertScan(ctx context.Context, db orm.DB, scan *model.Scan) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "scans"))
	if _, err := db.ModelContext(ctx, scan).Insert(); err != nil {
		stats.Record(ctx, metrics.PersistFailure.M(1))
		return xerrors.Errorf("insert scan: %w", err)
	}
	return nil
}

func (d *Database) versionID(ctx context.Context, version string) (*int64, error) {
	return lookupID(d.versions, version, func() (int64, error) {
		v := &model.ScanVersion{Version: version}
		_, err := d.db.ModelContext(ctx, v).
			Where("version = ?version").
			OnConflict("DO NOTHING").
			SelectOrInsert()
		return v.ID, err
	})
}

func (d *Database) platformID(ctx context.Context, platform string) (*int64, error) {
	return lookupID(d.platforms, platform, func() (int64, error) {
		p := &model.ScanPlatform{Platform: platform}
		_, err := d.db.ModelContext(ctx, p).
			Where("platform = ?platform").
			OnConflict("DO NOTHING").
			SelectOrInsert()
		return p.ID, err
	})
}

// lookupID returns the id for a lookup table value, fetching and caching it on a miss. Empty values have no id.
func lookupID(cache *lru.ARCCache, value string, fetch func() (int64, error)) (*int64, error) {
	if value == "" {
		return nil, nil
	}
	if id, ok := cache.Get(value); ok {
		v := id.(int64)
		return &v, nil
	}
	id, err := fetch()
	if err != nil {
		return nil, err
	}
	cache.Add(value, id)
	return &id, nil
}

// MergeDiscovered inserts addresses not yet known and refreshes the last seen time of those that are. The block
// state of known peers is left untouched. It returns the number of distinct addresses merged.
func (d *Database) MergeDiscovered(ctx context.Context, addresses []string) (int, error) {
	ctx, span := otel.Tracer("").Start(ctx, "Database.MergeDiscovered")
	defer span.End()

	addrs := dedupe(addresses)
	if len(addrs) == 0 {
		return 0, nil
	}
	if span.IsRecording() {
		span.SetAttributes(attribute.Int("count", len(addrs)))
	}

	now := d.clock.Now()
	peers := make([]*model.Peer, 0, len(addrs))
	for _, a := range addrs {
		peers = append(peers, &model.Peer{Address: a, Blocked: model.NotBlocked, LastSeen: now})
	}

	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "peers"))
	if _, err := d.db.ModelContext(ctx, &peers).
		OnConflict("(address) DO UPDATE").
		Set("last_seen = EXCLUDED.last_seen").
		Insert(); err != nil {
		stats.Record(ctx, metrics.PersistFailure.M(1))
		return 0, xerrors.Errorf("merge peers: %w", err)
	}
	stats.Record(ctx, metrics.PeersMerged.M(int64(len(addrs))))
	return len(addrs), nil
}

// dedupe drops empty and repeated addresses. The result is sorted so concurrent merges lock rows in the same order.
func dedupe(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// CheckExists reports whether a check for the peer and ip has been recorded.
func (d *Database) CheckExists(ctx context.Context, peerID int64, ip string) (bool, error) {
	exists, err := d.db.ModelContext(ctx, (*model.Check)(nil)).
		Where("peer_id = ?", peerID).
		Where("ip = ?", ip).
		Exists()
	if err != nil {
		return false, xerrors.Errorf("check exists: %w", err)
	}
	return exists, nil
}

// UpsertCheck records the state of one resolved ip of a peer. Concurrent upserts of the same pair converge on the
// last write.
func (d *Database) UpsertCheck(ctx context.Context, peerID int64, ip string, state model.BlockReason) error {
	check := &model.Check{
		PeerID:      peerID,
		IP:          ip,
		Blocked:     state,
		LastScanned: d.clock.Now(),
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "checks"))
	if _, err := d.db.ModelContext(ctx, check).
		OnConflict("(peer_id, ip) DO UPDATE").
		Set("blocked = EXCLUDED.blocked").
		Set("last_scanned = EXCLUDED.last_scanned").
		Insert(); err != nil {
		stats.Record(ctx, metrics.PersistFailure.M(1))
		return xerrors.Errorf("upsert check: %w", err)
	}
	return nil
}

// RetireChecks marks every check of the peer as OldIP, except the one for keepIP if it is not empty.
func (d *Database) RetireChecks(ctx context.Context, peerID int64, keepIP string) error {
	q := d.db.ModelContext(ctx, (*model.Check)(nil)).
		Set("blocked = ?", model.OldIP).
		Where("peer_id = ?", peerID)
	if keepIP != "" {
		q = q.Where("ip <> ?", keepIP)
	}
	if _, err := q.Update(); err != nil {
		return xerrors.Errorf("retire checks: %w", err)
	}
	return nil
}

// Summary aggregates the state of the ledger for reporting.
func (d *Database) Summary(ctx context.Context, since time.Time, topVersions int) (*Summary, error) {
	s := newSummary(since)

	var peerRows []struct {
		Blocked model.BlockReason
		Count   int
	}
	if _, err := d.db.QueryContext(ctx, &peerRows, `SELECT blocked, count(*) AS count FROM peers GROUP BY blocked`); err != nil {
		return nil, xerrors.Errorf("count peers: %w", err)
	}
	for _, r := range peerRows {
		s.PeersByState[r.Blocked] = r.Count
	}

	var scanRows []struct {
		Result model.ScanResult
		Count  int
	}
	if _, err := d.db.QueryContext(ctx, &scanRows, `SELECT result, count(*) AS count FROM scans WHERE created_at >= ? GROUP BY result`, since); err != nil {
		return nil, xerrors.Errorf("count scans: %w", err)
	}
	for _, r := range scanRows {
		s.ScansByResult[r.Result] = r.Count
	}

	if _, err := d.db.QueryContext(ctx, &s.Versions, `
		SELECT v.version, count(DISTINCT s.peer_id) AS peers
		FROM scans s JOIN scan_versions v ON v.id = s.version_id
		WHERE s.created_at >= ? AND s.result = ?
		GROUP BY v.version
		ORDER BY peers DESC, v.version
		LIMIT ?`, since, model.ResultSuccess, topVersions); err != nil {
		return nil, xerrors.Errorf("count versions: %w", err)
	}

	return s, nil
}
