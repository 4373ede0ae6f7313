package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/raulk/clock"

	"github.com/brscrawler/brs-crawler/model"
)

// MemStorage keeps the ledger in process memory. It honours the same claim and merge rules as Database and is used
// for tests and dry runs.
type MemStorage struct {
	DataMu sync.Mutex

	Peers  []*model.Peer
	Scans  []*model.Scan
	Checks []*model.Check
	// Versions and Platforms map reported strings to the ids stored on scans.
	Versions  map[string]int64
	Platforms map[string]int64

	clock clock.Clock
}

func NewMemStorage(clk clock.Clock) *MemStorage {
	if clk == nil {
		clk = clock.New()
	}
	return &MemStorage{
		Versions:  map[string]int64{},
		Platforms: map[string]int64{},
		clock:     clk,
	}
}

func (m *MemStorage) ClaimNextPeer(ctx context.Context, rescanInterval time.Duration) (*model.Peer, error) {
	m.DataMu.Lock()
	defer m.DataMu.Unlock()

	now := m.clock.Now()
	var next *model.Peer
	for _, p := range m.Peers {
		if !p.Eligible(now, rescanInterval) {
			continue
		}
		if next == nil || p.ClaimOrderBefore(next) {
			next = p
		}
	}
	if next == nil {
		return nil, nil
	}

	next.LastScanned = now
	claimed := *next
	return &claimed, nil
}

func (m *MemStorage) RecordSuccess(ctx context.Context, peer *model.Peer, info *model.ScanInfo) error {
	m.DataMu.Lock()
	defer m.DataMu.Unlock()

	scan := m.newScan(peer, model.ResultSuccess)
	rtt := info.RTT.Milliseconds()
	peersCount := info.PeersCount
	height := info.BlockHeight
	scan.RTT = &rtt
	scan.PeersCount = &peersCount
	scan.BlockHeight = &height
	scan.VersionID = lookupMem(m.Versions, info.Version)
	scan.PlatformID = lookupMem(m.Platforms, info.Platform)
	m.Scans = append(m.Scans, scan)
	return nil
}

func lookupMem(ids map[string]int64, value string) *int64 {
	if value == "" {
		return nil
	}
	id, ok := ids[value]
	if !ok {
		id = int64(len(ids) + 1)
		ids[value] = id
	}
	return &id
}

func (m *MemStorage) RecordFailure(ctx context.Context, peer *model.Peer, result model.ScanResult) error {
	m.DataMu.Lock()
	defer m.DataMu.Unlock()

	m.Scans = append(m.Scans, m.newScan(peer, result))
	return nil
}

func (m *MemStorage) BlockPeer(ctx context.Context, peer *model.Peer, reason model.BlockReason, result model.ScanResult) error {
	m.DataMu.Lock()
	defer m.DataMu.Unlock()

	for _, p := range m.Peers {
		if p.ID == peer.ID {
			p.Blocked = reason
		}
	}
	peer.Blocked = reason
	m.Scans = append(m.Scans, m.newScan(peer, result))
	return nil
}

func (m *MemStorage) newScan(peer *model.Peer, result model.ScanResult) *model.Scan {
	return &model.Scan{
		ID:        int64(len(m.Scans) + 1),
		PeerID:    peer.ID,
		Result:    result,
		CreatedAt: m.clock.Now(),
	}
}

func (m *MemStorage) MergeDiscovered(ctx context.Context, addresses []string) (int, error) {
	addrs := dedupe(addresses)

	m.DataMu.Lock()
	defer m.DataMu.Unlock()

	now := m.clock.Now()
	for _, a := range addrs {
		if p := m.peerByAddress(a); p != nil {
			p.LastSeen = now
			continue
		}
		m.Peers = append(m.Peers, &model.Peer{
			ID:       int64(len(m.Peers) + 1),
			Address:  a,
			Blocked:  model.NotBlocked,
			LastSeen: now,
		})
	}
	return len(addrs), nil
}

func (m *MemStorage) peerByAddress(addr string) *model.Peer {
	for _, p := range m.Peers {
		if p.Address == addr {
			return p
		}
	}
	return nil
}

// Peer returns a copy of the peer with the given address, or nil if it is unknown.
func (m *MemStorage) Peer(addr string) *model.Peer {
	m.DataMu.Lock()
	defer m.DataMu.Unlock()

	p := m.peerByAddress(addr)
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// ScansOf returns copies of the scans recorded for a peer, oldest first.
func (m *MemStorage) ScansOf(peerID int64) []model.Scan {
	m.DataMu.Lock()
	defer m.DataMu.Unlock()

	var out []model.Scan
	for _, s := range m.Scans {
		if s.PeerID == peerID {
			out = append(out, *s)
		}
	}
	return out
}

// ChecksOf returns copies of the checks recorded for a peer.
func (m *MemStorage) ChecksOf(peerID int64) []model.Check {
	m.DataMu.Lock()
	defer m.DataMu.Unlock()

	var out []model.Check
	for _, c := range m.Checks {
		if c.PeerID == peerID {
			out = append(out, *c)
		}
	}
	return out
}

func (m *MemStorage) CheckExists(ctx context.Context, peerID int64, ip string) (bool, error) {
	m.DataMu.Lock()
	defer m.DataMu.Unlock()

	return m.check(peerID, ip) != nil, nil
}

func (m *MemStorage) check(peerID int64, ip string) *model.Check {
	for _, c := range m.Checks {
		if c.PeerID == peerID && c.IP == ip {
			return c
		}
	}
	return nil
}

func (m *MemStorage) UpsertCheck(ctx context.Context, peerID int64, ip string, state model.BlockReason) error {
	m.DataMu.Lock()
	defer m.DataMu.Unlock()

	now := m.clock.Now()
	if c := m.check(peerID, ip); c != nil {
		c.Blocked = state
		c.LastScanned = now
		return nil
	}
	m.Checks = append(m.Checks, &model.Check{
		ID:          int64(len(m.Checks) + 1),
		PeerID:      peerID,
		IP:          ip,
		Blocked:     state,
		LastScanned: now,
	})
	return nil
}

func (m *MemStorage) RetireChecks(ctx context.Context, peerID int64, keepIP string) error {
	m.DataMu.Lock()
	defer m.DataMu.Unlock()

	for _, c := range m.Checks {
		if c.PeerID == peerID && (keepIP == "" || c.IP != keepIP) {
			c.Blocked = model.OldIP
		}
	}
	return nil
}

func (m *MemStorage) Summary(ctx context.Context, since time.Time, topVersions int) (*Summary, error) {
	m.DataMu.Lock()
	defer m.DataMu.Unlock()

	s := newSummary(since)
	for _, p := range m.Peers {
		s.PeersByState[p.Blocked]++
	}

	names := make(map[int64]string, len(m.Versions))
	for v, id := range m.Versions {
		names[id] = v
	}
	peersByVersion := map[string]map[int64]struct{}{}
	for _, sc := range m.Scans {
		if sc.CreatedAt.Before(since) {
			continue
		}
		s.ScansByResult[sc.Result]++
		if sc.Result != model.ResultSuccess || sc.VersionID == nil {
			continue
		}
		v := names[*sc.VersionID]
		if peersByVersion[v] == nil {
			peersByVersion[v] = map[int64]struct{}{}
		}
		peersByVersion[v][sc.PeerID] = struct{}{}
	}

	for v, peers := range peersByVersion {
		s.Versions = append(s.Versions, VersionCount{Version: v, Peers: len(peers)})
	}
	sort.Slice(s.Versions, func(i, j int) bool {
		if s.Versions[i].Peers != s.Versions[j].Peers {
			return s.Versions[i].Peers > s.Versions[j].Peers
		}
		return s.Versions[i].Version < s.Versions[j].Version
	})
	if len(s.Versions) > topVersions {
		s.Versions = s.Versions[:topVersions]
	}
	return s, nil
}

func (m *MemStorage) Close(ctx context.Context) error {
	return nil
}
