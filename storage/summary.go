package storage

import (
	"context"
	"time"

	"github.com/brscrawler/brs-crawler/model"
)

// Store is implemented by Database and MemStorage.
type Store interface {
	ClaimNextPeer(ctx context.Context, rescanInterval time.Duration) (*model.Peer, error)
	RecordSuccess(ctx context.Context, peer *model.Peer, info *model.ScanInfo) error
	RecordFailure(ctx context.Context, peer *model.Peer, result model.ScanResult) error
	BlockPeer(ctx context.Context, peer *model.Peer, reason model.BlockReason, result model.ScanResult) error
	MergeDiscovered(ctx context.Context, addresses []string) (int, error)

	CheckExists(ctx context.Context, peerID int64, ip string) (bool, error)
	UpsertCheck(ctx context.Context, peerID int64, ip string, state model.BlockReason) error
	RetireChecks(ctx context.Context, peerID int64, keepIP string) error

	Summary(ctx context.Context, since time.Time, topVersions int) (*Summary, error)
	Close(ctx context.Context) error
}

var (
	_ Store = (*Database)(nil)
	_ Store = (*MemStorage)(nil)
)

// Summary is an aggregate view of the ledger.
type Summary struct {
	Since         time.Time
	PeersByState  map[model.BlockReason]int
	ScansByResult map[model.ScanResult]int
	// Versions lists the most common software versions among peers successfully scanned since Since.
	Versions []VersionCount
}

type VersionCount struct {
	Version string
	Peers   int
}

func newSummary(since time.Time) *Summary {
	return &Summary{
		Since:         since,
		PeersByState:  map[model.BlockReason]int{},
		ScansByResult: map[model.ScanResult]int{},
	}
}

// TotalPeers is the number of peers in any state.
func (s *Summary) TotalPeers() int {
	total := 0
	for _, n := range s.PeersByState {
		total += n
	}
	return total
}
