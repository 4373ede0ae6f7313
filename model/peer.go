package model

import (
	"fmt"
	"time"
)

// FreshnessWindow is how recently a peer must have been reported by another node to remain eligible for scanning.
const FreshnessWindow = 24 * time.Hour

// BlockReason records why a peer or one of its resolved IPs is excluded from scanning. The numeric values are
// stored in the database and must not change.
type BlockReason int16

const (
	NotBlocked     BlockReason = 0
	IllegalAddress BlockReason = 1
	OldIP          BlockReason = 2
	Unreachable    BlockReason = 10
)

func (b BlockReason) String() string {
	switch b {
	case NotBlocked:
		return "NOT_BLOCKED"
	case IllegalAddress:
		return "ILLEGAL_ADDRESS"
	case OldIP:
		return "OLD_IP"
	case Unreachable:
		return "UNREACHABLE"
	default:
		return fmt.Sprintf("BLOCK_REASON(%d)", int16(b))
	}
}

// Peer is a node of the BRS network known to the crawler.
type Peer struct {
	tableName struct{} `pg:"peers"` // nolint: structcheck

	ID int64 `pg:",pk"`

	// Address is the canonical host:port of the peer.
	Address string `pg:",notnull,unique"`

	Blocked BlockReason `pg:",notnull,use_zero"`

	// LastSeen is the last time any node reported this peer.
	LastSeen time.Time `pg:",notnull"`

	// LastScanned is the time the peer was last claimed for a scan. The zero value means never.
	LastScanned time.Time
}

// Eligible reports whether the peer may be claimed for a scan at now.
func (p *Peer) Eligible(now time.Time, rescanInterval time.Duration) bool {
	if p.Blocked != NotBlocked {
		return false
	}
	if !p.LastSeen.After(now.Add(-FreshnessWindow)) {
		return false
	}
	return p.LastScanned.IsZero() || !p.LastScanned.After(now.Add(-rescanInterval))
}

// ClaimOrderBefore reports whether p is claimed ahead of o. Peers that were never scanned come first, then the
// oldest by last scan time, falling back to last seen time.
func (p *Peer) ClaimOrderBefore(o *Peer) bool {
	if p.LastScanned.IsZero() != o.LastScanned.IsZero() {
		return p.LastScanned.IsZero()
	}
	return p.orderTime().Before(o.orderTime())
}

func (p *Peer) orderTime() time.Time {
	if p.LastScanned.IsZero() {
		return p.LastSeen
	}
	return p.LastScanned
}
