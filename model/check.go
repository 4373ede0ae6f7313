package model

import "time"

// Check tracks one resolved IP of a peer and whether it answered the last time it was observed.
type Check struct {
	tableName struct{} `pg:"checks"` // nolint: structcheck

	ID          int64       `pg:",pk"`
	PeerID      int64       `pg:",notnull,unique:peer_ip"`
	IP          string      `pg:"ip,notnull,unique:peer_ip"`
	Blocked     BlockReason `pg:",notnull,use_zero"`
	LastScanned time.Time   `pg:",notnull"`
}
