package model

import (
	"fmt"
	"time"
)

// ScanResult is the outcome of one scan attempt. The numeric values are stored in the database and must not change.
type ScanResult int16

const (
	ResultSuccess         ScanResult = 0
	ResultUnknown         ScanResult = 1
	ResultTimeout         ScanResult = 2
	ResultRefused         ScanResult = 3
	ResultRedirect        ScanResult = 4
	ResultEmptyResponse   ScanResult = 5
	ResultInvalidResponse ScanResult = 6
	ResultIllegalAddress  ScanResult = 7
)

var scanResultNames = map[ScanResult]string{
	ResultSuccess:         "SUCCESS",
	ResultUnknown:         "UNKNOWN",
	ResultTimeout:         "TIMEOUT",
	ResultRefused:         "REFUSED",
	ResultRedirect:        "REDIRECT",
	ResultEmptyResponse:   "EMPTY_RESPONSE",
	ResultInvalidResponse: "INVALID_RESPONSE",
	ResultIllegalAddress:  "ILLEGAL_ADDRESS",
}

func (r ScanResult) String() string {
	if s, ok := scanResultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("SCAN_RESULT(%d)", int16(r))
}

// ScanResults lists every known result in ascending order.
func ScanResults() []ScanResult {
	return []ScanResult{ResultSuccess, ResultUnknown, ResultTimeout, ResultRefused, ResultRedirect, ResultEmptyResponse, ResultInvalidResponse, ResultIllegalAddress}
}

// Scan is an append-only record of one scan attempt against a peer.
type Scan struct {
	tableName struct{} `pg:"scans"` // nolint: structcheck

	ID     int64      `pg:",pk"`
	PeerID int64      `pg:",notnull"`
	Result ScanResult `pg:",notnull,use_zero"`

	// RTT is the round trip time of the getInfo request in milliseconds.
	RTT *int64 `pg:"rtt"`

	VersionID   *int64
	PlatformID  *int64
	PeersCount  *int
	BlockHeight *int64

	CreatedAt time.Time `pg:",notnull"`
}

// ScanInfo is what a successful scan learned about a peer.
type ScanInfo struct {
	RTT                  time.Duration
	Application          string
	Version              string
	Platform             string
	PeersCount           int
	BlockHeight          int64
	CumulativeDifficulty string
}

// ScanVersion maps a reported software version to a small id.
type ScanVersion struct {
	tableName struct{} `pg:"scan_versions"` // nolint: structcheck

	ID      int64  `pg:",pk"`
	Version string `pg:",notnull,unique"`
}

// ScanPlatform maps a reported platform string to a small id.
type ScanPlatform struct {
	tableName struct{} `pg:"scan_platforms"` // nolint: structcheck

	ID       int64  `pg:",pk"`
	Platform string `pg:",notnull,unique"`
}
