package crawler

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/protocol"
)

// Merger is the part of the store that discovery writes to.
type Merger interface {
	MergeDiscovered(ctx context.Context, addresses []string) (int, error)
}

// Discover normalizes reported addresses and merges them into the store. Empty entries and duplicates are dropped.
// It returns the number of distinct addresses merged.
func Discover(ctx context.Context, m Merger, reported []string, defaultPort int) (int, error) {
	seen := make(map[string]struct{}, len(reported))
	addrs := make([]string, 0, len(reported))
	for _, r := range reported {
		a := protocol.NormalizeAddress(r, defaultPort)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		addrs = append(addrs, a)
	}
	if len(addrs) == 0 {
		return 0, nil
	}

	n, err := m.MergeDiscovered(ctx, addrs)
	if err != nil {
		return 0, xerrors.Errorf("merge discovered: %w", err)
	}
	return n, nil
}
