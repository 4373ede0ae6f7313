package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brscrawler/brs-crawler/model"
	"github.com/brscrawler/brs-crawler/testutil"
)

const testRescan = 15 * time.Minute

type storeFactory func(t *testing.T, clk *clock.Mock) Store

// runStoreTests exercises the claim, merge and outcome rules that every Store must follow.
func runStoreTests(t *testing.T, newStore storeFactory) {
	t.Run("claim is mutually exclusive", func(t *testing.T) {
		ctx := context.Background()
		clk := testutil.NewMockClock()
		s := newStore(t, clk)

		var addrs []string
		for i := 0; i < 40; i++ {
			addrs = append(addrs, fmt.Sprintf("10.0.0.%d:8123", i))
		}
		n, err := s.MergeDiscovered(ctx, addrs)
		require.NoError(t, err)
		require.Equal(t, 40, n)

		var mu sync.Mutex
		claimed := map[int64]int{}
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					p, err := s.ClaimNextPeer(ctx, testRescan)
					if !assert.NoError(t, err) || p == nil {
						return
					}
					mu.Lock()
					claimed[p.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, claimed, 40)
		for id, count := range claimed {
			assert.Equal(t, 1, count, "peer %d claimed more than once", id)
		}
	})

	t.Run("never scanned peers are claimed first", func(t *testing.T) {
		ctx := context.Background()
		clk := testutil.NewMockClock()
		s := newStore(t, clk)

		_, err := s.MergeDiscovered(ctx, []string{"10.0.0.1:8123"})
		require.NoError(t, err)
		first, err := s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, "10.0.0.1:8123", first.Address)
		assert.Equal(t, clk.Now().Unix(), first.LastScanned.Unix())

		clk.Add(testRescan)
		_, err = s.MergeDiscovered(ctx, []string{"10.0.0.2:8123"})
		require.NoError(t, err)

		// both are eligible, the unscanned one wins
		next, err := s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, "10.0.0.2:8123", next.Address)

		next, err = s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, "10.0.0.1:8123", next.Address)
	})

	t.Run("rescan cadence", func(t *testing.T) {
		ctx := context.Background()
		clk := testutil.NewMockClock()
		s := newStore(t, clk)

		_, err := s.MergeDiscovered(ctx, []string{"10.0.0.1:8123"})
		require.NoError(t, err)

		p, err := s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		require.NotNil(t, p)

		clk.Add(testRescan - time.Second)
		p, err = s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		assert.Nil(t, p)

		clk.Add(time.Second)
		p, err = s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		assert.NotNil(t, p)
	})

	t.Run("stale peers are not claimed until seen again", func(t *testing.T) {
		ctx := context.Background()
		clk := testutil.NewMockClock()
		s := newStore(t, clk)

		_, err := s.MergeDiscovered(ctx, []string{"10.0.0.1:8123"})
		require.NoError(t, err)

		clk.Add(model.FreshnessWindow + time.Minute)
		p, err := s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		assert.Nil(t, p)

		_, err = s.MergeDiscovered(ctx, []string{"10.0.0.1:8123"})
		require.NoError(t, err)
		p, err = s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		assert.NotNil(t, p)
	})

	t.Run("merge is idempotent and keeps block state", func(t *testing.T) {
		ctx := context.Background()
		clk := testutil.NewMockClock()
		s := newStore(t, clk)

		n, err := s.MergeDiscovered(ctx, []string{"10.0.0.1:8123", "10.0.0.1:8123", "", "10.0.0.2:8123"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		p, err := s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		require.NotNil(t, p)
		require.NoError(t, s.BlockPeer(ctx, p, model.IllegalAddress, model.ResultIllegalAddress))
		assert.Equal(t, model.IllegalAddress, p.Blocked)

		_, err = s.MergeDiscovered(ctx, []string{"10.0.0.1:8123", "10.0.0.2:8123"})
		require.NoError(t, err)

		sum, err := s.Summary(ctx, time.Time{}, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, sum.TotalPeers())
		assert.Equal(t, 1, sum.PeersByState[model.IllegalAddress])
		assert.Equal(t, 1, sum.PeersByState[model.NotBlocked])
		assert.Equal(t, 1, sum.ScansByResult[model.ResultIllegalAddress])

		// the blocked peer is never claimed again
		clk.Add(testRescan)
		other, err := s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		require.NotNil(t, other)
		assert.NotEqual(t, p.ID, other.ID)
		clk.Add(testRescan)
		again, err := s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, other.ID, again.ID)
	})

	t.Run("merging again advances last seen", func(t *testing.T) {
		ctx := context.Background()
		clk := testutil.NewMockClock()
		s := newStore(t, clk)

		_, err := s.MergeDiscovered(ctx, []string{"10.0.0.1:8123"})
		require.NoError(t, err)

		clk.Add(time.Hour)
		later := clk.Now()
		n, err := s.MergeDiscovered(ctx, []string{"10.0.0.1:8123", "10.0.0.1:8123"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		sum, err := s.Summary(ctx, time.Time{}, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.TotalPeers())

		p, err := s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "10.0.0.1:8123", p.Address)
		assert.WithinDuration(t, later, p.LastSeen, time.Millisecond)
		assert.WithinDuration(t, testutil.KnownTime.Add(time.Hour), p.LastSeen, time.Millisecond)
	})

	t.Run("outcomes append one scan each", func(t *testing.T) {
		ctx := context.Background()
		clk := testutil.NewMockClock()
		s := newStore(t, clk)

		_, err := s.MergeDiscovered(ctx, []string{"10.0.0.1:8123"})
		require.NoError(t, err)
		p, err := s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		require.NotNil(t, p)

		require.NoError(t, s.RecordSuccess(ctx, p, &model.ScanInfo{
			RTT:         120 * time.Millisecond,
			Application: "BRS",
			Version:     "v2.5.4",
			Platform:    "PC",
			PeersCount:  2,
			BlockHeight: 812345,
		}))
		require.NoError(t, s.RecordSuccess(ctx, p, &model.ScanInfo{Version: "v2.5.4", Platform: "PC"}))
		require.NoError(t, s.RecordFailure(ctx, p, model.ResultTimeout))

		sum, err := s.Summary(ctx, testutil.KnownTime, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, sum.ScansByResult[model.ResultSuccess])
		assert.Equal(t, 1, sum.ScansByResult[model.ResultTimeout])
		assert.Equal(t, []VersionCount{{Version: "v2.5.4", Peers: 1}}, sum.Versions)
		assert.Equal(t, 1, sum.PeersByState[model.NotBlocked])
	})

	t.Run("checks", func(t *testing.T) {
		ctx := context.Background()
		clk := testutil.NewMockClock()
		s := newStore(t, clk)

		_, err := s.MergeDiscovered(ctx, []string{"node.example.org:8123"})
		require.NoError(t, err)
		p, err := s.ClaimNextPeer(ctx, testRescan)
		require.NoError(t, err)
		require.NotNil(t, p)

		exists, err := s.CheckExists(ctx, p.ID, "1.2.3.4")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, s.UpsertCheck(ctx, p.ID, "1.2.3.4", model.NotBlocked))
		require.NoError(t, s.UpsertCheck(ctx, p.ID, "1.2.3.4", model.Unreachable))
		exists, err = s.CheckExists(ctx, p.ID, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, s.RetireChecks(ctx, p.ID, "5.6.7.8"))
		require.NoError(t, s.UpsertCheck(ctx, p.ID, "5.6.7.8", model.NotBlocked))
		require.NoError(t, s.RetireChecks(ctx, p.ID, ""))
	})
}
