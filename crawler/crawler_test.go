package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/model"
	"github.com/brscrawler/brs-crawler/protocol"
	"github.com/brscrawler/brs-crawler/storage"
	"github.com/brscrawler/brs-crawler/testutil"
)

func init() {
	_ = logging.SetLogLevel("*", "ERROR")
}

type mockClient struct {
	mock.Mock
}

func (m *mockClient) GetInfo(ctx context.Context, address string, timeout time.Duration) (*protocol.InfoResponse, time.Duration, error) {
	args := m.Called(ctx, address, timeout)
	info, _ := args.Get(0).(*protocol.InfoResponse)
	return info, args.Get(1).(time.Duration), args.Error(2)
}

func (m *mockClient) GetPeers(ctx context.Context, address string, timeout time.Duration) (*protocol.PeersResponse, error) {
	args := m.Called(ctx, address, timeout)
	peers, _ := args.Get(0).(*protocol.PeersResponse)
	return peers, args.Error(1)
}

func (m *mockClient) GetCumulativeDifficulty(ctx context.Context, address string, timeout time.Duration) (*protocol.CumulativeDifficultyResponse, error) {
	args := m.Called(ctx, address, timeout)
	diff, _ := args.Get(0).(*protocol.CumulativeDifficultyResponse)
	return diff, args.Error(1)
}

// answers sets up a healthy peer at address that reports the given peers.
func (m *mockClient) answers(address string, reported ...string) {
	m.On("GetInfo", mock.Anything, address, mock.Anything).
		Return(&protocol.InfoResponse{Application: ptr("BRS"), Version: ptr("v3.8.0"), Platform: ptr("linux")}, 42*time.Millisecond, nil)
	m.On("GetPeers", mock.Anything, address, mock.Anything).
		Return(protocol.NewPeersResponse(reported...), nil)
	m.On("GetCumulativeDifficulty", mock.Anything, address, mock.Anything).
		Return(&protocol.CumulativeDifficultyResponse{BlockchainHeight: ptr(int64(1234567)), CumulativeDifficulty: ptr("99999")}, nil)
}

// fails sets up a peer at address whose getInfo fails with kind. The other requests may or may not be made.
func (m *mockClient) fails(address string, kind protocol.Kind) {
	m.On("GetInfo", mock.Anything, address, mock.Anything).
		Return(nil, time.Duration(0), &protocol.Error{Kind: kind, Request: protocol.GetInfo})
	m.On("GetPeers", mock.Anything, address, mock.Anything).
		Return(protocol.NewPeersResponse(), nil).Maybe()
	m.On("GetCumulativeDifficulty", mock.Anything, address, mock.Anything).
		Return(&protocol.CumulativeDifficultyResponse{BlockchainHeight: ptr(int64(1)), CumulativeDifficulty: ptr("1")}, nil).Maybe()
}

type submission struct {
	address string
	state   model.BlockReason
}

type recordingReconciler struct {
	mu   sync.Mutex
	subs []submission
}

func (r *recordingReconciler) Submit(peer *model.Peer, state model.BlockReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, submission{address: peer.Address, state: state})
}

func (r *recordingReconciler) submissions() []submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submission(nil), r.subs...)
}

func ptr[T any](v T) *T {
	return &v
}

func seededStore(t *testing.T, addresses ...string) *storage.MemStorage {
	t.Helper()
	st := storage.NewMemStorage(testutil.NewMockClock())
	_, err := st.MergeDiscovered(context.Background(), addresses)
	require.NoError(t, err)
	return st
}

func TestScanSuccessDiscoversPeers(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t, "10.0.0.1:8123")
	client := &mockClient{}
	client.answers("10.0.0.1:8123", "a.example", "b.example:9999", "10.0.0.2", "[::1]")

	c := New("w0", st, client, DefaultConfig())
	scanned, err := c.Scan(ctx)
	require.NoError(t, err)
	assert.True(t, scanned)
	client.AssertExpectations(t)

	peer := st.Peer("10.0.0.1:8123")
	require.NotNil(t, peer)
	scans := st.ScansOf(peer.ID)
	require.Len(t, scans, 1)
	assert.Equal(t, model.ResultSuccess, scans[0].Result)
	require.NotNil(t, scans[0].RTT)
	assert.EqualValues(t, 42, *scans[0].RTT)
	require.NotNil(t, scans[0].PeersCount)
	assert.Equal(t, 4, *scans[0].PeersCount)
	require.NotNil(t, scans[0].BlockHeight)
	assert.EqualValues(t, 1234567, *scans[0].BlockHeight)
	assert.NotNil(t, scans[0].VersionID)

	for _, a := range []string{"a.example:8123", "b.example:9999", "10.0.0.2:8123", "[::1]:8123"} {
		p := st.Peer(a)
		require.NotNil(t, p, a)
		assert.Equal(t, model.NotBlocked, p.Blocked)
		assert.True(t, p.LastScanned.IsZero())
	}
	// an explicit port is kept, never replaced by the default
	assert.Nil(t, st.Peer("b.example:9999:8123"))
	assert.Nil(t, st.Peer("b.example:8123"))
}

func TestScanTimeout(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t, "10.0.0.1:8123")
	client := &mockClient{}
	client.fails("10.0.0.1:8123", protocol.KindTimeout)

	c := New("w0", st, client, DefaultConfig())
	scanned, err := c.Scan(ctx)
	require.NoError(t, err)
	assert.True(t, scanned)

	peer := st.Peer("10.0.0.1:8123")
	assert.Equal(t, model.NotBlocked, peer.Blocked)
	assert.Equal(t, testutil.KnownTime, peer.LastScanned)
	scans := st.ScansOf(peer.ID)
	require.Len(t, scans, 1)
	assert.Equal(t, model.ResultTimeout, scans[0].Result)
	assert.Nil(t, scans[0].RTT)

	// not eligible again until the rescan interval has passed
	scanned, err = c.Scan(ctx)
	require.NoError(t, err)
	assert.False(t, scanned)
}

func TestScanIllegalAddressBlocksPeer(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t, "no-such-host.invalid:8123")
	client := &mockClient{}
	client.fails("no-such-host.invalid:8123", protocol.KindAddressInvalid)

	c := New("w0", st, client, DefaultConfig())
	_, err := c.Scan(ctx)
	require.NoError(t, err)

	peer := st.Peer("no-such-host.invalid:8123")
	assert.Equal(t, model.IllegalAddress, peer.Blocked)
	scans := st.ScansOf(peer.ID)
	require.Len(t, scans, 1)
	assert.Equal(t, model.ResultIllegalAddress, scans[0].Result)
}

func TestScanFailureResults(t *testing.T) {
	testCases := []struct {
		kind   protocol.Kind
		result model.ScanResult
	}{
		{protocol.KindRefused, model.ResultRefused},
		{protocol.KindRedirect, model.ResultRedirect},
		{protocol.KindHTTPStatus, model.ResultInvalidResponse},
		{protocol.KindEmptyBody, model.ResultEmptyResponse},
		{protocol.KindSchemaInvalid, model.ResultInvalidResponse},
		{protocol.KindUnknown, model.ResultUnknown},
	}
	for _, tc := range testCases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			st := seededStore(t, "10.0.0.1:8123")
			client := &mockClient{}
			client.fails("10.0.0.1:8123", tc.kind)

			_, err := New("w0", st, client, DefaultConfig()).Scan(context.Background())
			require.NoError(t, err)

			peer := st.Peer("10.0.0.1:8123")
			assert.Equal(t, model.NotBlocked, peer.Blocked)
			scans := st.ScansOf(peer.ID)
			require.Len(t, scans, 1)
			assert.Equal(t, tc.result, scans[0].Result)
		})
	}
}

func TestScanNoEligiblePeer(t *testing.T) {
	st := storage.NewMemStorage(testutil.NewMockClock())
	client := &mockClient{}

	scanned, err := New("w0", st, client, DefaultConfig()).Scan(context.Background())
	require.NoError(t, err)
	assert.False(t, scanned)
	client.AssertNotCalled(t, "GetInfo", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, st.Scans)
}

func TestScanSubmitsToReconciler(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t, "10.0.0.1:8123", "10.0.0.9:8123", "10.0.0.7:8123")
	client := &mockClient{}
	client.answers("10.0.0.1:8123")
	client.fails("10.0.0.9:8123", protocol.KindTimeout)
	client.fails("10.0.0.7:8123", protocol.KindSchemaInvalid)

	rec := &recordingReconciler{}
	c := New("w0", st, client, DefaultConfig(), WithReconciler(rec))
	for i := 0; i < 3; i++ {
		_, err := c.Scan(ctx)
		require.NoError(t, err)
	}

	assert.ElementsMatch(t, []submission{
		{address: "10.0.0.1:8123", state: model.NotBlocked},
		{address: "10.0.0.9:8123", state: model.Unreachable},
		{address: "10.0.0.7:8123", state: model.NotBlocked},
	}, rec.submissions())
}

func TestScanAbandonedOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := seededStore(t, "10.0.0.1:8123")
	client := &mockClient{}
	client.On("GetInfo", mock.Anything, "10.0.0.1:8123", mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, time.Duration(0), &protocol.Error{Kind: protocol.KindUnknown, Err: context.Canceled})
	client.On("GetPeers", mock.Anything, mock.Anything, mock.Anything).Return(nil, context.Canceled).Maybe()
	client.On("GetCumulativeDifficulty", mock.Anything, mock.Anything, mock.Anything).Return(nil, context.Canceled).Maybe()

	rec := &recordingReconciler{}
	scanned, err := New("w0", st, client, DefaultConfig(), WithReconciler(rec)).Scan(ctx)
	require.NoError(t, err)
	assert.True(t, scanned)

	assert.Empty(t, st.Scans)
	assert.Empty(t, rec.submissions())
}

func TestScanRecoversRequestPanic(t *testing.T) {
	st := seededStore(t, "10.0.0.1:8123")
	client := &mockClient{}
	client.On("GetInfo", mock.Anything, "10.0.0.1:8123", mock.Anything).
		Panic("bad reply")
	client.On("GetPeers", mock.Anything, mock.Anything, mock.Anything).Return(protocol.NewPeersResponse(), nil).Maybe()
	client.On("GetCumulativeDifficulty", mock.Anything, mock.Anything, mock.Anything).
		Return(&protocol.CumulativeDifficultyResponse{BlockchainHeight: ptr(int64(1)), CumulativeDifficulty: ptr("1")}, nil).Maybe()

	_, err := New("w0", st, client, DefaultConfig()).Scan(context.Background())
	require.NoError(t, err)

	scans := st.ScansOf(st.Peer("10.0.0.1:8123").ID)
	require.Len(t, scans, 1)
	assert.Equal(t, model.ResultUnknown, scans[0].Result)
}

type failingStore struct {
	*storage.MemStorage
	claimErr error
	panics   bool
}

func (f *failingStore) ClaimNextPeer(ctx context.Context, rescan time.Duration) (*model.Peer, error) {
	if f.panics {
		panic("claim exploded")
	}
	return nil, f.claimErr
}

func TestScanTaskSurvivesFailures(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}

	boom := xerrors.New("connection reset")
	c := New("w0", &failingStore{MemStorage: storage.NewMemStorage(nil), claimErr: boom}, client, DefaultConfig())
	_, err := c.Scan(ctx)
	assert.ErrorIs(t, err, boom)
	assert.NotPanics(t, func() { c.scanTask(ctx) })

	c = New("w0", &failingStore{MemStorage: storage.NewMemStorage(nil), panics: true}, client, DefaultConfig())
	assert.NotPanics(t, func() { c.scanTask(ctx) })
}

func TestRunScansAllPeers(t *testing.T) {
	addrs := []string{"10.0.0.1:8123", "10.0.0.2:8123", "10.0.0.3:8123"}
	st := seededStore(t, addrs...)
	client := &mockClient{}
	for _, a := range addrs {
		client.answers(a)
	}

	cfg := DefaultConfig()
	cfg.TickInterval = time.Millisecond
	cfg.MaxConcurrentScans = 2
	c := New("w0", st, client, cfg, WithClock(clock.New()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		st.DataMu.Lock()
		defer st.DataMu.Unlock()
		return len(st.Scans) == len(addrs)
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// each peer is scanned once within the rescan interval
	for _, a := range addrs {
		assert.Len(t, st.ScansOf(st.Peer(a).ID), 1, a)
	}
}
