package cluster_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapid7/lighthouse/internal/cluster"
	"github.com/rapid7/lighthouse/internal/httpapi"
	"github.com/rapid7/lighthouse/internal/store"
)

// node bundles the three objects needed to run one Lighthouse instance
// behind a real HTTP listener, the minimum required to exercise the
// anti-entropy wire protocol rather than calling Store methods directly.
type node struct {
	store   *store.Store
	cluster *cluster.Cluster
	server  *httptest.Server
	addr    string
}

func newNode(t *testing.T, ctx context.Context, self string) *node {
	t.Helper()
	n := &node{}
	n.store = store.New(nil, nil)
	n.cluster = cluster.New(ctx, self, n.store)
	n.store.SetOnPushAll(n.cluster.SignalPushAll)
	n.server = httptest.NewServer(httpapi.New(n.store, n.cluster))
	t.Cleanup(n.server.Close)
	n.addr = strings.TrimPrefix(n.server.URL, "http://")
	return n
}

// TestTwoPeerConvergence drives the real PeerMonitor ping/pull/push cycle
// (not Store.PushRemote directly) between two httptest-backed nodes and
// asserts the property spec.md §8 calls out: both sides converge to the
// same version within a small multiple of PING_PERIOD+REACTION_VAR.
func TestTwoPeerConvergence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newNode(t, ctx, "node-a")
	b := newNode(t, ctx, "node-b")

	require.True(t, a.cluster.AddPeer(b.addr))
	require.True(t, b.cluster.AddPeer(a.addr))

	_, err := a.store.TryAcquireLease("writer")
	require.NoError(t, err)
	require.NoError(t, a.store.StageSet("writer", []string{"greeting"}, "hello"))
	committed, err := a.store.Commit("writer")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return b.store.CurrentVersion() == committed
	}, 2*time.Second, 10*time.Millisecond, "peer B should converge to A's committed version")

	got, err := b.store.Read([]string{"greeting"})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

// TestPushRejectsStaleVersion exercises the real wire push path a second
// time with nothing new to offer: the peer must not regress or duplicate
// work when PushRemote observes a version that isn't strictly newer.
func TestPushRejectsStaleVersion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newNode(t, ctx, "node-a")
	b := newNode(t, ctx, "node-b")
	require.True(t, a.cluster.AddPeer(b.addr))

	_, err := a.store.TryAcquireLease("writer")
	require.NoError(t, err)
	require.NoError(t, a.store.StageSet("writer", []string{"x"}, float64(1)))
	committed, err := a.store.Commit("writer")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return b.store.CurrentVersion() == committed
	}, 2*time.Second, 10*time.Millisecond)

	// Forcing another push cycle with no new commit must leave B exactly
	// where it was: PushRemote only accepts strictly newer versions.
	a.cluster.SignalPushAll()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, committed, b.store.CurrentVersion())
}

// TestStateDictReflectsPeer checks that Cluster.StateDict reports the
// peer as reachable once the monitor has completed at least one cycle
// against a real listener.
func TestStateDictReflectsPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newNode(t, ctx, "node-a")
	b := newNode(t, ctx, "node-b")
	require.True(t, a.cluster.AddPeer(b.addr))
	a.cluster.SignalPushAll()

	require.Eventually(t, func() bool {
		for _, d := range a.cluster.StateDict() {
			if d.Address == b.addr && d.Reachable {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "peer should be marked reachable after a cycle")
}
