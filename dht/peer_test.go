package dht

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerSoloLocateNodesReturnsOnlySelf(t *testing.T) {
	reg := newFakeRegistry()
	alice := newHarnessPeer("alice", reg, harnessConfig())
	defer alice.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	nodes, err := alice.LocateNodes(ctx, "anything")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].Contact.Key.Equal(alice.Self()))
}

func TestPeerBinaryJoinSeesBothPeersInOrder(t *testing.T) {
	reg := newFakeRegistry()
	cfg := harnessConfig()
	a := newHarnessPeer("a", reg, cfg)
	b := newHarnessPeer("b", reg, cfg)
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := b.Join(ctx, a.HomeContact())
	require.NoError(t, err)

	nodesFromA, err := a.LocateNodes(ctx, b.Self())
	require.NoError(t, err)
	require.Len(t, nodesFromA, 2)
	assert.True(t, nodesFromA[0].Contact.Key.Equal(b.Self()))
	assert.True(t, nodesFromA[1].Contact.Key.Equal(a.Self()))

	nodesFromB, err := b.LocateNodes(ctx, a.Self())
	require.NoError(t, err)
	require.Len(t, nodesFromB, 2)
	assert.True(t, nodesFromB[0].Contact.Key.Equal(a.Self()))
	assert.True(t, nodesFromB[1].Contact.Key.Equal(b.Self()))
}

// joinChain builds n peers named "0".."n-1" and joins each one through
// peer "0" in sequence, mirroring the spec's sequential-join scenarios.
func joinChain(t *testing.T, reg *fakeRegistry, cfg Config, n int) []*Peer {
	t.Helper()
	peers := make([]*Peer, n)
	peers[0] = newHarnessPeer("0", reg, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := 1; i < n; i++ {
		name := fmt.Sprintf("%d", i)
		p := newHarnessPeer(name, reg, cfg)
		peers[i] = p
		_, err := p.Join(ctx, peers[0].HomeContact())
		require.NoError(t, err)
	}

	// Join's lookup feeds every peer it hears from back into the routing
	// table through a fire-and-forget addContact goroutine; give the
	// last round of those a moment to land before callers start
	// asserting on routing-table contents.
	time.Sleep(100 * time.Millisecond)
	return peers
}

func closeAll(peers []*Peer) {
	for _, p := range peers {
		p.Close()
	}
}

func TestPeerTenPeerNetworkEveryoneFindsEveryone(t *testing.T) {
	reg := newFakeRegistry()
	cfg := harnessConfig()
	cfg.K = 20
	cfg.Alpha = 3

	peers := joinChain(t, reg, cfg, 10)
	defer closeAll(peers)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := range peers {
		for j := range peers {
			if i == j {
				continue
			}
			nodes, err := peers[i].LocateNodes(ctx, peers[j].Self())
			require.NoError(t, err)
			require.Lenf(t, nodes, 10, "peer %d locating peer %d", i, j)
			assert.Truef(t, nodes[0].Contact.Key.Equal(peers[j].Self()), "peer %d's closest to peer %d should be peer %d itself", i, j, j)
		}
	}
}

func TestPeerStoreValueThenLocateValueAcrossPeers(t *testing.T) {
	reg := newFakeRegistry()
	cfg := harnessConfig()

	peers := joinChain(t, reg, cfg, 8)
	defer closeAll(peers)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	replicas, err := peers[0].StoreValue(ctx, "foo", []byte("17"))
	require.NoError(t, err)
	assert.Greater(t, replicas, 0)

	value, err := peers[len(peers)-1].LocateValue(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, []byte("17"), value)
}

func TestPeerLocateValueMissReturnsErrValueNotFound(t *testing.T) {
	reg := newFakeRegistry()
	cfg := harnessConfig()
	peers := joinChain(t, reg, cfg, 5)
	defer closeAll(peers)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := peers[0].LocateValue(ctx, "never-stored")
	assert.ErrorIs(t, err, ErrValueNotFound)
}

func TestPeerLookupUnderLagReturnsPromptlyAndNonEmpty(t *testing.T) {
	reg := newFakeRegistry()
	cfg := harnessConfig()
	cfg.QueryTimeout = 5 * time.Second

	peers := joinChain(t, reg, cfg, 10)
	defer closeAll(peers)

	// Six of the ten peers respond with 200-600ms lag; the continuous
	// (not round-based) scheduler must not block the lookup on them.
	for i := 1; i <= 6; i++ {
		reg.setLag(peers[i].Self(), 200*time.Millisecond+time.Duration(i)*60*time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	nodes, err := peers[0].LocateNodes(ctx, "target-under-lag")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.NotEmpty(t, nodes)
	assert.Less(t, elapsed, 1500*time.Millisecond)
}

func TestPeerStoreValueCountsOnlySelfWhenAllReplicasFail(t *testing.T) {
	reg := newFakeRegistry()
	cfg := harnessConfig()
	peers := joinChain(t, reg, cfg, 4)
	defer closeAll(peers)

	for i := 1; i < len(peers); i++ {
		reg.setDown(peers[i].Self(), true)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	replicas, err := peers[0].StoreValue(ctx, "foo", []byte("bar"))
	require.NoError(t, err)
	assert.Equal(t, 1, replicas, "self still counts as a replica even when every peer is down")
}

func TestPeerRefreshRepublishesStoredValueAndKeepsItReachable(t *testing.T) {
	reg := newFakeRegistry()
	cfg := harnessConfig()
	cfg.RefreshInterval = 10 * time.Millisecond
	cfg.QueryTimeout = 2 * time.Second

	peers := joinChain(t, reg, cfg, 6)
	defer closeAll(peers)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := peers[0].StoreValue(ctx, "long-lived", []byte("42"))
	require.NoError(t, err)

	// Jitter around the configured interval can push the first fire out
	// several seconds; poll rather than sleeping a fixed duration.
	require.Eventually(t, func() bool {
		return peers[0].Stats().Snapshot().StorageRefreshes > 0
	}, 8*time.Second, 20*time.Millisecond, "expected a storage republish to fire")

	value, err := peers[len(peers)-1].LocateValue(ctx, "long-lived")
	require.NoError(t, err)
	assert.Equal(t, []byte("42"), value)
}
