package client

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/Bakeneke/nearcore/core"
	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/network"
)

// mockAdapter records outbound network requests.
type mockAdapter struct {
	requests []network.Request
}

func (m *mockAdapter) Send(msg network.Request) {
	m.requests = append(m.requests, msg)
}

func TestGetLocatorHeights(t *testing.T) {
	for _, tt := range []struct {
		height uint64
		want   []uint64
	}{
		{0, []uint64{0}},
		{1, []uint64{1, 0}},
		{2, []uint64{2, 0}},
		{3, []uint64{3, 1, 0}},
		{10, []uint64{10, 8, 4, 0}},
		{100, []uint64{100, 98, 94, 86, 70, 38, 0}},
		{1000, []uint64{1000, 998, 994, 986, 970, 938, 874, 746, 490, 0}},
		// Still a reasonable size even for a large height.
		{10000, []uint64{10000, 9998, 9994, 9986, 9970, 9938, 9874, 9746, 9490, 8978, 7954, 5906, 1810, 0}},
	} {
		require.Equal(t, tt.want, getLocatorHeights(tt.height), "height %d", tt.height)
	}
}

// growChain produces n empty blocks on the chain.
func growChain(t *testing.T, chain *core.Chain, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		prev, err := chain.HeadHeader()
		require.NoError(t, err)
		_, err = chain.ProcessBlock(core.MakeTestBlock(prev), types.ProvenanceProduced, nil)
		require.NoError(t, err)
	}
}

// Two chains grow from the same genesis; the shorter one asks the longer
// one's peer for headers with a locator stepping down to genesis.
func TestHeaderSyncFork(t *testing.T) {
	adapter := &mockAdapter{}
	headerSync := NewHeaderSync(adapter)

	chain, _, err := core.SetupTestChain()
	require.NoError(t, err)
	growChain(t, chain, 5)

	chain2, _, err := core.SetupTestChain()
	require.NoError(t, err)
	growChain(t, chain2, 10)

	head2, err := chain2.Head()
	require.NoError(t, err)
	peer := network.FullPeerInfo{
		Peer: network.PeerInfo{ID: "peer1"},
		Chain: network.PeerChainInfo{
			Genesis:     chain.GenesisHeader().Hash(),
			Height:      head2.Height,
			TotalWeight: head2.TotalWeight,
		},
	}

	status := SyncStatus{Kind: SyncStatusNoSync}
	head, err := chain.Head()
	require.NoError(t, err)
	require.NoError(t, headerSync.Run(&status, chain, head.Height, []network.FullPeerInfo{peer}))
	require.True(t, status.IsSyncing())

	// The locator queries the tip, then steps down to find the fork point.
	var wantHashes []common.Hash
	for _, height := range []uint64{5, 3, 0} {
		header, err := chain.GetHeaderByHeight(height)
		require.NoError(t, err)
		wantHashes = append(wantHashes, header.Hash())
	}
	require.Len(t, adapter.requests, 1)
	require.Equal(t, network.BlockHeadersRequest{Hashes: wantHashes, PeerID: "peer1"}, adapter.requests[0])
}

func TestHeaderSyncNoRequestWithoutHeavierPeer(t *testing.T) {
	adapter := &mockAdapter{}
	headerSync := NewHeaderSync(adapter)

	chain, _, err := core.SetupTestChain()
	require.NoError(t, err)
	growChain(t, chain, 5)

	head, err := chain.Head()
	require.NoError(t, err)
	// The peer is not heavier than us: no request goes out.
	peer := network.FullPeerInfo{
		Peer:  network.PeerInfo{ID: "peer1"},
		Chain: network.PeerChainInfo{Height: head.Height, TotalWeight: head.TotalWeight},
	}
	status := SyncStatus{Kind: SyncStatusNoSync}
	require.NoError(t, headerSync.Run(&status, chain, head.Height, []network.FullPeerInfo{peer}))
	require.Empty(t, adapter.requests)
}

func TestBlockSyncRequestsMissingBlocks(t *testing.T) {
	adapter := &mockAdapter{}
	blockSync := NewBlockSync(adapter, 50)

	chain, _, err := core.SetupTestChain()
	require.NoError(t, err)

	// Headers 1..5 are known, the blocks are not.
	var headers []*types.BlockHeader
	prev := chain.GenesisHeader()
	for i := 0; i < 5; i++ {
		block := core.MakeTestBlock(prev)
		headers = append(headers, block.Header)
		prev = block.Header
	}
	require.NoError(t, chain.SyncBlockHeaders(headers))

	peers := []network.FullPeerInfo{
		{Peer: network.PeerInfo{ID: "peer1"}, Chain: network.PeerChainInfo{Height: 5, TotalWeight: 5}},
		{Peer: network.PeerInfo{ID: "peer2"}, Chain: network.PeerChainInfo{Height: 5, TotalWeight: 5}},
	}
	status := SyncStatus{Kind: SyncStatusHeaderSync, HighestHeight: 5}
	stateNeeded, err := blockSync.Run(&status, chain, 5, peers)
	require.NoError(t, err)
	require.False(t, stateNeeded)
	require.Equal(t, SyncStatusBodySync, status.Kind)

	// One request per missing block, oldest first, round-robin over peers.
	require.Len(t, adapter.requests, 5)
	for i, req := range adapter.requests {
		blockReq, ok := req.(network.BlockRequest)
		require.True(t, ok)
		require.Equal(t, headers[i].Hash(), blockReq.Hash)
		wantPeer := peers[i%len(peers)].Peer.ID
		require.Equal(t, wantPeer, blockReq.PeerID)
	}
}

func TestBlockSyncSignalsStateSync(t *testing.T) {
	adapter := &mockAdapter{}
	blockSync := NewBlockSync(adapter, 1)

	chain, _, err := core.SetupTestChain()
	require.NoError(t, err)

	var headers []*types.BlockHeader
	prev := chain.GenesisHeader()
	for i := 0; i < 5; i++ {
		block := core.MakeTestBlock(prev)
		headers = append(headers, block.Header)
		prev = block.Header
	}
	require.NoError(t, chain.SyncBlockHeaders(headers))

	peers := []network.FullPeerInfo{
		{Peer: network.PeerInfo{ID: "peer1"}, Chain: network.PeerChainInfo{Height: 5, TotalWeight: 5}},
	}
	status := SyncStatus{Kind: SyncStatusHeaderSync, HighestHeight: 5}
	stateNeeded, err := blockSync.Run(&status, chain, 5, peers)
	require.NoError(t, err)
	require.True(t, stateNeeded)
	require.Empty(t, adapter.requests)
}

func TestStateSyncStartsDownload(t *testing.T) {
	adapter := &mockAdapter{}
	stateSync := NewStateSync(adapter, 2)

	chain, _, err := core.SetupTestChain()
	require.NoError(t, err)

	var headers []*types.BlockHeader
	prev := chain.GenesisHeader()
	for i := 0; i < 6; i++ {
		block := core.MakeTestBlock(prev)
		headers = append(headers, block.Header)
		prev = block.Header
	}
	require.NoError(t, chain.SyncBlockHeaders(headers))

	headerHead, err := chain.HeaderHead()
	require.NoError(t, err)
	peers := []network.FullPeerInfo{
		{Peer: network.PeerInfo{ID: "peer1"}, Chain: network.PeerChainInfo{Height: 6, TotalWeight: 6}},
	}
	status := SyncStatus{Kind: SyncStatusHeaderSync, HighestHeight: headerHead.Height}
	require.NoError(t, stateSync.Run(&status, chain, headerHead.Height, peers, []uint64{0}))

	require.Equal(t, SyncStatusStateSync, status.Kind)
	require.Len(t, adapter.requests, 1)
	stateReq, ok := adapter.requests[0].(network.StateRequest)
	require.True(t, ok)
	require.Equal(t, uint64(0), stateReq.ShardID)
	require.Equal(t, network.PeerID("peer1"), stateReq.PeerID)
	// The anchor sits stateFetchHorizon below the header head's parent:
	// header head is 6, its parent 5, two more steps back lands on 3.
	require.Equal(t, headers[2].Hash(), stateReq.Hash)

	// Marking the shard done hands control back to body sync and moves the
	// head to the anchor's parent.
	status.ShardStatuses[0].Kind = ShardSyncStateDone
	require.NoError(t, stateSync.Run(&status, chain, headerHead.Height, peers, []uint64{0}))
	require.Equal(t, SyncStatusBodySync, status.Kind)
	head, err := chain.Head()
	require.NoError(t, err)
	require.Equal(t, headers[1].Hash(), head.LastBlockHash)
}
