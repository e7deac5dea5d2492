package client

import (
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/Bakeneke/nearcore/core"
	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/network"
	"github.com/Bakeneke/nearcore/params"
)

// mostWeightPeer picks a random peer among the heaviest ones.
func mostWeightPeer(peers []network.FullPeerInfo) *network.FullPeerInfo {
	if len(peers) == 0 {
		return nil
	}
	return &peers[rand.Intn(len(peers))]
}

type heightHash struct {
	height uint64
	hash   common.Hash
}

// HeaderSync keeps track of downloading headers from the best peer. Major
// reorgs are handled by locating the closest matching header and re-downloading
// from that point.
type HeaderSync struct {
	network        network.Adapter
	historyLocator []heightHash

	// Cadence bookkeeping: the next deadline plus the header head heights
	// observed at the last request and at the last progress check.
	timeout      time.Time
	latestHeight uint64
	prevHeight   uint64

	syncingPeer *network.FullPeerInfo
	stallingTS  time.Time
}

// NewHeaderSync creates a header sync controller sending through the adapter.
func NewHeaderSync(adapter network.Adapter) *HeaderSync {
	return &HeaderSync{network: adapter, timeout: time.Now()}
}

// Run advances header sync: decides whether a new request is due, performs
// the phase transition bookkeeping and sends a locator request to a random
// peer heavier than our header head.
func (hs *HeaderSync) Run(status *SyncStatus, chain *core.Chain, highestHeight uint64, mostWeightPeers []network.FullPeerInfo) error {
	headerHead, err := chain.HeaderHead()
	if err != nil {
		return err
	}
	if !hs.headerSyncDue(status, headerHead) {
		return nil
	}

	enable := false
	switch status.Kind {
	case SyncStatusHeaderSync, SyncStatusBodySync, SyncStatusStateSyncDone:
		enable = true
	case SyncStatusNoSync, SyncStatusAwaitingPeers:
		syncHead, err := chain.SyncHead()
		if err != nil {
			return err
		}
		log.Debug("Sync: initial transition to header sync",
			"sync_head", syncHead.LastBlockHash, "sync_height", syncHead.Height,
			"header_head", headerHead.LastBlockHash, "header_height", headerHead.Height)
		// Reset the sync head to the header head on the initial transition.
		if _, err := chain.ResetSyncHead(); err != nil {
			return err
		}
		hs.retainGenesisLocator()
		enable = true
	}

	if enable {
		*status = SyncStatus{Kind: SyncStatusHeaderSync, CurrentHeight: headerHead.Height, HighestHeight: highestHeight}
		headerHead, err = chain.HeaderHead()
		if err != nil {
			return err
		}
		hs.syncingPeer = nil
		if peer := mostWeightPeer(mostWeightPeers); peer != nil {
			if peer.Chain.TotalWeight > headerHead.TotalWeight {
				if hs.requestHeaders(chain, *peer) {
					hs.syncingPeer = peer
				}
			}
		}
	}
	return nil
}

// headerSyncDue decides whether to fire another header request: forced on
// the initial transition, when a full batch landed, or when progress stalled
// past the deadline. Two consecutive stalls against a peer claiming the
// highest height get the peer banned for height fraud. Note the stalling
// timestamp toggles off on every second stall, so only every other double
// stall can trigger the ban; this mirrors the long-standing behavior.
func (hs *HeaderSync) headerSyncDue(status *SyncStatus, headerHead *types.Tip) bool {
	now := time.Now()

	// A whole batch (modulo a few reorged away) arrived; ask for more.
	allHeadersReceived := headerHead.Height >= hs.prevHeight+params.MaxBlockHeaders-4
	// Nothing landed and the deadline passed.
	stalling := headerHead.Height <= hs.latestHeight && now.After(hs.timeout)

	forceSync := status.Kind == SyncStatusNoSync || status.Kind == SyncStatusAwaitingPeers

	if forceSync || allHeadersReceived || stalling {
		hs.timeout = now.Add(params.HeaderSyncRequestTimeout)
		hs.latestHeight = headerHead.Height
		hs.prevHeight = headerHead.Height

		if stalling {
			if hs.stallingTS.IsZero() {
				hs.stallingTS = now
			} else {
				hs.stallingTS = time.Time{}
			}
		}

		if allHeadersReceived {
			hs.stallingTS = time.Time{}
		} else if !hs.stallingTS.IsZero() && hs.syncingPeer != nil && status.Kind == SyncStatusHeaderSync {
			if now.After(hs.stallingTS.Add(params.HeaderStallBanTimeout)) && status.HighestHeight == hs.syncingPeer.Chain.Height {
				log.Info("Sync: ban a fraudulent peer", "peer", hs.syncingPeer.Peer,
					"claimed_height", hs.syncingPeer.Chain.Height, "claimed_weight", hs.syncingPeer.Chain.TotalWeight)
				hs.network.Send(network.BanPeer{PeerID: hs.syncingPeer.Peer.ID, Reason: network.BanReasonHeightFraud})
			}
		}
		hs.syncingPeer = nil
		return true
	}

	// Push the deadline as long as we make progress.
	if headerHead.Height > hs.latestHeight {
		hs.timeout = now.Add(params.BlockHeaderProgressTimeout)
		hs.latestHeight = headerHead.Height
	}
	return false
}

// requestHeaders sends a locator to the peer, asking for headers beyond our
// best common block.
func (hs *HeaderSync) requestHeaders(chain *core.Chain, peer network.FullPeerInfo) bool {
	locator, err := hs.getLocator(chain)
	if err != nil {
		return false
	}
	log.Debug("Sync: request headers", "peer", peer.Peer.ID, "locator", locator)
	hs.network.Send(network.BlockHeadersRequest{Hashes: locator, PeerID: peer.Peer.ID})
	return true
}

// retainGenesisLocator clears the locator cache down to the genesis entry.
func (hs *HeaderSync) retainGenesisLocator() {
	kept := hs.historyLocator[:0]
	for _, x := range hs.historyLocator {
		if x.height == 0 {
			kept = append(kept, x)
		}
	}
	hs.historyLocator = kept
}

// getLocator builds the binary-stepped locator for the current sync head.
// Cached entries from the previous locator are reused when close enough,
// saving store lookups.
func (hs *HeaderSync) getLocator(chain *core.Chain) ([]common.Hash, error) {
	tip, err := chain.SyncHead()
	if err != nil {
		return nil, err
	}
	heights := getLocatorHeights(tip.Height)

	// Any header chain rollback invalidates the cache.
	if len(hs.historyLocator) > 0 {
		headerHead, err := chain.HeaderHead()
		if err != nil {
			return nil, err
		}
		if tip.LastBlockHash != headerHead.LastBlockHash {
			hs.retainGenesisLocator()
		}
	}

	locator := []heightHash{{tip.Height, tip.LastBlockHash}}
	for _, h := range heights {
		if x, ok := closeEnough(hs.historyLocator, h); ok {
			locator = append(locator, x)
		} else if header, err := chain.GetHeaderByHeight(h); err == nil {
			last := locator[len(locator)-1]
			if header.Height != last.height {
				locator = append(locator, heightHash{header.Height, header.Hash()})
			}
		}
	}
	locator = dedupByHeight(locator)
	log.Debug("Sync: locator", "locator", locator)
	hs.historyLocator = locator

	hashes := make([]common.Hash, len(locator))
	for i, x := range locator {
		hashes[i] = x.hash
	}
	return hashes, nil
}

func dedupByHeight(locator []heightHash) []heightHash {
	out := locator[:0]
	for i, x := range locator {
		if i == 0 || x.height != out[len(out)-1].height {
			out = append(out, x)
		}
	}
	return out
}

// closeEnough finds a cached locator entry usable in place of the given
// height: the tail entry for anything at or below it, the head entry within
// a 127 block gap above it, or whichever neighbor of the enclosing window is
// nearer.
func closeEnough(locator []heightHash, height uint64) (heightHash, bool) {
	if len(locator) == 0 {
		return heightHash{}, false
	}
	last := locator[len(locator)-1]
	if last.height >= height {
		return last, true
	}
	var floor uint64
	if height > 127 {
		floor = height - 127
	}
	if first := locator[0]; first.height < height && floor < first.height {
		return first, true
	}
	for i := 0; i+1 < len(locator); i++ {
		hi, lo := locator[i], locator[i+1]
		if height <= hi.height && height > lo.height {
			if hi.height-height < height-lo.height {
				return hi, true
			}
			return lo, true
		}
	}
	return heightHash{}, false
}

// getLocatorHeights steps back from the given height to 0 in powers of two.
func getLocatorHeights(height uint64) []uint64 {
	current := height
	var heights []uint64
	for current > 0 {
		heights = append(heights, current)
		if len(heights) >= params.MaxBlockHeaderHashes-1 {
			break
		}
		next := uint64(1) << uint(len(heights))
		if current > next {
			current -= next
		} else {
			current = 0
		}
	}
	heights = append(heights, 0)
	return heights
}

// BlockSync tracks full block downloads, round-robin across the heaviest
// peers, throttled against orphan pool fill.
type BlockSync struct {
	network network.Adapter

	blocksRequested    uint64
	receiveTimeout     time.Time
	prevBlocksReceived uint64

	// How far to fetch blocks before switching to state sync.
	blockFetchHorizon uint64
}

// NewBlockSync creates a block sync controller sending through the adapter.
func NewBlockSync(adapter network.Adapter, blockFetchHorizon uint64) *BlockSync {
	return &BlockSync{network: adapter, receiveTimeout: time.Now(), blockFetchHorizon: blockFetchHorizon}
}

// Run checks whether block sync is due and requests recent blocks from
// peers. It returns true when the gap is too large and state sync must take
// over instead.
func (bs *BlockSync) Run(status *SyncStatus, chain *core.Chain, highestHeight uint64, mostWeightPeers []network.FullPeerInfo) (bool, error) {
	due, err := bs.blockSyncDue(chain)
	if err != nil {
		return false, err
	}
	if due {
		stateNeeded, err := bs.blockSync(chain, mostWeightPeers, bs.blockFetchHorizon)
		if err != nil {
			return false, err
		}
		if stateNeeded {
			return true, nil
		}
		head, err := chain.Head()
		if err != nil {
			return false, err
		}
		*status = SyncStatus{Kind: SyncStatusBodySync, CurrentHeight: head.Height, HighestHeight: highestHeight}
	}
	return false, nil
}

// blockSync requests the missing blocks round-robin from the heaviest peers.
// It returns true when state download is required instead.
func (bs *BlockSync) blockSync(chain *core.Chain, mostWeightPeers []network.FullPeerInfo, blockFetchHorizon uint64) (bool, error) {
	stateNeeded, hashes, err := chain.CheckStateNeeded(blockFetchHorizon)
	if err != nil {
		return false, err
	}
	if stateNeeded {
		return true, nil
	}
	// The walk produced newest first; request oldest first.
	for i, j := 0, len(hashes)-1; i < j; i, j = i+1, j-1 {
		hashes[i], hashes[j] = hashes[j], hashes[i]
	}

	// Ask for up to MaxPeerBlockRequest blocks per peer, capped overall and
	// throttled when the orphan pool is filling up.
	blockCount := params.MaxBlockRequest
	if n := params.MaxPeerBlockRequest * len(mostWeightPeers); n < blockCount {
		blockCount = n
	}
	if room := params.MaxOrphanSize - chain.OrphansLen() + 1; room < blockCount {
		blockCount = room
	}

	var toRequest []common.Hash
	for _, hash := range hashes {
		if len(toRequest) >= blockCount {
			break
		}
		if exists, _ := chain.BlockExists(hash); exists {
			continue
		}
		if chain.IsOrphan(hash) {
			continue
		}
		toRequest = append(toRequest, hash)
	}

	if len(toRequest) > 0 {
		head, err := chain.Head()
		if err != nil {
			return false, err
		}
		headerHead, err := chain.HeaderHead()
		if err != nil {
			return false, err
		}
		log.Debug("Block sync: requesting blocks", "head", head.Height, "header_head", headerHead.Height,
			"count", len(toRequest), "peers", len(mostWeightPeers))

		bs.blocksRequested = 0
		bs.receiveTimeout = time.Now().Add(params.BlockRequestTimeout)

		for i, hash := range toRequest {
			peer := mostWeightPeers[i%len(mostWeightPeers)]
			bs.network.Send(network.BlockRequest{Hash: hash, PeerID: peer.Peer.ID})
			bs.blocksRequested++
		}
	}
	return false, nil
}

// blockSyncDue decides whether to ask for more blocks: on receive timeout
// with no progress, or when fewer than a couple of requests remain pending.
func (bs *BlockSync) blockSyncDue(chain *core.Chain) (bool, error) {
	received, err := bs.blocksReceived(chain)
	if err != nil {
		return false, err
	}

	if bs.blocksRequested > 0 {
		if time.Now().After(bs.receiveTimeout) && received <= bs.prevBlocksReceived {
			log.Debug("Block sync: expecting more blocks and none received for a while", "pending", bs.blocksRequested)
			return true, nil
		}
	}

	if received > bs.prevBlocksReceived {
		bs.receiveTimeout = time.Now().Add(params.BlockSomeReceivedTimeout)
		delta := received - bs.prevBlocksReceived
		if delta > bs.blocksRequested {
			bs.blocksRequested = 0
		} else {
			bs.blocksRequested -= delta
		}
		bs.prevBlocksReceived = received
	}

	// Broadcast tends to add a few blocks to the orphan pool meanwhile.
	if bs.blocksRequested < params.BlockRequestBroadcastOffset {
		log.Debug("Block sync: no pending block requests, requesting more")
		return true, nil
	}
	return false, nil
}

// blocksReceived counts every block the chain took in, including buffered
// and evicted orphans.
func (bs *BlockSync) blocksReceived(chain *core.Chain) (uint64, error) {
	head, err := chain.Head()
	if err != nil {
		return 0, err
	}
	return head.Height + uint64(chain.OrphansLen()) + uint64(chain.OrphansEvictedLen()), nil
}

// StateSync drives per-shard state snapshot downloads, restarting on peer
// loss and timeout, and hands control back to body sync once every tracked
// shard is done.
type StateSync struct {
	network network.Adapter

	// How many headers below the header head's parent the sync anchor is picked.
	stateFetchHorizon uint64

	syncingPeers  map[uint64]network.FullPeerInfo
	prevStateSync map[uint64]time.Time
}

// NewStateSync creates a state sync controller sending through the adapter.
func NewStateSync(adapter network.Adapter, stateFetchHorizon uint64) *StateSync {
	return &StateSync{
		network:           adapter,
		stateFetchHorizon: stateFetchHorizon,
		syncingPeers:      make(map[uint64]network.FullPeerInfo),
		prevStateSync:     make(map[uint64]time.Time),
	}
}

// findSyncHash walks back stateFetchHorizon headers from the header head's
// parent; the resulting block is the anchor whose state is fetched.
func (ss *StateSync) findSyncHash(chain *core.Chain) (common.Hash, error) {
	headerHead, err := chain.HeaderHead()
	if err != nil {
		return common.Hash{}, err
	}
	syncHash := headerHead.PrevBlockHash
	for i := uint64(0); i < ss.stateFetchHorizon; i++ {
		header, err := chain.GetBlockHeader(syncHash)
		if err != nil {
			return common.Hash{}, err
		}
		syncHash = header.PrevHash
	}
	return syncHash, nil
}

// Run advances state sync for every tracked shard. On completion the chain
// head moves to the parent of the sync anchor, orphans downstream of it are
// drained and the controller transitions to body sync.
func (ss *StateSync) Run(status *SyncStatus, chain *core.Chain, highestHeight uint64, mostWeightPeers []network.FullPeerInfo, trackingShards []uint64) error {
	headerHead, err := chain.HeaderHead()
	if err != nil {
		return err
	}
	needRestart := make(map[uint64]bool)

	var (
		syncHash     common.Hash
		newShardSync map[uint64]*ShardSyncStatus
	)
	if status.Kind == SyncStatusStateSync {
		syncHash = status.StateSyncHash
		newShardSync = status.ShardStatuses
	} else {
		if syncHash, err = ss.findSyncHash(chain); err != nil {
			return err
		}
		newShardSync = make(map[uint64]*ShardSyncStatus)
	}

	// Check every shard's status and its syncing peer's liveness.
	allDone := false
	if status.Kind == SyncStatusStateSync {
		allDone = true
		for shardID, shardStatus := range status.ShardStatuses {
			allDone = allDone && shardStatus.Kind == ShardSyncStateDone
			if shardStatus.Kind == ShardSyncStateError {
				log.Error("State sync: shard sync failed", "shard", shardID, "err", shardStatus.Error)
				needRestart[shardID] = true
			} else if peer, ok := ss.syncingPeers[shardID]; ok && shardStatus.Kind == ShardSyncStateDownload {
				if !containsPeer(mostWeightPeers, peer) {
					needRestart[shardID] = true
					log.Info("State sync: peer connection lost, restarting shard", "peer", peer.Peer.ID, "shard", shardID)
				}
			}
		}
	}

	if allDone {
		log.Info("State sync: all shards are done")

		header, err := chain.GetBlockHeader(syncHash)
		if err != nil {
			return err
		}
		prevHash := header.PrevHash
		prevHeader, err := chain.GetBlockHeader(prevHash)
		if err != nil {
			return err
		}
		tip := types.TipFromHeader(prevHeader)

		u := chain.Store().StoreUpdate()
		if err := u.SaveBodyHead(tip); err != nil {
			return err
		}
		if err := u.Commit(); err != nil {
			return err
		}

		// Anything buffered on top of the freshly installed state can go now.
		chain.CheckOrphans(prevHash, nil)

		*status = SyncStatus{Kind: SyncStatusBodySync}
		ss.prevStateSync = make(map[uint64]time.Time)
		ss.syncingPeers = make(map[uint64]network.FullPeerInfo)
		return nil
	}

	now := time.Now()
	updateSyncStatus := false
	for _, shardID := range trackingShards {
		if !needRestart[shardID] && headerHead.Height != highestHeight {
			continue
		}
		var start, downloadTimeout bool
		if prev, ok := ss.prevStateSync[shardID]; !ok {
			ss.prevStateSync[shardID] = now
			start = true
		} else {
			downloadTimeout = now.Sub(prev) > params.StateSyncTimeout
		}

		if downloadTimeout {
			log.Error("State sync: state download timed out", "shard", shardID, "timeout", params.StateSyncTimeout)
		}

		if start || downloadTimeout || needRestart[shardID] {
			if peer := ss.requestState(shardID, syncHash, mostWeightPeers); peer != nil {
				ss.syncingPeers[shardID] = *peer
				newShardSync[shardID] = &ShardSyncStatus{
					Kind:           ShardSyncStateDownload,
					StartTime:      now,
					PrevUpdateTime: now,
				}
			} else {
				newShardSync[shardID] = &ShardSyncStatus{
					Kind:  ShardSyncStateError,
					Error: "failed to find peer with state for shard",
				}
			}
			updateSyncStatus = true
		}
	}
	if updateSyncStatus {
		*status = SyncStatus{Kind: SyncStatusStateSync, StateSyncHash: syncHash, ShardStatuses: newShardSync}
	}
	return nil
}

// requestState sends a state request for the shard to a random heavy peer.
func (ss *StateSync) requestState(shardID uint64, hash common.Hash, mostWeightPeers []network.FullPeerInfo) *network.FullPeerInfo {
	peer := mostWeightPeer(mostWeightPeers)
	if peer == nil {
		return nil
	}
	ss.network.Send(network.StateRequest{ShardID: shardID, Hash: hash, PeerID: peer.Peer.ID})
	return peer
}

func containsPeer(peers []network.FullPeerInfo, peer network.FullPeerInfo) bool {
	for _, p := range peers {
		if p.Peer.ID == peer.Peer.ID {
			return true
		}
	}
	return false
}
