package core

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/params"
)

var (
	headBlockGauge     = metrics.NewRegisteredGauge("chain/head/block", nil)
	headHeaderGauge    = metrics.NewRegisteredGauge("chain/head/header", nil)
	syncHeadGauge      = metrics.NewRegisteredGauge("chain/head/sync", nil)
	orphanPoolGauge    = metrics.NewRegisteredGauge("chain/orphans", nil)
	orphanEvictMeter   = metrics.NewRegisteredMeter("chain/orphans/evicted", nil)
	blockInsertTimer   = metrics.NewRegisteredTimer("chain/inserts", nil)
	blockReorgMeter    = metrics.NewRegisteredMeter("chain/reorg/executes", nil)
	headerProcessMeter = metrics.NewRegisteredMeter("chain/headers/processed", nil)
)

// BlockAcceptedFn is invoked for every block the chain accepts, after the
// store update committed.
type BlockAcceptedFn func(block *types.Block, status types.BlockStatus, provenance types.Provenance)

// ChainEvent is posted on the chain feed for every accepted block.
type ChainEvent struct {
	Block      *types.Block
	Status     types.BlockStatus
	Provenance types.Provenance
}

// Chain owns the chain store and the orphan pool and drives block and header
// processing. It is operated by a single logical task; only the read-only
// getters may be shared.
type Chain struct {
	config  *params.ChainConfig
	store   *ChainStore
	runtime RuntimeAdapter
	orphans *OrphanBlockPool
	genesis *types.BlockHeader

	chainFeed event.Feed
	scope     event.SubscriptionScope
}

// SubscribeChainEvent registers a subscription for accepted blocks.
func (c *Chain) SubscribeChainEvent(ch chan<- ChainEvent) event.Subscription {
	return c.scope.Track(c.chainFeed.Subscribe(ch))
}

// Stop unsubscribes all chain event listeners.
func (c *Chain) Stop() {
	c.scope.Close()
}

// ResetSyncHead moves the sync head back to the current header head. Done on
// the first transition into header sync.
func (c *Chain) ResetSyncHead() (*types.Tip, error) {
	u := c.store.StoreUpdate()
	headerHead, err := u.HeaderHead()
	if err != nil {
		return nil, err
	}
	u.SaveSyncHead(headerHead)
	if err := u.Commit(); err != nil {
		return nil, err
	}
	syncHeadGauge.Update(int64(headerHead.Height))
	return headerHead, nil
}

// ProcessBlockHeader validates a header received during header-first block
// propagation. Nothing is persisted; the caller is expected to fetch the
// block itself next.
func (c *Chain) ProcessBlockHeader(header *types.BlockHeader) error {
	// The update backing this validation is never committed.
	cu := c.newChainUpdate()
	return cu.processBlockHeader(header)
}

// ProcessBlock runs a received or produced block through the processing
// pipeline and then drains any orphans it unblocked. The accepted callback
// fires once per accepted block, after commit.
func (c *Chain) ProcessBlock(block *types.Block, provenance types.Provenance, accepted BlockAcceptedFn) (*types.Tip, error) {
	hash := block.Hash()
	tip, err := c.processBlockSingle(block, provenance, accepted)
	if err == nil {
		if newTip := c.CheckOrphans(hash, accepted); newTip != nil {
			return newTip, nil
		}
	}
	return tip, err
}

// SyncBlockHeaders validates and stores a batch of headers received during
// header sync.
func (c *Chain) SyncBlockHeaders(headers []*types.BlockHeader) error {
	cu := c.newChainUpdate()
	if err := cu.syncBlockHeaders(headers); err != nil {
		return err
	}
	if err := cu.commit(); err != nil {
		return err
	}
	if headerHead, err := c.store.HeaderHead(); err == nil {
		headHeaderGauge.Update(int64(headerHead.Height))
	}
	return nil
}

// CheckStateNeeded decides between block download and state download.
// It returns the hashes of blocks missing below the header head, newest
// first; if the gap exceeds blockFetchHorizon the hash list is discarded and
// state sync is signalled instead.
func (c *Chain) CheckStateNeeded(blockFetchHorizon uint64) (bool, []common.Hash, error) {
	head, err := c.store.Head()
	if err != nil {
		return false, nil, err
	}
	headerHead, err := c.store.HeaderHead()
	if err != nil {
		return false, nil, err
	}
	if head.TotalWeight >= headerHead.TotalWeight {
		return false, nil, nil
	}

	// Walk the header chain backwards until it rejoins the block chain.
	var (
		hashes       []common.Hash
		oldestHeight uint64
	)
	header, err := c.store.GetBlockHeader(headerHead.LastBlockHash)
	for err == nil {
		if header.Height <= head.Height && c.isOnCurrentChain(header) {
			break
		}
		oldestHeight = header.Height
		hashes = append(hashes, header.Hash())
		header, err = c.store.GetPreviousHeader(header)
	}
	if err != nil && !IsNotFound(err) {
		return false, nil, err
	}

	syncHead, err := c.store.SyncHead()
	if err != nil {
		return false, nil, err
	}
	var horizonFloor uint64
	if syncHead.Height > blockFetchHorizon {
		horizonFloor = syncHead.Height - blockFetchHorizon
	}
	if oldestHeight < horizonFloor {
		return true, nil, nil
	}
	return false, hashes, nil
}

// SetShardState installs a state snapshot fetched by state sync. The runtime
// validates the payload against the state root the anchor header commits to;
// the root and inbound receipts are then recorded under the anchor's parent.
func (c *Chain) SetShardState(shardID uint64, hash common.Hash, payload []byte, receipts []*types.Receipt) error {
	header, err := c.store.GetBlockHeader(hash)
	if err != nil {
		return err
	}
	prevHash, stateRoot := header.PrevHash, header.PrevStateRoot

	if err := c.runtime.SetState(shardID, stateRoot, payload); err != nil {
		return wrapErr(ErrKindInvalidStatePayload, err)
	}

	u := c.store.StoreUpdate()
	u.SavePostStateRoot(prevHash, stateRoot)
	u.SaveReceipts(prevHash, receipts)
	return u.Commit()
}

// FindCommonHeader returns the first of the given hashes that is known on
// the canonical chain.
func (c *Chain) FindCommonHeader(hashes []common.Hash) *types.BlockHeader {
	for _, hash := range hashes {
		header, err := c.store.GetBlockHeader(hash)
		if err != nil {
			continue
		}
		chainHash, err := c.store.GetBlockHashByHeight(header.Height)
		if err == nil && chainHash == header.Hash() {
			return header
		}
	}
	return nil
}

// isOnCurrentChain reports whether the header is canonical at its height.
func (c *Chain) isOnCurrentChain(header *types.BlockHeader) bool {
	chainHash, err := c.store.GetBlockHashByHeight(header.Height)
	return err == nil && chainHash == header.Hash()
}

func (c *Chain) determineStatus(newHead, prevHead *types.Tip) types.BlockStatus {
	if newHead == nil {
		return types.BlockStatusFork
	}
	if newHead.PrevBlockHash == prevHead.LastBlockHash {
		return types.BlockStatusNext
	}
	return types.BlockStatusReorg
}

func (c *Chain) processBlockSingle(block *types.Block, provenance types.Provenance, accepted BlockAcceptedFn) (*types.Tip, error) {
	start := time.Now()
	prevHead, err := c.store.Head()
	if err != nil {
		return nil, err
	}
	cu := c.newChainUpdate()
	tip, err := cu.processBlock(block, provenance)
	if err == nil {
		if err = cu.commit(); err != nil {
			return nil, err
		}
	}

	switch KindOf(err) {
	case ErrKindOther:
		if err != nil {
			return nil, err
		}
		status := c.determineStatus(tip, prevHead)
		if status == types.BlockStatusReorg {
			blockReorgMeter.Mark(1)
		}
		if tip != nil {
			headBlockGauge.Update(int64(tip.Height))
		}
		blockInsertTimer.UpdateSince(start)
		if accepted != nil {
			accepted(block, status, provenance)
		}
		c.chainFeed.Send(ChainEvent{Block: block, Status: status, Provenance: provenance})
		return tip, nil
	case ErrKindOrphan:
		evictedBefore := c.orphans.EvictedCount()
		c.orphans.Add(&Orphan{Block: block, Provenance: provenance, Added: time.Now()})
		orphanPoolGauge.Update(int64(c.orphans.Len()))
		orphanEvictMeter.Mark(int64(c.orphans.EvictedCount() - evictedBefore))
		log.Debug("Process block: orphan", "hash", block.Hash(), "orphans", c.orphans.Len(), "evicted", c.orphans.EvictedCount())
		return nil, err
	case ErrKindUnfit:
		log.Debug("Block is unfit at this time", "hash", block.Hash(), "height", block.Header.Height, "reason", err)
		return nil, err
	default:
		return nil, err
	}
}

// CheckOrphans drains the orphan pool by BFS from the given hash, processing
// every orphan whose ancestry just became complete. Rejected descendants are
// dropped; the pool entry was already consumed.
func (c *Chain) CheckOrphans(hash common.Hash, accepted BlockAcceptedFn) *types.Tip {
	queue := []common.Hash{hash}
	var newTip *types.Tip

	log.Debug("Check orphans", "from", hash, "orphans", c.orphans.Len())
	for idx := 0; idx < len(queue); idx++ {
		orphans := c.orphans.RemoveByPrevHash(queue[idx])
		for _, orphan := range orphans {
			blockHash := orphan.Block.Hash()
			tip, err := c.processBlockSingle(orphan.Block, orphan.Provenance, accepted)
			if err != nil {
				log.Debug("Orphan declined", "hash", blockHash, "err", err)
				continue
			}
			if tip != nil {
				newTip = tip
			}
			queue = append(queue, blockHash)
		}
	}
	orphanPoolGauge.Update(int64(c.orphans.Len()))
	if len(queue) > 1 {
		log.Debug("Check orphans done", "accepted", len(queue)-1, "remaining", c.orphans.Len())
	}
	return newTip
}

func (c *Chain) newChainUpdate() *chainUpdate {
	return &chainUpdate{
		runtime:        c.runtime,
		update:         c.store.StoreUpdate(),
		orphans:        c.orphans,
		validityPeriod: c.config.TransactionValidityPeriod,
	}
}

// chainUpdate processes one block or header batch against a staged store
// update. If processing fails the update is dropped and nothing is written.
// The update holds no reference back to the chain.
type chainUpdate struct {
	runtime        RuntimeAdapter
	update         *ChainStoreUpdate
	orphans        *OrphanBlockPool
	validityPeriod uint64
}

func (cu *chainUpdate) commit() error {
	return cu.update.Commit()
}

// processBlockHeader validates a header received on its own. The header is
// deliberately not stored; header head only moves once the block arrives.
func (cu *chainUpdate) processBlockHeader(header *types.BlockHeader) error {
	log.Debug("Process block header", "hash", header.Hash(), "height", header.Height)

	if err := cu.checkHeaderKnown(header); err != nil {
		return err
	}
	return cu.validateHeader(header, types.ProvenanceNone)
}

// getPreviousHeader maps a missing parent to an orphan classification.
func (cu *chainUpdate) getPreviousHeader(header *types.BlockHeader) (*types.BlockHeader, error) {
	prev, err := cu.update.GetPreviousHeader(header)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrOrphan
		}
		return nil, err
	}
	return prev, nil
}

// processBlock validates the block, applies its transactions through the
// runtime and stages every derived fact. Returns the new head tip if the
// chain head moved.
func (cu *chainUpdate) processBlock(block *types.Block, provenance types.Provenance) (*types.Tip, error) {
	header := block.Header
	log.Debug("Process block", "hash", block.Hash(), "height", header.Height,
		"approvals", len(header.Approvals), "txs", len(block.Transactions))

	// Fast-reject anything we have handled already.
	if err := cu.checkKnown(block); err != nil {
		return nil, err
	}

	head, err := cu.update.Head()
	if err != nil {
		return nil, err
	}
	isNext := header.PrevHash == head.LastBlockHash

	// First real I/O expense.
	if err := cu.checkHeaderSignature(header); err != nil {
		return nil, err
	}
	prev, err := cu.getPreviousHeader(header)
	if err != nil {
		return nil, err
	}
	prevHash := prev.Hash()

	// The block is an orphan unless the previous full block is known.
	if !isNext {
		exists, err := cu.update.BlockExists(prevHash)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrOrphan
		}
	}

	// The header must check out before the full block is worth applying.
	if err := cu.processHeaderForBlock(header, provenance); err != nil {
		return nil, err
	}

	// The state root this block builds on must match what we computed for
	// its parent.
	stateRoot, err := cu.update.GetPostStateRoot(prevHash)
	if err != nil {
		return nil, err
	}
	if header.PrevStateRoot != stateRoot {
		return nil, chainErr(ErrKindInvalidStateRoot, "")
	}

	for _, tx := range block.Transactions {
		if !cu.checkTxHistory(tx, header.Height) {
			return nil, chainErr(ErrKindInvalidStatePayload,
				"block contains transactions that are either expired or from a different fork")
		}
	}

	// Receipts routed in from the previous block.
	receipts, err := cu.update.GetReceipts(prevHash)
	if err != nil {
		return nil, err
	}

	result, err := cu.runtime.ApplyTransactions(0, header.PrevStateRoot, header.Height,
		header.PrevHash, block.Hash(), [][]*types.Receipt{receipts}, block.Transactions)
	if err != nil {
		return nil, wrapErr(ErrKindOther, err)
	}

	cu.update.SavePostStateRoot(block.Hash(), result.NewStateRoot)
	cu.update.SavePostValidatorProposals(block.Hash(), result.ValidatorProposals)

	// The block checks out; record its proposals for epoch bookkeeping.
	if err := cu.runtime.AddValidatorProposals(header.PrevHash, block.Hash(), header.Height,
		result.ValidatorProposals, nil, nil); err != nil {
		return nil, wrapErr(ErrKindOther, err)
	}

	cu.update.SaveTrieChanges(result.TrieChanges)

	// Only the local shard's receipts are retained for now.
	cu.update.SaveReceipts(block.Hash(), result.NewReceipts[0])
	for _, txResult := range result.TransactionResults {
		cu.update.SaveTransactionResult(txResult.Hash, txResult.Result)
	}

	// The block is stored even if it loses the fork race.
	cu.update.SaveBlock(block)

	return cu.updateHead(block)
}

// processHeaderForBlock validates and stages the header of a block being
// processed, advancing the header head if the weight increased.
func (cu *chainUpdate) processHeaderForBlock(header *types.BlockHeader, provenance types.Provenance) error {
	if err := cu.validateHeader(header, provenance); err != nil {
		return err
	}
	cu.update.SaveBlockHeader(header)
	_, err := cu.updateHeaderHead(header)
	return err
}

// syncBlockHeaders ingests a batch of headers received from header sync.
func (cu *chainUpdate) syncBlockHeaders(headers []*types.BlockHeader) error {
	if len(headers) == 0 {
		return nil
	}
	sortHeadersByHeight(headers)
	first, last := headers[0], headers[len(headers)-1]
	log.Debug("Sync block headers", "count", len(headers), "from", first.Hash(), "height", first.Height)

	// If the last header is known the whole batch is.
	allKnown := false
	if _, err := cu.update.GetBlockHeader(last.Hash()); err == nil {
		allKnown = true
	}

	if !allKnown {
		// Validate in order; a failure in the middle leaves nothing committed.
		for _, header := range headers {
			if err := cu.validateHeader(header, types.ProvenanceSync); err != nil {
				return err
			}
			cu.update.SaveBlockHeader(header)

			if err := cu.runtime.AddValidatorProposals(header.PrevHash, header.Hash(),
				header.Height, header.ValidatorProposals, nil, nil); err != nil {
				return wrapErr(ErrKindOther, err)
			}
		}
		headerProcessMeter.Mark(int64(len(headers)))
	}

	// The sync head moves regardless of the total weight.
	cu.updateSyncHead(last)
	_, err := cu.updateHeaderHead(last)
	return err
}

func (cu *chainUpdate) checkHeaderSignature(header *types.BlockHeader) error {
	validator, err := cu.runtime.GetBlockProposer(header.EpochHash, header.Height)
	if err != nil {
		return wrapErr(ErrKindOther, err)
	}
	hash := header.Hash()
	if !cu.runtime.CheckValidatorSignature(header.EpochHash, validator, hash.Bytes(), header.Signature) {
		return chainErr(ErrKindInvalidSignature, "")
	}
	return nil
}

func (cu *chainUpdate) validateHeader(header *types.BlockHeader, provenance types.Provenance) error {
	// Refuse headers from the too distant future.
	if header.Time().After(time.Now().Add(params.AcceptableFutureTime)) {
		return chainErrf(ErrKindInvalidBlockFutureTime, "%v", header.Time())
	}

	// First I/O cost, delayed as much as possible.
	if err := cu.checkHeaderSignature(header); err != nil {
		return err
	}

	prev, err := cu.getPreviousHeader(header)
	if err != nil {
		return err
	}

	// Strict time progression blocks time-warp games.
	if header.Timestamp <= prev.Timestamp {
		return chainErrf(ErrKindInvalidBlockPastTime, "%v not after %v", header.Time(), prev.Time())
	}

	// A block we produced ourselves carries a weight we already trust.
	if provenance != types.ProvenanceProduced {
		weight, err := cu.runtime.ComputeBlockWeight(prev, header)
		if err != nil {
			return wrapErr(ErrKindOther, err)
		}
		if weight != header.TotalWeight {
			return chainErr(ErrKindInvalidBlockWeight, "")
		}
	}
	return nil
}

// checkTxHistory reports whether the transaction's anchor block is recent
// enough from the perspective of a block at the given height.
func (cu *chainUpdate) checkTxHistory(tx *types.SignedTransaction, height uint64) bool {
	anchor, err := cu.update.GetBlockHeader(tx.BlockHash)
	if err != nil {
		return false
	}
	return anchor.Height+cu.validityPeriod >= height
}

// updateHeaderHead advances the header head if this header has more weight.
func (cu *chainUpdate) updateHeaderHead(header *types.BlockHeader) (*types.Tip, error) {
	headerHead, err := cu.update.HeaderHead()
	if err != nil {
		return nil, err
	}
	if header.TotalWeight > headerHead.TotalWeight {
		tip := types.TipFromHeader(header)
		cu.update.SaveHeaderHead(tip)
		log.Debug("Header head updated", "hash", tip.LastBlockHash, "height", tip.Height)
		return tip, nil
	}
	return nil, nil
}

// updateHead moves the chain head if the block brought more weight than the
// current head, covering both direct extension and a heavier fork.
func (cu *chainUpdate) updateHead(block *types.Block) (*types.Tip, error) {
	head, err := cu.update.Head()
	if err != nil {
		return nil, err
	}
	if block.Header.TotalWeight > head.TotalWeight {
		tip := types.TipFromHeader(block.Header)
		if err := cu.update.SaveBodyHead(tip); err != nil {
			return nil, err
		}
		log.Debug("Head updated", "hash", tip.LastBlockHash, "height", tip.Height)
		return tip, nil
	}
	return nil, nil
}

// updateSyncHead moves the sync head to the given header unconditionally.
func (cu *chainUpdate) updateSyncHead(header *types.BlockHeader) {
	tip := types.TipFromHeader(header)
	cu.update.SaveSyncHead(tip)
	log.Debug("Sync head updated", "hash", tip.LastBlockHash, "height", tip.Height)
}

// checkHeaderKnown fast-rejects a header matching the header head or its parent.
func (cu *chainUpdate) checkHeaderKnown(header *types.BlockHeader) error {
	headerHead, err := cu.update.HeaderHead()
	if err != nil {
		return err
	}
	if header.Hash() == headerHead.LastBlockHash || header.Hash() == headerHead.PrevBlockHash {
		return chainErr(ErrKindUnfit, "header already known")
	}
	return nil
}

// checkKnownHead fast-rejects a block matching the head or its parent.
func (cu *chainUpdate) checkKnownHead(header *types.BlockHeader) error {
	head, err := cu.update.Head()
	if err != nil {
		return err
	}
	hash := header.Hash()
	if hash == head.LastBlockHash || hash == head.PrevBlockHash {
		return chainErr(ErrKindUnfit, "already known in head")
	}
	return nil
}

func (cu *chainUpdate) checkKnownOrphans(header *types.BlockHeader) error {
	if cu.orphans.Contains(header.Hash()) {
		return chainErr(ErrKindUnfit, "already known in orphans")
	}
	return nil
}

func (cu *chainUpdate) checkKnownStore(header *types.BlockHeader) error {
	exists, err := cu.update.BlockExists(header.Hash())
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	head, err := cu.update.Head()
	if err != nil {
		return err
	}
	if header.Height > params.OldBlockThreshold && header.Height < head.Height-params.OldBlockThreshold {
		// Only flagged as abusive when the full block is in our store, so
		// this is not a particularly exhaustive check.
		return chainErr(ErrKindOldBlock, "")
	}
	return chainErr(ErrKindUnfit, "already known in store")
}

// checkKnown rejects a block known from the head, the orphan pool or the store.
func (cu *chainUpdate) checkKnown(block *types.Block) error {
	if err := cu.checkKnownHead(block.Header); err != nil {
		return err
	}
	if err := cu.checkKnownOrphans(block.Header); err != nil {
		return err
	}
	return cu.checkKnownStore(block.Header)
}

func sortHeadersByHeight(headers []*types.BlockHeader) {
	sort.SliceStable(headers, func(i, j int) bool {
		return headers[i].Height < headers[j].Height
	})
}
