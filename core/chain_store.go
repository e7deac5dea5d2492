package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"

	"github.com/Bakeneke/nearcore/core/rawdb"
	"github.com/Bakeneke/nearcore/core/types"
)

const (
	headerCacheLimit = 512
	blockCacheLimit  = 256
)

// ChainStore provides durable access to every chain fact: blocks, headers,
// the height index, chain heads, post state roots, receipts, transaction
// results and validator proposals.
//
// ChainStore is not safe for concurrent mutation. All writes flow through a
// ChainStoreUpdate and there is a single writer; readers observe committed
// state only.
type ChainStore struct {
	db ethdb.Database

	headerCache *lru.Cache[common.Hash, *types.BlockHeader]
	blockCache  *lru.Cache[common.Hash, *types.Block]
}

// NewChainStore creates a chain store around a database.
func NewChainStore(db ethdb.Database) *ChainStore {
	return &ChainStore{
		db:          db,
		headerCache: lru.NewCache[common.Hash, *types.BlockHeader](headerCacheLimit),
		blockCache:  lru.NewCache[common.Hash, *types.Block](blockCacheLimit),
	}
}

// Database exposes the underlying database, read-only by convention.
func (cs *ChainStore) Database() ethdb.Database { return cs.db }

// Head returns the tip of the fully applied block chain. Chain markers are
// always read from the database: other handles over the same database (the
// view client) must observe every committed head move.
func (cs *ChainStore) Head() (*types.Tip, error) {
	tip := rawdb.ReadHead(cs.db)
	if tip == nil {
		return nil, chainErr(ErrKindDBNotFound, "HEAD")
	}
	return tip, nil
}

// HeaderHead returns the heaviest known header tip.
func (cs *ChainStore) HeaderHead() (*types.Tip, error) {
	tip := rawdb.ReadHeaderHead(cs.db)
	if tip == nil {
		return nil, chainErr(ErrKindDBNotFound, "HEADER_HEAD")
	}
	return tip, nil
}

// SyncHead returns the header-download progress marker.
func (cs *ChainStore) SyncHead() (*types.Tip, error) {
	tip := rawdb.ReadSyncHead(cs.db)
	if tip == nil {
		return nil, chainErr(ErrKindDBNotFound, "SYNC_HEAD")
	}
	return tip, nil
}

// HeadHeader returns the header of the chain head block.
func (cs *ChainStore) HeadHeader() (*types.BlockHeader, error) {
	head, err := cs.Head()
	if err != nil {
		return nil, err
	}
	return cs.GetBlockHeader(head.LastBlockHash)
}

// GetBlock retrieves a block by hash.
func (cs *ChainStore) GetBlock(hash common.Hash) (*types.Block, error) {
	if block, ok := cs.blockCache.Get(hash); ok {
		return block, nil
	}
	block := rawdb.ReadBlock(cs.db, hash)
	if block == nil {
		return nil, chainErrf(ErrKindDBNotFound, "block %s", hash)
	}
	cs.blockCache.Add(hash, block)
	return block, nil
}

// BlockExists checks whether a block is stored.
func (cs *ChainStore) BlockExists(hash common.Hash) (bool, error) {
	if cs.blockCache.Contains(hash) {
		return true, nil
	}
	return rawdb.HasBlock(cs.db, hash), nil
}

// GetBlockHeader retrieves a block header by hash.
func (cs *ChainStore) GetBlockHeader(hash common.Hash) (*types.BlockHeader, error) {
	if header, ok := cs.headerCache.Get(hash); ok {
		return header, nil
	}
	header := rawdb.ReadHeader(cs.db, hash)
	if header == nil {
		return nil, chainErrf(ErrKindDBNotFound, "header %s", hash)
	}
	cs.headerCache.Add(hash, header)
	return header, nil
}

// GetPreviousHeader retrieves the parent header of the given one.
func (cs *ChainStore) GetPreviousHeader(header *types.BlockHeader) (*types.BlockHeader, error) {
	return cs.GetBlockHeader(header.PrevHash)
}

// GetBlockHashByHeight resolves a height to the canonical block hash.
func (cs *ChainStore) GetBlockHashByHeight(height uint64) (common.Hash, error) {
	hash := rawdb.ReadCanonicalHash(cs.db, height)
	if hash == (common.Hash{}) {
		return common.Hash{}, chainErrf(ErrKindDBNotFound, "block at height %d", height)
	}
	return hash, nil
}

// GetPostStateRoot returns the state root after applying the given block.
func (cs *ChainStore) GetPostStateRoot(hash common.Hash) (common.Hash, error) {
	root, ok := rawdb.ReadPostStateRoot(cs.db, hash)
	if !ok {
		return common.Hash{}, chainErrf(ErrKindDBNotFound, "post state root %s", hash)
	}
	return root, nil
}

// GetReceipts returns the outgoing receipts produced by the given block.
func (cs *ChainStore) GetReceipts(hash common.Hash) ([]*types.Receipt, error) {
	receipts, ok := rawdb.ReadReceipts(cs.db, hash)
	if !ok {
		return nil, chainErrf(ErrKindDBNotFound, "receipts %s", hash)
	}
	return receipts, nil
}

// GetTransactionResult returns the stored result of a transaction or receipt.
func (cs *ChainStore) GetTransactionResult(hash common.Hash) (*types.TransactionResult, error) {
	result := rawdb.ReadTransactionResult(cs.db, hash)
	if result == nil {
		return nil, chainErrf(ErrKindDBNotFound, "transaction result %s", hash)
	}
	return result, nil
}

// GetPostValidatorProposals returns the proposals recorded after the given block.
func (cs *ChainStore) GetPostValidatorProposals(hash common.Hash) ([]*types.ValidatorStake, error) {
	proposals, ok := rawdb.ReadPostValidatorProposals(cs.db, hash)
	if !ok {
		return nil, chainErrf(ErrKindDBNotFound, "validator proposals %s", hash)
	}
	return proposals, nil
}

// StoreUpdate opens a staged update. Only one update may be live at a time;
// the single-writer discipline of the chain guarantees this.
func (cs *ChainStore) StoreUpdate() *ChainStoreUpdate {
	return &ChainStoreUpdate{
		store:         cs,
		blocks:        make(map[common.Hash]*types.Block),
		headers:       make(map[common.Hash]*types.BlockHeader),
		blockIndex:    make(map[uint64]common.Hash),
		blockIndexDel: make(map[uint64]struct{}),
		stateRoots:    make(map[common.Hash]common.Hash),
		receipts:      make(map[common.Hash][]*types.Receipt),
		txResults:     make(map[common.Hash]*types.TransactionResult),
		proposals:     make(map[common.Hash][]*types.ValidatorStake),
	}
}

// ChainStoreUpdate buffers mutations against a ChainStore and flushes them
// atomically on Commit. Reads through the update observe its own pending
// writes on top of the committed state; nothing becomes visible to other
// readers until Commit returns.
type ChainStoreUpdate struct {
	store *ChainStore

	blocks        map[common.Hash]*types.Block
	headers       map[common.Hash]*types.BlockHeader
	blockIndex    map[uint64]common.Hash
	blockIndexDel map[uint64]struct{}
	stateRoots    map[common.Hash]common.Hash
	receipts      map[common.Hash][]*types.Receipt
	txResults     map[common.Hash]*types.TransactionResult
	proposals     map[common.Hash][]*types.ValidatorStake
	trieChanges   []*TrieChanges

	head       *types.Tip
	headerHead *types.Tip
	syncHead   *types.Tip

	committed bool
}

// Head returns the chain head, observing a pending head write.
func (u *ChainStoreUpdate) Head() (*types.Tip, error) {
	if u.head != nil {
		return u.head, nil
	}
	return u.store.Head()
}

// HeaderHead returns the header head, observing a pending write.
func (u *ChainStoreUpdate) HeaderHead() (*types.Tip, error) {
	if u.headerHead != nil {
		return u.headerHead, nil
	}
	return u.store.HeaderHead()
}

// SyncHead returns the sync head, observing a pending write.
func (u *ChainStoreUpdate) SyncHead() (*types.Tip, error) {
	if u.syncHead != nil {
		return u.syncHead, nil
	}
	return u.store.SyncHead()
}

// GetBlock retrieves a block, observing pending writes.
func (u *ChainStoreUpdate) GetBlock(hash common.Hash) (*types.Block, error) {
	if block, ok := u.blocks[hash]; ok {
		return block, nil
	}
	return u.store.GetBlock(hash)
}

// BlockExists checks block presence, observing pending writes.
func (u *ChainStoreUpdate) BlockExists(hash common.Hash) (bool, error) {
	if _, ok := u.blocks[hash]; ok {
		return true, nil
	}
	return u.store.BlockExists(hash)
}

// GetBlockHeader retrieves a header, observing pending writes.
func (u *ChainStoreUpdate) GetBlockHeader(hash common.Hash) (*types.BlockHeader, error) {
	if header, ok := u.headers[hash]; ok {
		return header, nil
	}
	return u.store.GetBlockHeader(hash)
}

// GetPreviousHeader retrieves the parent header, observing pending writes.
func (u *ChainStoreUpdate) GetPreviousHeader(header *types.BlockHeader) (*types.BlockHeader, error) {
	return u.GetBlockHeader(header.PrevHash)
}

// GetBlockHashByHeight resolves a height, observing pending index writes.
func (u *ChainStoreUpdate) GetBlockHashByHeight(height uint64) (common.Hash, error) {
	if hash, ok := u.blockIndex[height]; ok {
		return hash, nil
	}
	if _, ok := u.blockIndexDel[height]; ok {
		return common.Hash{}, chainErrf(ErrKindDBNotFound, "block at height %d", height)
	}
	return u.store.GetBlockHashByHeight(height)
}

// GetPostStateRoot returns a post state root, observing pending writes.
func (u *ChainStoreUpdate) GetPostStateRoot(hash common.Hash) (common.Hash, error) {
	if root, ok := u.stateRoots[hash]; ok {
		return root, nil
	}
	return u.store.GetPostStateRoot(hash)
}

// GetReceipts returns outgoing receipts, observing pending writes.
func (u *ChainStoreUpdate) GetReceipts(hash common.Hash) ([]*types.Receipt, error) {
	if receipts, ok := u.receipts[hash]; ok {
		return receipts, nil
	}
	return u.store.GetReceipts(hash)
}

// SaveBlock stages a block write.
func (u *ChainStoreUpdate) SaveBlock(block *types.Block) {
	u.blocks[block.Hash()] = block
}

// SaveBlockHeader stages a header write.
func (u *ChainStoreUpdate) SaveBlockHeader(header *types.BlockHeader) {
	u.headers[header.Hash()] = header
}

// SavePostStateRoot stages the state root reached after applying a block.
func (u *ChainStoreUpdate) SavePostStateRoot(hash common.Hash, root common.Hash) {
	u.stateRoots[hash] = root
}

// SaveReceipts stages the outgoing receipts produced by a block.
func (u *ChainStoreUpdate) SaveReceipts(hash common.Hash, receipts []*types.Receipt) {
	if receipts == nil {
		receipts = []*types.Receipt{}
	}
	u.receipts[hash] = receipts
}

// SaveTransactionResult stages the result of one transaction or receipt.
func (u *ChainStoreUpdate) SaveTransactionResult(hash common.Hash, result *types.TransactionResult) {
	u.txResults[hash] = result
}

// SavePostValidatorProposals stages the proposals recorded after a block.
func (u *ChainStoreUpdate) SavePostValidatorProposals(hash common.Hash, proposals []*types.ValidatorStake) {
	if proposals == nil {
		proposals = []*types.ValidatorStake{}
	}
	u.proposals[hash] = proposals
}

// SaveTrieChanges stages raw state writes produced by the runtime.
func (u *ChainStoreUpdate) SaveTrieChanges(changes *TrieChanges) {
	if changes != nil {
		u.trieChanges = append(u.trieChanges, changes)
	}
}

// Merge splices runtime-produced writes into this update so they commit
// atomically with the chain facts.
func (u *ChainStoreUpdate) Merge(changes *TrieChanges) {
	u.SaveTrieChanges(changes)
}

// SaveHead stages a new chain head. The header head moves with it and the
// height index is rewritten along the new canonical ancestry.
func (u *ChainStoreUpdate) SaveHead(tip *types.Tip) error {
	if err := u.SaveBodyHead(tip); err != nil {
		return err
	}
	u.headerHead = tip
	return nil
}

// SaveBodyHead stages a new block head and rewrites the height index so that
// every height from the tip back to the fork point resolves to the new
// canonical chain. Heights above the tip left over from a heavier-looking
// old fork are cleared.
func (u *ChainStoreUpdate) SaveBodyHead(tip *types.Tip) error {
	if err := u.rewriteBlockIndex(tip); err != nil {
		return err
	}
	u.head = tip
	return nil
}

// SaveHeaderHead stages a new header head.
func (u *ChainStoreUpdate) SaveHeaderHead(tip *types.Tip) {
	u.headerHead = tip
}

// SaveSyncHead stages a new sync head.
func (u *ChainStoreUpdate) SaveSyncHead(tip *types.Tip) {
	u.syncHead = tip
}

// rewriteBlockIndex makes the height index reflect the chain ending at tip.
// It walks the ancestry along PrevHash, overwriting stale entries until it
// meets a height whose entry already matches the new chain, and deletes any
// canonical assignments above the tip.
func (u *ChainStoreUpdate) rewriteBlockIndex(tip *types.Tip) error {
	for height := tip.Height + 1; ; height++ {
		if _, err := u.GetBlockHashByHeight(height); err != nil {
			if IsNotFound(err) {
				break
			}
			return err
		}
		delete(u.blockIndex, height)
		u.blockIndexDel[height] = struct{}{}
	}

	hash, height := tip.LastBlockHash, tip.Height
	for {
		if existing, err := u.GetBlockHashByHeight(height); err == nil && existing == hash {
			break
		} else if err != nil && !IsNotFound(err) {
			return err
		}
		delete(u.blockIndexDel, height)
		u.blockIndex[height] = hash
		if height == 0 {
			break
		}
		header, err := u.GetBlockHeader(hash)
		if err != nil {
			if IsNotFound(err) {
				return chainErrf(ErrKindInvalidChain, "missing ancestor %s at height %d", hash, height)
			}
			return err
		}
		parent, err := u.GetBlockHeader(header.PrevHash)
		if err != nil {
			if IsNotFound(err) {
				return chainErrf(ErrKindInvalidChain, "missing ancestor %s at height %d", header.PrevHash, height-1)
			}
			return err
		}
		// Clear canonical entries for heights the chain skips over.
		for skipped := parent.Height + 1; skipped < height; skipped++ {
			if _, err := u.GetBlockHashByHeight(skipped); err == nil {
				delete(u.blockIndex, skipped)
				u.blockIndexDel[skipped] = struct{}{}
			}
		}
		hash, height = parent.Hash(), parent.Height
	}
	return nil
}

// Commit atomically flushes every pending write to the database. The update
// must not be used afterwards.
func (u *ChainStoreUpdate) Commit() error {
	if u.committed {
		return chainErr(ErrKindOther, "store update committed twice")
	}
	u.committed = true

	batch := u.store.db.NewBatch()
	for _, block := range u.blocks {
		rawdb.WriteBlock(batch, block)
	}
	for _, header := range u.headers {
		rawdb.WriteHeader(batch, header)
	}
	for height, hash := range u.blockIndex {
		rawdb.WriteCanonicalHash(batch, height, hash)
	}
	for height := range u.blockIndexDel {
		if _, ok := u.blockIndex[height]; ok {
			continue
		}
		rawdb.DeleteCanonicalHash(batch, height)
	}
	for hash, root := range u.stateRoots {
		rawdb.WritePostStateRoot(batch, hash, root)
	}
	for hash, receipts := range u.receipts {
		rawdb.WriteReceipts(batch, hash, receipts)
	}
	for hash, result := range u.txResults {
		rawdb.WriteTransactionResult(batch, hash, result)
	}
	for hash, proposals := range u.proposals {
		rawdb.WritePostValidatorProposals(batch, hash, proposals)
	}
	for _, changes := range u.trieChanges {
		if err := changes.WriteTo(batch); err != nil {
			return wrapErr(ErrKindIO, err)
		}
	}
	if u.head != nil {
		rawdb.WriteHead(batch, u.head)
	}
	if u.headerHead != nil {
		rawdb.WriteHeaderHead(batch, u.headerHead)
	}
	if u.syncHead != nil {
		rawdb.WriteSyncHead(batch, u.syncHead)
	}
	if err := batch.Write(); err != nil {
		log.Error("Failed to commit chain store update", "err", err)
		return wrapErr(ErrKindIO, err)
	}

	// Warm the caches only after the batch is durable.
	for hash, header := range u.headers {
		u.store.headerCache.Add(hash, header)
	}
	for hash, block := range u.blocks {
		u.store.blockCache.Add(hash, block)
	}
	return nil
}
