package core

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/params"
)

// Read accessors over the committed chain. These observe committed state
// only; an in-flight store update is invisible until it commits.

// Config returns the chain configuration.
func (c *Chain) Config() *params.ChainConfig { return c.config }

// Store returns the underlying chain store.
func (c *Chain) Store() *ChainStore { return c.store }

// Runtime returns the execution runtime the chain was built with.
func (c *Chain) Runtime() RuntimeAdapter { return c.runtime }

// GenesisHeader returns the genesis block header.
func (c *Chain) GenesisHeader() *types.BlockHeader { return c.genesis }

// Head returns the tip of the fully applied block chain.
func (c *Chain) Head() (*types.Tip, error) { return c.store.Head() }

// HeaderHead returns the heaviest known header tip, whose block may not yet
// be applied.
func (c *Chain) HeaderHead() (*types.Tip, error) { return c.store.HeaderHead() }

// SyncHead returns the header-download progress marker. Outside active sync
// it equals the header head.
func (c *Chain) SyncHead() (*types.Tip, error) { return c.store.SyncHead() }

// HeadHeader returns the header of the block at the chain head. Not the same
// thing as the header head.
func (c *Chain) HeadHeader() (*types.BlockHeader, error) { return c.store.HeadHeader() }

// GetBlock retrieves a block by hash.
func (c *Chain) GetBlock(hash common.Hash) (*types.Block, error) {
	return c.store.GetBlock(hash)
}

// GetBlockByHeight retrieves the canonical block at the given height.
func (c *Chain) GetBlockByHeight(height uint64) (*types.Block, error) {
	hash, err := c.store.GetBlockHashByHeight(height)
	if err != nil {
		return nil, err
	}
	return c.store.GetBlock(hash)
}

// GetBlockHeader retrieves a block header by hash.
func (c *Chain) GetBlockHeader(hash common.Hash) (*types.BlockHeader, error) {
	return c.store.GetBlockHeader(hash)
}

// GetHeaderByHeight retrieves the canonical header at the given height.
func (c *Chain) GetHeaderByHeight(height uint64) (*types.BlockHeader, error) {
	hash, err := c.store.GetBlockHashByHeight(height)
	if err != nil {
		return nil, err
	}
	return c.store.GetBlockHeader(hash)
}

// GetPreviousHeader retrieves the parent header of the given one.
func (c *Chain) GetPreviousHeader(header *types.BlockHeader) (*types.BlockHeader, error) {
	return c.store.GetPreviousHeader(header)
}

// BlockExists checks whether a block is stored.
func (c *Chain) BlockExists(hash common.Hash) (bool, error) {
	return c.store.BlockExists(hash)
}

// GetPostStateRoot returns the state root reached after applying the block.
func (c *Chain) GetPostStateRoot(hash common.Hash) (common.Hash, error) {
	return c.store.GetPostStateRoot(hash)
}

// GetReceipts returns the outgoing receipts produced by the block.
func (c *Chain) GetReceipts(hash common.Hash) ([]*types.Receipt, error) {
	return c.store.GetReceipts(hash)
}

// GetTransactionResult returns the stored result of a transaction or receipt.
func (c *Chain) GetTransactionResult(hash common.Hash) (*types.TransactionResult, error) {
	return c.store.GetTransactionResult(hash)
}

// GetPostValidatorProposals returns the proposals recorded after the block.
func (c *Chain) GetPostValidatorProposals(hash common.Hash) ([]*types.ValidatorStake, error) {
	return c.store.GetPostValidatorProposals(hash)
}

// OrphansLen returns the number of blocks in the orphan pool.
func (c *Chain) OrphansLen() int { return c.orphans.Len() }

// OrphansEvictedLen returns the number of orphans dropped by eviction.
func (c *Chain) OrphansEvictedLen() int { return c.orphans.EvictedCount() }

// IsOrphan reports whether the hash names a buffered orphan.
func (c *Chain) IsOrphan(hash common.Hash) bool { return c.orphans.Contains(hash) }
