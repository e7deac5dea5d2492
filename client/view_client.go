package client

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"

	"github.com/Bakeneke/nearcore/core"
	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/params"
)

// ViewClient answers read-only queries against the committed chain and
// state. It opens its own chain handle over the shared database, so it only
// ever observes committed store updates.
type ViewClient struct {
	chain   *core.Chain
	runtime core.RuntimeAdapter
}

// NewViewClient creates a view client over the shared database.
func NewViewClient(db ethdb.Database, config *params.ChainConfig, runtime core.RuntimeAdapter) (*ViewClient, error) {
	chain, err := core.NewChain(db, config, runtime)
	if err != nil {
		return nil, err
	}
	return &ViewClient{chain: chain, runtime: runtime}, nil
}

// GetBlock retrieves a block by hash.
func (vc *ViewClient) GetBlock(hash common.Hash) (*types.Block, error) {
	return vc.chain.GetBlock(hash)
}

// GetBlockByHeight retrieves the canonical block at the given height.
func (vc *ViewClient) GetBlockByHeight(height uint64) (*types.Block, error) {
	return vc.chain.GetBlockByHeight(height)
}

// GetBestBlock retrieves the block at the chain head.
func (vc *ViewClient) GetBestBlock() (*types.Block, error) {
	head, err := vc.chain.Head()
	if err != nil {
		return nil, err
	}
	return vc.chain.GetBlock(head.LastBlockHash)
}

// Query runs a read-only runtime query at the state of the chain head.
func (vc *ViewClient) Query(path string, data []byte) (*core.QueryResponse, error) {
	head, err := vc.chain.Head()
	if err != nil {
		return nil, err
	}
	stateRoot, err := vc.chain.GetPostStateRoot(head.LastBlockHash)
	if err != nil {
		return nil, err
	}
	return vc.runtime.Query(stateRoot, head.Height, path, data)
}

// GetTransactionResult returns the result of a transaction or receipt. An
// unknown hash yields an empty result with unknown status rather than an
// error, since the transaction may simply not have arrived yet.
func (vc *ViewClient) GetTransactionResult(hash common.Hash) (*types.TransactionResult, error) {
	result, err := vc.chain.GetTransactionResult(hash)
	if err != nil {
		if core.IsNotFound(err) {
			return &types.TransactionResult{Status: types.TransactionStatusUnknown}, nil
		}
		return nil, err
	}
	return result, nil
}

// getRecursiveTransactionResults walks the receipt tree under the given
// transaction depth-first, collecting every result.
func (vc *ViewClient) getRecursiveTransactionResults(hash common.Hash) ([]*types.TransactionLog, error) {
	result, err := vc.GetTransactionResult(hash)
	if err != nil {
		return nil, err
	}
	logs := []*types.TransactionLog{{Hash: hash, Result: result}}
	for _, receiptID := range result.Receipts {
		children, err := vc.getRecursiveTransactionResults(receiptID)
		if err != nil {
			return nil, err
		}
		logs = append(logs, children...)
	}
	return logs, nil
}

// GetFinalTransactionResult folds the whole receipt tree of a transaction
// into one final status: any failure fails it, any unknown leaves it
// started, otherwise it completed.
func (vc *ViewClient) GetFinalTransactionResult(hash common.Hash) (*types.FinalTransactionResult, error) {
	logs, err := vc.getRecursiveTransactionResults(hash)
	if err != nil {
		return nil, err
	}
	status := types.FinalTransactionStatusCompleted
	for _, l := range logs {
		if l.Result.Status == types.TransactionStatusFailed {
			status = types.FinalTransactionStatusFailed
			break
		}
		if l.Result.Status == types.TransactionStatusUnknown {
			status = types.FinalTransactionStatusStarted
		}
	}
	return &types.FinalTransactionResult{Status: status, Transactions: logs}, nil
}
