package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"

	"github.com/Bakeneke/nearcore/core/types"
)

// TrieChanges is a batch of raw key/value writes produced by the runtime
// while applying transactions. It is merged into the chain store update so
// that state and chain facts commit atomically.
type TrieChanges struct {
	Inserts map[string][]byte
	Deletes map[string]struct{}
}

// NewTrieChanges returns an empty change set.
func NewTrieChanges() *TrieChanges {
	return &TrieChanges{Inserts: make(map[string][]byte), Deletes: make(map[string]struct{})}
}

// Put stages a raw write.
func (tc *TrieChanges) Put(key, value []byte) {
	delete(tc.Deletes, string(key))
	tc.Inserts[string(key)] = append([]byte(nil), value...)
}

// Delete stages a raw delete.
func (tc *TrieChanges) Delete(key []byte) {
	delete(tc.Inserts, string(key))
	tc.Deletes[string(key)] = struct{}{}
}

// WriteTo flushes the change set into a database writer.
func (tc *TrieChanges) WriteTo(w ethdb.KeyValueWriter) error {
	for key, value := range tc.Inserts {
		if err := w.Put([]byte(key), value); err != nil {
			return err
		}
	}
	for key := range tc.Deletes {
		if err := w.Delete([]byte(key)); err != nil {
			return err
		}
	}
	return nil
}

// ApplyResult is everything the runtime derives from applying one block.
type ApplyResult struct {
	TrieChanges        *TrieChanges
	NewStateRoot       common.Hash
	TransactionResults []*types.TransactionLog
	// NewReceipts maps destination shard to the receipts routed there.
	// Missing entries mean no receipts for that shard.
	NewReceipts        map[uint64][]*types.Receipt
	ValidatorProposals []*types.ValidatorStake
}

// SlashedValidator names a validator to be slashed together with the offence.
type SlashedValidator struct {
	AccountID types.AccountID
	Reason    string
}

// ValidatorReward is a reward attribution for an epoch transition.
type ValidatorReward struct {
	AccountID types.AccountID
	Amount    uint64
}

// RuntimeAdapter is the capability set the chain requires from the
// transaction execution engine. Implementations must be deterministic;
// test doubles implement the same interface.
type RuntimeAdapter interface {
	// GenesisState bootstraps the runtime state, returning the raw writes to
	// merge into the genesis commit and the per-shard genesis state roots.
	GenesisState() (*TrieChanges, []common.Hash)

	// GetBlockProposer returns the account expected to propose the block at
	// the given height of the epoch.
	GetBlockProposer(epochHash common.Hash, height uint64) (types.AccountID, error)

	// CheckValidatorSignature verifies a validator signature within an epoch.
	CheckValidatorSignature(epochHash common.Hash, accountID types.AccountID, msg, sig []byte) bool

	// ComputeBlockWeight computes the total weight a valid child of prev must
	// carry.
	ComputeBlockWeight(prev, header *types.BlockHeader) (types.Weight, error)

	// AddValidatorProposals records the proposals, slashings and rewards
	// attached to a block for epoch bookkeeping.
	AddValidatorProposals(prevHash, hash common.Hash, height uint64, proposals []*types.ValidatorStake, slashed []SlashedValidator, rewards []ValidatorReward) error

	// ApplyTransactions executes a block's transactions on top of the given
	// state root, consuming the receipts routed in from the parent block.
	ApplyTransactions(shardID uint64, prevStateRoot common.Hash, height uint64, prevHash, hash common.Hash, receipts [][]*types.Receipt, transactions []*types.SignedTransaction) (*ApplyResult, error)

	// SetState installs a state snapshot; it fails unless the payload hashes
	// to the expected root.
	SetState(shardID uint64, stateRoot common.Hash, payload []byte) error

	// Query answers a read-only runtime query at the given state root.
	Query(stateRoot common.Hash, height uint64, path string, data []byte) (*QueryResponse, error)

	// GetEpochOffset resolves the epoch a block at the given height belongs to.
	GetEpochOffset(prevHash common.Hash, height uint64) (common.Hash, uint64, error)

	// GetEpochBlockProposers lists the block proposers of an epoch.
	GetEpochBlockProposers(epochHash, blockHash common.Hash) ([]types.AccountID, error)
}

// QueryResponse is the runtime's answer to a read-only query.
type QueryResponse struct {
	Key   []byte
	Value []byte
	Proof [][]byte
}
