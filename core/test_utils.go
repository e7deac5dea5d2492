package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethrawdb "github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/params"
)

// MockRuntime is a deterministic runtime adapter for tests: a single
// proposer, signatures always verify, weight grows by approvals plus one,
// and applying transactions leaves the state root unchanged.
type MockRuntime struct {
	Proposer types.AccountID
	Root     common.Hash

	// Recorded side effects, for assertions.
	ProposalCalls int
	StateSet      map[uint64][]byte
}

// NewMockRuntime creates a mock runtime with a fixed genesis root.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{
		Proposer: "test.near",
		Root:     crypto.Keccak256Hash([]byte("genesis")),
		StateSet: make(map[uint64][]byte),
	}
}

func (m *MockRuntime) GenesisState() (*TrieChanges, []common.Hash) {
	return NewTrieChanges(), []common.Hash{m.Root}
}

func (m *MockRuntime) GetBlockProposer(epochHash common.Hash, height uint64) (types.AccountID, error) {
	return m.Proposer, nil
}

func (m *MockRuntime) CheckValidatorSignature(epochHash common.Hash, accountID types.AccountID, msg, sig []byte) bool {
	return true
}

func (m *MockRuntime) ComputeBlockWeight(prev, header *types.BlockHeader) (types.Weight, error) {
	return types.NextWeight(prev.TotalWeight, len(header.Approvals)), nil
}

func (m *MockRuntime) AddValidatorProposals(prevHash, hash common.Hash, height uint64, proposals []*types.ValidatorStake, slashed []SlashedValidator, rewards []ValidatorReward) error {
	m.ProposalCalls++
	return nil
}

func (m *MockRuntime) ApplyTransactions(shardID uint64, prevStateRoot common.Hash, height uint64, prevHash, hash common.Hash, receipts [][]*types.Receipt, transactions []*types.SignedTransaction) (*ApplyResult, error) {
	results := make([]*types.TransactionLog, 0, len(transactions))
	for _, tx := range transactions {
		results = append(results, &types.TransactionLog{
			Hash:   tx.Hash(),
			Result: &types.TransactionResult{Status: types.TransactionStatusCompleted},
		})
	}
	return &ApplyResult{
		TrieChanges:        NewTrieChanges(),
		NewStateRoot:       prevStateRoot,
		TransactionResults: results,
		NewReceipts:        map[uint64][]*types.Receipt{},
	}, nil
}

func (m *MockRuntime) SetState(shardID uint64, stateRoot common.Hash, payload []byte) error {
	m.StateSet[shardID] = payload
	return nil
}

func (m *MockRuntime) Query(stateRoot common.Hash, height uint64, path string, data []byte) (*QueryResponse, error) {
	return &QueryResponse{Key: []byte(path), Value: data}, nil
}

func (m *MockRuntime) GetEpochOffset(prevHash common.Hash, height uint64) (common.Hash, uint64, error) {
	return common.Hash{}, 0, nil
}

func (m *MockRuntime) GetEpochBlockProposers(epochHash, blockHash common.Hash) ([]types.AccountID, error) {
	return []types.AccountID{m.Proposer}, nil
}

// SetupTestChain creates a chain over a fresh in-memory database with the
// mock runtime and the test configuration.
func SetupTestChain() (*Chain, *MockRuntime, error) {
	runtime := NewMockRuntime()
	chain, err := NewChain(gethrawdb.NewMemoryDatabase(), params.TestChainConfig, runtime)
	if err != nil {
		return nil, nil, err
	}
	return chain, runtime, nil
}

// MakeTestBlock produces an empty signed block extending prev, with one
// timestamp tick and weight one above the parent. The mock runtime never
// changes the state root, so the block keeps the parent's.
func MakeTestBlock(prev *types.BlockHeader) *types.Block {
	return MakeTestBlockWithTxs(prev, nil)
}

// MakeTestBlockWithTxs is MakeTestBlock carrying the given transactions.
func MakeTestBlockWithTxs(prev *types.BlockHeader, txs []*types.SignedTransaction) *types.Block {
	block := types.NewBlock(prev, prev.EpochHash, prev.PrevStateRoot, txs, nil, nil, prev.Time().Add(time.Second))
	block.Header.Signature = []byte("sealed")
	return block
}
