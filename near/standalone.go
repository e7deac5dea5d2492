package near

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/Bakeneke/nearcore/core"
	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/network"
)

// Standalone wiring for a node run without an attached transport: no peers
// are reported and outbound requests are dropped, so the sync controllers
// idle in the awaiting-peers state while the engine keeps serving local
// blocks and queries.

// LoopbackAdapter drops every outbound request.
type LoopbackAdapter struct{}

// NewLoopbackAdapter creates a transport adapter with nowhere to send.
func NewLoopbackAdapter() *LoopbackAdapter { return &LoopbackAdapter{} }

// Send implements network.Adapter.
func (*LoopbackAdapter) Send(msg network.Request) {
	log.Trace("Dropping outbound request", "type", fmt.Sprintf("%T", msg))
}

// StaticPeerProvider reports a fixed peer set on every tick.
type StaticPeerProvider struct {
	peers []network.FullPeerInfo
}

// NewStaticPeerProvider creates a peer provider over a fixed peer set,
// which may be empty.
func NewStaticPeerProvider(peers []network.FullPeerInfo) *StaticPeerProvider {
	return &StaticPeerProvider{peers: peers}
}

// NetworkInfo implements PeerProvider.
func (p *StaticPeerProvider) NetworkInfo() *network.Info {
	return &network.Info{
		NumActivePeers:  len(p.peers),
		PeerMaxCount:    len(p.peers),
		MostWeightPeers: p.peers,
	}
}

// LocalRuntime is the in-process runtime used in standalone mode: one
// proposer, signatures always accepted, and transaction application that
// leaves the state root untouched. It stands in until a full execution
// engine is attached.
type LocalRuntime struct {
	proposer types.AccountID
	root     common.Hash
}

// NewLocalRuntime creates the standalone runtime.
func NewLocalRuntime() *LocalRuntime {
	return &LocalRuntime{
		proposer: "node0",
		root:     crypto.Keccak256Hash([]byte("genesis state")),
	}
}

// GenesisState implements core.RuntimeAdapter.
func (rt *LocalRuntime) GenesisState() (*core.TrieChanges, []common.Hash) {
	return core.NewTrieChanges(), []common.Hash{rt.root}
}

// GetBlockProposer implements core.RuntimeAdapter.
func (rt *LocalRuntime) GetBlockProposer(epochHash common.Hash, height uint64) (types.AccountID, error) {
	return rt.proposer, nil
}

// CheckValidatorSignature implements core.RuntimeAdapter.
func (rt *LocalRuntime) CheckValidatorSignature(epochHash common.Hash, accountID types.AccountID, msg, sig []byte) bool {
	return true
}

// ComputeBlockWeight implements core.RuntimeAdapter.
func (rt *LocalRuntime) ComputeBlockWeight(prev, header *types.BlockHeader) (types.Weight, error) {
	return types.NextWeight(prev.TotalWeight, len(header.Approvals)), nil
}

// AddValidatorProposals implements core.RuntimeAdapter.
func (rt *LocalRuntime) AddValidatorProposals(prevHash, hash common.Hash, height uint64, proposals []*types.ValidatorStake, slashed []core.SlashedValidator, rewards []core.ValidatorReward) error {
	return nil
}

// ApplyTransactions implements core.RuntimeAdapter.
func (rt *LocalRuntime) ApplyTransactions(shardID uint64, prevStateRoot common.Hash, height uint64, prevHash, hash common.Hash, receipts [][]*types.Receipt, transactions []*types.SignedTransaction) (*core.ApplyResult, error) {
	results := make([]*types.TransactionLog, 0, len(transactions))
	for _, tx := range transactions {
		results = append(results, &types.TransactionLog{
			Hash:   tx.Hash(),
			Result: &types.TransactionResult{Status: types.TransactionStatusCompleted},
		})
	}
	return &core.ApplyResult{
		TrieChanges:        core.NewTrieChanges(),
		NewStateRoot:       prevStateRoot,
		TransactionResults: results,
		NewReceipts:        map[uint64][]*types.Receipt{},
	}, nil
}

// SetState implements core.RuntimeAdapter; the payload must hash to the
// expected root.
func (rt *LocalRuntime) SetState(shardID uint64, stateRoot common.Hash, payload []byte) error {
	if crypto.Keccak256Hash(payload) != stateRoot {
		return fmt.Errorf("state payload does not hash to %s", stateRoot)
	}
	return nil
}

// Query implements core.RuntimeAdapter.
func (rt *LocalRuntime) Query(stateRoot common.Hash, height uint64, path string, data []byte) (*core.QueryResponse, error) {
	return &core.QueryResponse{Key: []byte(path)}, nil
}

// GetEpochOffset implements core.RuntimeAdapter.
func (rt *LocalRuntime) GetEpochOffset(prevHash common.Hash, height uint64) (common.Hash, uint64, error) {
	return common.Hash{}, 0, nil
}

// GetEpochBlockProposers implements core.RuntimeAdapter.
func (rt *LocalRuntime) GetEpochBlockProposers(epochHash, blockHash common.Hash) ([]types.AccountID, error) {
	return []types.AccountID{rt.proposer}, nil
}
