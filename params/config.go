package params

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// MainnetChainConfig is the chain parameters to run a node on the main network.
	MainnetChainConfig = &ChainConfig{
		ChainID:                   "mainnet",
		GenesisTime:               time.Unix(0, 0).UTC(),
		TransactionValidityPeriod: 100,
		BlockFetchHorizon:         50,
		StateFetchHorizon:         5,
		TrackedShards:             []uint64{0},
	}

	// TestChainConfig is a short-horizon configuration used by unit tests.
	TestChainConfig = &ChainConfig{
		ChainID:                   "unittest",
		GenesisTime:               time.Unix(0, 0).UTC(),
		TransactionValidityPeriod: 10,
		BlockFetchHorizon:         50,
		StateFetchHorizon:         5,
		TrackedShards:             []uint64{0},
	}
)

// ChainConfig is the chain & network configuration.
type ChainConfig struct {
	// ChainID identifies the network the node joins.
	ChainID string `json:"chainId"`

	// GenesisTime is the timestamp the genesis block carries.
	GenesisTime time.Time `json:"genesisTime"`

	// GenesisRoot is the runtime state root the genesis block commits to.
	// Left zero, it is taken from the runtime's genesis state.
	GenesisRoot common.Hash `json:"genesisRoot,omitempty"`

	// TransactionValidityPeriod is the number of blocks for which a
	// transaction anchored at a block hash stays valid.
	TransactionValidityPeriod uint64 `json:"transactionValidityPeriod"`

	// BlockFetchHorizon decides how far behind the sync head the block chain
	// may fall before state sync replaces block download.
	BlockFetchHorizon uint64 `json:"blockFetchHorizon"`

	// StateFetchHorizon is how many headers below the header head's parent
	// the state sync anchor is picked.
	StateFetchHorizon uint64 `json:"stateFetchHorizon"`

	// TrackedShards lists the shards this node downloads state for.
	TrackedShards []uint64 `json:"trackedShards"`
}

// Description returns a human-readable description of ChainConfig.
func (c *ChainConfig) Description() string {
	var banner string
	banner += fmt.Sprintf("Chain ID:  %s\n", c.ChainID)
	banner += fmt.Sprintf("Tx validity period:  %d blocks\n", c.TransactionValidityPeriod)
	banner += fmt.Sprintf("Block fetch horizon:  %d\n", c.BlockFetchHorizon)
	banner += fmt.Sprintf("State fetch horizon:  %d\n", c.StateFetchHorizon)
	return banner
}
