package near

import (
	"time"

	"github.com/Bakeneke/nearcore/params"
)

// Config contains the node-level configuration, loadable from TOML.
type Config struct {
	// Chain is the chain & network configuration.
	Chain *params.ChainConfig

	// MinNumPeers is how many peers are required before syncing starts.
	MinNumPeers int

	// SyncTickInterval is the cadence of the sync controller loop.
	SyncTickInterval time.Duration

	// LogSummaryPeriod is the cadence of the info helper summary line.
	LogSummaryPeriod time.Duration

	// Database options.
	DataDir         string
	DatabaseCache   int    `toml:",omitempty"`
	DatabaseHandles int    `toml:"-"`
	LogFile         string `toml:",omitempty"`
}

// DefaultConfig returns the configuration a fresh node starts with.
func DefaultConfig() *Config {
	return &Config{
		Chain:            params.MainnetChainConfig,
		MinNumPeers:      3,
		SyncTickInterval: 100 * time.Millisecond,
		LogSummaryPeriod: 10 * time.Second,
		DatabaseCache:    512,
	}
}
