package near

import (
	"testing"
	"time"

	gethrawdb "github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/stretchr/testify/require"

	"github.com/Bakeneke/nearcore/core"
	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/params"
)

func testNodeConfig() *Config {
	cfg := DefaultConfig()
	cfg.Chain = params.TestChainConfig
	cfg.SyncTickInterval = 10 * time.Millisecond
	cfg.LogSummaryPeriod = time.Hour
	return cfg
}

func TestNodeStartStop(t *testing.T) {
	node, err := New(testNodeConfig(), gethrawdb.NewMemoryDatabase(),
		NewLocalRuntime(), NewLoopbackAdapter(), NewStaticPeerProvider(nil), nil, nil)
	require.NoError(t, err)

	require.NoError(t, node.Start())
	require.Error(t, node.Start(), "double start must fail")
	require.NoError(t, node.Stop())
	require.NoError(t, node.Stop(), "stop is idempotent")
}

func TestNodeProcessBlock(t *testing.T) {
	node, err := New(testNodeConfig(), gethrawdb.NewMemoryDatabase(),
		NewLocalRuntime(), NewLoopbackAdapter(), NewStaticPeerProvider(nil), nil, nil)
	require.NoError(t, err)
	require.NoError(t, node.Start())
	defer node.Stop()

	// With no peers the node idles in awaiting-peers while still accepting
	// locally produced blocks through the engine loop.
	block := core.MakeTestBlock(node.Chain().GenesisHeader())
	node.ProcessBlock(block, types.ProvenanceProduced)

	deadline := time.Now().Add(5 * time.Second)
	for {
		head, err := node.Chain().Head()
		if err == nil && head.Height == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("block not applied before deadline, head: %+v, err: %v", head, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The view client observes the committed block over the shared database.
	best, err := node.View().GetBestBlock()
	require.NoError(t, err)
	require.Equal(t, block.Hash(), best.Hash())
}
