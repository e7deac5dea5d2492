package core

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bakeneke/nearcore/core/types"
)

func mustSetup(t *testing.T) (*Chain, *MockRuntime) {
	t.Helper()
	chain, runtime, err := SetupTestChain()
	if err != nil {
		t.Fatalf("failed to set up chain: %v", err)
	}
	return chain, runtime
}

// produce extends the chain by n empty blocks and returns them.
func produce(t *testing.T, chain *Chain, n int) []*types.Block {
	t.Helper()
	blocks := make([]*types.Block, 0, n)
	for i := 0; i < n; i++ {
		prev, err := chain.HeadHeader()
		if err != nil {
			t.Fatalf("head header: %v", err)
		}
		block := MakeTestBlock(prev)
		if _, err := chain.ProcessBlock(block, types.ProvenanceProduced, nil); err != nil {
			t.Fatalf("process block %d: %v", i+1, err)
		}
		blocks = append(blocks, block)
	}
	return blocks
}

func TestChainGenesis(t *testing.T) {
	chain, runtime := mustSetup(t)

	head, err := chain.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Height != 0 {
		t.Errorf("genesis head height = %d, want 0", head.Height)
	}
	if head.TotalWeight != 0 {
		t.Errorf("genesis head weight = %d, want 0", head.TotalWeight)
	}
	genesis := chain.GenesisHeader()
	if genesis.PrevHash != (common.Hash{}) {
		t.Errorf("genesis prev hash = %s, want zero", genesis.PrevHash)
	}
	if genesis.PrevStateRoot != runtime.Root {
		t.Errorf("genesis state root = %s, want %s", genesis.PrevStateRoot, runtime.Root)
	}
	// Genesis proposals are recorded with the runtime.
	if runtime.ProposalCalls == 0 {
		t.Error("genesis validator proposals not recorded")
	}
	// Heads agree at rest.
	headerHead, _ := chain.HeaderHead()
	syncHead, _ := chain.SyncHead()
	if headerHead.LastBlockHash != head.LastBlockHash || syncHead.LastBlockHash != head.LastBlockHash {
		t.Error("heads disagree after genesis")
	}
}

func TestChainLinearGrowth(t *testing.T) {
	chain, _ := mustSetup(t)

	prev, _ := chain.HeadHeader()
	for i := uint64(1); i <= 5; i++ {
		block := MakeTestBlock(prev)
		tip, err := chain.ProcessBlock(block, types.ProvenanceProduced, nil)
		if err != nil {
			t.Fatalf("process block at height %d: %v", i, err)
		}
		if tip == nil || tip.Height != i {
			t.Fatalf("tip after block %d = %+v, want height %d", i, tip, i)
		}
		prev = block.Header
	}

	head, _ := chain.Head()
	if head.Height != 5 {
		t.Fatalf("head height = %d, want 5", head.Height)
	}

	// The height index must resolve the ancestor chain of the head, and the
	// weights of the heads must agree.
	hash := head.LastBlockHash
	for height := uint64(5); ; height-- {
		indexed, err := chain.Store().GetBlockHashByHeight(height)
		if err != nil {
			t.Fatalf("height index at %d: %v", height, err)
		}
		if indexed != hash {
			t.Errorf("height index at %d = %s, want %s", height, indexed, hash)
		}
		header, err := chain.GetBlockHeader(hash)
		if err != nil {
			t.Fatalf("header %s: %v", hash, err)
		}
		if height == 0 {
			break
		}
		hash = header.PrevHash
	}

	headerHead, _ := chain.HeaderHead()
	if head.TotalWeight > headerHead.TotalWeight {
		t.Error("head weight exceeds header head weight")
	}
}

func TestChainPostStateRootInvariant(t *testing.T) {
	chain, _ := mustSetup(t)
	blocks := produce(t, chain, 5)

	for _, block := range blocks {
		parentRoot, err := chain.GetPostStateRoot(block.Header.PrevHash)
		if err != nil {
			t.Fatalf("post state root of parent of %s: %v", block.Hash(), err)
		}
		if parentRoot != block.Header.PrevStateRoot {
			t.Errorf("block %s prev state root = %s, want %s", block.Hash(), block.Header.PrevStateRoot, parentRoot)
		}
		if _, err := chain.GetPostStateRoot(block.Hash()); err != nil {
			t.Errorf("post state root of %s missing: %v", block.Hash(), err)
		}
	}
}

func TestChainOutOfOrder(t *testing.T) {
	chain, _ := mustSetup(t)

	genesis := chain.GenesisHeader()
	b1 := MakeTestBlock(genesis)
	b2 := MakeTestBlock(b1.Header)
	b3 := MakeTestBlock(b2.Header)

	if _, err := chain.ProcessBlock(b3, types.ProvenanceNone, nil); !IsOrphan(err) {
		t.Fatalf("process b3 = %v, want orphan", err)
	}
	if _, err := chain.ProcessBlock(b2, types.ProvenanceNone, nil); !IsOrphan(err) {
		t.Fatalf("process b2 = %v, want orphan", err)
	}
	if chain.OrphansLen() != 2 {
		t.Fatalf("orphan pool size = %d, want 2", chain.OrphansLen())
	}

	tip, err := chain.ProcessBlock(b1, types.ProvenanceNone, nil)
	if err != nil {
		t.Fatalf("process b1: %v", err)
	}
	if tip == nil || tip.Height != 3 {
		t.Fatalf("tip after drain = %+v, want height 3", tip)
	}
	if chain.OrphansLen() != 0 {
		t.Errorf("orphan pool size after drain = %d, want 0", chain.OrphansLen())
	}
	head, _ := chain.Head()
	if head.Height != 3 {
		t.Errorf("head height = %d, want 3", head.Height)
	}
}

func TestChainForkReorg(t *testing.T) {
	chain, _ := mustSetup(t)
	genesis := chain.GenesisHeader()

	// Chain A: five blocks on the one second tick.
	aBlocks := produce(t, chain, 5)

	// Chain B: six blocks from genesis on a two second tick, so the hashes
	// differ while each block still carries weight one above its parent.
	var bBlocks []*types.Block
	prev := genesis
	for i := 0; i < 6; i++ {
		block := types.NewBlock(prev, prev.EpochHash, prev.PrevStateRoot, nil, nil, nil, prev.Time().Add(2*time.Second))
		block.Header.Signature = []byte("sealed")
		bBlocks = append(bBlocks, block)
		prev = block.Header
	}

	var statuses []types.BlockStatus
	record := func(block *types.Block, status types.BlockStatus, provenance types.Provenance) {
		statuses = append(statuses, status)
	}
	for i, block := range bBlocks {
		if _, err := chain.ProcessBlock(block, types.ProvenanceNone, record); err != nil {
			t.Fatalf("process B block %d: %v", i+1, err)
		}
	}

	head, _ := chain.Head()
	if head.LastBlockHash != bBlocks[5].Hash() {
		t.Fatalf("head = %s, want B tip %s", head.LastBlockHash, bBlocks[5].Hash())
	}
	if got := statuses[len(statuses)-1]; got != types.BlockStatusReorg {
		t.Errorf("status for B tip = %s, want reorg", got)
	}
	for _, status := range statuses[:len(statuses)-1] {
		if status != types.BlockStatusFork {
			t.Errorf("status for non-head B block = %s, want fork", status)
		}
	}

	// The height index now resolves to chain B everywhere.
	for height := uint64(1); height <= 6; height++ {
		indexed, err := chain.Store().GetBlockHashByHeight(height)
		if err != nil {
			t.Fatalf("height index at %d: %v", height, err)
		}
		if want := bBlocks[height-1].Hash(); indexed != want {
			t.Errorf("height index at %d = %s, want %s", height, indexed, want)
		}
	}
	// Chain A blocks are still stored, just not canonical.
	for _, block := range aBlocks {
		if ok, _ := chain.BlockExists(block.Hash()); !ok {
			t.Errorf("fork block %s missing from store", block.Hash())
		}
	}
}

func TestChainProcessBlockTwice(t *testing.T) {
	chain, _ := mustSetup(t)
	blocks := produce(t, chain, 3)

	head, _ := chain.Head()
	_, err := chain.ProcessBlock(blocks[0], types.ProvenanceNone, nil)
	if !IsUnfit(err) {
		t.Fatalf("reprocessing = %v, want unfit", err)
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Msg != "already known in store" {
		t.Errorf("reprocessing error = %v, want %q", err, "already known in store")
	}
	// Nothing changed.
	newHead, _ := chain.Head()
	if *newHead != *head {
		t.Errorf("head changed by duplicate block: %+v vs %+v", newHead, head)
	}
}

func TestProcessBlockHeaderDuplicate(t *testing.T) {
	chain, _ := mustSetup(t)
	blocks := produce(t, chain, 2)

	err := chain.ProcessBlockHeader(blocks[1].Header)
	if !IsUnfit(err) {
		t.Fatalf("duplicate header = %v, want unfit", err)
	}

	// A valid new header passes validation but is not stored.
	next := MakeTestBlock(blocks[1].Header)
	if err := chain.ProcessBlockHeader(next.Header); err != nil {
		t.Fatalf("valid header: %v", err)
	}
	if _, err := chain.GetBlockHeader(next.Hash()); !IsNotFound(err) {
		t.Error("header was persisted by ProcessBlockHeader")
	}
}

func TestSyncBlockHeaders(t *testing.T) {
	chain, runtime := mustSetup(t)
	genesis := chain.GenesisHeader()

	var headers []*types.BlockHeader
	prev := genesis
	for i := 0; i < 5; i++ {
		block := MakeTestBlock(prev)
		headers = append(headers, block.Header)
		prev = block.Header
	}
	calls := runtime.ProposalCalls

	if err := chain.SyncBlockHeaders(headers); err != nil {
		t.Fatalf("sync headers: %v", err)
	}
	headerHead, _ := chain.HeaderHead()
	if headerHead.Height != 5 {
		t.Errorf("header head height = %d, want 5", headerHead.Height)
	}
	syncHead, _ := chain.SyncHead()
	if syncHead.Height != 5 {
		t.Errorf("sync head height = %d, want 5", syncHead.Height)
	}
	head, _ := chain.Head()
	if head.Height != 0 {
		t.Errorf("block head moved to %d on header sync", head.Height)
	}
	if head.TotalWeight > headerHead.TotalWeight {
		t.Error("head weight exceeds header head weight")
	}
	if runtime.ProposalCalls != calls+5 {
		t.Errorf("proposal calls = %d, want %d", runtime.ProposalCalls, calls+5)
	}
	for _, header := range headers {
		if _, err := chain.GetBlockHeader(header.Hash()); err != nil {
			t.Errorf("header %s not stored: %v", header.Hash(), err)
		}
	}

	// Feeding the same batch again is a fast-path no-op.
	if err := chain.SyncBlockHeaders(headers); err != nil {
		t.Fatalf("resync headers: %v", err)
	}
	if runtime.ProposalCalls != calls+5 {
		t.Error("fast path re-validated known headers")
	}
}

func TestCheckStateNeeded(t *testing.T) {
	chain, _ := mustSetup(t)
	genesis := chain.GenesisHeader()

	var headers []*types.BlockHeader
	prev := genesis
	for i := 0; i < 5; i++ {
		block := MakeTestBlock(prev)
		headers = append(headers, block.Header)
		prev = block.Header
	}
	if err := chain.SyncBlockHeaders(headers); err != nil {
		t.Fatalf("sync headers: %v", err)
	}

	stateNeeded, hashes, err := chain.CheckStateNeeded(50)
	if err != nil {
		t.Fatalf("check state needed: %v", err)
	}
	if stateNeeded {
		t.Fatal("state sync signalled for a small gap")
	}
	if len(hashes) != 5 {
		t.Fatalf("missing block hashes = %d, want 5", len(hashes))
	}
	// Newest first.
	for i, header := range []*types.BlockHeader{headers[4], headers[3], headers[2], headers[1], headers[0]} {
		if hashes[i] != header.Hash() {
			t.Errorf("hashes[%d] = %s, want %s", i, hashes[i], header.Hash())
		}
	}

	// A tight horizon pushes the decision to state sync.
	stateNeeded, hashes, err = chain.CheckStateNeeded(1)
	if err != nil {
		t.Fatalf("check state needed: %v", err)
	}
	if !stateNeeded {
		t.Fatal("state sync not signalled for a large gap")
	}
	if len(hashes) != 0 {
		t.Errorf("hash list not discarded when state is needed")
	}
}

func TestSetShardState(t *testing.T) {
	chain, runtime := mustSetup(t)
	genesis := chain.GenesisHeader()

	var headers []*types.BlockHeader
	prev := genesis
	for i := 0; i < 5; i++ {
		block := MakeTestBlock(prev)
		headers = append(headers, block.Header)
		prev = block.Header
	}
	if err := chain.SyncBlockHeaders(headers); err != nil {
		t.Fatalf("sync headers: %v", err)
	}

	anchor := headers[3] // height 4
	payload := []byte("state snapshot")
	receipts := []*types.Receipt{{PredecessorID: "alice.near", ReceiverID: "bob.near"}}
	if err := chain.SetShardState(0, anchor.Hash(), payload, receipts); err != nil {
		t.Fatalf("set shard state: %v", err)
	}

	if string(runtime.StateSet[0]) != string(payload) {
		t.Error("runtime did not receive the state payload")
	}
	// Root and receipts land under the anchor's parent.
	root, err := chain.GetPostStateRoot(anchor.PrevHash)
	if err != nil {
		t.Fatalf("post state root of parent: %v", err)
	}
	if root != anchor.PrevStateRoot {
		t.Errorf("installed root = %s, want %s", root, anchor.PrevStateRoot)
	}
	got, err := chain.GetReceipts(anchor.PrevHash)
	if err != nil {
		t.Fatalf("receipts of parent: %v", err)
	}
	if len(got) != 1 || got[0].ReceiverID != "bob.near" {
		t.Errorf("unexpected receipts: %+v", got)
	}
}

func TestFindCommonHeader(t *testing.T) {
	chain, _ := mustSetup(t)
	blocks := produce(t, chain, 3)

	unknown := common.HexToHash("0xdeadbeef")
	header := chain.FindCommonHeader([]common.Hash{unknown, blocks[1].Hash(), blocks[0].Hash()})
	if header == nil || header.Hash() != blocks[1].Hash() {
		t.Errorf("common header = %v, want %s", header, blocks[1].Hash())
	}
}
