package core

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethrawdb "github.com/ethereum/go-ethereum/core/rawdb"

	"github.com/Bakeneke/nearcore/core/types"
)

func TestStoreUpdateStagedVisibility(t *testing.T) {
	store := NewChainStore(gethrawdb.NewMemoryDatabase())
	header := &types.BlockHeader{Height: 7, Timestamp: 7}

	u := store.StoreUpdate()
	u.SaveBlockHeader(header)
	u.SavePostStateRoot(header.Hash(), common.HexToHash("0x01"))

	// The update reads its own pending writes.
	if _, err := u.GetBlockHeader(header.Hash()); err != nil {
		t.Fatalf("pending header invisible to its own update: %v", err)
	}
	// The store does not, until commit.
	if _, err := store.GetBlockHeader(header.Hash()); !IsNotFound(err) {
		t.Fatalf("pending header leaked before commit: %v", err)
	}

	if err := u.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := store.GetBlockHeader(header.Hash()); err != nil {
		t.Fatalf("header missing after commit: %v", err)
	}
	root, err := store.GetPostStateRoot(header.Hash())
	if err != nil || root != common.HexToHash("0x01") {
		t.Fatalf("post state root after commit = %s, %v", root, err)
	}
}

func TestStoreUpdateDiscard(t *testing.T) {
	store := NewChainStore(gethrawdb.NewMemoryDatabase())
	header := &types.BlockHeader{Height: 3, Timestamp: 3}

	u := store.StoreUpdate()
	u.SaveBlockHeader(header)
	// Dropped without commit: nothing observable.
	u = nil
	_ = u

	if _, err := store.GetBlockHeader(header.Hash()); !IsNotFound(err) {
		t.Fatal("discarded update left writes behind")
	}
}

func TestSaveHeadMissingAncestor(t *testing.T) {
	store := NewChainStore(gethrawdb.NewMemoryDatabase())

	header := &types.BlockHeader{
		PrevHash:  common.HexToHash("0xaa"), // never stored
		Height:    2,
		Timestamp: 2,
	}
	u := store.StoreUpdate()
	u.SaveBlockHeader(header)
	err := u.SaveHead(types.TipFromHeader(header))
	if KindOf(err) != ErrKindInvalidChain {
		t.Fatalf("save head with missing ancestry = %v, want InvalidChain", err)
	}
}

func TestStoreTipsRoundTrip(t *testing.T) {
	store := NewChainStore(gethrawdb.NewMemoryDatabase())

	if _, err := store.Head(); !IsNotFound(err) {
		t.Fatalf("empty store head = %v, want not found", err)
	}

	genesis := &types.BlockHeader{Timestamp: 1}
	tip := types.TipFromHeader(genesis)
	u := store.StoreUpdate()
	u.SaveBlockHeader(genesis)
	if err := u.SaveHead(tip); err != nil {
		t.Fatalf("save head: %v", err)
	}
	u.SaveSyncHead(tip)
	if err := u.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	for name, get := range map[string]func() (*types.Tip, error){
		"head":        store.Head,
		"header head": store.HeaderHead,
		"sync head":   store.SyncHead,
	} {
		got, err := get()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if *got != *tip {
			t.Errorf("%s = %+v, want %+v", name, got, tip)
		}
	}
	// The genesis height resolves through the rewritten index.
	hash, err := store.GetBlockHashByHeight(0)
	if err != nil || hash != genesis.Hash() {
		t.Errorf("height 0 = %s, %v", hash, err)
	}
}
