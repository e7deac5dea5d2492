package core

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/params"
)

// orphanAt fabricates a distinct orphan at the given height.
func orphanAt(height uint64) *Orphan {
	return &Orphan{
		Block: &types.Block{
			Header: &types.BlockHeader{
				PrevHash:  crypto.Keccak256Hash([]byte{byte(height), byte(height >> 8), 'p'}),
				Height:    height,
				Timestamp: height,
			},
		},
		Provenance: types.ProvenanceNone,
		Added:      time.Now(),
	}
}

func TestOrphanPoolEviction(t *testing.T) {
	pool := NewOrphanBlockPool()

	orphans := make([]*Orphan, 0, params.MaxOrphanSize+1)
	for height := uint64(1); height <= params.MaxOrphanSize+1; height++ {
		o := orphanAt(height)
		orphans = append(orphans, o)
		pool.Add(o)
	}

	if pool.Len() > params.MaxOrphanSize {
		t.Fatalf("pool size = %d, want <= %d", pool.Len(), params.MaxOrphanSize)
	}
	if pool.EvictedCount() < 1 {
		t.Fatalf("evicted count = %d, want >= 1", pool.EvictedCount())
	}
	if pool.Len()+pool.EvictedCount() != params.MaxOrphanSize+1 {
		t.Errorf("pool size %d + evicted %d != inserted %d", pool.Len(), pool.EvictedCount(), params.MaxOrphanSize+1)
	}

	// The highest heights go first; the low end survives.
	evicted := pool.EvictedCount()
	for i := 0; i < evicted; i++ {
		top := orphans[len(orphans)-1-i]
		if pool.Contains(top.Block.Hash()) {
			t.Errorf("orphan at height %d survived eviction", top.Block.Header.Height)
		}
	}
	if !pool.Contains(orphans[0].Block.Hash()) {
		t.Error("orphan at the lowest height was evicted")
	}
}

func TestOrphanPoolRemoveByPrevHash(t *testing.T) {
	pool := NewOrphanBlockPool()

	parent := crypto.Keccak256Hash([]byte("parent"))
	var siblings []*Orphan
	for i := uint64(0); i < 3; i++ {
		o := orphanAt(10 + i)
		o.Block.Header.PrevHash = parent
		siblings = append(siblings, o)
		pool.Add(o)
	}
	other := orphanAt(99)
	pool.Add(other)

	removed := pool.RemoveByPrevHash(parent)
	if len(removed) != 3 {
		t.Fatalf("removed %d orphans, want 3", len(removed))
	}
	for _, o := range siblings {
		if pool.Contains(o.Block.Hash()) {
			t.Errorf("orphan %s still in pool", o.Block.Hash())
		}
	}
	if pool.Len() != 1 || !pool.Contains(other.Block.Hash()) {
		t.Errorf("unrelated orphan lost; pool size = %d", pool.Len())
	}
	if again := pool.RemoveByPrevHash(parent); len(again) != 0 {
		t.Errorf("second removal returned %d orphans", len(again))
	}
}
