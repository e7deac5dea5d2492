package core

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/params"
)

// Orphan is a block whose predecessor is not stored yet, waiting in the pool
// until the parent arrives or eviction fires.
type Orphan struct {
	Block      *types.Block
	Provenance types.Provenance
	Added      time.Time
}

// OrphanBlockPool buffers out-of-order blocks, indexed by hash, height and
// parent hash. The pool is bounded: past MaxOrphanSize it first drops stale
// entries, then drops from the highest height downward, biasing retention
// toward the head region where descendants are most likely to arrive next.
type OrphanBlockPool struct {
	orphans     map[common.Hash]*Orphan
	heightIdx   map[uint64][]common.Hash
	prevHashIdx map[common.Hash][]common.Hash
	evicted     int
}

// NewOrphanBlockPool creates an empty pool.
func NewOrphanBlockPool() *OrphanBlockPool {
	return &OrphanBlockPool{
		orphans:     make(map[common.Hash]*Orphan),
		heightIdx:   make(map[uint64][]common.Hash),
		prevHashIdx: make(map[common.Hash][]common.Hash),
	}
}

// Len returns the number of buffered orphans.
func (p *OrphanBlockPool) Len() int { return len(p.orphans) }

// EvictedCount returns how many orphans eviction has dropped so far.
func (p *OrphanBlockPool) EvictedCount() int { return p.evicted }

// Contains reports whether the hash names a buffered orphan.
func (p *OrphanBlockPool) Contains(hash common.Hash) bool {
	_, ok := p.orphans[hash]
	return ok
}

// Add inserts an orphan and runs eviction if the pool overflowed.
func (p *OrphanBlockPool) Add(orphan *Orphan) {
	hash := orphan.Block.Hash()
	height := orphan.Block.Header.Height
	p.heightIdx[height] = append(p.heightIdx[height], hash)
	p.prevHashIdx[orphan.Block.Header.PrevHash] = append(p.prevHashIdx[orphan.Block.Header.PrevHash], hash)
	p.orphans[hash] = orphan

	if len(p.orphans) <= params.MaxOrphanSize {
		return
	}
	oldLen := len(p.orphans)
	removed := mapset.NewThreadUnsafeSet[common.Hash]()

	// Pass one: drop everything past the age bound.
	now := time.Now()
	for h, o := range p.orphans {
		if now.Sub(o.Added) >= params.MaxOrphanAge {
			delete(p.orphans, h)
			removed.Add(h)
		}
	}
	// Pass two: drop whole heights from the top until back under the bound.
	heights := make([]uint64, 0, len(p.heightIdx))
	for h := range p.heightIdx {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] > heights[j] })
	for _, h := range heights {
		for _, hash := range p.heightIdx[h] {
			delete(p.orphans, hash)
			removed.Add(hash)
		}
		delete(p.heightIdx, h)
		if len(p.orphans) < params.MaxOrphanSize {
			break
		}
	}
	p.purgeIndexes(removed)
	p.evicted += oldLen - len(p.orphans)
}

// RemoveByPrevHash returns and removes every orphan whose parent is prevHash.
func (p *OrphanBlockPool) RemoveByPrevHash(prevHash common.Hash) []*Orphan {
	hashes, ok := p.prevHashIdx[prevHash]
	if !ok {
		return nil
	}
	delete(p.prevHashIdx, prevHash)

	removed := mapset.NewThreadUnsafeSet[common.Hash]()
	var out []*Orphan
	for _, hash := range hashes {
		removed.Add(hash)
		if orphan, ok := p.orphans[hash]; ok {
			delete(p.orphans, hash)
			out = append(out, orphan)
		}
	}
	p.purgeIndexes(removed)
	return out
}

// purgeIndexes drops the removed hashes from the secondary indexes.
func (p *OrphanBlockPool) purgeIndexes(removed mapset.Set[common.Hash]) {
	if removed.Cardinality() == 0 {
		return
	}
	for height, hashes := range p.heightIdx {
		kept := hashes[:0]
		for _, h := range hashes {
			if !removed.Contains(h) {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			delete(p.heightIdx, height)
		} else {
			p.heightIdx[height] = kept
		}
	}
	for prev, hashes := range p.prevHashIdx {
		kept := hashes[:0]
		for _, h := range hashes {
			if !removed.Contains(h) {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			delete(p.prevHashIdx, prev)
		} else {
			p.prevHashIdx[prev] = kept
		}
	}
}
