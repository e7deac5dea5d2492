package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"

	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/params"
)

// NewChain opens the chain over the given database, creating and committing
// the genesis block together with the initial chain markers on first start.
// On a restart the stored heads are recovered and repaired if the header
// head lost its backing header.
func NewChain(db ethdb.Database, config *params.ChainConfig, runtime RuntimeAdapter) (*Chain, error) {
	store := NewChainStore(db)

	// The runtime's initial state decides what the genesis block commits to.
	genesisChanges, stateRoots := runtime.GenesisState()
	genesisRoot := config.GenesisRoot
	if genesisRoot == (common.Hash{}) && len(stateRoots) > 0 {
		genesisRoot = stateRoots[0]
	}
	genesis := types.Genesis(genesisRoot, config.GenesisTime)

	u := store.StoreUpdate()
	head, err := u.Head()
	switch {
	case err == nil:
		// The store already has a chain; it must have grown from the same
		// genesis this node is configured with.
		genesisHash, err := u.GetBlockHashByHeight(0)
		if err != nil {
			return nil, err
		}
		if genesisHash != genesis.Hash() {
			return nil, chainErrf(ErrKindOther, "genesis mismatch between storage and config: %s vs %s", genesisHash, genesis.Hash())
		}

		headerHead, err := u.HeaderHead()
		if err != nil {
			return nil, err
		}
		if _, err := u.GetBlockHeader(headerHead.LastBlockHash); err != nil {
			// The header backing the header head is gone; fall back to the
			// block head for both the header head and the sync head.
			u.SaveHeaderHead(head)
			u.SaveSyncHead(head)
		} else {
			u.SaveSyncHead(headerHead)
		}

	case IsNotFound(err):
		if err := runtime.AddValidatorProposals(common.Hash{}, genesis.Hash(), 0, nil, nil, nil); err != nil {
			return nil, wrapErr(ErrKindOther, err)
		}
		u.SavePostStateRoot(genesis.Hash(), genesis.Header.PrevStateRoot)
		u.SavePostValidatorProposals(genesis.Hash(), nil)
		u.SaveBlockHeader(genesis.Header)
		u.SaveBlock(genesis)
		u.SaveReceipts(genesis.Hash(), nil)

		head = types.TipFromHeader(genesis.Header)
		if err := u.SaveHead(head); err != nil {
			return nil, err
		}
		u.SaveSyncHead(head)
		u.Merge(genesisChanges)

		log.Info("Initialized chain from genesis", "hash", genesis.Hash(), "root", genesisRoot)

	default:
		return nil, err
	}
	if err := u.Commit(); err != nil {
		return nil, err
	}

	log.Info("Chain head loaded", "weight", head.TotalWeight.Num(), "height", head.Height, "hash", head.LastBlockHash)
	headBlockGauge.Update(int64(head.Height))
	if headerHead, err := store.HeaderHead(); err == nil {
		headHeaderGauge.Update(int64(headerHead.Height))
	}

	return &Chain{
		config:  config,
		store:   store,
		runtime: runtime,
		orphans: NewOrphanBlockPool(),
		genesis: genesis.Header,
	}, nil
}
