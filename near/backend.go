package near

import (
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/Bakeneke/nearcore/client"
	"github.com/Bakeneke/nearcore/core"
	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/network"
)

// chainEventChanSize is the buffer of the accepted-block subscription.
const chainEventChanSize = 64

// PeerProvider supplies the current network view, refreshed by the transport.
type PeerProvider interface {
	NetworkInfo() *network.Info
}

// Node wires the chain engine, the sync controllers and the view client over
// one database. The chain is owned by a single loop goroutine; everything
// arriving from the outside is enqueued onto it.
type Node struct {
	config *Config

	chainDb ethdb.Database
	chain   *core.Chain
	view    *client.ViewClient

	headerSync *client.HeaderSync
	blockSync  *client.BlockSync
	stateSync  *client.StateSync
	syncStatus client.SyncStatus

	info  *client.InfoHelper
	peers PeerProvider
	netw  network.Adapter

	chainEvents chan core.ChainEvent
	chainSub    event.Subscription

	msgs chan func()
	quit chan struct{}
	wg   sync.WaitGroup

	started bool
}

// New creates a node over an opened database. The transport adapter carries
// outbound requests; the peer provider supplies the per-tick peer view.
func New(config *Config, db ethdb.Database, runtime core.RuntimeAdapter, netw network.Adapter, peers PeerProvider, telemetry client.TelemetryReporter, producer *client.BlockProducer) (*Node, error) {
	chain, err := core.NewChain(db, config.Chain, runtime)
	if err != nil {
		return nil, err
	}
	view, err := client.NewViewClient(db, config.Chain, runtime)
	if err != nil {
		return nil, err
	}
	n := &Node{
		config:      config,
		chainDb:     db,
		chain:       chain,
		view:        view,
		headerSync:  client.NewHeaderSync(netw),
		blockSync:   client.NewBlockSync(netw, config.Chain.BlockFetchHorizon),
		stateSync:   client.NewStateSync(netw, config.Chain.StateFetchHorizon),
		info:        client.NewInfoHelper(telemetry, producer),
		peers:       peers,
		netw:        netw,
		chainEvents: make(chan core.ChainEvent, chainEventChanSize),
		msgs:        make(chan func(), 128),
		quit:        make(chan struct{}),
	}
	n.chainSub = chain.SubscribeChainEvent(n.chainEvents)
	return n, nil
}

// Chain exposes the chain engine. Intended for the owning loop and tests.
func (n *Node) Chain() *core.Chain { return n.chain }

// View exposes the read-only view client; safe to share.
func (n *Node) View() *client.ViewClient { return n.view }

// SyncStatus returns a copy of the current sync status.
func (n *Node) SyncStatus() client.SyncStatus { return n.syncStatus }

// Start spins up the engine loop and the event loop.
func (n *Node) Start() error {
	if n.started {
		return errors.New("node already started")
	}
	n.started = true
	n.wg.Add(2)
	go n.loop()
	go n.eventLoop()
	return nil
}

// Stop terminates the loops and releases subscriptions. The subscription is
// torn down first so an in-flight feed send cannot block the engine loop
// during shutdown.
func (n *Node) Stop() error {
	if !n.started {
		return nil
	}
	n.chainSub.Unsubscribe()
	close(n.quit)
	n.wg.Wait()
	n.chain.Stop()
	n.started = false
	return nil
}

// ProcessBlock enqueues a block received from the transport or produced
// locally. Acceptance is observed through the chain event subscription.
func (n *Node) ProcessBlock(block *types.Block, provenance types.Provenance) {
	n.enqueue(func() {
		_, err := n.chain.ProcessBlock(block, provenance, nil)
		if err != nil && !core.IsOrphan(err) && !core.IsUnfit(err) {
			log.Error("Failed to process block", "hash", block.Hash(), "err", err)
		}
	})
}

// ProcessBlockHeader enqueues a header announced by a peer; a valid header
// triggers a block request back to the announcer.
func (n *Node) ProcessBlockHeader(header *types.BlockHeader, peer network.PeerID) {
	n.enqueue(func() {
		err := n.chain.ProcessBlockHeader(header)
		if err == nil {
			n.netw.Send(network.BlockRequest{Hash: header.Hash(), PeerID: peer})
			return
		}
		switch core.KindOf(err) {
		case core.ErrKindOrphan, core.ErrKindUnfit:
			log.Debug("Header declined", "hash", header.Hash(), "err", err)
		default:
			log.Debug("Received invalid header", "hash", header.Hash(), "peer", peer, "err", err)
		}
	})
}

// SyncBlockHeaders enqueues a header batch received from header sync.
func (n *Node) SyncBlockHeaders(headers []*types.BlockHeader) {
	n.enqueue(func() {
		if err := n.chain.SyncBlockHeaders(headers); err != nil {
			log.Error("Failed to sync headers", "count", len(headers), "err", err)
		}
	})
}

// SetShardState enqueues a state snapshot received from state sync.
func (n *Node) SetShardState(shardID uint64, hash common.Hash, payload []byte, receipts []*types.Receipt, done func(error)) {
	n.enqueue(func() {
		err := n.chain.SetShardState(shardID, hash, payload, receipts)
		if err != nil {
			log.Error("Failed to set shard state", "shard", shardID, "hash", hash, "err", err)
		}
		if done != nil {
			done(err)
		}
	})
}

// eventLoop consumes accepted-block events from the chain feed, feeding the
// info helper's rate counters.
func (n *Node) eventLoop() {
	defer n.wg.Done()

	for {
		select {
		case ev := <-n.chainEvents:
			n.info.BlockProcessed(uint64(len(ev.Block.Transactions)))
			log.Trace("Block accepted", "hash", ev.Block.Hash(), "status", ev.Status, "provenance", ev.Provenance)
		case <-n.chainSub.Err():
			return
		case <-n.quit:
			return
		}
	}
}

func (n *Node) enqueue(fn func()) {
	select {
	case n.msgs <- fn:
	case <-n.quit:
	}
}

// loop is the single logical task owning the chain. Sync ticks, info
// summaries and enqueued messages all execute here, serialized.
func (n *Node) loop() {
	defer n.wg.Done()

	syncTicker := time.NewTicker(n.config.SyncTickInterval)
	defer syncTicker.Stop()
	infoTicker := time.NewTicker(n.config.LogSummaryPeriod)
	defer infoTicker.Stop()

	for {
		select {
		case fn := <-n.msgs:
			fn()
		case <-syncTicker.C:
			if err := n.syncStep(); err != nil {
				log.Error("Sync step failed", "err", err)
			}
		case <-infoTicker.C:
			n.logSummary()
		case <-n.quit:
			return
		}
	}
}

// syncStep runs one round of the header -> body -> state machine.
func (n *Node) syncStep() error {
	info := n.peers.NetworkInfo()
	peers := info.MostWeightPeers
	if len(peers) < n.config.MinNumPeers {
		n.syncStatus = client.SyncStatus{Kind: client.SyncStatusAwaitingPeers}
		return nil
	}
	var highest uint64
	for _, p := range peers {
		if p.Chain.Height > highest {
			highest = p.Chain.Height
		}
	}

	if err := n.headerSync.Run(&n.syncStatus, n.chain, highest, peers); err != nil {
		return err
	}
	if n.syncStatus.Kind != client.SyncStatusStateSync {
		stateNeeded, err := n.blockSync.Run(&n.syncStatus, n.chain, highest, peers)
		if err != nil {
			return err
		}
		if !stateNeeded {
			return nil
		}
	}
	return n.stateSync.Run(&n.syncStatus, n.chain, highest, peers, n.config.Chain.TrackedShards)
}

func (n *Node) logSummary() {
	// Nudge the transport to refresh its stats for the next round.
	n.netw.Send(network.FetchInfo{})

	head, err := n.chain.Head()
	if err != nil {
		return
	}
	info := n.peers.NetworkInfo()
	n.info.Info(head, &n.syncStatus, "", info, false, 0)
}
