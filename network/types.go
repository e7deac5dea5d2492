package network

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bakeneke/nearcore/core/types"
)

// PeerID identifies a peer on the network.
type PeerID string

// PeerInfo is the static identity of a peer.
type PeerInfo struct {
	ID   PeerID
	Addr string
}

func (p PeerInfo) String() string {
	if p.Addr == "" {
		return string(p.ID)
	}
	return fmt.Sprintf("%s@%s", p.ID, p.Addr)
}

// PeerChainInfo is what a peer claims about its chain.
type PeerChainInfo struct {
	Genesis     common.Hash
	Height      uint64
	TotalWeight types.Weight
}

// FullPeerInfo pairs a peer's identity with its claimed chain state.
type FullPeerInfo struct {
	Peer  PeerInfo
	Chain PeerChainInfo
}

// Info is a snapshot of the network layer handed to the info helper.
type Info struct {
	NumActivePeers      int
	PeerMaxCount        int
	MostWeightPeers     []FullPeerInfo
	SentBytesPerSec     uint64
	ReceivedBytesPerSec uint64
}

// BanReason explains why a peer is being banned.
type BanReason int

const (
	// BanReasonNone is the zero value.
	BanReasonNone BanReason = iota
	// BanReasonHeightFraud marks a peer that advertised a height it cannot serve.
	BanReasonHeightFraud
	// BanReasonAbusive marks a peer replaying blocks far below the head.
	BanReasonAbusive
)

func (r BanReason) String() string {
	switch r {
	case BanReasonHeightFraud:
		return "height fraud"
	case BanReasonAbusive:
		return "abusive"
	default:
		return "none"
	}
}

// Request is an outbound message handed to the transport layer.
type Request interface {
	request()
}

// BlockHeadersRequest asks a peer for headers following the locator hashes.
type BlockHeadersRequest struct {
	Hashes []common.Hash
	PeerID PeerID
}

// BlockRequest asks a peer for one full block.
type BlockRequest struct {
	Hash   common.Hash
	PeerID PeerID
}

// StateRequest asks a peer for a shard state snapshot anchored at a hash.
type StateRequest struct {
	ShardID uint64
	Hash    common.Hash
	PeerID  PeerID
}

// BanPeer instructs the transport to drop and ban a peer.
type BanPeer struct {
	PeerID PeerID
	Reason BanReason
}

// FetchInfo asks the transport for a fresh network info snapshot.
type FetchInfo struct{}

func (BlockHeadersRequest) request() {}
func (BlockRequest) request()        {}
func (StateRequest) request()        {}
func (BanPeer) request()             {}
func (FetchInfo) request()           {}

// Adapter is the outbound capability the sync controllers require from the
// transport layer.
type Adapter interface {
	Send(msg Request)
}
