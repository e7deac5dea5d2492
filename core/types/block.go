package types

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Weight is the monotone accumulator supplied by the runtime, used to order
// competing chains. Ties are not broken: the head only moves to a strictly
// heavier block.
type Weight uint64

// Num returns the weight as a plain integer.
func (w Weight) Num() uint64 { return uint64(w) }

// NextWeight returns the weight of a child block given the parent weight and
// the number of approvals the child carries.
func NextWeight(prev Weight, approvals int) Weight {
	return prev + Weight(approvals) + 1
}

// Provenance tags where a block came from.
type Provenance byte

const (
	// ProvenanceNone marks a block received from gossip.
	ProvenanceNone Provenance = iota
	// ProvenanceProduced marks a block this node produced itself.
	ProvenanceProduced
	// ProvenanceSync marks a block or header received during sync.
	ProvenanceSync
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceProduced:
		return "produced"
	case ProvenanceSync:
		return "sync"
	default:
		return "none"
	}
}

// BlockStatus describes how an accepted block relates to the previous head.
type BlockStatus byte

const (
	// BlockStatusNext means the block directly extended the previous head.
	BlockStatusNext BlockStatus = iota
	// BlockStatusFork means the block was added on a side chain, head unchanged.
	BlockStatusFork
	// BlockStatusReorg means the head switched to a chain not extending it.
	BlockStatusReorg
)

func (s BlockStatus) String() string {
	switch s {
	case BlockStatusNext:
		return "next"
	case BlockStatusReorg:
		return "reorg"
	default:
		return "fork"
	}
}

// BlockHeader is the consensus header of a block. The Signature is the block
// proposer's signature over the header hash; the hash itself covers every
// other field.
type BlockHeader struct {
	PrevHash           common.Hash
	Height             uint64
	EpochHash          common.Hash
	PrevStateRoot      common.Hash
	Timestamp          uint64 // nanoseconds since epoch
	Approvals          [][]byte
	ValidatorProposals []*ValidatorStake
	TotalWeight        Weight
	Signature          []byte

	hash atomic.Value // cached header hash
}

// headerPayload is the portion of the header covered by the hash.
type headerPayload struct {
	PrevHash           common.Hash
	Height             uint64
	EpochHash          common.Hash
	PrevStateRoot      common.Hash
	Timestamp          uint64
	Approvals          [][]byte
	ValidatorProposals []*ValidatorStake
	TotalWeight        uint64
}

func (h *BlockHeader) payload() *headerPayload {
	return &headerPayload{
		PrevHash:           h.PrevHash,
		Height:             h.Height,
		EpochHash:          h.EpochHash,
		PrevStateRoot:      h.PrevStateRoot,
		Timestamp:          h.Timestamp,
		Approvals:          h.Approvals,
		ValidatorProposals: h.ValidatorProposals,
		TotalWeight:        uint64(h.TotalWeight),
	}
}

// Hash returns the content hash of the header, excluding the signature.
func (h *BlockHeader) Hash() common.Hash {
	if hash := h.hash.Load(); hash != nil {
		return hash.(common.Hash)
	}
	data, err := rlp.EncodeToBytes(h.payload())
	if err != nil {
		panic(err)
	}
	v := crypto.Keccak256Hash(data)
	h.hash.Store(v)
	return v
}

// Time returns the header timestamp as wall-clock time.
func (h *BlockHeader) Time() time.Time {
	return time.Unix(0, int64(h.Timestamp)).UTC()
}

type storedHeader struct {
	Payload   *headerPayload
	Signature []byte
}

// EncodeRLP implements rlp.Encoder.
func (h *BlockHeader) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &storedHeader{Payload: h.payload(), Signature: h.Signature})
}

// DecodeRLP implements rlp.Decoder.
func (h *BlockHeader) DecodeRLP(s *rlp.Stream) error {
	var dec storedHeader
	if err := s.Decode(&dec); err != nil {
		return err
	}
	h.PrevHash = dec.Payload.PrevHash
	h.Height = dec.Payload.Height
	h.EpochHash = dec.Payload.EpochHash
	h.PrevStateRoot = dec.Payload.PrevStateRoot
	h.Timestamp = dec.Payload.Timestamp
	h.Approvals = dec.Payload.Approvals
	h.ValidatorProposals = dec.Payload.ValidatorProposals
	h.TotalWeight = Weight(dec.Payload.TotalWeight)
	h.Signature = dec.Signature
	return nil
}

// CopyHeader creates a deep copy of a block header.
func CopyHeader(h *BlockHeader) *BlockHeader {
	cpy := &BlockHeader{
		PrevHash:      h.PrevHash,
		Height:        h.Height,
		EpochHash:     h.EpochHash,
		PrevStateRoot: h.PrevStateRoot,
		Timestamp:     h.Timestamp,
		TotalWeight:   h.TotalWeight,
	}
	if len(h.Approvals) > 0 {
		cpy.Approvals = make([][]byte, len(h.Approvals))
		for i, a := range h.Approvals {
			cpy.Approvals[i] = append([]byte(nil), a...)
		}
	}
	if len(h.ValidatorProposals) > 0 {
		cpy.ValidatorProposals = append([]*ValidatorStake(nil), h.ValidatorProposals...)
	}
	cpy.Signature = append([]byte(nil), h.Signature...)
	return cpy
}

// Block is a header plus the transactions it carries.
type Block struct {
	Header       *BlockHeader
	Transactions []*SignedTransaction
}

// Hash returns the block hash, which is the header hash.
func (b *Block) Hash() common.Hash { return b.Header.Hash() }

// Genesis produces the genesis block for the given runtime state root.
// The genesis header has a zero previous hash, zero height and zero weight
// and carries no proposer signature.
func Genesis(stateRoot common.Hash, genesisTime time.Time) *Block {
	return &Block{
		Header: &BlockHeader{
			PrevStateRoot: stateRoot,
			Timestamp:     uint64(genesisTime.UnixNano()),
		},
	}
}

// NewBlock assembles an unsigned block on top of prev, committing to the
// given previous state root. The caller signs the header before handing the
// block to the chain.
func NewBlock(prev *BlockHeader, epochHash common.Hash, prevStateRoot common.Hash, txs []*SignedTransaction, approvals [][]byte, proposals []*ValidatorStake, timestamp time.Time) *Block {
	ts := uint64(timestamp.UnixNano())
	if ts <= prev.Timestamp {
		ts = prev.Timestamp + 1
	}
	return &Block{
		Header: &BlockHeader{
			PrevHash:           prev.Hash(),
			Height:             prev.Height + 1,
			EpochHash:          epochHash,
			PrevStateRoot:      prevStateRoot,
			Timestamp:          ts,
			Approvals:          approvals,
			ValidatorProposals: proposals,
			TotalWeight:        NextWeight(prev.TotalWeight, len(approvals)),
		},
		Transactions: txs,
	}
}

// Tip is a reference to the end of a chain fork.
type Tip struct {
	LastBlockHash common.Hash
	PrevBlockHash common.Hash
	Height        uint64
	TotalWeight   Weight
}

// TipFromHeader builds a tip pointing at the given header.
func TipFromHeader(h *BlockHeader) *Tip {
	return &Tip{
		LastBlockHash: h.Hash(),
		PrevBlockHash: h.PrevHash,
		Height:        h.Height,
		TotalWeight:   h.TotalWeight,
	}
}
