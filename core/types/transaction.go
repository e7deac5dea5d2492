package types

import (
	"io"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// SignedTransaction is a transaction together with its signer's signature.
// The BlockHash anchors the transaction to a recent block; it expires once
// that anchor falls out of the validity period.
type SignedTransaction struct {
	Nonce      uint64
	SignerID   AccountID
	ReceiverID AccountID
	BlockHash  common.Hash
	Payload    []byte
	Signature  []byte

	hash atomic.Value
}

type txPayload struct {
	Nonce      uint64
	SignerID   string
	ReceiverID string
	BlockHash  common.Hash
	Payload    []byte
}

// Hash returns the content hash of the transaction, excluding the signature.
func (tx *SignedTransaction) Hash() common.Hash {
	if hash := tx.hash.Load(); hash != nil {
		return hash.(common.Hash)
	}
	data, err := rlp.EncodeToBytes(&txPayload{
		Nonce:      tx.Nonce,
		SignerID:   string(tx.SignerID),
		ReceiverID: string(tx.ReceiverID),
		BlockHash:  tx.BlockHash,
		Payload:    tx.Payload,
	})
	if err != nil {
		panic(err)
	}
	v := crypto.Keccak256Hash(data)
	tx.hash.Store(v)
	return v
}

type storedTransaction struct {
	Payload   *txPayload
	Signature []byte
}

// EncodeRLP implements rlp.Encoder.
func (tx *SignedTransaction) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &storedTransaction{
		Payload: &txPayload{
			Nonce:      tx.Nonce,
			SignerID:   string(tx.SignerID),
			ReceiverID: string(tx.ReceiverID),
			BlockHash:  tx.BlockHash,
			Payload:    tx.Payload,
		},
		Signature: tx.Signature,
	})
}

// DecodeRLP implements rlp.Decoder.
func (tx *SignedTransaction) DecodeRLP(s *rlp.Stream) error {
	var dec storedTransaction
	if err := s.Decode(&dec); err != nil {
		return err
	}
	tx.Nonce = dec.Payload.Nonce
	tx.SignerID = AccountID(dec.Payload.SignerID)
	tx.ReceiverID = AccountID(dec.Payload.ReceiverID)
	tx.BlockHash = dec.Payload.BlockHash
	tx.Payload = dec.Payload.Payload
	tx.Signature = dec.Signature
	return nil
}

// Receipt is a cross-account (and, eventually, cross-shard) message produced
// by applying a transaction or another receipt.
type Receipt struct {
	PredecessorID AccountID
	ReceiverID    AccountID
	ReceiptID     common.Hash
	Payload       []byte
}

// TransactionStatus is the outcome of applying a single transaction or receipt.
type TransactionStatus byte

const (
	TransactionStatusUnknown TransactionStatus = iota
	TransactionStatusCompleted
	TransactionStatusFailed
)

func (s TransactionStatus) String() string {
	switch s {
	case TransactionStatusCompleted:
		return "completed"
	case TransactionStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TransactionResult is the stored outcome of one transaction or receipt,
// including the ids of any receipts it produced.
type TransactionResult struct {
	Status   TransactionStatus
	Logs     []string
	Receipts []common.Hash
	Result   []byte
}

// TransactionLog pairs a transaction or receipt hash with its result, used
// when walking a transaction's receipt tree.
type TransactionLog struct {
	Hash   common.Hash
	Result *TransactionResult
}

// FinalTransactionStatus folds the statuses of a transaction and all its
// descendant receipts into one verdict.
type FinalTransactionStatus byte

const (
	FinalTransactionStatusUnknown FinalTransactionStatus = iota
	FinalTransactionStatusStarted
	FinalTransactionStatusFailed
	FinalTransactionStatusCompleted
)

func (s FinalTransactionStatus) String() string {
	switch s {
	case FinalTransactionStatusStarted:
		return "started"
	case FinalTransactionStatusFailed:
		return "failed"
	case FinalTransactionStatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// FinalTransactionResult is the recursive result of a transaction and every
// receipt it spawned.
type FinalTransactionResult struct {
	Status       FinalTransactionStatus
	Transactions []*TransactionLog
}

// ValidatorStake is a proposed change to a validator's stake.
type ValidatorStake struct {
	AccountID AccountID
	PublicKey []byte
	Amount    *big.Int
}

// EncodeRLP implements rlp.Encoder. Amount is carried as unsigned big-endian
// bytes since rlp has no native big.Int sign handling for our use.
func (v *ValidatorStake) EncodeRLP(w io.Writer) error {
	amount := v.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	return rlp.Encode(w, []interface{}{string(v.AccountID), v.PublicKey, amount})
}

// DecodeRLP implements rlp.Decoder.
func (v *ValidatorStake) DecodeRLP(s *rlp.Stream) error {
	var dec struct {
		AccountID string
		PublicKey []byte
		Amount    *big.Int
	}
	if err := s.Decode(&dec); err != nil {
		return err
	}
	v.AccountID = AccountID(dec.AccountID)
	v.PublicKey = dec.PublicKey
	v.Amount = dec.Amount
	return nil
}
