package rawdb

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bakeneke/nearcore/core/types"
)

// Chain data is stored under 1-byte column tags followed by the key payload.
const (
	colBlockMisc byte = iota // singleton chain markers (heads)
	colBlock                 // block hash -> block
	colBlockHeader           // block hash -> header
	colBlockIndex            // big-endian height -> canonical block hash
	colStateRoot             // block hash -> post state root
	colReceipts              // block hash -> outgoing receipts
	colTransactionResult     // transaction hash -> result
	colProposals             // block hash -> post validator proposals
)

var (
	headKey       = append([]byte{colBlockMisc}, "HEAD"...)
	headerHeadKey = append([]byte{colBlockMisc}, "HEADER_HEAD"...)
	syncHeadKey   = append([]byte{colBlockMisc}, "SYNC_HEAD"...)
)

func blockKey(hash common.Hash) []byte {
	return append([]byte{colBlock}, hash.Bytes()...)
}

func headerKey(hash common.Hash) []byte {
	return append([]byte{colBlockHeader}, hash.Bytes()...)
}

func blockIndexKey(height uint64) []byte {
	key := make([]byte, 9)
	key[0] = colBlockIndex
	binary.BigEndian.PutUint64(key[1:], height)
	return key
}

func stateRootKey(hash common.Hash) []byte {
	return append([]byte{colStateRoot}, hash.Bytes()...)
}

func receiptsKey(hash common.Hash) []byte {
	return append([]byte{colReceipts}, hash.Bytes()...)
}

func transactionResultKey(hash common.Hash) []byte {
	return append([]byte{colTransactionResult}, hash.Bytes()...)
}

func proposalsKey(hash common.Hash) []byte {
	return append([]byte{colProposals}, hash.Bytes()...)
}

// State trie keys live in the runtime's namespace: a 1-byte state column,
// the account id, and for sub-keys a `,` separator before the payload
// (access keys use their column byte as the separator instead).
const (
	ColAccount byte = iota
	ColCode
	ColAccessKey
	ColReceivedData
	ColPostponedReceiptID
	ColPendingDataCount
	ColPostponedReceipt
)

// AccountDataSeparator splits the account id from the trailing key payload.
const AccountDataSeparator = ','

func keyForColumnAccountID(col byte, accountID types.AccountID) []byte {
	key := make([]byte, 0, 1+len(accountID))
	key = append(key, col)
	key = append(key, accountID...)
	return key
}

// KeyForAccount is the trie key of the account record itself.
func KeyForAccount(accountID types.AccountID) []byte {
	return keyForColumnAccountID(ColAccount, accountID)
}

// KeyForCode is the trie key of the account's contract code.
func KeyForCode(accountID types.AccountID) []byte {
	return keyForColumnAccountID(ColCode, accountID)
}

// PrefixForData is the common prefix of all contract data keys of an account.
func PrefixForData(accountID types.AccountID) []byte {
	return append(KeyForAccount(accountID), AccountDataSeparator)
}

// KeyForData is the trie key of one contract data entry.
func KeyForData(accountID types.AccountID, data []byte) []byte {
	return append(PrefixForData(accountID), data...)
}

// PrefixForAccessKey is the common prefix of all access key entries of an account.
func PrefixForAccessKey(accountID types.AccountID) []byte {
	return append(keyForColumnAccountID(ColAccessKey, accountID), ColAccessKey)
}

// KeyForAccessKey is the trie key of one access key entry.
func KeyForAccessKey(accountID types.AccountID, publicKey []byte) []byte {
	return append(PrefixForAccessKey(accountID), publicKey...)
}

func keyForHashSuffix(col byte, accountID types.AccountID, id common.Hash) []byte {
	key := keyForColumnAccountID(col, accountID)
	key = append(key, AccountDataSeparator)
	return append(key, id.Bytes()...)
}

// KeyForReceivedData is the trie key of a data value received by an account.
func KeyForReceivedData(accountID types.AccountID, dataID common.Hash) []byte {
	return keyForHashSuffix(ColReceivedData, accountID, dataID)
}

// KeyForPostponedReceiptID is the trie key of a postponed receipt id record.
func KeyForPostponedReceiptID(accountID types.AccountID, dataID common.Hash) []byte {
	return keyForHashSuffix(ColPostponedReceiptID, accountID, dataID)
}

// KeyForPendingDataCount is the trie key of the pending data counter of a receipt.
func KeyForPendingDataCount(accountID types.AccountID, receiptID common.Hash) []byte {
	return keyForHashSuffix(ColPendingDataCount, accountID, receiptID)
}

// KeyForPostponedReceipt is the trie key of a postponed receipt body.
func KeyForPostponedReceipt(accountID types.AccountID, receiptID common.Hash) []byte {
	return keyForHashSuffix(ColPostponedReceipt, accountID, receiptID)
}
