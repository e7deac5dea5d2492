package rawdb

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/Bakeneke/nearcore/core/types"
)

func readTip(db ethdb.KeyValueReader, key []byte) *types.Tip {
	data, _ := db.Get(key)
	if len(data) == 0 {
		return nil
	}
	tip := new(types.Tip)
	if err := rlp.DecodeBytes(data, tip); err != nil {
		log.Error("Invalid chain marker RLP", "key", key, "err", err)
		return nil
	}
	return tip
}

func writeTip(db ethdb.KeyValueWriter, key []byte, tip *types.Tip) {
	data, err := rlp.EncodeToBytes(tip)
	if err != nil {
		log.Crit("Failed to RLP encode chain marker", "err", err)
	}
	if err := db.Put(key, data); err != nil {
		log.Crit("Failed to store chain marker", "err", err)
	}
}

// ReadHead retrieves the head of the fully applied block chain.
func ReadHead(db ethdb.KeyValueReader) *types.Tip { return readTip(db, headKey) }

// WriteHead stores the head of the fully applied block chain.
func WriteHead(db ethdb.KeyValueWriter, tip *types.Tip) { writeTip(db, headKey, tip) }

// ReadHeaderHead retrieves the heaviest known header tip.
func ReadHeaderHead(db ethdb.KeyValueReader) *types.Tip { return readTip(db, headerHeadKey) }

// WriteHeaderHead stores the heaviest known header tip.
func WriteHeaderHead(db ethdb.KeyValueWriter, tip *types.Tip) { writeTip(db, headerHeadKey, tip) }

// ReadSyncHead retrieves the header-download progress marker.
func ReadSyncHead(db ethdb.KeyValueReader) *types.Tip { return readTip(db, syncHeadKey) }

// WriteSyncHead stores the header-download progress marker.
func WriteSyncHead(db ethdb.KeyValueWriter, tip *types.Tip) { writeTip(db, syncHeadKey, tip) }

// ReadBlock retrieves the block corresponding to the hash.
func ReadBlock(db ethdb.KeyValueReader, hash common.Hash) *types.Block {
	data, _ := db.Get(blockKey(hash))
	if len(data) == 0 {
		return nil
	}
	block := new(types.Block)
	if err := rlp.DecodeBytes(data, block); err != nil {
		log.Error("Invalid block RLP", "hash", hash, "err", err)
		return nil
	}
	return block
}

// WriteBlock stores a block.
func WriteBlock(db ethdb.KeyValueWriter, block *types.Block) {
	data, err := rlp.EncodeToBytes(block)
	if err != nil {
		log.Crit("Failed to RLP encode block", "err", err)
	}
	if err := db.Put(blockKey(block.Hash()), data); err != nil {
		log.Crit("Failed to store block", "err", err)
	}
}

// HasBlock checks if the block corresponding to the hash is present.
func HasBlock(db ethdb.KeyValueReader, hash common.Hash) bool {
	ok, _ := db.Has(blockKey(hash))
	return ok
}

// ReadHeader retrieves the block header corresponding to the hash.
func ReadHeader(db ethdb.KeyValueReader, hash common.Hash) *types.BlockHeader {
	data, _ := db.Get(headerKey(hash))
	if len(data) == 0 {
		return nil
	}
	header := new(types.BlockHeader)
	if err := rlp.DecodeBytes(data, header); err != nil {
		log.Error("Invalid block header RLP", "hash", hash, "err", err)
		return nil
	}
	return header
}

// WriteHeader stores a block header.
func WriteHeader(db ethdb.KeyValueWriter, header *types.BlockHeader) {
	data, err := rlp.EncodeToBytes(header)
	if err != nil {
		log.Crit("Failed to RLP encode header", "err", err)
	}
	if err := db.Put(headerKey(header.Hash()), data); err != nil {
		log.Crit("Failed to store header", "err", err)
	}
}

// HasHeader checks if the header corresponding to the hash is present.
func HasHeader(db ethdb.KeyValueReader, hash common.Hash) bool {
	ok, _ := db.Has(headerKey(hash))
	return ok
}

// ReadCanonicalHash retrieves the hash of the canonical block at the height.
func ReadCanonicalHash(db ethdb.KeyValueReader, height uint64) common.Hash {
	data, _ := db.Get(blockIndexKey(height))
	if len(data) == 0 {
		return common.Hash{}
	}
	return common.BytesToHash(data)
}

// WriteCanonicalHash stores the canonical hash for the given height.
func WriteCanonicalHash(db ethdb.KeyValueWriter, height uint64, hash common.Hash) {
	if err := db.Put(blockIndexKey(height), hash.Bytes()); err != nil {
		log.Crit("Failed to store height to hash mapping", "err", err)
	}
}

// DeleteCanonicalHash removes the height to hash mapping.
func DeleteCanonicalHash(db ethdb.KeyValueWriter, height uint64) {
	if err := db.Delete(blockIndexKey(height)); err != nil {
		log.Crit("Failed to delete height to hash mapping", "err", err)
	}
}

// ReadPostStateRoot retrieves the state root after applying the given block.
func ReadPostStateRoot(db ethdb.KeyValueReader, hash common.Hash) (common.Hash, bool) {
	data, _ := db.Get(stateRootKey(hash))
	if len(data) == 0 {
		return common.Hash{}, false
	}
	return common.BytesToHash(data), true
}

// WritePostStateRoot stores the state root after applying the given block.
func WritePostStateRoot(db ethdb.KeyValueWriter, hash common.Hash, root common.Hash) {
	if err := db.Put(stateRootKey(hash), root.Bytes()); err != nil {
		log.Crit("Failed to store post state root", "err", err)
	}
}

// ReadReceipts retrieves the outgoing receipts produced by the given block.
func ReadReceipts(db ethdb.KeyValueReader, hash common.Hash) ([]*types.Receipt, bool) {
	data, _ := db.Get(receiptsKey(hash))
	if data == nil {
		return nil, false
	}
	var receipts []*types.Receipt
	if err := rlp.DecodeBytes(data, &receipts); err != nil {
		log.Error("Invalid receipts RLP", "hash", hash, "err", err)
		return nil, false
	}
	return receipts, true
}

// WriteReceipts stores the outgoing receipts produced by the given block.
func WriteReceipts(db ethdb.KeyValueWriter, hash common.Hash, receipts []*types.Receipt) {
	if receipts == nil {
		receipts = []*types.Receipt{}
	}
	data, err := rlp.EncodeToBytes(receipts)
	if err != nil {
		log.Crit("Failed to RLP encode receipts", "err", err)
	}
	if err := db.Put(receiptsKey(hash), data); err != nil {
		log.Crit("Failed to store receipts", "err", err)
	}
}

// ReadTransactionResult retrieves the result of the given transaction or receipt.
func ReadTransactionResult(db ethdb.KeyValueReader, hash common.Hash) *types.TransactionResult {
	data, _ := db.Get(transactionResultKey(hash))
	if len(data) == 0 {
		return nil
	}
	result := new(types.TransactionResult)
	if err := rlp.DecodeBytes(data, result); err != nil {
		log.Error("Invalid transaction result RLP", "hash", hash, "err", err)
		return nil
	}
	return result
}

// WriteTransactionResult stores the result of the given transaction or receipt.
func WriteTransactionResult(db ethdb.KeyValueWriter, hash common.Hash, result *types.TransactionResult) {
	data, err := rlp.EncodeToBytes(result)
	if err != nil {
		log.Crit("Failed to RLP encode transaction result", "err", err)
	}
	if err := db.Put(transactionResultKey(hash), data); err != nil {
		log.Crit("Failed to store transaction result", "err", err)
	}
}

// ReadPostValidatorProposals retrieves the validator proposals recorded after
// applying the given block.
func ReadPostValidatorProposals(db ethdb.KeyValueReader, hash common.Hash) ([]*types.ValidatorStake, bool) {
	data, _ := db.Get(proposalsKey(hash))
	if data == nil {
		return nil, false
	}
	var proposals []*types.ValidatorStake
	if err := rlp.DecodeBytes(data, &proposals); err != nil {
		log.Error("Invalid validator proposals RLP", "hash", hash, "err", err)
		return nil, false
	}
	return proposals, true
}

// WritePostValidatorProposals stores the validator proposals recorded after
// applying the given block.
func WritePostValidatorProposals(db ethdb.KeyValueWriter, hash common.Hash, proposals []*types.ValidatorStake) {
	if proposals == nil {
		proposals = []*types.ValidatorStake{}
	}
	data, err := rlp.EncodeToBytes(proposals)
	if err != nil {
		log.Crit("Failed to RLP encode validator proposals", "err", err)
	}
	if err := db.Put(proposalsKey(hash), data); err != nil {
		log.Crit("Failed to store validator proposals", "err", err)
	}
}
