package rawdb

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethrawdb "github.com/ethereum/go-ethereum/core/rawdb"

	"github.com/Bakeneke/nearcore/core/types"
)

func TestCanonicalHashStorage(t *testing.T) {
	db := gethrawdb.NewMemoryDatabase()

	if hash := ReadCanonicalHash(db, 7); hash != (common.Hash{}) {
		t.Fatalf("non existent canonical hash = %s", hash)
	}
	want := common.HexToHash("0x0102")
	WriteCanonicalHash(db, 7, want)
	if hash := ReadCanonicalHash(db, 7); hash != want {
		t.Fatalf("canonical hash = %s, want %s", hash, want)
	}
	DeleteCanonicalHash(db, 7)
	if hash := ReadCanonicalHash(db, 7); hash != (common.Hash{}) {
		t.Fatalf("deleted canonical hash = %s", hash)
	}
}

func TestHeadStorage(t *testing.T) {
	db := gethrawdb.NewMemoryDatabase()

	tip := &types.Tip{
		LastBlockHash: common.HexToHash("0x11"),
		PrevBlockHash: common.HexToHash("0x10"),
		Height:        17,
		TotalWeight:   23,
	}
	if ReadHead(db) != nil || ReadHeaderHead(db) != nil || ReadSyncHead(db) != nil {
		t.Fatal("heads present in empty database")
	}
	WriteHead(db, tip)
	WriteHeaderHead(db, tip)
	WriteSyncHead(db, tip)
	for name, read := range map[string]func() *types.Tip{
		"head":        func() *types.Tip { return ReadHead(db) },
		"header head": func() *types.Tip { return ReadHeaderHead(db) },
		"sync head":   func() *types.Tip { return ReadSyncHead(db) },
	} {
		got := read()
		if got == nil || *got != *tip {
			t.Errorf("%s = %+v, want %+v", name, got, tip)
		}
	}
}

func TestHeaderStorage(t *testing.T) {
	db := gethrawdb.NewMemoryDatabase()

	header := &types.BlockHeader{
		PrevHash:    common.HexToHash("0x01"),
		Height:      4,
		Timestamp:   4000,
		TotalWeight: 4,
		Signature:   []byte("sig"),
	}
	if HasHeader(db, header.Hash()) {
		t.Fatal("header present in empty database")
	}
	WriteHeader(db, header)
	got := ReadHeader(db, header.Hash())
	if got == nil {
		t.Fatal("stored header not found")
	}
	if got.Hash() != header.Hash() {
		t.Errorf("header hash changed across storage: %s vs %s", got.Hash(), header.Hash())
	}
	if got.Height != header.Height || got.TotalWeight != header.TotalWeight {
		t.Errorf("header fields changed across storage: %+v", got)
	}
}

func TestReceiptsStorageDistinguishesEmpty(t *testing.T) {
	db := gethrawdb.NewMemoryDatabase()
	hash := common.HexToHash("0x22")

	if _, ok := ReadReceipts(db, hash); ok {
		t.Fatal("receipts present in empty database")
	}
	// An empty receipt list is a fact worth recording: the block produced
	// nothing, which differs from the block being unknown.
	WriteReceipts(db, hash, nil)
	receipts, ok := ReadReceipts(db, hash)
	if !ok {
		t.Fatal("empty receipts not stored")
	}
	if len(receipts) != 0 {
		t.Fatalf("receipts = %d entries, want none", len(receipts))
	}
}

func TestStateKeyLayout(t *testing.T) {
	account := types.AccountID("alice.near")

	key := KeyForAccount(account)
	if key[0] != ColAccount || string(key[1:]) != string(account) {
		t.Errorf("account key = %x", key)
	}

	data := KeyForData(account, []byte("balance"))
	want := append(append([]byte{ColAccount}, account...), ',')
	want = append(want, []byte("balance")...)
	if !bytes.Equal(data, want) {
		t.Errorf("data key = %x, want %x", data, want)
	}

	access := KeyForAccessKey(account, []byte{0xab})
	if access[0] != ColAccessKey || access[len(access)-1] != 0xab {
		t.Errorf("access key = %x", access)
	}
	// The column byte doubles as the separator for access keys.
	if access[1+len(account)] != ColAccessKey {
		t.Errorf("access key separator = %x", access[1+len(account)])
	}

	id := common.HexToHash("0x33")
	for _, tt := range []struct {
		key []byte
		col byte
	}{
		{KeyForReceivedData(account, id), ColReceivedData},
		{KeyForPostponedReceiptID(account, id), ColPostponedReceiptID},
		{KeyForPendingDataCount(account, id), ColPendingDataCount},
		{KeyForPostponedReceipt(account, id), ColPostponedReceipt},
	} {
		if tt.key[0] != tt.col {
			t.Errorf("key column = %d, want %d", tt.key[0], tt.col)
		}
		if tt.key[1+len(account)] != AccountDataSeparator {
			t.Errorf("missing separator in key %x", tt.key)
		}
		if !bytes.HasSuffix(tt.key, id.Bytes()) {
			t.Errorf("key %x does not end with the id", tt.key)
		}
	}
}
