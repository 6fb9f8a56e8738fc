package local

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// 0xff never occurs in UTF-8, so it cannot collide with a ledger key.
const sep = "\xff"

var (
	metaSeqKey    = []byte("m" + sep + "seq")
	metaLastTxKey = []byte("m" + sep + "last_tx")
)

func stateKey(key string) []byte {
	return []byte("s" + sep + key)
}

func statePrefix() []byte {
	return []byte("s" + sep)
}

func historyPrefix(key string) []byte {
	return []byte("h" + sep + key + sep)
}

func historyKey(key string, seq uint64) []byte {
	return append(historyPrefix(key), []byte(fmt.Sprintf("%020d", seq))...)
}

func privateKey(collection, key string) []byte {
	return []byte("p" + sep + collection + sep + key)
}

// kvReader is satisfied by both *leveldb.DB and *leveldb.Snapshot.
type kvReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

// historyEntry is the stored form of one committed write to a key.
type historyEntry struct {
	TxID      string `json:"txId"`
	Timestamp int64  `json:"timestamp"` // unix nanoseconds
	IsDelete  bool   `json:"isDelete"`
	Value     []byte `json:"value,omitempty"`
}

func get(r kvReader, key []byte) ([]byte, error) {
	v, err := r.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func readUint64(r kvReader, key []byte) (uint64, error) {
	v, err := get(r, key)
	if err != nil || len(v) != 8 {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

func encodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func readLastTx(r kvReader) (time.Time, error) {
	n, err := readUint64(r, metaLastTxKey)
	if err != nil || n == 0 {
		return time.Time{}, err
	}
	return time.Unix(0, int64(n)).UTC(), nil
}

func encodeHistory(e historyEntry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeHistory(b []byte) (historyEntry, error) {
	var e historyEntry
	err := json.Unmarshal(b, &e)
	return e, err
}

func unixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
