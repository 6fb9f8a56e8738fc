package local

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	compositeKeyNamespace = "\x00"
	maxUnicodeRune        = string(utf8.MaxRune)
)

// write is a buffered mutation; nil value means delete.
type write struct {
	value []byte
}

// txStub executes one transaction. Reads see committed state as of the snapshot,
// writes are buffered until the network commits them.
type txStub struct {
	shim.ChaincodeStubInterface

	reader    kvReader
	txID      string
	channelID string
	args      [][]byte
	creator   []byte
	transient map[string][]byte
	timestamp *timestamppb.Timestamp

	writes        map[string]write
	privateWrites map[string]map[string]write
	event         *peer.ChaincodeEvent
}

func newTxStub(reader kvReader, txID, channelID string, args [][]byte, creator []byte, transient map[string][]byte, ts *timestamppb.Timestamp) *txStub {
	return &txStub{
		reader:        reader,
		txID:          txID,
		channelID:     channelID,
		args:          args,
		creator:       creator,
		transient:     transient,
		timestamp:     ts,
		writes:        map[string]write{},
		privateWrites: map[string]map[string]write{},
	}
}

func (s *txStub) GetArgs() [][]byte {
	return s.args
}

func (s *txStub) GetStringArgs() []string {
	out := make([]string, 0, len(s.args))
	for _, a := range s.args {
		out = append(out, string(a))
	}
	return out
}

func (s *txStub) GetFunctionAndParameters() (string, []string) {
	all := s.GetStringArgs()
	if len(all) == 0 {
		return "", []string{}
	}
	return all[0], all[1:]
}

func (s *txStub) GetTxID() string {
	return s.txID
}

func (s *txStub) GetChannelID() string {
	return s.channelID
}

func (s *txStub) GetCreator() ([]byte, error) {
	return s.creator, nil
}

func (s *txStub) GetTransient() (map[string][]byte, error) {
	if s.transient == nil {
		return map[string][]byte{}, nil
	}
	return s.transient, nil
}

func (s *txStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return s.timestamp, nil
}

func (s *txStub) SetEvent(name string, payload []byte) error {
	if name == "" {
		return errors.New("event name can not be empty string")
	}
	s.event = &peer.ChaincodeEvent{EventName: name, Payload: payload, TxId: s.txID}
	return nil
}

// --- World state ---

func (s *txStub) GetState(key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key must not be an empty string")
	}
	return get(s.reader, stateKey(key))
}

func (s *txStub) PutState(key string, value []byte) error {
	if key == "" {
		return errors.New("key must not be an empty string")
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("key '%x' is not valid UTF-8", key)
	}
	s.writes[key] = write{value: append([]byte{}, value...)}
	return nil
}

func (s *txStub) DelState(key string) error {
	if key == "" {
		return errors.New("key must not be an empty string")
	}
	s.writes[key] = write{}
	return nil
}

func (s *txStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	if err := validateCompositeKeyAttribute(objectType); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(compositeKeyNamespace)
	b.WriteString(objectType)
	b.WriteString(compositeKeyNamespace)
	for _, attr := range attributes {
		if err := validateCompositeKeyAttribute(attr); err != nil {
			return "", err
		}
		b.WriteString(attr)
		b.WriteString(compositeKeyNamespace)
	}
	return b.String(), nil
}

func (s *txStub) SplitCompositeKey(compositeKey string) (string, []string, error) {
	if !strings.HasPrefix(compositeKey, compositeKeyNamespace) {
		return "", nil, fmt.Errorf("'%s' is not a composite key", compositeKey)
	}
	parts := strings.Split(strings.TrimSuffix(compositeKey[1:], compositeKeyNamespace), compositeKeyNamespace)
	return parts[0], parts[1:], nil
}

func validateCompositeKeyAttribute(str string) error {
	if !utf8.ValidString(str) {
		return fmt.Errorf("not a valid utf8 string: [%x]", str)
	}
	if strings.Contains(str, compositeKeyNamespace) || strings.Contains(str, maxUnicodeRune) {
		return fmt.Errorf("input contains unicode %#U or %#U starting at position [0], which are not allowed", 0, utf8.MaxRune)
	}
	return nil
}

func (s *txStub) GetStateByRange(startKey, endKey string) (shim.StateQueryIteratorInterface, error) {
	rng := &util.Range{Start: stateKey(startKey)}
	if endKey == "" {
		rng.Limit = util.BytesPrefix(statePrefix()).Limit
	} else {
		rng.Limit = stateKey(endKey)
	}
	return s.scanState(rng)
}

func (s *txStub) GetStateByPartialCompositeKey(objectType string, keys []string) (shim.StateQueryIteratorInterface, error) {
	prefix, err := s.CreateCompositeKey(objectType, keys)
	if err != nil {
		return nil, err
	}
	return s.scanState(util.BytesPrefix(stateKey(prefix)))
}

func (s *txStub) scanState(rng *util.Range) (shim.StateQueryIteratorInterface, error) {
	it := s.reader.NewIterator(rng, nil)
	defer it.Release()

	var kvs []*queryresult.KV
	for it.Next() {
		kvs = append(kvs, &queryresult.KV{
			Key:   strings.TrimPrefix(string(it.Key()), string(statePrefix())),
			Value: append([]byte{}, it.Value()...),
		})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan state: %w", err)
	}
	return &stateIterator{kvs: kvs}, nil
}

func (s *txStub) GetHistoryForKey(key string) (shim.HistoryQueryIteratorInterface, error) {
	it := s.reader.NewIterator(util.BytesPrefix(historyPrefix(key)), nil)
	defer it.Release()

	var mods []*queryresult.KeyModification
	for it.Next() {
		e, err := decodeHistory(it.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}
		mods = append(mods, &queryresult.KeyModification{
			TxId:      e.TxID,
			Value:     e.Value,
			Timestamp: timestamppb.New(unixNano(e.Timestamp)),
			IsDelete:  e.IsDelete,
		})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return &historyIterator{mods: mods}, nil
}

// --- Private data ---

func (s *txStub) GetPrivateData(collection, key string) ([]byte, error) {
	if collection == "" {
		return nil, errors.New("collection must not be an empty string")
	}
	return get(s.reader, privateKey(collection, key))
}

func (s *txStub) PutPrivateData(collection, key string, value []byte) error {
	if collection == "" {
		return errors.New("collection must not be an empty string")
	}
	if key == "" {
		return errors.New("key must not be an empty string")
	}
	if s.privateWrites[collection] == nil {
		s.privateWrites[collection] = map[string]write{}
	}
	s.privateWrites[collection][key] = write{value: append([]byte{}, value...)}
	return nil
}

func (s *txStub) DelPrivateData(collection, key string) error {
	if collection == "" {
		return errors.New("collection must not be an empty string")
	}
	if s.privateWrites[collection] == nil {
		s.privateWrites[collection] = map[string]write{}
	}
	s.privateWrites[collection][key] = write{}
	return nil
}

// --- Commit ---

// writeBatch turns the buffered mutations into one atomic batch. Public writes also append a
// history entry; seq is the last used history sequence and the new one is returned.
func (s *txStub) writeBatch(seq uint64) (*leveldb.Batch, uint64, error) {
	batch := new(leveldb.Batch)

	keys := make([]string, 0, len(s.writes))
	for k := range s.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		w := s.writes[k]
		if w.value == nil {
			batch.Delete(stateKey(k))
		} else {
			batch.Put(stateKey(k), w.value)
		}
		seq++
		entry, err := encodeHistory(historyEntry{
			TxID:      s.txID,
			Timestamp: s.timestamp.AsTime().UnixNano(),
			IsDelete:  w.value == nil,
			Value:     w.value,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode history entry: %w", err)
		}
		batch.Put(historyKey(k, seq), entry)
	}

	for collection, writes := range s.privateWrites {
		for k, w := range writes {
			if w.value == nil {
				batch.Delete(privateKey(collection, k))
			} else {
				batch.Put(privateKey(collection, k), w.value)
			}
		}
	}
	return batch, seq, nil
}

// --- Iterators ---

type stateIterator struct {
	kvs []*queryresult.KV
	pos int
}

func (it *stateIterator) HasNext() bool {
	return it.pos < len(it.kvs)
}

func (it *stateIterator) Next() (*queryresult.KV, error) {
	if !it.HasNext() {
		return nil, errors.New("no more results")
	}
	kv := it.kvs[it.pos]
	it.pos++
	return kv, nil
}

func (it *stateIterator) Close() error {
	it.kvs = nil
	return nil
}

type historyIterator struct {
	mods []*queryresult.KeyModification
	pos  int
}

func (it *historyIterator) HasNext() bool {
	return it.pos < len(it.mods)
}

func (it *historyIterator) Next() (*queryresult.KeyModification, error) {
	if !it.HasNext() {
		return nil, errors.New("no more results")
	}
	m := it.mods[it.pos]
	it.pos++
	return m, nil
}

func (it *historyIterator) Close() error {
	it.mods = nil
	return nil
}
