package contract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// fakeContext is a minimal transaction context for driving the contracts directly.
type fakeContext struct {
	stub     *fakeStub
	identity *fakeIdentity
}

func newFakeContext(mspID string) *fakeContext {
	return &fakeContext{
		stub: newFakeStub(),
		identity: &fakeIdentity{
			mspID: mspID,
			id:    "x509::CN=doctor@" + strings.ToLower(mspID) + "::CN=ca",
		},
	}
}

func (f *fakeContext) GetStub() shim.ChaincodeStubInterface {
	return f.stub
}

func (f *fakeContext) GetClientIdentity() cid.ClientIdentity {
	return f.identity
}

// as switches the caller organization while keeping the ledger.
func (f *fakeContext) as(mspID string) *fakeContext {
	return &fakeContext{stub: f.stub, identity: &fakeIdentity{mspID: mspID, id: "x509::CN=other::CN=ca"}}
}

type fakeIdentity struct {
	cid.ClientIdentity
	mspID string
	id    string
}

func (i *fakeIdentity) GetMSPID() (string, error) {
	return i.mspID, nil
}

func (i *fakeIdentity) GetID() (string, error) {
	return i.id, nil
}

// fakeStub keeps state, private data and per-key history in memory. Writes are visible
// immediately; begin starts a new transaction with a later timestamp.
type fakeStub struct {
	shim.ChaincodeStubInterface

	state     map[string][]byte
	private   map[string]map[string][]byte
	history   map[string][]*queryresult.KeyModification
	transient map[string][]byte
	events    map[string][]byte

	txID     string
	txTime   time.Time
	txSeq    int
	accesses int // state and private data calls

	historyErr     error
	historyFailAt  int // 1-based entry whose Next fails
	openIterators  int
	closeIterators int
}

func newFakeStub() *fakeStub {
	s := &fakeStub{
		state:   map[string][]byte{},
		private: map[string]map[string][]byte{},
		history: map[string][]*queryresult.KeyModification{},
		events:  map[string][]byte{},
		txTime:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	s.begin()
	return s
}

func (s *fakeStub) begin() {
	s.txSeq++
	s.txID = fmt.Sprintf("tx%04d", s.txSeq)
	s.txTime = s.txTime.Add(1500 * time.Millisecond)
	s.transient = nil
}

func (s *fakeStub) GetTxID() string {
	return s.txID
}

func (s *fakeStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(s.txTime), nil
}

func (s *fakeStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	return "\x00" + objectType + "\x00" + strings.Join(attributes, "\x00") + "\x00", nil
}

func (s *fakeStub) GetState(key string) ([]byte, error) {
	s.accesses++
	return s.state[key], nil
}

func (s *fakeStub) PutState(key string, value []byte) error {
	s.accesses++
	s.state[key] = value
	s.history[key] = append(s.history[key], &queryresult.KeyModification{
		TxId:      s.txID,
		Value:     value,
		Timestamp: timestamppb.New(s.txTime),
	})
	return nil
}

func (s *fakeStub) GetPrivateData(collection, key string) ([]byte, error) {
	s.accesses++
	return s.private[collection][key], nil
}

func (s *fakeStub) PutPrivateData(collection, key string, value []byte) error {
	s.accesses++
	if s.private[collection] == nil {
		s.private[collection] = map[string][]byte{}
	}
	s.private[collection][key] = value
	return nil
}

func (s *fakeStub) GetTransient() (map[string][]byte, error) {
	return s.transient, nil
}

func (s *fakeStub) SetEvent(name string, payload []byte) error {
	if name == "" {
		return errors.New("event name can not be empty string")
	}
	s.events[name] = payload
	return nil
}

func (s *fakeStub) GetHistoryForKey(key string) (shim.HistoryQueryIteratorInterface, error) {
	s.accesses++
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	s.openIterators++
	return &fakeHistoryIterator{stub: s, entries: s.history[key], failAt: s.historyFailAt}, nil
}

type fakeHistoryIterator struct {
	stub    *fakeStub
	entries []*queryresult.KeyModification
	pos     int
	failAt  int
}

func (it *fakeHistoryIterator) HasNext() bool {
	return it.pos < len(it.entries)
}

func (it *fakeHistoryIterator) Next() (*queryresult.KeyModification, error) {
	if it.failAt > 0 && it.pos+1 == it.failAt {
		return nil, errors.New("iterator broken")
	}
	e := it.entries[it.pos]
	it.pos++
	return e, nil
}

func (it *fakeHistoryIterator) Close() error {
	it.stub.closeIterators++
	return nil
}
