// Package local runs the contract chaincode in-process on a goleveldb ledger. It keeps world
// state, per-key history and private collections, and is used for development and tests.
package local

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/timestamppb"

	"ehranchor/internal/adapter"
	"ehranchor/internal/domain"
	"ehranchor/internal/ledger"
	"ehranchor/internal/logger"
)

const (
	defaultMSPID     = "Org1MSP"
	defaultChannelID = "mychannel"
)

// Config holds the configuration of a local network
type Config struct {
	// Path of the leveldb directory. Empty keeps everything in memory.
	Path      string
	MSPID     string
	ChannelID string
	Deadlines ledger.Deadlines
	Clock     adapter.Clock
}

// Network is a single-peer ledger that executes a chaincode directly.
// Submits are serialized; evaluations run concurrently against snapshots.
type Network struct {
	db        *leveldb.DB
	chaincode shim.Chaincode
	cfg       Config

	mu     sync.Mutex // serializes commits
	seq    uint64
	lastTx time.Time

	idMu       sync.Mutex
	identities map[string][]byte
}

// New opens the ledger storage and prepares the network for chaincode
func New(cfg Config, chaincode shim.Chaincode) (*Network, error) {
	if chaincode == nil {
		return nil, fmt.Errorf("chaincode is required")
	}
	if cfg.MSPID == "" {
		cfg.MSPID = defaultMSPID
	}
	if cfg.ChannelID == "" {
		cfg.ChannelID = defaultChannelID
	}
	if cfg.Clock == nil {
		cfg.Clock = adapter.NewClock()
	}
	cfg.Deadlines = cfg.Deadlines.WithDefaults()

	var (
		db  *leveldb.DB
		err error
	)
	if cfg.Path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(cfg.Path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger storage: %w", err)
	}

	seq, err := readUint64(db, metaSeqKey)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read ledger sequence: %w", err)
	}
	lastTx, err := readLastTx(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read last transaction time: %w", err)
	}

	logger.Info("Local ledger opened",
		zap.String("path", cfg.Path),
		zap.String("channel", cfg.ChannelID),
		zap.String("mspId", cfg.MSPID),
		zap.Uint64("historySeq", seq))

	return &Network{
		db:         db,
		chaincode:  chaincode,
		cfg:        cfg,
		seq:        seq,
		lastTx:     lastTx,
		identities: map[string][]byte{},
	}, nil
}

// Close releases the ledger storage
func (n *Network) Close() error {
	return n.db.Close()
}

// Open implements ledger.Connector with the network's default organization
func (n *Network) Open(ctx context.Context) (ledger.Session, error) {
	return n.session(n.cfg.MSPID)
}

// As returns a connector whose sessions invoke as a member of mspID
func (n *Network) As(mspID string) ledger.Connector {
	return connector{network: n, mspID: mspID}
}

type connector struct {
	network *Network
	mspID   string
}

func (c connector) Open(ctx context.Context) (ledger.Session, error) {
	return c.network.session(c.mspID)
}

func (n *Network) session(mspID string) (ledger.Session, error) {
	creator, err := n.creator(mspID)
	if err != nil {
		return nil, err
	}
	return &session{network: n, creator: creator}, nil
}

func (n *Network) creator(mspID string) ([]byte, error) {
	n.idMu.Lock()
	defer n.idMu.Unlock()
	if c, ok := n.identities[mspID]; ok {
		return c, nil
	}
	c, err := newCreator(mspID, n.cfg.Clock.Now())
	if err != nil {
		return nil, err
	}
	n.identities[mspID] = c
	return c, nil
}

type session struct {
	network *Network
	creator []byte
	closed  bool
}

func (s *session) Evaluate(ctx context.Context, contract, method string, args ...string) ([]byte, error) {
	if s.closed {
		return nil, fmt.Errorf("session closed: %w", domain.ErrTransport)
	}
	res, err := s.network.execute(ctx, s.creator, contract, method, nil, false, args)
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

func (s *session) Submit(ctx context.Context, contract, method string, args ...string) (*ledger.Result, error) {
	return s.SubmitWithTransient(ctx, contract, method, nil, args...)
}

func (s *session) SubmitWithTransient(ctx context.Context, contract, method string, transient map[string][]byte, args ...string) (*ledger.Result, error) {
	if s.closed {
		return nil, fmt.Errorf("session closed: %w", domain.ErrTransport)
	}
	return s.network.execute(ctx, s.creator, contract, method, transient, true, args)
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

func (n *Network) execute(ctx context.Context, creator []byte, contract, method string, transient map[string][]byte, commit bool, args []string) (*ledger.Result, error) {
	fn := contract + ":" + method
	timeout := n.cfg.Deadlines.Evaluate
	if commit {
		timeout = n.cfg.Deadlines.Submit
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if commit {
		n.mu.Lock()
		defer n.mu.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", fn, ledger.ContextError(err))
	}

	txID, err := newTxID(creator)
	if err != nil {
		return nil, err
	}
	ts := n.txTime(commit)

	snap, err := n.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to snapshot ledger: %w", fn, err)
	}
	defer snap.Release()

	invokeArgs := make([][]byte, 0, len(args)+1)
	invokeArgs = append(invokeArgs, []byte(fn))
	for _, a := range args {
		invokeArgs = append(invokeArgs, []byte(a))
	}
	stub := newTxStub(snap, txID, n.cfg.ChannelID, invokeArgs, creator, transient, timestamppb.New(ts))

	resp := n.chaincode.Invoke(stub)
	if resp.Status >= shim.ERRORTHRESHOLD {
		logger.Debug("Chaincode returned an error",
			zap.String("function", fn),
			zap.String("txId", txID),
			zap.String("message", resp.Message))
		if kind := domain.Classify(resp.Message); kind != nil {
			return nil, fmt.Errorf("%s: %w", fn, kind)
		}
		return nil, fmt.Errorf("%s: chaincode response %d, %s", fn, resp.Status, resp.Message)
	}

	result := &ledger.Result{TxID: txID, Payload: resp.Payload}
	if !commit {
		return result, nil
	}

	// a transaction that outlived its deadline is not committed
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", fn, ledger.ContextError(err))
	}

	batch, seq, err := stub.writeBatch(n.seq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	batch.Put(metaSeqKey, encodeUint64(seq))
	batch.Put(metaLastTxKey, encodeUint64(uint64(ts.UnixNano())))
	if err := n.db.Write(batch, &opt.WriteOptions{Sync: n.cfg.Path != ""}); err != nil {
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", fn, err)
	}
	n.seq = seq
	n.lastTx = ts

	fields := []zap.Field{
		zap.String("function", fn),
		zap.String("txId", txID),
		zap.Time("timestamp", ts),
		zap.Int("writes", len(stub.writes)),
	}
	if stub.event != nil {
		fields = append(fields, zap.String("event", stub.event.EventName))
	}
	logger.Debug("Transaction committed", fields...)
	return result, nil
}

// txTime returns the transaction timestamp. Committed transactions get strictly increasing
// millisecond timestamps so every mutation advances updatedAt.
func (n *Network) txTime(commit bool) time.Time {
	now := n.cfg.Clock.Now().UTC().Truncate(time.Millisecond)
	if commit && !now.After(n.lastTx) {
		now = n.lastTx.Add(time.Millisecond)
	}
	return now
}

// newTxID derives a transaction id from a random nonce and the creator, like a peer does.
func newTxID(creator []byte) (string, error) {
	nonce := make([]byte, 24)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	h := sha256.New()
	h.Write(nonce)
	h.Write(creator)
	return hex.EncodeToString(h.Sum(nil)), nil
}
