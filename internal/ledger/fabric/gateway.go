// Package fabric reaches the contracts through a Fabric Gateway peer.
package fabric

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"ehranchor/internal/domain"
	"ehranchor/internal/ledger"
	"ehranchor/internal/logger"
)

// Config holds the configuration of the gateway connection
type Config struct {
	PeerEndpoint        string `validate:"required"`
	GatewayPeer         string // TLS server name override
	TLSCertPath         string `validate:"required"`
	CertPath            string `validate:"required"`
	KeyDir              string `validate:"required"`
	MSPID               string `validate:"required"`
	Channel             string `validate:"required"`
	Chaincode           string `validate:"required"`
	Deadlines           ledger.Deadlines
	CommitStatusTimeout time.Duration
}

// Connector keeps one gRPC connection and opens a gateway per session
type Connector struct {
	cfg  Config
	conn *grpc.ClientConn
	id   *identity.X509Identity
	sign identity.Sign
}

// Dial creates the gRPC connection and loads the client identity
func Dial(cfg Config) (*Connector, error) {
	cfg.Deadlines = cfg.Deadlines.WithDefaults()
	if cfg.CommitStatusTimeout <= 0 {
		cfg.CommitStatusTimeout = time.Minute
	}

	id, err := loadIdentity(cfg.MSPID, cfg.CertPath)
	if err != nil {
		return nil, err
	}
	sign, err := loadSign(cfg.KeyDir)
	if err != nil {
		return nil, err
	}

	tlsPEM, err := os.ReadFile(cfg.TLSCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read TLS certificate: %w", err)
	}
	tlsCert, err := identity.CertificateFromPEM(tlsPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TLS certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(tlsCert)
	creds := credentials.NewClientTLSFromCert(pool, cfg.GatewayPeer)

	conn, err := grpc.NewClient(cfg.PeerEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to %s: %w", cfg.PeerEndpoint, domain.ErrTransport)
	}

	logger.Info("Fabric gateway connection ready",
		zap.String("endpoint", cfg.PeerEndpoint),
		zap.String("mspId", cfg.MSPID),
		zap.String("channel", cfg.Channel),
		zap.String("chaincode", cfg.Chaincode))

	return &Connector{cfg: cfg, conn: conn, id: id, sign: sign}, nil
}

// Close releases the gRPC connection
func (c *Connector) Close() error {
	return c.conn.Close()
}

// Open implements ledger.Connector
func (c *Connector) Open(ctx context.Context) (ledger.Session, error) {
	gw, err := client.Connect(
		c.id,
		client.WithSign(c.sign),
		client.WithClientConnection(c.conn),
		client.WithEvaluateTimeout(c.cfg.Deadlines.Evaluate),
		client.WithEndorseTimeout(c.cfg.Deadlines.Submit),
		client.WithSubmitTimeout(c.cfg.Deadlines.Submit),
		client.WithCommitStatusTimeout(c.cfg.CommitStatusTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect gateway: %w", classify(err))
	}
	return &session{gw: gw, network: gw.GetNetwork(c.cfg.Channel), cfg: c.cfg}, nil
}

type session struct {
	gw      *client.Gateway
	network *client.Network
	cfg     Config
}

func (s *session) contract(name string) *client.Contract {
	return s.network.GetContractWithName(s.cfg.Chaincode, name)
}

func (s *session) Evaluate(ctx context.Context, contract, method string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadlines.Evaluate)
	defer cancel()

	proposal, err := s.contract(contract).NewProposal(method, client.WithArguments(args...))
	if err != nil {
		return nil, fmt.Errorf("%s:%s: failed to create proposal: %w", contract, method, err)
	}
	out, err := proposal.EvaluateWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s:%s: %w", contract, method, classify(err))
	}
	return out, nil
}

func (s *session) Submit(ctx context.Context, contract, method string, args ...string) (*ledger.Result, error) {
	return s.SubmitWithTransient(ctx, contract, method, nil, args...)
}

func (s *session) SubmitWithTransient(ctx context.Context, contract, method string, transient map[string][]byte, args ...string) (*ledger.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadlines.Submit)
	defer cancel()
	fn := contract + ":" + method

	opts := []client.ProposalOption{client.WithArguments(args...)}
	if len(transient) > 0 {
		opts = append(opts, client.WithTransient(transient))
	}
	proposal, err := s.contract(contract).NewProposal(method, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create proposal: %w", fn, err)
	}

	txn, err := proposal.EndorseWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: endorse: %w", fn, classify(err))
	}
	commit, err := txn.SubmitWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: submit: %w", fn, classify(err))
	}
	status, err := commit.StatusWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: commit status: %w", fn, classify(err))
	}
	if !status.Successful {
		return nil, fmt.Errorf("%s: transaction %s failed to commit with status %s", fn, status.TransactionID, status.Code.String())
	}

	logger.Debug("Transaction committed",
		zap.String("function", fn),
		zap.String("txId", status.TransactionID),
		zap.Uint64("block", status.BlockNumber))
	return &ledger.Result{TxID: txn.TransactionID(), Payload: txn.Result()}, nil
}

func (s *session) Close() error {
	return s.gw.Close()
}

func loadIdentity(mspID, certPath string) (*identity.X509Identity, error) {
	pem, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client certificate: %w", err)
	}
	cert, err := identity.CertificateFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client certificate: %w", err)
	}
	id, err := identity.NewX509Identity(mspID, cert)
	if err != nil {
		return nil, fmt.Errorf("failed to create client identity: %w", err)
	}
	return id, nil
}

// loadSign uses the first file of keyDir, the layout of an MSP keystore.
func loadSign(keyDir string) (identity.Sign, error) {
	entries, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		pem, err := os.ReadFile(filepath.Join(keyDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		key, err := identity.PrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return identity.NewPrivateKeySign(key)
	}
	return nil, fmt.Errorf("no private key found in %s", keyDir)
}
