package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"

	"ehranchor/contract"
	"ehranchor/internal/api/server"
	"ehranchor/internal/config"
	"ehranchor/internal/coordinator"
	"ehranchor/internal/events"
	"ehranchor/internal/journal"
	"ehranchor/internal/ledger"
	"ehranchor/internal/ledger/fabric"
	"ehranchor/internal/ledger/local"
	"ehranchor/internal/logger"
	"ehranchor/internal/objectstore"
	"ehranchor/internal/sealing"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "ehr-api",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting EHR anchoring API")

	sealer, err := sealing.New(sealing.DeriveKey(cfg.MasterKey))
	if err != nil {
		logger.Fatal("Failed to create sealing engine", zap.Error(err))
	}

	conn, closeLedger := openLedger(cfg)
	defer closeLedger()

	store, closeStore := openObjectStore(cfg)
	defer closeStore()

	var anchorJournal journal.Journal
	if cfg.Journal.Enabled {
		anchorJournal, err = journal.New(journal.GetSqliteDialector(cfg.Journal.Path), gormlogger.Warn)
		if err != nil {
			logger.Fatal("Failed to open anchor journal", zap.Error(err), zap.String("path", cfg.Journal.Path))
		}
		logger.InfoCtx(ctx, "Anchor journal opened", zap.String("path", cfg.Journal.Path))
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		publisher, err = events.NewNATSPublisher(ctx, events.Config{
			URL:            cfg.Events.NATSURL,
			StreamName:     cfg.Events.StreamName,
			SubjectPrefix:  cfg.Events.SubjectPrefix,
			MaxReconnects:  cfg.Events.MaxReconnects,
			ReconnectWait:  cfg.Events.ReconnectWait,
			ConnectionName: cfg.Events.ConnectionName,
		})
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err), zap.String("url", cfg.Events.NATSURL))
		}
		logger.InfoCtx(ctx, "Publishing events to NATS", zap.String("stream", cfg.Events.StreamName))
	}
	defer publisher.Close()

	svc, err := coordinator.New(coordinator.Params{
		Sealer:  sealer,
		Store:   store,
		Ledger:  conn,
		Journal: anchorJournal,
		Events:  publisher,
	})
	if err != nil {
		logger.Fatal("Failed to create coordinator", zap.Error(err))
	}

	srv := server.New(server.Config{
		Debug:          cfg.Debug,
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(cfg.Server.IdleTimeout) * time.Second,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, svc, anchorJournal)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// the original ctx is canceled
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, zap.String("component", "server"))
	}
	logger.Info("API server stopped")
}

func openLedger(cfg *config.APIConfig) (ledger.Connector, func()) {
	deadlines := ledger.Deadlines{
		Evaluate: cfg.Ledger.EvaluateTimeout,
		Submit:   cfg.Ledger.SubmitTimeout,
	}

	if cfg.Ledger.Mode == config.LedgerModeLocal {
		cc, err := contract.NewChaincode(nil)
		if err != nil {
			logger.Fatal("Failed to build chaincode", zap.Error(err))
		}
		network, err := local.New(local.Config{
			Path:      cfg.Ledger.Local.Path,
			MSPID:     cfg.Ledger.Local.MSPID,
			ChannelID: cfg.Ledger.Channel,
			Deadlines: deadlines,
		}, cc)
		if err != nil {
			logger.Fatal("Failed to open local ledger", zap.Error(err))
		}
		return network, func() { _ = network.Close() }
	}

	f := cfg.Ledger.Fabric
	conn, err := fabric.Dial(fabric.Config{
		PeerEndpoint:        f.PeerEndpoint,
		GatewayPeer:         f.GatewayPeer,
		TLSCertPath:         f.TLSCertPath,
		CertPath:            f.CertPath,
		KeyDir:              f.KeyDir,
		MSPID:               f.MSPID,
		Channel:             cfg.Ledger.Channel,
		Chaincode:           cfg.Ledger.Chaincode,
		Deadlines:           deadlines,
		CommitStatusTimeout: f.CommitStatusTimeout,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Fabric gateway", zap.Error(err), zap.String("peer", f.PeerEndpoint))
	}
	logger.Info("Connected to Fabric gateway",
		zap.String("peer", f.PeerEndpoint),
		zap.String("channel", cfg.Ledger.Channel),
		zap.String("chaincode", cfg.Ledger.Chaincode))
	return conn, func() { _ = conn.Close() }
}

func openObjectStore(cfg *config.APIConfig) (objectstore.Store, func()) {
	if cfg.ObjectStore.Mode == config.ObjectStoreModeLocal {
		store, err := objectstore.NewLocal(cfg.ObjectStore.Local.Path)
		if err != nil {
			logger.Fatal("Failed to open local object store", zap.Error(err))
		}
		return store, func() { _ = store.Close() }
	}

	store := objectstore.NewIPFS(objectstore.IPFSConfig{
		APIURL:        cfg.ObjectStore.IPFS.APIURL,
		Timeout:       cfg.ObjectStore.IPFS.Timeout,
		MaxObjectSize: cfg.Server.MaxUploadBytes + sealing.Overhead,
	})
	if !store.Ping() {
		logger.Warn("IPFS API is not answering yet", zap.String("url", cfg.ObjectStore.IPFS.APIURL))
	}
	return store, func() {}
}
