package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	LedgerModeFabric = "fabric"
	LedgerModeLocal  = "local"

	ObjectStoreModeIPFS  = "ipfs"
	ObjectStoreModeLocal = "local"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout    int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout   int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout    int    `mapstructure:"idle_timeout"`  // in seconds
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" validate:"min=1"`
}

// LocalLedgerConfig holds the embedded ledger configuration
type LocalLedgerConfig struct {
	Path  string `mapstructure:"path"` // empty keeps the ledger in memory
	MSPID string `mapstructure:"msp_id"`
}

// FabricConfig holds the gateway connection configuration
type FabricConfig struct {
	PeerEndpoint        string        `mapstructure:"peer_endpoint"`
	GatewayPeer         string        `mapstructure:"gateway_peer"`
	TLSCertPath         string        `mapstructure:"tls_cert_path"`
	CertPath            string        `mapstructure:"cert_path"`
	KeyDir              string        `mapstructure:"key_dir"`
	MSPID               string        `mapstructure:"msp_id"`
	CommitStatusTimeout time.Duration `mapstructure:"commit_status_timeout"`
}

// LedgerConfig holds ledger configuration
type LedgerConfig struct {
	Mode            string            `mapstructure:"mode" validate:"oneof=fabric local"`
	Channel         string            `mapstructure:"channel" validate:"required"`
	Chaincode       string            `mapstructure:"chaincode" validate:"required"`
	EvaluateTimeout time.Duration     `mapstructure:"evaluate_timeout" validate:"gt=0"`
	SubmitTimeout   time.Duration     `mapstructure:"submit_timeout" validate:"gt=0"`
	Local           LocalLedgerConfig `mapstructure:"local"`
	Fabric          FabricConfig      `mapstructure:"fabric"`
}

// IPFSConfig holds the IPFS HTTP API configuration
type IPFSConfig struct {
	APIURL  string        `mapstructure:"api_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ObjectStoreConfig holds object store configuration
type ObjectStoreConfig struct {
	Mode  string     `mapstructure:"mode" validate:"oneof=ipfs local"`
	IPFS  IPFSConfig `mapstructure:"ipfs"`
	Local struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"local"`
}

// JournalConfig holds anchor journal configuration
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// EventsConfig holds NATS JetStream configuration. Publishing is disabled without a URL.
type EventsConfig struct {
	NATSURL        string        `mapstructure:"nats_url"`
	StreamName     string        `mapstructure:"stream_name"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
}

// APIConfig holds configuration for the API server
type APIConfig struct {
	BaseConfig  `mapstructure:",squash"`
	MasterKey   string            `mapstructure:"master_key" validate:"required"`
	Server      ServerConfig      `mapstructure:"server"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectstore"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Events      EventsConfig      `mapstructure:"events"`
}

// Validate checks struct constraints and the settings each mode depends on
func (c *APIConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Ledger.Mode == LedgerModeFabric {
		f := c.Ledger.Fabric
		missing := []string{}
		for key, value := range map[string]string{
			"ledger.fabric.peer_endpoint": f.PeerEndpoint,
			"ledger.fabric.tls_cert_path": f.TLSCertPath,
			"ledger.fabric.cert_path":     f.CertPath,
			"ledger.fabric.key_dir":       f.KeyDir,
			"ledger.fabric.msp_id":        f.MSPID,
		} {
			if value == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return fmt.Errorf("fabric ledger requires %s", strings.Join(missing, ", "))
		}
	}
	if c.ObjectStore.Mode == ObjectStoreModeIPFS && c.ObjectStore.IPFS.APIURL == "" {
		return errors.New("ipfs object store requires objectstore.ipfs.api_url")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.New("journal requires journal.path")
	}
	return nil
}

// LoadAPIConfig loads configuration for ehr-api
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("ehr-api", configFile, envPath)

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 60)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("ledger.mode", LedgerModeFabric)
	v.SetDefault("ledger.channel", "ehrchannel")
	v.SetDefault("ledger.chaincode", "ehrcc2")
	v.SetDefault("ledger.evaluate_timeout", "10s")
	v.SetDefault("ledger.submit_timeout", "20s")
	v.SetDefault("ledger.local.msp_id", "Org1MSP")
	v.SetDefault("ledger.fabric.gateway_peer", "peer0.org1.example.com")
	v.SetDefault("ledger.fabric.msp_id", "Org1MSP")
	v.SetDefault("ledger.fabric.commit_status_timeout", "1m")
	v.SetDefault("objectstore.mode", ObjectStoreModeIPFS)
	v.SetDefault("objectstore.ipfs.api_url", "http://127.0.0.1:5001")
	v.SetDefault("objectstore.ipfs.timeout", "30s")
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "ehr-journal.db")
	v.SetDefault("events.stream_name", "EHR_EVENTS")
	v.SetDefault("events.subject_prefix", "ehr")
	v.SetDefault("events.max_reconnects", 10)
	v.SetDefault("events.reconnect_wait", "2s")
	v.SetDefault("events.connection_name", "ehr-api")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use environment variables
	}

	var config APIConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	// EHR_MASTER_KEY, EHR_LEDGER_FABRIC_PEER_ENDPOINT, ...
	v.SetEnvPrefix("EHR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}
	if envPath == "" {
		envPath = "config/"
	}
	for _, envFile := range envFiles {
		_ = godotenv.Overload(filepath.Join(envPath, envFile)) // later files override earlier ones
	}
}

var envKeys = []string{
	"debug",
	"sentry_dsn",
	"master_key",
	"server.host",
	"server.port",
	"server.read_timeout",
	"server.write_timeout",
	"server.idle_timeout",
	"server.max_upload_bytes",
	"ledger.mode",
	"ledger.channel",
	"ledger.chaincode",
	"ledger.evaluate_timeout",
	"ledger.submit_timeout",
	"ledger.local.path",
	"ledger.local.msp_id",
	"ledger.fabric.peer_endpoint",
	"ledger.fabric.gateway_peer",
	"ledger.fabric.tls_cert_path",
	"ledger.fabric.cert_path",
	"ledger.fabric.key_dir",
	"ledger.fabric.msp_id",
	"ledger.fabric.commit_status_timeout",
	"objectstore.mode",
	"objectstore.ipfs.api_url",
	"objectstore.ipfs.timeout",
	"objectstore.local.path",
	"journal.enabled",
	"journal.path",
	"events.nats_url",
	"events.stream_name",
	"events.subject_prefix",
	"events.max_reconnects",
	"events.reconnect_wait",
	"events.connection_name",
}
