package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAPIConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		env         map[string]string
		expectError bool
		validate    func(*testing.T, *APIConfig)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
sentry_dsn: "https://sentry.example.com"
master_key: "file-master"
server:
  port: 8088
  max_upload_bytes: 1024
ledger:
  mode: local
  channel: mychannel
  submit_timeout: "5s"
  local:
    path: /tmp/ledger
objectstore:
  mode: local
  local:
    path: /tmp/objects
journal:
  enabled: false
events:
  nats_url: "nats://localhost:4222"
  stream_name: "TEST_STREAM"
`,
			validate: func(t *testing.T, cfg *APIConfig) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, "https://sentry.example.com", cfg.SentryDSN)
				assert.Equal(t, "file-master", cfg.MasterKey)
				assert.Equal(t, 8088, cfg.Server.Port)
				assert.Equal(t, int64(1024), cfg.Server.MaxUploadBytes)
				assert.Equal(t, LedgerModeLocal, cfg.Ledger.Mode)
				assert.Equal(t, "mychannel", cfg.Ledger.Channel)
				assert.Equal(t, 5*time.Second, cfg.Ledger.SubmitTimeout)
				assert.Equal(t, "/tmp/ledger", cfg.Ledger.Local.Path)
				assert.Equal(t, ObjectStoreModeLocal, cfg.ObjectStore.Mode)
				assert.Equal(t, "/tmp/objects", cfg.ObjectStore.Local.Path)
				assert.False(t, cfg.Journal.Enabled)
				assert.Equal(t, "nats://localhost:4222", cfg.Events.NATSURL)
				assert.Equal(t, "TEST_STREAM", cfg.Events.StreamName)
			},
		},
		{
			name: "config with defaults",
			configFile: `
master_key: "m"
ledger:
  mode: local
`,
			validate: func(t *testing.T, cfg *APIConfig) {
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 4000, cfg.Server.Port)
				assert.Equal(t, "ehrchannel", cfg.Ledger.Channel)
				assert.Equal(t, "ehrcc2", cfg.Ledger.Chaincode)
				assert.Equal(t, 10*time.Second, cfg.Ledger.EvaluateTimeout)
				assert.Equal(t, 20*time.Second, cfg.Ledger.SubmitTimeout)
				assert.Equal(t, "Org1MSP", cfg.Ledger.Local.MSPID)
				assert.Equal(t, ObjectStoreModeIPFS, cfg.ObjectStore.Mode)
				assert.Equal(t, "http://127.0.0.1:5001", cfg.ObjectStore.IPFS.APIURL)
				assert.True(t, cfg.Journal.Enabled)
				assert.Equal(t, "EHR_EVENTS", cfg.Events.StreamName)
				assert.Equal(t, "ehr", cfg.Events.SubjectPrefix)
				assert.Empty(t, cfg.Events.NATSURL)
			},
		},
		{
			name: "environment overrides file",
			configFile: `
master_key: "file-master"
ledger:
  mode: local
`,
			env: map[string]string{
				"EHR_MASTER_KEY":       "env-master",
				"EHR_SERVER_PORT":      "9000",
				"EHR_OBJECTSTORE_MODE": "local",
			},
			validate: func(t *testing.T, cfg *APIConfig) {
				assert.Equal(t, "env-master", cfg.MasterKey)
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, ObjectStoreModeLocal, cfg.ObjectStore.Mode)
			},
		},
		{
			name: "missing config file",
			env: map[string]string{
				"EHR_MASTER_KEY":  "env-master",
				"EHR_LEDGER_MODE": "local",
			},
			validate: func(t *testing.T, cfg *APIConfig) {
				assert.Equal(t, "env-master", cfg.MasterKey)
				assert.Equal(t, LedgerModeLocal, cfg.Ledger.Mode)
			},
		},
		{
			name: "missing master key",
			configFile: `
ledger:
  mode: local
`,
			expectError: true,
		},
		{
			name: "fabric mode without credentials",
			configFile: `
master_key: "m"
ledger:
  mode: fabric
`,
			expectError: true,
		},
		{
			name: "unknown ledger mode",
			configFile: `
master_key: "m"
ledger:
  mode: ethereum
`,
			expectError: true,
		},
		{
			name: "invalid yaml",
			configFile: `
server:
  port: invalid
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			// keep .env files from the working tree out of the test
			envDir := t.TempDir()
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			configFile := filepath.Join(tmpDir, "nonexistent.yaml")
			if tt.configFile != "" {
				configFile = filepath.Join(tmpDir, "config.yaml")
				require.NoError(t, os.WriteFile(configFile, []byte(tt.configFile), 0600))
			}

			cfg, err := LoadAPIConfig(configFile, envDir)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg)
			tt.validate(t, cfg)
		})
	}
}

func TestLoadAPIConfig_EnvFile(t *testing.T) {
	envDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(envDir, ".env"), []byte("EHR_MASTER_KEY=from-dotenv\nEHR_LEDGER_MODE=local\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(envDir, ".env.local"), []byte("EHR_MASTER_KEY=from-local\n"), 0600))
	t.Cleanup(func() {
		_ = os.Unsetenv("EHR_MASTER_KEY")
		_ = os.Unsetenv("EHR_LEDGER_MODE")
	})

	cfg, err := LoadAPIConfig(filepath.Join(t.TempDir(), "none.yaml"), envDir)
	require.NoError(t, err)
	assert.Equal(t, "from-local", cfg.MasterKey)
	assert.Equal(t, LedgerModeLocal, cfg.Ledger.Mode)
}
