package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-sale/internal/types"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)
	d := Default()
	assert.Equal(t, d.Ledger, config.Ledger)
	assert.Equal(t, d.Journal, config.Journal)
	assert.Equal(t, d.Stream, config.Stream)
	assert.Equal(t, d.Log, config.Log)
	assert.Equal(t, d.RPC.Addr, config.RPC.Addr)
	assert.Equal(t, d.RPC.RequestTimeout, config.RPC.RequestTimeout)
	assert.Empty(t, config.RPC.AllowedOrigins)
	assert.Empty(t, config.Genesis.Accounts)

	config, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, config.Ledger.Storage)
}

func TestLoad_File(t *testing.T) {
	wallet := types.Pubkey{7}
	path := writeConfig(t, "node.yaml", `
ledger:
  storage: badger
  data_dir: /var/lib/x1-sale
  lamports_per_signature: 10000
rpc:
  addr: 0.0.0.0:9000
  request_timeout: 3s
  allowed_origins:
    - https://sale.example.com
stream:
  enabled: false
log:
  level: debug
  format: json
genesis:
  accounts:
    - pubkey: `+wallet.String()+`
      lamports: 5000000000
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StorageBadger, config.Ledger.Storage)
	assert.Equal(t, "/var/lib/x1-sale", config.Ledger.DataDir)
	assert.EqualValues(t, 10000, config.Ledger.LamportsPerSignature)
	assert.EqualValues(t, 200_000, config.Ledger.ComputeUnitLimit)
	assert.Equal(t, "0.0.0.0:9000", config.RPC.Addr)
	assert.Equal(t, 3*time.Second, config.RPC.RequestTimeout)
	assert.Equal(t, []string{"https://sale.example.com"}, config.RPC.AllowedOrigins)
	assert.False(t, config.Stream.Enabled)
	assert.Equal(t, "debug", config.Log.Level)

	require.Len(t, config.Genesis.Accounts, 1)
	key, err := config.Genesis.Accounts[0].Key()
	require.NoError(t, err)
	assert.Equal(t, wallet, key)
	assert.EqualValues(t, 5_000_000_000, config.Genesis.Accounts[0].Lamports)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("X1SALE_RPC_ADDR", "127.0.0.1:7777")
	t.Setenv("X1SALE_JOURNAL_ENABLED", "false")
	t.Setenv("X1SALE_STREAM_MAX_SUBSCRIBERS", "3")

	path := writeConfig(t, "node.yaml", "rpc:\n  addr: 127.0.0.1:1\n")
	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", config.RPC.Addr)
	assert.False(t, config.Journal.Enabled)
	assert.Equal(t, 3, config.Stream.MaxSubscribers)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "node.yaml", "ledger:\n  storage: postgres\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	path = writeConfig(t, "broken.yaml", "ledger: [\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"badger without data dir", func(c *Config) {
			c.Ledger.Storage = StorageBadger
			c.Ledger.DataDir = ""
		}, true},
		{"snapshot without path", func(c *Config) { c.Ledger.SnapshotOnShutdown = true }, true},
		{"journal without path", func(c *Config) { c.Journal.Path = "" }, true},
		{"disabled journal without path", func(c *Config) {
			c.Journal.Enabled = false
			c.Journal.Path = ""
		}, false},
		{"rpc without addr", func(c *Config) { c.RPC.Addr = "" }, true},
		{"negative buffer", func(c *Config) { c.Stream.BufferSize = -1 }, true},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"bad genesis key", func(c *Config) {
			c.Genesis.Accounts = []GenesisAccount{{Pubkey: "not a key", Lamports: 1}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(&config)
			err := config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
