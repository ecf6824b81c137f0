// Package config loads the node configuration from a file, environment
// variables and built in defaults.
//
// Keys are dotted section paths (ledger.storage, rpc.addr, ...). Every key
// can be overridden from the environment with the X1SALE_ prefix and dots
// replaced by underscores, e.g. X1SALE_RPC_ADDR.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/bank"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "X1SALE"

// Storage backends.
const (
	StorageMemory = "memory"
	StorageBadger = "badger"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete node configuration.
type Config struct {
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Journal JournalConfig `mapstructure:"journal"`
	RPC     RPCConfig     `mapstructure:"rpc"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Log     LogConfig     `mapstructure:"log"`
	Genesis GenesisConfig `mapstructure:"genesis"`
}

// LedgerConfig configures the account store and the bank.
type LedgerConfig struct {
	// Storage is "memory" or "badger".
	Storage string `mapstructure:"storage"`

	// DataDir holds the badger directory and snapshots.
	DataDir string `mapstructure:"data_dir"`

	LamportsPerSignature uint64 `mapstructure:"lamports_per_signature"`
	ComputeUnitLimit     uint64 `mapstructure:"compute_unit_limit"`
	MaxBlockhashAge      int    `mapstructure:"max_blockhash_age"`

	// SnapshotPath is restored into an empty store at startup when it
	// exists, and written on shutdown when SnapshotOnShutdown is set.
	SnapshotPath       string `mapstructure:"snapshot_path"`
	SnapshotOnShutdown bool   `mapstructure:"snapshot_on_shutdown"`
}

// JournalConfig configures the bbolt transaction journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`

	// RetainSlots bounds the journal. Zero keeps everything.
	RetainSlots   uint64        `mapstructure:"retain_slots"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// RPCConfig configures the JSON-RPC server.
type RPCConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRequestSize int64         `mapstructure:"max_request_size"`
	EnableCORS     bool          `mapstructure:"enable_cors"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	LogRequests    bool          `mapstructure:"log_requests"`
}

// StreamConfig configures the gRPC event stream.
type StreamConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Addr           string `mapstructure:"addr"`
	Token          string `mapstructure:"token"`
	BufferSize     int    `mapstructure:"buffer_size"`
	MaxSubscribers int    `mapstructure:"max_subscribers"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GenesisConfig lists the accounts funded when the store is empty.
type GenesisConfig struct {
	Accounts []GenesisAccount `mapstructure:"accounts"`
}

// GenesisAccount is a system account created at genesis.
type GenesisAccount struct {
	Pubkey   string `mapstructure:"pubkey"`
	Lamports uint64 `mapstructure:"lamports"`
}

// Key parses the account address.
func (a GenesisAccount) Key() (types.Pubkey, error) {
	return types.PubkeyFromBase58(a.Pubkey)
}

// Default returns the built in configuration.
func Default() Config {
	ledger := bank.DefaultConfig()
	return Config{
		Ledger: LedgerConfig{
			Storage:              StorageMemory,
			DataDir:              "./data",
			LamportsPerSignature: ledger.LamportsPerSignature,
			ComputeUnitLimit:     ledger.ComputeUnitLimit,
			MaxBlockhashAge:      ledger.MaxBlockhashAge,
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          "./data/journal.db",
			PruneInterval: time.Hour,
		},
		RPC: RPCConfig{
			Enabled:        true,
			Addr:           "127.0.0.1:8899",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			RequestTimeout: 10 * time.Second,
			MaxRequestSize: 50 * 1024,
			EnableCORS:     true,
		},
		Stream: StreamConfig{
			Enabled:        true,
			Addr:           "127.0.0.1:8900",
			BufferSize:     1024,
			MaxSubscribers: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration at path over the defaults and applies
// environment overrides. An empty path or a missing file yields the
// defaults plus the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// viper only reports ConfigFileNotFoundError when searching, so a
	// missing explicit file is checked here.
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "failed to read config %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to check config %s", path)
		}
	}

	config := Default()
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("ledger.storage", d.Ledger.Storage)
	v.SetDefault("ledger.data_dir", d.Ledger.DataDir)
	v.SetDefault("ledger.lamports_per_signature", d.Ledger.LamportsPerSignature)
	v.SetDefault("ledger.compute_unit_limit", d.Ledger.ComputeUnitLimit)
	v.SetDefault("ledger.max_blockhash_age", d.Ledger.MaxBlockhashAge)
	v.SetDefault("ledger.snapshot_path", d.Ledger.SnapshotPath)
	v.SetDefault("ledger.snapshot_on_shutdown", d.Ledger.SnapshotOnShutdown)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("journal.retain_slots", d.Journal.RetainSlots)
	v.SetDefault("journal.prune_interval", d.Journal.PruneInterval)

	v.SetDefault("rpc.enabled", d.RPC.Enabled)
	v.SetDefault("rpc.addr", d.RPC.Addr)
	v.SetDefault("rpc.read_timeout", d.RPC.ReadTimeout)
	v.SetDefault("rpc.write_timeout", d.RPC.WriteTimeout)
	v.SetDefault("rpc.request_timeout", d.RPC.RequestTimeout)
	v.SetDefault("rpc.max_request_size", d.RPC.MaxRequestSize)
	v.SetDefault("rpc.enable_cors", d.RPC.EnableCORS)
	v.SetDefault("rpc.allowed_origins", d.RPC.AllowedOrigins)
	v.SetDefault("rpc.log_requests", d.RPC.LogRequests)

	v.SetDefault("stream.enabled", d.Stream.Enabled)
	v.SetDefault("stream.addr", d.Stream.Addr)
	v.SetDefault("stream.token", d.Stream.Token)
	v.SetDefault("stream.buffer_size", d.Stream.BufferSize)
	v.SetDefault("stream.max_subscribers", d.Stream.MaxSubscribers)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	switch c.Ledger.Storage {
	case StorageMemory:
	case StorageBadger:
		if c.Ledger.DataDir == "" {
			return errors.Wrap(ErrInvalidConfig, "ledger.data_dir is required for badger storage")
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown ledger.storage %q", c.Ledger.Storage)
	}
	if c.Ledger.SnapshotOnShutdown && c.Ledger.SnapshotPath == "" {
		return errors.Wrap(ErrInvalidConfig, "ledger.snapshot_path is required to snapshot on shutdown")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.Wrap(ErrInvalidConfig, "journal.path is required")
	}
	if c.RPC.Enabled && c.RPC.Addr == "" {
		return errors.Wrap(ErrInvalidConfig, "rpc.addr is required")
	}
	if c.RPC.MaxRequestSize < 0 {
		return errors.Wrap(ErrInvalidConfig, "rpc.max_request_size must not be negative")
	}
	if c.Stream.Enabled && c.Stream.Addr == "" {
		return errors.Wrap(ErrInvalidConfig, "stream.addr is required")
	}
	if c.Stream.BufferSize < 0 || c.Stream.MaxSubscribers < 0 {
		return errors.Wrap(ErrInvalidConfig, "stream limits must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.Wrapf(ErrInvalidConfig, "unknown log.format %q", c.Log.Format)
	}
	for i, account := range c.Genesis.Accounts {
		if _, err := account.Key(); err != nil {
			return errors.Wrapf(ErrInvalidConfig, "genesis.accounts[%d]: %v", i, err)
		}
	}
	return nil
}

// ConfigureLogging applies the log section to the standard logrus logger.
func (c LogConfig) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch c.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
