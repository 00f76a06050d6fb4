// Package config loads the agent's configuration with
// github.com/spf13/viper, mirroring the teacher's config.Load() /
// *config.Config shape. The loader itself (file formats, flag
// precedence) is out of scope per spec.md §1; only the shape that the
// core's constructors need is specified here.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level configuration handed to every component
// constructor, the way the teacher threads *config.Config through
// NewApiServer, resolver.New, and validator.NewContractValidator.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Database Database `mapstructure:"database"`

	Management Management `mapstructure:"management"`

	// Networks is one entry per protocolNetwork the agent operates on,
	// fanned out by C10.
	Networks []Network `mapstructure:"networks"`
}

// Database configures the Postgres connection pool backing
// internal/db.
type Database struct {
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConns         int32         `mapstructure:"max_conns"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// Management configures the out-of-scope GraphQL management API's bind
// address; only the interface boundary is specified here.
type Management struct {
	BindAddress   string   `mapstructure:"bind_address"`
	Peers         []string `mapstructure:"peers"`
	DomainAddress string   `mapstructure:"domain_address"`
}

// Network holds every per-protocolNetwork setting consumed by C4..C9.
type Network struct {
	// ProtocolNetwork is the eip155:<chainId> identifier (spec.md §6).
	ProtocolNetwork string `mapstructure:"protocol_network"`

	// IndexerAddress is this operator's on-chain indexer identity,
	// queried against in the eligible-allocation monitor (C7).
	IndexerAddress string `mapstructure:"indexer_address"`

	RPCURL              string `mapstructure:"rpc_url"`
	SubgraphURL         string `mapstructure:"subgraph_url"`
	TAPSubgraphURL      string `mapstructure:"tap_subgraph_url"`
	EpochSubgraphURL    string `mapstructure:"epoch_subgraph_url"`
	GraphNodeAdminURL   string `mapstructure:"graph_node_admin_url"`
	GraphNodeStatusURL  string `mapstructure:"graph_node_status_url"`
	GraphNodeQueryURL   string `mapstructure:"graph_node_query_url"`
	IPFSURL             string `mapstructure:"ipfs_url"`
	GatewayCollectorURL string `mapstructure:"gateway_collector_url"`

	EscrowAddress            string `mapstructure:"escrow_address"`
	AllocationExchangeAddress string `mapstructure:"allocation_exchange_address"`

	// ChainID is the numeric chain id backing ProtocolNetwork's
	// eip155:<chainId> identifier, needed to build an EIP-155 signer.
	ChainID int64 `mapstructure:"chain_id"`

	// WalletPrivateKeyHex is the operator wallet's signing key. Full
	// wallet key management (HD derivation, KMS-backed signing) is out
	// of scope per spec.md §1; this is the minimal
	// bind.TransactOpts-style construction the Non-goals carve out.
	WalletPrivateKeyHex string `mapstructure:"wallet_private_key_hex"`

	Freshness          FreshnessConfig          `mapstructure:"freshness"`
	Collector          CollectorConfig          `mapstructure:"collector"`
	Transactions       TransactionManagerConfig `mapstructure:"transactions"`
	AllocationMonitor  AllocationMonitorConfig  `mapstructure:"allocation_monitor"`
}

// FreshnessConfig configures C3's checkedQuery staleness bound.
type FreshnessConfig struct {
	ThresholdBlocks uint64        `mapstructure:"threshold_blocks"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
}

// CollectorConfig configures the voucher and RAV redemption thresholds
// of C8/C9 (spec.md §6 "Configuration").
type CollectorConfig struct {
	VoucherRedemptionThreshold      string        `mapstructure:"voucher_redemption_threshold"`
	VoucherRedemptionBatchThreshold string        `mapstructure:"voucher_redemption_batch_threshold"`
	VoucherRedemptionMaxBatchSize   int           `mapstructure:"voucher_redemption_max_batch_size"`
	FinalityTime                    time.Duration `mapstructure:"finality_time"`
}

// TransactionManagerConfig configures C6.
type TransactionManagerConfig struct {
	GasIncreaseTimeout   time.Duration `mapstructure:"gas_increase_timeout"`
	GasIncreaseFactor    int64         `mapstructure:"gas_increase_factor"` // millis fixed point, e.g. 1200
	BaseFeePerGasMaxGwei int64         `mapstructure:"base_fee_per_gas_max_gwei"`
	MaxTransactionAttempts int         `mapstructure:"max_transaction_attempts"` // 0 or negative == unbounded
}

// AllocationMonitorConfig configures C7's polling interval.
type AllocationMonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from environment variables prefixed
// INDEXER_AGENT_, which take precedence over an optional YAML config
// file whose path is given by the --config flag. --config is the only
// command-line flag read; no other setting can be given as a flag.
func Load() (*Config, error) {
	flags := pflag.NewFlagSet("indexer-agent", pflag.ContinueOnError)
	configFile := flags.String("config", "", "path to a YAML configuration file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("INDEXER_AGENT")
	v.AutomaticEnv()
	applyDefaults(v)

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.statement_timeout", 30*time.Second)
	v.SetDefault("management.bind_address", "0.0.0.0:8000")
}

func (c *Config) validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("config: at least one network must be configured")
	}
	seen := make(map[string]struct{}, len(c.Networks))
	for _, n := range c.Networks {
		if n.ProtocolNetwork == "" {
			return fmt.Errorf("config: network entry missing protocol_network")
		}
		if _, dup := seen[n.ProtocolNetwork]; dup {
			return fmt.Errorf("config: duplicate protocol_network %q", n.ProtocolNetwork)
		}
		seen[n.ProtocolNetwork] = struct{}{}
	}
	return nil
}
