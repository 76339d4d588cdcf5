package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/compose-network/zksafe/server/api"
	"github.com/compose-network/zksafe/x/chain"
	"github.com/compose-network/zksafe/x/proofs"
	"github.com/compose-network/zksafe/x/proposal"
	"github.com/compose-network/zksafe/x/prover"
	"github.com/compose-network/zksafe/x/safe"
	"github.com/compose-network/zksafe/x/store"
)

// Config holds the complete application configuration
type Config struct {
	API         api.Config      `mapstructure:"api"         yaml:"api"`
	Log         LogConfig       `mapstructure:"log"         yaml:"log"`
	Metrics     MetricsConfig   `mapstructure:"metrics"     yaml:"metrics"`
	Database    store.Config    `mapstructure:"database"    yaml:"database"`
	Chain       chain.Config    `mapstructure:"chain"       yaml:"chain"`
	Prover      prover.Config   `mapstructure:"prover"      yaml:"prover"`
	Aggregation proofs.Config   `mapstructure:"aggregation" yaml:"aggregation"`
	Safe        safe.Config     `mapstructure:"safe"        yaml:"safe"`
	Proposal    proposal.Config `mapstructure:"proposal"    yaml:"proposal"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// Load loads configuration from file and environment. An empty path uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("api.listen_addr", d.API.ListenAddr)
	v.SetDefault("api.read_header_timeout", d.API.ReadHeaderTimeout)
	v.SetDefault("api.read_timeout", d.API.ReadTimeout)
	v.SetDefault("api.write_timeout", d.API.WriteTimeout)
	v.SetDefault("api.idle_timeout", d.API.IdleTimeout)
	v.SetDefault("api.max_header_bytes", d.API.MaxHeaderBytes)
	v.SetDefault("api.enable_cors", d.API.EnableCORS)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.data_dir", d.Database.DataDir)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_time", d.Database.MaxIdleTime)
	v.SetDefault("database.tracing", d.Database.Tracing)

	v.SetDefault("chain.rpc_endpoint", d.Chain.RPCEndpoint)
	v.SetDefault("chain.chain_id", d.Chain.ChainID)
	v.SetDefault("chain.factory_address", d.Chain.FactoryAddress)
	v.SetDefault("chain.private_key_hex", d.Chain.PrivateKeyHex)
	v.SetDefault("chain.max_fee_per_gas_wei", d.Chain.MaxFeePerGasWei)
	v.SetDefault("chain.gas_limit_buffer_pct", d.Chain.GasLimitBufferPct)
	v.SetDefault("chain.receipt_poll_interval", d.Chain.ReceiptPollInterval)
	v.SetDefault("chain.receipt_timeout", d.Chain.ReceiptTimeout)
	v.SetDefault("chain.read_retries", d.Chain.ReadRetries)
	v.SetDefault("chain.read_retry_interval", d.Chain.ReadRetryInterval)

	v.SetDefault("prover.base_url", d.Prover.BaseURL)
	v.SetDefault("prover.timeout", d.Prover.Timeout)

	v.SetDefault("aggregation.recursive_circuit", d.Aggregation.RecursiveCircuit)
	v.SetDefault("aggregation.max_concurrency", d.Aggregation.MaxConcurrency)
	v.SetDefault("aggregation.timeout", d.Aggregation.Timeout)

	v.SetDefault("safe.deployer", d.Safe.Deployer)
	v.SetDefault("safe.deploy_timeout", d.Safe.DeployTimeout)

	v.SetDefault("proposal.approval_circuit", d.Proposal.ApprovalCircuit)
	v.SetDefault("proposal.max_signers", d.Proposal.MaxSigners)
	v.SetDefault("proposal.execute_timeout", d.Proposal.ExecuteTimeout)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateChain(); err != nil {
		return err
	}
	if err := c.validateProving(); err != nil {
		return err
	}
	return c.validateServices()
}

func (c *Config) validateAPI() error {
	if strings.TrimSpace(c.API.ListenAddr) == "" {
		return fmt.Errorf("api.listen_addr is required")
	}
	if c.API.WriteTimeout <= 0 {
		return fmt.Errorf("api.write_timeout must be positive")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case store.DriverSQLite:
	case store.DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q",
			store.DriverSQLite, store.DriverPostgres, c.Database.Driver)
	}
	return nil
}

func (c *Config) validateChain() error {
	if strings.TrimSpace(c.Chain.RPCEndpoint) == "" {
		return fmt.Errorf("chain.rpc_endpoint is required")
	}
	if !common.IsHexAddress(c.Chain.FactoryAddress) {
		return fmt.Errorf("chain.factory_address is not a valid address: %q", c.Chain.FactoryAddress)
	}
	if c.Chain.ReceiptTimeout <= 0 || c.Chain.ReceiptPollInterval <= 0 {
		return fmt.Errorf("chain.receipt_timeout and chain.receipt_poll_interval must be positive")
	}
	return nil
}

func (c *Config) validateProving() error {
	u, err := url.Parse(c.Prover.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("prover.base_url must be an absolute URL, got %q", c.Prover.BaseURL)
	}
	if c.Aggregation.RecursiveCircuit == "" {
		return fmt.Errorf("aggregation.recursive_circuit is required")
	}
	if c.Aggregation.MaxConcurrency <= 0 {
		return fmt.Errorf("aggregation.max_concurrency must be positive, got %d", c.Aggregation.MaxConcurrency)
	}
	return nil
}

func (c *Config) validateServices() error {
	if c.Safe.Deployer != "" && !common.IsHexAddress(c.Safe.Deployer) {
		return fmt.Errorf("safe.deployer is not a valid address: %q", c.Safe.Deployer)
	}
	if c.Proposal.ApprovalCircuit == "" {
		return fmt.Errorf("proposal.approval_circuit is required")
	}
	if c.Proposal.MaxSigners <= 0 {
		return fmt.Errorf("proposal.max_signers must be positive, got %d", c.Proposal.MaxSigners)
	}
	for name, d := range map[string]time.Duration{
		"safe.deploy_timeout":      c.Safe.DeployTimeout,
		"proposal.execute_timeout": c.Proposal.ExecuteTimeout,
		"aggregation.timeout":      c.Aggregation.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		API: api.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Database:    store.DefaultConfig(),
		Chain:       chain.DefaultConfig(),
		Prover:      prover.DefaultConfig(),
		Aggregation: proofs.DefaultConfig(),
		Safe:        safe.DefaultConfig(),
		Proposal:    proposal.DefaultConfig(),
	}
}
