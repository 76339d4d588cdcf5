package chain

import "time"

// Config holds the chain connection and transaction settings.
type Config struct {
	// RPC endpoint of an Ethereum node.
	RPCEndpoint string `mapstructure:"rpc_endpoint" yaml:"rpc_endpoint"`

	// ChainID is used for signing. Zero means ask the node.
	ChainID uint64 `mapstructure:"chain_id" yaml:"chain_id"`

	// ZkOwnerFactory that precomputes and deploys ZK owners with their Safe proxies.
	FactoryAddress string `mapstructure:"factory_address" yaml:"factory_address"`

	// Key of the relayer account paying for deploy and execTransaction.
	PrivateKeyHex string `mapstructure:"private_key_hex" yaml:"private_key_hex"`

	// Gas/fees configuration (EIP-1559)
	MaxFeePerGasWei   string `mapstructure:"max_fee_per_gas_wei"  yaml:"max_fee_per_gas_wei"` // optional cap
	GasLimitBufferPct uint64 `mapstructure:"gas_limit_buffer_pct" yaml:"gas_limit_buffer_pct"`

	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval" yaml:"receipt_poll_interval"`
	ReceiptTimeout      time.Duration `mapstructure:"receipt_timeout"       yaml:"receipt_timeout"`

	// Idempotent reads are retried with exponential backoff.
	ReadRetries       uint64        `mapstructure:"read_retries"        yaml:"read_retries"`
	ReadRetryInterval time.Duration `mapstructure:"read_retry_interval" yaml:"read_retry_interval"`
}

func DefaultConfig() Config {
	return Config{
		RPCEndpoint:         "http://localhost:8545",
		FactoryAddress:      "0xd0f58a4aA3C5Ff2e2174f485aBe1c901EB129D7E",
		GasLimitBufferPct:   20,
		ReceiptPollInterval: 2 * time.Second,
		ReceiptTimeout:      3 * time.Minute,
		ReadRetries:         3,
		ReadRetryInterval:   250 * time.Millisecond,
	}
}
