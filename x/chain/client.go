// Package chain talks to the ZkOwnerFactory, ZK owner and Safe contracts.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/compose-network/zksafe/x/zkerr"
)

// Backend is the subset of ethclient.Client the coordinator uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client is the on-chain collaborator of the safe and proposal services.
// Read methods fail with zkerr.ErrChainRead, write methods with zkerr.ErrChainWrite.
type Client interface {
	NonceByDeployer(ctx context.Context, deployer common.Address) (*big.Int, error)
	PrecomputeAddress(ctx context.Context, deployer common.Address, nonce *big.Int) (common.Address, error)
	SafeNonce(ctx context.Context, safe common.Address) (*big.Int, error)
	OwnerThreshold(ctx context.Context, owner common.Address) (uint64, error)

	Deploy(ctx context.Context, threshold uint64, identifiers []common.Hash) (common.Hash, error)
	ExecTransaction(ctx context.Context, safe common.Address, args ExecTransactionArgs) (common.Hash, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	DecodeDeployment(receipt *types.Receipt) (*DeploymentEvent, error)
}

// EthClient implements Client over a go-ethereum backend.
type EthClient struct {
	cfg      Config
	backend  Backend
	signer   Signer
	bindings *Bindings
	factory  common.Address
	chainID  *big.Int
	maxFee   *big.Int
	metrics  *Metrics
	log      zerolog.Logger

	// serializes nonce selection for the relayer account
	txMu sync.Mutex
}

var _ Client = (*EthClient)(nil)

// NewEthClient wires a backend and signer. signer may be nil for read-only use.
func NewEthClient(
	ctx context.Context,
	cfg Config,
	backend Backend,
	signer Signer,
	log zerolog.Logger,
) (*EthClient, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if !common.IsHexAddress(cfg.FactoryAddress) {
		return nil, fmt.Errorf("invalid factory address %q", cfg.FactoryAddress)
	}
	bindings, err := LoadBindings()
	if err != nil {
		return nil, err
	}

	chainID := new(big.Int).SetUint64(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}

	var maxFee *big.Int
	if cfg.MaxFeePerGasWei != "" {
		v, ok := new(big.Int).SetString(cfg.MaxFeePerGasWei, 10)
		if !ok {
			return nil, fmt.Errorf("invalid max_fee_per_gas_wei %q", cfg.MaxFeePerGasWei)
		}
		maxFee = v
	}

	return &EthClient{
		cfg:      cfg,
		backend:  backend,
		signer:   signer,
		bindings: bindings,
		factory:  common.HexToAddress(cfg.FactoryAddress),
		chainID:  chainID,
		maxFee:   maxFee,
		metrics:  NewMetrics(),
		log:      log.With().Str("component", "chain-client").Logger(),
	}, nil
}

// ChainID returns the chain id used for signing.
func (c *EthClient) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *EthClient) NonceByDeployer(ctx context.Context, deployer common.Address) (*big.Int, error) {
	var nonce *big.Int
	err := c.read(ctx, "nonceByDeployer", c.factory, c.bindings.Factory, func(out []any) error {
		return unpackInto(out, &nonce)
	}, deployer)
	if err != nil {
		return nil, err.WithContext("deployer", deployer.Hex())
	}
	return nonce, nil
}

func (c *EthClient) PrecomputeAddress(ctx context.Context, deployer common.Address, nonce *big.Int) (common.Address, error) {
	var addr common.Address
	err := c.read(ctx, "precomputeAddress", c.factory, c.bindings.Factory, func(out []any) error {
		return unpackInto(out, &addr)
	}, deployer, nonce)
	if err != nil {
		return common.Address{}, err.WithContext("deployer", deployer.Hex()).WithContext("nonce", nonce.String())
	}
	return addr, nil
}

func (c *EthClient) SafeNonce(ctx context.Context, safe common.Address) (*big.Int, error) {
	var nonce *big.Int
	err := c.read(ctx, "nonce", safe, c.bindings.Safe, func(out []any) error {
		return unpackInto(out, &nonce)
	})
	if err != nil {
		return nil, err.WithContext("safe", safe.Hex())
	}
	return nonce, nil
}

func (c *EthClient) OwnerThreshold(ctx context.Context, owner common.Address) (uint64, error) {
	var threshold *big.Int
	err := c.read(ctx, "threshold", owner, c.bindings.Owner, func(out []any) error {
		return unpackInto(out, &threshold)
	})
	if err != nil {
		return 0, err.WithContext("owner", owner.Hex())
	}
	if !threshold.IsUint64() {
		return 0, zkerr.New(zkerr.CodeChainRead, "threshold out of range").
			WithContext("owner", owner.Hex()).
			WithContext("threshold", threshold.String())
	}
	return threshold.Uint64(), nil
}

func (c *EthClient) Deploy(ctx context.Context, threshold uint64, identifiers []common.Hash) (common.Hash, error) {
	data, err := c.bindings.PackDeploy(threshold, identifiers)
	if err != nil {
		return common.Hash{}, zkerr.New(zkerr.CodeChainWrite, "encode deploy").WithCause(err)
	}
	return c.transact(ctx, "deploy", c.factory, data)
}

func (c *EthClient) ExecTransaction(ctx context.Context, safe common.Address, args ExecTransactionArgs) (common.Hash, error) {
	data, err := c.bindings.PackExecTransaction(args)
	if err != nil {
		return common.Hash{}, zkerr.New(zkerr.CodeChainWrite, "encode execTransaction").WithCause(err)
	}
	return c.transact(ctx, "execTransaction", safe, data)
}

// WaitForReceipt polls until the transaction is mined or the receipt timeout elapses.
func (c *EthClient) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if c.cfg.ReceiptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
		defer cancel()
	}
	interval := c.cfg.ReceiptPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			c.log.Debug().
				Str("tx_hash", txHash.Hex()).
				Uint64("status", receipt.Status).
				Msg("Receipt received")
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.log.Warn().Err(err).Str("tx_hash", txHash.Hex()).Msg("Receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			return nil, zkerr.New(zkerr.CodeChainWrite, "receipt not observed").
				WithContext("tx_hash", txHash.Hex()).
				WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

// DecodeDeployment extracts the ContractDeployed event emitted by the factory.
// A DeploymentFailed event or a missing/malformed log fails with zkerr.ErrEventFormat.
func (c *EthClient) DecodeDeployment(receipt *types.Receipt) (*DeploymentEvent, error) {
	return decodeDeployment(c.bindings, c.factory, receipt)
}

func decodeDeployment(b *Bindings, factory common.Address, receipt *types.Receipt) (*DeploymentEvent, error) {
	if receipt == nil {
		return nil, zkerr.New(zkerr.CodeEventFormat, "no receipt")
	}
	deployed := b.Factory.Events["ContractDeployed"]
	failed := b.Factory.Events["DeploymentFailed"]

	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != factory || len(lg.Topics) == 0 {
			continue
		}
		switch lg.Topics[0] {
		case deployed.ID:
			if len(lg.Topics) != 4 {
				return nil, zkerr.New(zkerr.CodeEventFormat, "ContractDeployed has %d topics", len(lg.Topics)).
					WithContext("tx_hash", receipt.TxHash.Hex())
			}
			return &DeploymentEvent{
				SafeAddress:  TopicAddress(lg.Topics[1]),
				OwnerAddress: TopicAddress(lg.Topics[2]),
				Salt:         lg.Topics[3],
			}, nil
		case failed.ID:
			reason := "unknown"
			if out, err := failed.Inputs.NonIndexed().Unpack(lg.Data); err == nil && len(out) == 1 {
				if s, ok := out[0].(string); ok {
					reason = s
				}
			}
			return nil, zkerr.New(zkerr.CodeEventFormat, "factory reported deployment failure: %s", reason).
				WithContext("tx_hash", receipt.TxHash.Hex())
		}
	}
	return nil, zkerr.New(zkerr.CodeEventFormat, "ContractDeployed event not found").
		WithContext("tx_hash", receipt.TxHash.Hex())
}

func (c *EthClient) read(
	ctx context.Context,
	method string,
	to common.Address,
	contract abi.ABI,
	decode func([]any) error,
	args ...any,
) *zkerr.Error {
	start := time.Now()
	input, err := contract.Pack(method, args...)
	if err != nil {
		return zkerr.New(zkerr.CodeChainRead, "encode %s", method).WithContext("operation", method).WithCause(err)
	}

	op := func() error {
		out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		values, err := contract.Unpack(method, out)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", method, err))
		}
		if err := decode(values); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn().
			Err(err).
			Str("method", method).
			Str("contract", to.Hex()).
			Dur("retry_in", wait).
			Msg("Chain read failed, retrying")
	}

	err = backoff.RetryNotify(op, c.readBackoff(ctx), notify)
	c.metrics.ObserveRead(method, time.Since(start), err)
	if err != nil {
		return zkerr.New(zkerr.CodeChainRead, "%s call failed", method).
			WithContext("operation", method).
			WithContext("contract", to.Hex()).
			WithCause(err)
	}
	return nil
}

func (c *EthClient) readBackoff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	if c.cfg.ReadRetryInterval > 0 {
		eb.InitialInterval = c.cfg.ReadRetryInterval
	}
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, c.cfg.ReadRetries), ctx)
}

func (c *EthClient) transact(ctx context.Context, method string, to common.Address, data []byte) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, zkerr.New(zkerr.CodeChainWrite, "no signer configured").WithContext("operation", method)
	}
	fail := func(step string, err error) (common.Hash, error) {
		c.metrics.RecordWrite(method, false)
		return common.Hash{}, zkerr.New(zkerr.CodeChainWrite, "%s: %s", method, step).
			WithContext("operation", method).
			WithContext("to", to.Hex()).
			WithCause(err)
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	from := c.signer.Address()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return fail("pending nonce", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return fail("suggest tip", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return fail("latest header", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	if c.maxFee != nil && feeCap.Cmp(c.maxFee) > 0 {
		feeCap.Set(c.maxFee)
		if tip.Cmp(feeCap) > 0 {
			tip = new(big.Int).Set(feeCap)
		}
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
	})
	if err != nil {
		return fail("estimate gas", err)
	}
	gas += gas * c.cfg.GasLimitBufferPct / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return fail("sign", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return fail("send", err)
	}

	c.metrics.RecordWrite(method, true)
	c.log.Info().
		Str("method", method).
		Str("to", to.Hex()).
		Str("tx_hash", signed.Hash().Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Msg("Transaction sent")
	return signed.Hash(), nil
}

func unpackInto[T any](out []any, dst *T) error {
	if len(out) != 1 {
		return fmt.Errorf("expected 1 return value, got %d", len(out))
	}
	v, ok := out[0].(T)
	if !ok {
		return fmt.Errorf("unexpected return type %T", out[0])
	}
	*dst = v
	return nil
}
