// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/compose-network/zksafe/x/chain"
	"github.com/compose-network/zksafe/x/zkerr"
)

type DeployCall struct {
	Threshold   uint64
	Identifiers []common.Hash
}

type ExecCall struct {
	Safe common.Address
	Args chain.ExecTransactionArgs
}

// Fake mimics the factory, owner and Safe contracts.
// Deployed owner addresses follow the same derivation as PrecomputeAddress for Deployer.
type Fake struct {
	mu sync.Mutex

	Deployer       common.Address
	DeployerNonces map[common.Address]uint64
	SafeNonces     map[common.Address]*big.Int
	Thresholds     map[common.Address]uint64

	ReadErr      error
	DeployErr    error
	ExecErr      error
	ExecReverted bool
	DeployDelay  time.Duration

	// OverrideOwner replaces the owner address reported by the deployment event.
	OverrideOwner *common.Address
	// OmitEvent makes deployments succeed without a ContractDeployed log.
	OmitEvent bool

	Deploys []DeployCall
	Execs   []ExecCall

	txCount  uint64
	receipts map[common.Hash]*types.Receipt
	events   map[common.Hash]*chain.DeploymentEvent
}

var _ chain.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		DeployerNonces: make(map[common.Address]uint64),
		SafeNonces:     make(map[common.Address]*big.Int),
		Thresholds:     make(map[common.Address]uint64),
		receipts:       make(map[common.Hash]*types.Receipt),
		events:         make(map[common.Hash]*chain.DeploymentEvent),
	}
}

// Derive is the fake factory's address derivation.
func Derive(deployer common.Address, nonce *big.Int) common.Address {
	return common.BytesToAddress(crypto.Keccak256(deployer.Bytes(), common.BigToHash(nonce).Bytes())[12:])
}

// SafeFor is the Safe proxy paired with an owner.
func SafeFor(owner common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("safe"), owner.Bytes())[12:])
}

func (f *Fake) readErr(op string) error {
	if f.ReadErr != nil {
		return zkerr.New(zkerr.CodeChainRead, "%s call failed", op).WithContext("operation", op).WithCause(f.ReadErr)
	}
	return nil
}

func (f *Fake) NonceByDeployer(_ context.Context, deployer common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr("nonceByDeployer"); err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(f.DeployerNonces[deployer]), nil
}

func (f *Fake) PrecomputeAddress(_ context.Context, deployer common.Address, nonce *big.Int) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr("precomputeAddress"); err != nil {
		return common.Address{}, err
	}
	return Derive(deployer, nonce), nil
}

func (f *Fake) SafeNonce(_ context.Context, safe common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr("nonce"); err != nil {
		return nil, err
	}
	if n, ok := f.SafeNonces[safe]; ok {
		return new(big.Int).Set(n), nil
	}
	return new(big.Int), nil
}

func (f *Fake) OwnerThreshold(_ context.Context, owner common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr("threshold"); err != nil {
		return 0, err
	}
	th, ok := f.Thresholds[owner]
	if !ok {
		return 0, zkerr.New(zkerr.CodeChainRead, "threshold call failed").WithContext("owner", owner.Hex())
	}
	return th, nil
}

func (f *Fake) Deploy(ctx context.Context, threshold uint64, identifiers []common.Hash) (common.Hash, error) {
	if f.DeployDelay > 0 {
		select {
		case <-time.After(f.DeployDelay):
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deploys = append(f.Deploys, DeployCall{Threshold: threshold, Identifiers: append([]common.Hash(nil), identifiers...)})
	if f.DeployErr != nil {
		return common.Hash{}, zkerr.New(zkerr.CodeChainWrite, "deploy: send").WithCause(f.DeployErr)
	}

	nonce := new(big.Int).SetUint64(f.DeployerNonces[f.Deployer])
	owner := Derive(f.Deployer, nonce)
	f.DeployerNonces[f.Deployer]++
	if f.OverrideOwner != nil {
		owner = *f.OverrideOwner
	}
	safe := SafeFor(owner)
	f.Thresholds[owner] = threshold

	hash := f.nextHash()
	f.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}
	if !f.OmitEvent {
		f.events[hash] = &chain.DeploymentEvent{SafeAddress: safe, OwnerAddress: owner}
	}
	return hash, nil
}

func (f *Fake) ExecTransaction(_ context.Context, safe common.Address, args chain.ExecTransactionArgs) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Execs = append(f.Execs, ExecCall{Safe: safe, Args: args})
	if f.ExecErr != nil {
		return common.Hash{}, zkerr.New(zkerr.CodeChainWrite, "execTransaction: send").WithCause(f.ExecErr)
	}

	hash := f.nextHash()
	status := types.ReceiptStatusSuccessful
	if f.ExecReverted {
		status = types.ReceiptStatusFailed
	} else {
		n := f.SafeNonces[safe]
		if n == nil {
			n = new(big.Int)
		}
		f.SafeNonces[safe] = new(big.Int).Add(n, big.NewInt(1))
	}
	f.receipts[hash] = &types.Receipt{Status: status, TxHash: hash}
	return hash, nil
}

func (f *Fake) WaitForReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, zkerr.New(zkerr.CodeChainWrite, "receipt not observed").WithContext("tx_hash", txHash.Hex())
	}
	return r, nil
}

func (f *Fake) DecodeDeployment(receipt *types.Receipt) (*chain.DeploymentEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[receipt.TxHash]
	if !ok {
		return nil, zkerr.New(zkerr.CodeEventFormat, "ContractDeployed event not found")
	}
	cp := *ev
	return &cp, nil
}

// DeployCount is safe for concurrent use.
func (f *Fake) DeployCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Deploys)
}

func (f *Fake) nextHash() common.Hash {
	f.txCount++
	return common.BigToHash(new(big.Int).SetUint64(f.txCount))
}
