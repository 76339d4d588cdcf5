package chain

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed abi/zk_owner_factory.json
var zkOwnerFactoryABIJSON string

//go:embed abi/zk_owner.json
var zkOwnerABIJSON string

//go:embed abi/safe.json
var safeABIJSON string

// Safe operation types accepted by execTransaction.
const (
	OperationCall         uint8 = 0
	OperationDelegateCall uint8 = 1
)

// Bindings holds the parsed ABIs of every contract the coordinator talks to.
type Bindings struct {
	Factory abi.ABI
	Owner   abi.ABI
	Safe    abi.ABI
}

// LoadBindings parses the embedded ABIs.
func LoadBindings() (*Bindings, error) {
	factory, err := abi.JSON(strings.NewReader(zkOwnerFactoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ZkOwnerFactory ABI: %w", err)
	}
	owner, err := abi.JSON(strings.NewReader(zkOwnerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ZkOwner ABI: %w", err)
	}
	safe, err := abi.JSON(strings.NewReader(safeABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Safe ABI: %w", err)
	}
	return &Bindings{Factory: factory, Owner: owner, Safe: safe}, nil
}

// PackDeploy encodes ZkOwnerFactory.deploy(threshold, identifiers).
func (b *Bindings) PackDeploy(threshold uint64, identifiers []common.Hash) ([]byte, error) {
	ids := make([][32]byte, len(identifiers))
	for i, id := range identifiers {
		ids[i] = id
	}
	return b.Factory.Pack("deploy", new(big.Int).SetUint64(threshold), ids)
}

// ExecTransactionArgs are the Safe.execTransaction parameters. Gas refund fields are always zero.
type ExecTransactionArgs struct {
	To         common.Address
	Value      *big.Int
	Data       []byte
	Operation  uint8
	Signatures []byte
}

// PackExecTransaction encodes Safe.execTransaction with zero refund parameters.
func (b *Bindings) PackExecTransaction(args ExecTransactionArgs) ([]byte, error) {
	value := args.Value
	if value == nil {
		value = new(big.Int)
	}
	data := args.Data
	if data == nil {
		data = []byte{}
	}
	return b.Safe.Pack(
		"execTransaction",
		args.To,
		value,
		data,
		args.Operation,
		big.NewInt(0),
		big.NewInt(0),
		big.NewInt(0),
		common.Address{},
		common.Address{},
		args.Signatures,
	)
}

// DeploymentEvent is the decoded ContractDeployed log.
type DeploymentEvent struct {
	SafeAddress  common.Address
	OwnerAddress common.Address
	Salt         common.Hash
}

// TopicAddress takes the low 20 bytes of an indexed address topic.
func TopicAddress(topic common.Hash) common.Address {
	return common.BytesToAddress(topic.Bytes()[12:])
}
