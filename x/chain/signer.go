package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transactions for the relayer account.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// LocalECDSASigner signs with an in-process private key.
type LocalECDSASigner struct {
	chainID *big.Int
	key     *ecdsa.PrivateKey
	addr    common.Address
}

var _ Signer = (*LocalECDSASigner)(nil)

func NewLocalECDSASigner(chainID *big.Int, key *ecdsa.PrivateKey) *LocalECDSASigner {
	return &LocalECDSASigner{
		chainID: new(big.Int).Set(chainID),
		key:     key,
		addr:    crypto.PubkeyToAddress(key.PublicKey),
	}
}

// NewLocalECDSASignerFromHex parses a hex key with or without the 0x prefix.
func NewLocalECDSASignerFromHex(chainID *big.Int, keyHex string) (*LocalECDSASigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewLocalECDSASigner(chainID, key), nil
}

func (s *LocalECDSASigner) Address() common.Address { return s.addr }

func (s *LocalECDSASigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
}
