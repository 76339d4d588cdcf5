package safe

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/compose-network/zksafe/x/store"
	"github.com/compose-network/zksafe/x/zkerr"
)

// SignatureHash is the signer identifier committed on-chain: keccak256 of the raw signature.
func SignatureHash(signature []byte) common.Hash {
	return crypto.Keccak256Hash(signature)
}

// AddSignature records one signer's approval of the Safe. A second signature from the
// same signer is rejected by the store's unique index, not by a prior read.
func (s *Service) AddSignature(
	ctx context.Context,
	safeID string,
	signer common.Address,
	signature []byte,
) (*store.SafeSignature, *Status, error) {
	if signer == (common.Address{}) {
		return nil, nil, zkerr.New(zkerr.CodeInvalidInput, "signer address is required")
	}
	if len(signature) == 0 {
		return nil, nil, zkerr.New(zkerr.CodeInvalidInput, "signature is required")
	}

	sf, err := s.loadSafe(ctx, safeID)
	if err != nil {
		return nil, nil, err
	}

	sig := &store.SafeSignature{
		SafeID:        sf.ID,
		SignerAddress: signer.Hex(),
		SignatureHash: SignatureHash(signature).Hex(),
		Signature:     signature,
	}
	inserted, err := s.store.InsertSignature(ctx, sig)
	if err != nil {
		return nil, nil, fmt.Errorf("insert signature: %w", err)
	}
	if !inserted {
		s.metrics.RecordSignature(false)
		s.log.Warn().Str("safe_id", sf.ID).Str("signer", sig.SignerAddress).Msg("Duplicate safe signature rejected")
		return nil, nil, zkerr.New(zkerr.CodeDuplicateSignature, "signer %s already signed safe %s", sig.SignerAddress, sf.ID).
			WithContext("safe_id", sf.ID).
			WithContext("signer", sig.SignerAddress)
	}

	sigs, err := s.store.ListSignatures(ctx, sf.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list signatures: %w", err)
	}
	status := s.buildStatus(sf, sigs)

	s.metrics.RecordSignature(true)
	s.log.Info().
		Str("safe_id", sf.ID).
		Str("signer", sig.SignerAddress).
		Str("signature_hash", sig.SignatureHash).
		Int("signatures", status.SignatureCount).
		Uint32("threshold", sf.Threshold).
		Bool("ready", status.IsReady).
		Msg("Safe signature added")
	return sig, status, nil
}

// DecodeSignature accepts a 0x-hex wallet signature.
func DecodeSignature(s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, zkerr.New(zkerr.CodeInvalidInput, "signature must be 0x-hex").WithCause(err)
	}
	return b, nil
}
