package safe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/compose-network/zksafe/x/store"
	"github.com/compose-network/zksafe/x/zkerr"
)

// Precompute predicts the ZK owner address the factory will deploy next for the
// deployer and records an undeployed Safe for it. Calling it again before the
// factory nonce moves returns the same Safe.
func (s *Service) Precompute(ctx context.Context, signer common.Address, threshold uint32) (*store.Safe, error) {
	if threshold < 1 {
		return nil, zkerr.New(zkerr.CodeInvalidThreshold, "threshold must be at least 1, got %d", threshold)
	}
	if signer == (common.Address{}) {
		return nil, zkerr.New(zkerr.CodeInvalidInput, "signer address is required")
	}

	deployer := signer
	if s.cfg.Deployer != "" {
		deployer = common.HexToAddress(s.cfg.Deployer)
	}

	nonce, err := s.chain.NonceByDeployer(ctx, deployer)
	if err != nil {
		s.metrics.RecordPrecompute(false)
		return nil, err
	}
	owner, err := s.chain.PrecomputeAddress(ctx, deployer, nonce)
	if err != nil {
		s.metrics.RecordPrecompute(false)
		return nil, err
	}

	signers, err := json.Marshal([]string{signer.Hex()})
	if err != nil {
		return nil, fmt.Errorf("encode signers: %w", err)
	}
	sf := &store.Safe{
		ID:             uuid.NewString(),
		ZkOwnerAddress: owner.Hex(),
		Signers:        signers,
		Threshold:      threshold,
		Status:         store.SafeStatusPrecomputed,
	}

	inserted, err := s.store.CreateSafe(ctx, sf)
	if err != nil {
		return nil, fmt.Errorf("create safe: %w", err)
	}
	if !inserted {
		existing, err := s.store.GetSafeByOwner(ctx, sf.ZkOwnerAddress)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load safe by owner: %w", err)
		}
		if existing != nil && existing.Threshold == threshold && firstSigner(existing) == signer.Hex() {
			s.log.Debug().Str("safe_id", existing.ID).Str("zk_owner", existing.ZkOwnerAddress).Msg("Precompute matched existing safe")
			return existing, nil
		}
		s.metrics.RecordPrecompute(false)
		return nil, zkerr.New(zkerr.CodeDuplicateSafe, "owner address %s already reserved", sf.ZkOwnerAddress).
			WithContext("zk_owner", sf.ZkOwnerAddress).
			WithContext("deployer", deployer.Hex())
	}

	s.metrics.RecordPrecompute(true)
	s.log.Info().
		Str("safe_id", sf.ID).
		Str("zk_owner", sf.ZkOwnerAddress).
		Str("deployer", deployer.Hex()).
		Str("nonce", nonce.String()).
		Uint32("threshold", threshold).
		Msg("Safe precomputed")
	return sf, nil
}

func firstSigner(sf *store.Safe) string {
	var signers []string
	if err := json.Unmarshal(sf.Signers, &signers); err != nil || len(signers) == 0 {
		return ""
	}
	return signers[0]
}
