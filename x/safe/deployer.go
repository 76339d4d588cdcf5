package safe

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/compose-network/zksafe/x/chain"
	"github.com/compose-network/zksafe/x/store"
	"github.com/compose-network/zksafe/x/zkerr"
)

// Deploy submits the factory deployment for a Safe with enough signatures.
//
// precomputed -> deploying is claimed with a conditional update before any chain
// write, so concurrent calls produce at most one transaction. Failures before the
// transaction exists (or a reverted transaction) release the claim. Once a mined
// deployment cannot be confirmed the Safe is parked in failed with deployed=false.
func (s *Service) Deploy(ctx context.Context, safeID string) (*Deployment, error) {
	sf, err := s.loadSafe(ctx, safeID)
	if err != nil {
		return nil, err
	}
	if err := deployable(sf); err != nil {
		return nil, err
	}

	sigs, err := s.requireSignatures(ctx, sf)
	if err != nil {
		return nil, err
	}

	claimed, err := s.store.TransitionSafe(ctx, sf.ID, store.SafeTransition{
		From: []store.SafeStatus{store.SafeStatusPrecomputed},
		To:   store.SafeStatusDeploying,
	})
	if err != nil {
		return nil, fmt.Errorf("claim deployment: %w", err)
	}
	if !claimed {
		current, err := s.loadSafe(ctx, sf.ID)
		if err != nil {
			return nil, err
		}
		if err := deployable(current); err != nil {
			return nil, err
		}
		return nil, zkerr.New(zkerr.CodeAlreadyDeployed, "deployment of safe %s already claimed", sf.ID)
	}

	log := s.log.With().Str("safe_id", sf.ID).Str("zk_owner", sf.ZkOwnerAddress).Logger()
	log.Info().Int("identifiers", len(sigs)).Uint32("threshold", sf.Threshold).Msg("Deploying safe")

	if s.cfg.DeployTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DeployTimeout)
		defer cancel()
	}
	// state fixes must land even when the caller's context is gone
	bg := context.WithoutCancel(ctx)

	txHash, err := s.chain.Deploy(ctx, uint64(sf.Threshold), identifiers(sigs))
	if err != nil {
		s.release(bg, sf.ID)
		s.metrics.RecordDeployment("submit_failed")
		log.Error().Err(err).Msg("Deploy transaction not submitted")
		return nil, err
	}
	log = log.With().Str("tx_hash", txHash.Hex()).Logger()

	receipt, err := s.chain.WaitForReceipt(ctx, txHash)
	if err != nil {
		s.park(bg, sf.ID, txHash)
		s.metrics.RecordDeployment("receipt_failed")
		log.Error().Err(err).Msg("Deploy receipt not observed")
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		s.release(bg, sf.ID)
		s.metrics.RecordDeployment("reverted")
		log.Error().Msg("Deploy transaction reverted")
		return nil, zkerr.New(zkerr.CodeChainWrite, "deploy transaction reverted").
			WithContext("safe_id", sf.ID).
			WithContext("tx_hash", txHash.Hex())
	}

	ev, err := s.chain.DecodeDeployment(receipt)
	if err != nil {
		s.park(bg, sf.ID, txHash)
		s.metrics.RecordDeployment("event_error")
		log.Error().Err(err).Msg("Deployment event unusable")
		return nil, err
	}

	dep, err := s.finalize(bg, sf, ev, &txHash, store.SafeStatusDeploying)
	if err != nil {
		if zkerr.CodeOf(err) == zkerr.CodeOwnerAddressMismatch {
			s.park(bg, sf.ID, txHash)
			s.metrics.RecordDeployment("owner_mismatch")
		}
		return nil, err
	}
	s.metrics.RecordDeployment("deployed")
	return dep, nil
}

// ReconcileDeployment records a deployment the client submitted to the factory itself.
// The reported addresses must match the ContractDeployed event in the receipt of txHash.
func (s *Service) ReconcileDeployment(
	ctx context.Context,
	safeID string,
	reported chain.DeploymentEvent,
	txHash common.Hash,
) (*Deployment, error) {
	ev, err := s.observeDeployment(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if ev.SafeAddress != reported.SafeAddress || ev.OwnerAddress != reported.OwnerAddress {
		return nil, zkerr.New(zkerr.CodeInvalidInput,
			"reported deployment %s/%s does not match receipt %s/%s",
			reported.SafeAddress.Hex(), reported.OwnerAddress.Hex(),
			ev.SafeAddress.Hex(), ev.OwnerAddress.Hex()).
			WithContext("safe_id", safeID).
			WithContext("tx_hash", txHash.Hex())
	}
	return s.reconcile(ctx, safeID, ev, txHash)
}

// ReconcileFromTx reads the deployment event from a mined factory transaction.
func (s *Service) ReconcileFromTx(ctx context.Context, safeID string, txHash common.Hash) (*Deployment, error) {
	if _, err := s.loadSafe(ctx, safeID); err != nil {
		return nil, err
	}
	ev, err := s.observeDeployment(ctx, txHash)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, safeID, ev, txHash)
}

func (s *Service) observeDeployment(ctx context.Context, txHash common.Hash) (*chain.DeploymentEvent, error) {
	receipt, err := s.chain.WaitForReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	return s.chain.DecodeDeployment(receipt)
}

func (s *Service) reconcile(
	ctx context.Context,
	safeID string,
	ev *chain.DeploymentEvent,
	txHash common.Hash,
) (*Deployment, error) {
	sf, err := s.loadSafe(ctx, safeID)
	if err != nil {
		return nil, err
	}
	if sf.Deployed {
		if sf.Address != nil && strings.EqualFold(*sf.Address, ev.SafeAddress.Hex()) {
			return &Deployment{Safe: sf, TxHash: &txHash, SafeAddress: ev.SafeAddress, OwnerAddress: ev.OwnerAddress}, nil
		}
		return nil, zkerr.New(zkerr.CodeAlreadyDeployed, "safe %s already deployed at %s", sf.ID, *sf.Address)
	}
	if _, err := s.requireSignatures(ctx, sf); err != nil {
		return nil, err
	}
	return s.finalize(ctx, sf, ev, &txHash,
		store.SafeStatusPrecomputed, store.SafeStatusDeploying, store.SafeStatusFailed)
}

func (s *Service) requireSignatures(ctx context.Context, sf *store.Safe) ([]store.SafeSignature, error) {
	sigs, err := s.store.ListSignatures(ctx, sf.ID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	if len(sigs) < int(sf.Threshold) {
		return nil, zkerr.New(zkerr.CodeNotReady, "safe has %d of %d signatures", len(sigs), sf.Threshold).
			WithContext("safe_id", sf.ID)
	}
	return sigs, nil
}

func (s *Service) finalize(
	ctx context.Context,
	sf *store.Safe,
	ev *chain.DeploymentEvent,
	txHash *common.Hash,
	from ...store.SafeStatus,
) (*Deployment, error) {
	if !strings.EqualFold(ev.OwnerAddress.Hex(), sf.ZkOwnerAddress) {
		s.log.Error().
			Str("safe_id", sf.ID).
			Str("expected", sf.ZkOwnerAddress).
			Str("received", ev.OwnerAddress.Hex()).
			Msg("Deployed owner address does not match precomputed address")
		return nil, zkerr.New(zkerr.CodeOwnerAddressMismatch,
			"expected owner %s, deployment reported %s", sf.ZkOwnerAddress, ev.OwnerAddress.Hex()).
			WithContext("safe_id", sf.ID)
	}

	addr := ev.SafeAddress.Hex()
	tr := store.SafeTransition{From: from, To: store.SafeStatusDeployed, Address: &addr}
	if txHash != nil {
		h := txHash.Hex()
		tr.TxHash = &h
	}
	ok, err := s.store.TransitionSafe(ctx, sf.ID, tr)
	if err != nil {
		return nil, fmt.Errorf("mark deployed: %w", err)
	}
	if !ok {
		return nil, zkerr.New(zkerr.CodeAlreadyDeployed, "safe %s changed state during deployment", sf.ID)
	}

	updated, err := s.loadSafe(ctx, sf.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("safe_id", sf.ID).
		Str("safe_address", addr).
		Str("zk_owner", sf.ZkOwnerAddress).
		Msg("Safe deployed")
	return &Deployment{Safe: updated, TxHash: txHash, SafeAddress: ev.SafeAddress, OwnerAddress: ev.OwnerAddress}, nil
}

func (s *Service) release(ctx context.Context, safeID string) {
	if _, err := s.store.TransitionSafe(ctx, safeID, store.SafeTransition{
		From: []store.SafeStatus{store.SafeStatusDeploying},
		To:   store.SafeStatusPrecomputed,
	}); err != nil {
		s.log.Error().Err(err).Str("safe_id", safeID).Msg("Failed to release deployment claim")
	}
}

func (s *Service) park(ctx context.Context, safeID string, txHash common.Hash) {
	h := txHash.Hex()
	if _, err := s.store.TransitionSafe(ctx, safeID, store.SafeTransition{
		From:   []store.SafeStatus{store.SafeStatusDeploying},
		To:     store.SafeStatusFailed,
		TxHash: &h,
	}); err != nil {
		s.log.Error().Err(err).Str("safe_id", safeID).Msg("Failed to park safe")
	}
}

func deployable(sf *store.Safe) error {
	switch {
	case sf.Deployed || sf.Status == store.SafeStatusDeployed:
		return zkerr.New(zkerr.CodeAlreadyDeployed, "safe %s already deployed", sf.ID).WithContext("safe_id", sf.ID)
	case sf.Status == store.SafeStatusDeploying:
		return zkerr.New(zkerr.CodeAlreadyDeployed, "safe %s deployment in progress", sf.ID).WithContext("safe_id", sf.ID)
	case sf.Status == store.SafeStatusFailed:
		return zkerr.New(zkerr.CodeDeploymentHalted, "safe %s has an unconfirmed deployment", sf.ID).
			WithContext("safe_id", sf.ID)
	}
	return nil
}
