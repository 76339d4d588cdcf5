package proposal

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/compose-network/zksafe/x/chain"
	"github.com/compose-network/zksafe/x/proofs"
	"github.com/compose-network/zksafe/x/store"
	"github.com/compose-network/zksafe/x/zkerr"
)

// Execution is a mined Safe transaction.
type Execution struct {
	ProposalID uint64                  `json:"proposal_id"`
	TxHash     common.Hash             `json:"tx_hash"`
	Signature  hexutil.Bytes           `json:"signature"`
	Aggregated *proofs.AggregatedProof `json:"aggregated,omitempty"`
}

// Execute submits the proposal to its Safe with the aggregated proof as the contract
// signature. When proof is empty the proposal's proofs are aggregated first.
// The transaction is never resubmitted.
func (s *Service) Execute(ctx context.Context, proposalID uint64, proof []byte) (*Execution, error) {
	p, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	st, err := s.ProofStatus(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !st.IsComplete {
		return nil, zkerr.New(zkerr.CodeInsufficientProofs, "proposal %d has %d of %d proofs", p.ID, st.Committed, st.Threshold).
			WithContext("proposal_id", p.ID)
	}

	sf, err := s.store.FindSafeByAddress(ctx, p.SafeAddress)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find safe: %w", err)
	}
	if sf == nil || !sf.Deployed || sf.Address == nil {
		return nil, zkerr.New(zkerr.CodeNotReady, "safe %s is not deployed", p.SafeAddress).WithContext("proposal_id", p.ID)
	}

	out := &Execution{ProposalID: p.ID}
	if len(proof) == 0 {
		agg, err := s.Aggregate(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		out.Aggregated = agg
		proof = agg.Proof
	}

	value, ok := new(big.Int).SetString(p.Value, 10)
	if !ok {
		return nil, fmt.Errorf("proposal %d: invalid value %q", p.ID, p.Value)
	}
	out.Signature = proofs.EncodeSignature(common.HexToAddress(sf.ZkOwnerAddress), proof)

	if s.cfg.ExecuteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ExecuteTimeout)
		defer cancel()
	}

	// proposals created before deployment record the owner address; the proxy is the target
	safeAddr := common.HexToAddress(*sf.Address)
	log := s.log.With().Uint64("proposal_id", p.ID).Str("safe", safeAddr.Hex()).Logger()

	txHash, err := s.chain.ExecTransaction(ctx, safeAddr, chain.ExecTransactionArgs{
		To:         common.HexToAddress(p.To),
		Value:      value,
		Data:       p.Calldata,
		Operation:  chain.OperationCall,
		Signatures: out.Signature,
	})
	if err != nil {
		s.metrics.RecordExecution("submit_failed")
		log.Error().Err(err).Msg("Safe transaction not submitted")
		return nil, err
	}
	out.TxHash = txHash
	log = log.With().Str("tx_hash", txHash.Hex()).Logger()

	receipt, err := s.chain.WaitForReceipt(ctx, txHash)
	if err != nil {
		s.metrics.RecordExecution("receipt_failed")
		log.Error().Err(err).Msg("Safe transaction receipt not observed")
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		s.metrics.RecordExecution("reverted")
		log.Error().Msg("Safe transaction reverted")
		return nil, zkerr.New(zkerr.CodeExecutionReverted, "execTransaction reverted").
			WithContext("proposal_id", p.ID).
			WithContext("tx_hash", txHash.Hex())
	}

	s.metrics.RecordExecution("executed")
	log.Info().Int("signature_bytes", len(out.Signature)).Msg("Safe transaction executed")
	return out, nil
}
