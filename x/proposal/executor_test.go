package proposal

import (
	"context"

	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/zksafe/x/chain"
	"github.com/compose-network/zksafe/x/proofs"
	"github.com/compose-network/zksafe/x/store"
	"github.com/compose-network/zksafe/x/zkerr"
)

func TestExecuteAggregatesAndSubmits(t *testing.T) {
	f := newFixture(t)
	ref := f.seedSafe(t, "x1", 2, 2, true)
	p := f.proposal(t, ref)

	_, err := f.svc.Execute(context.Background(), p.ID, nil)
	require.ErrorIs(t, err, zkerr.ErrInsufficientProofs)
	require.Empty(t, f.chain.Execs)

	f.addProof(t, p, 0, true)
	f.addProof(t, p, 1, true)

	exec, err := f.svc.Execute(context.Background(), p.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, exec.Aggregated)
	require.NotEqual(t, common.Hash{}, exec.TxHash)

	require.Len(t, f.chain.Execs, 1)
	call := f.chain.Execs[0]
	require.Equal(t, ref.address, call.Safe)
	require.Equal(t, common.HexToAddress(recipient), call.Args.To)
	require.Equal(t, "1000000000000000000", call.Args.Value.String())
	require.Equal(t, []byte{0xde, 0xad}, call.Args.Data)
	require.Equal(t, chain.OperationCall, call.Args.Operation)

	decoded, err := proofs.DecodeSignature(call.Args.Signatures)
	require.NoError(t, err)
	require.Equal(t, ref.owner, decoded.Owner)
	require.Equal(t, uint64(proofs.ContractSignatureMarker), decoded.Offset)
	require.Equal(t, []byte(exec.Aggregated.Proof), decoded.Proof)
	require.Equal(t, []byte(exec.Signature), call.Args.Signatures)

	require.Equal(t, "8", f.chain.SafeNonces[ref.address].String())
}

func TestExecuteWithSuppliedProof(t *testing.T) {
	f := newFixture(t)
	ref := f.seedSafe(t, "x2", 2, 2, true)
	p := f.proposal(t, ref)
	f.addProof(t, p, 0, false)
	f.addProof(t, p, 1, false)

	proof := []byte{0x01, 0x02, 0x03}
	exec, err := f.svc.Execute(context.Background(), p.ID, proof)
	require.NoError(t, err)
	require.Nil(t, exec.Aggregated)
	require.Equal(t, 0, f.backend.CallCount("execute"))

	decoded, err := proofs.DecodeSignature(exec.Signature)
	require.NoError(t, err)
	require.Equal(t, proof, decoded.Proof)
}

func TestExecuteReverted(t *testing.T) {
	f := newFixture(t)
	ref := f.seedSafe(t, "x3", 2, 2, true)
	p := f.proposal(t, ref)
	f.addProof(t, p, 0, false)
	f.addProof(t, p, 1, false)
	f.chain.ExecReverted = true

	_, err := f.svc.Execute(context.Background(), p.ID, []byte{0xaa})
	require.ErrorIs(t, err, zkerr.ErrExecutionReverted)
	require.Len(t, f.chain.Execs, 1)
	require.Equal(t, "7", f.chain.SafeNonces[ref.address].String())
}

func TestExecuteRequiresDeployedSafe(t *testing.T) {
	f := newFixture(t)
	ref := f.seedSafe(t, "x4", 1, 1, false)
	p, err := f.svc.CreateProposal(context.Background(), CreateRequest{To: recipient, Value: "0", SafeAddress: ref.owner.Hex()})
	require.NoError(t, err)
	f.addProof(t, p, 0, false)

	_, err = f.svc.Execute(context.Background(), p.ID, []byte{0x01})
	require.ErrorIs(t, err, zkerr.ErrNotReady)
}

func TestExecuteProposalCreatedBeforeDeploymentTargetsProxy(t *testing.T) {
	f := newFixture(t)
	ref := f.seedSafe(t, "x5", 2, 2, false)
	p, err := f.svc.CreateProposal(context.Background(), CreateRequest{To: recipient, Value: "5", SafeAddress: ref.owner.Hex()})
	require.NoError(t, err)
	require.Equal(t, ref.owner.Hex(), p.SafeAddress)
	f.addProof(t, p, 0, false)
	f.addProof(t, p, 1, false)

	addr := ref.address.Hex()
	ok, err := f.store.TransitionSafe(context.Background(), ref.id, store.SafeTransition{
		From:    []store.SafeStatus{store.SafeStatusPrecomputed},
		To:      store.SafeStatusDeployed,
		Address: &addr,
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Execute(context.Background(), p.ID, []byte{0x0a, 0x0b})
	require.NoError(t, err)
	require.Len(t, f.chain.Execs, 1)
	require.Equal(t, ref.address, f.chain.Execs[0].Safe)
	require.NotEqual(t, ref.owner, f.chain.Execs[0].Safe)
}
