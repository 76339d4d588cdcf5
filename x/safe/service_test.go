package safe

import (
	"context"

	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/zksafe/x/chain"
	"github.com/compose-network/zksafe/x/chain/chaintest"
	"github.com/compose-network/zksafe/x/store"
	"github.com/compose-network/zksafe/x/zkerr"
)

var (
	signerA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	signerB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	signerC = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type fixture struct {
	svc   *Service
	chain *chaintest.Fake
	store *store.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.NewInMemory(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fake := chaintest.New()
	fake.Deployer = signerA

	svc, err := NewService(DefaultConfig(), db, fake, zerolog.Nop())
	require.NoError(t, err)
	return &fixture{svc: svc, chain: fake, store: db}
}

func (f *fixture) readySafe(t *testing.T, threshold uint32, signers ...common.Address) *store.Safe {
	t.Helper()
	sf, err := f.svc.Precompute(context.Background(), signerA, threshold)
	require.NoError(t, err)
	for _, s := range signers {
		_, _, err := f.svc.AddSignature(context.Background(), sf.ID, s, []byte("sig-"+s.Hex()))
		require.NoError(t, err)
	}
	return sf
}

func requireDeployedIffAddress(t *testing.T, sf *store.Safe) {
	t.Helper()
	require.Equal(t, sf.Deployed, sf.Address != nil)
	require.Equal(t, sf.Deployed, sf.Status == store.SafeStatusDeployed)
}

func TestPrecompute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Precompute(ctx, signerA, 0)
	require.ErrorIs(t, err, zkerr.ErrInvalidThreshold)

	sf, err := f.svc.Precompute(ctx, signerA, 2)
	require.NoError(t, err)
	require.Equal(t, chaintest.Derive(signerA, common.Big0).Hex(), sf.ZkOwnerAddress)
	require.False(t, sf.Deployed)
	require.Nil(t, sf.Address)
	require.Equal(t, store.SafeStatusPrecomputed, sf.Status)

	again, err := f.svc.Precompute(ctx, signerA, 2)
	require.NoError(t, err)
	require.Equal(t, sf.ID, again.ID)
	require.Equal(t, sf.ZkOwnerAddress, again.ZkOwnerAddress)

	_, err = f.svc.Precompute(ctx, signerA, 3)
	require.ErrorIs(t, err, zkerr.ErrDuplicateSafe)

	other, err := f.svc.Precompute(ctx, signerB, 1)
	require.NoError(t, err)
	require.NotEqual(t, sf.ZkOwnerAddress, other.ZkOwnerAddress)

	status, err := f.svc.GetSafe(ctx, sf.ID)
	require.NoError(t, err)
	require.Equal(t, []string{signerA.Hex()}, status.Signers)
}

func TestPrecomputeChainReadFailure(t *testing.T) {
	f := newFixture(t)
	f.chain.ReadErr = errors.New("rpc unavailable")

	_, err := f.svc.Precompute(context.Background(), signerA, 1)
	require.ErrorIs(t, err, zkerr.ErrChainRead)
}

func TestGetSafeLogsUndecodableSigners(t *testing.T) {
	db, err := store.NewInMemory(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var logs bytes.Buffer
	svc, err := NewService(DefaultConfig(), db, chaintest.New(), zerolog.New(&logs))
	require.NoError(t, err)

	ok, err := db.CreateSafe(context.Background(), &store.Safe{
		ID:             "corrupt",
		ZkOwnerAddress: chaintest.Derive(signerA, common.Big0).Hex(),
		Signers:        []byte(`{"not":"a list"}`),
		Threshold:      1,
	})
	require.NoError(t, err)
	require.True(t, ok)

	status, err := svc.GetSafe(context.Background(), "corrupt")
	require.NoError(t, err)
	require.Empty(t, status.Signers)
	require.Equal(t, 0, status.SignatureCount)
	require.Contains(t, logs.String(), `"level":"warn"`)
	require.Contains(t, logs.String(), "Stored signers could not be decoded")
	require.Contains(t, logs.String(), `"safe_id":"corrupt"`)
}

func TestAddSignatureThresholdTwo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sf, err := f.svc.Precompute(ctx, signerA, 2)
	require.NoError(t, err)

	sigA := []byte("signature-a")
	stored, status, err := f.svc.AddSignature(ctx, sf.ID, signerA, sigA)
	require.NoError(t, err)
	require.Equal(t, crypto.Keccak256Hash(sigA).Hex(), stored.SignatureHash)
	require.Equal(t, 1, status.SignatureCount)
	require.False(t, status.IsReady)

	_, status, err = f.svc.AddSignature(ctx, sf.ID, signerB, []byte("signature-b"))
	require.NoError(t, err)
	require.Equal(t, 2, status.SignatureCount)
	require.True(t, status.IsReady)

	_, _, err = f.svc.AddSignature(ctx, sf.ID, signerA, []byte("signature-a-again"))
	require.ErrorIs(t, err, zkerr.ErrDuplicateSignature)

	got, err := f.svc.GetSafe(ctx, sf.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.SignatureCount)
	require.True(t, got.IsReady)

	// collection is not capped by the threshold
	_, status, err = f.svc.AddSignature(ctx, sf.ID, signerC, []byte("signature-c"))
	require.NoError(t, err)
	require.Equal(t, 3, status.SignatureCount)
}

func TestAddSignatureValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.AddSignature(ctx, "does-not-exist", signerA, []byte{1})
	require.ErrorIs(t, err, zkerr.ErrSafeNotFound)

	sf, err := f.svc.Precompute(ctx, signerA, 1)
	require.NoError(t, err)
	_, _, err = f.svc.AddSignature(ctx, sf.ID, signerA, nil)
	require.ErrorIs(t, err, zkerr.ErrInvalidInput)
	_, _, err = f.svc.AddSignature(ctx, sf.ID, common.Address{}, []byte{1})
	require.ErrorIs(t, err, zkerr.ErrInvalidInput)
}

func TestAddSignatureConcurrentSameSigner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sf, err := f.svc.Precompute(ctx, signerA, 2)
	require.NoError(t, err)

	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.AddSignature(ctx, sf.ID, signerB, []byte{byte(i)})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, zkerr.ErrDuplicateSignature):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), ok.Load())
	require.Equal(t, int32(19), dup.Load())

	status, err := f.svc.GetSafe(ctx, sf.ID)
	require.NoError(t, err)
	require.Equal(t, 1, status.SignatureCount)
}

func TestDeployRequiresThreshold(t *testing.T) {
	f := newFixture(t)
	sf := f.readySafe(t, 2, signerA)

	_, err := f.svc.Deploy(context.Background(), sf.ID)
	require.ErrorIs(t, err, zkerr.ErrNotReady)
	require.Equal(t, 0, f.chain.DeployCount())
}

func TestDeploySuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sf := f.readySafe(t, 2, signerA, signerB)

	dep, err := f.svc.Deploy(ctx, sf.ID)
	require.NoError(t, err)
	require.NotNil(t, dep.TxHash)
	require.Equal(t, chaintest.SafeFor(common.HexToAddress(sf.ZkOwnerAddress)), dep.SafeAddress)
	require.True(t, dep.Safe.Deployed)
	require.Equal(t, dep.SafeAddress.Hex(), *dep.Safe.Address)
	requireDeployedIffAddress(t, dep.Safe)

	require.Len(t, f.chain.Deploys, 1)
	call := f.chain.Deploys[0]
	require.Equal(t, uint64(2), call.Threshold)
	require.Equal(t, []common.Hash{
		SignatureHash([]byte("sig-" + signerA.Hex())),
		SignatureHash([]byte("sig-" + signerB.Hex())),
	}, call.Identifiers)

	_, err = f.svc.Deploy(ctx, sf.ID)
	require.ErrorIs(t, err, zkerr.ErrAlreadyDeployed)

	hashes, err := f.svc.SignatureHashes(ctx, dep.SafeAddress.Hex())
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	byID, err := f.svc.SignatureHashes(ctx, sf.ID)
	require.NoError(t, err)
	require.Equal(t, hashes, byID)
}

func TestDeployConcurrentCallsSubmitOnce(t *testing.T) {
	f := newFixture(t)
	f.chain.DeployDelay = 50 * time.Millisecond
	sf := f.readySafe(t, 1, signerA)

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Deploy(context.Background(), sf.ID)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, zkerr.ErrAlreadyDeployed), errors.Is(err, zkerr.ErrNotReady):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), ok.Load())
	require.Equal(t, int32(7), rejected.Load())
	require.Equal(t, 1, f.chain.DeployCount())

	status, err := f.svc.GetSafe(context.Background(), sf.ID)
	require.NoError(t, err)
	requireDeployedIffAddress(t, status.Safe)
	require.True(t, status.Deployed)
}

func TestDeploySubmitFailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sf := f.readySafe(t, 1, signerA)

	f.chain.DeployErr = errors.New("insufficient funds")
	_, err := f.svc.Deploy(ctx, sf.ID)
	require.ErrorIs(t, err, zkerr.ErrChainWrite)

	status, err := f.svc.GetSafe(ctx, sf.ID)
	require.NoError(t, err)
	require.Equal(t, store.SafeStatusPrecomputed, status.Safe.Status)
	requireDeployedIffAddress(t, status.Safe)

	f.chain.DeployErr = nil
	_, err = f.svc.Deploy(ctx, sf.ID)
	require.NoError(t, err)
}

func TestDeployOwnerMismatchParksSafe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sf := f.readySafe(t, 1, signerA)

	wrong := common.HexToAddress("0x000000000000000000000000000000000000bad0")
	f.chain.OverrideOwner = &wrong

	_, err := f.svc.Deploy(ctx, sf.ID)
	require.ErrorIs(t, err, zkerr.ErrOwnerAddressMismatch)

	status, err := f.svc.GetSafe(ctx, sf.ID)
	require.NoError(t, err)
	require.False(t, status.Deployed)
	require.Nil(t, status.Address)
	require.Equal(t, store.SafeStatusFailed, status.Safe.Status)
	require.NotNil(t, status.Safe.DeployTxHash)
	requireDeployedIffAddress(t, status.Safe)

	_, err = f.svc.Deploy(ctx, sf.ID)
	require.ErrorIs(t, err, zkerr.ErrDeploymentHalted)
	require.Equal(t, 1, f.chain.DeployCount())
}

func TestDeployMissingEvent(t *testing.T) {
	f := newFixture(t)
	sf := f.readySafe(t, 1, signerA)
	f.chain.OmitEvent = true

	_, err := f.svc.Deploy(context.Background(), sf.ID)
	require.ErrorIs(t, err, zkerr.ErrEventFormat)

	status, err := f.svc.GetSafe(context.Background(), sf.ID)
	require.NoError(t, err)
	require.False(t, status.Deployed)
	require.Equal(t, store.SafeStatusFailed, status.Safe.Status)
}

func TestReconcileDeployment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sf := f.readySafe(t, 1, signerA)
	owner := common.HexToAddress(sf.ZkOwnerAddress)
	safeAddr := chaintest.SafeFor(owner)

	txHash, err := f.chain.Deploy(ctx, 1, nil)
	require.NoError(t, err)

	_, err = f.svc.ReconcileDeployment(ctx, sf.ID, chain.DeploymentEvent{
		SafeAddress:  common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		OwnerAddress: owner,
	}, txHash)
	require.ErrorIs(t, err, zkerr.ErrInvalidInput)

	status, err := f.svc.GetSafe(ctx, sf.ID)
	require.NoError(t, err)
	require.Equal(t, store.SafeStatusPrecomputed, status.Safe.Status)
	require.Nil(t, status.Safe.Address)

	ev := chain.DeploymentEvent{SafeAddress: safeAddr, OwnerAddress: owner}
	dep, err := f.svc.ReconcileDeployment(ctx, sf.ID, ev, txHash)
	require.NoError(t, err)
	require.True(t, dep.Safe.Deployed)
	require.Equal(t, safeAddr.Hex(), *dep.Safe.Address)
	require.Equal(t, txHash.Hex(), *dep.Safe.DeployTxHash)

	again, err := f.svc.ReconcileDeployment(ctx, sf.ID, ev, txHash)
	require.NoError(t, err)
	require.Equal(t, dep.Safe.ID, again.Safe.ID)

	// a second factory deployment yields a different proxy
	other, err := f.chain.Deploy(ctx, 1, nil)
	require.NoError(t, err)
	_, err = f.svc.ReconcileFromTx(ctx, sf.ID, other)
	require.ErrorIs(t, err, zkerr.ErrAlreadyDeployed)
}

func TestReconcileDeploymentRequiresSignatures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sf := f.readySafe(t, 3)
	owner := common.HexToAddress(sf.ZkOwnerAddress)

	txHash, err := f.chain.Deploy(ctx, 3, nil)
	require.NoError(t, err)

	_, err = f.svc.ReconcileDeployment(ctx, sf.ID, chain.DeploymentEvent{
		SafeAddress:  common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		OwnerAddress: owner,
	}, txHash)
	require.ErrorIs(t, err, zkerr.ErrInvalidInput)

	_, err = f.svc.ReconcileDeployment(ctx, sf.ID, chain.DeploymentEvent{
		SafeAddress:  chaintest.SafeFor(owner),
		OwnerAddress: owner,
	}, txHash)
	require.ErrorIs(t, err, zkerr.ErrNotReady)

	_, err = f.svc.ReconcileFromTx(ctx, sf.ID, txHash)
	require.ErrorIs(t, err, zkerr.ErrNotReady)

	status, err := f.svc.GetSafe(ctx, sf.ID)
	require.NoError(t, err)
	require.False(t, status.Safe.Deployed)
	require.Nil(t, status.Safe.Address)
	require.Equal(t, store.SafeStatusPrecomputed, status.Safe.Status)
}

func TestReconcileRejectsForeignOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sf := f.readySafe(t, 1, signerA)

	foreign := common.HexToAddress("0x0000000000000000000000000000000000000bad")
	f.chain.OverrideOwner = &foreign
	txHash, err := f.chain.Deploy(ctx, 1, nil)
	require.NoError(t, err)

	_, err = f.svc.ReconcileDeployment(ctx, sf.ID, chain.DeploymentEvent{
		SafeAddress:  chaintest.SafeFor(foreign),
		OwnerAddress: foreign,
	}, txHash)
	require.ErrorIs(t, err, zkerr.ErrOwnerAddressMismatch)

	status, err := f.svc.GetSafe(ctx, sf.ID)
	require.NoError(t, err)
	require.False(t, status.Safe.Deployed)
}

func TestReconcileFromTxRecoversParkedSafe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sf := f.readySafe(t, 1, signerA)

	f.chain.OmitEvent = true
	_, err := f.svc.Deploy(ctx, sf.ID)
	require.ErrorIs(t, err, zkerr.ErrEventFormat)

	// a later transaction from the client with a readable event
	f.chain.OmitEvent = false
	f.chain.DeployerNonces[signerA] = 0
	txHash, err := f.chain.Deploy(ctx, 1, nil)
	require.NoError(t, err)

	dep, err := f.svc.ReconcileFromTx(ctx, sf.ID, txHash)
	require.NoError(t, err)
	require.True(t, dep.Safe.Deployed)
	require.Equal(t, txHash.Hex(), *dep.Safe.DeployTxHash)
}

func TestDeployData(t *testing.T) {
	f := newFixture(t)
	sf := f.readySafe(t, 2, signerA, signerB)

	data, err := f.svc.DeployData(context.Background(), sf.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(2), data.Threshold)
	require.Len(t, data.SignatureHashes, 2)
}
