package store

import (
	"context"

	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewInMemory(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newSafe(owner string) *Safe {
	return &Safe{
		ID:             uuid.NewString(),
		ZkOwnerAddress: owner,
		Signers:        datatypes.JSON(`["0x00000000000000000000000000000000000000aa"]`),
		Threshold:      2,
	}
}

func TestCreateSafeRejectsDuplicateOwner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := newSafe("0x1111111111111111111111111111111111111111")
	ok, err := db.CreateSafe(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = db.CreateSafe(ctx, newSafe(first.ZkOwnerAddress))
	require.NoError(t, err)
	require.False(t, ok)

	got, err := db.GetSafe(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, SafeStatusPrecomputed, got.Status)
	require.False(t, got.Deployed)
	require.Nil(t, got.Address)

	_, err = db.GetSafe(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInsertSignatureUniquePerSigner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	safe := newSafe("0x2222222222222222222222222222222222222222")
	_, err := db.CreateSafe(ctx, safe)
	require.NoError(t, err)

	var inserted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.InsertSignature(ctx, &SafeSignature{
				SafeID:        safe.ID,
				SignerAddress: "0x00000000000000000000000000000000000000aa",
				SignatureHash: "0xabc",
				Signature:     []byte{1, 2, 3},
			})
			if err == nil && ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), inserted.Load())
	sigs, err := db.ListSignatures(ctx, safe.ID)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
}

func TestTransitionSafeIsCompareAndSet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	safe := newSafe("0x3333333333333333333333333333333333333333")
	_, err := db.CreateSafe(ctx, safe)
	require.NoError(t, err)

	toDeploying := SafeTransition{From: []SafeStatus{SafeStatusPrecomputed}, To: SafeStatusDeploying}
	ok, err := db.TransitionSafe(ctx, safe.ID, toDeploying)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = db.TransitionSafe(ctx, safe.ID, toDeploying)
	require.NoError(t, err)
	require.False(t, ok)

	addr := "0x4444444444444444444444444444444444444444"
	tx := "0x" + "ab"
	ok, err = db.TransitionSafe(ctx, safe.ID, SafeTransition{
		From:    []SafeStatus{SafeStatusDeploying},
		To:      SafeStatusDeployed,
		Address: &addr,
		TxHash:  &tx,
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := db.GetSafe(ctx, safe.ID)
	require.NoError(t, err)
	require.True(t, got.Deployed)
	require.Equal(t, SafeStatusDeployed, got.Status)
	require.NotNil(t, got.Address)
	require.Equal(t, addr, *got.Address)

	byAddr, err := db.FindSafeByAddress(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, safe.ID, byAddr.ID)

	byOwner, err := db.FindSafeByAddress(ctx, safe.ZkOwnerAddress)
	require.NoError(t, err)
	require.Equal(t, safe.ID, byOwner.ID)
}

func TestProofInsertAndSingleBackfill(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := &Proposal{
		To:             "0x5555555555555555555555555555555555555555",
		Value:          "0",
		Nonce:          "0",
		Threshold:      2,
		ZkOwnerAddress: "0x6666666666666666666666666666666666666666",
		SafeAddress:    "0x7777777777777777777777777777777777777777",
	}
	require.NoError(t, db.CreateProposal(ctx, p))
	require.NotZero(t, p.ID)

	proof := &Proof{ProposalID: p.ID, Value: "0xdead"}
	ok, err := db.InsertProof(ctx, proof)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, proof.HasZkData())

	ok, err = db.InsertProof(ctx, &Proof{ProposalID: p.ID, Value: "0xdead"})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = db.FillProofData(ctx, proof.ID, []byte(`{"vkAsFields":["0x01"]}`))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = db.FillProofData(ctx, proof.ID, []byte(`{"vkAsFields":["0x02"]}`))
	require.NoError(t, err)
	require.False(t, ok)

	got, err := db.GetProofByValue(ctx, p.ID, "0xdead")
	require.NoError(t, err)
	require.True(t, got.HasZkData())
	require.JSONEq(t, `{"vkAsFields":["0x01"]}`, string(got.ZkProofData))

	_, err = db.InsertProof(ctx, &Proof{ProposalID: p.ID, Value: "0xbeef"})
	require.NoError(t, err)
	proofs, err := db.ListProofs(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, proofs, 2)
	require.Less(t, proofs[0].ID, proofs[1].ID)

	list, err := db.ListProposalsBySafe(ctx, p.SafeAddress)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestOpenFileBackedSQLite(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Config{Driver: DriverSQLite, DataDir: dir}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Ping(context.Background()))

	ok, err := db.CreateSafe(context.Background(), newSafe("0x2222222222222222222222222222222222222222"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, db.Close())

	reopened, err := Open(Config{Driver: DriverSQLite, DataDir: dir}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.GetSafeByOwner(context.Background(), "0x2222222222222222222222222222222222222222")
	require.NoError(t, err)
	require.Equal(t, uint32(2), got.Threshold)
}

func TestOpenRejectsBadDriverConfig(t *testing.T) {
	_, err := Open(Config{Driver: DriverPostgres}, zerolog.Nop())
	require.ErrorContains(t, err, "requires a dsn")

	_, err = Open(Config{Driver: "mysql"}, zerolog.Nop())
	require.ErrorContains(t, err, "unsupported database driver")
}
