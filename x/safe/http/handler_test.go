package http

import (
	"context"

	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/zksafe/x/chain/chaintest"
	"github.com/compose-network/zksafe/x/safe"
	"github.com/compose-network/zksafe/x/store"
)

const (
	signerA = "0x0123456789abcdef0123456789abcdef01234567"
	signerB = "0x89abcdef0123456789abcdef0123456789abcdef"
)

func newRouter(t *testing.T) (*mux.Router, *chaintest.Fake) {
	t.Helper()
	db, err := store.NewInMemory(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fake := chaintest.New()
	fake.Deployer = common.HexToAddress(signerA)
	svc, err := safe.NewService(safe.DefaultConfig(), db, fake, zerolog.Nop())
	require.NoError(t, err)

	r := mux.NewRouter()
	NewHandler(svc, zerolog.Nop()).RegisterMux(r)
	return r, fake
}

func do(t *testing.T, r *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func url(t *testing.T, r *mux.Router, name string, pairs ...string) string {
	t.Helper()
	u, err := r.Get(name).URL(pairs...)
	require.NoError(t, err)
	return u.String()
}

func TestHandler_SafeLifecycle(t *testing.T) {
	r, fake := newRouter(t)

	rec := do(t, r, http.MethodPost, routeCreateSafe, createReq{Signer: signerA, Threshold: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sf store.Safe
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sf))
	require.NotEmpty(t, sf.ID)
	require.False(t, sf.Deployed)

	for i, signer := range []string{signerA, signerB} {
		rec = do(t, r, http.MethodPost, url(t, r, routeNameAddSignature, "id", sf.ID), signatureReq{
			Signer:    signer,
			Signature: hexutil.Encode([]byte{byte(i + 1), 0xaa}),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = do(t, r, http.MethodPost, url(t, r, routeNameAddSignature, "id", sf.ID), signatureReq{
		Signer:    signerA,
		Signature: "0x0102",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, r, http.MethodGet, url(t, r, routeNameGetSafe, "id", sf.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st safe.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	require.Equal(t, 2, st.SignatureCount)
	require.True(t, st.IsReady)

	rec = do(t, r, http.MethodGet, url(t, r, routeNameDeployData, "id", sf.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodPost, url(t, r, routeNameDeploy, "id", sf.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dep safe.Deployment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dep))
	require.True(t, dep.Safe.Deployed)
	require.Equal(t, 1, fake.DeployCount())

	rec = do(t, r, http.MethodPost, url(t, r, routeNameDeploy, "id", sf.ID), nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, r, http.MethodGet, url(t, r, routeNameSignatureHashes, "ref", dep.SafeAddress.Hex()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hashes signatureHashesResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hashes))
	require.Equal(t, sf.ID, hashes.SafeID)
	require.Len(t, hashes.SignatureHashes, 2)
}

func TestHandler_Validation(t *testing.T) {
	r, _ := newRouter(t)

	rec := do(t, r, http.MethodPost, routeCreateSafe, createReq{Signer: "nope", Threshold: 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, routeCreateSafe, createReq{Signer: signerA, Threshold: 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, routeCreateSafe, map[string]any{"signer": signerA, "extra": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, url(t, r, routeNameGetSafe, "id", "missing"), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodPost, url(t, r, routeNameDeploymentReport, "id", "missing"), deploymentReportReq{
		TxHash: "0x1234",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_DeploymentReport(t *testing.T) {
	r, fake := newRouter(t)

	rec := do(t, r, http.MethodPost, routeCreateSafe, createReq{Signer: signerA, Threshold: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sf store.Safe
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sf))

	owner := common.HexToAddress(sf.ZkOwnerAddress)
	proxy := chaintest.SafeFor(owner)
	txHash, err := fake.Deploy(context.Background(), 1, nil)
	require.NoError(t, err)
	report := url(t, r, routeNameDeploymentReport, "id", sf.ID)

	// addresses without a transaction to check them against
	rec = do(t, r, http.MethodPost, report, deploymentReportReq{
		SafeAddress:  proxy.Hex(),
		OwnerAddress: owner.Hex(),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, report, deploymentReportReq{
		SafeAddress:  proxy.Hex(),
		OwnerAddress: owner.Hex(),
		TxHash:       txHash.Hex(),
	})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = do(t, r, http.MethodPost, url(t, r, routeNameAddSignature, "id", sf.ID), signatureReq{
		Signer:    signerA,
		Signature: "0x0102",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, r, http.MethodPost, report, deploymentReportReq{
		SafeAddress:  "0x000000000000000000000000000000000000dEaD",
		OwnerAddress: owner.Hex(),
		TxHash:       txHash.Hex(),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, url(t, r, routeNameGetSafe, "id", sf.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "dEaD")

	rec = do(t, r, http.MethodPost, report, deploymentReportReq{
		SafeAddress:  proxy.Hex(),
		OwnerAddress: owner.Hex(),
		TxHash:       txHash.Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dep safe.Deployment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dep))
	require.True(t, dep.Safe.Deployed)
	require.Equal(t, proxy.Hex(), *dep.Safe.Address)
}
