package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	apicommon "github.com/compose-network/zksafe/server/api"
	"github.com/compose-network/zksafe/x/chain"
	"github.com/compose-network/zksafe/x/safe"
	"github.com/compose-network/zksafe/x/store"
	"github.com/compose-network/zksafe/x/zkerr"
)

// Service is the part of safe.Service the HTTP surface needs.
type Service interface {
	Precompute(ctx context.Context, signer common.Address, threshold uint32) (*store.Safe, error)
	GetSafe(ctx context.Context, safeID string) (*safe.Status, error)
	AddSignature(ctx context.Context, safeID string, signer common.Address, signature []byte) (*store.SafeSignature, *safe.Status, error)
	SignatureHashes(ctx context.Context, ref string) ([]store.SafeSignature, error)
	DeployData(ctx context.Context, safeID string) (*safe.DeployData, error)
	Deploy(ctx context.Context, safeID string) (*safe.Deployment, error)
	ReconcileDeployment(ctx context.Context, safeID string, reported chain.DeploymentEvent, txHash common.Hash) (*safe.Deployment, error)
	ReconcileFromTx(ctx context.Context, safeID string, txHash common.Hash) (*safe.Deployment, error)
}

var _ Service = (*safe.Service)(nil)

type Handler struct {
	svc Service
	log zerolog.Logger
}

func NewHandler(svc Service, log zerolog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With().Str("component", "safes-http").Logger(),
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createReq
	if err := apicommon.DecodeJSON(w, r, &req); err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	signer, ok := parseAddress(w, r, "signer", req.Signer)
	if !ok {
		return
	}

	sf, err := h.svc.Precompute(r.Context(), signer, req.Threshold)
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusCreated, sf)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetSafe(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleAddSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureReq
	if err := apicommon.DecodeJSON(w, r, &req); err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	signer, ok := parseAddress(w, r, "signer", req.Signer)
	if !ok {
		return
	}
	sig, err := safe.DecodeSignature(req.Signature)
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}

	stored, st, err := h.svc.AddSignature(r.Context(), mux.Vars(r)["id"], signer, sig)
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusCreated, map[string]any{
		"signature": stored,
		"status":    st,
	})
}

func (h *Handler) handleSignatureHashes(w http.ResponseWriter, r *http.Request) {
	sigs, err := h.svc.SignatureHashes(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	resp := signatureHashesResp{SignatureHashes: make([]string, len(sigs))}
	for i, s := range sigs {
		resp.SafeID = s.SafeID
		resp.SignatureHashes[i] = s.SignatureHash
	}
	apicommon.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDeployData(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.DeployData(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, data)
}

func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	dep, err := h.svc.Deploy(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, dep)
}

func (h *Handler) handleDeploymentReport(w http.ResponseWriter, r *http.Request) {
	var req deploymentReportReq
	if err := apicommon.DecodeJSON(w, r, &req); err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	safeID := mux.Vars(r)["id"]

	b, err := hexutil.Decode(strings.TrimSpace(req.TxHash))
	if err != nil || len(b) != common.HashLength {
		apicommon.WriteServiceError(w, r,
			zkerr.New(zkerr.CodeInvalidInput, "tx_hash must be a %d-byte hex hash", common.HashLength))
		return
	}
	txHash := common.BytesToHash(b)

	var dep *safe.Deployment
	if req.SafeAddress == "" && req.OwnerAddress == "" {
		dep, err = h.svc.ReconcileFromTx(r.Context(), safeID, txHash)
	} else {
		safeAddr, ok := parseAddress(w, r, "safe_address", req.SafeAddress)
		if !ok {
			return
		}
		owner, ok := parseAddress(w, r, "owner_address", req.OwnerAddress)
		if !ok {
			return
		}
		dep, err = h.svc.ReconcileDeployment(r.Context(), safeID,
			chain.DeploymentEvent{SafeAddress: safeAddr, OwnerAddress: owner}, txHash)
	}
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, dep)
}

func parseAddress(w http.ResponseWriter, r *http.Request, field, v string) (common.Address, bool) {
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		apicommon.WriteServiceError(w, r,
			zkerr.New(zkerr.CodeInvalidInput, "%s must be a 0x address", field).WithContext("field", field))
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}
