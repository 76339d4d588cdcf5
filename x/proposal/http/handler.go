package http

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	apicommon "github.com/compose-network/zksafe/server/api"
	"github.com/compose-network/zksafe/x/proofs"
	"github.com/compose-network/zksafe/x/proposal"
	"github.com/compose-network/zksafe/x/store"
	"github.com/compose-network/zksafe/x/zkerr"
)

// Service is the part of proposal.Service the HTTP surface needs.
type Service interface {
	CreateProposal(ctx context.Context, req proposal.CreateRequest) (*store.Proposal, error)
	ListProposals(ctx context.Context) ([]store.Proposal, error)
	ListProposalsBySafe(ctx context.Context, safeAddress string) ([]store.Proposal, error)
	GetProposal(ctx context.Context, proposalID uint64) (*proposal.Detail, error)
	AddProof(ctx context.Context, req proposal.AddProofRequest) (*store.Proof, error)
	ProveApproval(ctx context.Context, req proposal.ApprovalRequest) (*store.Proof, error)
	ProofStatus(ctx context.Context, proposalID uint64) (*proposal.ProofStatus, error)
	GetProof(ctx context.Context, proofID uint64) (*proposal.ProofDetail, error)
	Aggregate(ctx context.Context, proposalID uint64) (*proofs.AggregatedProof, error)
	Execute(ctx context.Context, proposalID uint64, proof []byte) (*proposal.Execution, error)
}

var _ Service = (*proposal.Service)(nil)

type Handler struct {
	svc Service
	log zerolog.Logger
}

func NewHandler(svc Service, log zerolog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With().Str("component", "proposals-http").Logger(),
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req proposal.CreateRequest
	if err := apicommon.DecodeJSON(w, r, &req); err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	p, err := h.svc.CreateProposal(r.Context(), req)
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.ListProposals(r.Context())
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, ps)
}

func (h *Handler) handleListBySafe(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.ListProposalsBySafe(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, ps)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.GetProposal(r.Context(), id)
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleSigningPayload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.GetProposal(r.Context(), id)
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	op, err := proposal.OperationSigningText(d.Proposal)
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, signingPayloadResp{
		Operation: op,
		Identity:  proposal.IdentitySigningText(d.Proposal.ZkOwnerAddress),
	})
}

func (h *Handler) handleAddProof(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req addProofReq
	if err := apicommon.DecodeJSON(w, r, &req); err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	p, err := h.svc.AddProof(r.Context(), proposal.AddProofRequest{
		ProposalID:     id,
		SafeAddress:    req.SafeAddress,
		ZkOwnerAddress: req.ZkOwnerAddress,
		Value:          req.Value,
		ZkProofData:    req.ZkProofData,
	})
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req approvalReq
	if err := apicommon.DecodeJSON(w, r, &req); err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	p, err := h.svc.ProveApproval(r.Context(), proposal.ApprovalRequest{
		ProposalID:         id,
		SafeAddress:        req.SafeAddress,
		ZkOwnerAddress:     req.ZkOwnerAddress,
		OperationSignature: req.OperationSignature,
		IdentitySignature:  req.IdentitySignature,
	})
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, err := h.svc.ProofStatus(r.Context(), id)
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleAggregate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	agg, err := h.svc.Aggregate(r.Context(), id)
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, agg)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req executeReq
	if err := apicommon.DecodeJSON(w, r, &req); err != nil && !isEmptyBody(err) {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	exec, err := h.svc.Execute(r.Context(), id, req.Proof)
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, exec)
}

func (h *Handler) handleGetProof(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetProof(r.Context(), id)
	if err != nil {
		apicommon.WriteServiceError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, p)
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		apicommon.WriteServiceError(w, r, zkerr.New(zkerr.CodeInvalidInput, "id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func isEmptyBody(err error) bool {
	zerr, ok := zkerr.As(err)
	return ok && zerr.Cause == io.EOF
}
