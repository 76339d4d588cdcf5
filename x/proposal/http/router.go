package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterMux binds gorilla/mux routes.
func (h *Handler) RegisterMux(r *mux.Router) {
	r.HandleFunc(routeProposals, h.handleCreate).Methods(http.MethodPost).Name(routeNameCreate)
	r.HandleFunc(routeProposals, h.handleList).Methods(http.MethodGet).Name(routeNameList)
	r.HandleFunc(routeProposal, h.handleGet).Methods(http.MethodGet).Name(routeNameGet)
	r.HandleFunc(routeSigningPayload, h.handleSigningPayload).
		Methods(http.MethodGet).
		Name(routeNameSigningPayload)
	r.HandleFunc(routeProofs, h.handleAddProof).Methods(http.MethodPost).Name(routeNameAddProof)
	r.HandleFunc(routeApprovals, h.handleApprove).Methods(http.MethodPost).Name(routeNameApprove)
	r.HandleFunc(routeStatus, h.handleStatus).Methods(http.MethodGet).Name(routeNameStatus)
	r.HandleFunc(routeAggregate, h.handleAggregate).Methods(http.MethodPost).Name(routeNameAggregate)
	r.HandleFunc(routeExecute, h.handleExecute).Methods(http.MethodPost).Name(routeNameExecute)
	r.HandleFunc(routeProof, h.handleGetProof).Methods(http.MethodGet).Name(routeNameProof)
	r.HandleFunc(routeSafeProposals, h.handleListBySafe).Methods(http.MethodGet).Name(routeNameSafeProposals)
}
