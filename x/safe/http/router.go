package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterMux binds gorilla/mux routes.
func (h *Handler) RegisterMux(r *mux.Router) {
	r.HandleFunc(routeCreateSafe, h.handleCreate).Methods(http.MethodPost).Name(routeNameCreateSafe)
	r.HandleFunc(routeGetSafe, h.handleGet).Methods(http.MethodGet).Name(routeNameGetSafe)
	r.HandleFunc(routeAddSignature, h.handleAddSignature).Methods(http.MethodPost).Name(routeNameAddSignature)
	r.HandleFunc(routeSignatureHashes, h.handleSignatureHashes).
		Methods(http.MethodGet).
		Name(routeNameSignatureHashes)
	r.HandleFunc(routeDeployData, h.handleDeployData).Methods(http.MethodGet).Name(routeNameDeployData)
	r.HandleFunc(routeDeploy, h.handleDeploy).Methods(http.MethodPost).Name(routeNameDeploy)
	r.HandleFunc(routeDeploymentReport, h.handleDeploymentReport).
		Methods(http.MethodPost).
		Name(routeNameDeploymentReport)
}
