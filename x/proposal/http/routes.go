package http

// Route patterns for the proposal HTTP surface, relative to the API prefix.
const (
	routeProposals      = "/proposals"
	routeProposal       = "/proposals/{id:[0-9]+}"
	routeSigningPayload = "/proposals/{id:[0-9]+}/signing-payload"
	routeProofs         = "/proposals/{id:[0-9]+}/proofs"
	routeApprovals      = "/proposals/{id:[0-9]+}/approvals"
	routeStatus         = "/proposals/{id:[0-9]+}/status"
	routeAggregate      = "/proposals/{id:[0-9]+}/aggregate"
	routeExecute        = "/proposals/{id:[0-9]+}/execute"
	routeProof          = "/proofs/{id:[0-9]+}"
	routeSafeProposals  = "/safes/{address}/proposals"
)

// Route names for mux URL building.
const (
	routeNameCreate         = "proposals_create"
	routeNameList           = "proposals_list"
	routeNameGet            = "proposals_get"
	routeNameSigningPayload = "proposals_signing_payload"
	routeNameAddProof       = "proposals_add_proof"
	routeNameApprove        = "proposals_approve"
	routeNameStatus         = "proposals_status"
	routeNameAggregate      = "proposals_aggregate"
	routeNameExecute        = "proposals_execute"
	routeNameProof          = "proofs_get"
	routeNameSafeProposals  = "safes_proposals"
)
