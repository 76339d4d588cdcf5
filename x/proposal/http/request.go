package http

import (
	"github.com/compose-network/zksafe/x/proofs"
)

// addProofReq is the JSON schema for POST routeProofs
type addProofReq struct {
	SafeAddress    string              `json:"safe_address"`
	ZkOwnerAddress string              `json:"zk_owner_address"`
	Value          string              `json:"value"` // 0x-hex approval signature
	ZkProofData    *proofs.ZkProofData `json:"zk_proof_data,omitempty"`
}

// approvalReq is the JSON schema for POST routeApprovals
type approvalReq struct {
	SafeAddress        string `json:"safe_address"`
	ZkOwnerAddress     string `json:"zk_owner_address"`
	OperationSignature string `json:"operation_signature"`
	IdentitySignature  string `json:"identity_signature"`
}

// executeReq is the JSON schema for POST routeExecute. An empty proof triggers aggregation.
type executeReq struct {
	Proof proofs.ProofBytes `json:"proof,omitempty"`
}

type signingPayloadResp struct {
	Operation string `json:"operation"`
	Identity  string `json:"identity"`
}
