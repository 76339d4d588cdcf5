package http

// createReq is the JSON schema for POST routeCreateSafe
type createReq struct {
	Signer    string `json:"signer"` // 0x address
	Threshold uint32 `json:"threshold"`
}

// signatureReq is the JSON schema for POST routeAddSignature
type signatureReq struct {
	Signer    string `json:"signer"`    // 0x address
	Signature string `json:"signature"` // 0x-hex
}

// deploymentReportReq is the JSON schema for POST routeDeploymentReport. tx_hash is required;
// reported addresses are checked against the ContractDeployed event in its receipt.
type deploymentReportReq struct {
	SafeAddress  string `json:"safe_address,omitempty"`
	OwnerAddress string `json:"owner_address,omitempty"`
	TxHash       string `json:"tx_hash"`
}

type signatureHashesResp struct {
	SafeID          string   `json:"safe_id"`
	SignatureHashes []string `json:"signature_hashes"`
}
