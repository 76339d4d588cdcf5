package store

import (
	"time"

	"gorm.io/datatypes"
)

type SafeStatus string

const (
	SafeStatusPrecomputed SafeStatus = "precomputed"
	SafeStatusDeploying   SafeStatus = "deploying"
	SafeStatusDeployed    SafeStatus = "deployed"
	SafeStatusFailed      SafeStatus = "failed"
)

// Safe is a multisig policy. Address is set exactly when Status is deployed.
type Safe struct {
	ID             string         `gorm:"primaryKey;size:36"                          json:"id"`
	ZkOwnerAddress string         `gorm:"size:42;not null;uniqueIndex"                json:"zk_owner_address"`
	Signers        datatypes.JSON `gorm:"not null"                                    json:"signers"`
	Threshold      uint32         `gorm:"not null"                                    json:"threshold"`
	Address        *string        `gorm:"size:42;uniqueIndex"                         json:"address,omitempty"`
	Deployed       bool           `gorm:"not null;default:false"                      json:"deployed"`
	Status         SafeStatus     `gorm:"size:16;not null;default:precomputed;index"  json:"status"`
	DeployTxHash   *string        `gorm:"size:66"                                     json:"deploy_tx_hash,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	Signatures []SafeSignature `gorm:"foreignKey:SafeID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Safe) TableName() string { return "safes" }

// SafeSignature is one signer's approval of a Safe's creation.
type SafeSignature struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"                      json:"id"`
	SafeID        string    `gorm:"size:36;not null;uniqueIndex:idx_safe_signer" json:"safe_id"`
	SignerAddress string    `gorm:"size:42;not null;uniqueIndex:idx_safe_signer" json:"signer_address"`
	SignatureHash string    `gorm:"size:66;not null;index"                        json:"signature_hash"`
	Signature     []byte    `gorm:"not null"                                      json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

func (SafeSignature) TableName() string { return "safe_signatures" }

// Proposal is an immutable transaction request with its nonce and threshold frozen at creation.
type Proposal struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	To             string    `gorm:"size:42;not null"         json:"to"`
	Value          string    `gorm:"size:78;not null"         json:"value"`
	Calldata       []byte    `json:"calldata"`
	Nonce          string    `gorm:"size:78;not null"         json:"nonce"`
	Threshold      uint32    `gorm:"not null"                 json:"threshold"`
	ZkOwnerAddress string    `gorm:"size:42;not null;index"   json:"zk_owner_address"`
	SafeAddress    string    `gorm:"size:42;not null;index"   json:"safe_address"`
	CreatedAt      time.Time `json:"created_at"`

	Proofs []Proof `gorm:"foreignKey:ProposalID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Proposal) TableName() string { return "proposals" }

// Proof is one signer's approval of a Proposal. ZkProofData is back-filled at most once.
type Proof struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"                           json:"id"`
	ProposalID  uint64         `gorm:"not null;uniqueIndex:idx_proposal_value"            json:"proposal_id"`
	Value       string         `gorm:"size:512;not null;uniqueIndex:idx_proposal_value"   json:"value"`
	ZkProofData datatypes.JSON `json:"zk_proof_data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Proof) TableName() string { return "proofs" }

// HasZkData reports whether the proof carries proving artifacts.
func (p *Proof) HasZkData() bool {
	return len(p.ZkProofData) > 0 && string(p.ZkProofData) != "null"
}

// SafeTransition is a compare-and-set on Safe.Status.
type SafeTransition struct {
	From    []SafeStatus
	To      SafeStatus
	Address *string
	TxHash  *string
}

// Models lists every table managed by AutoMigrate.
func Models() []any {
	return []any{&Safe{}, &SafeSignature{}, &Proposal{}, &Proof{}}
}
