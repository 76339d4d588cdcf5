package proofs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Backend is the zero-knowledge proving collaborator. Circuit semantics are opaque to the coordinator.
type Backend interface {
	// Execute runs the circuit on inputs and returns the compressed witness.
	Execute(ctx context.Context, circuit string, inputs map[string]any) (ProofBytes, error)
	GenerateProof(ctx context.Context, circuit string, witness ProofBytes) (RawProof, error)
	// GenerateProofForRecursiveAggregation returns the proof and public inputs as field elements
	// so the proof can be verified inside another circuit.
	GenerateProofForRecursiveAggregation(ctx context.Context, circuit string, witness ProofBytes) (RecursiveProof, error)
	GetVerificationKey(ctx context.Context, circuit string) (ProofBytes, error)
	VKAsFields(ctx context.Context, vk ProofBytes) (Fields, error)
}

// RawProof is a proof as produced for on-chain verification.
type RawProof struct {
	Proof        ProofBytes `json:"proof"`
	PublicInputs Fields     `json:"publicInputs"`
}

// RecursiveProof is a proof serialized for in-circuit verification.
type RecursiveProof struct {
	ProofAsFields  Fields `json:"proofAsFields"`
	InputsAsFields Fields `json:"inputsAsFields"`
}

// ZkProofData is the proving material attached to an approval.
type ZkProofData struct {
	RawProof       RawProof `json:"rawProof"`
	VKAsFields     Fields   `json:"vkAsFields"`
	ProofAsFields  Fields   `json:"proofAsFields"`
	InputsAsFields Fields   `json:"inputsAsFields"`
}

var errEmpty = errors.New("empty")

// Validate checks that the material can feed the recursive combinator.
func (d *ZkProofData) Validate() error {
	if d == nil {
		return errEmpty
	}
	if len(d.RawProof.Proof) == 0 {
		return fmt.Errorf("rawProof.proof: %w", errEmpty)
	}
	if len(d.VKAsFields) == 0 {
		return fmt.Errorf("vkAsFields: %w", errEmpty)
	}
	if len(d.ProofAsFields) == 0 {
		return fmt.Errorf("proofAsFields: %w", errEmpty)
	}
	checks := []struct {
		name   string
		fields Fields
	}{
		{"rawProof.publicInputs", d.RawProof.PublicInputs},
		{"vkAsFields", d.VKAsFields},
		{"proofAsFields", d.ProofAsFields},
		{"inputsAsFields", d.InputsAsFields},
	}
	for _, c := range checks {
		if err := c.fields.Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// Artifact returns the inputs the recursive circuit needs to verify this proof.
func (d *ZkProofData) Artifact() Artifact {
	return Artifact{
		VerificationKey: d.VKAsFields,
		Proof:           d.ProofAsFields,
		PublicInputs:    d.InputsAsFields,
		KeyHash:         ZeroKeyHash,
	}
}

// ParseZkProofData decodes stored JSON. Empty input yields nil.
func ParseZkProofData(raw []byte) (*ZkProofData, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var d ZkProofData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode zk proof data: %w", err)
	}
	return &d, nil
}

// Artifact is one operand of the recursive combinator.
type Artifact struct {
	VerificationKey Fields
	Proof           Fields
	PublicInputs    Fields
	KeyHash         string
}

// AggregatedProof is the result of folding a proof set into a single recursive proof.
type AggregatedProof struct {
	Proof        ProofBytes `json:"proof"`
	PublicInputs Fields     `json:"publicInputs"`
	ProofIDs     []uint64   `json:"proofIds"`
	Rounds       int        `json:"rounds"`
}
