// Package proofstest provides a deterministic in-memory proofs.Backend.
package proofstest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/compose-network/zksafe/x/proofs"
)

// Backend derives every artifact from a hash of its inputs, so results depend on input order.
type Backend struct {
	mu sync.Mutex

	// FailStep makes the named method return FailErr.
	FailStep string
	FailErr  error
	// Delay is applied to every Execute call.
	Delay time.Duration

	Calls    map[string]int
	Inputs   []map[string]any
	inFlight int
	MaxSeen  int
}

var _ proofs.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{Calls: make(map[string]int)}
}

func (b *Backend) enter(step string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls[step]++
	if b.FailStep == step {
		if b.FailErr != nil {
			return b.FailErr
		}
		return errors.New(step + " failed")
	}
	return nil
}

func (b *Backend) Execute(ctx context.Context, circuit string, inputs map[string]any) (proofs.ProofBytes, error) {
	if err := b.enter("execute"); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.Inputs = append(b.Inputs, inputs)
	b.inFlight++
	if b.inFlight > b.MaxSeen {
		b.MaxSeen = b.inFlight
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	encoded, err := json.Marshal(inputs)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256([]byte(circuit), encoded), nil
}

func (b *Backend) GenerateProof(_ context.Context, circuit string, witness proofs.ProofBytes) (proofs.RawProof, error) {
	if err := b.enter("generate_proof"); err != nil {
		return proofs.RawProof{}, err
	}
	proof := crypto.Keccak256([]byte("proof"), witness)
	return proofs.RawProof{
		Proof:        append(proof, witness...),
		PublicInputs: proofs.Fields{proofs.FieldFromBytes(witness)},
	}, nil
}

func (b *Backend) GenerateProofForRecursiveAggregation(
	_ context.Context,
	_ string,
	witness proofs.ProofBytes,
) (proofs.RecursiveProof, error) {
	if err := b.enter("generate_recursive_proof"); err != nil {
		return proofs.RecursiveProof{}, err
	}
	return proofs.RecursiveProof{
		ProofAsFields:  proofs.Fields{proofs.FieldFromBytes(crypto.Keccak256([]byte("rec"), witness))},
		InputsAsFields: proofs.Fields{proofs.FieldFromBytes(witness)},
	}, nil
}

func (b *Backend) GetVerificationKey(_ context.Context, circuit string) (proofs.ProofBytes, error) {
	if err := b.enter("get_verification_key"); err != nil {
		return nil, err
	}
	return crypto.Keccak256([]byte("vk"), []byte(circuit)), nil
}

func (b *Backend) VKAsFields(_ context.Context, vk proofs.ProofBytes) (proofs.Fields, error) {
	if err := b.enter("vk_as_fields"); err != nil {
		return nil, err
	}
	return proofs.Fields{proofs.FieldFromBytes(vk)}, nil
}

// CallCount is safe for concurrent use.
func (b *Backend) CallCount(step string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Calls[step]
}

// SampleZkData builds valid proving material unique to seed.
func SampleZkData(seed string) *proofs.ZkProofData {
	h := crypto.Keccak256([]byte(seed))
	return &proofs.ZkProofData{
		RawProof: proofs.RawProof{
			Proof:        h,
			PublicInputs: proofs.Fields{proofs.FieldFromBytes(h[:16])},
		},
		VKAsFields:     proofs.Fields{proofs.FieldFromBytes([]byte("approval-vk"))},
		ProofAsFields:  proofs.Fields{proofs.FieldFromBytes(h)},
		InputsAsFields: proofs.Fields{proofs.FieldFromBytes(h[16:])},
	}
}
