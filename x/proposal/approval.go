package proposal

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/compose-network/zksafe/x/proofs"
	"github.com/compose-network/zksafe/x/store"
	"github.com/compose-network/zksafe/x/zkerr"
)

// ApprovalRequest carries the two wallet signatures a signer produces for a proposal:
// one over the operation message and one over the ZK owner address.
type ApprovalRequest struct {
	ProposalID         uint64 `json:"proposal_id"`
	SafeAddress        string `json:"safe_address"`
	ZkOwnerAddress     string `json:"zk_owner_address"`
	OperationSignature string `json:"operation_signature"` // 0x-hex, 65 bytes
	IdentitySignature  string `json:"identity_signature"`  // 0x-hex, 65 bytes
}

var operationArgs = mustArguments("address", "uint256", "bytes")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}

// OperationMessage is abi.encode(to, value, data) for the proposal.
func OperationMessage(p *store.Proposal) ([]byte, error) {
	value, ok := new(big.Int).SetString(p.Value, 10)
	if !ok {
		return nil, fmt.Errorf("proposal %d: invalid value %q", p.ID, p.Value)
	}
	data := p.Calldata
	if data == nil {
		data = []byte{}
	}
	return operationArgs.Pack(common.HexToAddress(p.To), value, data)
}

// OperationSigningText is the text a wallet signs to approve the proposal.
func OperationSigningText(p *store.Proposal) (string, error) {
	m, err := OperationMessage(p)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(hexutil.Encode(m), "0x"), nil
}

// IdentitySigningText is the text a wallet signs to bind itself to the ZK owner.
func IdentitySigningText(zkOwner string) string {
	return strings.ToLower(strings.TrimPrefix(common.HexToAddress(zkOwner).Hex(), "0x"))
}

// ProveApproval runs the approval circuit for one signer and stores the resulting proof,
// keyed by the operation signature.
func (s *Service) ProveApproval(ctx context.Context, req ApprovalRequest) (*store.Proof, error) {
	p, err := s.loadProposal(ctx, req.ProposalID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(p.SafeAddress, strings.TrimSpace(req.SafeAddress)) ||
		!strings.EqualFold(p.ZkOwnerAddress, strings.TrimSpace(req.ZkOwnerAddress)) {
		return nil, zkerr.New(zkerr.CodeProposalMismatch, "proposal %d does not belong to safe %s", p.ID, req.SafeAddress).
			WithContext("proposal_id", p.ID)
	}

	opSig, err := decodeWalletSignature("operation_signature", req.OperationSignature)
	if err != nil {
		return nil, err
	}
	idSig, err := decodeWalletSignature("identity_signature", req.IdentitySignature)
	if err != nil {
		return nil, err
	}
	if existing, err := s.store.GetProofByValue(ctx, p.ID, hexutil.Encode(opSig)); err == nil && existing.HasZkData() {
		return nil, zkerr.New(zkerr.CodeDuplicateProof, "approval already proven for proposal %d", p.ID).
			WithContext("proposal_id", p.ID).
			WithContext("proof_id", existing.ID)
	}

	m, err := OperationMessage(p)
	if err != nil {
		return nil, err
	}
	opPub, err := recoverPersonal(strings.TrimPrefix(hexutil.Encode(m), "0x"), opSig)
	if err != nil {
		return nil, zkerr.New(zkerr.CodeInvalidInput, "operation signature does not recover").WithCause(err)
	}
	idPub, err := recoverPersonal(IdentitySigningText(p.ZkOwnerAddress), idSig)
	if err != nil {
		return nil, zkerr.New(zkerr.CodeInvalidInput, "identity signature does not recover").WithCause(err)
	}
	if crypto.PubkeyToAddress(*opPub) != crypto.PubkeyToAddress(*idPub) {
		return nil, zkerr.New(zkerr.CodeInvalidInput, "operation and identity signatures come from different accounts")
	}

	sf, err := s.resolvePolicy(ctx, p.SafeAddress)
	if err != nil {
		return nil, err
	}
	sigs, err := s.store.ListSignatures(ctx, sf.ID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	signers, err := s.signerIdentifiers(sigs)
	if err != nil {
		return nil, err
	}

	inputs := map[string]any{
		"message_hash":                    byteArray(crypto.Keccak256(m)),
		"operation_signature":             byteArray(opSig[:64]),
		"identity_verification_signature": byteArray(idSig[:64]),
		"operation_pub_x":                 byteArray(pubX(opPub)),
		"operation_pub_y":                 byteArray(pubY(opPub)),
		"identity_pub_x":                  byteArray(pubX(idPub)),
		"identity_pub_y":                  byteArray(pubY(idPub)),
		"signers_identifiers":             byteArray(signers),
		"threshold":                       p.Threshold,
		"contract_address":                byteArray(common.HexToAddress(p.ZkOwnerAddress).Bytes()),
	}

	log := s.log.With().Uint64("proposal_id", p.ID).Str("signer", crypto.PubkeyToAddress(*opPub).Hex()).Logger()
	log.Info().Int("identifiers", len(sigs)).Msg("Generating approval proof")

	data, err := s.proveApproval(ctx, inputs)
	if err != nil {
		s.metrics.RecordApproval(false)
		log.Error().Err(err).Msg("Approval proof failed")
		return nil, err
	}
	s.metrics.RecordApproval(true)

	return s.AddProof(ctx, AddProofRequest{
		ProposalID:     p.ID,
		SafeAddress:    p.SafeAddress,
		ZkOwnerAddress: p.ZkOwnerAddress,
		Value:          hexutil.Encode(opSig),
		ZkProofData:    data,
	})
}

func (s *Service) proveApproval(ctx context.Context, inputs map[string]any) (*proofs.ZkProofData, error) {
	circuit := s.cfg.ApprovalCircuit
	witness, err := s.backend.Execute(ctx, circuit, inputs)
	if err != nil {
		return nil, backendError("execute", circuit, err)
	}
	raw, err := s.backend.GenerateProof(ctx, circuit, witness)
	if err != nil {
		return nil, backendError("generate_proof", circuit, err)
	}
	rec, err := s.backend.GenerateProofForRecursiveAggregation(ctx, circuit, witness)
	if err != nil {
		return nil, backendError("generate_recursive_proof", circuit, err)
	}
	vk, err := s.backend.GetVerificationKey(ctx, circuit)
	if err != nil {
		return nil, backendError("get_verification_key", circuit, err)
	}
	vkFields, err := s.backend.VKAsFields(ctx, vk)
	if err != nil {
		return nil, backendError("vk_as_fields", circuit, err)
	}
	return &proofs.ZkProofData{
		RawProof:       raw,
		VKAsFields:     vkFields,
		ProofAsFields:  rec.ProofAsFields,
		InputsAsFields: rec.InputsAsFields,
	}, nil
}

// signerIdentifiers flattens the Safe's signature hashes, zero-padded to MaxSigners words.
func (s *Service) signerIdentifiers(sigs []store.SafeSignature) ([]byte, error) {
	if len(sigs) > s.cfg.MaxSigners {
		return nil, zkerr.New(zkerr.CodeInvalidInput, "safe has %d signers, circuit supports %d", len(sigs), s.cfg.MaxSigners)
	}
	out := make([]byte, s.cfg.MaxSigners*common.HashLength)
	for i, sig := range sigs {
		copy(out[i*common.HashLength:], common.HexToHash(sig.SignatureHash).Bytes())
	}
	return out, nil
}

func decodeWalletSignature(field, v string) ([]byte, error) {
	b, err := hexutil.Decode(strings.TrimSpace(v))
	if err != nil || len(b) != crypto.SignatureLength {
		return nil, zkerr.New(zkerr.CodeInvalidInput, "%s must be a %d-byte 0x-hex signature", field, crypto.SignatureLength).
			WithContext("field", field)
	}
	return b, nil
}

// recoverPersonal recovers the key behind an EIP-191 personal signature over text.
func recoverPersonal(text string, sig []byte) (*ecdsa.PublicKey, error) {
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	return crypto.SigToPub(accounts.TextHash([]byte(text)), s)
}

func pubX(pub *ecdsa.PublicKey) []byte {
	return crypto.FromECDSAPub(pub)[1:33]
}

func pubY(pub *ecdsa.PublicKey) []byte {
	return crypto.FromECDSAPub(pub)[33:65]
}

// byteArray renders bytes as a JSON number array, the encoding circuits take for u8 arrays.
type byteArray []byte

func (b byteArray) MarshalJSON() ([]byte, error) {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return json.Marshal(out)
}

func backendError(step, circuit string, err error) error {
	return zkerr.New(zkerr.CodeProvingBackend, "%s", err.Error()).
		WithContext("step", step).
		WithContext("circuit", circuit).
		WithCause(err)
}
