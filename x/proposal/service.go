// Package proposal manages transaction proposals for deployed Safes: creation with a frozen
// nonce and threshold, per-signer approval proofs, aggregation and execution.
package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/compose-network/zksafe/x/chain"
	"github.com/compose-network/zksafe/x/proofs"
	"github.com/compose-network/zksafe/x/store"
	"github.com/compose-network/zksafe/x/zkerr"
)

type Config struct {
	// ApprovalCircuit is the per-signer circuit run by ProveApproval.
	ApprovalCircuit string `mapstructure:"approval_circuit" yaml:"approval_circuit"`
	// MaxSigners is the length of the signer identifier array the approval circuit expects.
	MaxSigners     int           `mapstructure:"max_signers"     yaml:"max_signers"`
	ExecuteTimeout time.Duration `mapstructure:"execute_timeout" yaml:"execute_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ApprovalCircuit: "ecdsa_multisig",
		MaxSigners:      3,
		ExecuteTimeout:  5 * time.Minute,
	}
}

// Aggregator folds ordered approval artifacts into one proof.
type Aggregator interface {
	Aggregate(ctx context.Context, artifacts []proofs.Artifact) (*proofs.AggregatedProof, error)
}

// CreateRequest describes a new proposal. SafeAddress may be the Safe proxy or its ZK owner.
type CreateRequest struct {
	To          string        `json:"to"`
	Value       string        `json:"value"`
	Calldata    hexutil.Bytes `json:"calldata"`
	SafeAddress string        `json:"safe_address"`
}

// AddProofRequest submits one approval. ZkProofData may be omitted and supplied later
// with the same Value.
type AddProofRequest struct {
	ProposalID     uint64              `json:"proposal_id"`
	SafeAddress    string              `json:"safe_address"`
	ZkOwnerAddress string              `json:"zk_owner_address"`
	Value          string              `json:"value"`
	ZkProofData    *proofs.ZkProofData `json:"zk_proof_data,omitempty"`
}

// ProofStatus is derived from the stored proofs on every call.
type ProofStatus struct {
	ProposalID uint64 `json:"proposal_id"`
	Threshold  uint32 `json:"threshold"`
	Committed  int    `json:"committed"`
	Completed  int    `json:"completed"`
	Missing    int    `json:"missing"`
	IsComplete bool   `json:"is_complete"`
}

// ProofDetail is a proof with its proving material decoded.
type ProofDetail struct {
	ID          uint64              `json:"id"`
	ProposalID  uint64              `json:"proposal_id"`
	Value       string              `json:"value"`
	HasZkData   bool                `json:"has_zk_data"`
	ZkProofData *proofs.ZkProofData `json:"zk_proof_data,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Detail is a proposal with its proofs and status.
type Detail struct {
	Proposal *store.Proposal `json:"proposal"`
	Proofs   []ProofDetail   `json:"proofs"`
	Status   ProofStatus     `json:"status"`
}

type Service struct {
	cfg        Config
	store      store.Store
	chain      chain.Client
	backend    proofs.Backend
	aggregator Aggregator
	log        zerolog.Logger
	metrics    *Metrics
}

func NewService(
	cfg Config,
	st store.Store,
	ch chain.Client,
	backend proofs.Backend,
	agg Aggregator,
	log zerolog.Logger,
) (*Service, error) {
	if st == nil || ch == nil {
		return nil, errors.New("store and chain client are required")
	}
	if backend == nil || agg == nil {
		return nil, errors.New("proving backend and aggregator are required")
	}
	if cfg.MaxSigners <= 0 {
		return nil, fmt.Errorf("max signers must be positive, got %d", cfg.MaxSigners)
	}
	return &Service{
		cfg:        cfg,
		store:      st,
		chain:      ch,
		backend:    backend,
		aggregator: agg,
		log:        log.With().Str("component", "proposal-service").Logger(),
		metrics:    NewMetrics(),
	}, nil
}

// CreateProposal snapshots the Safe's nonce and threshold into a new proposal.
func (s *Service) CreateProposal(ctx context.Context, req CreateRequest) (*store.Proposal, error) {
	if !common.IsHexAddress(req.To) {
		return nil, zkerr.New(zkerr.CodeInvalidInput, "to must be a 0x address")
	}
	value, err := uint256.FromDecimal(strings.TrimSpace(req.Value))
	if err != nil {
		return nil, zkerr.New(zkerr.CodeInvalidInput, "value must be a decimal uint256").WithCause(err)
	}
	if !common.IsHexAddress(req.SafeAddress) {
		return nil, zkerr.New(zkerr.CodeInvalidInput, "safe_address must be a 0x address")
	}

	sf, err := s.resolvePolicy(ctx, req.SafeAddress)
	if err != nil {
		return nil, err
	}

	var (
		safeAddr  = common.HexToAddress(req.SafeAddress)
		nonce     = "0"
		threshold = sf.Threshold
	)
	if sf.Deployed && sf.Address != nil {
		safeAddr = common.HexToAddress(*sf.Address)
		n, err := s.chain.SafeNonce(ctx, safeAddr)
		if err != nil {
			return nil, err
		}
		th, err := s.chain.OwnerThreshold(ctx, common.HexToAddress(sf.ZkOwnerAddress))
		if err != nil {
			return nil, err
		}
		if th == 0 || th > math.MaxUint32 {
			return nil, zkerr.New(zkerr.CodeChainRead, "owner threshold %d out of range", th).
				WithContext("owner", sf.ZkOwnerAddress)
		}
		nonce = n.String()
		threshold = uint32(th)
	}

	calldata := []byte(req.Calldata)
	if calldata == nil {
		calldata = []byte{}
	}
	p := &store.Proposal{
		To:             common.HexToAddress(req.To).Hex(),
		Value:          value.Dec(),
		Calldata:       calldata,
		Nonce:          nonce,
		Threshold:      threshold,
		ZkOwnerAddress: sf.ZkOwnerAddress,
		SafeAddress:    safeAddr.Hex(),
	}
	if err := s.store.CreateProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("create proposal: %w", err)
	}

	s.log.Info().
		Uint64("proposal_id", p.ID).
		Str("safe", p.SafeAddress).
		Str("to", p.To).
		Str("value", p.Value).
		Str("nonce", p.Nonce).
		Uint32("threshold", p.Threshold).
		Msg("Proposal created")
	return p, nil
}

// AddProof records an approval. An existing approval with the same value is completed in
// place when it has no proving material yet; otherwise the submission is a duplicate.
func (s *Service) AddProof(ctx context.Context, req AddProofRequest) (*store.Proof, error) {
	value, err := normalizeValue(req.Value)
	if err != nil {
		return nil, err
	}

	p, err := s.loadProposal(ctx, req.ProposalID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(p.SafeAddress, strings.TrimSpace(req.SafeAddress)) ||
		!strings.EqualFold(p.ZkOwnerAddress, strings.TrimSpace(req.ZkOwnerAddress)) {
		s.metrics.RecordProof("mismatch")
		return nil, zkerr.New(zkerr.CodeProposalMismatch, "proposal %d does not belong to safe %s", p.ID, req.SafeAddress).
			WithContext("proposal_id", p.ID)
	}

	var data []byte
	if req.ZkProofData != nil {
		if err := req.ZkProofData.Validate(); err != nil {
			s.metrics.RecordProof("invalid")
			return nil, zkerr.New(zkerr.CodeInvalidProofData, "%s", err.Error()).WithContext("proposal_id", p.ID)
		}
		if data, err = json.Marshal(req.ZkProofData); err != nil {
			return nil, fmt.Errorf("encode zk proof data: %w", err)
		}
	}

	proof := &store.Proof{ProposalID: p.ID, Value: value, ZkProofData: data}
	inserted, err := s.store.InsertProof(ctx, proof)
	if err != nil {
		return nil, fmt.Errorf("insert proof: %w", err)
	}
	if inserted {
		s.metrics.RecordProof("accepted")
		s.log.Info().
			Uint64("proposal_id", p.ID).
			Uint64("proof_id", proof.ID).
			Bool("zk_data", data != nil).
			Msg("Proof added")
		return proof, nil
	}

	existing, err := s.store.GetProofByValue(ctx, p.ID, value)
	if err != nil {
		return nil, fmt.Errorf("load existing proof: %w", err)
	}
	if data != nil && !existing.HasZkData() {
		filled, err := s.store.FillProofData(ctx, existing.ID, data)
		if err != nil {
			return nil, fmt.Errorf("fill proof data: %w", err)
		}
		if filled {
			s.metrics.RecordProof("completed")
			s.log.Info().Uint64("proposal_id", p.ID).Uint64("proof_id", existing.ID).Msg("Proof data attached")
			return s.store.GetProof(ctx, existing.ID)
		}
	}

	s.metrics.RecordProof("duplicate")
	return nil, zkerr.New(zkerr.CodeDuplicateProof, "proof already submitted for proposal %d", p.ID).
		WithContext("proposal_id", p.ID).
		WithContext("proof_id", existing.ID)
}

// ProofStatus reports collection progress against the proposal's frozen threshold.
func (s *Service) ProofStatus(ctx context.Context, proposalID uint64) (*ProofStatus, error) {
	p, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	ps, err := s.store.ListProofs(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list proofs: %w", err)
	}
	st := computeStatus(p, ps)
	return &st, nil
}

func (s *Service) GetProposal(ctx context.Context, proposalID uint64) (*Detail, error) {
	p, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	ps, err := s.store.ListProofs(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list proofs: %w", err)
	}
	details := make([]ProofDetail, 0, len(ps))
	for i := range ps {
		d, err := proofDetail(&ps[i])
		if err != nil {
			return nil, err
		}
		details = append(details, *d)
	}
	return &Detail{Proposal: p, Proofs: details, Status: computeStatus(p, ps)}, nil
}

// ListProposals returns every proposal, newest first.
func (s *Service) ListProposals(ctx context.Context) ([]store.Proposal, error) {
	ps, err := s.store.ListProposals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return nonNil(ps), nil
}

// ListProposalsBySafe returns the proposals of one Safe, newest first.
func (s *Service) ListProposalsBySafe(ctx context.Context, safeAddress string) ([]store.Proposal, error) {
	if !common.IsHexAddress(safeAddress) {
		return nil, zkerr.New(zkerr.CodeInvalidInput, "safe address must be a 0x address")
	}
	ps, err := s.store.ListProposalsBySafe(ctx, common.HexToAddress(safeAddress).Hex())
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return nonNil(ps), nil
}

func (s *Service) GetProof(ctx context.Context, proofID uint64) (*ProofDetail, error) {
	p, err := s.store.GetProof(ctx, proofID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, zkerr.New(zkerr.CodeProofNotFound, "proof %d not found", proofID)
	}
	if err != nil {
		return nil, fmt.Errorf("load proof: %w", err)
	}
	return proofDetail(p)
}

// Aggregate folds the proposal's canonical proof set: the first max(threshold, 2)
// completed proofs by id. Pending proofs and proofs beyond that set are kept but not used.
func (s *Service) Aggregate(ctx context.Context, proposalID uint64) (*proofs.AggregatedProof, error) {
	p, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	ps, err := s.store.ListProofs(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list proofs: %w", err)
	}

	st := computeStatus(p, ps)
	if !st.IsComplete {
		return nil, zkerr.New(zkerr.CodeInsufficientProofs, "proposal %d has %d of %d proofs", p.ID, st.Committed, st.Threshold).
			WithContext("proposal_id", p.ID)
	}
	want := max(int(p.Threshold), 2)
	if len(ps) < want {
		return nil, zkerr.New(zkerr.CodeInsufficientProofs, "aggregation needs %d proofs, have %d", want, len(ps)).
			WithContext("proposal_id", p.ID)
	}

	var (
		artifacts = make([]proofs.Artifact, 0, want)
		ids       = make([]uint64, 0, want)
		pending   *store.Proof
	)
	for i := range ps {
		if len(ids) == want {
			break
		}
		if !ps[i].HasZkData() {
			if pending == nil {
				pending = &ps[i]
			}
			continue
		}
		data, err := proofs.ParseZkProofData(ps[i].ZkProofData)
		if err != nil {
			return nil, fmt.Errorf("proof %d: %w", ps[i].ID, err)
		}
		artifacts = append(artifacts, data.Artifact())
		ids = append(ids, ps[i].ID)
	}
	if len(ids) < want {
		return nil, zkerr.New(zkerr.CodeMissingZkData,
			"proposal %d has %d of %d proofs with zk data", p.ID, len(ids), want).
			WithContext("proposal_id", p.ID).
			WithContext("proof_id", pending.ID)
	}

	agg, err := s.aggregator.Aggregate(ctx, artifacts)
	if err != nil {
		return nil, err
	}
	agg.ProofIDs = ids
	s.log.Info().Uint64("proposal_id", p.ID).Uints64("proof_ids", ids).Int("rounds", agg.Rounds).Msg("Proposal proofs aggregated")
	return agg, nil
}

// resolvePolicy finds the Safe by proxy address, then by ZK owner address.
func (s *Service) resolvePolicy(ctx context.Context, address string) (*store.Safe, error) {
	addr := common.HexToAddress(address).Hex()
	sf, err := s.store.FindSafeByAddress(ctx, addr)
	if err == nil {
		return sf, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find safe: %w", err)
	}
	sf, err = s.store.GetSafeByOwner(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, zkerr.New(zkerr.CodePolicyNotFound, "no safe found for %s", addr).WithContext("address", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("find safe by owner: %w", err)
	}
	return sf, nil
}

func (s *Service) loadProposal(ctx context.Context, id uint64) (*store.Proposal, error) {
	p, err := s.store.GetProposal(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, zkerr.New(zkerr.CodeProposalNotFound, "proposal %d not found", id).WithContext("proposal_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load proposal: %w", err)
	}
	return p, nil
}

func computeStatus(p *store.Proposal, ps []store.Proof) ProofStatus {
	completed := 0
	for i := range ps {
		if ps[i].HasZkData() {
			completed++
		}
	}
	committed := len(ps)
	return ProofStatus{
		ProposalID: p.ID,
		Threshold:  p.Threshold,
		Committed:  committed,
		Completed:  completed,
		Missing:    max(0, int(p.Threshold)-committed),
		IsComplete: committed >= int(p.Threshold),
	}
}

func proofDetail(p *store.Proof) (*ProofDetail, error) {
	data, err := proofs.ParseZkProofData(p.ZkProofData)
	if err != nil {
		return nil, fmt.Errorf("proof %d: %w", p.ID, err)
	}
	return &ProofDetail{
		ID:          p.ID,
		ProposalID:  p.ProposalID,
		Value:       p.Value,
		HasZkData:   data != nil,
		ZkProofData: data,
		CreatedAt:   p.CreatedAt,
	}, nil
}

// normalizeValue lower-cases hex approval signatures so one signature maps to one key.
func normalizeValue(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", zkerr.New(zkerr.CodeInvalidInput, "value is required")
	}
	b, err := hexutil.Decode(v)
	if err != nil {
		return "", zkerr.New(zkerr.CodeInvalidInput, "value must be a 0x-hex signature").WithCause(err)
	}
	return hexutil.Encode(b), nil
}

func nonNil(ps []store.Proposal) []store.Proposal {
	if ps == nil {
		return []store.Proposal{}
	}
	return ps
}
