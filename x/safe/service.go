// Package safe implements the Safe lifecycle: owner address precomputation,
// creation-signature collection and deployment.
package safe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/compose-network/zksafe/x/chain"
	"github.com/compose-network/zksafe/x/store"
	"github.com/compose-network/zksafe/x/zkerr"
)

type Config struct {
	// Deployer overrides the account whose factory nonce predicts owner addresses.
	// Empty means the requesting signer.
	Deployer string `mapstructure:"deployer" yaml:"deployer"`

	// DeployTimeout bounds submission plus receipt wait.
	DeployTimeout time.Duration `mapstructure:"deploy_timeout" yaml:"deploy_timeout"`
}

func DefaultConfig() Config {
	return Config{DeployTimeout: 5 * time.Minute}
}

// Status is a Safe with its collected signatures. IsReady is derived, never stored.
type Status struct {
	Safe           *store.Safe           `json:"safe"`
	Signers        []string              `json:"signers"`
	Signatures     []store.SafeSignature `json:"signatures"`
	SignatureCount int                   `json:"signature_count"`
	IsReady        bool                  `json:"is_ready"`
	Deployed       bool                  `json:"deployed"`
	Address        *string               `json:"address,omitempty"`
}

// DeployData is what a client needs to call the factory itself.
type DeployData struct {
	Threshold       uint32        `json:"threshold"`
	SignatureHashes []common.Hash `json:"signature_hashes"`
}

// Deployment is the outcome of a successful deploy or reconciliation.
type Deployment struct {
	Safe         *store.Safe    `json:"safe"`
	TxHash       *common.Hash   `json:"tx_hash,omitempty"`
	SafeAddress  common.Address `json:"safe_address"`
	OwnerAddress common.Address `json:"owner_address"`
}

// Service owns every Safe state transition.
type Service struct {
	cfg     Config
	store   store.Store
	chain   chain.Client
	log     zerolog.Logger
	metrics *Metrics
}

func NewService(cfg Config, st store.Store, ch chain.Client, log zerolog.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if ch == nil {
		return nil, errors.New("chain client is required")
	}
	if cfg.Deployer != "" && !common.IsHexAddress(cfg.Deployer) {
		return nil, fmt.Errorf("invalid deployer address %q", cfg.Deployer)
	}
	return &Service{
		cfg:     cfg,
		store:   st,
		chain:   ch,
		log:     log.With().Str("component", "safe-service").Logger(),
		metrics: NewMetrics(),
	}, nil
}

// GetSafe returns the Safe with its signatures.
func (s *Service) GetSafe(ctx context.Context, safeID string) (*Status, error) {
	sf, err := s.loadSafe(ctx, safeID)
	if err != nil {
		return nil, err
	}
	sigs, err := s.store.ListSignatures(ctx, sf.ID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	return s.buildStatus(sf, sigs), nil
}

// ResolveSafe finds a Safe by deployed address, owner address or id.
func (s *Service) ResolveSafe(ctx context.Context, ref string) (*store.Safe, error) {
	ref = strings.TrimSpace(ref)
	if common.IsHexAddress(ref) {
		sf, err := s.store.FindSafeByAddress(ctx, common.HexToAddress(ref).Hex())
		if err == nil {
			return sf, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return s.loadSafe(ctx, ref)
}

// SignatureHashes returns the Safe's signer identifiers, earliest first.
func (s *Service) SignatureHashes(ctx context.Context, ref string) ([]store.SafeSignature, error) {
	sf, err := s.ResolveSafe(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.store.ListSignatures(ctx, sf.ID)
}

// DeployData returns the factory arguments for the Safe.
func (s *Service) DeployData(ctx context.Context, safeID string) (*DeployData, error) {
	sf, err := s.loadSafe(ctx, safeID)
	if err != nil {
		return nil, err
	}
	sigs, err := s.store.ListSignatures(ctx, sf.ID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	return &DeployData{Threshold: sf.Threshold, SignatureHashes: identifiers(sigs)}, nil
}

func (s *Service) loadSafe(ctx context.Context, safeID string) (*store.Safe, error) {
	sf, err := s.store.GetSafe(ctx, safeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, zkerr.New(zkerr.CodeSafeNotFound, "safe %s not found", safeID).WithContext("safe_id", safeID)
	}
	if err != nil {
		return nil, fmt.Errorf("load safe: %w", err)
	}
	return sf, nil
}

func (s *Service) buildStatus(sf *store.Safe, sigs []store.SafeSignature) *Status {
	var signers []string
	if err := json.Unmarshal(sf.Signers, &signers); err != nil {
		s.log.Warn().Err(err).Str("safe_id", sf.ID).Msg("Stored signers could not be decoded")
		signers = nil
	}
	if sigs == nil {
		sigs = []store.SafeSignature{}
	}
	return &Status{
		Safe:           sf,
		Signers:        signers,
		Signatures:     sigs,
		SignatureCount: len(sigs),
		IsReady:        len(sigs) >= int(sf.Threshold),
		Deployed:       sf.Deployed,
		Address:        sf.Address,
	}
}

func identifiers(sigs []store.SafeSignature) []common.Hash {
	out := make([]common.Hash, len(sigs))
	for i, sig := range sigs {
		out[i] = common.HexToHash(sig.SignatureHash)
	}
	return out
}
