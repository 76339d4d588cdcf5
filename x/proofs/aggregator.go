package proofs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/compose-network/zksafe/x/zkerr"
)

// Config controls recursive aggregation.
type Config struct {
	RecursiveCircuit string        `mapstructure:"recursive_circuit" yaml:"recursive_circuit"`
	MaxConcurrency   int           `mapstructure:"max_concurrency"   yaml:"max_concurrency"`
	Timeout          time.Duration `mapstructure:"timeout"           yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		RecursiveCircuit: "recursive_aggregation",
		MaxConcurrency:   2,
		Timeout:          10 * time.Minute,
	}
}

// Aggregator folds approval proofs into one recursive proof with a pairwise combinator.
type Aggregator struct {
	cfg     Config
	backend Backend
	log     zerolog.Logger
	metrics *Metrics

	vkMu sync.Mutex
	vk   Fields
}

func NewAggregator(cfg Config, backend Backend, log zerolog.Logger) *Aggregator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Aggregator{
		cfg:     cfg,
		backend: backend,
		log:     log.With().Str("component", "proof-aggregator").Logger(),
		metrics: NewMetrics(),
	}
}

// Combined is the output of one combinator step.
type Combined struct {
	// Artifact is set for intermediate steps so the result can be folded again.
	Artifact Artifact
	// Raw is set for the final step.
	Raw RawProof
}

// Combine verifies p1 and p2 inside the recursive circuit.
func (a *Aggregator) Combine(ctx context.Context, p1, p2 Artifact, final bool) (*Combined, error) {
	start := time.Now()
	circuit := a.cfg.RecursiveCircuit

	inputs := map[string]any{
		"p1_verification_key": p1.VerificationKey,
		"p1_proof":            p1.Proof,
		"p1_public_inputs":    p1.PublicInputs,
		"p1_key_hash":         keyHash(p1),
		"p2_verification_key": p2.VerificationKey,
		"p2_proof":            p2.Proof,
		"p2_public_inputs":    p2.PublicInputs,
		"p2_key_hash":         keyHash(p2),
	}

	witness, err := a.backend.Execute(ctx, circuit, inputs)
	if err != nil {
		a.metrics.RecordCombination(false, time.Since(start))
		return nil, backendError("execute", circuit, err)
	}

	out := &Combined{}
	if final {
		raw, err := a.backend.GenerateProof(ctx, circuit, witness)
		if err != nil {
			a.metrics.RecordCombination(false, time.Since(start))
			return nil, backendError("generate_proof", circuit, err)
		}
		out.Raw = raw
	} else {
		rec, err := a.backend.GenerateProofForRecursiveAggregation(ctx, circuit, witness)
		if err != nil {
			a.metrics.RecordCombination(false, time.Since(start))
			return nil, backendError("generate_recursive_proof", circuit, err)
		}
		vk, err := a.verificationKey(ctx)
		if err != nil {
			a.metrics.RecordCombination(false, time.Since(start))
			return nil, err
		}
		out.Artifact = Artifact{
			VerificationKey: vk,
			Proof:           rec.ProofAsFields,
			PublicInputs:    rec.InputsAsFields,
			KeyHash:         ZeroKeyHash,
		}
	}

	a.metrics.RecordCombination(true, time.Since(start))
	return out, nil
}

// Aggregate reduces artifacts with a balanced tree: neighbours are paired left to right,
// pairs of one level are combined concurrently and an odd tail moves up unchanged.
// Order of artifacts determines the result.
func (a *Aggregator) Aggregate(ctx context.Context, artifacts []Artifact) (*AggregatedProof, error) {
	if len(artifacts) < 2 {
		return nil, zkerr.New(zkerr.CodeInsufficientProofs, "aggregation needs at least 2 proofs, have %d", len(artifacts))
	}
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	level := append([]Artifact(nil), artifacts...)
	rounds := 0
	var final RawProof

	for len(level) > 1 {
		pairs := len(level) / 2
		isFinal := len(level) == 2
		next := make([]Artifact, (len(level)+1)/2)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.cfg.MaxConcurrency)
		for i := 0; i < pairs; i++ {
			i := i
			g.Go(func() error {
				c, err := a.Combine(gctx, level[2*i], level[2*i+1], isFinal)
				if err != nil {
					return err
				}
				if isFinal {
					final = c.Raw
				} else {
					next[i] = c.Artifact
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			a.metrics.RecordAggregation(false, len(artifacts), time.Since(start))
			a.log.Error().Err(err).Int("round", rounds).Int("proofs", len(artifacts)).Msg("Aggregation failed")
			return nil, err
		}
		if len(level)%2 == 1 {
			next[pairs] = level[len(level)-1]
		}

		rounds++
		a.log.Debug().Int("round", rounds).Int("remaining", len(next)).Msg("Aggregation round complete")
		level = next
	}

	a.metrics.RecordAggregation(true, len(artifacts), time.Since(start))
	a.log.Info().
		Int("proofs", len(artifacts)).
		Int("rounds", rounds).
		Dur("duration", time.Since(start)).
		Msg("Proofs aggregated")

	return &AggregatedProof{
		Proof:        final.Proof.Clone(),
		PublicInputs: final.PublicInputs,
		Rounds:       rounds,
	}, nil
}

func (a *Aggregator) verificationKey(ctx context.Context) (Fields, error) {
	a.vkMu.Lock()
	defer a.vkMu.Unlock()
	if a.vk != nil {
		return a.vk, nil
	}

	raw, err := a.backend.GetVerificationKey(ctx, a.cfg.RecursiveCircuit)
	if err != nil {
		return nil, backendError("get_verification_key", a.cfg.RecursiveCircuit, err)
	}
	fields, err := a.backend.VKAsFields(ctx, raw)
	if err != nil {
		return nil, backendError("vk_as_fields", a.cfg.RecursiveCircuit, err)
	}
	a.vk = fields
	return fields, nil
}

func keyHash(a Artifact) string {
	if a.KeyHash == "" {
		return ZeroKeyHash
	}
	return a.KeyHash
}

func backendError(step, circuit string, err error) error {
	return zkerr.New(zkerr.CodeProvingBackend, "%s", err.Error()).
		WithContext("step", step).
		WithContext("circuit", circuit).
		WithCause(err)
}
