// Package prover is an HTTP client for the proving sidecar that wraps the circuit toolchain.
package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/compose-network/zksafe/x/proofs"
)

type Config struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"  yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:3001",
		Timeout: 5 * time.Minute,
	}
}

// HTTPClient implements proofs.Backend over the prover REST API.
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	log        zerolog.Logger
}

// NewHTTPClient constructs a prover client for the given base URL.
func NewHTTPClient(rawURL string, httpClient *http.Client, log zerolog.Logger) (*HTTPClient, error) {
	if rawURL == "" {
		return nil, errors.New("base URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid prover base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultConfig().Timeout}
	}
	logger := log.With().Str("component", "prover-client").Logger()

	logger.Info().
		Str("base_url", rawURL).
		Dur("timeout", httpClient.Timeout).
		Msg("HTTP prover client initialized")

	return &HTTPClient{
		baseURL:    parsed,
		httpClient: httpClient,
		log:        logger,
	}, nil
}

func (c *HTTPClient) Execute(ctx context.Context, circuit string, inputs map[string]any) (proofs.ProofBytes, error) {
	res, err := call[executeResult](ctx, c, http.MethodPost, c.buildURL("execute"), executeRequest{
		Circuit: circuit,
		Inputs:  inputs,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Witness) == 0 {
		return nil, errors.New("prover returned empty witness")
	}
	c.log.Debug().Str("circuit", circuit).Int("witness_bytes", len(res.Witness)).Msg("circuit executed")
	return res.Witness, nil
}

func (c *HTTPClient) GenerateProof(ctx context.Context, circuit string, witness proofs.ProofBytes) (proofs.RawProof, error) {
	res, err := call[proofs.RawProof](ctx, c, http.MethodPost, c.buildURL("prove"), proveRequest{
		Circuit: circuit,
		Witness: witness,
	})
	if err != nil {
		return proofs.RawProof{}, err
	}
	if len(res.Proof) == 0 {
		return proofs.RawProof{}, errors.New("prover returned empty proof")
	}
	c.log.Debug().Str("circuit", circuit).Int("proof_bytes", len(res.Proof)).Msg("proof generated")
	return res, nil
}

func (c *HTTPClient) GenerateProofForRecursiveAggregation(
	ctx context.Context,
	circuit string,
	witness proofs.ProofBytes,
) (proofs.RecursiveProof, error) {
	res, err := call[proofs.RecursiveProof](ctx, c, http.MethodPost, c.buildURL("prove", "recursive"), proveRequest{
		Circuit: circuit,
		Witness: witness,
	})
	if err != nil {
		return proofs.RecursiveProof{}, err
	}
	if len(res.ProofAsFields) == 0 {
		return proofs.RecursiveProof{}, errors.New("prover returned empty recursive proof")
	}
	return res, nil
}

func (c *HTTPClient) GetVerificationKey(ctx context.Context, circuit string) (proofs.ProofBytes, error) {
	if circuit == "" {
		return nil, errors.New("circuit is required")
	}
	res, err := call[vkResult](ctx, c, http.MethodGet, c.buildURL("circuits", circuit, "vk"), nil)
	if err != nil {
		return nil, err
	}
	return res.VK, nil
}

func (c *HTTPClient) VKAsFields(ctx context.Context, vk proofs.ProofBytes) (proofs.Fields, error) {
	res, err := call[fieldsResult](ctx, c, http.MethodPost, c.buildURL("vk", "fields"), vkRequest{VK: vk})
	if err != nil {
		return nil, err
	}
	return res.Fields, nil
}

// call performs one request and unwraps the {success, result, error} envelope.
func call[T any](ctx context.Context, c *HTTPClient, method, endpoint string, payload any) (T, error) {
	var zero T

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return zero, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return zero, fmt.Errorf("prepare request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("endpoint", endpoint).Msg("prover request failed")
		return zero, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		c.log.Error().
			Int("status_code", res.StatusCode).
			Str("status", res.Status).
			Str("response", string(msg)).
			Msg("prover returned error response")
		var env envelope[T]
		if json.Unmarshal(msg, &env) == nil && env.errorMessage() != "" {
			return zero, fmt.Errorf("prover returned %s: %s", res.Status, env.errorMessage())
		}
		return zero, fmt.Errorf("prover returned %s: %s", res.Status, string(msg))
	}

	var env envelope[T]
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return zero, fmt.Errorf("decode prover response: %w", err)
	}
	if !env.Success {
		msg := env.errorMessage()
		if msg == "" {
			msg = "unsuccessful response"
		}
		return zero, fmt.Errorf("prover rejected request: %s", msg)
	}
	if env.Result == nil {
		return zero, errors.New("prover response missing result")
	}
	return *env.Result, nil
}

func (c *HTTPClient) buildURL(elem ...string) string {
	clone := *c.baseURL
	clone.Path = path.Join(append([]string{c.baseURL.Path}, elem...)...)
	return clone.String()
}

type envelope[T any] struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Error   *string `json:"error"`
	Result  *T      `json:"result"`
}

func (e envelope[T]) errorMessage() string {
	if e.Error != nil {
		return *e.Error
	}
	return e.Message
}

type executeRequest struct {
	Circuit string         `json:"circuit"`
	Inputs  map[string]any `json:"inputs"`
}

type executeResult struct {
	Witness proofs.ProofBytes `json:"witness"`
}

type proveRequest struct {
	Circuit string            `json:"circuit"`
	Witness proofs.ProofBytes `json:"witness"`
}

type vkRequest struct {
	VK proofs.ProofBytes `json:"vk"`
}

type vkResult struct {
	VK proofs.ProofBytes `json:"vk"`
}

type fieldsResult struct {
	Fields proofs.Fields `json:"fields"`
}

// Ensure HTTPClient satisfies proofs.Backend at compile time.
var _ proofs.Backend = (*HTTPClient)(nil)
