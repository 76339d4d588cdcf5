package prover

import (
	"context"

	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/zksafe/x/proofs"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

func newClient(t *testing.T, fn roundTripFunc) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient("http://prover.local/api", &http.Client{Transport: fn}, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestHTTPClient_Execute(t *testing.T) {
	var captured executeRequest
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		require.Equal(t, http.MethodPost, req.Method)
		require.Equal(t, "/api/execute", req.URL.Path)
		require.Equal(t, "application/json", req.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&captured))
		return jsonResponse(http.StatusOK, `{"success":true,"result":{"witness":"0x0102"}}`), nil
	})

	witness, err := client.Execute(context.Background(), "recursive_aggregation", map[string]any{"p1_key_hash": proofs.ZeroKeyHash})
	require.NoError(t, err)
	require.Equal(t, proofs.ProofBytes{1, 2}, witness)
	require.Equal(t, "recursive_aggregation", captured.Circuit)
	require.Equal(t, proofs.ZeroKeyHash, captured.Inputs["p1_key_hash"])
}

func TestHTTPClient_GenerateProofAcceptsByteArrays(t *testing.T) {
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "/api/prove", req.URL.Path)
		return jsonResponse(http.StatusOK, `{"success":true,"result":{"proof":[9,8,7],"publicInputs":["0x01"]}}`), nil
	})

	raw, err := client.GenerateProof(context.Background(), "approval", proofs.ProofBytes{1})
	require.NoError(t, err)
	require.Equal(t, proofs.ProofBytes{9, 8, 7}, raw.Proof)
	require.Equal(t, proofs.Fields{"0x01"}, raw.PublicInputs)
}

func TestHTTPClient_RecursiveAndVK(t *testing.T) {
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/api/prove/recursive":
			return jsonResponse(http.StatusOK, `{"success":true,"result":{"proofAsFields":["0x01","0x02"],"inputsAsFields":["0x03"]}}`), nil
		case "/api/circuits/approval/vk":
			require.Equal(t, http.MethodGet, req.Method)
			return jsonResponse(http.StatusOK, `{"success":true,"result":{"vk":"0xaabb"}}`), nil
		case "/api/vk/fields":
			var body vkRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			require.Equal(t, proofs.ProofBytes{0xaa, 0xbb}, body.VK)
			return jsonResponse(http.StatusOK, `{"success":true,"result":{"fields":["0x0a","0x0b"]}}`), nil
		}
		t.Fatalf("unexpected path %s", req.URL.Path)
		return nil, nil
	})

	rec, err := client.GenerateProofForRecursiveAggregation(context.Background(), "approval", proofs.ProofBytes{1})
	require.NoError(t, err)
	require.Len(t, rec.ProofAsFields, 2)

	vk, err := client.GetVerificationKey(context.Background(), "approval")
	require.NoError(t, err)

	fields, err := client.VKAsFields(context.Background(), vk)
	require.NoError(t, err)
	require.Equal(t, proofs.Fields{"0x0a", "0x0b"}, fields)
}

func TestHTTPClient_ErrorsCarryBackendMessage(t *testing.T) {
	client := newClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnprocessableEntity, `{"success":false,"error":"Cannot satisfy constraint"}`), nil
	})
	_, err := client.Execute(context.Background(), "approval", nil)
	require.ErrorContains(t, err, "Cannot satisfy constraint")

	rejecting := newClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"success":false,"message":"circuit not found"}`), nil
	})
	_, err = rejecting.GetVerificationKey(context.Background(), "missing")
	require.ErrorContains(t, err, "circuit not found")

	empty := newClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"success":true,"result":{"witness":null}}`), nil
	})
	_, err = empty.Execute(context.Background(), "approval", nil)
	require.ErrorContains(t, err, "empty witness")
}

func TestNewHTTPClientValidatesURL(t *testing.T) {
	_, err := NewHTTPClient("", nil, zerolog.Nop())
	require.Error(t, err)
	_, err = NewHTTPClient("://bad", nil, zerolog.Nop())
	require.Error(t, err)
}
