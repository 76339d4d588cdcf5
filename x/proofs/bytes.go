package proofs

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ProofBytes is a byte payload exchanged with clients and the proving backend.
//
// Decodes 0x-hex strings, base64 strings, or JSON arrays of byte values (what
// browser provers emit for Uint8Array). Always encodes as 0x-hex.
type ProofBytes []byte

func (p *ProofBytes) UnmarshalJSON(data []byte) error {
	decoded, err := decodeFlexible(data)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

func (p ProofBytes) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(hexutil.Encode(p))
}

// Clone returns a copy that does not alias p.
func (p ProofBytes) Clone() ProofBytes {
	if len(p) == 0 {
		return nil
	}
	return append(ProofBytes(nil), p...)
}

func (p ProofBytes) String() string { return hexutil.Encode(p) }

func decodeFlexible(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	switch data[0] {
	case '[':
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return nil, fmt.Errorf("byte array must contain integers: %w", err)
		}
		out := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("byte %d out of range: %d", i, v)
			}
			out[i] = byte(v)
		}
		return out, nil

	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("invalid byte string: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			out, err := hexutil.Decode("0x" + s[2:])
			if err != nil {
				return nil, fmt.Errorf("hex decode: %w", err)
			}
			return out, nil
		}
		out, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("base64 decode: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported byte encoding")
}
