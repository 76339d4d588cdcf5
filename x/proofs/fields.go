package proofs

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ZeroKeyHash is the key hash the recursive circuit expects for inner proofs.
const ZeroKeyHash = "0x0000000000000000000000000000000000000000000000000000000000000000"

// Fields is a list of BN254 scalar field elements encoded as 0x-hex or decimal strings.
type Fields []string

// Validate checks that every element is a canonical scalar (< r).
func (f Fields) Validate() error {
	for i, s := range f {
		if _, err := parseField(s); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// Normalize returns the elements as 32-byte 0x-hex strings.
func (f Fields) Normalize() (Fields, error) {
	out := make(Fields, len(f))
	for i, s := range f {
		e, err := parseField(s)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		b := e.Bytes()
		out[i] = hexutil.Encode(b[:])
	}
	return out, nil
}

// FieldFromBytes reduces a big-endian value into the scalar field.
func FieldFromBytes(b []byte) string {
	var e fr.Element
	e.SetBytes(b)
	out := e.Bytes()
	return hexutil.Encode(out[:])
}

func parseField(s string) (fr.Element, error) {
	var e fr.Element
	s = strings.TrimSpace(s)
	if s == "" {
		return e, fmt.Errorf("empty field element")
	}

	v := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = v.SetString(s[2:], 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok {
		return e, fmt.Errorf("malformed field element %q", s)
	}
	if v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return e, fmt.Errorf("field element %q not in [0, r)", s)
	}
	e.SetBigInt(v)
	return e, nil
}
