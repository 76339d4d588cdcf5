package proofs

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// ContractSignatureMarker is the Safe "v" value for a contract (EIP-1271) signature
	// whose data sits at the offset encoded in the "s" word.
	ContractSignatureMarker = 65

	wordSize        = 32
	signatureHeader = 2*wordSize + 1
	// dataOffset is where the length-prefixed proof starts: right after r, s and v.
	dataOffset = signatureHeader
)

// EncodeSignature builds the Safe signature blob for a single contract owner:
//
//	r = owner left-padded to 32 bytes
//	s = 65, the offset of the dynamic part
//	v = 0x00
//	uint256(len(proof)) ‖ proof
func EncodeSignature(owner common.Address, proof []byte) []byte {
	out := make([]byte, 0, signatureHeader+wordSize+len(proof))
	out = append(out, common.LeftPadBytes(owner.Bytes(), wordSize)...)
	out = append(out, uint256Word(ContractSignatureMarker)...)
	out = append(out, 0x00)
	out = append(out, uint256Word(uint64(len(proof)))...)
	out = append(out, proof...)
	return out
}

// DecodedSignature is the parsed form of an EncodeSignature blob.
type DecodedSignature struct {
	Owner  common.Address
	Offset uint64
	Proof  []byte
}

// DecodeSignature parses a blob produced by EncodeSignature.
func DecodeSignature(blob []byte) (*DecodedSignature, error) {
	if len(blob) < signatureHeader+wordSize {
		return nil, fmt.Errorf("signature too short: %d bytes", len(blob))
	}
	if !allZero(blob[:12]) {
		return nil, fmt.Errorf("owner word is not a left-padded address")
	}
	offset, err := readWord(blob[wordSize : 2*wordSize])
	if err != nil {
		return nil, fmt.Errorf("offset: %w", err)
	}
	if offset != ContractSignatureMarker {
		return nil, fmt.Errorf("unexpected offset %d", offset)
	}
	if blob[2*wordSize] != 0x00 {
		return nil, fmt.Errorf("unexpected signature type byte 0x%02x", blob[2*wordSize])
	}
	length, err := readWord(blob[dataOffset : dataOffset+wordSize])
	if err != nil {
		return nil, fmt.Errorf("length: %w", err)
	}
	body := blob[dataOffset+wordSize:]
	if uint64(len(body)) != length {
		return nil, fmt.Errorf("proof length %d does not match payload of %d bytes", length, len(body))
	}
	return &DecodedSignature{
		Owner:  common.BytesToAddress(blob[12:wordSize]),
		Offset: offset,
		Proof:  append([]byte(nil), body...),
	}, nil
}

func uint256Word(v uint64) []byte {
	w := make([]byte, wordSize)
	binary.BigEndian.PutUint64(w[wordSize-8:], v)
	return w
}

func readWord(w []byte) (uint64, error) {
	v := new(big.Int).SetBytes(w)
	if !v.IsUint64() {
		return 0, fmt.Errorf("value exceeds uint64")
	}
	return v.Uint64(), nil
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
