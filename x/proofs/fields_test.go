package proofs

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"
)

func TestFieldsValidate(t *testing.T) {
	require.NoError(t, Fields{"0x01", "42", ZeroKeyHash}.Validate())

	modulus := "0x" + fr.Modulus().Text(16)
	require.Error(t, Fields{modulus}.Validate())
	require.Error(t, Fields{"0xnothex"}.Validate())
	require.Error(t, Fields{""}.Validate())
	require.Error(t, Fields{"-5"}.Validate())
}

func TestFieldsNormalize(t *testing.T) {
	out, err := Fields{"1", "0x0a"}.Normalize()
	require.NoError(t, err)
	require.Equal(t, Fields{
		"0x0000000000000000000000000000000000000000000000000000000000000001",
		"0x000000000000000000000000000000000000000000000000000000000000000a",
	}, out)
}

func TestFieldFromBytesReduces(t *testing.T) {
	big := make([]byte, 32)
	for i := range big {
		big[i] = 0xff
	}
	require.NoError(t, Fields{FieldFromBytes(big)}.Validate())
}

func TestZkProofDataValidate(t *testing.T) {
	valid := &ZkProofData{
		RawProof:       RawProof{Proof: ProofBytes{1}, PublicInputs: Fields{"0x01"}},
		VKAsFields:     Fields{"0x02"},
		ProofAsFields:  Fields{"0x03"},
		InputsAsFields: Fields{"0x04"},
	}
	require.NoError(t, valid.Validate())

	noProof := *valid
	noProof.RawProof = RawProof{}
	require.Error(t, noProof.Validate())

	noVK := *valid
	noVK.VKAsFields = nil
	require.Error(t, noVK.Validate())

	bad := *valid
	bad.InputsAsFields = Fields{"0x" + fr.Modulus().Text(16)}
	require.ErrorContains(t, bad.Validate(), "inputsAsFields")

	var nilData *ZkProofData
	require.Error(t, nilData.Validate())

	art := valid.Artifact()
	require.Equal(t, ZeroKeyHash, art.KeyHash)
	require.Equal(t, valid.VKAsFields, art.VerificationKey)
}

func TestParseZkProofData(t *testing.T) {
	d, err := ParseZkProofData(nil)
	require.NoError(t, err)
	require.Nil(t, d)

	d, err = ParseZkProofData([]byte(`{"rawProof":{"proof":[1,2],"publicInputs":["0x01"]},"vkAsFields":["0x02"],"proofAsFields":["0x03"],"inputsAsFields":[]}`))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, []byte(d.RawProof.Proof))
	require.Equal(t, Fields{"0x02"}, d.VKAsFields)
}
