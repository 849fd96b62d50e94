package utils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known strkey vectors from the Stellar ecosystem
const (
	validAccount  = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	validContract = "CA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJUWDA"
)

func TestDecodeStellarAccount(t *testing.T) {
	payload, err := DecodeStellarAccount(validAccount)
	require.NoError(t, err)
	assert.Len(t, payload, 32)
}

func TestDecodeStellarContract(t *testing.T) {
	payload, err := DecodeStellarContract(validContract)
	require.NoError(t, err)
	assert.Len(t, payload, 32)
}

func TestDecodeStrkey_RejectsBadChecksum(t *testing.T) {
	// flipping the last character only changes the checksum bytes
	tampered := validAccount[:55] + "A"
	if tampered == validAccount {
		tampered = validAccount[:55] + "B"
	}
	_, err := DecodeStellarAccount(tampered)
	assert.Error(t, err)
}

func TestDecodeStrkey_RejectsWrongVersion(t *testing.T) {
	// a contract strkey is not an account strkey
	_, err := DecodeStellarAccount(validContract)
	assert.Error(t, err)
}

func TestDecodeStrkey_RejectsBadLength(t *testing.T) {
	_, err := DecodeStellarAccount("GABC")
	assert.Error(t, err)
}

func TestStrkeyRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 32)

	encoded, err := EncodeStellarAccount(payload)
	require.NoError(t, err)
	assert.Len(t, encoded, 56)
	assert.Equal(t, byte('G'), encoded[0])

	decoded, err := DecodeStellarAccount(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestStrkeySeedRoundTrip(t *testing.T) {
	seed := bytes.Repeat([]byte{0x07}, 32)

	encoded, err := EncodeStrkey(seed, strkeyVersionSeed)
	require.NoError(t, err)
	assert.Equal(t, byte('S'), encoded[0])
	assert.True(t, IsStellarSeed(encoded))

	decoded, err := DecodeStellarSeed(encoded)
	require.NoError(t, err)
	assert.Equal(t, seed, decoded)
}

func TestEncodeStrkey_RejectsShortPayload(t *testing.T) {
	_, err := EncodeStellarAccount([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestIsEvmAddress(t *testing.T) {
	assert.True(t, IsEvmAddress("0x742d35Cc6634C0532925a3b0F26750C66d78EB66"))
	assert.True(t, IsEvmAddress("742d35Cc6634C0532925a3b0F26750C66d78EB66"))
	assert.False(t, IsEvmAddress(""))
	assert.False(t, IsEvmAddress("0x742d35"))
	assert.False(t, IsEvmAddress("0xZZZd35Cc6634C0532925a3b0F26750C66d78EB66"))
	assert.False(t, IsEvmAddress(validAccount))
}

func TestNormalizeEvmAddress(t *testing.T) {
	assert.Equal(t, "0x742d35cc6634c0532925a3b0f26750c66d78eb66",
		NormalizeEvmAddress("0x742d35Cc6634C0532925a3b0F26750C66d78EB66"))
	assert.Equal(t, "0x742d35cc6634c0532925a3b0f26750c66d78eb66",
		NormalizeEvmAddress("742d35Cc6634C0532925a3b0F26750C66d78EB66"))
	// invalid input passes through unchanged
	assert.Equal(t, "not-an-address", NormalizeEvmAddress("not-an-address"))
}

func TestDetectAddressKind(t *testing.T) {
	assert.Equal(t, AddressKindStellar, DetectAddressKind(validAccount))
	assert.Equal(t, AddressKindEvm, DetectAddressKind("0x742d35Cc6634C0532925a3b0F26750C66d78EB66"))
	assert.Equal(t, AddressKindUnknown, DetectAddressKind(validContract))
	assert.Equal(t, AddressKindUnknown, DetectAddressKind("+9779800000000"))
	assert.Equal(t, AddressKindUnknown, DetectAddressKind(""))

	// shape wins over checksum validity for routing
	tampered := "G" + validAccount[1:55] + "A"
	assert.Equal(t, AddressKindStellar, DetectAddressKind(tampered))
}
