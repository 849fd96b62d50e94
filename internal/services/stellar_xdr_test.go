package services

import (
	"bytes"
	"encoding/base64"
	"testing"

	"aa-backend/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeed(t *testing.T) string {
	t.Helper()
	seed, err := utils.EncodeStellarSeed(bytes.Repeat([]byte{0x11}, 32))
	require.NoError(t, err)
	return seed
}

func TestParseStroops(t *testing.T) {
	cases := map[string]int64{
		"1":          10_000_000,
		"0.5":        5_000_000,
		"0.0000001":  1,
		"100":        1_000_000_000,
		"0":          0,
		"1.23456789": 12_345_678, // sub-stroop precision truncates
	}
	for in, want := range cases {
		got, err := ParseStroops(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "abc", "-1"} {
		_, err := ParseStroops(bad)
		assert.Error(t, err, bad)
	}
}

func TestAddressFromSeed(t *testing.T) {
	seed := testSeed(t)

	addr, err := AddressFromSeed(seed)
	require.NoError(t, err)
	assert.True(t, utils.IsStellarAccountAddress(addr))

	// derivation is deterministic
	addr2, err := AddressFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, addr, addr2)
}

func TestAddressFromSeed_RejectsBadSeed(t *testing.T) {
	_, err := AddressFromSeed("not-a-seed")
	assert.Error(t, err)
}

func testTx(t *testing.T) *StellarTx {
	t.Helper()
	seed := testSeed(t)
	source, err := AddressFromSeed(seed)
	require.NoError(t, err)

	return &StellarTx{
		SourceAccount: source,
		Fee:           100,
		SeqNum:        42,
		Payments: []PaymentOp{{
			Destination: source,
			Asset:       StellarAsset{},
			Amount:      10_000_000,
		}},
	}
}

func TestTransactionHash_NetworkScoped(t *testing.T) {
	tx := testTx(t)

	h1, err := TransactionHash(tx, "Test SDF Network ; September 2015")
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	h2, err := TransactionHash(tx, "Test SDF Network ; September 2015")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// the same transaction hashes differently on another network
	h3, err := TransactionHash(tx, "Public Global Stellar Network ; September 2015")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestEncodeUnsignedEnvelope(t *testing.T) {
	encoded, err := EncodeUnsignedEnvelope(testTx(t))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	// ENVELOPE_TYPE_TX discriminant leads
	assert.Equal(t, []byte{0, 0, 0, 2}, raw[:4])
	// zero signatures trail
	assert.Equal(t, []byte{0, 0, 0, 0}, raw[len(raw)-4:])
}

func TestSignAndEncodeEnvelope(t *testing.T) {
	seed := testSeed(t)
	encoded, err := SignAndEncodeEnvelope(testTx(t), seed, "Test SDF Network ; September 2015")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	unsigned, err := EncodeUnsignedEnvelope(testTx(t))
	require.NoError(t, err)
	unsignedRaw, err := base64.StdEncoding.DecodeString(unsigned)
	require.NoError(t, err)

	// signed envelope shares the tx body and adds one decorated signature:
	// 4-byte hint + length-prefixed 64-byte signature
	assert.Equal(t, unsignedRaw[:len(unsignedRaw)-4], raw[:len(unsignedRaw)-4])
	assert.Equal(t, len(unsignedRaw)+4+4+64, len(raw))
}

func TestXdrOpaquePadding(t *testing.T) {
	w := &xdrWriter{}
	w.opaque([]byte("abc"))
	assert.Equal(t, []byte{0, 0, 0, 3, 'a', 'b', 'c', 0}, w.buf.Bytes())

	w2 := &xdrWriter{}
	w2.opaque([]byte("abcd"))
	assert.Equal(t, 8, w2.buf.Len())
}

func TestXdrAssetEncoding(t *testing.T) {
	issuer, err := AddressFromSeed(testSeed(t))
	require.NoError(t, err)

	native := &xdrWriter{}
	require.NoError(t, native.asset(StellarAsset{}))
	assert.Equal(t, []byte{0, 0, 0, 0}, native.buf.Bytes())

	alphanum4 := &xdrWriter{}
	require.NoError(t, alphanum4.asset(StellarAsset{Code: "USDC", Issuer: issuer}))
	// discriminant + 4-byte code + accountID (key type + 32 bytes)
	assert.Equal(t, 4+4+4+32, alphanum4.buf.Len())
	assert.Equal(t, []byte{0, 0, 0, 1}, alphanum4.buf.Bytes()[:4])

	alphanum12 := &xdrWriter{}
	require.NoError(t, alphanum12.asset(StellarAsset{Code: "RAHATTOKEN", Issuer: issuer}))
	assert.Equal(t, []byte{0, 0, 0, 2}, alphanum12.buf.Bytes()[:4])

	tooLong := &xdrWriter{}
	assert.Error(t, tooLong.asset(StellarAsset{Code: "THIRTEENCHARSX", Issuer: issuer}))
}
