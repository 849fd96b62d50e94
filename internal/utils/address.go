package utils

import (
	"encoding/base32"
	"fmt"
	"regexp"
	"strings"
)

// Strkey version bytes (value << 3 so the first base32 character is fixed).
const (
	strkeyVersionAccount  byte = 6 << 3  // 'G'
	strkeyVersionSeed     byte = 18 << 3 // 'S'
	strkeyVersionContract byte = 2 << 3  // 'C'
)

var strkeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var evmHexPattern = regexp.MustCompile("^[0-9a-fA-F]{40}$")

// IsEvmAddress checks for a 20-byte hex address, with or without 0x prefix.
func IsEvmAddress(address string) bool {
	if address == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(address), "0x") {
		return len(address) == 42 && evmHexPattern.MatchString(address[2:])
	}
	return len(address) == 40 && evmHexPattern.MatchString(address)
}

// IsStellarAccountAddress checks for a valid ed25519 account strkey
// (56 chars, leading 'G', checksum verified).
func IsStellarAccountAddress(address string) bool {
	_, err := DecodeStrkey(address, strkeyVersionAccount)
	return err == nil
}

// IsStellarContractAddress checks for a valid contract strkey (leading 'C').
func IsStellarContractAddress(address string) bool {
	_, err := DecodeStrkey(address, strkeyVersionContract)
	return err == nil
}

// IsStellarSeed checks for a valid secret seed strkey (leading 'S').
func IsStellarSeed(seed string) bool {
	_, err := DecodeStrkey(seed, strkeyVersionSeed)
	return err == nil
}

// DecodeStellarAccount returns the 32-byte ed25519 public key of an account
// strkey.
func DecodeStellarAccount(address string) ([]byte, error) {
	return DecodeStrkey(address, strkeyVersionAccount)
}

// DecodeStellarContract returns the 32-byte contract id of a contract strkey.
func DecodeStellarContract(address string) ([]byte, error) {
	return DecodeStrkey(address, strkeyVersionContract)
}

// DecodeStellarSeed returns the 32-byte ed25519 seed of a secret strkey.
func DecodeStellarSeed(seed string) ([]byte, error) {
	return DecodeStrkey(seed, strkeyVersionSeed)
}

// DecodeStrkey decodes and checksum-verifies a strkey of the given version.
// Layout: version byte + 32-byte payload + CRC16-XModem (little endian),
// base32 encoded without padding (always 56 characters for 32-byte payloads).
func DecodeStrkey(key string, version byte) ([]byte, error) {
	if len(key) != 56 {
		return nil, fmt.Errorf("invalid strkey length: expected 56 chars, got %d", len(key))
	}

	raw, err := strkeyEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode strkey: %w", err)
	}
	if len(raw) != 35 {
		return nil, fmt.Errorf("invalid strkey payload length: expected 35 bytes, got %d", len(raw))
	}

	if raw[0] != version {
		return nil, fmt.Errorf("invalid strkey version byte: expected 0x%02x, got 0x%02x", version, raw[0])
	}

	body := raw[:33]
	checksum := uint16(raw[33]) | uint16(raw[34])<<8
	if crc16XModem(body) != checksum {
		return nil, fmt.Errorf("invalid strkey checksum")
	}

	return raw[1:33], nil
}

// EncodeStrkey encodes a 32-byte payload under the given version byte.
func EncodeStrkey(payload []byte, version byte) (string, error) {
	if len(payload) != 32 {
		return "", fmt.Errorf("invalid strkey payload length: expected 32 bytes, got %d", len(payload))
	}

	raw := make([]byte, 0, 35)
	raw = append(raw, version)
	raw = append(raw, payload...)
	checksum := crc16XModem(raw)
	raw = append(raw, byte(checksum&0xff), byte(checksum>>8))

	return strkeyEncoding.EncodeToString(raw), nil
}

// EncodeStellarAccount encodes a 32-byte ed25519 public key as a 'G' strkey.
func EncodeStellarAccount(publicKey []byte) (string, error) {
	return EncodeStrkey(publicKey, strkeyVersionAccount)
}

// EncodeStellarSeed encodes a 32-byte ed25519 seed as an 'S' strkey.
func EncodeStellarSeed(seed []byte) (string, error) {
	return EncodeStrkey(seed, strkeyVersionSeed)
}

// crc16XModem computes CRC16 with polynomial 0x1021 and zero initial value.
func crc16XModem(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// NormalizeEvmAddress lowercases and 0x-prefixes a 20-byte hex address.
func NormalizeEvmAddress(address string) string {
	if !IsEvmAddress(address) {
		return address
	}
	lower := strings.ToLower(address)
	if !strings.HasPrefix(lower, "0x") {
		return "0x" + lower
	}
	return lower
}

// AddressKind is the ledger family inferred from an address shape.
type AddressKind string

const (
	AddressKindStellar AddressKind = "stellar"
	AddressKindEvm     AddressKind = "evm"
	AddressKindUnknown AddressKind = "unknown"
)

// DetectAddressKind classifies an address by shape alone. 56 chars starting
// with 'G' is treated as stellar even when the checksum fails, matching the
// routing rule; full validation happens in the chain service.
func DetectAddressKind(address string) AddressKind {
	if len(address) == 56 && strings.HasPrefix(address, "G") {
		return AddressKindStellar
	}
	if strings.HasPrefix(address, "0x") && len(address) == 42 {
		return AddressKindEvm
	}
	return AddressKindUnknown
}
