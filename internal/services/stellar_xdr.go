package services

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"aa-backend/internal/utils"
)

// Minimal XDR encoding for the two envelope shapes the backend submits:
// classic payments and soroban contract invocations. Only the discriminants
// actually used are defined.

const (
	envelopeTypeTx uint32 = 2

	memoNone    uint32 = 0
	precondNone uint32 = 0

	keyTypeEd25519 uint32 = 0

	assetTypeNative     uint32 = 0
	assetTypeAlphanum4  uint32 = 1
	assetTypeAlphanum12 uint32 = 2

	opTypePayment            uint32 = 1
	opTypeInvokeHostFunction uint32 = 24

	hostFunctionTypeInvokeContract uint32 = 0

	scAddressTypeContract uint32 = 1

	scvBool   uint32 = 0
	scvVoid   uint32 = 1
	scvString uint32 = 14
	scvSymbol uint32 = 15

	baseFeeStroops uint32 = 100
)

// ScVal is the subset of soroban values trigger calls need
type ScVal struct {
	kind uint32
	b    bool
	s    string
}

func ScString(s string) ScVal { return ScVal{kind: scvString, s: s} }
func ScSymbol(s string) ScVal { return ScVal{kind: scvSymbol, s: s} }
func ScBool(b bool) ScVal     { return ScVal{kind: scvBool, b: b} }
func ScVoid() ScVal           { return ScVal{kind: scvVoid} }

// StellarAsset alphanum asset or native when Code is empty
type StellarAsset struct {
	Code   string
	Issuer string
}

// PaymentOp one classic payment
type PaymentOp struct {
	Destination string // G... strkey
	Asset       StellarAsset
	Amount      int64 // stroops
}

// InvokeContractOp one soroban contract call. RawAuth carries the
// authorization entries returned by simulation, spliced back verbatim.
type InvokeContractOp struct {
	ContractID   string // C... strkey
	FunctionName string
	Args         []ScVal
	RawAuth      [][]byte
}

// StellarTx an unsigned transaction. RawSorobanData is the simulated
// resource footprint, spliced into the ext field verbatim.
type StellarTx struct {
	SourceAccount  string // G... strkey
	Fee            uint32
	SeqNum         int64
	Payments       []PaymentOp
	Invoke         *InvokeContractOp
	RawSorobanData []byte
}

type xdrWriter struct {
	buf bytes.Buffer
}

func (w *xdrWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *xdrWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *xdrWriter) i64(v int64) {
	w.u64(uint64(v))
}

func (w *xdrWriter) boolean(v bool) {
	if v {
		w.u32(1)
	} else {
		w.u32(0)
	}
}

// opaque writes variable-length bytes with padding to a 4-byte boundary
func (w *xdrWriter) opaque(data []byte) {
	w.u32(uint32(len(data)))
	w.buf.Write(data)
	if pad := (4 - len(data)%4) % 4; pad > 0 {
		w.buf.Write(make([]byte, pad))
	}
}

func (w *xdrWriter) str(s string) {
	w.opaque([]byte(s))
}

// fixedOpaque writes bytes without a length prefix
func (w *xdrWriter) fixedOpaque(data []byte) {
	w.buf.Write(data)
}

func (w *xdrWriter) muxedAccount(address string) error {
	pub, err := utils.DecodeStellarAccount(address)
	if err != nil {
		return fmt.Errorf("invalid account address %s: %w", address, err)
	}
	w.u32(keyTypeEd25519)
	w.fixedOpaque(pub)
	return nil
}

func (w *xdrWriter) accountID(address string) error {
	// AccountID is PublicKey, same wire shape as a non-muxed MuxedAccount
	return w.muxedAccount(address)
}

func (w *xdrWriter) asset(a StellarAsset) error {
	if a.Code == "" {
		w.u32(assetTypeNative)
		return nil
	}

	code := []byte(a.Code)
	if len(code) <= 4 {
		w.u32(assetTypeAlphanum4)
		padded := make([]byte, 4)
		copy(padded, code)
		w.fixedOpaque(padded)
	} else if len(code) <= 12 {
		w.u32(assetTypeAlphanum12)
		padded := make([]byte, 12)
		copy(padded, code)
		w.fixedOpaque(padded)
	} else {
		return fmt.Errorf("asset code too long: %s", a.Code)
	}

	return w.accountID(a.Issuer)
}

func (w *xdrWriter) scVal(v ScVal) {
	w.u32(v.kind)
	switch v.kind {
	case scvBool:
		w.boolean(v.b)
	case scvVoid:
		// no payload
	case scvString, scvSymbol:
		w.str(v.s)
	}
}

func (w *xdrWriter) paymentOp(op PaymentOp) error {
	w.u32(0) // no per-op source account
	w.u32(opTypePayment)
	if err := w.muxedAccount(op.Destination); err != nil {
		return err
	}
	if err := w.asset(op.Asset); err != nil {
		return err
	}
	w.i64(op.Amount)
	return nil
}

func (w *xdrWriter) invokeContractOp(op *InvokeContractOp) error {
	w.u32(0) // no per-op source account
	w.u32(opTypeInvokeHostFunction)

	w.u32(hostFunctionTypeInvokeContract)
	contractID, err := utils.DecodeStellarContract(op.ContractID)
	if err != nil {
		return fmt.Errorf("invalid contract id %s: %w", op.ContractID, err)
	}
	w.u32(scAddressTypeContract)
	w.fixedOpaque(contractID)
	w.str(op.FunctionName)
	w.u32(uint32(len(op.Args)))
	for _, arg := range op.Args {
		w.scVal(arg)
	}

	// auth entries from simulation, already XDR-encoded
	w.u32(uint32(len(op.RawAuth)))
	for _, auth := range op.RawAuth {
		w.fixedOpaque(auth)
	}

	return nil
}

// encodeTransaction marshals the Transaction body (not the envelope)
func encodeTransaction(tx *StellarTx) ([]byte, error) {
	w := &xdrWriter{}

	if err := w.muxedAccount(tx.SourceAccount); err != nil {
		return nil, err
	}
	w.u32(tx.Fee)
	w.i64(tx.SeqNum)
	w.u32(precondNone)
	w.u32(memoNone)

	opCount := len(tx.Payments)
	if tx.Invoke != nil {
		opCount++
	}
	w.u32(uint32(opCount))
	for _, p := range tx.Payments {
		if err := w.paymentOp(p); err != nil {
			return nil, err
		}
	}
	if tx.Invoke != nil {
		if err := w.invokeContractOp(tx.Invoke); err != nil {
			return nil, err
		}
	}

	if len(tx.RawSorobanData) > 0 {
		w.u32(1)
		w.fixedOpaque(tx.RawSorobanData)
	} else {
		w.u32(0)
	}

	return w.buf.Bytes(), nil
}

// SignatureBase returns the preimage whose SHA-256 is both signed and used
// as the transaction hash.
func SignatureBase(tx *StellarTx, networkPassphrase string) ([]byte, error) {
	txBytes, err := encodeTransaction(tx)
	if err != nil {
		return nil, err
	}

	networkID := sha256.Sum256([]byte(networkPassphrase))

	w := &xdrWriter{}
	w.fixedOpaque(networkID[:])
	w.u32(envelopeTypeTx)
	w.fixedOpaque(txBytes)
	return w.buf.Bytes(), nil
}

// TransactionHash computes the network-scoped transaction hash
func TransactionHash(tx *StellarTx, networkPassphrase string) (string, error) {
	base, err := SignatureBase(tx, networkPassphrase)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(base)
	return fmt.Sprintf("%x", sum), nil
}

// SignAndEncodeEnvelope signs the transaction with the S... seed and returns
// the base64 TransactionEnvelope ready for submission.
func SignAndEncodeEnvelope(tx *StellarTx, secretSeed, networkPassphrase string) (string, error) {
	seed, err := utils.DecodeStellarSeed(strings.TrimSpace(secretSeed))
	if err != nil {
		return "", fmt.Errorf("invalid secret seed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	base, err := SignatureBase(tx, networkPassphrase)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(base)
	sig := ed25519.Sign(priv, digest[:])

	txBytes, err := encodeTransaction(tx)
	if err != nil {
		return "", err
	}

	w := &xdrWriter{}
	w.u32(envelopeTypeTx)
	w.fixedOpaque(txBytes)
	w.u32(1) // one decorated signature
	w.fixedOpaque(pub[len(pub)-4:])
	w.opaque(sig)

	return base64.StdEncoding.EncodeToString(w.buf.Bytes()), nil
}

// EncodeUnsignedEnvelope returns the base64 envelope with zero signatures,
// the shape simulateTransaction expects.
func EncodeUnsignedEnvelope(tx *StellarTx) (string, error) {
	txBytes, err := encodeTransaction(tx)
	if err != nil {
		return "", err
	}

	w := &xdrWriter{}
	w.u32(envelopeTypeTx)
	w.fixedOpaque(txBytes)
	w.u32(0)
	return base64.StdEncoding.EncodeToString(w.buf.Bytes()), nil
}

// AddressFromSeed derives the G... account address of a secret seed
func AddressFromSeed(secretSeed string) (string, error) {
	seed, err := utils.DecodeStellarSeed(strings.TrimSpace(secretSeed))
	if err != nil {
		return "", fmt.Errorf("invalid secret seed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return utils.EncodeStellarAccount(pub)
}

func decodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// ParseStroops converts a decimal token amount string to stroops
// (7 decimal places).
func ParseStroops(amount string) (int64, error) {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(amount))
	if !ok {
		return 0, fmt.Errorf("invalid amount: %q", amount)
	}
	if rat.Sign() < 0 {
		return 0, fmt.Errorf("negative amount: %q", amount)
	}

	scaled := new(big.Rat).Mul(rat, big.NewRat(10_000_000, 1))
	if !scaled.IsInt() {
		// truncate sub-stroop precision
		scaled = new(big.Rat).SetInt(new(big.Int).Quo(scaled.Num(), scaled.Denom()))
	}

	num := scaled.Num()
	if !num.IsInt64() {
		return 0, fmt.Errorf("amount out of range: %q", amount)
	}
	return num.Int64(), nil
}
