package services

import (
	"context"

	"aa-backend/internal/dto"
)

// ChainKind ledger family of an adapter
type ChainKind string

const (
	ChainKindStellar ChainKind = "stellar"
	ChainKindEvm     ChainKind = "evm"
)

// TxStatus confirmation polling result
type TxStatus string

const (
	TxStatusConfirmed TxStatus = "CONFIRMED"
	TxStatusFailed    TxStatus = "FAILED"
	TxStatusNotFound  TxStatus = "NOT_FOUND"
)

// BeneficiaryShare one beneficiary's cut of a group disbursement. Amount is
// a decimal string in whole-token units; adapters scale it to ledger units.
type BeneficiaryShare struct {
	PhoneNumber   string
	WalletAddress string
	Amount        string
}

// BatchSubmission is one on-chain batch submitted during a disbursement run
type BatchSubmission struct {
	Index  int
	TxHash string
}

// ChainService is one ledger adapter. Every chain exposes the same surface;
// operations a ledger family cannot perform return an unsupported error so
// callers can tell "not possible here" from "failed".
type ChainService interface {
	ChainName() string
	Kind() ChainKind

	// ValidateAddress checks the address shape and checksum for this ledger
	ValidateAddress(address string) bool

	// GetWalletBalance lists native and project-token balances
	GetWalletBalance(ctx context.Context, address string) (*dto.WalletBalanceResponse, error)

	// BeneficiaryHasTokens reports whether the address holds any project
	// tokens, the precondition for issuing an OTP.
	BeneficiaryHasTokens(ctx context.Context, address string) (bool, error)

	// FundAccount sends native asset to an address. Returns the tx hash.
	FundAccount(ctx context.Context, req *dto.FundAccountRequest) (string, error)

	// TransferTokens moves project tokens from the service account
	TransferTokens(ctx context.Context, req *dto.TransferTokensRequest) (string, error)

	// TransferWithSecret moves project tokens signing with the supplied key
	// (beneficiary to vendor redemption path).
	TransferWithSecret(ctx context.Context, secret, toAddress, amount string) (string, error)

	// AssignTokens grants project tokens to a beneficiary
	AssignTokens(ctx context.Context, req *dto.AssignTokensRequest) (string, error)

	// DisburseShares executes one group's disbursement, splitting the
	// shares into chain-sized batches. Batches before fromBatch were
	// submitted by an earlier attempt and are skipped so a retry never
	// pays twice. Returns every batch submitted during this call, also on
	// error, so callers can persist partial progress.
	DisburseShares(ctx context.Context, groupUUID string, shares []BeneficiaryShare, fromBatch int) ([]BatchSubmission, error)

	// CheckTransactionStatus polls one submitted transaction
	CheckTransactionStatus(ctx context.Context, txHash string) (TxStatus, error)

	// AddTrigger commits a trigger definition on-chain
	AddTrigger(ctx context.Context, req *dto.AddTriggerRequest) (string, error)

	// UpdateTriggerParams updates a committed trigger
	UpdateTriggerParams(ctx context.Context, req *dto.UpdateTriggerParamsRequest) (string, error)
}
