package models

import (
	"time"
)

// RedeemStatus beneficiary redeem lifecycle
type RedeemStatus string

const (
	RedeemStatusPending   RedeemStatus = "PENDING"
	RedeemStatusInitiated RedeemStatus = "TOKEN_TRANSACTION_INITIATED"
	RedeemStatusCompleted RedeemStatus = "COMPLETED"
	RedeemStatusFailed    RedeemStatus = "FAILED"
	RedeemStatusSynced    RedeemStatus = "SYNCED"
)

// GroupDisbursementStatus per-group disbursement lifecycle
type GroupDisbursementStatus string

const (
	GroupDisbursementPending   GroupDisbursementStatus = "PENDING"
	GroupDisbursementQueued    GroupDisbursementStatus = "QUEUED"
	GroupDisbursementInitiated GroupDisbursementStatus = "INITIATED"
	GroupDisbursementDisbursed GroupDisbursementStatus = "DISBURSED"
	GroupDisbursementFailed    GroupDisbursementStatus = "FAILED"
)

// OtpRecord stores the hashed one-time password issued to a beneficiary.
// One active record per phone number; re-sending overwrites it.
type OtpRecord struct {
	ID           string    `json:"id" gorm:"primaryKey"` // UUID
	PhoneNumber  string    `json:"phone_number" gorm:"uniqueIndex;not null"`
	OtpHash      string    `json:"otp_hash" gorm:"not null"`
	AmountLocked string    `json:"amount_locked" gorm:"not null"` // amount the hash binds
	VendorUid    string    `json:"vendor_uid"`
	IsVerified   bool      `json:"is_verified" gorm:"default:false"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BeneficiaryRedeem tracks one vendor redemption from OTP issuance through
// the on-chain transfer.
type BeneficiaryRedeem struct {
	UUID                     string       `json:"uuid" gorm:"primaryKey"`
	BeneficiaryWalletAddress string       `json:"beneficiary_wallet_address" gorm:"index;not null"`
	BeneficiaryPhone         string       `json:"beneficiary_phone" gorm:"index"`
	VendorUid                string       `json:"vendor_uid" gorm:"index"`
	Amount                   string       `json:"amount"`
	Status                   RedeemStatus `json:"status" gorm:"not null;default:PENDING"`
	IsCompleted              bool         `json:"is_completed" gorm:"default:false"`
	TxHash                   *string      `json:"tx_hash"`
	ErrorMsg                 string       `json:"error_msg" gorm:"type:text"`
	CreatedAt                time.Time    `json:"created_at"`
	UpdatedAt                time.Time    `json:"updated_at"`
}

// BeneficiaryGroup is a token reservation for a set of beneficiaries.
// A group is disbursable while it still holds tokens, has not been
// disbursed, and is not attached to a payout.
type BeneficiaryGroup struct {
	UUID             string                  `json:"uuid" gorm:"primaryKey"`
	Title            string                  `json:"title" gorm:"not null"`
	ReservationTitle string                  `json:"reservation_title"` // used in job names, group uuid when empty
	NumberOfTokens   int64                   `json:"number_of_tokens" gorm:"default:0"`
	IsDisbursed      bool                    `json:"is_disbursed" gorm:"default:false"`
	PayoutID         *string                 `json:"payout_id" gorm:"index"`
	Status           GroupDisbursementStatus `json:"status" gorm:"default:PENDING"`
	Info             string                  `json:"info" gorm:"type:jsonb"`
	TxHash           string                  `json:"tx_hash"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// GroupMember links a beneficiary to a group. The same phone/wallet may
// belong to several groups; shares aggregate at disbursement time.
type GroupMember struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	GroupUUID     string    `json:"group_uuid" gorm:"index;not null"`
	PhoneNumber   string    `json:"phone_number" gorm:"index"`
	WalletAddress string    `json:"wallet_address" gorm:"index;not null"`
	CreatedAt     time.Time `json:"created_at"`
}

// Vendor is a cash-out agent identified by wallet address
type Vendor struct {
	UUID          string    `json:"uuid" gorm:"primaryKey"`
	Name          string    `json:"name"`
	PhoneNumber   string    `json:"phone_number"`
	WalletAddress string    `json:"wallet_address" gorm:"uniqueIndex;not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Trigger is a hazard threshold definition committed on-chain
type Trigger struct {
	UUID            string    `json:"uuid" gorm:"primaryKey"`
	Title           string    `json:"title" gorm:"not null"`
	TriggerType     string    `json:"trigger_type"`
	Phase           string    `json:"phase"`
	Source          string    `json:"source"`
	RiverBasin      string    `json:"river_basin"`
	IsMandatory     bool      `json:"is_mandatory" gorm:"default:false"`
	Params          string    `json:"params" gorm:"type:jsonb"`
	TransactionHash string    `json:"transaction_hash"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Disbursement is one submitted batch of a disbursement run. Every batch
// keeps its own transaction hash and confirms independently; the group is
// disbursed only when all batches of the run are.
type Disbursement struct {
	UUID       string                  `json:"uuid" gorm:"primaryKey"`
	RunUUID    string                  `json:"run_uuid" gorm:"index;not null"`
	GroupUUID  string                  `json:"group_uuid" gorm:"index;not null"`
	Chain      string                  `json:"chain"`
	Status     GroupDisbursementStatus `json:"status" gorm:"default:PENDING"`
	TxHash     string                  `json:"tx_hash"`
	BatchIndex int                     `json:"batch_index"`
	ErrorMsg   string                  `json:"error_msg" gorm:"type:text"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}
