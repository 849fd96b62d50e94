package repository

import (
	"context"
	"errors"
	"time"

	"aa-backend/internal/models"

	"gorm.io/gorm"
)

// RedeemRepository data access for beneficiary redeems
type RedeemRepository interface {
	Create(ctx context.Context, redeem *models.BeneficiaryRedeem) error
	GetByUUID(ctx context.Context, uuid string) (*models.BeneficiaryRedeem, error)
	// FindLatestPending returns the most recent pending, incomplete redeem
	// without a transaction hash for the wallet, or nil.
	FindLatestPending(ctx context.Context, walletAddress string) (*models.BeneficiaryRedeem, error)
	// UpsertPending refreshes the open redeem for a wallet or creates one
	UpsertPending(ctx context.Context, redeem *models.BeneficiaryRedeem) error
	UpdateStatus(ctx context.Context, uuid string, status models.RedeemStatus, errorMsg string) error
	// MarkInitiated records the submitted transfer hash while confirmation
	// is pending.
	MarkInitiated(ctx context.Context, uuid string, txHash string) error
	MarkCompleted(ctx context.Context, uuid string, txHash string) error
}

type redeemRepository struct {
	db *gorm.DB
}

// NewRedeemRepository creates a redeem repository
func NewRedeemRepository(db *gorm.DB) RedeemRepository {
	return &redeemRepository{db: db}
}

func (r *redeemRepository) Create(ctx context.Context, redeem *models.BeneficiaryRedeem) error {
	return r.db.WithContext(ctx).Create(redeem).Error
}

func (r *redeemRepository) GetByUUID(ctx context.Context, uuid string) (*models.BeneficiaryRedeem, error) {
	var redeem models.BeneficiaryRedeem
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&redeem).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &redeem, nil
}

func (r *redeemRepository) FindLatestPending(ctx context.Context, walletAddress string) (*models.BeneficiaryRedeem, error) {
	var redeem models.BeneficiaryRedeem
	err := r.db.WithContext(ctx).
		Where("beneficiary_wallet_address = ? AND status = ? AND is_completed = ? AND tx_hash IS NULL",
			walletAddress, models.RedeemStatusPending, false).
		Order("created_at DESC").
		First(&redeem).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &redeem, nil
}

func (r *redeemRepository) UpsertPending(ctx context.Context, redeem *models.BeneficiaryRedeem) error {
	existing, err := r.FindLatestPending(ctx, redeem.BeneficiaryWalletAddress)
	if err != nil {
		return err
	}

	if existing == nil {
		return r.Create(ctx, redeem)
	}

	return r.db.WithContext(ctx).Model(&models.BeneficiaryRedeem{}).
		Where("uuid = ?", existing.UUID).
		Updates(map[string]interface{}{
			"beneficiary_phone": redeem.BeneficiaryPhone,
			"vendor_uid":        redeem.VendorUid,
			"amount":            redeem.Amount,
			"status":            models.RedeemStatusPending,
			"is_completed":      false,
			"updated_at":        time.Now(),
		}).Error
}

func (r *redeemRepository) UpdateStatus(ctx context.Context, uuid string, status models.RedeemStatus, errorMsg string) error {
	return r.db.WithContext(ctx).Model(&models.BeneficiaryRedeem{}).
		Where("uuid = ?", uuid).
		Updates(map[string]interface{}{
			"status":     status,
			"error_msg":  errorMsg,
			"updated_at": time.Now(),
		}).Error
}

func (r *redeemRepository) MarkInitiated(ctx context.Context, uuid string, txHash string) error {
	return r.db.WithContext(ctx).Model(&models.BeneficiaryRedeem{}).
		Where("uuid = ?", uuid).
		Updates(map[string]interface{}{
			"status":     models.RedeemStatusInitiated,
			"tx_hash":    txHash,
			"updated_at": time.Now(),
		}).Error
}

func (r *redeemRepository) MarkCompleted(ctx context.Context, uuid string, txHash string) error {
	return r.db.WithContext(ctx).Model(&models.BeneficiaryRedeem{}).
		Where("uuid = ?", uuid).
		Updates(map[string]interface{}{
			"status":       models.RedeemStatusCompleted,
			"is_completed": true,
			"tx_hash":      txHash,
			"updated_at":   time.Now(),
		}).Error
}
