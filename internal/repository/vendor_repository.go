package repository

import (
	"context"
	"errors"

	"aa-backend/internal/models"

	"gorm.io/gorm"
)

// VendorRepository data access for vendors
type VendorRepository interface {
	GetByUUID(ctx context.Context, uuid string) (*models.Vendor, error)
	GetByWalletAddress(ctx context.Context, walletAddress string) (*models.Vendor, error)
}

type vendorRepository struct {
	db *gorm.DB
}

// NewVendorRepository creates a vendor repository
func NewVendorRepository(db *gorm.DB) VendorRepository {
	return &vendorRepository{db: db}
}

func (r *vendorRepository) GetByUUID(ctx context.Context, uuid string) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&vendor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &vendor, nil
}

func (r *vendorRepository) GetByWalletAddress(ctx context.Context, walletAddress string) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.db.WithContext(ctx).Where("wallet_address = ?", walletAddress).First(&vendor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &vendor, nil
}
