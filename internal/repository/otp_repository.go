package repository

import (
	"context"
	"errors"
	"time"

	"aa-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OtpRepository data access for one-time passwords
type OtpRepository interface {
	// UpsertByPhone stores the record, replacing any previous OTP for the
	// phone number and resetting its verified flag.
	UpsertByPhone(ctx context.Context, record *models.OtpRecord) error
	GetByPhone(ctx context.Context, phoneNumber string) (*models.OtpRecord, error)
	MarkVerified(ctx context.Context, id string) error
	DeleteByPhone(ctx context.Context, phoneNumber string) error
}

type otpRepository struct {
	db *gorm.DB
}

// NewOtpRepository creates an OTP repository
func NewOtpRepository(db *gorm.DB) OtpRepository {
	return &otpRepository{db: db}
}

func (r *otpRepository) UpsertByPhone(ctx context.Context, record *models.OtpRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"otp_hash", "amount_locked", "vendor_uid", "is_verified", "expires_at", "updated_at",
		}),
	}).Create(record).Error
}

func (r *otpRepository) GetByPhone(ctx context.Context, phoneNumber string) (*models.OtpRecord, error) {
	var record models.OtpRecord
	err := r.db.WithContext(ctx).Where("phone_number = ?", phoneNumber).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *otpRepository) MarkVerified(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.OtpRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_verified": true,
			"updated_at":  time.Now(),
		}).Error
}

func (r *otpRepository) DeleteByPhone(ctx context.Context, phoneNumber string) error {
	return r.db.WithContext(ctx).Where("phone_number = ?", phoneNumber).Delete(&models.OtpRecord{}).Error
}
