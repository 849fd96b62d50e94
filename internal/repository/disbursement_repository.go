package repository

import (
	"context"
	"time"

	"aa-backend/internal/models"

	"gorm.io/gorm"
)

// DisbursementRepository data access for per-batch disbursement rows
type DisbursementRepository interface {
	Create(ctx context.Context, disbursement *models.Disbursement) error
	GetByGroup(ctx context.Context, groupUUID string) ([]models.Disbursement, error)
	// ListByRun returns the batches of one disbursement run in batch order
	ListByRun(ctx context.Context, runUUID string) ([]models.Disbursement, error)
	UpdateStatus(ctx context.Context, uuid string, status models.GroupDisbursementStatus, txHash, errorMsg string) error
}

type disbursementRepository struct {
	db *gorm.DB
}

// NewDisbursementRepository creates a disbursement repository
func NewDisbursementRepository(db *gorm.DB) DisbursementRepository {
	return &disbursementRepository{db: db}
}

func (r *disbursementRepository) Create(ctx context.Context, disbursement *models.Disbursement) error {
	return r.db.WithContext(ctx).Create(disbursement).Error
}

func (r *disbursementRepository) GetByGroup(ctx context.Context, groupUUID string) ([]models.Disbursement, error) {
	var rows []models.Disbursement
	err := r.db.WithContext(ctx).
		Where("group_uuid = ?", groupUUID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *disbursementRepository) ListByRun(ctx context.Context, runUUID string) ([]models.Disbursement, error) {
	var rows []models.Disbursement
	err := r.db.WithContext(ctx).
		Where("run_uuid = ?", runUUID).
		Order("batch_index ASC").
		Find(&rows).Error
	return rows, err
}

func (r *disbursementRepository) UpdateStatus(ctx context.Context, uuid string, status models.GroupDisbursementStatus, txHash, errorMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if txHash != "" {
		updates["tx_hash"] = txHash
	}
	if errorMsg != "" {
		updates["error_msg"] = errorMsg
	}
	return r.db.WithContext(ctx).Model(&models.Disbursement{}).
		Where("uuid = ?", uuid).
		Updates(updates).Error
}
