package repository

import (
	"context"
	"errors"
	"time"

	"aa-backend/internal/models"

	"gorm.io/gorm"
)

// TriggerRepository data access for triggers
type TriggerRepository interface {
	Create(ctx context.Context, trigger *models.Trigger) error
	GetByUUID(ctx context.Context, uuid string) (*models.Trigger, error)
	UpdateTransactionHash(ctx context.Context, uuid string, txHash string) error
	UpdateParams(ctx context.Context, uuid string, paramsJSON string) error
}

type triggerRepository struct {
	db *gorm.DB
}

// NewTriggerRepository creates a trigger repository
func NewTriggerRepository(db *gorm.DB) TriggerRepository {
	return &triggerRepository{db: db}
}

func (r *triggerRepository) Create(ctx context.Context, trigger *models.Trigger) error {
	return r.db.WithContext(ctx).Create(trigger).Error
}

func (r *triggerRepository) GetByUUID(ctx context.Context, uuid string) (*models.Trigger, error) {
	var trigger models.Trigger
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&trigger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trigger, nil
}

func (r *triggerRepository) UpdateTransactionHash(ctx context.Context, uuid string, txHash string) error {
	return r.db.WithContext(ctx).Model(&models.Trigger{}).
		Where("uuid = ?", uuid).
		Updates(map[string]interface{}{
			"transaction_hash": txHash,
			"updated_at":       time.Now(),
		}).Error
}

func (r *triggerRepository) UpdateParams(ctx context.Context, uuid string, paramsJSON string) error {
	return r.db.WithContext(ctx).Model(&models.Trigger{}).
		Where("uuid = ?", uuid).
		Updates(map[string]interface{}{
			"params":     paramsJSON,
			"updated_at": time.Now(),
		}).Error
}
