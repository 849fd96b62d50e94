package repository

import (
	"context"
	"errors"
	"time"

	"aa-backend/internal/models"

	"gorm.io/gorm"
)

// GroupRepository data access for beneficiary groups and their members
type GroupRepository interface {
	GetByUUID(ctx context.Context, uuid string) (*models.BeneficiaryGroup, error)
	GetByUUIDs(ctx context.Context, uuids []string) ([]models.BeneficiaryGroup, error)
	// FindDisbursable returns groups holding tokens that have not been
	// disbursed, are not attached to a payout, and are not already queued
	// or submitted.
	FindDisbursable(ctx context.Context) ([]models.BeneficiaryGroup, error)
	// ClaimForDisbursement atomically moves a disbursable group to QUEUED.
	// Returns false when the group is already claimed, submitted, or
	// disbursed, so concurrent disburse calls cannot double-submit.
	ClaimForDisbursement(ctx context.Context, uuid string) (bool, error)
	GetMembers(ctx context.Context, groupUUID string) ([]models.GroupMember, error)
	UpdateStatus(ctx context.Context, uuid string, status models.GroupDisbursementStatus) error
	MarkDisbursed(ctx context.Context, uuid string, txHash string) error
	// FindStaleInitiated returns groups stuck in INITIATED with no update
	// since the cutoff.
	FindStaleInitiated(ctx context.Context, cutoff time.Time) ([]models.BeneficiaryGroup, error)
}

type groupRepository struct {
	db *gorm.DB
}

// NewGroupRepository creates a group repository
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) GetByUUID(ctx context.Context, uuid string) (*models.BeneficiaryGroup, error) {
	var group models.BeneficiaryGroup
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

func (r *groupRepository) GetByUUIDs(ctx context.Context, uuids []string) ([]models.BeneficiaryGroup, error) {
	var groups []models.BeneficiaryGroup
	err := r.db.WithContext(ctx).Where("uuid IN ?", uuids).Find(&groups).Error
	return groups, err
}

func (r *groupRepository) FindDisbursable(ctx context.Context) ([]models.BeneficiaryGroup, error) {
	var groups []models.BeneficiaryGroup
	err := r.db.WithContext(ctx).
		Where("number_of_tokens > 0 AND is_disbursed = ? AND payout_id IS NULL AND status IN ?",
			false, disbursableStatuses()).
		Find(&groups).Error
	return groups, err
}

func (r *groupRepository) ClaimForDisbursement(ctx context.Context, uuid string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.BeneficiaryGroup{}).
		Where("uuid = ? AND number_of_tokens > 0 AND is_disbursed = ? AND payout_id IS NULL AND status IN ?",
			uuid, false, disbursableStatuses()).
		Updates(map[string]interface{}{
			"status":     models.GroupDisbursementQueued,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// disbursableStatuses lists the states a group can be (re)disbursed from.
// QUEUED and INITIATED groups are in flight and must not be selected again.
func disbursableStatuses() []models.GroupDisbursementStatus {
	return []models.GroupDisbursementStatus{
		models.GroupDisbursementPending,
		models.GroupDisbursementFailed,
	}
}

func (r *groupRepository) GetMembers(ctx context.Context, groupUUID string) ([]models.GroupMember, error) {
	var members []models.GroupMember
	err := r.db.WithContext(ctx).Where("group_uuid = ?", groupUUID).Find(&members).Error
	return members, err
}

func (r *groupRepository) UpdateStatus(ctx context.Context, uuid string, status models.GroupDisbursementStatus) error {
	return r.db.WithContext(ctx).Model(&models.BeneficiaryGroup{}).
		Where("uuid = ?", uuid).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

func (r *groupRepository) MarkDisbursed(ctx context.Context, uuid string, txHash string) error {
	return r.db.WithContext(ctx).Model(&models.BeneficiaryGroup{}).
		Where("uuid = ?", uuid).
		Updates(map[string]interface{}{
			"status":       models.GroupDisbursementDisbursed,
			"is_disbursed": true,
			"tx_hash":      txHash,
			"updated_at":   time.Now(),
		}).Error
}

func (r *groupRepository) FindStaleInitiated(ctx context.Context, cutoff time.Time) ([]models.BeneficiaryGroup, error) {
	var groups []models.BeneficiaryGroup
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.GroupDisbursementInitiated, cutoff).
		Find(&groups).Error
	return groups, err
}
