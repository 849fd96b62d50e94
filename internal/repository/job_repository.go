package repository

import (
	"context"
	"errors"
	"time"

	"aa-backend/internal/models"

	"gorm.io/gorm"
)

// JobRepository data access for the background job queue
type JobRepository interface {
	Create(ctx context.Context, job *models.ChainJob) error
	CreateBatch(ctx context.Context, jobs []*models.ChainJob) error
	GetByID(ctx context.Context, id string) (*models.ChainJob, error)
	// FindRunnable lists pending jobs due to run on a queue, oldest and
	// highest priority first.
	FindRunnable(ctx context.Context, queue string, limit int) ([]models.ChainJob, error)
	// Claim flips a pending job to processing. Returns false when another
	// worker won the race.
	Claim(ctx context.Context, id string) (bool, error)
	Save(ctx context.Context, job *models.ChainJob) error
	// RecoverStale returns processing rows untouched since the cutoff to
	// pending so accepted work survives restarts and crashes.
	RecoverStale(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, queue string, status models.JobStatus) (int64, error)
}

type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a job repository
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Create(ctx context.Context, job *models.ChainJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *jobRepository) CreateBatch(ctx context.Context, jobs []*models.ChainJob) error {
	if len(jobs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&jobs).Error
}

func (r *jobRepository) GetByID(ctx context.Context, id string) (*models.ChainJob, error) {
	var job models.ChainJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) FindRunnable(ctx context.Context, queue string, limit int) ([]models.ChainJob, error) {
	var jobs []models.ChainJob
	err := r.db.WithContext(ctx).
		Where("queue = ? AND status = ? AND next_run_at <= ?", queue, models.JobStatusPending, time.Now()).
		Order("priority ASC, next_run_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *jobRepository) Claim(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.ChainJob{}).
		Where("id = ? AND status = ?", id, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     models.JobStatusProcessing,
			"started_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *jobRepository) Save(ctx context.Context, job *models.ChainJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

func (r *jobRepository) RecoverStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.ChainJob{}).
		Where("status = ? AND updated_at < ?", models.JobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":      models.JobStatusPending,
			"next_run_at": time.Now(),
			"updated_at":  time.Now(),
		})
	return result.RowsAffected, result.Error
}

func (r *jobRepository) CountByStatus(ctx context.Context, queue string, status models.JobStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ChainJob{}).
		Where("queue = ? AND status = ?", queue, status).
		Count(&count).Error
	return count, err
}
