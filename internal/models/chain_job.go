package models

import (
	"time"
)

// ChainJob status
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"    // waiting for a worker
	JobStatusProcessing JobStatus = "processing" // picked up by a worker
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed" // attempts exhausted
)

// Queue names. The trigger queue runs with a single worker so commitments
// land in order.
const (
	QueueStellar  = "stellar"
	QueueEvm      = "evm"
	QueueTriggers = "triggers"
)

// Job types dispatched by the queue workers
type JobType string

const (
	JobTypeDisburse                 JobType = "disburse"
	JobTypeDisbursementStatusUpdate JobType = "disbursement_status_update"
	JobTypeAssignTokens             JobType = "assign_tokens"
	JobTypeAddTrigger               JobType = "add_trigger"
	JobTypeUpdateTriggerParams      JobType = "update_trigger_params"
	JobTypeCheckBalance             JobType = "check_balance"
	JobTypeFundAccount              JobType = "fund_account"
	JobTypeTransferTokens           JobType = "transfer_tokens"
)

// BackoffKind retry delay strategy
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// ChainJob is one unit of background work, persisted so restarts never
// lose accepted work.
type ChainJob struct {
	ID          string      `json:"id" gorm:"primaryKey"` // UUID
	Queue       string      `json:"queue" gorm:"index;not null"`
	JobType     JobType     `json:"job_type" gorm:"not null"`
	JobName     string      `json:"job_name"`                            // human-readable, e.g. "flood_fund_monsoon"
	Payload     string      `json:"payload" gorm:"type:jsonb;not null"`  // JSON payload
	Result      string      `json:"result" gorm:"type:jsonb"`            // JSON result for request/reply jobs
	Status      JobStatus   `json:"status" gorm:"index;not null"`
	Chain       string      `json:"chain" gorm:"index"`
	Priority    int         `json:"priority" gorm:"default:10"` // 1-20, lower runs first
	MaxAttempts int         `json:"max_attempts" gorm:"default:3"`
	Attempts    int         `json:"attempts" gorm:"default:0"`
	BackoffKind BackoffKind `json:"backoff_kind" gorm:"default:exponential"`
	BackoffMs   int64       `json:"backoff_ms" gorm:"default:1000"` // base delay
	NextRunAt   time.Time   `json:"next_run_at" gorm:"index"`
	StartedAt   *time.Time  `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at"`
	LastError   string      `json:"last_error" gorm:"type:text"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NextRetryTime computes the next attempt time from the backoff strategy.
// Exponential doubles the base delay per attempt, capped at 10 minutes.
func (j *ChainJob) NextRetryTime() time.Time {
	base := time.Duration(j.BackoffMs) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}

	delay := base
	if j.BackoffKind == BackoffExponential {
		delay = base * time.Duration(1<<uint(j.Attempts))
		maxDelay := 10 * time.Minute
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return time.Now().Add(delay)
}

// ShouldRetry reports whether the job has attempts left
func (j *ChainJob) ShouldRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// RecordFailure increments the attempt counter and either reschedules the
// job or marks it failed when attempts are exhausted.
func (j *ChainJob) RecordFailure(errorMsg string) {
	j.Attempts++
	j.LastError = errorMsg

	if j.Attempts >= j.MaxAttempts {
		j.Status = JobStatusFailed
		now := time.Now()
		j.CompletedAt = &now
		return
	}

	j.Status = JobStatusPending
	j.NextRunAt = j.NextRetryTime()
}

// MarkCompleted stores the result and stamps completion
func (j *ChainJob) MarkCompleted(resultJSON string) {
	j.Status = JobStatusCompleted
	j.Result = resultJSON
	now := time.Now()
	j.CompletedAt = &now
}
