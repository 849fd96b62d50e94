package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"aa-backend/internal/clients"
	"aa-backend/internal/metrics"
	"aa-backend/internal/models"
	"aa-backend/internal/repository"
	"aa-backend/internal/types"

	"github.com/google/uuid"
)

// JobHandler executes one job and returns a JSON result for request/reply
// callers. A transient error reschedules the job; anything else fails it.
type JobHandler func(ctx context.Context, job *models.ChainJob) (string, error)

// EnqueueOptions shape one enqueued job
type EnqueueOptions struct {
	Queue       string
	JobName     string
	Chain       string
	Priority    int
	MaxAttempts int
	Backoff     models.BackoffKind
	BackoffMs   int64
	Delay       time.Duration
}

// JobQueueService is a database-backed job queue with per-queue worker
// pools. Jobs survive restarts; delivery is at-least-once.
type JobQueueService struct {
	jobs        repository.JobRepository
	nats        *clients.NATSClient
	push        *JobPushService
	handlers    map[models.JobType]JobHandler
	handlersMu  sync.RWMutex
	concurrency map[string]int

	pollInterval time.Duration
	staleAfter   time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewJobQueueService creates the queue service. The trigger queue is always
// forced to one worker so commitments execute in order.
func NewJobQueueService(jobs repository.JobRepository, nats *clients.NATSClient, pollInterval, staleAfter time.Duration, concurrency map[string]int) *JobQueueService {
	merged := map[string]int{
		models.QueueStellar:  3,
		models.QueueEvm:      3,
		models.QueueTriggers: 1,
	}
	for queue, n := range concurrency {
		if n > 0 {
			merged[queue] = n
		}
	}
	merged[models.QueueTriggers] = 1

	return &JobQueueService{
		jobs:         jobs,
		nats:         nats,
		handlers:     make(map[models.JobType]JobHandler),
		concurrency:  merged,
		pollInterval: pollInterval,
		staleAfter:   staleAfter,
		stopChan:     make(chan struct{}),
	}
}

// SetPushService attaches the websocket stream for job state changes
func (s *JobQueueService) SetPushService(push *JobPushService) {
	s.push = push
}

func (s *JobQueueService) notifyPush(job *models.ChainJob) {
	if s.push != nil {
		s.push.BroadcastJobUpdate(job)
	}
}

// RegisterHandler installs the executor for a job type
func (s *JobQueueService) RegisterHandler(jobType models.JobType, handler JobHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[jobType] = handler
}

// Enqueue persists one job and returns its id
func (s *JobQueueService) Enqueue(ctx context.Context, jobType models.JobType, payload interface{}, opts EnqueueOptions) (string, error) {
	job, err := s.buildJob(jobType, payload, opts)
	if err != nil {
		return "", err
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.JobsEnqueued.WithLabelValues(job.Queue, string(jobType)).Inc()
	s.notifyPush(job)
	log.Printf("📥 [Queue] enqueued %s job %s on %s (name=%s)", jobType, job.ID, job.Queue, job.JobName)
	return job.ID, nil
}

// EnqueueBulk persists many jobs in one insert and returns their ids in
// order.
func (s *JobQueueService) EnqueueBulk(ctx context.Context, jobType models.JobType, payloads []interface{}, opts EnqueueOptions) ([]string, error) {
	jobs := make([]*models.ChainJob, 0, len(payloads))
	ids := make([]string, 0, len(payloads))

	for _, payload := range payloads {
		job, err := s.buildJob(jobType, payload, opts)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}

	if err := s.jobs.CreateBatch(ctx, jobs); err != nil {
		return nil, fmt.Errorf("failed to enqueue jobs: %w", err)
	}

	for range jobs {
		metrics.JobsEnqueued.WithLabelValues(opts.Queue, string(jobType)).Inc()
	}
	log.Printf("📥 [Queue] bulk enqueued %d %s jobs on %s", len(jobs), jobType, opts.Queue)
	return ids, nil
}

func (s *JobQueueService) buildJob(jobType models.JobType, payload interface{}, opts EnqueueOptions) (*models.ChainJob, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}

	if opts.Queue == "" {
		return nil, types.NewValidationError("queue.enqueue", "queue name is required")
	}

	priority := opts.Priority
	if priority == 0 {
		priority = 10
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	backoff := opts.Backoff
	if backoff == "" {
		backoff = models.BackoffExponential
	}
	backoffMs := opts.BackoffMs
	if backoffMs == 0 {
		backoffMs = 1000
	}

	return &models.ChainJob{
		ID:          uuid.New().String(),
		Queue:       opts.Queue,
		JobType:     jobType,
		JobName:     opts.JobName,
		Payload:     string(data),
		Status:      models.JobStatusPending,
		Chain:       opts.Chain,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		BackoffKind: backoff,
		BackoffMs:   backoffMs,
		NextRunAt:   time.Now().Add(opts.Delay),
	}, nil
}

// GetJob loads one job by id
func (s *JobQueueService) GetJob(ctx context.Context, id string) (*models.ChainJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// WaitForJob polls until the job reaches a terminal status or the timeout
// expires. Used by request/reply callers such as the balance check.
func (s *JobQueueService) WaitForJob(ctx context.Context, id string, timeout time.Duration) (*models.ChainJob, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := s.jobs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, types.NewNotFoundError("queue.wait", fmt.Sprintf("job %s not found", id))
		}
		if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed {
			return job, nil
		}

		if time.Now().After(deadline) {
			return job, types.NewTransientLedgerError("queue.wait",
				fmt.Sprintf("job %s still %s after %s", id, job.Status, timeout), nil)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Start recovers stale work and launches one dispatcher per queue
func (s *JobQueueService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	recovered, err := s.jobs.RecoverStale(context.Background(), time.Now().Add(-s.staleAfter))
	if err != nil {
		log.Printf("⚠️ [Queue] stale job recovery failed: %v", err)
	} else if recovered > 0 {
		log.Printf("🔄 [Queue] recovered %d stale processing jobs", recovered)
	}

	for queue, workers := range s.concurrency {
		s.wg.Add(1)
		go s.runDispatcher(queue, workers)
	}

	log.Printf("✅ [Queue] started (%d queues, poll=%s)", len(s.concurrency), s.pollInterval)
}

// Stop halts dispatchers and waits for in-flight jobs
func (s *JobQueueService) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	log.Printf("🛑 [Queue] stopped")
}

// runDispatcher polls one queue and fans work out to a bounded worker pool
func (s *JobQueueService) runDispatcher(queue string, workers int) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, workers)

	for {
		select {
		case <-s.stopChan:
			// drain the semaphore so in-flight jobs finish
			for i := 0; i < workers; i++ {
				sem <- struct{}{}
			}
			return
		case <-ticker.C:
			s.dispatchOnce(queue, workers, sem)
		}
	}
}

func (s *JobQueueService) dispatchOnce(queue string, workers int, sem chan struct{}) {
	ctx := context.Background()

	if pending, err := s.jobs.CountByStatus(ctx, queue, models.JobStatusPending); err == nil {
		metrics.JobQueueDepth.WithLabelValues(queue).Set(float64(pending))
	}

	jobs, err := s.jobs.FindRunnable(ctx, queue, workers)
	if err != nil {
		log.Printf("⚠️ [Queue] %s scan failed: %v", queue, err)
		return
	}

	for i := range jobs {
		job := jobs[i]

		claimed, err := s.jobs.Claim(ctx, job.ID)
		if err != nil {
			log.Printf("⚠️ [Queue] claim of %s failed: %v", job.ID, err)
			continue
		}
		if !claimed {
			continue
		}

		sem <- struct{}{}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-sem }()
			s.runJob(&job)
		}()
	}
}

// runJob executes one claimed job and persists the outcome
func (s *JobQueueService) runJob(job *models.ChainJob) {
	ctx := context.Background()

	s.handlersMu.RLock()
	handler, ok := s.handlers[job.JobType]
	s.handlersMu.RUnlock()

	if !ok {
		job.Attempts = job.MaxAttempts
		job.RecordFailure(fmt.Sprintf("no handler registered for job type %s", job.JobType))
		s.finishFailed(ctx, job)
		return
	}

	start := time.Now()
	result, err := handler(ctx, job)
	metrics.JobDuration.WithLabelValues(job.Queue, string(job.JobType)).Observe(time.Since(start).Seconds())

	if err == nil {
		job.MarkCompleted(result)
		if saveErr := s.jobs.Save(ctx, job); saveErr != nil {
			log.Printf("⚠️ [Queue] failed to persist completion of %s: %v", job.ID, saveErr)
			return
		}
		metrics.JobsCompleted.WithLabelValues(job.Queue, string(job.JobType)).Inc()
		s.notifyPush(job)
		log.Printf("✅ [Queue] job %s (%s) completed in %s", job.ID, job.JobType, time.Since(start).Round(time.Millisecond))
		return
	}

	if types.IsTransient(err) && job.Attempts+1 < job.MaxAttempts {
		job.RecordFailure(err.Error())
		if saveErr := s.jobs.Save(ctx, job); saveErr != nil {
			log.Printf("⚠️ [Queue] failed to persist retry of %s: %v", job.ID, saveErr)
			return
		}
		metrics.JobsRetried.WithLabelValues(job.Queue, string(job.JobType)).Inc()
		s.notifyPush(job)
		log.Printf("🔄 [Queue] job %s (%s) attempt %d/%d failed, retrying at %s: %v",
			job.ID, job.JobType, job.Attempts, job.MaxAttempts, job.NextRunAt.Format(time.RFC3339), err)
		return
	}

	// terminal error, or attempts exhausted
	job.Attempts++
	job.LastError = err.Error()
	job.Status = models.JobStatusFailed
	now := time.Now()
	job.CompletedAt = &now
	s.finishFailed(ctx, job)
}

func (s *JobQueueService) finishFailed(ctx context.Context, job *models.ChainJob) {
	if err := s.jobs.Save(ctx, job); err != nil {
		log.Printf("⚠️ [Queue] failed to persist failure of %s: %v", job.ID, err)
		return
	}

	metrics.JobsFailed.WithLabelValues(job.Queue, string(job.JobType)).Inc()
	s.notifyPush(job)
	log.Printf("❌ [Queue] job %s (%s) failed permanently: %s", job.ID, job.JobType, job.LastError)

	if s.nats != nil {
		event := map[string]interface{}{
			"jobId":   job.ID,
			"queue":   job.Queue,
			"jobType": job.JobType,
			"jobName": job.JobName,
			"error":   job.LastError,
		}
		if err := s.nats.Publish(clients.SubjectJobFailed, event); err != nil {
			log.Printf("⚠️ [Queue] failed to publish job failure event: %v", err)
		}
	}
}
