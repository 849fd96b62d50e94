package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"aa-backend/internal/clients"
	"aa-backend/internal/config"
	"aa-backend/internal/dto"
	"aa-backend/internal/metrics"
	"aa-backend/internal/models"
	"aa-backend/internal/repository"
	"aa-backend/internal/types"
	"aa-backend/internal/utils"
)

const (
	triggerConfirmInterval = 2 * time.Second
	triggerConfirmTimeout  = 60 * time.Second
)

// triggerJobPayload carries one commitment through the queue. The params
// hash is computed before enqueueing so retries commit identical bytes.
type triggerJobPayload struct {
	TriggerUUID string                          `json:"triggerUuid"`
	Chain       string                          `json:"chain"`
	ParamsHash  string                          `json:"paramsHash,omitempty"`
	Add         *dto.AddTriggerRequest          `json:"add,omitempty"`
	Update      *dto.UpdateTriggerParamsRequest `json:"update,omitempty"`
}

// TriggerService commits hazard trigger definitions on-chain through the
// single-worker trigger queue. Only the salted params hash leaves the
// database; raw parameters never go on-chain.
type TriggerService struct {
	triggers repository.TriggerRepository
	queue    *JobQueueService
	registry *ChainRegistry
	nats     *clients.NATSClient

	confirmInterval time.Duration
	confirmTimeout  time.Duration
}

// NewTriggerService creates the trigger service and registers its job
// handlers.
func NewTriggerService(
	triggers repository.TriggerRepository,
	queue *JobQueueService,
	registry *ChainRegistry,
	nats *clients.NATSClient,
) *TriggerService {
	s := &TriggerService{
		triggers:        triggers,
		queue:           queue,
		registry:        registry,
		nats:            nats,
		confirmInterval: triggerConfirmInterval,
		confirmTimeout:  triggerConfirmTimeout,
	}

	queue.RegisterHandler(models.JobTypeAddTrigger, s.handleAddTrigger)
	queue.RegisterHandler(models.JobTypeUpdateTriggerParams, s.handleUpdateTrigger)
	return s
}

// AddTrigger persists the trigger and enqueues its on-chain commitment.
// Returns the job id for status polling.
func (s *TriggerService) AddTrigger(ctx context.Context, chainName string, req *dto.AddTriggerRequest) (string, error) {
	if req.ID == "" {
		return "", types.NewValidationError("trigger.add", "trigger id is required")
	}

	paramsHash, err := utils.GenerateParamsHash(req.Params, config.AppConfig.Otp.HashSalt)
	if err != nil {
		return "", types.NewValidationError("trigger.add", fmt.Sprintf("params are not hashable: %v", err))
	}

	paramsJSON, err := json.Marshal(req.Params)
	if err != nil {
		return "", types.NewValidationError("trigger.add", fmt.Sprintf("params are not serializable: %v", err))
	}

	trigger := &models.Trigger{
		UUID:        req.ID,
		Title:       req.Title,
		TriggerType: req.TriggerType,
		Phase:       req.Phase,
		Source:      req.Source,
		RiverBasin:  req.RiverBasin,
		IsMandatory: req.IsMandatory,
		Params:      string(paramsJSON),
	}
	if err := s.triggers.Create(ctx, trigger); err != nil {
		return "", fmt.Errorf("failed to store trigger: %w", err)
	}

	return s.enqueue(ctx, &triggerJobPayload{
		TriggerUUID: req.ID,
		Chain:       chainName,
		ParamsHash:  paramsHash,
		Add:         req,
	}, models.JobTypeAddTrigger)
}

// UpdateTriggerParams enqueues an update of a committed trigger
func (s *TriggerService) UpdateTriggerParams(ctx context.Context, chainName string, req *dto.UpdateTriggerParamsRequest) (string, error) {
	trigger, err := s.triggers.GetByUUID(ctx, req.ID)
	if err != nil {
		return "", fmt.Errorf("trigger lookup failed: %w", err)
	}
	if trigger == nil {
		return "", types.NewNotFoundError("trigger.update", fmt.Sprintf("trigger %s not found", req.ID))
	}

	payload := &triggerJobPayload{
		TriggerUUID: req.ID,
		Chain:       chainName,
		Update:      req,
	}

	if req.Params != nil {
		hash, err := utils.GenerateParamsHash(req.Params, config.AppConfig.Otp.HashSalt)
		if err != nil {
			return "", types.NewValidationError("trigger.update", fmt.Sprintf("params are not hashable: %v", err))
		}
		payload.ParamsHash = hash
	}

	return s.enqueue(ctx, payload, models.JobTypeUpdateTriggerParams)
}

// GetTrigger loads one trigger by id
func (s *TriggerService) GetTrigger(ctx context.Context, id string) (*models.Trigger, error) {
	return s.triggers.GetByUUID(ctx, id)
}

func (s *TriggerService) enqueue(ctx context.Context, payload *triggerJobPayload, jobType models.JobType) (string, error) {
	maxRetries := config.AppConfig.Trigger.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := config.AppConfig.Trigger.RetryDelaySec
	if retryDelay <= 0 {
		retryDelay = 5
	}

	return s.queue.Enqueue(ctx, jobType, payload, EnqueueOptions{
		Queue:       models.QueueTriggers,
		JobName:     payload.TriggerUUID,
		Chain:       payload.Chain,
		MaxAttempts: maxRetries,
		Backoff:     models.BackoffFixed,
		BackoffMs:   int64(retryDelay) * 1000,
	})
}

// handleAddTrigger commits one trigger and waits for confirmation
func (s *TriggerService) handleAddTrigger(ctx context.Context, job *models.ChainJob) (string, error) {
	var payload triggerJobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil || payload.Add == nil {
		return "", types.NewValidationError("trigger.job", fmt.Sprintf("bad payload: %v", err))
	}

	chain, err := s.resolveChain(payload.Chain)
	if err != nil {
		return "", err
	}

	req := *payload.Add
	req.ParamsHash = payload.ParamsHash

	txHash, err := chain.AddTrigger(ctx, &req)
	if errors.Is(err, ErrTriggerAlreadyExists) {
		// a previous attempt landed, nothing left to do
		log.Printf("ℹ️ [Trigger] %s already committed on %s", payload.TriggerUUID, chain.ChainName())
		return `{"status":"already_exists"}`, nil
	}
	if err != nil {
		return "", err
	}

	return s.confirmCommitment(ctx, chain, payload.TriggerUUID, txHash)
}

// handleUpdateTrigger commits a trigger update and waits for confirmation
func (s *TriggerService) handleUpdateTrigger(ctx context.Context, job *models.ChainJob) (string, error) {
	var payload triggerJobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil || payload.Update == nil {
		return "", types.NewValidationError("trigger.job", fmt.Sprintf("bad payload: %v", err))
	}

	chain, err := s.resolveChain(payload.Chain)
	if err != nil {
		return "", err
	}

	req := *payload.Update
	if payload.ParamsHash != "" {
		hash := payload.ParamsHash
		req.ParamsHash = &hash
	}

	txHash, err := chain.UpdateTriggerParams(ctx, &req)
	if err != nil {
		return "", err
	}

	if req.Params != nil {
		paramsJSON, merr := json.Marshal(req.Params)
		if merr == nil {
			if uerr := s.triggers.UpdateParams(ctx, payload.TriggerUUID, string(paramsJSON)); uerr != nil {
				log.Printf("⚠️ [Trigger] failed to store updated params for %s: %v", payload.TriggerUUID, uerr)
			}
		}
	}

	return s.confirmCommitment(ctx, chain, payload.TriggerUUID, txHash)
}

// confirmCommitment polls the submitted transaction until it confirms,
// fails, or the confirmation window closes.
func (s *TriggerService) confirmCommitment(ctx context.Context, chain ChainService, triggerUUID, txHash string) (string, error) {
	start := time.Now()
	deadline := start.Add(s.confirmTimeout)
	ticker := time.NewTicker(s.confirmInterval)
	defer ticker.Stop()

	for {
		status, err := chain.CheckTransactionStatus(ctx, txHash)
		if err != nil {
			log.Printf("⚠️ [Trigger] status poll for %s failed: %v", txHash, err)
		} else {
			switch status {
			case TxStatusConfirmed:
				metrics.PipelineStageDuration.WithLabelValues(chain.ChainName(), "confirm").Observe(time.Since(start).Seconds())
				metrics.PipelineOutcomes.WithLabelValues(chain.ChainName(), "confirmed").Inc()

				if err := s.triggers.UpdateTransactionHash(ctx, triggerUUID, txHash); err != nil {
					log.Printf("⚠️ [Trigger] %s confirmed (tx=%s) but hash was not persisted: %v", triggerUUID, txHash, err)
				}
				log.Printf("✅ [Trigger] %s committed on %s (tx=%s)", triggerUUID, chain.ChainName(), txHash)

				if s.nats != nil {
					event := map[string]interface{}{
						"triggerUuid": triggerUUID,
						"chain":       chain.ChainName(),
						"txHash":      txHash,
					}
					if err := s.nats.Publish(clients.SubjectTriggerCommitted, event); err != nil {
						log.Printf("⚠️ [Trigger] failed to publish commitment event: %v", err)
					}
				}
				return fmt.Sprintf(`{"status":"confirmed","txHash":%q}`, txHash), nil

			case TxStatusFailed:
				metrics.PipelineOutcomes.WithLabelValues(chain.ChainName(), "failed").Inc()
				return "", types.NewTerminalLedgerError("trigger.confirm",
					fmt.Sprintf("transaction %s failed on-chain", txHash), nil)
			}
		}

		if time.Now().After(deadline) {
			// submitted but not seen within the window; keep the hash so the
			// outcome can be checked manually
			metrics.PipelineOutcomes.WithLabelValues(chain.ChainName(), "unconfirmed").Inc()
			if err := s.triggers.UpdateTransactionHash(ctx, triggerUUID, txHash); err != nil {
				log.Printf("⚠️ [Trigger] failed to persist hash for unconfirmed %s: %v", triggerUUID, err)
			}
			log.Printf("⚠️ [Trigger] %s unconfirmed after %s (tx=%s)", triggerUUID, s.confirmTimeout, txHash)
			return fmt.Sprintf(`{"status":"unconfirmed","txHash":%q}`, txHash), nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *TriggerService) resolveChain(chainName string) (ChainService, error) {
	if chainName == "" {
		return s.registry.ResolveDefault()
	}
	return s.registry.Resolve(chainName)
}
