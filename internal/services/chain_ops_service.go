package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"aa-backend/internal/dto"
	"aa-backend/internal/models"
	"aa-backend/internal/types"
)

const balanceWaitTimeout = 30 * time.Second

// chainOpsPayload is the queue payload for one-shot ledger operations
type chainOpsPayload struct {
	Chain    string                    `json:"chain"`
	Address  string                    `json:"address,omitempty"`
	Fund     *dto.FundAccountRequest   `json:"fund,omitempty"`
	Transfer *dto.TransferTokensRequest `json:"transfer,omitempty"`
	Assign   *dto.AssignTokensRequest  `json:"assign,omitempty"`
}

// ChainOpsService runs the simple ledger operations through the job queue:
// funding, transfers, token assignment, and balance reads. Writes are
// asynchronous and return a job id; balance reads block on the job result.
type ChainOpsService struct {
	queue    *JobQueueService
	registry *ChainRegistry
}

// NewChainOpsService creates the service and registers its job handlers
func NewChainOpsService(queue *JobQueueService, registry *ChainRegistry) *ChainOpsService {
	s := &ChainOpsService{
		queue:    queue,
		registry: registry,
	}

	queue.RegisterHandler(models.JobTypeFundAccount, s.handleFundAccount)
	queue.RegisterHandler(models.JobTypeTransferTokens, s.handleTransferTokens)
	queue.RegisterHandler(models.JobTypeAssignTokens, s.handleAssignTokens)
	queue.RegisterHandler(models.JobTypeCheckBalance, s.handleCheckBalance)
	return s
}

// FundAccount enqueues a native-asset top-up and returns the job id
func (s *ChainOpsService) FundAccount(ctx context.Context, chainName string, req *dto.FundAccountRequest) (string, error) {
	chain, err := s.resolveChain(chainName, req.WalletAddress)
	if err != nil {
		return "", err
	}
	return s.enqueue(ctx, models.JobTypeFundAccount, chain, &chainOpsPayload{
		Chain: chain.ChainName(),
		Fund:  req,
	})
}

// TransferTokens enqueues a service-account token transfer
func (s *ChainOpsService) TransferTokens(ctx context.Context, chainName string, req *dto.TransferTokensRequest) (string, error) {
	chain, err := s.resolveChain(chainName, req.ToAddress)
	if err != nil {
		return "", err
	}
	return s.enqueue(ctx, models.JobTypeTransferTokens, chain, &chainOpsPayload{
		Chain:    chain.ChainName(),
		Transfer: req,
	})
}

// AssignTokens enqueues a project token assignment
func (s *ChainOpsService) AssignTokens(ctx context.Context, chainName string, req *dto.AssignTokensRequest) (string, error) {
	chain, err := s.resolveChain(chainName, req.BeneficiaryAddress)
	if err != nil {
		return "", err
	}
	return s.enqueue(ctx, models.JobTypeAssignTokens, chain, &chainOpsPayload{
		Chain:  chain.ChainName(),
		Assign: req,
	})
}

// GetBalance runs a balance read through the queue and waits for the result
func (s *ChainOpsService) GetBalance(ctx context.Context, chainName, address string) (*dto.WalletBalanceResponse, error) {
	chain, err := s.resolveChain(chainName, address)
	if err != nil {
		return nil, err
	}
	if !chain.ValidateAddress(address) {
		return nil, types.NewValidationError("chainops.balance",
			fmt.Sprintf("address %s is not valid on chain %s", address, chain.ChainName()))
	}

	jobID, err := s.enqueue(ctx, models.JobTypeCheckBalance, chain, &chainOpsPayload{
		Chain:   chain.ChainName(),
		Address: address,
	})
	if err != nil {
		return nil, err
	}

	job, err := s.queue.WaitForJob(ctx, jobID, balanceWaitTimeout)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusFailed {
		return nil, types.NewTransientLedgerError("chainops.balance",
			fmt.Sprintf("balance lookup failed: %s", job.LastError), nil)
	}

	var balance dto.WalletBalanceResponse
	if err := json.Unmarshal([]byte(job.Result), &balance); err != nil {
		return nil, fmt.Errorf("failed to decode balance result: %w", err)
	}
	return &balance, nil
}

func (s *ChainOpsService) enqueue(ctx context.Context, jobType models.JobType, chain ChainService, payload *chainOpsPayload) (string, error) {
	return s.queue.Enqueue(ctx, jobType, payload, EnqueueOptions{
		Queue: queueForKind(chain.Kind()),
		Chain: chain.ChainName(),
	})
}

func (s *ChainOpsService) handleFundAccount(ctx context.Context, job *models.ChainJob) (string, error) {
	payload, chain, err := s.decode(job)
	if err != nil || payload.Fund == nil {
		return "", badOpsPayload(err)
	}

	txHash, err := chain.FundAccount(ctx, payload.Fund)
	if err != nil {
		return "", err
	}
	log.Printf("✅ [ChainOps] funded %s on %s (tx=%s)", payload.Fund.WalletAddress, payload.Chain, txHash)
	return fmt.Sprintf(`{"txHash":%q}`, txHash), nil
}

func (s *ChainOpsService) handleTransferTokens(ctx context.Context, job *models.ChainJob) (string, error) {
	payload, chain, err := s.decode(job)
	if err != nil || payload.Transfer == nil {
		return "", badOpsPayload(err)
	}

	txHash, err := chain.TransferTokens(ctx, payload.Transfer)
	if err != nil {
		return "", err
	}
	log.Printf("✅ [ChainOps] transferred %s tokens to %s on %s (tx=%s)",
		payload.Transfer.Amount, payload.Transfer.ToAddress, payload.Chain, txHash)
	return fmt.Sprintf(`{"txHash":%q}`, txHash), nil
}

func (s *ChainOpsService) handleAssignTokens(ctx context.Context, job *models.ChainJob) (string, error) {
	payload, chain, err := s.decode(job)
	if err != nil || payload.Assign == nil {
		return "", badOpsPayload(err)
	}

	txHash, err := chain.AssignTokens(ctx, payload.Assign)
	if err != nil {
		return "", err
	}
	log.Printf("✅ [ChainOps] assigned %s tokens to %s on %s (tx=%s)",
		payload.Assign.Amount, payload.Assign.BeneficiaryAddress, payload.Chain, txHash)
	return fmt.Sprintf(`{"txHash":%q}`, txHash), nil
}

func (s *ChainOpsService) handleCheckBalance(ctx context.Context, job *models.ChainJob) (string, error) {
	payload, chain, err := s.decode(job)
	if err != nil || payload.Address == "" {
		return "", badOpsPayload(err)
	}

	balance, err := chain.GetWalletBalance(ctx, payload.Address)
	if err != nil {
		return "", err
	}

	result, err := json.Marshal(balance)
	if err != nil {
		return "", fmt.Errorf("failed to encode balance result: %w", err)
	}
	return string(result), nil
}

func (s *ChainOpsService) decode(job *models.ChainJob) (*chainOpsPayload, ChainService, error) {
	var payload chainOpsPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return nil, nil, err
	}
	chain, err := s.registry.Resolve(payload.Chain)
	if err != nil {
		return nil, nil, err
	}
	return &payload, chain, nil
}

// resolveChain prefers an explicit chain name, then the address shape
func (s *ChainOpsService) resolveChain(chainName, address string) (ChainService, error) {
	if chainName != "" {
		return s.registry.Resolve(chainName)
	}
	return s.registry.ResolveByAddress(address)
}

func badOpsPayload(err error) error {
	return types.NewValidationError("chainops.job", fmt.Sprintf("bad payload: %v", err))
}
