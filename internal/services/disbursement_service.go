package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"aa-backend/internal/clients"
	"aa-backend/internal/dto"
	"aa-backend/internal/metrics"
	"aa-backend/internal/models"
	"aa-backend/internal/repository"
	"aa-backend/internal/types"

	"github.com/google/uuid"
)

const (
	disburseMaxAttempts = 3
	disburseStartDelay  = 2 * time.Second

	evmStatusDelay          = 12 * time.Second
	stellarStatusFirstDelay = 3 * time.Minute
	stellarStatusPollDelay  = 2 * time.Minute

	disbursementStaleAfter = 60 * time.Minute
)

// disburseJobPayload is the queue payload for one group's execution. The
// run uuid scopes every batch submitted for this job, including retries.
type disburseJobPayload struct {
	GroupUUID string             `json:"groupUuid"`
	RunUUID   string             `json:"runUuid"`
	DName     string             `json:"dName"`
	Chain     string             `json:"chain"`
	Shares    []BeneficiaryShare `json:"shares"`
}

// disbursementStatusPayload is the queue payload for confirming one batch
type disbursementStatusPayload struct {
	GroupUUID    string    `json:"groupUuid"`
	RunUUID      string    `json:"runUuid"`
	BatchUUID    string    `json:"batchUuid"`
	Chain        string    `json:"chain"`
	TxHash       string    `json:"txHash"`
	TotalBatches int       `json:"totalBatches"`
	InitiatedAt  time.Time `json:"initiatedAt"`
}

// DisbursementService resolves beneficiary groups into per-member shares and
// drives their on-chain execution through the job queue. The API call only
// enqueues; submission and confirmation run in the background.
type DisbursementService struct {
	groups        repository.GroupRepository
	disbursements repository.DisbursementRepository
	queue         *JobQueueService
	registry      *ChainRegistry
	nats          *clients.NATSClient
}

// NewDisbursementService creates the disbursement service and registers its
// job handlers.
func NewDisbursementService(
	groups repository.GroupRepository,
	disbursements repository.DisbursementRepository,
	queue *JobQueueService,
	registry *ChainRegistry,
	nats *clients.NATSClient,
) *DisbursementService {
	s := &DisbursementService{
		groups:        groups,
		disbursements: disbursements,
		queue:         queue,
		registry:      registry,
		nats:          nats,
	}

	queue.RegisterHandler(models.JobTypeDisburse, s.handleDisburseJob)
	queue.RegisterHandler(models.JobTypeDisbursementStatusUpdate, s.handleStatusJob)
	return s
}

// Disburse selects the target groups, computes shares, and enqueues one job
// per group. Returns immediately with the pending job list.
func (s *DisbursementService) Disburse(ctx context.Context, req *dto.DisburseRequest) (*dto.DisburseResponse, error) {
	groups, err := s.selectGroups(ctx, req.Groups)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, types.NewValidationError("disbursement.disburse", "no disbursable groups found")
	}

	resp := &dto.DisburseResponse{DName: req.DName}

	for i := range groups {
		group := groups[i]

		// claim before enqueueing so a concurrent disburse call cannot
		// submit the same group twice
		claimed, err := s.groups.ClaimForDisbursement(ctx, group.UUID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			log.Printf("⚠️ [Disbursement] group %s already claimed, skipping", group.UUID)
			continue
		}

		shares, err := s.resolveShares(ctx, &group)
		if err != nil {
			s.releaseClaim(ctx, group.UUID)
			log.Printf("⚠️ [Disbursement] skipping group %s: %v", group.UUID, err)
			continue
		}

		chain, err := s.registry.ResolveByAddress(shares[0].WalletAddress)
		if err != nil {
			s.releaseClaim(ctx, group.UUID)
			return nil, err
		}

		jobID, err := s.queue.Enqueue(ctx, models.JobTypeDisburse, &disburseJobPayload{
			GroupUUID: group.UUID,
			RunUUID:   uuid.New().String(),
			DName:     req.DName,
			Chain:     chain.ChainName(),
			Shares:    shares,
		}, EnqueueOptions{
			Queue:       queueForKind(chain.Kind()),
			JobName:     disburseJobName(&group, req.DName),
			Chain:       chain.ChainName(),
			MaxAttempts: disburseMaxAttempts,
			Backoff:     models.BackoffExponential,
			BackoffMs:   1000,
			Delay:       disburseStartDelay,
		})
		if err != nil {
			s.releaseClaim(ctx, group.UUID)
			return nil, err
		}

		resp.Groups = append(resp.Groups, dto.GroupDisbursementState{
			GroupUUID: group.UUID,
			JobID:     jobID,
			Status:    string(models.GroupDisbursementQueued),
		})
	}

	if len(resp.Groups) == 0 {
		return nil, types.NewValidationError("disbursement.disburse", "no group produced a valid share list")
	}

	log.Printf("📥 [Disbursement] '%s' queued %d group(s)", req.DName, len(resp.Groups))
	return resp, nil
}

// selectGroups resolves explicit group uuids, or every disbursable group
// when none were named. Explicitly named groups must be disbursable.
func (s *DisbursementService) selectGroups(ctx context.Context, uuids []string) ([]models.BeneficiaryGroup, error) {
	if len(uuids) == 0 {
		return s.groups.FindDisbursable(ctx)
	}

	groups, err := s.groups.GetByUUIDs(ctx, uuids)
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool, len(groups))
	for _, g := range groups {
		found[g.UUID] = true
		if g.NumberOfTokens <= 0 || g.IsDisbursed || g.PayoutID != nil {
			return nil, types.NewValidationError("disbursement.disburse",
				fmt.Sprintf("group %s is not disbursable", g.UUID))
		}
		switch g.Status {
		case models.GroupDisbursementQueued, models.GroupDisbursementInitiated, models.GroupDisbursementDisbursed:
			return nil, types.NewValidationError("disbursement.disburse",
				fmt.Sprintf("group %s is already queued or disbursed", g.UUID))
		}
	}
	for _, id := range uuids {
		if !found[id] {
			return nil, types.NewNotFoundError("disbursement.disburse", fmt.Sprintf("group %s not found", id))
		}
	}

	return groups, nil
}

// resolveShares splits the group's tokens equally across its members.
// The same wallet appearing twice gets the combined amount in one share.
func (s *DisbursementService) resolveShares(ctx context.Context, group *models.BeneficiaryGroup) ([]BeneficiaryShare, error) {
	members, err := s.groups.GetMembers(ctx, group.UUID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("group %s has no members", group.UUID)
	}

	perMember := new(big.Rat).SetFrac64(group.NumberOfTokens, int64(len(members)))

	totals := make(map[string]*big.Rat)
	phones := make(map[string]string)
	order := make([]string, 0, len(members))

	for _, m := range members {
		if _, ok := totals[m.WalletAddress]; !ok {
			totals[m.WalletAddress] = new(big.Rat)
			phones[m.WalletAddress] = m.PhoneNumber
			order = append(order, m.WalletAddress)
		}
		totals[m.WalletAddress].Add(totals[m.WalletAddress], perMember)
	}

	shares := make([]BeneficiaryShare, 0, len(order))
	for _, wallet := range order {
		shares = append(shares, BeneficiaryShare{
			PhoneNumber:   phones[wallet],
			WalletAddress: wallet,
			Amount:        formatTokenAmount(totals[wallet]),
		})
	}
	return shares, nil
}

// handleDisburseJob submits one group's transfers batch by batch and
// schedules a confirmation job per batch. A retry resumes after the last
// batch recorded for the run, so already-submitted batches are never
// resubmitted.
func (s *DisbursementService) handleDisburseJob(ctx context.Context, job *models.ChainJob) (string, error) {
	var payload disburseJobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", types.NewValidationError("disbursement.job", fmt.Sprintf("bad payload: %v", err))
	}

	chain, err := s.registry.Resolve(payload.Chain)
	if err != nil {
		return "", err
	}

	existing, err := s.disbursements.ListByRun(ctx, payload.RunUUID)
	if err != nil {
		return "", types.NewTransientLedgerError("disbursement.job", "failed to load run batches", err)
	}
	fromBatch := 0
	for _, row := range existing {
		if row.BatchIndex+1 > fromBatch {
			fromBatch = row.BatchIndex + 1
		}
	}

	start := time.Now()
	submissions, submitErr := chain.DisburseShares(ctx, payload.GroupUUID, payload.Shares, fromBatch)
	metrics.PipelineStageDuration.WithLabelValues(payload.Chain, "submit").Observe(time.Since(start).Seconds())

	// record every submitted batch, also on partial failure, so the retry
	// knows where to resume
	batches := existing
	for _, sub := range submissions {
		row := models.Disbursement{
			UUID:       uuid.New().String(),
			RunUUID:    payload.RunUUID,
			GroupUUID:  payload.GroupUUID,
			Chain:      payload.Chain,
			Status:     models.GroupDisbursementInitiated,
			TxHash:     sub.TxHash,
			BatchIndex: sub.Index,
		}
		if err := s.disbursements.Create(ctx, &row); err != nil {
			log.Printf("⚠️ [Disbursement] failed to record batch %d of run %s: %v", sub.Index, payload.RunUUID, err)
			continue
		}
		batches = append(batches, row)
	}

	if submitErr != nil {
		if !types.IsTransient(submitErr) || job.Attempts+1 >= job.MaxAttempts {
			s.failGroup(ctx, payload.GroupUUID, payload.Chain, submitErr.Error())
		}
		return "", submitErr
	}

	if err := s.groups.UpdateStatus(ctx, payload.GroupUUID, models.GroupDisbursementInitiated); err != nil {
		log.Printf("⚠️ [Disbursement] group %s submitted but status update failed: %v", payload.GroupUUID, err)
	}

	for _, row := range batches {
		if row.Status == models.GroupDisbursementDisbursed {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, models.JobTypeDisbursementStatusUpdate, &disbursementStatusPayload{
			GroupUUID:    payload.GroupUUID,
			RunUUID:      payload.RunUUID,
			BatchUUID:    row.UUID,
			Chain:        payload.Chain,
			TxHash:       row.TxHash,
			TotalBatches: len(batches),
			InitiatedAt:  time.Now(),
		}, EnqueueOptions{
			Queue:   job.Queue,
			JobName: job.JobName,
			Chain:   payload.Chain,
			Delay:   statusCheckDelay(chain.Kind(), true),
		}); err != nil {
			log.Printf("⚠️ [Disbursement] failed to schedule status check for batch %d of group %s: %v", row.BatchIndex, payload.GroupUUID, err)
		}
	}

	log.Printf("✅ [Disbursement] group %s submitted on %s in %d batch(es)", payload.GroupUUID, payload.Chain, len(batches))
	return fmt.Sprintf(`{"batches":%d}`, len(batches)), nil
}

// handleStatusJob polls one submitted batch until it confirms, fails, or
// goes stale. The group is marked disbursed only once every batch of the
// run has confirmed.
func (s *DisbursementService) handleStatusJob(ctx context.Context, job *models.ChainJob) (string, error) {
	var payload disbursementStatusPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", types.NewValidationError("disbursement.status", fmt.Sprintf("bad payload: %v", err))
	}

	chain, err := s.registry.Resolve(payload.Chain)
	if err != nil {
		return "", err
	}

	status, err := chain.CheckTransactionStatus(ctx, payload.TxHash)
	if err != nil {
		return "", err
	}

	switch status {
	case TxStatusConfirmed:
		if err := s.disbursements.UpdateStatus(ctx, payload.BatchUUID, models.GroupDisbursementDisbursed, payload.TxHash, ""); err != nil {
			return "", fmt.Errorf("failed to mark batch %s disbursed: %w", payload.BatchUUID, err)
		}

		done, err := s.runComplete(ctx, payload.RunUUID, payload.TotalBatches)
		if err != nil {
			return "", err
		}
		if !done {
			log.Printf("✅ [Disbursement] group %s batch confirmed (tx=%s), run still in flight", payload.GroupUUID, payload.TxHash)
			return fmt.Sprintf(`{"status":"batchConfirmed","txHash":%q}`, payload.TxHash), nil
		}

		if err := s.groups.MarkDisbursed(ctx, payload.GroupUUID, payload.TxHash); err != nil {
			return "", fmt.Errorf("failed to mark group %s disbursed: %w", payload.GroupUUID, err)
		}
		metrics.PipelineOutcomes.WithLabelValues(payload.Chain, "confirmed").Inc()
		log.Printf("✅ [Disbursement] group %s confirmed, all batches done (tx=%s)", payload.GroupUUID, payload.TxHash)

		if s.nats != nil {
			event := map[string]interface{}{
				"groupUuid": payload.GroupUUID,
				"chain":     payload.Chain,
				"txHash":    payload.TxHash,
			}
			if err := s.nats.Publish(clients.SubjectDisbursementCompleted, event); err != nil {
				log.Printf("⚠️ [Disbursement] failed to publish completion event: %v", err)
			}
		}
		return fmt.Sprintf(`{"status":"confirmed","txHash":%q}`, payload.TxHash), nil

	case TxStatusFailed:
		reason := fmt.Sprintf("transaction %s failed on-chain", payload.TxHash)
		if err := s.disbursements.UpdateStatus(ctx, payload.BatchUUID, models.GroupDisbursementFailed, "", reason); err != nil {
			log.Printf("⚠️ [Disbursement] failed to update batch %s: %v", payload.BatchUUID, err)
		}
		s.failGroup(ctx, payload.GroupUUID, payload.Chain, reason)
		return fmt.Sprintf(`{"status":"failed","txHash":%q}`, payload.TxHash), nil

	default: // still pending or not yet visible
		if time.Since(payload.InitiatedAt) > disbursementStaleAfter {
			reason := fmt.Sprintf("transaction %s unconfirmed after %s", payload.TxHash, disbursementStaleAfter)
			if err := s.disbursements.UpdateStatus(ctx, payload.BatchUUID, models.GroupDisbursementFailed, "", reason); err != nil {
				log.Printf("⚠️ [Disbursement] failed to update batch %s: %v", payload.BatchUUID, err)
			}
			s.failGroup(ctx, payload.GroupUUID, payload.Chain, reason)
			metrics.PipelineOutcomes.WithLabelValues(payload.Chain, "stale").Inc()
			return fmt.Sprintf(`{"status":"stale","txHash":%q}`, payload.TxHash), nil
		}

		if _, err := s.queue.Enqueue(ctx, models.JobTypeDisbursementStatusUpdate, &payload, EnqueueOptions{
			Queue:   job.Queue,
			JobName: job.JobName,
			Chain:   payload.Chain,
			Delay:   statusCheckDelay(chain.Kind(), false),
		}); err != nil {
			return "", fmt.Errorf("failed to reschedule status check: %w", err)
		}
		return fmt.Sprintf(`{"status":"pending","txHash":%q}`, payload.TxHash), nil
	}
}

// runComplete reports whether every batch of the run has confirmed
func (s *DisbursementService) runComplete(ctx context.Context, runUUID string, totalBatches int) (bool, error) {
	if totalBatches <= 0 {
		return false, nil
	}
	rows, err := s.disbursements.ListByRun(ctx, runUUID)
	if err != nil {
		return false, err
	}
	if len(rows) < totalBatches {
		return false, nil
	}
	for _, row := range rows {
		if row.Status != models.GroupDisbursementDisbursed {
			return false, nil
		}
	}
	return true, nil
}

// RecoverStaleGroups fails groups stuck in INITIATED with no progress.
// Called at startup to clean up after crashes mid-confirmation.
func (s *DisbursementService) RecoverStaleGroups(ctx context.Context) error {
	stale, err := s.groups.FindStaleInitiated(ctx, time.Now().Add(-disbursementStaleAfter))
	if err != nil {
		return err
	}

	for _, group := range stale {
		log.Printf("⚠️ [Disbursement] group %s stale in INITIATED, marking failed", group.UUID)
		if err := s.groups.UpdateStatus(ctx, group.UUID, models.GroupDisbursementFailed); err != nil {
			log.Printf("⚠️ [Disbursement] failed to mark group %s failed: %v", group.UUID, err)
		}
	}
	return nil
}

func (s *DisbursementService) failGroup(ctx context.Context, groupUUID, chain, reason string) {
	metrics.PipelineOutcomes.WithLabelValues(chain, "failed").Inc()
	log.Printf("❌ [Disbursement] group %s failed: %s", groupUUID, reason)

	if err := s.groups.UpdateStatus(ctx, groupUUID, models.GroupDisbursementFailed); err != nil {
		log.Printf("⚠️ [Disbursement] failed to mark group %s failed: %v", groupUUID, err)
	}
}

// releaseClaim returns a claimed group to PENDING when its job could not
// be enqueued.
func (s *DisbursementService) releaseClaim(ctx context.Context, groupUUID string) {
	if err := s.groups.UpdateStatus(ctx, groupUUID, models.GroupDisbursementPending); err != nil {
		log.Printf("⚠️ [Disbursement] failed to release claim on group %s: %v", groupUUID, err)
	}
}

// disburseJobName keys the queue job on the group's reservation title,
// falling back to the group uuid when no title was recorded.
func disburseJobName(group *models.BeneficiaryGroup, dName string) string {
	title := strings.TrimSpace(group.ReservationTitle)
	if title == "" {
		title = group.UUID
	}
	return fmt.Sprintf("%s_%s", strings.ToLower(title), dName)
}

func queueForKind(kind ChainKind) string {
	if kind == ChainKindEvm {
		return models.QueueEvm
	}
	return models.QueueStellar
}

func statusCheckDelay(kind ChainKind, first bool) time.Duration {
	if kind == ChainKindEvm {
		return evmStatusDelay
	}
	if first {
		return stellarStatusFirstDelay
	}
	return stellarStatusPollDelay
}

// formatTokenAmount renders a share as a decimal string, trimming trailing
// zeros past the 7 places the narrowest ledger supports.
func formatTokenAmount(amount *big.Rat) string {
	s := amount.FloatString(7)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return "0"
	}
	return s
}
