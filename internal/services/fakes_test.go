package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"aa-backend/internal/config"
	"aa-backend/internal/dto"
	"aa-backend/internal/models"
)

// newTestRegistry wires a registry that always resolves to the given fake,
// both by name and by address shape.
func newTestRegistry(t *testing.T, chain *fakeChainService) *ChainRegistry {
	t.Helper()

	prev := config.AppConfig
	config.AppConfig = &config.Config{Chains: map[string]config.ChainSettings{
		chain.name: {Type: string(chain.kind), Enabled: true},
	}}
	t.Cleanup(func() { config.AppConfig = prev })

	r := NewChainRegistry(chain.name)
	r.RegisterBuilder(chain.kind, func(string, *config.ChainSettings) (ChainService, error) {
		return chain, nil
	})
	return r
}

// fakeChainService is a scriptable ledger adapter for tests
type fakeChainService struct {
	name string
	kind ChainKind

	disburseTx    string
	disburseErr   error
	batchesPerRun int // batches a full disbursement run produces, 0 means 1
	failAtBatch   int // batch index at which disburseErr fires, once
	txStatus      TxStatus
	statusErr     error
	transferTx    string
	transferErr   error
	addTx         string
	addErr        error

	disburseCalls    int
	submittedBatches []int
	failedOnce       bool
	mu               sync.Mutex
}

func (f *fakeChainService) ChainName() string { return f.name }
func (f *fakeChainService) Kind() ChainKind   { return f.kind }

func (f *fakeChainService) ValidateAddress(address string) bool { return address != "" }

func (f *fakeChainService) GetWalletBalance(ctx context.Context, address string) (*dto.WalletBalanceResponse, error) {
	return &dto.WalletBalanceResponse{Address: address, Chain: f.name}, nil
}

func (f *fakeChainService) BeneficiaryHasTokens(ctx context.Context, address string) (bool, error) {
	return true, nil
}

func (f *fakeChainService) FundAccount(ctx context.Context, req *dto.FundAccountRequest) (string, error) {
	return "0xfund", nil
}

func (f *fakeChainService) TransferTokens(ctx context.Context, req *dto.TransferTokensRequest) (string, error) {
	return "0xtransfer", nil
}

func (f *fakeChainService) TransferWithSecret(ctx context.Context, secret, toAddress, amount string) (string, error) {
	if f.transferErr != nil {
		return "", f.transferErr
	}
	if f.transferTx != "" {
		return f.transferTx, nil
	}
	return "0xredeem", nil
}

func (f *fakeChainService) AssignTokens(ctx context.Context, req *dto.AssignTokensRequest) (string, error) {
	return "0xassign", nil
}

func (f *fakeChainService) DisburseShares(ctx context.Context, groupUUID string, shares []BeneficiaryShare, fromBatch int) ([]BatchSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disburseCalls++

	total := f.batchesPerRun
	if total <= 0 {
		total = 1
	}

	var subs []BatchSubmission
	for i := fromBatch; i < total; i++ {
		if f.disburseErr != nil && !f.failedOnce && i >= f.failAtBatch {
			f.failedOnce = true
			return subs, f.disburseErr
		}
		f.submittedBatches = append(f.submittedBatches, i)
		subs = append(subs, BatchSubmission{Index: i, TxHash: fmt.Sprintf("%s-%d", f.disburseTx, i)})
	}
	return subs, nil
}

func (f *fakeChainService) CheckTransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	return f.txStatus, f.statusErr
}

func (f *fakeChainService) AddTrigger(ctx context.Context, req *dto.AddTriggerRequest) (string, error) {
	return f.addTx, f.addErr
}

func (f *fakeChainService) UpdateTriggerParams(ctx context.Context, req *dto.UpdateTriggerParamsRequest) (string, error) {
	return f.addTx, f.addErr
}

// fakeJobRepository keeps jobs in memory
type fakeJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*models.ChainJob
}

func newFakeJobRepository() *fakeJobRepository {
	return &fakeJobRepository{jobs: make(map[string]*models.ChainJob)}
}

func (r *fakeJobRepository) Create(ctx context.Context, job *models.ChainJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *fakeJobRepository) CreateBatch(ctx context.Context, jobs []*models.ChainJob) error {
	for _, job := range jobs {
		if err := r.Create(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeJobRepository) GetByID(ctx context.Context, id string) (*models.ChainJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	clone := *job
	return &clone, nil
}

func (r *fakeJobRepository) FindRunnable(ctx context.Context, queue string, limit int) ([]models.ChainJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ChainJob
	for _, job := range r.jobs {
		if job.Queue == queue && job.Status == models.JobStatusPending && !job.NextRunAt.After(time.Now()) {
			out = append(out, *job)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeJobRepository) Claim(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != models.JobStatusPending {
		return false, nil
	}
	now := time.Now()
	job.Status = models.JobStatusProcessing
	job.StartedAt = &now
	return true, nil
}

func (r *fakeJobRepository) Save(ctx context.Context, job *models.ChainJob) error {
	return r.Create(ctx, job)
}

func (r *fakeJobRepository) RecoverStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeJobRepository) CountByStatus(ctx context.Context, queue string, status models.JobStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, job := range r.jobs {
		if job.Queue == queue && job.Status == status {
			n++
		}
	}
	return n, nil
}

// fakeGroupRepository serves a fixed set of groups and members
type fakeGroupRepository struct {
	groups  map[string]*models.BeneficiaryGroup
	members map[string][]models.GroupMember

	statusUpdates map[string]models.GroupDisbursementStatus
	mu            sync.Mutex
}

func newFakeGroupRepository() *fakeGroupRepository {
	return &fakeGroupRepository{
		groups:        make(map[string]*models.BeneficiaryGroup),
		members:       make(map[string][]models.GroupMember),
		statusUpdates: make(map[string]models.GroupDisbursementStatus),
	}
}

func (r *fakeGroupRepository) GetByUUID(ctx context.Context, uuid string) (*models.BeneficiaryGroup, error) {
	return r.groups[uuid], nil
}

func (r *fakeGroupRepository) GetByUUIDs(ctx context.Context, uuids []string) ([]models.BeneficiaryGroup, error) {
	var out []models.BeneficiaryGroup
	for _, id := range uuids {
		if g, ok := r.groups[id]; ok {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (r *fakeGroupRepository) FindDisbursable(ctx context.Context) ([]models.BeneficiaryGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BeneficiaryGroup
	for _, g := range r.groups {
		if g.NumberOfTokens > 0 && !g.IsDisbursed && g.PayoutID == nil && groupStatusDisbursable(g.Status) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (r *fakeGroupRepository) ClaimForDisbursement(ctx context.Context, uuid string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[uuid]
	if !ok || g.NumberOfTokens <= 0 || g.IsDisbursed || g.PayoutID != nil || !groupStatusDisbursable(g.Status) {
		return false, nil
	}
	g.Status = models.GroupDisbursementQueued
	r.statusUpdates[uuid] = models.GroupDisbursementQueued
	return true, nil
}

func groupStatusDisbursable(status models.GroupDisbursementStatus) bool {
	switch status {
	case "", models.GroupDisbursementPending, models.GroupDisbursementFailed:
		return true
	}
	return false
}

func (r *fakeGroupRepository) GetMembers(ctx context.Context, groupUUID string) ([]models.GroupMember, error) {
	return r.members[groupUUID], nil
}

func (r *fakeGroupRepository) UpdateStatus(ctx context.Context, uuid string, status models.GroupDisbursementStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.groups[uuid]; ok {
		g.Status = status
	}
	r.statusUpdates[uuid] = status
	return nil
}

func (r *fakeGroupRepository) MarkDisbursed(ctx context.Context, uuid string, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusUpdates[uuid] = models.GroupDisbursementDisbursed
	if g, ok := r.groups[uuid]; ok {
		g.Status = models.GroupDisbursementDisbursed
		g.IsDisbursed = true
		g.TxHash = txHash
	}
	return nil
}

func (r *fakeGroupRepository) FindStaleInitiated(ctx context.Context, cutoff time.Time) ([]models.BeneficiaryGroup, error) {
	return nil, nil
}

// fakeOtpRepository keeps one record per phone number
type fakeOtpRepository struct {
	mu      sync.Mutex
	records map[string]*models.OtpRecord
}

func newFakeOtpRepository() *fakeOtpRepository {
	return &fakeOtpRepository{records: make(map[string]*models.OtpRecord)}
}

func (r *fakeOtpRepository) UpsertByPhone(ctx context.Context, record *models.OtpRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.records[record.PhoneNumber] = &clone
	return nil
}

func (r *fakeOtpRepository) GetByPhone(ctx context.Context, phoneNumber string) (*models.OtpRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[phoneNumber]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (r *fakeOtpRepository) MarkVerified(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.ID == id {
			record.IsVerified = true
		}
	}
	return nil
}

func (r *fakeOtpRepository) DeleteByPhone(ctx context.Context, phoneNumber string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, phoneNumber)
	return nil
}

// fakeDisbursementRepository keeps batch rows in memory
type fakeDisbursementRepository struct {
	mu   sync.Mutex
	rows map[string]*models.Disbursement
}

func newFakeDisbursementRepository() *fakeDisbursementRepository {
	return &fakeDisbursementRepository{rows: make(map[string]*models.Disbursement)}
}

func (r *fakeDisbursementRepository) Create(ctx context.Context, disbursement *models.Disbursement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *disbursement
	r.rows[disbursement.UUID] = &clone
	return nil
}

func (r *fakeDisbursementRepository) GetByGroup(ctx context.Context, groupUUID string) ([]models.Disbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Disbursement
	for _, row := range r.rows {
		if row.GroupUUID == groupUUID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *fakeDisbursementRepository) ListByRun(ctx context.Context, runUUID string) ([]models.Disbursement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Disbursement
	for _, row := range r.rows {
		if row.RunUUID == runUUID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchIndex < out[j].BatchIndex })
	return out, nil
}

func (r *fakeDisbursementRepository) UpdateStatus(ctx context.Context, uuid string, status models.GroupDisbursementStatus, txHash, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[uuid]
	if !ok {
		return nil
	}
	row.Status = status
	if txHash != "" {
		row.TxHash = txHash
	}
	if errorMsg != "" {
		row.ErrorMsg = errorMsg
	}
	return nil
}

// fakeRedeemRepository keeps redeem rows in memory
type fakeRedeemRepository struct {
	mu   sync.Mutex
	rows map[string]*models.BeneficiaryRedeem
}

func newFakeRedeemRepository() *fakeRedeemRepository {
	return &fakeRedeemRepository{rows: make(map[string]*models.BeneficiaryRedeem)}
}

func (r *fakeRedeemRepository) Create(ctx context.Context, redeem *models.BeneficiaryRedeem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *redeem
	r.rows[redeem.UUID] = &clone
	return nil
}

func (r *fakeRedeemRepository) GetByUUID(ctx context.Context, uuid string) (*models.BeneficiaryRedeem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[uuid]
	if !ok {
		return nil, nil
	}
	clone := *row
	return &clone, nil
}

func (r *fakeRedeemRepository) FindLatestPending(ctx context.Context, walletAddress string) (*models.BeneficiaryRedeem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.BeneficiaryWalletAddress == walletAddress && row.Status == models.RedeemStatusPending && !row.IsCompleted && row.TxHash == nil {
			clone := *row
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeRedeemRepository) UpsertPending(ctx context.Context, redeem *models.BeneficiaryRedeem) error {
	return r.Create(ctx, redeem)
}

func (r *fakeRedeemRepository) UpdateStatus(ctx context.Context, uuid string, status models.RedeemStatus, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[uuid]; ok {
		row.Status = status
		row.ErrorMsg = errorMsg
	}
	return nil
}

func (r *fakeRedeemRepository) MarkInitiated(ctx context.Context, uuid string, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[uuid]; ok {
		row.Status = models.RedeemStatusInitiated
		row.TxHash = &txHash
	}
	return nil
}

func (r *fakeRedeemRepository) MarkCompleted(ctx context.Context, uuid string, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[uuid]; ok {
		row.Status = models.RedeemStatusCompleted
		row.IsCompleted = true
		row.TxHash = &txHash
	}
	return nil
}

// fakeVendorRepository serves a fixed vendor set
type fakeVendorRepository struct {
	vendors map[string]*models.Vendor
}

func newFakeVendorRepository() *fakeVendorRepository {
	return &fakeVendorRepository{vendors: make(map[string]*models.Vendor)}
}

func (r *fakeVendorRepository) GetByUUID(ctx context.Context, uuid string) (*models.Vendor, error) {
	return r.vendors[uuid], nil
}

func (r *fakeVendorRepository) GetByWalletAddress(ctx context.Context, walletAddress string) (*models.Vendor, error) {
	for _, v := range r.vendors {
		if v.WalletAddress == walletAddress {
			return v, nil
		}
	}
	return nil, nil
}

// fakeTriggerRepository keeps triggers in memory
type fakeTriggerRepository struct {
	mu       sync.Mutex
	triggers map[string]*models.Trigger
	hashes   map[string]string
}

func newFakeTriggerRepository() *fakeTriggerRepository {
	return &fakeTriggerRepository{
		triggers: make(map[string]*models.Trigger),
		hashes:   make(map[string]string),
	}
}

func (r *fakeTriggerRepository) Create(ctx context.Context, trigger *models.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *trigger
	r.triggers[trigger.UUID] = &clone
	return nil
}

func (r *fakeTriggerRepository) GetByUUID(ctx context.Context, uuid string) (*models.Trigger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trigger, ok := r.triggers[uuid]
	if !ok {
		return nil, nil
	}
	clone := *trigger
	return &clone, nil
}

func (r *fakeTriggerRepository) UpdateTransactionHash(ctx context.Context, uuid string, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashes[uuid] = txHash
	return nil
}

func (r *fakeTriggerRepository) UpdateParams(ctx context.Context, uuid string, paramsJSON string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if trigger, ok := r.triggers[uuid]; ok {
		trigger.Params = paramsJSON
	}
	return nil
}
