package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"aa-backend/internal/dto"
	"aa-backend/internal/models"
	"aa-backend/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDisbursementFixture(t *testing.T, chain *fakeChainService) (*DisbursementService, *fakeGroupRepository, *fakeDisbursementRepository) {
	t.Helper()
	groups := newFakeGroupRepository()
	disbursements := newFakeDisbursementRepository()
	queue := newTestQueue(newFakeJobRepository(), nil)
	s := NewDisbursementService(groups, disbursements, queue, newTestRegistry(t, chain), nil)
	return s, groups, disbursements
}

func TestFormatTokenAmount(t *testing.T) {
	cases := map[string]*big.Rat{
		"10":        big.NewRat(10, 1),
		"3.3333333": big.NewRat(10, 3),
		"0.5":       big.NewRat(1, 2),
		"0.0000001": big.NewRat(1, 10000000),
		"0":         big.NewRat(0, 1),
	}

	for want, amount := range cases {
		assert.Equal(t, want, formatTokenAmount(amount))
	}
}

func TestResolveShares_EqualSplit(t *testing.T) {
	groups := newFakeGroupRepository()
	groups.groups["g1"] = &models.BeneficiaryGroup{UUID: "g1", NumberOfTokens: 10}
	groups.members["g1"] = []models.GroupMember{
		{GroupUUID: "g1", PhoneNumber: "+9771", WalletAddress: "GAAA"},
		{GroupUUID: "g1", PhoneNumber: "+9772", WalletAddress: "GBBB"},
		{GroupUUID: "g1", PhoneNumber: "+9773", WalletAddress: "GCCC"},
	}

	s := &DisbursementService{groups: groups}

	shares, err := s.resolveShares(context.Background(), groups.groups["g1"])
	require.NoError(t, err)
	require.Len(t, shares, 3)

	for _, share := range shares {
		assert.Equal(t, "3.3333333", share.Amount)
	}
}

func TestResolveShares_AggregatesDuplicateWallets(t *testing.T) {
	groups := newFakeGroupRepository()
	groups.groups["g1"] = &models.BeneficiaryGroup{UUID: "g1", NumberOfTokens: 9}
	groups.members["g1"] = []models.GroupMember{
		{GroupUUID: "g1", PhoneNumber: "+9771", WalletAddress: "GAAA"},
		{GroupUUID: "g1", PhoneNumber: "+9772", WalletAddress: "GBBB"},
		{GroupUUID: "g1", PhoneNumber: "+9771", WalletAddress: "GAAA"},
	}

	s := &DisbursementService{groups: groups}

	shares, err := s.resolveShares(context.Background(), groups.groups["g1"])
	require.NoError(t, err)
	require.Len(t, shares, 2)

	// first-seen order is preserved
	assert.Equal(t, "GAAA", shares[0].WalletAddress)
	assert.Equal(t, "6", shares[0].Amount)
	assert.Equal(t, "GBBB", shares[1].WalletAddress)
	assert.Equal(t, "3", shares[1].Amount)
}

func TestResolveShares_EmptyGroupFails(t *testing.T) {
	groups := newFakeGroupRepository()
	groups.groups["g1"] = &models.BeneficiaryGroup{UUID: "g1", NumberOfTokens: 10}

	s := &DisbursementService{groups: groups}

	_, err := s.resolveShares(context.Background(), groups.groups["g1"])
	assert.Error(t, err)
}

func TestSelectGroups_AutoSelectsDisbursable(t *testing.T) {
	payout := "p1"
	groups := newFakeGroupRepository()
	groups.groups["ok"] = &models.BeneficiaryGroup{UUID: "ok", NumberOfTokens: 5}
	groups.groups["empty"] = &models.BeneficiaryGroup{UUID: "empty", NumberOfTokens: 0}
	groups.groups["done"] = &models.BeneficiaryGroup{UUID: "done", NumberOfTokens: 5, IsDisbursed: true}
	groups.groups["attached"] = &models.BeneficiaryGroup{UUID: "attached", NumberOfTokens: 5, PayoutID: &payout}

	s := &DisbursementService{groups: groups}

	selected, err := s.selectGroups(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "ok", selected[0].UUID)
}

func TestSelectGroups_ExplicitMustBeDisbursable(t *testing.T) {
	groups := newFakeGroupRepository()
	groups.groups["done"] = &models.BeneficiaryGroup{UUID: "done", NumberOfTokens: 5, IsDisbursed: true}

	s := &DisbursementService{groups: groups}

	_, err := s.selectGroups(context.Background(), []string{"done"})
	assert.Error(t, err)
}

func TestSelectGroups_ExplicitMustExist(t *testing.T) {
	s := &DisbursementService{groups: newFakeGroupRepository()}

	_, err := s.selectGroups(context.Background(), []string{"missing"})
	assert.Error(t, err)
}

func TestDisburse_GroupClaimedOnlyOnce(t *testing.T) {
	chain := &fakeChainService{name: "stellar", kind: ChainKindStellar, disburseTx: "tx"}
	s, groups, _ := newDisbursementFixture(t, chain)
	groups.groups["g1"] = &models.BeneficiaryGroup{UUID: "g1", NumberOfTokens: 10, Status: models.GroupDisbursementPending}
	groups.members["g1"] = []models.GroupMember{
		{GroupUUID: "g1", PhoneNumber: "+9771", WalletAddress: "GAAA"},
	}

	resp, err := s.Disburse(context.Background(), &dto.DisburseRequest{DName: "d1"})
	require.NoError(t, err)
	require.Len(t, resp.Groups, 1)
	assert.Equal(t, string(models.GroupDisbursementQueued), resp.Groups[0].Status)
	assert.Equal(t, models.GroupDisbursementQueued, groups.groups["g1"].Status)

	// the group is in flight now, neither auto-selection nor naming it
	// explicitly may submit it again
	_, err = s.Disburse(context.Background(), &dto.DisburseRequest{DName: "d1"})
	assert.Error(t, err)

	_, err = s.Disburse(context.Background(), &dto.DisburseRequest{DName: "d1", Groups: []string{"g1"}})
	assert.Error(t, err)
}

func TestDisburse_FailedGroupCanBeRetried(t *testing.T) {
	chain := &fakeChainService{name: "stellar", kind: ChainKindStellar, disburseTx: "tx"}
	s, groups, _ := newDisbursementFixture(t, chain)
	groups.groups["g1"] = &models.BeneficiaryGroup{UUID: "g1", NumberOfTokens: 10, Status: models.GroupDisbursementFailed}
	groups.members["g1"] = []models.GroupMember{
		{GroupUUID: "g1", PhoneNumber: "+9771", WalletAddress: "GAAA"},
	}

	resp, err := s.Disburse(context.Background(), &dto.DisburseRequest{DName: "d1"})
	require.NoError(t, err)
	require.Len(t, resp.Groups, 1)
}

func TestHandleDisburseJob_RetryResumesAfterSubmittedBatches(t *testing.T) {
	chain := &fakeChainService{
		name: "stellar", kind: ChainKindStellar, disburseTx: "tx",
		batchesPerRun: 2, failAtBatch: 1,
		disburseErr: types.NewTransientLedgerError("stellar.submit", "horizon timeout", nil),
	}
	s, groups, disbursements := newDisbursementFixture(t, chain)
	groups.groups["g1"] = &models.BeneficiaryGroup{UUID: "g1", NumberOfTokens: 10, Status: models.GroupDisbursementQueued}

	payload, err := json.Marshal(&disburseJobPayload{
		GroupUUID: "g1", RunUUID: "run-1", DName: "d1", Chain: "stellar",
		Shares: []BeneficiaryShare{{WalletAddress: "GAAA", Amount: "10"}},
	})
	require.NoError(t, err)
	job := &models.ChainJob{ID: "j1", Queue: models.QueueStellar, JobName: "g1_d1", Payload: string(payload), MaxAttempts: 3}

	// first attempt submits batch 0 then fails transiently
	_, err = s.handleDisburseJob(context.Background(), job)
	require.Error(t, err)

	rows, err := disbursements.ListByRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].BatchIndex)

	// the retry picks up after the recorded batch, never resubmitting it
	job.Attempts = 1
	_, err = s.handleDisburseJob(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, chain.submittedBatches)

	rows, err = disbursements.ListByRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for i, row := range rows {
		assert.Equal(t, i, row.BatchIndex)
		assert.Equal(t, fmt.Sprintf("tx-%d", i), row.TxHash)
	}
}

func TestHandleStatusJob_GroupDisbursedOnlyWhenAllBatchesConfirm(t *testing.T) {
	chain := &fakeChainService{name: "stellar", kind: ChainKindStellar, txStatus: TxStatusConfirmed}
	s, groups, disbursements := newDisbursementFixture(t, chain)
	groups.groups["g1"] = &models.BeneficiaryGroup{UUID: "g1", NumberOfTokens: 10, Status: models.GroupDisbursementInitiated}

	for i := 0; i < 2; i++ {
		require.NoError(t, disbursements.Create(context.Background(), &models.Disbursement{
			UUID: fmt.Sprintf("b%d", i), RunUUID: "run-1", GroupUUID: "g1",
			Chain: "stellar", Status: models.GroupDisbursementInitiated,
			TxHash: fmt.Sprintf("tx-%d", i), BatchIndex: i,
		}))
	}

	statusJob := func(batch int) *models.ChainJob {
		payload, err := json.Marshal(&disbursementStatusPayload{
			GroupUUID: "g1", RunUUID: "run-1", BatchUUID: fmt.Sprintf("b%d", batch),
			Chain: "stellar", TxHash: fmt.Sprintf("tx-%d", batch),
			TotalBatches: 2, InitiatedAt: time.Now(),
		})
		require.NoError(t, err)
		return &models.ChainJob{ID: fmt.Sprintf("s%d", batch), Queue: models.QueueStellar, Payload: string(payload)}
	}

	out, err := s.handleStatusJob(context.Background(), statusJob(0))
	require.NoError(t, err)
	assert.Contains(t, out, "batchConfirmed")
	assert.False(t, groups.groups["g1"].IsDisbursed)

	out, err = s.handleStatusJob(context.Background(), statusJob(1))
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"confirmed"`)
	assert.True(t, groups.groups["g1"].IsDisbursed)
}

func TestDisburseJobName_FallsBackToGroupUUID(t *testing.T) {
	named := &models.BeneficiaryGroup{UUID: "g1", ReservationTitle: "Flood Relief"}
	assert.Equal(t, "flood relief_d1", disburseJobName(named, "d1"))

	unnamed := &models.BeneficiaryGroup{UUID: "g2"}
	assert.Equal(t, "g2_d1", disburseJobName(unnamed, "d1"))
}

func TestQueueForKind(t *testing.T) {
	assert.Equal(t, models.QueueEvm, queueForKind(ChainKindEvm))
	assert.Equal(t, models.QueueStellar, queueForKind(ChainKindStellar))
}

func TestStatusCheckDelay(t *testing.T) {
	assert.Equal(t, evmStatusDelay, statusCheckDelay(ChainKindEvm, true))
	assert.Equal(t, evmStatusDelay, statusCheckDelay(ChainKindEvm, false))
	assert.Equal(t, stellarStatusFirstDelay, statusCheckDelay(ChainKindStellar, true))
	assert.Equal(t, stellarStatusPollDelay, statusCheckDelay(ChainKindStellar, false))
}
