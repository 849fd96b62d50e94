package services

import (
	"context"
	"testing"
	"time"

	"aa-backend/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTriggerService(triggers *fakeTriggerRepository) *TriggerService {
	return &TriggerService{
		triggers:        triggers,
		confirmInterval: time.Millisecond,
		confirmTimeout:  20 * time.Millisecond,
	}
}

func TestConfirmCommitment_ConfirmedPersistsHash(t *testing.T) {
	chain := &fakeChainService{name: "stellar", kind: ChainKindStellar, txStatus: TxStatusConfirmed}
	triggers := newFakeTriggerRepository()
	s := newTestTriggerService(triggers)

	out, err := s.confirmCommitment(context.Background(), chain, "t1", "txabc")
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"confirmed"`)
	assert.Equal(t, "txabc", triggers.hashes["t1"])
}

func TestConfirmCommitment_FailedTransactionIsTerminal(t *testing.T) {
	chain := &fakeChainService{name: "stellar", kind: ChainKindStellar, txStatus: TxStatusFailed}
	s := newTestTriggerService(newFakeTriggerRepository())

	_, err := s.confirmCommitment(context.Background(), chain, "t1", "txabc")
	require.Error(t, err)
	assert.False(t, types.IsTransient(err))
}

func TestConfirmCommitment_UnconfirmedWithinWindowIsNotFailure(t *testing.T) {
	chain := &fakeChainService{name: "stellar", kind: ChainKindStellar, txStatus: TxStatusNotFound}
	triggers := newFakeTriggerRepository()
	s := newTestTriggerService(triggers)

	out, err := s.confirmCommitment(context.Background(), chain, "t1", "txabc")
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"unconfirmed"`)
	assert.Contains(t, out, "txabc")

	// hash is kept so the outcome can still be checked later
	assert.Equal(t, "txabc", triggers.hashes["t1"])
}

func TestConfirmCommitment_CancelledContextStopsPolling(t *testing.T) {
	chain := &fakeChainService{name: "stellar", kind: ChainKindStellar, txStatus: TxStatusNotFound}
	s := &TriggerService{
		triggers:        newFakeTriggerRepository(),
		confirmInterval: time.Millisecond,
		confirmTimeout:  time.Minute,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.confirmCommitment(ctx, chain, "t1", "txabc")
	assert.ErrorIs(t, err, context.Canceled)
}
