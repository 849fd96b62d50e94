package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aa-backend/internal/clients"
	"aa-backend/internal/config"
	"aa-backend/internal/dto"
	"aa-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func storeOtp(t *testing.T, otps *fakeOtpRepository, phone, code, amount string, expiresAt time.Time, verified bool) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(fmt.Sprintf("%s:%s", code, amount)), bcrypt.MinCost)
	require.NoError(t, err)

	require.NoError(t, otps.UpsertByPhone(context.Background(), &models.OtpRecord{
		ID:           "otp-" + phone,
		PhoneNumber:  phone,
		OtpHash:      string(hash),
		AmountLocked: amount,
		IsVerified:   verified,
		ExpiresAt:    expiresAt,
	}))
}

func TestVerifyOtp_Success(t *testing.T) {
	otps := newFakeOtpRepository()
	storeOtp(t, otps, "+9771", "123456", "50", time.Now().Add(5*time.Minute), false)

	s := &OtpService{otps: otps}

	err := s.VerifyOtp(context.Background(), &dto.VerifyOtpRequest{
		PhoneNumber: "+9771",
		Otp:         "123456",
		Amount:      "50",
	})
	require.NoError(t, err)

	// the code is consumed
	record, _ := otps.GetByPhone(context.Background(), "+9771")
	assert.True(t, record.IsVerified)
}

func TestVerifyOtp_SingleUse(t *testing.T) {
	otps := newFakeOtpRepository()
	storeOtp(t, otps, "+9771", "123456", "50", time.Now().Add(5*time.Minute), false)

	s := &OtpService{otps: otps}
	req := &dto.VerifyOtpRequest{PhoneNumber: "+9771", Otp: "123456", Amount: "50"}

	require.NoError(t, s.VerifyOtp(context.Background(), req))
	assert.Error(t, s.VerifyOtp(context.Background(), req))
}

func TestVerifyOtp_NoRecord(t *testing.T) {
	s := &OtpService{otps: newFakeOtpRepository()}

	err := s.VerifyOtp(context.Background(), &dto.VerifyOtpRequest{
		PhoneNumber: "+9779",
		Otp:         "123456",
		Amount:      "50",
	})
	assert.Error(t, err)
}

func TestVerifyOtp_Expired(t *testing.T) {
	otps := newFakeOtpRepository()
	storeOtp(t, otps, "+9771", "123456", "50", time.Now().Add(-time.Minute), false)

	s := &OtpService{otps: otps}

	err := s.VerifyOtp(context.Background(), &dto.VerifyOtpRequest{
		PhoneNumber: "+9771",
		Otp:         "123456",
		Amount:      "50",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestVerifyOtp_WrongCode(t *testing.T) {
	otps := newFakeOtpRepository()
	storeOtp(t, otps, "+9771", "123456", "50", time.Now().Add(5*time.Minute), false)

	s := &OtpService{otps: otps}

	err := s.VerifyOtp(context.Background(), &dto.VerifyOtpRequest{
		PhoneNumber: "+9771",
		Otp:         "654321",
		Amount:      "50",
	})
	assert.Error(t, err)
}

func TestVerifyOtp_AmountBound(t *testing.T) {
	otps := newFakeOtpRepository()
	storeOtp(t, otps, "+9771", "123456", "50", time.Now().Add(5*time.Minute), false)

	s := &OtpService{otps: otps}

	// right code, different amount: the hash binds both
	err := s.VerifyOtp(context.Background(), &dto.VerifyOtpRequest{
		PhoneNumber: "+9771",
		Otp:         "123456",
		Amount:      "500",
	})
	assert.Error(t, err)
}

func TestVerifyOtp_ResendReplacesCode(t *testing.T) {
	otps := newFakeOtpRepository()
	storeOtp(t, otps, "+9771", "111111", "50", time.Now().Add(5*time.Minute), false)
	// a re-send overwrites the record for the same phone
	storeOtp(t, otps, "+9771", "222222", "50", time.Now().Add(5*time.Minute), false)

	s := &OtpService{otps: otps}

	err := s.VerifyOtp(context.Background(), &dto.VerifyOtpRequest{
		PhoneNumber: "+9771", Otp: "111111", Amount: "50",
	})
	assert.Error(t, err)

	err = s.VerifyOtp(context.Background(), &dto.VerifyOtpRequest{
		PhoneNumber: "+9771", Otp: "222222", Amount: "50",
	})
	assert.NoError(t, err)
}

// newRedeemFixture wires an OtpService against a stub wallet service and
// the given fake chain, with a valid OTP stored for +9771/50.
func newRedeemFixture(t *testing.T, chain *fakeChainService) (*OtpService, *fakeRedeemRepository) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(clients.WalletSecretResponse{
			Success:    true,
			Address:    "GBEN",
			PrivateKey: "SBEN",
		})
	}))
	t.Cleanup(srv.Close)

	vendors := newFakeVendorRepository()
	vendors.vendors["v1"] = &models.Vendor{UUID: "v1", WalletAddress: "GVENDOR"}

	otps := newFakeOtpRepository()
	storeOtp(t, otps, "+9771", "123456", "50", time.Now().Add(5*time.Minute), false)

	redeems := newFakeRedeemRepository()

	return &OtpService{
		otps:            otps,
		redeems:         redeems,
		vendors:         vendors,
		wallet:          clients.NewWalletClient(config.WalletServiceConfig{BaseURL: srv.URL}),
		registry:        newTestRegistry(t, chain),
		confirmInterval: time.Millisecond,
		confirmTimeout:  20 * time.Millisecond,
	}, redeems
}

func redeemRequest() *dto.RedeemRequest {
	return &dto.RedeemRequest{
		VendorWalletAddress: "GVENDOR",
		PhoneNumber:         "+9771",
		Otp:                 "123456",
		Amount:              "50",
	}
}

func TestRedeem_CompletesOnlyAfterConfirmation(t *testing.T) {
	chain := &fakeChainService{name: "stellar", kind: ChainKindStellar, transferTx: "0xgood", txStatus: TxStatusConfirmed}
	s, redeems := newRedeemFixture(t, chain)

	// an open redeem from SendOtp is reused, not duplicated
	require.NoError(t, redeems.Create(context.Background(), &models.BeneficiaryRedeem{
		UUID:                     "r1",
		BeneficiaryWalletAddress: "GBEN",
		BeneficiaryPhone:         "+9771",
		VendorUid:                "v1",
		Amount:                   "50",
		Status:                   models.RedeemStatusPending,
	}))

	resp, err := s.Redeem(context.Background(), redeemRequest())
	require.NoError(t, err)
	assert.Equal(t, "r1", resp.RedeemUUID)
	assert.Equal(t, string(models.RedeemStatusCompleted), resp.Status)
	assert.Equal(t, "0xgood", resp.TxHash)

	row, err := redeems.GetByUUID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RedeemStatusCompleted, row.Status)
	assert.True(t, row.IsCompleted)
}

func TestRedeem_RevertedTransferIsNotCompleted(t *testing.T) {
	chain := &fakeChainService{name: "stellar", kind: ChainKindStellar, transferTx: "0xrevert", txStatus: TxStatusFailed}
	s, redeems := newRedeemFixture(t, chain)

	_, err := s.Redeem(context.Background(), redeemRequest())
	require.Error(t, err)

	// the transfer reverted on-chain, the redeem must reflect that
	for _, row := range redeems.rows {
		assert.Equal(t, models.RedeemStatusFailed, row.Status)
		assert.False(t, row.IsCompleted)
	}
	require.Len(t, redeems.rows, 1)
}

func TestRedeem_UnconfirmedTransferStaysInitiated(t *testing.T) {
	chain := &fakeChainService{name: "stellar", kind: ChainKindStellar, transferTx: "0xslow", txStatus: TxStatusNotFound}
	s, redeems := newRedeemFixture(t, chain)

	resp, err := s.Redeem(context.Background(), redeemRequest())
	require.NoError(t, err)
	assert.Equal(t, string(models.RedeemStatusInitiated), resp.Status)
	assert.Equal(t, "0xslow", resp.TxHash)

	row, err := redeems.GetByUUID(context.Background(), resp.RedeemUUID)
	require.NoError(t, err)
	assert.Equal(t, models.RedeemStatusInitiated, row.Status)
	assert.False(t, row.IsCompleted)
}

func TestRedeem_FailedSubmissionMarksRedeemFailed(t *testing.T) {
	chain := &fakeChainService{name: "stellar", kind: ChainKindStellar, transferErr: fmt.Errorf("underfunded")}
	s, redeems := newRedeemFixture(t, chain)

	_, err := s.Redeem(context.Background(), redeemRequest())
	require.Error(t, err)

	require.Len(t, redeems.rows, 1)
	for _, row := range redeems.rows {
		assert.Equal(t, models.RedeemStatusFailed, row.Status)
	}
}

func TestParsePositiveAmount(t *testing.T) {
	for _, good := range []string{"1", "0.5", "100.25"} {
		_, err := parsePositiveAmount(good)
		assert.NoError(t, err, good)
	}
	for _, bad := range []string{"", "0", "-1", "abc"} {
		_, err := parsePositiveAmount(bad)
		assert.Error(t, err, bad)
	}
}

func TestGenerateOtpCode(t *testing.T) {
	code, err := generateOtpCode(6)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	code8, err := generateOtpCode(8)
	require.NoError(t, err)
	assert.Len(t, code8, 8)
}
