package services

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"log"
	"math/big"
	"time"

	"aa-backend/internal/clients"
	"aa-backend/internal/config"
	"aa-backend/internal/dto"
	"aa-backend/internal/metrics"
	"aa-backend/internal/models"
	"aa-backend/internal/repository"
	"aa-backend/internal/types"

	"github.com/google/uuid"
	otplib "github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"golang.org/x/crypto/bcrypt"
)

const otpBcryptCost = 10

const (
	redeemConfirmInterval = 2 * time.Second
	redeemConfirmTimeout  = 60 * time.Second
)

// OtpService issues, verifies and redeems one-time passwords. The stored
// hash binds the code to the redemption amount, so a verified OTP cannot be
// replayed for a different amount.
type OtpService struct {
	otps     repository.OtpRepository
	redeems  repository.RedeemRepository
	vendors  repository.VendorRepository
	wallet   *clients.WalletClient
	registry *ChainRegistry
	nats     *clients.NATSClient

	confirmInterval time.Duration
	confirmTimeout  time.Duration
}

// NewOtpService creates the OTP service
func NewOtpService(
	otps repository.OtpRepository,
	redeems repository.RedeemRepository,
	vendors repository.VendorRepository,
	wallet *clients.WalletClient,
	registry *ChainRegistry,
	nats *clients.NATSClient,
) *OtpService {
	return &OtpService{
		otps:            otps,
		redeems:         redeems,
		vendors:         vendors,
		wallet:          wallet,
		registry:        registry,
		nats:            nats,
		confirmInterval: redeemConfirmInterval,
		confirmTimeout:  redeemConfirmTimeout,
	}
}

// SendOtp validates the beneficiary and amount, then stores a fresh OTP and
// an open redeem record. Re-sending replaces the previous code.
func (s *OtpService) SendOtp(ctx context.Context, req *dto.SendOtpRequest) (*dto.SendOtpResponse, error) {
	amount, err := parsePositiveAmount(req.Amount)
	if err != nil {
		return nil, types.NewValidationError("otp.send", err.Error())
	}

	vendor, err := s.vendors.GetByUUID(ctx, req.VendorUuid)
	if err != nil {
		return nil, fmt.Errorf("vendor lookup failed: %w", err)
	}
	if vendor == nil {
		return nil, types.NewNotFoundError("otp.send", fmt.Sprintf("vendor %s not found", req.VendorUuid))
	}

	secret, err := s.wallet.GetSecretByPhone(req.PhoneNumber)
	if err != nil {
		return nil, types.NewNotFoundError("otp.send",
			fmt.Sprintf("no wallet registered for phone %s: %v", req.PhoneNumber, err))
	}

	chain, err := s.registry.ResolveByAddress(secret.Address)
	if err != nil {
		return nil, err
	}

	hasTokens, err := chain.BeneficiaryHasTokens(ctx, secret.Address)
	if err != nil {
		return nil, fmt.Errorf("token balance check failed: %w", err)
	}
	if !hasTokens {
		return nil, types.NewValidationError("otp.send", "beneficiary holds no tokens")
	}

	balance, err := chain.GetWalletBalance(ctx, secret.Address)
	if err != nil {
		return nil, fmt.Errorf("balance lookup failed: %w", err)
	}
	if !coversAmount(balance.Balances, amount) {
		return nil, types.NewValidationError("otp.send",
			fmt.Sprintf("requested amount %s exceeds beneficiary balance", req.Amount))
	}

	code, err := generateOtpCode(config.AppConfig.Otp.Digits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate OTP: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(fmt.Sprintf("%s:%s", code, req.Amount)), otpBcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash OTP: %w", err)
	}

	expiresAt := time.Now().Add(time.Duration(config.AppConfig.Otp.ExpiryMinutes) * time.Minute)

	record := &models.OtpRecord{
		ID:           uuid.New().String(),
		PhoneNumber:  req.PhoneNumber,
		OtpHash:      string(hash),
		AmountLocked: req.Amount,
		VendorUid:    req.VendorUuid,
		IsVerified:   false,
		ExpiresAt:    expiresAt,
	}
	if err := s.otps.UpsertByPhone(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store OTP: %w", err)
	}

	redeem := &models.BeneficiaryRedeem{
		UUID:                     uuid.New().String(),
		BeneficiaryWalletAddress: secret.Address,
		BeneficiaryPhone:         req.PhoneNumber,
		VendorUid:                req.VendorUuid,
		Amount:                   req.Amount,
		Status:                   models.RedeemStatusPending,
	}
	if err := s.redeems.UpsertPending(ctx, redeem); err != nil {
		return nil, fmt.Errorf("failed to store redeem record: %w", err)
	}

	metrics.OtpIssued.Inc()
	log.Printf("✅ [OTP] issued for %s (vendor=%s, expires=%s)", req.PhoneNumber, req.VendorUuid, expiresAt.Format(time.RFC3339))

	if s.nats != nil {
		event := map[string]interface{}{
			"phoneNumber": req.PhoneNumber,
			"otp":         code,
			"amount":      req.Amount,
			"vendorUuid":  req.VendorUuid,
			"expiresAt":   expiresAt.Format(time.RFC3339),
		}
		if err := s.nats.Publish(clients.SubjectOtpCreated, event); err != nil {
			log.Printf("⚠️ [OTP] failed to publish OTP event: %v", err)
		}
	}

	return &dto.SendOtpResponse{
		PhoneNumber: req.PhoneNumber,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// VerifyOtp checks a code against the stored hash and consumes it. Failure
// order: no record, already used, expired, mismatch.
func (s *OtpService) VerifyOtp(ctx context.Context, req *dto.VerifyOtpRequest) error {
	record, err := s.otps.GetByPhone(ctx, req.PhoneNumber)
	if err != nil {
		return fmt.Errorf("OTP lookup failed: %w", err)
	}
	if record == nil {
		metrics.OtpVerifications.WithLabelValues("not_found").Inc()
		return types.NewAuthorizationError("otp.verify", "no OTP found for this phone number")
	}
	if record.IsVerified {
		metrics.OtpVerifications.WithLabelValues("already_used").Inc()
		return types.NewAuthorizationError("otp.verify", "OTP already used")
	}
	if time.Now().After(record.ExpiresAt) {
		metrics.OtpVerifications.WithLabelValues("expired").Inc()
		return types.NewAuthorizationError("otp.verify", "OTP expired")
	}

	err = bcrypt.CompareHashAndPassword([]byte(record.OtpHash), []byte(fmt.Sprintf("%s:%s", req.Otp, req.Amount)))
	if err != nil {
		metrics.OtpVerifications.WithLabelValues("mismatch").Inc()
		return types.NewAuthorizationError("otp.verify", "invalid OTP or amount")
	}

	if err := s.otps.MarkVerified(ctx, record.ID); err != nil {
		return fmt.Errorf("failed to consume OTP: %w", err)
	}

	metrics.OtpVerifications.WithLabelValues("success").Inc()
	log.Printf("✅ [OTP] verified for %s", req.PhoneNumber)
	return nil
}

// Redeem verifies the OTP, transfers tokens from the beneficiary to the
// vendor signing with the custodied key, and closes the open redeem record.
func (s *OtpService) Redeem(ctx context.Context, req *dto.RedeemRequest) (*dto.RedeemResponse, error) {
	vendor, err := s.vendors.GetByWalletAddress(ctx, req.VendorWalletAddress)
	if err != nil {
		return nil, fmt.Errorf("vendor lookup failed: %w", err)
	}
	if vendor == nil {
		return nil, types.NewNotFoundError("otp.redeem",
			fmt.Sprintf("no vendor registered for wallet %s", req.VendorWalletAddress))
	}

	if err := s.VerifyOtp(ctx, &dto.VerifyOtpRequest{
		PhoneNumber: req.PhoneNumber,
		Otp:         req.Otp,
		Amount:      req.Amount,
	}); err != nil {
		return nil, err
	}

	secret, err := s.wallet.GetSecretByPhone(req.PhoneNumber)
	if err != nil {
		return nil, types.NewNotFoundError("otp.redeem",
			fmt.Sprintf("no wallet registered for phone %s: %v", req.PhoneNumber, err))
	}

	chain, err := s.registry.ResolveByAddress(secret.Address)
	if err != nil {
		return nil, err
	}

	if !chain.ValidateAddress(req.VendorWalletAddress) {
		return nil, types.NewValidationError("otp.redeem",
			fmt.Sprintf("vendor address %s is not valid on chain %s", req.VendorWalletAddress, chain.ChainName()))
	}

	redeem, err := s.redeems.FindLatestPending(ctx, secret.Address)
	if err != nil {
		return nil, fmt.Errorf("redeem lookup failed: %w", err)
	}
	if redeem == nil {
		redeem = &models.BeneficiaryRedeem{
			UUID:                     uuid.New().String(),
			BeneficiaryWalletAddress: secret.Address,
			BeneficiaryPhone:         req.PhoneNumber,
			VendorUid:                vendor.UUID,
			Amount:                   req.Amount,
			Status:                   models.RedeemStatusPending,
		}
		if err := s.redeems.Create(ctx, redeem); err != nil {
			return nil, fmt.Errorf("failed to store redeem record: %w", err)
		}
	}

	txHash, err := chain.TransferWithSecret(ctx, secret.PrivateKey, req.VendorWalletAddress, req.Amount)
	if err != nil {
		if uerr := s.redeems.UpdateStatus(ctx, redeem.UUID, models.RedeemStatusFailed, err.Error()); uerr != nil {
			log.Printf("⚠️ [OTP] failed to mark redeem %s failed: %v", redeem.UUID, uerr)
		}
		return nil, fmt.Errorf("token transfer failed: %w", err)
	}

	if err := s.redeems.MarkInitiated(ctx, redeem.UUID, txHash); err != nil {
		log.Printf("⚠️ [OTP] transfer %s submitted but redeem %s was not marked initiated: %v", txHash, redeem.UUID, err)
	}

	status, err := s.awaitTransfer(ctx, chain, txHash)
	if err != nil {
		return nil, fmt.Errorf("transfer confirmation failed: %w", err)
	}

	switch status {
	case TxStatusConfirmed:
		if err := s.redeems.MarkCompleted(ctx, redeem.UUID, txHash); err != nil {
			log.Printf("⚠️ [OTP] transfer %s confirmed but redeem %s was not marked completed: %v", txHash, redeem.UUID, err)
		}
		log.Printf("✅ [OTP] redeem completed for %s -> vendor %s (tx=%s)", req.PhoneNumber, vendor.UUID, txHash)

		if s.nats != nil {
			event := map[string]interface{}{
				"redeemUuid":  redeem.UUID,
				"phoneNumber": req.PhoneNumber,
				"vendorUuid":  vendor.UUID,
				"amount":      req.Amount,
				"txHash":      txHash,
				"chain":       chain.ChainName(),
			}
			if err := s.nats.Publish(clients.SubjectRedeemCompleted, event); err != nil {
				log.Printf("⚠️ [OTP] failed to publish redeem event: %v", err)
			}
		}

		return &dto.RedeemResponse{
			RedeemUUID: redeem.UUID,
			TxHash:     txHash,
			Status:     string(models.RedeemStatusCompleted),
		}, nil

	case TxStatusFailed:
		reason := fmt.Sprintf("transaction %s failed on-chain", txHash)
		if err := s.redeems.UpdateStatus(ctx, redeem.UUID, models.RedeemStatusFailed, reason); err != nil {
			log.Printf("⚠️ [OTP] failed to mark redeem %s failed: %v", redeem.UUID, err)
		}
		return nil, types.NewTerminalLedgerError("otp.redeem", reason, nil)

	default:
		// unconfirmed within the window, leave the redeem initiated so it
		// can be reconciled once the transaction lands
		log.Printf("⚠️ [OTP] redeem %s unconfirmed after %s (tx=%s)", redeem.UUID, s.confirmTimeout, txHash)
		return &dto.RedeemResponse{
			RedeemUUID: redeem.UUID,
			TxHash:     txHash,
			Status:     string(models.RedeemStatusInitiated),
		}, nil
	}
}

// awaitTransfer polls the submitted transfer until it confirms, fails, or
// the confirmation window elapses. Transient polling errors are retried
// until the deadline.
func (s *OtpService) awaitTransfer(ctx context.Context, chain ChainService, txHash string) (TxStatus, error) {
	deadline := time.Now().Add(s.confirmTimeout)
	ticker := time.NewTicker(s.confirmInterval)
	defer ticker.Stop()

	for {
		status, err := chain.CheckTransactionStatus(ctx, txHash)
		if err != nil && !types.IsTransient(err) {
			return TxStatusNotFound, err
		}
		if err == nil && status != TxStatusNotFound {
			return status, nil
		}

		if time.Now().After(deadline) {
			return TxStatusNotFound, nil
		}
		select {
		case <-ctx.Done():
			return TxStatusNotFound, ctx.Err()
		case <-ticker.C:
		}
	}
}

// generateOtpCode produces a numeric code using an HOTP counter seeded from
// a random secret.
func generateOtpCode(digits int) (string, error) {
	if digits <= 0 {
		digits = 6
	}

	var seed [20]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return "", err
	}
	secret := base32.StdEncoding.EncodeToString(seed[:])

	return hotp.GenerateCodeCustom(secret, uint64(time.Now().UnixNano()), hotp.ValidateOpts{
		Digits:    otplib.Digits(digits),
		Algorithm: otplib.AlgorithmSHA256,
	})
}

// parsePositiveAmount validates a decimal token amount string
func parsePositiveAmount(amount string) (*big.Rat, error) {
	rat, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a valid number", amount)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %q", amount)
	}
	return rat, nil
}

// coversAmount reports whether any non-native balance line covers the amount
func coversAmount(balances []dto.BalanceInfo, amount *big.Rat) bool {
	for _, b := range balances {
		if b.AssetType == "native" {
			continue
		}
		if held, ok := new(big.Rat).SetString(b.Balance); ok && held.Cmp(amount) >= 0 {
			return true
		}
	}
	return false
}
