package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"aa-backend/internal/clients"
	"aa-backend/internal/config"
	"aa-backend/internal/dto"
	"aa-backend/internal/metrics"
	"aa-backend/internal/types"
	"aa-backend/internal/utils"
)

// ErrTriggerAlreadyExists is surfaced when the trigger contract reports the
// id is already committed. Callers treat it as idempotent success.
var ErrTriggerAlreadyExists = errors.New("trigger already exists on chain")

// Error(Contract, #1) is the trigger contract's TriggerAlreadyExists code
const contractErrTriggerExists = "Error(Contract, #1)"

// payments per transaction, the protocol operation limit
const stellarPaymentBatchSize = 100

// StellarChainService is the Stellar/Soroban ledger adapter
type StellarChainService struct {
	chainName string
	settings  *config.ChainSettings
	horizon   *clients.HorizonClient
	soroban   *clients.SorobanClient
}

// NewStellarChainService builds the adapter, validating required settings
func NewStellarChainService(chainName string, settings *config.ChainSettings) (*StellarChainService, error) {
	if settings.HorizonURL == "" {
		return nil, types.NewConfigurationError("stellar.new",
			fmt.Sprintf("chain %s is missing horizonUrl", chainName))
	}
	if settings.Network == "" {
		return nil, types.NewConfigurationError("stellar.new",
			fmt.Sprintf("chain %s is missing network passphrase", chainName))
	}

	svc := &StellarChainService{
		chainName: chainName,
		settings:  settings,
		horizon:   clients.NewHorizonClient(settings.HorizonURL),
	}
	if settings.SorobanRPCURL != "" {
		svc.soroban = clients.NewSorobanClient(settings.SorobanRPCURL)
	}
	return svc, nil
}

func (s *StellarChainService) ChainName() string { return s.chainName }

func (s *StellarChainService) Kind() ChainKind { return ChainKindStellar }

func (s *StellarChainService) ValidateAddress(address string) bool {
	return utils.IsStellarAccountAddress(address)
}

func (s *StellarChainService) projectAsset() StellarAsset {
	return StellarAsset{Code: s.settings.AssetCode, Issuer: s.settings.AssetIssuer}
}

// GetWalletBalance lists the horizon balance lines of an account
func (s *StellarChainService) GetWalletBalance(ctx context.Context, address string) (*dto.WalletBalanceResponse, error) {
	if !s.ValidateAddress(address) {
		return nil, types.NewValidationError("stellar.balance", fmt.Sprintf("invalid stellar address: %s", address))
	}

	account, err := s.horizon.GetAccount(ctx, address)
	if err != nil {
		metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "getAccount").Inc()
		return nil, types.NewTransientLedgerError("stellar.balance", "horizon account lookup failed", err)
	}
	if account == nil {
		return nil, types.NewNotFoundError("stellar.balance", fmt.Sprintf("account %s not found on ledger", address))
	}

	resp := &dto.WalletBalanceResponse{Address: address, Chain: s.chainName}
	for _, b := range account.Balances {
		code := b.AssetCode
		if b.AssetType == "native" {
			code = "XLM"
		}
		resp.Balances = append(resp.Balances, dto.BalanceInfo{
			AssetCode: code,
			AssetType: b.AssetType,
			Balance:   b.Balance,
		})
	}
	return resp, nil
}

// BeneficiaryHasTokens reports whether the account holds the project asset
func (s *StellarChainService) BeneficiaryHasTokens(ctx context.Context, address string) (bool, error) {
	account, err := s.horizon.GetAccount(ctx, address)
	if err != nil {
		metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "getAccount").Inc()
		return false, types.NewTransientLedgerError("stellar.hasTokens", "horizon account lookup failed", err)
	}
	if account == nil {
		return false, nil
	}

	for _, b := range account.Balances {
		if b.AssetCode == s.settings.AssetCode && b.AssetIssuer == s.settings.AssetIssuer {
			bal, err := strconv.ParseFloat(b.Balance, 64)
			if err != nil {
				continue
			}
			return bal > 0, nil
		}
	}
	return false, nil
}

// FundAccount sends native lumens from the distribution account
func (s *StellarChainService) FundAccount(ctx context.Context, req *dto.FundAccountRequest) (string, error) {
	amount := req.Amount
	if amount == "" {
		amount = s.settings.FundingAmount
	}
	if amount == "" {
		return "", types.NewValidationError("stellar.fund", "funding amount not set")
	}
	return s.submitPayment(ctx, s.settings.SecretKey, req.WalletAddress, StellarAsset{}, amount)
}

// TransferTokens sends the project asset from the distribution account
func (s *StellarChainService) TransferTokens(ctx context.Context, req *dto.TransferTokensRequest) (string, error) {
	return s.submitPayment(ctx, s.settings.SecretKey, req.ToAddress, s.projectAsset(), req.Amount)
}

// TransferWithSecret sends the project asset signing with the supplied seed
func (s *StellarChainService) TransferWithSecret(ctx context.Context, secret, toAddress, amount string) (string, error) {
	return s.submitPayment(ctx, secret, toAddress, s.projectAsset(), amount)
}

// AssignTokens grants the project asset to a beneficiary
func (s *StellarChainService) AssignTokens(ctx context.Context, req *dto.AssignTokensRequest) (string, error) {
	return s.submitPayment(ctx, s.settings.SecretKey, req.BeneficiaryAddress, s.projectAsset(), req.Amount)
}

// DisburseShares pays every share, batching payments up to the operation
// limit and skipping batches already submitted by an earlier attempt.
func (s *StellarChainService) DisburseShares(ctx context.Context, groupUUID string, shares []BeneficiaryShare, fromBatch int) ([]BatchSubmission, error) {
	if len(shares) == 0 {
		return nil, types.NewValidationError("stellar.disburse", "no shares to disburse")
	}

	var submitted []BatchSubmission
	for start := fromBatch * stellarPaymentBatchSize; start < len(shares); start += stellarPaymentBatchSize {
		end := start + stellarPaymentBatchSize
		if end > len(shares) {
			end = len(shares)
		}
		batchIndex := start / stellarPaymentBatchSize

		ops := make([]PaymentOp, 0, end-start)
		for _, share := range shares[start:end] {
			stroops, err := ParseStroops(share.Amount)
			if err != nil {
				return submitted, types.NewValidationError("stellar.disburse", err.Error())
			}
			ops = append(ops, PaymentOp{
				Destination: share.WalletAddress,
				Asset:       s.projectAsset(),
				Amount:      stroops,
			})
		}

		hash, err := s.submitOps(ctx, s.settings.SecretKey, ops)
		if err != nil {
			return submitted, err
		}
		submitted = append(submitted, BatchSubmission{Index: batchIndex, TxHash: hash})
		log.Printf("✅ [Stellar] group %s batch %d paid (%d-%d), tx=%s", groupUUID, batchIndex, start, end-1, hash)
	}

	return submitted, nil
}

// CheckTransactionStatus polls soroban RPC first, falling back to horizon
func (s *StellarChainService) CheckTransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	if s.soroban != nil {
		result, err := s.soroban.GetTransaction(ctx, txHash)
		if err != nil {
			metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "getTransaction").Inc()
			return TxStatusNotFound, types.NewTransientLedgerError("stellar.status", "soroban getTransaction failed", err)
		}
		switch result.Status {
		case clients.SorobanStatusSuccess:
			return TxStatusConfirmed, nil
		case clients.SorobanStatusFailed:
			return TxStatusFailed, nil
		default:
			return TxStatusNotFound, nil
		}
	}

	tx, err := s.horizon.GetTransaction(ctx, txHash)
	if err != nil {
		metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "getTransaction").Inc()
		return TxStatusNotFound, types.NewTransientLedgerError("stellar.status", "horizon getTransaction failed", err)
	}
	if tx == nil {
		return TxStatusNotFound, nil
	}
	if tx.Successful {
		return TxStatusConfirmed, nil
	}
	return TxStatusFailed, nil
}

// AddTrigger commits a trigger definition via the soroban contract
func (s *StellarChainService) AddTrigger(ctx context.Context, req *dto.AddTriggerRequest) (string, error) {
	args := []ScVal{
		ScString(req.ID),
		ScString(req.TriggerType),
		ScString(req.Phase),
		ScString(req.Title),
		ScString(req.Source),
		ScString(req.RiverBasin),
		ScString(req.ParamsHash),
		ScBool(req.IsMandatory),
	}
	return s.invokeTriggerContract(ctx, "add_trigger", args)
}

// UpdateTriggerParams updates a committed trigger. Absent optional fields
// are encoded as void.
func (s *StellarChainService) UpdateTriggerParams(ctx context.Context, req *dto.UpdateTriggerParamsRequest) (string, error) {
	optString := func(v *string) ScVal {
		if v == nil {
			return ScVoid()
		}
		return ScString(*v)
	}
	optBool := func(v *bool) ScVal {
		if v == nil {
			return ScVoid()
		}
		return ScBool(*v)
	}

	paramsHash := ScVoid()
	if req.ParamsHash != nil {
		paramsHash = ScString(*req.ParamsHash)
	}

	args := []ScVal{
		ScString(req.ID),
		optString(req.TriggerType),
		optString(req.Phase),
		optString(req.Title),
		optString(req.Source),
		optString(req.RiverBasin),
		paramsHash,
		optBool(req.IsMandatory),
	}
	return s.invokeTriggerContract(ctx, "update_trigger_params", args)
}

// invokeTriggerContract runs the soroban build/simulate/sign/send pipeline
func (s *StellarChainService) invokeTriggerContract(ctx context.Context, function string, args []ScVal) (string, error) {
	op := "stellar." + function

	if s.soroban == nil {
		return "", types.NewConfigurationError(op, fmt.Sprintf("chain %s has no sorobanRpcUrl", s.chainName))
	}
	if s.settings.TriggerContractID == "" {
		return "", types.NewConfigurationError(op, fmt.Sprintf("chain %s has no triggerContractId", s.chainName))
	}

	buildStart := time.Now()

	source, err := AddressFromSeed(s.settings.SecretKey)
	if err != nil {
		return "", types.NewConfigurationError(op, err.Error())
	}

	seq, err := s.nextSequence(ctx, source)
	if err != nil {
		return "", err
	}

	tx := &StellarTx{
		SourceAccount: source,
		Fee:           baseFeeStroops,
		SeqNum:        seq,
		Invoke: &InvokeContractOp{
			ContractID:   s.settings.TriggerContractID,
			FunctionName: function,
			Args:         args,
		},
	}

	unsigned, err := EncodeUnsignedEnvelope(tx)
	if err != nil {
		return "", types.NewTerminalLedgerError(op, "failed to build envelope", err)
	}

	sim, err := s.soroban.SimulateTransaction(ctx, unsigned)
	if err != nil {
		metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "simulateTransaction").Inc()
		return "", types.NewTransientLedgerError(op, "simulation request failed", err)
	}
	if sim.Error != "" {
		if strings.Contains(sim.Error, contractErrTriggerExists) {
			return "", ErrTriggerAlreadyExists
		}
		return "", types.NewTerminalLedgerError(op, fmt.Sprintf("simulation failed: %s", sim.Error), nil)
	}

	// splice the simulated footprint and auth back into the envelope
	sorobanData, err := decodeB64(sim.TransactionData)
	if err != nil {
		return "", types.NewTerminalLedgerError(op, "bad simulation transactionData", err)
	}
	tx.RawSorobanData = sorobanData

	if len(sim.Results) > 0 {
		for _, authB64 := range sim.Results[0].Auth {
			auth, err := decodeB64(authB64)
			if err != nil {
				return "", types.NewTerminalLedgerError(op, "bad simulation auth entry", err)
			}
			tx.Invoke.RawAuth = append(tx.Invoke.RawAuth, auth)
		}
	}

	if fee, err := strconv.ParseUint(sim.MinResourceFee, 10, 32); err == nil {
		tx.Fee = baseFeeStroops + uint32(fee)
	}

	metrics.PipelineStageDuration.WithLabelValues(s.chainName, "build").Observe(time.Since(buildStart).Seconds())
	log.Printf("🔧 [Stellar] %s built (fee=%d, seq=%d)", function, tx.Fee, tx.SeqNum)

	signStart := time.Now()
	envelope, err := SignAndEncodeEnvelope(tx, s.settings.SecretKey, s.settings.Network)
	if err != nil {
		return "", types.NewTerminalLedgerError(op, "failed to sign envelope", err)
	}
	metrics.PipelineStageDuration.WithLabelValues(s.chainName, "sign").Observe(time.Since(signStart).Seconds())

	submitStart := time.Now()
	sent, err := s.soroban.SendTransaction(ctx, envelope)
	if err != nil {
		metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "sendTransaction").Inc()
		return "", types.NewTransientLedgerError(op, "sendTransaction failed", err)
	}
	metrics.PipelineStageDuration.WithLabelValues(s.chainName, "submit").Observe(time.Since(submitStart).Seconds())

	switch sent.Status {
	case clients.SorobanStatusPending, clients.SorobanStatusSuccess, clients.SorobanStatusDuplicate:
		log.Printf("📤 [Stellar] %s submitted, tx=%s", function, sent.Hash)
		return sent.Hash, nil
	case clients.SorobanStatusTryAgainLater:
		return "", types.NewTransientLedgerError(op, "ledger busy, try again later", nil)
	default:
		return "", types.NewTerminalLedgerError(op,
			fmt.Sprintf("submission rejected: status=%s result=%s", sent.Status, sent.ErrorResultXdr), nil)
	}
}

// submitPayment builds, signs, and submits a single payment
func (s *StellarChainService) submitPayment(ctx context.Context, secret, destination string, asset StellarAsset, amount string) (string, error) {
	stroops, err := ParseStroops(amount)
	if err != nil {
		return "", types.NewValidationError("stellar.payment", err.Error())
	}
	if stroops <= 0 {
		return "", types.NewValidationError("stellar.payment", "amount must be positive")
	}

	return s.submitOps(ctx, secret, []PaymentOp{{
		Destination: destination,
		Asset:       asset,
		Amount:      stroops,
	}})
}

// submitOps signs and submits a batch of payments through horizon
func (s *StellarChainService) submitOps(ctx context.Context, secret string, ops []PaymentOp) (string, error) {
	const op = "stellar.payment"

	for _, p := range ops {
		if !s.ValidateAddress(p.Destination) {
			return "", types.NewValidationError(op, fmt.Sprintf("invalid destination address: %s", p.Destination))
		}
	}

	source, err := AddressFromSeed(secret)
	if err != nil {
		return "", types.NewValidationError(op, err.Error())
	}

	seq, err := s.nextSequence(ctx, source)
	if err != nil {
		return "", err
	}

	tx := &StellarTx{
		SourceAccount: source,
		Fee:           baseFeeStroops * uint32(len(ops)),
		SeqNum:        seq,
		Payments:      ops,
	}

	envelope, err := SignAndEncodeEnvelope(tx, secret, s.settings.Network)
	if err != nil {
		return "", types.NewTerminalLedgerError(op, "failed to sign envelope", err)
	}

	submitStart := time.Now()
	resp, err := s.horizon.SubmitTransaction(ctx, envelope)
	if err != nil {
		metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "submitTransaction").Inc()
		// horizon rejections carry result codes and are terminal;
		// transport failures are transient
		if strings.Contains(err.Error(), "horizon rejected transaction") {
			return "", types.NewTerminalLedgerError(op, "transaction rejected", err)
		}
		return "", types.NewTransientLedgerError(op, "submission failed", err)
	}
	metrics.PipelineStageDuration.WithLabelValues(s.chainName, "submit").Observe(time.Since(submitStart).Seconds())
	metrics.PipelineOutcomes.WithLabelValues(s.chainName, "confirmed").Inc()

	return resp.Hash, nil
}

// nextSequence loads the account and returns its next sequence number
func (s *StellarChainService) nextSequence(ctx context.Context, address string) (int64, error) {
	account, err := s.horizon.GetAccount(ctx, address)
	if err != nil {
		metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "getAccount").Inc()
		return 0, types.NewTransientLedgerError("stellar.sequence", "horizon account lookup failed", err)
	}
	if account == nil {
		return 0, types.NewNotFoundError("stellar.sequence", fmt.Sprintf("source account %s not found", address))
	}

	seq, err := strconv.ParseInt(account.Sequence, 10, 64)
	if err != nil {
		return 0, types.NewTerminalLedgerError("stellar.sequence", "bad sequence number from horizon", err)
	}
	return seq + 1, nil
}
