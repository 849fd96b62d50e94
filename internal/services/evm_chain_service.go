package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"aa-backend/internal/config"
	"aa-backend/internal/dto"
	"aa-backend/internal/metrics"
	"aa-backend/internal/types"
	"aa-backend/internal/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// beneficiaries per multicall batch
const evmAssignBatchSize = 10

// pause between disbursement batches so the RPC node is not hammered
const evmBatchDelay = 2 * time.Second

const erc20ABIJSON = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const projectABIJSON = `[
	{"name":"benTokens","type":"function","stateMutability":"view","inputs":[{"name":"beneficiary","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"assignTokenToBeneficiary","type":"function","inputs":[{"name":"beneficiary","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

const multicallABIJSON = `[
	{"name":"aggregate3","type":"function","stateMutability":"payable","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}]}],"outputs":[{"name":"returnData","type":"tuple[]","components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}]}]}
]`

// EvmChainService is the EVM ledger adapter
type EvmChainService struct {
	chainName string
	settings  *config.ChainSettings
	client    *ethclient.Client
	chainID   *big.Int

	erc20ABI     abi.ABI
	projectABI   abi.ABI
	multicallABI abi.ABI

	decimalsCache cachedValue[uint8]
}

// cachedValue latches a fetched value on success only, so a transient
// failure on the first fetch does not poison the cache.
type cachedValue[T any] struct {
	mu     sync.Mutex
	loaded bool
	value  T
}

func (c *cachedValue[T]) get(fetch func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.value, nil
	}
	value, err := fetch()
	if err != nil {
		return value, err
	}
	c.value = value
	c.loaded = true
	return value, nil
}

// NewEvmChainService builds the adapter, validating required settings and
// dialing the RPC endpoint.
func NewEvmChainService(chainName string, settings *config.ChainSettings) (*EvmChainService, error) {
	if settings.RPCURL == "" {
		return nil, types.NewConfigurationError("evm.new",
			fmt.Sprintf("chain %s is missing rpcUrl", chainName))
	}
	if settings.ChainID == 0 {
		return nil, types.NewConfigurationError("evm.new",
			fmt.Sprintf("chain %s is missing chainId", chainName))
	}

	client, err := ethclient.Dial(settings.RPCURL)
	if err != nil {
		return nil, types.NewConfigurationError("evm.new",
			fmt.Sprintf("failed to dial %s: %v", settings.RPCURL, err))
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 ABI: %w", err)
	}
	project, err := abi.JSON(strings.NewReader(projectABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse project ABI: %w", err)
	}
	multicall, err := abi.JSON(strings.NewReader(multicallABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse multicall ABI: %w", err)
	}

	log.Printf("✅ [EVM] connected chain '%s' (chainId=%d, rpc=%s)", chainName, settings.ChainID, settings.RPCURL)

	return &EvmChainService{
		chainName:    chainName,
		settings:     settings,
		client:       client,
		chainID:      big.NewInt(settings.ChainID),
		erc20ABI:     erc20,
		projectABI:   project,
		multicallABI: multicall,
	}, nil
}

func (s *EvmChainService) ChainName() string { return s.chainName }

func (s *EvmChainService) Kind() ChainKind { return ChainKindEvm }

func (s *EvmChainService) ValidateAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && utils.IsEvmAddress(address)
}

// tokenDecimals reads decimals() and caches the first successful answer
func (s *EvmChainService) tokenDecimals(ctx context.Context) (uint8, error) {
	return s.decimalsCache.get(func() (uint8, error) {
		data, err := s.erc20ABI.Pack("decimals")
		if err != nil {
			return 0, err
		}
		out, err := s.callView(ctx, s.settings.TokenContractAddress, data)
		if err != nil {
			return 0, err
		}
		results, err := s.erc20ABI.Unpack("decimals", out)
		if err != nil {
			return 0, err
		}
		return results[0].(uint8), nil
	})
}

// GetWalletBalance lists native coin, project token, and assigned project
// entitlement balances.
func (s *EvmChainService) GetWalletBalance(ctx context.Context, address string) (*dto.WalletBalanceResponse, error) {
	if !s.ValidateAddress(address) {
		return nil, types.NewValidationError("evm.balance", fmt.Sprintf("invalid evm address: %s", address))
	}

	addr := common.HexToAddress(address)

	native, err := s.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "balanceAt").Inc()
		return nil, types.NewTransientLedgerError("evm.balance", "native balance query failed", err)
	}

	// balances are reported in whole-token units, matching the amounts
	// callers pass around everywhere else
	resp := &dto.WalletBalanceResponse{Address: address, Chain: s.chainName}
	resp.Balances = append(resp.Balances, dto.BalanceInfo{
		AssetCode: "native",
		AssetType: "native",
		Balance:   formatUnits(native, 18),
	})

	if s.settings.TokenContractAddress != "" {
		decimals, err := s.tokenDecimals(ctx)
		if err != nil {
			return nil, types.NewTransientLedgerError("evm.balance", "decimals query failed", err)
		}

		tokenBal, err := s.erc20BalanceOf(ctx, addr)
		if err != nil {
			return nil, err
		}
		resp.Balances = append(resp.Balances, dto.BalanceInfo{
			AssetCode: "token",
			AssetType: "erc20",
			Balance:   formatUnits(tokenBal, int(decimals)),
		})

		if s.settings.ProjectContractAddress != "" {
			assigned, err := s.benTokens(ctx, addr)
			if err != nil {
				return nil, err
			}
			resp.Balances = append(resp.Balances, dto.BalanceInfo{
				AssetCode: "benTokens",
				AssetType: "erc20",
				Balance:   formatUnits(assigned, int(decimals)),
			})
		}
	}

	return resp, nil
}

// BeneficiaryHasTokens checks the project contract's per-beneficiary
// entitlement.
func (s *EvmChainService) BeneficiaryHasTokens(ctx context.Context, address string) (bool, error) {
	if s.settings.ProjectContractAddress == "" {
		return false, types.NewConfigurationError("evm.hasTokens",
			fmt.Sprintf("chain %s has no projectContractAddress", s.chainName))
	}
	assigned, err := s.benTokens(ctx, common.HexToAddress(address))
	if err != nil {
		return false, err
	}
	return assigned.Sign() > 0, nil
}

// FundAccount sends native coin from the service account
func (s *EvmChainService) FundAccount(ctx context.Context, req *dto.FundAccountRequest) (string, error) {
	amount := req.Amount
	if amount == "" {
		amount = s.settings.FundingAmount
	}
	value, err := parseUnits(amount, 18)
	if err != nil {
		return "", types.NewValidationError("evm.fund", err.Error())
	}

	to := common.HexToAddress(req.WalletAddress)
	return s.signAndSend(ctx, s.settings.PrivateKey, &to, value, nil, 21000)
}

// TransferTokens moves project tokens from the service account
func (s *EvmChainService) TransferTokens(ctx context.Context, req *dto.TransferTokensRequest) (string, error) {
	return s.erc20Transfer(ctx, s.settings.PrivateKey, req.ToAddress, req.Amount)
}

// TransferWithSecret moves project tokens signing with the supplied key
func (s *EvmChainService) TransferWithSecret(ctx context.Context, secret, toAddress, amount string) (string, error) {
	return s.erc20Transfer(ctx, secret, toAddress, amount)
}

// AssignTokens grants project tokens to one beneficiary via the project
// contract.
func (s *EvmChainService) AssignTokens(ctx context.Context, req *dto.AssignTokensRequest) (string, error) {
	if s.settings.ProjectContractAddress == "" {
		return "", types.NewConfigurationError("evm.assign",
			fmt.Sprintf("chain %s has no projectContractAddress", s.chainName))
	}

	decimals, err := s.tokenDecimals(ctx)
	if err != nil {
		return "", types.NewTransientLedgerError("evm.assign", "decimals query failed", err)
	}
	amount, err := parseUnits(req.Amount, int(decimals))
	if err != nil {
		return "", types.NewValidationError("evm.assign", err.Error())
	}

	data, err := s.projectABI.Pack("assignTokenToBeneficiary", common.HexToAddress(req.BeneficiaryAddress), amount)
	if err != nil {
		return "", types.NewTerminalLedgerError("evm.assign", "calldata packing failed", err)
	}

	to := common.HexToAddress(s.settings.ProjectContractAddress)
	return s.signAndSend(ctx, s.settings.PrivateKey, &to, big.NewInt(0), data, 0)
}

// DisburseShares assigns every share through the multicall contract in
// batches, skipping batches already submitted by an earlier attempt.
func (s *EvmChainService) DisburseShares(ctx context.Context, groupUUID string, shares []BeneficiaryShare, fromBatch int) ([]BatchSubmission, error) {
	if len(shares) == 0 {
		return nil, types.NewValidationError("evm.disburse", "no shares to disburse")
	}
	if s.settings.MulticallAddress == "" {
		return nil, types.NewConfigurationError("evm.disburse",
			fmt.Sprintf("chain %s has no multicallAddress", s.chainName))
	}

	decimals, err := s.tokenDecimals(ctx)
	if err != nil {
		return nil, types.NewTransientLedgerError("evm.disburse", "decimals query failed", err)
	}

	type call3 struct {
		Target       common.Address
		AllowFailure bool
		CallData     []byte
	}

	projectAddr := common.HexToAddress(s.settings.ProjectContractAddress)
	var submitted []BatchSubmission

	for start := fromBatch * evmAssignBatchSize; start < len(shares); start += evmAssignBatchSize {
		end := start + evmAssignBatchSize
		if end > len(shares) {
			end = len(shares)
		}
		batchIndex := start / evmAssignBatchSize

		calls := make([]call3, 0, end-start)
		for _, share := range shares[start:end] {
			amount, err := parseUnits(share.Amount, int(decimals))
			if err != nil {
				return submitted, types.NewValidationError("evm.disburse", err.Error())
			}
			callData, err := s.projectABI.Pack("assignTokenToBeneficiary",
				common.HexToAddress(share.WalletAddress), amount)
			if err != nil {
				return submitted, types.NewTerminalLedgerError("evm.disburse", "calldata packing failed", err)
			}
			calls = append(calls, call3{Target: projectAddr, AllowFailure: false, CallData: callData})
		}

		data, err := s.multicallABI.Pack("aggregate3", calls)
		if err != nil {
			return submitted, types.NewTerminalLedgerError("evm.disburse", "multicall packing failed", err)
		}

		to := common.HexToAddress(s.settings.MulticallAddress)
		hash, err := s.signAndSend(ctx, s.settings.PrivateKey, &to, big.NewInt(0), data, 0)
		if err != nil {
			return submitted, err
		}
		submitted = append(submitted, BatchSubmission{Index: batchIndex, TxHash: hash})
		log.Printf("✅ [EVM] group %s batch %d submitted (%d-%d), tx=%s", groupUUID, batchIndex, start, end-1, hash)

		if end < len(shares) {
			time.Sleep(evmBatchDelay)
		}
	}

	return submitted, nil
}

// CheckTransactionStatus polls the receipt. Missing receipts report
// NOT_FOUND, never failure.
func (s *EvmChainService) CheckTransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	receipt, err := s.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if err == ethereum.NotFound {
			return TxStatusNotFound, nil
		}
		metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "transactionReceipt").Inc()
		return TxStatusNotFound, types.NewTransientLedgerError("evm.status", "receipt query failed", err)
	}
	if receipt == nil {
		return TxStatusNotFound, nil
	}
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		return TxStatusConfirmed, nil
	}
	return TxStatusFailed, nil
}

// AddTrigger is not available on EVM deployments
func (s *EvmChainService) AddTrigger(ctx context.Context, req *dto.AddTriggerRequest) (string, error) {
	return "", types.NewUnsupportedError("evm.addTrigger", "trigger commitments are not supported on evm chains")
}

// UpdateTriggerParams is not available on EVM deployments
func (s *EvmChainService) UpdateTriggerParams(ctx context.Context, req *dto.UpdateTriggerParamsRequest) (string, error) {
	return "", types.NewUnsupportedError("evm.updateTrigger", "trigger commitments are not supported on evm chains")
}

// erc20Transfer signs and submits a token transfer
func (s *EvmChainService) erc20Transfer(ctx context.Context, privateKey, toAddress, amount string) (string, error) {
	if s.settings.TokenContractAddress == "" {
		return "", types.NewConfigurationError("evm.transfer",
			fmt.Sprintf("chain %s has no tokenContractAddress", s.chainName))
	}
	if !s.ValidateAddress(toAddress) {
		return "", types.NewValidationError("evm.transfer", fmt.Sprintf("invalid evm address: %s", toAddress))
	}

	decimals, err := s.tokenDecimals(ctx)
	if err != nil {
		return "", types.NewTransientLedgerError("evm.transfer", "decimals query failed", err)
	}
	value, err := parseUnits(amount, int(decimals))
	if err != nil {
		return "", types.NewValidationError("evm.transfer", err.Error())
	}

	data, err := s.erc20ABI.Pack("transfer", common.HexToAddress(toAddress), value)
	if err != nil {
		return "", types.NewTerminalLedgerError("evm.transfer", "calldata packing failed", err)
	}

	to := common.HexToAddress(s.settings.TokenContractAddress)
	return s.signAndSend(ctx, privateKey, &to, big.NewInt(0), data, 0)
}

// signAndSend runs the build, sign, submit stages for one transaction
func (s *EvmChainService) signAndSend(ctx context.Context, privateKeyHex string, to *common.Address, value *big.Int, data []byte, gasLimit uint64) (string, error) {
	const op = "evm.submit"

	buildStart := time.Now()

	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return "", types.NewValidationError(op, err.Error())
	}
	fromAddress := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := s.client.PendingNonceAt(ctx, fromAddress)
	if err != nil {
		metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "pendingNonceAt").Inc()
		return "", types.NewTransientLedgerError(op, "nonce query failed", err)
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "suggestGasPrice").Inc()
		return "", types.NewTransientLedgerError(op, "gas price query failed", err)
	}

	if gasLimit == 0 {
		gasLimit = s.settings.GasLimit
	}
	if gasLimit == 0 {
		estimated, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  fromAddress,
			To:    to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			// estimation reverts mean the call itself would revert
			return "", types.NewTerminalLedgerError(op, "gas estimation failed", err)
		}
		gasLimit = estimated * 12 / 10
	}

	tx := ethtypes.NewTransaction(nonce, *to, value, gasLimit, gasPrice, data)
	metrics.PipelineStageDuration.WithLabelValues(s.chainName, "build").Observe(time.Since(buildStart).Seconds())

	signStart := time.Now()
	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(s.chainID), key)
	if err != nil {
		return "", types.NewTerminalLedgerError(op, "signing failed", err)
	}
	metrics.PipelineStageDuration.WithLabelValues(s.chainName, "sign").Observe(time.Since(signStart).Seconds())

	submitStart := time.Now()
	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		metrics.LedgerRPCErrors.WithLabelValues(s.chainName, "sendTransaction").Inc()
		if isTransientRPCError(err) {
			return "", types.NewTransientLedgerError(op, "submission failed", err)
		}
		return "", types.NewTerminalLedgerError(op, "transaction rejected", err)
	}
	metrics.PipelineStageDuration.WithLabelValues(s.chainName, "submit").Observe(time.Since(submitStart).Seconds())

	hash := signedTx.Hash().Hex()
	log.Printf("📤 [EVM] submitted tx=%s (nonce=%d, gas=%d)", hash, nonce, gasLimit)
	return hash, nil
}

// erc20BalanceOf reads the token balance of an address
func (s *EvmChainService) erc20BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	data, err := s.erc20ABI.Pack("balanceOf", addr)
	if err != nil {
		return nil, types.NewTerminalLedgerError("evm.balanceOf", "calldata packing failed", err)
	}
	out, err := s.callView(ctx, s.settings.TokenContractAddress, data)
	if err != nil {
		return nil, types.NewTransientLedgerError("evm.balanceOf", "token balance query failed", err)
	}
	results, err := s.erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, types.NewTerminalLedgerError("evm.balanceOf", "bad balanceOf return data", err)
	}
	return results[0].(*big.Int), nil
}

// benTokens reads the project contract's entitlement for a beneficiary
func (s *EvmChainService) benTokens(ctx context.Context, addr common.Address) (*big.Int, error) {
	data, err := s.projectABI.Pack("benTokens", addr)
	if err != nil {
		return nil, types.NewTerminalLedgerError("evm.benTokens", "calldata packing failed", err)
	}
	out, err := s.callView(ctx, s.settings.ProjectContractAddress, data)
	if err != nil {
		return nil, types.NewTransientLedgerError("evm.benTokens", "benTokens query failed", err)
	}
	results, err := s.projectABI.Unpack("benTokens", out)
	if err != nil {
		return nil, types.NewTerminalLedgerError("evm.benTokens", "bad benTokens return data", err)
	}
	return results[0].(*big.Int), nil
}

// callView performs an eth_call against a contract
func (s *EvmChainService) callView(ctx context.Context, contract string, data []byte) ([]byte, error) {
	to := common.HexToAddress(contract)
	return s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// parsePrivateKey accepts hex with or without the 0x prefix
func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("private key not configured")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// parseUnits scales a decimal amount string by 10^decimals, truncating
// excess precision.
func parseUnits(amount string, decimals int) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(amount))
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", amount)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", amount)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}

// formatUnits renders a ledger-unit integer as a whole-token decimal
// string, trimming trailing zeros.
func formatUnits(value *big.Int, decimals int) string {
	if decimals <= 0 {
		return value.String()
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(value, scale)
	out := rat.FloatString(decimals)
	out = strings.TrimRight(out, "0")
	out = strings.TrimSuffix(out, ".")
	if out == "" || out == "-" {
		return "0"
	}
	return out
}

// isTransientRPCError classifies node-side submission failures worth
// retrying.
func isTransientRPCError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"timeout", "connection refused", "connection reset",
		"too many requests", "rate limit", "temporarily",
		"replacement transaction underpriced", "nonce too low",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
