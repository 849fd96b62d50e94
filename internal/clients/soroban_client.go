package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Soroban RPC transaction statuses
const (
	SorobanStatusPending       = "PENDING"
	SorobanStatusSuccess       = "SUCCESS"
	SorobanStatusFailed        = "FAILED"
	SorobanStatusNotFound      = "NOT_FOUND"
	SorobanStatusTryAgainLater = "TRY_AGAIN_LATER"
	SorobanStatusDuplicate     = "DUPLICATE"
)

// SorobanClient is a JSON-RPC client for a Soroban RPC server. Safe for
// concurrent use.
type SorobanClient struct {
	rpcURL     string
	httpClient *http.Client
	nextID     atomic.Int64
}

type sorobanRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type sorobanRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *sorobanRPCErr  `json:"error,omitempty"`
}

type sorobanRPCErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SimulateTransactionResult the parts of the simulation the builder needs:
// the resource footprint and per-op auth entries to splice back into the
// envelope, plus the resource fee.
type SimulateTransactionResult struct {
	TransactionData string `json:"transactionData"` // base64 SorobanTransactionData
	MinResourceFee  string `json:"minResourceFee"`
	Error           string `json:"error,omitempty"`
	Results         []struct {
		Auth []string `json:"auth"` // base64 SorobanAuthorizationEntry list
		Xdr  string   `json:"xdr"`
	} `json:"results"`
	LatestLedger int64 `json:"latestLedger"`
}

// SendTransactionResult submission status
type SendTransactionResult struct {
	Status              string   `json:"status"`
	Hash                string   `json:"hash"`
	LatestLedger        int64    `json:"latestLedger"`
	ErrorResultXdr      string   `json:"errorResultXdr,omitempty"`
	DiagnosticEventsXdr []string `json:"diagnosticEventsXdr,omitempty"`
}

// GetTransactionResult confirmation polling result
type GetTransactionResult struct {
	Status        string `json:"status"`
	Ledger        int64  `json:"ledger"`
	ResultXdr     string `json:"resultXdr,omitempty"`
	ResultMetaXdr string `json:"resultMetaXdr,omitempty"`
}

// NewSorobanClient creates a Soroban RPC client
func NewSorobanClient(rpcURL string) *SorobanClient {
	return &SorobanClient{
		rpcURL: rpcURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SimulateTransaction runs the preflight simulation for an envelope
func (c *SorobanClient) SimulateTransaction(ctx context.Context, envelopeXdr string) (*SimulateTransactionResult, error) {
	var result SimulateTransactionResult
	err := c.call(ctx, "simulateTransaction", map[string]string{"transaction": envelopeXdr}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SendTransaction submits a signed envelope
func (c *SorobanClient) SendTransaction(ctx context.Context, envelopeXdr string) (*SendTransactionResult, error) {
	var result SendTransactionResult
	err := c.call(ctx, "sendTransaction", map[string]string{"transaction": envelopeXdr}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTransaction polls for transaction inclusion by hash
func (c *SorobanClient) GetTransaction(ctx context.Context, hash string) (*GetTransactionResult, error) {
	var result GetTransactionResult
	err := c.call(ctx, "getTransaction", map[string]string{"hash": hash}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLatestLedger returns the latest known ledger sequence
func (c *SorobanClient) GetLatestLedger(ctx context.Context) (int64, error) {
	var result struct {
		Sequence int64 `json:"sequence"`
	}
	if err := c.call(ctx, "getLatestLedger", nil, &result); err != nil {
		return 0, err
	}
	return result.Sequence, nil
}

// call performs one JSON-RPC round trip
func (c *SorobanClient) call(ctx context.Context, method string, params, result interface{}) error {
	reqBody := sorobanRPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to encode RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("soroban RPC request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read RPC response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("soroban RPC failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var rpcResp sorobanRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("failed to parse RPC response: %w", err)
	}

	if rpcResp.Error != nil {
		return fmt.Errorf("soroban RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to parse %s result: %w", method, err)
		}
	}

	return nil
}
