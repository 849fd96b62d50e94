package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HorizonClient queries a Stellar Horizon server and submits signed
// transaction envelopes.
type HorizonClient struct {
	baseURL    string
	httpClient *http.Client
}

// HorizonBalance one balance line of an account
type HorizonBalance struct {
	Balance     string `json:"balance"`
	AssetType   string `json:"asset_type"`
	AssetCode   string `json:"asset_code,omitempty"`
	AssetIssuer string `json:"asset_issuer,omitempty"`
}

// HorizonAccount the subset of the account record the backend needs
type HorizonAccount struct {
	AccountID string           `json:"account_id"`
	Sequence  string           `json:"sequence"`
	Balances  []HorizonBalance `json:"balances"`
}

// HorizonSubmitResponse transaction submission result
type HorizonSubmitResponse struct {
	Hash        string `json:"hash"`
	Ledger      int64  `json:"ledger"`
	Successful  bool   `json:"successful"`
	EnvelopeXdr string `json:"envelope_xdr"`
	ResultXdr   string `json:"result_xdr"`
}

// horizonProblem is the RFC 7807 error body Horizon returns
type horizonProblem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
	Extras struct {
		ResultCodes struct {
			Transaction string   `json:"transaction"`
			Operations  []string `json:"operations"`
		} `json:"result_codes"`
	} `json:"extras"`
}

// NewHorizonClient creates a Horizon client
func NewHorizonClient(baseURL string) *HorizonClient {
	return &HorizonClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetAccount loads an account record. Returns (nil, nil) when the account
// does not exist on the ledger yet.
func (c *HorizonClient) GetAccount(ctx context.Context, accountID string) (*HorizonAccount, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/accounts/"+accountID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("horizon request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read horizon response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("horizon request failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var account HorizonAccount
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("failed to parse horizon account: %w", err)
	}

	return &account, nil
}

// SubmitTransaction posts a base64 transaction envelope. Horizon blocks
// until the transaction is included or rejected.
func (c *HorizonClient) SubmitTransaction(ctx context.Context, envelopeXdr string) (*HorizonSubmitResponse, error) {
	form := url.Values{}
	form.Set("tx", envelopeXdr)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/transactions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("horizon submit failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read horizon response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var problem horizonProblem
		if err := json.Unmarshal(body, &problem); err == nil && problem.Title != "" {
			codes := problem.Extras.ResultCodes
			return nil, fmt.Errorf("horizon rejected transaction: %s (tx=%s ops=%v)",
				problem.Title, codes.Transaction, codes.Operations)
		}
		return nil, fmt.Errorf("horizon submit failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var submitResp HorizonSubmitResponse
	if err := json.Unmarshal(body, &submitResp); err != nil {
		return nil, fmt.Errorf("failed to parse horizon submit response: %w", err)
	}

	return &submitResp, nil
}

// GetTransaction fetches a transaction by hash. Returns (nil, nil) when the
// hash is unknown to Horizon.
func (c *HorizonClient) GetTransaction(ctx context.Context, hash string) (*HorizonSubmitResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/transactions/"+hash, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("horizon request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read horizon response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("horizon request failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var tx HorizonSubmitResponse
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("failed to parse horizon transaction: %w", err)
	}

	return &tx, nil
}
