package clients

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"aa-backend/internal/config"
)

// WalletClient talks to the wallet service that custodies beneficiary keys
type WalletClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// WalletSecretResponse wallet service key lookup response
type WalletSecretResponse struct {
	Success    bool   `json:"success"`
	Address    string `json:"address,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewWalletClient creates a wallet service client
func NewWalletClient(cfg config.WalletServiceConfig) *WalletClient {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &WalletClient{
		baseURL:   cfg.BaseURL,
		authToken: cfg.AuthToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetSecretByPhone resolves the signing key of the beneficiary registered
// under a phone number.
func (c *WalletClient) GetSecretByPhone(phoneNumber string) (*WalletSecretResponse, error) {
	response, err := c.makeRequest("POST", "/api/v1/wallets/secret-by-phone", map[string]string{
		"phone_number": phoneNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("wallet service request failed: %w", err)
	}

	var secretResp WalletSecretResponse
	if err := json.Unmarshal(response, &secretResp); err != nil {
		return nil, fmt.Errorf("failed to parse wallet service response: %w", err)
	}

	if !secretResp.Success {
		return nil, fmt.Errorf("wallet service lookup failed: %s", secretResp.Error)
	}

	return &secretResp, nil
}

// GetSecretByAddress resolves the signing key registered under an address
func (c *WalletClient) GetSecretByAddress(walletAddress string) (*WalletSecretResponse, error) {
	response, err := c.makeRequest("POST", "/api/v1/wallets/secret-by-address", map[string]string{
		"wallet_address": walletAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("wallet service request failed: %w", err)
	}

	var secretResp WalletSecretResponse
	if err := json.Unmarshal(response, &secretResp); err != nil {
		return nil, fmt.Errorf("failed to parse wallet service response: %w", err)
	}

	if !secretResp.Success {
		return nil, fmt.Errorf("wallet service lookup failed: %s", secretResp.Error)
	}

	return &secretResp, nil
}

// HealthCheck verifies the wallet service is reachable
func (c *WalletClient) HealthCheck() error {
	response, err := c.makeRequest("GET", "/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("wallet service health check failed: %w", err)
	}

	var healthResp struct {
		Status string `json:"status"`
	}

	if err := json.Unmarshal(response, &healthResp); err != nil {
		return fmt.Errorf("failed to parse wallet service health response: %w", err)
	}

	if healthResp.Status != "healthy" {
		return fmt.Errorf("wallet service unhealthy: %s", healthResp.Status)
	}

	return nil
}

// makeRequest HTTP request helper
func (c *WalletClient) makeRequest(method, path string, data interface{}) ([]byte, error) {
	url := c.baseURL + path

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "aa-backend/1.0")

	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		req.Header.Set("X-Service-Name", "aa-backend")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP request failed: status=%d, body=%s", resp.StatusCode, string(responseBody))
	}

	return responseBody, nil
}
