// Package client talks to a ledger gateway over HTTP. Requests are signed with
// the gateway's API key and secret when they are configured.
package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xueqianLu/ledgerctl/internal/ledger"
)

const (
	APIKeyHeader    = "X-API-Key"
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"
)

// StatusError is returned when the gateway answers with an unexpected status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether the gateway refused the request outright. Client
// errors other than timeouts and rate limiting do not change on resend.
func (e *StatusError) Permanent() bool {
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Client is a gateway client. It implements ledger.Network.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

var _ ledger.Network = (*Client)(nil)

// NewClient creates a gateway client. apiKey and apiSecret may be empty for
// gateways without authentication.
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Health checks the health of the gateway.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("service returned non-OK status: %s, body: %s", resp.Status, string(body))
	}

	return string(body), nil
}

// Submit sends a signed transaction. The precheck outcome is in the
// response status; errors mean the request itself failed.
func (c *Client) Submit(ctx context.Context, tx *ledger.Transaction) (ledger.SubmitResponse, error) {
	var resp ledger.SubmitResponse
	if err := c.doRequest(ctx, http.MethodPost, "/transactions", tx, &resp); err != nil {
		return ledger.SubmitResponse{}, err
	}
	return resp, nil
}

// Receipt fetches the receipt of a submitted transaction. A receipt the
// gateway does not know yet is reported as RECEIPT_NOT_FOUND.
func (c *Client) Receipt(ctx context.Context, id ledger.TransactionID) (*ledger.Receipt, error) {
	var receipt ledger.Receipt
	err := c.doRequest(ctx, http.MethodGet, "/transactions/"+url.PathEscape(id.String())+"/receipt", nil, &receipt)
	if se, ok := err.(*StatusError); ok && se.StatusCode == http.StatusNotFound {
		return &ledger.Receipt{Status: ledger.StatusReceiptNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, data, result interface{}) error {
	var reqBody []byte
	var err error

	if data != nil {
		reqBody, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request data: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set(APIKeyHeader, c.apiKey)
		req.Header.Set(TimestampHeader, timestamp)
		req.Header.Set(SignatureHeader, Sign(c.apiSecret, timestamp, reqBody))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// Sign computes the request signature: hex(HMAC-SHA256(secret, timestamp || body)).
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
