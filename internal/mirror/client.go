// Package mirror reads account data from a mirror node REST API.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

// Key is an account key as the mirror reports it.
type Key struct {
	Type string `json:"_type"`
	Key  string `json:"key"`
}

type Balance struct {
	Balance   int64  `json:"balance"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Account is the subset of the mirror account document ledgerctl uses.
type Account struct {
	Account string  `json:"account"`
	Key     *Key    `json:"key"`
	Balance Balance `json:"balance"`
	Memo    string  `json:"memo,omitempty"`
}

type accountsPage struct {
	Accounts []Account `json:"accounts"`
}

type Options struct {
	// RatePerSecond caps outgoing requests; zero disables the limit.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	Logger        *zap.Logger
}

// Client queries the mirror. GET responses are cached according to their
// cache headers.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errs.Validation("invalid mirror url %q", baseURL)
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	transport := httpcache.NewMemoryCacheTransport()
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport, Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		log:     log.Named("mirror"),
	}, nil
}

// Account fetches one account. ErrNotFound marked when the mirror has no
// such account.
func (c *Client) Account(ctx context.Context, accountID string) (*Account, error) {
	var acc Account
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(accountID), &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// AccountKey returns the public key of accountID.
func (c *Client) AccountKey(ctx context.Context, accountID string) (string, error) {
	acc, err := c.Account(ctx, accountID)
	if err != nil {
		return "", err
	}
	if acc.Key == nil || acc.Key.Key == "" {
		return "", errs.NotFound("account %s has no key", accountID)
	}
	return strings.ToLower(acc.Key.Key), nil
}

// AccountByPublicKey returns the first account whose key is publicKey.
func (c *Client) AccountByPublicKey(ctx context.Context, publicKey string) (string, error) {
	q := url.Values{}
	q.Set("account.publickey", strings.ToLower(publicKey))
	q.Set("limit", "1")
	var page accountsPage
	if err := c.get(ctx, "/api/v1/accounts?"+q.Encode(), &page); err != nil {
		return "", err
	}
	if len(page.Accounts) == 0 {
		return "", errs.NotFound("no account holds public key %s", publicKey)
	}
	return page.Accounts[0].Account, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mirror rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	c.log.Debug("mirror request",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Bool("cached", resp.Header.Get(httpcache.XFromCache) == "1"),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errs.NotFound("mirror has no %s", path)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("mirror request %s failed with status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal mirror response: %w", err)
	}
	return nil
}
