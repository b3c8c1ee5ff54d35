package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const apiVersion = "2020-09-14"

var hosts = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

// ErrNotConfigured is returned when client credentials are missing.
var ErrNotConfigured = errors.New("plaid: client id and secret are required")

// Config holds Plaid client settings.
type Config struct {
	ClientID          string
	Secret            string
	Environment       string // sandbox, development or production
	BaseURL           string // overrides Environment when set
	PageSize          int
	RequestsPerSecond float64
	MaxRetries        int
	RetryBaseDelay    time.Duration
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// PlaidClient calls the Plaid JSON API.
type PlaidClient struct {
	cfg     Config
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

var _ Provider = (*PlaidClient)(nil)

func NewPlaidClient(cfg Config, log zerolog.Logger) (*PlaidClient, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrNotConfigured
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		env := strings.ToLower(strings.TrimSpace(cfg.Environment))
		if env == "" {
			env = "sandbox"
		}
		var ok bool
		if base, ok = hosts[env]; !ok {
			return nil, fmt.Errorf("plaid: unknown environment %q", cfg.Environment)
		}
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 500 {
		cfg.PageSize = 500
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &PlaidClient{
		cfg:     cfg,
		baseURL: base,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
		log:     log.With().Str("component", "plaid").Logger(),
	}, nil
}

type syncRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
	Cursor      string `json:"cursor,omitempty"`
	Count       int    `json:"count,omitempty"`
}

// SyncTransactions fetches one page of changes after cursor. An empty cursor
// requests the full history.
func (c *PlaidClient) SyncTransactions(ctx context.Context, accessToken, cursor string) (Page, error) {
	var page Page
	err := c.post(ctx, "/transactions/sync", syncRequest{
		ClientID:    c.cfg.ClientID,
		Secret:      c.cfg.Secret,
		AccessToken: accessToken,
		Cursor:      cursor,
		Count:       c.cfg.PageSize,
	}, &page)
	return page, err
}

type accountsRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

type accountsResponse struct {
	Accounts []Account `json:"accounts"`
}

// Accounts lists the item's accounts with current balances.
func (c *PlaidClient) Accounts(ctx context.Context, accessToken string) ([]Account, error) {
	var out accountsResponse
	err := c.post(ctx, "/accounts/get", accountsRequest{
		ClientID:    c.cfg.ClientID,
		Secret:      c.cfg.Secret,
		AccessToken: accessToken,
	}, &out)
	return out.Accounts, err
}

func (c *PlaidClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryBaseDelay
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := c.do(ctx, path, payload, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Str("path", path).Int("attempt", attempt).Dur("retry_in", wait).Msg("plaid request failed, retrying")
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return fmt.Errorf("plaid %s: %w", path, err)
	}
	return nil
}

func (c *PlaidClient) do(ctx context.Context, path string, payload []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Plaid-Version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		if jerr := json.Unmarshal(data, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
