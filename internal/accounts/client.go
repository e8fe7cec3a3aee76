// Package accounts talks to the remote account service that owns balances.
package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ricorrenti/internal/core"
)

// Client implements ports.BalanceGateway over the account service REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

type balanceResponse struct {
	AccountID string     `json:"accountId"`
	Balance   core.Money `json:"balance"`
}

type adjustmentRequest struct {
	Amount    core.Money `json:"amount"`
	Reference string     `json:"reference"`
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = newHTTPClientWithPooling()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Balance implements ports.BalanceGateway
func (c *Client) Balance(ctx context.Context, accountID string) (core.Money, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.accountURL(accountID, "balance"), nil)
	if err != nil {
		return core.Money{}, fmt.Errorf("build balance request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return core.Money{}, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp, accountID); err != nil {
		return core.Money{}, err
	}
	var body balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.Money{}, fmt.Errorf("%w: decode balance: %v", core.ErrGateway, err)
	}
	return body.Balance, nil
}

// ApplyDelta implements ports.BalanceGateway. The idempotency key is sent as
// the Idempotency-Key header so the service can deduplicate retries.
func (c *Client) ApplyDelta(ctx context.Context, accountID string, delta core.Money, key string) error {
	payload, err := json.Marshal(adjustmentRequest{Amount: delta, Reference: key})
	if err != nil {
		return fmt.Errorf("encode adjustment: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountURL(accountID, "adjustments"), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build adjustment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return statusError(resp, accountID)
}

func (c *Client) accountURL(accountID, leaf string) string {
	return c.baseURL + "/accounts/" + url.PathEscape(accountID) + "/" + leaf
}

func statusError(resp *http.Response, accountID string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("account %s: %w", accountID, core.ErrAccountNotFound)
	case resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("account %s: %w", accountID, core.ErrInsufficientFunds)
	case resp.StatusCode == http.StatusGatewayTimeout, resp.StatusCode == http.StatusRequestTimeout:
		return fmt.Errorf("account %s: %w", accountID, core.ErrGatewayTimeout)
	default:
		return fmt.Errorf("%w: account service returned %d", core.ErrGateway, resp.StatusCode)
	}
}

func transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", core.ErrGatewayTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", core.ErrGateway, err)
}

// newHTTPClientWithPooling creates an HTTP client for the account service
// with connection pooling and keep-alive.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	// Per-call deadlines come from the caller's context.
	return &http.Client{Transport: transport}
}
