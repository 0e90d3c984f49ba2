package multisend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// APIError is returned for every non-2xx reply.
type APIError struct {
	Status  int
	Code    string
	Message string
	Receipt *Receipt
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("multisendd %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("multisendd %d: %s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client wraps the multisendd REST endpoints.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// New constructs a client pointed at baseURL that authenticates with the
// supplied bearer token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	trimmedURL := strings.TrimSpace(baseURL)
	if trimmedURL == "" {
		return nil, fmt.Errorf("baseURL required")
	}
	parsed, err := url.Parse(trimmedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("token required")
	}
	client := &Client{baseURL: parsed, token: token, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// SendNative submits a native batch. A nil receipt with a nil error means
// the engine ignored the call under its silent policy.
func (c *Client) SendNative(ctx context.Context, recipients []common.Address, amounts []*uint256.Int, value *uint256.Int) (*Receipt, error) {
	req := NativeBatchRequest{
		Recipients: hexAddresses(recipients),
		Amounts:    decimals(amounts),
		Value:      decimal(value),
	}
	return c.batch(ctx, "/v1/batches/native", req)
}

// SendAsset submits a token batch drawn from the caller's allowance.
func (c *Client) SendAsset(ctx context.Context, asset common.Address, recipients []common.Address, amounts []*uint256.Int) (*Receipt, error) {
	req := AssetBatchRequest{
		Asset:      asset.Hex(),
		Recipients: hexAddresses(recipients),
		Amounts:    decimals(amounts),
	}
	return c.batch(ctx, "/v1/batches/asset", req)
}

func (c *Client) batch(ctx context.Context, endpoint string, req any) (*Receipt, error) {
	var receipt Receipt
	status, err := c.do(ctx, http.MethodPost, endpoint, nil, req, &receipt)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &receipt, nil
}

// Receipt fetches an archived receipt by id.
func (c *Client) Receipt(ctx context.Context, id string) (*Receipt, error) {
	var receipt Receipt
	if _, err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(id), nil, nil, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// SenderReceipts lists the most recent receipts of sender, newest first. A
// zero limit uses the server default.
func (c *Client) SenderReceipts(ctx context.Context, sender common.Address, limit int) ([]Receipt, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var list ReceiptList
	if _, err := c.do(ctx, http.MethodGet, "/v1/senders/"+sender.Hex()+"/batches", query, nil, &list); err != nil {
		return nil, err
	}
	return list.Receipts, nil
}

// Deposit sends amount from the caller to the engine vault.
func (c *Client) Deposit(ctx context.Context, amount *uint256.Int) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/deposit", nil, DepositRequest{Amount: decimal(amount)}, nil)
	return err
}

// Stats returns the aggregate counters.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if _, err := c.do(ctx, http.MethodGet, "/v1/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SenderStats returns how many batches sender has submitted.
func (c *Client) SenderStats(ctx context.Context, sender common.Address) (*SenderStats, error) {
	var stats SenderStats
	if _, err := c.do(ctx, http.MethodGet, "/v1/stats/"+sender.Hex(), nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Estimate returns the advisory gas for a batch of n recipients. Mode is
// "native" or "asset".
func (c *Client) Estimate(ctx context.Context, mode string, n uint64) (*Estimate, error) {
	query := url.Values{}
	query.Set("mode", mode)
	query.Set("recipients", strconv.FormatUint(n, 10))
	var est Estimate
	if _, err := c.do(ctx, http.MethodGet, "/v1/estimate", query, nil, &est); err != nil {
		return nil, err
	}
	return &est, nil
}

// Info returns the owner and configuration of the engine.
func (c *Client) Info(ctx context.Context) (*EngineInfo, error) {
	var info EngineInfo
	if _, err := c.do(ctx, http.MethodGet, "/v1/owner", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// TransferOwnership hands the engine to next. Requires an admin token held
// by the current owner.
func (c *Client) TransferOwnership(ctx context.Context, next common.Address) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/admin/ownership", nil, OwnershipRequest{NewOwner: next.Hex()}, nil)
	return err
}

// RenounceOwnership leaves the engine without an owner.
func (c *Client) RenounceOwnership(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/admin/renounce", nil, nil, nil)
	return err
}

// Drain moves the vault balance to the owner and returns the amount moved.
func (c *Client) Drain(ctx context.Context) (*uint256.Int, error) {
	var result DrainResult
	status, err := c.do(ctx, http.MethodPost, "/v1/admin/drain", nil, nil, &result)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	amount, err := uint256.FromDecimal(result.Amount)
	if err != nil {
		return nil, fmt.Errorf("decode drain amount: %w", err)
	}
	return amount, nil
}

// Pause blocks new batches.
func (c *Client) Pause(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/admin/pause", nil, nil, nil)
	return err
}

// Resume lifts a pause.
func (c *Client) Resume(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/admin/resume", nil, nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	rel := &url.URL{Path: endpoint}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	target := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
		var decoded ErrorResponse
		if json.Unmarshal(bodyBytes, &decoded) == nil && decoded.Error != "" {
			apiErr.Code = decoded.Code
			apiErr.Message = decoded.Error
			apiErr.Receipt = decoded.Receipt
		}
		return resp.StatusCode, apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(bodyBytes) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func hexAddresses(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = addr.Hex()
	}
	return out
}

func decimals(values []*uint256.Int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = decimal(v)
	}
	return out
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
