// Package verifierclient is an HTTP client for a remote verifier and execution service.
package verifierclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/calls"
	"github.com/coinbase/spendauth/lifecycle"
	"github.com/coinbase/spendauth/permission"
)

const (
	headerContentType   = "Content-Type"
	mimeApplicationJSON = "application/json"

	PathHealth       = "/healthz"
	PathBatches      = "/v1/batches"
	PathPermissions  = "/v1/permissions"
	PathRedeem       = "/v1/permissions/redeem"
	PathRevoke       = "/v1/permissions/revoke"
	PathPeriodSpend  = "/v1/permissions/spend"
	PathRevoked      = "/v1/permissions/revoked"
	PathOutcome      = "/v1/outcomes"
	defaultUserAgent = "spendauth-verifierclient"
)

// BatchRequest is the body of a call batch submission. UniversalAccount and Origin
// identify the session the batch belongs to; a zero UniversalAccount means the batch
// is sent from the universal account itself.
type BatchRequest struct {
	Batch            *calls.CallBatch `json:"batch"`
	UniversalAccount common.Address   `json:"universalAccount"`
	Origin           string           `json:"origin,omitempty"`
}

// RedeemRequest is the body of a redemption.
type RedeemRequest struct {
	Permission *permission.SignedPermission `json:"permission"`
	Amount     string                       `json:"amount"`
}

// RevokeRequest is the body of a revocation.
type RevokeRequest struct {
	Permission *permission.SignedPermission `json:"permission"`
}

// RevokedResponse reports whether a permission was revoked.
type RevokedResponse struct {
	Revoked bool `json:"revoked"`
}

// HealthResponse is served on PathHealth.
type HealthResponse struct {
	Status  string            `json:"status"`
	Network spendauth.Network `json:"network"`
}

// OutcomeResponse reports the last completed redemption, revocation or batch for an
// account. Receipt is nil when nothing completed recently.
type OutcomeResponse struct {
	Action  string             `json:"action"`
	Account common.Address     `json:"account"`
	Pending bool               `json:"pending"`
	Receipt *spendauth.Receipt `json:"receipt"`
}

// RetryConfig bounds the retries of read-only requests.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig provides the defaults for read-only retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
	}
}

// Client implements lifecycle.Verifier, lifecycle.Revoker and permission.StateReader
// against the remote service. Only GET requests are retried.
type Client struct {
	URL               string
	HTTPClient        *http.Client
	CreateAuthHeaders func() (map[string]string, error)
	Retry             RetryConfig
	logger            *zap.Logger
}

var (
	_ lifecycle.Verifier     = (*Client)(nil)
	_ lifecycle.Revoker      = (*Client)(nil)
	_ permission.StateReader = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = h
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.HTTPClient.Timeout = d
	}
}

// WithAuthHeaders sets a function producing headers added to every request.
func WithAuthHeaders(f func() (map[string]string, error)) Option {
	return func(c *Client) {
		c.CreateAuthHeaders = f
	}
}

// WithRetry overrides the read-only retry policy.
func WithRetry(r RetryConfig) Option {
	return func(c *Client) {
		c.Retry = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		URL:        baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Retry:      DefaultRetryConfig(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitCallBatch posts the batch once.
func (c *Client) SubmitCallBatch(ctx context.Context, batch *calls.CallBatch) (*spendauth.Receipt, error) {
	return c.SubmitBatchRequest(ctx, BatchRequest{Batch: batch})
}

// SubmitBatchRequest posts a batch together with its session once.
func (c *Client) SubmitBatchRequest(ctx context.Context, req BatchRequest) (*spendauth.Receipt, error) {
	var receipt spendauth.Receipt
	if err := c.post(ctx, PathBatches, req, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// RedeemPermission posts a redemption once.
func (c *Client) RedeemPermission(ctx context.Context, sp *permission.SignedPermission, amount *big.Int) (*spendauth.Receipt, error) {
	var receipt spendauth.Receipt
	req := RedeemRequest{Permission: sp, Amount: amount.String()}
	if err := c.post(ctx, PathRedeem, req, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// RevokePermission posts a revocation once.
func (c *Client) RevokePermission(ctx context.Context, sp *permission.SignedPermission) (*spendauth.Receipt, error) {
	var receipt spendauth.Receipt
	if err := c.post(ctx, PathRevoke, RevokeRequest{Permission: sp}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// PeriodSpend fetches the spend recorded for p's current period.
func (c *Client) PeriodSpend(ctx context.Context, p *permission.SpendPermission) (*permission.PeriodSpend, error) {
	var spend permission.PeriodSpend
	if err := c.get(ctx, PathPeriodSpend, KeyQuery(p.Key()), &spend); err != nil {
		return nil, err
	}
	if spend.Spent == nil {
		return nil, nil
	}
	return &spend, nil
}

// IsRevoked reports whether the service has recorded a revocation of p.
func (c *Client) IsRevoked(ctx context.Context, p *permission.SpendPermission) (bool, error) {
	var resp RevokedResponse
	if err := c.get(ctx, PathRevoked, KeyQuery(p.Key()), &resp); err != nil {
		return false, err
	}
	return resp.Revoked, nil
}

// Health fetches the service status and the network it executes on.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, PathHealth, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckNetwork fails unless the service executes on chainID.
func (c *Client) CheckNetwork(ctx context.Context, chainID *big.Int) error {
	health, err := c.Health(ctx)
	if err != nil {
		return err
	}
	remote, err := health.Network.ChainID()
	if err != nil {
		return fmt.Errorf("verifier reported network %q: %w", health.Network, err)
	}
	if remote.Cmp(chainID) != 0 {
		return spendauth.NewError(spendauth.KindValidation, spendauth.ReasonBatchChainMismatch,
			fmt.Sprintf("verifier is on %s, expected %s", health.Network, spendauth.NetworkFor(chainID)))
	}
	return nil
}

// Outcome asks for the receipt of the most recent action on account. With wait set
// the service holds the request until a pending action finishes. A caller whose
// redemption timed out uses it instead of redeeming again.
func (c *Client) Outcome(ctx context.Context, action string, account common.Address, wait bool) (*OutcomeResponse, error) {
	var resp OutcomeResponse
	if err := c.get(ctx, PathOutcome, OutcomeQuery(action, account, wait), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OutcomeQuery encodes the parameters of an outcome lookup.
func OutcomeQuery(action string, account common.Address, wait bool) url.Values {
	values := url.Values{}
	values.Set("action", action)
	values.Set("account", account.Hex())
	if wait {
		values.Set("wait", "true")
	}
	return values
}

// ParseOutcomeQuery decodes the query produced by OutcomeQuery. Only actions whose
// receipts are retained are accepted.
func ParseOutcomeQuery(values url.Values) (action string, account common.Address, wait bool, err error) {
	action = values.Get("action")
	switch action {
	case spendauth.ActionRedeem, spendauth.ActionRevoke, spendauth.ActionSubmitBatch:
	default:
		return "", common.Address{}, false, spendauth.Encodingf(spendauth.ReasonMalformedRequest, "unknown action %q", action)
	}
	v := values.Get("account")
	if !common.IsHexAddress(v) {
		return "", common.Address{}, false, spendauth.Encodingf(spendauth.ReasonInvalidAddress, "account: invalid address %q", v)
	}
	return action, common.HexToAddress(v), values.Get("wait") == "true", nil
}

// KeyQuery encodes a permission key as query parameters.
func KeyQuery(k permission.Key) url.Values {
	values := url.Values{}
	values.Set("account", k.Account.Hex())
	values.Set("spender", k.Spender.Hex())
	values.Set("token", k.Token.Hex())
	values.Set("salt", k.Salt)
	return values
}

// ParseKeyQuery decodes the query produced by KeyQuery into a permission carrying only
// its key fields.
func ParseKeyQuery(values url.Values) (*permission.SpendPermission, error) {
	p := &permission.SpendPermission{}
	for name, dst := range map[string]*common.Address{
		"account": &p.Account,
		"spender": &p.Spender,
		"token":   &p.Token,
	} {
		v := values.Get(name)
		if !common.IsHexAddress(v) {
			return nil, spendauth.Encodingf(spendauth.ReasonInvalidAddress, "%s: invalid address %q", name, v)
		}
		*dst = common.HexToAddress(v)
	}
	salt, err := hexutil.DecodeBig(values.Get("salt"))
	if err != nil {
		return nil, spendauth.Encodingf(spendauth.ReasonFieldOutOfRange, "salt: %v", err)
	}
	p.Salt = salt
	return p, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)
	if err := c.addAuthHeaders(req); err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return spendauth.WrapError(spendauth.KindSubmissionFailure, spendauth.ReasonTransportFailure, err)
	}
	defer resp.Body.Close()
	return c.decode(resp, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.URL + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set(headerContentType, mimeApplicationJSON)
		if err := c.addAuthHeaders(req); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			_, _ = io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("retryable status: %s", resp.Status)
		}
		if err := c.decode(resp, out); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.Retry.InitialInterval
	expBackoff.MaxInterval = c.Retry.MaxInterval
	expBackoff.MaxElapsedTime = c.Retry.MaxElapsedTime

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying verifier read", zap.String("path", path), zap.Duration("wait", wait), zap.Error(err))
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, c.Retry.MaxRetries), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		var e *spendauth.Error
		if errors.As(err, &e) {
			return err
		}
		return spendauth.WrapError(spendauth.KindSubmissionFailure, spendauth.ReasonTransportFailure, err)
	}
	return nil
}

// decode reads a success body into out, or an error body into a *spendauth.Error.
func (c *Client) decode(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= http.StatusBadRequest {
		var e spendauth.Error
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err := json.Unmarshal(body, &e); err != nil || e.Kind == "" {
			return spendauth.NewError(spendauth.KindSubmissionFailure, spendauth.ReasonVerifierRejected,
				fmt.Sprintf("verifier responded %s", resp.Status))
		}
		return &e
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) addAuthHeaders(req *http.Request) error {
	if c.CreateAuthHeaders == nil {
		return nil
	}
	headers, err := c.CreateAuthHeaders()
	if err != nil {
		return fmt.Errorf("create auth headers: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}
