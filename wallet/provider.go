// Package wallet talks to an EIP-1193 wallet provider over JSON-RPC. It implements the
// signing service, the sub-account directory and call batch submission.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/coinbase/spendauth"
	"github.com/coinbase/spendauth/calls"
	"github.com/coinbase/spendauth/lifecycle"
	"github.com/coinbase/spendauth/typeddata"
)

// Provider JSON-RPC error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeMethodNotFound    = -32601
	CodeInternalError     = -32603
	subAccountsAPIVersion = "2.0.0"
)

// ErrUnsupportedMethod is returned when the wallet does not implement a method.
var ErrUnsupportedMethod = errors.New("wallet method not supported")

// Provider is a wallet reached through a go-ethereum rpc.Client.
type Provider struct {
	client *rpc.Client
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) {
		p.logger = l
	}
}

// Dial connects to a wallet endpoint (http, ws or ipc).
func Dial(ctx context.Context, url string, opts ...Option) (*Provider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial wallet: %w", err)
	}
	return NewProvider(client, opts...), nil
}

// NewProvider wraps an existing client.
func NewProvider(client *rpc.Client, opts ...Option) *Provider {
	p := &Provider{client: client, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close closes the underlying client.
func (p *Provider) Close() {
	p.client.Close()
}

var (
	_ lifecycle.SigningService      = (*Provider)(nil)
	_ lifecycle.SubAccountDirectory = (*Provider)(nil)
	_ calls.Submitter               = (*Provider)(nil)
)

// RequestAccounts calls eth_requestAccounts.
func (p *Provider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.call(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

// SignTypedPayload calls eth_signTypedData_v4 with the payload's wire document.
func (p *Provider) SignTypedPayload(ctx context.Context, account common.Address, payload *typeddata.Payload) ([]byte, error) {
	doc, err := payload.JSON()
	if err != nil {
		return nil, err
	}
	var sig hexutil.Bytes
	if err := p.call(ctx, &sig, "eth_signTypedData_v4", account, string(doc)); err != nil {
		return nil, err
	}
	return sig, nil
}

type getSubAccountsRequest struct {
	Version string         `json:"version"`
	Account common.Address `json:"account"`
	Domain  string         `json:"domain"`
	ChainID uint64         `json:"chainId"`
}

type subAccountEntry struct {
	Address     common.Address  `json:"address"`
	Factory     *common.Address `json:"factory,omitempty"`
	FactoryData hexutil.Bytes   `json:"factoryData,omitempty"`
}

type getSubAccountsResponse struct {
	SubAccounts []subAccountEntry `json:"subAccounts"`
}

type addSubAccountsRequest struct {
	Accounts []accountSpec `json:"accounts"`
}

type accountSpec struct {
	Type string `json:"type"`
}

// GetSubAccounts calls wallet_getSubAccounts.
func (p *Provider) GetSubAccounts(ctx context.Context, account common.Address, domain string, chainID *big.Int) ([]lifecycle.SubAccount, error) {
	req := getSubAccountsRequest{
		Version: subAccountsAPIVersion,
		Account: account,
		Domain:  domain,
		ChainID: chainID.Uint64(),
	}
	var resp getSubAccountsResponse
	if err := p.call(ctx, &resp, "wallet_getSubAccounts", req); err != nil {
		return nil, err
	}
	out := make([]lifecycle.SubAccount, 0, len(resp.SubAccounts))
	for _, e := range resp.SubAccounts {
		out = append(out, lifecycle.SubAccount{
			Address:          e.Address,
			UniversalAccount: account,
			Domain:           domain,
		})
	}
	return out, nil
}

// CreateSubAccount calls wallet_addSubAccounts with a single create request.
func (p *Provider) CreateSubAccount(ctx context.Context, account common.Address) (*lifecycle.SubAccount, error) {
	var resp subAccountEntry
	req := addSubAccountsRequest{Accounts: []accountSpec{{Type: "create"}}}
	if err := p.call(ctx, &resp, "wallet_addSubAccounts", req); err != nil {
		return nil, err
	}
	if resp.Address == (common.Address{}) {
		return nil, fmt.Errorf("wallet_addSubAccounts returned no address")
	}
	return &lifecycle.SubAccount{
		Address:          resp.Address,
		UniversalAccount: account,
		CreatedAt:        p.now(),
	}, nil
}

type sendCallsResponse struct {
	ID string `json:"id"`
}

// SubmitCallBatch calls wallet_sendCalls. The receipt ID is the wallet's batch id.
func (p *Provider) SubmitCallBatch(ctx context.Context, batch *calls.CallBatch) (*spendauth.Receipt, error) {
	var resp sendCallsResponse
	if err := p.call(ctx, &resp, "wallet_sendCalls", batch); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, spendauth.NewError(spendauth.KindSubmissionFailure, spendauth.ReasonVerifierRejected, "wallet returned no batch id")
	}
	p.logger.Info("call batch sent",
		zap.String("account", batch.From.Hex()),
		zap.Int("calls", len(batch.Calls)),
		zap.String("receipt", resp.ID))
	return &spendauth.Receipt{ID: resp.ID, SubmittedAt: p.now()}, nil
}

type callsStatusResponse struct {
	Status   int `json:"status"`
	Receipts []struct {
		TransactionHash common.Hash    `json:"transactionHash"`
		Status          hexutil.Uint64 `json:"status"`
	} `json:"receipts"`
}

// Batch status codes reported by wallet_getCallsStatus.
const (
	CallsStatusPending   = 100
	CallsStatusConfirmed = 200
)

// CallsStatus calls wallet_getCallsStatus. pending is true until the batch is included.
func (p *Provider) CallsStatus(ctx context.Context, id string) (receipt *spendauth.Receipt, pending bool, err error) {
	var resp callsStatusResponse
	if err := p.call(ctx, &resp, "wallet_getCallsStatus", id); err != nil {
		return nil, false, err
	}
	receipt = &spendauth.Receipt{ID: id, Status: spendauth.ReceiptStatusFailed}
	if resp.Status < CallsStatusConfirmed {
		return receipt, true, nil
	}
	if len(resp.Receipts) > 0 {
		last := resp.Receipts[len(resp.Receipts)-1]
		receipt.TxHash = last.TransactionHash.Hex()
		receipt.Status = uint64(last.Status)
	}
	return receipt, false, nil
}

func (p *Provider) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	err := p.client.CallContext(ctx, result, method, args...)
	if err == nil {
		return nil
	}
	mapped := mapError(ctx, method, err)
	p.logger.Debug("wallet request failed",
		zap.String("method", method),
		zap.String("reason", spendauth.CodeOf(mapped)),
		zap.Error(err))
	return mapped
}

func mapError(ctx context.Context, method string, err error) error {
	if ctx.Err() != nil {
		return spendauth.WrapError(spendauth.KindSigningRejected, spendauth.ReasonRequestCanceled, err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case CodeUserRejected, CodeUnauthorized:
			return spendauth.WrapError(spendauth.KindSigningRejected, spendauth.ReasonUserRejected, err)
		case CodeMethodNotFound, CodeInternalError:
			return fmt.Errorf("%s: %w: %v", method, ErrUnsupportedMethod, err)
		}
	}
	return fmt.Errorf("%s: %w", method, err)
}
