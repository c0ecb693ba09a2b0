// Package client is a Go client for the openrated HTTP API. Participant calls
// are signed with the configured account key; operator calls carry a bearer
// token.
package client

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
	"time"

	"github.com/google/uuid"

	"openrate/crypto"
	"openrate/gateway/auth"
	"openrate/services/openrated/api"
)

var errNoSigner = errors.New("client: signing key required")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openrated: %d %s: %s", e.Status, e.Code, e.Message)
}

// Client calls one openrated instance.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	key      *crypto.PrivateKey
	opsToken string
	now      func() time.Time
}

// Option customises a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithSigner sets the account key used for signed routes.
func WithSigner(key *crypto.PrivateKey) Option { return func(c *Client) { c.key = key } }

// WithOperatorToken sets the bearer token used for /ops routes.
func WithOperatorToken(token string) Option { return func(c *Client) { c.opsToken = token } }

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// New parses baseURL and applies opts.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: base url %q needs scheme and host", baseURL)
	}
	c := &Client{baseURL: u, http: &http.Client{Timeout: 30 * time.Second}, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type callKind int

const (
	public callKind = iota
	signed
	operator
)

func (c *Client) do(ctx context.Context, kind callKind, method, path string, query url.Values, in, out interface{}) error {
	var body []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		body = data
	}
	target := *c.baseURL
	target.Path = c.baseURL.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch kind {
	case signed:
		if c.key == nil {
			return errNoSigner
		}
		if err := auth.SignRequest(req, c.key, body, c.now(), uuid.NewString()); err != nil {
			return fmt.Errorf("client: sign request: %w", err)
		}
	case operator:
		req.Header.Set("Authorization", "Bearer "+c.opsToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload api.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(raw, &payload) == nil && payload.Code != "" {
			apiErr.Code, apiErr.Message = payload.Code, payload.Message
		} else {
			apiErr.Code, apiErr.Message = http.StatusText(resp.StatusCode), strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func call[T any](ctx context.Context, c *Client, kind callKind, method, path string, query url.Values, in interface{}) (*T, error) {
	var out T
	if err := c.do(ctx, kind, method, path, query, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func amountString(v uint64) string { return strconv.FormatUint(v, 10) }

// ParseAmount decodes a base-unit amount returned by the API.
func ParseAmount(raw string) (uint64, error) {
	return strconv.ParseUint(raw, 10, 64)
}

func (c *Client) Health(ctx context.Context) (*api.Health, error) {
	return call[api.Health](ctx, c, public, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) InitializeMarket(ctx context.Context, mint string) (*api.InitializeMarketResponse, error) {
	return call[api.InitializeMarketResponse](ctx, c, signed, http.MethodPost, "/v1/markets", nil, api.InitializeMarketRequest{Mint: mint})
}

func (c *Client) Mint(ctx context.Context, mint string) (*api.Mint, error) {
	return call[api.Mint](ctx, c, public, http.MethodGet, "/v1/mints/"+mint, nil, nil)
}

// MarketForMint looks up the market created for a mint.
func (c *Client) MarketForMint(ctx context.Context, mint string) (*api.Market, error) {
	return call[api.Market](ctx, c, public, http.MethodGet, "/v1/mints/"+mint+"/market", nil, nil)
}

func (c *Client) Market(ctx context.Context, marketID string) (*api.Market, error) {
	return call[api.Market](ctx, c, public, http.MethodGet, "/v1/markets/"+marketID, nil, nil)
}

func (c *Client) Vault(ctx context.Context, marketID string) (*api.Vault, error) {
	return call[api.Vault](ctx, c, public, http.MethodGet, "/v1/markets/"+marketID+"/vault", nil, nil)
}

// Bids lists a market's bids, optionally filtered by status name.
func (c *Client) Bids(ctx context.Context, marketID, status string) ([]api.Bid, error) {
	var query url.Values
	if status != "" {
		query = url.Values{"status": []string{status}}
	}
	var out api.BidList
	if err := c.do(ctx, public, http.MethodGet, "/v1/markets/"+marketID+"/bids", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Bids, nil
}

func (c *Client) PlaceBid(ctx context.Context, marketID string, amount uint64, rateBps uint16) (*api.Bid, error) {
	req := api.PlaceBidRequest{Amount: amountString(amount), RateBps: rateBps}
	return call[api.Bid](ctx, c, signed, http.MethodPost, "/v1/markets/"+marketID+"/bids", nil, req)
}

func (c *Client) Bid(ctx context.Context, bidID string) (*api.Bid, error) {
	return call[api.Bid](ctx, c, public, http.MethodGet, "/v1/bids/"+bidID, nil, nil)
}

func (c *Client) Borrow(ctx context.Context, bidID string, amount uint64) (*api.Borrow, error) {
	req := api.BorrowRequest{Amount: amountString(amount)}
	return call[api.Borrow](ctx, c, signed, http.MethodPost, "/v1/bids/"+bidID+"/borrow", nil, req)
}

func (c *Client) CancelBid(ctx context.Context, bidID string) (*api.CancelBidResponse, error) {
	return call[api.CancelBidResponse](ctx, c, signed, http.MethodPost, "/v1/bids/"+bidID+"/cancel", nil, nil)
}

func (c *Client) ClaimProceeds(ctx context.Context, bidID string) (*api.ClaimResponse, error) {
	return call[api.ClaimResponse](ctx, c, signed, http.MethodPost, "/v1/bids/"+bidID+"/claim", nil, nil)
}

func (c *Client) BorrowRecord(ctx context.Context, recordID string) (*api.Borrow, error) {
	return call[api.Borrow](ctx, c, public, http.MethodGet, "/v1/borrows/"+recordID, nil, nil)
}

func (c *Client) Repay(ctx context.Context, recordID string) (*api.Borrow, error) {
	return call[api.Borrow](ctx, c, signed, http.MethodPost, "/v1/borrows/"+recordID+"/repay", nil, nil)
}

func (c *Client) Balance(ctx context.Context, owner, mint string) (*api.Balance, error) {
	return call[api.Balance](ctx, c, public, http.MethodGet, "/v1/accounts/"+owner+"/balances/"+mint, nil, nil)
}

func (c *Client) RegisterMint(ctx context.Context, symbol string, decimals uint8) (*api.Mint, error) {
	req := api.RegisterMintRequest{Symbol: symbol, Decimals: decimals}
	return call[api.Mint](ctx, c, operator, http.MethodPost, "/ops/mints", nil, req)
}

func (c *Client) Credit(ctx context.Context, mint, owner string, amount uint64) (*api.Balance, error) {
	req := api.CreditRequest{Owner: owner, Amount: amountString(amount)}
	return call[api.Balance](ctx, c, operator, http.MethodPost, "/ops/mints/"+mint+"/credit", nil, req)
}

func (c *Client) Export(ctx context.Context) (*api.Export, error) {
	return call[api.Export](ctx, c, operator, http.MethodPost, "/ops/exports", nil, nil)
}
