package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"openrate/core/events"
	"openrate/core/types"
	"openrate/crypto"
	"openrate/gateway/auth"
	"openrate/gateway/middleware"
	"openrate/native/market"
	"openrate/services/openrated/api"
	"openrate/services/openrated/client"
	"openrate/storage/ledger"
)

const opsSecret = "ops-secret"

type testEnv struct {
	server   *httptest.Server
	engine   *market.Engine
	clock    *market.ManualClock
	events   *events.Broadcaster
	ops      *client.Client
	lender   *client.Client
	borrower *client.Client
	mint     string

	lenderAddr   string
	borrowerAddr string
}

func opsToken(t *testing.T, scope string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "ops-test",
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(opsSecret))
	require.NoError(t, err)
	return token
}

func newSignedClient(t *testing.T, baseURL string) (*client.Client, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	c, err := client.New(baseURL, client.WithSigner(key))
	require.NoError(t, err)
	return c, key
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	store, err := ledger.Open(ledger.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	params := market.DefaultParams()
	clock := market.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), params.Period())
	broadcaster := events.NewBroadcaster()
	engine := market.NewEngine(store, params)
	engine.SetClock(clock)
	engine.SetEmitter(broadcaster)
	engine.SetLogger(logger)

	srv := New(Config{
		Engine:        engine,
		Auth:          auth.NewAuthenticator(auth.Config{}, nil, nil),
		Operator:      middleware.NewOperatorAuth(middleware.OperatorAuthConfig{HMACSecret: opsSecret}, logger, nil),
		Observability: middleware.NewObservability("openrated-test", logger, nil, false),
		Events:        broadcaster,
		Exporter:      store,
		ExportDir:     t.TempDir(),
		Logger:        logger,
		Health:        store.Ping,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ops, err := client.New(ts.URL, client.WithOperatorToken(opsToken(t, "ops:mint ops:export")))
	require.NoError(t, err)
	lender, lenderKey := newSignedClient(t, ts.URL)
	borrower, borrowerKey := newSignedClient(t, ts.URL)

	ctx := context.Background()
	mint, err := ops.RegisterMint(ctx, "usdc", 6)
	require.NoError(t, err)
	require.Equal(t, "USDC", mint.Symbol)

	return &testEnv{
		server:   ts,
		engine:   engine,
		clock:    clock,
		events:   broadcaster,
		ops:      ops,
		lender:   lender,
		borrower: borrower,
		mint:     mint.ID,

		lenderAddr:   lenderKey.Address().String(),
		borrowerAddr: borrowerKey.Address().String(),
	}
}

func requireAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	require.Equal(t, status, apiErr.Status, apiErr.Message)
	require.Equal(t, code, apiErr.Code)
}

func mustAmount(t *testing.T, raw string) uint64 {
	t.Helper()
	v, err := client.ParseAmount(raw)
	require.NoError(t, err)
	return v
}

func TestLendingFlowOverHTTP(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.ops.Credit(ctx, env.mint, env.lenderAddr, 1_000_000)
	require.NoError(t, err)
	funded, err := env.ops.Credit(ctx, env.mint, env.borrowerAddr, 100_000)
	require.NoError(t, err)
	require.Equal(t, "100000", funded.Amount)

	created, err := env.lender.InitializeMarket(ctx, env.mint)
	require.NoError(t, err)
	require.Equal(t, env.lenderAddr, created.Market.Authority)
	require.True(t, created.Vault.Report.Conserved)
	marketID := created.Market.ID

	mint, err := env.borrower.Mint(ctx, env.mint)
	require.NoError(t, err)
	require.Equal(t, uint8(6), mint.Decimals)
	byMint, err := env.borrower.MarketForMint(ctx, env.mint)
	require.NoError(t, err)
	require.Equal(t, marketID, byMint.ID)

	_, err = env.lender.InitializeMarket(ctx, env.mint)
	requireAPIError(t, err, http.StatusConflict, "already_exists")

	bid, err := env.lender.PlaceBid(ctx, marketID, 1_000_000, 500)
	require.NoError(t, err)
	require.Equal(t, "open", bid.Status)
	require.Equal(t, env.lenderAddr, bid.Lender)

	rec, err := env.borrower.Borrow(ctx, bid.ID, 400_000)
	require.NoError(t, err)
	require.Equal(t, "active", rec.Status)

	_, err = env.borrower.Borrow(ctx, bid.ID, 1)
	requireAPIError(t, err, http.StatusConflict, "duplicate_active_borrow")

	env.clock.AdvancePeriods(2)
	quote, err := env.borrower.BorrowRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "440000", quote.AmountDue)
	require.Equal(t, "40000", quote.InterestDue)

	_, err = env.lender.Repay(ctx, rec.ID)
	requireAPIError(t, err, http.StatusForbidden, "not_borrower")

	repaid, err := env.borrower.Repay(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "repaid", repaid.Status)
	require.Equal(t, "440000", repaid.AmountRepaid)
	require.NotNil(t, repaid.RepaidAt)

	partial, err := env.lender.Bids(ctx, marketID, "partially_filled")
	require.NoError(t, err)
	require.Len(t, partial, 1)
	require.Equal(t, "440000", partial[0].Proceeds)

	vault, err := env.lender.Vault(ctx, marketID)
	require.NoError(t, err)
	require.True(t, vault.Report.Conserved)
	require.True(t, vault.Report.Backed)
	require.Equal(t, "1040000", vault.Report.Holdings)

	claim, err := env.lender.ClaimProceeds(ctx, bid.ID)
	require.NoError(t, err)
	require.Equal(t, "440000", claim.Claimed)

	cancelled, err := env.lender.CancelBid(ctx, bid.ID)
	require.NoError(t, err)
	require.Equal(t, "600000", cancelled.Refunded)
	require.Equal(t, "cancelled", cancelled.Bid.Status)

	lenderBal, err := env.lender.Balance(ctx, env.lenderAddr, env.mint)
	require.NoError(t, err)
	require.Equal(t, uint64(1_040_000), mustAmount(t, lenderBal.Amount))
	borrowerBal, err := env.lender.Balance(ctx, env.borrowerAddr, env.mint)
	require.NoError(t, err)
	require.Equal(t, uint64(60_000), mustAmount(t, borrowerBal.Amount))

	m, err := env.lender.Market(ctx, marketID)
	require.NoError(t, err)
	require.Equal(t, "0", m.TotalBorrowed)
	require.False(t, m.Halted)
}

func TestErrorMapping(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	created, err := env.lender.InitializeMarket(ctx, env.mint)
	require.NoError(t, err)

	_, err = env.lender.PlaceBid(ctx, created.Market.ID, 10, 100)
	requireAPIError(t, err, http.StatusUnprocessableEntity, "insufficient_lender_funds")

	_, err = env.lender.PlaceBid(ctx, created.Market.ID, 0, 100)
	requireAPIError(t, err, http.StatusBadRequest, "invalid_amount")

	missing := market.FormatID(market.BidOrderID([20]byte{1}, [32]byte{2}, 0))
	_, err = env.borrower.Borrow(ctx, missing, 5)
	requireAPIError(t, err, http.StatusNotFound, "bid_not_found")

	_, err = env.lender.Bid(ctx, "not-hex")
	requireAPIError(t, err, http.StatusBadRequest, "invalid_id")

	_, err = env.lender.Bids(ctx, created.Market.ID, "sideways")
	requireAPIError(t, err, http.StatusBadRequest, "invalid_status")

	_, err = env.lender.InitializeMarket(ctx, "not-a-mint")
	requireAPIError(t, err, http.StatusBadRequest, "invalid_mint")

	_, err = env.ops.Credit(ctx, env.mint, env.lenderAddr, 100)
	require.NoError(t, err)
	bid, err := env.lender.PlaceBid(ctx, created.Market.ID, 100, 100)
	require.NoError(t, err)
	_, err = env.borrower.Borrow(ctx, bid.ID, 101)
	requireAPIError(t, err, http.StatusUnprocessableEntity, "insufficient_bid_liquidity")
}

func TestSignedRoutesRejectUnsignedRequests(t *testing.T) {
	env := setup(t)
	resp, err := http.Post(env.server.URL+"/v1/markets", "application/json", strings.NewReader(`{"mint":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "unauthenticated", body.Code)

	anonymous, err := client.New(env.server.URL)
	require.NoError(t, err)
	_, err = anonymous.PlaceBid(context.Background(), market.FormatID([32]byte{}), 1, 1)
	require.Error(t, err)
}

func TestOperatorRoutesRequireScope(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	exportOnly, err := client.New(env.server.URL, client.WithOperatorToken(opsToken(t, "ops:export")))
	require.NoError(t, err)
	_, err = exportOnly.RegisterMint(ctx, "dai", 18)
	requireAPIError(t, err, http.StatusForbidden, "unauthorized")

	noToken, err := client.New(env.server.URL)
	require.NoError(t, err)
	_, err = noToken.Export(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, "unauthorized")

	_, err = env.ops.RegisterMint(ctx, "usdc", 6)
	requireAPIError(t, err, http.StatusConflict, "mint_exists")
}

func TestExportOverHTTP(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	_, err := env.ops.Credit(ctx, env.mint, env.lenderAddr, 500)
	require.NoError(t, err)
	created, err := env.lender.InitializeMarket(ctx, env.mint)
	require.NoError(t, err)
	_, err = env.lender.PlaceBid(ctx, created.Market.ID, 500, 25)
	require.NoError(t, err)

	result, err := env.ops.Export(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Vaults)
	require.Equal(t, 1, result.Bids)
	require.Zero(t, result.Borrows)
	require.NotEmpty(t, result.RunID)
}

func TestHealthz(t *testing.T) {
	env := setup(t)
	health, err := env.ops.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", health.Status)
	require.Empty(t, health.HaltedMarkets)
}

func TestEventStreamDeliversFilteredEvents(t *testing.T) {
	env := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := env.ops.Credit(ctx, env.mint, env.lenderAddr, 1_000)
	require.NoError(t, err)
	created, err := env.lender.InitializeMarket(ctx, env.mint)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/v1/events?types=" + market.EventTypeBidPlaced + "&market=" + created.Market.ID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	require.Eventually(t, func() bool { return env.events.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	bid, err := env.lender.PlaceBid(ctx, created.Market.ID, 1_000, 50)
	require.NoError(t, err)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt api.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, market.EventTypeBidPlaced, evt.Type)
	require.Equal(t, bid.ID, evt.Attributes["bid"])
	require.Equal(t, created.Market.ID, evt.Attributes["market"])
}

func TestEventFilter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/events?types=a,+b&market=0xAB", nil)
	filter := parseEventFilter(req)
	evt := func(kind, marketID string) *types.Event {
		return &types.Event{Type: kind, Attributes: map[string]string{"market": marketID}}
	}
	require.True(t, filter.match(evt("a", "0xab")))
	require.True(t, filter.match(evt("b", "0xAB")))
	require.False(t, filter.match(evt("c", "0xab")))
	require.False(t, filter.match(evt("b", "0xcd")))
	require.False(t, filter.match(nil))

	all := parseEventFilter(httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	require.True(t, all.match(evt("anything", "")))
}
