package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"openrate/services/openrated/api"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsageAndUnknownCommands(t *testing.T) {
	code, _, stderr := runCLI(t)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Usage: openrate-cli")

	code, _, stderr = runCLI(t, "launch")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown command: launch")

	code, _, stderr = runCLI(t, "bid", "teleport")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown bid subcommand")

	code, stdout, _ := runCLI(t, "help")
	require.Zero(t, code)
	require.Contains(t, stdout, "ops      mint|credit|export")
}

func TestFlagValidation(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"bid place missing market", []string{"bid", "place", "--amount", "10", "--rate-bps", "5"}, "--market is required"},
		{"bid place zero amount", []string{"bid", "place", "--market", "0x01", "--amount", "0", "--rate-bps", "5"}, "--amount must be a positive integer"},
		{"bid place bad rate", []string{"bid", "place", "--market", "0x01", "--amount", "10", "--rate-bps", "70000"}, "--rate-bps must be"},
		{"borrow missing key", []string{"borrow", "--bid", "0x01", "--amount", "10"}, "--key is required"},
		{"balance missing mint", []string{"balance", "--owner", "acct1"}, "--mint is required"},
		{"ops without token", []string{"ops", "export"}, "operator token required"},
		{"positional args", []string{"loan", "--id", "0x01", "extra"}, "unexpected positional arguments"},
	}
	t.Setenv("OPENRATE_OPS_TOKEN", "")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tc.args...)
			require.Equal(t, 1, code)
			require.Contains(t, stderr, tc.want)
		})
	}
}

func TestKeygenAndAddress(t *testing.T) {
	t.Setenv("OPENRATE_KEYSTORE_PASSPHRASE", "test-passphrase")
	path := filepath.Join(t.TempDir(), "keys", "lender.json")

	code, stdout, stderr := runCLI(t, "keygen", "--out", path)
	require.Zero(t, code, stderr)
	address := strings.TrimSpace(stdout)
	require.NotEmpty(t, address)

	code, stdout, stderr = runCLI(t, "address", "--key", path)
	require.Zero(t, code, stderr)
	require.Equal(t, address, strings.TrimSpace(stdout))

	code, stdout, _ = runCLI(t, "address", "--key", path, "--hex")
	require.Zero(t, code)
	require.True(t, strings.HasPrefix(stdout, "0x"))
	require.Len(t, strings.TrimSpace(stdout), 42)

	code, _, stderr = runCLI(t, "keygen", "--out", path)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "already exists")
}

func TestQueriesAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/healthz":
			_ = json.NewEncoder(w).Encode(api.Health{Status: "ok"})
		case "/v1/markets/0xabc/bids":
			_ = json.NewEncoder(w).Encode(api.BidList{Bids: []api.Bid{{ID: "0x1", Status: r.URL.Query().Get("status")}}})
		case "/ops/exports":
			if r.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(api.ErrorResponse{Code: "unauthorized", Message: "invalid token"})
				return
			}
			_ = json.NewEncoder(w).Encode(api.Export{RunID: "run-1", Vaults: 2})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Code: "market_not_found", Message: "market not found"})
		}
	}))
	defer srv.Close()

	code, stdout, stderr := runCLI(t, "--url", srv.URL, "health")
	require.Zero(t, code, stderr)
	require.Contains(t, stdout, `"status": "ok"`)

	code, stdout, _ = runCLI(t, "--url", srv.URL, "market", "bids", "--id", "0xabc", "--status", "open")
	require.Zero(t, code)
	var bids []api.Bid
	require.NoError(t, json.Unmarshal([]byte(stdout), &bids))
	require.Len(t, bids, 1)
	require.Equal(t, "open", bids[0].Status)

	code, _, stderr = runCLI(t, "--url", srv.URL, "market", "get", "--id", "0xdef")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "market_not_found")

	code, _, stderr = runCLI(t, "--url", srv.URL, "--ops-token", "wrong", "ops", "export")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "invalid token")

	code, stdout, _ = runCLI(t, "--url", srv.URL, "--ops-token", "secret", "ops", "export")
	require.Zero(t, code)
	require.Contains(t, stdout, `"runId": "run-1"`)
}
