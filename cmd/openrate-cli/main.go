package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"openrate/cmd/internal/passphrase"
	"openrate/crypto"
	"openrate/services/openrated/client"
)

const defaultEndpoint = "http://127.0.0.1:8085"

type cli struct {
	stdout, stderr io.Writer

	endpoint string
	opsToken string
	timeout  time.Duration
	pass     *passphrase.Source
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{
		stdout:   stdout,
		stderr:   stderr,
		endpoint: envOr("OPENRATE_URL", defaultEndpoint),
		opsToken: os.Getenv("OPENRATE_OPS_TOKEN"),
		timeout:  30 * time.Second,
	}
	args, err := c.applyGlobalFlags(args)
	if err != nil {
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch args[0] {
	case "keygen":
		return c.runKeygen(args[1:])
	case "address":
		return c.runAddress(args[1:])
	case "health":
		return c.runHealth(args[1:])
	case "market":
		return c.runMarketCommand(args[1:])
	case "bid":
		return c.runBidCommand(args[1:])
	case "borrow":
		return c.runBorrow(args[1:])
	case "repay":
		return c.runRepay(args[1:])
	case "loan":
		return c.runLoan(args[1:])
	case "balance":
		return c.runBalance(args[1:])
	case "ops":
		return c.runOpsCommand(args[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`
Usage: openrate-cli [--url URL] [--ops-token TOKEN] [--timeout DUR] <command> [flags]

Commands:
  keygen   --out FILE                       create an encrypted account keystore
  address  --key FILE                       print the account address of a keystore
  health                                    daemon health and halted markets
  market   create|get|vault|bids            market lifecycle and queries
  bid      place|get|cancel|claim           lender bid orders
  borrow   --bid ID --amount N --key FILE   draw liquidity from a bid
  repay    --loan ID --key FILE             repay a loan in full
  loan     --id ID                          show a loan and the amount due now
  balance  --owner ADDR --mint MINT         token balance of an account
  ops      mint|credit|export               operator commands (bearer token)

The keystore passphrase is read from OPENRATE_KEYSTORE_PASSPHRASE or prompted.`)
}

func (c *cli) applyGlobalFlags(args []string) ([]string, error) {
	fs := newFlagSet("openrate-cli", c.stderr)
	fs.StringVar(&c.endpoint, "url", c.endpoint, "openrated base URL (env OPENRATE_URL)")
	fs.StringVar(&c.opsToken, "ops-token", c.opsToken, "operator bearer token (env OPENRATE_OPS_TOKEN)")
	fs.DurationVar(&c.timeout, "timeout", c.timeout, "request timeout")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (c *cli) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *cli) passphraseSource(confirm bool) *passphrase.Source {
	if c.pass == nil {
		if confirm {
			c.pass = passphrase.NewConfirmingSource(passphrase.DefaultEnv)
		} else {
			c.pass = passphrase.NewSource(passphrase.DefaultEnv)
		}
	}
	return c.pass
}

func (c *cli) loadKey(path string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("--key is required")
	}
	pass, err := c.passphraseSource(false).Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

func (c *cli) publicClient() (*client.Client, error) {
	return client.New(c.endpoint)
}

func (c *cli) signedClient(keyPath string) (*client.Client, error) {
	key, err := c.loadKey(keyPath)
	if err != nil {
		return nil, err
	}
	return client.New(c.endpoint, client.WithSigner(key))
}

func (c *cli) operatorClient() (*client.Client, error) {
	if strings.TrimSpace(c.opsToken) == "" {
		return nil, errors.New("operator token required; pass --ops-token or set OPENRATE_OPS_TOKEN")
	}
	return client.New(c.endpoint, client.WithOperatorToken(c.opsToken))
}

func (c *cli) fail(err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(c.stderr, "Error: %s (%s)\n", apiErr.Message, apiErr.Code)
		return 2
	}
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func (c *cli) printJSON(v interface{}) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return c.fail(err)
	}
	return 0
}

// parseFlags parses args and rejects positional leftovers.
func (c *cli) parseFlags(fs *flag.FlagSet, args []string) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(c.stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}

func parseAmount(name, raw string) (uint64, error) {
	if err := required(name, raw); err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(raw), "_", ""), 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("--%s must be a positive integer in base units", name)
	}
	return v, nil
}

func (c *cli) runHealth(args []string) int {
	fs := newFlagSet("health", c.stderr)
	if !c.parseFlags(fs, args) {
		return 1
	}
	api, err := c.publicClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	health, err := api.Health(ctx)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(health)
}

func (c *cli) runBalance(args []string) int {
	fs := newFlagSet("balance", c.stderr)
	var owner, mint string
	fs.StringVar(&owner, "owner", "", "account address")
	fs.StringVar(&mint, "mint", "", "mint address")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("owner", owner); err != nil {
		return c.fail(err)
	}
	if err := required("mint", mint); err != nil {
		return c.fail(err)
	}
	api, err := c.publicClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	bal, err := api.Balance(ctx, owner, mint)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(bal)
}
