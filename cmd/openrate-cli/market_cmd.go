package main

import (
	"fmt"
	"strconv"
	"strings"
)

func (c *cli) runMarketCommand(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, "Usage: openrate-cli market create|get|vault|bids [flags]")
		return 1
	}
	switch args[0] {
	case "create":
		return c.runMarketCreate(args[1:])
	case "get":
		return c.runMarketGet(args[1:], false)
	case "vault":
		return c.runMarketGet(args[1:], true)
	case "bids":
		return c.runMarketBids(args[1:])
	default:
		fmt.Fprintf(c.stderr, "Unknown market subcommand: %s\n", args[0])
		return 1
	}
}

func (c *cli) runMarketCreate(args []string) int {
	fs := newFlagSet("market create", c.stderr)
	var mint, keyPath string
	fs.StringVar(&mint, "mint", "", "mint address of the market token")
	fs.StringVar(&keyPath, "key", "", "authority keystore")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("mint", mint); err != nil {
		return c.fail(err)
	}
	api, err := c.signedClient(keyPath)
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	created, err := api.InitializeMarket(ctx, mint)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(created)
}

func (c *cli) runMarketGet(args []string, vault bool) int {
	fs := newFlagSet("market get", c.stderr)
	var id string
	fs.StringVar(&id, "id", "", "market id")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("id", id); err != nil {
		return c.fail(err)
	}
	api, err := c.publicClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	if vault {
		v, err := api.Vault(ctx, id)
		if err != nil {
			return c.fail(err)
		}
		return c.printJSON(v)
	}
	m, err := api.Market(ctx, id)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(m)
}

func (c *cli) runMarketBids(args []string) int {
	fs := newFlagSet("market bids", c.stderr)
	var id, status string
	fs.StringVar(&id, "id", "", "market id")
	fs.StringVar(&status, "status", "", "filter: open, partially_filled, filled or cancelled")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("id", id); err != nil {
		return c.fail(err)
	}
	api, err := c.publicClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	bids, err := api.Bids(ctx, id, strings.TrimSpace(status))
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(bids)
}

func (c *cli) runBidCommand(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, "Usage: openrate-cli bid place|get|cancel|claim [flags]")
		return 1
	}
	switch args[0] {
	case "place":
		return c.runBidPlace(args[1:])
	case "get":
		return c.runBidGet(args[1:])
	case "cancel", "claim":
		return c.runBidSettle(args[0], args[1:])
	default:
		fmt.Fprintf(c.stderr, "Unknown bid subcommand: %s\n", args[0])
		return 1
	}
}

func (c *cli) runBidPlace(args []string) int {
	fs := newFlagSet("bid place", c.stderr)
	var marketID, amountStr, rateStr, keyPath string
	fs.StringVar(&marketID, "market", "", "market id")
	fs.StringVar(&amountStr, "amount", "", "liquidity in base units")
	fs.StringVar(&rateStr, "rate-bps", "", "interest per period in basis points")
	fs.StringVar(&keyPath, "key", "", "lender keystore")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("market", marketID); err != nil {
		return c.fail(err)
	}
	amount, err := parseAmount("amount", amountStr)
	if err != nil {
		return c.fail(err)
	}
	if err := required("rate-bps", rateStr); err != nil {
		return c.fail(err)
	}
	rate, err := strconv.ParseUint(strings.TrimSpace(rateStr), 10, 16)
	if err != nil {
		return c.fail(fmt.Errorf("--rate-bps must be an integer between 0 and 65535"))
	}
	api, err := c.signedClient(keyPath)
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	bid, err := api.PlaceBid(ctx, marketID, amount, uint16(rate))
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(bid)
}

func (c *cli) runBidGet(args []string) int {
	fs := newFlagSet("bid get", c.stderr)
	var id string
	fs.StringVar(&id, "id", "", "bid id")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("id", id); err != nil {
		return c.fail(err)
	}
	api, err := c.publicClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	bid, err := api.Bid(ctx, id)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(bid)
}

func (c *cli) runBidSettle(action string, args []string) int {
	fs := newFlagSet("bid "+action, c.stderr)
	var id, keyPath string
	fs.StringVar(&id, "id", "", "bid id")
	fs.StringVar(&keyPath, "key", "", "lender keystore")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("id", id); err != nil {
		return c.fail(err)
	}
	api, err := c.signedClient(keyPath)
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	if action == "cancel" {
		resp, err := api.CancelBid(ctx, id)
		if err != nil {
			return c.fail(err)
		}
		return c.printJSON(resp)
	}
	resp, err := api.ClaimProceeds(ctx, id)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(resp)
}
