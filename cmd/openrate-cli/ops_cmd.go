package main

import (
	"fmt"
	"strconv"
	"strings"
)

func (c *cli) runOpsCommand(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, "Usage: openrate-cli ops mint|credit|export [flags]")
		return 1
	}
	switch args[0] {
	case "mint":
		return c.runOpsMint(args[1:])
	case "credit":
		return c.runOpsCredit(args[1:])
	case "export":
		return c.runOpsExport(args[1:])
	default:
		fmt.Fprintf(c.stderr, "Unknown ops subcommand: %s\n", args[0])
		return 1
	}
}

func (c *cli) runOpsMint(args []string) int {
	fs := newFlagSet("ops mint", c.stderr)
	var symbol, decimalsStr string
	fs.StringVar(&symbol, "symbol", "", "token symbol")
	fs.StringVar(&decimalsStr, "decimals", "6", "token decimals")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("symbol", symbol); err != nil {
		return c.fail(err)
	}
	decimals, err := strconv.ParseUint(strings.TrimSpace(decimalsStr), 10, 8)
	if err != nil {
		return c.fail(fmt.Errorf("--decimals must be an integer between 0 and 255"))
	}
	api, err := c.operatorClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	mint, err := api.RegisterMint(ctx, symbol, uint8(decimals))
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(mint)
}

func (c *cli) runOpsCredit(args []string) int {
	fs := newFlagSet("ops credit", c.stderr)
	var mint, owner, amountStr string
	fs.StringVar(&mint, "mint", "", "mint address")
	fs.StringVar(&owner, "owner", "", "account to credit")
	fs.StringVar(&amountStr, "amount", "", "amount in base units")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("mint", mint); err != nil {
		return c.fail(err)
	}
	if err := required("owner", owner); err != nil {
		return c.fail(err)
	}
	amount, err := parseAmount("amount", amountStr)
	if err != nil {
		return c.fail(err)
	}
	api, err := c.operatorClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	bal, err := api.Credit(ctx, mint, owner, amount)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(bal)
}

func (c *cli) runOpsExport(args []string) int {
	fs := newFlagSet("ops export", c.stderr)
	if !c.parseFlags(fs, args) {
		return 1
	}
	api, err := c.operatorClient()
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	result, err := api.Export(ctx)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(result)
}
