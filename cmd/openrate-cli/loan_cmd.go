package main

func (c *cli) runBorrow(args []string) int {
	fs := newFlagSet("borrow", c.stderr)
	var bidID, amountStr, keyPath string
	fs.StringVar(&bidID, "bid", "", "bid id to draw from")
	fs.StringVar(&amountStr, "amount", "", "principal in base units")
	fs.StringVar(&keyPath, "key", "", "borrower keystore")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("bid", bidID); err != nil {
		return c.fail(err)
	}
	amount, err := parseAmount("amount", amountStr)
	if err != nil {
		return c.fail(err)
	}
	api, err := c.signedClient(keyPath)
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	loan, err := api.Borrow(ctx, bidID, amount)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(loan)
}

func (c *cli) runRepay(args []string) int {
	fs := newFlagSet("repay", c.stderr)
	var loanID, keyPath string
	fs.StringVar(&loanID, "loan", "", "borrow record id")
	fs.StringVar(&keyPath, "key", "", "borrower keystore")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if err := required("loan", loanID); err != nil {
		return c.fail(err)
	}
	api, err := c.signedClient(keyPath)
	if err != nil {
		return c.fail(err)
	}
	ctx, cancel := c.context()
	defer cancel()
	loan, err := api.Repay(ctx, loanID)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(loan)
}

func (c *cli) runLoan(args []string) int {
	fs := newFlagSet("loan", c.stderr)
	var id string
	fs.StringVar(&id, "id", "", "borrow record id")
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
	loan, err := api.BorrowRecord(ctx, id)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(loan)
}
