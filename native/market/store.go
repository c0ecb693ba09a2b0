package market

import (
	"context"

	"openrate/native/custody"
)

// Store opens transactions over the ledger. Update runs fn in a read-write
// transaction that commits only if fn returns nil; View runs fn read-only.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transaction-bound view of the ledger the engine mutates. Reads
// performed inside Update lock the returned rows until commit. Lookups report
// a missing row with ok=false and a nil error.
type Tx interface {
	custody.Ledger

	// Credit mints amount into an account. Only the faucet path uses it.
	Credit(owner, mint [20]byte, amount uint64) error

	MintGet(id [20]byte) (*Mint, bool, error)
	MintCreate(*Mint) error

	MarketGet(id [32]byte) (*Market, bool, error)
	MarketCreate(*Market) error
	MarketUpdate(*Market) error

	VaultGet(id [32]byte) (*Vault, bool, error)
	VaultCreate(*Vault) error
	VaultUpdate(*Vault) error

	BidGet(id [32]byte) (*BidOrder, bool, error)
	BidCreate(*BidOrder) error
	BidUpdate(*BidOrder) error
	BidsByMarket(market [32]byte) ([]*BidOrder, error)

	BorrowGet(id [32]byte) (*BorrowRecord, bool, error)
	BorrowCreate(*BorrowRecord) error
	BorrowUpdate(*BorrowRecord) error
	ActiveBorrow(borrower [20]byte, bid [32]byte) (*BorrowRecord, bool, error)

	// MarketTotals sums live bid liquidity and unclaimed proceeds.
	MarketTotals(market [32]byte) (Totals, error)
}
