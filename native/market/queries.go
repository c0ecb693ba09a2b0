package market

import (
	"context"
	"sort"
)

// GetMint returns a registered mint.
func (e *Engine) GetMint(ctx context.Context, id [20]byte) (*Mint, error) {
	var out *Mint
	err := e.view(ctx, func(tx Tx) error {
		mint, ok, err := tx.MintGet(id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMintNotFound
		}
		out = mint
		return nil
	})
	return out, err
}

// GetMarket returns a market by identifier.
func (e *Engine) GetMarket(ctx context.Context, id [32]byte) (*Market, error) {
	var out *Market
	err := e.view(ctx, func(tx Tx) error {
		m, err := loadMarket(tx, id)
		out = m
		return err
	})
	return out, err
}

// MarketByMint returns the market created for a mint.
func (e *Engine) MarketByMint(ctx context.Context, mint [20]byte) (*Market, error) {
	return e.GetMarket(ctx, MarketID(mint))
}

// GetVault returns the vault of a market.
func (e *Engine) GetVault(ctx context.Context, marketID [32]byte) (*Vault, error) {
	var out *Vault
	err := e.view(ctx, func(tx Tx) error {
		_, v, err := loadMarketVault(tx, marketID)
		out = v
		return err
	})
	return out, err
}

// GetBid returns a bid order by identifier.
func (e *Engine) GetBid(ctx context.Context, id [32]byte) (*BidOrder, error) {
	var out *BidOrder
	err := e.view(ctx, func(tx Tx) error {
		bid, err := loadBid(tx, id)
		out = bid
		return err
	})
	return out, err
}

// BidsByMarket lists every bid of a market, oldest first.
func (e *Engine) BidsByMarket(ctx context.Context, marketID [32]byte) ([]*BidOrder, error) {
	var out []*BidOrder
	err := e.view(ctx, func(tx Tx) error {
		if _, err := loadMarket(tx, marketID); err != nil {
			return err
		}
		bids, err := tx.BidsByMarket(marketID)
		if err != nil {
			return err
		}
		out = bids
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// GetBorrow returns a borrow record by identifier.
func (e *Engine) GetBorrow(ctx context.Context, id [32]byte) (*BorrowRecord, error) {
	var out *BorrowRecord
	err := e.view(ctx, func(tx Tx) error {
		rec, err := loadRecord(tx, id)
		out = rec
		return err
	})
	return out, err
}

// Balance returns an account's balance of a mint.
func (e *Engine) Balance(ctx context.Context, owner, mint [20]byte) (uint64, error) {
	var out uint64
	err := e.view(ctx, func(tx Tx) error {
		bal, err := tx.Balance(owner, mint)
		out = bal
		return err
	})
	return out, err
}

// AmountDueNow quotes what repaying a record would cost at the current time.
func (e *Engine) AmountDueNow(ctx context.Context, recordID [32]byte) (due, interest uint64, err error) {
	rec, err := e.GetBorrow(ctx, recordID)
	if err != nil {
		return 0, 0, err
	}
	if rec.Status != BorrowActive {
		return rec.AmountRepaid, rec.Interest, nil
	}
	due, interest, ok := AmountDue(rec.Principal, rec.RateBps, e.clock.ElapsedPeriods(rec.StartedAt))
	if !ok {
		return 0, 0, ErrAmountOverflow
	}
	return due, interest, nil
}

// CheckInvariants reconciles a market's vault against its bids and loans.
func (e *Engine) CheckInvariants(ctx context.Context, marketID [32]byte) (InvariantReport, error) {
	var report InvariantReport
	err := e.view(ctx, func(tx Tx) error {
		r, err := buildReport(tx, marketID)
		report = r
		return err
	})
	return report, err
}

func (e *Engine) view(ctx context.Context, fn func(Tx) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	return e.store.View(ctx, fn)
}
