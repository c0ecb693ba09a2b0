package market

import (
	"context"
	"errors"
	"fmt"

	"openrate/core/types"
	"openrate/native/custody"
)

// PlaceBid escrows amount from the lender into the market vault and records a
// new open bid offering that liquidity at rateBps per period.
func (e *Engine) PlaceBid(ctx context.Context, marketID [32]byte, lender [20]byte, amount uint64, rateBps uint16) (*BidOrder, error) {
	if amount == 0 || amount > MaxAmount {
		return nil, ErrInvalidAmount
	}
	if rateBps > e.params.MaxRateBps {
		return nil, ErrInvalidRate
	}
	var placed *BidOrder
	err := e.execute(ctx, execOptions{operation: "place_bid", market: marketID, reconcile: true}, func(tx Tx, emit func(*types.Event)) error {
		m, v, err := loadMarketVault(tx, marketID)
		if err != nil {
			return err
		}
		principal, ok := addAmounts(v.Principal, amount)
		if !ok {
			return ErrAmountOverflow
		}
		if err := custody.Deposit(tx, custodyVault(v), lender, amount); err != nil {
			if errors.Is(err, custody.ErrInsufficientBalance) {
				return ErrInsufficientLenderFunds
			}
			return err
		}
		id := BidOrderID(lender, marketID, m.BidCount)
		if _, exists, err := tx.BidGet(id); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: bid identifier collision", ErrInternal)
		}
		placed = &BidOrder{
			ID:        id,
			Lender:    lender,
			Market:    marketID,
			Original:  amount,
			Remaining: amount,
			RateBps:   rateBps,
			Status:    BidOpen,
			CreatedAt: e.now(),
		}
		m.BidCount++
		v.Principal = principal
		if err := tx.BidCreate(placed.Clone()); err != nil {
			return err
		}
		if err := tx.VaultUpdate(v); err != nil {
			return err
		}
		if err := tx.MarketUpdate(m); err != nil {
			return err
		}
		emit(NewBidPlacedEvent(placed))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.AddVolume("place_bid", amount)
	return placed.Clone(), nil
}

// CancelBid closes a live bid and returns its unfilled liquidity to the lender.
// Outstanding loans drawn from the bid are unaffected.
func (e *Engine) CancelBid(ctx context.Context, bidID [32]byte, lender [20]byte) (*BidOrder, uint64, error) {
	marketID, err := e.bidMarket(ctx, bidID)
	if err != nil {
		return nil, 0, err
	}
	var (
		cancelled *BidOrder
		refunded  uint64
	)
	err = e.execute(ctx, execOptions{operation: "cancel_bid", market: marketID, reconcile: true}, func(tx Tx, emit func(*types.Event)) error {
		_, v, err := loadMarketVault(tx, marketID)
		if err != nil {
			return err
		}
		bid, err := loadBid(tx, bidID)
		if err != nil {
			return err
		}
		if bid.Lender != lender {
			return ErrNotLender
		}
		if !bid.Status.Live() {
			return ErrBidAlreadyClosed
		}
		refunded = bid.Remaining
		if refunded > 0 {
			if v.Principal, err = subtractBacked(v.Principal, refunded, "vault principal"); err != nil {
				return err
			}
			if err := withdrawFromVault(tx, v, lender, refunded); err != nil {
				return err
			}
		}
		bid.Remaining = 0
		bid.Status = deriveBidStatus(0, bid.Original, true)
		if err := tx.BidUpdate(bid); err != nil {
			return err
		}
		if err := tx.VaultUpdate(v); err != nil {
			return err
		}
		cancelled = bid.Clone()
		emit(NewBidCancelledEvent(cancelled, refunded))
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	e.metrics.AddVolume("cancel_bid", refunded)
	return cancelled, refunded, nil
}

// ClaimProceeds pays the lender every repayment (principal plus interest)
// accumulated on the bid since the last claim. Claims are allowed in any bid
// status.
func (e *Engine) ClaimProceeds(ctx context.Context, bidID [32]byte, lender [20]byte) (*BidOrder, uint64, error) {
	marketID, err := e.bidMarket(ctx, bidID)
	if err != nil {
		return nil, 0, err
	}
	var (
		claimedBid *BidOrder
		amount     uint64
	)
	err = e.execute(ctx, execOptions{operation: "claim_proceeds", market: marketID, reconcile: true}, func(tx Tx, emit func(*types.Event)) error {
		_, v, err := loadMarketVault(tx, marketID)
		if err != nil {
			return err
		}
		bid, err := loadBid(tx, bidID)
		if err != nil {
			return err
		}
		if bid.Lender != lender {
			return ErrNotLender
		}
		if bid.Proceeds == 0 {
			return ErrNothingToClaim
		}
		amount = bid.Proceeds
		claimed, ok := addAmounts(bid.Claimed, amount)
		if !ok {
			return ErrAmountOverflow
		}
		if v.Proceeds, err = subtractBacked(v.Proceeds, amount, "vault proceeds"); err != nil {
			return err
		}
		if err := withdrawFromVault(tx, v, lender, amount); err != nil {
			return err
		}
		bid.Proceeds = 0
		bid.Claimed = claimed
		if err := tx.BidUpdate(bid); err != nil {
			return err
		}
		if err := tx.VaultUpdate(v); err != nil {
			return err
		}
		claimedBid = bid.Clone()
		emit(NewProceedsClaimedEvent(claimedBid, amount))
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	e.metrics.AddVolume("claim_proceeds", amount)
	return claimedBid, amount, nil
}

// loadMarketVault locks the market and its vault. Every mutation locks the
// market row first, so writers on one market queue on it even across processes.
func loadMarketVault(tx Tx, marketID [32]byte) (*Market, *Vault, error) {
	m, err := loadMarket(tx, marketID)
	if err != nil {
		return nil, nil, err
	}
	v, err := loadVault(tx, m)
	if err != nil {
		return nil, nil, err
	}
	return m, v, nil
}

// bidMarket resolves the market a bid belongs to so the caller can acquire the
// market's sequencer before locking rows.
func (e *Engine) bidMarket(ctx context.Context, bidID [32]byte) ([32]byte, error) {
	if e == nil || e.store == nil {
		return [32]byte{}, errNilStore
	}
	var marketID [32]byte
	err := e.store.View(ctx, func(tx Tx) error {
		bid, err := loadBid(tx, bidID)
		if err != nil {
			return err
		}
		marketID = bid.Market
		return nil
	})
	return marketID, err
}

func loadBid(tx Tx, id [32]byte) (*BidOrder, error) {
	bid, ok, err := tx.BidGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBidNotFound
	}
	return bid, nil
}
