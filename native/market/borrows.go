package market

import (
	"context"
	"errors"
	"fmt"

	"openrate/core/types"
	"openrate/native/custody"
)

// Borrow draws amount from a live bid into the borrower's balance and opens a
// borrow record at the bid's rate. A borrower may hold at most one active
// record per bid.
func (e *Engine) Borrow(ctx context.Context, bidID [32]byte, borrower [20]byte, amount uint64) (*BorrowRecord, error) {
	marketID, err := e.bidMarket(ctx, bidID)
	if err != nil {
		return nil, err
	}
	var record *BorrowRecord
	err = e.execute(ctx, execOptions{operation: "borrow", market: marketID, reconcile: true}, func(tx Tx, emit func(*types.Event)) error {
		m, v, err := loadMarketVault(tx, marketID)
		if err != nil {
			return err
		}
		bid, err := loadBid(tx, bidID)
		if err != nil {
			return err
		}
		if !bid.Status.Live() {
			return ErrBidClosed
		}
		if amount == 0 || amount > MaxAmount {
			return ErrInvalidAmount
		}
		if amount > bid.Remaining {
			return ErrInsufficientBidLiquidity
		}
		if _, active, err := tx.ActiveBorrow(borrower, bidID); err != nil {
			return err
		} else if active {
			return ErrDuplicateActiveBorrow
		}
		totalBorrowed, ok := addAmounts(m.TotalBorrowed, amount)
		if !ok {
			return fmt.Errorf("%w: total borrowed overflow", ErrInvariantViolation)
		}
		if err := withdrawFromVault(tx, v, borrower, amount); err != nil {
			return err
		}
		id := BorrowRecordID(borrower, bidID, bid.BorrowCount)
		if _, exists, err := tx.BorrowGet(id); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: borrow identifier collision", ErrInternal)
		}
		record = &BorrowRecord{
			ID:        id,
			Borrower:  borrower,
			Bid:       bidID,
			Market:    marketID,
			Principal: amount,
			RateBps:   bid.RateBps,
			Status:    BorrowActive,
			StartedAt: e.loanStart(),
		}
		bid.Remaining -= amount
		bid.Status = deriveBidStatus(bid.Remaining, bid.Original, false)
		bid.BorrowCount++
		m.TotalBorrowed = totalBorrowed
		if err := tx.BidUpdate(bid); err != nil {
			return err
		}
		if err := tx.MarketUpdate(m); err != nil {
			return err
		}
		if err := tx.BorrowCreate(record.Clone()); err != nil {
			return err
		}
		emit(NewBorrowedEvent(record))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.AddVolume("borrow", amount)
	return record.Clone(), nil
}

// Repay settles an active borrow record. The borrower pays principal plus
// simple interest for every whole period elapsed since the draw; the payment
// accrues to the funding bid's proceeds and the record becomes Repaid. The
// funding bid's remaining liquidity is not restored.
func (e *Engine) Repay(ctx context.Context, recordID [32]byte, borrower [20]byte) (*BorrowRecord, error) {
	marketID, err := e.recordMarket(ctx, recordID)
	if err != nil {
		return nil, err
	}
	var repaid *BorrowRecord
	err = e.execute(ctx, execOptions{operation: "repay", market: marketID, reconcile: true}, func(tx Tx, emit func(*types.Event)) error {
		m, v, err := loadMarketVault(tx, marketID)
		if err != nil {
			return err
		}
		rec, err := loadRecord(tx, recordID)
		if err != nil {
			return err
		}
		if rec.Borrower != borrower {
			return ErrNotBorrower
		}
		if rec.Status != BorrowActive {
			return ErrAlreadyRepaid
		}
		bid, err := loadBid(tx, rec.Bid)
		if err != nil {
			return fmt.Errorf("%w: funding bid missing: %v", ErrInvariantViolation, err)
		}

		due, interest, ok := AmountDue(rec.Principal, rec.RateBps, e.clock.ElapsedPeriods(rec.StartedAt))
		if !ok {
			return ErrAmountOverflow
		}
		vaultProceeds, ok := addAmounts(v.Proceeds, due)
		if !ok {
			return ErrAmountOverflow
		}
		bidProceeds, ok := addAmounts(bid.Proceeds, due)
		if !ok {
			return ErrAmountOverflow
		}
		if m.TotalBorrowed, err = subtractBacked(m.TotalBorrowed, rec.Principal, "total borrowed"); err != nil {
			return err
		}
		if v.Principal, err = subtractBacked(v.Principal, rec.Principal, "vault principal"); err != nil {
			return err
		}
		if err := custody.Deposit(tx, custodyVault(v), borrower, due); err != nil {
			if errors.Is(err, custody.ErrInsufficientBalance) {
				return ErrInsufficientBorrowerFunds
			}
			return err
		}
		v.Proceeds = vaultProceeds
		bid.Proceeds = bidProceeds
		rec.Status = BorrowRepaid
		rec.RepaidAt = e.now()
		if rec.RepaidAt.Before(rec.StartedAt) {
			rec.RepaidAt = rec.StartedAt
		}
		rec.AmountRepaid = due
		rec.Interest = interest
		if err := tx.MarketUpdate(m); err != nil {
			return err
		}
		if err := tx.VaultUpdate(v); err != nil {
			return err
		}
		if err := tx.BidUpdate(bid); err != nil {
			return err
		}
		if err := tx.BorrowUpdate(rec); err != nil {
			return err
		}
		repaid = rec.Clone()
		emit(NewRepaidEvent(repaid))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.AddVolume("repay", repaid.AmountRepaid)
	return repaid, nil
}

func (e *Engine) recordMarket(ctx context.Context, recordID [32]byte) ([32]byte, error) {
	if e == nil || e.store == nil {
		return [32]byte{}, errNilStore
	}
	var marketID [32]byte
	err := e.store.View(ctx, func(tx Tx) error {
		rec, err := loadRecord(tx, recordID)
		if err != nil {
			return err
		}
		marketID = rec.Market
		return nil
	})
	return marketID, err
}

func loadRecord(tx Tx, id [32]byte) (*BorrowRecord, error) {
	rec, ok, err := tx.BorrowGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}
