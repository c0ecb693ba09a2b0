package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"openrate/native/custody"
	"openrate/native/market"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := Open(DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func TestTransferMovesBalancesAtomically(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	mint := addr(0x10)
	alice, bob := addr(0x01), addr(0x02)

	require.NoError(t, store.Update(ctx, func(tx market.Tx) error {
		return tx.Credit(alice, mint, 100)
	}))
	require.NoError(t, store.Update(ctx, func(tx market.Tx) error {
		return tx.Transfer(alice, bob, mint, 40)
	}))

	err := store.Update(ctx, func(tx market.Tx) error {
		if err := tx.Transfer(bob, alice, mint, 10); err != nil {
			return err
		}
		return tx.Transfer(bob, alice, mint, 100)
	})
	require.ErrorIs(t, err, custody.ErrInsufficientBalance)

	require.NoError(t, store.View(ctx, func(tx market.Tx) error {
		a, err := tx.Balance(alice, mint)
		require.NoError(t, err)
		b, err := tx.Balance(bob, mint)
		require.NoError(t, err)
		require.Equal(t, uint64(60), a)
		require.Equal(t, uint64(40), b, "rolled back transaction must not apply the first transfer")
		return nil
	}))
}

func TestCreditOverflow(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	mint, owner := addr(0x10), addr(0x01)
	require.NoError(t, store.Update(ctx, func(tx market.Tx) error {
		return tx.Credit(owner, mint, market.MaxAmount)
	}))
	err := store.Update(ctx, func(tx market.Tx) error {
		return tx.Credit(owner, mint, 1)
	})
	require.ErrorIs(t, err, custody.ErrBalanceOverflow)
}

func TestRecordsRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	mintID := addr(0x10)
	marketID := market.MarketID(mintID)
	bid := &market.BidOrder{
		ID:        market.BidOrderID(addr(0x01), marketID, 0),
		Lender:    addr(0x01),
		Market:    marketID,
		Original:  500,
		Remaining: 200,
		RateBps:   250,
		Status:    market.BidPartiallyFilled,
		Proceeds:  7,
		CreatedAt: now,
	}
	record := &market.BorrowRecord{
		ID:        market.BorrowRecordID(addr(0x02), bid.ID, 0),
		Borrower:  addr(0x02),
		Bid:       bid.ID,
		Market:    marketID,
		Principal: 300,
		RateBps:   250,
		Status:    market.BorrowActive,
		StartedAt: now,
	}

	require.NoError(t, store.Update(ctx, func(tx market.Tx) error {
		if err := tx.MintCreate(&market.Mint{ID: mintID, Symbol: "USDC", Decimals: 6, CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.BidCreate(bid); err != nil {
			return err
		}
		return tx.BorrowCreate(record)
	}))

	require.NoError(t, store.View(ctx, func(tx market.Tx) error {
		mint, ok, err := tx.MintGet(mintID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "USDC", mint.Symbol)

		gotBid, ok, err := tx.BidGet(bid.ID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, bid.Remaining, gotBid.Remaining)
		require.Equal(t, market.BidPartiallyFilled, gotBid.Status)
		require.True(t, gotBid.CreatedAt.Equal(now))

		active, ok, err := tx.ActiveBorrow(record.Borrower, bid.ID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, record.ID, active.ID)
		require.True(t, active.RepaidAt.IsZero())

		totals, err := tx.MarketTotals(marketID)
		require.NoError(t, err)
		require.Equal(t, market.Totals{Remaining: 200, Proceeds: 7}, totals)

		_, ok, err = tx.MarketGet(marketID)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))

	record.Status = market.BorrowRepaid
	record.RepaidAt = now.Add(time.Hour)
	require.NoError(t, store.Update(ctx, func(tx market.Tx) error {
		return tx.BorrowUpdate(record)
	}))
	require.NoError(t, store.View(ctx, func(tx market.Tx) error {
		_, ok, err := tx.ActiveBorrow(record.Borrower, bid.ID)
		require.NoError(t, err)
		require.False(t, ok)
		got, _, err := tx.BorrowGet(record.ID)
		require.NoError(t, err)
		require.True(t, got.RepaidAt.Equal(now.Add(time.Hour)))
		return nil
	}))
}

func newEngine(t *testing.T) (*market.Engine, [20]byte, [32]byte) {
	t.Helper()
	store := setupTestStore(t)
	engine := market.NewEngine(store, market.DefaultParams())
	ctx := context.Background()
	mint, err := engine.RegisterMint(ctx, "USDC", 6)
	require.NoError(t, err)
	m, _, err := engine.InitializeMarket(ctx, mint.ID, addr(0xAA))
	require.NoError(t, err)
	return engine, mint.ID, m.ID
}

func TestEngineOverSQLite(t *testing.T) {
	engine, mint, marketID := newEngine(t)
	ctx := context.Background()
	lender, borrower := addr(0x01), addr(0x02)
	require.NoError(t, engine.Credit(ctx, mint, lender, 1_000_000))

	bid, err := engine.PlaceBid(ctx, marketID, lender, 1_000_000, 500)
	require.NoError(t, err)
	rec, err := engine.Borrow(ctx, bid.ID, borrower, 250_000)
	require.NoError(t, err)

	_, err = engine.Borrow(ctx, bid.ID, borrower, 1)
	require.ErrorIs(t, err, market.ErrDuplicateActiveBorrow)

	vault, err := engine.GetVault(ctx, marketID)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), vault.Principal)

	report, err := engine.CheckInvariants(ctx, marketID)
	require.NoError(t, err)
	require.True(t, report.OK(), "%+v", report)
	require.Equal(t, uint64(750_000), report.Holdings)

	repaid, err := engine.Repay(ctx, rec.ID, borrower)
	require.NoError(t, err)
	require.Equal(t, market.BorrowRepaid, repaid.Status)

	_, refunded, err := engine.CancelBid(ctx, bid.ID, lender)
	require.NoError(t, err)
	require.Equal(t, uint64(750_000), refunded)
	_, claimed, err := engine.ClaimProceeds(ctx, bid.ID, lender)
	require.NoError(t, err)
	require.Equal(t, uint64(250_000), claimed)

	bal, err := engine.Balance(ctx, lender, mint)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), bal)

	report, err = engine.CheckInvariants(ctx, marketID)
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Zero(t, report.Holdings)
}

func TestConcurrentBorrowsOverSQLite(t *testing.T) {
	engine, mint, marketID := newEngine(t)
	ctx := context.Background()
	lender := addr(0x01)
	require.NoError(t, engine.Credit(ctx, mint, lender, 1_000))
	bid, err := engine.PlaceBid(ctx, marketID, lender, 1_000, 100)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		failures []error
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(fill byte) {
			defer wg.Done()
			_, err := engine.Borrow(ctx, bid.ID, addr(fill), 700)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				return
			}
			failures = append(failures, err)
		}(byte(0x20 + i))
	}
	wg.Wait()
	require.Equal(t, 1, winners)
	for _, err := range failures {
		require.True(t, errors.Is(err, market.ErrInsufficientBidLiquidity), "unexpected error %v", err)
	}
	report, err := engine.CheckInvariants(ctx, marketID)
	require.NoError(t, err)
	require.True(t, report.OK())
}

func TestExportWritesParquetFiles(t *testing.T) {
	store := setupTestStore(t)
	engine := market.NewEngine(store, market.DefaultParams())
	ctx := context.Background()
	mint, err := engine.RegisterMint(ctx, "USDC", 6)
	require.NoError(t, err)
	m, _, err := engine.InitializeMarket(ctx, mint.ID, addr(0xAA))
	require.NoError(t, err)
	require.NoError(t, engine.Credit(ctx, mint.ID, addr(0x01), 100))
	bid, err := engine.PlaceBid(ctx, m.ID, addr(0x01), 100, 10)
	require.NoError(t, err)
	_, err = engine.Borrow(ctx, bid.ID, addr(0x02), 40)
	require.NoError(t, err)

	result, err := store.Export(ctx, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 1, result.Vaults)
	require.Equal(t, 1, result.Bids)
	require.Equal(t, 1, result.Borrows)
	for _, path := range []string{result.VaultsPath, result.BidsPath, result.BorrowsPath} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Greater(t, info.Size(), int64(0))
		require.Equal(t, result.Directory, filepath.Dir(path))
	}

	file, err := local.NewLocalFileReader(result.BidsPath)
	require.NoError(t, err)
	defer file.Close()
	pr, err := reader.NewParquetReader(file, new(bidParquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	rows := make([]bidParquetRow, pr.GetNumRows())
	require.NoError(t, pr.Read(&rows))
	require.Len(t, rows, 1)
	require.Equal(t, market.FormatID(bid.ID), rows[0].BidID)
	require.Equal(t, "partially_filled", rows[0].Status)
	require.Equal(t, int64(60), rows[0].Remaining)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	require.ErrorIs(t, err, errUnknownDriver)
}
