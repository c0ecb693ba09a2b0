package ledger

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"openrate/native/custody"
	"openrate/native/market"
)

// Tx is the transaction-bound ledger handed to the market engine.
type Tx struct {
	db   *gorm.DB
	lock bool
}

func (t *Tx) read() *gorm.DB {
	if t.lock {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

// take loads one row by primary key. A missing row reports ok=false.
func (t *Tx) take(dest interface{}, query string, args ...interface{}) (bool, error) {
	err := t.read().Where(query, args...).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tx) Balance(owner, mint [20]byte) (uint64, error) {
	row, _, err := t.balanceRow(hex20(owner), hex20(mint))
	if err != nil {
		return 0, err
	}
	return row.Amount, nil
}

func (t *Tx) balanceRow(owner, mint string) (*Balance, bool, error) {
	row := &Balance{Owner: owner, Mint: mint}
	ok, err := t.take(row, "owner = ? AND mint = ?", owner, mint)
	if err != nil {
		return nil, false, fmt.Errorf("ledger: load balance: %w", err)
	}
	if !ok {
		row = &Balance{Owner: owner, Mint: mint}
	}
	return row, ok, nil
}

func (t *Tx) saveBalance(row *Balance) error {
	row.UpdatedAt = time.Now().UTC()
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}, {Name: "mint"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(row).Error
}

// Transfer moves amount between two accounts of the same mint. Rows are locked
// in key order so concurrent transfers between the same pair cannot deadlock.
func (t *Tx) Transfer(from, to, mint [20]byte, amount uint64) error {
	if from == to {
		return fmt.Errorf("ledger: transfer to self")
	}
	mintKey := hex20(mint)
	fromKey, toKey := hex20(from), hex20(to)
	first, second := fromKey, toKey
	if second < first {
		first, second = second, first
	}
	rows := make(map[string]*Balance, 2)
	for _, key := range []string{first, second} {
		row, _, err := t.balanceRow(key, mintKey)
		if err != nil {
			return err
		}
		rows[key] = row
	}
	src, dst := rows[fromKey], rows[toKey]
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", custody.ErrInsufficientBalance, src.Amount, amount)
	}
	if dst.Amount > market.MaxAmount-amount {
		return custody.ErrBalanceOverflow
	}
	src.Amount -= amount
	dst.Amount += amount
	if err := t.saveBalance(src); err != nil {
		return fmt.Errorf("ledger: debit: %w", err)
	}
	if err := t.saveBalance(dst); err != nil {
		return fmt.Errorf("ledger: credit: %w", err)
	}
	return nil
}

func (t *Tx) Credit(owner, mint [20]byte, amount uint64) error {
	row, _, err := t.balanceRow(hex20(owner), hex20(mint))
	if err != nil {
		return err
	}
	if amount > market.MaxAmount || row.Amount > market.MaxAmount-amount {
		return custody.ErrBalanceOverflow
	}
	row.Amount += amount
	return t.saveBalance(row)
}

func (t *Tx) MintGet(id [20]byte) (*market.Mint, bool, error) {
	var row Mint
	ok, err := t.take(&row, "id = ?", hex20(id))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := row.record()
	return rec, err == nil, err
}

func (t *Tx) MintCreate(m *market.Mint) error {
	return t.db.Create(mintRow(m)).Error
}

func (t *Tx) MarketGet(id [32]byte) (*market.Market, bool, error) {
	var row Market
	ok, err := t.take(&row, "id = ?", hex32(id))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := row.record()
	return rec, err == nil, err
}

func (t *Tx) MarketCreate(m *market.Market) error {
	return t.db.Create(marketRow(m)).Error
}

func (t *Tx) MarketUpdate(m *market.Market) error {
	return t.db.Save(marketRow(m)).Error
}

func (t *Tx) VaultGet(id [32]byte) (*market.Vault, bool, error) {
	var row Vault
	ok, err := t.take(&row, "id = ?", hex32(id))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := row.record()
	return rec, err == nil, err
}

func (t *Tx) VaultCreate(v *market.Vault) error {
	return t.db.Create(vaultRow(v)).Error
}

func (t *Tx) VaultUpdate(v *market.Vault) error {
	return t.db.Save(vaultRow(v)).Error
}

func (t *Tx) BidGet(id [32]byte) (*market.BidOrder, bool, error) {
	var row BidOrder
	ok, err := t.take(&row, "id = ?", hex32(id))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := row.record()
	return rec, err == nil, err
}

func (t *Tx) BidCreate(b *market.BidOrder) error {
	return t.db.Create(bidRow(b)).Error
}

func (t *Tx) BidUpdate(b *market.BidOrder) error {
	return t.db.Save(bidRow(b)).Error
}

func (t *Tx) BidsByMarket(marketID [32]byte) ([]*market.BidOrder, error) {
	var rows []BidOrder
	if err := t.db.Where("market = ?", hex32(marketID)).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*market.BidOrder, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *Tx) BorrowGet(id [32]byte) (*market.BorrowRecord, bool, error) {
	var row BorrowRecord
	ok, err := t.take(&row, "id = ?", hex32(id))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := row.record()
	return rec, err == nil, err
}

func (t *Tx) BorrowCreate(r *market.BorrowRecord) error {
	return t.db.Create(borrowRow(r)).Error
}

func (t *Tx) BorrowUpdate(r *market.BorrowRecord) error {
	return t.db.Save(borrowRow(r)).Error
}

func (t *Tx) ActiveBorrow(borrower [20]byte, bid [32]byte) (*market.BorrowRecord, bool, error) {
	var row BorrowRecord
	ok, err := t.take(&row, "borrower = ? AND bid = ? AND status = ?",
		hex20(borrower), hex32(bid), market.BorrowActive.String())
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := row.record()
	return rec, err == nil, err
}

// MarketTotals sums the bid figures the vault reconciles against.
func (t *Tx) MarketTotals(marketID [32]byte) (market.Totals, error) {
	var totals struct {
		Remaining uint64
		Proceeds  uint64
	}
	err := t.db.Model(&BidOrder{}).
		Select("CAST(COALESCE(SUM(CASE WHEN status IN (?, ?) THEN remaining ELSE 0 END), 0) AS BIGINT) AS remaining, "+
			"CAST(COALESCE(SUM(proceeds), 0) AS BIGINT) AS proceeds",
			market.BidOpen.String(), market.BidPartiallyFilled.String()).
		Where("market = ?", hex32(marketID)).
		Scan(&totals).Error
	if err != nil {
		return market.Totals{}, fmt.Errorf("ledger: market totals: %w", err)
	}
	return market.Totals{Remaining: totals.Remaining, Proceeds: totals.Proceeds}, nil
}

var _ market.Tx = (*Tx)(nil)
