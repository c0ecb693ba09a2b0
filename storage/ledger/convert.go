package ledger

import (
	"encoding/hex"
	"fmt"
	"time"

	"openrate/native/market"
)

func hex20(v [20]byte) string { return hex.EncodeToString(v[:]) }

func hex32(v [32]byte) string { return hex.EncodeToString(v[:]) }

func parse20(value string) ([20]byte, error) {
	var out [20]byte
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("ledger: malformed 20-byte column %q", value)
	}
	copy(out[:], raw)
	return out, nil
}

func parse32(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("ledger: malformed 32-byte column %q", value)
	}
	copy(out[:], raw)
	return out, nil
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}

// decoder accumulates the first parse failure so row conversions stay linear.
type decoder struct{ err error }

func (d *decoder) id20(value string) [20]byte {
	out, err := parse20(value)
	if err != nil && d.err == nil {
		d.err = err
	}
	return out
}

func (d *decoder) id32(value string) [32]byte {
	out, err := parse32(value)
	if err != nil && d.err == nil {
		d.err = err
	}
	return out
}

func mintRow(m *market.Mint) *Mint {
	return &Mint{ID: hex20(m.ID), Symbol: m.Symbol, Decimals: m.Decimals, CreatedAt: m.CreatedAt}
}

func (r *Mint) record() (*market.Mint, error) {
	var d decoder
	out := &market.Mint{ID: d.id20(r.ID), Symbol: r.Symbol, Decimals: r.Decimals, CreatedAt: utc(r.CreatedAt)}
	return out, d.err
}

func marketRow(m *market.Market) *Market {
	return &Market{
		ID:            hex32(m.ID),
		Mint:          hex20(m.Mint),
		Authority:     hex20(m.Authority),
		Vault:         hex32(m.Vault),
		TotalBorrowed: m.TotalBorrowed,
		BidCount:      m.BidCount,
		CreatedAt:     m.CreatedAt,
	}
}

func (r *Market) record() (*market.Market, error) {
	var d decoder
	out := &market.Market{
		ID:            d.id32(r.ID),
		Mint:          d.id20(r.Mint),
		Authority:     d.id20(r.Authority),
		Vault:         d.id32(r.Vault),
		TotalBorrowed: r.TotalBorrowed,
		BidCount:      r.BidCount,
		CreatedAt:     utc(r.CreatedAt),
	}
	return out, d.err
}

func vaultRow(v *market.Vault) *Vault {
	return &Vault{
		ID:        hex32(v.ID),
		Market:    hex32(v.Market),
		Mint:      hex20(v.Mint),
		Authority: hex20(v.Authority),
		Principal: v.Principal,
		Proceeds:  v.Proceeds,
	}
}

func (r *Vault) record() (*market.Vault, error) {
	var d decoder
	out := &market.Vault{
		ID:        d.id32(r.ID),
		Market:    d.id32(r.Market),
		Mint:      d.id20(r.Mint),
		Authority: d.id20(r.Authority),
		Principal: r.Principal,
		Proceeds:  r.Proceeds,
	}
	return out, d.err
}

func bidRow(b *market.BidOrder) *BidOrder {
	return &BidOrder{
		ID:          hex32(b.ID),
		Lender:      hex20(b.Lender),
		Market:      hex32(b.Market),
		Original:    b.Original,
		Remaining:   b.Remaining,
		RateBps:     b.RateBps,
		Status:      b.Status.String(),
		BorrowCount: b.BorrowCount,
		Proceeds:    b.Proceeds,
		Claimed:     b.Claimed,
		CreatedAt:   b.CreatedAt,
	}
}

func (r *BidOrder) record() (*market.BidOrder, error) {
	status, ok := market.ParseBidStatus(r.Status)
	if !ok {
		return nil, fmt.Errorf("ledger: bid %s has unknown status %q", r.ID, r.Status)
	}
	var d decoder
	out := &market.BidOrder{
		ID:          d.id32(r.ID),
		Lender:      d.id20(r.Lender),
		Market:      d.id32(r.Market),
		Original:    r.Original,
		Remaining:   r.Remaining,
		RateBps:     r.RateBps,
		Status:      status,
		BorrowCount: r.BorrowCount,
		Proceeds:    r.Proceeds,
		Claimed:     r.Claimed,
		CreatedAt:   utc(r.CreatedAt),
	}
	return out, d.err
}

func borrowRow(b *market.BorrowRecord) *BorrowRecord {
	row := &BorrowRecord{
		ID:           hex32(b.ID),
		Borrower:     hex20(b.Borrower),
		Bid:          hex32(b.Bid),
		Market:       hex32(b.Market),
		Principal:    b.Principal,
		RateBps:      b.RateBps,
		Status:       b.Status.String(),
		StartedAt:    b.StartedAt,
		AmountRepaid: b.AmountRepaid,
		Interest:     b.Interest,
	}
	if !b.RepaidAt.IsZero() {
		repaid := b.RepaidAt
		row.RepaidAt = &repaid
	}
	return row
}

func (r *BorrowRecord) record() (*market.BorrowRecord, error) {
	status, ok := market.ParseBorrowStatus(r.Status)
	if !ok {
		return nil, fmt.Errorf("ledger: borrow %s has unknown status %q", r.ID, r.Status)
	}
	var d decoder
	out := &market.BorrowRecord{
		ID:           d.id32(r.ID),
		Borrower:     d.id20(r.Borrower),
		Bid:          d.id32(r.Bid),
		Market:       d.id32(r.Market),
		Principal:    r.Principal,
		RateBps:      r.RateBps,
		Status:       status,
		StartedAt:    utc(r.StartedAt),
		AmountRepaid: r.AmountRepaid,
		Interest:     r.Interest,
	}
	if r.RepaidAt != nil {
		out.RepaidAt = utc(*r.RepaidAt)
	}
	return out, d.err
}
