package market

import (
	"math"
	"time"
)

// MaxAmount bounds every token amount so balances fit signed 64-bit storage.
const MaxAmount uint64 = math.MaxInt64

// BidStatus enumerates the lifecycle of a lender's bid order.
type BidStatus uint8

const (
	BidOpen BidStatus = iota
	BidPartiallyFilled
	BidFilled
	BidCancelled
)

// String returns the canonical lowercase name of the status.
func (s BidStatus) String() string {
	switch s {
	case BidOpen:
		return "open"
	case BidPartiallyFilled:
		return "partially_filled"
	case BidFilled:
		return "filled"
	case BidCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Valid reports whether the status value is within the supported range.
func (s BidStatus) Valid() bool { return s <= BidCancelled }

// ParseBidStatus resolves a status name produced by String.
func ParseBidStatus(name string) (BidStatus, bool) {
	for s := BidOpen; s <= BidCancelled; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// Live reports whether the bid still offers liquidity.
func (s BidStatus) Live() bool { return s == BidOpen || s == BidPartiallyFilled }

// BorrowStatus enumerates the lifecycle of a borrow record.
type BorrowStatus uint8

const (
	BorrowActive BorrowStatus = iota
	BorrowRepaid
)

func (s BorrowStatus) String() string {
	switch s {
	case BorrowActive:
		return "active"
	case BorrowRepaid:
		return "repaid"
	default:
		return "unknown"
	}
}

// Valid reports whether the status value is within the supported range.
func (s BorrowStatus) Valid() bool { return s <= BorrowRepaid }

// ParseBorrowStatus resolves a status name produced by String.
func ParseBorrowStatus(name string) (BorrowStatus, bool) {
	switch name {
	case "active":
		return BorrowActive, true
	case "repaid":
		return BorrowRepaid, true
	default:
		return 0, false
	}
}

// Mint is a registered token type. Markets may only be created for registered
// mints.
type Mint struct {
	ID        [20]byte
	Symbol    string
	Decimals  uint8
	CreatedAt time.Time
}

// Market is the per-mint lending market. TotalBorrowed is the outstanding
// principal drawn from its vault.
type Market struct {
	ID            [32]byte
	Mint          [20]byte
	Authority     [20]byte
	Vault         [32]byte
	TotalBorrowed uint64
	BidCount      uint64
	CreatedAt     time.Time
}

// Vault tracks the principal a market is accountable for. Principal counts
// both unfilled bid liquidity and lent-out principal; Proceeds holds repaid
// principal and interest awaiting lender claims.
type Vault struct {
	ID        [32]byte
	Market    [32]byte
	Mint      [20]byte
	Authority [20]byte
	Principal uint64
	Proceeds  uint64
}

// BidOrder is a lender's standing offer of liquidity at a fixed rate.
type BidOrder struct {
	ID          [32]byte
	Lender      [20]byte
	Market      [32]byte
	Original    uint64
	Remaining   uint64
	RateBps     uint16
	Status      BidStatus
	BorrowCount uint64
	Proceeds    uint64
	Claimed     uint64
	CreatedAt   time.Time
}

// BorrowRecord is a single draw against a bid order.
type BorrowRecord struct {
	ID           [32]byte
	Borrower     [20]byte
	Bid          [32]byte
	Market       [32]byte
	Principal    uint64
	RateBps      uint16
	Status       BorrowStatus
	StartedAt    time.Time
	RepaidAt     time.Time
	AmountRepaid uint64
	Interest     uint64
}

// Clone returns a copy of the mint.
func (m *Mint) Clone() *Mint {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Clone returns a copy of the market so callers can safely mutate it.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Clone returns a copy of the vault.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// Clone returns a copy of the bid order.
func (b *BidOrder) Clone() *BidOrder {
	if b == nil {
		return nil
	}
	clone := *b
	return &clone
}

// Clone returns a copy of the borrow record.
func (r *BorrowRecord) Clone() *BorrowRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// deriveBidStatus computes the status implied by the remaining liquidity. A
// cancelled bid stays cancelled regardless of its amounts.
func deriveBidStatus(remaining, original uint64, cancelled bool) BidStatus {
	switch {
	case cancelled:
		return BidCancelled
	case remaining == 0:
		return BidFilled
	case remaining < original:
		return BidPartiallyFilled
	default:
		return BidOpen
	}
}

// Totals aggregates the bid-level figures a vault must reconcile against.
type Totals struct {
	// Remaining is the unfilled liquidity of open and partially filled bids.
	Remaining uint64
	// Proceeds is the sum of unclaimed repayments across all bids.
	Proceeds uint64
}

// InvariantReport is a point-in-time reconciliation of one market.
type InvariantReport struct {
	Market        [32]byte
	Principal     uint64
	Proceeds      uint64
	TotalBorrowed uint64
	BidRemaining  uint64
	BidProceeds   uint64
	Holdings      uint64
}

// Conserved reports whether vault principal equals open liquidity plus
// outstanding loans.
func (r InvariantReport) Conserved() bool {
	sum := r.BidRemaining + r.TotalBorrowed
	return sum >= r.BidRemaining && r.Principal == sum
}

// Backed reports whether physical vault holdings match open liquidity plus
// unclaimed proceeds, and whether the vault's proceeds match the bids'.
func (r InvariantReport) Backed() bool {
	sum := r.BidRemaining + r.Proceeds
	return sum >= r.BidRemaining && r.Holdings == sum && r.Proceeds == r.BidProceeds
}

// OK reports whether every reconciliation holds.
func (r InvariantReport) OK() bool { return r.Conserved() && r.Backed() }
