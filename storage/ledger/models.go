package ledger

import (
	"time"

	"gorm.io/gorm"
)

// Mint is a registered token type.
type Mint struct {
	ID        string `gorm:"size:40;primaryKey"`
	Symbol    string `gorm:"size:16;uniqueIndex"`
	Decimals  uint8  `gorm:"not null"`
	CreatedAt time.Time
}

// Market is the per-mint lending market row. Every mutation locks it first.
type Market struct {
	ID            string `gorm:"size:64;primaryKey"`
	Mint          string `gorm:"size:40;uniqueIndex"`
	Authority     string `gorm:"size:40;not null"`
	Vault         string `gorm:"size:64;uniqueIndex"`
	TotalBorrowed uint64 `gorm:"not null;default:0"`
	BidCount      uint64 `gorm:"not null;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Vault holds the accounting figures of a market's custody account.
type Vault struct {
	ID        string `gorm:"size:64;primaryKey"`
	Market    string `gorm:"size:64;uniqueIndex"`
	Mint      string `gorm:"size:40;not null"`
	Authority string `gorm:"size:40;not null"`
	Principal uint64 `gorm:"not null;default:0"`
	Proceeds  uint64 `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// BidOrder is a lender's standing offer.
type BidOrder struct {
	ID          string `gorm:"size:64;primaryKey"`
	Lender      string `gorm:"size:40;index"`
	Market      string `gorm:"size:64;index"`
	Original    uint64 `gorm:"not null"`
	Remaining   uint64 `gorm:"not null"`
	RateBps     uint16 `gorm:"not null"`
	Status      string `gorm:"size:24;index"`
	BorrowCount uint64 `gorm:"not null;default:0"`
	Proceeds    uint64 `gorm:"not null;default:0"`
	Claimed     uint64 `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BorrowRecord is a single draw against a bid.
type BorrowRecord struct {
	ID           string `gorm:"size:64;primaryKey"`
	Borrower     string `gorm:"size:40;index:idx_borrow_active,priority:1"`
	Bid          string `gorm:"size:64;index:idx_borrow_active,priority:2"`
	Market       string `gorm:"size:64;index"`
	Principal    uint64 `gorm:"not null"`
	RateBps      uint16 `gorm:"not null"`
	Status       string `gorm:"size:16;index:idx_borrow_active,priority:3"`
	StartedAt    time.Time
	RepaidAt     *time.Time
	AmountRepaid uint64 `gorm:"not null;default:0"`
	Interest     uint64 `gorm:"not null;default:0"`
	UpdatedAt    time.Time
}

// Balance is a participant or vault token account.
type Balance struct {
	Owner     string `gorm:"size:40;primaryKey"`
	Mint      string `gorm:"size:40;primaryKey"`
	Amount    uint64 `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// AutoMigrate runs the schema migrations for the ledger tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Mint{},
		&Market{},
		&Vault{},
		&BidOrder{},
		&BorrowRecord{},
		&Balance{},
	)
}
