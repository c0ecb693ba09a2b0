package ledger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"
)

// ExportResult describes one audit export run.
type ExportResult struct {
	RunID       string    `json:"runId"`
	Directory   string    `json:"directory"`
	VaultsPath  string    `json:"vaultsPath"`
	BidsPath    string    `json:"bidsPath"`
	BorrowsPath string    `json:"borrowsPath"`
	Vaults      int       `json:"vaults"`
	Bids        int       `json:"bids"`
	Borrows     int       `json:"borrows"`
	CreatedAt   time.Time `json:"createdAt"`
}

type vaultParquetRow struct {
	VaultID   string `parquet:"name=vault_id, type=UTF8"`
	MarketID  string `parquet:"name=market_id, type=UTF8"`
	Mint      string `parquet:"name=mint, type=UTF8"`
	Authority string `parquet:"name=authority, type=UTF8"`
	Principal int64  `parquet:"name=principal, type=INT64"`
	Proceeds  int64  `parquet:"name=proceeds, type=INT64"`
	UpdatedAt string `parquet:"name=updated_at, type=UTF8"`
}

type bidParquetRow struct {
	BidID       string `parquet:"name=bid_id, type=UTF8"`
	MarketID    string `parquet:"name=market_id, type=UTF8"`
	Lender      string `parquet:"name=lender, type=UTF8"`
	Original    int64  `parquet:"name=original, type=INT64"`
	Remaining   int64  `parquet:"name=remaining, type=INT64"`
	RateBps     int32  `parquet:"name=rate_bps, type=INT32"`
	Status      string `parquet:"name=status, type=UTF8"`
	BorrowCount int64  `parquet:"name=borrow_count, type=INT64"`
	Proceeds    int64  `parquet:"name=proceeds, type=INT64"`
	Claimed     int64  `parquet:"name=claimed, type=INT64"`
	CreatedAt   string `parquet:"name=created_at, type=UTF8"`
}

type borrowParquetRow struct {
	RecordID     string `parquet:"name=record_id, type=UTF8"`
	BidID        string `parquet:"name=bid_id, type=UTF8"`
	MarketID     string `parquet:"name=market_id, type=UTF8"`
	Borrower     string `parquet:"name=borrower, type=UTF8"`
	Principal    int64  `parquet:"name=principal, type=INT64"`
	RateBps      int32  `parquet:"name=rate_bps, type=INT32"`
	Status       string `parquet:"name=status, type=UTF8"`
	StartedAt    string `parquet:"name=started_at, type=UTF8"`
	RepaidAt     string `parquet:"name=repaid_at, type=UTF8"`
	AmountRepaid int64  `parquet:"name=amount_repaid, type=INT64"`
	Interest     int64  `parquet:"name=interest, type=INT64"`
}

// Export writes a snapshot of vaults, bids and borrow records as parquet files
// under a fresh run directory inside baseDir.
func (s *Store) Export(ctx context.Context, baseDir string) (*ExportResult, error) {
	runID := uuid.NewString()
	now := time.Now().UTC()
	dir := filepath.Join(baseDir, now.Format("20060102T150405Z")+"-"+runID[:8])
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("ledger: create export dir: %w", err)
	}
	result := &ExportResult{RunID: runID, Directory: dir, CreatedAt: now}

	var (
		vaults  []Vault
		bids    []BidOrder
		borrows []BorrowRecord
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Order("id").Find(&vaults).Error; err != nil {
			return err
		}
		if err := tx.Order("market, created_at, id").Find(&bids).Error; err != nil {
			return err
		}
		return tx.Order("market, started_at, id").Find(&borrows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: snapshot: %w", err)
	}

	result.VaultsPath = filepath.Join(dir, "vaults.parquet")
	if err := writeParquetFile(result.VaultsPath, new(vaultParquetRow), vaultRows(vaults)); err != nil {
		return nil, err
	}
	result.BidsPath = filepath.Join(dir, "bids.parquet")
	if err := writeParquetFile(result.BidsPath, new(bidParquetRow), bidRows(bids)); err != nil {
		return nil, err
	}
	result.BorrowsPath = filepath.Join(dir, "borrows.parquet")
	if err := writeParquetFile(result.BorrowsPath, new(borrowParquetRow), borrowRows(borrows)); err != nil {
		return nil, err
	}
	result.Vaults, result.Bids, result.Borrows = len(vaults), len(bids), len(borrows)
	s.logger.Info("audit export written",
		"run", runID, "dir", dir, "vaults", result.Vaults, "bids", result.Bids, "borrows", result.Borrows)
	return result, nil
}

func vaultRows(in []Vault) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, v := range in {
		out = append(out, &vaultParquetRow{
			VaultID:   "0x" + v.ID,
			MarketID:  "0x" + v.Market,
			Mint:      v.Mint,
			Authority: v.Authority,
			Principal: int64(v.Principal),
			Proceeds:  int64(v.Proceeds),
			UpdatedAt: formatTime(v.UpdatedAt),
		})
	}
	return out
}

func bidRows(in []BidOrder) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, b := range in {
		out = append(out, &bidParquetRow{
			BidID:       "0x" + b.ID,
			MarketID:    "0x" + b.Market,
			Lender:      b.Lender,
			Original:    int64(b.Original),
			Remaining:   int64(b.Remaining),
			RateBps:     int32(b.RateBps),
			Status:      b.Status,
			BorrowCount: int64(b.BorrowCount),
			Proceeds:    int64(b.Proceeds),
			Claimed:     int64(b.Claimed),
			CreatedAt:   formatTime(b.CreatedAt),
		})
	}
	return out
}

func borrowRows(in []BorrowRecord) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, r := range in {
		row := &borrowParquetRow{
			RecordID:     "0x" + r.ID,
			BidID:        "0x" + r.Bid,
			MarketID:     "0x" + r.Market,
			Borrower:     r.Borrower,
			Principal:    int64(r.Principal),
			RateBps:      int32(r.RateBps),
			Status:       r.Status,
			StartedAt:    formatTime(r.StartedAt),
			AmountRepaid: int64(r.AmountRepaid),
			Interest:     int64(r.Interest),
		}
		if r.RepaidAt != nil {
			row.RepaidAt = formatTime(*r.RepaidAt)
		}
		out = append(out, row)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeParquetFile(path string, schema interface{}, rows []interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ledger: create parquet: %w", err)
	}
	if err := writeParquet(file, schema, rows); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("ledger: close parquet file: %w", err)
	}
	return nil
}

func writeParquet(w io.Writer, schema interface{}, rows []interface{}) error {
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, schema, 1)
	if err != nil {
		return fmt.Errorf("ledger: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return fmt.Errorf("ledger: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("ledger: parquet flush: %w", err)
	}
	return nil
}
