package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"openrate/crypto"
	"openrate/native/market"
	"openrate/services/openrated/api"
)

func amount(v uint64) string { return strconv.FormatUint(v, 10) }

func accountString(raw [20]byte) string { return crypto.AccountAddress(raw).String() }

func mintString(raw [20]byte) string { return crypto.MintAddress(raw).String() }

// parseAmount accepts a base-unit decimal string.
func parseAmount(raw string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || v == 0 || v > market.MaxAmount {
		return 0, market.ErrInvalidAmount
	}
	return v, nil
}

func pathID(r *http.Request, name string) ([32]byte, error) {
	id, err := market.ParseID(chi.URLParam(r, name))
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: %s", errBadID, name)
	}
	return id, nil
}

// decodeBody decodes an optional JSON body. An empty body leaves dst unchanged.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && err != io.EOF {
		return fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return nil
}

func mintView(m *market.Mint) api.Mint {
	return api.Mint{ID: mintString(m.ID), Symbol: m.Symbol, Decimals: m.Decimals, CreatedAt: m.CreatedAt}
}

func (s *Server) marketView(m *market.Market) api.Market {
	view := api.Market{
		ID:            market.FormatID(m.ID),
		Mint:          mintString(m.Mint),
		Authority:     accountString(m.Authority),
		Vault:         market.FormatID(m.Vault),
		TotalBorrowed: amount(m.TotalBorrowed),
		BidCount:      m.BidCount,
		CreatedAt:     m.CreatedAt,
	}
	if reason, halted := s.engine.Halted(m.ID); halted {
		view.Halted = true
		view.HaltReason = reason
	}
	return view
}

func vaultView(v *market.Vault, report market.InvariantReport) api.Vault {
	return api.Vault{
		ID:        market.FormatID(v.ID),
		Market:    market.FormatID(v.Market),
		Mint:      mintString(v.Mint),
		Authority: accountString(v.Authority),
		Principal: amount(v.Principal),
		Proceeds:  amount(v.Proceeds),
		Report: api.Report{
			Principal:     amount(report.Principal),
			Proceeds:      amount(report.Proceeds),
			TotalBorrowed: amount(report.TotalBorrowed),
			BidRemaining:  amount(report.BidRemaining),
			BidProceeds:   amount(report.BidProceeds),
			Holdings:      amount(report.Holdings),
			Conserved:     report.Conserved(),
			Backed:        report.Backed(),
		},
	}
}

func bidView(b *market.BidOrder) api.Bid {
	return api.Bid{
		ID:          market.FormatID(b.ID),
		Lender:      accountString(b.Lender),
		Market:      market.FormatID(b.Market),
		Original:    amount(b.Original),
		Remaining:   amount(b.Remaining),
		RateBps:     b.RateBps,
		Status:      b.Status.String(),
		BorrowCount: b.BorrowCount,
		Proceeds:    amount(b.Proceeds),
		Claimed:     amount(b.Claimed),
		CreatedAt:   b.CreatedAt,
	}
}

func borrowView(r *market.BorrowRecord) api.Borrow {
	view := api.Borrow{
		ID:           market.FormatID(r.ID),
		Borrower:     accountString(r.Borrower),
		Bid:          market.FormatID(r.Bid),
		Market:       market.FormatID(r.Market),
		Principal:    amount(r.Principal),
		RateBps:      r.RateBps,
		Status:       r.Status.String(),
		StartedAt:    r.StartedAt,
		AmountRepaid: amount(r.AmountRepaid),
		Interest:     amount(r.Interest),
	}
	if !r.RepaidAt.IsZero() {
		repaid := r.RepaidAt
		view.RepaidAt = &repaid
	}
	return view
}

func healthResponse(halted [][32]byte) api.Health {
	resp := api.Health{Status: "ok"}
	for _, id := range halted {
		resp.HaltedMarkets = append(resp.HaltedMarkets, market.FormatID(id))
	}
	if len(resp.HaltedMarkets) > 0 {
		resp.Status = "degraded"
	}
	return resp
}
