package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"openrate/crypto"
	"openrate/gateway/auth"
	"openrate/native/market"
	"openrate/services/openrated/api"
)

func (s *Server) caller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "signed request required")
		return [20]byte{}, false
	}
	return caller.Account, true
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	m, err := s.engine.GetMarket(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.marketView(m))
}

func (s *Server) handleGetMint(w http.ResponseWriter, r *http.Request) {
	mint, err := crypto.ParseMint(chi.URLParam(r, "mint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mint", err.Error())
		return
	}
	m, err := s.engine.GetMint(r.Context(), mint)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mintView(m))
}

func (s *Server) handleMarketForMint(w http.ResponseWriter, r *http.Request) {
	mint, err := crypto.ParseMint(chi.URLParam(r, "mint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mint", err.Error())
		return
	}
	m, err := s.engine.MarketByMint(r.Context(), mint)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.marketView(m))
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	vault, err := s.engine.GetVault(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	report, err := s.engine.CheckInvariants(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultView(vault, report))
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	bids, err := s.engine.BidsByMarket(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var status *market.BidStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, ok := market.ParseBidStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown bid status "+raw)
			return
		}
		status = &parsed
	}
	out := api.BidList{Bids: make([]api.Bid, 0, len(bids))}
	for _, bid := range bids {
		if status != nil && bid.Status != *status {
			continue
		}
		out.Bids = append(out.Bids, bidView(bid))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	bid, err := s.engine.GetBid(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bidView(bid))
}

func (s *Server) handleGetBorrow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rec, err := s.engine.GetBorrow(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	view := borrowView(rec)
	if rec.Status == market.BorrowActive {
		due, interest, err := s.engine.AmountDueNow(r.Context(), id)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		view.AmountDue, view.InterestDue = amount(due), amount(interest)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := crypto.ParseAccount(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	mint, err := crypto.ParseMint(chi.URLParam(r, "mint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mint", err.Error())
		return
	}
	bal, err := s.engine.Balance(r.Context(), owner, mint)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Balance{Owner: accountString(owner), Mint: mintString(mint), Amount: amount(bal)})
}

func (s *Server) handleInitializeMarket(w http.ResponseWriter, r *http.Request) {
	authority, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req api.InitializeMarketRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	mint, err := crypto.ParseMint(req.Mint)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mint", err.Error())
		return
	}
	m, vault, err := s.engine.InitializeMarket(r.Context(), mint, authority)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Info("market initialized",
		slog.String("market", market.FormatID(m.ID)),
		slog.String("authority", accountString(authority)))
	writeJSON(w, http.StatusCreated, api.InitializeMarketResponse{
		Market: s.marketView(m),
		Vault:  vaultView(vault, market.InvariantReport{Market: m.ID}),
	})
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	lender, ok := s.caller(w, r)
	if !ok {
		return
	}
	marketID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req api.PlaceBidRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	amt, err := parseAmount(req.Amount)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	bid, err := s.engine.PlaceBid(r.Context(), marketID, lender, amt, req.RateBps)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bidView(bid))
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	borrower, ok := s.caller(w, r)
	if !ok {
		return
	}
	bidID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req api.BorrowRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	amt, err := parseAmount(req.Amount)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rec, err := s.engine.Borrow(r.Context(), bidID, borrower, amt)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, borrowView(rec))
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	borrower, ok := s.caller(w, r)
	if !ok {
		return
	}
	recordID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rec, err := s.engine.Repay(r.Context(), recordID, borrower)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, borrowView(rec))
}

func (s *Server) handleCancelBid(w http.ResponseWriter, r *http.Request) {
	lender, ok := s.caller(w, r)
	if !ok {
		return
	}
	bidID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	bid, refunded, err := s.engine.CancelBid(r.Context(), bidID, lender)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CancelBidResponse{Bid: bidView(bid), Refunded: amount(refunded)})
}

func (s *Server) handleClaimProceeds(w http.ResponseWriter, r *http.Request) {
	lender, ok := s.caller(w, r)
	if !ok {
		return
	}
	bidID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	bid, claimed, err := s.engine.ClaimProceeds(r.Context(), bidID, lender)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ClaimResponse{Bid: bidView(bid), Claimed: amount(claimed)})
}
