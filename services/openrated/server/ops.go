package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"openrate/crypto"
	"openrate/gateway/middleware"
	"openrate/services/openrated/api"
)

func (s *Server) handleRegisterMint(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterMintRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	mint, err := s.engine.RegisterMint(r.Context(), req.Symbol, req.Decimals)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Info("mint registered",
		slog.String("operator", middleware.SubjectFromContext(r.Context())),
		slog.String("symbol", mint.Symbol),
		slog.String("mint", mintString(mint.ID)))
	writeJSON(w, http.StatusCreated, mintView(mint))
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	mint, err := crypto.ParseMint(chi.URLParam(r, "mint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mint", err.Error())
		return
	}
	var req api.CreditRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	owner, err := crypto.ParseAccount(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	amt, err := parseAmount(req.Amount)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.engine.Credit(r.Context(), mint, owner, amt); err != nil {
		s.respondError(w, r, err)
		return
	}
	bal, err := s.engine.Balance(r.Context(), owner, mint)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.logger.Info("account credited",
		slog.String("operator", middleware.SubjectFromContext(r.Context())),
		slog.String("owner", accountString(owner)),
		slog.String("amount", amount(amt)))
	writeJSON(w, http.StatusOK, api.Balance{Owner: accountString(owner), Mint: mintString(mint), Amount: amount(bal)})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil || s.exportDir == "" {
		writeError(w, http.StatusNotImplemented, "export_disabled", "audit export not configured")
		return
	}
	result, err := s.exporter.Export(r.Context(), s.exportDir)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("export: %w", err))
		return
	}
	s.logger.Info("audit export requested",
		slog.String("operator", middleware.SubjectFromContext(r.Context())),
		slog.String("run", result.RunID))
	writeJSON(w, http.StatusCreated, api.Export{
		RunID:       result.RunID,
		Directory:   result.Directory,
		VaultsPath:  result.VaultsPath,
		BidsPath:    result.BidsPath,
		BorrowsPath: result.BorrowsPath,
		Vaults:      result.Vaults,
		Bids:        result.Bids,
		Borrows:     result.Borrows,
		CreatedAt:   result.CreatedAt,
	})
}
