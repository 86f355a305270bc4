package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-commerce-saga.git/internal/wallet"
)

type WalletHandler struct {
	Ledger *wallet.Ledger
}

type ChargeReq struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	RefID  string `json:"ref_id"` // idempotency: (ref_id, CHARGE) unik
}

func (h *WalletHandler) Register(r *chi.Mux) {
	r.Post("/wallet/charge", h.charge)
	r.Get("/wallet/{userId}", h.getBalance)
	r.Get("/wallet/{userId}/transactions", h.listTransactions)
}

func (h *WalletHandler) charge(w http.ResponseWriter, r *http.Request) {
	var req ChargeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || req.RefID == "" {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Ledger.Charge(ctx, req.UserID, req.Amount, req.RefID); err != nil {
		switch {
		case errors.Is(err, wallet.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, wallet.ErrDuplicateTxn):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	balance, err := h.Ledger.Balance(ctx, req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "balance": balance})
}

func (h *WalletHandler) getBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	balance, err := h.Ledger.Balance(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

func (h *WalletHandler) listTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	txns, err := h.Ledger.Transactions(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, txns)
}
