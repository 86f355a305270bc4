package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-commerce-saga.git/internal/coupons"
	"github.com/ariefcatur/go-commerce-saga.git/internal/metrics"
	"github.com/ariefcatur/go-commerce-saga.git/internal/redisx"
)

// CouponsHandler: entry claim pipeline. Request cuma bikin reservation PENDING
// + outbox row lalu langsung 202; issuance berat jalan async di couponworker.
type CouponsHandler struct {
	Reservations *coupons.ReservationRepo
	Redis        *redis.Client
	ServiceName  string
	ClaimTTL     time.Duration
}

type ClaimReq struct {
	UserID         string `json:"user_id"`
	CouponCode     string `json:"coupon_code"`
	IdempotencyKey string `json:"idempotency_key"`
}

type ClaimResp struct {
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
	Idempotent    bool   `json:"idempotent"`
}

func (h *CouponsHandler) Register(r *chi.Mux) {
	r.Post("/coupons/{id}/claims", h.claim)
	r.Get("/coupons/claims/{id}", h.getClaim)
}

func (h *CouponsHandler) claim(w http.ResponseWriter, r *http.Request) {
	couponID := chi.URLParam(r, "id")
	var req ClaimReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if couponID == "" || req.UserID == "" || req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, existed, err := h.Reservations.Claim(ctx, coupons.ClaimInput{
		CouponID:       couponID,
		UserID:         req.UserID,
		CouponCode:     req.CouponCode,
		IdempotencyKey: req.IdempotencyKey,
		TTL:            h.ClaimTTL,
		Producer:       h.ServiceName,
		TraceID:        r.Header.Get("X-Request-Id"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !existed {
		metrics.ClaimEvents.WithLabelValues("reserve", "ok").Inc()
	}

	writeJSON(w, http.StatusAccepted, ClaimResp{
		ReservationID: res.ID,
		Status:        res.Status,
		Idempotent:    existed,
	})
}

func (h *CouponsHandler) getClaim(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache dulu, DB belakangan
	key := fmt.Sprintf(redisx.KeyClaimStatus, id)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	res, err := h.Reservations.Get(ctx, id)
	if err != nil {
		if errors.Is(err, coupons.ErrReservationMissing) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body := map[string]any{"status": res.Status}
	if res.FailureReason != nil {
		body["failure_reason"] = *res.FailureReason
	}
	if res.UserCouponID != nil {
		body["user_coupon_id"] = *res.UserCouponID
	}
	b, _ := json.Marshal(body)
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
