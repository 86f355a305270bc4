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
	"github.com/ariefcatur/go-commerce-saga.git/internal/orders"
	"github.com/ariefcatur/go-commerce-saga.git/internal/redisx"
	"github.com/ariefcatur/go-commerce-saga.git/internal/stock"
	"github.com/ariefcatur/go-commerce-saga.git/internal/wallet"
)

type OrdersHandler struct {
	Saga  *orders.Saga
	Repo  *orders.Repo
	Redis *redis.Client
}

type PlaceOrderReq struct {
	// user_id harusnya dari auth middleware; di sini diterima langsung
	// karena session resolution di luar scope service ini
	UserID         string             `json:"user_id"`
	IdempotencyKey string             `json:"idempotency_key"`
	UserCouponID   *string            `json:"user_coupon_id,omitempty"`
	Items          []orders.ItemInput `json:"items"`
}

type PlaceOrderResp struct {
	OrderID       string  `json:"order_id"`
	Status        string  `json:"status"`
	TotalCents    int     `json:"total_cents"`
	DiscountCents int     `json:"discount_cents"`
	FinalCents    int     `json:"final_cents"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || req.IdempotencyKey == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Saga.PlaceOrder(ctx, orders.PlaceOrderInput{
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		UserCouponID:   req.UserCouponID,
		Items:          req.Items,
	})
	if err != nil {
		if errors.Is(err, orders.ErrOrderExists) {
			// conflict, order lama tidak disentuh; kasih lihat isinya ke caller
			if prev, lookupErr := h.Repo.ByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil {
				writeJSON(w, http.StatusConflict, toResp(prev))
				return
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if o.ID == "" {
			writeError(w, statusForOrderErr(err), err.Error())
			return
		}
		// saga jalan tapi berakhir FAILED: balikin ordernya juga
		writeJSON(w, statusForOrderErr(err), toResp(o))
		return
	}

	// cache status supaya GET habis create murah (idempotency fast path ikut
	// ke-refresh di sini)
	h.cacheOrder(ctx, o)

	writeJSON(w, http.StatusCreated, toResp(o))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	// 2) fallback DB
	o, err := h.Repo.Get(ctx, orderID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	b, _ := json.Marshal(toResp(o))
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *OrdersHandler) cacheOrder(ctx context.Context, o orders.Order) {
	b, _ := json.Marshal(toResp(o))
	_ = h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.ID), b, redisx.TTLStatusCache).Err()
	_ = h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyIdemPlaceOrder, o.IdempotencyKey), o.ID, redisx.TTLIdempotency).Err()
}

func toResp(o orders.Order) PlaceOrderResp {
	return PlaceOrderResp{
		OrderID:       o.ID,
		Status:        string(o.Status),
		TotalCents:    o.TotalCents,
		DiscountCents: o.DiscountCents,
		FinalCents:    o.FinalCents,
		FailureReason: o.FailureReason,
	}
}

// resource habis = 422; input jelek = 400; sisanya 500
func statusForOrderErr(err error) int {
	switch {
	case errors.Is(err, stock.ErrInsufficientStock),
		errors.Is(err, wallet.ErrInsufficientBalance),
		errors.Is(err, coupons.ErrCouponExhausted),
		errors.Is(err, coupons.ErrCouponExpired),
		errors.Is(err, coupons.ErrMinOrderPrice),
		errors.Is(err, coupons.ErrCouponNotUsable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrEmptyOrder),
		errors.Is(err, orders.ErrInvalidQty),
		errors.Is(err, orders.ErrProductNotFound),
		errors.Is(err, orders.ErrProductInactive),
		errors.Is(err, coupons.ErrUserCouponNotFound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
