package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-saga.git/internal/catalog"
	"github.com/ariefcatur/go-commerce-saga.git/internal/coupons"
	"github.com/ariefcatur/go-commerce-saga.git/internal/metrics"
	"github.com/ariefcatur/go-commerce-saga.git/internal/stock"
	"github.com/ariefcatur/go-commerce-saga.git/internal/wallet"
)

// Tiap ledger diabstraksi interface sendiri; mutasi counter cuma lewat sini.
// Urutan sub-step dalam satu saga selalu stock -> coupon -> wallet supaya
// bookkeeping kompensasinya tetap sederhana.

type StockLedger interface {
	Reserve(ctx context.Context, in stock.ReserveInput) (stock.Reservation, error)
	Confirm(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
	ReleaseByOrder(ctx context.Context, orderID string) error
	ListByOrder(ctx context.Context, orderID string) ([]stock.Reservation, error)
}

type WalletLedger interface {
	Use(ctx context.Context, userID string, amount int64, refID string) error
	Recover(ctx context.Context, userID string, amount int64, refID string) (bool, error)
	Balance(ctx context.Context, userID string) (int64, error)
}

type CouponLedger interface {
	CheckEligibility(ctx context.Context, userCouponID, userID string, orderPriceCents int) (int, error)
	Use(ctx context.Context, userCouponID, orderID string, orderPriceCents int) (int, error)
	Revert(ctx context.Context, userCouponID string) error
	UsedByOrder(ctx context.Context, orderID string) (coupons.UserCoupon, bool, error)
}

type ProductGateway interface {
	ByIDs(ctx context.Context, ids []string) (map[string]catalog.Product, error)
}

type OrderStore interface {
	Create(ctx context.Context, o Order, items []OrderItem) error
	Get(ctx context.Context, orderID string) (Order, error)
	Items(ctx context.Context, orderID string) ([]OrderItem, error)
	UpdatePricing(ctx context.Context, orderID string, discountCents, finalCents int) error
	MarkSuccess(ctx context.Context, orderID string) (bool, error)
	MarkFailed(ctx context.Context, orderID, reason string) (bool, error)
	MarkCompensated(ctx context.Context, orderID string) error
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type PlaceOrderInput struct {
	UserID         string
	IdempotencyKey string
	UserCouponID   *string
	Items          []ItemInput
}

type Saga struct {
	Orders   OrderStore
	Stock    StockLedger
	Wallet   WalletLedger
	Coupons  CouponLedger
	Products ProductGateway
	Log      *zap.Logger
	StockTTL time.Duration
}

// PlaceOrder = Create -> Prepare -> Process. Sekuensial di dalam satu order,
// paralel penuh antar order; satu-satunya serialisasi ada di conditional
// update masing-masing ledger.
func (s *Saga) PlaceOrder(ctx context.Context, in PlaceOrderInput) (Order, error) {
	o, items, err := s.create(ctx, in)
	if err != nil {
		if errors.Is(err, ErrOrderExists) {
			metrics.SagaOrders.WithLabelValues("conflict").Inc()
		}
		return Order{}, err
	}

	if err := s.prepare(ctx, &o, items); err != nil {
		return o, err
	}
	if err := s.process(ctx, &o, items); err != nil {
		return o, err
	}
	return o, nil
}

// create: validasi harga/qty dari product gateway, order PENDING + items.
func (s *Saga) create(ctx context.Context, in PlaceOrderInput) (Order, []OrderItem, error) {
	if len(in.Items) == 0 {
		return Order{}, nil, ErrEmptyOrder
	}

	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		if it.Qty <= 0 {
			return Order{}, nil, ErrInvalidQty
		}
		ids = append(ids, it.ProductID)
	}
	products, err := s.Products.ByIDs(ctx, ids)
	if err != nil {
		return Order{}, nil, err
	}

	orderID := uuid.NewString()
	total := 0
	items := make([]OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return Order{}, nil, ErrProductNotFound
		}
		if !p.IsActive {
			return Order{}, nil, ErrProductInactive
		}
		line := p.PriceCents * it.Qty
		total += line
		items = append(items, OrderItem{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			ProductID:  it.ProductID,
			Qty:        it.Qty,
			PriceCents: p.PriceCents,
			TotalCents: line,
		})
	}

	o := Order{
		ID:                  orderID,
		UserID:              in.UserID,
		TotalCents:          total,
		DiscountCents:       0,
		FinalCents:          total,
		Status:              StatusPending,
		IdempotencyKey:      in.IdempotencyKey,
		AppliedUserCouponID: in.UserCouponID,
	}
	if err := s.Orders.Create(ctx, o, items); err != nil {
		return Order{}, nil, err
	}
	return o, items, nil
}

// prepare: hold stok per item, cek coupon & saldo TANPA mutasi usage/deduct.
// All-or-nothing: satu gagal -> semua hold attempt ini dilepas, order FAILED.
func (s *Saga) prepare(ctx context.Context, o *Order, items []OrderItem) error {
	acquired := make([]string, 0, len(items))
	for _, it := range items {
		res, err := s.Stock.Reserve(ctx, stock.ReserveInput{
			OrderID:   o.ID,
			ProductID: it.ProductID,
			UserID:    o.UserID,
			Qty:       it.Qty,
			TTL:       s.StockTTL,
		})
		if err != nil {
			if errors.Is(err, stock.ErrInsufficientStock) {
				metrics.LedgerRejections.WithLabelValues("stock", "insufficient").Inc()
			}
			s.releaseAcquired(ctx, acquired)
			return s.fail(ctx, o, err)
		}
		acquired = append(acquired, res.ID)
	}

	if o.AppliedUserCouponID != nil {
		discount, err := s.Coupons.CheckEligibility(ctx, *o.AppliedUserCouponID, o.UserID, o.TotalCents)
		if err != nil {
			s.releaseAcquired(ctx, acquired)
			return s.fail(ctx, o, err)
		}
		o.DiscountCents = discount
		o.FinalCents = o.TotalCents - discount
		if err := s.Orders.UpdatePricing(ctx, o.ID, o.DiscountCents, o.FinalCents); err != nil {
			s.releaseAcquired(ctx, acquired)
			return s.fail(ctx, o, err)
		}
	}

	balance, err := s.Wallet.Balance(ctx, o.UserID)
	if err != nil {
		s.releaseAcquired(ctx, acquired)
		return s.fail(ctx, o, err)
	}
	if balance < int64(o.FinalCents) {
		metrics.LedgerRejections.WithLabelValues("wallet", "insufficient").Inc()
		s.releaseAcquired(ctx, acquired)
		return s.fail(ctx, o, wallet.ErrInsufficientBalance)
	}
	return nil
}

// process: confirm stok -> coupon USED -> wallet deduct (refId = orderID).
// Sub-step gagal -> yang sudah kena dikompensasi, order FAILED. Wallet selalu
// terakhir jadi balance tidak pernah perlu di-undo di jalur ini.
func (s *Saga) process(ctx context.Context, o *Order, items []OrderItem) error {
	reservations, err := s.Stock.ListByOrder(ctx, o.ID)
	if err != nil {
		return s.fail(ctx, o, err)
	}
	for _, res := range reservations {
		if res.Status == stock.StatusReleased {
			continue
		}
		if err := s.Stock.Confirm(ctx, res.ID); err != nil {
			_ = s.Stock.ReleaseByOrder(ctx, o.ID)
			return s.fail(ctx, o, err)
		}
	}

	couponUsed := false
	if o.AppliedUserCouponID != nil {
		discount, err := s.Coupons.Use(ctx, *o.AppliedUserCouponID, o.ID, o.TotalCents)
		if err != nil {
			_ = s.Stock.ReleaseByOrder(ctx, o.ID)
			return s.fail(ctx, o, err)
		}
		couponUsed = true
		if discount != o.DiscountCents {
			// eligibility di Prepare dan Use bisa beda kalau coupon keburu
			// berubah; Use yang otoritatif
			o.DiscountCents = discount
			o.FinalCents = o.TotalCents - discount
			if err := s.Orders.UpdatePricing(ctx, o.ID, o.DiscountCents, o.FinalCents); err != nil {
				s.compensateProcess(ctx, o, couponUsed)
				return s.fail(ctx, o, err)
			}
		}
	}

	if o.FinalCents > 0 {
		err := s.Wallet.Use(ctx, o.UserID, int64(o.FinalCents), o.ID)
		if err != nil && !errors.Is(err, wallet.ErrDuplicateTxn) { // duplicate = sudah kepotong di attempt sebelumnya
			if errors.Is(err, wallet.ErrInsufficientBalance) {
				metrics.LedgerRejections.WithLabelValues("wallet", "insufficient").Inc()
			}
			s.compensateProcess(ctx, o, couponUsed)
			return s.fail(ctx, o, err)
		}
	}

	ok, err := s.Orders.MarkSuccess(ctx, o.ID)
	if err != nil {
		return err
	}
	if !ok {
		// kalah race sama sweeper yang keburu menggagalkan order; ledger
		// dibereskan lewat Recover, order tetap terminal
		if err := s.Recover(ctx, o.ID); err != nil {
			return err
		}
		cur, err := s.Orders.Get(ctx, o.ID)
		if err != nil {
			return err
		}
		*o = cur
		return errors.New("order already finalized: " + string(cur.Status))
	}
	o.Status = StatusSuccess
	metrics.SagaOrders.WithLabelValues("success").Inc()
	s.Log.Info("order fulfilled",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Int("final_cents", o.FinalCents))
	return nil
}

// Recover: kompensasi idempotent untuk order FAILED (atau unwind post-hoc).
// Tidak pernah membangkitkan order; cuma ledger yang dipulihkan.
func (s *Saga) Recover(ctx context.Context, orderID string) error {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}

	if err := s.Stock.ReleaseByOrder(ctx, orderID); err != nil {
		return err
	}

	if uc, found, err := s.Coupons.UsedByOrder(ctx, orderID); err != nil {
		return err
	} else if found {
		if err := s.Coupons.Revert(ctx, uc.ID); err != nil {
			return err
		}
	}

	// kredit balik poin cuma kalau memang ada USE utk order ini; panggilan
	// kedua no-op karena (refId, RECOVER) unik
	if o.FinalCents > 0 {
		applied, err := s.Wallet.Recover(ctx, o.UserID, int64(o.FinalCents), orderID)
		if err != nil {
			return err
		}
		if applied {
			s.Log.Info("wallet compensated",
				zap.String("order_id", orderID),
				zap.Int("amount_cents", o.FinalCents))
		}
	}

	if o.Status == StatusFailed {
		if err := s.Orders.MarkCompensated(ctx, orderID); err != nil {
			return err
		}
	}
	return nil
}

// Resume: entry point sweeper untuk PENDING yang kelamaan. Kalau semua hold
// masih ada, saga diterusin lewat Process; kalau tidak, digagalkan + Recover.
func (s *Saga) Resume(ctx context.Context, orderID string) error {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	switch o.Status {
	case StatusSuccess:
		return nil
	case StatusFailed:
		return s.Recover(ctx, orderID)
	}

	items, err := s.Orders.Items(ctx, orderID)
	if err != nil {
		return err
	}
	reservations, err := s.Stock.ListByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	held := map[string]bool{}
	for _, res := range reservations {
		if res.Status == stock.StatusReserved || res.Status == stock.StatusConfirmed {
			held[res.ProductID] = true
		}
	}
	for _, it := range items {
		if !held[it.ProductID] {
			// saga mati sebelum Prepare kelar; tidak ada jalan maju
			_ = s.fail(ctx, &o, errors.New("stale pending: reservations incomplete"))
			return s.Recover(ctx, orderID)
		}
	}
	if err := s.process(ctx, &o, items); err != nil {
		s.Log.Warn("resume failed", zap.String("order_id", orderID), zap.Error(err))
	}
	return nil
}

func (s *Saga) releaseAcquired(ctx context.Context, reservationIDs []string) {
	for _, id := range reservationIDs {
		if err := s.Stock.Release(ctx, id); err != nil {
			s.Log.Error("release reservation", zap.String("reservation_id", id), zap.Error(err))
		}
	}
}

func (s *Saga) compensateProcess(ctx context.Context, o *Order, couponUsed bool) {
	if err := s.Stock.ReleaseByOrder(ctx, o.ID); err != nil {
		s.Log.Error("compensate stock", zap.String("order_id", o.ID), zap.Error(err))
	}
	if couponUsed && o.AppliedUserCouponID != nil {
		if err := s.Coupons.Revert(ctx, *o.AppliedUserCouponID); err != nil {
			s.Log.Error("compensate coupon", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
}

// fail: order -> FAILED dengan alasan, lalu error aslinya diterusin ke caller.
func (s *Saga) fail(ctx context.Context, o *Order, cause error) error {
	if _, err := s.Orders.MarkFailed(ctx, o.ID, cause.Error()); err != nil {
		s.Log.Error("mark failed", zap.String("order_id", o.ID), zap.Error(err))
	}
	o.Status = StatusFailed
	reason := cause.Error()
	o.FailureReason = &reason
	metrics.SagaOrders.WithLabelValues("failed").Inc()
	s.Log.Warn("order failed",
		zap.String("order_id", o.ID),
		zap.String("reason", reason))
	return cause
}
