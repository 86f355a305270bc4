package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-commerce-saga.git/internal/catalog"
	"github.com/ariefcatur/go-commerce-saga.git/internal/coupons"
	"github.com/ariefcatur/go-commerce-saga.git/internal/stock"
	"github.com/ariefcatur/go-commerce-saga.git/internal/wallet"
)

// Fake in-memory ledgers dengan semantik conditional-update yang sama kayak
// implementasi pgx; core-nya sendiri tetap mengasumsikan store transaksional.

type fakeProduct struct {
	price    int
	total    int
	reserved int
	active   bool
}

type fakeStock struct {
	mu           sync.Mutex
	products     map[string]*fakeProduct
	reservations map[string]*stock.Reservation
	confirmErr   error
}

func (f *fakeStock) Reserve(_ context.Context, in stock.ReserveInput) (stock.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reservations {
		if r.OrderID == in.OrderID && r.ProductID == in.ProductID {
			return *r, nil
		}
	}
	p, ok := f.products[in.ProductID]
	if !ok {
		return stock.Reservation{}, stock.ErrProductNotFound
	}
	if p.reserved+in.Qty > p.total {
		return stock.Reservation{}, stock.ErrInsufficientStock
	}
	p.reserved += in.Qty
	r := &stock.Reservation{
		ID:        uuid.NewString(),
		OrderID:   in.OrderID,
		ProductID: in.ProductID,
		UserID:    in.UserID,
		Qty:       in.Qty,
		Status:    stock.StatusReserved,
		ExpiresAt: time.Now().Add(in.TTL),
	}
	f.reservations[r.ID] = r
	return *r, nil
}

func (f *fakeStock) Confirm(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return f.confirmErr
	}
	r, ok := f.reservations[id]
	if !ok {
		return stock.ErrReservationMissing
	}
	switch r.Status {
	case stock.StatusConfirmed:
		return nil
	case stock.StatusReleased:
		return stock.ErrReservationMissing
	}
	p := f.products[r.ProductID]
	p.total -= r.Qty
	p.reserved -= r.Qty
	r.Status = stock.StatusConfirmed
	return nil
}

func (f *fakeStock) Release(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releaseLocked(id)
}

func (f *fakeStock) releaseLocked(id string) error {
	r, ok := f.reservations[id]
	if !ok {
		return stock.ErrReservationMissing
	}
	p := f.products[r.ProductID]
	switch r.Status {
	case stock.StatusReleased:
		return nil
	case stock.StatusReserved:
		p.reserved -= r.Qty
	case stock.StatusConfirmed:
		p.total += r.Qty
	}
	r.Status = stock.StatusReleased
	return nil
}

func (f *fakeStock) ReleaseByOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.reservations {
		if r.OrderID == orderID {
			if err := f.releaseLocked(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *fakeStock) ListByOrder(_ context.Context, orderID string) ([]stock.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []stock.Reservation
	for _, r := range f.reservations {
		if r.OrderID == orderID {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeWallet struct {
	mu       sync.Mutex
	balances map[string]int64
	txns     map[string]bool // "TYPE:refID"
	useErr   error
}

func (f *fakeWallet) Use(_ context.Context, userID string, amount int64, refID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.useErr != nil {
		return f.useErr
	}
	if f.txns["USE:"+refID] {
		return wallet.ErrDuplicateTxn
	}
	if f.balances[userID] < amount {
		return wallet.ErrInsufficientBalance
	}
	f.balances[userID] -= amount
	f.txns["USE:"+refID] = true
	return nil
}

func (f *fakeWallet) Recover(_ context.Context, userID string, amount int64, refID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.txns["USE:"+refID] || f.txns["RECOVER:"+refID] {
		return false, nil
	}
	f.balances[userID] += amount
	f.txns["RECOVER:"+refID] = true
	return true, nil
}

func (f *fakeWallet) Balance(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

type fakeCoupons struct {
	mu        sync.Mutex
	discounts map[string]int    // userCouponID -> discount
	used      map[string]string // userCouponID -> orderID
	eligErr   error
	useErr    error
}

func (f *fakeCoupons) CheckEligibility(_ context.Context, userCouponID, _ string, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eligErr != nil {
		return 0, f.eligErr
	}
	d, ok := f.discounts[userCouponID]
	if !ok {
		return 0, coupons.ErrUserCouponNotFound
	}
	return d, nil
}

func (f *fakeCoupons) Use(_ context.Context, userCouponID, orderID string, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.useErr != nil {
		return 0, f.useErr
	}
	d, ok := f.discounts[userCouponID]
	if !ok {
		return 0, coupons.ErrUserCouponNotFound
	}
	if prev, ok := f.used[userCouponID]; ok {
		if prev == orderID {
			return d, nil
		}
		return 0, coupons.ErrCouponNotUsable
	}
	f.used[userCouponID] = orderID
	return d, nil
}

func (f *fakeCoupons) Revert(_ context.Context, userCouponID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.used, userCouponID)
	return nil
}

func (f *fakeCoupons) UsedByOrder(_ context.Context, orderID string) (coupons.UserCoupon, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, oid := range f.used {
		if oid == orderID {
			return coupons.UserCoupon{ID: id, OrderID: &oid}, true, nil
		}
	}
	return coupons.UserCoupon{}, false, nil
}

type fakeOrders struct {
	mu          sync.Mutex
	byID        map[string]*Order
	byKey       map[string]string
	items       map[string][]OrderItem
	compensated map[string]bool
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		byID:        map[string]*Order{},
		byKey:       map[string]string{},
		items:       map[string][]OrderItem{},
		compensated: map[string]bool{},
	}
}

func (f *fakeOrders) Create(_ context.Context, o Order, items []OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byKey[o.IdempotencyKey]; ok {
		return ErrOrderExists
	}
	cp := o
	f.byID[o.ID] = &cp
	f.byKey[o.IdempotencyKey] = o.ID
	f.items[o.ID] = items
	return nil
}

func (f *fakeOrders) Get(_ context.Context, orderID string) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return *o, nil
}

func (f *fakeOrders) Items(_ context.Context, orderID string) ([]OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[orderID], nil
}

func (f *fakeOrders) UpdatePricing(_ context.Context, orderID string, discount, final int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.byID[orderID]; ok && o.Status == StatusPending {
		o.DiscountCents = discount
		o.FinalCents = final
	}
	return nil
}

func (f *fakeOrders) MarkSuccess(_ context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok || o.Status != StatusPending {
		return false, nil
	}
	o.Status = StatusSuccess
	return true, nil
}

func (f *fakeOrders) MarkFailed(_ context.Context, orderID, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok || o.Status != StatusPending {
		return false, nil
	}
	o.Status = StatusFailed
	o.FailureReason = &reason
	return true, nil
}

func (f *fakeOrders) MarkCompensated(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compensated[orderID] = true
	return nil
}

type fakeGateway struct{ products map[string]catalog.Product }

func (f *fakeGateway) ByIDs(_ context.Context, ids []string) (map[string]catalog.Product, error) {
	out := map[string]catalog.Product{}
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fixture struct {
	saga    *Saga
	orders  *fakeOrders
	stock   *fakeStock
	wallet  *fakeWallet
	coupons *fakeCoupons
}

func newFixture() *fixture {
	st := &fakeStock{
		products:     map[string]*fakeProduct{"p1": {price: 1000, total: 10, active: true}},
		reservations: map[string]*stock.Reservation{},
	}
	wl := &fakeWallet{balances: map[string]int64{"u1": 100000}, txns: map[string]bool{}}
	cp := &fakeCoupons{discounts: map[string]int{}, used: map[string]string{}}
	or := newFakeOrders()
	gw := &fakeGateway{products: map[string]catalog.Product{
		"p1": {ID: "p1", PriceCents: 1000, IsActive: true, TotalStock: 10},
	}}
	return &fixture{
		saga: &Saga{
			Orders:   or,
			Stock:    st,
			Wallet:   wl,
			Coupons:  cp,
			Products: gw,
			Log:      zap.NewNop(),
			StockTTL: 30 * time.Minute,
		},
		orders:  or,
		stock:   st,
		wallet:  wl,
		coupons: cp,
	}
}

func TestPlaceOrder_Success(t *testing.T) {
	fx := newFixture()
	o, err := fx.saga.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:         "u1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p1", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if o.Status != StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", o.Status)
	}
	if o.TotalCents != 2000 || o.FinalCents != 2000 {
		t.Fatalf("pricing = %d/%d, want 2000/2000", o.TotalCents, o.FinalCents)
	}
	p := fx.stock.products["p1"]
	if p.total != 8 || p.reserved != 0 {
		t.Fatalf("stock = total %d reserved %d, want 8/0", p.total, p.reserved)
	}
	if b := fx.wallet.balances["u1"]; b != 98000 {
		t.Fatalf("balance = %d, want 98000", b)
	}
}

func TestPlaceOrder_WithCoupon(t *testing.T) {
	fx := newFixture()
	fx.coupons.discounts["uc1"] = 500
	ucID := "uc1"
	o, err := fx.saga.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:         "u1",
		IdempotencyKey: "key-1",
		UserCouponID:   &ucID,
		Items:          []ItemInput{{ProductID: "p1", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if o.DiscountCents != 500 || o.FinalCents != 1500 {
		t.Fatalf("pricing = %d/%d, want 500/1500", o.DiscountCents, o.FinalCents)
	}
	if got := fx.coupons.used["uc1"]; got != o.ID {
		t.Fatalf("coupon used for %q, want %q", got, o.ID)
	}
	if b := fx.wallet.balances["u1"]; b != 98500 {
		t.Fatalf("balance = %d, want 98500", b)
	}
}

func TestPlaceOrder_DuplicateIdempotencyKey(t *testing.T) {
	fx := newFixture()
	in := PlaceOrderInput{
		UserID:         "u1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p1", Qty: 1}},
	}
	if _, err := fx.saga.PlaceOrder(context.Background(), in); err != nil {
		t.Fatalf("first PlaceOrder: %v", err)
	}
	if _, err := fx.saga.PlaceOrder(context.Background(), in); !errors.Is(err, ErrOrderExists) {
		t.Fatalf("second PlaceOrder err = %v, want ErrOrderExists", err)
	}
	if n := len(fx.orders.byID); n != 1 {
		t.Fatalf("order count = %d, want 1", n)
	}
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	fx := newFixture()
	o, err := fx.saga.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:         "u1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p1", Qty: 20}},
	})
	if !errors.Is(err, stock.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	if o.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", o.Status)
	}
	p := fx.stock.products["p1"]
	if p.total != 10 || p.reserved != 0 {
		t.Fatalf("stock = total %d reserved %d, want 10/0", p.total, p.reserved)
	}
	if b := fx.wallet.balances["u1"]; b != 100000 {
		t.Fatalf("balance = %d, want unchanged 100000", b)
	}
}

// Prepare lolos tapi wallet gagal pas Process: stok yang sudah confirmed
// harus balik, coupon ke-revert, balance tidak berubah, order FAILED.
func TestPlaceOrder_WalletFailsAtProcess(t *testing.T) {
	fx := newFixture()
	fx.coupons.discounts["uc1"] = 500
	ucID := "uc1"
	fx.wallet.useErr = wallet.ErrInsufficientBalance

	o, err := fx.saga.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:         "u1",
		IdempotencyKey: "key-1",
		UserCouponID:   &ucID,
		Items:          []ItemInput{{ProductID: "p1", Qty: 2}},
	})
	if !errors.Is(err, wallet.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if o.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", o.Status)
	}
	p := fx.stock.products["p1"]
	if p.total != 10 || p.reserved != 0 {
		t.Fatalf("stock = total %d reserved %d, want restored 10/0", p.total, p.reserved)
	}
	if len(fx.coupons.used) != 0 {
		t.Fatalf("coupon still marked used: %v", fx.coupons.used)
	}
	if b := fx.wallet.balances["u1"]; b != 100000 {
		t.Fatalf("balance = %d, want unchanged 100000", b)
	}
}

func TestRecover_AppliedExactlyOnce(t *testing.T) {
	fx := newFixture()
	o, err := fx.saga.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:         "u1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p1", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if b := fx.wallet.balances["u1"]; b != 98000 {
		t.Fatalf("balance after order = %d, want 98000", b)
	}

	// unwind post-hoc, dua kali: kompensasi cuma boleh ke-apply sekali
	if err := fx.saga.Recover(context.Background(), o.ID); err != nil {
		t.Fatalf("first Recover: %v", err)
	}
	if err := fx.saga.Recover(context.Background(), o.ID); err != nil {
		t.Fatalf("second Recover: %v", err)
	}
	if b := fx.wallet.balances["u1"]; b != 100000 {
		t.Fatalf("balance after recover = %d, want 100000", b)
	}
	p := fx.stock.products["p1"]
	if p.total != 10 || p.reserved != 0 {
		t.Fatalf("stock = total %d reserved %d, want restored 10/0", p.total, p.reserved)
	}
}

func TestResume_CompletesStalePending(t *testing.T) {
	fx := newFixture()
	// order PENDING dengan semua hold masih ada: saga mati setelah Prepare
	orderID := uuid.NewString()
	o := Order{
		ID:             orderID,
		UserID:         "u1",
		TotalCents:     2000,
		FinalCents:     2000,
		Status:         StatusPending,
		IdempotencyKey: "key-1",
	}
	items := []OrderItem{{ID: uuid.NewString(), OrderID: orderID, ProductID: "p1", Qty: 2, PriceCents: 1000, TotalCents: 2000}}
	if err := fx.orders.Create(context.Background(), o, items); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if _, err := fx.stock.Reserve(context.Background(), stock.ReserveInput{
		OrderID: orderID, ProductID: "p1", UserID: "u1", Qty: 2, TTL: time.Minute,
	}); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	if err := fx.saga.Resume(context.Background(), orderID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, _ := fx.orders.Get(context.Background(), orderID)
	if got.Status != StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", got.Status)
	}
	if b := fx.wallet.balances["u1"]; b != 98000 {
		t.Fatalf("balance = %d, want 98000", b)
	}
}

func TestResume_FailsWhenReservationsIncomplete(t *testing.T) {
	fx := newFixture()
	orderID := uuid.NewString()
	o := Order{
		ID:             orderID,
		UserID:         "u1",
		TotalCents:     2000,
		FinalCents:     2000,
		Status:         StatusPending,
		IdempotencyKey: "key-1",
	}
	items := []OrderItem{{ID: uuid.NewString(), OrderID: orderID, ProductID: "p1", Qty: 2, PriceCents: 1000, TotalCents: 2000}}
	if err := fx.orders.Create(context.Background(), o, items); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	// tidak ada reservation sama sekali: saga mati sebelum Prepare kelar

	if err := fx.saga.Resume(context.Background(), orderID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, _ := fx.orders.Get(context.Background(), orderID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if b := fx.wallet.balances["u1"]; b != 100000 {
		t.Fatalf("balance = %d, want unchanged 100000", b)
	}
	if !fx.orders.compensated[orderID] {
		t.Fatalf("order not marked compensated")
	}
}
