package voucher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-resto/internal/pricing"
)

// memStore is an in-memory Querier/TxRunner pair. It mirrors the conditional
// decrement semantics of the SQL store so ledger behaviour under contention
// can be exercised without a database.
type memStore struct {
	mu       sync.Mutex
	vouchers map[uuid.UUID]*Voucher
	byCode   map[string]uuid.UUID
	links    map[uuid.UUID]uuid.UUID
}

func newMemStore(vs ...Voucher) *memStore {
	s := &memStore{
		vouchers: make(map[uuid.UUID]*Voucher),
		byCode:   make(map[string]uuid.UUID),
		links:    make(map[uuid.UUID]uuid.UUID),
	}
	for i := range vs {
		v := vs[i]
		s.vouchers[v.ID] = &v
		s.byCode[v.Code] = v.ID
	}
	return s
}

func (s *memStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	return fn(s)
}

func (s *memStore) GetByCodeForUpdate(ctx context.Context, code string) (Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCode[code]
	if !ok {
		return Voucher{}, ErrNotFound
	}
	return *s.vouchers[id], nil
}

func (s *memStore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[id]
	if !ok {
		return Voucher{}, ErrNotFound
	}
	return *v, nil
}

func (s *memStore) DecrementRemainingUsage(ctx context.Context, id uuid.UUID) (int32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[id]
	if !ok {
		return 0, false, ErrNotFound
	}
	if v.RemainingUsage <= 0 {
		return v.RemainingUsage, false, nil
	}
	v.RemainingUsage--
	return v.RemainingUsage, true, nil
}

func (s *memStore) RestoreRemainingUsage(ctx context.Context, id uuid.UUID) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[id]
	if !ok {
		return 0, ErrNotFound
	}
	if v.RemainingUsage < v.MaxUsage {
		v.RemainingUsage++
	}
	return v.RemainingUsage, nil
}

func (s *memStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[id]
	if !ok {
		return ErrNotFound
	}
	v.IsActive = active
	return nil
}

func (s *memStore) LinkOrderVoucher(ctx context.Context, orderID, voucherID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[orderID] = voucherID
	return nil
}

func (s *memStore) UnlinkOrderVoucher(ctx context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, orderID)
	return nil
}

func (s *memStore) remaining(id uuid.UUID) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vouchers[id].RemainingUsage
}

func (s *memStore) linked(orderID uuid.UUID) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.links[orderID]
	return id, ok
}

func newLedger(s *memStore) *Ledger {
	return &Ledger{
		Runner:    s,
		Validator: Validator{DayStartHour: 7},
		Lifecycle: Lifecycle{DayStartHour: 7},
		Log:       zerolog.Nop(),
	}
}

func TestAttachConsumesUsageAndLinks(t *testing.T) {
	v := activeVoucher(pricing.KindPercentOrder, 10)
	s := newMemStore(v)
	l := newLedger(s)
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 1})

	got, err := l.Attach(context.Background(), order, " PROMO ")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got.RemainingUsage != v.RemainingUsage-1 {
		t.Fatalf("remaining usage = %d, want %d", got.RemainingUsage, v.RemainingUsage-1)
	}
	if id, ok := s.linked(order.ID); !ok || id != v.ID {
		t.Fatal("order not linked to voucher")
	}
}

func TestAttachSameVoucherConflict(t *testing.T) {
	v := activeVoucher(pricing.KindPercentOrder, 10)
	s := newMemStore(v)
	l := newLedger(s)
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 1})
	order.VoucherID = &v.ID

	if _, err := l.Attach(context.Background(), order, "PROMO"); !errors.Is(err, ErrSameVoucherApplied) {
		t.Fatalf("expected ErrSameVoucherApplied, got %v", err)
	}
	if s.remaining(v.ID) != v.RemainingUsage {
		t.Fatal("conflicting attach must not consume usage")
	}
}

func TestAttachIneligibleLeavesUsageIntact(t *testing.T) {
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.MinOrderValue = 100_000
	s := newMemStore(v)
	l := newLedger(s)
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 1})

	if _, err := l.Attach(context.Background(), order, "PROMO"); !errors.Is(err, ErrBelowMinOrderValue) {
		t.Fatalf("expected ErrBelowMinOrderValue, got %v", err)
	}
	if s.remaining(v.ID) != v.RemainingUsage {
		t.Fatal("rejected attach must not consume usage")
	}
	if _, ok := s.linked(order.ID); ok {
		t.Fatal("rejected attach must not link")
	}
}

func TestAttachReplacesPreviousVoucher(t *testing.T) {
	prev := activeVoucher(pricing.KindPercentOrder, 10)
	prev.Code = "OLD"
	prev.RemainingUsage = 4
	next := activeVoucher(pricing.KindPercentOrder, 20)
	next.Code = "NEW"
	s := newMemStore(prev, next)
	l := newLedger(s)
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 1})
	order.VoucherID = &prev.ID

	got, err := l.Attach(context.Background(), order, "NEW")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got.ID != next.ID {
		t.Fatal("wrong voucher attached")
	}
	if s.remaining(prev.ID) != prev.RemainingUsage+1 {
		t.Fatal("replaced voucher's usage must be restored")
	}
	if s.remaining(next.ID) != next.RemainingUsage-1 {
		t.Fatal("new voucher's usage must be consumed")
	}
	if id, _ := s.linked(order.ID); id != next.ID {
		t.Fatal("order must link the new voucher")
	}
}

func TestAttachLastUsageDeactivates(t *testing.T) {
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.RemainingUsage = 1
	s := newMemStore(v)
	l := newLedger(s)
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 1})

	got, err := l.Attach(context.Background(), order, "PROMO")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got.RemainingUsage != 0 || got.IsActive {
		t.Fatalf("voucher must deactivate on last usage, got remaining=%d active=%v", got.RemainingUsage, got.IsActive)
	}
	s.mu.Lock()
	stored := *s.vouchers[v.ID]
	s.mu.Unlock()
	if stored.IsActive {
		t.Fatal("deactivation must be persisted")
	}
}

func TestAttachNotEditableOrder(t *testing.T) {
	v := activeVoucher(pricing.KindPercentOrder, 10)
	l := newLedger(newMemStore(v))
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 1})
	order.Editable = false

	if _, err := l.Attach(context.Background(), order, "PROMO"); !errors.Is(err, ErrOrderNotEditable) {
		t.Fatalf("expected ErrOrderNotEditable, got %v", err)
	}
}

func TestConcurrentAttachExhaustion(t *testing.T) {
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.RemainingUsage = 1
	s := newMemStore(v)
	l := newLedger(s)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 1})
			_, err := l.Attach(context.Background(), order, "PROMO")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, exhausted int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrNoRemainingUsage):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || exhausted != 1 {
		t.Fatalf("want exactly one winner, got %d successes and %d exhaustions", succeeded, exhausted)
	}
	if s.remaining(v.ID) != 0 {
		t.Fatalf("remaining usage = %d, want 0", s.remaining(v.ID))
	}
}

func TestDetachRestoresAndReactivates(t *testing.T) {
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.RemainingUsage = 0
	v.IsActive = false
	s := newMemStore(v)
	l := newLedger(s)
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 1})
	order.VoucherID = &v.ID
	s.links[order.ID] = v.ID

	released, err := l.Detach(context.Background(), order)
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	if released == nil || released.RemainingUsage != 1 {
		t.Fatalf("usage must be restored, got %+v", released)
	}
	if !released.IsActive {
		t.Fatal("voucher inside its window must reactivate on restore")
	}
	if _, ok := s.linked(order.ID); ok {
		t.Fatal("order link must be cleared")
	}
}

func TestDetachThenReattachRoundTrip(t *testing.T) {
	v := activeVoucher(pricing.KindPercentOrder, 20)
	s := newMemStore(v)
	l := newLedger(s)
	lines := []pricing.Line{{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 2, PromotionPercent: 10}}
	order := customerOrder(lines...)

	first, err := l.Attach(context.Background(), order, "PROMO")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	display, err := pricing.ComputeDisplay(lines, first.PricingView())
	if err != nil {
		t.Fatalf("display: %v", err)
	}
	before := pricing.ComputeTotals(display, first.PricingView())

	order.VoucherID = &first.ID
	if _, err := l.Detach(context.Background(), order); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if s.remaining(v.ID) != v.RemainingUsage {
		t.Fatalf("detach must restore usage to %d, got %d", v.RemainingUsage, s.remaining(v.ID))
	}

	order.VoucherID = nil
	second, err := l.Attach(context.Background(), order, "PROMO")
	if err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	display, err = pricing.ComputeDisplay(lines, second.PricingView())
	if err != nil {
		t.Fatalf("display after re-attach: %v", err)
	}
	after := pricing.ComputeTotals(display, second.PricingView())

	if before != after {
		t.Fatalf("round trip changed totals: before %+v after %+v", before, after)
	}
	if s.remaining(v.ID) != v.RemainingUsage-1 {
		t.Fatalf("round trip must cost exactly one usage, got %d", s.remaining(v.ID))
	}
	if id, ok := s.linked(order.ID); !ok || id != v.ID {
		t.Fatal("order must end linked to the voucher")
	}
}

func TestDetachWithoutVoucherIsNoop(t *testing.T) {
	l := newLedger(newMemStore())
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 1})

	released, err := l.Detach(context.Background(), order)
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	if released != nil {
		t.Fatal("nothing to release")
	}
}

func TestRestoreNeverExceedsMaxUsage(t *testing.T) {
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.MaxUsage = 5
	v.RemainingUsage = 5
	s := newMemStore(v)
	l := newLedger(s)
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 1})
	order.VoucherID = &v.ID

	released, err := l.Detach(context.Background(), order)
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	if released.RemainingUsage != 5 {
		t.Fatalf("remaining usage = %d, must be capped at max usage", released.RemainingUsage)
	}
}

func TestRevalidateForceDetachOnShrunkOrder(t *testing.T) {
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.MinOrderValue = 40_000
	v.RemainingUsage = 4
	s := newMemStore(v)
	l := newLedger(s)
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 20_000, Qty: 1})
	order.VoucherID = &v.ID
	s.links[order.ID] = v.ID

	reason, err := l.Revalidate(context.Background(), order)
	if err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if !errors.Is(reason, ErrBelowMinOrderValue) {
		t.Fatalf("expected ErrBelowMinOrderValue reason, got %v", reason)
	}
	if s.remaining(v.ID) != 5 {
		t.Fatal("force-detach must restore the held usage")
	}
	if _, ok := s.linked(order.ID); ok {
		t.Fatal("force-detach must clear the order link")
	}
}

func TestRevalidateKeepsLastUsageHolder(t *testing.T) {
	// The attached order consumed the voucher's final usage; re-validation
	// must not evict it for a state its own attach produced.
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.RemainingUsage = 0
	v.IsActive = false
	s := newMemStore(v)
	l := newLedger(s)
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 2})
	order.VoucherID = &v.ID
	s.links[order.ID] = v.ID

	reason, err := l.Revalidate(context.Background(), order)
	if err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if reason != nil {
		t.Fatalf("order must keep its voucher, got reason %v", reason)
	}
	if _, ok := s.linked(order.ID); !ok {
		t.Fatal("order link must survive re-validation")
	}
}

func TestReleaseOnCancelIgnoresEditability(t *testing.T) {
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.RemainingUsage = 2
	s := newMemStore(v)
	l := newLedger(s)
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 1})
	order.VoucherID = &v.ID
	order.Editable = false
	s.links[order.ID] = v.ID

	if err := l.ReleaseOnCancel(context.Background(), order); err != nil {
		t.Fatalf("release: %v", err)
	}
	if s.remaining(v.ID) != 3 {
		t.Fatal("cancellation must restore voucher usage")
	}
	if _, ok := s.linked(order.ID); ok {
		t.Fatal("cancellation must clear the order link")
	}
}

func TestAttachUnknownCode(t *testing.T) {
	l := newLedger(newMemStore())
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 1})

	if _, err := l.Attach(context.Background(), order, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
