package pricing

import (
	"testing"

	"github.com/google/uuid"
)

func TestComputeDisplayPromotionThenPercentVoucher(t *testing.T) {
	line := Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 50_000, Qty: 2, PromotionPercent: 10}
	voucher := &Voucher{Kind: KindPercentOrder, Value: 20}

	display, err := ComputeDisplay([]Line{line}, voucher)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dl := display[0]
	if dl.PriceAfterPromotion != 45_000 {
		t.Fatalf("expected promoted price 45000, got %d", dl.PriceAfterPromotion)
	}
	if dl.FinalUnitPrice != 36_000 {
		t.Fatalf("expected final unit price 36000, got %d", dl.FinalUnitPrice)
	}
	totals := ComputeTotals(display, voucher)
	if totals.VoucherDiscountTotal != 18_000 {
		t.Fatalf("expected voucher discount 18000, got %d", totals.VoucherDiscountTotal)
	}
	if totals.FinalTotal != 72_000 {
		t.Fatalf("expected final total 72000, got %d", totals.FinalTotal)
	}
}

func TestComputeDisplayRejectsZeroQty(t *testing.T) {
	_, err := ComputeDisplay([]Line{{ID: uuid.New(), UnitPrice: 1000, Qty: 0}}, nil)
	if err == nil {
		t.Fatal("expected error for zero quantity")
	}
}

func TestComputeDisplayRejectsPercentVoucherOutOfRange(t *testing.T) {
	line := Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 10_000, Qty: 1}
	for _, value := range []int64{-10, 101, 150} {
		if _, err := ComputeDisplay([]Line{line}, &Voucher{Kind: KindPercentOrder, Value: value}); err == nil {
			t.Fatalf("expected error for percent value %d", value)
		}
	}
	if _, err := ComputeDisplay([]Line{line}, &Voucher{Kind: KindPercentOrder, Value: 100}); err != nil {
		t.Fatalf("100 percent is the inclusive bound: %v", err)
	}
}

func TestFixedValueClampedToPromotedSubtotal(t *testing.T) {
	line := Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 20_000, Qty: 1}
	voucher := &Voucher{Kind: KindFixedValue, Value: 30_000}

	display, err := ComputeDisplay([]Line{line}, voucher)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if display[0].FinalUnitPrice != 20_000 {
		t.Fatalf("fixed value voucher must not change line prices, got %d", display[0].FinalUnitPrice)
	}
	totals := ComputeTotals(display, voucher)
	if totals.VoucherDiscountTotal != 20_000 {
		t.Fatalf("expected clamped discount 20000, got %d", totals.VoucherDiscountTotal)
	}
	if totals.FinalTotal != 0 {
		t.Fatalf("expected final total 0, got %d", totals.FinalTotal)
	}
}

func TestSamePriceOverrideNeverSurcharges(t *testing.T) {
	productID := uuid.New()
	other := uuid.New()
	voucher := &Voucher{
		Kind:               KindSamePriceProduct,
		Value:              25_000,
		ApplicableProducts: map[uuid.UUID]struct{}{productID: {}},
	}
	lines := []Line{
		{ID: uuid.New(), ProductID: productID, UnitPrice: 40_000, Qty: 1},
		{ID: uuid.New(), ProductID: productID, UnitPrice: 30_000, Qty: 1, PromotionPercent: 50},
		{ID: uuid.New(), ProductID: other, UnitPrice: 10_000, Qty: 3},
	}
	display, err := ComputeDisplay(lines, voucher)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if display[0].FinalUnitPrice != 25_000 || display[0].VoucherLineDiscount != 15_000 {
		t.Fatalf("expected override to 25000 with discount 15000, got %d/%d",
			display[0].FinalUnitPrice, display[0].VoucherLineDiscount)
	}
	// Promoted price 15000 is already below the same-price value.
	if display[1].FinalUnitPrice != 15_000 || display[1].VoucherLineDiscount != 0 {
		t.Fatalf("expected no surcharge, got %d/%d", display[1].FinalUnitPrice, display[1].VoucherLineDiscount)
	}
	if display[2].VoucherLineDiscount != 0 {
		t.Fatalf("non-applicable line must be unaffected, got discount %d", display[2].VoucherLineDiscount)
	}
	for _, dl := range display {
		if dl.FinalUnitPrice > dl.PriceAfterPromotion {
			t.Fatalf("line %s priced above its promoted price", dl.LineID)
		}
	}
}

func TestTotalsInvariants(t *testing.T) {
	lines := []Line{
		{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 12_345, Qty: 3, PromotionPercent: 15},
		{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 9_999, Qty: 1},
	}
	for _, voucher := range []*Voucher{
		nil,
		{Kind: KindPercentOrder, Value: 35},
		{Kind: KindFixedValue, Value: 1_000_000},
	} {
		display, err := ComputeDisplay(lines, voucher)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		totals := ComputeTotals(display, voucher)
		if totals.FinalTotal < 0 {
			t.Fatalf("final total must not be negative, got %d", totals.FinalTotal)
		}
		if totals.PromotionDiscountTotal+totals.VoucherDiscountTotal > totals.SubtotalBeforeDiscount {
			t.Fatal("discounts exceed subtotal")
		}
		want := totals.SubtotalBeforeDiscount - totals.PromotionDiscountTotal - totals.VoucherDiscountTotal
		if want < 0 {
			want = 0
		}
		if totals.FinalTotal != want {
			t.Fatalf("totals do not reconcile: %+v", totals)
		}
	}
}
