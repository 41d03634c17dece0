package pricing

import (
	"fmt"

	"github.com/google/uuid"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// VoucherKind enumerates the supported voucher mechanics.
type VoucherKind string

const (
	// KindPercentOrder discounts every line by a percentage of its
	// promotion-adjusted price.
	KindPercentOrder VoucherKind = "PERCENT_ORDER"
	// KindFixedValue deducts a flat amount at the order level.
	KindFixedValue VoucherKind = "FIXED_VALUE"
	// KindSamePriceProduct overrides the unit price of applicable products
	// with an absolute value.
	KindSamePriceProduct VoucherKind = "SAME_PRICE_PRODUCT"
)

// Voucher is the read-only view of a voucher the calculator needs.
type Voucher struct {
	Kind               VoucherKind
	Value              Money
	ApplicableProducts map[uuid.UUID]struct{}
}

// Applies reports whether the voucher's same-price override targets the product.
func (v Voucher) Applies(productID uuid.UUID) bool {
	if v.Kind != KindSamePriceProduct {
		return false
	}
	_, ok := v.ApplicableProducts[productID]
	return ok
}

// Line describes an order line used for pricing calculation.
type Line struct {
	ID               uuid.UUID
	ProductID        uuid.UUID
	UnitPrice        Money
	Qty              int
	PromotionPercent int64
}

// DisplayLine is the computed per-line pricing breakdown shown before payment.
type DisplayLine struct {
	LineID              uuid.UUID
	ProductID           uuid.UUID
	Qty                 int
	OriginalUnitPrice   Money
	PriceAfterPromotion Money
	FinalUnitPrice      Money
	PromotionDiscount   Money
	VoucherLineDiscount Money
}

// Totals aggregates computed pricing components for a whole order.
type Totals struct {
	SubtotalBeforeDiscount Money
	PromotionDiscountTotal Money
	VoucherDiscountTotal   Money
	FinalTotal             Money
}

// ComputeDisplay derives the per-line breakdown for the given lines and the
// optionally attached voucher. The promotion percentage is applied first; the
// voucher composes multiplicatively on top of it so stacked discounts can
// never drive a price below zero. FIXED_VALUE vouchers do not change line
// prices, their deduction happens once in ComputeTotals.
func ComputeDisplay(lines []Line, v *Voucher) ([]DisplayLine, error) {
	if v != nil && v.Kind == KindPercentOrder && (v.Value < 0 || v.Value > 100) {
		return nil, fmt.Errorf("voucher percent out of range: %d", v.Value)
	}
	out := make([]DisplayLine, 0, len(lines))
	for _, line := range lines {
		if line.Qty < 1 {
			return nil, fmt.Errorf("line %s: quantity must be at least 1, got %d", line.ID, line.Qty)
		}
		if line.UnitPrice < 0 {
			return nil, fmt.Errorf("line %s: negative unit price", line.ID)
		}
		if line.PromotionPercent < 0 || line.PromotionPercent > 100 {
			return nil, fmt.Errorf("line %s: promotion percent out of range: %d", line.ID, line.PromotionPercent)
		}

		afterPromo := line.UnitPrice * (100 - line.PromotionPercent) / 100
		dl := DisplayLine{
			LineID:              line.ID,
			ProductID:           line.ProductID,
			Qty:                 line.Qty,
			OriginalUnitPrice:   line.UnitPrice,
			PriceAfterPromotion: afterPromo,
			FinalUnitPrice:      afterPromo,
			PromotionDiscount:   line.UnitPrice - afterPromo,
		}

		if v != nil {
			switch v.Kind {
			case KindPercentOrder:
				final := afterPromo * (100 - v.Value) / 100
				dl.FinalUnitPrice = final
				dl.VoucherLineDiscount = afterPromo - final
			case KindSamePriceProduct:
				if v.Applies(line.ProductID) {
					final := v.Value
					if final > afterPromo {
						// The fixed same-price sits above the promoted price;
						// never surcharge, the override becomes a no-op.
						final = afterPromo
					}
					dl.FinalUnitPrice = final
					dl.VoucherLineDiscount = afterPromo - final
				}
			case KindFixedValue:
				// Order-level deduction, lines keep their promoted price.
			}
		}
		out = append(out, dl)
	}
	return out, nil
}

// SubtotalAfterPromotion sums promotion-adjusted line subtotals. Voucher
// minimum-order-value checks run against this figure so the minimum is never
// self-defeating.
func SubtotalAfterPromotion(display []DisplayLine) Money {
	var total Money
	for _, dl := range display {
		total += dl.PriceAfterPromotion * Money(dl.Qty)
	}
	return total
}

// ComputeTotals folds display lines into order totals.
func ComputeTotals(display []DisplayLine, v *Voucher) Totals {
	var t Totals
	for _, dl := range display {
		qty := Money(dl.Qty)
		t.SubtotalBeforeDiscount += dl.OriginalUnitPrice * qty
		t.PromotionDiscountTotal += dl.PromotionDiscount * qty
		t.VoucherDiscountTotal += dl.VoucherLineDiscount * qty
	}
	if v != nil && v.Kind == KindFixedValue {
		deduction := v.Value
		if after := SubtotalAfterPromotion(display); deduction > after {
			deduction = after
		}
		if deduction < 0 {
			deduction = 0
		}
		t.VoucherDiscountTotal = deduction
	}
	t.FinalTotal = t.SubtotalBeforeDiscount - t.PromotionDiscountTotal - t.VoucherDiscountTotal
	if t.FinalTotal < 0 {
		t.FinalTotal = 0
	}
	return t
}
