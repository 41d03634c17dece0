package voucher

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-resto/internal/common"
	"github.com/noah-isme/backend-resto/internal/config"
	"github.com/noah-isme/backend-resto/internal/pricing"
)

func activeVoucher(kind pricing.VoucherKind, value int64) Voucher {
	now := time.Now()
	return Voucher{
		ID:             uuid.New(),
		Code:           "PROMO",
		Kind:           kind,
		Value:          value,
		StartDate:      now.AddDate(0, 0, -3),
		EndDate:        now.AddDate(0, 0, 3),
		MaxUsage:       10,
		RemainingUsage: 5,
		IsActive:       true,
	}
}

func customerOrder(lines ...pricing.Line) OrderContext {
	return OrderContext{
		ID:       uuid.New(),
		Lines:    lines,
		Owner:    Owner{Role: common.RoleCustomer, Phone: "84901234567", PhoneVerified: true},
		Editable: true,
	}
}

func TestValidateWindowOpensAtBusinessDayStart(t *testing.T) {
	val := Validator{DayStartHour: 7}
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.StartDate = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	v.EndDate = time.Date(2025, 6, 20, 23, 59, 59, 0, time.UTC)
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 10_000, Qty: 1})

	early := time.Date(2025, 6, 10, 6, 59, 0, 0, time.UTC)
	if err := val.Validate(v, order, early); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive before 07:00, got %v", err)
	}
	open := time.Date(2025, 6, 10, 7, 0, 0, 0, time.UTC)
	if err := val.Validate(v, order, open); err != nil {
		t.Fatalf("expected valid at 07:00, got %v", err)
	}
	late := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)
	if err := val.Validate(v, order, late); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive after end date, got %v", err)
	}
}

func TestValidateRemainingUsage(t *testing.T) {
	val := Validator{}
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.RemainingUsage = 0
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 10_000, Qty: 1})
	if err := val.Validate(v, order, time.Now()); !errors.Is(err, ErrNoRemainingUsage) {
		t.Fatalf("expected ErrNoRemainingUsage, got %v", err)
	}
}

func TestValidateMinOrderValueUsesPromotedSubtotal(t *testing.T) {
	val := Validator{}
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.MinOrderValue = 50_000
	// 60000 before promotion, 45000 after 25% promotion.
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 30_000, Qty: 2, PromotionPercent: 25})
	if err := val.Validate(v, order, time.Now()); !errors.Is(err, ErrBelowMinOrderValue) {
		t.Fatalf("expected ErrBelowMinOrderValue against the promoted subtotal, got %v", err)
	}
}

func TestValidateSamePriceSkipsMinOrderValue(t *testing.T) {
	productID := uuid.New()
	val := Validator{}
	v := activeVoucher(pricing.KindSamePriceProduct, 15_000)
	v.MinOrderValue = 1_000_000
	v.ApplicableProducts = []uuid.UUID{productID}
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: productID, UnitPrice: 20_000, Qty: 1})
	if err := val.Validate(v, order, time.Now()); err != nil {
		t.Fatalf("same price voucher must skip min order value, got %v", err)
	}
}

func TestValidateIdentityRequirement(t *testing.T) {
	val := Validator{}
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.VerificationIdentity = true
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 10_000, Qty: 1})

	order.Owner.PhoneVerified = false
	if err := val.Validate(v, order, time.Now()); !errors.Is(err, ErrMustVerifyIdentity) {
		t.Fatalf("expected ErrMustVerifyIdentity, got %v", err)
	}
	order.Owner.PhoneVerified = true
	order.Owner.Phone = "0000000000"
	if err := val.Validate(v, order, time.Now()); !errors.Is(err, ErrMustVerifyIdentity) {
		t.Fatalf("placeholder phone must not pass identity check, got %v", err)
	}
	order.Owner.Phone = "84901234567"
	if err := val.Validate(v, order, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatePrivateVoucherRequiresCustomer(t *testing.T) {
	val := Validator{}
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.IsPrivate = true
	order := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uuid.New(), UnitPrice: 10_000, Qty: 1})
	order.Owner.Role = "staff"
	if err := val.Validate(v, order, time.Now()); !errors.Is(err, ErrMustBeCustomer) {
		t.Fatalf("expected ErrMustBeCustomer, got %v", err)
	}
}

func TestValidateApplicabilityModes(t *testing.T) {
	covered := uuid.New()
	uncovered := uuid.New()
	v := activeVoucher(pricing.KindSamePriceProduct, 15_000)
	v.ApplicableProducts = []uuid.UUID{covered}
	mixed := customerOrder(
		pricing.Line{ID: uuid.New(), ProductID: covered, UnitPrice: 20_000, Qty: 1},
		pricing.Line{ID: uuid.New(), ProductID: uncovered, UnitPrice: 30_000, Qty: 1},
	)
	none := customerOrder(pricing.Line{ID: uuid.New(), ProductID: uncovered, UnitPrice: 30_000, Qty: 1})

	atLeastOne := Validator{Rule: config.ApplicabilityAtLeastOne}
	if err := atLeastOne.Validate(v, mixed, time.Now()); err != nil {
		t.Fatalf("mixed order should pass at_least_one, got %v", err)
	}
	if err := atLeastOne.Validate(v, none, time.Now()); !errors.Is(err, ErrAtLeastOneProductMustApply) {
		t.Fatalf("expected ErrAtLeastOneProductMustApply, got %v", err)
	}

	all := Validator{Rule: config.ApplicabilityAll}
	if err := all.Validate(v, mixed, time.Now()); !errors.Is(err, ErrAllProductsMustApply) {
		t.Fatalf("expected ErrAllProductsMustApply in strict mode, got %v", err)
	}
}

func TestCheckProduct(t *testing.T) {
	covered := uuid.New()
	val := Validator{}
	v := activeVoucher(pricing.KindSamePriceProduct, 15_000)
	v.ApplicableProducts = []uuid.UUID{covered}
	if err := val.CheckProduct(v, covered); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := val.CheckProduct(v, uuid.New()); !errors.Is(err, ErrProductNotApplied) {
		t.Fatalf("expected ErrProductNotApplied, got %v", err)
	}
}
