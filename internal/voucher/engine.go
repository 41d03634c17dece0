package voucher

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-resto/internal/common"
	"github.com/noah-isme/backend-resto/internal/config"
	"github.com/noah-isme/backend-resto/internal/pricing"
)

var (
	// ErrNotFound is returned when no voucher matches the supplied code.
	ErrNotFound = errors.New("voucher not found")
	// ErrNotActive is returned when the voucher is outside of its active window
	// or has been deactivated.
	ErrNotActive = errors.New("voucher is not active")
	// ErrNoRemainingUsage indicates the voucher has exhausted its usage quota.
	ErrNoRemainingUsage = errors.New("voucher has no remaining usage")
	// ErrBelowMinOrderValue indicates the order total did not meet the voucher requirement.
	ErrBelowMinOrderValue = errors.New("order value is less than min order value")
	// ErrMustVerifyIdentity is returned when the voucher requires a verified
	// phone number the order owner does not carry.
	ErrMustVerifyIdentity = errors.New("must verify identity to use voucher")
	// ErrMustBeCustomer is returned when a private voucher is redeemed by a non-customer.
	ErrMustBeCustomer = errors.New("user must be customer")
	// ErrProductNotApplied indicates a product outside the voucher's applicable set.
	ErrProductNotApplied = errors.New("product not applied to voucher")
	// ErrAtLeastOneProductMustApply is raised when no order line matches the
	// voucher's applicable products.
	ErrAtLeastOneProductMustApply = errors.New("at least one product must be applied to voucher")
	// ErrAllProductsMustApply is raised in strict mode when any order line
	// falls outside the voucher's applicable products.
	ErrAllProductsMustApply = errors.New("all products must be applied to voucher")
	// ErrSameVoucherApplied signals a no-op re-attach of the already applied voucher.
	ErrSameVoucherApplied = errors.New("voucher is the same as the previously applied one")
	// ErrOrderNotEditable is returned when the order no longer accepts voucher mutations.
	ErrOrderNotEditable = errors.New("order is not in an editable state")
	// ErrInvalidKind is returned for an unrecognised voucher mechanic.
	ErrInvalidKind = errors.New("invalid voucher type")
)

// Voucher is an order-level discount instrument with a redemption code,
// usage cap and one of three discount mechanics.
type Voucher struct {
	ID                   uuid.UUID
	Code                 string
	Title                string
	Kind                 pricing.VoucherKind
	Value                int64
	MinOrderValue        int64
	StartDate            time.Time
	EndDate              time.Time
	MaxUsage             int32
	RemainingUsage       int32
	IsActive             bool
	IsPrivate            bool
	VerificationIdentity bool
	ApplicableProducts   []uuid.UUID
}

// PricingView converts the voucher into the read-only shape the calculator consumes.
func (v Voucher) PricingView() *pricing.Voucher {
	view := &pricing.Voucher{Kind: v.Kind, Value: v.Value}
	if v.Kind == pricing.KindSamePriceProduct {
		view.ApplicableProducts = make(map[uuid.UUID]struct{}, len(v.ApplicableProducts))
		for _, id := range v.ApplicableProducts {
			view.ApplicableProducts[id] = struct{}{}
		}
	}
	return view
}

// Owner carries the order owner's attributes relevant to voucher eligibility.
type Owner struct {
	Role          string
	Phone         string
	PhoneVerified bool
}

// OrderContext is the snapshot of an order a voucher is evaluated against.
type OrderContext struct {
	ID        uuid.UUID
	VoucherID *uuid.UUID
	Lines     []pricing.Line
	Owner     Owner
	Editable  bool
}

// Validator is the pure eligibility gate. Each failed check yields its own
// sentinel so callers can surface the exact reason rather than a generic
// rejection.
type Validator struct {
	DayStartHour int
	Rule         config.ApplicabilityRule
}

func (val Validator) dayStart() int {
	if val.DayStartHour <= 0 || val.DayStartHour > 23 {
		return 7
	}
	return val.DayStartHour
}

// windowOpen reports whether now falls inside the voucher's redemption window.
// The start boundary is anchored at the business-day start hour.
func (val Validator) windowOpen(v Voucher, now time.Time) bool {
	start := v.StartDate
	opens := time.Date(start.Year(), start.Month(), start.Day(), val.dayStart(), 0, 0, 0, start.Location())
	if now.Before(opens) {
		return false
	}
	return !now.After(v.EndDate)
}

// Validate checks every eligibility rule for attaching v to the given order
// at instant now. It has no side effects and is safe to re-run on every order
// mutation.
func (val Validator) Validate(v Voucher, order OrderContext, now time.Time) error {
	if !v.IsActive || !val.windowOpen(v, now) {
		return ErrNotActive
	}
	if v.RemainingUsage <= 0 {
		return ErrNoRemainingUsage
	}
	if v.IsPrivate && order.Owner.Role != common.RoleCustomer {
		return ErrMustBeCustomer
	}
	if v.VerificationIdentity {
		if !order.Owner.PhoneVerified || isPlaceholderPhone(order.Owner.Phone) {
			return ErrMustVerifyIdentity
		}
	}

	switch v.Kind {
	case pricing.KindPercentOrder, pricing.KindFixedValue:
		display, err := pricing.ComputeDisplay(order.Lines, nil)
		if err != nil {
			return err
		}
		if pricing.SubtotalAfterPromotion(display) < v.MinOrderValue {
			return ErrBelowMinOrderValue
		}
	case pricing.KindSamePriceProduct:
		// The same-price value is not subtotal-relative, the minimum order
		// value check is skipped entirely.
		if err := val.checkApplicability(v, order.Lines); err != nil {
			return err
		}
	default:
		return ErrInvalidKind
	}
	return nil
}

func (val Validator) checkApplicability(v Voucher, lines []pricing.Line) error {
	applicable := make(map[uuid.UUID]struct{}, len(v.ApplicableProducts))
	for _, id := range v.ApplicableProducts {
		applicable[id] = struct{}{}
	}
	matched := 0
	for _, line := range lines {
		if _, ok := applicable[line.ProductID]; ok {
			matched++
		}
	}
	switch val.Rule {
	case config.ApplicabilityAll:
		if matched < len(lines) || len(lines) == 0 {
			return ErrAllProductsMustApply
		}
	default:
		if matched == 0 {
			return ErrAtLeastOneProductMustApply
		}
	}
	return nil
}

// CheckProduct reports whether a single product is covered by a same-price voucher.
func (val Validator) CheckProduct(v Voucher, productID uuid.UUID) error {
	if v.Kind != pricing.KindSamePriceProduct {
		return nil
	}
	for _, id := range v.ApplicableProducts {
		if id == productID {
			return nil
		}
	}
	return ErrProductNotApplied
}

func isPlaceholderPhone(phone string) bool {
	if phone == "" {
		return true
	}
	for i := 0; i < len(phone); i++ {
		if phone[i] != '0' && phone[i] != '+' && phone[i] != ' ' {
			return false
		}
	}
	return true
}
