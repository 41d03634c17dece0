package voucher

import (
	"testing"
	"time"

	"github.com/noah-isme/backend-resto/internal/pricing"
)

func TestReconcileDeactivatesOnExhaustion(t *testing.T) {
	m := Lifecycle{DayStartHour: 7}
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.RemainingUsage = 0

	if !m.Reconcile(&v, 1, time.Now()) {
		t.Fatal("expected a state change when usage runs out")
	}
	if v.IsActive {
		t.Fatal("voucher must deactivate at zero remaining usage")
	}
}

func TestReconcileReactivatesInsideWindow(t *testing.T) {
	m := Lifecycle{DayStartHour: 7}
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.IsActive = false
	v.RemainingUsage = 1

	if !m.Reconcile(&v, 0, time.Now()) {
		t.Fatal("expected reactivation after usage restore")
	}
	if !v.IsActive {
		t.Fatal("voucher must reactivate while the window is open")
	}
}

func TestReconcileDoesNotReactivateExpired(t *testing.T) {
	m := Lifecycle{DayStartHour: 7}
	v := activeVoucher(pricing.KindPercentOrder, 10)
	v.IsActive = false
	v.RemainingUsage = 1
	v.StartDate = time.Now().AddDate(0, 0, -10)
	v.EndDate = time.Now().AddDate(0, 0, -2)

	if m.Reconcile(&v, 0, time.Now()) {
		t.Fatal("expired voucher must stay inactive")
	}
	if v.IsActive {
		t.Fatal("expired voucher flipped active")
	}
}

func TestReconcileNoopWithoutUsageChange(t *testing.T) {
	m := Lifecycle{}
	v := activeVoucher(pricing.KindPercentOrder, 10)

	if m.Reconcile(&v, v.RemainingUsage, time.Now()) {
		t.Fatal("unchanged usage must not touch the flag")
	}
}
