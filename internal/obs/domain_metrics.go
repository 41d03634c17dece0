package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics groups Prometheus collectors for the ordering domain. All
// record helpers are nil-safe so services can run without metrics in tests.
type DomainMetrics struct {
	VoucherRedemptions *prometheus.CounterVec
	VoucherReleases    *prometheus.CounterVec
	ForcedDetach       *prometheus.CounterVec
	OrderCancellations *prometheus.CounterVec
	PricingDuration    prometheus.Histogram
}

// NewDomainMetrics initialises and registers domain-specific collectors.
func NewDomainMetrics(namespace string, reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &DomainMetrics{
		VoucherRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_redemptions_total",
			Help:      "Count of voucher attach attempts by outcome.",
		}, []string{"result"}),
		VoucherReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_releases_total",
			Help:      "Count of voucher usage restorations by trigger.",
		}, []string{"trigger"}),
		ForcedDetach: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_forced_detach_total",
			Help:      "Count of vouchers force-detached after order changes, by reason.",
		}, []string{"reason"}),
		OrderCancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_cancellations_total",
			Help:      "Count of order cancellations by trigger.",
		}, []string{"trigger"}),
		PricingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_compute_duration_ms",
			Help:      "Latency of order display pricing computations in milliseconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		}),
	}
	mustRegisterCollector(reg, m.VoucherRedemptions, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.VoucherRedemptions = v
		}
	})
	mustRegisterCollector(reg, m.VoucherReleases, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.VoucherReleases = v
		}
	})
	mustRegisterCollector(reg, m.ForcedDetach, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.ForcedDetach = v
		}
	})
	mustRegisterCollector(reg, m.OrderCancellations, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.OrderCancellations = v
		}
	})
	mustRegisterCollector(reg, m.PricingDuration, func(existing prometheus.Collector) {
		if v, ok := existing.(prometheus.Histogram); ok {
			m.PricingDuration = v
		}
	})
	return m
}

// RecordRedemption counts a voucher attach attempt outcome.
func (m *DomainMetrics) RecordRedemption(result string) {
	if m == nil || m.VoucherRedemptions == nil {
		return
	}
	m.VoucherRedemptions.WithLabelValues(result).Inc()
}

// RecordRelease counts a voucher usage restoration.
func (m *DomainMetrics) RecordRelease(trigger string) {
	if m == nil || m.VoucherReleases == nil {
		return
	}
	m.VoucherReleases.WithLabelValues(trigger).Inc()
}

// RecordForcedDetach counts a force-detach with its validation reason.
func (m *DomainMetrics) RecordForcedDetach(reason string) {
	if m == nil || m.ForcedDetach == nil {
		return
	}
	m.ForcedDetach.WithLabelValues(reason).Inc()
}

// RecordCancellation counts an order cancellation.
func (m *DomainMetrics) RecordCancellation(trigger string) {
	if m == nil || m.OrderCancellations == nil {
		return
	}
	m.OrderCancellations.WithLabelValues(trigger).Inc()
}

// RecordPricing observes a pricing computation latency.
func (m *DomainMetrics) RecordPricing(d time.Duration) {
	if m == nil || m.PricingDuration == nil {
		return
	}
	m.PricingDuration.Observe(DurationMillis(d))
}
