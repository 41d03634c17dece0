package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/noah-isme/backend-resto/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("resto", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/orders/abc/voucher", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/v1/orders/{orderId}/voucher"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/v1/orders/{orderId}/voucher", "204"))
	if total != 1 {
		t.Fatalf("expected counter to be 1, got %v", total)
	}

	if samples := testutil.CollectAndCount(metrics.ReqDur); samples == 0 {
		t.Fatal("expected histogram sample")
	}

	if metrics.InFlight != nil {
		if val := testutil.ToFloat64(metrics.InFlight); val != 0 {
			t.Fatalf("expected no in-flight requests, got %v", val)
		}
	}
}

func TestMiddlewareWithoutMetricsPassesThrough(t *testing.T) {
	handler := obs.HTTPObs{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected 418 got %d", rr.Code)
	}
}

func TestDomainMetricsRecorders(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewDomainMetrics("resto", registry)

	metrics.RecordRedemption("attached")
	metrics.RecordRedemption("exhausted")
	metrics.RecordRelease("cancel")
	metrics.RecordForcedDetach("ORDER_VALUE_LESS_THAN_MIN_ORDER_VALUE")
	metrics.RecordCancellation("timeout")
	metrics.RecordPricing(2 * time.Millisecond)

	if got := testutil.ToFloat64(metrics.VoucherRedemptions.WithLabelValues("attached")); got != 1 {
		t.Fatalf("attached redemptions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.VoucherRedemptions.WithLabelValues("exhausted")); got != 1 {
		t.Fatalf("exhausted redemptions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.OrderCancellations.WithLabelValues("timeout")); got != 1 {
		t.Fatalf("timeout cancellations = %v, want 1", got)
	}
	if samples := testutil.CollectAndCount(metrics.PricingDuration); samples == 0 {
		t.Fatal("expected pricing histogram sample")
	}
}

func TestDomainMetricsNilSafe(t *testing.T) {
	var metrics *obs.DomainMetrics
	metrics.RecordRedemption("attached")
	metrics.RecordRelease("detach")
	metrics.RecordForcedDetach("VOUCHER_IS_NOT_ACTIVE")
	metrics.RecordCancellation("user")
	metrics.RecordPricing(time.Millisecond)
}
