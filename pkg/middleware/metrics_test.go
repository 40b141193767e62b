package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

// metricValue reads the current value of a single counter or gauge.
func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestPrometheusMetrics_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics("metrics-test"))
	r.Delete("/admin/accounts/{username}/session", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, name := range []string{"alice", "bob", "carol"} {
		req := httptest.NewRequest(http.MethodDelete, "/admin/accounts/"+name+"/session", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	counter := httpRequestsTotal.WithLabelValues("metrics-test", http.MethodDelete, "/admin/accounts/{username}/session", "204")
	assert.Equal(t, float64(3), metricValue(t, counter))
}

func TestPrometheusMetrics_InFlightReturnsToZero(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics("metrics-test-inflight"))

	var during float64
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		during = metricValue(t, httpRequestsInFlight.WithLabelValues("metrics-test-inflight"))
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, float64(1), during)
	assert.Equal(t, float64(0), metricValue(t, httpRequestsInFlight.WithLabelValues("metrics-test-inflight")))
}
