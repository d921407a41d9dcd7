package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordLookup("postcode-search", "success")
	m.RecordLookup("postcode-search", "success")
	m.RecordUsageWriteFailure("postcode-search")
	m.RecordRateLimitDenial()
	m.RecordProviderCall("postcodes_io", "geocode", "success", 20*time.Millisecond)
	m.RecordHTTPRequest("GET", "/health", "200", time.Millisecond)
	m.SetCircuitBreakerState("postcodes_io", 2)
	m.RecordCircuitBreakerTrip("postcodes_io")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LookupsTotal.WithLabelValues("postcode-search", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UsageWriteFailures.WithLabelValues("postcode-search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitDenials))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRequestsTotal.WithLabelValues("postcodes_io", "geocode", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("postcodes_io")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerTrips.WithLabelValues("postcodes_io")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLookup("e", "o")
		m.RecordUsageWriteFailure("e")
		m.RecordRateLimitDenial()
		m.RecordProviderCall("p", "o", "x", time.Second)
		m.RecordHTTPRequest("GET", "/", "200", time.Second)
		m.SetCircuitBreakerState("b", 0)
		m.RecordCircuitBreakerTrip("b")
	})
}
