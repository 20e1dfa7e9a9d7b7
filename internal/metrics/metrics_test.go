package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Lookup("problem", TierLocal, ResultHit)
	m.Lookup("problem", TierLocal, ResultHit)
	m.Lookup("problem", TierRemote, ResultMiss)
	m.Invalidation("search")
	m.QuotaDecision(ResultDenied)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("problem", TierLocal, ResultHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("problem", TierRemote, ResultMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheInvalidations.WithLabelValues("search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaDecisions.WithLabelValues(ResultDenied)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Lookup("tags", TierOrigin, ResultHit)
		m.Invalidation("tags")
		m.QuotaDecision(ResultAllowed)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Lookup("count", TierRemote, ResultHit)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `cache_lookups_total{resource="count",result="hit",tier="remote"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetrics_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.QuotaDecision(ResultAllowed)

	assert.Equal(t, 0.0, testutil.ToFloat64(b.QuotaDecisions.WithLabelValues(ResultAllowed)))
}
