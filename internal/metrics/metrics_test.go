package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

func TestObserveApply(t *testing.T) {
	m := New()

	m.ObserveApply(domain.ApplyResult{
		Enable:            true,
		Strategy:          domain.StrategyLink,
		Outcome:           domain.OutcomePartial,
		Written:           4,
		Failed:            3,
		PrivilegeFailures: 1,
		SourceMissing:     1,
	}, 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.applies.WithLabelValues("enable", "link", "partial")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.files.WithLabelValues("written")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("privilege")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("source_missing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("io")))
}

func TestCountersAndGauge(t *testing.T) {
	m := New()

	m.ObserveConflict()
	m.ObserveConflict()
	m.ObserveDecision("conflict", "override")
	m.SetEnabled(7)
	m.ObserveBisectRound()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.conflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("conflict", "override")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.enabled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bisectRounds))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveApply(domain.ApplyResult{}, time.Second)
		m.ObserveConflict()
		m.ObserveDecision("integrity", "cancel")
		m.SetEnabled(1)
		m.ObserveBisectRound()
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SetEnabled(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "modmanager_enabled_packages 2"), body)
}
