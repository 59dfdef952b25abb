package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMetricsCounters(t *testing.T) {
	m := NewLoadMetrics()

	m.RecordRequest(OutcomeSuccess, "measuring", 120*time.Millisecond, true)
	m.RecordRequest(OutcomeSuccess, "measuring", 80*time.Millisecond, true)
	m.RecordRequest(OutcomeFailed, "warmup", time.Second, false)
	m.RecordRetry(503)
	m.RecordRetry(429)
	m.RecordRetry(503)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues(OutcomeSuccess, "measuring")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues(OutcomeFailed, "warmup")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("429")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requestDuration))
}

func TestLoadMetricsGauges(t *testing.T) {
	m := NewLoadMetrics()
	m.IncInflight()
	m.IncInflight()
	m.DecInflight()
	m.SetEngineState(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.inflight))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.engineState))
}

func TestNilLoadMetricsIsNoop(t *testing.T) {
	var m *LoadMetrics
	assert.NotPanics(t, func() {
		m.RecordRequest(OutcomeSuccess, "measuring", time.Millisecond, true)
		m.RecordRetry(503)
		m.IncInflight()
		m.DecInflight()
		m.SetEngineState(1)
	})
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewLoadMetrics()
	m.RecordRequest(OutcomeSuccess, "measuring", 10*time.Millisecond, true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `qosflow_requests_total{outcome="success",phase="measuring"} 1`))
}

func TestServeRejectsBadAddress(t *testing.T) {
	m := NewLoadMetrics()
	_, err := m.Serve(context.Background(), "not-an-address")
	assert.Error(t, err)
}

func TestServeStopsWithContext(t *testing.T) {
	m := NewLoadMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done, err := m.Serve(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
