package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schooladmin/recordsync/internal/application/cache"
	"github.com/schooladmin/recordsync/internal/application/refindex"
	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/internal/infrastructure/external/restapi"
	"github.com/schooladmin/recordsync/pkg/circuitbreaker"
)

type courseLister struct{}

func (courseLister) List(context.Context, records.Kind) ([]records.Record, error) {
	return []records.Record{{"courseNumber": 10}, {"courseNumber": 11}}, nil
}

func newTestMetrics() *Metrics {
	return New(Config{Namespace: "test"})
}

func TestObserveRequest(t *testing.T) {
	m := newTestMetrics()

	m.ObserveRequest("GET", records.Course, restapi.OutcomeOK, 20*time.Millisecond)
	m.ObserveRequest("GET", records.Course, restapi.OutcomeOK, 30*time.Millisecond)
	m.ObserveRequest("POST", records.Course, restapi.OutcomeServerValidation, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "courses", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "courses", "server_validation")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.requestDuration))
}

func TestCacheAndIndexHooks(t *testing.T) {
	m := newTestMetrics()
	c := cache.New(courseLister{}, cache.WithLoadHook(m.ObserveLoad))
	c.OnReplace(m.ObserveSnapshot)
	ix := refindex.New(c, refindex.WithCheckHook(m.ObserveCheck))

	ok, err := ix.Exists(context.Background(), records.Course, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ix.Exists(context.Background(), records.Course, 11)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLoads.WithLabelValues("courses", cache.OutcomeApplied)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cachedRecords.WithLabelValues("courses")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.referenceChecks.WithLabelValues("courses", refindex.OutcomeRefreshed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.referenceChecks.WithLabelValues("courses", refindex.OutcomeHit)))
}

func TestObserveBreaker(t *testing.T) {
	m := newTestMetrics()

	m.ObserveBreaker("records-api", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState))

	m.ObserveBreaker("records-api", circuitbreaker.StateOpen, circuitbreaker.StateHalfOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState))
}

func TestHandler(t *testing.T) {
	m := New(DefaultConfig())
	m.ObservePrefetch("ok")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `recordsync_scheduler_prefetch_runs_total{outcome="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
