package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCompletion(t *testing.T) {
	m := New()

	m.ObserveCompletion("compare", 1.25, nil)
	m.ObserveCompletion("compare", 0.5, nil)
	m.ObserveCompletion("compare", 0, errors.New("boom"))

	assert.InDelta(t, 2, testutil.ToFloat64(m.completions.WithLabelValues("compare", "ok")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.completions.WithLabelValues("compare", "error")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.inference))
}

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun("single", 3, 2*time.Second)

	assert.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("single")), 1e-9)
}

func TestRegisterServesMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	engine := gin.New()
	m.Register(engine, "/metrics")
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ping", http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/ping", "200")), 1e-9)

	rr = httptest.NewRecorder()
	engine.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "prompt_tester_http_requests_total")
}
