package monitor_test

import (
	"encoding/json"
	"github.com/jt05610/flowchem/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "flowchem_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)
	r := monitor.NewRouter(reg, func() monitor.Status {
		return monitor.Status{Name: "quench", State: "running", Elapsed: 1.5}
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var s monitor.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
	assert.Equal(t, monitor.Status{Name: "quench", State: "running", Elapsed: 1.5}, s)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "flowchem_test_total 3"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
