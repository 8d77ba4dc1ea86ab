package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qapish/labman/internal/adapter/metrics"
)

func TestAdminMetricsEnabled(t *testing.T) {
	recorder := metrics.NewPrometheusRecorder()
	recorder.RecordError("local", "timeout")

	handler := newAdminHandler(recorder)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rec.Body.String(), "labman_errors_total")
}

func TestAdminMetricsDisabled(t *testing.T) {
	handler := newAdminHandler(nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestAdminUnknownPathIs404(t *testing.T) {
	handler := newAdminHandler(metrics.NewPrometheusRecorder())

	for _, path := range []string{"/", "/healthz", "/metrics/extra"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
