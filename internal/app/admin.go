package app

import (
	"net/http"

	"github.com/qapish/labman/internal/adapter/metrics"
)

// newAdminHandler builds the admin surface: GET /metrics serving the
// exposition payload (501 when metrics are disabled), 404 for anything else.
func newAdminHandler(recorder *metrics.PrometheusRecorder) http.Handler {
	mux := http.NewServeMux()

	if recorder != nil {
		mux.Handle("GET /metrics", recorder.Handler())
	} else {
		mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusNotImplemented)
			_, _ = w.Write([]byte("metrics not enabled\n"))
		})
	}

	return mux
}
