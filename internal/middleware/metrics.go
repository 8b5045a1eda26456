package middleware

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/stanstork/pgtransfer/internal/metrics"
)

// Metrics records API request metrics. It must run inside the router so the
// matched route template is known.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		path := routeTemplate(r)
		metrics.APIRequests.WithLabelValues(r.Method, path, strconv.Itoa(m.Code)).Inc()
		metrics.APILatency.WithLabelValues(r.Method, path).Observe(m.Duration.Seconds())
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
