package access

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	currentRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netprobe_access_maxcontroller_current",
			Help: "Current number of requests handled by the access maxcontroller.",
		},
	)
	maxRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netprobe_access_maxcontroller_requests_total",
			Help: "Total number of requests handled by the access maxcontroller.",
		},
		[]string{"request"},
	)
)

// MaxController caps the number of download, upload and session probes in
// flight. Routes wraps every probe endpoint with the same MaxController, so
// Max bounds their sum. Requests over the cap get 503 without running the
// probe; a Max of zero admits everything. Current counts rejected requests
// too while they are being answered.
type MaxController struct {
	Max     int64
	Current int64
}

// Limit runs next while holding one of the Max slots.
func (c *MaxController) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt64(&c.Current, 1)
		currentRequests.Set(float64(cur))
		defer func() {
			cur := atomic.AddInt64(&c.Current, -1)
			currentRequests.Set(float64(cur))
		}()
		if c.Max > 0 && cur > c.Max {
			maxRequests.WithLabelValues("rejected").Inc()
			// 503 - https://tools.ietf.org/html/rfc7231#section-6.6.4
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		maxRequests.WithLabelValues("accepted").Inc()
		next.ServeHTTP(w, r)
	})
}
