package handler

import (
	"net/http"

	"github.com/m-lab/netprobe-server/access"
	"github.com/m-lab/netprobe-server/metrics"
	"github.com/m-lab/netprobe-server/spec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// onlyMethod answers 404 to requests using any method but method.
func onlyMethod(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func instrument(route string, next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(
		metrics.RequestCount.MustCurryWith(prometheus.Labels{"route": route}), next)
}

// Routes returns the complete netprobe HTTP surface. The probe endpoints
// (download, upload and session) are admitted through limit, which may be
// nil. Requests for unknown paths or with unexpected methods get 404;
// OPTIONS requests get an empty 200 on any path.
func (h *Handler) Routes(limit access.Controller) http.Handler {
	if limit == nil {
		limit = access.Chain(nil)
	}
	mux := http.NewServeMux()
	routes := []struct {
		path    string
		method  string
		handler http.HandlerFunc
		probe   bool
	}{
		{spec.DownloadURLPath, http.MethodGet, h.Download, true},
		{spec.UploadURLPath, http.MethodPost, h.Upload, true},
		{spec.MeasureURLPath, http.MethodPost, h.Measure, false},
		{spec.MeasuresURLPath, http.MethodGet, h.Measures, false},
		{spec.SessionURLPath, http.MethodGet, h.Session, true},
	}
	for _, rt := range routes {
		var next http.Handler = rt.handler
		if rt.probe {
			next = limit.Limit(next)
		}
		mux.Handle(rt.path, instrument(rt.path, onlyMethod(rt.method, next)))
	}
	mux.Handle("/", instrument("unknown", http.NotFoundHandler()))
	return AllowCrossOrigin(mux)
}
