// Package probetest runs an in-process netprobe server for tests.
package probetest

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/m-lab/netprobe-server/download"
	"github.com/m-lab/netprobe-server/handler"
	"github.com/m-lab/netprobe-server/samples"
)

// Small download shape used by NewServer.
const (
	ChunkSize  = 1 << 10
	ChunkCount = 8
)

// NewServer starts a netprobe server with a small, lightly paced download
// and no admission control. The server is closed when the test ends. The
// returned handler may be modified before the first request.
func NewServer(t testing.TB) (*handler.Handler, *httptest.Server) {
	h := handler.New(samples.NewStore())
	h.DownloadParams = download.Params{
		ChunkSize:  ChunkSize,
		ChunkCount: ChunkCount,
		Delay:      time.Millisecond,
	}
	h.MaxUploadBytes = 1 << 20
	// Routes is wrapped lazily so that changes to h are honored.
	srv := httptest.NewServer(lazyRoutes{h})
	t.Cleanup(srv.Close)
	return h, srv
}

type lazyRoutes struct {
	h *handler.Handler
}

func (l lazyRoutes) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.h.Routes(nil).ServeHTTP(w, r)
}
