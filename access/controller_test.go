package access

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

func TestMaxController_Limit(t *testing.T) {
	tests := []struct {
		name    string
		Max     int64
		Current int64
		want    bool
		status  int
	}{
		{
			name:   "unlimited",
			Max:    0,
			want:   true,
			status: http.StatusOK,
		},
		{
			name:   "below-max",
			Max:    2,
			want:   true,
			status: http.StatusOK,
		},
		{
			name:    "rejected",
			Max:     1,
			Current: 1,
			want:    false,
			status:  http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &MaxController{
				Max:     tt.Max,
				Current: tt.Current,
			}
			visited := false
			next := http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				visited = true
			})
			req := httptest.NewRequest(http.MethodGet, "/download", nil)
			rw := httptest.NewRecorder()

			c.Limit(next).ServeHTTP(rw, req)

			if visited != tt.want {
				t.Errorf("MaxController.Limit() got %t, want %t", visited, tt.want)
			}
			if rw.Code != tt.status {
				t.Errorf("MaxController.Limit() status %d, want %d", rw.Code, tt.status)
			}
			if c.Current != tt.Current {
				t.Errorf("MaxController.Current = %d after the request, want %d", c.Current, tt.Current)
			}
		})
	}
}

func TestMaxController_Concurrent(t *testing.T) {
	c := &MaxController{Max: 2}
	release := make(chan struct{})
	var entered sync.WaitGroup
	entered.Add(2)
	next := http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		entered.Done()
		<-release
	})
	h := c.Limit(next)
	var done sync.WaitGroup
	for i := 0; i < 2; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		}()
	}
	entered.Wait()
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Errorf("third request got %d, want 503", rw.Code)
	}
	close(release)
	done.Wait()
	if atomic.LoadInt64(&c.Current) != 0 {
		t.Errorf("Current = %d after all requests", c.Current)
	}
}
