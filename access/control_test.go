package access

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordingController struct {
	name  string
	order *[]string
}

func (r *recordingController) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		*r.order = append(*r.order, r.name)
		next.ServeHTTP(w, req)
	})
}

func TestChain_Limit(t *testing.T) {
	var order []string
	c := Chain{
		&recordingController{name: "first", order: &order},
		nil,
		&recordingController{name: "second", order: &order},
	}
	visited := false
	next := http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		visited = true
	})
	c.Limit(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !visited {
		t.Error("Chain.Limit() did not call the next handler")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("controllers ran in order %v", order)
	}
}

func TestChain_Empty(t *testing.T) {
	visited := false
	next := http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		visited = true
	})
	Chain(nil).Limit(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !visited {
		t.Error("empty Chain rejected the request")
	}
}
