// Package access implements admission control for the probe endpoints.
// Rejected requests receive 503 Service Unavailable.
package access

import (
	"net/http"
)

// Controller is the interface that all access control types should implement.
type Controller interface {
	Limit(next http.Handler) http.Handler
}

// Chain applies several controllers. The first controller sees the request
// first. A nil or empty Chain admits every request.
type Chain []Controller

// Limit implements Controller.
func (c Chain) Limit(next http.Handler) http.Handler {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i] != nil {
			next = c[i].Limit(next)
		}
	}
	return next
}
