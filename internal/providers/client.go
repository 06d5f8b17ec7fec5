package providers

import (
	"net/http"
	"time"
)

// NewHTTPClient returns a client whose only deadline is the wait for response
// headers. Reading a stream is bounded by the request context instead, so a
// long reply is never cut off mid-body.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}
