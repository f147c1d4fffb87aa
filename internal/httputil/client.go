package httputil

import (
	"net/http"
	"time"
)

const DefaultTimeout = 10 * time.Second

// DefaultUserAgent identifies the client to api.weather.gov, which rejects
// requests without one.
const DefaultUserAgent = "nwsannounce/1.0 (github.com/lox/nwsannounce)"

// NewClient returns an HTTP client that bounds each request by timeout and
// sets a User-Agent on requests that lack one.
func NewClient(timeout time.Duration, userAgent string) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{base: http.DefaultTransport, userAgent: userAgent},
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}
