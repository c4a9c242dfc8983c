package planning

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Request describes one outbound HTTP call.
type Request struct {
	Method string
	URL    string
	// Form is sent url-encoded as the body of POST requests.
	Form url.Values
	// Body is sent verbatim when Form is empty.
	Body   []byte
	Header http.Header
}

// Response captures what a fetcher returned.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs HTTP requests. Non-2xx responses are reported as *StatusError.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
