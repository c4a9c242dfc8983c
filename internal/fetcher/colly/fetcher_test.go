package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seractech/planwatch/internal/planning"
)

func TestFetchGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "planwatch-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>ok</html>")
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "planwatch-test", Timeout: 5 * time.Second}, zap.NewNop())
	resp, err := f.Fetch(context.Background(), planning.Request{
		URL:    srv.URL + "/search",
		Header: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>ok</html>", string(resp.Body))
	require.Equal(t, "text/html", resp.Header.Get("Content-Type"))
}

func TestFetchPostForm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "01/06/2024", r.PostForm.Get("date(applicationReceivedStart)"))
		assert.Equal(t, []string{"a", "b"}, r.PostForm["multi"])
		_, _ = io.WriteString(w, "posted")
	}))
	defer srv.Close()

	f := New(Config{}, nil)
	form := url.Values{}
	form.Set("date(applicationReceivedStart)", "01/06/2024")
	form.Add("multi", "a")
	form.Add("multi", "b")
	resp, err := f.Fetch(context.Background(), planning.Request{Method: http.MethodPost, URL: srv.URL, Form: form})
	require.NoError(t, err)
	require.Equal(t, "posted", string(resp.Body))
}

func TestFetchSameURLTwice(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "again")
	}))
	defer srv.Close()

	f := New(Config{}, nil)
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), planning.Request{URL: srv.URL + "/search.do"})
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), calls.Load())
}

func TestFetchStatusErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/busy":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	f := New(Config{}, nil)

	resp, err := f.Fetch(context.Background(), planning.Request{URL: srv.URL + "/busy"})
	var statusErr *planning.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	require.Equal(t, 7*time.Second, statusErr.RetryAfter)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.True(t, planning.IsRetryable(err))

	_, err = f.Fetch(context.Background(), planning.Request{URL: srv.URL + "/missing"})
	require.True(t, errors.As(err, &statusErr))
	require.True(t, statusErr.NotFound())
	require.False(t, planning.IsRetryable(err))

	_, err = f.Fetch(context.Background(), planning.Request{URL: srv.URL + "/other"})
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadGateway, statusErr.Code)
}

func TestFetchRespectsRobots(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = io.WriteString(w, "User-agent: *\nDisallow: /private")
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	f := New(Config{RespectRobots: true}, nil)
	_, err := f.Fetch(context.Background(), planning.Request{URL: srv.URL + "/private/search"})
	require.ErrorIs(t, err, planning.ErrDisallowed)
	require.False(t, planning.IsRetryable(err))

	_, err = f.Fetch(context.Background(), planning.Request{URL: srv.URL + "/public"})
	require.NoError(t, err)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, planning.Request{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchTimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 50 * time.Millisecond}, nil)
	_, err := f.Fetch(context.Background(), planning.Request{URL: srv.URL})
	require.Error(t, err)
	require.True(t, planning.IsRetryable(err), "client timeouts are transient: %v", err)
}

func TestFetchCancelAbortsRequestInFlight(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	f := New(Config{Timeout: 10 * time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := f.Fetch(ctx, planning.Request{URL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("request kept running after its context was canceled")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	req := planning.Request{
		URL:    "https://example.com",
		Header: http.Header{"X-Trace": {"yes"}},
	}
	var result planning.Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Header.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	require.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	require.Zero(t, parseRetryAfter("", now))
	require.Zero(t, parseRetryAfter("-5", now))
	require.Zero(t, parseRetryAfter("soon", now))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
