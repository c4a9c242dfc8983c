// Package collyfetcher implements planning.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/seractech/planwatch/internal/metrics"
	"github.com/seractech/planwatch/internal/planning"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements planning.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. The transport, cookie jar and timeout live on the
// collector backend, which every per-request clone shares.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	c.WithTransport(&robotsAwareTransport{base: newHTTPTransport(), logger: logger})
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger.Named("fetcher"),
	}
}

// Fetch executes a single request. Non-2xx responses come back as
// *planning.StatusError alongside the response.
func (f *Fetcher) Fetch(ctx context.Context, request planning.Request) (planning.Response, error) {
	var (
		result   planning.Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request, &fetchErr); err != nil {
		metrics.ObserveFetch(request.URL, 0, time.Since(start))
		f.logger.Debug("fetch failed", zap.String("url", request.URL), zap.Error(err))
		return planning.Response{}, err
	}
	metrics.ObserveFetch(request.URL, result.StatusCode, result.Duration)
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return result, &planning.StatusError{
			URL:        request.URL,
			Code:       result.StatusCode,
			RetryAfter: parseRetryAfter(result.Header.Get("Retry-After"), time.Now()),
		}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request planning.Request,
	start time.Time,
	result *planning.Response,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	// Binds the HTTP request to ctx so cancellation aborts it in flight.
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request planning.Request,
	start time.Time,
	result *planning.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = planning.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	request planning.Request,
	fetchErr *error,
) error {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	hdr := http.Header{}
	switch {
	case len(request.Form) > 0:
		body = strings.NewReader(request.Form.Encode())
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	case len(request.Body) > 0:
		body = bytes.NewReader(request.Body)
	}

	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, request.URL, body, nil, hdr)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return fmt.Errorf("fetch %s: %w", request.URL, planning.ErrDisallowed)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request planning.Request, r *colly.Request) {
	if request.Header == nil {
		return
	}
	for key, values := range request.Header {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
