package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/hcpcs-cli/internal/resilience"
	"github.com/sells-group/hcpcs-cli/internal/scrape"
)

// DefaultUserAgent identifies the harvester on every request.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/118.0.5993.90 Safari/537.36"

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration

	// Retry is the retry policy. Its Backoff is filled in from BlockBackoff
	// and ErrorBackoff unless already set.
	Retry        resilience.RetryConfig
	BlockBackoff resilience.Window
	ErrorBackoff resilience.Window

	// RequestsPerSecond and Burst size the limiter shared by all callers.
	// Zero means unlimited.
	RequestsPerSecond float64
	Burst             int

	// BreakerThreshold is the number of consecutive soft blocks that opens
	// the circuit. Zero disables the breaker.
	BreakerThreshold int
	BreakerReset     time.Duration

	MaxConnsPerHost int
	MaxBodyBytes    int64

	// Transport overrides the default transport (tests).
	Transport http.RoundTripper
}

// AdaptiveLimiter wraps a rate.Limiter that slows down when the origin pushes
// back. On success it increases the rate by 20% (up to the initial rate).
// On a soft block it halves the rate (down to initial/4).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive limiter. A non-positive rate yields
// an unlimited limiter that never adapts.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	if initialRate <= 0 {
		initialRate = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to the initial rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf || a.currentRate >= a.maxRate {
		return
	}
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnBlock halves the rate after a soft block.
func (a *AdaptiveLimiter) OnBlock() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf {
		return
	}
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: slowing down after soft block",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher using one shared net/http client.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	retry   resilience.RetryConfig
	limiter *AdaptiveLimiter
	breaker *resilience.BlockBreaker
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 << 20
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = 32
	}
	if opts.BlockBackoff == (resilience.Window{}) {
		opts.BlockBackoff = resilience.Window{Min: 2 * time.Second, Max: 7 * time.Second, Cap: 60 * time.Second}
	}
	if opts.ErrorBackoff == (resilience.Window{}) {
		opts.ErrorBackoff = resilience.Window{Min: time.Second, Max: 3 * time.Second, Cap: 30 * time.Second}
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConnsPerHost: opts.MaxConnsPerHost,
			MaxConnsPerHost:     opts.MaxConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	f := &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		limiter: NewAdaptiveLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
	}

	f.retry = opts.Retry
	if f.retry.Backoff == nil {
		f.retry.Backoff = f.backoff
	}

	if opts.BreakerThreshold > 0 {
		f.breaker = resilience.NewBlockBreaker(opts.BreakerThreshold, opts.BreakerReset,
			func(from, to resilience.BreakerState) {
				zap.L().Warn("fetch breaker changed state",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			})
	}

	return f
}

// Fetch GETs rawURL, retrying transient failures per the retry policy.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		if err == nil {
			err = eris.Errorf("unsupported url %q", rawURL)
		}
		return "", &FetchError{Kind: Permanent, URL: rawURL, Cause: err}
	}

	retry := f.retry
	retry.OnRetry = resilience.RetryLogger("fetch", rawURL)

	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (string, error) {
		return f.attempt(ctx, rawURL)
	})
	if err != nil {
		return "", classify(rawURL, err)
	}
	return body, nil
}

// attempt performs one rate-limited, breaker-guarded GET.
func (f *HTTPFetcher) attempt(ctx context.Context, rawURL string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "rate limiter wait")
	}

	if f.breaker == nil {
		return f.get(ctx, rawURL)
	}

	body, err := resilience.Guard(ctx, f.breaker, func(ctx context.Context) (string, error) {
		return f.get(ctx, rawURL)
	})
	if errors.Is(err, resilience.ErrBreakerOpen) {
		return "", resilience.NewSoftBlockError(err, 0)
	}
	return body, err
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &FetchError{Kind: Permanent, URL: rawURL, Cause: eris.Wrap(err, "create request")}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return "", &FetchError{Kind: Permanent, URL: rawURL, Cause: err}
		}
		return "", resilience.NewTransientError(eris.Wrap(err, "http get"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	// One byte past the cap tells a full body from a truncated one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return "", resilience.NewTransientError(eris.Wrap(err, "read body"), resp.StatusCode)
	}

	switch {
	case resilience.IsSoftBlockStatus(resp.StatusCode):
		f.limiter.OnBlock()
		return "", resilience.NewSoftBlockError(eris.Errorf("http %d", resp.StatusCode), resp.StatusCode)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return "", resilience.NewTransientError(eris.Errorf("http %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", &FetchError{
			Kind:   Permanent,
			Status: resp.StatusCode,
			URL:    rawURL,
			Cause:  eris.Errorf("http %d", resp.StatusCode),
		}
	}

	if int64(len(body)) > f.opts.MaxBodyBytes {
		return "", &FetchError{
			Kind:   Permanent,
			Status: resp.StatusCode,
			URL:    rawURL,
			Cause:  eris.Errorf("response body exceeds %d bytes", f.opts.MaxBodyBytes),
		}
	}

	if blocked, kind := scrape.DetectBlock(resp, body); blocked {
		f.limiter.OnBlock()
		return "", resilience.NewSoftBlockError(eris.Errorf("blocked (%s)", kind), resp.StatusCode)
	}

	f.limiter.OnSuccess()
	return string(body), nil
}

// backoff picks the block or error window depending on what went wrong.
func (f *HTTPFetcher) backoff(attempt int, err error) time.Duration {
	if resilience.IsSoftBlock(err) {
		return f.opts.BlockBackoff.Delay(attempt)
	}
	return f.opts.ErrorBackoff.Delay(attempt)
}

// Limiter exposes the shared rate limiter.
func (f *HTTPFetcher) Limiter() *AdaptiveLimiter {
	return f.limiter
}
