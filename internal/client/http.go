package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"assetstore/extractor/internal/config"
	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/metrics"
	"assetstore/extractor/internal/proxy"

	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

// ErrCircuitOpen is returned while fetching is paused after repeated blocks.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// maxRedirectPolicy allows exactly one redirect hop.
const maxRedirectPolicy = 2

type httpFetcher struct {
	rl            ratelimit.Limiter
	config        config.FetcherConfig
	httpClient    *resty.Client
	proxySupplier proxy.ProxySupplier
	metrics       *metrics.Metrics

	// Circuit breaker and proxy rotation share one lock. A block rotates the
	// proxy for later requests; a block right after a rotation, or with no
	// other proxy to rotate to, opens the circuit.
	circuitBreakerMutex sync.RWMutex
	currentProxy        string
	rotated             bool
	blockedUntil        time.Time
	circuitBreakerDelay time.Duration
}

// NewHTTPFetcher fetches static HTML without a browser. It cannot clear
// anti-bot interstitials; those pages are returned with a warning. A blocked
// request is never retried within the same call.
func NewHTTPFetcher(cfg config.FetcherConfig, proxySupplier proxy.ProxySupplier, m *metrics.Metrics) PageFetcher {
	return newHTTPFetcher(cfg, proxySupplier, m)
}

func newHTTPFetcher(cfg config.FetcherConfig, proxySupplier proxy.ProxySupplier, m *metrics.Metrics) *httpFetcher {
	rps := cfg.MaxRequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	f := &httpFetcher{
		rl:                  ratelimit.New(rps),
		config:              cfg,
		proxySupplier:       proxySupplier,
		metrics:             m,
		circuitBreakerDelay: 5 * time.Minute,
	}

	// Get initial proxy
	if proxySupplier != nil {
		if proxyURL := proxySupplier.Get(); proxyURL != "" {
			f.currentProxy = proxyURL
			log.Infof("🔗 Using initial proxy: %s", proxyURL)
		}
	}

	// Proxy is resolved per request from currentProxy.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = f.proxyForRequest

	f.httpClient = resty.New().
		SetTransport(transport).
		SetRetryCount(0).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirectPolicy)).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", cfg.AcceptLanguage)

	return f
}

func (f *httpFetcher) Fetch(ctx context.Context, pageURL string, kind domain.PageKind) (string, error) {
	if remaining := f.circuitBreakerRemaining(); remaining > 0 {
		log.Debugf("🚫 Request blocked by circuit breaker. Remaining time: %v", remaining.Round(time.Second))
		return "", &FetchError{URL: pageURL, Kind: kind, Err: fmt.Errorf("%w for %v more", ErrCircuitOpen, remaining.Round(time.Second))}
	}

	f.rl.Take()

	start := time.Now()
	html, err := f.get(ctx, pageURL, kind)
	f.metrics.ObserveFetch(kind.String(), time.Since(start))

	if isBlocked(err) {
		log.Warnf("🚫 Blocked fetching %s: %v", pageURL, err)
		f.handleBlock()
	} else if err == nil {
		f.clearRotation()
	}

	if err != nil {
		f.metrics.IncFetchError(ErrorReason(err))
		return "", err
	}

	if IsChallengePage(html) {
		log.Warnf("⚠️ %s looks like an anti-bot interstitial, static fetch cannot clear it", pageURL)
	}

	return html, nil
}

func (f *httpFetcher) get(ctx context.Context, pageURL string, kind domain.PageKind) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	resp, err := f.httpClient.R().
		SetContext(reqCtx).
		Get(pageURL)

	if err != nil {
		return "", &FetchError{URL: pageURL, Kind: kind, Err: ClassifyTransportError(ctx, reqCtx, err)}
	}

	if !resp.IsSuccess() {
		return "", &FetchError{URL: pageURL, Kind: kind, StatusCode: resp.StatusCode()}
	}

	return resp.String(), nil
}

func (f *httpFetcher) Close() error {
	return f.httpClient.Close()
}

// proxyForRequest is the transport's proxy hook.
func (f *httpFetcher) proxyForRequest(*http.Request) (*url.URL, error) {
	proxyURL := f.proxy()
	if proxyURL == "" {
		return nil, nil
	}
	return url.Parse(proxyURL)
}

func (f *httpFetcher) proxy() string {
	f.circuitBreakerMutex.RLock()
	defer f.circuitBreakerMutex.RUnlock()
	return f.currentProxy
}

// handleBlock rotates to the next proxy for subsequent requests, or opens
// the circuit when the last rotation did not help or there is nothing to
// rotate to.
func (f *httpFetcher) handleBlock() {
	f.circuitBreakerMutex.Lock()
	defer f.circuitBreakerMutex.Unlock()

	if !f.rotated && f.proxySupplier != nil {
		if next := f.proxySupplier.Get(); next != "" && next != f.currentProxy {
			log.Infof("🔄 Switching to new proxy for the next requests: %s", next)
			f.currentProxy = next
			f.rotated = true
			return
		}
	}

	f.rotated = false
	f.blockedUntil = time.Now().Add(f.circuitBreakerDelay)
	log.Warnf("🚫 Circuit breaker activated! Requests paused until %v", f.blockedUntil.Format("15:04:05"))
}

func (f *httpFetcher) clearRotation() {
	f.circuitBreakerMutex.Lock()
	defer f.circuitBreakerMutex.Unlock()
	f.rotated = false
}

func (f *httpFetcher) circuitBreakerRemaining() time.Duration {
	f.circuitBreakerMutex.RLock()
	defer f.circuitBreakerMutex.RUnlock()

	remaining := time.Until(f.blockedUntil)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func isBlocked(err error) bool {
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		return false
	}
	return fetchErr.StatusCode == 403 || fetchErr.StatusCode == 429
}

// ClassifyTransportError maps a transport error onto the error the caller
// should see: parent cancellation, request timeout or a redirect overflow.
func ClassifyTransportError(parent, reqCtx context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("request cancelled: %w", parent.Err())
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("request timed out: %w", context.DeadlineExceeded)
	case strings.Contains(err.Error(), "stopped after"):
		return fmt.Errorf("%w: %v", ErrTooManyRedirects, err)
	default:
		return err
	}
}
