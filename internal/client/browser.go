package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"assetstore/extractor/internal/config"
	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/metrics"

	"github.com/playwright-community/playwright-go"
	log "github.com/sirupsen/logrus"
)

const (
	cookieAcceptSelector = "#onetrust-accept-btn-handler"

	challengeScript = `() => {
		const text = (document.body && document.body.innerText || '').toLowerCase();
		return text.includes('checking your browser before accessing') ||
			!!document.querySelector('#cf-challenge, .cf-challenge');
	}`
)

// readinessScripts resolve truthy once a page of the given kind has rendered.
var readinessScripts = map[domain.PageKind]string{
	domain.PageKindSearch: `() => {
		const main = document.querySelector('main') || document.body;
		if (main && main.querySelector('a[href^="/packages/"]')) return true;
		const text = (document.body && document.body.innerText || '').toLowerCase();
		return text.includes('no results') || text.includes('0 results');
	}`,
	domain.PageKindProduct: `() => !!document.querySelector('h1, [class*="product"], [class*="asset"]')`,
	domain.PageKindPublisher: `() => !!document.querySelector('h1, [class*="publisher"], [class*="author"]')`,
}

type browserFetcher struct {
	config  config.FetcherConfig
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	metrics *metrics.Metrics
}

// NewBrowserFetcher starts a Chromium session shared by every fetch. Failing
// to start it is fatal for the run.
func NewBrowserFetcher(cfg config.FetcherConfig, m *metrics.Metrics) (PageFetcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     cfg.BrowserArgs,
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browserContext, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(cfg.UserAgent),
		ExtraHttpHeaders: map[string]string{
			"Accept-Language": cfg.AcceptLanguage,
		},
		Viewport: &playwright.Size{
			Width:  cfg.ViewportWidth,
			Height: cfg.ViewportHeight,
		},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	log.Infof("🌐 Browser session started (headless=%v)", cfg.Headless)

	return &browserFetcher{
		config:  cfg,
		pw:      pw,
		browser: browser,
		context: browserContext,
		metrics: m,
	}, nil
}

func (f *browserFetcher) Fetch(ctx context.Context, pageURL string, kind domain.PageKind) (string, error) {
	start := time.Now()
	html, err := f.fetch(ctx, pageURL, kind)

	f.metrics.ObserveFetch(kind.String(), time.Since(start))
	if err != nil {
		f.metrics.IncFetchError(ErrorReason(err))
		return "", err
	}
	return html, nil
}

func (f *browserFetcher) fetch(ctx context.Context, pageURL string, kind domain.PageKind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &FetchError{URL: pageURL, Kind: kind, Err: err}
	}

	page, err := f.context.NewPage()
	if err != nil {
		return "", &FetchError{URL: pageURL, Kind: kind, Err: fmt.Errorf("failed to open page: %w", err)}
	}
	defer page.Close()

	timeoutMs := float64(f.config.Timeout.Milliseconds())
	page.SetDefaultTimeout(timeoutMs)

	resp, err := page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(timeoutMs),
	})
	if err != nil {
		return "", &FetchError{URL: pageURL, Kind: kind, Err: classifyBrowserError(err)}
	}

	if resp != nil {
		if hops := redirectHops(resp.Request()); hops > 1 {
			return "", &FetchError{URL: pageURL, Kind: kind, Err: fmt.Errorf("%w: %d hops", ErrTooManyRedirects, hops)}
		}
		if !resp.Ok() {
			return "", &FetchError{URL: pageURL, Kind: kind, StatusCode: resp.Status()}
		}
	}

	f.acceptCookies(page)

	if err := f.waitOutChallenge(ctx, page, pageURL); err != nil {
		return "", &FetchError{URL: pageURL, Kind: kind, Err: err}
	}

	if script, ok := readinessScripts[kind]; ok {
		if _, err := page.WaitForFunction(script, nil, playwright.PageWaitForFunctionOptions{
			Timeout: playwright.Float(timeoutMs),
		}); err != nil {
			return "", &FetchError{URL: pageURL, Kind: kind, Err: fmt.Errorf("page never became ready: %w", classifyBrowserError(err))}
		}
	}

	if f.config.ScrollPixels > 0 {
		if _, err := page.Evaluate(fmt.Sprintf("() => window.scrollBy(0, %d)", f.config.ScrollPixels)); err != nil {
			log.Debugf("Scroll failed on %s: %v", pageURL, err)
		}
	}

	if kind != domain.PageKindSearch && f.config.SettleDelay > 0 {
		if err := sleepContext(ctx, f.config.SettleDelay); err != nil {
			return "", &FetchError{URL: pageURL, Kind: kind, Err: err}
		}
	}

	html, err := page.Content()
	if err != nil {
		return "", &FetchError{URL: pageURL, Kind: kind, Err: fmt.Errorf("failed to read page content: %w", err)}
	}

	return html, nil
}

// acceptCookies clicks the consent banner when it is present.
func (f *browserFetcher) acceptCookies(page playwright.Page) {
	button := page.Locator(cookieAcceptSelector).First()
	if count, err := button.Count(); err != nil || count == 0 {
		return
	}

	if err := button.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(3000)}); err != nil {
		log.Debugf("Cookie banner click failed: %v", err)
		return
	}
	log.Debugf("🍪 Accepted cookie banner")
}

// waitOutChallenge polls while an anti-bot interstitial is showing. Giving up
// is not an error; the readiness wait decides whether the page is usable.
func (f *browserFetcher) waitOutChallenge(ctx context.Context, page playwright.Page, pageURL string) error {
	for i := 0; i < f.config.ChallengePolls; i++ {
		active, err := page.Evaluate(challengeScript)
		if err != nil {
			log.Debugf("Challenge check failed on %s: %v", pageURL, err)
			return nil
		}
		if isActive, _ := active.(bool); !isActive {
			if i > 0 {
				log.Infof("✅ Challenge cleared on %s after %d polls", pageURL, i)
			}
			return nil
		}

		if i == 0 {
			log.Infof("🛡️ Challenge detected on %s, waiting", pageURL)
		}
		if err := sleepContext(ctx, f.config.ChallengePollInterval); err != nil {
			return err
		}
	}

	log.Warnf("⚠️ Challenge still present on %s after %d polls, continuing", pageURL, f.config.ChallengePolls)
	return nil
}

func (f *browserFetcher) Close() error {
	if err := f.context.Close(); err != nil {
		log.Warnf("Failed to close browser context: %v", err)
	}
	if err := f.browser.Close(); err != nil {
		log.Warnf("Failed to close browser: %v", err)
	}
	return f.pw.Stop()
}

// redirectHops counts how many redirects led to req.
func redirectHops(req playwright.Request) int {
	hops := 0
	for r := req.RedirectedFrom(); r != nil; r = r.RedirectedFrom() {
		hops++
	}
	return hops
}

func classifyBrowserError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
