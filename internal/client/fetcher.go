package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"assetstore/extractor/internal/domain"
)

// PageFetcher returns the rendered HTML of a page.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string, kind domain.PageKind) (string, error)
	Close() error
}

// FetchError is returned for any page or file that could not be retrieved.
type FetchError struct {
	URL        string
	Kind       domain.PageKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s %s: HTTP %d", e.Kind, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Reason classifies the failure for logs and metrics.
func (e *FetchError) Reason() string {
	switch {
	case e.StatusCode == 403:
		return "forbidden"
	case e.StatusCode == 404:
		return "not_found"
	case e.StatusCode == 429:
		return "rate_limited"
	case e.StatusCode >= 500:
		return "server_error"
	case e.StatusCode != 0:
		return "status"
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(e.Err, context.Canceled):
		return "cancelled"
	case errors.Is(e.Err, ErrTooManyRedirects):
		return "redirect"
	default:
		return "transport"
	}
}

// ErrTooManyRedirects is returned when a response redirects more than once.
var ErrTooManyRedirects = errors.New("more than one redirect")

// ErrorReason returns the FetchError reason for err, or "other".
func ErrorReason(err error) string {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Reason()
	}
	return "other"
}

// SearchURL builds the marketplace search URL for query.
func SearchURL(baseURL, query string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
	return strings.TrimSuffix(baseURL, "/") + "/search#q=" + escaped
}

// challengeMarkers identify an anti-bot interstitial in page text or markup.
var challengeMarkers = []string{
	"checking your browser before accessing",
	`id="cf-challenge"`,
	`class="cf-challenge"`,
}

// IsChallengePage reports whether html looks like an anti-bot interstitial.
func IsChallengePage(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
