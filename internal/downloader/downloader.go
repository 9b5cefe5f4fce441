package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"assetstore/extractor/internal/client"
	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/metrics"
	"assetstore/extractor/internal/proxy"
	"assetstore/extractor/internal/textnorm"

	log "github.com/sirupsen/logrus"
	"resty.dev/v3"
)

// Outcome is the per-item result of a download batch.
type Outcome string

const (
	OutcomeDownloaded Outcome = "downloaded"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
	OutcomePlanned    Outcome = "planned"
)

const (
	defaultImageExt = ".jpg"

	kindThumbnail domain.PageKind = "thumbnail"
)

// Item is one file to fetch.
type Item struct {
	URL         string
	Destination string
	SourceFile  string
}

type Result struct {
	Item    Item
	Outcome Outcome
	Err     error
}

type Options struct {
	Overwrite bool
	DryRun    bool
}

type Downloader interface {
	// DownloadAll processes items with at most concurrency transfers in
	// flight. Results are returned in item order.
	DownloadAll(ctx context.Context, items []Item, concurrency int) []Result
	Close() error
}

type downloader struct {
	httpClient *resty.Client
	options    Options
	metrics    *metrics.Metrics
}

// Config holds transport settings for the downloader.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

func New(cfg Config, options Options, proxySupplier proxy.ProxySupplier, m *metrics.Metrics) Downloader {
	return newDownloader(cfg, options, proxySupplier, m)
}

func newDownloader(cfg Config, options Options, proxySupplier proxy.ProxySupplier, m *metrics.Metrics) *downloader {
	httpClient := resty.New().
		SetRetryCount(0).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(2))

	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	}
	if cfg.UserAgent != "" {
		httpClient.SetHeader("User-Agent", cfg.UserAgent)
	}

	if proxySupplier != nil {
		if proxyURL := proxySupplier.Get(); proxyURL != "" {
			httpClient.SetProxy(proxyURL)
		}
	}

	return &downloader{
		httpClient: httpClient,
		options:    options,
		metrics:    m,
	}
}

func (d *downloader) DownloadAll(ctx context.Context, items []Item, concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	results := make([]Result, len(items))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = d.download(ctx, items[i])
				d.metrics.IncDownload(string(results[i].Outcome))
			}
		}()
	}

	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

func (d *downloader) download(ctx context.Context, item Item) Result {
	if !d.options.Overwrite {
		if _, err := os.Stat(item.Destination); err == nil {
			log.Debugf("Skipping %s: %s already exists", item.URL, item.Destination)
			return Result{Item: item, Outcome: OutcomeSkipped}
		}
	}

	if d.options.DryRun {
		log.Infof("📝 Would download %s -> %s", item.URL, item.Destination)
		return Result{Item: item, Outcome: OutcomePlanned}
	}

	if err := ctx.Err(); err != nil {
		return Result{Item: item, Outcome: OutcomeFailed, Err: err}
	}

	if err := d.fetchToFile(ctx, item); err != nil {
		log.Errorf("❌ Failed to download %s: %v", item.URL, err)
		return Result{Item: item, Outcome: OutcomeFailed, Err: err}
	}

	log.Infof("⬇️ Downloaded %s", item.Destination)
	return Result{Item: item, Outcome: OutcomeDownloaded}
}

// fetchToFile streams the body to a temporary sibling and renames it into
// place, so an interrupted transfer never leaves a partial destination.
func (d *downloader) fetchToFile(ctx context.Context, item Item) error {
	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(item.URL)
	if err != nil {
		return &client.FetchError{URL: item.URL, Kind: kindThumbnail, Err: client.ClassifyTransportError(ctx, ctx, err)}
	}
	defer resp.Body.Close()

	if !resp.IsSuccess() {
		return &client.FetchError{URL: item.URL, Kind: kindThumbnail, StatusCode: resp.StatusCode()}
	}

	if err := os.MkdirAll(filepath.Dir(item.Destination), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := item.Destination + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, item.Destination); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", tmp, err)
	}

	return nil
}

func (d *downloader) Close() error {
	return d.httpClient.Close()
}

// ErrNoThumbnail marks a record that has no thumbnail URL.
var ErrNoThumbnail = errors.New("record has no thumbnail")

// ThumbnailItem builds the download item for record inside dir. The file is
// named after the asset id, falling back to the sanitized source file name.
func ThumbnailItem(record domain.AssetRecord, dir, sourceExt string) (Item, error) {
	if record.Thumbnail == nil || *record.Thumbnail == "" {
		return Item{}, ErrNoThumbnail
	}

	base := domain.Deref(record.AssetID)
	if base == "" {
		name := filepath.Base(record.SourceFile)
		if sourceExt != "" && strings.HasSuffix(strings.ToLower(name), strings.ToLower(sourceExt)) {
			name = name[:len(name)-len(sourceExt)]
		}
		base = textnorm.SanitizeFilename(name)
	}

	return Item{
		URL:         *record.Thumbnail,
		Destination: filepath.Join(dir, base+ImageExt(*record.Thumbnail)),
		SourceFile:  record.SourceFile,
	}, nil
}

// ImageExt returns the lowercased file extension of the URL path, or ".jpg".
func ImageExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultImageExt
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || ext == "." {
		return defaultImageExt
	}
	return ext
}
