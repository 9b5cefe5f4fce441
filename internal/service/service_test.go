package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"assetstore/extractor/internal/client"
	"assetstore/extractor/internal/config"
	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/downloader"
	"assetstore/extractor/internal/parser"
	"assetstore/extractor/internal/repository"
	"assetstore/extractor/internal/state"
	"assetstore/extractor/internal/synth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://assetstore.unity.com"

const searchHTML = `<main>
<article><div class="flex flex-col">
  <img src="https://cdn.example.com/key-image/village.png">
  <a data-test="product-card-name" href="/packages/3d/environments/medieval-village-pack-123456">Medieval Village Pack</a>
  <a data-test="product-card-publisher" href="/publishers/4321">Castle Works</a>
  <div data-test="product-rating">4.5</div>
  <div data-test="search-results-price"><span data-test="product-card-current-price">$24.99</span></div>
</div></article>
<article><div class="flex flex-col">
  <a data-test="product-card-name" href="/packages/package/999">Village Sounds</a>
</div></article>
</main>`

const productHTML = `<html><head>
<script type="application/ld+json">{"@type":"BreadcrumbList","itemListElement":[
  {"name":"Home"},{"name":"3D"},{"name":"Environments"},{"name":"Medieval Village Pack"}]}</script>
</head><body>
<div id="description-panel"><div class="_1_3uP _1rkJa">A complete village. Includes 200 props.</div></div>
</body></html>`

const publisherHTML = `<html><body><h1> Castle  Works </h1></body></html>`

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[domain.PageKind]string
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, kind domain.PageKind) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	return f.pages[kind], nil
}

func (f *fakeFetcher) Close() error { return nil }

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	cfg     config.ExtractorConfig
	fetcher *fakeFetcher
	records repository.RecordRepository
	trees   *repository.TreeStore
	service *Service
}

func newFixture(t *testing.T, mutate func(*config.ExtractorConfig, *config.DownloaderConfig)) *fixture {
	t.Helper()

	root := t.TempDir()
	cfg := config.ExtractorConfig{
		BaseURL:      testBaseURL,
		InputDir:     filepath.Join(root, "input"),
		OutputDir:    filepath.Join(root, "records"),
		SnapshotDir:  filepath.Join(root, "snapshots"),
		TreeFile:     filepath.Join(root, "categories.json"),
		SourceExt:    ".unitypackage",
		FetchWorkers: 2,
	}
	downloads := config.DownloaderConfig{
		Dir:         filepath.Join(root, "thumbnails"),
		Concurrency: 2,
	}
	if mutate != nil {
		mutate(&cfg, &downloads)
	}
	require.NoError(t, os.MkdirAll(cfg.InputDir, 0o755))

	p, err := parser.New(cfg.BaseURL)
	require.NoError(t, err)

	fetcher := &fakeFetcher{pages: map[domain.PageKind]string{
		domain.PageKindSearch:    searchHTML,
		domain.PageKindProduct:   productHTML,
		domain.PageKindPublisher: publisherHTML,
	}}

	records := repository.NewFileRecordRepository(cfg.OutputDir, cfg.SourceExt)
	trees := repository.NewTreeStore(cfg.TreeFile)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	svc := NewService(Deps{
		Config:     cfg,
		Downloads:  downloads,
		Fetcher:    fetcher,
		Parser:     p,
		Synth:      synth.NewWithClock(func() time.Time { return clock }),
		Records:    records,
		Reconciler: repository.NewReconciler(records, nil, cfg.DryRun),
		Trees:      trees,
		Downloader: downloader.New(downloader.Config{}, downloader.Options{DryRun: cfg.DryRun}, nil, nil),
		Jobs:       state.NewMemoryJobTracker(),
	})

	return &fixture{cfg: cfg, fetcher: fetcher, records: records, trees: trees, service: svc}
}

func (f *fixture) addSourceFiles(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(f.cfg.InputDir, name), []byte("pkg"), 0o644))
	}
}

func TestSearchPassCreatesRecord(t *testing.T) {
	f := newFixture(t, nil)
	f.addSourceFiles(t, "Medieval_Village_Pack.unitypackage", "notes.txt")

	summary, err := f.service.RunSearchPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Success: 1, Created: 1}, summary)

	record, err := f.records.Load("Medieval_Village_Pack.unitypackage")
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, "123456", domain.Deref(record.AssetID))
	assert.Equal(t, "Medieval Village Pack", domain.Deref(record.Title))
	assert.Equal(t, "medieval-village-pack", domain.Deref(record.Slug))
	assert.Equal(t, 24.99, record.Price.OrElse(-1))
	assert.Equal(t, 1.0, record.MatchConfidence)
	assert.Equal(t, "Medieval Village Pack", record.SearchQuery)
	assert.Equal(t, "4321", record.PublisherID())
	assert.Equal(t, domain.StatusDraft, record.Status)

	snapshot := filepath.Join(f.cfg.SnapshotDir, "search", "Medieval_Village_Pack - search page.html")
	assert.FileExists(t, snapshot)
}

func TestSearchPassIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.addSourceFiles(t, "Medieval_Village_Pack.unitypackage")

	_, err := f.service.RunSearchPass(context.Background())
	require.NoError(t, err)

	summary, err := f.service.RunSearchPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Success: 1, Unchanged: 1}, summary)
	assert.Equal(t, 1, f.fetcher.callCount(), "second run reads the stored snapshot")
}

func TestSearchPassRefetchIgnoresSnapshots(t *testing.T) {
	f := newFixture(t, func(cfg *config.ExtractorConfig, _ *config.DownloaderConfig) {
		cfg.Refetch = true
	})
	f.addSourceFiles(t, "Medieval_Village_Pack.unitypackage")

	for range 2 {
		_, err := f.service.RunSearchPass(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, f.fetcher.callCount())
}

func TestSearchPassCountsFetchErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.addSourceFiles(t, "Broken.unitypackage", "Medieval_Village_Pack.unitypackage")
	f.fetcher.errs = map[string]error{
		client.SearchURL(testBaseURL, "Broken"): &client.FetchError{URL: "x", Kind: domain.PageKindSearch, StatusCode: http.StatusForbidden},
	}

	summary, err := f.service.RunSearchPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Created)

	record, err := f.records.Load("Broken.unitypackage")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestSearchPassNoCandidatesWritesPlaceholder(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.pages[domain.PageKindSearch] = `<main><p>No results</p></main>`
	f.addSourceFiles(t, "Unknown_Thing.unitypackage")

	summary, err := f.service.RunSearchPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	record, err := f.records.Load("Unknown_Thing.unitypackage")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Nil(t, record.AssetID)
	assert.False(t, record.Price.IsKnown())
	assert.Equal(t, 0.0, record.MatchConfidence)
}

func TestSearchPassZeroOverlapWritesPlaceholder(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.pages[domain.PageKindSearch] = `<main><article>
  <a data-test="product-card-name" href="/packages/package/99">Sci-Fi Robot Soldier</a>
  <div data-test="search-results-price"><span data-test="product-card-current-price">$5</span></div>
</article></main>`
	f.addSourceFiles(t, "Medieval_Village_Pack.unitypackage")

	summary, err := f.service.RunSearchPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	record, err := f.records.Load("Medieval_Village_Pack.unitypackage")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Nil(t, record.AssetID)
	assert.Nil(t, record.Title)
	assert.Nil(t, record.ProductURL)
	assert.False(t, record.Price.IsKnown())
	assert.Equal(t, 0.0, record.MatchConfidence)

	summary, err = f.service.RunProductPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Skipped: 1}, summary, "a placeholder is never enriched")
}

func TestSearchPassDryRunWritesNothing(t *testing.T) {
	f := newFixture(t, func(cfg *config.ExtractorConfig, _ *config.DownloaderConfig) {
		cfg.DryRun = true
	})
	f.addSourceFiles(t, "Medieval_Village_Pack.unitypackage")

	summary, err := f.service.RunSearchPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	assert.NoDirExists(t, f.cfg.OutputDir)
	assert.NoDirExists(t, f.cfg.SnapshotDir)
}

func TestSearchPassLimit(t *testing.T) {
	f := newFixture(t, func(cfg *config.ExtractorConfig, _ *config.DownloaderConfig) {
		cfg.Limit = 2
	})
	f.addSourceFiles(t, "C.unitypackage", "A.unitypackage", "B.unitypackage")

	summary, err := f.service.RunSearchPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total())

	records, err := f.records.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "A.unitypackage", records[0].SourceFile)
	assert.Equal(t, "B.unitypackage", records[1].SourceFile)
}

func TestSearchPassMissingInputDir(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.RemoveAll(f.cfg.InputDir))

	_, err := f.service.RunSearchPass(context.Background())
	assert.Error(t, err)
}

func TestProductPassEnrichesRecordAndTree(t *testing.T) {
	f := newFixture(t, nil)
	f.addSourceFiles(t, "Medieval_Village_Pack.unitypackage")

	_, err := f.service.RunSearchPass(context.Background())
	require.NoError(t, err)

	summary, err := f.service.RunProductPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Success: 1, Updated: 1}, summary)

	record, err := f.records.Load("Medieval_Village_Pack.unitypackage")
	require.NoError(t, err)
	assert.Equal(t, "A complete village. Includes 200 props.", record.Description.OrElse(""))
	assert.Equal(t, "A complete village", record.ShortDescription.OrElse(""))
	assert.Equal(t, "environments", record.Category.OrElse(""))

	tree, err := f.trees.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, tree.Len())
	roots := tree.Roots()
	require.Contains(t, roots, "3d")
	assert.Contains(t, roots["3d"].Children, "environments")

	summary, err = f.service.RunProductPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Success: 1, Unchanged: 1}, summary)
}

func TestProductPassSkipsUnmatchedAndEmptyPages(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.pages[domain.PageKindProduct] = `<html><body><h1>Pack</h1></body></html>`
	f.addSourceFiles(t, "Medieval_Village_Pack.unitypackage")

	_, err := f.service.RunSearchPass(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.records.Save(domain.AssetRecord{
		SourceFile: "Orphan.unitypackage",
		Price:      domain.Unknown[float64](),
	}))

	summary, err := f.service.RunProductPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Skipped: 2}, summary)

	record, err := f.records.Load("Medieval_Village_Pack.unitypackage")
	require.NoError(t, err)
	assert.False(t, record.Description.IsKnown())

	tree, err := f.trees.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Len())
}

func TestPublisherPassSnapshotsDistinctPublishers(t *testing.T) {
	f := newFixture(t, nil)
	f.addSourceFiles(t, "Medieval_Village_Pack.unitypackage", "Medieval_Village_Pack_2.unitypackage")

	_, err := f.service.RunSearchPass(context.Background())
	require.NoError(t, err)

	summary, err := f.service.RunPublisherPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Success: 1}, summary)
	assert.FileExists(t, filepath.Join(f.cfg.SnapshotDir, "publisher", "4321.html"))

	summary, err = f.service.RunPublisherPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Skipped: 1}, summary)
}

func TestThumbnailsDownloadsImages(t *testing.T) {
	var hits sync.Map
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Store(r.URL.Path, true)
		w.Write([]byte("png"))
	}))
	defer server.Close()

	f := newFixture(t, nil)
	thumb := server.URL + "/key-image/village.png"
	require.NoError(t, f.records.Save(domain.AssetRecord{
		AssetID:    domain.StringPtr("123456"),
		Thumbnail:  &thumb,
		SourceFile: "Medieval_Village_Pack.unitypackage",
		Price:      domain.Unknown[float64](),
	}))
	require.NoError(t, f.records.Save(domain.AssetRecord{
		SourceFile: "No_Thumb.unitypackage",
		Price:      domain.Unknown[float64](),
	}))

	summary, err := f.service.RunThumbnails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Success: 1, Skipped: 1}, summary)

	data, err := os.ReadFile(filepath.Join(f.service.downloadCfg.Dir, "123456.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	_, ok := hits.Load("/key-image/village.png")
	assert.True(t, ok)
}

func TestThumbnailsSkipsDuplicateDestinations(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("png"))
	}))
	defer server.Close()

	f := newFixture(t, nil)
	thumb := server.URL + "/key-image/village.png"
	for _, sourceFile := range []string{"Medieval_Village_Pack.unitypackage", "Medieval_Village_Pack_v2.unitypackage"} {
		require.NoError(t, f.records.Save(domain.AssetRecord{
			AssetID:    domain.StringPtr("123456"),
			Thumbnail:  &thumb,
			SourceFile: sourceFile,
			Price:      domain.Unknown[float64](),
		}))
	}

	summary, err := f.service.RunThumbnails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Success: 1, Skipped: 1}, summary)
	assert.Equal(t, int32(1), hits.Load())

	data, err := os.ReadFile(filepath.Join(f.service.downloadCfg.Dir, "123456.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	_, err = os.Stat(filepath.Join(f.service.downloadCfg.Dir, "123456.png.part"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunPassRecordsJob(t *testing.T) {
	f := newFixture(t, nil)
	f.addSourceFiles(t, "Medieval_Village_Pack.unitypackage")

	job, err := f.service.RunPass(context.Background(), domain.PassSearch)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Summary.Created)

	stored, err := f.service.Jobs().Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
}

func TestStartJobRunsInBackground(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.RemoveAll(f.cfg.InputDir))

	job, err := f.service.StartJob(context.Background(), domain.PassSearch)
	require.NoError(t, err)
	f.service.Wait()

	stored, err := f.service.Jobs().Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)
}

func TestRunUnknownPass(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.service.Run(context.Background(), domain.Pass("bogus"))
	assert.Error(t, err)
}

func TestForEachStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	err := forEach(ctx, 1, []int{1, 2, 3}, func(context.Context, int) { calls++ })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}
