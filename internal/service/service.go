package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"assetstore/extractor/internal/client"
	"assetstore/extractor/internal/config"
	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/downloader"
	"assetstore/extractor/internal/metrics"
	"assetstore/extractor/internal/parser"
	"assetstore/extractor/internal/repository"
	"assetstore/extractor/internal/state"
	"assetstore/extractor/internal/synth"

	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"
)

const (
	searchSnapshotSuffix  = " - search page.html"
	productSnapshotSuffix = " - product page.html"
)

// Deps are the collaborators a Service needs.
type Deps struct {
	Config     config.ExtractorConfig
	Downloads  config.DownloaderConfig
	Fetcher    client.PageFetcher
	Parser     *parser.Parser
	Synth      *synth.Synthesizer
	Records    repository.RecordRepository
	Reconciler *repository.Reconciler
	Trees      *repository.TreeStore
	Downloader downloader.Downloader
	Jobs       state.JobTracker
	Metrics    *metrics.Metrics
}

type Service struct {
	cfg         config.ExtractorConfig
	downloadCfg config.DownloaderConfig
	fetcher     client.PageFetcher
	parser      *parser.Parser
	synth       *synth.Synthesizer
	records     repository.RecordRepository
	reconciler  *repository.Reconciler
	trees       *repository.TreeStore
	downloader  downloader.Downloader
	jobs        state.JobTracker
	metrics     *metrics.Metrics
	pacer       ratelimit.Limiter

	runMu      sync.Mutex
	background sync.WaitGroup
}

func NewService(deps Deps) *Service {
	pacer := ratelimit.NewUnlimited()
	if deps.Config.PolitenessDelay > 0 {
		pacer = ratelimit.New(1, ratelimit.Per(deps.Config.PolitenessDelay), ratelimit.WithoutSlack)
	}

	synthesizer := deps.Synth
	if synthesizer == nil {
		synthesizer = synth.New()
	}

	jobs := deps.Jobs
	if jobs == nil {
		jobs = state.NewMemoryJobTracker()
	}

	return &Service{
		cfg:         deps.Config,
		downloadCfg: deps.Downloads,
		fetcher:     deps.Fetcher,
		parser:      deps.Parser,
		synth:       synthesizer,
		records:     deps.Records,
		reconciler:  deps.Reconciler,
		trees:       deps.Trees,
		downloader:  deps.Downloader,
		jobs:        jobs,
		metrics:     deps.Metrics,
		pacer:       pacer,
	}
}

// Run executes one pass and returns its summary.
func (s *Service) Run(ctx context.Context, pass domain.Pass) (domain.Summary, error) {
	log.Infof("🔄 Starting %s pass", pass.GetPassName())
	start := time.Now()

	var (
		summary domain.Summary
		err     error
	)

	switch pass {
	case domain.PassSearch:
		summary, err = s.RunSearchPass(ctx)
	case domain.PassProduct:
		summary, err = s.RunProductPass(ctx)
	case domain.PassPublisher:
		summary, err = s.RunPublisherPass(ctx)
	case domain.PassThumbnails:
		summary, err = s.RunThumbnails(ctx)
	default:
		return domain.Summary{}, fmt.Errorf("unknown pass %q", pass)
	}

	logSummary(pass, summary, time.Since(start))
	return summary, err
}

// RunJob runs job's pass and records its progress with the job tracker.
// Passes never overlap; a job waits for the previous one to finish.
func (s *Service) RunJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	job, err := state.Start(ctx, s.jobs, job)
	if err != nil {
		log.Warnf("⚠️ Failed to mark job %s running: %v", job.ID, err)
	}

	summary, runErr := s.Run(ctx, job.Pass)

	job, err = state.Finish(context.WithoutCancel(ctx), s.jobs, job, summary, runErr)
	if err != nil {
		log.Warnf("⚠️ Failed to record result of job %s: %v", job.ID, err)
	}

	return job, runErr
}

// RunPass creates a job for pass and runs it in the foreground.
func (s *Service) RunPass(ctx context.Context, pass domain.Pass) (domain.Job, error) {
	job, err := s.jobs.Create(ctx, pass)
	if err != nil {
		return domain.Job{}, fmt.Errorf("failed to create job: %w", err)
	}
	return s.RunJob(ctx, job)
}

// StartJob creates a job and runs it in the background on ctx.
func (s *Service) StartJob(ctx context.Context, pass domain.Pass) (domain.Job, error) {
	job, err := s.jobs.Create(ctx, pass)
	if err != nil {
		return domain.Job{}, fmt.Errorf("failed to create job: %w", err)
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.RunJob(ctx, job); err != nil {
			log.Errorf("❌ Job %s (%s) failed: %v", job.ID, job.Pass, err)
		}
	}()

	return job, nil
}

// Wait blocks until background jobs have returned.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) Jobs() state.JobTracker {
	return s.jobs
}

// forEach runs fn for every item on a pool of fetch workers. Per-item errors
// are the callback's business; dispatch stops when ctx is cancelled.
func forEach[T any](ctx context.Context, workers int, items []T, fn func(context.Context, T)) error {
	if workers <= 0 {
		workers = 1
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(ctx, item)
			return nil
		})
	}

	g.Wait()
	return ctx.Err()
}

// loadOrFetch returns the stored HTML snapshot at path unless a refetch was
// requested, otherwise it fetches pageURL and stores the snapshot.
func (s *Service) loadOrFetch(ctx context.Context, path, pageURL string, kind domain.PageKind) (string, error) {
	if !s.cfg.Refetch {
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			log.Debugf("Using stored snapshot %s", path)
			return string(data), nil
		}
	}

	s.pacer.Take()

	log.Infof("🌐 Fetching %s page %s", kind, pageURL)
	html, err := s.fetcher.Fetch(ctx, pageURL, kind)
	if err != nil {
		return "", err
	}

	if !s.cfg.DryRun {
		if err := writeSnapshot(path, html); err != nil {
			log.Warnf("⚠️ Failed to store snapshot %s: %v", path, err)
		}
	}

	return html, nil
}

func writeSnapshot(path, html string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(html), 0o644)
}

func (s *Service) snapshotPath(kind domain.PageKind, name string) string {
	return filepath.Join(s.cfg.SnapshotDir, kind.String(), name)
}

// baseName strips the directory and the source extension from sourceFile.
func (s *Service) baseName(sourceFile string) string {
	name := filepath.Base(sourceFile)
	ext := s.cfg.SourceExt
	if ext != "" && strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
		name = name[:len(name)-len(ext)]
	}
	return name
}

// listSourceFiles returns the names in the input directory that carry the
// source extension, sorted and truncated to the configured limit.
func (s *Service) listSourceFiles() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input dir %s: %w", s.cfg.InputDir, err)
	}

	ext := strings.ToLower(s.cfg.SourceExt)
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext == "" || strings.HasSuffix(strings.ToLower(entry.Name()), ext) {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	return applyLimit(files, s.cfg.Limit), nil
}

func applyLimit[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// upsert reconciles record and logs the decision.
func (s *Service) upsert(ctx context.Context, pass domain.Pass, record domain.AssetRecord) (domain.Decision, error) {
	res, err := s.reconciler.Upsert(ctx, record)
	if err != nil {
		return "", err
	}

	s.metrics.IncRecord(pass.String(), string(res.Decision))

	name := repository.RecordFileName(record.SourceFile, s.cfg.SourceExt)
	switch {
	case s.reconciler.DryRun() && res.Decision != domain.DecisionUnchanged:
		log.Infof("📝 Would write %s (%s):\n%s", name, res.Decision, res.Content)
	case res.Decision == domain.DecisionCreated:
		log.Infof("✅ Created: %s", name)
	case res.Decision == domain.DecisionUpdated:
		log.Infof("🔄 Updated: %s", name)
	default:
		log.Infof("Unchanged: %s", name)
	}

	return res.Decision, nil
}

func logItemError(pass domain.Pass, item string, err error) {
	var parseErr *repository.ParseError
	switch {
	case errors.As(err, &parseErr):
		log.Warnf("⚠️ [%s] %s: %v", pass, item, err)
	default:
		log.WithFields(log.Fields{
			"pass":   pass.String(),
			"item":   item,
			"reason": client.ErrorReason(err),
		}).Errorf("❌ %v", err)
	}
}

func logSummary(pass domain.Pass, summary domain.Summary, elapsed time.Duration) {
	log.Infof("📊 %s finished in %v: %d succeeded, %d skipped, %d failed (created %d, updated %d, unchanged %d)",
		pass.GetPassName(), elapsed.Round(time.Millisecond),
		summary.Success, summary.Skipped, summary.Errors,
		summary.Created, summary.Updated, summary.Unchanged)
}
