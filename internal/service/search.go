package service

import (
	"context"
	"fmt"

	"assetstore/extractor/internal/client"
	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/match"
	"assetstore/extractor/internal/synth"

	log "github.com/sirupsen/logrus"
)

// RunSearchPass matches every local source file against the store search and
// upserts a draft record for it.
func (s *Service) RunSearchPass(ctx context.Context) (domain.Summary, error) {
	files, err := s.listSourceFiles()
	if err != nil {
		return domain.Summary{}, err
	}

	log.Infof("Found %d source files in %s", len(files), s.cfg.InputDir)

	counter := &domain.SummaryCounter{}
	err = forEach(ctx, s.cfg.FetchWorkers, files, func(ctx context.Context, sourceFile string) {
		decision, err := s.processSearchFile(ctx, sourceFile)
		switch {
		case err != nil:
			logItemError(domain.PassSearch, sourceFile, err)
			counter.Error()
		case decision == "":
			counter.Skip()
		default:
			counter.Success(decision)
		}
	})

	return counter.Summary(), err
}

// processSearchFile returns an empty decision when the file was skipped.
func (s *Service) processSearchFile(ctx context.Context, sourceFile string) (domain.Decision, error) {
	query := match.QueryFromFilename(sourceFile, s.cfg.SourceExt)
	if query == "" {
		log.Warnf("⚠️ Skipping %s: empty search query", sourceFile)
		return "", nil
	}

	html, err := s.loadOrFetch(ctx,
		s.snapshotPath(domain.PageKindSearch, s.baseName(sourceFile)+searchSnapshotSuffix),
		client.SearchURL(s.cfg.BaseURL, query),
		domain.PageKindSearch)
	if err != nil {
		return "", err
	}

	candidates, err := s.parser.ExtractCandidates(html)
	if err != nil {
		return "", fmt.Errorf("failed to parse search page: %w", err)
	}

	best, score := match.SelectBest(query, candidates)
	if best == nil {
		log.Infof("🔍 No match for %q among %d candidates (%s)", query, len(candidates), sourceFile)
	} else {
		log.Debugf("Best match for %q: %s (%.2f)", query, best.Title, score)
	}

	record := s.synth.FromSearch(query, sourceFile, best, score)

	existing, err := s.records.Load(sourceFile)
	if err != nil {
		// A corrupt file is overwritten by the reconciler.
		existing = nil
	}
	record = synth.MergeSearch(record, existing)

	return s.upsert(ctx, domain.PassSearch, record)
}
