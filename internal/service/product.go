package service

import (
	"context"
	"errors"
	"fmt"

	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/parser"

	log "github.com/sirupsen/logrus"
)

// RunProductPass enriches matched records from their product pages and
// grows the category tree.
func (s *Service) RunProductPass(ctx context.Context) (domain.Summary, error) {
	records, err := s.records.List()
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to list records: %w", err)
	}
	records = applyLimit(records, s.cfg.Limit)

	tree, err := s.trees.Load()
	if err != nil {
		return domain.Summary{}, err
	}
	before := tree.Len()

	counter := &domain.SummaryCounter{}
	err = forEach(ctx, s.cfg.FetchWorkers, records, func(ctx context.Context, record domain.AssetRecord) {
		decision, err := s.processProduct(ctx, record, tree)
		switch {
		case err != nil:
			logItemError(domain.PassProduct, record.SourceFile, err)
			counter.Error()
		case decision == "":
			counter.Skip()
		default:
			counter.Success(decision)
		}
	})

	log.Infof("🌳 Category tree has %d nodes (%d new)", tree.Len(), tree.Len()-before)

	if s.cfg.DryRun {
		return counter.Summary(), err
	}
	if saveErr := s.trees.Save(tree); saveErr != nil {
		return counter.Summary(), errors.Join(err, fmt.Errorf("failed to save category tree: %w", saveErr))
	}

	return counter.Summary(), err
}

func (s *Service) processProduct(ctx context.Context, record domain.AssetRecord, tree *domain.CategoryTree) (domain.Decision, error) {
	if record.SourceFile == "" || record.AssetID == nil || record.ProductURL == nil || *record.ProductURL == "" {
		log.Debugf("Skipping %s: no matched product", record.SourceFile)
		return "", nil
	}

	html, err := s.loadOrFetch(ctx,
		s.snapshotPath(domain.PageKindProduct, s.baseName(record.SourceFile)+productSnapshotSuffix),
		*record.ProductURL,
		domain.PageKindProduct)
	if err != nil {
		return "", err
	}

	details, err := s.parser.ExtractProductDetails(html)
	if errors.Is(err, parser.ErrNoDescription) {
		log.Infof("🔍 No description on product page for %s", record.SourceFile)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to parse product page: %w", err)
	}

	updated, path, changed := s.synth.EnrichFromProduct(record, details)
	if len(path) > 0 {
		tree.InsertPath(path)
	}

	if !changed {
		s.metrics.IncRecord(domain.PassProduct.String(), string(domain.DecisionUnchanged))
		log.Infof("Unchanged: %s", record.SourceFile)
		return domain.DecisionUnchanged, nil
	}

	return s.upsert(ctx, domain.PassProduct, updated)
}
