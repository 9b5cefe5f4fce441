package service

import (
	"context"
	"fmt"
	"os"
	"sort"

	"assetstore/extractor/internal/domain"

	log "github.com/sirupsen/logrus"
)

// RunPublisherPass stores one snapshot per distinct publisher referenced by
// the catalog. Publishers with an existing snapshot are skipped.
func (s *Service) RunPublisherPass(ctx context.Context) (domain.Summary, error) {
	records, err := s.records.List()
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to list records: %w", err)
	}

	publishers := make(map[string]string)
	for _, record := range records {
		id := record.PublisherID()
		if id == "" {
			continue
		}
		if _, ok := publishers[id]; !ok {
			publishers[id] = *record.Publisher.URL
		}
	}

	ids := make([]string, 0, len(publishers))
	for id := range publishers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	ids = applyLimit(ids, s.cfg.Limit)

	log.Infof("Found %d publishers across %d records", len(ids), len(records))

	counter := &domain.SummaryCounter{}
	err = forEach(ctx, s.cfg.FetchWorkers, ids, func(ctx context.Context, id string) {
		fetched, err := s.processPublisher(ctx, id, publishers[id])
		switch {
		case err != nil:
			logItemError(domain.PassPublisher, id, err)
			counter.Error()
		case !fetched:
			counter.Skip()
		default:
			counter.Success("")
		}
	})

	return counter.Summary(), err
}

func (s *Service) processPublisher(ctx context.Context, id, publisherURL string) (bool, error) {
	path := s.snapshotPath(domain.PageKindPublisher, id+".html")
	if !s.cfg.Refetch {
		if _, err := os.Stat(path); err == nil {
			log.Debugf("Publisher %s already stored", id)
			return false, nil
		}
	}

	s.pacer.Take()

	log.Infof("🌐 Fetching publisher page %s", publisherURL)
	html, err := s.fetcher.Fetch(ctx, publisherURL, domain.PageKindPublisher)
	if err != nil {
		return false, err
	}

	if name, err := s.parser.ExtractPublisherName(html); err == nil {
		log.Infof("🏢 Publisher %s: %s", id, name)
	}

	if s.cfg.DryRun {
		log.Infof("📝 Would store %s", path)
		return true, nil
	}

	if err := writeSnapshot(path, html); err != nil {
		return false, fmt.Errorf("failed to store publisher snapshot: %w", err)
	}
	log.Infof("✅ Saved %s", path)

	return true, nil
}
