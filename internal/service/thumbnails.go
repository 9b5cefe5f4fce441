package service

import (
	"context"
	"fmt"

	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/downloader"

	log "github.com/sirupsen/logrus"
)

// RunThumbnails downloads the thumbnail of every record that has one.
func (s *Service) RunThumbnails(ctx context.Context) (domain.Summary, error) {
	records, err := s.records.List()
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to list records: %w", err)
	}
	records = applyLimit(records, s.cfg.Limit)

	counter := &domain.SummaryCounter{}
	items := make([]downloader.Item, 0, len(records))
	// Records sharing an asset id resolve to the same file and .part path.
	claimed := make(map[string]string, len(records))
	for _, record := range records {
		item, err := downloader.ThumbnailItem(record, s.downloadCfg.Dir, s.cfg.SourceExt)
		if err != nil {
			log.Debugf("Skipping %s: %v", record.SourceFile, err)
			counter.Skip()
			continue
		}
		if owner, ok := claimed[item.Destination]; ok {
			log.Debugf("Skipping %s: same thumbnail destination as %s", record.SourceFile, owner)
			counter.Skip()
			continue
		}
		claimed[item.Destination] = record.SourceFile
		items = append(items, item)
	}

	log.Infof("🖼️ Downloading %d thumbnails to %s", len(items), s.downloadCfg.Dir)

	for _, res := range s.downloader.DownloadAll(ctx, items, s.downloadCfg.Concurrency) {
		switch res.Outcome {
		case downloader.OutcomeDownloaded, downloader.OutcomePlanned:
			counter.Success("")
		case downloader.OutcomeSkipped:
			counter.Skip()
		default:
			log.Errorf("❌ Thumbnail for %s: %v", res.Item.SourceFile, res.Err)
			counter.Error()
		}
	}

	return counter.Summary(), ctx.Err()
}
