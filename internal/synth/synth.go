package synth

import (
	"strings"
	"time"

	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/match"
	"assetstore/extractor/internal/textnorm"
)

// Synthesizer builds catalog records from extracted page data.
type Synthesizer struct {
	now func() time.Time
}

func New() *Synthesizer {
	return &Synthesizer{now: time.Now}
}

// NewWithClock is used by tests that need stable timestamps.
func NewWithClock(now func() time.Time) *Synthesizer {
	return &Synthesizer{now: now}
}

// FromSearch builds a draft record from the best search candidate. A nil
// candidate yields a placeholder with every content field unknown.
func (s *Synthesizer) FromSearch(query, sourceFile string, best *domain.Candidate, score float64) domain.AssetRecord {
	ts := domain.Timestamp(s.now())

	record := domain.AssetRecord{
		ShortDescription: domain.Unknown[string](),
		Description:      domain.Unknown[string](),
		Price:            domain.Unknown[float64](),
		Category:         domain.Unknown[string](),
		SourceFile:       sourceFile,
		Status:           domain.StatusDraft,
		Visibility:       domain.VisibilityPublic,
		CreatedAt:        ts,
		UpdatedAt:        ts,
		SearchQuery:      query,
	}

	if best == nil {
		return record
	}

	if best.ID != "" {
		record.AssetID = domain.StringPtr(best.ID)
	}
	if best.Title != "" {
		record.Title = domain.StringPtr(best.Title)
		record.Slug = slugPtr(best.Title)
	}
	if best.URL != "" {
		record.ProductURL = domain.StringPtr(best.URL)
	}

	record.Price = best.Price
	record.CompareAtPrice = best.CompareAtPrice
	record.Rating = best.Rating
	record.Thumbnail = best.ThumbnailURL
	record.Publisher = domain.Publisher{
		Name: best.PublisherName,
		URL:  best.PublisherURL,
		Slug: slugPtr(domain.Deref(best.PublisherName)),
	}
	record.MatchConfidence = match.RoundConfidence(score)

	return record
}

// MergeSearch carries product-pass fields from the persisted record into a
// fresh search result so a search re-run never regresses them to unknown.
func MergeSearch(fresh domain.AssetRecord, existing *domain.AssetRecord) domain.AssetRecord {
	if existing == nil {
		return fresh
	}

	if !fresh.Description.IsKnown() {
		fresh.Description = existing.Description
	}
	if !fresh.ShortDescription.IsKnown() {
		fresh.ShortDescription = existing.ShortDescription
	}
	if !fresh.Category.IsKnown() {
		fresh.Category = existing.Category
	}
	if existing.Status != "" {
		fresh.Status = existing.Status
	}
	if existing.Visibility != "" {
		fresh.Visibility = existing.Visibility
	}

	return fresh
}

// EnrichFromProduct backfills description, short description and category
// from a product page. It returns the updated record, the category path to
// add to the tree, and whether anything changed. A record is never changed
// when the page had no description.
func (s *Synthesizer) EnrichFromProduct(existing domain.AssetRecord, details domain.ProductDetails) (domain.AssetRecord, []string, bool) {
	description := strings.TrimSpace(details.Description)
	if description == "" {
		return existing, nil, false
	}

	updated := existing
	updated.Description = domain.Known(description)
	updated.ShortDescription = domain.Known(ShortDescription(description))

	var path []string
	if len(details.Breadcrumb) > 2 {
		path = append([]string(nil), details.Breadcrumb[1:len(details.Breadcrumb)-1]...)
		if leaf := textnorm.Slugify(path[len(path)-1]); leaf != "" {
			updated.Category = domain.Known(leaf)
		}
	}

	changed := !updated.SameContent(existing)
	if changed {
		updated.UpdatedAt = domain.Timestamp(s.now())
	}

	return updated, path, changed
}

// ShortDescription is the text before the first sentence break.
func ShortDescription(description string) string {
	first, _, _ := strings.Cut(description, ". ")
	return strings.TrimSpace(first)
}

func slugPtr(s string) *string {
	slug := textnorm.Slugify(s)
	if slug == "" {
		return nil
	}
	return &slug
}
