package synth

import (
	"testing"
	"time"

	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/match"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSynth() *Synthesizer {
	return NewWithClock(func() time.Time { return fixedNow })
}

func TestFromSearchPlaceholder(t *testing.T) {
	s := newTestSynth()

	r := s.FromSearch("Tree Pack", "Tree_Pack.unitypackage", nil, 0)

	assert.Nil(t, r.AssetID)
	assert.Nil(t, r.Title)
	assert.Nil(t, r.ProductURL)
	assert.False(t, r.Price.IsKnown())
	assert.False(t, r.Category.IsKnown())
	assert.False(t, r.Description.IsKnown())
	assert.Equal(t, 0.0, r.MatchConfidence)
	assert.Equal(t, domain.StatusDraft, r.Status)
	assert.Equal(t, domain.VisibilityPublic, r.Visibility)
	assert.Equal(t, "2024-03-01T12:00:00.000Z", r.CreatedAt)
	assert.Equal(t, r.CreatedAt, r.UpdatedAt)
}

func TestFromSearchEndToEnd(t *testing.T) {
	s := newTestSynth()

	sourceFile := "Medieval_Village_Pack.unitypackage"
	query := match.QueryFromFilename(sourceFile, ".unitypackage")
	require.Equal(t, "Medieval Village Pack", query)

	candidates := []domain.Candidate{{
		ID:            "123456",
		Title:         "Medieval Village Environment Pack",
		URL:           "https://assetstore.unity.com/packages/package/123456",
		PublisherName: domain.StringPtr("Castle Works"),
		Price:         domain.Known(24.99),
	}}
	best, score := match.SelectBest(query, candidates)

	r := s.FromSearch(query, sourceFile, best, score)

	assert.Equal(t, 1.0, r.MatchConfidence)
	assert.Equal(t, 24.99, r.Price.OrElse(-1))
	assert.False(t, r.Category.IsKnown())
	assert.False(t, r.Description.IsKnown())
	require.NotNil(t, r.Slug)
	assert.Equal(t, "medieval-village-environment-pack", *r.Slug)
	require.NotNil(t, r.Publisher.Slug)
	assert.Equal(t, "castle-works", *r.Publisher.Slug)
	assert.Equal(t, "123456", domain.Deref(r.AssetID))
}

func TestFromSearchRoundsConfidence(t *testing.T) {
	s := newTestSynth()
	best := &domain.Candidate{Title: "A", URL: "u"}

	r := s.FromSearch("a b c", "x", best, 1.0/3.0)
	assert.Equal(t, 0.33, r.MatchConfidence)
}

func TestMergeSearchKeepsKnownProductFields(t *testing.T) {
	s := newTestSynth()
	existing := domain.AssetRecord{
		Description:      domain.Known("Long text. More."),
		ShortDescription: domain.Known("Long text"),
		Category:         domain.Known("environments"),
		Status:           "published",
		Visibility:       domain.VisibilityPublic,
	}

	fresh := s.FromSearch("q", "x", &domain.Candidate{Title: "Q", URL: "u"}, 1)
	merged := MergeSearch(fresh, &existing)

	assert.Equal(t, "Long text. More.", merged.Description.OrElse(""))
	assert.Equal(t, "environments", merged.Category.OrElse(""))
	assert.Equal(t, "published", merged.Status)
	assert.Equal(t, fresh, MergeSearch(fresh, nil))
}

func TestEnrichFromProduct(t *testing.T) {
	s := newTestSynth()
	existing := s.FromSearch("q", "x", &domain.Candidate{Title: "Q", URL: "u"}, 1)
	existing.UpdatedAt = "2024-01-01T00:00:00.000Z"

	details := domain.ProductDetails{
		Description: "A complete village. Includes 200 props.",
		Breadcrumb:  []string{"Home", "3D", "Environments", "Medieval Village"},
	}

	updated, path, changed := s.EnrichFromProduct(existing, details)
	require.True(t, changed)
	assert.Equal(t, []string{"3D", "Environments"}, path)
	assert.Equal(t, "environments", updated.Category.OrElse(""))
	assert.Equal(t, "A complete village", updated.ShortDescription.OrElse(""))
	assert.Equal(t, "2024-03-01T12:00:00.000Z", updated.UpdatedAt)
	assert.Equal(t, existing.CreatedAt, updated.CreatedAt)

	again, _, changed := s.EnrichFromProduct(updated, details)
	assert.False(t, changed)
	assert.Equal(t, updated, again)
}

func TestEnrichFromProductMissingDescription(t *testing.T) {
	s := newTestSynth()
	existing := domain.AssetRecord{SourceFile: "x", Category: domain.Unknown[string]()}

	updated, path, changed := s.EnrichFromProduct(existing, domain.ProductDetails{
		Breadcrumb: []string{"Home", "Audio", "Pack"},
	})

	assert.False(t, changed)
	assert.Nil(t, path)
	assert.Equal(t, existing, updated)
}

func TestEnrichFromProductShortBreadcrumbKeepsCategory(t *testing.T) {
	s := newTestSynth()
	existing := domain.AssetRecord{Category: domain.Known("tools")}

	updated, path, changed := s.EnrichFromProduct(existing, domain.ProductDetails{
		Description: "Useful.",
		Breadcrumb:  []string{"Home", "Pack"},
	})

	assert.True(t, changed)
	assert.Empty(t, path)
	assert.Equal(t, "tools", updated.Category.OrElse(""))
}

func TestShortDescription(t *testing.T) {
	assert.Equal(t, "First", ShortDescription("First. Second. Third."))
	assert.Equal(t, "No break here.", ShortDescription("No break here."))
	assert.Equal(t, "v1.2 release", ShortDescription("v1.2 release. Next"))
}
