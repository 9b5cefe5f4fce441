package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

const (
	StatusDraft      = "draft"
	VisibilityPublic = "public"
)

// TimestampLayout matches the millisecond ISO-8601 form stored in catalog files.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

type Publisher struct {
	Name *string `json:"name"`
	URL  *string `json:"url"`
	Slug *string `json:"slug"`
}

// AssetRecord is the persisted catalog entry for one local source file.
// SourceFile is the natural key.
type AssetRecord struct {
	AssetID          *string           `json:"assetId"`
	Title            *string           `json:"title"`
	Slug             *string           `json:"slug"`
	ShortDescription Optional[string]  `json:"shortDescription"`
	Description      Optional[string]  `json:"description"`
	Price            Optional[float64] `json:"price"`
	CompareAtPrice   *float64          `json:"compareAtPrice,omitempty"`
	Rating           *float64          `json:"rating"`
	Thumbnail        *string           `json:"thumbnail"`
	Category         Optional[string]  `json:"category"`
	Publisher        Publisher         `json:"publisher"`
	ProductURL       *string           `json:"productUrl"`
	SourceFile       string            `json:"sourceFile"`
	Status           string            `json:"status"`
	Visibility       string            `json:"visibility"`
	CreatedAt        string            `json:"createdAt"`
	UpdatedAt        string            `json:"updatedAt"`
	SearchQuery      string            `json:"searchQuery"`
	MatchConfidence  float64           `json:"matchConfidence"`
}

// Timestamp formats t the way record timestamps are stored.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// SameContent reports whether r and other are equal ignoring UpdatedAt.
func (r AssetRecord) SameContent(other AssetRecord) bool {
	r.UpdatedAt, other.UpdatedAt = "", ""

	a, errA := json.Marshal(r)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// PublisherID returns the numeric id from a /publishers/<id> URL, or "".
func (r AssetRecord) PublisherID() string {
	if r.Publisher.URL == nil {
		return ""
	}
	m := publisherIDPattern.FindStringSubmatch(*r.Publisher.URL)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func StringPtr(s string) *string {
	return &s
}

func FloatPtr(f float64) *float64 {
	return &f
}

// Deref returns the pointed-to string or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
