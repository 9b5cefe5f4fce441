package domain

import "fmt"

// PageKind selects the readiness check a fetcher waits for.
type PageKind string

func (k PageKind) String() string {
	return string(k)
}

const (
	PageKindSearch    PageKind = "search"
	PageKindProduct   PageKind = "product"
	PageKindPublisher PageKind = "publisher"
)

// Pass is one batch run over the catalog.
type Pass string

func (p Pass) String() string {
	return string(p)
}

const (
	PassSearch     Pass = "search"
	PassProduct    Pass = "product"
	PassPublisher  Pass = "publisher"
	PassThumbnails Pass = "thumbnails"
)

var Passes = []Pass{
	PassSearch,
	PassProduct,
	PassPublisher,
	PassThumbnails,
}

func ParsePass(s string) (Pass, error) {
	for _, p := range Passes {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown pass %q (want search, product, publisher or thumbnails)", s)
}

// GetPassName returns a human readable label for logs.
func (p Pass) GetPassName() string {
	switch p {
	case PassSearch:
		return "Search matching"
	case PassProduct:
		return "Product enrichment"
	case PassPublisher:
		return "Publisher snapshots"
	case PassThumbnails:
		return "Thumbnail download"
	default:
		return "Unknown"
	}
}
