package domain

import "regexp"

var publisherIDPattern = regexp.MustCompile(`/publishers/(\d+)`)

// Candidate is one listing card scraped from a search results page.
type Candidate struct {
	ID             string
	Title          string
	URL            string
	PublisherName  *string
	PublisherURL   *string
	ThumbnailURL   *string
	Rating         *float64
	Price          Optional[float64]
	CompareAtPrice *float64
}

// ProductDetails is what a product page contributes to an existing record.
type ProductDetails struct {
	Description string
	Breadcrumb  []string
}
