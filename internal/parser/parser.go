package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/textnorm"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

// ErrNoDescription marks a product page without a description panel.
var ErrNoDescription = errors.New("product page has no description")

const (
	cardNameSelector       = `a[data-test="product-card-name"]`
	packageLinkSelector    = `a[href^="/packages/package/"]`
	publisherSelector      = `a[data-test="product-card-publisher"]`
	descriptionSelector    = `#description-panel ._1_3uP._1rkJa`
	structuredDataSelector = `script[type="application/ld+json"]`
)

var (
	packageIDPattern  = regexp.MustCompile(`/packages/package/(\d+)`)
	trailingIDPattern = regexp.MustCompile(`-(\d+)(?:[/?#]|$)`)
)

// Parser extracts structured data from marketplace HTML.
type Parser struct {
	baseURL    *url.URL
	ratings    []ratingStrategy
	thumbnails []thumbnailStrategy
	price      priceStrategy
}

func New(baseURL string) (*Parser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL %q: %w", baseURL, err)
	}

	return &Parser{
		baseURL: base,
		ratings: []ratingStrategy{
			textRating{selector: `[data-test="product-rating"]`, leading: true},
			ariaRating{selector: `[aria-label*="star rating"],[aria-label*="Rating:"]`},
			textRating{selector: `[data-test="product-card-rating"], .rating, [aria-label*="rating"]`},
		},
		thumbnails: []thumbnailStrategy{
			attrThumbnail{selector: `[src*="key-image"]`, attr: "src"},
			attrThumbnail{selector: `[srcset*="key-image"]`, attr: "srcset"},
			styleThumbnail{selector: `[style*="key-image"]`},
		},
		price: cardPrice{
			container: `[data-test="search-results-price"]`,
			original:  `[data-test="product-card-original-price"]`,
			current:   `[data-test="product-card-current-price"]`,
		},
	}, nil
}

// ExtractCandidates returns the listing cards of a search results page in
// document order. Cards without a product URL are dropped.
func (p *Parser) ExtractCandidates(html string) ([]domain.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	candidates := make([]domain.Candidate, 0)
	doc.Find(cardNameSelector).Each(func(_ int, anchor *goquery.Selection) {
		if c, ok := p.candidateFromCard(anchor); ok {
			candidates = append(candidates, c)
		}
	})

	if len(candidates) == 0 {
		doc.Find(packageLinkSelector).Each(func(_ int, link *goquery.Selection) {
			href, _ := link.Attr("href")
			productURL := p.absoluteURL(href)
			id := AssetIDFromHref(href)
			if productURL == "" || id == "" {
				return
			}
			candidates = append(candidates, domain.Candidate{
				ID:    id,
				Title: strings.TrimSpace(link.Text()),
				URL:   productURL,
				Price: domain.Unknown[float64](),
			})
		})

		if len(candidates) > 0 {
			log.Debugf("Primary card selector found nothing, fell back to %d package links", len(candidates))
		}
	}

	return candidates, nil
}

func (p *Parser) candidateFromCard(anchor *goquery.Selection) (domain.Candidate, bool) {
	href, _ := anchor.Attr("href")
	productURL := p.absoluteURL(href)
	if productURL == "" {
		return domain.Candidate{}, false
	}

	article := anchor.Closest("article")
	card := anchor.Closest("div.flex.flex-col")
	if card.Length() == 0 {
		card = anchor.Closest("article, div")
	}

	scope := card
	if article.Length() > 0 {
		scope = article
	}

	c := domain.Candidate{
		ID:    AssetIDFromHref(href),
		Title: strings.TrimSpace(anchor.Text()),
		URL:   productURL,
	}

	publisher := scope.Find(publisherSelector).First()
	if name := strings.TrimSpace(publisher.Text()); name != "" {
		c.PublisherName = &name
	}
	if publisherHref, ok := publisher.Attr("href"); ok {
		if abs := p.absoluteURL(publisherHref); abs != "" {
			c.PublisherURL = &abs
		}
	}

	c.ThumbnailURL = firstThumbnail(p.thumbnails, scope, card)
	c.Rating = firstRating(p.ratings, scope)
	c.Price, c.CompareAtPrice = p.price.price(scope)

	return c, true
}

// ExtractProductDetails reads the description and breadcrumb path of a
// product page. A missing description returns ErrNoDescription along with
// whatever breadcrumb was found.
func (p *Parser) ExtractProductDetails(html string) (domain.ProductDetails, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return domain.ProductDetails{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	details := domain.ProductDetails{
		Description: strings.TrimSpace(doc.Find(descriptionSelector).Text()),
		Breadcrumb:  extractBreadcrumb(doc),
	}

	if details.Description == "" {
		return details, ErrNoDescription
	}
	return details, nil
}

// ExtractPublisherName returns the heading of a publisher profile page.
func (p *Parser) ExtractPublisherName(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	return textnorm.CollapseSpaces(doc.Find("h1").First().Text()), nil
}

type breadcrumbItem struct {
	Name string `json:"name"`
	Item struct {
		Name string `json:"name"`
	} `json:"item"`
}

type breadcrumbList struct {
	Type            string           `json:"@type"`
	ItemListElement []breadcrumbItem `json:"itemListElement"`
}

func extractBreadcrumb(doc *goquery.Document) []string {
	var names []string

	doc.Find(structuredDataSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		list, ok := decodeBreadcrumb(s.Text())
		if !ok {
			return true
		}

		names = make([]string, 0, len(list.ItemListElement))
		for _, item := range list.ItemListElement {
			name := item.Name
			if name == "" {
				name = item.Item.Name
			}
			names = append(names, strings.TrimSpace(name))
		}
		return false
	})

	return names
}

func decodeBreadcrumb(raw string) (breadcrumbList, bool) {
	raw = strings.TrimSpace(raw)

	var single breadcrumbList
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		return single, single.Type == "BreadcrumbList"
	}

	var many []breadcrumbList
	if err := json.Unmarshal([]byte(raw), &many); err == nil {
		for _, l := range many {
			if l.Type == "BreadcrumbList" {
				return l, true
			}
		}
	}

	return breadcrumbList{}, false
}

// AssetIDFromHref extracts the numeric asset id from a listing link.
func AssetIDFromHref(href string) string {
	if m := packageIDPattern.FindStringSubmatch(href); len(m) > 1 {
		return m[1]
	}
	if m := trailingIDPattern.FindStringSubmatch(href); len(m) > 1 {
		return m[1]
	}
	return ""
}

func (p *Parser) absoluteURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return p.baseURL.ResolveReference(ref).String()
}
