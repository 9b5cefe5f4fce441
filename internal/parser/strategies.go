package parser

import (
	"regexp"
	"strconv"
	"strings"

	"assetstore/extractor/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

var (
	priceNumber   = regexp.MustCompile(`\$?([\d,]+\.?\d*)`)
	ratingNumber  = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)`)
	leadingNumber = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)`)
	styleKeyImage = regexp.MustCompile(`(?i)url\(([^)]+key-image[^)]+)\)`)
)

const maxRatingValue = 5.0

type ratingStrategy interface {
	rating(scope *goquery.Selection) (float64, bool)
}

type thumbnailStrategy interface {
	thumbnail(scope *goquery.Selection) (string, bool)
}

type priceStrategy interface {
	price(scope *goquery.Selection) (domain.Optional[float64], *float64)
}

// textRating reads a number from the first element matching selector.
// With leading set, the number must start the text.
type textRating struct {
	selector string
	leading  bool
}

func (s textRating) rating(scope *goquery.Selection) (float64, bool) {
	text := scope.Find(s.selector).First().Text()
	if text == "" {
		return 0, false
	}

	pattern := ratingNumber
	if s.leading {
		pattern = leadingNumber
	}
	return parseRating(pattern, text)
}

// ariaRating reads a number from an aria-label such as "4.5 star rating".
type ariaRating struct {
	selector string
}

func (s ariaRating) rating(scope *goquery.Selection) (float64, bool) {
	label, ok := scope.Find(s.selector).First().Attr("aria-label")
	if !ok || label == "" {
		return 0, false
	}
	return parseRating(ratingNumber, label)
}

func parseRating(pattern *regexp.Regexp, text string) (float64, bool) {
	m := pattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > maxRatingValue {
		return 0, false
	}
	return v, true
}

// attrThumbnail reads an image URL from src or the first srcset entry.
type attrThumbnail struct {
	selector string
	attr     string
}

func (s attrThumbnail) thumbnail(scope *goquery.Selection) (string, bool) {
	value, ok := scope.Find(s.selector).First().Attr(s.attr)
	if !ok || value == "" {
		return "", false
	}

	if s.attr == "srcset" {
		first := strings.TrimSpace(strings.Split(value, ",")[0])
		fields := strings.Fields(first)
		if len(fields) == 0 || !strings.Contains(fields[0], "key-image") {
			return "", false
		}
		return fields[0], true
	}

	return value, true
}

// styleThumbnail reads a background-image url(...) from an inline style.
type styleThumbnail struct {
	selector string
}

func (s styleThumbnail) thumbnail(scope *goquery.Selection) (string, bool) {
	style, ok := scope.Find(s.selector).First().Attr("style")
	if !ok {
		return "", false
	}

	m := styleKeyImage.FindStringSubmatch(style)
	if len(m) < 2 {
		return "", false
	}
	url := strings.Trim(strings.TrimSpace(m[1]), `"'`)
	return url, url != ""
}

// cardPrice handles the search card price block: a sale pair, a current
// price, or the bare container text.
type cardPrice struct {
	container string
	original  string
	current   string
}

func (s cardPrice) price(scope *goquery.Selection) (domain.Optional[float64], *float64) {
	container := scope.Find(s.container)
	if container.Length() == 0 {
		return domain.Unknown[float64](), nil
	}

	originalText := strings.TrimSpace(container.Find(s.original).Text())
	currentText := strings.TrimSpace(container.Find(s.current).Text())

	switch {
	case originalText != "" && currentText != "":
		var compareAt *float64
		if v, ok := ParsePrice(originalText).Get(); ok {
			compareAt = &v
		}
		return ParsePrice(currentText), compareAt
	case currentText != "":
		return ParsePrice(currentText), nil
	default:
		return ParsePrice(strings.TrimSpace(container.Text())), nil
	}
}

// ParsePrice converts listing price text into a number. Text containing
// "free" is 0. Anything without a numeric token is unknown.
func ParsePrice(text string) domain.Optional[float64] {
	if strings.Contains(strings.ToLower(text), "free") {
		return domain.Known(0.0)
	}

	m := priceNumber.FindStringSubmatch(text)
	if len(m) < 2 {
		return domain.Unknown[float64]()
	}

	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return domain.Unknown[float64]()
	}
	return domain.Known(v)
}

func firstRating(strategies []ratingStrategy, scope *goquery.Selection) *float64 {
	for _, s := range strategies {
		if v, ok := s.rating(scope); ok {
			return &v
		}
	}
	return nil
}

func firstThumbnail(strategies []thumbnailStrategy, scopes ...*goquery.Selection) *string {
	for _, scope := range scopes {
		if scope == nil || scope.Length() == 0 {
			continue
		}
		for _, s := range strategies {
			if v, ok := s.thumbnail(scope); ok {
				return &v
			}
		}
	}
	return nil
}
