package match

import (
	"math"
	"regexp"
	"strings"

	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/textnorm"
)

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9\s]`)
	separatorRun    = regexp.MustCompile(`[\-_.]+`)
)

// Tokenize lowercases text, turns every non-alphanumeric character into a
// separator and splits on whitespace.
func Tokenize(text string) []string {
	return strings.Fields(nonAlphanumeric.ReplaceAllString(strings.ToLower(text), " "))
}

// Score is the fraction of unique query tokens that appear among the title
// tokens. An empty query scores 0.
func Score(query, title string) float64 {
	queryTokens := uniqueTokens(Tokenize(query))
	if len(queryTokens) == 0 {
		return 0
	}

	titleTokens := uniqueTokens(Tokenize(title))

	hits := 0
	for token := range queryTokens {
		if _, ok := titleTokens[token]; ok {
			hits++
		}
	}

	return float64(hits) / float64(len(queryTokens))
}

// SelectBest returns the highest scoring candidate. Ties keep the earliest
// candidate. With no candidates, or when no candidate shares a token with
// the query, it returns nil and 0.
func SelectBest(query string, candidates []domain.Candidate) (*domain.Candidate, float64) {
	var (
		best      *domain.Candidate
		bestScore float64
	)

	for i := range candidates {
		score := Score(query, candidates[i].Title)
		if best == nil || score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}

	if bestScore == 0 {
		return nil, 0
	}
	return best, bestScore
}

// QueryFromFilename derives a search query from a local asset file name.
// The ".html" suffix and sourceExt are stripped and runs of "-", "_" and "."
// become single spaces.
func QueryFromFilename(name, sourceExt string) string {
	base := strings.TrimSuffix(name, ".html")
	if sourceExt != "" {
		base = strings.TrimSuffix(base, sourceExt)
	}
	return textnorm.CollapseSpaces(separatorRun.ReplaceAllString(base, " "))
}

// RoundConfidence rounds a score to two decimals.
func RoundConfidence(score float64) float64 {
	return math.Round(score*100) / 100
}

func uniqueTokens(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
