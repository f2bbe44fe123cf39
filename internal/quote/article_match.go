package quote

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pinggolf/gestima/internal/db"
)

// customerPrefixes are externally-sourced article number prefixes
// stripped before matching against the internal catalog.
var customerPrefixes = []string{"byn-", "trgcz-", "gelso-"}

// revisionPattern matches a trailing revision marker: -00, -01, -A, -B.
var revisionPattern = regexp.MustCompile(`-([0-9]{2}|[A-Z])$`)

// NormalizedArticleNumber holds an external article number alongside
// the parts a fuzzy match strips away.
type NormalizedArticleNumber struct {
	Original   string
	Normalized string // without customer prefix
	Base       string // without customer prefix and revision suffix
	Prefix     string
	Revision   string
}

// NormalizeArticleNumber extracts a known customer prefix and trailing
// revision marker from an externally-sourced article number, e.g.
// "byn-10101251" normalizes to base "10101251", prefix "byn-"; and
// "90057637-00" normalizes to base "90057637", revision "00".
func NormalizeArticleNumber(articleNumber string) NormalizedArticleNumber {
	original := strings.TrimSpace(articleNumber)
	normalized := original

	var prefix string
	for _, p := range customerPrefixes {
		if len(original) >= len(p) && strings.EqualFold(original[:len(p)], p) {
			prefix = original[:len(p)]
			normalized = original[len(p):]
			break
		}
	}

	base := normalized
	var revision string
	if m := revisionPattern.FindStringSubmatch(normalized); m != nil {
		revision = m[1]
		base = normalized[:len(normalized)-len(m[0])]
	}

	return NormalizedArticleNumber{
		Original:   original,
		Normalized: normalized,
		Base:       base,
		Prefix:     prefix,
		Revision:   revision,
	}
}

// ArticleNumberVariants returns search variants ordered by priority:
// the original value, the value without a customer prefix, then the
// value without prefix and revision. Duplicates are dropped.
func ArticleNumberVariants(articleNumber string) []string {
	norm := NormalizeArticleNumber(articleNumber)
	candidates := []string{norm.Original, norm.Normalized, norm.Base}

	seen := map[string]bool{}
	variants := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c != "" && !seen[c] {
			seen[c] = true
			variants = append(variants, c)
		}
	}
	return variants
}

// MatchPartByArticleNumber resolves an externally-sourced article
// number to a Part, trying an exact match first and falling back to
// the prefix/revision-stripped variants.
func (e *Engine) MatchPartByArticleNumber(ctx context.Context, articleNumber string) (*db.Part, error) {
	for _, variant := range ArticleNumberVariants(articleNumber) {
		part, err := e.queries.GetPartByArticleNumber(ctx, variant)
		if err != nil {
			return nil, fmt.Errorf("match part by article number: %w", err)
		}
		if part != nil {
			return part, nil
		}
	}
	return nil, nil
}
