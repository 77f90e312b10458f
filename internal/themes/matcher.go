// Package themes matches article text against keyword-defined themes and
// supplies the theme configuration read by each refresh cycle.
package themes

import (
	"strings"

	"github.com/rs/zerolog/log"

	"newspulse/aggregator/internal/models"
	"newspulse/aggregator/internal/textutil"
)

// MaxConfidence caps a theme match below certainty.
const MaxConfidence = 0.9

// Matcher counts whole-word keyword hits per theme.
type Matcher struct {
	// MinHits is the number of keyword hits a theme needs to match.
	MinHits int
}

// NewMatcher creates a matcher. A non-positive minHits means 1.
func NewMatcher(minHits int) *Matcher {
	if minHits <= 0 {
		minHits = 1
	}
	return &Matcher{MinHits: minHits}
}

// Match returns the themes whose keywords occur in title and content, in the
// order the themes were given. Themes without usable keywords are skipped.
func (m *Matcher) Match(title, content string, themes []models.Theme) []models.ThemeMatch {
	tokens := textutil.Tokens(title + " " + content)
	if len(tokens) == 0 || len(themes) == 0 {
		return nil
	}

	minHits := m.MinHits
	if minHits <= 0 {
		minHits = 1
	}

	var matches []models.ThemeMatch
	for _, theme := range themes {
		keywords := keywordTokens(theme.Keywords)
		if len(keywords) == 0 {
			log.Warn().Str("theme", theme.Name).Msg("Skipping theme without keywords")
			continue
		}

		hits := 0
		for _, kw := range keywords {
			hits += countSequence(tokens, kw)
		}
		if hits < minHits {
			continue
		}

		confidence := float64(hits) / float64(len(keywords))
		if confidence > MaxConfidence {
			confidence = MaxConfidence
		}
		matches = append(matches, models.ThemeMatch{
			ThemeID:    theme.ID,
			ThemeName:  theme.Name,
			Hits:       hits,
			Confidence: confidence,
		})
	}
	return matches
}

// keywordTokens normalizes keywords into token sequences, dropping blanks
// and duplicates.
func keywordTokens(keywords []string) [][]string {
	seen := make(map[string]bool, len(keywords))
	out := make([][]string, 0, len(keywords))
	for _, kw := range keywords {
		norm := textutil.NormalizeWord(kw)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, strings.Fields(norm))
	}
	return out
}

func countSequence(tokens, seq []string) int {
	n := 0
	for i := 0; i+len(seq) <= len(tokens); i++ {
		match := true
		for j := range seq {
			if tokens[i+j] != seq[j] {
				match = false
				break
			}
		}
		if match {
			n++
		}
	}
	return n
}
