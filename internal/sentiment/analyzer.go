// Package sentiment scores text polarity against the adaptive lexicon.
package sentiment

import (
	"math"
	"strings"
	"unicode/utf8"

	"newspulse/aggregator/internal/lexicon"
	"newspulse/aggregator/internal/models"
	"newspulse/aggregator/internal/textutil"
)

// Settings tunes the analyzer.
type Settings struct {
	// MinTextLength is the rune count below which a text is scored neutral
	// without lexicon lookups.
	MinTextLength int
	// MinWordScore is the lexicon magnitude a word needs to contribute.
	MinWordScore float64
	// Lookback is how many preceding tokens are scanned for a modifier.
	Lookback       int
	NegationFactor float64
	// MinCandidateLength is the rune count an unknown word needs to be tracked
	// for learning.
	MinCandidateLength int
	// Learn enables lexicon usage recording.
	Learn bool
}

// DefaultSettings returns the tuned defaults.
func DefaultSettings() Settings {
	return Settings{
		MinTextLength:      3,
		MinWordScore:       0.1,
		Lookback:           2,
		NegationFactor:     -1.2,
		MinCandidateLength: 4,
		Learn:              true,
	}
}

// Result is the outcome of scoring one text.
type Result struct {
	Score        float64 `json:"score"`
	Label        string  `json:"sentiment"`
	Confidence   float64 `json:"confidence"`
	WordCount    int     `json:"word_count"`
	Contributing int     `json:"contributing_words"`
	Intensity    float64 `json:"intensity"`
}

type contribution struct {
	index int
	word  string
	value float64
}

// Analyzer scores texts and feeds usage back into its lexicon.
type Analyzer struct {
	lex      *lexicon.Lexicon
	settings Settings
}

// NewAnalyzer creates an analyzer bound to lex.
func NewAnalyzer(lex *lexicon.Lexicon, settings Settings) *Analyzer {
	if settings.Lookback <= 0 {
		settings.Lookback = 2
	}
	if settings.NegationFactor == 0 {
		settings.NegationFactor = -1.2
	}
	return &Analyzer{lex: lex, settings: settings}
}

// Lexicon returns the lexicon the analyzer reads and updates.
func (a *Analyzer) Lexicon() *lexicon.Lexicon {
	return a.lex
}

// Analyze scores text. Score is in [-1, 1] and Confidence in [0.05, 0.95].
func (a *Analyzer) Analyze(text string) Result {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < a.settings.MinTextLength {
		return Result{Label: models.SentimentNeutral, Confidence: 0.05}
	}

	words := make([]string, 0, 32)
	for _, tok := range textutil.Tokens(trimmed) {
		if utf8.RuneCountInString(tok) > 1 {
			words = append(words, tok)
		}
	}
	if len(words) == 0 {
		return Result{Label: models.SentimentNeutral, Confidence: 0.05}
	}

	ironic := ironyMask(words)
	contribs := make([]contribution, 0, len(words))
	contrastAt := -1
	for i, w := range words {
		if contrastMarkers[w] {
			contrastAt = i
			continue
		}
		if ironic[i] {
			continue
		}
		base := a.lex.Score(w)
		if math.Abs(base) < a.settings.MinWordScore {
			continue
		}
		contribs = append(contribs, contribution{index: i, word: w, value: base * a.modifier(words, i)})
	}

	if len(contribs) == 0 {
		a.learn(words, nil, 0)
		return Result{Label: models.SentimentNeutral, Confidence: 0.1, WordCount: len(words)}
	}

	applyContrast(contribs, contrastAt)
	if len(ironic) > 0 {
		applyIrony(contribs)
	}

	var sum, magnitude, wordConf float64
	for _, c := range contribs {
		sum += c.value
		magnitude += math.Abs(c.value)
		wordConf += a.lex.WordConfidence(c.word)
	}
	n := float64(len(contribs))
	raw := sum / n
	intensity := magnitude / n
	score := clamp(raw/lexicon.Scale, -1, 1)

	coverage := math.Min(1, n/5)
	confidence := clamp(0.15+0.35*coverage+0.45*(wordConf/n), 0.1, 0.95)

	res := Result{
		Score:        score,
		Label:        label(score, intensity),
		Confidence:   confidence,
		WordCount:    len(words),
		Contributing: len(contribs),
		Intensity:    intensity,
	}

	a.learn(words, contribs, score)
	return res
}

// modifier returns the factor of the nearest negation, intensifier or
// attenuator within the lookback window, or 1.
func (a *Analyzer) modifier(words []string, i int) float64 {
	for k := 1; k <= a.settings.Lookback && i-k >= 0; k++ {
		w := words[i-k]
		if negations[w] {
			return a.settings.NegationFactor
		}
		if f, ok := intensifiers[w]; ok {
			return f
		}
		if f, ok := attenuators[w]; ok {
			return f
		}
	}
	return 1
}

func (a *Analyzer) learn(words []string, contribs []contribution, score float64) {
	if !a.settings.Learn {
		return
	}

	for _, c := range contribs {
		a.lex.RecordUsage(c.word, clamp(c.value/lexicon.Scale, -1, 1), score)
	}

	seen := make(map[string]bool)
	for _, w := range words {
		if seen[w] || utf8.RuneCountInString(w) < a.settings.MinCandidateLength || isFunctionWord(w) {
			continue
		}
		seen[w] = true
		if math.Abs(a.lex.Score(w)) >= a.settings.MinWordScore {
			continue
		}
		a.lex.RecordUsage(w, 0, score)
	}
}

// applyContrast halves the run before the last contrast marker when it
// disagrees in polarity with what follows the marker.
func applyContrast(contribs []contribution, contrastAt int) {
	if contrastAt < 0 {
		return
	}
	var before, after float64
	var nBefore, nAfter int
	for _, c := range contribs {
		if c.index < contrastAt {
			before += c.value
			nBefore++
		} else {
			after += c.value
			nAfter++
		}
	}
	if nBefore == 0 || nAfter == 0 || sign(before) == sign(after) {
		return
	}
	for i := range contribs {
		if contribs[i].index < contrastAt {
			contribs[i].value *= 0.5
		}
	}
}

// applyIrony flips and dampens positive contributions of an ironic text
// that also carries negative evidence.
func applyIrony(contribs []contribution) {
	negative := false
	for _, c := range contribs {
		if c.value < 0 {
			negative = true
			break
		}
	}
	if !negative {
		return
	}
	for i := range contribs {
		if contribs[i].value > 0 {
			contribs[i].value *= -0.5
		}
	}
}

// ironyMask returns the token positions covered by irony phrases.
func ironyMask(words []string) map[int]bool {
	var mask map[int]bool
	for _, phrase := range ironyPhrases {
		for i := 0; i+len(phrase) <= len(words); i++ {
			match := true
			for j, p := range phrase {
				if words[i+j] != p {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			if mask == nil {
				mask = make(map[int]bool)
			}
			for j := range phrase {
				mask[i+j] = true
			}
		}
	}
	return mask
}

// label maps a score to a label using a neutral band that widens with the
// text's emotional intensity.
func label(score, intensity float64) string {
	band := 0.05
	switch {
	case intensity >= 1.0:
		band = 0.2
	case intensity >= 0.5:
		band = 0.1
	}
	switch {
	case score > band:
		return models.SentimentPositive
	case score < -band:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
