package lexicon

import "newspulse/aggregator/internal/models"

// seedConsistency is the consistency assigned to hand-curated words.
const seedConsistency = 0.6

// defaultScores is the built-in seed table. Keys are normalized (lowercase, no diacritics).
var defaultScores = map[string]float64{
	// positive
	"excellent":   1.8,
	"remarquable": 1.5,
	"succes":      1.5,
	"reussite":    1.4,
	"victoire":    1.4,
	"paix":        1.5,
	"accord":      1.2,
	"progres":     1.2,
	"cooperation": 1.1,
	"espoir":      1.1,
	"croissance":  1.0,
	"bon":         1.0,
	"positif":     1.0,
	"stabilite":   0.9,
	"bien":        0.8,
	"dialogue":    0.8,
	"historique":  0.6,

	// negative
	"terrorisme":   -1.9,
	"guerre":       -1.8,
	"catastrophe":  -1.8,
	"mort":         -1.7,
	"violence":     -1.6,
	"effondrement": -1.6,
	"attaque":      -1.5,
	"conflit":      -1.4,
	"crise":        -1.4,
	"echec":        -1.3,
	"recession":    -1.3,
	"menace":       -1.2,
	"mauvais":      -1.0,
	"negatif":      -1.0,
	"tension":      -1.0,
	"sanction":     -0.9,
	"sanctions":    -0.9,
	"protestation": -0.7,
}

// DefaultEntries returns a fresh copy of the seed lexicon.
func DefaultEntries() []models.LexiconEntry {
	entries := make([]models.LexiconEntry, 0, len(defaultScores))
	for word, score := range defaultScores {
		entries = append(entries, models.LexiconEntry{
			Word:        word,
			Score:       score,
			Consistency: seedConsistency,
		})
	}
	return entries
}
