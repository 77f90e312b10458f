// Package lexicon holds the self-adjusting word → polarity table used by the
// sentiment analyzer.
package lexicon

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"newspulse/aggregator/internal/models"
	"newspulse/aggregator/internal/textutil"
)

// Scale converts normalized text scores ([-1, 1]) to lexicon scores.
const Scale = 2.0

// Persister loads and saves the full lexicon state.
type Persister interface {
	LoadLexicon(ctx context.Context) ([]models.LexiconEntry, error)
	SaveLexicon(ctx context.Context, entries []models.LexiconEntry) error
}

// Settings controls how the lexicon learns.
type Settings struct {
	// BootstrapThreshold is the usage count an unknown word must exceed before
	// it gets an initial score.
	BootstrapThreshold int64
	// AdjustThreshold is the usage count a known word must exceed before its
	// score starts moving.
	AdjustThreshold int64
	// BootstrapDamping scales the average context score assigned to a new word.
	BootstrapDamping float64
	LearningRate     float64
	// ScoreClamp bounds every stored score to [-ScoreClamp, ScoreClamp].
	ScoreClamp           float64
	ConsistencySmoothing float64
	// MaxTrackedWords caps the number of entries, known or candidate.
	MaxTrackedWords int
}

// DefaultSettings returns the tuned defaults.
func DefaultSettings() Settings {
	return Settings{
		BootstrapThreshold:   3,
		AdjustThreshold:      10,
		BootstrapDamping:     0.5,
		LearningRate:         0.05,
		ScoreClamp:           2.0,
		ConsistencySmoothing: 0.1,
		MaxTrackedWords:      20000,
	}
}

// Lexicon is the in-memory lexicon state. It is safe for concurrent use.
type Lexicon struct {
	mu        sync.Mutex
	entries   map[string]*models.LexiconEntry
	settings  Settings
	persister Persister
	dirty     bool
}

// New builds a lexicon from entries without touching persistence.
func New(entries []models.LexiconEntry, settings Settings, persister Persister) *Lexicon {
	l := &Lexicon{
		entries:   make(map[string]*models.LexiconEntry, len(entries)),
		settings:  settings,
		persister: persister,
	}
	for _, e := range entries {
		word := textutil.NormalizeWord(e.Word)
		if word == "" {
			continue
		}
		entry := e
		entry.Word = word
		entry.Score = clamp(entry.Score, -settings.ScoreClamp, settings.ScoreClamp)
		l.entries[word] = &entry
	}
	return l
}

// Load returns the persisted lexicon, or the default table when nothing was
// persisted or the store could not be read. It never fails.
func Load(ctx context.Context, persister Persister, settings Settings) *Lexicon {
	if persister == nil {
		return New(DefaultEntries(), settings, nil)
	}

	entries, err := persister.LoadLexicon(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load lexicon, falling back to default table")
		l := New(DefaultEntries(), settings, persister)
		l.dirty = true
		return l
	}
	if len(entries) == 0 {
		log.Info().Int("words", len(defaultScores)).Msg("No persisted lexicon, seeding default table")
		l := New(DefaultEntries(), settings, persister)
		l.dirty = true
		return l
	}

	log.Info().Int("words", len(entries)).Msg("Lexicon loaded")
	return New(entries, settings, persister)
}

// Score returns the polarity of word, 0 for unknown words.
func (l *Lexicon) Score(word string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[textutil.NormalizeWord(word)]; ok {
		return e.Score
	}
	return 0
}

// WordConfidence estimates how reliable a word's score is from its usage history.
func (l *Lexicon) WordConfidence(word string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[textutil.NormalizeWord(word)]
	if !ok || e.Score == 0 {
		return 0.1
	}
	return clamp(0.4+0.5*e.Consistency, 0.1, 0.95)
}

// RecordUsage registers one occurrence of word in a text whose overall score
// is overall. contributed is the word's own modified contribution. Both are
// on the normalized [-1, 1] scale.
func (l *Lexicon) RecordUsage(word string, contributed, overall float64) {
	word = textutil.NormalizeWord(word)
	if word == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.settings
	e, ok := l.entries[word]
	if !ok {
		if s.MaxTrackedWords > 0 && len(l.entries) >= s.MaxTrackedWords {
			return
		}
		e = &models.LexiconEntry{Word: word}
		l.entries[word] = e
	}

	e.UsageCount++
	e.TotalScore += overall
	l.dirty = true

	if e.Score == 0 {
		if e.UsageCount <= s.BootstrapThreshold {
			return
		}
		avg := e.TotalScore / float64(e.UsageCount)
		limit := s.ScoreClamp / 2
		e.Score = clamp(avg*Scale*s.BootstrapDamping, -limit, limit)
		if e.Score != 0 {
			e.Consistency = 0.3
			log.Debug().Str("word", word).Float64("score", e.Score).Int64("usage", e.UsageCount).Msg("Learned new lexicon word")
		}
		return
	}

	if e.UsageCount <= s.AdjustThreshold {
		return
	}

	target := (e.Score + overall*Scale) / 2
	e.Score = clamp(e.Score+s.LearningRate*(target-e.Score), -s.ScoreClamp, s.ScoreClamp)

	agreement := clamp(1-math.Abs(contributed-overall), 0, 1)
	a := s.ConsistencySmoothing
	e.Consistency = clamp((1-a)*e.Consistency+a*agreement, 0, 1)
}

// Entry returns a copy of the entry for word.
func (l *Lexicon) Entry(word string) (models.LexiconEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[textutil.NormalizeWord(word)]
	if !ok {
		return models.LexiconEntry{}, false
	}
	return *e, true
}

// Snapshot returns a copy of all entries sorted by word.
func (l *Lexicon) Snapshot() []models.LexiconEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Lexicon) snapshotLocked() []models.LexiconEntry {
	out := make([]models.LexiconEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Word < out[j].Word })
	return out
}

// Len returns the number of tracked words.
func (l *Lexicon) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Dirty reports whether there are changes not yet persisted.
func (l *Lexicon) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

// Persist writes the full state back when it changed since the last persist.
func (l *Lexicon) Persist(ctx context.Context) error {
	l.mu.Lock()
	if !l.dirty || l.persister == nil {
		l.mu.Unlock()
		return nil
	}
	snapshot := l.snapshotLocked()
	l.dirty = false
	l.mu.Unlock()

	if err := l.persister.SaveLexicon(ctx, snapshot); err != nil {
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
		return fmt.Errorf("failed to save lexicon: %w", err)
	}

	log.Debug().Int("words", len(snapshot)).Msg("Lexicon persisted")
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
