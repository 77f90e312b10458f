package themes

import (
	"context"
	"fmt"
	"strings"

	"newspulse/aggregator/internal/models"
	"newspulse/aggregator/internal/textutil"
)

// Source supplies the theme list read at the start of each refresh cycle.
type Source interface {
	ListThemes(ctx context.Context) ([]models.Theme, error)
}

// ConfigError describes a malformed theme definition.
type ConfigError struct {
	Index  int
	Theme  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Theme == "" {
		return fmt.Sprintf("theme #%d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("theme %q: %s", e.Theme, e.Reason)
}

// Validate checks that a theme has a name and at least one usable keyword.
func Validate(index int, t models.Theme) error {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return &ConfigError{Index: index, Reason: "missing name"}
	}
	for _, kw := range t.Keywords {
		if textutil.NormalizeWord(kw) != "" {
			return nil
		}
	}
	return &ConfigError{Index: index, Theme: name, Reason: "no usable keywords"}
}

// StaticSource serves a fixed theme list.
type StaticSource struct {
	themes []models.Theme
}

// NewStaticSource creates a source over a copy of themes.
func NewStaticSource(themes []models.Theme) *StaticSource {
	cp := make([]models.Theme, len(themes))
	copy(cp, themes)
	return &StaticSource{themes: cp}
}

// ListThemes implements Source.
func (s *StaticSource) ListThemes(_ context.Context) ([]models.Theme, error) {
	cp := make([]models.Theme, len(s.themes))
	copy(cp, s.themes)
	return cp, nil
}

// DefaultThemes is used when no theme file is configured.
func DefaultThemes() []models.Theme {
	return []models.Theme{
		{
			Name:        "Diplomatie",
			Keywords:    []string{"accord", "paix", "négociation", "sommet", "traité", "diplomatie", "cessez-le-feu"},
			Color:       "#2e86de",
			Description: "Relations internationales et négociations",
		},
		{
			Name:        "Conflits",
			Keywords:    []string{"guerre", "conflit", "attaque", "frappe", "armée", "bombardement", "offensive"},
			Color:       "#c0392b",
			Description: "Conflits armés et tensions militaires",
		},
		{
			Name:        "Ukraine",
			Keywords:    []string{"Ukraine", "Kiev", "Zelensky", "conflit ukrainien", "guerre Ukraine"},
			Color:       "#f1c40f",
			Description: "Guerre en Ukraine",
		},
		{
			Name:        "Élections",
			Keywords:    []string{"élection", "présidentielle", "vote", "scrutin", "candidat"},
			Color:       "#8e44ad",
			Description: "Scrutins et vie politique",
		},
		{
			Name:        "Économie",
			Keywords:    []string{"inflation", "récession", "crise économique", "chômage", "pouvoir d'achat"},
			Color:       "#27ae60",
			Description: "Conjoncture économique",
		},
	}
}
