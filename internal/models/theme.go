package models

// Theme is a user-defined topic matched by keywords.
type Theme struct {
	ID          int64    `db:"id" json:"id" yaml:"-"`
	Name        string   `db:"name" json:"name" yaml:"name"`
	Keywords    []string `db:"-" json:"keywords" yaml:"keywords"`
	Color       string   `db:"color" json:"color,omitempty" yaml:"color,omitempty"`
	Description string   `db:"description" json:"description,omitempty" yaml:"description,omitempty"`
}

// ThemeMatch associates a theme with an article at a given confidence.
type ThemeMatch struct {
	ThemeID    int64   `db:"theme_id" json:"theme_id"`
	ThemeName  string  `db:"theme_name" json:"theme_name"`
	Hits       int     `db:"-" json:"hits,omitempty"`
	Confidence float64 `db:"confidence" json:"confidence"`
}
