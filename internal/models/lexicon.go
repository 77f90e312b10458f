package models

// LexiconEntry represents a row in the 'sentiment_lexicon' table.
type LexiconEntry struct {
	Word        string  `db:"word" json:"word"`
	Score       float64 `db:"score" json:"score"`
	UsageCount  int64   `db:"usage_count" json:"usage_count"`
	TotalScore  float64 `db:"total_score" json:"total_score"`
	Consistency float64 `db:"consistency" json:"consistency"`
}
