package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"newspulse/aggregator/internal/database"
	"newspulse/aggregator/internal/models"
)

const lexiconBatchSize = 200

// LexiconRepository persists the sentiment lexicon in the sentiment_lexicon
// table. It implements lexicon.Persister.
type LexiconRepository struct {
	db  *sqlx.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// NewLexiconRepository creates a repository over an open database.
func NewLexiconRepository(db *database.DB) *LexiconRepository {
	var placeholder sq.PlaceholderFormat = sq.Question
	if db.Dialect == database.DialectPostgres {
		placeholder = sq.Dollar
	}
	return &LexiconRepository{
		db:  db.DB,
		sb:  sq.StatementBuilder.PlaceholderFormat(placeholder),
		now: time.Now,
	}
}

// LoadLexicon returns every stored word.
func (r *LexiconRepository) LoadLexicon(ctx context.Context) ([]models.LexiconEntry, error) {
	query, args, err := r.sb.
		Select("word", "score", "usage_count", "total_score", "consistency").
		From("sentiment_lexicon").
		OrderBy("word").
		ToSql()
	if err != nil {
		return nil, persistErr("load lexicon", "", err)
	}

	var entries []models.LexiconEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, persistErr("load lexicon", "", err)
	}
	return entries, nil
}

// SaveLexicon upserts the full state in one transaction.
func (r *LexiconRepository) SaveLexicon(ctx context.Context, entries []models.LexiconEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistErr("save lexicon", "", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	now := timestamp(r.now())
	for start := 0; start < len(entries); start += lexiconBatchSize {
		end := min(start+lexiconBatchSize, len(entries))

		ib := r.sb.Insert("sentiment_lexicon").
			Columns("word", "score", "usage_count", "total_score", "consistency", "updated_at")
		for _, e := range entries[start:end] {
			ib = ib.Values(e.Word, e.Score, e.UsageCount, e.TotalScore, e.Consistency, now)
		}
		query, args, err := ib.Suffix(`ON CONFLICT (word) DO UPDATE SET
			score = excluded.score,
			usage_count = excluded.usage_count,
			total_score = excluded.total_score,
			consistency = excluded.consistency,
			updated_at = excluded.updated_at`).
			ToSql()
		if err != nil {
			return persistErr("save lexicon", "", err)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return persistErr("save lexicon", entries[start].Word, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("save lexicon", "", fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}
