package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"newspulse/aggregator/internal/models"
	"newspulse/aggregator/internal/server/pagination"
	"newspulse/aggregator/internal/store"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// ArticleLister is the read side of the article store.
type ArticleLister interface {
	ListArticles(ctx context.Context, q store.ArticleQuery) ([]models.Article, error)
}

// ArticlesResponse is one page of scored articles.
type ArticlesResponse struct {
	Articles   []models.Article `json:"articles"`
	NextCursor *string          `json:"next_cursor,omitempty"`
}

// ArticlesHandler serves GET /v1/articles.
type ArticlesHandler struct {
	repo ArticleLister
}

// NewArticlesHandler creates a handler over repo.
func NewArticlesHandler(repo ArticleLister) *ArticlesHandler {
	return &ArticlesHandler{repo: repo}
}

// GetArticles returns articles created after ?since= (RFC3339) or after the
// position encoded in ?cursor=, oldest first.
func (h *ArticlesHandler) GetArticles(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing articles request")

	query := r.URL.Query()
	limitStr := query.Get("limit")
	sinceStr := query.Get("since")
	cursorStr := query.Get("cursor")

	limit := defaultLimit
	if limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			writeError(w, log, http.StatusBadRequest, fmt.Sprintf("invalid 'limit' parameter: must be between 1 and %d", maxLimit))
			return
		}
		limit = parsed
	}

	q := store.ArticleQuery{Limit: limit + 1}
	switch {
	case cursorStr != "":
		ts, id, err := pagination.DecodeCursor(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			writeError(w, log, http.StatusBadRequest, "invalid 'cursor' parameter")
			return
		}
		q.CursorTime = &ts
		q.CursorID = &id
	case sinceStr != "":
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			log.Warn().Err(err).Str("since", sinceStr).Msg("Invalid 'since' parameter format")
			writeError(w, log, http.StatusBadRequest, "invalid 'since' parameter: use RFC3339 format (e.g., 2025-03-28T15:00:00Z)")
			return
		}
		since = since.UTC()
		q.Since = &since
	default:
		log.Warn().Msg("Missing required parameter: 'since' or 'cursor'")
		writeError(w, log, http.StatusBadRequest, "missing required parameter: 'since' or 'cursor'")
		return
	}

	articles, err := h.repo.ListArticles(r.Context(), q)
	if err != nil {
		log.Error().Err(err).Str("cursor", cursorStr).Str("since", sinceStr).Msg("Error listing articles")
		writeError(w, log, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ArticlesResponse{Articles: articles}
	if len(articles) > limit {
		resp.Articles = articles[:limit]
		last := resp.Articles[limit-1]
		cursor := pagination.EncodeCursor(last.CreatedAt, last.ID)
		resp.NextCursor = &cursor
	}
	writeJSON(w, log, http.StatusOK, resp)
}
