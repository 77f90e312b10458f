// Package importfeeds loads feed definitions from a CSV file into the store.
package importfeeds

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"newspulse/aggregator/internal/models"
)

// FeedInserter is the part of the store the importer writes to.
type FeedInserter interface {
	InsertFeed(ctx context.Context, f *models.Feed) (bool, error)
}

// Summary reports what one import did. Problems with single rows are listed
// in Errors and never abort the import.
type Summary struct {
	Rows       int
	Imported   int
	Duplicates int
	Errors     []string
}

// Importer handles the feed import process
type Importer struct {
	store  FeedInserter
	client *http.Client
}

// NewImporter creates a new feed importer
func NewImporter(store FeedInserter) *Importer {
	return &Importer{store: store, client: &http.Client{Timeout: 30 * time.Second}}
}

// ImportFeeds imports feeds from a local CSV file or an http(s) URL. The CSV
// needs a url column; title and is_active are optional.
func (i *Importer) ImportFeeds(ctx context.Context, source string) (Summary, error) {
	log.Info().Str("source", source).Msg("Starting feed import")

	rc, err := i.open(ctx, source)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to get CSV data: %w", err)
	}
	defer rc.Close()

	summary, err := i.Import(ctx, rc)
	if err != nil {
		return summary, fmt.Errorf("failed to import feeds: %w", err)
	}

	log.Info().
		Int("rows", summary.Rows).
		Int("imported", summary.Imported).
		Int("duplicates", summary.Duplicates).
		Int("errors", len(summary.Errors)).
		Msg("Import summary")
	return summary, nil
}

func (i *Importer) open(ctx context.Context, source string) (io.ReadCloser, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		log.Debug().Str("path", source).Msg("Using local CSV file")
		return os.Open(source)
	}

	log.Debug().Str("url", source).Msg("Downloading CSV file")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download file: HTTP status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Import reads CSV rows from r and inserts one feed per row.
func (i *Importer) Import(ctx context.Context, r io.Reader) (Summary, error) {
	var summary Summary

	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return summary, fmt.Errorf("failed to read CSV header: %w", err)
	}
	log.Debug().Strs("header", header).Msg("CSV header read")

	urlIdx := findColumnIndex(header, "url")
	if urlIdx < 0 {
		return summary, fmt.Errorf("required column 'url' not found in CSV header")
	}
	titleIdx := findColumnIndex(header, "title")
	activeIdx := findColumnIndex(header, "is_active")

	line := 1
	for {
		line++
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("Error reading CSV line")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		summary.Rows++

		feed := models.NewFeed(cell(record, urlIdx))
		if feed.URL == "" {
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: empty URL", line))
			continue
		}
		if !strings.HasPrefix(feed.URL, "http://") && !strings.HasPrefix(feed.URL, "https://") {
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: not an http(s) URL: %s", line, feed.URL))
			continue
		}
		if title := cell(record, titleIdx); title != "" {
			feed.Title.String, feed.Title.Valid = title, true
		}
		if active := cell(record, activeIdx); active != "" {
			v, err := strconv.ParseBool(active)
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: invalid is_active %q", line, active))
				continue
			}
			feed.IsActive = v
		}

		logger := log.With().Int("line", line).Str("url", feed.URL).Logger()

		inserted, err := i.store.InsertFeed(ctx, feed)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to insert feed")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", line, err))
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			continue
		}
		if !inserted {
			logger.Warn().Msg("Duplicate URL")
			summary.Duplicates++
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: duplicate URL: %s", line, feed.URL))
			continue
		}

		summary.Imported++
		logger.Debug().Msg("Feed inserted successfully")
	}
	return summary, nil
}

func findColumnIndex(header []string, columnName string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), columnName) {
			return i
		}
	}
	return -1
}

// cell returns the trimmed value at index, or "" when out of range.
func cell(record []string, index int) string {
	if index >= 0 && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}
