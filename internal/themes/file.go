package themes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"newspulse/aggregator/internal/models"
)

const reloadDebounce = 500 * time.Millisecond

type themeFile struct {
	Themes []models.Theme `yaml:"themes"`
}

// FileSource reads themes from a YAML file and keeps the last valid list
// cached between reloads.
//
//	themes:
//	  - name: Diplomatie
//	    keywords: [accord, paix]
type FileSource struct {
	path string

	mu     sync.RWMutex
	themes []models.Theme
}

// NewFileSource loads path once. The file must exist and parse.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the watched file.
func (s *FileSource) Path() string {
	return s.path
}

// ListThemes implements Source.
func (s *FileSource) ListThemes(_ context.Context) ([]models.Theme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := make([]models.Theme, len(s.themes))
	copy(cp, s.themes)
	return cp, nil
}

// Reload re-reads the file. Malformed entries are skipped with a warning; a
// read or parse failure keeps the previous list and is returned.
func (s *FileSource) Reload() error {
	themes, err := loadThemeFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.themes = themes
	s.mu.Unlock()

	log.Info().Str("path", s.path).Int("themes", len(themes)).Msg("Theme file loaded")
	return nil
}

// Watch reloads the file on change until ctx is done. The parent directory is
// watched so editors that replace the file atomically are picked up.
func (s *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create theme file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := func() {
		if err := s.Reload(); err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("Theme reload failed, keeping previous themes")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Str("path", s.path).Msg("Theme watcher error")
		}
	}
}

func loadThemeFile(path string) ([]models.Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read theme file: %w", err)
	}

	var f themeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse theme file %s: %w", path, err)
	}

	themes := make([]models.Theme, 0, len(f.Themes))
	seen := make(map[string]bool, len(f.Themes))
	for i, t := range f.Themes {
		if err := Validate(i, t); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping malformed theme")
			continue
		}
		t.Name = strings.TrimSpace(t.Name)
		if seen[t.Name] {
			log.Warn().Str("theme", t.Name).Msg("Skipping duplicate theme")
			continue
		}
		seen[t.Name] = true
		themes = append(themes, t)
	}
	return themes, nil
}
