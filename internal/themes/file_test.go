package themes

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validThemes = `
themes:
  - name: Diplomatie
    keywords: [accord, paix]
    color: "#2e86de"
  - name: ""
    keywords: [vide]
  - name: Sans mots
    keywords: []
  - name: Conflits
    keywords: [guerre, conflit]
  - name: Diplomatie
    keywords: [doublon]
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileSourceSkipsMalformedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "themes.yaml")
	writeFile(t, path, validThemes)

	src, err := NewFileSource(path)
	require.NoError(t, err)

	themes, err := src.ListThemes(context.Background())
	require.NoError(t, err)
	require.Len(t, themes, 2)
	assert.Equal(t, "Diplomatie", themes[0].Name)
	assert.Equal(t, []string{"accord", "paix"}, themes[0].Keywords)
	assert.Equal(t, "#2e86de", themes[0].Color)
	assert.Equal(t, "Conflits", themes[1].Name)
}

func TestFileSourceErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileSource(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "themes: [unterminated")
	_, err = NewFileSource(bad)
	assert.Error(t, err)
}

func TestFileSourceReloadKeepsPreviousOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "themes.yaml")
	writeFile(t, path, validThemes)

	src, err := NewFileSource(path)
	require.NoError(t, err)

	writeFile(t, path, "themes: {{{")
	assert.Error(t, src.Reload())

	themes, _ := src.ListThemes(context.Background())
	assert.Len(t, themes, 2)
}

func TestFileSourceWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "themes.yaml")
	writeFile(t, path, validThemes)

	src, err := NewFileSource(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "themes:\n  - name: Climat\n    keywords: [climat, sécheresse]\n")

	assert.Eventually(t, func() bool {
		themes, _ := src.ListThemes(context.Background())
		return len(themes) == 1 && themes[0].Name == "Climat"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestStaticSourceReturnsCopy(t *testing.T) {
	src := NewStaticSource(DefaultThemes())

	first, err := src.ListThemes(context.Background())
	require.NoError(t, err)
	first[0].Name = "changed"

	second, _ := src.ListThemes(context.Background())
	assert.Equal(t, "Diplomatie", second[0].Name)
}
