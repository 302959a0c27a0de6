package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText_PlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.txt")
	require.NoError(t, os.WriteFile(path, []byte("Title\n\nWe train a CNN."), 0644))

	text, err := ExtractText(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "Title\n\nWe train a CNN.", text)
}

func TestExtractText_InvalidUTF8Replaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.md")
	require.NoError(t, os.WriteFile(path, []byte("ok \xff end"), 0644))

	text, err := ExtractText(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok � end", text)
}

func TestExtractText_Missing(t *testing.T) {
	_, err := ExtractText(filepath.Join(t.TempDir(), "nope.pdf"), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestExtractText_Directory(t *testing.T) {
	_, err := ExtractText(t.TempDir(), 0)
	require.Error(t, err)
}

func TestExtractText_CorruptPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is not a pdf"), 0644))

	_, err := ExtractText(path, 0)
	require.Error(t, err)
}
