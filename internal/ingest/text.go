package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"paper2nb/internal/logging"
)

// ErrNoText is returned when a document yields no extractable text
// (for example a scanned PDF without a text layer).
var ErrNoText = errors.New("no extractable text")

// ExtractText returns the text of a paper file. PDFs are read page by page,
// stopping after maxPages when maxPages > 0; pages are joined with a blank
// line. Any other file is read as UTF-8 text.
func ExtractText(path string, maxPages int) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("paper file not found: %s: %w", path, err)
		}
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("paper path is a directory: %s", path)
	}

	timer := logging.StartTimer(logging.CategoryIngest, "ExtractText")
	defer timer.Stop()

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, err := extractPDF(path, maxPages)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("%s: %w", path, ErrNoText)
		}
		logging.Ingest("Extracted %d characters from %s", len(text), path)
		return text, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := strings.ToValidUTF8(string(data), "�")
	logging.Ingest("Read %d characters from %s", len(text), path)
	return text, nil
}

func extractPDF(path string, maxPages int) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse PDF %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF %s: %w", path, err)
	}
	defer f.Close()

	total := r.NumPage()
	limit := total
	if maxPages > 0 && maxPages < limit {
		limit = maxPages
	}
	logging.IngestDebug("PDF %s: %d pages, reading %d", path, total, limit)

	pages := make([]string, 0, limit)
	for i := 1; i <= limit; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		content, err := p.GetPlainText(fonts)
		if err != nil {
			logging.IngestWarn("PDF %s: page %d unreadable: %v", path, i, err)
			continue
		}
		pages = append(pages, content)
	}
	return strings.Join(pages, "\n\n"), nil
}
