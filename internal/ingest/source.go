// Package ingest turns a paper reference into text: it resolves the input
// (local file, URL, arXiv id), downloads remote PDFs, extracts text and splits
// it into chunks sized for the model.
package ingest

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// SourceKind classifies a paper input.
type SourceKind string

const (
	SourceFile  SourceKind = "file"
	SourceURL   SourceKind = "url"
	SourceArxiv SourceKind = "arxiv"
)

var (
	arxivIDPattern   = regexp.MustCompile(`(\d{4}\.\d{4,5})(v\d+)?`)
	bareArxivPattern = regexp.MustCompile(`^(?:arxiv:|arXiv:)?(\d{4}\.\d{4,5})(v\d+)?$`)
)

// Source is a resolved paper input.
type Source struct {
	Kind    SourceKind `json:"kind"`
	Input   string     `json:"input"`
	Path    string     `json:"path,omitempty"` // local file (SourceFile)
	URL     string     `json:"url,omitempty"`  // download location (SourceURL, SourceArxiv)
	ArxivID string     `json:"arxiv_id,omitempty"`
	PaperID string     `json:"paper_id"` // names the output directory
}

// Remote reports whether the source has to be downloaded first.
func (s Source) Remote() bool {
	return s.Kind != SourceFile
}

// ArxivPDFURL returns the canonical PDF location for an arXiv id.
func ArxivPDFURL(id string) string {
	return fmt.Sprintf("https://arxiv.org/pdf/%s.pdf", id)
}

// ResolveSource classifies input. Inputs starting with "http" are URLs, and
// URLs carrying an arXiv id are rewritten to the arXiv PDF location. A bare
// arXiv id ("2301.12345", "arXiv:2301.12345v2") resolves the same way.
// Everything else is a local path; existence is checked when the text is read.
func ResolveSource(input string) (Source, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Source{}, fmt.Errorf("empty paper input")
	}

	if strings.HasPrefix(input, "http") {
		u, err := url.Parse(input)
		if err != nil || u.Host == "" {
			return Source{}, fmt.Errorf("invalid paper URL %q", input)
		}
		if strings.HasSuffix(u.Hostname(), "arxiv.org") {
			m := arxivIDPattern.FindStringSubmatch(u.Path)
			if m == nil {
				return Source{}, fmt.Errorf("invalid arXiv URL: %s", input)
			}
			return arxivSource(input, m[1]), nil
		}
		return Source{
			Kind:    SourceURL,
			Input:   input,
			URL:     input,
			PaperID: urlStem(u),
		}, nil
	}

	if m := bareArxivPattern.FindStringSubmatch(input); m != nil {
		return arxivSource(input, m[1]), nil
	}

	return Source{
		Kind:    SourceFile,
		Input:   input,
		Path:    input,
		PaperID: fileStem(input),
	}, nil
}

func arxivSource(input, id string) Source {
	return Source{
		Kind:    SourceArxiv,
		Input:   input,
		URL:     ArxivPDFURL(id),
		ArxivID: id,
		PaperID: id,
	}
}

func fileStem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func urlStem(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return sanitizeID(u.Hostname())
	}
	return sanitizeID(strings.TrimSuffix(base, path.Ext(base)))
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeID(s string) string {
	s = unsafeIDChars.ReplaceAllString(s, "_")
	if s == "" {
		return "paper"
	}
	return s
}
