package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"

	"paper2nb/internal/logging"
)

const maxPDFBytes = 100 << 20

// PaperMetadata is the bibliographic data published on an arXiv abstract page.
type PaperMetadata struct {
	ArxivID  string   `json:"arxiv_id,omitempty"`
	Title    string   `json:"title,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	PDFURL   string   `json:"pdf_url,omitempty"`
}

// Fetcher downloads papers over HTTP.
type Fetcher struct {
	client    *http.Client
	arxivBase string
	userAgent string
}

// NewFetcher creates a fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		arxivBase: "https://arxiv.org",
		userAgent: "Mozilla/5.0 (compatible; paper2nb/0.3)",
	}
}

// Download stores a remote source as a PDF under dir and returns its path.
// Local sources are returned unchanged.
func (f *Fetcher) Download(ctx context.Context, src Source, dir string) (string, error) {
	if !src.Remote() {
		return src.Path, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	dest := filepath.Join(dir, src.PaperID+".pdf")
	logging.Ingest("Downloading %s -> %s", src.URL, dest)
	timer := logging.StartTimer(logging.CategoryIngest, "Download")
	defer timer.Stop()

	resp, err := f.get(ctx, src.URL, "application/pdf,*/*;q=0.8")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxPDFBytes+1))
	closeErr := tmp.Close()
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", src.URL, err)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to write download: %w", closeErr)
	}
	if n > maxPDFBytes {
		return "", fmt.Errorf("download exceeds %d bytes: %s", maxPDFBytes, src.URL)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to store download: %w", err)
	}

	logging.Ingest("Downloaded %d bytes to %s", n, dest)
	return dest, nil
}

// FetchArxivMetadata reads the abstract page of an arXiv paper.
func (f *Fetcher) FetchArxivMetadata(ctx context.Context, id string) (*PaperMetadata, error) {
	absURL := fmt.Sprintf("%s/abs/%s", strings.TrimRight(f.arxivBase, "/"), id)
	resp, err := f.get(ctx, absURL, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	meta, err := ParseArxivMetadata(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	if meta.ArxivID == "" {
		meta.ArxivID = id
	}
	logging.IngestDebug("arXiv metadata for %s: title=%q authors=%d", id, meta.Title, len(meta.Authors))
	return meta, nil
}

func (f *Fetcher) get(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch %s: HTTP %d", url, resp.StatusCode)
	}
	return resp, nil
}

// ParseArxivMetadata extracts citation_* meta tags from an abstract page.
func ParseArxivMetadata(r io.Reader) (*PaperMetadata, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse abstract page: %w", err)
	}

	meta := &PaperMetadata{}
	var description string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			content := strings.TrimSpace(getAttr(n, "content"))
			switch getAttr(n, "name") {
			case "citation_title":
				meta.Title = content
			case "citation_author":
				if content != "" {
					meta.Authors = append(meta.Authors, content)
				}
			case "citation_abstract":
				meta.Abstract = content
			case "citation_pdf_url":
				meta.PDFURL = content
			case "citation_arxiv_id":
				meta.ArxivID = content
			}
			if getAttr(n, "property") == "og:description" {
				description = content
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if meta.Abstract == "" {
		meta.Abstract = description
	}
	return meta, nil
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
