// Package ingest implements the document ingestion pipeline: extracting
// plain text from raw uploaded bytes, cleaning it, splitting it into
// chunks sized for embedding, and persisting the result idempotently.
package ingest

import (
	"fmt"
	"mime"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"

	"ragcore/internal/ragerr"
)

// Extracted is the normalized-to-text result of extraction, ahead of
// cleaning and chunking.
type Extracted struct {
	Title string
	Text  string
}

// Extract converts raw document bytes of the given MIME content type into
// plain Markdown-ish text suitable for chunking. Unsupported content types
// return a ragerr.UnsupportedFormat error.
func Extract(raw []byte, contentType, sourceURL string) (Extracted, error) {
	ct, _, _ := mime.ParseMediaType(contentType)
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		ct = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch {
	case isHTML(ct):
		return extractHTML(raw, sourceURL)
	case ct == "text/markdown" || ct == "text/plain" || ct == "" || strings.HasPrefix(ct, "text/"):
		return Extracted{Text: string(raw)}, nil
	default:
		return Extracted{}, ragerr.New(ragerr.UnsupportedFormat, "ingest_unsupported_content_type",
			fmt.Sprintf("unsupported document content type %q", contentType))
	}
}

func isHTML(ct string) bool {
	return ct == "text/html" || ct == "application/xhtml+xml" || strings.HasSuffix(ct, "+html")
}

func extractHTML(raw []byte, sourceURL string) (Extracted, error) {
	html := string(raw)

	var articleHTML, title string
	if base, err := url.Parse(sourceURL); err == nil && base.Host != "" {
		if art, rerr := readability.FromReader(strings.NewReader(html), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
			articleHTML = art.Content
			title = strings.TrimSpace(art.Title)
		}
	}
	if articleHTML == "" {
		articleHTML = html
	}

	opts := []converter.ConvertOptionFunc{}
	if base := baseOrigin(sourceURL); base != "" {
		opts = append(opts, converter.WithDomain(base))
	}
	md, err := htmltomarkdown.ConvertString(articleHTML, opts...)
	if err != nil {
		return Extracted{}, ragerr.Wrap(ragerr.Internal, "ingest_html_to_markdown", err)
	}

	if title != "" && !strings.HasPrefix(strings.TrimLeft(md, "\n"), "# ") {
		md = "# " + title + "\n\n" + md
	}
	return Extracted{Title: title, Text: strings.TrimSpace(md)}, nil
}

func baseOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
