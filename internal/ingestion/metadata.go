package ingestion

import (
	"net/url"
	"path"
	"strings"

	"github.com/54b3r/paperrag/internal/paper"
)

// posterHints are path segments that mark a poster or slides link.
var posterHints = []string{"poster", "posters", "slides", "slideslive"}

// InferResourceKind classifies a paper link by its URL shape. Unparseable
// URLs are "other"; anything that is not a PDF or poster is a landing page.
//
// Recognised patterns:
//
//	*.pdf, arxiv.org/pdf/..., openreview.net/pdf?id=...  -> pdf
//	.../poster/..., .../slides/..., *.png posters         -> poster
//	everything else with a host                           -> page
func InferResourceKind(rawURL string) paper.ResourceKind {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return paper.ResourceOther
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	p := strings.ToLower(parsed.Path)
	segments := trimSegments(p)

	switch {
	case path.Ext(p) == ".pdf":
		return paper.ResourcePDF
	case host == "arxiv.org" && len(segments) > 0 && segments[0] == "pdf":
		return paper.ResourcePDF
	case host == "openreview.net" && len(segments) > 0 && segments[0] == "pdf":
		return paper.ResourcePDF
	}

	for _, seg := range segments {
		for _, hint := range posterHints {
			if seg == hint {
				return paper.ResourcePoster
			}
		}
	}
	if ext := path.Ext(p); ext == ".png" || ext == ".jpg" || ext == ".jpeg" {
		return paper.ResourcePoster
	}
	return paper.ResourcePage
}

// NormalizeLabel trims a metadata label and collapses internal whitespace so
// that "Oral  1 " and "Oral 1" filter as the same session.
func NormalizeLabel(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// trimSegments splits a URL path into non-empty segments.
func trimSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
