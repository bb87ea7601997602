// Package paper defines the typed record for a conference paper as held by
// the paper store, plus the read-only lookup port the retrieval path uses to
// hydrate vector-search hits.
package paper

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is wrapped by every error returned from Record.Validate.
var ErrInvalid = errors.New("invalid paper")

// ResourceKind classifies a resource URL attached to a paper.
type ResourceKind string

const (
	// ResourcePDF is a link to the full-text PDF.
	ResourcePDF ResourceKind = "pdf"
	// ResourcePoster is a link to a poster image.
	ResourcePoster ResourceKind = "poster"
	// ResourcePage is a landing page for the paper.
	ResourcePage ResourceKind = "page"
	// ResourceOther is any link that could not be classified.
	ResourceOther ResourceKind = "other"
)

// Resource is a single URL attached to a paper.
type Resource struct {
	// Kind is the classified type of the resource.
	Kind ResourceKind `json:"kind" yaml:"kind"`
	// URL is the absolute link.
	URL string `json:"url" yaml:"url"`
}

// Record is a paper as stored in the paper store. It is read-only to the
// retrieval and conversation packages.
type Record struct {
	// ID is the stable positive identifier of the paper.
	ID int64 `json:"id" yaml:"id"`
	// Title is the paper title.
	Title string `json:"title" yaml:"title"`
	// Abstract is the text embedded into the vector index.
	Abstract string `json:"abstract" yaml:"abstract"`
	// Authors is the ordered author list.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	// Session is the conference session label.
	Session string `json:"session,omitempty" yaml:"session,omitempty"`
	// Topic is the primary topic area.
	Topic string `json:"topic,omitempty" yaml:"topic,omitempty"`
	// EventType is the presentation format, e.g. "Poster" or "Oral".
	EventType string `json:"eventtype,omitempty" yaml:"eventtype,omitempty"`
	// Decision is the acceptance status.
	Decision string `json:"decision,omitempty" yaml:"decision,omitempty"`
	// PosterPosition is the board identifier for poster presentations.
	PosterPosition string `json:"poster_position,omitempty" yaml:"poster_position,omitempty"`
	// Resources holds zero or more attached links.
	Resources []Resource `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Metadata field names used for the filterable projection of a record.
const (
	FieldSession   = "session"
	FieldTopic     = "topic"
	FieldEventType = "eventtype"
	FieldDecision  = "decision"
)

// Validate reports whether the record is usable for retrieval: the id must be
// positive and title and abstract must be non-empty after trimming.
func (r Record) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalid, r.ID)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: paper %d has an empty title", ErrInvalid, r.ID)
	}
	if strings.TrimSpace(r.Abstract) == "" {
		return fmt.Errorf("%w: paper %d has an empty abstract", ErrInvalid, r.ID)
	}
	return nil
}

// Metadata returns the filterable projection of the record. Empty fields are
// omitted so they never match a filter value.
func (r Record) Metadata() map[string]string {
	m := make(map[string]string, 4)
	for k, v := range map[string]string{
		FieldSession:   r.Session,
		FieldTopic:     r.Topic,
		FieldEventType: r.EventType,
		FieldDecision:  r.Decision,
	} {
		if v = strings.TrimSpace(v); v != "" {
			m[k] = v
		}
	}
	return m
}

// AuthorLine joins the author list for display.
func (r Record) AuthorLine() string {
	if len(r.Authors) == 0 {
		return "unknown authors"
	}
	return strings.Join(r.Authors, ", ")
}

// URL returns the first resource of the given kind, or "".
func (r Record) URL(kind ResourceKind) string {
	for _, res := range r.Resources {
		if res.Kind == kind {
			return res.URL
		}
	}
	return ""
}

// Lookup resolves paper ids to records. A missing paper is reported as
// (Record{}, false, nil); err is reserved for store failures.
type Lookup interface {
	GetPaperByID(ctx context.Context, id int64) (Record, bool, error)
}
