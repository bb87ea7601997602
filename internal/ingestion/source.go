package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/54b3r/paperrag/internal/paper"
)

// sourceFormat is the encoding of a paper source document.
type sourceFormat string

const (
	formatJSON sourceFormat = "json"
	formatYAML sourceFormat = "yaml"
)

// sourcePaper is one paper as found in a conference export. Exports differ
// in naming, so several aliases are accepted for the same field.
type sourcePaper struct {
	ID             flexID           `json:"id" yaml:"id"`
	Title          string           `json:"title" yaml:"title"`
	Name           string           `json:"name" yaml:"name"`
	Abstract       string           `json:"abstract" yaml:"abstract"`
	Authors        []flexAuthor     `json:"authors" yaml:"authors"`
	Session        string           `json:"session" yaml:"session"`
	Topic          string           `json:"topic" yaml:"topic"`
	EventType      string           `json:"eventtype" yaml:"eventtype"`
	EventTypeAlt   string           `json:"event_type" yaml:"event_type"`
	Decision       string           `json:"decision" yaml:"decision"`
	PosterPosition string           `json:"poster_position" yaml:"poster_position"`
	URLs           []string         `json:"urls" yaml:"urls"`
	PaperURL       string           `json:"paper_url" yaml:"paper_url"`
	PDFURL         string           `json:"paper_pdf_url" yaml:"paper_pdf_url"`
	PosterURL      string           `json:"poster_url" yaml:"poster_url"`
	Resources      []paper.Resource `json:"resources" yaml:"resources"`
}

// flexID accepts ids written as numbers or numeric strings.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("paper id %q is not an integer", s)
	}
	*f = flexID(n)
	return nil
}

func (f *flexID) UnmarshalYAML(node *yaml.Node) error {
	n, err := strconv.ParseInt(strings.TrimSpace(node.Value), 10, 64)
	if err != nil {
		return fmt.Errorf("paper id %q is not an integer", node.Value)
	}
	*f = flexID(n)
	return nil
}

// flexAuthor accepts an author as a plain string or an object with a
// fullname or name field.
type flexAuthor string

type authorObject struct {
	FullName string `json:"fullname" yaml:"fullname"`
	Name     string `json:"name" yaml:"name"`
}

func (a authorObject) String() string {
	if a.FullName != "" {
		return a.FullName
	}
	return a.Name
}

func (a *flexAuthor) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj authorObject
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*a = flexAuthor(obj.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*a = flexAuthor(s)
	return nil
}

func (a *flexAuthor) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var obj authorObject
		if err := node.Decode(&obj); err != nil {
			return err
		}
		*a = flexAuthor(obj.String())
		return nil
	}
	*a = flexAuthor(node.Value)
	return nil
}

// sourceDocument is either a bare list of papers or an object wrapping one.
type sourceDocument struct {
	Papers  []sourcePaper `json:"papers" yaml:"papers"`
	Results []sourcePaper `json:"results" yaml:"results"`
}

// parsePapers decodes a source document into paper records. Records are
// returned as found, invalid ones included, so the caller can report them
// in order.
func parsePapers(data []byte, format sourceFormat) ([]paper.Record, error) {
	raw, err := decodeSource(data, format)
	if err != nil {
		return nil, err
	}
	out := make([]paper.Record, 0, len(raw))
	for _, sp := range raw {
		out = append(out, sp.record())
	}
	return out, nil
}

func decodeSource(data []byte, format sourceFormat) ([]sourcePaper, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch format {
	case formatJSON:
		if trimmed[0] == '[' {
			var list []sourcePaper
			if err := json.Unmarshal(trimmed, &list); err != nil {
				return nil, fmt.Errorf("ingestion: decode json papers: %w", err)
			}
			return list, nil
		}
		var doc sourceDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("ingestion: decode json papers: %w", err)
		}
		return doc.list(), nil
	case formatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(trimmed, &node); err != nil {
			return nil, fmt.Errorf("ingestion: decode yaml papers: %w", err)
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			var list []sourcePaper
			if err := node.Decode(&list); err != nil {
				return nil, fmt.Errorf("ingestion: decode yaml papers: %w", err)
			}
			return list, nil
		}
		var doc sourceDocument
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("ingestion: decode yaml papers: %w", err)
		}
		return doc.list(), nil
	default:
		return nil, fmt.Errorf("ingestion: unknown source format %q", format)
	}
}

func (d sourceDocument) list() []sourcePaper {
	if len(d.Papers) > 0 {
		return d.Papers
	}
	return d.Results
}

// record maps a source paper to a paper.Record, normalising labels and
// classifying links.
func (sp sourcePaper) record() paper.Record {
	title := sp.Title
	if title == "" {
		title = sp.Name
	}
	eventType := sp.EventType
	if eventType == "" {
		eventType = sp.EventTypeAlt
	}

	authors := make([]string, 0, len(sp.Authors))
	for _, a := range sp.Authors {
		if name := NormalizeLabel(string(a)); name != "" {
			authors = append(authors, name)
		}
	}

	seen := make(map[string]bool)
	var resources []paper.Resource
	add := func(kind paper.ResourceKind, u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		if kind == "" {
			kind = InferResourceKind(u)
		}
		resources = append(resources, paper.Resource{Kind: kind, URL: u})
	}
	for _, r := range sp.Resources {
		add(r.Kind, r.URL)
	}
	add(paper.ResourcePDF, sp.PDFURL)
	add(paper.ResourcePoster, sp.PosterURL)
	add("", sp.PaperURL)
	for _, u := range sp.URLs {
		add("", u)
	}

	return paper.Record{
		ID:             int64(sp.ID),
		Title:          strings.TrimSpace(title),
		Abstract:       strings.TrimSpace(sp.Abstract),
		Authors:        authors,
		Session:        NormalizeLabel(sp.Session),
		Topic:          NormalizeLabel(sp.Topic),
		EventType:      NormalizeLabel(eventType),
		Decision:       NormalizeLabel(sp.Decision),
		PosterPosition: strings.TrimSpace(sp.PosterPosition),
		Resources:      resources,
	}
}
