package rag

import (
	"slices"
	"strings"

	"github.com/54b3r/paperrag/internal/paper"
)

// Dimension is a filterable metadata field.
type Dimension string

// Filterable dimensions, in compilation order.
const (
	DimensionSession   Dimension = paper.FieldSession
	DimensionTopic     Dimension = paper.FieldTopic
	DimensionEventType Dimension = paper.FieldEventType
	DimensionDecision  Dimension = paper.FieldDecision
)

// Dimensions lists every known dimension in compilation order.
var Dimensions = []Dimension{DimensionSession, DimensionTopic, DimensionEventType, DimensionDecision}

// ParseDimension validates a dimension name. Matching is case-insensitive.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Dimensions, d) {
		return "", invalid("filter", "unknown dimension %q", s)
	}
	return d, nil
}

// MetadataFilter maps a dimension to the set of allowed values. An absent
// dimension is unconstrained.
type MetadataFilter map[Dimension][]string

// Validate rejects unknown dimensions and blank values.
func (f MetadataFilter) Validate() error {
	for d, values := range f {
		if !slices.Contains(Dimensions, d) {
			return invalid("filter", "unknown dimension %q", string(d))
		}
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				return invalid("filter", "blank value for dimension %q", string(d))
			}
		}
	}
	return nil
}

// Domain holds every observed value per dimension.
type Domain map[Dimension][]string

// DomainFromFields converts a field-keyed domain, as reported by a
// DomainSource, into a Domain. Unknown fields are dropped.
func DomainFromFields(fields map[string][]string) Domain {
	d := make(Domain, len(fields))
	for name, values := range fields {
		dim := Dimension(name)
		if slices.Contains(Dimensions, dim) {
			d[dim] = values
		}
	}
	return d
}

// Clause restricts one dimension to a set of values.
type Clause struct {
	// Dimension is the metadata field.
	Dimension Dimension

	// Values is the sorted, de-duplicated allowed set.
	Values []string
}

// CompiledFilter is a backend-neutral filter: a hit passes when it matches
// any clause. No clauses means unconstrained.
type CompiledFilter struct {
	// Clauses are OR-ed together.
	Clauses []Clause
}

// Empty reports whether the filter is unconstrained.
func (c CompiledFilter) Empty() bool { return len(c.Clauses) == 0 }

// Matches evaluates the filter against an entry's metadata.
func (c CompiledFilter) Matches(metadata map[string]string) bool {
	if c.Empty() {
		return true
	}
	for _, cl := range c.Clauses {
		v, ok := metadata[string(cl.Dimension)]
		if ok && slices.Contains(cl.Values, v) {
			return true
		}
	}
	return false
}

// CompileFilter turns a MetadataFilter into a CompiledFilter against the known
// domain. Dimensions across the filter are combined with OR; values within a
// dimension are a membership test. A dimension is omitted when its selection
// is empty or covers every value in its known domain, since selecting
// everything must behave exactly like selecting nothing.
func CompileFilter(f MetadataFilter, domain Domain) (CompiledFilter, error) {
	if err := f.Validate(); err != nil {
		return CompiledFilter{}, err
	}
	var out CompiledFilter
	for _, d := range Dimensions {
		values := normalizeValues(f[d])
		if len(values) == 0 || coversDomain(values, domain[d]) {
			continue
		}
		out.Clauses = append(out.Clauses, Clause{Dimension: d, Values: values})
	}
	return out, nil
}

// coversDomain reports whether selected contains every value of a non-empty
// known domain.
func coversDomain(selected, known []string) bool {
	if len(known) == 0 {
		return false
	}
	for _, v := range known {
		if _, found := slices.BinarySearch(selected, v); !found {
			return false
		}
	}
	return true
}

// normalizeValues trims, sorts and de-duplicates values.
func normalizeValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	slices.Sort(out)
	return slices.Compact(out)
}
