package dashboard

import (
	"strings"

	"github.com/getflowetic/flowetic/internal/schema"
)

// Keyword classes used by the last mapping fallback. A template field
// naming one class member may bind to any schema field naming another.
var (
	dateKeywords   = []string{"date", "time", "created", "updated", "timestamp", "at", "when"}
	statusKeywords = []string{"status", "state", "outcome", "result", "disposition"}
)

// MapField resolves one template field name to a schema field name via an
// ordered fallback chain, first match wins:
//
//  1. exact name equality
//  2. case-insensitive equality
//  3. bidirectional substring containment
//  4. keyword-class match (date/time class, then status class)
//
// A false return means the field found no match; callers simply omit it.
func MapField(fields []schema.Field, name string) (string, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f.Name, true
		}
	}

	lower := strings.ToLower(name)
	for _, f := range fields {
		if strings.ToLower(f.Name) == lower {
			return f.Name, true
		}
	}

	for _, f := range fields {
		fLower := strings.ToLower(f.Name)
		if strings.Contains(fLower, lower) || strings.Contains(lower, fLower) {
			return f.Name, true
		}
	}

	if containsAny(lower, dateKeywords) {
		if match, ok := firstFieldWithKeyword(fields, dateKeywords); ok {
			return match, true
		}
	}
	if containsAny(lower, statusKeywords) {
		if match, ok := firstFieldWithKeyword(fields, statusKeywords); ok {
			return match, true
		}
	}

	return "", false
}

// MapFields binds a template's required and optional fields against a
// schema. Unmatched fields are left out of the mapping, not errored:
// templates tolerate partial mappings.
func MapFields(s schema.Inferred, t TemplateMeta) FieldMapping {
	mapping := make(FieldMapping)

	for _, name := range t.RequiredFields {
		if match, ok := MapField(s.Fields, name); ok {
			mapping[name] = match
		}
	}
	for _, name := range t.OptionalFields {
		if _, done := mapping[name]; done {
			continue
		}
		if match, ok := MapField(s.Fields, name); ok {
			mapping[name] = match
		}
	}

	return mapping
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func firstFieldWithKeyword(fields []schema.Field, keywords []string) (string, bool) {
	for _, f := range fields {
		if containsAny(strings.ToLower(f.Name), keywords) {
			return f.Name, true
		}
	}
	return "", false
}
