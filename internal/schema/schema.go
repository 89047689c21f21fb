// Package schema infers a typed field schema from a raw webhook payload.
//
// Inference is deliberately shallow: it looks at the top-level keys of the
// payload only, which is all the template matcher needs. The format and
// platform hints are name-based heuristics and can be wrong for
// adversarial field names; they gate nothing downstream.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// FieldType classifies a top-level payload value.
type FieldType string

// Field types recognized by the inferencer.
const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
	TypeUnknown FieldType = "unknown"
)

// Platform hints derived from field names when the caller supplies none.
const (
	PlatformVapi   = "vapi"
	PlatformRetell = "retell"
	PlatformCustom = "custom"
)

// Field is one inferred top-level payload field. Immutable once computed.
type Field struct {
	Name   string    `json:"name"`
	Type   FieldType `json:"type"`
	Format string    `json:"format,omitempty"`
}

// Inferred is the schema detected from one payload snapshot.
type Inferred struct {
	Fields       []Field `json:"fields"`
	Confidence   float64 `json:"confidence"`
	PlatformHint string  `json:"platformHint,omitempty"`
}

// Error reports a payload that could not be parsed as a JSON object. It
// carries the parse failure detail for the processing audit trail.
type Error struct {
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("unable to parse webhook JSON: %s", e.Detail)
}

// Confidence holds the ordinal confidence ladder. The values are
// heuristic constants, tunable via configuration; they only gate whether
// downstream matching is trusted or flagged as low-confidence.
type Confidence struct {
	DateAndWide float64 `yaml:"dateAndWide"` // date field present, >= 4 fields
	DateOnly    float64 `yaml:"dateOnly"`    // date field present, fewer fields
	WideOnly    float64 `yaml:"wideOnly"`    // no date field, >= 3 fields
	Floor       float64 `yaml:"floor"`
}

// DefaultConfidence are the stock ladder values.
func DefaultConfidence() Confidence {
	return Confidence{
		DateAndWide: 0.95,
		DateOnly:    0.85,
		WideOnly:    0.75,
		Floor:       0.60,
	}
}

var dateLikeRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// Infer parses raw as a JSON object and detects per-field types, formats,
// an overall confidence, and a platform hint. If platformHint is empty it
// is derived from the field names.
//
// Malformed input returns a *Error; Infer never panics on payload data.
func Infer(raw []byte, platformHint string, ladder Confidence) (Inferred, error) {
	// A token-level walk keeps the fields in payload document order,
	// which the keyword-class mapper's first-match rule depends on.
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return Inferred{}, &Error{Detail: err.Error()}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Inferred{}, &Error{Detail: "payload is not a JSON object"}
	}

	var fields []Field
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Inferred{}, &Error{Detail: err.Error()}
		}
		name, ok := keyTok.(string)
		if !ok {
			return Inferred{}, &Error{Detail: "unexpected token in payload object"}
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return Inferred{}, &Error{Detail: err.Error()}
		}

		fields = append(fields, Field{
			Name:   name,
			Type:   detectType(value),
			Format: detectFormat(name),
		})
	}
	if _, err := dec.Token(); err != nil {
		return Inferred{}, &Error{Detail: err.Error()}
	}

	if platformHint == "" {
		platformHint = detectPlatform(fields)
	}

	return Inferred{
		Fields:       fields,
		Confidence:   confidence(fields, ladder),
		PlatformHint: platformHint,
	}, nil
}

// HasDateField reports whether any inferred field is date-typed.
func (s Inferred) HasDateField() bool {
	for _, f := range s.Fields {
		if f.Type == TypeDate {
			return true
		}
	}
	return false
}

func detectType(value any) FieldType {
	switch v := value.(type) {
	case nil:
		return TypeUnknown
	case []any:
		return TypeArray
	case map[string]any:
		return TypeObject
	case bool:
		return TypeBoolean
	case float64:
		return TypeNumber
	case string:
		if dateLikeRE.MatchString(v) {
			return TypeDate
		}
		return TypeString
	default:
		return TypeUnknown
	}
}

// detectFormat derives a display format hint purely from the field name.
func detectFormat(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "time") || strings.Contains(lower, "date"):
		return "datetime"
	case strings.Contains(lower, "email"):
		return "email"
	case strings.Contains(lower, "url"):
		return "url"
	default:
		return ""
	}
}

func confidence(fields []Field, ladder Confidence) float64 {
	hasDate := false
	for _, f := range fields {
		if f.Type == TypeDate {
			hasDate = true
			break
		}
	}

	switch {
	case hasDate && len(fields) >= 4:
		return ladder.DateAndWide
	case hasDate:
		return ladder.DateOnly
	case len(fields) >= 3:
		return ladder.WideOnly
	default:
		return ladder.Floor
	}
}

func detectPlatform(fields []Field) string {
	var names []string
	for _, f := range fields {
		names = append(names, strings.ToLower(f.Name))
	}
	joined := strings.Join(names, ",")

	switch {
	case strings.Contains(joined, "call") || strings.Contains(joined, "vapi"):
		return PlatformVapi
	case strings.Contains(joined, "retell"):
		return PlatformRetell
	default:
		return PlatformCustom
	}
}
