// Package dashboard turns an inferred payload schema into a deterministic,
// typed dashboard specification: template matching, field mapping, and
// specification building.
package dashboard

// ScoringWeights are the per-template points awarded for each of the four
// presence signals the matcher checks against a schema.
type ScoringWeights struct {
	HasTimestamp  int `yaml:"hasTimestamp" json:"hasTimestamp"`
	HasStatus     int `yaml:"hasStatus" json:"hasStatus"`
	HasTranscript int `yaml:"hasTranscript" json:"hasTranscript"`
	HasDuration   int `yaml:"hasDuration" json:"hasDuration"`
}

// Widget is one dashboard element. In a template structure its field
// references name template fields; in a built specification they have
// been rebound to the matched schema fields.
type Widget struct {
	Type   string   `yaml:"type" json:"type" validate:"required"`
	Title  string   `yaml:"title,omitempty" json:"title,omitempty"`
	Field  string   `yaml:"field,omitempty" json:"field,omitempty"`
	Fields []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	XAxis  string   `yaml:"xAxis,omitempty" json:"xAxis,omitempty"`
	YAxis  string   `yaml:"yAxis,omitempty" json:"yAxis,omitempty"`
	Icon   string   `yaml:"icon,omitempty" json:"icon,omitempty"`
	Format string   `yaml:"format,omitempty" json:"format,omitempty"`
}

// Structure is a template's widget layout.
type Structure struct {
	Columns int      `yaml:"columns" json:"columns"`
	Gap     int      `yaml:"gap" json:"gap"`
	Widgets []Widget `yaml:"widgets" json:"widgets" validate:"required,min=1,dive"`
}

// TemplateMeta describes one registered dashboard template. Registry
// entries are static configuration; they are never mutated at runtime.
type TemplateMeta struct {
	ID             string         `yaml:"id" json:"id" validate:"required"`
	Name           string         `yaml:"name" json:"name" validate:"required"`
	Description    string         `yaml:"description,omitempty" json:"description,omitempty"`
	RequiredFields []string       `yaml:"requiredFields" json:"requiredFields"`
	OptionalFields []string       `yaml:"optionalFields" json:"optionalFields"`
	Scoring        ScoringWeights `yaml:"scoring" json:"scoring"`
	Structure      *Structure     `yaml:"structure" json:"structure" validate:"required"`
}

// Theme holds the dashboard color pair.
type Theme struct {
	PrimaryColor   string `yaml:"primaryColor" json:"primaryColor"`
	SecondaryColor string `yaml:"secondaryColor" json:"secondaryColor"`
}

// FieldMapping binds template field names to matched schema field names.
// Only template fields that found a match are present.
type FieldMapping map[string]string

// Specification is the final dashboard specification derived for one
// processed event. Immutable after creation; retrieved by preview id.
type Specification struct {
	TemplateID   string   `json:"templateId"`
	TemplateName string   `json:"templateName"`
	Theme        Theme    `json:"theme"`
	Widgets      []Widget `json:"widgets"`

	// MissingRequired lists template-required fields the payload schema
	// could not satisfy. A non-empty list flags a degraded dashboard; it
	// is never fatal.
	MissingRequired []string `json:"missingRequired,omitempty"`
}
