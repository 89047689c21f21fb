package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/getflowetic/flowetic/internal/dashboard"
	"github.com/getflowetic/flowetic/internal/models"
	"github.com/getflowetic/flowetic/internal/processor"
	"github.com/getflowetic/flowetic/internal/schema"
	"github.com/getflowetic/flowetic/internal/speccache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func voiceEvent(payload string) models.WebhookEvent {
	return models.WebhookEvent{
		ID:         "evt_1",
		ClientID:   "client-1",
		RawPayload: json.RawMessage(payload),
	}
}

func testTemplates() []dashboard.TemplateMeta {
	return []dashboard.TemplateMeta{{
		ID:             "voice-analytics",
		Name:           "Voice Call Analytics",
		RequiredFields: []string{"timestamp", "duration"},
		Scoring:        dashboard.ScoringWeights{HasTimestamp: 30, HasDuration: 15},
		Structure: &dashboard.Structure{
			Columns: 12,
			Widgets: []dashboard.Widget{{Type: "stat-card", Title: "Total Calls", Field: "count"}},
		},
	}}
}

func TestNew(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := processor.New(&mockDB{}, &mockRegistry{}, &mockCache{}, nil, reg)
	require.NoError(t, err, "New should not fail")

	_, err = processor.New(&mockDB{}, &mockRegistry{}, &mockCache{}, nil, reg)
	require.Error(t, err, "Registering the same metrics twice should fail")
}

func TestProcess(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		payload   string
		templates []dashboard.TemplateMeta
		threshold float64

		analyzer *mockAnalyzer
		saveErr  error
		markErr  error

		wantErr          bool
		wantProcErrPart  string
		wantSaved        bool
		wantAnalyzerUsed bool
	}{
		"Well formed event derives a specification": {
			payload:   `{"timestamp":"2024-01-01T00:00:00Z","duration":120,"status":"ok","transcript":"hi"}`,
			wantSaved: true,
		},
		"Malformed payload records a schema error": {
			payload:         `{"broken":`,
			wantProcErrPart: "schema inference",
		},
		"Empty registry records an error": {
			payload:         `{"timestamp":"2024-01-01T00:00:00Z"}`,
			templates:       []dashboard.TemplateMeta{},
			wantProcErrPart: "template registry is empty",
		},
		"Template without structure records a build error": {
			payload:         `{"timestamp":"2024-01-01T00:00:00Z"}`,
			templates:       []dashboard.TemplateMeta{{ID: "broken"}},
			wantProcErrPart: "specification build",
		},
		"Cache failure records an error": {
			payload:         `{"timestamp":"2024-01-01T00:00:00Z","duration":120,"status":"ok","transcript":"hi"}`,
			saveErr:         errors.New("requested error"),
			wantProcErrPart: "spec cache",
		},
		"Outcome recording failure is returned": {
			payload: `{"timestamp":"2024-01-01T00:00:00Z","duration":120,"status":"ok","transcript":"hi"}`,
			markErr: errors.New("requested error"),
			wantErr: true,
		},
		"Low confidence consults the analyzer": {
			payload:          `{"a":"x"}`,
			threshold:        1,
			analyzer:         &mockAnalyzer{hint: schema.PlatformVapi},
			wantSaved:        true,
			wantAnalyzerUsed: true,
		},
		"High confidence skips the analyzer": {
			payload:   `{"timestamp":"2024-01-01T00:00:00Z","duration":120,"status":"ok","transcript":"hi"}`,
			analyzer:  &mockAnalyzer{hint: schema.PlatformRetell},
			wantSaved: true,
		},
		"Analyzer failure is advisory": {
			payload:          `{"a":"x"}`,
			threshold:        1,
			analyzer:         &mockAnalyzer{err: errors.New("requested error")},
			wantSaved:        true,
			wantAnalyzerUsed: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			templates := tc.templates
			if templates == nil {
				templates = testTemplates()
			}

			db := &mockDB{markErr: tc.markErr}
			cache := &mockCache{saveErr: tc.saveErr}
			registry := &mockRegistry{
				templates: templates,
				tuning: dashboard.Tuning{
					Confidence:             schema.DefaultConfidence(),
					LowConfidenceThreshold: tc.threshold,
				},
			}

			var (
				p   *processor.Processor
				err error
			)
			if tc.analyzer != nil {
				p, err = processor.New(db, registry, cache, tc.analyzer, prometheus.NewRegistry())
			} else {
				p, err = processor.New(db, registry, cache, nil, prometheus.NewRegistry())
			}
			require.NoError(t, err, "Setup: New failed")

			err = p.Process(t.Context(), voiceEvent(tc.payload))
			if tc.wantErr {
				require.Error(t, err, "Process should fail")
				return
			}
			require.NoError(t, err, "Pipeline failures must be recorded, not returned")

			require.True(t, db.marked, "Every event must have its outcome recorded")
			if tc.wantProcErrPart != "" {
				assert.Contains(t, db.procErr, tc.wantProcErrPart, "Recorded error mismatch")
				assert.Empty(t, db.previewID, "Failed events carry no preview id")
				assert.False(t, cache.saved, "Failed events must not reach the cache")
			} else {
				assert.Empty(t, db.procErr, "Successful events carry no error")
				assert.NotEmpty(t, db.previewID, "Successful events carry a preview id")
			}

			assert.Equal(t, tc.wantSaved, cache.saved, "Cache save mismatch")
			if tc.wantSaved {
				assert.Equal(t, db.previewID, cache.previewID, "Cache key and recorded preview id must agree")
				assert.Equal(t, "client-1", cache.rec.ClientID, "Record should carry provenance")
				assert.Equal(t, "evt_1", cache.rec.EventID, "Record should carry provenance")
				assert.JSONEq(t, tc.payload, string(cache.rec.SampleData), "Record should carry the sample payload")
			}

			if tc.analyzer != nil {
				assert.Equal(t, tc.wantAnalyzerUsed, tc.analyzer.called, "Analyzer usage mismatch")
			}
		})
	}
}

type mockDB struct {
	markErr error

	marked    bool
	clientID  string
	eventID   string
	previewID string
	procErr   string
}

func (m *mockDB) MarkEventProcessed(ctx context.Context, clientID, eventID, previewID, procErr string) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.marked = true
	m.clientID = clientID
	m.eventID = eventID
	m.previewID = previewID
	m.procErr = procErr
	return nil
}

type mockRegistry struct {
	templates []dashboard.TemplateMeta
	tuning    dashboard.Tuning
}

func (m *mockRegistry) Templates() []dashboard.TemplateMeta { return m.templates }
func (m *mockRegistry) Tuning() dashboard.Tuning            { return m.tuning }

type mockCache struct {
	saveErr error

	saved     bool
	previewID string
	rec       speccache.Record
}

func (m *mockCache) Save(ctx context.Context, previewID string, rec speccache.Record) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = true
	m.previewID = previewID
	m.rec = rec
	return nil
}

type mockAnalyzer struct {
	hint string
	err  error

	called bool
}

func (m *mockAnalyzer) ClassifyPlatform(ctx context.Context, payload json.RawMessage) (string, error) {
	m.called = true
	return m.hint, m.err
}
