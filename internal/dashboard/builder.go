package dashboard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/getflowetic/flowetic/internal/schema"
)

// ErrNoStructure is returned when a matched template carries no widget
// structure. That is a registry configuration defect, not a property of
// the event being processed.
var ErrNoStructure = errors.New("template has no structure")

// Build assembles the final dashboard specification from the matched
// template, the field mapping, and the inferred schema.
//
// Build is a pure function: the same inputs always yield the same
// specification. Template fields with no mapping keep their template
// name; missing required fields are reported through MissingRequired and
// never fail the build.
func Build(t TemplateMeta, mapping FieldMapping, s schema.Inferred, theme Theme) (Specification, error) {
	if t.Structure == nil {
		return Specification{}, fmt.Errorf("template %q: %w", t.ID, ErrNoStructure)
	}

	widgets := make([]Widget, 0, len(t.Structure.Widgets))
	for _, w := range t.Structure.Widgets {
		widgets = append(widgets, rebind(w, mapping))
	}
	widgets = append(widgets, derivedWidgets(s)...)

	var missing []string
	for _, name := range t.RequiredFields {
		if _, ok := mapping[name]; !ok {
			missing = append(missing, name)
		}
	}

	return Specification{
		TemplateID:      t.ID,
		TemplateName:    t.Name,
		Theme:           theme,
		Widgets:         widgets,
		MissingRequired: missing,
	}, nil
}

// rebind substitutes a structure widget's template field references with
// the matched schema field names.
func rebind(w Widget, mapping FieldMapping) Widget {
	if mapped, ok := mapping[w.Field]; ok {
		w.Field = mapped
	}
	if mapped, ok := mapping[w.XAxis]; ok {
		w.XAxis = mapped
	}
	if mapped, ok := mapping[w.YAxis]; ok {
		w.YAxis = mapped
	}
	if len(w.Fields) > 0 {
		fields := make([]string, len(w.Fields))
		for i, f := range w.Fields {
			if mapped, ok := mapping[f]; ok {
				f = mapped
			}
			fields[i] = f
		}
		w.Fields = fields
	}
	return w
}

// derivedWidgets adds the data-driven widgets every dashboard gets on top
// of its template structure: an event count card, a line chart when the
// payload carries a date field, a status distribution when it carries a
// status-named field, and a table of all observed fields.
func derivedWidgets(s schema.Inferred) []Widget {
	widgets := []Widget{{
		Type:  "kpi",
		Title: "Total Events",
		Field: "count",
		Icon:  "activity",
	}}

	for _, f := range s.Fields {
		if f.Type == schema.TypeDate {
			widgets = append(widgets, Widget{
				Type:  "line",
				Title: "Events Over Time",
				XAxis: f.Name,
				YAxis: "count",
			})
			break
		}
	}

	for _, f := range s.Fields {
		if strings.Contains(strings.ToLower(f.Name), "status") {
			widgets = append(widgets, Widget{
				Type:  "pie",
				Title: "Status Distribution",
				Field: f.Name,
			})
			break
		}
	}

	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	widgets = append(widgets, Widget{
		Type:   "table",
		Title:  "Recent Events",
		Fields: names,
	})

	return widgets
}
