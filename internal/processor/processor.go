// Package processor runs the async half of the ingestion pipeline: schema
// inference, template matching, field mapping, and specification building
// for events that already received their HTTP acknowledgment.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/getflowetic/flowetic/internal/dashboard"
	"github.com/getflowetic/flowetic/internal/models"
	"github.com/getflowetic/flowetic/internal/schema"
	"github.com/getflowetic/flowetic/internal/speccache"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type dDatabase interface {
	MarkEventProcessed(ctx context.Context, clientID, eventID, previewID, procErr string) error
}

type dRegistry interface {
	Templates() []dashboard.TemplateMeta
	Tuning() dashboard.Tuning
}

type dSpecCache interface {
	Save(ctx context.Context, previewID string, rec speccache.Record) error
}

type dAnalyzer interface {
	ClassifyPlatform(ctx context.Context, payload json.RawMessage) (string, error)
}

// Processor derives a dashboard specification from one stored event and
// records the outcome against it.
type Processor struct {
	db       dDatabase
	registry dRegistry
	cache    dSpecCache
	analyzer dAnalyzer

	processedEvents prometheus.Counter
	failedEvents    prometheus.Counter
}

// New creates a processor. analyzer may be nil, in which case the
// low-confidence assist is skipped entirely.
func New(db dDatabase, registry dRegistry, cache dSpecCache, analyzer dAnalyzer, reg prometheus.Registerer) (*Processor, error) {
	processed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_processed_total",
		Help: "Number of events whose dashboard specification was derived.",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_failed_total",
		Help: "Number of events whose async processing failed.",
	})
	for _, c := range []prometheus.Counter{processed, failed} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register processor metrics: %v", err)
		}
	}

	return &Processor{
		db:       db,
		registry: registry,
		cache:    cache,
		analyzer: analyzer,

		processedEvents: processed,
		failedEvents:    failed,
	}, nil
}

// Process runs the derivation pipeline for one event. Pipeline failures
// are recorded on the event and not returned: failed events are never
// retried automatically, only surfaced for inspection. An error return
// means the outcome itself could not be recorded.
func (p *Processor) Process(ctx context.Context, event models.WebhookEvent) error {
	tuning := p.registry.Tuning()

	inferred, err := schema.Infer(event.RawPayload, "", tuning.Confidence)
	if err != nil {
		return p.fail(ctx, event, fmt.Errorf("schema inference: %w", err))
	}

	if inferred.Confidence < tuning.LowConfidenceThreshold && p.analyzer != nil {
		hint, err := p.analyzer.ClassifyPlatform(ctx, event.RawPayload)
		if err != nil {
			// Advisory only. The deterministic pipeline proceeds without it.
			slog.Warn("Platform analysis failed", "client_id", event.ClientID, "event_id", event.ID, "err", err)
		} else if hint != "" {
			inferred.PlatformHint = hint
		}
	}

	templates := p.registry.Templates()
	if len(templates) == 0 {
		return p.fail(ctx, event, fmt.Errorf("template registry is empty"))
	}

	tmpl := dashboard.Match(inferred, templates)
	mapping := dashboard.MapFields(inferred, tmpl)

	spec, err := dashboard.Build(tmpl, mapping, inferred, tuning.Theme)
	if err != nil {
		return p.fail(ctx, event, fmt.Errorf("specification build: %w", err))
	}

	previewID := uuid.NewString()
	rec := speccache.Record{
		Specification: spec,
		ClientID:      event.ClientID,
		EventID:       event.ID,
		SampleData:    event.RawPayload,
		CreatedAt:     time.Now(),
	}
	if err := p.cache.Save(ctx, previewID, rec); err != nil {
		return p.fail(ctx, event, fmt.Errorf("spec cache: %w", err))
	}

	if err := p.db.MarkEventProcessed(ctx, event.ClientID, event.ID, previewID, ""); err != nil {
		return fmt.Errorf("failed to record processing outcome: %w", err)
	}

	p.processedEvents.Inc()
	slog.Info("Event processed",
		"client_id", event.ClientID,
		"event_id", event.ID,
		"template", tmpl.ID,
		"confidence", inferred.Confidence,
		"platform_hint", inferred.PlatformHint,
		"preview_id", previewID,
		"missing_required", spec.MissingRequired,
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, event models.WebhookEvent, procErr error) error {
	p.failedEvents.Inc()
	slog.Warn("Event processing failed", "client_id", event.ClientID, "event_id", event.ID, "err", procErr)

	if err := p.db.MarkEventProcessed(ctx, event.ClientID, event.ID, "", procErr.Error()); err != nil {
		return fmt.Errorf("failed to record processing error: %w", err)
	}
	return nil
}
