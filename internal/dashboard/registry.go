package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/getflowetic/flowetic/internal/schema"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Tuning holds the heuristic constants of the derivation pipeline. They
// are configuration, not invariants: the stock values below are starting
// points, not derived quantities.
type Tuning struct {
	Confidence             schema.Confidence `yaml:"confidence"`
	LowConfidenceThreshold float64           `yaml:"lowConfidenceThreshold"`
	Theme                  Theme             `yaml:"theme"`
}

// DefaultTuning returns the stock tuning values.
func DefaultTuning() Tuning {
	return Tuning{
		Confidence:             schema.DefaultConfidence(),
		LowConfidenceThreshold: 0.75,
		Theme: Theme{
			PrimaryColor:   "#6366f1",
			SecondaryColor: "#8b5cf6",
		},
	}
}

type registryFile struct {
	Templates []TemplateMeta `yaml:"templates" validate:"min=1,dive"`
	Tuning    *Tuning        `yaml:"tuning"`
}

// Registry manages the template set and tuning constants, loaded from a
// YAML file and hot-reloaded on change. With no path configured it serves
// the built-in registry.
type Registry struct {
	templates []TemplateMeta
	tuning    Tuning
	lock      sync.RWMutex

	path     string
	validate *validator.Validate

	log *slog.Logger
}

type registryOptions struct {
	Logger *slog.Logger
}

// RegistryOptions represents an optional function to override Registry default values.
type RegistryOptions func(*registryOptions)

// NewRegistry creates a registry backed by the YAML file at path. An
// empty path selects the built-in template set.
func NewRegistry(path string, args ...RegistryOptions) *Registry {
	opts := registryOptions{
		Logger: slog.Default(),
	}

	for _, opt := range args {
		opt(&opts)
	}

	return &Registry{
		path:     path,
		validate: validator.New(),
		log:      opts.Logger,
	}
}

// Load reads and validates the registry file, replacing the served set on
// success. Invalid files leave the previous set in place.
func (r *Registry) Load() error {
	if r.path == "" {
		r.lock.Lock()
		r.templates = builtinTemplates()
		r.tuning = DefaultTuning()
		r.lock.Unlock()
		r.log.Info("Using built-in template registry")
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("opening registry file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decoding registry YAML: %w", err)
	}

	if err := r.validate.Struct(file); err != nil {
		return fmt.Errorf("invalid registry file: %w", err)
	}

	// The matcher relies on the last entry matching any schema; without a
	// zero-requirement fallback some payloads would have no template.
	last := file.Templates[len(file.Templates)-1]
	if len(last.RequiredFields) > 0 {
		return fmt.Errorf("last registry template %q must have no required fields (fallback)", last.ID)
	}

	tuning := DefaultTuning()
	if file.Tuning != nil {
		tuning = *file.Tuning
	}

	r.lock.Lock()
	r.templates = file.Templates
	r.tuning = tuning
	r.lock.Unlock()

	r.log.Info("Template registry loaded", "path", r.path, "templates", len(file.Templates))
	return nil
}

// Watch starts watching the registry file for changes.
//
// It returns two channels: one for changes which result in a successful
// reload, and another for unrecoverable watcher errors. With no file
// configured the channels stay silent until the context ends.
func (r *Registry) Watch(ctx context.Context) (changes <-chan struct{}, errs <-chan error, err error) {
	changesCh := make(chan struct{}, 1)
	errsCh := make(chan error, 1)

	if r.path == "" {
		go func() {
			<-ctx.Done()
			close(changesCh)
			close(errsCh)
		}()
		return changesCh, errsCh, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	registryDir, _ := filepath.Split(r.path)
	if registryDir == "" {
		registryDir = "."
	}
	if err := watcher.Add(registryDir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to add directory %s to watcher: %v", registryDir, err)
	}

	r.log.Info("Watching template registry directory", "dir", registryDir)

	go func() {
		defer close(changesCh)
		defer close(errsCh)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				r.log.Info("Template registry watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					errsCh <- fmt.Errorf("watcher events channel closed unexpectedly")
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if event.Name != r.path {
					continue
				}

				r.log.Debug("Template registry changed. Reloading...")
				if err := r.Load(); err != nil {
					r.log.Warn("Error reloading template registry", "err", err)
					continue
				}

				select {
				case changesCh <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					errsCh <- fmt.Errorf("watcher errors channel closed unexpectedly")
					return
				}
				r.log.Warn("Watcher error", "err", err)
			}
		}
	}()

	return changesCh, errsCh, nil
}

// Templates returns the current template set in registration order.
func (r *Registry) Templates() []TemplateMeta {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.templates
}

// Tuning returns the current tuning constants.
func (r *Registry) Tuning() Tuning {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.tuning
}

// builtinTemplates is the stock registry: voice analytics, chat
// analytics, and the generic fallback, in that order.
func builtinTemplates() []TemplateMeta {
	return []TemplateMeta{
		{
			ID:             "voice-analytics",
			Name:           "Voice Call Analytics",
			Description:    "For Vapi/Retell voice agent platforms",
			RequiredFields: []string{"timestamp", "duration"},
			OptionalFields: []string{"transcript", "sentiment", "cost", "status"},
			Scoring: ScoringWeights{
				HasTimestamp:  30,
				HasStatus:     25,
				HasTranscript: 25,
				HasDuration:   15,
			},
			Structure: &Structure{
				Columns: 12,
				Gap:     16,
				Widgets: []Widget{
					{Type: "stat-card", Title: "Total Calls Today", Field: "count", Icon: "phone", Format: "number"},
					{Type: "stat-card", Title: "Avg Call Duration", Field: "duration", Icon: "clock", Format: "duration"},
					{Type: "line-chart", Title: "Calls Over Time", XAxis: "timestamp", YAxis: "count"},
					{Type: "pie-chart", Title: "Call Outcomes", Field: "status"},
					{Type: "data-table", Title: "Recent Calls", Fields: []string{"timestamp", "duration", "status", "transcript"}},
				},
			},
		},
		{
			ID:             "chat-analytics",
			Name:           "Chatbot Analytics",
			Description:    "For chat/messaging platforms",
			RequiredFields: []string{"timestamp", "messages"},
			OptionalFields: []string{"user_id", "session_id"},
			Scoring: ScoringWeights{
				HasTimestamp:  30,
				HasStatus:     15,
				HasTranscript: 0,
				HasDuration:   10,
			},
			Structure: &Structure{
				Columns: 12,
				Gap:     16,
				Widgets: []Widget{
					{Type: "stat-card", Title: "Total Conversations", Field: "count", Icon: "message-circle", Format: "number"},
					{Type: "line-chart", Title: "Conversations Over Time", XAxis: "timestamp", YAxis: "count"},
					{Type: "data-table", Title: "Recent Conversations", Fields: []string{"timestamp", "user_id", "messages"}},
				},
			},
		},
		{
			ID:             "generic-analytics",
			Name:           "Generic Event Analytics",
			Description:    "Fallback for any webhook",
			RequiredFields: nil,
			OptionalFields: []string{"timestamp"},
			Scoring: ScoringWeights{
				HasTimestamp:  20,
				HasStatus:     10,
				HasTranscript: 0,
				HasDuration:   0,
			},
			Structure: &Structure{
				Columns: 12,
				Gap:     16,
				Widgets: []Widget{
					{Type: "stat-card", Title: "Total Events", Field: "count", Icon: "activity", Format: "number"},
				},
			},
		},
	}
}
