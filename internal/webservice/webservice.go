// Package webservice provides the HTTP server that receives webhook
// deliveries and serves client onboarding, status, and dashboard lookups.
package webservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getflowetic/flowetic/internal/models"
	"github.com/getflowetic/flowetic/internal/signature"
	"github.com/getflowetic/flowetic/internal/speccache"
	"github.com/getflowetic/flowetic/internal/webservice/handlers"
	"github.com/getflowetic/flowetic/internal/webservice/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Server is a struct that holds the HTTP server and its configuration.
type Server struct {
	httpServer *http.Server
	registry   dRegistry

	// This context is used to interrupt any action.
	// It must be the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// This context waits until in-flight requests finish before interrupting.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc
}

// StaticConfig holds the static configuration for the server.
type StaticConfig struct {
	PublicBaseURL string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int
	MaxUploadBytes int

	ListenHost string
	ListenPort int
}

type dRegistry interface {
	Load() error
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
}

// Store is the persistence surface the handlers depend on.
type Store interface {
	GetClient(ctx context.Context, clientID string) (models.Client, error)
	CreateClient(ctx context.Context, c models.Client) error
	TouchClient(ctx context.Context, clientID string) error
	TryInsertEvent(ctx context.Context, event models.WebhookEvent) (inserted bool, err error)
	MarkEventProcessed(ctx context.Context, clientID, eventID, previewID, procErr string) error
	EventCount(ctx context.Context, clientID string) (int64, error)
	RecentEvents(ctx context.Context, clientID string, limit int) ([]models.WebhookEvent, error)
}

// SecretManager provisions, resolves, and rotates client signing secrets.
type SecretManager interface {
	Provision(ctx context.Context, clientID string) (secretID, secret string, err error)
	Rotate(ctx context.Context, secretID string) (string, error)
	Resolve(ctx context.Context, secretID string) (string, error)
}

// Verifier validates webhook delivery signatures.
type Verifier interface {
	Verify(rawBody []byte, h signature.Headers, secret string) signature.Result
}

// Queue hands stored events to the async processing stage.
type Queue interface {
	Enqueue(event models.WebhookEvent) bool
}

// SpecStore serves derived dashboard specifications.
type SpecStore interface {
	Get(ctx context.Context, previewID string) (speccache.Record, error)
}

// New creates a new Server instance wiring the handlers to their
// collaborators. The template registry is loaded up front so the workers
// never observe an empty set.
func New(ctx context.Context, registry dRegistry, db Store, secrets SecretManager, verifier Verifier, queue Queue, specs SpecStore, sc StaticConfig, reg prometheus.Registerer) (*Server, error) {
	if err := registry.Load(); err != nil {
		return nil, fmt.Errorf("failed to load template registry: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	s := Server{
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,

		gracefulCtx:    gCtx,
		gracefulCancel: gCancel}

	outcomes, err := metrics.NewOutcomes(reg)
	if err != nil {
		cancel()
		return nil, err
	}
	mw := metrics.New(reg)

	webhookHandler := handlers.NewWebhook(db, secrets, verifier, queue, outcomes, int64(sc.MaxUploadBytes))
	statusHandler := handlers.NewStatus(db)
	dashboardHandler := handlers.NewDashboard(specs)
	clientsHandler := handlers.NewClients(db, secrets, sc.PublicBaseURL)

	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/{clientId}", mw.Monitor("webhook", webhookHandler))
	mux.Handle("GET /webhooks/{clientId}/status", mw.Monitor("status", statusHandler))
	mux.Handle("GET /dashboards/{previewId}", mw.Monitor("dashboard", dashboardHandler))
	mux.Handle("POST /clients", mw.Monitor("clients", http.HandlerFunc(clientsHandler.Register)))
	mux.Handle("GET /clients/{clientId}/webhook-config", mw.Monitor("clients", http.HandlerFunc(clientsHandler.Config)))
	mux.Handle("POST /clients/{clientId}/rotate-secret", mw.Monitor("clients", http.HandlerFunc(clientsHandler.RotateSecret)))
	mux.Handle("GET /version", mw.Monitor("version", http.HandlerFunc(handlers.VersionHandler)))

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", sc.ListenHost, sc.ListenPort),
		ReadTimeout:    sc.ReadTimeout,
		WriteTimeout:   sc.WriteTimeout,
		Handler:        http.TimeoutHandler(mux, sc.RequestTimeout, ""),
		MaxHeaderBytes: sc.MaxHeaderBytes,
	}

	return &s, nil
}

// Run starts the HTTP server and listens for incoming requests.
func (s *Server) Run() error {
	slog.Info("Starting server", "addr", s.httpServer.Addr)

	// already asked to quit?
	select {
	case <-s.gracefulCtx.Done():
		return errors.New("server is already shutting down")
	default:
	}

	_, watchErr, err := s.registry.Watch(s.gracefulCtx)
	if err != nil {
		return fmt.Errorf("failed to start watching template registry: %v", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-s.gracefulCtx.Done():
		slog.Info("Graceful shutdown initiated")
		// use parent ctx so if you call s.cancel() elsewhere it unblocks Shutdown immediately
		if err := s.httpServer.Shutdown(s.ctx); err != nil {
			slog.Error("Graceful shutdown failed", "err", err)
			return err
		}
		slog.Info("Server shut down gracefully")
		// now kill everything else (watchers, handlers, etc.)
		s.cancel()
		return nil

	case err := <-serverErr:
		if err != nil {
			slog.Error("Server encountered error", "err", err)
			s.cancel()
			return err
		}
		// unlikely: ListenAndServe returned nil
		s.cancel()
		return nil
	case err := <-watchErr:
		if err != nil {
			slog.Error("Registry watcher encountered unrecoverable error", "err", err)
		}
		errC := s.httpServer.Close()
		s.cancel()

		return errors.Join(err, errC)
	}
}

// Quit shuts down the HTTP server gracefully.
func (s *Server) Quit(force bool) {
	defer s.cancel()

	if force {
		s.httpServer.Close()
		s.cancel()
	} else {
		s.gracefulCancel()
	}
	slog.Info("Server quit")
}
