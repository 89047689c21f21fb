// Package daemon provides the Flowetic ingest service daemon.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/getflowetic/flowetic/internal/analysis"
	"github.com/getflowetic/flowetic/internal/cli"
	"github.com/getflowetic/flowetic/internal/constants"
	"github.com/getflowetic/flowetic/internal/dashboard"
	"github.com/getflowetic/flowetic/internal/database"
	"github.com/getflowetic/flowetic/internal/ingest"
	"github.com/getflowetic/flowetic/internal/metrics"
	"github.com/getflowetic/flowetic/internal/processor"
	"github.com/getflowetic/flowetic/internal/secrets"
	"github.com/getflowetic/flowetic/internal/signature"
	"github.com/getflowetic/flowetic/internal/speccache"
	"github.com/getflowetic/flowetic/internal/vault"
	"github.com/getflowetic/flowetic/internal/webservice"
	"github.com/getflowetic/flowetic/internal/workers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon *ingest.Service

	ready chan struct{}
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	WebConfig     webservice.StaticConfig
	MetricsConfig metrics.Config
	DBConfig      database.Config
	RedisConfig   speccache.Config
	Analysis      analysis.Config

	EncryptionKey string
	RegistryPath  string

	Tolerance   time.Duration
	ClockSkew   time.Duration
	QueueSize   int
	WorkerCount int

	MigrationsDir string
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.IngestServiceCmdName,
		Short:         "Flowetic webhook ingest service",
		Long:          "Flowetic ingest service receives signed webhook deliveries, stores them in PostgreSQL, and derives dashboard specifications from their payloads.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.IngestServiceCmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Update logging after loading config if necessary
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	installMigrateCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")

	// Web server flags
	cmd.Flags().StringVar(&app.config.WebConfig.ListenHost, "listen-host", "", "host for the webhook endpoints")
	cmd.Flags().IntVar(&app.config.WebConfig.ListenPort, "listen-port", 8080, "port for the webhook endpoints")
	cmd.Flags().StringVar(&app.config.WebConfig.PublicBaseURL, "public-base-url", "http://localhost:8080", "externally reachable base URL handed out to clients")
	cmd.Flags().DurationVar(&app.config.WebConfig.ReadTimeout, "web-read-timeout", 5*time.Second, "read timeout for the webhook HTTP server")
	cmd.Flags().DurationVar(&app.config.WebConfig.WriteTimeout, "web-write-timeout", 10*time.Second, "write timeout for the webhook HTTP server")
	cmd.Flags().DurationVar(&app.config.WebConfig.RequestTimeout, "web-request-timeout", 3*time.Second, "per-request timeout for the webhook HTTP server")
	cmd.Flags().IntVar(&app.config.WebConfig.MaxHeaderBytes, "web-max-header-bytes", 1<<13, "maximum header size for the webhook HTTP server")
	cmd.Flags().IntVar(&app.config.WebConfig.MaxUploadBytes, "web-max-upload-bytes", 1<<20, "maximum webhook payload size in bytes")

	// Metrics server flags
	cmd.Flags().DurationVar(&app.config.MetricsConfig.ReadTimeout, "read-timeout", 5*time.Second, "read timeout for the metrics HTTP server")
	cmd.Flags().DurationVar(&app.config.MetricsConfig.WriteTimeout, "write-timeout", 10*time.Second, "write timeout for the metrics HTTP server")
	cmd.Flags().StringVar(&app.config.MetricsConfig.Host, "metrics-host", "", "host for the metrics endpoint")
	cmd.Flags().IntVar(&app.config.MetricsConfig.Port, "metrics-port", 2113, "port for the metrics endpoint")

	// Pipeline flags
	cmd.Flags().StringVar(&app.config.RegistryPath, "registry-path", "", "path to the template registry YAML (empty for built-in templates)")
	cmd.Flags().StringVar(&app.config.EncryptionKey, "encryption-key", "", "hex-encoded 256-bit key for secret-at-rest encryption")
	cmd.Flags().DurationVar(&app.config.Tolerance, "signature-tolerance", signature.DefaultTolerance, "maximum accepted age of a signed delivery")
	cmd.Flags().DurationVar(&app.config.ClockSkew, "signature-clock-skew", signature.DefaultClockSkew, "accepted future-dating window for signed deliveries")
	cmd.Flags().IntVar(&app.config.QueueSize, "queue-size", 256, "capacity of the async processing queue")
	cmd.Flags().IntVar(&app.config.WorkerCount, "worker-count", 4, "number of async processing workers")

	// Analysis service flags
	cmd.Flags().StringVar(&app.config.Analysis.Endpoint, "analysis-endpoint", "", "OpenAI-compatible endpoint for low-confidence payload classification (empty disables)")
	cmd.Flags().StringVar(&app.config.Analysis.APIKey, "analysis-api-key", "", "API key for the analysis service")
	cmd.Flags().StringVar(&app.config.Analysis.Model, "analysis-model", "gpt-4o-mini", "model for the analysis service")
	cmd.Flags().DurationVar(&app.config.Analysis.Timeout, "analysis-timeout", 15*time.Second, "timeout for analysis service calls")

	addDBFlags(cmd, &app.config.DBConfig)
	addRedisFlags(cmd, &app.config.RedisConfig)
}

func addDBFlags(cmd *cobra.Command, config *database.Config) {
	cmd.Flags().StringVar(&config.Host, "db-host", "", "database host")
	cmd.Flags().IntVarP(&config.Port, "db-port", "p", 5432, "database port")
	cmd.Flags().StringVarP(&config.User, "db-user", "u", "", "database user")
	cmd.Flags().StringVarP(&config.Password, "db-password", "P", "", "database password")
	cmd.Flags().StringVarP(&config.DBName, "db-name", "n", "", "database name")
	cmd.Flags().StringVarP(&config.SSLMode, "db-sslmode", "s", "", "database SSL mode")
}

func addRedisFlags(cmd *cobra.Command, config *speccache.Config) {
	cmd.Flags().StringVar(&config.Host, "redis-host", "localhost", "Redis host for the dashboard spec cache")
	cmd.Flags().IntVar(&config.Port, "redis-port", 6379, "Redis port for the dashboard spec cache")
	cmd.Flags().StringVar(&config.Password, "redis-password", "", "Redis password")
	cmd.Flags().IntVar(&config.DB, "redis-db", 0, "Redis database index")
	cmd.Flags().DurationVar(&config.TTL, "spec-ttl", 24*time.Hour, "retention of derived dashboard specifications")
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit gracefully shuts down the daemon.
func (a *App) Quit() {
	a.WaitReady()
	if a.daemon != nil {
		a.daemon.Quit(false)
	}
}

// WaitReady waits for the daemon to be ready.
func (a *App) WaitReady() {
	<-a.ready
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

func (a *App) run() (err error) {
	ctx := context.Background()

	db, err := database.Connect(ctx, a.config.DBConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Warn("Failed to close database", "err", err)
		}
	}()

	vlt, err := vault.New(db, a.config.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize secret vault: %v", err)
	}
	secretManager := secrets.NewManager(vlt)

	cache, err := speccache.Connect(ctx, a.config.RedisConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to spec cache: %v", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			slog.Warn("Failed to close spec cache", "err", err)
		}
	}()

	registry := dashboard.NewRegistry(a.config.RegistryPath)
	promReg := prometheus.NewRegistry()

	proc, err := a.newProcessor(db, registry, cache, promReg)
	if err != nil {
		return fmt.Errorf("failed to create event processor: %v", err)
	}

	workerPool, err := workers.New(proc, promReg,
		workers.WithQueueSize(a.config.QueueSize),
		workers.WithWorkerCount(a.config.WorkerCount))
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %v", err)
	}

	verifier := signature.New(
		signature.WithTolerance(a.config.Tolerance),
		signature.WithClockSkew(a.config.ClockSkew))

	webServer, err := webservice.New(ctx, registry, db, secretManager, verifier, workerPool, cache, a.config.WebConfig, promReg)
	if err != nil {
		return fmt.Errorf("failed to create web service: %v", err)
	}

	metricsServer := metrics.New(a.config.MetricsConfig, promReg)

	a.daemon = ingest.New(ctx, webServer, workerPool, metricsServer)
	close(a.ready)

	return a.daemon.Run()
}

func (a *App) newProcessor(db *database.Manager, registry *dashboard.Registry, cache *speccache.Cache, promReg prometheus.Registerer) (*processor.Processor, error) {
	if a.config.Analysis.Endpoint == "" {
		return processor.New(db, registry, cache, nil, promReg)
	}
	return processor.New(db, registry, cache, analysis.New(a.config.Analysis), promReg)
}
