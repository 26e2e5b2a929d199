package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/azscribe/adapters/azure/blob"
	"github.com/satriahrh/azscribe/adapters/azure/sas"
	"github.com/satriahrh/azscribe/adapters/azure/speech"
	"github.com/satriahrh/azscribe/adapters/memory"
	"github.com/satriahrh/azscribe/adapters/mongo"
	"github.com/satriahrh/azscribe/adapters/sqlite"
	"github.com/satriahrh/azscribe/adapters/workflow"
	"github.com/satriahrh/azscribe/adapters/workspace"
	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/repositories"
	"github.com/satriahrh/azscribe/internal/api"
	"github.com/satriahrh/azscribe/internal/auth"
	"github.com/satriahrh/azscribe/internal/caption"
	"github.com/satriahrh/azscribe/internal/config"
	"github.com/satriahrh/azscribe/internal/dispatcher"
	"github.com/satriahrh/azscribe/internal/websocket"
	"github.com/satriahrh/azscribe/usecase"
)

func main() {
	// Initialize logger
	logger := newLogger()
	defer logger.Sync()

	config.LoadDotEnv(logger)
	cfg := config.Load(logger)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initTranscription(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize transcription service", zap.Error(err))
	}
	deps := app.routes

	// Initialize API routes
	api.InitRoutes(e, deps, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", cfg.Port), zap.Bool("transcriptionEnabled", deps.Service != nil))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// dispatcher first, stores last
	for _, stop := range app.shutdown {
		if err := stop(shutdownCtx); err != nil {
			logger.Error("Shutdown step failed", zap.Error(err))
		}
	}
	cancel()

	logger.Info("Server exited")
}

func newLogger() *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if os.Getenv("APP_ENV") == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

type application struct {
	routes   api.Dependencies
	shutdown []func(context.Context) error
}

// initTranscription builds the transcription stack. Invalid configuration
// disables the service and leaves only the health check; store and I/O
// failures are returned.
func initTranscription(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, error) {
	if !cfg.Enabled {
		logger.Warn("Transcription service disabled by configuration")
		return &application{}, nil
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("Transcription service disabled, configuration incomplete", zap.Error(err))
		return &application{}, nil
	}

	app, err := build(ctx, cfg, logger)
	if errors.Is(err, domain.ErrConfiguration) {
		logger.Warn("Transcription service disabled, configuration rejected", zap.Error(err))
		return &application{}, nil
	}
	return app, err
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, error) {
	app := &application{}
	clk := clock.New()

	signer, err := sas.NewSigner(cfg.Storage.AccountName, cfg.Storage.AccountKey, sas.WithClock(clk))
	if err != nil {
		return nil, err
	}
	blobs, err := blob.NewClient(signer, blob.Config{
		Endpoint:    cfg.Storage.Endpoint,
		BlockSize:   cfg.Storage.BlockSize,
		Concurrency: cfg.Storage.Concurrency,
		Timeout:     cfg.HTTPTimeout,
	}, logger.Named("blob"))
	if err != nil {
		return nil, err
	}

	speechClient, err := speech.NewClient(speech.Config{
		Endpoint:        cfg.Speech.Endpoint,
		SubscriptionKey: cfg.Speech.SubscriptionKey,
		Timeout:         cfg.HTTPTimeout,
	}, logger.Named("speech"))
	if err != nil {
		return nil, err
	}

	ws, err := workspace.New(cfg.WorkspaceRoot, logger.Named("workspace"))
	if err != nil {
		return nil, err
	}

	workflowIssuer, err := auth.NewIssuer(cfg.Workflow.SigningKey, clk)
	if err != nil {
		return nil, err
	}
	workflows, err := workflow.NewClient(workflow.Config{
		Endpoint:      cfg.Workflow.Endpoint,
		SystemAccount: cfg.Workflow.SystemAccount,
		Timeout:       cfg.HTTPTimeout,
	}, workflowIssuer, logger.Named("workflow"))
	if err != nil {
		return nil, err
	}

	operatorIssuer, err := auth.NewIssuer(cfg.AdminJWTSecret, clk)
	if err != nil {
		return nil, err
	}

	format, err := caption.ParseFormat(cfg.Transcription.CaptionFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: CAPTION_FORMAT: %v", domain.ErrConfiguration, err)
	}

	// opened last so a rejected setting above leaves nothing to close
	jobs, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	hub := websocket.NewHub(logger.Named("websocket"))
	hubCtx, stopHub := context.WithCancel(ctx)
	go hub.Run(hubCtx)

	service := usecase.NewTranscriptionService(usecase.Dependencies{
		Jobs:      jobs,
		Blobs:     blobs,
		Speech:    speechClient,
		Workspace: ws,
		Assets:    workflows,
		Workflows: workflows,
		Events:    hub,
	}, usecase.TranscriptionConfig{
		Enabled:            cfg.Enabled,
		Container:          cfg.Storage.Container,
		BlobPath:           cfg.Storage.BlobPath,
		Language:           cfg.Transcription.Language,
		CandidateLocales:   cfg.Transcription.AutoDetectLanguages,
		TimeToLive:         cfg.Transcription.TimeToLive,
		WorkflowDefinition: cfg.Transcription.WorkflowDefinition,
		Retention:          cfg.Dispatch.Retention,
		CaptionFormat:      format,
		Caption: caption.Options{
			MinConfidence: cfg.Transcription.MinConfidence,
			MaxLineLength: cfg.Transcription.LineLength,
		},
	}, clk, logger.Named("transcription"))

	d := dispatcher.New(dispatcher.Config{
		Interval:      cfg.Dispatch.Interval,
		RecordTimeout: cfg.Dispatch.RecordTimeout,
		ShutdownWait:  cfg.Dispatch.ShutdownWait,
	}, clk, logger.Named("dispatcher"), service.Handlers()...)
	d.Start(ctx)

	app.routes = api.Dependencies{
		Service:    service,
		Dispatcher: d,
		Hub:        hub,
		Issuer:     operatorIssuer,
	}
	app.shutdown = []func(context.Context) error{
		d.Stop,
		func(context.Context) error { stopHub(); return nil },
		closeStore,
	}
	return app, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (repositories.TranscriptionJobRepository, func(context.Context) error, error) {
	switch cfg.Kind {
	case config.StoreMemory:
		logger.Warn("Using in-memory job store, records are lost on restart")
		return memory.NewJobRepository(), func(context.Context) error { return nil }, nil

	case config.StoreMongo:
		client, err := mongo.NewClient(ctx, mongo.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase}, logger.Named("mongo"))
		if err != nil {
			return nil, nil, err
		}
		repo, err := mongo.NewJobRepository(ctx, client.Database)
		if err != nil {
			client.Close(ctx)
			return nil, nil, err
		}
		return repo, client.Close, nil

	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using SQLite job store", zap.String("path", cfg.SQLitePath))
		return sqlite.NewJobRepository(db), func(context.Context) error { return db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown job store %q", cfg.Kind)
}
