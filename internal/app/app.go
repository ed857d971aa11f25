package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/dealroom/internal/config"
	httpcontroller "github.com/vadim/dealroom/internal/controller/http"
	"github.com/vadim/dealroom/internal/database"
	"github.com/vadim/dealroom/internal/domain/access"
	convpolicy "github.com/vadim/dealroom/internal/domain/conversation/policy"
	convservice "github.com/vadim/dealroom/internal/domain/conversation/service"
	dealpolicy "github.com/vadim/dealroom/internal/domain/deal/policy"
	dealservice "github.com/vadim/dealroom/internal/domain/deal/service"
	"github.com/vadim/dealroom/internal/httpx/auth"
	"github.com/vadim/dealroom/internal/id"
	"github.com/vadim/dealroom/internal/notify"
	"github.com/vadim/dealroom/internal/storage"
	"github.com/vadim/dealroom/internal/store"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// Infrastructure
	pool        *pgxpool.Pool
	store       store.Store
	publisher   notify.Publisher
	transcripts convpolicy.TranscriptArchiver
	ids         *id.Generator
	auth        *auth.Authenticator

	// Domain policies (interfaces for HTTP handlers)
	dealPolicy         *dealpolicy.Policy
	conversationPolicy *convpolicy.Policy

	// Dispatcher publishing outbox events
	dispatcher *notify.Dispatcher
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Initialize router with middleware
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	// Initialize infrastructure
	if err := app.initInfrastructure(ctx); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	// Initialize domain layers
	app.initDomains()

	// Register routes
	if err := app.registerRoutes(); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("registering routes: %w", err)
	}

	// Initialize HTTP server
	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

// initInfrastructure initializes infrastructure components (DB, broker, storage)
func (a *App) initInfrastructure(ctx context.Context) error {
	ids, err := id.NewGenerator(a.cfg.Snowflake.NodeID)
	if err != nil {
		return err
	}
	a.ids = ids

	if a.cfg.Database.PostgresDSN != "" {
		pool, err := database.NewPostgresPool(ctx, a.cfg.Database.PostgresDSN, database.PoolOptions{
			MaxConns:     a.cfg.Database.MaxOpenConns,
			MinConns:     a.cfg.Database.MaxIdleConns,
			ConnLifetime: a.cfg.Database.ConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		a.pool = pool

		if a.cfg.Database.Migrate {
			if err := database.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		a.store = store.NewPostgres(pool)
	} else {
		if a.cfg.IsProduction() {
			return errors.New("DATABASE_URL is required in production")
		}
		a.logger.Warn("DATABASE_URL is empty, using in-memory store")
		a.store = store.NewMemory()
	}

	publisher, err := a.newPublisher(ctx)
	if err != nil {
		return err
	}
	a.publisher = publisher

	if a.cfg.S3.Enabled {
		a.transcripts = storage.NewTranscriptStorage(storage.S3Config{
			Endpoint:        a.cfg.S3.Endpoint,
			AccessKeyID:     a.cfg.S3.AccessKeyID,
			SecretAccessKey: a.cfg.S3.SecretAccessKey,
			Bucket:          a.cfg.S3.Bucket,
			Region:          a.cfg.S3.Region,
			PublicURL:       a.cfg.S3.PublicURL,
		})
	}

	a.auth = auth.NewAuthenticator(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, a.logger)
	return nil
}

// newPublisher builds the configured notification channel
func (a *App) newPublisher(ctx context.Context) (notify.Publisher, error) {
	switch a.cfg.Notify.Driver {
	case "rabbitmq":
		p, err := notify.NewRabbitMQPublisher(ctx, notify.RabbitMQOptions{
			URL:           a.cfg.RabbitMQ.URL,
			Exchange:      a.cfg.RabbitMQ.Exchange,
			RetryAttempts: a.cfg.RabbitMQ.RetryAttempts,
			Delay:         a.cfg.RabbitMQ.RetryDelay,
			Logger:        a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
		}
		return p, nil
	case "redis":
		p, err := notify.NewRedisPublisher(ctx, a.cfg.Redis.URL, a.cfg.Redis.Stream, a.cfg.Redis.MaxLen, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return p, nil
	case "", "log":
		return notify.NewLogPublisher(a.logger), nil
	default:
		return nil, fmt.Errorf("unknown notify driver %q", a.cfg.Notify.Driver)
	}
}

// initDomains initializes domain layers (Service, Policy)
func (a *App) initDomains() {
	a.dispatcher = notify.NewDispatcher(a.store.Outbox(), a.publisher, notify.Config{
		Interval:    a.cfg.Notify.Interval,
		BatchSize:   a.cfg.Notify.BatchSize,
		MaxAttempts: a.cfg.Notify.MaxAttempts,
		Backoff:     a.cfg.Notify.Backoff,
		MaxBackoff:  a.cfg.Notify.MaxBackoff,
	}, a.logger)

	guard := access.NewGuard(access.Options{
		AllowBrandAccess:     a.cfg.Access.AllowBrandAccess,
		RestrictToOwnProfile: a.cfg.Access.RestrictToOwnProfile,
	})

	engine := dealservice.New(a.store, guard, a.dispatcher, dealservice.Config{
		MaxRevisions:        a.cfg.Deal.MaxRevisions,
		RequireRejectReason: a.cfg.Deal.RequireRejectReason,
	}, a.logger)
	a.dealPolicy = dealpolicy.New(engine)

	conversations := convservice.NewConversations(a.store, a.dispatcher, a.logger)
	messages := convservice.NewMessages(a.store, conversations, a.ids, a.dispatcher, convservice.MessageConfig{
		MaxLength:       a.cfg.Messages.MaxLength,
		DefaultPageSize: a.cfg.Messages.DefaultPageSize,
		MaxPageSize:     a.cfg.Messages.MaxPageSize,
	}, a.logger)
	a.conversationPolicy = convpolicy.New(engine, guard, conversations, messages, a.transcripts, a.logger)
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() error {
	// Health check
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)

	// Swagger UI documentation
	swaggerHandler, err := httpcontroller.NewSwaggerHandler("Dealroom API", OpenAPISpec)
	if err != nil {
		return err
	}
	swaggerHandler.RegisterRoutes(a.router)

	// API v1
	a.router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.auth.Middleware)

		dealHandler := httpcontroller.NewDealHandler(a.dealPolicy, a.logger)
		dealHandler.RegisterRoutes(r)

		conversationHandler := httpcontroller.NewConversationHandler(a.conversationPolicy, a.logger)
		conversationHandler.RegisterRoutes(r)
	})
	return nil
}

// Handler returns the root HTTP handler
func (a *App) Handler() http.Handler {
	return a.router
}

// Authenticator returns the token issuer used by the API
func (a *App) Authenticator() *auth.Authenticator {
	return a.auth
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler handles readiness check requests
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	a.dispatcher.Start(ctx)

	// Channel to receive errors from server
	errCh := make(chan error, 1)

	// Start HTTP server in goroutine
	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		a.dispatcher.Stop()
		a.closeInfrastructure()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := a.httpServer.Shutdown(shutdownCtx)

	// Stop dispatcher after the last request committed its events
	a.dispatcher.Stop()
	a.closeInfrastructure()

	if err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("closing publisher", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
