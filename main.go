// Package main provides the entry point for the snowflake id service
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/amirphl/snowflake-id/app/handlers"
	"github.com/amirphl/snowflake-id/app/middleware"
	"github.com/amirphl/snowflake-id/app/router"
	"github.com/amirphl/snowflake-id/app/scheduler"
	"github.com/amirphl/snowflake-id/app/services"
	businessflow "github.com/amirphl/snowflake-id/business_flow"
	"github.com/amirphl/snowflake-id/config"
	"github.com/amirphl/snowflake-id/repository"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.Config
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	c := &cli{}
	err := c.rootCmd().Execute()
	c.close()
	if err != nil {
		os.Exit(1)
	}
}

// runServer starts the HTTP API and blocks until SIGINT or SIGTERM
func runServer(cfg *config.Config) error {
	log.Printf("Starting snowflake id service %s (%s)...", cfg.Deployment.Version, cfg.Deployment.Environment)

	app, err := initializeApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)
		errChan <- app.server.Listen(address)
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
	case err := <-errChan:
		app.stop()
		return fmt.Errorf("failed to start server: %w", err)
	}

	app.stop()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
	return nil
}

// stop runs background-worker stop functions in reverse order
func (a *Application) stop() {
	for i := len(a.stopFuncs) - 1; i >= 0; i-- {
		a.stopFuncs[i]()
	}
	a.stopFuncs = nil
}

// initializeLogging points the process logger at stdout, a rotated file, or both.
// The returned closer flushes the file writer.
func initializeLogging(cfg config.LoggingConfig) (io.Writer, func()) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)

	var fileWriter *lumberjack.Logger
	if cfg.Output == "file" || cfg.Output == "both" {
		fileWriter = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	}

	var w io.Writer
	switch {
	case fileWriter == nil:
		w = os.Stdout
	case cfg.Output == "file":
		w = fileWriter
	default:
		w = io.MultiWriter(os.Stdout, fileWriter)
	}
	log.SetOutput(w)

	return w, func() {
		if fileWriter != nil {
			_ = fileWriter.Close()
		}
	}
}

// componentLogger returns a logger sharing the process output with a component prefix
func componentLogger(name string) *log.Logger {
	return log.New(log.Writer(), name+" ", log.Flags())
}

// initializeDatabase opens the connection pool. An unreachable server is logged, not fatal:
// the pool reconnects lazily and provisioning skips until it is back.
func initializeDatabase(cfg config.DatabaseConfig, logCfg config.LoggingConfig) (*gorm.DB, error) {
	level := gormlogger.Warn
	switch strings.ToLower(logCfg.Level) {
	case "debug":
		level = gormlogger.Info
	case "error":
		level = gormlogger.Error
	}
	slow := time.Duration(0)
	if cfg.SlowQueryLog {
		slow = cfg.SlowQueryTime
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		DisableAutomaticPing: true,
		Logger: gormlogger.New(componentLogger("gorm"), gormlogger.Config{
			SlowThreshold:             slow,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pooling
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		log.Printf("WARNING: database %s@%s:%d is unreachable, continuing without it: %v", cfg.Name, cfg.Host, cfg.Port, err)
		return db, nil
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache builds the redis client. Like the database it tolerates an unreachable server.
func initializeCache(cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		log.Printf("WARNING: redis at %s is unreachable, continuing without it: %v", opt.Addr, err)
		return rc, nil
	}

	log.Printf("Redis connection established to %s (db=%d)", opt.Addr, opt.DB)
	return rc, nil
}

// startCacheHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		healthy := true
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				err := client.Ping(ctx).Err()
				c()
				switch {
				case err != nil && healthy:
					log.Printf("Redis healthcheck failed: %v", err)
				case err == nil && !healthy:
					log.Printf("Redis healthcheck recovered")
				}
				healthy = err == nil
			}
		}
	}()
	return cancel
}

// storage bundles what the CLI commands and the server need to reach counter storage
type storage struct {
	store     repository.CounterStore
	redis     *redis.Client
	stopFuncs []func()
}

func (s *storage) close() {
	for i := len(s.stopFuncs) - 1; i >= 0; i-- {
		s.stopFuncs[i]()
	}
}

// initializeStorage connects to the configured backend and prepares its store
func initializeStorage(cfg *config.Config) (*storage, error) {
	st := &storage{}

	var db *gorm.DB
	if cfg.UsesDatabase() {
		var err error
		db, err = initializeDatabase(cfg.Database, cfg.Logging)
		if err != nil {
			return nil, err
		}
		st.stopFuncs = append(st.stopFuncs, func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
	}

	var rc *redis.Client
	if cfg.UsesRedis() {
		var err error
		rc, err = initializeCache(cfg.Redis)
		if err != nil {
			st.close()
			return nil, err
		}
		st.redis = rc
		st.stopFuncs = append(st.stopFuncs, func() { _ = rc.Close() })
	}

	store, err := repository.NewCounterStore(repository.StoreOptions{
		Backend:     cfg.Snowflake.Backend,
		Suffix:      cfg.Snowflake.CounterSuffix,
		RedisPrefix: cfg.Redis.Prefix,
		Epoch:       cfg.Snowflake.Epoch,
	}, db, rc)
	if err != nil {
		st.close()
		return nil, err
	}
	st.store = store

	if cfg.Snowflake.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := store.Setup(ctx)
		cancel()
		if err != nil {
			// the table backend cannot serve until this succeeds; for sequences only timestamp_id() is missing
			log.Printf("WARNING: %s storage setup failed: %v", store.Backend(), err)
		}
	}

	return st, nil
}

func newSnowflakeFlow(cfg *config.Config, store repository.CounterStore) businessflow.SnowflakeFlow {
	return businessflow.NewSnowflakeFlow(store, businessflow.SnowflakeOptions{
		Epoch:         cfg.Snowflake.Epoch,
		CounterSuffix: cfg.Snowflake.CounterSuffix,
		LazyProvision: cfg.Snowflake.LazyProvision,
		KnownEntities: cfg.Snowflake.Entities,
	})
}

func newProvisioningFlow(cfg *config.Config, store repository.CounterStore) businessflow.ProvisioningFlow {
	return businessflow.NewProvisioningFlow(store, cfg.Snowflake.ProvisionConcurrency, componentLogger("provisioning"))
}

func newTokenService(cfg config.JWTConfig) (services.TokenService, error) {
	tokenService, err := services.NewTokenService(
		cfg.AccessTokenTTL,
		cfg.Issuer,
		cfg.Audience,
		cfg.UseRSAKeys,
		cfg.PrivateKey,
		cfg.PublicKey,
		cfg.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	return tokenService, nil
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.Config) (*Application, error) {
	st, err := initializeStorage(cfg)
	if err != nil {
		return nil, err
	}
	stopFuncs := []func(){st.close}

	if st.redis != nil {
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), st.redis, cfg.Redis.HealthCheckInterval))
	}

	// Initialize flows
	snowflakeFlow := newSnowflakeFlow(cfg, st.store)
	provisioningFlow := newProvisioningFlow(cfg, st.store)

	// Counters are provisioned by the scheduler's first run when it is enabled
	switch {
	case cfg.Snowflake.ProvisionInterval > 0:
		sched := scheduler.NewProvisioningScheduler(provisioningFlow, cfg.Snowflake.Entities, cfg.Snowflake.ProvisionInterval, componentLogger("scheduler"))
		stopFuncs = append(stopFuncs, sched.Start(context.Background()))
	case cfg.Snowflake.ProvisionOnStart && len(cfg.Snowflake.Entities) > 0:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		provisioningFlow.EnsureAll(ctx, cfg.Snowflake.Entities)
		cancel()
	}

	var authMiddleware *middleware.AuthMiddleware
	if cfg.Server.EnableAdminAPI {
		tokenService, err := newTokenService(cfg.JWT)
		if err != nil {
			for i := len(stopFuncs) - 1; i >= 0; i-- {
				stopFuncs[i]()
			}
			return nil, err
		}
		log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)
		authMiddleware = middleware.NewAuthMiddleware(tokenService)
	}

	// Initialize handlers
	snowflakeHandler := handlers.NewSnowflakeHandler(snowflakeFlow)
	provisioningHandler := handlers.NewProvisioningHandler(provisioningFlow, cfg.Snowflake.Entities, st.store.Backend())

	// Initialize router
	appRouter := router.NewFiberRouter(
		router.Options{
			Server:     cfg.Server,
			Metrics:    cfg.Metrics,
			AccessLog:  cfg.Logging.EnableAccessLog,
			Version:    cfg.Deployment.Version,
			Deployment: cfg.Deployment.Environment,
		},
		snowflakeHandler,
		provisioningHandler,
		authMiddleware,
	)

	return &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		stopFuncs: stopFuncs,
	}, nil
}
