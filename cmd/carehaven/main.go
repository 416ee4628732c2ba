package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/carehaven/carehaven/pkg/api"
	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/authn"
	"github.com/carehaven/carehaven/pkg/authz"
	"github.com/carehaven/carehaven/pkg/config"
	"github.com/carehaven/carehaven/pkg/impersonate"
	"github.com/carehaven/carehaven/pkg/observability"
	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/session"
	"github.com/carehaven/carehaven/pkg/store"
)

const sessionSweepSchedule = "@every 5m"

func main() {
	logLevel := flag.String("log-level", "", "Override CAREHAVEN_LOG_LEVEL (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	logger.Info("Starting CareHaven security service")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Configuration error: %v", err)
	}
	if *logLevel != "" {
		cfg.Observability.LogLevel = *logLevel
	}

	db, err := connectDatabase(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to Postgres")

	principals, err := store.NewPostgres(db)
	if err != nil {
		logger.Fatalf("Failed to initialize principal store: %v", err)
	}
	recorder, err := audit.NewDBRecorder(db)
	if err != nil {
		logger.Fatalf("Failed to initialize audit recorder: %v", err)
	}

	var (
		sessionStore session.Store
		redisClient  *redis.Client
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatalf("Invalid redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			cancel()
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		cancel()
		sessionStore = session.NewRedisStore(redisClient)
		logger.Info("Sessions backed by Redis")
	} else {
		sessionStore = session.NewMemoryStore()
		logger.Warn("CAREHAVEN_REDIS_URL not set; sessions are in-process only")
	}

	policies := policy.NewResolver(principals)
	watcherStop := loadPolicyDefaults(cfg, policies, logger)

	sessions := session.NewManager(sessionStore)
	authenticator := authn.NewAuthenticator(principals, policies, sessions, recorder)
	resolver := authz.NewResolver(principals, sessions, recorder)
	impersonator := impersonate.NewManager(principals, principals, sessions, recorder)

	appLogger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics()
	}
	health := observability.NewHealthChecker(db, redisClient)

	server := api.NewServer(api.Deps{
		Authenticator: authenticator,
		Sessions:      sessions,
		Resolver:      resolver,
		Impersonator:  impersonator,
		Policies:      policies,
		Facilities:    principals,
		Recorder:      recorder,
		Logger:        appLogger,
		Metrics:       metrics,
		Health:        health,
	})

	scheduler := startScheduler(cfg, sessions, recorder, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(appLogger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		scheduler.Stop()
		return nil
	})
	if watcherStop != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			close(watcherStop)
			return nil
		})
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}

	go func() {
		logger.Infof("Listening on %s", cfg.Server.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.Errorf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

func connectDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// loadPolicyDefaults applies the YAML defaults file, if configured, and
// starts the hot-reload watcher. Returns the watcher's stop channel, nil
// when no watcher is running.
func loadPolicyDefaults(cfg *config.Config, policies *policy.Resolver, logger *logrus.Logger) chan struct{} {
	if cfg.Policy.DefaultsFile == "" {
		return nil
	}

	defaults, err := policy.LoadDefaultsFile(cfg.Policy.DefaultsFile)
	if err != nil {
		logger.Fatalf("Failed to load policy defaults from %s: %v", cfg.Policy.DefaultsFile, err)
	}
	policies.SetDefaults(defaults)
	logger.Infof("Loaded policy defaults from %s", cfg.Policy.DefaultsFile)

	if !cfg.Policy.WatchDefaults {
		return nil
	}
	stop := make(chan struct{})
	go func() {
		err := policy.WatchDefaultsFile(cfg.Policy.DefaultsFile, policies, stop, func(err error) {
			logger.Warnf("Policy defaults reload failed: %v", err)
		})
		if err != nil {
			logger.Errorf("Policy defaults watcher stopped: %v", err)
		}
	}()
	return stop
}

// startScheduler runs the periodic expired-session sweep and the audit
// retention prune.
func startScheduler(cfg *config.Config, sessions *session.Manager, recorder *audit.DBRecorder, logger *logrus.Logger) *cron.Cron {
	scheduler := cron.New()

	if _, err := scheduler.AddFunc(sessionSweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		pruned, err := sessions.PruneExpired(ctx)
		if err != nil {
			logger.Warnf("Session sweep failed: %v", err)
			return
		}
		if pruned > 0 {
			logger.Infof("Session sweep removed %d expired sessions", pruned)
		}
	}); err != nil {
		logger.Fatalf("Failed to schedule session sweep: %v", err)
	}

	if _, err := scheduler.AddFunc(cfg.Audit.PruneSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		cutoff := time.Now().AddDate(0, 0, -cfg.Audit.RetentionDays)
		removed, err := recorder.Prune(ctx, cutoff)
		if err != nil {
			logger.Warnf("Audit retention prune failed: %v", err)
			return
		}
		logger.Infof("Audit retention prune removed %d entries older than %s", removed, cutoff.Format(time.RFC3339))
	}); err != nil {
		logger.Fatalf("Failed to schedule audit prune: %v", err)
	}

	scheduler.Start()
	return scheduler
}
