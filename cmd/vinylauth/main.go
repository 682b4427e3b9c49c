// Command vinylauth runs the authentication service of the vinyl
// collection app.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2"
	"github.com/redis/go-redis/v9"

	va "github.com/vascoliveira2511/vinylauth"
	"github.com/vascoliveira2511/vinylauth/config"
	"github.com/vascoliveira2511/vinylauth/discogs"
	"github.com/vascoliveira2511/vinylauth/ratelimit"
	"github.com/vascoliveira2511/vinylauth/stores/fs"
	"github.com/vascoliveira2511/vinylauth/stores/gae"
	gormstore "github.com/vascoliveira2511/vinylauth/stores/gorm"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	users, closeStore, err := openUserStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var provider va.LinkProvider
	if cfg.Discogs.Configured() {
		provider = discogs.NewClient(cfg.Discogs)
	} else {
		logger.Warn("discogs consumer credentials not set, account linking disabled")
	}

	auth, err := va.New(cfg.Auth, users, provider)
	if err != nil {
		return fmt.Errorf("failed to set up auth: %w", err)
	}
	auth.SetLogger(logger)

	limiter, closeLimiter := newLimiter(ctx, cfg.Redis, cfg.Auth, logger)
	defer closeLimiter()
	auth.Local.Limiter = limiter

	if cfg.Handshakes == "session" {
		sessions := scs.New()
		sessions.Lifetime = cfg.Auth.HandshakeTTL
		sessions.Cookie.Name = "vinyl_link"
		sessions.Cookie.HttpOnly = true
		sessions.Cookie.Secure = cfg.Auth.Production
		sessions.Cookie.SameSite = http.SameSiteLaxMode
		auth.SessionManager = sessions
		auth.Handshakes = &va.SessionHandshakeStore{Sessions: sessions}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/", auth.Handler())

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "store", cfg.Database.Driver, "handshakes", cfg.Handshakes)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openUserStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (va.UserStore, func(), error) {
	switch cfg.Driver {
	case "fs":
		dir, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		logger.Info("using file user store", "dir", dir)
		return fs.NewUserStore(dir), func() {}, nil

	case "sqlite", "postgres":
		db, err := gormstore.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := gormstore.AutoMigrate(db); err != nil {
				return nil, nil, fmt.Errorf("failed to migrate: %w", err)
			}
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return gormstore.NewUserStore(db), closeDB, nil

	case "datastore":
		client, err := datastore.NewClient(ctx, cfg.Project)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		return gae.NewUserStore(client, cfg.Namespace), func() { client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// newLimiter prefers redis so limits hold across replicas. Without it each
// process keeps its own counters and sweeps them periodically.
func newLimiter(ctx context.Context, cfg config.RedisConfig, auth va.Config, logger *slog.Logger) (va.RateLimiter, func()) {
	if cfg.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			// Limiter errors fail open, so keep going.
			logger.Warn("redis unreachable, rate limits are not enforced until it recovers", "addr", cfg.Addr, "error", err)
		}
		return ratelimit.NewRedis(client, cfg.Prefix), func() { client.Close() }
	}

	mem := ratelimit.NewMemory()
	span := max(auth.LoginWindow, auth.ForgotWindow)
	if span <= 0 {
		return mem, func() {}
	}
	ticker := time.NewTicker(span)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := mem.Sweep(span); n > 0 {
					logger.Debug("swept rate limit keys", "count", n)
				}
			case <-done:
				return
			}
		}
	}()
	return mem, func() {
		ticker.Stop()
		close(done)
	}
}
