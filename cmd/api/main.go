package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shinyyama/rental-backend/internal/config"
	"github.com/shinyyama/rental-backend/internal/db"
	"github.com/shinyyama/rental-backend/internal/logger"
	appmw "github.com/shinyyama/rental-backend/internal/middleware"
	"github.com/shinyyama/rental-backend/internal/server"
	"github.com/shinyyama/rental-backend/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Set at build time with -ldflags.
var (
	gitSHA    = "dev"
	buildTime = ""
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	zl, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := server.Options{Config: cfg, Log: zl, SHA: gitSHA, BuildTime: buildTime}

	if cfg.AuthMode == config.AuthModeFirebase {
		v, err := appmw.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, cfg.GoogleCredentialsFile)
		if err != nil {
			zl.Fatal("firebase init failed", zap.Error(err))
		}
		opts.Verifier = v
	}

	if cfg.StorageBucket != "" {
		var copts []option.ClientOption
		if cfg.GoogleCredentialsFile != "" {
			copts = append(copts, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
		}
		store, err := storage.NewGCSStore(ctx, cfg.StorageBucket, copts...)
		if err != nil {
			zl.Fatal("storage init failed", zap.Error(err))
		}
		defer store.Close()
		opts.Store = store
	} else {
		zl.Warn("STORAGE_BUCKET not set; attachments are rejected")
	}

	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zl.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(ropts)
		defer rdb.Close()
		opts.Redis = rdb
	}

	srv, err := server.New(opts)
	if err != nil {
		zl.Fatal("server init failed", zap.Error(err))
	}

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)

	go func() {
		zl.Info("starting server", zap.String("addr", addr), zap.String("git_sha", gitSHA))
		errCh <- srv.Start(addr)
	}()

	// The listener comes up first so health checks pass while the database
	// (Cloud SQL in particular) is still connecting.
	go func() {
		conn, err := db.Connect(cfg)
		if err != nil {
			zl.Error("db connect error", zap.Error(err))
			return
		}
		if err := db.Migrate(conn); err != nil {
			zl.Error("auto migrate error", zap.Error(err))
			return
		}
		srv.SetDB(conn)
		zl.Info("database ready", zap.String("driver", cfg.DBDriver))
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zl.Error("shutdown error", zap.Error(err))
		}
	}
}
