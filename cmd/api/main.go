package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callflow/internal/agents"
	"callflow/internal/audit"
	"callflow/internal/auth"
	"callflow/internal/calendar"
	"callflow/internal/calls"
	"callflow/internal/config"
	"callflow/internal/httpapi"
	"callflow/internal/meetings"
	"callflow/internal/pipeline"
	"callflow/internal/queue"
	"callflow/internal/reporting"
	"callflow/pkg/logger"
	"callflow/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is fine; real deployments inject env vars.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	qopts := queue.Options{Prefix: cfg.Pipeline.KeyPrefix}
	callQueue := queue.New(rdb, pipeline.QueueCallProcessing, qopts)
	meetingQueue := queue.New(rdb, pipeline.QueueMeetingProcessing, qopts)

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	callRepo := calls.NewPostgresRepo(db)
	recorder := calls.NewRecorder(callRepo, auditSvc)
	directory := agents.NewDirectory(agents.NewPostgresRepo(db), nil)

	h := httpapi.Handlers{
		Auth:     authManager,
		Webhooks: pipeline.NewIngestor(recorder, directory, callQueue, cfg.ElevenLabs.WebhookSecret),
		Meetings: meetings.NewService(
			meetings.NewPostgresRepo(db),
			meetings.NewPostgresCredentialStore(db),
			meetingQueue,
			calendar.NewClient(cfg.Calendar.BaseURL, cfg.Calendar.RequestTimeout),
		),
		Calls: callRepo,
		Stats: reporting.NewService(reporting.NewPostgresRepo(db)),
		Queues: map[string]httpapi.QueueInspector{
			callQueue.Name():    callQueue,
			meetingQueue.Name(): meetingQueue,
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, auth.RequireAccessToken(authManager), func(ctx context.Context) error {
		return utils.HealthCheck(ctx, db, 2*time.Second)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
