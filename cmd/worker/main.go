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
	"callflow/internal/analysis"
	"callflow/internal/audit"
	"callflow/internal/calendar"
	"callflow/internal/callback"
	"callflow/internal/calls"
	"callflow/internal/config"
	"callflow/internal/llm"
	"callflow/internal/meetings"
	"callflow/internal/memory"
	"callflow/internal/notify"
	"callflow/internal/pipeline"
	"callflow/internal/queue"
	"callflow/internal/telephony"
	"callflow/internal/timeexpr"
	"callflow/pkg/logger"
	"callflow/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateWorker()
	}
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env).With("process", "worker")
	slog.SetDefault(log)

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("worker stopped", "err", err)
		os.Exit(1)
	}
	log.Info("worker shut down")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()

	loc := cfg.ReferenceLocation()

	llmCfg := llm.DefaultConfig(cfg.LLM.Provider).Merge(llm.Config{
		SummaryModel:   cfg.LLM.SummaryModel,
		DetectionModel: cfg.LLM.DetectionModel,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		EmbeddingDims:  cfg.LLM.EmbeddingDims,
		Timeout:        cfg.LLM.RequestTimeout,
	})
	apiKey := cfg.LLM.OpenAIAPIKey
	if llmCfg.Provider == llm.ProviderGemini {
		apiKey = cfg.LLM.GeminiAPIKey
	}
	llmClient, err := llm.NewClient(ctx, llmCfg, apiKey)
	if err != nil {
		return err
	}

	esClient, err := memory.OpenElasticsearch(ctx, memory.ElasticsearchConfig{
		URL:      cfg.Elasticsearch.URL,
		APIKey:   cfg.Elasticsearch.APIKey,
		Username: cfg.Elasticsearch.Username,
		Password: cfg.Elasticsearch.Password,
	})
	if err != nil {
		return err
	}
	vectors := memory.NewElasticsearchStore(esClient, cfg.Elasticsearch.Index, llmCfg.EmbeddingDims)
	if err := vectors.EnsureIndex(ctx); err != nil {
		return err
	}
	mem := memory.NewStore(vectors)

	eleven, err := telephony.NewElevenLabsClient(telephony.ElevenLabsConfig{
		BaseURL: cfg.ElevenLabs.BaseURL,
		APIKey:  cfg.ElevenLabs.APIKey,
	})
	if err != nil {
		return err
	}

	qopts := queue.Options{Prefix: cfg.Pipeline.KeyPrefix}
	callQueue := queue.New(rdb, pipeline.QueueCallProcessing, qopts)
	meetingQueue := queue.New(rdb, pipeline.QueueMeetingProcessing, qopts)

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	recorder := calls.NewRecorder(calls.NewPostgresRepo(db), auditSvc)
	directory := agents.NewDirectory(agents.NewPostgresRepo(db), eleven)
	scheduler := callback.NewScheduler(recorder, callQueue, mem, directory, eleven)

	handlers := &pipeline.Handlers{
		Analyzer: pipeline.NewCallAnalyzer(
			recorder,
			analysis.NewAnalyzer(llmClient, loc),
			timeexpr.NewResolver(loc, analysis.NewTimeParser(llmClient)),
			mem,
			scheduler,
		),
		Callbacks: scheduler,
		Bookings: meetings.NewWorkflow(
			meetings.NewPostgresRepo(db),
			meetings.NewPostgresCredentialStore(db),
			calendar.NewClient(cfg.Calendar.BaseURL, cfg.Calendar.RequestTimeout),
			notify.NewHTTPNotifier(10*time.Second),
			auditSvc,
		),
	}

	metrics := queue.NewMetrics(prometheus.DefaultRegisterer)

	callWorker := queue.NewWorker(callQueue, queue.WorkerOptions{
		Concurrency:   cfg.Pipeline.CallConcurrency,
		RatePerSecond: float64(cfg.Pipeline.CallJobsPerSecond),
		GlobalCap:     cfg.Pipeline.CallGlobalCap,
		Lease:         cfg.Pipeline.LeaseDuration,
		JobTimeout:    cfg.Pipeline.JobTimeout,
		Metrics:       metrics,
		Logger:        log,
	})
	handlers.RegisterCallProcessing(callWorker)

	meetingWorker := queue.NewWorker(meetingQueue, queue.WorkerOptions{
		Concurrency:   cfg.Pipeline.MeetingConcurrency,
		RatePerSecond: float64(cfg.Pipeline.MeetingJobsPerSecond),
		Lease:         cfg.Pipeline.LeaseDuration,
		JobTimeout:    cfg.Pipeline.JobTimeout,
		Metrics:       metrics,
		Logger:        log,
	})
	handlers.RegisterMeetingProcessing(meetingWorker)

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr(),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return callWorker.Run(gctx) })
	g.Go(func() error { return meetingWorker.Run(gctx) })
	g.Go(func() error {
		log.Info("metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	log.Info("worker started",
		"call_concurrency", cfg.Pipeline.CallConcurrency,
		"meeting_concurrency", cfg.Pipeline.MeetingConcurrency,
		"reference_timezone", loc.String(),
	)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
