package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Segerberg/whisper-ui/internal/config"
	"github.com/Segerberg/whisper-ui/internal/database"
	"github.com/Segerberg/whisper-ui/internal/engine"
	"github.com/Segerberg/whisper-ui/internal/queue"
	"github.com/Segerberg/whisper-ui/internal/queue/workers"
	"github.com/Segerberg/whisper-ui/internal/store"
	"github.com/Segerberg/whisper-ui/internal/taskstate"
	"github.com/Segerberg/whisper-ui/internal/transcripts"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Engine.Concurrency,
		},
	)

	records := transcripts.NewService(db)
	files := store.NewFileStore(cfg.Upload.UploadDir, cfg.Upload.DataDir)
	runner := engine.NewRunner(cfg.Engine.WhisperBin, cfg.Engine.ModelDir, cfg.Upload.DataDir)
	states := taskstate.NewStore(rdb, 0)

	registry := queue.NewHandlersRegistry()
	transcribeWorker := workers.NewTranscribeWorker(records, files, runner, states)
	registry.Register(queue.TypeTranscribeAudio, asynq.HandlerFunc(transcribeWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", cfg.Engine.Concurrency)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
