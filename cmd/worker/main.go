package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/JustFixNYC/tenants2-sub000/internal/config"
	"github.com/JustFixNYC/tenants2-sub000/internal/logger"
	"github.com/JustFixNYC/tenants2-sub000/internal/sms"
	"github.com/JustFixNYC/tenants2-sub000/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.AppEnv)
	log.Info().Str("redis", cfg.RedisAddr).Msg("starting worker")

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}, asynq.Config{
		Concurrency: 4,
	})
	processor := worker.NewProcessor(sms.New(cfg), logger.Component(log, "worker"))
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
	log.Info().Msg("worker stopped")
}
