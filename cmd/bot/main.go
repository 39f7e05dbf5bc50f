package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"assistant-telegram-bot/internal/adapter/openai"
	"assistant-telegram-bot/internal/adapter/sqlite"
	"assistant-telegram-bot/internal/adapter/telegram"
	"assistant-telegram-bot/internal/config"
	"assistant-telegram-bot/internal/logger"
	"assistant-telegram-bot/internal/metrics"
	"assistant-telegram-bot/internal/usecase/chat"
	"assistant-telegram-bot/internal/usecase/transcribe"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fallback := logger.New(logger.Config{})
		fallback.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	// run owns every resource so its defers fire before any fatal exit
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("bot stopped with error")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	met := metrics.New()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, met, log)
	}

	store, err := sqlite.Open(ctx, cfg.DBPath, cfg.DBWorkers, log, met)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer store.Close()

	openAIClient := openai.NewClient(cfg.OpenAIKey)
	transcribeSvc := transcribe.NewService(openAIClient, cfg)

	api, err := telegram.NewAPI(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("init telegram bot: %w", err)
	}
	transport := telegram.NewTransport(api, log)

	chatSvc := chat.NewService(store, openAIClient, transcribeSvc, transport, cfg, log, met)
	bot := telegram.NewBot(api, cfg, chatSvc, store, log)

	if err := bot.Run(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info().Err(err).Msg("shutdown")
			return nil
		}
		return fmt.Errorf("polling stopped: %w", err)
	}
	return nil
}

func serveMetrics(addr string, met *metrics.Metrics, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
