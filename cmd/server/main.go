package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RichardoC/localchat/internal/api"
	"github.com/RichardoC/localchat/internal/chat"
	"github.com/RichardoC/localchat/internal/config"
	"github.com/RichardoC/localchat/internal/db"
	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = config.DefaultFile
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	for _, w := range warnings {
		logger.Warn("Ignoring configuration file", zap.String("path", w.Path), zap.Error(w.Err))
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llmService, err := llm.New(llm.OptionsFromSettings(cfg, os.Getenv("OPENAI_API_KEY")))
	if err == nil {
		err = llmService.Ping(ctx)
	}
	if err != nil {
		kind := llm.InitOther
		var initErr *llm.InitError
		if errors.As(err, &initErr) {
			kind = initErr.Kind
		}
		logger.Fatal("failed to initialize LLM service",
			zap.Error(err),
			zap.Stringer("kind", kind),
			zap.String("model", cfg.ModelName),
			zap.String("baseURL", cfg.BaseURL))
	}

	chatService := chat.NewService(database, llmService, chat.Options{
		SystemPrompt: cfg.SystemPrompt,
		HistoryTurns: cfg.HistoryTurns,
		Streaming:    bool(cfg.Streaming),
	}, logger)

	handler := api.NewHandler(database, chatService, logger)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handler, cfg.CORSOrigins, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("Starting server",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("model", cfg.ModelName))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		database.Close()
		logger.Sync()
		os.Exit(1)
	}
}
