package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RichardoC/localchat/internal/chat"
	"github.com/RichardoC/localchat/internal/cli"
	"github.com/RichardoC/localchat/internal/config"
	"github.com/RichardoC/localchat/internal/db"
	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/logging"
)

const promptGrace = 2 * time.Second

// errReported means the failure was already shown to the user.
var errReported = errors.New("reported")

var (
	configPath string
	dbPath     string
	resumeID   int64
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "localchat",
	Short: "Chat with a locally hosted language model",
	Long: `localchat is an interactive chat client for a local model server.

Replies are streamed as they are generated and every conversation is kept
in a SQLite database so it can be resumed later.

Examples:
  localchat
  localchat --config ~/.config/localchat.yaml
  localchat --resume 12`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", config.DefaultFile, "Configuration file")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "Conversation database (overrides db_path)")
	rootCmd.Flags().Int64Var(&resumeID, "resume", 0, "Continue an existing conversation")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	logger, err := logging.New(logLevel, true)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()
	for _, w := range warnings {
		logger.Warn("Ignoring configuration file", zap.String("path", w.Path), zap.Error(w.Err))
	}

	out := cmd.OutOrStdout()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := llm.New(llm.OptionsFromSettings(cfg, os.Getenv("OPENAI_API_KEY")))
	if err == nil {
		err = gateway.Ping(ctx)
	}
	if err != nil {
		cli.Diagnose(cmd.ErrOrStderr(), err, cfg.ModelName, cfg.BaseURL)
		return errReported
	}

	service := chat.NewService(database, gateway, chat.Options{
		SystemPrompt: cfg.SystemPrompt,
		HistoryTurns: cfg.HistoryTurns,
		Streaming:    bool(cfg.Streaming),
	}, logger)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	repl := cli.NewREPL(service, line, out, logger)

	finished := make(chan struct{})
	defer close(finished)
	go cli.WatchShutdown(ctx, finished, promptGrace, func() {
		line.Close()
		database.Close()
		logger.Sync()
		fmt.Fprintln(out, "Bye!")
		os.Exit(0)
	})

	repl.Banner(cfg.ModelName, cfg.BaseURL)

	if resumeID != 0 {
		conv, err := database.GetConversation(ctx, resumeID)
		if err != nil {
			return fmt.Errorf("resume conversation %d: %w", resumeID, err)
		}
		messages, err := database.ListMessages(ctx, resumeID)
		if err != nil {
			return fmt.Errorf("resume conversation %d: %w", resumeID, err)
		}
		repl.Resume(*conv, messages)
	}

	if err := repl.Run(ctx); err != nil {
		return err
	}
	logger.Debug("Session ended", zap.Int64("conversation_id", repl.ConversationID()))
	return nil
}
