package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gemini-slack-bot/config"
	"gemini-slack-bot/dedup"
	"gemini-slack-bot/dispatch"
	"gemini-slack-bot/generate"
	"gemini-slack-bot/jobs"
	"gemini-slack-bot/logging"
	"gemini-slack-bot/metrics"
	"gemini-slack-bot/publish"
	"gemini-slack-bot/webhook"
)

const (
	shutdownTimeout = 30 * time.Second
	startupTimeout  = 15 * time.Second
)

func newRootCmd() *cobra.Command {
	var (
		envFiles []string
		port     string
	)
	cmd := &cobra.Command{
		Use:           "gemini-slack-bot",
		Short:         "Answer Slack mentions and direct messages with Gemini",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringArrayVar(&envFiles, "env-file", nil, "Load variables from this file before reading the environment (default .env).")
	cmd.Flags().StringVar(&port, "port", "", "Listen port (overrides PORT).")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	completer, err := generate.NewGemini(startupCtx, cfg.GoogleAPIKey, cfg.GeminiModel)
	if err != nil {
		return err
	}
	slackClient, err := publish.NewSlack(cfg.SlackBotToken)
	if err != nil {
		return err
	}

	botUserID := cfg.BotUserID
	if botUserID == "" {
		botUserID, err = slackClient.BotUserID(startupCtx)
		if err != nil {
			return fmt.Errorf("resolve bot user id (set BOT_USER_ID to skip): %w", err)
		}
		logger.Info("resolved bot user id", "bot_user_id", botUserID)
	}

	store, closeStore, err := openDedupStore(startupCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()

	policy, err := dispatch.ParseFailurePolicy(cfg.CompletionFailurePolicy)
	if err != nil {
		return err
	}
	relay, err := dispatch.NewRelay(dispatch.RelayOptions{
		Completer:         completer,
		Poster:            slackClient,
		Dedup:             store,
		BotUserID:         botUserID,
		CompletionTimeout: cfg.CompletionTimeout,
		FailurePolicy:     policy,
		FailureText:       cfg.CompletionFailureText,
		Metrics:           m,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	dispatcher, err := dispatch.NewDispatcher(dispatch.DispatcherOptions{
		Handler:   relay,
		Workers:   cfg.WorkerCount,
		QueueSize: cfg.QueueSize,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	// Workers outlive the signal context so queued events can drain.
	dispatcher.Start(context.WithoutCancel(ctx))

	scheduler, err := jobs.New(jobs.Options{
		Sweeper:           store,
		SweepSchedule:     cfg.SweepSchedule,
		KeepaliveURL:      cfg.DeploymentBaseURI,
		KeepaliveSchedule: cfg.KeepaliveSchedule,
		Metrics:           m,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	scheduler.Start()

	hooks, err := webhook.New(webhook.Options{
		Dispatcher:    dispatcher,
		Completer:     completer,
		SigningSecret: cfg.SlackSigningSecret,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if cfg.SlackSigningSecret == "" {
		logger.Warn("SLACK_SIGNING_SECRET is not set, webhook requests are not verified")
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           hooks.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr, "model", completer.Model(), "bot_user_id", botUserID)
		serverErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("dispatcher shutdown", "error", err)
	}
	scheduler.Stop(shutdownCtx)
	return runErr
}

type dedupStore interface {
	dedup.Store
	dedup.Sweeper
}

// openDedupStore uses Postgres when DATABASE_URL is set so that every
// replica shares one view of handled messages.
func openDedupStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (dedupStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory dedup store", "ttl", cfg.DedupTTL, "capacity", cfg.DedupCapacity)
		return dedup.NewMemoryStore(cfg.DedupTTL, cfg.DedupCapacity), func() {}, nil
	}
	store, err := dedup.OpenPostgresStore(ctx, cfg.DatabaseURL, cfg.DedupTTL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using postgres dedup store", "ttl", cfg.DedupTTL)
	return store, store.Close, nil
}
