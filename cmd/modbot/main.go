// Package main is the entry point for the moderation bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ihiteshgupta/telegram-modbot/internal/captcha"
	"github.com/ihiteshgupta/telegram-modbot/internal/commands"
	"github.com/ihiteshgupta/telegram-modbot/internal/config"
	"github.com/ihiteshgupta/telegram-modbot/internal/dispatch"
	"github.com/ihiteshgupta/telegram-modbot/internal/health"
	"github.com/ihiteshgupta/telegram-modbot/internal/housekeeping"
	"github.com/ihiteshgupta/telegram-modbot/internal/moderation"
	"github.com/ihiteshgupta/telegram-modbot/internal/modlog"
	"github.com/ihiteshgupta/telegram-modbot/internal/ratewindow"
	"github.com/ihiteshgupta/telegram-modbot/internal/relay"
	"github.com/ihiteshgupta/telegram-modbot/internal/store"
	"github.com/ihiteshgupta/telegram-modbot/internal/telegram"
	"github.com/ihiteshgupta/telegram-modbot/internal/wizard"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("moderation bot starting",
		"config", *configPath,
		"log_level", cfg.LogLevel,
		"store_driver", cfg.StoreDriver,
		"rate_window_backend", cfg.RateWindowBackend,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("moderation bot failed", "error", err)
		os.Exit(1)
	}
	logger.Info("moderation bot stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	tracker, closeTracker, err := newTracker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTracker()

	client, err := telegram.NewBotClient(cfg.BotToken, logger.With("component", "telegram"))
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}
	logger.Info("authorized", "bot_id", client.Self().ID, "username", client.Self().Username)

	monitor := health.NewMonitor()
	client.OnResult(monitor.ObserveResult)

	var sinks []modlog.Sink
	if cfg.NATSURL != "" {
		sink, err := modlog.NewNATSSink(cfg.NATSURL, cfg.NATSSubject, logger.With("component", "nats"))
		if err != nil {
			return err
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}

	writer := modlog.NewWriter(st.Logs, client, cfg.ModlogQueueSize, logger.With("component", "modlog"), sinks...)
	writer.Start(ctx)
	defer writer.Stop()
	monitor.WatchLogQueue(writer.Dropped)

	evaluator := moderation.NewEvaluator(moderation.EvaluatorConfig{
		CommandPrefix:     cfg.CommandPrefix,
		FloodMessageLimit: cfg.FloodMessageLimit,
		FloodMuteDuration: cfg.FloodMuteDuration,
		SpamMaxLength:     cfg.SpamMaxLength,
	}, tracker)
	pipeline := moderation.NewPipeline(client, writer, monitor, logger.With("component", "moderation"))

	router := relay.NewRouter(st, client, relay.Config{
		OwnerID:       cfg.OwnerID,
		AdminIDs:      cfg.RelayAdminIDs,
		CommandPrefix: cfg.CommandPrefix,
	}, monitor, logger.With("component", "relay"))

	handler := commands.NewHandler(st, client, writer, commands.Config{
		Prefix:       cfg.CommandPrefix,
		WarningLimit: cfg.WarningLimit,
		OwnerID:      cfg.OwnerID,
	}, logger.With("component", "commands"))

	verifier := captcha.NewService(st, client, writer, cfg.CaptchaTimeout,
		captcha.WithLogger(logger.With("component", "captcha")))

	sessions, err := wizard.NewMemorySessionStore(cfg.WizardMaxSessions)
	if err != nil {
		return fmt.Errorf("failed to create wizard sessions: %w", err)
	}
	panel := wizard.NewService(st, client, sessions, writer, cfg.OwnerID, logger.With("component", "wizard"))

	mentions, err := ratewindow.NewCooldown(cfg.AdminMentionCooldown, cfg.RateWindowMaxKeys)
	if err != nil {
		return fmt.Errorf("failed to create mention cooldown: %w", err)
	}

	dispatcher := dispatch.New(dispatch.Deps{
		Store:     st,
		Client:    client,
		Evaluator: evaluator,
		Pipeline:  pipeline,
		Relay:     router,
		Commands:  handler,
		Captcha:   verifier,
		Wizard:    panel,
		Recorder:  writer,
		Mentions:  mentions,
		Metrics:   monitor,
	}, dispatch.Config{
		QueueSize:     cfg.UpdateQueueSize,
		CommandPrefix: cfg.CommandPrefix,
	}, logger.With("component", "dispatch"))
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	janitor := housekeeping.New(housekeeping.Config{
		Interval:         cfg.HousekeepingInterval,
		WizardSessionTTL: cfg.WizardSessionTTL,
		MappingRetention: cfg.RelayMappingRetention,
	}, housekeeping.Deps{
		Verifications: verifier,
		RateWindow:    tracker,
		Cooldown:      mentions,
		Sessions:      sessions,
		Mappings:      st.RelayMappings,
	}, logger.With("component", "housekeeping"))
	if err := janitor.Start(ctx); err != nil {
		return err
	}
	defer janitor.Stop()

	// Verification deadlines that passed while the bot was down.
	janitor.Sweep(ctx)

	server := health.NewServer(monitor, cfg.HealthPort, logger.With("component", "health"))
	server.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("health server shutdown failed", "error", err)
		}
	}()

	poller := telegram.NewPoller(client.API(), telegram.PollerConfig{
		Timeout:   cfg.PollTimeout,
		BaseDelay: cfg.ReconnectBaseDelay,
		MaxDelay:  cfg.ReconnectMaxDelay,
	}, logger.With("component", "poller"))
	poller.OnError(monitor.RecordPollError)

	monitor.SetPolling(true)
	logger.Info("moderation bot ready", "owner_id", cfg.OwnerID, "health_port", cfg.HealthPort)

	err = poller.Run(ctx, dispatcher.Enqueue)
	monitor.SetPolling(false)
	logger.Info("shutting down", "dropped_updates", dispatcher.Dropped())
	return err
}

// newTracker builds the flood window tracker for the configured backend. The
// returned func releases it.
func newTracker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratewindow.Tracker, func(), error) {
	if cfg.RateWindowBackend != config.RateWindowRedis {
		tracker, err := ratewindow.NewMemoryTracker(cfg.FloodWindow, cfg.RateWindowMaxKeys)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create rate window: %w", err)
		}
		return tracker, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	tracker := ratewindow.NewRedisTracker(rdb, cfg.FloodWindow, "modbot:flood:", logger.With("component", "ratewindow"))
	return tracker, func() { rdb.Close() }, nil
}
