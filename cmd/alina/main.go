package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alinavoice/alina/pkg/configutil"
	"github.com/alinavoice/alina/pkg/engine"
	"github.com/alinavoice/alina/pkg/logging"
	"github.com/alinavoice/alina/pkg/runner"
	"github.com/alinavoice/alina/pkg/session"
	"github.com/alinavoice/alina/pkg/store"
	twiliotransport "github.com/alinavoice/alina/pkg/transports/twilio"
)

func main() {
	configPath := flag.String("config", "config.yaml", "service configuration file")
	flag.Parse()

	runner.PrintBanner()

	cfg, err := configutil.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, callLog, err := logging.InitServiceLogger(logging.Options{
		Level:   parseLevel(cfg.LogLevel),
		Dir:     cfg.LogDir,
		Console: true,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	defer callLog.Close()

	var recorder session.Recorder
	if cfg.MongoEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		st, err := store.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.LegacyCostURL, logger)
		cancel()
		if err != nil {
			// Calls still run without persistence; teardown logs each
			// failed save.
			logger.Error("mongo_connect_failed", "error", err)
		} else {
			recorder = st
		}
	}

	transport := twiliotransport.New(twiliotransport.Config{
		ServerAddr:         cfg.Twilio.ServerAddr,
		PublicURL:          cfg.Twilio.PublicURL,
		AuthToken:          cfg.Twilio.AuthToken,
		AccountSID:         cfg.Twilio.AccountSID,
		VoicePath:          cfg.Twilio.VoicePath,
		WebsocketPath:      cfg.Twilio.WebsocketPath,
		TTSWebhookPath:     cfg.Twilio.TTSWebhookPath,
		StatusCallbackPath: cfg.Twilio.StatusCallbackPath,
		AllowAnyOrigin:     cfg.Twilio.AllowAnyOrigin,
		AllowedOrigins:     cfg.Twilio.AllowedOrigins,
	})

	eng := engine.NewEngine(engine.Options{
		Config:    cfg,
		Transport: transport,
		Logger:    logger,
		CloseLog:  callLog.CloseCall,
		Store:     recorder,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		logger.Error("engine_start_failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("signal_received", "action", "draining")
	if err := eng.Stop(); err != nil {
		logger.Error("engine_stop_failed", "error", err)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
