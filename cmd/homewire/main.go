package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homewire/internal/capture"
	"homewire/internal/hub"
	"homewire/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const usage = `usage:
  homewire [config.yaml]               run the daemon
  homewire decode <protocol> <hex>     decode one frame
  homewire replay [-limit n] <db> <protocol> <device>
                                       decode frames from a capture journal`

func main() {
	if len(os.Args) > 1 {
		var err error
		handled := true
		switch os.Args[1] {
		case "decode":
			err = runDecode(os.Args[2:], os.Stdout)
		case "replay":
			err = runReplay(os.Args[2:], os.Stdout)
		case "-h", "--help", "help":
			fmt.Println(usage)
		default:
			handled = false
		}
		if handled {
			if err != nil {
				fmt.Fprintln(os.Stderr, "homewire:", err)
				os.Exit(1)
			}
			return
		}
	}
	os.Exit(runDaemon())
}

func runDaemon() int {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		return 1
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		return 1
	}
	hubCfg, err := cfg.hubConfig()
	if err != nil {
		bootLogger.Error("invalid config", "err", err)
		return 1
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("homewire starting", "version", version, "devices", len(cfg.Devices))

	events := hub.NewEventBus(logger)
	h := hub.New(hubCfg, events, logger)

	var webOpts []web.ServerOption
	var recorder *capture.Recorder
	if cfg.Capture.Enabled {
		journal, err := capture.OpenBolt(cfg.Capture.Path, cfg.Capture.Retention)
		if err != nil {
			logger.Error("open capture journal", "err", err)
			return 1
		}
		defer journal.Close()
		recorder = capture.NewRecorder(journal, cfg.deviceNames(), logger)
		h.OnFrame(recorder.Tap)
		webOpts = append(webOpts, web.WithCapture(journal))
		logger.Info("capture enabled", "path", cfg.Capture.Path, "retention", cfg.Capture.Retention)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := h.Start(ctx); err != nil {
		logger.Error("start hub", "err", err)
		cancel()
		if recorder != nil {
			recorder.Close()
		}
		return 1
	}
	cancel()

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(h, cfg, logger)

	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(h, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(h, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	h.Stop()
	if recorder != nil {
		recorder.Close()
		if n := recorder.Dropped(); n > 0 {
			logger.Warn("capture dropped frames", "count", n)
		}
	}

	logger.Info("goodbye")
	return 0
}
