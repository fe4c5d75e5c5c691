package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/orrn/catspool/internal/api"
	"github.com/orrn/catspool/internal/archive"
	"github.com/orrn/catspool/internal/config"
	"github.com/orrn/catspool/internal/core"
	"github.com/orrn/catspool/internal/db"
	"github.com/orrn/catspool/internal/history"
	"github.com/orrn/catspool/internal/hotfolder"
	"github.com/orrn/catspool/internal/link"
	"github.com/orrn/catspool/internal/logging"
	"github.com/orrn/catspool/internal/metrics"
	"github.com/orrn/catspool/internal/mqttbridge"
	"github.com/orrn/catspool/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "catspoold:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	configPath := flag.StringP("config", "c", "catspool.yaml", "path to the YAML config file")
	device := flag.StringP("device", "d", "", "printer address or advertised name to connect to (empty: first printer found)")
	port := flag.IntP("port", "p", 0, "HTTP listen port")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	dither := flag.String("dither", "", "dithering algorithm: atkinson, floyd-steinberg")
	transport := flag.String("transport", "", "bluetooth transport: bluez, hci")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if flag.CommandLine.Changed("device") {
		cfg.Printer.DeviceID = *device
	}
	if flag.CommandLine.Changed("port") {
		cfg.Server.Port = *port
	}
	if flag.CommandLine.Changed("log-level") {
		cfg.Logging.Level = *logLevel
	}
	if flag.CommandLine.Changed("dither") {
		cfg.Printer.Dither = *dither
	}
	if flag.CommandLine.Changed("transport") {
		cfg.Printer.Transport = *transport
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if n, err := db.Jobs.AbortUnfinished(ctx, "daemon restarted"); err != nil {
		logger.Warn("failed to close out unfinished jobs", zap.Error(err))
	} else if n > 0 {
		logger.Info("closed out unfinished jobs from previous run", zap.Int64("count", n))
	}

	transport, err := link.New(cfg.Printer, logger)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	recorder := history.NewRecorder(logger, 0)
	recorder.Start()
	defer recorder.Stop()

	opts := []core.Option{
		core.WithObserver(collector),
		core.WithObserver(recorder),
	}

	var sender *webhook.WebhookSender
	if len(cfg.Webhooks.Endpoints) > 0 {
		sender = webhook.NewWebhookSender(cfg.Webhooks, logger)
		sender.Start()
		defer sender.Stop()
		opts = append(opts, core.WithObserver(sender))
	}

	var bridge *mqttbridge.Bridge
	if cfg.MQTT.Enabled {
		bridge = mqttbridge.New(cfg.MQTT, logger)
		opts = append(opts, core.WithObserver(bridge))
	}

	pm, err := core.NewPrinterManager(transport, &cfg.Printer, logger, opts...)
	if err != nil {
		return err
	}

	archiver, err := archive.NewArchiver(archive.ArchiveConfig{
		ArchivePath: cfg.Database.ArchivePath,
		ArchiveDays: cfg.Database.ArchiveDays,
	}, logger)
	if err != nil {
		return err
	}

	router, err := api.NewRouter(api.Deps{
		Config:   cfg,
		Printer:  pm,
		Archiver: archiver,
		Webhooks: sender,
		Gatherer: collector.Registry(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	srv := api.NewServer(cfg.Server, router)

	runErr := make(chan error, 1)
	go func() { runErr <- pm.Run(ctx) }()

	if err := pm.Start(cfg.Printer.DeviceID); err != nil {
		logger.Warn("printer not started", zap.Error(err))
	}

	if bridge != nil {
		bridge.SetSubmitter(pm)
		if err := bridge.Start(); err != nil {
			logger.Warn("mqtt bridge unavailable", zap.Error(err))
		}
		defer bridge.Stop()
	}

	if cfg.HotFolder.Enabled {
		watcher := hotfolder.NewWatcher(cfg.HotFolder.Path, pm, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("hot folder stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Database.ArchiveDays > 0 {
		archiver.Start()
		defer archiver.Stop()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		logger.Error("http server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	select {
	case err := <-runErr:
		return err
	case <-shutdownCtx.Done():
		return errors.New("printer controller did not stop in time")
	}
}
