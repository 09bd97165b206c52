package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"meshmonitor/internal/app"
	"meshmonitor/internal/automation"
	"meshmonitor/internal/bus"
	"meshmonitor/internal/config"
	"meshmonitor/internal/domain"
	"meshmonitor/internal/httpapi"
	"meshmonitor/internal/logging"
	"meshmonitor/internal/persistence"
	"meshmonitor/internal/poll"
	"meshmonitor/internal/radio"
	"meshmonitor/internal/router"
	"meshmonitor/internal/tracker"
	"meshmonitor/internal/transport"
	"meshmonitor/internal/vns"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run meshmonitord", "error", err)
		os.Exit(1)
	}
}

func run() error {
	host := flag.String("host", "", "radio ip/hostname override")
	serialPort := flag.String("serial", "", "radio serial port override")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(app.Name, app.BuildVersionWithDate())

		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*host) != "" {
		cfg.Radio.Connector = config.ConnectorIP
		cfg.Radio.Host = strings.TrimSpace(*host)
	}
	if strings.TrimSpace(*serialPort) != "" {
		cfg.Radio.Connector = config.ConnectorSerial
		cfg.Radio.SerialPort = strings.TrimSpace(*serialPort)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("main")
	logger.Info("starting meshmonitord", "version", app.BuildVersion(), "build_date", app.BuildDateYMD())

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	dbPath := cfg.Store.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(paths.RootDir, dbPath)
	}
	store, err := persistence.NewStore(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("close store", "error", closeErr)
		}
	}()

	writer := persistence.NewWriterQueue(logMgr.Logger("persistence"), 256)
	writer.Start(ctx)

	cleaner := persistence.NewCleaner(
		logMgr.Logger("cleanup"),
		store,
		time.Duration(cfg.Store.TelemetryRetentionHours)*time.Hour,
		time.Duration(cfg.Store.FavoriteTelemetryRetentionHours)*time.Hour,
	)
	go cleaner.Run(ctx)

	tr, err := buildTransport(cfg.Radio)
	if err != nil {
		return err
	}
	session := radio.NewSession(logMgr.Logger("radio"), b, tr)
	session.Start(ctx)
	defer session.Stop()

	requests := tracker.New(logMgr.Logger("tracker"), b)
	defer requests.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt := router.New(logMgr.Logger("router"), b, store, writer, session, requests, router.NewMetrics(registry))
	go rt.Run(ctx)

	maxNodeAge := time.Duration(cfg.Nodes.MaxNodeAgeHours) * time.Hour
	if cfg.VNS.Enabled {
		vnsSrv := vns.NewServer(logMgr.Logger("vns"), b, cfg.VNS, maxNodeAge, session, store, rt)
		go func() {
			if err := vnsSrv.Run(ctx); err != nil {
				logger.Error("virtual node server stopped", "error", err)
			}
		}()
	}

	engine, err := automation.New(logMgr.Logger("automation"), b, cfg.Automation, store, rt, rt, session.LocalNode, maxNodeAge)
	if err != nil {
		return fmt.Errorf("build automation engine: %w", err)
	}
	go engine.Run(ctx)

	watcher := app.NewNodeWatcher(
		logMgr.Logger("node-watcher"),
		store,
		time.Duration(cfg.Nodes.InactiveNodeThresholdHours)*time.Hour,
		time.Duration(cfg.Nodes.InactiveNodeCheckIntervalMinutes)*time.Minute,
		time.Duration(cfg.Nodes.InactiveNodeCooldownHours)*time.Hour,
	)
	go watcher.Run(ctx)

	if !cfg.Update.VersionCheckDisabled {
		checker := app.NewUpdateChecker(app.UpdateCheckerConfig{
			CurrentVersion: app.BuildVersion(),
			Logger:         logMgr.Logger("update"),
		})
		checker.Start(ctx)
		go consumeUpdateSnapshots(ctx, logger, checker, store, cfg.Update.AutoUpgradeEnabled)
	}

	pollSvc := poll.NewService(logMgr.Logger("poll"), session, store, maxNodeAge)
	api := httpapi.NewServer(logMgr.Logger("http"), cfg.HTTP.ListenAddr, pollSvc, rt, store, registry)
	go func() {
		if err := api.Run(ctx); err != nil {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	logger.Info("meshmonitord running", "connector", string(cfg.Radio.Connector), "http", cfg.HTTP.ListenAddr, "vns_enabled", cfg.VNS.Enabled)
	<-ctx.Done()
	logger.Info("shutting down")

	return nil
}

func buildTransport(cfg config.RadioConfig) (transport.Transport, error) {
	switch cfg.Connector {
	case config.ConnectorIP:
		return transport.NewIPTransport(cfg.Host, cfg.Port), nil
	case config.ConnectorSerial:
		return transport.NewSerialTransport(cfg.SerialPort, cfg.SerialBaud), nil
	default:
		return nil, fmt.Errorf("unknown connector: %s", cfg.Connector)
	}
}

func consumeUpdateSnapshots(ctx context.Context, logger *slog.Logger, checker *app.UpdateChecker, store *persistence.Store, queueUpgrades bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-checker.Snapshots():
			if !ok {
				return
			}
			if !snap.UpdateAvailable {
				continue
			}
			logger.Info("new release available", "current", snap.CurrentVersion, "latest", snap.Latest.Version, "url", snap.Latest.HTMLURL)
			if !queueUpgrades {
				continue
			}
			err := store.Upgrades.Record(ctx, domain.PendingUpgrade{
				Version: snap.Latest.Version,
				URL:     snap.Latest.HTMLURL,
				Notes:   snap.Latest.Body,
			})
			if err != nil {
				logger.Warn("queue pending upgrade", "error", err)
			}
		}
	}
}
