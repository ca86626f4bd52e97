package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/gps"
	"github.com/starfail/geotrack/pkg/health"
	"github.com/starfail/geotrack/pkg/logx"
	"github.com/starfail/geotrack/pkg/metrics"
	"github.com/starfail/geotrack/pkg/mqtt"
	"github.com/starfail/geotrack/pkg/report"
	"github.com/starfail/geotrack/pkg/retry"
	"github.com/starfail/geotrack/pkg/starlink"
	"github.com/starfail/geotrack/pkg/telem"
	"github.com/starfail/geotrack/pkg/tracker"
	"github.com/starfail/geotrack/pkg/uci"
)

const (
	version = "1.0.0-dev"
	appName = "geotrackd"
)

func main() {
	var (
		configFile  = flag.String("config", uci.DefaultPath, "UCI or YAML config file path")
		logLevel    = flag.String("log-level", "", "Log level (debug|info|warn|error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	config, err := uci.LoadConfig(*configFile)
	if err != nil {
		logx.New("error").Error("Failed to load config", "error", err, "config_file", *configFile)
		os.Exit(1)
	}

	effectiveLogLevel := config.Main.LogLevel
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	if *verbose {
		effectiveLogLevel = "debug"
	}

	logger := logx.New(effectiveLogLevel)
	if config.Main.Syslog {
		if err := logger.EnableSyslog(appName); err != nil {
			logger.Warn("syslog unavailable", "error", err)
		}
	}

	logger.Info("starting geotrack daemon",
		"version", version,
		"config", *configFile,
		"log_level", effectiveLogLevel,
		"sources", len(config.EnabledSources()),
		"report_sink", config.Report.Sink,
	)

	if !config.Main.Enable {
		logger.Info("geotrack disabled in configuration, exiting")
		return
	}

	if err := run(config, *configFile, logger); err != nil {
		logger.Error("geotrack daemon failed", "error", err)
		os.Exit(1)
	}
}

func run(config *uci.Config, configFile string, logger *logx.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, closers, err := buildSource(config, logger.With("gps"))
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	store := telem.NewStore(config.TelemetryStoreConfig())
	metricsServer := metrics.NewServer(store, version, logger.With("metrics"))
	hub := health.NewHub(func() []pkg.StatusEvent { return store.GetEvents(20) }, logger.With("stream"))

	mqttClient := mqtt.NewClient(config.MQTTClientConfig(), logger.With("mqtt"))
	if err := mqttClient.Connect(); err != nil {
		logger.Warn("MQTT unavailable, continuing without it", "error", err)
	}
	defer mqttClient.Disconnect()

	trackerConfig := config.TrackerConfig()
	var sink tracker.ReportSink
	switch config.Report.Sink {
	case "mqtt":
		if !config.MQTT.Enabled {
			return errors.New("report sink mqtt requires mqtt.enabled")
		}
		sink = mqttClient
	default:
		sink = report.NewHTTPSink(config.Report.URL, trackerConfig.ReportTimeout)
	}

	opts := []tracker.Option{
		tracker.WithRecorder(metricsServer),
		tracker.WithStatusSink(store),
		tracker.WithStatusSink(hub),
		tracker.WithStatusSink(metricsServer),
		tracker.WithStatusSink(tracker.StatusSinkFunc(func(ev pkg.StatusEvent) {
			logger.Debug("status", "kind", ev.Kind, "level", ev.Level, "message", ev.Message)
		})),
	}
	if config.MQTT.Enabled {
		opts = append(opts, tracker.WithStatusSink(mqttClient))
	}

	session := tracker.NewSession(source, sink, trackerConfig, logger.With("tracker"), opts...)

	if config.Main.MetricsListener {
		if err := metricsServer.Start(config.Main.MetricsPort); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer metricsServer.Stop()
	}

	if config.Main.HealthListener {
		healthServer := health.NewServer(ctx, session, store, hub, version, logger.With("health"))
		if err := healthServer.Start(config.Main.HealthPort); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer healthServer.Stop()
	}

	if config.Main.Autostart {
		if err := session.Start(ctx); err != nil {
			return fmt.Errorf("failed to start tracking: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	logger.Info("Geotrack daemon started successfully")

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reloadTelemetry(configFile, store, logger)
				continue
			}
			logger.Info("Received signal, shutting down", "signal", sig)
			session.Stop()
			return nil
		case <-ticker.C:
			store.Cleanup()
			snap := session.Snapshot()
			logger.LogVerbose("heartbeat", map[string]interface{}{
				"state":       snap.State.String(),
				"environment": snap.Environment.String(),
				"subscribed":  snap.Subscribed,
			})
		}
	}
}

// reloadTelemetry re-reads the config and applies the telemetry RAM cap.
// Everything else needs a restart.
func reloadTelemetry(configFile string, store *telem.Store, logger *logx.Logger) {
	config, err := uci.LoadConfig(configFile)
	if err != nil {
		logger.Warn("Config reload failed, keeping current settings", "error", err)
		return
	}
	if err := store.SetMaxRAMMB(config.Telemetry.MaxRAMMB); err != nil {
		logger.Warn("Telemetry RAM cap rejected", "error", err)
		return
	}
	logger.Info("Config reloaded", "max_ram_mb", config.Telemetry.MaxRAMMB)
}

// buildSource wraps the enabled sources in priority order
func buildSource(config *uci.Config, logger *logx.Logger) (gps.PositionSource, []io.Closer, error) {
	var (
		named   []gps.NamedSource
		closers []io.Closer
	)

	for _, sc := range config.EnabledSources() {
		interval := time.Duration(sc.PollIntervalMS) * time.Millisecond
		if interval <= 0 {
			interval = time.Second
		}

		switch sc.Kind {
		case uci.SourceNMEA:
			src := gps.NewNMEASource(gps.NMEAConfig{Device: sc.Device, BaudRate: uint(sc.BaudRate)}, logger)
			closers = append(closers, src)
			named = append(named, gps.NamedSource{Name: sc.Kind, Source: src})
		case uci.SourceUbus:
			named = append(named, gps.NamedSource{Name: sc.Kind, Source: gps.NewUbusSource(retry.DefaultConfig(), interval)})
		case uci.SourceStarlink:
			endpoint := sc.Endpoint
			if endpoint == "" {
				endpoint = starlink.DefaultEndpoint
			}
			timeout := time.Duration(sc.TimeoutMS) * time.Millisecond
			if timeout <= 0 {
				timeout = 5 * time.Second
			}
			client := starlink.NewClient(endpoint, timeout)
			named = append(named, gps.NamedSource{Name: sc.Kind, Source: gps.NewStarlinkSource(client, interval)})
		}
	}

	if len(named) == 0 {
		return nil, nil, errors.New("no position source enabled")
	}
	return gps.NewFallbackSource(logger, named...), closers, nil
}
