package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/starfail/geotrack/pkg/ingest"
	"github.com/starfail/geotrack/pkg/logx"
	"github.com/starfail/geotrack/pkg/mqtt"
	"github.com/starfail/geotrack/pkg/uci"
)

const (
	version = "1.0.0-dev"
	appName = "geotrack-ingest"
)

func main() {
	var (
		configFile  = flag.String("config", uci.DefaultPath, "UCI or YAML config file path")
		listen      = flag.String("listen", ":8080", "HTTP listen address")
		logLevel    = flag.String("log-level", "info", "Log level (debug|info|warn|error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	logger := logx.New(*logLevel).With("ingest")

	config, err := uci.LoadConfig(*configFile)
	if err != nil {
		logger.Error("Failed to load config", "error", err, "config_file", *configFile)
		os.Exit(1)
	}

	var publisher ingest.Publisher
	if config.MQTT.Enabled {
		client := mqtt.NewClient(config.MQTTClientConfig(), logger.With("mqtt"))
		if err := client.Connect(); err != nil {
			logger.Warn("MQTT unavailable, relay disabled", "error", err)
		} else {
			defer client.Disconnect()
			publisher = client
		}
	}

	collector := ingest.NewCollector(config.Bounds(), config.TrackerConfig().Classifier(), publisher, logger)

	server := &http.Server{
		Addr:              *listen,
		Handler:           collector.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("collector listening", "addr", *listen, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("collector server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received signal, shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("collector shutdown", "error", err)
	}
}
