// Package metrics exposes tracking counters in Prometheus format
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/logx"
	"github.com/starfail/geotrack/pkg/telem"
)

// states lists every session state so that exactly one is reported as 1
var states = []string{"stopped", "starting", "acquiring", "tracking", "retrying"}

// Server records session activity and serves /metrics
type Server struct {
	store    *telem.Store
	logger   *logx.Logger
	server   *http.Server
	registry *prometheus.Registry
	started  time.Time
	version  string

	samplesDropped   *prometheus.CounterVec
	reports          *prometheus.CounterVec
	envSwitches      *prometheus.CounterVec
	acquisitionErrs  *prometheus.CounterVec
	restarts         prometheus.Counter
	sessionState     *prometheus.GaugeVec
	statusEvents     *prometheus.CounterVec
	reportedAccuracy prometheus.Histogram
	lastFix          *prometheus.GaugeVec

	telemetryPoints prometheus.Gauge
	telemetryEvents prometheus.Gauge
	telemetryBytes  prometheus.Gauge

	daemonUptime  prometheus.Gauge
	daemonVersion *prometheus.GaugeVec
}

// NewServer creates a metrics server on its own registry
func NewServer(store *telem.Store, version string, logger *logx.Logger) *Server {
	s := &Server{
		store:    store,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
		version:  version,
	}

	s.registerMetrics()
	return s
}

// registerMetrics registers all Prometheus metrics
func (s *Server) registerMetrics() {
	s.samplesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geotrack_samples_dropped_total",
			Help: "Position samples dropped before reporting, by reason",
		},
		[]string{"reason"},
	)

	s.reports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geotrack_reports_total",
			Help: "Location reports submitted to the collector, by result",
		},
		[]string{"result"},
	)

	s.envSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geotrack_environment_switches_total",
			Help: "Indoor/outdoor mode switches, by new environment",
		},
		[]string{"environment"},
	)

	s.acquisitionErrs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geotrack_acquisition_errors_total",
			Help: "Position acquisition errors, by kind",
		},
		[]string{"kind"},
	)

	s.restarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "geotrack_restarts_scheduled_total",
			Help: "Tracking restarts scheduled after stream errors",
		},
	)

	s.sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geotrack_session_state",
			Help: "Current session state (1=current)",
		},
		[]string{"state"},
	)

	s.statusEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geotrack_status_events_total",
			Help: "Status events emitted, by kind and level",
		},
		[]string{"kind", "level"},
	)

	s.reportedAccuracy = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geotrack_reported_accuracy_meters",
			Help:    "Accuracy radius of accepted location updates",
			Buckets: []float64{5, 10, 20, 30, 50, 80, 100},
		},
	)

	s.lastFix = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geotrack_last_fix",
			Help: "Last accepted position (lat, lng, accuracy)",
		},
		[]string{"field"},
	)

	s.telemetryPoints = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geotrack_telemetry_points",
		Help: "Track points held in the telemetry store",
	})
	s.telemetryEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geotrack_telemetry_events",
		Help: "Status events held in the telemetry store",
	})
	s.telemetryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geotrack_telemetry_memory_bytes",
		Help: "Estimated memory usage of the telemetry store",
	})

	s.daemonUptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geotrack_daemon_uptime_seconds",
		Help: "Daemon uptime in seconds",
	})
	s.daemonVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geotrack_daemon_version_info",
			Help: "Daemon version information",
		},
		[]string{"version", "go_version"},
	)

	s.registry.MustRegister(
		s.samplesDropped,
		s.reports,
		s.envSwitches,
		s.acquisitionErrs,
		s.restarts,
		s.sessionState,
		s.statusEvents,
		s.reportedAccuracy,
		s.lastFix,
		s.telemetryPoints,
		s.telemetryEvents,
		s.telemetryBytes,
		s.daemonUptime,
		s.daemonVersion,
	)

	for _, st := range states {
		s.sessionState.WithLabelValues(st).Set(0)
	}
	s.sessionState.WithLabelValues("stopped").Set(1)
}

// Registry exposes the private registry
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the metrics in exposition format, refreshing gauges first
func (s *Server) Handler() http.Handler {
	h := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.UpdateMetrics()
		h.ServeHTTP(w, r)
	})
}

// Start starts the metrics server
func (s *Server) Start(port int) error {
	s.logger.Info("Starting metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info("Stopping metrics server")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// UpdateMetrics refreshes gauges that are sampled rather than counted
func (s *Server) UpdateMetrics() {
	if s.store != nil {
		st := s.store.GetStats()
		s.telemetryPoints.Set(float64(st.TotalPoints))
		s.telemetryEvents.Set(float64(st.TotalEvents))
		s.telemetryBytes.Set(float64(st.EstimatedBytes))
	}

	s.daemonUptime.Set(time.Since(s.started).Seconds())
	s.daemonVersion.WithLabelValues(s.version, runtime.Version()).Set(1)
}

// SampleDropped counts a sample that did not produce a report
func (s *Server) SampleDropped(reason string) {
	s.samplesDropped.WithLabelValues(reason).Inc()
}

// ReportResult counts a collector submission outcome
func (s *Server) ReportResult(result string) {
	s.reports.WithLabelValues(result).Inc()
}

// EnvironmentSwitched counts a mode switch
func (s *Server) EnvironmentSwitched(env string) {
	s.envSwitches.WithLabelValues(env).Inc()
}

// AcquisitionError counts a failed position request
func (s *Server) AcquisitionError(kind string) {
	s.acquisitionErrs.WithLabelValues(kind).Inc()
}

// StateChanged marks state as the current session state
func (s *Server) StateChanged(state string) {
	for _, st := range states {
		v := 0.0
		if st == state {
			v = 1
		}
		s.sessionState.WithLabelValues(st).Set(v)
	}
}

// RestartScheduled counts a scheduled tracking restart
func (s *Server) RestartScheduled() {
	s.restarts.Inc()
}

// HandleStatus counts status events and observes accepted fixes
func (s *Server) HandleStatus(ev pkg.StatusEvent) {
	s.statusEvents.WithLabelValues(string(ev.Kind), string(ev.Level)).Inc()
	if ev.Kind != pkg.KindUpdated || ev.Update == nil {
		return
	}
	s.reportedAccuracy.Observe(ev.Update.Accuracy)
	s.lastFix.WithLabelValues("lat").Set(ev.Update.Lat)
	s.lastFix.WithLabelValues("lng").Set(ev.Update.Lng)
	s.lastFix.WithLabelValues("accuracy").Set(ev.Update.Accuracy)
}
