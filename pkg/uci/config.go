// Package uci loads geotrackd configuration from a UCI file, the uci CLI or YAML
package uci

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/mqtt"
	"github.com/starfail/geotrack/pkg/telem"
	"github.com/starfail/geotrack/pkg/tracker"
)

// DefaultPath is the UCI config file read when no -config flag is given
const DefaultPath = "/etc/config/geotrack"

// Source kinds
const (
	SourceNMEA     = "nmea"
	SourceUbus     = "ubus"
	SourceStarlink = "starlink"
)

// Config represents the geotrack configuration
type Config struct {
	Main      MainConfig      `yaml:"main"`
	Geofence  GeofenceConfig  `yaml:"geofence"`
	Indoor    ProfileConfig   `yaml:"indoor"`
	Outdoor   ProfileConfig   `yaml:"outdoor"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Report    ReportConfig    `yaml:"report"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Sources   []SourceConfig  `yaml:"sources" validate:"dive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	sourcesFromConfig bool
}

// MainConfig holds daemon-level options
type MainConfig struct {
	Enable          bool   `yaml:"enable"`
	Autostart       bool   `yaml:"autostart"`
	LogLevel        string `yaml:"log_level" validate:"oneof=debug info warn error"`
	Syslog          bool   `yaml:"syslog"`
	HealthListener  bool   `yaml:"health_listener"`
	HealthPort      int    `yaml:"health_port" validate:"min=1,max=65535"`
	MetricsListener bool   `yaml:"metrics_listener"`
	MetricsPort     int    `yaml:"metrics_port" validate:"min=1,max=65535"`
}

// GeofenceConfig is the operational rectangle
type GeofenceConfig struct {
	MinLat float64 `yaml:"min_lat" validate:"gte=-90,lte=90"`
	MaxLat float64 `yaml:"max_lat" validate:"gte=-90,lte=90,gtfield=MinLat"`
	MinLng float64 `yaml:"min_lng" validate:"gte=-180,lte=180"`
	MaxLng float64 `yaml:"max_lng" validate:"gte=-180,lte=180,gtfield=MinLng"`
}

// ProfileConfig holds one environment's thresholds
type ProfileConfig struct {
	WarningAccuracyM    float64 `yaml:"warning_accuracy_m" validate:"gt=0"`
	MaxAccuracyM        float64 `yaml:"max_accuracy_m" validate:"gt=0,gtefield=WarningAccuracyM"`
	MinMovementM        float64 `yaml:"min_movement_m" validate:"gte=0"`
	MinUpdateIntervalMS int     `yaml:"min_update_interval_ms" validate:"gte=0"`
}

// TrackingConfig holds session timings, all in milliseconds
type TrackingConfig struct {
	HysteresisM             float64 `yaml:"hysteresis_m" validate:"gte=0"`
	InitialAccuracyCeilingM float64 `yaml:"initial_accuracy_ceiling_m" validate:"gt=0"`
	ProbeTimeoutMS          int     `yaml:"probe_timeout_ms" validate:"min=100"`
	AcquireTimeoutMS        int     `yaml:"acquire_timeout_ms" validate:"min=100"`
	WatchTimeoutMS          int     `yaml:"watch_timeout_ms" validate:"min=100"`
	MaxAcquireAttempts      int     `yaml:"max_acquire_attempts" validate:"min=1,max=10"`
	AcquireRetryDelayMS     int     `yaml:"acquire_retry_delay_ms" validate:"gte=0"`
	RestartDelayMS          int     `yaml:"restart_delay_ms" validate:"gte=0"`
	ErrorDisplayTTLMS       int     `yaml:"error_display_ttl_ms" validate:"gte=0"`
	ReportTimeoutMS         int     `yaml:"report_timeout_ms" validate:"min=100"`
}

// ReportConfig selects where updates are submitted
type ReportConfig struct {
	Sink string `yaml:"sink" validate:"oneof=http mqtt"`
	URL  string `yaml:"url" validate:"required_if=Sink http,omitempty,url"`
}

// MQTTConfig holds broker settings
type MQTTConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Broker           string `yaml:"broker" validate:"required_if=Enabled true"`
	Port             int    `yaml:"port" validate:"min=1,max=65535"`
	ClientID         string `yaml:"client_id"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	TopicPrefix      string `yaml:"topic_prefix" validate:"required"`
	QoS              int    `yaml:"qos" validate:"min=0,max=2"`
	Retain           bool   `yaml:"retain"`
	PublishTimeoutMS int    `yaml:"publish_timeout_ms" validate:"min=100"`
}

// SourceConfig describes one position source; lower priority is tried first
type SourceConfig struct {
	Kind           string `yaml:"kind" validate:"oneof=nmea ubus starlink"`
	Enabled        bool   `yaml:"enabled"`
	Priority       int    `yaml:"priority"`
	Device         string `yaml:"device" validate:"required_if=Kind nmea"`
	BaudRate       int    `yaml:"baud_rate" validate:"omitempty,min=1200"`
	Endpoint       string `yaml:"endpoint" validate:"omitempty,url"`
	PollIntervalMS int    `yaml:"poll_interval_ms" validate:"omitempty,min=200"`
	TimeoutMS      int    `yaml:"timeout_ms" validate:"omitempty,min=100"`
}

// TelemetryConfig bounds the in-memory status history
type TelemetryConfig struct {
	MaxEvents      int `yaml:"max_events" validate:"min=1"`
	MaxPoints      int `yaml:"max_points" validate:"min=1"`
	RetentionHours int `yaml:"retention_hours" validate:"min=1,max=168"`
	MaxRAMMB       int `yaml:"max_ram_mb" validate:"min=1,max=128"`
}

// Default configuration values
const (
	DefaultLogLevel    = "info"
	DefaultHealthPort  = 9101
	DefaultMetricsPort = 9102
	DefaultCollector   = "http://localhost:8080"
)

// Default returns the compiled-in configuration
func Default() *Config {
	tc := tracker.DefaultConfig()
	mc := mqtt.DefaultConfig()
	return &Config{
		Main: MainConfig{
			Enable:          true,
			Autostart:       true,
			LogLevel:        DefaultLogLevel,
			HealthListener:  true,
			HealthPort:      DefaultHealthPort,
			MetricsListener: false,
			MetricsPort:     DefaultMetricsPort,
		},
		Geofence: GeofenceConfig{
			MinLat: tc.Bounds.MinLat,
			MaxLat: tc.Bounds.MaxLat,
			MinLng: tc.Bounds.MinLng,
			MaxLng: tc.Bounds.MaxLng,
		},
		Indoor:  profileConfig(tc.Indoor),
		Outdoor: profileConfig(tc.Outdoor),
		Tracking: TrackingConfig{
			HysteresisM:             tc.HysteresisM,
			InitialAccuracyCeilingM: tc.InitialAccuracyCeilingM,
			ProbeTimeoutMS:          ms(tc.ProbeTimeout),
			AcquireTimeoutMS:        ms(tc.AcquireTimeout),
			WatchTimeoutMS:          ms(tc.WatchTimeout),
			MaxAcquireAttempts:      tc.MaxAcquireAttempts,
			AcquireRetryDelayMS:     ms(tc.AcquireRetryDelay),
			RestartDelayMS:          ms(tc.RestartDelay),
			ErrorDisplayTTLMS:       ms(tc.ErrorDisplayTTL),
			ReportTimeoutMS:         ms(tc.ReportTimeout),
		},
		Report: ReportConfig{
			Sink: "http",
			URL:  DefaultCollector,
		},
		MQTT: MQTTConfig{
			Enabled:          mc.Enabled,
			Broker:           mc.Broker,
			Port:             mc.Port,
			ClientID:         mc.ClientID,
			TopicPrefix:      mc.TopicPrefix,
			QoS:              mc.QoS,
			Retain:           mc.Retain,
			PublishTimeoutMS: ms(mc.PublishTimeout),
		},
		Sources: []SourceConfig{
			{Kind: SourceUbus, Enabled: true, Priority: 1, PollIntervalMS: 1000},
		},
		Telemetry: TelemetryConfig{
			MaxEvents:      200,
			MaxPoints:      1000,
			RetentionHours: 24,
			MaxRAMMB:       4,
		},
	}
}

func profileConfig(p pkg.ThresholdProfile) ProfileConfig {
	return ProfileConfig{
		WarningAccuracyM:    p.WarningAccuracyM,
		MaxAccuracyM:        p.MaxAccuracyM,
		MinMovementM:        p.MinMovementM,
		MinUpdateIntervalMS: ms(p.MinUpdateInterval),
	}
}

func ms(d time.Duration) int { return int(d / time.Millisecond) }

func msDuration(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// LoadConfig loads and validates configuration. YAML is used for .yml/.yaml
// paths; otherwise the file is parsed as UCI. A missing file falls back to
// `uci show <name>` and then to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := cfg.loadFromCLI(filepath.Base(path)); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	case isYAML(path):
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := cfg.parseUCI(string(data)); err != nil {
			return nil, fmt.Errorf("failed to parse UCI config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}

// Validate checks field ranges
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// parseUCI parses the UCI file format:
//
//	config <type> '<name>'
//	    option <key> '<value>'
func (c *Config) parseUCI(data string) error {
	var sectionType, sectionName string
	for n, raw := range strings.Split(data, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		keyword, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		switch keyword {
		case "config":
			typ, name, _ := strings.Cut(rest, " ")
			sectionType = typ
			sectionName = unquote(strings.TrimSpace(name))
			if sectionType == "source" {
				c.beginSource(sectionName)
			}
		case "option", "list":
			key, value, ok := strings.Cut(rest, " ")
			if !ok {
				return fmt.Errorf("line %d: option %q has no value", n+1, rest)
			}
			if err := c.apply(sectionType, sectionName, key, unquote(strings.TrimSpace(value))); err != nil {
				return fmt.Errorf("line %d: %w", n+1, err)
			}
		default:
			return fmt.Errorf("line %d: unexpected %q", n+1, keyword)
		}
	}
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// beginSource starts a new source section. Named sections take their kind
// from the name; anonymous ones need option kind.
func (c *Config) beginSource(name string) {
	if !c.sourcesFromConfig {
		c.Sources = nil
		c.sourcesFromConfig = true
	}
	src := SourceConfig{Enabled: true, Priority: len(c.Sources) + 1}
	switch name {
	case SourceNMEA, SourceUbus, SourceStarlink:
		src.Kind = name
	}
	c.Sources = append(c.Sources, src)
}

// apply sets one option from a UCI section
func (c *Config) apply(sectionType, sectionName, key, value string) error {
	switch sectionType {
	case "geotrack":
		return c.applyMain(key, value)
	case "geofence":
		return c.applyGeofence(key, value)
	case "profile":
		switch sectionName {
		case "indoor":
			return applyProfile(&c.Indoor, key, value)
		case "outdoor":
			return applyProfile(&c.Outdoor, key, value)
		}
		return fmt.Errorf("unknown profile %q", sectionName)
	case "tracking":
		return c.applyTracking(key, value)
	case "report":
		return c.applyReport(key, value)
	case "mqtt":
		return c.applyMQTT(key, value)
	case "source":
		if len(c.Sources) == 0 {
			return fmt.Errorf("option %s outside a source section", key)
		}
		return applySource(&c.Sources[len(c.Sources)-1], key, value)
	case "telemetry":
		return c.applyTelemetry(key, value)
	}
	return fmt.Errorf("unknown section type %q", sectionType)
}

func parseBool(key, value string) (bool, error) {
	switch value {
	case "1", "true", "yes", "on", "enabled":
		return true, nil
	case "0", "false", "no", "off", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("%s: invalid boolean %q", key, value)
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, value)
	}
	return v, nil
}

func (c *Config) applyMain(key, value string) (err error) {
	m := &c.Main
	switch key {
	case "enable":
		m.Enable, err = parseBool(key, value)
	case "autostart":
		m.Autostart, err = parseBool(key, value)
	case "log_level":
		m.LogLevel = value
	case "syslog":
		m.Syslog, err = parseBool(key, value)
	case "health_listener":
		m.HealthListener, err = parseBool(key, value)
	case "health_port":
		m.HealthPort, err = parseInt(key, value)
	case "metrics_listener":
		m.MetricsListener, err = parseBool(key, value)
	case "metrics_port":
		m.MetricsPort, err = parseInt(key, value)
	}
	return err
}

func (c *Config) applyGeofence(key, value string) (err error) {
	g := &c.Geofence
	switch key {
	case "min_lat":
		g.MinLat, err = parseFloat(key, value)
	case "max_lat":
		g.MaxLat, err = parseFloat(key, value)
	case "min_lng":
		g.MinLng, err = parseFloat(key, value)
	case "max_lng":
		g.MaxLng, err = parseFloat(key, value)
	}
	return err
}

func applyProfile(p *ProfileConfig, key, value string) (err error) {
	switch key {
	case "warning_accuracy_m":
		p.WarningAccuracyM, err = parseFloat(key, value)
	case "max_accuracy_m":
		p.MaxAccuracyM, err = parseFloat(key, value)
	case "min_movement_m":
		p.MinMovementM, err = parseFloat(key, value)
	case "min_update_interval_ms":
		p.MinUpdateIntervalMS, err = parseInt(key, value)
	}
	return err
}

func (c *Config) applyTracking(key, value string) (err error) {
	t := &c.Tracking
	switch key {
	case "hysteresis_m":
		t.HysteresisM, err = parseFloat(key, value)
	case "initial_accuracy_ceiling_m":
		t.InitialAccuracyCeilingM, err = parseFloat(key, value)
	case "probe_timeout_ms":
		t.ProbeTimeoutMS, err = parseInt(key, value)
	case "acquire_timeout_ms":
		t.AcquireTimeoutMS, err = parseInt(key, value)
	case "watch_timeout_ms":
		t.WatchTimeoutMS, err = parseInt(key, value)
	case "max_acquire_attempts":
		t.MaxAcquireAttempts, err = parseInt(key, value)
	case "acquire_retry_delay_ms":
		t.AcquireRetryDelayMS, err = parseInt(key, value)
	case "restart_delay_ms":
		t.RestartDelayMS, err = parseInt(key, value)
	case "error_display_ttl_ms":
		t.ErrorDisplayTTLMS, err = parseInt(key, value)
	case "report_timeout_ms":
		t.ReportTimeoutMS, err = parseInt(key, value)
	}
	return err
}

func (c *Config) applyReport(key, value string) error {
	switch key {
	case "sink":
		c.Report.Sink = value
	case "url":
		c.Report.URL = value
	}
	return nil
}

func (c *Config) applyMQTT(key, value string) (err error) {
	m := &c.MQTT
	switch key {
	case "enabled":
		m.Enabled, err = parseBool(key, value)
	case "broker":
		m.Broker = value
	case "port":
		m.Port, err = parseInt(key, value)
	case "client_id":
		m.ClientID = value
	case "username":
		m.Username = value
	case "password":
		m.Password = value
	case "topic_prefix":
		m.TopicPrefix = value
	case "qos":
		m.QoS, err = parseInt(key, value)
	case "retain":
		m.Retain, err = parseBool(key, value)
	case "publish_timeout_ms":
		m.PublishTimeoutMS, err = parseInt(key, value)
	}
	return err
}

func applySource(s *SourceConfig, key, value string) (err error) {
	switch key {
	case "kind":
		s.Kind = value
	case "enabled":
		s.Enabled, err = parseBool(key, value)
	case "priority":
		s.Priority, err = parseInt(key, value)
	case "device":
		s.Device = value
	case "baud_rate":
		s.BaudRate, err = parseInt(key, value)
	case "endpoint":
		s.Endpoint = value
	case "poll_interval_ms":
		s.PollIntervalMS, err = parseInt(key, value)
	case "timeout_ms":
		s.TimeoutMS, err = parseInt(key, value)
	}
	return err
}

func (c *Config) applyTelemetry(key, value string) (err error) {
	t := &c.Telemetry
	switch key {
	case "max_events":
		t.MaxEvents, err = parseInt(key, value)
	case "max_points":
		t.MaxPoints, err = parseInt(key, value)
	case "retention_hours":
		t.RetentionHours, err = parseInt(key, value)
	case "max_ram_mb":
		t.MaxRAMMB, err = parseInt(key, value)
	}
	return err
}

// Bounds returns the geofence as a domain value
func (c *Config) Bounds() pkg.GeofenceBounds {
	return pkg.GeofenceBounds{
		MinLat: c.Geofence.MinLat,
		MaxLat: c.Geofence.MaxLat,
		MinLng: c.Geofence.MinLng,
		MaxLng: c.Geofence.MaxLng,
	}
}

// Profiles returns the indoor and outdoor threshold profiles
func (c *Config) Profiles() (indoor, outdoor pkg.ThresholdProfile) {
	return c.Indoor.profile("indoor"), c.Outdoor.profile("outdoor")
}

func (p ProfileConfig) profile(name string) pkg.ThresholdProfile {
	return pkg.ThresholdProfile{
		Name:              name,
		WarningAccuracyM:  p.WarningAccuracyM,
		MaxAccuracyM:      p.MaxAccuracyM,
		MinMovementM:      p.MinMovementM,
		MinUpdateInterval: msDuration(p.MinUpdateIntervalMS),
	}
}

// TrackerConfig builds the session configuration
func (c *Config) TrackerConfig() tracker.Config {
	indoor, outdoor := c.Profiles()
	t := c.Tracking
	return tracker.Config{
		Bounds:                  c.Bounds(),
		Indoor:                  indoor,
		Outdoor:                 outdoor,
		HysteresisM:             t.HysteresisM,
		InitialAccuracyCeilingM: t.InitialAccuracyCeilingM,
		ProbeTimeout:            msDuration(t.ProbeTimeoutMS),
		AcquireTimeout:          msDuration(t.AcquireTimeoutMS),
		WatchTimeout:            msDuration(t.WatchTimeoutMS),
		MaxAcquireAttempts:      t.MaxAcquireAttempts,
		AcquireRetryDelay:       msDuration(t.AcquireRetryDelayMS),
		RestartDelay:            msDuration(t.RestartDelayMS),
		ErrorDisplayTTL:         msDuration(t.ErrorDisplayTTLMS),
		ReportTimeout:           msDuration(t.ReportTimeoutMS),
	}
}

// MQTTClientConfig builds the MQTT client configuration
func (c *Config) MQTTClientConfig() *mqtt.Config {
	m := c.MQTT
	return &mqtt.Config{
		Broker:         m.Broker,
		Port:           m.Port,
		ClientID:       m.ClientID,
		Username:       m.Username,
		Password:       m.Password,
		TopicPrefix:    m.TopicPrefix,
		QoS:            m.QoS,
		Retain:         m.Retain,
		Enabled:        m.Enabled,
		PublishTimeout: msDuration(m.PublishTimeoutMS),
	}
}

// TelemetryStoreConfig builds the telemetry store configuration
func (c *Config) TelemetryStoreConfig() telem.Config {
	return telem.Config{
		MaxPoints:      c.Telemetry.MaxPoints,
		MaxEvents:      c.Telemetry.MaxEvents,
		RetentionHours: c.Telemetry.RetentionHours,
		MaxRAMMB:       c.Telemetry.MaxRAMMB,
	}
}

// EnabledSources returns enabled sources ordered by priority
func (c *Config) EnabledSources() []SourceConfig {
	var out []SourceConfig
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
