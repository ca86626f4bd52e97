package uci

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/tracker"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWhenUCINotPresent(t *testing.T) {
	t.Setenv("PATH", "")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "geotrack"))
	require.NoError(t, err)

	assert.True(t, cfg.Main.Enable)
	assert.Equal(t, "info", cfg.Main.LogLevel)
	assert.Equal(t, pkg.DefaultBounds, cfg.Bounds())
	assert.Equal(t, tracker.DefaultConfig(), cfg.TrackerConfig())

	indoor, outdoor := cfg.Profiles()
	assert.Equal(t, pkg.IndoorProfile, indoor)
	assert.Equal(t, pkg.OutdoorProfile, outdoor)
}

func TestLoadUCIFile(t *testing.T) {
	path := writeFile(t, "geotrack", `
# geotrack daemon
config geotrack 'main'
	option log_level 'debug'
	option metrics_listener '1'

config geofence 'bounds'
	option min_lat '3.0'
	option max_lat '3.1'

config profile 'outdoor'
	option max_accuracy_m '40'
	option min_update_interval_ms '4000'

config tracking 'timing'
	option restart_delay_ms '7000'

config report 'http'
	option url 'https://collector.example.com'

config source 'nmea'
	option device '/dev/ttyUSB1'
	option baud_rate '9600'
	option priority '2'

config source 'ubus'
	option priority '1'

config source
	option kind 'starlink'
	option enabled '0'
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Main.LogLevel)
	assert.True(t, cfg.Main.MetricsListener)
	assert.Equal(t, 3.0, cfg.Geofence.MinLat)
	assert.Equal(t, 3.1, cfg.Geofence.MaxLat)
	assert.Equal(t, 101.4, cfg.Geofence.MinLng)
	assert.Equal(t, "https://collector.example.com", cfg.Report.URL)

	_, outdoor := cfg.Profiles()
	assert.Equal(t, 40.0, outdoor.MaxAccuracyM)
	assert.Equal(t, 4*time.Second, outdoor.MinUpdateInterval)
	assert.Equal(t, 7*time.Second, cfg.TrackerConfig().RestartDelay)

	require.Len(t, cfg.Sources, 3)
	assert.Equal(t, SourceStarlink, cfg.Sources[2].Kind)

	enabled := cfg.EnabledSources()
	require.Len(t, enabled, 2)
	assert.Equal(t, SourceUbus, enabled[0].Kind)
	assert.Equal(t, SourceNMEA, enabled[1].Kind)
	assert.Equal(t, "/dev/ttyUSB1", enabled[1].Device)
	assert.Equal(t, 9600, enabled[1].BaudRate)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "geotrack.yaml", `
main:
  log_level: warn
  enable: true
  health_port: 9200
  metrics_port: 9201
report:
  sink: mqtt
mqtt:
  enabled: true
  broker: broker.local
  port: 1883
  topic_prefix: fleet/van7
  publish_timeout_ms: 2000
sources:
  - kind: starlink
    enabled: true
    endpoint: http://192.168.100.1:9201
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Main.LogLevel)
	assert.Equal(t, 9200, cfg.Main.HealthPort)
	assert.Equal(t, "mqtt", cfg.Report.Sink)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, SourceStarlink, cfg.Sources[0].Kind)

	mc := cfg.MQTTClientConfig()
	assert.Equal(t, "broker.local", mc.Broker)
	assert.Equal(t, "fleet/van7", mc.TopicPrefix)
	assert.Equal(t, 2*time.Second, mc.PublishTimeout)
	assert.Equal(t, pkg.OutdoorProfile.MaxAccuracyM, cfg.Outdoor.MaxAccuracyM)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"inverted latitude", func(c *Config) { c.Geofence.MaxLat = c.Geofence.MinLat - 1 }},
		{"latitude range", func(c *Config) { c.Geofence.MinLat = -91 }},
		{"max below warning", func(c *Config) { c.Indoor.MaxAccuracyM = 10 }},
		{"bad log level", func(c *Config) { c.Main.LogLevel = "trace" }},
		{"zero attempts", func(c *Config) { c.Tracking.MaxAcquireAttempts = 0 }},
		{"unknown sink", func(c *Config) { c.Report.Sink = "kafka" }},
		{"http sink without url", func(c *Config) { c.Report.URL = "" }},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "" }},
		{"nmea without device", func(c *Config) { c.Sources = []SourceConfig{{Kind: SourceNMEA, Enabled: true}} }},
		{"unknown source", func(c *Config) { c.Sources = []SourceConfig{{Kind: "gpsd"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"bad number":      "config geofence 'bounds'\n\toption min_lat 'north'\n",
		"bad bool":        "config geotrack 'main'\n\toption syslog 'maybe'\n",
		"missing value":   "config geotrack 'main'\n\toption syslog\n",
		"unknown section": "config gpsd 'main'\n\toption device '/dev/gps0'\n",
		"unknown profile": "config profile 'underground'\n\toption max_accuracy_m '10'\n",
		"stray keyword":   "section main\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "geotrack", content))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromUCICommand(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "uci")
	content := `#!/bin/sh
if [ "$1" = show ] && [ "$2" = geotrack ]; then
  echo "geotrack.main=geotrack"
  echo "geotrack.main.log_level='error'"
  echo "geotrack.indoor=profile"
  echo "geotrack.indoor.min_movement_m='2'"
  echo "geotrack.@source[0]=source"
  echo "geotrack.@source[0].kind='nmea'"
  echo "geotrack.@source[0].device='/dev/ttyACM0'"
fi
`
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+"/bin:/usr/bin")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "geotrack"))
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Main.LogLevel)
	assert.Equal(t, 2.0, cfg.Indoor.MinMovementM)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, SourceNMEA, cfg.Sources[0].Kind)
	assert.Equal(t, "/dev/ttyACM0", cfg.Sources[0].Device)
}

func TestApplyShowUndeclaredSection(t *testing.T) {
	cfg := Default()
	err := cfg.applyShow("geotrack", [][2]string{{"geotrack.main.log_level", "debug"}})
	assert.Error(t, err)
}
