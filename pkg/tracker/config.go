package tracker

import (
	"time"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/gps"
)

// Config holds the session's tolerances and timings
type Config struct {
	Bounds                  pkg.GeofenceBounds
	Indoor                  pkg.ThresholdProfile
	Outdoor                 pkg.ThresholdProfile
	HysteresisM             float64
	InitialAccuracyCeilingM float64

	ProbeTimeout       time.Duration
	AcquireTimeout     time.Duration
	WatchTimeout       time.Duration
	MaxAcquireAttempts int
	AcquireRetryDelay  time.Duration
	RestartDelay       time.Duration
	ErrorDisplayTTL    time.Duration
	ReportTimeout      time.Duration
}

// DefaultConfig returns the compiled-in tracking policy
func DefaultConfig() Config {
	return Config{
		Bounds:                  pkg.DefaultBounds,
		Indoor:                  pkg.IndoorProfile,
		Outdoor:                 pkg.OutdoorProfile,
		HysteresisM:             gps.DefaultHysteresisM,
		InitialAccuracyCeilingM: pkg.InitialAccuracyCeilingM,
		ProbeTimeout:            5000 * time.Millisecond,
		AcquireTimeout:          10000 * time.Millisecond,
		WatchTimeout:            5000 * time.Millisecond,
		MaxAcquireAttempts:      3,
		AcquireRetryDelay:       2000 * time.Millisecond,
		RestartDelay:            5000 * time.Millisecond,
		ErrorDisplayTTL:         5000 * time.Millisecond,
		ReportTimeout:           10 * time.Second,
	}
}

// Classifier builds the environment classifier for this config
func (c Config) Classifier() *gps.Classifier {
	return &gps.Classifier{
		Indoor:      c.Indoor,
		Outdoor:     c.Outdoor,
		HysteresisM: c.HysteresisM,
	}
}

func (c Config) probeOptions() gps.Options {
	return gps.Options{HighAccuracy: true, Timeout: c.ProbeTimeout}
}

func (c Config) acquireOptions() gps.Options {
	return gps.Options{HighAccuracy: true, Timeout: c.AcquireTimeout}
}

func (c Config) watchOptions() gps.Options {
	return gps.Options{HighAccuracy: true, Timeout: c.WatchTimeout}
}
