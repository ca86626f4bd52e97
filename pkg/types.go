package pkg

import (
	"time"
)

// Coordinate is a WGS84 position in decimal degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate lies inside the WGS84 ranges
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// PositionSample is a single raw fix as produced by a position source
type PositionSample struct {
	Coordinate
	AccuracyM  float64   `json:"accuracy_m"`
	SpeedMPS   float64   `json:"speed_mps"`
	CapturedAt time.Time `json:"captured_at"`
	Source     string    `json:"source,omitempty"`
}

// ThresholdProfile holds the tolerances used while tracking in one environment
type ThresholdProfile struct {
	Name              string        `json:"name"`
	WarningAccuracyM  float64       `json:"warning_accuracy_m"`
	MaxAccuracyM      float64       `json:"max_accuracy_m"`
	MinMovementM      float64       `json:"min_movement_m"`
	MinUpdateInterval time.Duration `json:"min_update_interval"`
}

// Canonical profiles
var (
	IndoorProfile = ThresholdProfile{
		Name:              "indoor",
		WarningAccuracyM:  50,
		MaxAccuracyM:      100,
		MinMovementM:      3,
		MinUpdateInterval: 3000 * time.Millisecond,
	}
	OutdoorProfile = ThresholdProfile{
		Name:              "outdoor",
		WarningAccuracyM:  30,
		MaxAccuracyM:      50,
		MinMovementM:      5,
		MinUpdateInterval: 5000 * time.Millisecond,
	}
)

// InitialAccuracyCeilingM only changes the status shown for the first fix
const InitialAccuracyCeilingM = 100.0

// GeofenceBounds is the rectangular operational area
type GeofenceBounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// DefaultBounds covers the Shah Alam service area
var DefaultBounds = GeofenceBounds{
	MinLat: 2.9,
	MaxLat: 3.2,
	MinLng: 101.4,
	MaxLng: 101.7,
}

// Contains reports whether c is inside the bounds, edges included
func (b GeofenceBounds) Contains(c Coordinate) bool {
	return c.Latitude >= b.MinLat && c.Latitude <= b.MaxLat &&
		c.Longitude >= b.MinLng && c.Longitude <= b.MaxLng
}

// Environment is the indoor/outdoor hypothesis for the device
type Environment int

const (
	EnvironmentUnknown Environment = iota
	EnvironmentIndoor
	EnvironmentOutdoor
)

func (e Environment) String() string {
	switch e {
	case EnvironmentIndoor:
		return "indoor"
	case EnvironmentOutdoor:
		return "outdoor"
	default:
		return "unknown"
	}
}

// MarshalText renders the environment name in JSON
func (e Environment) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// IsIndoor is true only for a positive indoor classification
func (e Environment) IsIndoor() bool {
	return e == EnvironmentIndoor
}

// LocationUpdate is the record posted to the collector
type LocationUpdate struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp string  `json:"timestamp"`
	Speed     float64 `json:"speed"`
	IsIndoor  bool    `json:"isIndoor"`
}

// ReportAck is a collector's answer to a submitted update
type ReportAck struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// StatusLevel is the display category of a status event
type StatusLevel string

const (
	StatusSuccess StatusLevel = "success"
	StatusWarning StatusLevel = "warning"
	StatusError   StatusLevel = "error"
)

// StatusKind identifies what a status event is about
type StatusKind string

const (
	KindAcquiring    StatusKind = "acquiring"
	KindActive       StatusKind = "active"
	KindModeSwitch   StatusKind = "mode_switch"
	KindUpdated      StatusKind = "updated"
	KindError        StatusKind = "error"
	KindErrorCleared StatusKind = "error_cleared"
	KindStopped      StatusKind = "stopped"
)

// StatusEvent is emitted by the tracking session for display collaborators
type StatusEvent struct {
	ID            string          `json:"id"`
	Level         StatusLevel     `json:"level"`
	Kind          StatusKind      `json:"kind"`
	Message       string          `json:"message"`
	Timestamp     time.Time       `json:"timestamp"`
	TTL           time.Duration   `json:"ttl,omitempty"` // zero means sticky
	Update        *LocationUpdate `json:"update,omitempty"`
	AccuracyClass string          `json:"accuracy_class,omitempty"`
}

// Accuracy classes shown next to an update
const (
	AccuracyGood   = "good"
	AccuracyMedium = "medium"
	AccuracyPoor   = "poor"
)
