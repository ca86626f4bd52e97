package gps

import (
	"fmt"

	"github.com/starfail/geotrack/pkg"
)

// Decision is the outcome of validating a sample
type Decision int

const (
	Accept Decision = iota
	RejectOutOfBounds
	RejectInsufficientMovement
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case RejectOutOfBounds:
		return "out_of_bounds"
	case RejectInsufficientMovement:
		return "insufficient_movement"
	default:
		return "unknown"
	}
}

// LastAccepted is the last position that was reported successfully
type LastAccepted struct {
	Coordinate pkg.Coordinate
	AccuracyM  float64
}

// Verdict describes why a sample was accepted or rejected
type Verdict struct {
	Decision      Decision
	LowConfidence bool
	DistanceM     float64
	Reason        string
}

// Accepted is shorthand for Decision == Accept
func (v Verdict) Accepted() bool {
	return v.Decision == Accept
}

// Validate applies the accuracy, geofence and movement checks in that order.
// Poor accuracy only marks the verdict as low confidence; it never rejects.
func Validate(sample pkg.PositionSample, bounds pkg.GeofenceBounds, profile pkg.ThresholdProfile, last *LastAccepted) Verdict {
	v := Verdict{Decision: Accept, Reason: "ok"}

	if sample.AccuracyM > profile.MaxAccuracyM {
		v.LowConfidence = true
		v.Reason = fmt.Sprintf("accuracy %.0fm above %.0fm", sample.AccuracyM, profile.MaxAccuracyM)
	}

	if !bounds.Contains(sample.Coordinate) {
		return Verdict{
			Decision:      RejectOutOfBounds,
			LowConfidence: v.LowConfidence,
			Reason: fmt.Sprintf("position %.6f,%.6f outside [%.4f,%.4f]x[%.4f,%.4f]",
				sample.Latitude, sample.Longitude, bounds.MinLat, bounds.MaxLat, bounds.MinLng, bounds.MaxLng),
		}
	}

	if last != nil {
		v.DistanceM = Distance(last.Coordinate, sample.Coordinate)
		if v.DistanceM < profile.MinMovementM {
			return Verdict{
				Decision:      RejectInsufficientMovement,
				LowConfidence: v.LowConfidence,
				DistanceM:     v.DistanceM,
				Reason:        fmt.Sprintf("moved %.1fm, need %.0fm", v.DistanceM, profile.MinMovementM),
			}
		}
	}

	return v
}
