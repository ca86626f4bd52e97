package gps

import (
	"math"

	"github.com/starfail/geotrack/pkg"
)

// DefaultHysteresisM is the accuracy change required before re-classifying
const DefaultHysteresisM = 10.0

// Classifier infers indoor/outdoor from reported accuracy and maps the result
// to a threshold profile.
type Classifier struct {
	Indoor      pkg.ThresholdProfile
	Outdoor     pkg.ThresholdProfile
	HysteresisM float64
}

// NewClassifier returns a classifier using the canonical profiles
func NewClassifier() *Classifier {
	return &Classifier{
		Indoor:      pkg.IndoorProfile,
		Outdoor:     pkg.OutdoorProfile,
		HysteresisM: DefaultHysteresisM,
	}
}

// Classify is indoor when accuracy is worse than the outdoor ceiling
func (c *Classifier) Classify(accuracyM float64) pkg.Environment {
	if accuracyM > c.Outdoor.MaxAccuracyM {
		return pkg.EnvironmentIndoor
	}
	return pkg.EnvironmentOutdoor
}

// ProfileFor returns the thresholds for env. Unknown uses the outdoor profile.
func (c *Classifier) ProfileFor(env pkg.Environment) pkg.ThresholdProfile {
	if env.IsIndoor() {
		return c.Indoor
	}
	return c.Outdoor
}

// Reclassify re-runs Classify only when the accuracy moved by more than the
// hysteresis delta since the previously accepted reading. changed reports
// whether the returned environment differs from current.
func (c *Classifier) Reclassify(current pkg.Environment, newAccuracyM, previousAccuracyM float64) (env pkg.Environment, changed bool) {
	if math.Abs(newAccuracyM-previousAccuracyM) <= c.HysteresisM {
		return current, false
	}
	env = c.Classify(newAccuracyM)
	return env, env != current
}

var defaultClassifier = NewClassifier()

// Classify uses the canonical profiles
func Classify(accuracyM float64) pkg.Environment {
	return defaultClassifier.Classify(accuracyM)
}

// ProfileFor uses the canonical profiles
func ProfileFor(env pkg.Environment) pkg.ThresholdProfile {
	return defaultClassifier.ProfileFor(env)
}
