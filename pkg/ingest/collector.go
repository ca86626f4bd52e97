// Package ingest is a reference collector for location updates
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/gps"
	"github.com/starfail/geotrack/pkg/logx"
	"github.com/starfail/geotrack/pkg/report"
)

// LatestPath serves the most recent accepted record
const LatestPath = "/driver_location"

const maxBodyBytes = 64 << 10

// Publisher forwards accepted records, e.g. to MQTT
type Publisher interface {
	PublishLocation(update pkg.LocationUpdate) error
}

// Record is an accepted update with what the collector derived from it
type Record struct {
	pkg.LocationUpdate
	ReceivedAt     time.Time `json:"received_at"`
	Environment    string    `json:"environment"`
	AccuracyStatus string    `json:"accuracy_status"`
	DerivedSpeed   float64   `json:"derived_speed"`
	Bearing        float64   `json:"bearing"`
}

type updateRequest struct {
	Lat       *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng       *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	Accuracy  *float64 `json:"accuracy" validate:"required,gte=0"`
	Timestamp string   `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Speed     float64  `json:"speed" validate:"gte=0"`
	IsIndoor  bool     `json:"isIndoor"`
}

type response struct {
	Status  string  `json:"status"`
	Message string  `json:"message,omitempty"`
	Data    *Record `json:"data,omitempty"`
}

// Collector accepts POSTed updates and keeps the latest one in memory
type Collector struct {
	bounds     pkg.GeofenceBounds
	classifier *gps.Classifier
	publisher  Publisher
	validate   *validator.Validate
	logger     *logx.Logger
	now        func() time.Time

	mu     sync.RWMutex
	latest *Record
}

// NewCollector creates a collector; publisher may be nil
func NewCollector(bounds pkg.GeofenceBounds, classifier *gps.Classifier, publisher Publisher, logger *logx.Logger) *Collector {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	if classifier == nil {
		classifier = gps.NewClassifier()
	}
	return &Collector{
		bounds:     bounds,
		classifier: classifier,
		publisher:  publisher,
		validate:   v,
		logger:     logger,
		now:        time.Now,
	}
}

// Handler routes the collector endpoints
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(report.UpdatePath, c.handleUpdate)
	mux.HandleFunc(LatestPath, c.handleLatest)
	return mux
}

// Latest returns the most recent accepted record
func (c *Collector) Latest() (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return Record{}, false
	}
	return *c.latest, true
}

func writeJSON(w http.ResponseWriter, code int, v response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (c *Collector) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, response{Status: "error", Message: "method not allowed"})
		return
	}

	var req updateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Status: "error", Message: "Invalid JSON payload"})
		return
	}

	if err := c.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Status: "error", Message: validationMessage(err)})
		return
	}

	update := pkg.LocationUpdate{
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		Accuracy:  *req.Accuracy,
		Timestamp: req.Timestamp,
		Speed:     req.Speed,
		IsIndoor:  req.IsIndoor,
	}
	if !c.bounds.Contains(pkg.Coordinate{Latitude: update.Lat, Longitude: update.Lng}) {
		c.logger.Info("update outside service area", "lat", update.Lat, "lng", update.Lng)
		writeJSON(w, http.StatusBadRequest, response{Status: "error", Message: "Location outside service area"})
		return
	}

	rec := c.accept(update)

	if c.publisher != nil {
		if err := c.publisher.PublishLocation(update); err != nil {
			c.logger.Warn("failed to relay location update", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, response{Status: "success", Message: "Location updated", Data: &rec})
}

// accept derives environment, accuracy status, speed and bearing against
// the previous record and stores the result as latest
func (c *Collector) accept(update pkg.LocationUpdate) Record {
	env := c.classifier.Classify(update.Accuracy)
	profile := c.classifier.ProfileFor(env)

	rec := Record{
		LocationUpdate: update,
		ReceivedAt:     c.now().UTC(),
		Environment:    env.String(),
		AccuracyStatus: accuracyStatus(update.Accuracy, profile),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev := c.latest; prev != nil {
		from := pkg.Coordinate{Latitude: prev.Lat, Longitude: prev.Lng}
		to := pkg.Coordinate{Latitude: update.Lat, Longitude: update.Lng}
		rec.Bearing = gps.Bearing(from, to)

		t0, err0 := time.Parse(time.RFC3339, prev.Timestamp)
		t1, err1 := time.Parse(time.RFC3339, update.Timestamp)
		if err0 == nil && err1 == nil {
			if dt := t1.Sub(t0).Seconds(); dt > 0 {
				rec.DerivedSpeed = gps.Distance(from, to) / dt
			}
		}
	}

	c.latest = &rec
	c.logger.Debug("location update accepted",
		"lat", update.Lat, "lng", update.Lng, "accuracy", update.Accuracy, "status", rec.AccuracyStatus)
	return rec
}

// accuracyStatus grades accuracy against the profile's warning and max
func accuracyStatus(accuracy float64, profile pkg.ThresholdProfile) string {
	switch {
	case accuracy > profile.MaxAccuracyM:
		return "poor"
	case accuracy > profile.WarningAccuracyM:
		return "warning"
	default:
		return "good"
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid location data"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Missing field: %s", fe.Field())
	case "datetime":
		return fmt.Sprintf("Invalid %s: expected RFC 3339", fe.Field())
	default:
		return fmt.Sprintf("Invalid %s: must be %s %s", fe.Field(), fe.Tag(), fe.Param())
	}
}

func (c *Collector) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, response{Status: "error", Message: "method not allowed"})
		return
	}
	rec, ok := c.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, response{Status: "error", Message: "No location received yet"})
		return
	}
	writeJSON(w, http.StatusOK, response{Status: "success", Data: &rec})
}
