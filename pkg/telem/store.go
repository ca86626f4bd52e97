// Package telem keeps a bounded in-memory history of tracker status events
// and accepted track points
package telem

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/starfail/geotrack/pkg"
)

// TrackPoint is an accepted location update as it was reported
type TrackPoint struct {
	Timestamp     time.Time          `json:"timestamp"`
	Update        pkg.LocationUpdate `json:"update"`
	AccuracyClass string             `json:"accuracy_class,omitempty"`
}

// Config for telemetry store
type Config struct {
	MaxPoints      int `yaml:"max_points"`
	MaxEvents      int `yaml:"max_events"`
	RetentionHours int `yaml:"retention_hours"`
	MaxRAMMB       int `yaml:"max_ram_mb"`
}

// Stats summarizes what the store holds
type Stats struct {
	TotalPoints    int                    `json:"total_points"`
	TotalEvents    int                    `json:"total_events"`
	EventsByKind   map[pkg.StatusKind]int `json:"events_by_kind"`
	LastEvent      *pkg.StatusEvent       `json:"last_event,omitempty"`
	LastPoint      *TrackPoint            `json:"last_point,omitempty"`
	RetentionHours float64                `json:"retention_hours"`
	MaxRAMMB       int                    `json:"max_ram_mb"`
	EstimatedBytes int                    `json:"estimated_bytes"`
}

// Store manages in-memory telemetry data with bounded retention
type Store struct {
	mu            sync.RWMutex
	points        []TrackPoint
	events        []pkg.StatusEvent
	eventCounts   map[pkg.StatusKind]int
	maxPoints     int
	maxEvents     int
	retentionTime time.Duration
	maxRAMMB      int
	now           func() time.Time
}

// NewStore creates a new telemetry store with the given configuration
func NewStore(config Config) *Store {
	if config.MaxPoints <= 0 {
		config.MaxPoints = 1000
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = 200
	}
	if config.RetentionHours <= 0 {
		config.RetentionHours = 24
	}
	if config.MaxRAMMB <= 0 {
		config.MaxRAMMB = 4
	}

	return &Store{
		points:        make([]TrackPoint, 0, config.MaxPoints),
		events:        make([]pkg.StatusEvent, 0, config.MaxEvents),
		eventCounts:   make(map[pkg.StatusKind]int),
		maxPoints:     config.MaxPoints,
		maxEvents:     config.MaxEvents,
		retentionTime: time.Duration(config.RetentionHours) * time.Hour,
		maxRAMMB:      config.MaxRAMMB,
		now:           time.Now,
	}
}

// HandleStatus records a status event; updated events also extend the track
func (s *Store) HandleStatus(ev pkg.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = appendBounded(s.events, ev, s.maxEvents)
	s.eventCounts[ev.Kind]++

	if ev.Kind == pkg.KindUpdated && ev.Update != nil {
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		s.points = appendBounded(s.points, TrackPoint{
			Timestamp:     ts,
			Update:        *ev.Update,
			AccuracyClass: ev.AccuracyClass,
		}, s.maxPoints)
		s.cleanOldPointsLocked()
	}

	s.enforceRAMCapLocked()
}

// appendBounded appends v and keeps only the most recent limit items
func appendBounded[T any](in []T, v T, limit int) []T {
	in = append(in, v)
	if len(in) > limit {
		copy(in, in[len(in)-limit:])
		in = in[:limit]
	}
	return in
}

// GetTrack returns the most recent accepted points, oldest first
func (s *Store) GetTrack(limit int) []TrackPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.points, limit)
}

// GetTrackSince returns points newer than the given window
func (s *Store) GetTrackSince(since time.Duration) []TrackPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-since)
	var result []TrackPoint
	for _, p := range s.points {
		if p.Timestamp.After(cutoff) {
			result = append(result, p)
		}
	}
	return result
}

// GetEvents returns recent events, oldest first
func (s *Store) GetEvents(limit int) []pkg.StatusEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.events, limit)
}

func tail[T any](in []T, limit int) []T {
	if limit <= 0 || limit >= len(in) {
		result := make([]T, len(in))
		copy(result, in)
		return result
	}
	result := make([]T, limit)
	copy(result, in[len(in)-limit:])
	return result
}

// Cleanup removes old data based on retention policy
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanOldPointsLocked()

	cutoff := s.now().Add(-s.retentionTime)
	keep := 0
	for keep < len(s.events) && !s.events[keep].Timestamp.After(cutoff) {
		keep++
	}
	if keep > 0 {
		s.events = append(s.events[:0], s.events[keep:]...)
	}
}

func (s *Store) cleanOldPointsLocked() {
	cutoff := s.now().Add(-s.retentionTime)
	keep := 0
	for keep < len(s.points) && !s.points[keep].Timestamp.After(cutoff) {
		keep++
	}
	if keep > 0 {
		s.points = append(s.points[:0], s.points[keep:]...)
	}
}

// GetStats returns storage statistics
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() Stats {
	counts := make(map[pkg.StatusKind]int, len(s.eventCounts))
	for k, v := range s.eventCounts {
		counts[k] = v
	}

	st := Stats{
		TotalPoints:    len(s.points),
		TotalEvents:    len(s.events),
		EventsByKind:   counts,
		RetentionHours: s.retentionTime.Hours(),
		MaxRAMMB:       s.maxRAMMB,
		EstimatedBytes: s.estimateBytesLocked(),
	}
	if n := len(s.events); n > 0 {
		ev := s.events[n-1]
		st.LastEvent = &ev
	}
	if n := len(s.points); n > 0 {
		p := s.points[n-1]
		st.LastPoint = &p
	}
	return st
}

// ExportJSON exports all data as JSON for debugging/analysis
func (s *Store) ExportJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	export := struct {
		Timestamp time.Time         `json:"timestamp"`
		Track     []TrackPoint      `json:"track"`
		Events    []pkg.StatusEvent `json:"events"`
		Stats     Stats             `json:"stats"`
	}{
		Timestamp: s.now(),
		Track:     s.points,
		Events:    s.events,
		Stats:     s.statsLocked(),
	}

	return json.Marshal(export)
}

// estimateBytesLocked returns an approximate memory usage for telemetry content
func (s *Store) estimateBytesLocked() int {
	const (
		bytesPerPoint = 192
		bytesPerEvent = 256
	)
	return len(s.points)*bytesPerPoint + len(s.events)*bytesPerEvent
}

// enforceRAMCapLocked thins old track points and events while the estimate
// exceeds maxRAMMB. Must be called with s.mu locked.
func (s *Store) enforceRAMCapLocked() {
	if s.maxRAMMB <= 0 {
		return
	}
	capBytes := s.maxRAMMB * 1024 * 1024
	for i := 0; i < 5; i++ {
		if s.estimateBytesLocked() <= capBytes {
			return
		}
		if len(s.points) > 200 {
			s.points = downsampleKeepRecent(s.points, 2, 100)
		}
		if len(s.events) > 200 && s.estimateBytesLocked() > capBytes {
			keep := len(s.events) / 2
			copy(s.events, s.events[len(s.events)-keep:])
			s.events = s.events[:keep]
		}
	}
}

// downsampleKeepRecent keeps the last recentKeep items intact and keeps
// every nth of the older ones. Order is preserved.
func downsampleKeepRecent[T any](in []T, n int, recentKeep int) []T {
	if n <= 1 || len(in) <= recentKeep {
		return in
	}
	if recentKeep < 0 {
		recentKeep = 0
	}
	cutoff := len(in) - recentKeep
	older := in[:cutoff]
	newer := in[cutoff:]
	kept := make([]T, 0, len(older)/n+len(newer))
	for i := 0; i < len(older); i++ {
		if i%n == 0 {
			kept = append(kept, older[i])
		}
	}
	return append(kept, newer...)
}

// SetMaxRAMMB updates the RAM cap and enforces it immediately.
func (s *Store) SetMaxRAMMB(mb int) error {
	if mb < 1 || mb > 128 {
		return fmt.Errorf("max_ram_mb must be between 1-128, got %d", mb)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxRAMMB = mb
	s.enforceRAMCapLocked()
	return nil
}
