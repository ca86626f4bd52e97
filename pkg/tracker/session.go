// Package tracker implements the tracking session: it sequences acquisition,
// environment classification, validation, rate limiting and reporting, and
// owns the retry and restart policy.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/gps"
	"github.com/starfail/geotrack/pkg/logx"
)

// ErrAlreadyStarted is returned by Start unless the session is stopped
var ErrAlreadyStarted = errors.New("tracking session already started")

// State is the session lifecycle state
type State int

const (
	StateStopped State = iota
	StateStarting
	StateAcquiring
	StateTracking
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateAcquiring:
		return "acquiring"
	case StateTracking:
		return "tracking"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a point-in-time copy of the session state
type Snapshot struct {
	State          State                `json:"state"`
	Environment    pkg.Environment      `json:"environment"`
	Profile        pkg.ThresholdProfile `json:"profile"`
	LastAccepted   *gps.LastAccepted    `json:"last_accepted,omitempty"`
	LastReportTime time.Time            `json:"last_report_time,omitempty"`
	RetryCount     int                  `json:"retry_count"`
	PendingRestart bool                 `json:"pending_restart"`
	Subscribed     bool                 `json:"subscribed"`
}

// Session is the stateful tracking orchestrator. All state is guarded by mu;
// callbacks carry the generation they were issued under and are ignored once
// the session has been stopped or restarted since.
type Session struct {
	cfg        Config
	source     gps.PositionSource
	sink       ReportSink
	classifier *gps.Classifier
	logger     *logx.Logger
	recorder   Recorder
	scheduler  Scheduler
	now        func() time.Time
	dispatch   Dispatcher
	sinks      []StatusSink

	mu             sync.Mutex
	gen            uint64
	state          State
	env            pkg.Environment
	profile        pkg.ThresholdProfile
	last           *gps.LastAccepted
	lastReport     time.Time
	retryCount     int
	pendingRestart bool
	sub            gps.Subscription
	runCtx         context.Context
	cancel         context.CancelFunc
	timers         map[uint64]Timer
	nextTimer      uint64

	// work queued while holding mu, run by unlockAndFlush
	outbox []pkg.StatusEvent
	jobs   []func()
}

// NewSession creates a stopped session
func NewSession(source gps.PositionSource, sink ReportSink, cfg Config, logger *logx.Logger, opts ...Option) *Session {
	s := &Session{
		cfg:        cfg,
		source:     source,
		sink:       sink,
		classifier: cfg.Classifier(),
		logger:     logger,
		recorder:   nopRecorder{},
		scheduler:  realScheduler{},
		now:        time.Now,
		dispatch:   goDispatcher,
		timers:     make(map[uint64]Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.profile = s.classifier.ProfileFor(pkg.EnvironmentUnknown)
	return s
}

// Start begins tracking. The environment probe, acquisition and
// subscription all happen asynchronously.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}

	s.gen++
	gen := s.gen
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.env = pkg.EnvironmentUnknown
	s.profile = s.classifier.ProfileFor(pkg.EnvironmentUnknown)
	s.retryCount = 0
	s.pendingRestart = false
	s.setStateLocked(StateStarting, "start requested")

	runCtx := s.runCtx
	s.jobs = append(s.jobs, func() { s.probe(runCtx, gen) })
	s.unlockAndFlush()
	return nil
}

// Stop cancels the subscription, pending timers and in-flight requests and
// clears all session state. It returns false when there was nothing to stop.
func (s *Session) Stop() bool {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		s.logger.Debug("stop requested but tracking is not running")
		return false
	}
	s.resetLocked("stop requested")
	s.emitLocked(pkg.StatusSuccess, pkg.KindStopped, "Location tracking stopped", nil)
	s.unlockAndFlush()
	return true
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:          s.state,
		Environment:    s.env,
		Profile:        s.profile,
		LastReportTime: s.lastReport,
		RetryCount:     s.retryCount,
		PendingRestart: s.pendingRestart,
		Subscribed:     s.sub != nil && s.sub.Active(),
	}
	if s.last != nil {
		last := *s.last
		snap.LastAccepted = &last
	}
	return snap
}

// probe seeds the environment from a single fix. Failure is not fatal.
func (s *Session) probe(ctx context.Context, gen uint64) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	sample, err := s.source.GetOnce(reqCtx, s.cfg.probeOptions())
	cancel()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.env = pkg.EnvironmentOutdoor
		s.logger.Warn("environment probe failed, assuming outdoor", "error", err, "kind", gps.ClassifyError(err).String())
	} else {
		s.env = s.classifier.Classify(sample.AccuracyM)
		s.logger.Info("environment detected", "environment", s.env.String(), "accuracy_m", sample.AccuracyM)
	}
	s.profile = s.classifier.ProfileFor(s.env)
	s.beginAcquisitionLocked("environment probed")
	s.unlockAndFlush()
}

func (s *Session) beginAcquisitionLocked(reason string) {
	s.retryCount = 0
	s.setStateLocked(StateAcquiring, reason)
	gen, ctx := s.gen, s.runCtx
	s.jobs = append(s.jobs, func() { s.acquire(ctx, gen) })
}

// acquire performs one initial acquisition attempt
func (s *Session) acquire(ctx context.Context, gen uint64) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.AcquireTimeout)
	sample, err := s.source.GetOnce(reqCtx, s.cfg.acquireOptions())
	cancel()

	s.mu.Lock()
	if gen != s.gen || s.state != StateAcquiring {
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.acquisitionFailedLocked(err)
		s.unlockAndFlush()
		return
	}

	s.retryCount = 0
	level := pkg.StatusSuccess
	if sample.AccuracyM > s.cfg.InitialAccuracyCeilingM {
		level = pkg.StatusWarning
	}
	s.emitLocked(level, pkg.KindActive,
		fmt.Sprintf("Location tracking active (%.0fm accuracy)", math.Round(sample.AccuracyM)), nil)

	s.handleSampleLocked(sample)

	s.jobs = append(s.jobs, func() { s.subscribe(gen) })
	s.unlockAndFlush()
}

func (s *Session) acquisitionFailedLocked(err error) {
	kind := gps.ClassifyError(err)
	s.retryCount++
	s.recorder.AcquisitionError(kind.String())
	s.logger.Warn("initial acquisition failed", "attempt", s.retryCount, "max_attempts", s.cfg.MaxAcquireAttempts, "kind", kind.String(), "error", err)

	s.emitLocked(pkg.StatusWarning, pkg.KindAcquiring,
		fmt.Sprintf("Acquiring GPS signal (attempt %d/%d)...", s.retryCount, s.cfg.MaxAcquireAttempts), nil)

	if s.retryCount < s.cfg.MaxAcquireAttempts {
		gen, ctx := s.gen, s.runCtx
		s.scheduleLocked(s.cfg.AcquireRetryDelay, func() {
			s.jobs = append(s.jobs, func() { s.acquire(ctx, gen) })
		})
		return
	}

	s.showErrorLocked(err)
	s.logger.Error("initial acquisition exhausted, tracking halted", "attempts", s.retryCount, "kind", kind.String())
	s.resetLocked("acquisition attempts exhausted")
}

// subscribe opens the continuous stream
func (s *Session) subscribe(gen uint64) {
	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		return
	}

	sub, err := s.source.Watch(s.cfg.watchOptions(),
		func(sample pkg.PositionSample) { s.onSample(gen, sample) },
		func(err error) { s.onStreamError(gen, err) },
	)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
		return
	}

	if s.sub != nil {
		s.sub.Cancel()
	}
	s.sub = sub
	s.setStateLocked(StateTracking, "subscribed")
	if err != nil {
		s.sub = nil
		s.streamErrorLocked(err)
	}
	s.unlockAndFlush()
}

func (s *Session) onSample(gen uint64, sample pkg.PositionSample) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.handleSampleLocked(sample)
	s.unlockAndFlush()
}

func (s *Session) onStreamError(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.streamErrorLocked(err)
	s.unlockAndFlush()
}

// handleSampleLocked runs rate limiting, re-classification and validation,
// then queues the report
func (s *Session) handleSampleLocked(sample pkg.PositionSample) {
	now := s.now()

	if !s.lastReport.IsZero() && now.Sub(s.lastReport) < s.profile.MinUpdateInterval {
		s.recorder.SampleDropped("rate_limited")
		s.logger.Debug("sample dropped", "reason", "rate_limited", "since_last_ms", now.Sub(s.lastReport).Milliseconds())
		return
	}

	previous := 0.0
	if s.last != nil {
		previous = s.last.AccuracyM
	}
	if env, changed := s.classifier.Reclassify(s.env, sample.AccuracyM, previous); changed {
		s.logger.LogStateChange("environment", s.env.String(), env.String(), "accuracy_changed", map[string]interface{}{
			"accuracy_m":          sample.AccuracyM,
			"previous_accuracy_m": previous,
		})
		s.env = env
		s.profile = s.classifier.ProfileFor(env)
		s.recorder.EnvironmentSwitched(env.String())
		s.emitLocked(pkg.StatusWarning, pkg.KindModeSwitch,
			fmt.Sprintf("Switched to %s mode (%.0fm accuracy)", env, math.Round(sample.AccuracyM)), nil)
	}

	verdict := gps.Validate(sample, s.cfg.Bounds, s.profile, s.last)
	if verdict.LowConfidence {
		s.logger.Debug("low confidence sample", "accuracy_m", sample.AccuracyM, "max_accuracy_m", s.profile.MaxAccuracyM)
	}
	if !verdict.Accepted() {
		s.recorder.SampleDropped(verdict.Decision.String())
		s.logger.Debug("sample dropped", "reason", verdict.Decision.String(), "detail", verdict.Reason)
		return
	}

	ts := sample.CapturedAt
	if ts.IsZero() {
		ts = now
	}
	update := pkg.LocationUpdate{
		Lat:       sample.Latitude,
		Lng:       sample.Longitude,
		Accuracy:  sample.AccuracyM,
		Timestamp: ts.UTC().Format(timestampLayout),
		Speed:     sample.SpeedMPS,
		IsIndoor:  s.env.IsIndoor(),
	}

	gen, ctx := s.gen, s.runCtx
	s.jobs = append(s.jobs, func() { s.submit(ctx, gen, sample, update, now) })
}

// timestampLayout is ISO-8601 with millisecond precision in UTC
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// submit sends one update; the outcome is dropped if the session moved on
func (s *Session) submit(ctx context.Context, gen uint64, sample pkg.PositionSample, update pkg.LocationUpdate, processedAt time.Time) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.ReportTimeout)
	ack, err := s.sink.Submit(reqCtx, update)
	cancel()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("discarding report outcome from previous session")
		return
	}

	if err != nil {
		s.recorder.ReportResult("error")
		s.logger.Warn("location report failed", "error", err)
		s.streamErrorLocked(err)
		s.unlockAndFlush()
		return
	}
	if !ack.Accepted {
		s.recorder.ReportResult("rejected")
		s.logger.Warn("collector did not accept location update", "message", ack.Message)
		s.unlockAndFlush()
		return
	}

	s.recorder.ReportResult("accepted")
	s.last = &gps.LastAccepted{Coordinate: sample.Coordinate, AccuracyM: sample.AccuracyM}
	s.lastReport = processedAt

	class := AccuracyClass(update.Accuracy, s.cfg.Outdoor)
	s.logger.Info("location updated", "lat", update.Lat, "lng", update.Lng, "accuracy_m", update.Accuracy, "class", class, "indoor", update.IsIndoor)
	s.emitLocked(pkg.StatusSuccess, pkg.KindUpdated,
		fmt.Sprintf("Location updated (%.0fm accuracy, %s)", math.Round(update.Accuracy), class),
		func(ev *pkg.StatusEvent) {
			u := update
			ev.Update = &u
			ev.AccuracyClass = class
		})
	s.unlockAndFlush()
}

// AccuracyClass grades accuracy against the outdoor profile
func AccuracyClass(accuracyM float64, outdoor pkg.ThresholdProfile) string {
	switch {
	case accuracyM <= outdoor.WarningAccuracyM:
		return pkg.AccuracyGood
	case accuracyM <= outdoor.MaxAccuracyM:
		return pkg.AccuracyMedium
	default:
		return pkg.AccuracyPoor
	}
}

// streamErrorLocked surfaces an error and schedules a restart when the
// stream is no longer delivering and no restart is pending
func (s *Session) streamErrorLocked(err error) {
	kind := gps.ClassifyError(err)
	s.recorder.AcquisitionError(kind.String())
	s.logger.Warn("position stream error", "kind", kind.String(), "error", err)
	s.showErrorLocked(err)

	if s.state != StateTracking && s.state != StateRetrying {
		return
	}
	if s.pendingRestart || (s.sub != nil && s.sub.Active()) {
		return
	}

	s.pendingRestart = true
	s.recorder.RestartScheduled()
	s.setStateLocked(StateRetrying, kind.String())
	s.logger.Info("retrying location tracking", "delay", s.cfg.RestartDelay.String())
	s.scheduleLocked(s.cfg.RestartDelay, s.restartLocked)
}

func (s *Session) restartLocked() {
	s.pendingRestart = false
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	s.beginAcquisitionLocked("restart")
}

// showErrorLocked emits an error status and clears it after the display TTL.
// The clear is not tied to the session lifetime.
func (s *Session) showErrorLocked(err error) {
	ttl := s.cfg.ErrorDisplayTTL
	msg := gps.ErrorMessage(err)
	s.emitLocked(pkg.StatusError, pkg.KindError, msg, func(ev *pkg.StatusEvent) { ev.TTL = ttl })
	s.scheduler.AfterFunc(ttl, func() {
		s.publish([]pkg.StatusEvent{s.newEvent(pkg.StatusSuccess, pkg.KindErrorCleared, "")})
	})
}

// resetLocked returns the session to its initial stopped state
func (s *Session) resetLocked(reason string) {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.runCtx = nil
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.env = pkg.EnvironmentUnknown
	s.profile = s.classifier.ProfileFor(pkg.EnvironmentUnknown)
	s.last = nil
	s.lastReport = time.Time{}
	s.retryCount = 0
	s.pendingRestart = false
	s.setStateLocked(StateStopped, reason)
}

// scheduleLocked runs fn with mu held after d, unless the session has moved
// to another generation by then
func (s *Session) scheduleLocked(d time.Duration, fn func()) {
	gen := s.gen
	id := s.nextTimer
	s.nextTimer++
	s.timers[id] = s.scheduler.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		fn()
		s.unlockAndFlush()
	})
}

func (s *Session) setStateLocked(to State, reason string) {
	from := s.state
	s.state = to
	if from != to {
		s.logger.LogStateChange("tracker", from.String(), to.String(), reason, nil)
		s.recorder.StateChanged(to.String())
	}
}

func (s *Session) newEvent(level pkg.StatusLevel, kind pkg.StatusKind, msg string) pkg.StatusEvent {
	return pkg.StatusEvent{
		ID:        uuid.NewString(),
		Level:     level,
		Kind:      kind,
		Message:   msg,
		Timestamp: s.now(),
	}
}

func (s *Session) emitLocked(level pkg.StatusLevel, kind pkg.StatusKind, msg string, decorate func(*pkg.StatusEvent)) {
	ev := s.newEvent(level, kind, msg)
	if decorate != nil {
		decorate(&ev)
	}
	s.outbox = append(s.outbox, ev)
}

// unlockAndFlush releases mu, then delivers queued events and launches
// queued jobs
func (s *Session) unlockAndFlush() {
	events, jobs := s.outbox, s.jobs
	s.outbox, s.jobs = nil, nil
	s.mu.Unlock()

	s.publish(events)
	for _, job := range jobs {
		s.dispatch(job)
	}
}

func (s *Session) publish(events []pkg.StatusEvent) {
	for _, ev := range events {
		for _, sink := range s.sinks {
			sink.HandleStatus(ev)
		}
	}
}
