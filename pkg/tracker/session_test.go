package tracker

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/gps"
	"github.com/starfail/geotrack/pkg/logx"
)

var base = pkg.Coordinate{Latitude: 3.0730, Longitude: 101.5190}

func north(c pkg.Coordinate, meters float64) pkg.Coordinate {
	return pkg.Coordinate{Latitude: c.Latitude + meters/(gps.EarthRadiusM*math.Pi/180), Longitude: c.Longitude}
}

func fix(c pkg.Coordinate, accuracy float64) pkg.PositionSample {
	return pkg.PositionSample{Coordinate: c, AccuracyM: accuracy}
}

type getResult struct {
	sample pkg.PositionSample
	err    error
}

type fakeSub struct {
	active    bool
	cancelled bool
}

func (f *fakeSub) Cancel() { f.active = false; f.cancelled = true }
func (f *fakeSub) Active() bool { return f.active }

type fakeSource struct {
	results  []getResult
	gets     int
	opts     []gps.Options
	watchErr error
	subs     []*fakeSub
	onSample func(pkg.PositionSample)
	onError  func(error)
}

func (f *fakeSource) GetOnce(ctx context.Context, opts gps.Options) (pkg.PositionSample, error) {
	f.gets++
	f.opts = append(f.opts, opts)
	if len(f.results) == 0 {
		return pkg.PositionSample{}, &gps.AcquisitionError{Kind: gps.KindPositionUnavailable}
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.sample, r.err
}

func (f *fakeSource) Watch(opts gps.Options, onSample func(pkg.PositionSample), onError func(error)) (gps.Subscription, error) {
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	f.onSample, f.onError = onSample, onError
	sub := &fakeSub{active: true}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeSource) current() *fakeSub {
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

type fakeSink struct {
	updates []pkg.LocationUpdate
	respond func(pkg.LocationUpdate) (pkg.ReportAck, error)
}

func (f *fakeSink) Submit(ctx context.Context, u pkg.LocationUpdate) (pkg.ReportAck, error) {
	f.updates = append(f.updates, u)
	if f.respond != nil {
		return f.respond(u)
	}
	return pkg.ReportAck{Accepted: true}, nil
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// pending returns live timers with delay d
func (s *fakeScheduler) pending(d time.Duration) []*fakeTimer {
	var out []*fakeTimer
	for _, t := range s.timers {
		if t.d == d && !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) fire(t *fakeTimer) {
	t.fired = true
	t.f()
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type eventLog struct {
	mu     sync.Mutex
	events []pkg.StatusEvent
}

func (l *eventLog) HandleStatus(ev pkg.StatusEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) ofKind(kind pkg.StatusKind) []pkg.StatusEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []pkg.StatusEvent
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type countingRecorder struct {
	dropped  map[string]int
	reports  map[string]int
	switches map[string]int
	errors   map[string]int
	states   []string
	restarts int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		dropped:  map[string]int{},
		reports:  map[string]int{},
		switches: map[string]int{},
		errors:   map[string]int{},
	}
}

func (r *countingRecorder) SampleDropped(reason string) { r.dropped[reason]++ }
func (r *countingRecorder) ReportResult(result string) { r.reports[result]++ }
func (r *countingRecorder) EnvironmentSwitched(env string) { r.switches[env]++ }
func (r *countingRecorder) AcquisitionError(kind string) { r.errors[kind]++ }
func (r *countingRecorder) StateChanged(state string) { r.states = append(r.states, state) }
func (r *countingRecorder) RestartScheduled() { r.restarts++ }

type harness struct {
	session  *Session
	source   *fakeSource
	sink     *fakeSink
	sched    *fakeScheduler
	clock    *fakeClock
	events   *eventLog
	recorder *countingRecorder
}

const testErrorTTL = 3 * time.Second

func newHarness(t *testing.T, results ...getResult) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ErrorDisplayTTL = testErrorTTL
	return newHarnessWithConfig(t, cfg, results...)
}

func newHarnessWithConfig(t *testing.T, cfg Config, results ...getResult) *harness {
	t.Helper()
	h := &harness{
		source:   &fakeSource{results: results},
		sink:     &fakeSink{},
		sched:    &fakeScheduler{},
		clock:    &fakeClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
		events:   &eventLog{},
		recorder: newCountingRecorder(),
	}
	h.session = NewSession(h.source, h.sink, cfg, logx.NewWithOutput("error", io.Discard),
		WithStatusSink(h.events),
		WithRecorder(h.recorder),
		WithScheduler(h.sched),
		WithClock(h.clock.now),
		WithDispatcher(func(job func()) { job() }),
	)
	return h
}

// startTracking runs probe and first fix, leaving the session subscribed
func startTracking(t *testing.T, h *harness) {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background()))
	require.Equal(t, StateTracking, h.session.Snapshot().State)
	require.NotNil(t, h.source.onSample)
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.session.Stop())
	assert.Empty(t, h.events.events)
	assert.Equal(t, StateStopped, h.session.Snapshot().State)
}

func TestStartTwiceIsGuarded(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 10)})
	startTracking(t, h)

	err := h.session.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Len(t, h.source.subs, 1, "no second subscription")
}

func TestStartHappyPath(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 12)})
	startTracking(t, h)

	snap := h.session.Snapshot()
	assert.Equal(t, pkg.EnvironmentOutdoor, snap.Environment)
	assert.Equal(t, pkg.OutdoorProfile, snap.Profile)
	assert.True(t, snap.Subscribed)
	require.NotNil(t, snap.LastAccepted)
	assert.Equal(t, base, snap.LastAccepted.Coordinate)
	assert.Equal(t, h.clock.now(), snap.LastReportTime)

	// probe uses the shorter timeout, acquisition the longer one, neither cached
	require.Len(t, h.source.opts, 2)
	assert.Equal(t, gps.Options{HighAccuracy: true, Timeout: 5 * time.Second}, h.source.opts[0])
	assert.Equal(t, gps.Options{HighAccuracy: true, Timeout: 10 * time.Second}, h.source.opts[1])

	active := h.events.ofKind(pkg.KindActive)
	require.Len(t, active, 1)
	assert.Equal(t, pkg.StatusSuccess, active[0].Level)
	assert.Equal(t, "Location tracking active (12m accuracy)", active[0].Message)

	updated := h.events.ofKind(pkg.KindUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, pkg.AccuracyGood, updated[0].AccuracyClass)
	require.NotNil(t, updated[0].Update)
	assert.Equal(t, base.Latitude, updated[0].Update.Lat)
	assert.NotEmpty(t, updated[0].ID)

	require.Len(t, h.sink.updates, 1)
	assert.Equal(t, "2024-05-01T08:00:00.000Z", h.sink.updates[0].Timestamp)
	assert.False(t, h.sink.updates[0].IsIndoor)

	assert.Equal(t, []string{"starting", "acquiring", "tracking"}, h.recorder.states)
}

func TestInitialFixAboveCeilingStillUsed(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 150)}, getResult{sample: fix(base, 150)})
	startTracking(t, h)

	active := h.events.ofKind(pkg.KindActive)
	require.Len(t, active, 1)
	assert.Equal(t, pkg.StatusWarning, active[0].Level)
	assert.Equal(t, "Location tracking active (150m accuracy)", active[0].Message)

	require.Len(t, h.sink.updates, 1, "poor first fix is forwarded anyway")
	assert.True(t, h.sink.updates[0].IsIndoor)
	assert.Equal(t, pkg.AccuracyPoor, h.events.ofKind(pkg.KindUpdated)[0].AccuracyClass)
}

func TestProbeFailureDefaultsToOutdoor(t *testing.T) {
	h := newHarness(t,
		getResult{err: &gps.AcquisitionError{Kind: gps.KindTimeout}},
		getResult{sample: fix(base, 40)},
	)
	startTracking(t, h)

	snap := h.session.Snapshot()
	assert.Equal(t, pkg.EnvironmentOutdoor, snap.Environment)
	assert.Equal(t, pkg.OutdoorProfile, snap.Profile)
	assert.Empty(t, h.events.ofKind(pkg.KindError), "probe failure is not surfaced")
}

func TestProbeSeedsIndoor(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 70)}, getResult{sample: fix(base, 75)})
	startTracking(t, h)

	snap := h.session.Snapshot()
	assert.Equal(t, pkg.EnvironmentIndoor, snap.Environment)
	assert.Equal(t, pkg.IndoorProfile, snap.Profile)
}

func TestInitialAcquisitionExhaustion(t *testing.T) {
	unavailable := &gps.AcquisitionError{Kind: gps.KindPositionUnavailable}
	h := newHarness(t,
		getResult{sample: fix(base, 10)}, // probe
		getResult{err: unavailable},
		getResult{err: unavailable},
		getResult{err: unavailable},
	)
	retryDelay := 2000 * time.Millisecond

	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, StateAcquiring, h.session.Snapshot().State)
	assert.Equal(t, 1, h.session.Snapshot().RetryCount)

	retries := h.sched.pending(retryDelay)
	require.Len(t, retries, 1)
	h.sched.fire(retries[0])

	retries = h.sched.pending(retryDelay)
	require.Len(t, retries, 1)
	h.sched.fire(retries[0])

	assert.Empty(t, h.sched.pending(retryDelay), "no fourth attempt is scheduled")
	assert.Equal(t, 4, h.source.gets, "probe plus three attempts")

	acquiring := h.events.ofKind(pkg.KindAcquiring)
	require.Len(t, acquiring, 3)
	for i, ev := range acquiring {
		assert.Equal(t, pkg.StatusWarning, ev.Level)
		assert.Equal(t, []string{
			"Acquiring GPS signal (attempt 1/3)...",
			"Acquiring GPS signal (attempt 2/3)...",
			"Acquiring GPS signal (attempt 3/3)...",
		}[i], ev.Message)
	}

	errs := h.events.ofKind(pkg.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Error getting location: Location information unavailable.", errs[0].Message)

	snap := h.session.Snapshot()
	assert.Equal(t, StateStopped, snap.State)
	assert.False(t, snap.PendingRestart)
	assert.Empty(t, h.source.subs)
	assert.Equal(t, 3, h.recorder.errors["position_unavailable"])

	// caller must start again explicitly
	h.source.results = []getResult{{sample: fix(base, 10)}, {sample: fix(base, 10)}}
	startTracking(t, h)
}

func TestRateLimitDropsWithoutSubmitting(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 10)})
	startTracking(t, h)
	require.Len(t, h.sink.updates, 1)

	h.clock.advance(1000 * time.Millisecond)
	h.source.onSample(fix(north(base, 50), 10))
	assert.Len(t, h.sink.updates, 1, "sample inside the 5000ms outdoor interval is dropped")
	assert.Equal(t, 1, h.recorder.dropped["rate_limited"])

	h.clock.advance(4000 * time.Millisecond)
	h.source.onSample(fix(north(base, 50), 10))
	assert.Len(t, h.sink.updates, 2)
}

func TestReclassificationEmitsOneModeSwitch(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 20)}, getResult{sample: fix(base, 20)})
	startTracking(t, h)
	require.Empty(t, h.events.ofKind(pkg.KindModeSwitch))

	h.clock.advance(5 * time.Second)
	h.source.onSample(fix(north(base, 30), 80))

	switches := h.events.ofKind(pkg.KindModeSwitch)
	require.Len(t, switches, 1)
	assert.Equal(t, pkg.StatusWarning, switches[0].Level)
	assert.Equal(t, "Switched to indoor mode (80m accuracy)", switches[0].Message)
	assert.Equal(t, 1, h.recorder.switches["indoor"])

	snap := h.session.Snapshot()
	assert.Equal(t, pkg.EnvironmentIndoor, snap.Environment)
	assert.Equal(t, pkg.IndoorProfile, snap.Profile)
	require.Len(t, h.sink.updates, 2)
	assert.True(t, h.sink.updates[1].IsIndoor)

	// mode switch is announced before the update it applies to
	var kinds []pkg.StatusKind
	for _, ev := range h.events.events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []pkg.StatusKind{pkg.KindActive, pkg.KindUpdated, pkg.KindModeSwitch, pkg.KindUpdated}, kinds)
}

func TestSmallAccuracyChangeKeepsClassification(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 45)}, getResult{sample: fix(base, 45)})
	startTracking(t, h)

	h.clock.advance(5 * time.Second)
	h.source.onSample(fix(north(base, 30), 54))

	assert.Empty(t, h.events.ofKind(pkg.KindModeSwitch))
	assert.Equal(t, pkg.EnvironmentOutdoor, h.session.Snapshot().Environment)
}

func TestValidationRejectionsAreSilent(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 10)})
	startTracking(t, h)
	before := len(h.events.events)

	h.clock.advance(6 * time.Second)
	h.source.onSample(fix(pkg.Coordinate{Latitude: 2.0, Longitude: 101.5}, 10))
	h.source.onSample(fix(north(base, 2), 10))

	assert.Len(t, h.sink.updates, 1)
	assert.Len(t, h.events.events, before, "rejections emit no status")
	assert.Equal(t, 1, h.recorder.dropped["out_of_bounds"])
	assert.Equal(t, 1, h.recorder.dropped["insufficient_movement"])
	assert.Equal(t, base, h.session.Snapshot().LastAccepted.Coordinate)

	h.source.onSample(fix(north(base, 10), 10))
	assert.Len(t, h.sink.updates, 2)
}

func TestSinkFailureKeepsState(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 10)})
	startTracking(t, h)
	first := h.session.Snapshot()

	h.sink.respond = func(pkg.LocationUpdate) (pkg.ReportAck, error) {
		return pkg.ReportAck{}, errors.New("connection refused")
	}
	h.clock.advance(6 * time.Second)
	h.source.onSample(fix(north(base, 20), 10))

	snap := h.session.Snapshot()
	assert.Equal(t, first.LastAccepted, snap.LastAccepted)
	assert.Equal(t, first.LastReportTime, snap.LastReportTime)
	assert.Equal(t, StateTracking, snap.State)
	assert.False(t, snap.PendingRestart, "subscription is still active")

	errs := h.events.ofKind(pkg.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Error getting location: connection refused", errs[0].Message)
	assert.Equal(t, 1, h.recorder.reports["error"])

	// the failed report did not move the rate limit window
	h.sink.respond = nil
	h.source.onSample(fix(north(base, 21), 10))
	assert.Len(t, h.sink.updates, 3)
	assert.Equal(t, north(base, 21), h.session.Snapshot().LastAccepted.Coordinate)
}

func TestSinkNotAcceptedIsCountedOnly(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 10)})
	h.sink.respond = func(pkg.LocationUpdate) (pkg.ReportAck, error) {
		return pkg.ReportAck{Accepted: false, Message: "driver not found"}, nil
	}
	startTracking(t, h)

	snap := h.session.Snapshot()
	assert.Nil(t, snap.LastAccepted)
	assert.True(t, snap.LastReportTime.IsZero())
	assert.Empty(t, h.events.ofKind(pkg.KindError))
	assert.Empty(t, h.events.ofKind(pkg.KindUpdated))
	assert.Equal(t, 1, h.recorder.reports["rejected"])
}

func TestStreamErrorSchedulesSingleRestart(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 10)})
	startTracking(t, h)
	restartDelay := 5000 * time.Millisecond

	sub := h.source.current()
	sub.active = false
	streamErr := &gps.AcquisitionError{Kind: gps.KindTimeout}
	h.source.onError(streamErr)

	snap := h.session.Snapshot()
	assert.Equal(t, StateRetrying, snap.State)
	assert.True(t, snap.PendingRestart)
	require.Len(t, h.sched.pending(restartDelay), 1)

	// a second failure while the restart is pending does not compound
	h.source.onError(streamErr)
	assert.Len(t, h.sched.pending(restartDelay), 1)
	assert.Equal(t, 1, h.recorder.restarts)
	assert.Len(t, h.events.ofKind(pkg.KindError), 2)
	assert.Equal(t, "Error getting location: Location request timed out.", h.events.ofKind(pkg.KindError)[0].Message)

	h.source.results = []getResult{{sample: fix(north(base, 40), 10)}}
	h.clock.advance(restartDelay)
	h.sched.fire(h.sched.pending(restartDelay)[0])

	snap = h.session.Snapshot()
	assert.Equal(t, StateTracking, snap.State)
	assert.False(t, snap.PendingRestart)
	assert.Len(t, h.source.subs, 2)
	assert.True(t, sub.cancelled)
	assert.True(t, h.source.current().active)
	assert.Len(t, h.sink.updates, 2)
}

func TestStreamErrorWithActiveSubscriptionDoesNotRestart(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 10)})
	startTracking(t, h)

	h.source.onError(&gps.AcquisitionError{Kind: gps.KindPositionUnavailable})

	snap := h.session.Snapshot()
	assert.Equal(t, StateTracking, snap.State)
	assert.False(t, snap.PendingRestart)
	assert.Empty(t, h.sched.pending(5*time.Second))
	assert.Len(t, h.events.ofKind(pkg.KindError), 1)
}

func TestWatchFailureSchedulesRestart(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 10)})
	h.source.watchErr = &gps.AcquisitionError{Kind: gps.KindPermissionDenied}

	require.NoError(t, h.session.Start(context.Background()))

	snap := h.session.Snapshot()
	assert.Equal(t, StateRetrying, snap.State)
	assert.True(t, snap.PendingRestart)
	assert.Equal(t, "Error getting location: Location permission denied.", h.events.ofKind(pkg.KindError)[0].Message)
}

func TestErrorStatusIsClearedAfterTTL(t *testing.T) {
	h := newHarnessWithConfig(t, DefaultConfig(), getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 10)})
	startTracking(t, h)

	h.source.onError(&gps.AcquisitionError{Kind: gps.KindTimeout})
	errs := h.events.ofKind(pkg.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, 5000*time.Millisecond, errs[0].TTL)

	// both the clear and (if any) restart use 5s; the clear is the only timer here
	timers := h.sched.pending(5000 * time.Millisecond)
	require.Len(t, timers, 1)
	h.sched.fire(timers[0])
	assert.Len(t, h.events.ofKind(pkg.KindErrorCleared), 1)
}

func TestStopResetsState(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 10)})
	startTracking(t, h)
	sub := h.source.current()

	assert.True(t, h.session.Stop())

	snap := h.session.Snapshot()
	assert.Equal(t, StateStopped, snap.State)
	assert.Equal(t, pkg.EnvironmentUnknown, snap.Environment)
	assert.Nil(t, snap.LastAccepted)
	assert.True(t, snap.LastReportTime.IsZero())
	assert.False(t, snap.Subscribed)
	assert.True(t, sub.cancelled)
	assert.Len(t, h.events.ofKind(pkg.KindStopped), 1)

	// late callbacks from the old subscription are ignored
	h.clock.advance(10 * time.Second)
	h.source.onSample(fix(north(base, 100), 10))
	h.source.onError(errors.New("late"))
	assert.Len(t, h.sink.updates, 1)
	assert.Empty(t, h.events.ofKind(pkg.KindError))

	assert.False(t, h.session.Stop(), "second stop is a no-op")
}

func TestStopCancelsPendingRestart(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 10)})
	startTracking(t, h)

	h.source.current().active = false
	h.source.onError(&gps.AcquisitionError{Kind: gps.KindTimeout})
	restart := h.sched.pending(5 * time.Second)
	require.Len(t, restart, 1)

	h.session.Stop()
	assert.True(t, restart[0].stopped)

	// even if the timer fires anyway, the stale generation is ignored
	h.sched.fire(restart[0])
	assert.Equal(t, StateStopped, h.session.Snapshot().State)
	assert.Len(t, h.source.subs, 1)
}

func TestInFlightReportDiscardedAfterStop(t *testing.T) {
	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: fix(base, 10)})
	h.sink.respond = func(pkg.LocationUpdate) (pkg.ReportAck, error) {
		h.session.Stop()
		return pkg.ReportAck{Accepted: true}, nil
	}

	require.NoError(t, h.session.Start(context.Background()))

	snap := h.session.Snapshot()
	assert.Equal(t, StateStopped, snap.State)
	assert.Nil(t, snap.LastAccepted, "outcome of the outstanding report is discarded")
	assert.Empty(t, h.events.ofKind(pkg.KindUpdated))
	assert.Empty(t, h.source.subs, "stale subscribe is not opened")
}

func TestTimestampUsesCaptureTime(t *testing.T) {
	captured := time.Date(2024, 5, 1, 7, 59, 58, 250e6, time.FixedZone("MYT", 8*3600))
	s := fix(base, 10)
	s.CapturedAt = captured
	s.SpeedMPS = 4.2

	h := newHarness(t, getResult{sample: fix(base, 10)}, getResult{sample: s})
	startTracking(t, h)

	require.Len(t, h.sink.updates, 1)
	assert.Equal(t, "2024-04-30T23:59:58.250Z", h.sink.updates[0].Timestamp)
	assert.Equal(t, 4.2, h.sink.updates[0].Speed)
}

func TestAccuracyClass(t *testing.T) {
	tests := []struct {
		accuracy float64
		want     string
	}{
		{5, pkg.AccuracyGood},
		{30, pkg.AccuracyGood},
		{31, pkg.AccuracyMedium},
		{50, pkg.AccuracyMedium},
		{51, pkg.AccuracyPoor},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AccuracyClass(tt.accuracy, pkg.OutdoorProfile), "accuracy %v", tt.accuracy)
	}
}
