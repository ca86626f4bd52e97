package tracker

import (
	"context"
	"time"

	"github.com/starfail/geotrack/pkg"
)

// ReportSink accepts validated location updates
type ReportSink interface {
	Submit(ctx context.Context, update pkg.LocationUpdate) (pkg.ReportAck, error)
}

// StatusSink receives status events. Implementations must be safe for
// concurrent use; events are delivered outside the session lock.
type StatusSink interface {
	HandleStatus(ev pkg.StatusEvent)
}

// StatusSinkFunc adapts a function to StatusSink
type StatusSinkFunc func(ev pkg.StatusEvent)

// HandleStatus calls f(ev)
func (f StatusSinkFunc) HandleStatus(ev pkg.StatusEvent) { f(ev) }

// Recorder receives counters about what the session did
type Recorder interface {
	SampleDropped(reason string)
	ReportResult(result string)
	EnvironmentSwitched(env string)
	AcquisitionError(kind string)
	StateChanged(state string)
	RestartScheduled()
}

type nopRecorder struct{}

func (nopRecorder) SampleDropped(string) {}
func (nopRecorder) ReportResult(string) {}
func (nopRecorder) EnvironmentSwitched(string) {}
func (nopRecorder) AcquisitionError(string) {}
func (nopRecorder) StateChanged(string) {}
func (nopRecorder) RestartScheduled() {}

// Timer is a pending scheduled callback
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Dispatcher launches asynchronous work such as position requests and
// report submissions
type Dispatcher func(job func())

func goDispatcher(job func()) { go job() }

// Option customizes a Session
type Option func(*Session)

// WithStatusSink adds a status event subscriber
func WithStatusSink(sink StatusSink) Option {
	return func(s *Session) { s.sinks = append(s.sinks, sink) }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithScheduler replaces the timer implementation
func WithScheduler(sch Scheduler) Option {
	return func(s *Session) { s.scheduler = sch }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithDispatcher replaces the goroutine launcher
func WithDispatcher(d Dispatcher) Option {
	return func(s *Session) { s.dispatch = d }
}
