package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/jacobsa/go-serial/serial"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/logx"
)

const knotsToMPS = 0.514444

// fallbackAccuracyM is assumed when a receiver reports neither accuracy nor HDOP
const fallbackAccuracyM = 50.0

// NMEAConfig describes the serial GNSS receiver
type NMEAConfig struct {
	Device   string
	BaudRate uint
}

// NMEASource streams fixes from a serial NMEA 0183 receiver
type NMEASource struct {
	cfg    NMEAConfig
	logger *logx.Logger
	open   func() (io.ReadWriteCloser, error)
	now    func() time.Time
	cache  fixCache

	mu      sync.Mutex
	port    io.Closer
	running bool
	hdop    float64
	hasFix  bool // last RMC was valid
	subs    map[int]*nmeaSubscription
	nextID  int
	waiters []chan fixResult
}

type fixResult struct {
	sample pkg.PositionSample
	err    error
}

// NewNMEASource creates a source for the receiver described by cfg
func NewNMEASource(cfg NMEAConfig, logger *logx.Logger) *NMEASource {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	s := &NMEASource{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]*nmeaSubscription),
	}
	s.open = func() (io.ReadWriteCloser, error) {
		return serial.Open(serial.OpenOptions{
			PortName:        cfg.Device,
			BaudRate:        cfg.BaudRate,
			DataBits:        8,
			StopBits:        1,
			MinimumReadSize: 1,
			ParityMode:      serial.PARITY_NONE,
		})
	}
	return s
}

// ensureRunning opens the port and starts the reader if needed
func (s *NMEASource) ensureRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	port, err := s.open()
	if err != nil {
		kind := KindPositionUnavailable
		if errors.Is(err, fs.ErrPermission) {
			kind = KindPermissionDenied
		}
		return &AcquisitionError{Kind: kind, Err: fmt.Errorf("open %s: %w", s.cfg.Device, err)}
	}
	s.port = port
	s.running = true
	s.logger.Info("NMEA receiver opened", "device", s.cfg.Device, "baud", s.cfg.BaudRate)

	go s.readLoop(port)
	return nil
}

func (s *NMEASource) readLoop(r io.Reader) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			s.fail(err)
			return
		}
		s.handleLine(line)
	}
}

// handleLine parses one sentence and dispatches any resulting fix
func (s *NMEASource) handleLine(line string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		s.logger.Debug("NMEA parse error", "error", err, "line", line)
		return
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		s.mu.Lock()
		if m.FixQuality != nmea.Invalid {
			s.hdop = m.HDOP
		}
		s.mu.Unlock()
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Validity != nmea.ValidRMC {
			s.void()
			return
		}
		s.mu.Lock()
		accuracy := fallbackAccuracyM
		if s.hdop > 0 {
			accuracy = hdopToMeters(s.hdop)
		}
		s.mu.Unlock()
		s.publish(pkg.PositionSample{
			Coordinate: pkg.Coordinate{Latitude: m.Latitude, Longitude: m.Longitude},
			AccuracyM:  accuracy,
			SpeedMPS:   m.Speed * knotsToMPS,
			CapturedAt: s.now(),
			Source:     "nmea",
		})
	}
}

func (s *NMEASource) publish(sample pkg.PositionSample) {
	s.cache.store(sample)

	s.mu.Lock()
	s.hasFix = true
	waiters := s.waiters
	s.waiters = nil
	subs := s.subscribers()
	s.mu.Unlock()

	for _, w := range waiters {
		w <- fixResult{sample: sample}
	}
	for _, sub := range subs {
		sub.deliver(sample)
	}
}

// void handles a receiver reporting no fix. Subscribers hear about it once
// per loss of fix; pending one-shot requests fail immediately.
func (s *NMEASource) void() {
	err := unavailable(ErrNoFix)

	s.mu.Lock()
	lost := s.hasFix
	s.hasFix = false
	waiters := s.waiters
	s.waiters = nil
	var subs []*nmeaSubscription
	if lost {
		subs = s.subscribers()
	}
	s.mu.Unlock()

	for _, w := range waiters {
		w <- fixResult{err: err}
	}
	for _, sub := range subs {
		sub.onError(err)
	}
}

// fail tears the reader down after a read error
func (s *NMEASource) fail(readErr error) {
	err := unavailable(fmt.Errorf("read %s: %w", s.cfg.Device, readErr))

	s.mu.Lock()
	if s.port != nil {
		s.port.Close()
		s.port = nil
	}
	s.running = false
	s.hasFix = false
	waiters := s.waiters
	s.waiters = nil
	subs := s.subscribers()
	s.subs = make(map[int]*nmeaSubscription)
	s.mu.Unlock()

	if !errors.Is(readErr, io.ErrClosedPipe) && !errors.Is(readErr, fs.ErrClosed) {
		s.logger.Warn("NMEA receiver read failed", "device", s.cfg.Device, "error", readErr)
	}
	for _, w := range waiters {
		w <- fixResult{err: err}
	}
	for _, sub := range subs {
		sub.active.Store(false)
		sub.stopTimer()
		sub.onError(err)
	}
}

// subscribers must be called with s.mu held
func (s *NMEASource) subscribers() []*nmeaSubscription {
	subs := make([]*nmeaSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	return subs
}

// GetOnce returns a cached fix younger than MaxCacheAge or waits for the next one
func (s *NMEASource) GetOnce(ctx context.Context, opts Options) (pkg.PositionSample, error) {
	if cached, ok := s.cache.lookup(opts.MaxCacheAge, s.now()); ok {
		return cached, nil
	}
	if err := s.ensureRunning(); err != nil {
		return pkg.PositionSample{}, err
	}

	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()

	ch := make(chan fixResult, 1)
	s.mu.Lock()
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case res := <-ch:
		return res.sample, res.err
	case <-ctx.Done():
		s.dropWaiter(ch)
		return pkg.PositionSample{}, timeoutOr(ctx, ctx.Err())
	}
}

func (s *NMEASource) dropWaiter(ch chan fixResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// Watch delivers every valid fix until the subscription is cancelled or the
// receiver goes away. With opts.Timeout set, each quiet period of that length
// without a fix reports a timeout error; the subscription stays active.
func (s *NMEASource) Watch(opts Options, onSample func(pkg.PositionSample), onError func(error)) (Subscription, error) {
	if err := s.ensureRunning(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	sub := &nmeaSubscription{source: s, id: id, onSample: onSample, onError: onError, timeout: opts.Timeout}
	sub.active.Store(true)
	s.subs[id] = sub
	sub.arm()
	return sub, nil
}

// Close releases the serial port
func (s *NMEASource) Close() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

type nmeaSubscription struct {
	source   *NMEASource
	id       int
	onSample func(pkg.PositionSample)
	onError  func(error)
	active   atomic.Bool

	timeout time.Duration
	timerMu sync.Mutex
	timer   *time.Timer
}

// arm (re)starts the quiet-period deadline
func (n *nmeaSubscription) arm() {
	if n.timeout <= 0 {
		return
	}
	n.timerMu.Lock()
	defer n.timerMu.Unlock()
	if !n.active.Load() {
		return
	}
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.timeout, n.expire)
}

func (n *nmeaSubscription) stopTimer() {
	n.timerMu.Lock()
	defer n.timerMu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *nmeaSubscription) expire() {
	if !n.active.Load() {
		return
	}
	n.onError(&AcquisitionError{Kind: KindTimeout, Err: fmt.Errorf("no fix within %s", n.timeout)})
	n.arm()
}

func (n *nmeaSubscription) deliver(sample pkg.PositionSample) {
	n.arm()
	n.onSample(sample)
}

func (n *nmeaSubscription) Cancel() {
	n.active.Store(false)
	n.stopTimer()
	n.source.mu.Lock()
	delete(n.source.subs, n.id)
	n.source.mu.Unlock()
}

func (n *nmeaSubscription) Active() bool {
	return n.active.Load()
}
