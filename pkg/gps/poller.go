package gps

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starfail/geotrack/pkg"
)

// FetchFunc performs one position read
type FetchFunc func(ctx context.Context, opts Options) (pkg.PositionSample, error)

// Poller turns a one-shot fetch into a continuous stream by polling it
type Poller struct {
	fetch    FetchFunc
	interval time.Duration
}

// NewPoller polls fetch every interval
func NewPoller(fetch FetchFunc, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{fetch: fetch, interval: interval}
}

// Watch starts polling immediately and then on every interval until cancelled.
// A permission error ends the subscription.
func (p *Poller) Watch(opts Options, onSample func(pkg.PositionSample), onError func(error)) (Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &pollSubscription{cancel: cancel, done: make(chan struct{})}
	sub.active.Store(true)

	go func() {
		defer close(sub.done)
		defer sub.active.Store(false)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			if !p.poll(ctx, opts, onSample, onError) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return sub, nil
}

// poll returns false when polling must stop
func (p *Poller) poll(ctx context.Context, opts Options, onSample func(pkg.PositionSample), onError func(error)) bool {
	reqCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	sample, err := p.fetch(reqCtx, opts)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		onError(err)
		return ClassifyError(err) != KindPermissionDenied
	}
	onSample(sample)
	return true
}

type pollSubscription struct {
	cancel context.CancelFunc
	active atomic.Bool
	done   chan struct{}
}

func (s *pollSubscription) Cancel() {
	s.active.Store(false)
	s.cancel()
}

func (s *pollSubscription) Active() bool {
	return s.active.Load()
}

// fixCache remembers the most recent good fix for MaxCacheAge lookups
type fixCache struct {
	mu     sync.Mutex
	sample pkg.PositionSample
	have   bool
}

func (c *fixCache) store(s pkg.PositionSample) {
	c.mu.Lock()
	c.sample = s
	c.have = true
	c.mu.Unlock()
}

func (c *fixCache) lookup(maxAge time.Duration, now time.Time) (pkg.PositionSample, bool) {
	if maxAge <= 0 {
		return pkg.PositionSample{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.have || now.Sub(c.sample.CapturedAt) > maxAge {
		return pkg.PositionSample{}, false
	}
	return c.sample, true
}

func withTimeout(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if opts.Timeout > 0 {
		return context.WithTimeout(ctx, opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// timeoutOr converts an expired context into a Timeout acquisition error
func timeoutOr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &AcquisitionError{Kind: KindTimeout, Err: ctx.Err()}
	}
	return err
}
