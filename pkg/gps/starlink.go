package gps

import (
	"context"
	"errors"
	"time"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/starlink"
)

// DefaultStarlinkSigmaM is used when the dish does not report an uncertainty
const DefaultStarlinkSigmaM = 30.0

// DishLocator is the part of the Starlink client the source needs
type DishLocator interface {
	GetLocation(ctx context.Context) (*starlink.DishLocation, error)
}

// StarlinkSource uses the dish's GNSS receiver as position source
type StarlinkSource struct {
	client DishLocator
	poller *Poller
	cache  fixCache
	now    func() time.Time
}

// NewStarlinkSource polls the dish every interval
func NewStarlinkSource(client DishLocator, interval time.Duration) *StarlinkSource {
	s := &StarlinkSource{client: client, now: time.Now}
	s.poller = NewPoller(s.GetOnce, interval)
	return s
}

// GetOnce asks the dish for its current location
func (s *StarlinkSource) GetOnce(ctx context.Context, opts Options) (pkg.PositionSample, error) {
	if cached, ok := s.cache.lookup(opts.MaxCacheAge, s.now()); ok {
		return cached, nil
	}

	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()

	loc, err := s.client.GetLocation(ctx)
	if err != nil {
		if errors.Is(err, starlink.ErrLocationDisabled) {
			return pkg.PositionSample{}, &AcquisitionError{Kind: KindPermissionDenied, Err: err}
		}
		return pkg.PositionSample{}, timeoutOr(ctx, unavailable(err))
	}
	if loc.LatDeg == 0 && loc.LonDeg == 0 {
		return pkg.PositionSample{}, unavailable(ErrNoFix)
	}

	sample := pkg.PositionSample{
		Coordinate: pkg.Coordinate{Latitude: loc.LatDeg, Longitude: loc.LonDeg},
		AccuracyM:  loc.SigmaM,
		CapturedAt: s.now(),
		Source:     "starlink",
	}
	if sample.AccuracyM <= 0 {
		sample.AccuracyM = DefaultStarlinkSigmaM
	}
	s.cache.store(sample)
	return sample, nil
}

// Watch polls the dish at the configured interval
func (s *StarlinkSource) Watch(opts Options, onSample func(pkg.PositionSample), onError func(error)) (Subscription, error) {
	return s.poller.Watch(opts, onSample, onError)
}
