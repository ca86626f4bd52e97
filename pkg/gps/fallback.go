package gps

import (
	"context"
	"errors"
	"fmt"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/logx"
)

// NamedSource is a position source with a name for logs
type NamedSource struct {
	Name   string
	Source PositionSource
}

// FallbackSource tries several sources in priority order
type FallbackSource struct {
	sources []NamedSource
	logger  *logx.Logger
}

// NewFallbackSource creates a source that prefers earlier entries
func NewFallbackSource(logger *logx.Logger, sources ...NamedSource) *FallbackSource {
	return &FallbackSource{sources: sources, logger: logger}
}

// GetOnce returns the first fix any source produces. The error of the most
// specific failure is returned when all of them fail.
func (f *FallbackSource) GetOnce(ctx context.Context, opts Options) (pkg.PositionSample, error) {
	if len(f.sources) == 0 {
		return pkg.PositionSample{}, unavailable(errors.New("no position sources configured"))
	}

	var lastErr error
	for _, src := range f.sources {
		sample, err := src.Source.GetOnce(ctx, opts)
		if err == nil {
			return sample, nil
		}
		f.logger.Debug("position source failed", "source", src.Name, "error", err)
		if lastErr == nil || ClassifyError(lastErr) == KindUnknown {
			lastErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return pkg.PositionSample{}, lastErr
}

// Watch subscribes to the first source that accepts a subscription
func (f *FallbackSource) Watch(opts Options, onSample func(pkg.PositionSample), onError func(error)) (Subscription, error) {
	var errs []error
	for _, src := range f.sources {
		sub, err := src.Source.Watch(opts, onSample, onError)
		if err == nil {
			f.logger.Info("watching position source", "source", src.Name)
			return sub, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
	}
	if len(errs) == 0 {
		return nil, unavailable(errors.New("no position sources configured"))
	}
	return nil, errors.Join(errs...)
}
