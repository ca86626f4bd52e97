package gps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/retry"
)

// ubus exit status for UBUS_STATUS_PERMISSION_DENIED
const ubusPermissionDenied = 6

// UbusSource reads the router's built-in GNSS module through `ubus call gps info`
type UbusSource struct {
	runner *retry.Runner
	exec   retry.ExecFunc
	poller *Poller
	cache  fixCache
	now    func() time.Time
}

// NewUbusSource creates a RutOS GPS source polled every interval
func NewUbusSource(cfg retry.Config, interval time.Duration) *UbusSource {
	s := &UbusSource{
		exec: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
		now: time.Now,
	}
	s.runner = retry.NewRunner(cfg).WithExec(s.call)
	s.poller = NewPoller(s.GetOnce, interval)
	return s
}

// WithExec replaces the command executor
func (s *UbusSource) WithExec(fn retry.ExecFunc) *UbusSource {
	s.exec = fn
	return s
}

// call runs ubus and stops retries on permission errors
func (s *UbusSource) call(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := s.exec(ctx, name, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == ubusPermissionDenied {
			return nil, retry.Permanent(&AcquisitionError{Kind: KindPermissionDenied, Err: err})
		}
		return nil, err
	}
	return out, nil
}

// GetOnce performs one ubus query, honoring MaxCacheAge and Timeout
func (s *UbusSource) GetOnce(ctx context.Context, opts Options) (pkg.PositionSample, error) {
	if cached, ok := s.cache.lookup(opts.MaxCacheAge, s.now()); ok {
		return cached, nil
	}

	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()

	out, err := s.runner.Output(ctx, "ubus", "call", "gps", "info")
	if err != nil {
		if ClassifyError(err) == KindPermissionDenied {
			return pkg.PositionSample{}, err
		}
		return pkg.PositionSample{}, timeoutOr(ctx, unavailable(err))
	}

	sample, err := parseUbusGPS(out, s.now())
	if err != nil {
		return pkg.PositionSample{}, err
	}
	s.cache.store(sample)
	return sample, nil
}

// Watch polls ubus at the configured interval
func (s *UbusSource) Watch(opts Options, onSample func(pkg.PositionSample), onError func(error)) (Subscription, error) {
	return s.poller.Watch(opts, onSample, onError)
}

// parseUbusGPS parses the RutOS gps info object. Depending on firmware the
// numbers come back as JSON numbers or as strings.
func parseUbusGPS(data []byte, now time.Time) (pkg.PositionSample, error) {
	var resp map[string]interface{}
	if err := json.Unmarshal(data, &resp); err != nil {
		return pkg.PositionSample{}, unavailable(fmt.Errorf("failed to parse ubus GPS response: %w", err))
	}

	sample := pkg.PositionSample{Source: "rutos", CapturedAt: now}

	if fix, ok := resp["fix"].(string); ok && fix != "3D" && fix != "2D" {
		return pkg.PositionSample{}, unavailable(fmt.Errorf("%w: fix %q", ErrNoFix, fix))
	}

	lat, okLat := numberField(resp, "latitude")
	lon, okLon := numberField(resp, "longitude")
	if !okLat || !okLon || (lat == 0 && lon == 0) {
		return pkg.PositionSample{}, unavailable(ErrNoFix)
	}
	sample.Latitude = lat
	sample.Longitude = lon

	sample.AccuracyM = fallbackAccuracyM
	if acc, ok := numberField(resp, "accuracy"); ok && acc > 0 {
		sample.AccuracyM = acc
	} else if hdop, ok := numberField(resp, "hdop"); ok && hdop > 0 {
		sample.AccuracyM = hdopToMeters(hdop)
	}

	// gpsctl reports speed in km/h
	if speed, ok := numberField(resp, "speed"); ok && speed > 0 {
		sample.SpeedMPS = speed / 3.6
	}

	if !sample.Valid() {
		return pkg.PositionSample{}, unavailable(fmt.Errorf("coordinate out of range: %.6f,%.6f", lat, lon))
	}
	return sample, nil
}

func numberField(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// hdopToMeters estimates horizontal accuracy from HDOP
func hdopToMeters(hdop float64) float64 {
	return hdop * 5.0
}
