// Package gps provides position sources and the filtering primitives used by
// the tracker: distance, indoor/outdoor classification and sample validation
package gps

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/starfail/geotrack/pkg"
)

// Options tune a position request
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxCacheAge  time.Duration // zero means a fresh fix is required
}

// PositionSource yields raw position samples, once or continuously
type PositionSource interface {
	GetOnce(ctx context.Context, opts Options) (pkg.PositionSample, error)
	Watch(opts Options, onSample func(pkg.PositionSample), onError func(error)) (Subscription, error)
}

// Subscription is a handle on a continuous position stream
type Subscription interface {
	Cancel()
	Active() bool
}

// ErrorKind is the abstract acquisition failure category
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPermissionDenied
	KindPositionUnavailable
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindPositionUnavailable:
		return "position_unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// AcquisitionError is returned by position sources
type AcquisitionError struct {
	Kind ErrorKind
	Err  error
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// ErrNoFix is the cause reported when a receiver has no valid fix
var ErrNoFix = errors.New("no valid fix")

func unavailable(err error) error {
	return &AcquisitionError{Kind: KindPositionUnavailable, Err: err}
}

// ClassifyError maps any error to an ErrorKind
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, ErrNoFix):
		return KindPositionUnavailable
	}
	return KindUnknown
}

// ErrorMessage renders the user-visible text for an acquisition error
func ErrorMessage(err error) string {
	switch ClassifyError(err) {
	case KindPermissionDenied:
		return "Error getting location: Location permission denied."
	case KindPositionUnavailable:
		return "Error getting location: Location information unavailable."
	case KindTimeout:
		return "Error getting location: Location request timed out."
	default:
		if cause := rootCause(err); cause != "" {
			return "Error getting location: " + cause
		}
		return "Error getting location: Unknown error occurred."
	}
}

const maxCauseLen = 80

// rootCause returns the innermost error text, first line only, so transport
// details such as URLs from the outer wrappers stay out of the status line
func rootCause(err error) string {
	if err == nil {
		return ""
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	msg := strings.TrimSpace(err.Error())
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[:i])
	}
	if r := []rune(msg); len(r) > maxCauseLen {
		msg = string(r[:maxCauseLen]) + "..."
	}
	return msg
}
