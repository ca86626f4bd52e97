package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starfail/geotrack/pkg"
	"github.com/starfail/geotrack/pkg/logx"
	"github.com/starfail/geotrack/pkg/telem"
)

func newTestServer() (*Server, *telem.Store) {
	store := telem.NewStore(telem.Config{})
	return NewServer(store, "test", logx.NewWithOutput("error", io.Discard)), store
}

func TestRecorderCounters(t *testing.T) {
	s, _ := newTestServer()

	s.SampleDropped("rate_limited")
	s.SampleDropped("rate_limited")
	s.SampleDropped("out_of_bounds")
	s.ReportResult("accepted")
	s.EnvironmentSwitched("indoor")
	s.AcquisitionError("timeout")
	s.RestartScheduled()

	assert.Equal(t, 2.0, testutil.ToFloat64(s.samplesDropped.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.samplesDropped.WithLabelValues("out_of_bounds")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.reports.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.envSwitches.WithLabelValues("indoor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.acquisitionErrs.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.restarts))
}

func TestStateChangedIsExclusive(t *testing.T) {
	s, _ := newTestServer()
	assert.Equal(t, 1.0, testutil.ToFloat64(s.sessionState.WithLabelValues("stopped")))

	s.StateChanged("tracking")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.sessionState.WithLabelValues("tracking")))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.sessionState.WithLabelValues("stopped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.sessionState.WithLabelValues("acquiring")))
}

func TestHandleStatusObservesUpdates(t *testing.T) {
	s, _ := newTestServer()

	s.HandleStatus(pkg.StatusEvent{Kind: pkg.KindAcquiring, Level: pkg.StatusWarning})
	s.HandleStatus(pkg.StatusEvent{
		Kind:   pkg.KindUpdated,
		Level:  pkg.StatusSuccess,
		Update: &pkg.LocationUpdate{Lat: 3.07, Lng: 101.51, Accuracy: 12},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(s.statusEvents.WithLabelValues("acquiring", "warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.statusEvents.WithLabelValues("updated", "success")))
	assert.Equal(t, 3.07, testutil.ToFloat64(s.lastFix.WithLabelValues("lat")))
	assert.Equal(t, 12.0, testutil.ToFloat64(s.lastFix.WithLabelValues("accuracy")))
	assert.Equal(t, 1, testutil.CollectAndCount(s.reportedAccuracy))
}

func TestHandlerExposesMetrics(t *testing.T) {
	s, store := newTestServer()
	store.HandleStatus(pkg.StatusEvent{Kind: pkg.KindError})
	s.ReportResult("error")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `geotrack_reports_total{result="error"} 1`), body)
	assert.Contains(t, body, "geotrack_telemetry_events 1")
	assert.Contains(t, body, `geotrack_daemon_version_info{go_version=`)
}

func TestSeparateRegistries(t *testing.T) {
	a, _ := newTestServer()
	b, _ := newTestServer()
	a.RestartScheduled()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.restarts))
}
