package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveSession(t *testing.T) {
	before := testutil.ToFloat64(SessionsTotal.WithLabelValues("0", "ok"))
	ObserveSession("0", "ok", 2*time.Second)
	require.Equal(t, before+1, testutil.ToFloat64(SessionsTotal.WithLabelValues("0", "ok")))
}

func TestHandlerExposesNodeMetrics(t *testing.T) {
	EngineRuns.WithLabelValues("1", "ok").Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.True(t, strings.Contains(body, "impact_smc_engine_runs_total"))
	require.True(t, strings.Contains(body, "go_goroutines"))
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(HTTPCallCounter.WithLabelValues("418", "get"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, before+1, testutil.ToFloat64(HTTPCallCounter.WithLabelValues("418", "get")))
}
