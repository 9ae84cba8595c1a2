package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetEngineState(t *testing.T) {
	all := []string{"idle", "starting", "running"}
	SetEngineState("starting", all)

	assert.Equal(t, 0.0, testutil.ToFloat64(EngineState.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(EngineState.WithLabelValues("starting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(EngineState.WithLabelValues("running")))

	SetEngineState("running", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(EngineState.WithLabelValues("starting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(EngineState.WithLabelValues("running")))
}

func TestHandlerExposesCounters(t *testing.T) {
	TransfersTotal.WithLabelValues("export", "ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `vaultshell_transfers_total{direction="export",outcome="ok"}`)
}
