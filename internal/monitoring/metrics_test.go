package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	c := StepsDecoded.WithLabelValues("mode2")
	before := testutil.ToFloat64(c)
	c.Inc()
	c.Inc()
	assert.Equal(t, before+2, testutil.ToFloat64(c))
}

func TestHandlerExposesNamespacedMetrics(t *testing.T) {
	PairsEmitted.Inc()
	DecodeEvents.WithLabelValues("invalid_mode").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "cs_ranging_pairs_emitted_total")
	assert.Contains(t, body, `cs_ranging_decode_events_total{kind="invalid_mode"}`)
	assert.True(t, strings.Contains(body, "go_goroutines"), "go collector registered")
}
