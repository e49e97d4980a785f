package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/book-expert/speech-service/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsJobLifecycle(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	m.JobStarted()
	m.RecordAttempt(metrics.KindSpeech, true)
	m.RecordAttempt(metrics.KindSpeech, false)
	m.RecordAudio(320)
	m.JobFinished(metrics.KindSpeech, metrics.OutcomeSuccess, 0.25)

	assert.InDelta(t, 0, testutil.ToFloat64(m.InFlight), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Attempts.WithLabelValues(metrics.KindSpeech)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Failures.WithLabelValues(metrics.KindSpeech)), 0)
	assert.InDelta(t, 320, testutil.ToFloat64(m.AudioBytes), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Jobs.WithLabelValues(metrics.KindSpeech, metrics.OutcomeSuccess)), 0)
}

func TestMetrics_TokensAndCancels(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	m.RecordTokens(10)
	m.RecordTokens(0)
	m.RecordCancel(true)
	m.RecordCancel(false)
	m.RecordCancel(false)

	assert.InDelta(t, 10, testutil.ToFloat64(m.ChatTokens), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CancelRequests.WithLabelValues("true")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.CancelRequests.WithLabelValues("false")), 0)
}

func TestMetrics_HandlerExposesRegistry(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.RecordAudio(64)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	response, err := http.Get(server.URL)
	require.NoError(t, err)

	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Contains(t, string(body), "speech_audio_bytes_total 64")
}
