package client_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pajamaparty/telemetry/internal/client"
	"pajamaparty/telemetry/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEvents() []models.Event {
	return []models.Event{
		{
			ID:        "evt-1",
			Name:      "dream_submitted",
			Data:      map[string]any{"station": "Berlin Hbf"},
			Timestamp: 1790000000000,
			Path:      "/dream-generator",
		},
		{
			ID:        "evt-2",
			Name:      "party_signup",
			Timestamp: 1790000000100,
		},
	}
}

type capturedRequest struct {
	body   []byte
	header http.Header
	path   string
}

func captureServer(t *testing.T, status int, captured *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		captured.body = body
		captured.header = r.Header.Clone()
		captured.path = r.URL.Path
		w.WriteHeader(status)
		w.Write([]byte(`{"status":"ok"}`))
	}))
}

func TestSendBatchCompact(t *testing.T) {
	var captured capturedRequest
	server := captureServer(t, http.StatusOK, &captured)
	defer server.Close()

	c := client.New(server.URL, "test-key", 5*time.Second, 1, time.Millisecond, true, zap.NewNop())
	require.NoError(t, c.SendBatch(testEvents()))

	assert.Equal(t, "/api/v1/events", captured.path)
	assert.Equal(t, "application/json", captured.header.Get("Content-Type"))
	assert.Equal(t, "Bearer test-key", captured.header.Get("Authorization"))

	var envelope struct {
		Events []map[string]any `json:"events"`
		SentAt int64            `json:"sent_at"`
	}
	require.NoError(t, json.Unmarshal(captured.body, &envelope))
	require.Len(t, envelope.Events, 2)
	assert.Greater(t, envelope.SentAt, int64(0))

	first := envelope.Events[0]
	assert.Equal(t, "dream_submitted", first["n"], "compressed payloads use short keys")
	assert.Equal(t, "evt-1", first["id"])
	assert.NotContains(t, first, "name")
	assert.NotContains(t, first, "timestamp")
}

func TestSendBatchFullKeys(t *testing.T) {
	var captured capturedRequest
	server := captureServer(t, http.StatusOK, &captured)
	defer server.Close()

	c := client.New(server.URL, "", 5*time.Second, 1, time.Millisecond, false, zap.NewNop())
	require.NoError(t, c.SendBatch(testEvents()))

	assert.Empty(t, captured.header.Get("Authorization"), "no auth header without an API key")

	var envelope struct {
		Events []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal(captured.body, &envelope))
	require.Len(t, envelope.Events, 2)
	assert.Equal(t, "dream_submitted", envelope.Events[0]["name"])
	assert.NotContains(t, envelope.Events[0], "n")
}

func TestSendBatchEmptyIsNoop(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	c := client.New(server.URL, "", 5*time.Second, 3, time.Millisecond, true, zap.NewNop())
	require.NoError(t, c.SendBatch(nil))
	assert.Equal(t, int32(0), requests.Load())
}

func TestSendBatchRetriesThenSucceeds(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := client.New(server.URL, "", 5*time.Second, 3, time.Millisecond, true, zap.NewNop())
	require.NoError(t, c.SendBatch(testEvents()))
	assert.Equal(t, int32(3), requests.Load())
}

func TestSendBatchExhaustsAttempts(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := client.New(server.URL, "", 5*time.Second, 3, time.Millisecond, true, zap.NewNop())
	err := c.SendBatch(testEvents())

	require.Error(t, err)
	assert.Equal(t, int32(3), requests.Load(), "attempt count equals the configured total")

	var backendErr *client.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, http.StatusServiceUnavailable, backendErr.StatusCode)
}

func TestSendBatchRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := client.New(server.URL, "", 5*time.Second, 1, time.Millisecond, true, zap.NewNop())
	err := c.SendBatch(testEvents())

	var rateErr *client.RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, http.StatusTooManyRequests, rateErr.StatusCode)
	assert.Equal(t, 7, rateErr.RetryAfter)
}

func TestSendBatchBadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := client.New(server.URL, "", 5*time.Second, 1, time.Millisecond, true, zap.NewNop())
	err := c.SendBatch(testEvents())

	var badReqErr *client.BadRequestError
	require.ErrorAs(t, err, &badReqErr)
}

func TestSendBatchOnceSingleAttempt(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := client.New(server.URL, "", 5*time.Second, 3, time.Millisecond, true, zap.NewNop())
	err := c.SendBatchOnce(time.Second, testEvents())

	require.Error(t, err)
	assert.Equal(t, int32(1), requests.Load(), "no retries on the shutdown path")
}

func TestHealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	c := client.New(healthy.URL, "", 5*time.Second, 1, time.Millisecond, true, zap.NewNop())
	assert.NoError(t, c.HealthCheck())

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer unhealthy.Close()

	c = client.New(unhealthy.URL, "", 5*time.Second, 1, time.Millisecond, true, zap.NewNop())
	assert.Error(t, c.HealthCheck())
}
