package rest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(&Config{
		Endpoint:    srv.URL,
		AccessToken: "test-token",
		UserAgent:   "voltstream-go-test/1.0",
	})
	t.Cleanup(client.Close)
	return client, srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestExecuteRoundTrip(t *testing.T) {
	var gotAuth, gotAgent string
	var gotBody map[string]any

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		writeJSON(w, http.StatusOK, `{"data": {"viewer": {"name": "A"}}}`)
	})

	data, err := client.Execute(context.Background(), `{ viewer { name } }`, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"viewer": {"name": "A"}}`, string(data))

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "voltstream-go-test/1.0", gotAgent)
	assert.Equal(t, `{ viewer { name } }`, gotBody["query"])
	assert.Equal(t, map[string]any{}, gotBody["variables"])
}

func TestExecuteVariables(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		writeJSON(w, http.StatusOK, `{"data": {}}`)
	})

	_, err := client.Execute(context.Background(), "query", map[string]any{"homeId": "h1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"homeId": "h1"}, gotBody["variables"])
}

func TestExecuteRetryableDoesNotConsumeBudget(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable,
			`{"errors": [{"message": "overloaded", "extensions": {"code": "OVERLOADED"}}]}`)
	})

	_, err := client.Execute(context.Background(), "query", nil)

	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.Equal(t, http.StatusServiceUnavailable, retryable.Status)
	assert.Equal(t, int32(1), calls.Load(), "protocol-level failures must not be retried by Execute")
}

func TestExecuteFatalNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest,
			`{"errors": [{"message": "malformed document", "extensions": {"code": "BAD_REQUEST"}}]}`)
	})

	_, err := client.Execute(context.Background(), "query", nil)

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteInvalidCredentials(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized,
			`{"errors": [{"message": "invalid token", "extensions": {"code": "UNAUTHENTICATED"}}]}`)
	})

	_, err := client.Execute(context.Background(), "query", nil)

	var invalid *InvalidCredentialsError
	require.ErrorAs(t, err, &invalid)
}

func TestExecuteNonJSONContentType(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "<html>maintenance</html>")
	})

	_, err := client.Execute(context.Background(), "query", nil)

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Contains(t, fatal.Message, "unexpected content type")
}

func TestExecuteNetworkRetryBudget(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond) // longer than the per-attempt timeout
	})

	_, err := client.Execute(context.Background(), "query", nil,
		WithTimeout(20*time.Millisecond),
		WithRetries(3),
	)

	require.Error(t, err)
	assert.True(t, isNetworkError(err), "expected a network-level failure, got %v", err)
	assert.Equal(t, int32(4), calls.Load(), "retry=3 means 4 total attempts")
}

func TestExecuteZeroRetries(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
	})

	_, err := client.Execute(context.Background(), "query", nil,
		WithTimeout(20*time.Millisecond),
		WithRetries(0),
	)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteRecoversWithinBudget(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			time.Sleep(200 * time.Millisecond)
			return
		}
		writeJSON(w, http.StatusOK, `{"data": {"ok": true}}`)
	})

	data, err := client.Execute(context.Background(), "query", nil,
		WithTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteCancelledContextNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Execute(ctx, "query", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load(), "a cancelled parent context must not be retried")
}
