package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/civicmesh/civicmesh/internal/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(Config{APIKey: "test-key", Endpoint: srv.URL})
	require.NoError(t, err)
	return client
}

func TestNewHTTPClient_RequiresAPIKey(t *testing.T) {
	_, err := NewHTTPClient(Config{})
	assert.Error(t, err)
}

func TestComplete_ParsesResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "Trash pickup is Thursday."}}],
			"usage": {"prompt_tokens": 40, "completion_tokens": 8, "total_tokens": 48}
		}`))
	})

	resp, err := client.Complete(context.Background(), CompletionRequest{Prompt: "when is trash pickup?"})
	require.NoError(t, err)
	assert.Equal(t, "Trash pickup is Thursday.", resp.Text)
	assert.Equal(t, 48, resp.TotalTokens)
}

func TestComplete_ProviderErrorWrapped(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := client.Complete(context.Background(), CompletionRequest{Prompt: "q"})
	assert.ErrorIs(t, err, ErrProvider)
}

func TestStreamChat_EmitsDeltasAndUsage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"Trash \"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"is Thursday.\"}}]}\n\n" +
				": keepalive\n\n" +
				"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":40,\"completion_tokens\":6,\"total_tokens\":46}}\n\n" +
				"data: [DONE]\n\n"))
	})

	var deltas []string
	var final StreamEvent
	err := client.StreamChat(context.Background(), StreamRequest{
		Messages: []Message{{Role: "user", Content: "when is trash pickup?"}},
	}, func(ev StreamEvent) error {
		if ev.Done {
			final = ev
			return nil
		}
		deltas = append(deltas, ev.Delta)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Trash ", "is Thursday."}, deltas)
	assert.True(t, final.Done)
	assert.Equal(t, 46, final.TotalTokens)
}

func TestStreamChat_EmitErrorStopsStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n" +
				"data: [DONE]\n\n"))
	})

	calls := 0
	err := client.StreamChat(context.Background(), StreamRequest{}, func(ev StreamEvent) error {
		calls++
		return assert.AnError
	})

	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

func TestGuard_OpenBreakerRejectsCalls(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		MaxFailures: 2, ResetTimeout: time.Minute, ProbeCount: 1,
	}, observability.NewNoopLogger())
	guarded := Guard(client, breaker)

	for i := 0; i < 2; i++ {
		_, err := guarded.Complete(context.Background(), CompletionRequest{Prompt: "q"})
		assert.ErrorIs(t, err, ErrProvider)
	}

	_, err := guarded.Complete(context.Background(), CompletionRequest{Prompt: "q"})
	assert.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, 2, calls)
}
