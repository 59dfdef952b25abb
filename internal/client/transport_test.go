package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/qosflow/internal/appconfig"
	"github.com/mwiater/qosflow/internal/schema"
)

func TestHTTPTransportSendsPromptAndParams(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write([]byte(`{"text":"out","total_ms":1.5,"queue_ms":0.25}`))
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL+"/", time.Second, "m")
	res, err := tr.Generate(context.Background(), GenerateRequest{
		Prompt: "hello",
		Params: schema.TraceParams{Temperature: 0.5, TopP: 0.9, Seed: 3, MaxNewTokens: 8},
	})
	require.NoError(t, err)
	assert.Equal(t, "out", res.Text)
	assert.Equal(t, 200, res.StatusCode)
	require.NotNil(t, res.QueueMS)
	assert.Equal(t, 0.25, *res.QueueMS)
	assert.Nil(t, res.BatchSize)

	assert.Equal(t, "hello", captured["prompt"])
	params := captured["params"].(map[string]any)
	assert.Equal(t, 0.5, params["temperature"])
	assert.Equal(t, float64(8), params["max_new_tokens"])
}

func TestHTTPTransportReturnsStatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewHTTPTransport(server.URL, time.Second, "m").Generate(context.Background(), GenerateRequest{Prompt: "x"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 503, se.StatusCode)
	assert.Contains(t, se.Error(), "overloaded")
}

func TestOpenAITransport(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"id":"c1","object":"text_completion","created":1,"model":"m","choices":[{"text":"paris","index":0,"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	tr := NewOpenAITransport(server.URL, "", "m", time.Second)

	_, err := tr.Generate(context.Background(), GenerateRequest{Prompt: "capital?"})
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, 429, se.StatusCode)

	res, err := tr.Generate(context.Background(), GenerateRequest{
		Prompt: "capital?",
		Params: schema.TraceParams{MaxNewTokens: 4, Seed: 11, TopP: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "paris", res.Text)
	assert.Equal(t, "capital?", captured["prompt"])
	assert.Equal(t, float64(11), captured["seed"])
	assert.Equal(t, float64(4), captured["max_tokens"])
}

func TestOpenAITransportSendsZeroTemperature(t *testing.T) {
	t.Parallel()

	bodies := make(chan map[string]any, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"text_completion","created":1,"model":"m","choices":[{"text":"ok","index":0,"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	tr := NewOpenAITransport(server.URL, "", "m", time.Second)

	_, err := tr.Generate(context.Background(), GenerateRequest{
		Prompt: "hi",
		Params: schema.TraceParams{MaxNewTokens: 8, TopP: 1},
	})
	require.NoError(t, err)
	body := <-bodies
	require.Contains(t, body, "temperature", "a greedy request must carry an explicit temperature")
	temp, ok := body["temperature"].(float64)
	require.True(t, ok)
	assert.Greater(t, temp, 0.0)
	assert.InDelta(t, 0.0, temp, 1e-30)

	_, err = tr.Generate(context.Background(), GenerateRequest{
		Prompt: "hi",
		Params: schema.TraceParams{Temperature: 0.7, MaxNewTokens: 8, TopP: 1},
	})
	require.NoError(t, err)
	body = <-bodies
	assert.InDelta(t, 0.7, body["temperature"], 1e-6)
}

func TestNewTransportSelectsKind(t *testing.T) {
	cfg := appconfig.Config{Server: appconfig.ServerConfig{Host: "h", Port: 1, Model: "m"}}

	cfg.Target.Kind = appconfig.TargetNative
	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	assert.IsType(t, &HTTPTransport{}, tr)

	cfg.Target.Kind = appconfig.TargetOpenAI
	tr, err = NewTransport(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAITransport{}, tr)

	cfg.Target.Kind = "carrier-pigeon"
	_, err = NewTransport(cfg)
	require.Error(t, err)
}
