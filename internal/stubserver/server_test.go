package stubserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, url, body string) (*http.Response, generateResponse) {
	t.Helper()
	resp, err := http.Post(url+"/generate", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out generateResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestGenerateEchoesAndReportsTimings(t *testing.T) {
	s := New(Config{BaseLatency: 5 * time.Millisecond, Answers: map[string]string{"capital of France?": "Paris"}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, out := post(t, srv.URL, `{"prompt":"capital of France?","params":{"temperature":0}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Paris", out.Text)
	assert.GreaterOrEqual(t, out.TotalMS, 5.0)
	assert.Equal(t, 1, out.BatchSize)
	assert.InDelta(t, out.TotalMS, out.PrefillMS+out.DecodeMS, 1e-9)

	_, out = post(t, srv.URL, `{"prompt":"  say   this back ","params":{}}`)
	assert.Equal(t, "say this back", out.Text)
	assert.Equal(t, int64(2), s.Stats().Served)
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	srv := httptest.NewServer(New(Config{}).Handler())
	defer srv.Close()

	resp, _ := post(t, srv.URL, `{"prompt":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = post(t, srv.URL, `{"prompt":"x","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = post(t, srv.URL, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateShedsOverCapacity(t *testing.T) {
	release := make(chan struct{})
	s := New(Config{Capacity: 1})
	s.sleep = func(ctx context.Context, _ time.Duration) error {
		<-release
		return nil
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, _ := post(t, srv.URL, `{"prompt":"first"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}()
	require.Eventually(t, func() bool { return s.Stats().Inflight == 1 }, 2*time.Second, 5*time.Millisecond)

	resp, _ := post(t, srv.URL, `{"prompt":"second"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	close(release)
	wg.Wait()
	assert.Equal(t, int64(1), s.Stats().Shed)
}

func TestAnswerDegradesWithLoad(t *testing.T) {
	s := New(Config{DegradeAbove: 2, Answers: map[string]string{"q": "one two three four"}})
	assert.Equal(t, "one two three four", s.answer("q", 1))
	assert.Equal(t, "one two three four", s.answer("q", 2))
	assert.Equal(t, "one two", s.answer("q", 4))
	assert.Equal(t, "", s.answer("q", 100))
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(New(Config{}).Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListenAndServeStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(Config{}).ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
