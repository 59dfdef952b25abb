// internal/client/native.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwiater/qosflow/internal/logging"
	"github.com/mwiater/qosflow/internal/schema"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// HTTPTransport speaks the native POST /generate contract.
type HTTPTransport struct {
	client  *http.Client
	baseURL string
	model   string
}

// NewHTTPTransport returns a transport for baseURL with a per-attempt timeout.
func NewHTTPTransport(baseURL string, timeout time.Duration, model string) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{ForceAttemptHTTP2: false, MaxIdleConnsPerHost: 256},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
	}
}

type generatePayload struct {
	Prompt string             `json:"prompt"`
	Params schema.TraceParams `json:"params"`
}

type generateResponse struct {
	Text      string   `json:"text"`
	TotalMS   *float64 `json:"total_ms"`
	PrefillMS *float64 `json:"prefill_ms"`
	DecodeMS  *float64 `json:"decode_ms"`
	QueueMS   *float64 `json:"queue_ms"`
	BatchSize *int     `json:"batch_size"`
}

// Generate sends one request attempt.
func (t *HTTPTransport) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	payload := generatePayload{Prompt: req.Prompt, Params: req.Params}
	body, err := json.Marshal(payload)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("encode generate request: %w", err)
	}
	endpoint := t.baseURL + "/generate"
	logging.LogRequest("out", endpoint, t.model, body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return GenerateResult{}, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return GenerateResult{StatusCode: resp.StatusCode}, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return GenerateResult{StatusCode: resp.StatusCode}, fmt.Errorf("read generate response: %w", err)
	}
	logging.LogRequest("in", endpoint, t.model, raw)

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return GenerateResult{StatusCode: resp.StatusCode}, fmt.Errorf("decode generate response: %w", err)
	}
	return GenerateResult{
		Text:       decoded.Text,
		StatusCode: resp.StatusCode,
		TotalMS:    decoded.TotalMS,
		PrefillMS:  decoded.PrefillMS,
		DecodeMS:   decoded.DecodeMS,
		QueueMS:    decoded.QueueMS,
		BatchSize:  decoded.BatchSize,
	}, nil
}
