// internal/client/openai.go
package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mwiater/qosflow/internal/logging"
)

// OpenAITransport targets an OpenAI-compatible /v1/completions endpoint.
type OpenAITransport struct {
	client *openai.Client
	model  string
	base   string
}

// NewOpenAITransport builds a completions client. baseURL may omit the /v1 suffix.
func NewOpenAITransport(baseURL, apiKey, model string, timeout time.Duration) *OpenAITransport {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	if apiKey == "" {
		apiKey = "unused"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = base
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAITransport{client: openai.NewClientWithConfig(cfg), model: model, base: base}
}

// Generate sends one completion attempt.
func (t *OpenAITransport) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	seed := int(req.Params.Seed)
	temperature := float32(req.Params.Temperature)
	if temperature == 0 {
		// go-openai omits a zero temperature, which servers read as their default.
		temperature = math.SmallestNonzeroFloat32
	}
	creq := openai.CompletionRequest{
		Model:       t.model,
		Prompt:      req.Prompt,
		MaxTokens:   req.Params.MaxNewTokens,
		Temperature: temperature,
		TopP:        float32(req.Params.TopP),
		Seed:        &seed,
	}
	logging.LogRequest("out", t.base+"/completions", t.model, creq)

	resp, err := t.client.CreateCompletion(ctx, creq)
	if err != nil {
		if status := openAIStatus(err); status != 0 {
			return GenerateResult{StatusCode: status}, &StatusError{StatusCode: status, Body: err.Error()}
		}
		return GenerateResult{}, fmt.Errorf("openai completion: %w", err)
	}
	logging.LogRequest("in", t.base+"/completions", t.model, resp)

	if len(resp.Choices) == 0 {
		return GenerateResult{StatusCode: http.StatusOK}, errors.New("openai completion returned no choices")
	}
	return GenerateResult{Text: resp.Choices[0].Text, StatusCode: http.StatusOK}, nil
}

// openAIStatus extracts the HTTP status carried by go-openai errors.
func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
