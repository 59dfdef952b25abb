// internal/client/transport.go
// Package client sends generation requests to the target service and turns
// each attempt sequence into a trace record.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mwiater/qosflow/internal/appconfig"
	"github.com/mwiater/qosflow/internal/schema"
	"github.com/mwiater/qosflow/internal/util"
)

// maxErrorMessage bounds the response body quoted in a StatusError message.
const maxErrorMessage = 256

// GenerateRequest is one generation call.
type GenerateRequest struct {
	Prompt string
	Params schema.TraceParams
}

// GenerateResult is the target's answer plus any server-side timings it reported.
type GenerateResult struct {
	Text       string
	StatusCode int
	TotalMS    *float64
	PrefillMS  *float64
	DecodeMS   *float64
	QueueMS    *float64
	BatchSize  *int
}

// StatusError is returned by a Transport for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := util.TruncateRunes(strings.TrimSpace(e.Body), maxErrorMessage)
	if body == "" {
		return fmt.Sprintf("target returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("target returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), body)
}

// Transport performs exactly one request attempt.
type Transport interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// NewTransport builds the transport selected by cfg.Target.Kind.
func NewTransport(cfg appconfig.Config) (Transport, error) {
	switch cfg.Target.Kind {
	case appconfig.TargetNative, "":
		return NewHTTPTransport(cfg.ResolvedBaseURL(), cfg.Target.RequestTimeout(), cfg.Server.Model), nil
	case appconfig.TargetOpenAI:
		return NewOpenAITransport(cfg.ResolvedBaseURL(), cfg.Target.APIKey, cfg.Server.Model, cfg.Target.RequestTimeout()), nil
	default:
		return nil, fmt.Errorf("unsupported target kind %q", cfg.Target.Kind)
	}
}
