// internal/stubserver/server.go
// Package stubserver is a synthetic text-generation target implementing the
// native POST /generate contract. Latency grows with concurrent load, excess
// load is shed with 503, and answers degrade past a load threshold.
package stubserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Config shapes the synthetic load model.
type Config struct {
	// BaseLatency is the service time of a request with nothing else in flight.
	BaseLatency time.Duration
	// PerInflight is added once per concurrently served request.
	PerInflight time.Duration
	// Capacity is the largest in-flight count served; more is rejected with
	// 503. Zero disables shedding.
	Capacity int
	// DegradeAbove is the in-flight count past which answers are truncated.
	// Zero disables degradation.
	DegradeAbove int
	// Answers maps prompt text to the undegraded answer. Unknown prompts are
	// echoed back.
	Answers map[string]string
}

// Server is the stub target.
type Server struct {
	cfg      Config
	inflight atomic.Int64
	served   atomic.Int64
	shed     atomic.Int64
	sleep    func(ctx context.Context, d time.Duration) error
}

// New returns a stub server for cfg.
func New(cfg Config) *Server {
	return &Server{cfg: cfg, sleep: sleepContext}
}

type generateRequest struct {
	Prompt string         `json:"prompt"`
	Params map[string]any `json:"params"`
}

type generateResponse struct {
	Text      string  `json:"text"`
	TotalMS   float64 `json:"total_ms"`
	QueueMS   float64 `json:"queue_ms"`
	PrefillMS float64 `json:"prefill_ms"`
	DecodeMS  float64 `json:"decode_ms"`
	BatchSize int     `json:"batch_size"`
}

type errResp struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Stats reports request counters.
type Stats struct {
	Inflight int64 `json:"inflight"`
	Served   int64 `json:"served"`
	Shed     int64 `json:"shed"`
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	return Stats{Inflight: s.inflight.Load(), Served: s.served.Load(), Shed: s.shed.Load()}
}

// Handler returns the chi router serving /generate, /healthz and /stats.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Stats())
	})
	r.Post("/generate", s.handleGenerate)
	return r
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req, 1<<20); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, errResp{Error: "prompt is required"})
		return
	}

	n := int(s.inflight.Add(1))
	defer s.inflight.Add(-1)
	if s.cfg.Capacity > 0 && n > s.cfg.Capacity {
		s.shed.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, errResp{Error: "over capacity"})
		return
	}

	start := time.Now()
	latency := s.cfg.BaseLatency + time.Duration(n-1)*s.cfg.PerInflight
	if err := s.sleep(r.Context(), latency); err != nil {
		return
	}
	s.served.Add(1)

	total := float64(time.Since(start)) / float64(time.Millisecond)
	prefill := total * 0.2
	writeJSON(w, http.StatusOK, generateResponse{
		Text:      s.answer(req.Prompt, n),
		TotalMS:   total,
		PrefillMS: prefill,
		DecodeMS:  total - prefill,
		BatchSize: n,
	})
}

// answer returns the answer for prompt under load n. Past DegradeAbove the
// answer keeps only DegradeAbove/n of its words.
func (s *Server) answer(prompt string, n int) string {
	text, ok := s.cfg.Answers[prompt]
	if !ok {
		text = strings.Join(strings.Fields(prompt), " ")
	}
	if s.cfg.DegradeAbove <= 0 || n <= s.cfg.DegradeAbove {
		return text
	}
	words := strings.Fields(text)
	keep := len(words) * s.cfg.DegradeAbove / n
	return strings.Join(words[:keep], " ")
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logrus.Infof("stub target listening on http://%s", ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, maxBytes int64) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
