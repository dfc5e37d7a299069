// Package enhance expands one user search phrase into related phrases via a
// generative text service. Expansion never fails: any service error resolves
// to a deterministic fallback, so callers can rely on always getting terms.
package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dealscout/dealscout/pkg/resilience"
	"go.opentelemetry.io/otel"
)

// Expansion is the ordered set of alternate search phrases for a term.
// Empty is valid and means "no expansion".
type Expansion struct {
	Terms []string `json:"search_terms"`
}

// Options configures the Enhancer.
type Options struct {
	// BaseURL of the generative text service (Ollama-compatible API).
	BaseURL string
	// Model passed to the service.
	Model string
	// MaxTerms caps how many phrases one expansion may return.
	MaxTerms int
	// Timeout for one generation call.
	Timeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL:  "http://localhost:11434",
		Model:    "llama3.2",
		MaxTerms: 4,
		Timeout:  15 * time.Second,
	}
}

// Enhancer calls the generative service with best-effort memoization.
type Enhancer struct {
	opts    Options
	client  *http.Client
	limiter *resilience.Limiter
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]Expansion
}

// New creates an Enhancer. limiter may be nil; when set, calls rejected by
// the limiter skip the service and resolve to the fallback (cost control).
func New(opts Options, limiter *resilience.Limiter, logger *slog.Logger) *Enhancer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxTerms <= 0 {
		opts.MaxTerms = DefaultOptions().MaxTerms
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &Enhancer{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
		logger:  logger,
		cache:   make(map[string]Expansion),
	}
}

// Fallback returns the deterministic expansion used when the service is
// unavailable or returns garbage. Never empty.
func Fallback(term string) Expansion {
	return Expansion{Terms: []string{term, term + " rare", "used " + term}}
}

// Expand returns related search phrases for term. It never fails.
func (e *Enhancer) Expand(ctx context.Context, term string) Expansion {
	ctx, span := otel.Tracer("engine/enhance").Start(ctx, "enhance.expand")
	defer span.End()

	e.mu.Lock()
	if exp, ok := e.cache[term]; ok {
		e.mu.Unlock()
		return exp
	}
	e.mu.Unlock()

	if e.limiter != nil && !e.limiter.Allow() {
		e.logger.Debug("enhance rate limited, using fallback", "term", term)
		return Fallback(term)
	}

	exp, err := e.generate(ctx, term)
	if err != nil {
		e.logger.Warn("query enhancement failed, using fallback", "term", term, "err", err)
		return Fallback(term)
	}
	if len(exp.Terms) > e.opts.MaxTerms {
		exp.Terms = exp.Terms[:e.opts.MaxTerms]
	}

	e.mu.Lock()
	e.cache[term] = exp
	e.mu.Unlock()
	return exp
}

type generateReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResp struct {
	Response string `json:"response"`
}

func (e *Enhancer) generate(ctx context.Context, term string) (Expansion, error) {
	prompt := fmt.Sprintf(
		`Given the marketplace search phrase %q, respond with exactly a JSON object
of the form {"search_terms": ["..."]} holding up to %d concise alternate
phrases a buyer might search for instead. No other text.`,
		term, e.opts.MaxTerms)

	body, _ := json.Marshal(generateReq{Model: e.opts.Model, Prompt: prompt, Stream: false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.opts.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Expansion{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Expansion{}, fmt.Errorf("enhance generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Expansion{}, fmt.Errorf("enhance generate: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Expansion{}, err
	}

	var gr generateResp
	if err := json.Unmarshal(raw, &gr); err != nil {
		return Expansion{}, fmt.Errorf("enhance decode: %w", err)
	}

	return parseTerms(gr.Response)
}

// parseTerms extracts {"search_terms": [...]} from model output, tolerating
// surrounding prose or code fences.
func parseTerms(text string) (Expansion, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end <= start {
		return Expansion{}, fmt.Errorf("enhance parse: no JSON object in response")
	}

	var exp Expansion
	if err := json.Unmarshal([]byte(text[start:end+1]), &exp); err != nil {
		return Expansion{}, fmt.Errorf("enhance parse: %w", err)
	}

	var terms []string
	for _, t := range exp.Terms {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	return Expansion{Terms: terms}, nil
}
