// Package middleware provides model.Client middlewares. The adaptive rate
// limiter throttles provider calls by estimated token cost and adjusts its
// budget when providers report throttling.
package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"goa.design/chatui/runtime/agent/model"
	"goa.design/chatui/runtime/agent/telemetry"
	"goa.design/pulse/rmap"
)

type (
	// RateLimitOptions configures NewAdaptiveRateLimiter.
	RateLimitOptions struct {
		// InitialTPM is the starting tokens-per-minute budget. Defaults to
		// 60000.
		InitialTPM float64
		// MaxTPM caps budget recovery. Values below InitialTPM are raised to
		// InitialTPM.
		MaxTPM float64
		// Map, when set together with Key, shares the budget across
		// processes through a Pulse replicated map.
		Map *rmap.Map
		// Key names the shared budget entry in Map, typically the model ID.
		Key string
		// Logger records budget changes. Defaults to a noop logger.
		Logger telemetry.Logger
		// Metrics records backoff and probe counters. Defaults to noop.
		Metrics telemetry.Metrics
	}

	// AdaptiveRateLimiter is an AIMD token bucket placed in front of a
	// model.Client. Each request is charged its estimated token count; the
	// budget halves when the provider reports rate limiting and grows
	// linearly after successful calls.
	//
	// Construct one instance per provider and process and wrap the client
	// with Middleware before handing it to agent loops.
	AdaptiveRateLimiter struct {
		mu      sync.Mutex
		limiter *rate.Limiter

		currentTPM   float64
		minTPM       float64
		maxTPM       float64
		recoveryRate float64

		logger  telemetry.Logger
		metrics telemetry.Metrics

		// budget change hooks, set in cluster mode
		onBackoff func(newTPM float64)
		onProbe   func(newTPM float64)
	}

	limitedClient struct {
		next    model.Client
		limiter *AdaptiveRateLimiter
	}
)

// Estimation constants. Providers average roughly three characters per
// token; every request is charged a fixed overhead for framing and tool
// definitions.
const (
	charsPerToken    = 3
	requestOverhead  = 500
	defaultTPM       = 60000
	backoffFactor    = 0.5
	minBudgetRatio   = 0.1
	recoveryFraction = 0.05
)

// NewAdaptiveRateLimiter returns a limiter configured with opts. When
// opts.Map and opts.Key are set, the budget is coordinated across processes;
// otherwise the limiter is process-local. ctx bounds the initial seeding of
// the shared budget.
func NewAdaptiveRateLimiter(ctx context.Context, opts RateLimitOptions) *AdaptiveRateLimiter {
	var cm clusterMap
	if opts.Map != nil {
		cm = rmapClusterMap{m: opts.Map}
	}
	return newClusterRateLimiter(ctx, cm, opts)
}

func newLocalRateLimiter(opts RateLimitOptions) *AdaptiveRateLimiter {
	initial := opts.InitialTPM
	if initial <= 0 {
		initial = defaultTPM
	}
	maxTPM := opts.MaxTPM
	if maxTPM < initial {
		maxTPM = initial
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initial/60), int(initial)),
		currentTPM:   initial,
		minTPM:       max(initial*minBudgetRatio, 1),
		maxTPM:       maxTPM,
		recoveryRate: max(initial*recoveryFraction, 1),
		logger:       logger,
		metrics:      metrics,
	}
}

// Middleware returns a function wrapping a model.Client so that Complete
// and Stream wait for budget before calling the provider.
func (l *AdaptiveRateLimiter) Middleware() func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &limitedClient{next: next, limiter: l}
	}
}

// CurrentTPM returns the effective tokens-per-minute budget.
func (l *AdaptiveRateLimiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

func (c *limitedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return model.Response{}, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(ctx, err)
	return resp, err
}

func (c *limitedClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	s, err := c.next.Stream(ctx, req)
	c.limiter.observe(ctx, err)
	return s, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req model.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

// observe adjusts the budget after a provider call. Errors other than rate
// limiting leave the budget untouched. ErrStreamingUnsupported is not a
// provider call and is ignored.
func (l *AdaptiveRateLimiter) observe(ctx context.Context, err error) {
	if err == nil {
		l.probe()
		return
	}
	if pe, ok := model.AsProviderError(err); ok && pe.Kind == model.ProviderErrorKindRateLimited {
		if tpm, changed := l.backoff(); changed {
			l.metrics.IncCounter("chatui.model.ratelimit.backoff", 1, "provider", pe.Provider)
			l.logger.Warn(ctx, "model rate limited, reducing budget", "provider", pe.Provider, "tpm", tpm)
		}
	}
}

func (l *AdaptiveRateLimiter) backoff() (float64, bool) {
	l.mu.Lock()
	next := max(l.currentTPM*backoffFactor, l.minTPM)
	if !l.setLocked(next) {
		l.mu.Unlock()
		return next, false
	}
	cb := l.onBackoff
	l.mu.Unlock()
	if cb != nil {
		cb(next)
	}
	return next, true
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	next := min(l.currentTPM+l.recoveryRate, l.maxTPM)
	if !l.setLocked(next) {
		l.mu.Unlock()
		return
	}
	cb := l.onProbe
	l.mu.Unlock()
	if cb != nil {
		cb(next)
	}
}

// replaceTPM installs a budget observed from the shared map, clamped to the
// local bounds.
func (l *AdaptiveRateLimiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setLocked(min(max(tpm, l.minTPM), l.maxTPM))
}

// setLocked updates the bucket and reports whether the budget changed. l.mu
// must be held.
func (l *AdaptiveRateLimiter) setLocked(tpm float64) bool {
	if tpm == l.currentTPM {
		return false
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60))
	l.limiter.SetBurst(int(tpm))
	return true
}

// estimateTokens approximates the prompt size of req from the characters in
// its system prompt, text, tool results and retry prompts.
func estimateTokens(req model.Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		if m == nil {
			continue
		}
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				chars += len(v.Text)
			case model.ToolResultPart:
				if s, ok := v.Content.(string); ok {
					chars += len(s)
				}
			case model.RetryPart:
				chars += len(v.Content)
			}
		}
	}
	return chars/charsPerToken + requestOverhead
}
