// Package genclient wraps single model calls in a bounded retry loop with
// decoding-parameter adjustment, session recreation, and response parsing.
package genclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"rankforge/internal/llm"
	"rankforge/internal/metrics"
	"rankforge/pkg/models"
)

// attemptOutcome is the tagged result of one model call attempt
type attemptOutcome int

const (
	attemptSucceeded attemptOutcome = iota
	attemptRetryable
	attemptFatal
)

type attemptResult struct {
	outcome          attemptOutcome
	items            []string
	err              error
	sessionRecreated bool
}

// errEmptyResponse marks a well-formed response carrying zero items. Retried
// like any content-shape failure, but if every retry comes back empty the
// call degrades to an empty success: the coordinator's backfill machinery is
// the recovery path for "the model had nothing to add", not an exception.
var errEmptyResponse = llm.Malformed("empty item list", nil)

// Client drives one generation call at a time against a model session.
// Retryable failures (transient errors, malformed output, timeouts) burn
// retry budget; refusals and unclassified errors propagate immediately.
type Client struct {
	mu      sync.Mutex
	session llm.Session

	factory   llm.Factory
	timeout   time.Duration
	collector *metrics.Collector
	logger    *slog.Logger
}

// New creates a generation client. factory may be nil to disable session
// recreation; timeout 0 disables the per-attempt deadline; collector may be
// nil.
func New(session llm.Session, factory llm.Factory, timeout time.Duration, collector *metrics.Collector, logger *slog.Logger) *Client {
	return &Client{
		session:   session,
		factory:   factory,
		timeout:   timeout,
		collector: collector,
		logger:    logger,
	}
}

// GenerateStructured requests a schema-constrained list of strings, retrying
// up to maxRetries additional attempts.
func (c *Client) GenerateStructured(ctx context.Context, prompt string, cfg models.DecodingConfig, maxRetries int, sink models.AttemptSink) ([]string, error) {
	return c.generate(ctx, prompt, cfg, maxRetries, sink, true)
}

// GenerateUnstructured requests free text and recovers the list from it.
// Used for avoid-list backfill, where unguided output tends to respect
// exclusion constraints better than the schema-constrained path.
func (c *Client) GenerateUnstructured(ctx context.Context, prompt string, cfg models.DecodingConfig, maxRetries int, sink models.AttemptSink) ([]string, error) {
	return c.generate(ctx, prompt, cfg, maxRetries, sink, false)
}

func (c *Client) generate(ctx context.Context, prompt string, cfg models.DecodingConfig, maxRetries int, sink models.AttemptSink, structured bool) ([]string, error) {
	var lastErr error
	lastKind := llm.KindUnknown
	recreated := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		opts := cfg
		if attempt > 0 {
			// A content-shape failure means the sampling trajectory went bad;
			// a fresh random seed escapes it. Transient failures keep the
			// caller's seed so determinism survives provider hiccups.
			if lastKind == llm.KindMalformed {
				opts = opts.WithSeed(rand.Uint64())
			}
			opts = opts.WithMaxTokens(widenTokens(cfg.MaxTokens, attempt))
		}

		res := c.attempt(ctx, prompt, opts, structured, recreated, sink)
		switch res.outcome {
		case attemptSucceeded:
			return res.items, nil
		case attemptFatal:
			return nil, res.err
		}

		lastErr = res.err
		lastKind = llm.KindOf(res.err)
		c.logger.Warn("Generation attempt failed",
			"attempt", attempt,
			"max_retries", maxRetries,
			"kind", lastKind.String(),
			"structured", structured,
			"error", res.err)

		recreated = false
		if lastKind == llm.KindTransient && c.factory != nil && attempt < maxRetries {
			fresh, err := c.factory()
			if err != nil {
				c.logger.Warn("Session recreation failed", "error", err)
			} else {
				c.setSession(fresh)
				recreated = true
			}
		}
	}

	if errors.Is(lastErr, errEmptyResponse) {
		return nil, nil
	}
	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", maxRetries+1, lastErr)
}

// attempt performs exactly one model call and classifies its result.
// recreated marks an attempt issued on a freshly recreated session so
// telemetry is not double-counted.
func (c *Client) attempt(ctx context.Context, prompt string, opts models.DecodingConfig, structured, recreated bool, sink models.AttemptSink) attemptResult {
	actx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	var items []string
	var err error
	if structured {
		items, err = c.getSession().RespondStructured(actx, prompt, opts)
	} else {
		var raw string
		raw, err = c.getSession().Respond(actx, prompt, opts)
		if err == nil {
			items, err = RecoverList(raw)
		}
	}
	elapsed := time.Since(start)

	// An empty list on a non-empty request is a content-shape failure
	if err == nil && len(items) == 0 {
		err = errEmptyResponse
	}

	res := attemptResult{items: items, err: err, sessionRecreated: recreated}
	switch {
	case err == nil:
		res.outcome = attemptSucceeded
	case llm.Retryable(err):
		res.outcome = attemptRetryable
	default:
		res.outcome = attemptFatal
	}

	am := models.AttemptMetrics{
		Profile:          opts.Profile(),
		Seed:             opts.Seed,
		Duration:         elapsed,
		Succeeded:        err == nil,
		SessionRecreated: recreated,
		ItemCount:        len(items),
	}
	if err != nil {
		am.Error = err.Error()
	}
	if sink != nil {
		sink.RecordAttempt(am)
	}
	c.collector.RecordAttempt(opts.Profile(), elapsed, err == nil)

	return res
}

func (c *Client) getSession() llm.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) setSession(s llm.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// widenTokens raises the response ceiling 25% per retry so a truncated
// response gets room on the next attempt. Zero means the provider default and
// stays zero.
func widenTokens(base, attempt int) int {
	if base <= 0 {
		return base
	}
	widened := base
	for i := 0; i < attempt; i++ {
		widened = widened * 5 / 4
	}
	return widened
}
