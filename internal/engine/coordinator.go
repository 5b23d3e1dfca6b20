// Package engine orchestrates the multi-pass unique-list generation
// algorithm: over-generate on the first pass, backfill the gap with
// avoid-list constrained rounds, escalate once inside a stalled round, trip a
// circuit breaker after consecutive dead rounds, and finish the last one or
// two items with a deterministic greedy call.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"rankforge/internal/chunk"
	"rankforge/internal/metrics"
	"rankforge/pkg/models"
)

// Generator is the generation-client capability the coordinator consumes
type Generator interface {
	GenerateStructured(ctx context.Context, prompt string, cfg models.DecodingConfig, maxRetries int, sink models.AttemptSink) ([]string, error)
	GenerateUnstructured(ctx context.Context, prompt string, cfg models.DecodingConfig, maxRetries int, sink models.AttemptSink) ([]string, error)
}

// Config tunes the coordinator. All knobs are explicit per-instance values;
// there is no ambient/global override mechanism.
type Config struct {
	// OverGenFactor multiplies the target for the first pass, anticipating
	// duplicate loss.
	OverGenFactor float64
	// BackfillFactor multiplies the remaining need when sizing a backfill
	// request.
	BackfillFactor float64
	// MinBackfillFraction floors backfill request sizes at this fraction of
	// the target, so late rounds still over-ask.
	MinBackfillFraction float64
	// MaxBackfillPasses bounds the backfill loop.
	MaxBackfillPasses int
	// AvoidWindowSize is the number of avoid-list keys surfaced per round;
	// the window rotates so the full avoid-set is covered over many rounds.
	AvoidWindowSize int
	// TopRepeatedHints is how many most-frequent duplicate keys are surfaced
	// as a priority hint.
	TopRepeatedHints int
	// ResponseTokenBudget clamps request sizes so the estimated response
	// fits.
	ResponseTokenBudget int
	// AvoidListTokenBudget bounds the rendered avoid-list portion of the
	// prompt.
	AvoidListTokenBudget int
	// AvgTokensPerItem is the response-size heuristic per requested item.
	AvgTokensPerItem int
	// ResponseTokenSlack pads the per-call token ceiling.
	ResponseTokenSlack int
	// MaxRetries is the per-call retry budget handed to the client.
	MaxRetries int
	// GuidedBackfill selects schema-constrained backfill calls. Unguided
	// (free-text) backfill tends to respect exclusion lists better; guided
	// tends to have stronger schema compliance. Policy knob, not a
	// correctness requirement.
	GuidedBackfill bool

	DiverseTemperature    float64
	DiverseTopP           float64
	EscalationTemperature float64
	EscalationTopK        int

	Templates Templates
}

// DefaultConfig returns the tuned defaults. They are starting points, not
// validated optima; callers running different models should sweep them.
func DefaultConfig() Config {
	return Config{
		OverGenFactor:         1.5,
		BackfillFactor:        1.6,
		MinBackfillFraction:   0.25,
		MaxBackfillPasses:     6,
		AvoidWindowSize:       40,
		TopRepeatedHints:      5,
		ResponseTokenBudget:   2048,
		AvoidListTokenBudget:  512,
		AvgTokensPerItem:      8,
		ResponseTokenSlack:    64,
		MaxRetries:            3,
		GuidedBackfill:        false,
		DiverseTemperature:    0.9,
		DiverseTopP:           0.92,
		EscalationTemperature: 1.25,
		EscalationTopK:        64,
		Templates:             DefaultTemplates(),
	}
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if c.OverGenFactor < 1.0 {
		return fmt.Errorf("over_generation_factor must be at least 1.0 (got %.2f)", c.OverGenFactor)
	}
	if c.BackfillFactor < 1.0 {
		return fmt.Errorf("backfill_factor must be at least 1.0 (got %.2f)", c.BackfillFactor)
	}
	if c.MinBackfillFraction < 0 || c.MinBackfillFraction > 1.0 {
		return fmt.Errorf("min_backfill_fraction must be between 0.0 and 1.0 (got %.2f)", c.MinBackfillFraction)
	}
	if c.MaxBackfillPasses < 1 {
		return fmt.Errorf("max_backfill_passes must be at least 1 (got %d)", c.MaxBackfillPasses)
	}
	if c.AvoidWindowSize < 1 {
		return fmt.Errorf("avoid_window_size must be at least 1 (got %d)", c.AvoidWindowSize)
	}
	if c.AvgTokensPerItem < 1 {
		return fmt.Errorf("avg_tokens_per_item must be at least 1 (got %d)", c.AvgTokensPerItem)
	}
	if c.ResponseTokenBudget < c.AvgTokensPerItem {
		return fmt.Errorf("response_token_budget (%d) must fit at least one item (%d tokens)", c.ResponseTokenBudget, c.AvgTokensPerItem)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative (got %d)", c.MaxRetries)
	}
	return nil
}

// Coordinator runs the multi-pass generation algorithm. Safe for concurrent
// GenerateUniqueList calls: all per-run state is allocated per call.
type Coordinator struct {
	cfg       Config
	gen       Generator
	collector *metrics.Collector
	logger    *slog.Logger
}

// New creates a coordinator. collector may be nil.
func New(cfg Config, gen Generator, collector *metrics.Collector, logger *slog.Logger) (*Coordinator, error) {
	cfg.Templates.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return &Coordinator{
		cfg:       cfg,
		gen:       gen,
		collector: collector,
		logger:    logger,
	}, nil
}

// GenerateUniqueList produces up to targetCount semantically distinct items
// for the query. The result never contains duplicates (by normalized key) but
// may fall short of the target; shortfall is a diagnostic, not an error.
// seed is optional; nil means non-deterministic.
func (c *Coordinator) GenerateUniqueList(ctx context.Context, query string, targetCount int, seed *uint64) ([]string, error) {
	items, _, err := c.GenerateUniqueListDiagnostics(ctx, query, targetCount, seed)
	return items, err
}

// GenerateUniqueListDiagnostics is GenerateUniqueList plus the run's
// read-only diagnostics snapshot. The snapshot is returned even when the run
// errors, so callers can log what happened up to the failure.
func (c *Coordinator) GenerateUniqueListDiagnostics(ctx context.Context, query string, targetCount int, seed *uint64) ([]string, *models.Diagnostics, error) {
	if targetCount < 1 {
		return nil, nil, fmt.Errorf("target count must be at least 1 (got %d)", targetCount)
	}

	state := newGenerationState(targetCount)
	diag := newRunDiagnostics(query)
	logger := c.logger.With("run_id", diag.runID, "query", query, "target", targetCount)

	// Pass 1: over-generate anticipating duplicate loss
	requestCount := c.clampToBudget(int(math.Ceil(float64(targetCount) * c.cfg.OverGenFactor)))
	logger.Info("Starting generation",
		"over_generation_factor", c.cfg.OverGenFactor,
		"pass1_request", requestCount,
		"seeded", seed != nil)

	prompt, err := c.renderListPrompt(query, requestCount)
	if err != nil {
		return nil, diag.snapshot(state, 0, c.cfg.TopRepeatedHints), err
	}
	items, err := c.gen.GenerateStructured(ctx, prompt, c.diverseProfile(requestCount, seed, state), c.cfg.MaxRetries, diag)
	state.passCount++
	if err != nil {
		return nil, diag.snapshot(state, 0, c.cfg.TopRepeatedHints), fmt.Errorf("initial generation failed: %w", err)
	}
	accepted := state.absorb(items)
	logger.Info("Pass 1 complete",
		"received", len(items),
		"accepted", accepted,
		"duplicates", state.duplicatesFound)

	if state.need() > 0 {
		if err := c.backfill(ctx, logger, query, seed, state, diag); err != nil {
			return nil, diag.snapshot(state, len(state.ordered), c.cfg.TopRepeatedHints), err
		}
	}

	result := state.result()
	c.collector.RecordDuplicates(state.duplicatesFound)
	c.collector.RecordRun(state.backfillRounds, state.breakerTripped, len(result) >= targetCount)

	snapshot := diag.snapshot(state, len(result), c.cfg.TopRepeatedHints)
	logger.Info("Generation complete",
		"returned", len(result),
		"total_generated", state.totalGenerated,
		"duplicates", state.duplicatesFound,
		"passes", state.passCount,
		"backfill_rounds", state.backfillRounds,
		"circuit_breaker", state.breakerTripped,
		"elapsed", snapshot.Elapsed)
	return result, snapshot, nil
}

// backfill runs avoid-list constrained rounds until the target is reached,
// the round budget runs out, or the circuit breaker trips.
func (c *Coordinator) backfill(ctx context.Context, logger *slog.Logger, query string, seed *uint64, state *generationState, diag *runDiagnostics) error {
	noProgress := 0

	for state.need() > 0 && state.backfillRounds < c.cfg.MaxBackfillPasses {
		round := state.backfillRounds + 1
		deltaNeed := state.need()

		// Over-ask relative to the remaining need: a multiplicative factor or
		// a fraction-of-target floor, whichever is larger, clamped to budget.
		delta := int(math.Ceil(float64(deltaNeed) * c.cfg.BackfillFactor))
		if floor := int(math.Ceil(float64(state.targetCount) * c.cfg.MinBackfillFraction)); floor > delta {
			delta = floor
		}
		delta = c.clampToBudget(delta)

		avoid := c.avoidWindow(state, round)
		hints := state.mostRepeated(c.cfg.TopRepeatedHints)

		logger.Debug("Backfill round",
			"round", round,
			"need", deltaNeed,
			"requesting", delta,
			"avoid_window", len(avoid),
			"repeat_hints", len(hints),
			"guided", c.cfg.GuidedBackfill)

		items, err := c.backfillCall(ctx, query, delta, avoid, hints, c.diverseProfile(delta, seed, state), c.cfg.MaxRetries, state, diag)
		state.backfillRounds++
		if err != nil {
			return fmt.Errorf("backfill round %d failed: %w", round, err)
		}
		netNew := state.absorb(items)

		// A dead round often recovers with one hotter, differently-sampled
		// call before we give up on it.
		if netNew == 0 && state.need() > 0 {
			logger.Debug("Round yielded nothing new, escalating", "round", round)
			escalated, eerr := c.backfillCall(ctx, query, delta, avoid, hints, c.escalationProfile(delta), 0, state, diag)
			if eerr != nil {
				logger.Warn("Escalation call failed", "round", round, "error", eerr)
			} else {
				netNew = state.absorb(escalated)
			}
		}

		if netNew == 0 {
			noProgress++
			if noProgress >= 2 {
				// The model has exhausted its distribution for this query;
				// further requests are assumed futile.
				state.breakerTripped = true
				logger.Warn("Circuit breaker tripped after consecutive no-progress rounds",
					"rounds", state.backfillRounds,
					"collected", len(state.ordered))
				return nil
			}
		} else {
			noProgress = 0
		}

		// Greedy last mile: the final 1-2 items benefit from determinism
		// over diversity.
		if rem := state.need(); rem > 0 && rem <= 2 {
			logger.Debug("Greedy last mile", "remaining", rem)
			items, err := c.backfillCall(ctx, query, rem, c.avoidWindow(state, round+1), state.mostRepeated(c.cfg.TopRepeatedHints), c.greedyProfile(rem, seed, state), c.cfg.MaxRetries, state, diag)
			if err != nil {
				return fmt.Errorf("greedy last-mile call failed: %w", err)
			}
			state.absorb(items)
		}
	}
	return nil
}

// backfillCall renders the round's prompt and issues one client call in the
// configured backfill mode.
func (c *Coordinator) backfillCall(ctx context.Context, query string, count int, avoid, hints []string, profile models.DecodingConfig, maxRetries int, state *generationState, diag *runDiagnostics) ([]string, error) {
	tmpl := c.cfg.Templates.BackfillUnguided
	guided := c.cfg.GuidedBackfill || profile.Sampling.Mode == models.SamplingGreedy
	if guided {
		tmpl = c.cfg.Templates.BackfillGuided
	}
	prompt, err := c.renderBackfillPrompt(tmpl, query, count, avoid, hints)
	if err != nil {
		return nil, err
	}
	state.passCount++
	if guided {
		return c.gen.GenerateStructured(ctx, prompt, profile, maxRetries, diag)
	}
	return c.gen.GenerateUnstructured(ctx, prompt, profile, maxRetries, diag)
}

// avoidWindow returns the round's rotating slice of already-accepted keys.
// The offset advances each round so the whole avoid-set is eventually
// surfaced even when it exceeds one prompt's budget.
func (c *Coordinator) avoidWindow(state *generationState, round int) []string {
	keys := state.orderedKeys
	if len(keys) == 0 {
		return nil
	}
	size := c.cfg.AvoidWindowSize
	if size > len(keys) {
		size = len(keys)
	}
	offset := ((round - 1) * c.cfg.AvoidWindowSize) % len(keys)
	window := make([]string, 0, size)
	for i := 0; i < size; i++ {
		window = append(window, keys[(offset+i)%len(keys)])
	}
	// Respect the prompt budget even if the window itself is too long
	return chunk.ByBudget(window, c.cfg.AvoidListTokenBudget)[0]
}

// clampToBudget caps a requested item count so the estimated response fits
// the response token budget.
func (c *Coordinator) clampToBudget(count int) int {
	maxItems := c.cfg.ResponseTokenBudget / c.cfg.AvgTokensPerItem
	if count > maxItems {
		return maxItems
	}
	if count < 1 {
		return 1
	}
	return count
}

func (c *Coordinator) maxTokensFor(count int) int {
	return count*c.cfg.AvgTokensPerItem + c.cfg.ResponseTokenSlack
}

// callSeed derives a distinct deterministic seed per model call when the
// caller supplied one. Unseeded runs stay non-deterministic.
func callSeed(seed *uint64, state *generationState) *uint64 {
	if seed == nil {
		return nil
	}
	derived := *seed + uint64(state.passCount)
	return &derived
}

// diverseProfile is the diversity-oriented decoding profile used for pass 1
// and regular backfill rounds.
func (c *Coordinator) diverseProfile(count int, seed *uint64, state *generationState) models.DecodingConfig {
	return models.DecodingConfig{
		Sampling:    models.TopP(c.cfg.DiverseTopP),
		Temperature: c.cfg.DiverseTemperature,
		Seed:        callSeed(seed, state),
		MaxTokens:   c.maxTokensFor(count),
	}
}

// escalationProfile is the hotter, differently-sampled profile for in-round
// recovery of a dead backfill round. Deliberately unseeded: the point is to
// leave the current trajectory.
func (c *Coordinator) escalationProfile(count int) models.DecodingConfig {
	return models.DecodingConfig{
		Sampling:    models.TopK(c.cfg.EscalationTopK),
		Temperature: c.cfg.EscalationTemperature,
		MaxTokens:   c.maxTokensFor(count),
	}
}

// greedyProfile is the deterministic zero-temperature profile for the last
// mile.
func (c *Coordinator) greedyProfile(count int, seed *uint64, state *generationState) models.DecodingConfig {
	return models.DecodingConfig{
		Sampling:  models.Greedy(),
		Seed:      callSeed(seed, state),
		MaxTokens: c.maxTokensFor(count),
	}
}
