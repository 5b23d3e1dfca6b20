package models

import "time"

// SamplingMode selects the decoding strategy for a model call
type SamplingMode string

const (
	// SamplingGreedy picks the argmax token at every step (deterministic)
	SamplingGreedy SamplingMode = "greedy"
	// SamplingTopK samples from the K most likely tokens
	SamplingTopK SamplingMode = "top_k"
	// SamplingTopP samples from the smallest token set whose cumulative
	// probability exceeds the threshold (nucleus sampling)
	SamplingTopP SamplingMode = "top_p"
)

// Sampling is a tagged sampling variant. Only the field matching Mode is
// meaningful; the other is ignored.
type Sampling struct {
	Mode SamplingMode
	TopK int
	TopP float64
}

// Greedy returns the deterministic sampling variant
func Greedy() Sampling { return Sampling{Mode: SamplingGreedy} }

// TopK returns a top-K sampling variant
func TopK(k int) Sampling { return Sampling{Mode: SamplingTopK, TopK: k} }

// TopP returns a nucleus sampling variant
func TopP(threshold float64) Sampling { return Sampling{Mode: SamplingTopP, TopP: threshold} }

// DecodingConfig describes one model call's decoding parameters.
// Value type, immutable once constructed.
type DecodingConfig struct {
	Sampling    Sampling
	Temperature float64
	Seed        *uint64 // nil means non-deterministic
	MaxTokens   int
}

// WithSeed returns a copy with the seed set
func (d DecodingConfig) WithSeed(seed uint64) DecodingConfig {
	d.Seed = &seed
	return d
}

// WithMaxTokens returns a copy with the token ceiling replaced
func (d DecodingConfig) WithMaxTokens(maxTokens int) DecodingConfig {
	d.MaxTokens = maxTokens
	return d
}

// Profile returns a short loggable name for the sampling mode
func (d DecodingConfig) Profile() string {
	switch d.Sampling.Mode {
	case SamplingTopK:
		return string(SamplingTopK)
	case SamplingTopP:
		return string(SamplingTopP)
	default:
		return string(SamplingGreedy)
	}
}

// AttemptMetrics records one underlying model call. Entries are append-only,
// scoped to a single run, and flow one-way from the generation client back to
// the caller.
type AttemptMetrics struct {
	Profile          string
	Seed             *uint64
	Duration         time.Duration
	Succeeded        bool
	SessionRecreated bool
	ItemCount        int
	Error            string
}

// AttemptSink receives per-attempt metrics from the generation client
type AttemptSink interface {
	RecordAttempt(AttemptMetrics)
}

// Diagnostics is the read-only summary of one engine run. Shortfall against
// the target is reported here, never raised as an error.
type Diagnostics struct {
	RunID                   string
	Query                   string
	TargetCount             int
	ReturnedCount           int
	TotalGenerated          int
	DuplicatesFound         int
	DuplicateRate           float64
	PassCount               int
	BackfillRounds          int
	CircuitBreakerTriggered bool
	LastFailure             string
	MostRepeated            map[string]int
	Attempts                []AttemptMetrics
	Elapsed                 time.Duration
}

// ReachedTarget reports whether the run collected the full target count
func (d *Diagnostics) ReachedTarget() bool {
	return d.ReturnedCount >= d.TargetCount
}
