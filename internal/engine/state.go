package engine

import (
	"sort"

	"rankforge/internal/normalize"
)

// generationState is the working set of one in-flight run. Owned exclusively
// by a single GenerateUniqueList call, never shared, never persisted.
type generationState struct {
	targetCount int

	// ordered holds accepted items in acceptance order; orderedKeys is the
	// parallel list of their normalized keys. No two entries share a key.
	ordered     []string
	orderedKeys []string
	seen        map[string]struct{}

	// dupFrequency counts how often the model re-produced each already-seen
	// key, used to rank "most repeated offender" hints for avoid-lists.
	dupFrequency map[string]int

	// run counters, diagnostics only; control flow uses need()
	totalGenerated  int
	duplicatesFound int
	passCount       int
	backfillRounds  int
	breakerTripped  bool
}

func newGenerationState(targetCount int) *generationState {
	return &generationState{
		targetCount:  targetCount,
		seen:         make(map[string]struct{}),
		dupFrequency: make(map[string]int),
	}
}

// need returns how many more unique items the run still wants
func (s *generationState) need() int {
	return s.targetCount - len(s.ordered)
}

// absorb folds a model response into the state: first-accepted-wins by
// normalized key, duplicates counted and discarded. Absorption stops once the
// target is reached so an overshooting response is not normalized in full,
// but totalGenerated still counts the whole response for duplicate-rate
// telemetry. Returns the number of net-new items accepted.
func (s *generationState) absorb(items []string) int {
	s.totalGenerated += len(items)

	accepted := 0
	for _, item := range items {
		if len(s.ordered) >= s.targetCount {
			break
		}
		key := normalize.Key(item)
		if _, ok := s.seen[key]; ok {
			s.dupFrequency[key]++
			s.duplicatesFound++
			continue
		}
		s.seen[key] = struct{}{}
		s.ordered = append(s.ordered, item)
		s.orderedKeys = append(s.orderedKeys, key)
		accepted++
	}
	return accepted
}

// mostRepeated returns up to k keys ranked by duplicate frequency descending,
// ties broken by key for determinism.
func (s *generationState) mostRepeated(k int) []string {
	if k <= 0 || len(s.dupFrequency) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.dupFrequency))
	for key := range s.dupFrequency {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if s.dupFrequency[keys[i]] != s.dupFrequency[keys[j]] {
			return s.dupFrequency[keys[i]] > s.dupFrequency[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > k {
		keys = keys[:k]
	}
	return keys
}

// result returns the accepted items truncated to the target count
func (s *generationState) result() []string {
	n := len(s.ordered)
	if n > s.targetCount {
		n = s.targetCount
	}
	out := make([]string, n)
	copy(out, s.ordered[:n])
	return out
}
