package engine

import (
	"time"

	"github.com/google/uuid"

	"rankforge/pkg/models"
)

// runDiagnostics accumulates per-attempt telemetry for one run. It implements
// models.AttemptSink; all model calls within a run are sequential, so no
// locking is needed.
type runDiagnostics struct {
	runID       string
	query       string
	started     time.Time
	attempts    []models.AttemptMetrics
	lastFailure string
}

func newRunDiagnostics(query string) *runDiagnostics {
	return &runDiagnostics{
		runID:   uuid.NewString(),
		query:   query,
		started: time.Now(),
	}
}

// RecordAttempt appends one attempt's metrics. The last failure reason is
// kept even when a later attempt recovers, so callers can see what went wrong
// mid-run.
func (d *runDiagnostics) RecordAttempt(m models.AttemptMetrics) {
	d.attempts = append(d.attempts, m)
	if !m.Succeeded && m.Error != "" {
		d.lastFailure = m.Error
	}
}

// snapshot freezes the run into the read-only diagnostics value returned to
// callers.
func (d *runDiagnostics) snapshot(s *generationState, returned int, hintCount int) *models.Diagnostics {
	diag := &models.Diagnostics{
		RunID:                   d.runID,
		Query:                   d.query,
		TargetCount:             s.targetCount,
		ReturnedCount:           returned,
		TotalGenerated:          s.totalGenerated,
		DuplicatesFound:         s.duplicatesFound,
		PassCount:               s.passCount,
		BackfillRounds:          s.backfillRounds,
		CircuitBreakerTriggered: s.breakerTripped,
		LastFailure:             d.lastFailure,
		Attempts:                d.attempts,
		Elapsed:                 time.Since(d.started),
	}
	if s.totalGenerated > 0 {
		diag.DuplicateRate = float64(s.duplicatesFound) / float64(s.totalGenerated)
	}
	if top := s.mostRepeated(hintCount); len(top) > 0 {
		diag.MostRepeated = make(map[string]int, len(top))
		for _, key := range top {
			diag.MostRepeated[key] = s.dupFrequency[key]
		}
	}
	return diag
}
