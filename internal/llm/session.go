// Package llm is the boundary to the generative-model collaborator: a session
// abstraction, an error taxonomy the retry policy can act on, and an
// OpenAI-compatible HTTP implementation.
package llm

import (
	"context"

	"rankforge/pkg/models"
)

// Session is one conversation with the generative model. Implementations must
// honor context cancellation and report failures as *GenError where the cause
// is classifiable. A session shared across concurrent callers must serialize
// access itself.
type Session interface {
	// RespondStructured requests a schema-constrained response holding a
	// single list of strings and returns the parsed items.
	RespondStructured(ctx context.Context, prompt string, opts models.DecodingConfig) ([]string, error)

	// Respond returns the raw response text.
	Respond(ctx context.Context, prompt string, opts models.DecodingConfig) (string, error)
}

// Factory constructs a fresh session with the same fixed instructions.
// The generation client uses it to recreate a session mid-retry after a
// transient failure.
type Factory func() (Session, error)
