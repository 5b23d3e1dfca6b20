package engine

import (
	"fmt"

	"rankforge/internal/util"
)

// Templates holds the prompt templates used by the coordinator. Empty fields
// fall back to the defaults below.
type Templates struct {
	ListGeneration   string
	BackfillGuided   string
	BackfillUnguided string
}

const defaultListTemplate = `You are compiling candidates for a ranking list.

Query: {{.Query}}

Produce exactly {{.Count}} distinct, well-known answers for this query. Each
item must be a short name or title, not a sentence. No two items may refer to
the same thing.

Respond with a JSON object of the form {"items": ["first", "second", ...]}
and nothing else.`

const defaultBackfillGuided = `You are extending a ranking list of candidates.

Query: {{.Query}}

Produce exactly {{.Count}} NEW distinct answers for this query.
{{if .Avoid}}
These are already collected. Do not repeat any of them, in any spelling or
variation:
{{range .Avoid}}- {{.}}
{{end}}{{end}}{{if .MostRepeated}}
You have repeatedly suggested the following despite instructions. Avoid them
especially:
{{range .MostRepeated}}- {{.}}
{{end}}{{end}}
Respond with a JSON object of the form {"items": ["first", "second", ...]}
and nothing else.`

const defaultBackfillUnguided = `You are extending a ranking list of candidates.

Query: {{.Query}}

Produce exactly {{.Count}} NEW distinct answers for this query.
{{if .Avoid}}
These are already collected. Do not repeat any of them, in any spelling or
variation:
{{range .Avoid}}- {{.}}
{{end}}{{end}}{{if .MostRepeated}}
You have repeatedly suggested the following despite instructions. Avoid them
especially:
{{range .MostRepeated}}- {{.}}
{{end}}{{end}}
Respond with a plain numbered list, one item per line. No commentary.`

// DefaultTemplates returns the built-in prompt templates
func DefaultTemplates() Templates {
	return Templates{
		ListGeneration:   defaultListTemplate,
		BackfillGuided:   defaultBackfillGuided,
		BackfillUnguided: defaultBackfillUnguided,
	}
}

func (t *Templates) applyDefaults() {
	defaults := DefaultTemplates()
	if t.ListGeneration == "" {
		t.ListGeneration = defaults.ListGeneration
	}
	if t.BackfillGuided == "" {
		t.BackfillGuided = defaults.BackfillGuided
	}
	if t.BackfillUnguided == "" {
		t.BackfillUnguided = defaults.BackfillUnguided
	}
}

func (c *Coordinator) renderListPrompt(query string, count int) (string, error) {
	prompt, err := util.RenderTemplate(c.cfg.Templates.ListGeneration, map[string]any{
		"Query": query,
		"Count": count,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render list prompt: %w", err)
	}
	return prompt, nil
}

func (c *Coordinator) renderBackfillPrompt(tmpl, query string, count int, avoid, mostRepeated []string) (string, error) {
	prompt, err := util.RenderTemplate(tmpl, map[string]any{
		"Query":        query,
		"Count":        count,
		"Avoid":        avoid,
		"MostRepeated": mostRepeated,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render backfill prompt: %w", err)
	}
	return prompt, nil
}
