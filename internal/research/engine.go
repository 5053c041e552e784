// Package research adapts the external AI collaborators into a single
// request/response Engine and extracts structured JSON from their answers.
package research

import (
	"context"

	"github.com/rotisserie/eris"
)

// Query is one natural-language request to an engine.
type Query struct {
	// System is the fixed instruction for the call kind.
	System string
	// Prompt carries the per-item request.
	Prompt string
	// Deep selects the engine's slower, more thorough model.
	Deep bool
	// Purpose tags cost attribution logs ("discovery", "committee", ...).
	Purpose string
	// Recency limits web-grounded engines to recent sources ("week",
	// "month", ...). Engines without web search ignore it.
	Recency string
}

// Answer is the free-form text an engine returned.
type Answer struct {
	Engine    string
	Model     string
	Text      string
	Citations []string
}

// Engine is a black-box research or validation collaborator.
type Engine interface {
	Name() string
	Ask(ctx context.Context, q Query) (*Answer, error)
}

// AskJSON asks e and decodes the answer into v through ExtractJSON. Parse
// failures wrap ErrNoJSON so callers can treat them as soft failures.
func AskJSON(ctx context.Context, e Engine, q Query, v any) (*Answer, error) {
	ans, err := e.Ask(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := ExtractJSON(ans.Text, v); err != nil {
		return ans, eris.Wrapf(err, "research: %s answer for %s", e.Name(), q.Purpose)
	}
	return ans, nil
}
