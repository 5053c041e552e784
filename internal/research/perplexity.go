package research

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/pkg/perplexity"
)

// PerplexityEngine is the fast web-research collaborator.
type PerplexityEngine struct {
	client    perplexity.Client
	model     string
	deepModel string
}

// NewPerplexityEngine wraps a Perplexity client. deepModel is used for
// queries with Deep set and falls back to model when empty.
func NewPerplexityEngine(client perplexity.Client, model, deepModel string) *PerplexityEngine {
	if deepModel == "" {
		deepModel = model
	}
	return &PerplexityEngine{client: client, model: model, deepModel: deepModel}
}

// Name implements Engine.
func (e *PerplexityEngine) Name() string { return "perplexity" }

// Ask implements Engine.
func (e *PerplexityEngine) Ask(ctx context.Context, q Query) (*Answer, error) {
	model := e.model
	if q.Deep {
		model = e.deepModel
	}

	resp, err := e.client.Search(ctx, perplexity.SearchRequest{
		Model:   model,
		System:  q.System,
		Prompt:  q.Prompt,
		Recency: q.Recency,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "research: perplexity %s", q.Purpose)
	}

	zap.L().Debug("perplexity answered",
		zap.String("purpose", q.Purpose),
		zap.String("model", resp.Model),
		zap.Int("sources", len(resp.Sources)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return &Answer{
		Engine:    e.Name(),
		Model:     model,
		Text:      resp.Text,
		Citations: resp.Sources,
	}, nil
}
