package research

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/pkg/anthropic"
)

// ClaudeEngine is the validation and reasoning collaborator.
type ClaudeEngine struct {
	client    anthropic.Client
	model     string
	deepModel string
	maxTokens int64
}

// NewClaudeEngine wraps an Anthropic client.
func NewClaudeEngine(client anthropic.Client, model, deepModel string, maxTokens int64) *ClaudeEngine {
	if deepModel == "" {
		deepModel = model
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &ClaudeEngine{client: client, model: model, deepModel: deepModel, maxTokens: maxTokens}
}

// Name implements Engine.
func (e *ClaudeEngine) Name() string { return "claude" }

// Ask implements Engine.
func (e *ClaudeEngine) Ask(ctx context.Context, q Query) (*Answer, error) {
	model := e.model
	maxTokens := e.maxTokens
	if q.Deep {
		model = e.deepModel
		maxTokens *= 2
	}

	resp, err := e.client.Complete(ctx, anthropic.Request{
		Model:     model,
		MaxTokens: maxTokens,
		System:    q.System,
		Prompt:    q.Prompt,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "research: claude %s", q.Purpose)
	}
	resp.Usage.Log(model, q.Purpose)
	if resp.Truncated() {
		zap.L().Warn("claude answer truncated",
			zap.String("purpose", q.Purpose), zap.String("model", model), zap.Int64("max_tokens", maxTokens))
	}

	return &Answer{Engine: e.Name(), Model: resp.Model, Text: resp.Text}, nil
}
