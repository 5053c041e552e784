// Package anthropic wraps the Anthropic Messages API for single-turn
// validation prompts.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-intel/internal/resilience"
)

// Client completes one prompt.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Request is a single-turn prompt.
type Request struct {
	Model     string
	MaxTokens int64
	// System is sent as one ephemeral cached block when set.
	System string
	Prompt string
}

// Completion is the assistant's reply with its text blocks joined.
type Completion struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      Usage
}

// Truncated reports whether the reply hit the token limit.
func (c *Completion) Truncated() bool { return c.StopReason == string(sdk.StopReasonMaxTokens) }

// Usage counts the tokens billed for one completion.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// family prices in USD per million input and output tokens. Dated model IDs
// are matched by prefix.
var familyPricing = []struct {
	prefix        string
	input, output float64
}{
	{"claude-haiku", 0.80, 4.00},
	{"claude-sonnet", 3.00, 15.00},
	{"claude-opus", 15.00, 75.00},
}

// Cost estimates the USD cost of u on model, or 0 for an unknown family.
// Cache writes bill at 1.25x input and cache reads at 0.1x.
func (u Usage) Cost(model string) float64 {
	for _, p := range familyPricing {
		if !strings.HasPrefix(model, p.prefix) {
			continue
		}
		in := float64(u.Input) + 1.25*float64(u.CacheWrite) + 0.1*float64(u.CacheRead)
		return (in*p.input + float64(u.Output)*p.output) / 1e6
	}
	return 0
}

// Log records u against purpose for cost attribution.
func (u Usage) Log(model, purpose string) {
	zap.L().Info("anthropic usage",
		zap.String("model", model),
		zap.String("purpose", purpose),
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.Float64("estimated_cost_usd", u.Cost(model)),
	)
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a Client backed by the official SDK. SDK retries are
// off; the research layer retries through the resilience package.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &sdkClient{client: sdk.NewClient(opts...)}
}

func (c *sdkClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	msg, err := c.client.Messages.New(ctx, newParams(req))
	if err != nil {
		return nil, eris.Wrap(classify(err), "anthropic: complete")
	}
	return completion(msg), nil
}

func newParams(req Request) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{
			Text:         req.System,
			CacheControl: sdk.NewCacheControlEphemeralParam(),
		}}
	}
	return params
}

// classify turns SDK API errors into *resilience.StatusError so the retry
// policy and breakers see rate limits and overloads.
func classify(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.Response != nil {
		return resilience.NewStatusError("anthropic", apiErr.Response, []byte(apiErr.Error()))
	}
	return &resilience.StatusError{Service: "anthropic", StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
}

func completion(msg *sdk.Message) *Completion {
	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &Completion{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			Input:      msg.Usage.InputTokens,
			Output:     msg.Usage.OutputTokens,
			CacheWrite: msg.Usage.CacheCreationInputTokens,
			CacheRead:  msg.Usage.CacheReadInputTokens,
		},
	}
}
