package llm

import (
	"context"
	"strings"

	"github.com/sells-group/voc-classifier/internal/model"
	"github.com/sells-group/voc-classifier/pkg/anthropic"
)

// Anthropic sends prompts through the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates a Completer for the given model.
func NewAnthropic(client anthropic.Client, modelID string) *Anthropic {
	return &Anthropic{client: client, model: modelID}
}

// Complete implements Completer.
func (a *Anthropic) Complete(ctx context.Context, req Request) (*Completion, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	temp := req.Temperature
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   int64(req.MaxTokens),
		System:      req.System,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, callError("anthropic", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, emptyResponse("anthropic")
	}

	modelID := resp.Model
	if modelID == "" {
		modelID = a.model
	}
	return &Completion{
		Text:  text,
		Model: modelID,
		Usage: model.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}
